// cmd/logquery/main.go
package main

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"sensor-pipeline/internal/api"
	"sensor-pipeline/internal/catalog"
	"sensor-pipeline/internal/geo"
	"sensor-pipeline/internal/metrics"
	"sensor-pipeline/internal/query"
)

var (
	log        zerolog.Logger
	builder    *query.Builder
	executor   *query.Executor
	reconciler *catalog.Reconciler
	geoCache   *geo.Cache
	collector  *metrics.Collector
)

func init() {
	ctx := context.Background()
	log = zerolog.New(os.Stdout).With().Timestamp().Str("component", "logquery").Logger()

	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load AWS config")
	}

	// LocalStack support
	endpoint := os.Getenv("AWS_ENDPOINT_URL")
	if endpoint != "" {
		cfg.BaseEndpoint = aws.String(endpoint)
	}

	s3Client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		// LocalStack needs path-style addressing
		o.UsePathStyle = endpoint != ""
	})

	database := os.Getenv("ATHENA_DATABASE")
	table := os.Getenv("ATHENA_TABLE")

	builder = query.NewBuilder(database, table)
	executor = query.NewExecutor(athena.NewFromConfig(cfg), os.Getenv("ATHENA_WORKGROUP"), log)
	reconciler = catalog.NewReconciler(glue.NewFromConfig(cfg), s3Client, os.Getenv("S3_BUCKET"), database, table, log)
	geoCache = geo.NewCache(geo.NewHTTPLookup(), geo.WithCapacity(4096), geo.WithLogger(log))
	collector = metrics.NewCollector(cfg, "SensorPipeline", "logquery")
}

func handler(ctx context.Context, request events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	params := request.QueryStringParameters
	if params == nil {
		params = map[string]string{}
	}

	// Always reconcile first so newly-landed partitions are queryable.
	if err := reconciler.Reconcile(ctx); err != nil {
		log.Warn().Err(err).Msg("partition reconciliation failed")
	}

	spec, err := query.ParseSpec(params, time.Now())
	if err != nil {
		return api.Error(400, err.Error())
	}

	var stmt query.Statement
	if params["action"] == "summary" {
		stmt = builder.BuildSummary(spec)
	} else {
		stmt, err = builder.Build(spec)
		if err != nil {
			return api.Error(400, err.Error())
		}
	}

	result, err := executor.Run(ctx, stmt)
	if err != nil {
		if errors.Is(err, query.ErrValidation) {
			return api.Error(400, err.Error())
		}
		log.Error().Err(err).Msg("query execution failed")
		return api.Error(500, err.Error())
	}

	if emitErr := collector.EmitBatch(ctx, map[string]metrics.MetricValue{
		"QueryDataScanned": metrics.Bytes(float64(result.DataScannedBytes)),
		"QueryResultRows":  metrics.Count(float64(result.Count)),
	}); emitErr != nil {
		log.Warn().Err(emitErr).Msg("failed to emit query metrics")
	}

	if params["action"] == "summary" {
		return api.Respond(200, result)
	}

	enrichItems(ctx, result.Items)

	return api.Respond(200, map[string]any{
		"date": spec.Date.Format("2006-01-02"),
		"filters": map[string]any{
			"event_type": params["event_type"],
			"src_ip":     params["src_ip"],
			"dest_ip":    params["dest_ip"],
			"proto":      params["proto"],
		},
		"items":              result.Items,
		"count":              result.Count,
		"data_scanned_bytes": result.DataScannedBytes,
		"data_scanned_mb":    result.DataScannedMB,
	})
}

// enrichItems attaches country metadata to each row by source IP.
func enrichItems(ctx context.Context, items []map[string]string) {
	for _, item := range items {
		result := geoCache.Enrich(ctx, item["src_ip"])
		item["country_name"] = result.CountryName
		item["country_code"] = result.CountryCode
		item["flag"] = result.Flag
	}
}

func main() {
	lambda.Start(handler)
}
