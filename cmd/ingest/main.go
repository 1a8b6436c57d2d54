// cmd/ingest/main.go
package main

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/rs/zerolog"

	"sensor-pipeline/internal/alertstore"
	"sensor-pipeline/internal/dlq"
	"sensor-pipeline/internal/metrics"
	"sensor-pipeline/internal/models"
	"sensor-pipeline/internal/pipeline"
	"sensor-pipeline/internal/sink"
)

var (
	log        zerolog.Logger
	pipe       *pipeline.Pipeline
	deadLetter *dlq.Publisher
	collector  *metrics.Collector
)

func init() {
	ctx := context.Background()
	log = zerolog.New(os.Stdout).With().Timestamp().Str("component", "ingest").Logger()

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

	var archive sink.ObjectStore
	bucket := os.Getenv("S3_BUCKET_NAME")
	if bucket != "" && strings.EqualFold(os.Getenv("ENABLE_S3_BACKUP"), "true") {
		archive = sink.NewS3Archive(s3Client, bucket)
	} else {
		log.Info().Msg("archive writes disabled")
	}

	store := alertstore.New(dynamodb.NewFromConfig(cfg), os.Getenv("TABLE_NAME"), log)
	pipe = pipeline.New(archive, store, log)
	deadLetter = dlq.New(sqs.NewFromConfig(cfg), os.Getenv("DLQ_URL"), log)
	collector = metrics.NewCollector(cfg, "SensorPipeline", "ingest")
}

func handler(ctx context.Context, logsEvent events.CloudwatchLogsEvent) (models.IngestSummary, error) {
	start := time.Now()

	summary, err := pipe.IngestRaw(ctx, logsEvent.AWSLogs)
	if err != nil {
		log.Error().Err(err).Msg("batch envelope decode failed")
		if dlqErr := deadLetter.Publish(ctx, logsEvent.AWSLogs.Data, err.Error()); dlqErr != nil {
			log.Error().Err(dlqErr).Msg("failed to dead-letter envelope")
		}
		_ = collector.EmitBatch(ctx, map[string]metrics.MetricValue{
			"IngestEnvelopeFailures": metrics.Count(1),
		})
		return summary, err
	}

	if err := collector.EmitBatch(ctx, map[string]metrics.MetricValue{
		"IngestRecords":      metrics.Count(float64(summary.Records)),
		"IngestMalformed":    metrics.Count(float64(summary.Malformed)),
		"IngestArchived":     metrics.Count(float64(summary.ArchivedOK)),
		"IngestIndexed":      metrics.Count(float64(summary.IndexedTotal)),
		"IngestFailures":     metrics.Count(float64(summary.Failed)),
		"IngestBatchLatency": metrics.LatencyMs(float64(time.Since(start).Milliseconds())),
	}); err != nil {
		log.Warn().Err(err).Msg("failed to emit ingest metrics")
	}

	log.Info().
		Int("records", summary.Records).
		Int("archived_ok", summary.ArchivedOK).
		Int("indexed", summary.IndexedTotal).
		Msg("batch ingested")
	return summary, nil
}

func main() {
	lambda.Start(handler)
}
