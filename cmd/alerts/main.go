// cmd/alerts/main.go
package main

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/rs/zerolog"

	"sensor-pipeline/internal/alertmetrics"
	"sensor-pipeline/internal/alertstore"
	"sensor-pipeline/internal/api"
)

var (
	log        zerolog.Logger
	store      *alertstore.Store
	aggregator *alertmetrics.Aggregator
)

func init() {
	ctx := context.Background()
	log = zerolog.New(os.Stdout).With().Timestamp().Str("component", "alerts").Logger()

	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load AWS config")
	}

	// LocalStack support
	if endpoint := os.Getenv("AWS_ENDPOINT_URL"); endpoint != "" {
		cfg.BaseEndpoint = aws.String(endpoint)
	}

	store = alertstore.New(dynamodb.NewFromConfig(cfg), os.Getenv("TABLE_NAME"), log)
	aggregator = alertmetrics.New(store, log)
}

func handler(ctx context.Context, request events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	routeKey := request.RequestContext.RouteKey
	if routeKey == "GET /metrics" || strings.HasSuffix(request.RawPath, "/metrics") {
		snapshot, err := aggregator.Compute(ctx, time.Now())
		if err != nil {
			log.Error().Err(err).Msg("metrics computation failed")
			return api.Error(500, err.Error())
		}
		return api.Respond(200, snapshot)
	}

	return listAlerts(ctx, request)
}

func listAlerts(ctx context.Context, request events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	params := request.QueryStringParameters

	eventDate := params["event_date"]
	if eventDate == "" {
		eventDate = time.Now().UTC().Format("2006-01-02")
	}

	limit := 100
	if limitStr := params["limit"]; limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil {
			limit = max(1, min(parsed, 500))
		}
	}

	items, err := store.QueryByDate(ctx, eventDate, limit)
	if err != nil {
		log.Error().Err(err).Str("event_date", eventDate).Msg("alert list query failed")
		return api.Error(500, err.Error())
	}

	return api.Respond(200, map[string]any{
		"event_date": eventDate,
		"count":      len(items),
		"items":      items,
	})
}

func main() {
	lambda.Start(handler)
}
