// cmd/assistant/main.go
package main

import (
	"context"
	"encoding/json"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/rs/zerolog"

	"sensor-pipeline/internal/alertstore"
	"sensor-pipeline/internal/api"
	"sensor-pipeline/internal/assistant"
)

const defaultModelID = "anthropic.claude-3-haiku-20240307-v1:0"

var (
	log zerolog.Logger
	soc *assistant.Assistant
)

func init() {
	ctx := context.Background()
	log = zerolog.New(os.Stdout).With().Timestamp().Str("component", "assistant").Logger()

	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load AWS config")
	}

	// LocalStack support
	if endpoint := os.Getenv("AWS_ENDPOINT_URL"); endpoint != "" {
		cfg.BaseEndpoint = aws.String(endpoint)
	}

	modelID := os.Getenv("BEDROCK_MODEL_ID")
	if modelID == "" {
		modelID = defaultModelID
	}
	maxItems := 25
	if raw := os.Getenv("MAX_ITEMS"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			maxItems = parsed
		}
	}

	store := alertstore.New(dynamodb.NewFromConfig(cfg), os.Getenv("TABLE_NAME"), log)
	soc = assistant.New(bedrockruntime.NewFromConfig(cfg), store, modelID, maxItems, log)
}

type request struct {
	Prompt string `json:"prompt"`
	Date   string `json:"date"`
}

func handler(ctx context.Context, httpRequest events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	var req request
	if err := json.Unmarshal([]byte(httpRequest.Body), &req); err != nil || req.Prompt == "" {
		return api.Error(400, "request body must include a prompt")
	}
	if req.Date == "" {
		req.Date = time.Now().UTC().Format("2006-01-02")
	} else if _, err := time.Parse("2006-01-02", req.Date); err != nil {
		return api.Error(400, "invalid date format, use YYYY-MM-DD")
	}

	answer, err := soc.Answer(ctx, req.Prompt, req.Date)
	if err != nil {
		log.Error().Err(err).Msg("assistant completion failed")
		return api.Error(500, err.Error())
	}

	return api.Respond(200, map[string]string{
		"answer": answer,
		"date":   req.Date,
	})
}

func main() {
	lambda.Start(handler)
}
