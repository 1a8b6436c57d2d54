// internal/assistant/assistant.go
package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/rs/zerolog"
)

// BedrockAPI is the subset of the Bedrock runtime client used for
// single-shot completions.
type BedrockAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// AlertSource supplies the most recent indexed alerts for a date.
type AlertSource interface {
	QueryByDate(ctx context.Context, date string, limit int) ([]map[string]any, error)
}

// Assistant answers operator questions about recent alert telemetry with a
// single completion call over a rendered context block.
type Assistant struct {
	client   BedrockAPI
	alerts   AlertSource
	modelID  string
	maxItems int
	log      zerolog.Logger
}

// New builds an assistant. maxItems bounds how many alerts are rendered
// into the prompt.
func New(client BedrockAPI, alerts AlertSource, modelID string, maxItems int, log zerolog.Logger) *Assistant {
	return &Assistant{client: client, alerts: alerts, modelID: modelID, maxItems: maxItems, log: log}
}

// Answer fetches recent alerts for date, renders them into the prompt, and
// returns the completion text.
func (a *Assistant) Answer(ctx context.Context, userPrompt, date string) (string, error) {
	items, err := a.alerts.QueryByDate(ctx, date, a.maxItems)
	if err != nil {
		return "", fmt.Errorf("failed to load alert context: %w", err)
	}
	return a.complete(ctx, buildPrompt(userPrompt, items))
}

func buildPrompt(userPrompt string, items []map[string]any) string {
	if len(items) == 0 {
		return "You are a SOC assistant. No events matched the query. " +
			"Respond politely that no telemetry is available."
	}

	var lines []string
	for _, item := range items {
		summary, _ := item["summary"].(string)
		if summary == "" {
			summary = "sensor event"
		}
		eventTime, _ := item["event_time"].(string)
		lines = append(lines, fmt.Sprintf(
			"- time: %s, type: %v, src: %v:%v, dest: %v:%v, severity: %v, summary: %s",
			eventTime, item["event_type"], item["src_ip"], item["src_port"],
			item["dest_ip"], item["dest_port"], item["severity"], summary))
	}

	return "You are an expert security analyst. Summarise relevant network sensor activity for the user." +
		" Focus on attacker IPs, ports, event types, and severity." +
		"\nTelemetry:\n" + strings.Join(lines, "\n") +
		"\n\nUser question: " + userPrompt
}

type anthropicRequest struct {
	AnthropicVersion string             `json:"anthropic_version"`
	MaxTokens        int                `json:"max_tokens"`
	Messages         []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

type anthropicBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicResponse struct {
	Content []anthropicBlock `json:"content"`
}

func (a *Assistant) complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(anthropicRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        512,
		Messages: []anthropicMessage{{
			Role:    "user",
			Content: []anthropicBlock{{Type: "text", Text: prompt}},
		}},
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode completion request: %w", err)
	}

	start := time.Now()
	out, err := a.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(a.modelID),
		ContentType: aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return "", fmt.Errorf("completion request failed: %w", err)
	}
	a.log.Debug().Dur("elapsed", time.Since(start)).Msg("completion returned")

	var resp anthropicResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return "", fmt.Errorf("failed to decode completion response: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return text.String(), nil
}
