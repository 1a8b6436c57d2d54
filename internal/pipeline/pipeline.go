// internal/pipeline/pipeline.go
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog"

	"sensor-pipeline/internal/models"
	"sensor-pipeline/internal/normalize"
	"sensor-pipeline/internal/sink"
)

// Pipeline drives normalize -> enrich -> dual-sink write for each record of
// a delivered batch. Per-record failures are isolated and counted; only a
// catastrophic envelope decode fails the whole batch.
type Pipeline struct {
	normalizer *normalize.Normalizer
	archive    sink.ObjectStore
	alerts     sink.AlertSink
	log        zerolog.Logger
}

// New builds a pipeline. A nil archive disables archiving.
func New(archive sink.ObjectStore, alerts sink.AlertSink, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		normalizer: normalize.New(),
		archive:    archive,
		alerts:     alerts,
		log:        log,
	}
}

// IngestRaw decodes a compressed CloudWatch Logs envelope and ingests its
// records. The returned error is reserved for envelope decode failures.
func (p *Pipeline) IngestRaw(ctx context.Context, raw events.CloudwatchLogsRawData) (models.IngestSummary, error) {
	data, err := raw.Parse()
	if err != nil {
		return models.IngestSummary{}, fmt.Errorf("failed to decode log envelope: %w", err)
	}
	return p.Ingest(ctx, data.LogEvents), nil
}

// Ingest processes one ordered batch of delivery records. Empty batches
// return zero counters.
func (p *Pipeline) Ingest(ctx context.Context, logEvents []events.CloudwatchLogsLogEvent) models.IngestSummary {
	summary := models.IngestSummary{Records: len(logEvents)}
	if len(logEvents) == 0 {
		return summary
	}

	nowMs := time.Now().UnixMilli()
	writer := sink.NewDualWriter(p.archive, p.alerts, p.log)

	for _, logEvent := range logEvents {
		p.processRecord(ctx, writer, logEvent, nowMs, &summary)
	}

	summary.IndexedTotal = writer.Flush(ctx)
	return summary
}

func (p *Pipeline) processRecord(ctx context.Context, writer *sink.DualWriter, logEvent events.CloudwatchLogsLogEvent, nowMs int64, summary *models.IngestSummary) {
	defer func() {
		if r := recover(); r != nil {
			summary.Failed++
			p.log.Error().Interface("panic", r).Msg("record processing failed")
		}
	}()

	fallbackMs := logEvent.Timestamp
	if fallbackMs == 0 {
		fallbackMs = nowMs
	}

	// A payload that does not parse is never dropped: it is retained
	// verbatim under raw_message and still archived.
	var raw map[string]any
	if err := json.Unmarshal([]byte(logEvent.Message), &raw); err != nil || raw == nil {
		raw = map[string]any{"raw_message": logEvent.Message}
		summary.Malformed++
	}

	res := p.normalizer.Normalize(raw, fallbackMs)

	if p.archive != nil {
		summary.ArchivedTotal++
	}
	result := writer.Write(ctx, res, raw, nowMs)
	if result.Archived {
		summary.ArchivedOK++
	}
}
