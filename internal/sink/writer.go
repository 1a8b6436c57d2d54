// internal/sink/writer.go
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"sensor-pipeline/internal/alertstore"
	"sensor-pipeline/internal/models"
	"sensor-pipeline/internal/normalize"
)

// ObjectStore is the bulk archive: cheap, append-only, keyed by
// hierarchical date/hour paths.
type ObjectStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
}

// AlertSink is the fast indexed store, written only for alert-classified
// events.
type AlertSink interface {
	Put(ctx context.Context, rec models.AlertRecord) error
	BatchPut(ctx context.Context, recs []models.AlertRecord) error
}

// WriteResult reports per-sink outcomes for one event.
type WriteResult struct {
	Archived bool
	Indexed  bool
}

// DualWriter fans one logical event out to two independently-failing
// destinations: every event to the archive, alerts additionally queued for
// the indexed store. The two sinks have independent failure domains; an
// archive failure never blocks indexing and vice versa.
type DualWriter struct {
	archive ObjectStore
	alerts  AlertSink
	log     zerolog.Logger

	queue []models.AlertRecord
}

// NewDualWriter builds a writer. A nil archive disables archiving (writes
// report Archived=false without error).
func NewDualWriter(archive ObjectStore, alerts AlertSink, log zerolog.Logger) *DualWriter {
	return &DualWriter{archive: archive, alerts: alerts, log: log}
}

// Write archives the raw event and, when it is alert-classified, queues an
// indexed record for the next Flush. Archive failures are logged and
// reported, never propagated.
func (w *DualWriter) Write(ctx context.Context, res normalize.Result, raw map[string]any, ingestMs int64) WriteResult {
	var result WriteResult

	eventTime := time.UnixMilli(res.EpochMs).UTC()
	if w.archive != nil {
		result.Archived = w.writeArchive(ctx, raw, eventTime)
	}

	if res.IsAlert {
		rec := models.AlertRecord{
			EventDate:       res.PartitionDate,
			EventID:         NewEventID(eventTime),
			IngestTime:      ingestMs,
			Raw:             raw,
			NormalizedEvent: *res.Event,
		}
		w.queue = append(w.queue, rec)
		result.Indexed = true
	}

	return result
}

func (w *DualWriter) writeArchive(ctx context.Context, raw map[string]any, eventTime time.Time) bool {
	body, err := json.Marshal(raw)
	if err != nil {
		w.log.Warn().Err(err).Msg("failed to encode raw event for archive")
		return false
	}
	if err := w.archive.Put(ctx, ArchiveKey(eventTime), body, "application/json"); err != nil {
		w.log.Warn().Err(err).Msg("archive write failed")
		return false
	}
	return true
}

// Pending reports the number of queued but unflushed alert records.
func (w *DualWriter) Pending() int {
	return len(w.queue)
}

// Flush writes queued alert records as idempotent batches. If the batch
// path fails it falls back to per-record conditional puts so one bad
// record cannot take down the rest; a duplicate key counts as success.
// Returns the number of records durably indexed.
func (w *DualWriter) Flush(ctx context.Context) int {
	if len(w.queue) == 0 {
		return 0
	}
	queued := w.queue
	w.queue = nil

	if err := w.alerts.BatchPut(ctx, queued); err == nil {
		return len(queued)
	} else {
		w.log.Warn().Err(err).Int("records", len(queued)).Msg("batch index write failed, retrying per record")
	}

	indexed := 0
	for _, rec := range queued {
		err := w.alerts.Put(ctx, rec)
		if err == nil || errors.Is(err, alertstore.ErrAlreadyExists) {
			indexed++
			continue
		}
		w.log.Warn().Err(err).Str("event_id", rec.EventID).Msg("index write failed")
	}
	return indexed
}
