// internal/alertmetrics/aggregator.go
package alertmetrics

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"sensor-pipeline/internal/alertstore"
	"sensor-pipeline/internal/models"
)

// WindowStore streams projected alert records for one date partition
// bounded by a timestamp window.
type WindowStore interface {
	QueryWindow(ctx context.Context, date string, startMs, endMs int64, fn func(alertstore.WindowItem)) error
}

// Aggregator computes rolling counters over trailing windows of indexed
// alerts: 24h volume/cardinality/severity, 1h newly-seen sources, 5m rate.
// It issues one range query per calendar day intersecting the 24h window,
// bounding per-partition scan cost.
type Aggregator struct {
	store WindowStore
	log   zerolog.Logger
}

// New builds an aggregator over the given store.
func New(store WindowStore, log zerolog.Logger) *Aggregator {
	return &Aggregator{store: store, log: log}
}

// Compute scans the 24h window ending at now and derives the metric
// snapshot.
func (a *Aggregator) Compute(ctx context.Context, now time.Time) (*models.AlertMetrics, error) {
	now = now.UTC()
	nowMs := now.UnixMilli()
	start24h := now.Add(-24 * time.Hour)
	start1h := now.Add(-time.Hour)
	start5m := now.Add(-5 * time.Minute)

	start24hMs := start24h.UnixMilli()
	start1hMs := start1h.UnixMilli()
	start5mMs := start5m.UnixMilli()

	var (
		events24h    int
		highSeverity int
		events5m     int
		uniqueIPs    = make(map[string]struct{})
		newIPs1h     = make(map[string]struct{})
		portCounts   = make(map[string]int)
		portOrder    []string
	)

	for _, date := range partitionDates(start24h, now) {
		dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
		dayStartMs := dayStart.UnixMilli()
		dayEndMs := dayStart.AddDate(0, 0, 1).UnixMilli() - 1

		windowStart := max(start24hMs, dayStartMs)
		windowEnd := min(nowMs, dayEndMs)
		if windowStart > windowEnd {
			continue
		}

		err := a.store.QueryWindow(ctx, dayStart.Format("2006-01-02"), windowStart, windowEnd, func(item alertstore.WindowItem) {
			events24h++
			if item.SrcIP != "" {
				uniqueIPs[item.SrcIP] = struct{}{}
			}
			if item.Severity != nil && *item.Severity == 1 {
				highSeverity++
			}
			if item.DestPort != nil {
				port := strconv.Itoa(*item.DestPort)
				if _, seen := portCounts[port]; !seen {
					portOrder = append(portOrder, port)
				}
				portCounts[port]++
			}
			if item.Timestamp >= start1hMs && item.SrcIP != "" {
				newIPs1h[item.SrcIP] = struct{}{}
			}
			if item.Timestamp >= start5mMs {
				events5m++
			}
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert partition: %w", err)
		}
	}

	intervalMinutes := math.Max(float64(nowMs-start5mMs)/60000, 1)
	rate := math.Round(float64(events5m)/intervalMinutes*100) / 100

	return &models.AlertMetrics{
		GeneratedAt: formatInstant(now),
		Windows: models.Windows{
			Events24h:       formatInstant(start24h),
			NewIPs1h:        formatInstant(start1h),
			EventsPerMinute: formatInstant(start5m),
		},
		Events24h:       events24h,
		UniqueIPs24h:    len(uniqueIPs),
		HighSeverity24h: highSeverity,
		EventsPerMinute: rate,
		NewIPs1h:        len(newIPs1h),
		TopPort:         topPort(portCounts, portOrder),
	}, nil
}

// partitionDates returns the calendar days overlapping [start, end],
// including a partial first and last day.
func partitionDates(start, end time.Time) []time.Time {
	var dates []time.Time
	current := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	last := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)
	for !current.After(last) {
		dates = append(dates, current)
		current = current.AddDate(0, 0, 1)
	}
	return dates
}

// topPort picks the most frequent destination port, ties broken by
// first-encountered order.
func topPort(counts map[string]int, order []string) *models.TopPort {
	var best *models.TopPort
	for _, port := range order {
		if best == nil || counts[port] > best.Count {
			best = &models.TopPort{Port: port, Count: counts[port]}
		}
	}
	return best
}

func formatInstant(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}
