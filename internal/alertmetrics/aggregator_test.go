package alertmetrics

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sensor-pipeline/internal/alertstore"
)

type windowQuery struct {
	date    string
	startMs int64
	endMs   int64
}

type fakeWindowStore struct {
	queries []windowQuery
	items   map[string][]alertstore.WindowItem
	err     error
}

func (f *fakeWindowStore) QueryWindow(_ context.Context, date string, startMs, endMs int64, fn func(alertstore.WindowItem)) error {
	f.queries = append(f.queries, windowQuery{date: date, startMs: startMs, endMs: endMs})
	if f.err != nil {
		return f.err
	}
	for _, item := range f.items[date] {
		if item.Timestamp >= startMs && item.Timestamp <= endMs {
			fn(item)
		}
	}
	return nil
}

func intp(v int) *int { return &v }

func TestComputeSplitsWindowIntoCalendarDays(t *testing.T) {
	store := &fakeWindowStore{}
	now := time.Date(2026, 2, 12, 10, 0, 0, 0, time.UTC)

	_, err := New(store, zerolog.Nop()).Compute(context.Background(), now)
	require.NoError(t, err)

	require.Len(t, store.queries, 2, "24h window ending mid-day spans two partitions")

	first, second := store.queries[0], store.queries[1]
	assert.Equal(t, "2026-02-11", first.date)
	assert.Equal(t, now.Add(-24*time.Hour).UnixMilli(), first.startMs, "partial first day starts at window start")
	assert.Equal(t, time.Date(2026, 2, 12, 0, 0, 0, 0, time.UTC).UnixMilli()-1, first.endMs)

	assert.Equal(t, "2026-02-12", second.date)
	assert.Equal(t, time.Date(2026, 2, 12, 0, 0, 0, 0, time.UTC).UnixMilli(), second.startMs)
	assert.Equal(t, now.UnixMilli(), second.endMs, "partial last day ends at now")
}

func TestComputeCounters(t *testing.T) {
	now := time.Date(2026, 2, 12, 10, 0, 0, 0, time.UTC)
	old := now.Add(-20 * time.Hour).UnixMilli()    // in 24h window only
	recent := now.Add(-30 * time.Minute).UnixMilli() // also in 1h window
	fresh := now.Add(-2 * time.Minute).UnixMilli()   // also in 5m window

	store := &fakeWindowStore{items: map[string][]alertstore.WindowItem{
		"2026-02-11": {
			{Timestamp: old, SrcIP: "203.0.113.7", DestPort: intp(22), Severity: intp(1)},
			{Timestamp: old + 1000, SrcIP: "203.0.113.8", DestPort: intp(443), Severity: intp(3)},
		},
		"2026-02-12": {
			{Timestamp: recent, SrcIP: "203.0.113.9", DestPort: intp(22), Severity: intp(2)},
			{Timestamp: fresh, SrcIP: "203.0.113.7", DestPort: intp(22), Severity: intp(1)},
			{Timestamp: fresh + 1000, SrcIP: "", DestPort: nil, Severity: nil},
		},
	}}

	metrics, err := New(store, zerolog.Nop()).Compute(context.Background(), now)
	require.NoError(t, err)

	assert.Equal(t, 5, metrics.Events24h)
	assert.Equal(t, 3, metrics.UniqueIPs24h)
	assert.Equal(t, 2, metrics.HighSeverity24h)
	assert.Equal(t, 2, metrics.NewIPs1h)

	// 2 events in the last 5 minutes over a 5-minute interval.
	assert.InDelta(t, 0.4, metrics.EventsPerMinute, 0.001)

	require.NotNil(t, metrics.TopPort)
	assert.Equal(t, "22", metrics.TopPort.Port)
	assert.Equal(t, 3, metrics.TopPort.Count)
}

func TestComputeTopPortTieBreak(t *testing.T) {
	now := time.Date(2026, 2, 12, 10, 0, 0, 0, time.UTC)
	ts := now.Add(-2 * time.Hour).UnixMilli()

	store := &fakeWindowStore{items: map[string][]alertstore.WindowItem{
		"2026-02-12": {
			{Timestamp: ts, SrcIP: "a", DestPort: intp(443)},
			{Timestamp: ts + 1, SrcIP: "b", DestPort: intp(22)},
			{Timestamp: ts + 2, SrcIP: "c", DestPort: intp(22)},
			{Timestamp: ts + 3, SrcIP: "d", DestPort: intp(443)},
		},
	}}

	metrics, err := New(store, zerolog.Nop()).Compute(context.Background(), now)
	require.NoError(t, err)

	require.NotNil(t, metrics.TopPort)
	assert.Equal(t, "443", metrics.TopPort.Port, "ties break by first-encountered order")
	assert.Equal(t, 2, metrics.TopPort.Count)
}

func TestComputeEmptyWindow(t *testing.T) {
	store := &fakeWindowStore{}
	now := time.Date(2026, 2, 12, 10, 0, 0, 0, time.UTC)

	metrics, err := New(store, zerolog.Nop()).Compute(context.Background(), now)
	require.NoError(t, err)

	assert.Zero(t, metrics.Events24h)
	assert.Zero(t, metrics.EventsPerMinute)
	assert.Nil(t, metrics.TopPort)
	assert.Equal(t, "2026-02-12T10:00:00.000Z", metrics.GeneratedAt)
	assert.Equal(t, "2026-02-11T10:00:00.000Z", metrics.Windows.Events24h)
}

func TestComputePropagatesStoreError(t *testing.T) {
	store := &fakeWindowStore{err: assert.AnError}
	_, err := New(store, zerolog.Nop()).Compute(context.Background(), time.Now())
	assert.Error(t, err)
}
