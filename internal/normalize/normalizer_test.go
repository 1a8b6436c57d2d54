package normalize

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sensor-pipeline/internal/models"
)

const fallbackMs = int64(1760000000000)

func rawDoc(t *testing.T, body string) map[string]any {
	t.Helper()
	var raw map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &raw))
	return raw
}

func TestNormalizeAlertEvent(t *testing.T) {
	raw := rawDoc(t, `{
		"timestamp": "2026-02-12T14:30:05.000+0000",
		"event_type": "alert",
		"src_ip": "203.0.113.7", "src_port": 54321,
		"dest_ip": "198.51.100.9", "dest_port": 22,
		"proto": "TCP",
		"flow_id": 220154,
		"alert": {"signature": "SSH brute force", "severity": 1, "category": "Attempted Admin"}
	}`)

	res := New().Normalize(raw, fallbackMs)

	assert.True(t, res.IsAlert)
	assert.Equal(t, "2026-02-12", res.PartitionDate)

	ev := res.Event
	assert.Equal(t, "2026-02-12T14:30:05.000Z", ev.EventTime)
	assert.Equal(t, int64(1770906605000), ev.Timestamp)
	assert.Equal(t, "alert", ev.EventType)
	require.NotNil(t, ev.SrcPort)
	assert.Equal(t, 54321, *ev.SrcPort)
	require.NotNil(t, ev.FlowID)
	assert.Equal(t, int64(220154), *ev.FlowID)
	require.NotNil(t, ev.Severity)
	assert.Equal(t, 1, *ev.Severity)
	assert.Equal(t, "Attempted Admin", ev.Category)
	assert.Equal(t, "SSH brute force", ev.Signature)
	assert.Nil(t, ev.SignatureID)

	assert.Equal(t, "ALERT | 203.0.113.7:54321 → 198.51.100.9:22 | TCP | SSH brute force", ev.Summary)
}

func TestNormalizeSummaryPlaceholders(t *testing.T) {
	raw := rawDoc(t, `{"event_type": "flow", "dest_ip": "198.51.100.9", "proto": "UDP"}`)
	res := New().Normalize(raw, fallbackMs)

	assert.Equal(t, "FLOW | unknown → 198.51.100.9 | UDP", res.Event.Summary)
	assert.False(t, res.IsAlert)
}

func TestNormalizeEmptyInputGenericSummary(t *testing.T) {
	res := New().Normalize(map[string]any{}, fallbackMs)

	assert.Equal(t, "sensor event", res.Event.Summary)
	assert.Equal(t, fallbackMs, res.Event.Timestamp)
	assert.False(t, res.IsAlert)
}

func TestNormalizeClassification(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		isAlert bool
	}{
		{"alert type", `{"event_type": "alert"}`, true},
		{"anomaly type", `{"event_type": "anomaly"}`, true},
		{"drop type", `{"event_type": "drop"}`, true},
		{"flow with alert object", `{"event_type": "flow", "alert": {"severity": 2}}`, true},
		{"plain flow", `{"event_type": "flow"}`, false},
		{"dns", `{"event_type": "dns"}`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := New().Normalize(rawDoc(t, tc.body), fallbackMs)
			assert.Equal(t, tc.isAlert, res.IsAlert)
		})
	}
}

func TestNormalizeNumericSignature(t *testing.T) {
	raw := rawDoc(t, `{"event_type": "alert", "alert": {"signature_id": 2024001, "severity": 2}}`)
	res := New().Normalize(raw, fallbackMs)

	assert.Empty(t, res.Event.Signature)
	require.NotNil(t, res.Event.SignatureID)
	assert.Equal(t, int64(2024001), *res.Event.SignatureID)
}

func TestNormalizeSignatureMutualExclusion(t *testing.T) {
	// A named signature wins even when a numeric id is also present.
	raw := rawDoc(t, `{"event_type": "alert", "alert": {"signature": "ET SCAN", "signature_id": 2024001}}`)
	res := New().Normalize(raw, fallbackMs)

	assert.Equal(t, "ET SCAN", res.Event.Signature)
	assert.Nil(t, res.Event.SignatureID)
}

func TestNormalizeUnparsableTimestampFallsBack(t *testing.T) {
	raw := rawDoc(t, `{"timestamp": "yesterday-ish", "event_type": "dns"}`)
	res := New().Normalize(raw, fallbackMs)

	assert.Equal(t, fallbackMs, res.Event.Timestamp)
	assert.Equal(t, fallbackMs, res.EpochMs)
}

func TestNormalizeProtoFallback(t *testing.T) {
	raw := rawDoc(t, `{"event_type": "flow", "proto_origin": "ICMP"}`)
	res := New().Normalize(raw, fallbackMs)
	assert.Equal(t, "ICMP", res.Event.Proto)
}

func TestNormalizeFlowAndTCPFields(t *testing.T) {
	raw := rawDoc(t, `{
		"event_type": "flow",
		"flow": {"alerted": true, "state": "established", "pkts_toserver": 12, "bytes_toclient": 3400},
		"tcp": {"syn": true, "ack": false, "state": "closed", "tcp_flags": "1b"}
	}`)
	ev := New().Normalize(raw, fallbackMs).Event

	require.NotNil(t, ev.FlowAlerted)
	assert.True(t, *ev.FlowAlerted)
	assert.Equal(t, "established", ev.FlowState)
	require.NotNil(t, ev.FlowPktsToServer)
	assert.Equal(t, int64(12), *ev.FlowPktsToServer)
	require.NotNil(t, ev.FlowBytesToClient)
	assert.Equal(t, int64(3400), *ev.FlowBytesToClient)

	require.NotNil(t, ev.TCPSyn)
	assert.True(t, *ev.TCPSyn)
	require.NotNil(t, ev.TCPAck)
	assert.False(t, *ev.TCPAck)
	assert.Equal(t, "closed", ev.TCPState)
	assert.Equal(t, "1b", ev.TCPFlags)
}

func TestResolveSignatureKinds(t *testing.T) {
	assert.Equal(t, models.SignatureUnknown, resolveSignature(nil).Kind)
	assert.Equal(t, models.SignatureUnknown, resolveSignature(map[string]any{}).Kind)
	assert.Equal(t, models.SignatureNamed, resolveSignature(map[string]any{"signature": "x"}).Kind)
	assert.Equal(t, models.SignatureNumeric, resolveSignature(map[string]any{"signature_id": float64(7)}).Kind)
}
