// internal/normalize/normalizer.go
package normalize

import (
	"strconv"
	"strings"
	"time"

	"sensor-pipeline/internal/models"
	"sensor-pipeline/internal/timeparse"
)

// Event types routed to the indexed store in addition to the archive.
var alertEventTypes = map[string]struct{}{
	"alert":   {},
	"anomaly": {},
	"drop":    {},
}

// genericSummary is used when an event carries nothing worth describing.
const genericSummary = "sensor event"

// Result is the outcome of normalizing one raw event.
type Result struct {
	Event         *models.NormalizedEvent
	PartitionDate string
	EpochMs       int64
	IsAlert       bool
}

// Normalizer maps raw sensor documents into the canonical record shape and
// classifies them. Stateless; safe for concurrent use.
type Normalizer struct{}

// New returns a Normalizer.
func New() *Normalizer {
	return &Normalizer{}
}

// Normalize derives the canonical record from a raw event document.
// fallbackMs is the delivery-time timestamp, used when the event's own
// timestamp is missing or unparsable.
func (n *Normalizer) Normalize(raw map[string]any, fallbackMs int64) Result {
	eventTime, eventMs := timeparse.Normalize(asString(raw["timestamp"]), fallbackMs)

	ev := &models.NormalizedEvent{
		EventTime: formatEventTime(eventTime),
		Timestamp: eventMs,
		EventType: asString(raw["event_type"]),
		SrcIP:     asString(raw["src_ip"]),
		SrcPort:   asInt(raw["src_port"]),
		DestIP:    asString(raw["dest_ip"]),
		DestPort:  asInt(raw["dest_port"]),
		Proto:     firstNonEmpty(asString(raw["proto"]), asString(raw["proto_origin"])),
		FlowID:    asInt64(raw["flow_id"]),
	}

	alert, hasAlert := raw["alert"].(map[string]any)
	if hasAlert {
		ev.Severity = asInt(alert["severity"])
		ev.Category = asString(alert["category"])
	}

	// Sensors report the matching rule as either a name or a bare numeric
	// id. Resolve once; downstream code never re-inspects the type.
	switch sig := resolveSignature(alert); sig.Kind {
	case models.SignatureNamed:
		ev.Signature = sig.Name
	case models.SignatureNumeric:
		ev.SignatureID = &sig.ID
	}

	if flow, ok := raw["flow"].(map[string]any); ok {
		ev.FlowAlerted = asBool(flow["alerted"])
		ev.FlowState = asString(flow["state"])
		ev.FlowReason = asString(flow["reason"])
		ev.FlowPktsToServer = asInt64(flow["pkts_toserver"])
		ev.FlowPktsToClient = asInt64(flow["pkts_toclient"])
		ev.FlowBytesToServer = asInt64(flow["bytes_toserver"])
		ev.FlowBytesToClient = asInt64(flow["bytes_toclient"])
	}

	if tcp, ok := raw["tcp"].(map[string]any); ok {
		ev.TCPSyn = asBool(tcp["syn"])
		ev.TCPAck = asBool(tcp["ack"])
		ev.TCPRst = asBool(tcp["rst"])
		ev.TCPState = asString(tcp["state"])
		ev.TCPFlags = asString(tcp["tcp_flags"])
		ev.TCPFlagsTS = asString(tcp["tcp_flags_ts"])
		ev.TCPFlagsTC = asString(tcp["tcp_flags_tc"])
	}

	ev.Summary = buildSummary(ev)

	_, typeIsAlert := alertEventTypes[ev.EventType]

	return Result{
		Event:         ev,
		PartitionDate: eventTime.Format("2006-01-02"),
		EpochMs:       eventMs,
		IsAlert:       typeIsAlert || hasAlert,
	}
}

func resolveSignature(alert map[string]any) models.Signature {
	if alert == nil {
		return models.Signature{Kind: models.SignatureUnknown}
	}
	if name := asString(alert["signature"]); name != "" {
		return models.Signature{Kind: models.SignatureNamed, Name: name}
	}
	if id := asInt64(alert["signature_id"]); id != nil {
		return models.Signature{Kind: models.SignatureNumeric, ID: *id}
	}
	return models.Signature{Kind: models.SignatureUnknown}
}

// buildSummary concatenates the non-empty pieces in a fixed order:
// uppercased type, "src:port → dest:port" with "unknown" placeholders,
// protocol, signature. Downstream displays depend on this exact shape.
func buildSummary(ev *models.NormalizedEvent) string {
	var pieces []string
	if ev.EventType != "" {
		pieces = append(pieces, strings.ToUpper(ev.EventType))
	}
	if ev.SrcIP != "" || ev.DestIP != "" {
		pieces = append(pieces, endpoint(ev.SrcIP, ev.SrcPort)+" → "+endpoint(ev.DestIP, ev.DestPort))
	}
	if ev.Proto != "" {
		pieces = append(pieces, ev.Proto)
	}
	if ev.Signature != "" {
		pieces = append(pieces, ev.Signature)
	}
	if len(pieces) == 0 {
		return genericSummary
	}
	return strings.Join(pieces, " | ")
}

func endpoint(ip string, port *int) string {
	if ip == "" {
		ip = "unknown"
	}
	if port == nil {
		return ip
	}
	return ip + ":" + strconv.Itoa(*port)
}

func formatEventTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// The raw document comes from encoding/json, so numbers are float64 and
// anything may be missing or the wrong type. Coercions are best-effort and
// return zero values / nil rather than failing.

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt(v any) *int {
	if i64 := asInt64(v); i64 != nil {
		i := int(*i64)
		return &i
	}
	return nil
}

func asInt64(v any) *int64 {
	switch n := v.(type) {
	case float64:
		i := int64(n)
		return &i
	case int:
		i := int64(n)
		return &i
	case int64:
		return &n
	case string:
		if i, err := strconv.ParseInt(n, 10, 64); err == nil {
			return &i
		}
	}
	return nil
}

func asBool(v any) *bool {
	if b, ok := v.(bool); ok {
		return &b
	}
	return nil
}
