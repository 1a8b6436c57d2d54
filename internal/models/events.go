// internal/models/events.go
package models

// SignatureKind discriminates how a sensor reported the matching rule.
type SignatureKind int

const (
	SignatureUnknown SignatureKind = iota
	SignatureNamed
	SignatureNumeric
)

// Signature is the rule identity attached to an alert. Sensors report either
// a human-readable name or a bare numeric rule id; this is resolved once
// during normalization and never re-inspected downstream.
type Signature struct {
	Kind SignatureKind
	Name string
	ID   int64
}

// NormalizedEvent is the canonical record shape every raw sensor event is
// mapped into. Timestamp is always present: it falls back to the delivery
// timestamp when the event's own timestamp is missing or unparsable.
// Signature and SignatureID are mutually exclusive by construction.
type NormalizedEvent struct {
	EventTime string `json:"event_time" dynamodbav:"event_time"`
	Timestamp int64  `json:"timestamp" dynamodbav:"timestamp"`
	EventType string `json:"event_type,omitempty" dynamodbav:"event_type,omitempty"`

	SrcIP    string `json:"src_ip,omitempty" dynamodbav:"src_ip,omitempty"`
	SrcPort  *int   `json:"src_port,omitempty" dynamodbav:"src_port,omitempty"`
	DestIP   string `json:"dest_ip,omitempty" dynamodbav:"dest_ip,omitempty"`
	DestPort *int   `json:"dest_port,omitempty" dynamodbav:"dest_port,omitempty"`
	Proto    string `json:"proto,omitempty" dynamodbav:"proto,omitempty"`
	FlowID   *int64 `json:"flow_id,omitempty" dynamodbav:"flow_id,omitempty"`

	Severity    *int   `json:"severity,omitempty" dynamodbav:"severity,omitempty"`
	Category    string `json:"category,omitempty" dynamodbav:"category,omitempty"`
	Signature   string `json:"signature,omitempty" dynamodbav:"signature,omitempty"`
	SignatureID *int64 `json:"signature_id,omitempty" dynamodbav:"signature_id,omitempty"`

	FlowAlerted       *bool  `json:"flow_alerted,omitempty" dynamodbav:"flow_alerted,omitempty"`
	FlowState         string `json:"flow_state,omitempty" dynamodbav:"flow_state,omitempty"`
	FlowReason        string `json:"flow_reason,omitempty" dynamodbav:"flow_reason,omitempty"`
	FlowPktsToServer  *int64 `json:"flow_pkts_toserver,omitempty" dynamodbav:"flow_pkts_toserver,omitempty"`
	FlowPktsToClient  *int64 `json:"flow_pkts_toclient,omitempty" dynamodbav:"flow_pkts_toclient,omitempty"`
	FlowBytesToServer *int64 `json:"flow_bytes_toserver,omitempty" dynamodbav:"flow_bytes_toserver,omitempty"`
	FlowBytesToClient *int64 `json:"flow_bytes_toclient,omitempty" dynamodbav:"flow_bytes_toclient,omitempty"`

	TCPSyn     *bool  `json:"tcp_syn,omitempty" dynamodbav:"tcp_syn,omitempty"`
	TCPAck     *bool  `json:"tcp_ack,omitempty" dynamodbav:"tcp_ack,omitempty"`
	TCPRst     *bool  `json:"tcp_rst,omitempty" dynamodbav:"tcp_rst,omitempty"`
	TCPState   string `json:"tcp_state,omitempty" dynamodbav:"tcp_state,omitempty"`
	TCPFlags   string `json:"tcp_flags,omitempty" dynamodbav:"tcp_flags,omitempty"`
	TCPFlagsTS string `json:"tcp_flags_ts,omitempty" dynamodbav:"tcp_flags_ts,omitempty"`
	TCPFlagsTC string `json:"tcp_flags_tc,omitempty" dynamodbav:"tcp_flags_tc,omitempty"`

	Summary string `json:"summary" dynamodbav:"summary"`

	CountryName string `json:"country_name,omitempty" dynamodbav:"country_name,omitempty"`
	CountryCode string `json:"country_code,omitempty" dynamodbav:"country_code,omitempty"`
	Flag        string `json:"flag,omitempty" dynamodbav:"flag,omitempty"`
}

// AlertRecord is the indexed-store projection of an alert-classified event.
// (event_date, event_id) uniquely identifies a record; event_id is
// lexicographically time-ordered so range queries return newest-first with
// ScanIndexForward=false. The original raw event is nested verbatim for
// detail views.
type AlertRecord struct {
	EventDate  string         `json:"event_date" dynamodbav:"event_date"`
	EventID    string         `json:"event_id" dynamodbav:"event_id"`
	IngestTime int64          `json:"ingest_time" dynamodbav:"ingest_time"`
	Raw        map[string]any `json:"sensor,omitempty" dynamodbav:"sensor,omitempty"`

	NormalizedEvent
}

// GeoResult is the country metadata attached to a public source IP.
// Flag is two Unicode regional-indicator symbols derived from CountryCode.
type GeoResult struct {
	CountryName string `json:"country_name"`
	CountryCode string `json:"country_code"`
	Flag        string `json:"flag"`
}

// PartitionKey identifies one date/hour partition of the archive.
type PartitionKey struct {
	Year  string
	Month string
	Day   string
	Hour  string
}

// Values returns the key in catalog order.
func (k PartitionKey) Values() []string {
	return []string{k.Year, k.Month, k.Day, k.Hour}
}

// Prefix returns the archive object prefix for this partition.
func (k PartitionKey) Prefix() string {
	return "year=" + k.Year + "/month=" + k.Month + "/day=" + k.Day + "/hour=" + k.Hour + "/"
}

// IngestSummary aggregates per-record outcomes for one delivered batch.
// Per-record and per-sink failures are counted here, never escalated.
type IngestSummary struct {
	Records       int `json:"records"`
	Malformed     int `json:"malformed"`
	ArchivedTotal int `json:"archived_total"`
	ArchivedOK    int `json:"archived_ok"`
	IndexedTotal  int `json:"indexed_total"`
	Failed        int `json:"failed"`
}

// AlertMetrics is the rolling-counter snapshot computed over trailing
// windows of indexed alerts.
type AlertMetrics struct {
	GeneratedAt     string   `json:"generated_at"`
	Windows         Windows  `json:"windows"`
	Events24h       int      `json:"events_24h"`
	UniqueIPs24h    int      `json:"unique_ips_24h"`
	HighSeverity24h int      `json:"high_severity_24h"`
	EventsPerMinute float64  `json:"events_per_minute"`
	NewIPs1h        int      `json:"new_ips_1h"`
	TopPort         *TopPort `json:"top_port"`
}

// Windows records the start instants of the metric windows.
type Windows struct {
	Events24h       string `json:"events_24h"`
	NewIPs1h        string `json:"new_ips_1h"`
	EventsPerMinute string `json:"events_per_minute"`
}

// TopPort is the most frequent destination port in the 24h window.
type TopPort struct {
	Port  string `json:"port"`
	Count int    `json:"count"`
}
