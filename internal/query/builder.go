// internal/query/builder.go
package query

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrValidation marks a rejected query spec; surfaced to the caller before
// any call to the query engine.
var ErrValidation = errors.New("invalid query parameter")

const (
	defaultLimit = 100
	maxLimit     = 500
)

// Statement is a rendered query plus the values bound to its `?`
// placeholders, in order.
type Statement struct {
	SQL        string
	Parameters []string
}

// Spec holds validated archive-query parameters. Build a Spec with
// ParseSpec rather than by hand so the limit clamp and date validation
// always apply.
type Spec struct {
	Date      time.Time
	Hour      *int
	EventType string
	SrcIP     string
	DestIP    string
	Proto     string
	DestPort  *int
	Limit     int
}

// ParseSpec validates raw request parameters into a Spec. The date
// defaults to the current UTC date; limit is clamped to [1, 500] with a
// default of 100. An invalid date or hour is a rejected spec, not a query.
func ParseSpec(params map[string]string, now time.Time) (Spec, error) {
	spec := Spec{Date: now.UTC().Truncate(24 * time.Hour), Limit: defaultLimit}

	if dateStr := params["date"]; dateStr != "" {
		parsed, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			return Spec{}, fmt.Errorf("%w: invalid date format, use YYYY-MM-DD", ErrValidation)
		}
		spec.Date = parsed
	}

	if hourStr := params["hour"]; hourStr != "" {
		hour, err := strconv.Atoi(hourStr)
		if err != nil || hour < 0 || hour > 23 {
			return Spec{}, fmt.Errorf("%w: invalid hour", ErrValidation)
		}
		spec.Hour = &hour
	}

	if portStr := params["dest_port"]; portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil || port < 0 || port > 65535 {
			return Spec{}, fmt.Errorf("%w: invalid dest_port", ErrValidation)
		}
		spec.DestPort = &port
	}

	if limitStr := params["limit"]; limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return Spec{}, fmt.Errorf("%w: invalid limit", ErrValidation)
		}
		spec.Limit = max(1, min(limit, maxLimit))
	}

	spec.EventType = params["event_type"]
	spec.SrcIP = params["src_ip"]
	spec.DestIP = params["dest_ip"]
	if proto := params["proto"]; proto != "" {
		spec.Proto = strings.ToUpper(proto)
	}

	return spec, nil
}

// Builder renders partition-pruned statements against one catalog table.
type Builder struct {
	database string
	table    string
}

// NewBuilder builds statements against database.table.
func NewBuilder(database, table string) *Builder {
	return &Builder{database: database, table: table}
}

// Build renders the archive query. Year/month/day equality predicates are
// always present for partition pruning; the hour predicate only when
// supplied. User-supplied string filters are bound as `?` parameters, with
// the sanitizer kept as defense-in-depth on top of the binding.
func (b *Builder) Build(spec Spec) (Statement, error) {
	where := []string{
		fmt.Sprintf("year = '%04d'", spec.Date.Year()),
		fmt.Sprintf("month = '%02d'", int(spec.Date.Month())),
		fmt.Sprintf("day = '%02d'", spec.Date.Day()),
	}
	if spec.Hour != nil {
		where = append(where, fmt.Sprintf("hour = '%02d'", *spec.Hour))
	}

	var params []string
	for _, filter := range []struct {
		column string
		value  string
	}{
		{"event_type", spec.EventType},
		{"src_ip", spec.SrcIP},
		{"dest_ip", spec.DestIP},
		{"proto", spec.Proto},
	} {
		if filter.value == "" {
			continue
		}
		clean, err := sanitize(filter.column, filter.value)
		if err != nil {
			return Statement{}, err
		}
		where = append(where, filter.column+" = ?")
		params = append(params, clean)
	}

	if spec.DestPort != nil {
		where = append(where, fmt.Sprintf("dest_port = %d", *spec.DestPort))
	}

	sql := fmt.Sprintf(`SELECT timestamp, event_type, src_ip, src_port, dest_ip, dest_port,
       proto, flow_id, app_proto,
       alert.signature as alert_signature,
       alert.severity as alert_severity,
       alert.category as alert_category
FROM "%s"."%s"
WHERE %s
ORDER BY timestamp DESC
LIMIT %d`, b.database, b.table, strings.Join(where, " AND "), spec.Limit)

	return Statement{SQL: sql, Parameters: params}, nil
}

// BuildSummary renders the grouped count-by-event-type statement for one
// date partition.
func (b *Builder) BuildSummary(spec Spec) Statement {
	sql := fmt.Sprintf(`SELECT event_type, COUNT(*) as event_count
FROM "%s"."%s"
WHERE year = '%04d' AND month = '%02d' AND day = '%02d'
GROUP BY event_type
ORDER BY event_count DESC`,
		b.database, b.table, spec.Date.Year(), int(spec.Date.Month()), spec.Date.Day())
	return Statement{SQL: sql}
}

var sanitizeReplacer = strings.NewReplacer("'", "", `"`, "", ";", "", "--", "")

// sanitize strips quote characters, semicolons, and comment markers. A
// value that becomes empty after stripping would silently change query
// semantics (match empty string instead of no filter), so it is rejected
// instead.
func sanitize(column, value string) (string, error) {
	clean := strings.TrimSpace(sanitizeReplacer.Replace(value))
	if clean == "" {
		return "", fmt.Errorf("%w: %s contains no usable characters", ErrValidation, column)
	}
	return clean, nil
}
