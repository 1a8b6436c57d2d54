// internal/timeparse/timeparse.go
package timeparse

import "time"

// Sensor timestamps arrive in several encodings: RFC 3339 with or without
// fractional seconds, a numeric offset without the colon separator
// ("+0000"), or a bare local form with no zone at all. Naive timestamps are
// assumed UTC.
var layouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999-0700",
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// Normalize parses a sensor timestamp into a canonical UTC instant with
// millisecond epoch. It is a total function: if every parse attempt fails,
// or the string is empty, the delivery-time fallback is returned unmodified.
func Normalize(ts string, fallbackMs int64) (time.Time, int64) {
	if ts == "" {
		return time.UnixMilli(fallbackMs).UTC(), fallbackMs
	}

	normalized := normalizeOffset(ts)
	for _, layout := range layouts {
		parsed, err := time.Parse(layout, normalized)
		if err != nil {
			continue
		}
		utc := parsed.UTC()
		return utc, utc.UnixMilli()
	}

	return time.UnixMilli(fallbackMs).UTC(), fallbackMs
}

// normalizeOffset rewrites a trailing "+0000"-style numeric offset to the
// "+00:00" form so the RFC 3339 layout accepts it.
func normalizeOffset(ts string) string {
	if len(ts) <= 5 {
		return ts
	}
	sign := ts[len(ts)-5]
	if (sign == '+' || sign == '-') && ts[len(ts)-3] != ':' {
		return ts[:len(ts)-2] + ":" + ts[len(ts)-2:]
	}
	return ts
}
