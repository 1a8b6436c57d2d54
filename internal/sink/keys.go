// internal/sink/keys.go
package sink

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// ArchiveKey builds the hierarchical object key for one archived event,
// partitioned by the event's own UTC instant so the Athena table can prune
// by date/hour.
func ArchiveKey(t time.Time) string {
	u := t.UTC()
	return fmt.Sprintf("year=%04d/month=%02d/day=%02d/hour=%02d/%s.json",
		u.Year(), int(u.Month()), u.Day(), u.Hour(), randomHex(16))
}

// NewEventID builds a sort key that is lexicographically time-ordered with
// a random suffix, so records stay unique per partition even when two
// events share a timestamp.
func NewEventID(t time.Time) string {
	return t.UTC().Format("20060102T150405.000000") + "_" + randomHex(4)
}

func randomHex(n int) string {
	buf := make([]byte, n)
	rand.Read(buf)
	return hex.EncodeToString(buf)
}
