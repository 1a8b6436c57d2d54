package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func TestParseSpecDefaults(t *testing.T) {
	spec, err := ParseSpec(map[string]string{}, testNow)
	require.NoError(t, err)

	assert.Equal(t, "2026-03-01", spec.Date.Format("2006-01-02"))
	assert.Equal(t, 100, spec.Limit)
	assert.Nil(t, spec.Hour)
	assert.Nil(t, spec.DestPort)
}

func TestParseSpecRejectsBadInput(t *testing.T) {
	cases := map[string]map[string]string{
		"bad date format":  {"date": "12-02-2026"},
		"impossible date":  {"date": "2026-13-40"},
		"hour not numeric": {"hour": "noon"},
		"hour out of range": {"hour": "24"},
		"port out of range": {"dest_port": "70000"},
		"limit not numeric": {"limit": "many"},
	}
	for name, params := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseSpec(params, testNow)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestParseSpecLimitClamp(t *testing.T) {
	for input, want := range map[string]int{"1": 1, "0": 1, "-5": 1, "250": 250, "500": 500, "9999": 500} {
		spec, err := ParseSpec(map[string]string{"limit": input}, testNow)
		require.NoError(t, err)
		assert.Equal(t, want, spec.Limit, "limit %q", input)
	}
}

func TestParseSpecUppercasesProto(t *testing.T) {
	spec, err := ParseSpec(map[string]string{"proto": "tcp"}, testNow)
	require.NoError(t, err)
	assert.Equal(t, "TCP", spec.Proto)
}

func TestBuildPartitionPruning(t *testing.T) {
	spec, err := ParseSpec(map[string]string{"date": "2026-02-12", "src_ip": "10.0.0.5"}, testNow)
	require.NoError(t, err)

	stmt, err := NewBuilder("sensordb", "events").Build(spec)
	require.NoError(t, err)

	assert.Contains(t, stmt.SQL, "year = '2026' AND month = '02' AND day = '12'")
	assert.NotContains(t, stmt.SQL, "hour =")
	assert.Contains(t, stmt.SQL, "src_ip = ?")
	assert.Equal(t, []string{"10.0.0.5"}, stmt.Parameters)
	assert.Contains(t, stmt.SQL, "ORDER BY timestamp DESC")
	assert.Contains(t, stmt.SQL, "LIMIT 100")
	assert.Contains(t, stmt.SQL, `FROM "sensordb"."events"`)
}

func TestBuildHourPredicate(t *testing.T) {
	spec, err := ParseSpec(map[string]string{"date": "2026-02-12", "hour": "7"}, testNow)
	require.NoError(t, err)

	stmt, err := NewBuilder("sensordb", "events").Build(spec)
	require.NoError(t, err)
	assert.Contains(t, stmt.SQL, "hour = '07'")
}

func TestBuildSanitizesInjection(t *testing.T) {
	spec, err := ParseSpec(map[string]string{"date": "2026-02-12", "src_ip": "10.0.0.5'; DROP"}, testNow)
	require.NoError(t, err)

	stmt, err := NewBuilder("sensordb", "events").Build(spec)
	require.NoError(t, err)

	require.Len(t, stmt.Parameters, 1)
	assert.Equal(t, "10.0.0.5 DROP", stmt.Parameters[0])
	assert.NotContains(t, stmt.Parameters[0], "'")
	assert.NotContains(t, stmt.Parameters[0], ";")
	assert.NotContains(t, stmt.SQL, "DROP")
}

func TestBuildRejectsValueEmptyAfterSanitize(t *testing.T) {
	// An event_type of only quotes would otherwise silently become
	// event_type = '', matching the empty string instead of no filter.
	spec, err := ParseSpec(map[string]string{"date": "2026-02-12", "event_type": `'";--`}, testNow)
	require.NoError(t, err)

	_, err = NewBuilder("sensordb", "events").Build(spec)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestBuildAllFilters(t *testing.T) {
	spec, err := ParseSpec(map[string]string{
		"date":       "2026-02-12",
		"event_type": "alert",
		"src_ip":     "203.0.113.7",
		"dest_ip":    "198.51.100.9",
		"proto":      "udp",
		"dest_port":  "53",
		"limit":      "10",
	}, testNow)
	require.NoError(t, err)

	stmt, err := NewBuilder("sensordb", "events").Build(spec)
	require.NoError(t, err)

	assert.Equal(t, []string{"alert", "203.0.113.7", "198.51.100.9", "UDP"}, stmt.Parameters)
	assert.Contains(t, stmt.SQL, "dest_port = 53")
	assert.Contains(t, stmt.SQL, "LIMIT 10")
}

func TestBuildSummaryStatement(t *testing.T) {
	spec, err := ParseSpec(map[string]string{"date": "2026-02-12"}, testNow)
	require.NoError(t, err)

	stmt := NewBuilder("sensordb", "events").BuildSummary(spec)
	assert.Contains(t, stmt.SQL, "GROUP BY event_type")
	assert.Contains(t, stmt.SQL, "year = '2026' AND month = '02' AND day = '12'")
	assert.Empty(t, stmt.Parameters)
}
