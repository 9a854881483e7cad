package standard

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecentLogs_RingBuffer(t *testing.T) {
	logs := NewRecentLogs(2, nil)

	logs.Info("one", map[string]interface{}{"n": 1})
	logs.Info("two", map[string]interface{}{"n": 2})
	logs.Debug("three", map[string]interface{}{"n": 3})

	entries := logs.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "two", entries[0].Message)
	assert.Equal(t, "three", entries[1].Message)
	assert.Equal(t, LevelDebug, entries[1].Level)
}

func TestRecentLogs_TriggerOnWarnAndError(t *testing.T) {
	logs := NewRecentLogs(10, nil)

	var fired []LogLevel
	logs.SetTriggerFunc(func(e LogEntry) { fired = append(fired, e.Level) })

	logs.Info("quiet", nil)
	logs.Warn("loud", map[string]interface{}{"x": 1})
	logs.Error("louder", map[string]interface{}{"x": 2})
	logs.ErrorNoTrigger("internal", map[string]interface{}{"x": 3})

	assert.Equal(t, []LogLevel{LevelWarn, LevelError}, fired)

	stats := logs.GetData()["stats"].(map[string]interface{})
	assert.Equal(t, 4, stats["total_count"])
	assert.Equal(t, 2, stats["errors_count"])
	assert.Equal(t, 1, stats["warnings_count"])
	assert.Equal(t, 1, stats["info_count"])
}

func TestRecentLogs_ForwardsToSlog(t *testing.T) {
	var buf bytes.Buffer
	logs := NewRecentLogs(10, NewLogger(&buf, "json", "debug"))

	logs.Warn("handler fault", map[string]interface{}{"url": "/user/seq.xml"})

	out := buf.String()
	assert.Contains(t, out, `"msg":"handler fault"`)
	assert.Contains(t, out, `"level":"WARN"`)
	assert.Contains(t, out, `"url":"/user/seq.xml"`)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
}

func TestConnectivityTracker_Stats(t *testing.T) {
	tr := NewConnectivityTracker()

	for i := 0; i < 18; i++ {
		tr.Track("/user/seq.xml", OutcomeSuccess, time.Duration(i+1)*time.Millisecond, "")
	}
	tr.Track("/user/seq.xml", OutcomeTimeout, 5*time.Second, "no response after 5s")
	tr.Track("/user/seq.xml", OutcomeAuth, 0, "status 403")
	tr.Track("/user/status.xml", OutcomeSuccess, 12*time.Millisecond, "")

	stats := tr.Stats()
	require.Len(t, stats, 2)

	seq := stats[0]
	assert.Equal(t, "/user/seq.xml", seq.Path)
	assert.Equal(t, 20, seq.Total)
	assert.Equal(t, 1, seq.Timeouts)
	assert.Equal(t, 1, seq.AuthErrors)
	assert.InDelta(t, 0.9, seq.SuccessRate, 0.0001)
	assert.Equal(t, "degraded", seq.Status)
	assert.Equal(t, []string{"no response after 5s", "status 403"}, seq.Recent)
	assert.Equal(t, 9, seq.LatencyMS["p50"])

	assert.Equal(t, "/user/status.xml", stats[1].Path)
	assert.Equal(t, "healthy", stats[1].Status)
}

func TestConnectivityTracker_PrunesOldRecords(t *testing.T) {
	tr := NewConnectivityTracker()
	now := time.Now()
	tr.now = func() time.Time { return now.Add(-2 * time.Hour) }
	tr.Track("/user/seq.xml", OutcomeTimeout, 0, "old")

	tr.now = func() time.Time { return now }
	tr.Track("/user/seq.xml", OutcomeSuccess, time.Millisecond, "")

	stats := tr.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, 1, stats[0].Total)
	assert.Equal(t, "healthy", stats[0].Status)
}
