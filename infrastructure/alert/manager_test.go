package alert

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"perp-mm-lab/risk"
)

var _ risk.AlertClient = (*Manager)(nil)

func TestManager_SendLevels(t *testing.T) {
	rec := NewRecordingChannel("rec")
	m := NewManager([]Channel{rec}, time.Minute, nil)

	tests := []struct {
		name  string
		typ   string
		level Level
	}{
		{"压力测试告警", "StressTest", LevelWarning},
		{"熔断为严重", "CircuitBreaker", LevelCritical},
		{"风控限额为错误", "RiskLimit", LevelError},
		{"未知类型默认警告", "Other", LevelWarning},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m.Send(tt.typ, "msg "+tt.typ)
			got := rec.Alerts()
			require.NotEmpty(t, got)
			last := got[len(got)-1]
			assert.Equal(t, tt.level, last.Level)
			assert.Equal(t, tt.typ, last.Type)
			assert.False(t, last.Timestamp.IsZero())
		})
	}
}

func TestManager_Throttle(t *testing.T) {
	rec := NewRecordingChannel("rec")
	m := NewManager([]Channel{rec}, time.Hour, nil)

	m.Send("StressTest", "pass rate 10%")
	m.Send("StressTest", "pass rate 10%")
	m.Send("StressTest", "pass rate 12%")
	assert.Len(t, rec.Alerts(), 2)

	m.ResetThrottle()
	m.Send("StressTest", "pass rate 10%")
	assert.Len(t, rec.Alerts(), 3)
}

func TestThrottler_Interval(t *testing.T) {
	th := NewThrottler(time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	th.now = func() time.Time { return now }

	assert.True(t, th.Allow("k"))
	assert.False(t, th.Allow("k"))
	now = now.Add(time.Minute)
	assert.True(t, th.Allow("k"))
}

func TestManager_ChannelFailures(t *testing.T) {
	bad := NewRecordingChannel("bad")
	bad.Err = errors.New("down")
	good := NewRecordingChannel("good")

	core, logs := observer.New(zap.WarnLevel)
	m := NewManager([]Channel{bad, good}, 0, zap.New(core))
	assert.NoError(t, m.SendAlert(Alert{Message: "partial"}))
	assert.Len(t, good.Alerts(), 1)
	assert.Equal(t, 1, logs.FilterMessage("alert channel failed").Len())

	only := NewManager([]Channel{bad}, 0, nil)
	assert.ErrorContains(t, only.SendAlert(Alert{Message: "all down"}), "channel bad failed")
}

func TestManager_Channels(t *testing.T) {
	m := NewManager(nil, 0, nil)
	m.AddChannel(NewRecordingChannel("a"))
	m.AddChannel(NewRecordingChannel("b"))
	assert.Equal(t, []string{"a", "b"}, m.Channels())
	m.RemoveChannel("a")
	assert.Equal(t, []string{"b"}, m.Channels())
}

func TestWriterChannel(t *testing.T) {
	var buf bytes.Buffer
	ch := NewWriterChannel("file", &buf)
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, ch.Send(Alert{
		Level: LevelError, Type: "RiskLimit", Message: "net exposure",
		Timestamp: ts, Fields: map[string]interface{}{"symbol": "BTCUSDT", "net": 3},
	}))
	assert.Equal(t, "[ERROR] 2024-01-02 03:04:05 RiskLimit: net exposure net=3 symbol=BTCUSDT\n", buf.String())
}

func TestZapChannel(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	ch := NewZapChannel("zap", zap.New(core))
	require.NoError(t, ch.Send(Alert{Level: LevelCritical, Message: "breaker open", Fields: map[string]interface{}{"losses": 5}}))
	require.NoError(t, ch.Send(Alert{Level: LevelInfo, Message: "trial done"}))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zap.ErrorLevel, entries[0].Level)
	assert.Equal(t, int64(5), entries[0].ContextMap()["losses"])
	assert.Equal(t, zap.WarnLevel, entries[1].Level)
}

func TestManager_Concurrent(t *testing.T) {
	rec := NewRecordingChannel("rec")
	m := NewManager([]Channel{rec}, 0, nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Send("StressTest", "x")
		}()
	}
	wg.Wait()
	assert.NotEmpty(t, rec.Alerts())
}
