package container

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perp-mm-lab/config"
	"perp-mm-lab/storage"
	"perp-mm-lab/storage/jsonfile"
)

func testConfig(t *testing.T) config.AppConfig {
	t.Helper()
	cfg := config.Default()
	cfg.Logger.Outputs = nil
	cfg.Alerts.Console = false
	cfg.Storage.Backend = "memory"
	return cfg
}

func recordNotify(c *Container) *[]string {
	var states []string
	c.notify = func(state string) (bool, error) {
		states = append(states, state)
		return false, nil
	}
	return &states
}

func TestContainer_MemoryBackendWithMetrics(t *testing.T) {
	cfg := testConfig(t)
	cfg.Metrics.Enabled = true
	cfg.Metrics.Addr = "127.0.0.1:0"

	c := NewFromConfig(cfg)
	states := recordNotify(c)
	ctx := context.Background()
	require.NoError(t, c.Build(ctx))
	require.NoError(t, c.Start(ctx))

	require.NotNil(t, c.Series(), "内存后端同时提供曲线导出")
	require.NoError(t, c.Store().CreateRun(ctx, storage.Run{ID: "r1", Kind: storage.RunStress}))
	require.NoError(t, c.HealthCheck())

	resp, err := http.Get("http://" + c.MetricsAddr() + "/metrics")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get("http://" + c.MetricsAddr() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	c.Reloaded(cfg)
	require.NoError(t, c.Stop())
	assert.Equal(t, []string{
		daemon.SdNotifyReady,
		daemon.SdNotifyReloading,
		daemon.SdNotifyReady,
		daemon.SdNotifyStopping,
	}, *states)
	assert.Error(t, c.HealthCheck())
}

func TestContainer_JSONFileBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Backend = "jsonfile"
	cfg.Storage.Dir = t.TempDir()
	cfg.Alerts.LogFile = filepath.Join(cfg.Storage.Dir, "alerts.log")

	c := NewFromConfig(cfg)
	recordNotify(c)
	ctx := context.Background()
	require.NoError(t, c.Build(ctx))
	require.NoError(t, c.Start(ctx))

	_, ok := c.Store().(*jsonfile.Store)
	assert.True(t, ok)
	assert.Nil(t, c.Series())
	assert.Empty(t, c.MetricsAddr())

	c.Alerts().Send("StressTest", "pass rate 12.0% below 50.0%")
	require.NoError(t, c.Stop())

	raw, err := os.ReadFile(cfg.Alerts.LogFile)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "pass rate 12.0%")
}

func TestContainer_BuildErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.AppConfig)
		want   error
	}{
		{
			name:   "未知存储后端",
			mutate: func(c *config.AppConfig) { c.Storage.Backend = "sqlite" },
			want:   ErrUnknownBackend,
		},
		{
			name:   "节流间隔无法解析",
			mutate: func(c *config.AppConfig) { c.Alerts.ThrottleInterval = "soon" },
		},
		{
			name: "ClickHouse DSN 格式错误",
			mutate: func(c *config.AppConfig) {
				c.Storage.ClickHouseDSN = "postgres://localhost:5432/x"
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(&cfg)
			c := NewFromConfig(cfg)
			recordNotify(c)
			err := c.Build(context.Background())
			require.Error(t, err)
			if tt.want != nil {
				assert.True(t, errors.Is(err, tt.want))
			}
		})
	}
}

func TestLifecycleManager_RollbackOnStartFailure(t *testing.T) {
	m := NewLifecycleManager()
	first := &fakeComponent{name: "first"}
	m.Register(first)
	m.Register(&fakeComponent{name: "second", startErr: errors.New("boom")})

	err := m.StartAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "second")
	assert.True(t, first.stopped)
}

type fakeComponent struct {
	name     string
	startErr error
	stopped  bool
}

func (f *fakeComponent) Name() string { return f.name }

func (f *fakeComponent) Start(ctx context.Context) error { return f.startErr }

func (f *fakeComponent) Health() error { return nil }

func (f *fakeComponent) Stop() error {
	f.stopped = true
	return nil
}
