package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"subwatch/internal/common/httpclient"
	"subwatch/internal/tracker/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"
)

func TestLoadAppConfigDefaults(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))

	cfg, err := loadAppConfig(filepath.Join(t.TempDir(), "absent.yaml"), true)
	require.NoError(t, err)

	assert.Equal(t, defaultHTTPAddr, cfg.Server.Addr)
	assert.Equal(t, defaultProxyAddr, cfg.Proxy.Addr)
	assert.NotEmpty(t, cfg.Proxy.CertsDir)
	assert.Equal(t, service.DefaultJudgeHost, cfg.Judge.Host)
	assert.Equal(t, service.DefaultTokenHeader, cfg.Judge.TokenHeader)
	assert.Equal(t, service.DefaultPollInterval, cfg.Tracker.PollInterval)
	assert.Equal(t, defaultRetention, cfg.Tracker.Retention)
	assert.Equal(t, 0, cfg.Tracker.MaxAttempts)
	assert.Equal(t, string(service.PriorityHigh), cfg.Notifier.Priority)
	assert.Empty(t, cfg.Redis.Addr)
}

func TestLoadAppConfigMissingRequiredFile(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))

	_, err := loadAppConfig(filepath.Join(t.TempDir(), "absent.yaml"), false)
	assert.Error(t, err)
}

func TestLoadAppConfigFileAndEnv(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	path := filepath.Join(t.TempDir(), "subwatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
judge:
  host: "judge.example"
tracker:
  pollInterval: 2s
  retention: -1s
`), 0o600))
	t.Setenv("SUBWATCH_POLL_INTERVAL", "750ms")
	t.Setenv("SUBWATCH_REDIS_ADDR", "localhost:6379")

	cfg, err := loadAppConfig(path, false)
	require.NoError(t, err)

	assert.Equal(t, "judge.example", cfg.Judge.Host)
	assert.Equal(t, 750*time.Millisecond, cfg.Tracker.PollInterval)
	assert.Negative(t, cfg.Tracker.Retention)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestShippedConfigParses(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))

	cfg, err := loadAppConfig(filepath.Join("..", "..", defaultConfigPath), false)
	require.NoError(t, err)
	assert.Equal(t, service.DefaultStatusTableTemplate, cfg.Judge.StatusTableTemplate)
	assert.Equal(t, 6*time.Hour, cfg.Tracker.Retention)
}

func TestFlagsOverrideConfig(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))

	var got *AppConfig
	root := newRootCommand()
	root.Action = func(ctx context.Context, cmd *cli.Command) error {
		cfg, err := configFromFlags(cmd)
		got = cfg
		return err
	}

	err := root.Run(context.Background(), []string{
		"subwatch", "--config", filepath.Join("..", "..", defaultConfigPath),
		"--verbose", "--addr", "127.0.0.1:9000", "--no-proxy",
	})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "debug", got.Logger.Level)
	assert.Equal(t, "127.0.0.1:9000", got.Server.Addr)
	assert.True(t, got.Proxy.Disabled)
}

func TestStatusURL(t *testing.T) {
	assert.Equal(t, "http://127.0.0.1:17411/api/v1/status", statusURL("0.0.0.0:17411"))
	assert.Equal(t, "http://127.0.0.1:80/api/v1/status", statusURL(":80"))
	assert.Equal(t, "http://localhost:1/api/v1/status", statusURL("localhost:1"))
}

func TestWriteStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/status", r.URL.Path)
		_, _ = w.Write([]byte(`{"code":10000,"message":"Success","data":{"last_status":"AC","last_problem":"Chef and Strings (CHEFSTR)","pending":1}}`))
	}))
	defer srv.Close()

	var out strings.Builder
	err := writeStatus(context.Background(), &out, httpclient.New(time.Second, "", nil), srv.URL+"/api/v1/status")
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Last status:  AC")
	assert.Contains(t, out.String(), "Last problem: Chef and Strings (CHEFSTR)")
	assert.Contains(t, out.String(), "Pending:      1")
	assert.NotContains(t, out.String(), "Updated at")
}

func TestWriteStatusDaemonDown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	var out strings.Builder
	err := writeStatus(context.Background(), &out, httpclient.New(time.Second, "", nil), url+"/api/v1/status")
	assert.Error(t, err)
	assert.Empty(t, out.String())
}
