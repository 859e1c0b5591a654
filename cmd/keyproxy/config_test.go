package main

import (
	"testing"
	"time"

	"github.com/go-zoox/keyproxy"
	"github.com/go-zoox/keyproxy/utils/rotator"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) string {
	return func(key string) string {
		return vars[key]
	}
}

func loadWithArgs(t *testing.T, getenv func(string) string, args ...string) (*Config, error) {
	t.Helper()

	opts := &options{}
	cmd := &cobra.Command{Use: "test"}
	opts.bind(cmd)
	require.NoError(t, cmd.ParseFlags(args))

	return opts.load(cmd, getenv)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := loadWithArgs(t, env(map[string]string{envKeys: "k1,k2,k3"}))
	require.NoError(t, err)

	assert.Equal(t, []string{"k1", "k2", "k3"}, cfg.Keys)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, keyproxy.DefaultTarget, cfg.Upstream)
	assert.Equal(t, keyproxy.HeaderAPIKey, cfg.KeyHeader)
	assert.Empty(t, cfg.MetricsPort)
	assert.Equal(t, 60*time.Second, cfg.ReadTimeout)
	assert.Equal(t, time.Duration(0), cfg.WriteTimeout)
	assert.Equal(t, int64(32<<20), cfg.MaxRequestBodyBytes)
	assert.True(t, cfg.RequestLogging)
}

func TestLoadMissingKeys(t *testing.T) {
	_, err := loadWithArgs(t, env(nil))
	assert.ErrorIs(t, err, rotator.ErrNoKeys)

	_, err = loadWithArgs(t, env(map[string]string{envKeys: " , "}))
	assert.ErrorIs(t, err, rotator.ErrNoKeys)
}

func TestLoadEnvironment(t *testing.T) {
	cfg, err := loadWithArgs(t, env(map[string]string{
		envKeys:                  "k1",
		envPort:                  "9090",
		envUpstream:              "http://127.0.0.1:8081",
		envKeyHeader:             "Authorization",
		envMetricsPort:           "9100",
		envResponseHeaderTimeout: "30s",
	}))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "http://127.0.0.1:8081", cfg.Upstream)
	assert.Equal(t, "Authorization", cfg.KeyHeader)
	assert.Equal(t, "9100", cfg.MetricsPort)
	assert.Equal(t, 30*time.Second, cfg.ResponseHeaderTimeout)
}

func TestLoadFlagsOverrideEnvironment(t *testing.T) {
	cfg, err := loadWithArgs(t,
		env(map[string]string{envKeys: "k1", envPort: "9090"}),
		"--keys", "a,b", "--port", "7070",
	)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, cfg.Keys)
	assert.Equal(t, 7070, cfg.Port)
}

func TestLoadInvalidTimeout(t *testing.T) {
	_, err := loadWithArgs(t, env(map[string]string{envKeys: "k1", envResponseHeaderTimeout: "soon"}))
	assert.Error(t, err)
}

func TestLoadMaxRequestBodyBytes(t *testing.T) {
	cfg, err := loadWithArgs(t, env(map[string]string{envKeys: "k1", envMaxRequestBodyBytes: "1024"}))
	require.NoError(t, err)
	assert.Equal(t, int64(1024), cfg.MaxRequestBodyBytes)

	cfg, err = loadWithArgs(t,
		env(map[string]string{envKeys: "k1", envMaxRequestBodyBytes: "1024"}),
		"--max-request-body-bytes", "0",
	)
	require.NoError(t, err)
	assert.Equal(t, int64(0), cfg.MaxRequestBodyBytes)

	_, err = loadWithArgs(t, env(map[string]string{envKeys: "k1", envMaxRequestBodyBytes: "lots"}))
	assert.Error(t, err)

	_, err = loadWithArgs(t, env(map[string]string{envKeys: "k1"}), "--max-request-body-bytes", "-1")
	assert.Error(t, err)
}

func TestParsePort(t *testing.T) {
	assert.Equal(t, 8080, parsePort(""))
	assert.Equal(t, 8080, parsePort("http"))
	assert.Equal(t, 8080, parsePort("-1"))
	assert.Equal(t, 8080, parsePort("70000"))
	assert.Equal(t, 3000, parsePort("3000"))
}

func TestRootCommandRequiresKeys(t *testing.T) {
	cmd := newRootCommand(env(nil))
	cmd.SetArgs([]string{})
	cmd.SetOut(new(nopWriter))
	cmd.SetErr(new(nopWriter))

	err := cmd.Execute()
	assert.ErrorIs(t, err, rotator.ErrNoKeys)
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }
