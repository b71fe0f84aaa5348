// Copyright 2026 The buildkansen Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	f, err := os.CreateTemp("", "config_test_*.yaml")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	defer os.Remove(f.Name())
	f.Close()

	cfg, err := LoadConfig(f.Name())
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Env != EnvDevelopment {
		t.Errorf("Env should default to development, got: %s", cfg.Env)
	}
	if cfg.Host != "" {
		t.Errorf("Host should be empty by default (bind all), got: %s", cfg.Host)
	}
	if cfg.Port != DefaultPort {
		t.Errorf("Port should default to %d, got: %d", DefaultPort, cfg.Port)
	}
	if !cfg.UseTLS() {
		t.Error("development should serve TLS with local certificates")
	}
	assert.Equal(t, []string{DefaultRunnerLabel}, cfg.Runners.Labels)
	assert.Equal(t, "../host", cfg.Runners.ScriptDir)
	assert.Equal(t, "./runner.kickoff", cfg.Runners.KickoffScript)
	assert.Equal(t, "./guest.vm.down", cfg.Runners.PurgeScript)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "buildkansen", cfg.Session.Name)
}

func TestLoadConfig_LogFileSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging-to-file: true\nlogs-max-file-size-mb: 25\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.True(t, cfg.LoggingToFile)
	assert.Equal(t, 25, cfg.LogsMaxFileSizeMB)

	require.NoError(t, os.WriteFile(path, []byte("logs-max-file-size-mb: -3\n"), 0o644))
	cfg, err = LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.LogsMaxFileSizeMB)
}

func TestLoadConfig_CustomValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
env: Production
host: 127.0.0.1
port: 9090
database:
  driver: postgres
  dsn: postgres://localhost/buildkansen
runners:
  labels: [" tramline-macos-sonoma-md ", "tramline-macos-sonoma-xl", "tramline-macos-sonoma-md", ""]
  workers: 3
  queue-size: 0
  poll-interval: 2s
  script-timeout: 90s
webhook-rate-limit:
  rps: 5
  burst: 10
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.False(t, cfg.UseTLS())
	assert.Equal(t, "127.0.0.1:9090", cfg.Addr())
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, []string{"tramline-macos-sonoma-md", "tramline-macos-sonoma-xl"}, cfg.Runners.Labels)
	assert.Equal(t, 3, cfg.Runners.Workers)
	assert.Equal(t, 64, cfg.Runners.QueueSize)
	assert.Equal(t, 2*time.Second, cfg.Runners.PollInterval)
	assert.Equal(t, 90*time.Second, cfg.Runners.ScriptTimeout)
	assert.Equal(t, RateLimitConfig{RPS: 5, Burst: 10}, cfg.WebhookRateLimit)
}

func TestLoadConfigOptional(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.yaml")

	cfg, err := LoadConfigOptional(missing, true)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	_, err = LoadConfigOptional(missing, false)
	assert.ErrorContains(t, err, "failed to read config file")

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("port: [oops"), 0o644))
	_, err = LoadConfigOptional(bad, true)
	assert.ErrorContains(t, err, "failed to parse config file")
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	cfg.ApplyEnv(env(map[string]string{
		"ENV":                       "production",
		"APP_NAME":                  "bk",
		"SESSION_SECRET":            " s3cret ",
		"DB_DRIVER":                 "postgres",
		"DB_CONNECTION_STRING":      "postgres://db/bk",
		"GITHUB_APP_ID":             "1234",
		"GITHUB_CLIENT_ID":          "Iv1.abc",
		"GITHUB_CLIENT_SECRET":      "shh",
		"GITHUB_PRIVATE_KEY_BASE64": "a2V5",
		"GITHUB_WEBHOOK_SECRET":     "hook",
		"INTERNAL_API_TOKEN":        "token",
		"PORT":                      "not-a-port",
		"RUNNER_LABELS":             "a, b ,a",
	}))

	assert.Equal(t, EnvProduction, cfg.Env)
	assert.Equal(t, "bk", cfg.Session.Name)
	assert.Equal(t, "s3cret", cfg.Session.Secret)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "postgres://db/bk", cfg.Database.DSN)
	assert.Equal(t, int64(1234), cfg.GitHub.AppID)
	assert.Equal(t, "hook", cfg.GitHub.WebhookSecret)
	assert.Equal(t, DefaultPort, cfg.Port, "unparsable PORT keeps the previous value")
	assert.Equal(t, []string{"a", "b"}, cfg.Runners.Labels)
	assert.NoError(t, cfg.Validate())
}

func TestApplyEnv_BlankValuesIgnored(t *testing.T) {
	cfg := Default()
	cfg.Session.Secret = "from-file"
	cfg.ApplyEnv(env(map[string]string{"SESSION_SECRET": "   ", "RUNNER_LABELS": ""}))

	assert.Equal(t, "from-file", cfg.Session.Secret)
	assert.Equal(t, []string{DefaultRunnerLabel}, cfg.Runners.Labels)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Session.Secret = "secret"
	require.NoError(t, cfg.Validate())

	cfg.Env = EnvProduction
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GITHUB_APP_ID")
	assert.Contains(t, err.Error(), "oauth client credentials")
	assert.Contains(t, err.Error(), "GITHUB_PRIVATE_KEY_BASE64")
	assert.Contains(t, err.Error(), "INTERNAL_API_TOKEN")

	cfg = Default()
	cfg.Env = "staging"
	cfg.Port = 70000
	cfg.Runners.Labels = nil
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `got "staging"`)
	assert.Contains(t, err.Error(), "port 70000 is out of range")
	assert.Contains(t, err.Error(), "SESSION_SECRET")
	assert.Contains(t, err.Error(), "runner label")
}

func TestInternalTokenMatches(t *testing.T) {
	cfg := Default()
	assert.False(t, cfg.InternalTokenMatches("anything"), "empty configured token never matches")

	cfg.InternalAPIToken = "plain-token"
	assert.True(t, cfg.InternalTokenMatches("plain-token"))
	assert.False(t, cfg.InternalTokenMatches("plain-token2"))
	assert.False(t, cfg.InternalTokenMatches(""))

	hash, err := HashSecret("hashed-token")
	require.NoError(t, err)
	require.True(t, looksLikeBcrypt(hash))
	cfg.InternalAPIToken = hash
	assert.True(t, cfg.InternalTokenMatches("hashed-token"))
	assert.False(t, cfg.InternalTokenMatches(hash))
}
