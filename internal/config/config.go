// Copyright 2026 The buildkansen Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config provides configuration management for the buildkansen server.
// Settings come from a YAML file; secrets and deployment-specific values can be
// overridden through environment variables, which cmd/server seeds from a .env file.
package config

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	DefaultPort         = 8081
	DefaultRunnerLabel  = "tramline-macos-sonoma-md"
	defaultSessionName  = "buildkansen"
	defaultDatabaseFile = "buildkansen.db"
)

// Config represents the application's configuration.
type Config struct {
	// Env selects production or development behaviour. Development serves TLS with local certs
	// and reads templates from disk.
	Env string `yaml:"env"`

	// Host is the network interface to bind. Empty binds all interfaces.
	Host string `yaml:"host"`
	// Port is the HTTP listen port.
	Port int `yaml:"port"`

	// TLS config controls HTTPS server settings.
	TLS TLSConfig `yaml:"tls"`

	// Debug enables debug-level logging and gin debug mode.
	Debug bool `yaml:"debug"`

	// LoggingToFile controls whether application logs are written to rotating files or stdout.
	LoggingToFile bool `yaml:"logging-to-file"`

	// LogsMaxFileSizeMB limits the size of a single rotated log file.
	LogsMaxFileSizeMB int `yaml:"logs-max-file-size-mb"`

	Database DatabaseConfig `yaml:"database"`
	Session  SessionConfig  `yaml:"session"`
	GitHub   GitHubConfig   `yaml:"github"`
	Runners  RunnersConfig  `yaml:"runners"`

	// InternalAPIToken guards the internal VM API. It may be stored as a bcrypt hash.
	InternalAPIToken string `yaml:"internal-api-token"`

	// ThemeFile optionally points at a YAML file overriding the stylesheet build configuration.
	ThemeFile string `yaml:"theme-file"`

	// WebhookRateLimit throttles the GitHub webhook endpoint.
	WebhookRateLimit RateLimitConfig `yaml:"webhook-rate-limit"`
}

// TLSConfig holds HTTPS settings.
type TLSConfig struct {
	Enable bool   `yaml:"enable"`
	Cert   string `yaml:"cert"`
	Key    string `yaml:"key"`
}

// DatabaseConfig selects the SQL backend.
type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `yaml:"driver"`
	// DSN is the connection string or SQLite file path.
	DSN string `yaml:"dsn"`
}

// SessionConfig configures the cookie session store.
type SessionConfig struct {
	Name   string `yaml:"name"`
	Secret string `yaml:"secret"`
}

// GitHubConfig holds the GitHub App and OAuth application settings.
type GitHubConfig struct {
	AppURL             string `yaml:"app-url"`
	AppID              int64  `yaml:"app-id"`
	ClientID           string `yaml:"client-id"`
	ClientSecret       string `yaml:"client-secret"`
	AuthRedirectURL    string `yaml:"auth-redirect-url"`
	AppRedirectURL     string `yaml:"app-redirect-url"`
	NewInstallationURL string `yaml:"new-installation-url"`
	PrivateKeyBase64   string `yaml:"private-key-base64"`
	// WebhookSecret, when set, makes the webhook endpoint verify X-Hub-Signature-256.
	WebhookSecret string `yaml:"webhook-secret"`
}

// RunnersConfig controls how jobs are dispatched onto VMs.
type RunnersConfig struct {
	// Labels is the allowlist of runs-on labels this service serves.
	Labels []string `yaml:"labels"`
	// ScriptDir is the working directory of the host scripts.
	ScriptDir string `yaml:"script-dir"`
	// KickoffScript boots a guest and registers the GitHub runner.
	KickoffScript string `yaml:"kickoff-script"`
	// PurgeScript tears a guest down.
	PurgeScript string `yaml:"purge-script"`
	// ScriptTimeout bounds a single script execution.
	ScriptTimeout time.Duration `yaml:"script-timeout"`
	// Workers is the number of concurrent dispatch workers.
	Workers int `yaml:"workers"`
	// QueueSize is the capacity of the pending job queue.
	QueueSize int `yaml:"queue-size"`
	// PollInterval is how long a worker waits before retrying when no VM is free.
	PollInterval time.Duration `yaml:"poll-interval"`
}

// RateLimitConfig is a token bucket definition.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Env:  EnvDevelopment,
		Port: DefaultPort,
		TLS: TLSConfig{
			Cert: "./config/certs/localhost.pem",
			Key:  "./config/certs/localhost-key.pem",
		},
		Database: DatabaseConfig{Driver: "sqlite", DSN: defaultDatabaseFile},
		Session:  SessionConfig{Name: defaultSessionName},
		Runners: RunnersConfig{
			Labels:        []string{DefaultRunnerLabel},
			ScriptDir:     "../host",
			KickoffScript: "./runner.kickoff",
			PurgeScript:   "./guest.vm.down",
			ScriptTimeout: 10 * time.Minute,
			Workers:       1,
			QueueSize:     64,
			PollInterval:  5 * time.Second,
		},
		WebhookRateLimit: RateLimitConfig{RPS: 20, Burst: 40},
	}
}

// LoadConfig reads YAML from configFile on top of the defaults.
func LoadConfig(configFile string) (*Config, error) {
	return LoadConfigOptional(configFile, false)
}

// LoadConfigOptional reads YAML from configFile.
// If optional is true and the file is missing, the defaults are returned.
func LoadConfigOptional(configFile string, optional bool) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(configFile)
	if err != nil {
		if optional && (os.IsNotExist(err) || errors.Is(err, syscall.EISDIR)) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err = yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.sanitize()
	return cfg, nil
}

// ApplyEnv overlays environment variables onto the configuration.
// lookup is usually os.LookupEnv.
func (cfg *Config) ApplyEnv(lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}

	str("ENV", &cfg.Env)
	str("APP_NAME", &cfg.Session.Name)
	str("SESSION_SECRET", &cfg.Session.Secret)
	str("DB_DRIVER", &cfg.Database.Driver)
	str("DB_CONNECTION_STRING", &cfg.Database.DSN)
	str("GITHUB_APP_URL", &cfg.GitHub.AppURL)
	str("GITHUB_CLIENT_ID", &cfg.GitHub.ClientID)
	str("GITHUB_CLIENT_SECRET", &cfg.GitHub.ClientSecret)
	str("GITHUB_AUTH_REDIRECT_URL", &cfg.GitHub.AuthRedirectURL)
	str("GITHUB_APP_REDIRECT_URL", &cfg.GitHub.AppRedirectURL)
	str("GITHUB_NEW_INSTALLATION_URL", &cfg.GitHub.NewInstallationURL)
	str("GITHUB_PRIVATE_KEY_BASE64", &cfg.GitHub.PrivateKeyBase64)
	str("GITHUB_WEBHOOK_SECRET", &cfg.GitHub.WebhookSecret)
	str("INTERNAL_API_TOKEN", &cfg.InternalAPIToken)

	if v, ok := lookup("GITHUB_APP_ID"); ok {
		if id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			cfg.GitHub.AppID = id
		}
	}
	if v, ok := lookup("PORT"); ok {
		if port, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.Port = port
		}
	}
	if v, ok := lookup("RUNNER_LABELS"); ok && strings.TrimSpace(v) != "" {
		cfg.Runners.Labels = splitList(v)
	}

	cfg.sanitize()
}

// IsProduction reports whether the server runs in production mode.
func (cfg *Config) IsProduction() bool {
	return cfg.Env == EnvProduction
}

// UseTLS reports whether the server should terminate TLS itself.
// Development always uses the local certificates.
func (cfg *Config) UseTLS() bool {
	return cfg.TLS.Enable || !cfg.IsProduction()
}

// Addr is the listen address.
func (cfg *Config) Addr() string {
	return fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
}

// Validate reports settings that would keep the server from working.
func (cfg *Config) Validate() error {
	var errs []error
	if cfg.Env != EnvProduction && cfg.Env != EnvDevelopment {
		errs = append(errs, fmt.Errorf("env must be %q or %q, got %q", EnvDevelopment, EnvProduction, cfg.Env))
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d is out of range", cfg.Port))
	}
	if cfg.Session.Secret == "" {
		errs = append(errs, errors.New("session secret is required (SESSION_SECRET)"))
	}
	if cfg.Database.DSN == "" {
		errs = append(errs, errors.New("database dsn is required (DB_CONNECTION_STRING)"))
	}
	if len(cfg.Runners.Labels) == 0 {
		errs = append(errs, errors.New("at least one runner label is required"))
	}
	if cfg.IsProduction() {
		if cfg.GitHub.AppID == 0 {
			errs = append(errs, errors.New("github app id is required in production (GITHUB_APP_ID)"))
		}
		if cfg.GitHub.ClientID == "" || cfg.GitHub.ClientSecret == "" {
			errs = append(errs, errors.New("github oauth client credentials are required in production"))
		}
		if cfg.GitHub.PrivateKeyBase64 == "" {
			errs = append(errs, errors.New("github app private key is required in production (GITHUB_PRIVATE_KEY_BASE64)"))
		}
		if cfg.InternalAPIToken == "" {
			errs = append(errs, errors.New("internal api token is required in production (INTERNAL_API_TOKEN)"))
		}
	}
	return errors.Join(errs...)
}

// InternalTokenMatches compares a presented bearer token with the configured one.
// An empty configured token never matches.
func (cfg *Config) InternalTokenMatches(token string) bool {
	if cfg.InternalAPIToken == "" || token == "" {
		return false
	}
	if looksLikeBcrypt(cfg.InternalAPIToken) {
		return bcrypt.CompareHashAndPassword([]byte(cfg.InternalAPIToken), []byte(token)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(cfg.InternalAPIToken), []byte(token)) == 1
}

func (cfg *Config) sanitize() {
	cfg.Env = strings.ToLower(strings.TrimSpace(cfg.Env))
	if cfg.Env == "" {
		cfg.Env = EnvDevelopment
	}
	if cfg.Session.Name == "" {
		cfg.Session.Name = defaultSessionName
	}
	if cfg.Runners.Workers <= 0 {
		cfg.Runners.Workers = 1
	}
	if cfg.Runners.QueueSize <= 0 {
		cfg.Runners.QueueSize = 64
	}
	if cfg.Runners.PollInterval <= 0 {
		cfg.Runners.PollInterval = 5 * time.Second
	}
	if cfg.Runners.ScriptTimeout <= 0 {
		cfg.Runners.ScriptTimeout = 10 * time.Minute
	}
	if cfg.LogsMaxFileSizeMB < 0 {
		cfg.LogsMaxFileSizeMB = 0
	}
	cfg.Runners.Labels = normalizeLabels(cfg.Runners.Labels)
}

// looksLikeBcrypt returns true if the provided string appears to be a bcrypt hash.
func looksLikeBcrypt(s string) bool {
	return len(s) > 4 && (s[:4] == "$2a$" || s[:4] == "$2b$" || s[:4] == "$2y$")
}

// HashSecret hashes the given secret using bcrypt, for storing the internal API token.
func HashSecret(secret string) (string, error) {
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashedBytes), nil
}

func splitList(v string) []string {
	return normalizeLabels(strings.Split(v, ","))
}

// normalizeLabels trims labels and drops empties and duplicates, keeping order.
func normalizeLabels(labels []string) []string {
	out := make([]string, 0, len(labels))
	seen := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		if _, dup := seen[l]; dup {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	return out
}
