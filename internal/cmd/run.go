// Copyright 2026 The buildkansen Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package cmd wires the buildkansen components together and runs them until shutdown.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/tramlinehq/buildkansen/internal/api"
	"github.com/tramlinehq/buildkansen/internal/auth"
	"github.com/tramlinehq/buildkansen/internal/config"
	"github.com/tramlinehq/buildkansen/internal/core"
	"github.com/tramlinehq/buildkansen/internal/github"
	"github.com/tramlinehq/buildkansen/internal/jobs"
	"github.com/tramlinehq/buildkansen/internal/logging"
	"github.com/tramlinehq/buildkansen/internal/runner"
	"github.com/tramlinehq/buildkansen/internal/store"
	"github.com/tramlinehq/buildkansen/internal/theme"
	"github.com/tramlinehq/buildkansen/internal/watcher"
)

const shutdownTimeout = 30 * time.Second

// StartService runs the server until SIGINT or SIGTERM.
func StartService(cfg *config.Config, configPath string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	err := Run(ctx, cfg, configPath)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("shutdown complete")
	return nil
}

// Run opens the store, starts the job workers, the config watcher and the HTTP
// server, and blocks until ctx is cancelled or the server fails.
func Run(ctx context.Context, cfg *config.Config, configPath string) error {
	s, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer func() {
		if errClose := s.Close(); errClose != nil {
			log.Warnf("failed to close store: %v", errClose)
		}
	}()
	if err = s.Migrate(ctx); err != nil {
		return err
	}

	factory, err := github.NewFactory(cfg.GitHub.AppID, cfg.GitHub.PrivateKeyBase64)
	if err != nil {
		return err
	}

	styles := theme.Default()
	if cfg.ThemeFile != "" {
		if styles, err = theme.Load(cfg.ThemeFile); err != nil {
			return err
		}
	}

	executor := &runner.ScriptExecutor{
		Dir:           cfg.Runners.ScriptDir,
		KickoffScript: cfg.Runners.KickoffScript,
		PurgeScript:   cfg.Runners.PurgeScript,
		Timeout:       cfg.Runners.ScriptTimeout,
	}
	manager := jobs.NewManager(jobs.Config{
		Workers:      cfg.Runners.Workers,
		QueueSize:    cfg.Runners.QueueSize,
		PollInterval: cfg.Runners.PollInterval,
	}, s, factory, executor)

	allowlist := core.NewAllowlist(cfg.Runners.Labels)
	server, err := api.NewServer(cfg, api.Dependencies{
		Accounts:   core.NewSetup(s, factory),
		Workflows:  core.NewWorkflow(s, manager, executor, allowlist),
		Auth:       auth.NewProvider(cfg.GitHub.ClientID, cfg.GitHub.ClientSecret, cfg.GitHub.AuthRedirectURL),
		Store:      s,
		Allowlist:  allowlist,
		Theme:      styles,
		QueueDepth: manager.Pending,
	})
	if err != nil {
		return err
	}

	// The watcher is best effort: a missing config directory should not keep the server down.
	if configPath != "" {
		w := watcher.NewConfigWatcher(configPath, func(next *config.Config) {
			allowlist.Set(next.Runners.Labels)
			logging.SetDebug(next.Debug)
			log.Infof("runner labels now %v", allowlist.Labels())
		})
		if errWatch := w.Start(); errWatch != nil {
			log.Warnf("config hot reload disabled: %v", errWatch)
		} else {
			defer w.Stop()
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	manager.Start(gctx)

	g.Go(func() error {
		if errServe := server.Start(); errServe != nil {
			return fmt.Errorf("http server: %w", errServe)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		errStop := server.Stop(shutdownCtx)
		manager.Stop()
		return errStop
	})

	return g.Wait()
}
