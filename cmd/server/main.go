// Copyright 2026 The buildkansen Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package main provides the entry point for the buildkansen server, which routes
// GitHub Actions jobs labelled for macOS onto a pool of self-hosted runner VMs.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/tramlinehq/buildkansen/internal/buildinfo"
	"github.com/tramlinehq/buildkansen/internal/cmd"
	"github.com/tramlinehq/buildkansen/internal/config"
	"github.com/tramlinehq/buildkansen/internal/logging"
	"github.com/tramlinehq/buildkansen/internal/theme"
)

var (
	Version           = "dev"
	Commit            = "none"
	BuildDate         = "unknown"
	DefaultConfigPath = "config.yaml"
)

func init() {
	logging.SetupBaseLogger()
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

func main() {
	var configPath string
	var tailwindConfig string
	var checkContent string
	var showVersion bool

	flag.StringVar(&configPath, "config", DefaultConfigPath, "Configure File Path")
	flag.StringVar(&tailwindConfig, "tailwind-config", "", "Write the stylesheet build configuration (tailwind.config.js) to this path and exit")
	flag.StringVar(&checkContent, "check-content", "", "List the files under this directory matched by the stylesheet content globs and exit")
	flag.BoolVar(&showVersion, "version", false, "Print the version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(buildinfo.String())
		return
	}

	wd, err := os.Getwd()
	if err != nil {
		log.Fatalf("failed to get working directory: %v", err)
	}
	if errLoad := godotenv.Load(filepath.Join(wd, ".env")); errLoad != nil && !errors.Is(errLoad, os.ErrNotExist) {
		log.WithError(errLoad).Warn("failed to load .env file")
	}

	cfg, err := config.LoadConfigOptional(configPath, true)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg.ApplyEnv(os.LookupEnv)

	if tailwindConfig != "" || checkContent != "" {
		if err = runTool(cfg, tailwindConfig, checkContent, os.Stdout); err != nil {
			log.Fatal(err)
		}
		return
	}

	if err = logging.ConfigureLogOutput(cfg.LoggingToFile, "logs", cfg.LogsMaxFileSizeMB); err != nil {
		log.Fatalf("failed to configure log output: %v", err)
	}
	defer logging.CloseLogOutputs()
	logging.SetDebug(cfg.Debug)
	if cfg.IsProduction() && !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	log.Info(buildinfo.String())

	if err = cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration:\n%v", err)
	}

	if err = cmd.StartService(cfg, configPath); err != nil {
		log.Errorf("server exited with error: %v", err)
		logging.CloseLogOutputs()
		os.Exit(1)
	}
}

// runTool handles the stylesheet helper flags.
func runTool(cfg *config.Config, tailwindConfig, contentRoot string, out io.Writer) error {
	styles := theme.Default()
	if cfg.ThemeFile != "" {
		var err error
		if styles, err = theme.Load(cfg.ThemeFile); err != nil {
			return err
		}
	}

	if tailwindConfig != "" {
		if err := styles.WriteJSFile(tailwindConfig); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(out, "wrote %s\n", tailwindConfig)
	}

	if contentRoot != "" {
		files, err := styles.ContentFiles(contentRoot)
		if err != nil {
			return err
		}
		if len(files) == 0 {
			return fmt.Errorf("no files under %s match %v", contentRoot, styles.Content)
		}
		for _, f := range files {
			_, _ = fmt.Fprintln(out, f)
		}
	}
	return nil
}
