// Copyright 2026 The buildkansen Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package runner drives the host scripts that boot and tear down macOS guests.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// KickoffArgs are passed to the kickoff script.
type KickoffArgs struct {
	IPAddress     string
	RunnerLabel   string
	Token         string
	RepositoryURL string
	InstanceName  string
}

func (a KickoffArgs) argv() []string {
	return []string{
		"-i", a.IPAddress,
		"-l", a.RunnerLabel,
		"-t", a.Token,
		"-r", a.RepositoryURL,
		"-n", a.InstanceName,
	}
}

// Executor starts and removes runner guests.
type Executor interface {
	Kickoff(ctx context.Context, args KickoffArgs) error
	Purge(ctx context.Context, instanceName string) error
}

// ScriptExecutor runs the kickoff and purge scripts from a host directory.
type ScriptExecutor struct {
	Dir           string
	KickoffScript string
	PurgeScript   string
	Timeout       time.Duration
}

// Kickoff boots a guest from the base image and registers the GitHub runner on it.
func (e *ScriptExecutor) Kickoff(ctx context.Context, args KickoffArgs) error {
	if args.IPAddress == "" || args.Token == "" || args.InstanceName == "" {
		return errors.New("runner: kickoff needs an ip address, a token and an instance name")
	}
	return e.run(ctx, e.KickoffScript, args.argv())
}

// Purge stops and deletes the guest.
func (e *ScriptExecutor) Purge(ctx context.Context, instanceName string) error {
	if instanceName == "" {
		return errors.New("runner: purge needs an instance name")
	}
	return e.run(ctx, e.PurgeScript, []string{"-n", instanceName})
}

func (e *ScriptExecutor) run(ctx context.Context, script string, args []string) error {
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, script, args...)
	cmd.Dir = e.Dir
	cmd.WaitDelay = 5 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	started := time.Now()
	log.WithFields(log.Fields{"script": script, "dir": e.Dir}).Debugf("executing %s %s", script, strings.Join(redact(args), " "))

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("runner: %s did not finish: %w", script, ctx.Err())
		}
		if hint := lastLines(stderr.String(), 10); hint != "" {
			return fmt.Errorf("runner: %s failed: %w: %s", script, err, hint)
		}
		return fmt.Errorf("runner: %s failed: %w", script, err)
	}

	log.WithFields(log.Fields{
		"script":   script,
		"duration": time.Since(started).Round(time.Millisecond),
	}).Infof("%s finished", script)
	if out := strings.TrimSpace(stdout.String()); out != "" {
		log.Debug(out)
	}
	return nil
}

// redact hides the registration token in logged arguments.
func redact(args []string) []string {
	out := append([]string(nil), args...)
	for i := 0; i < len(out)-1; i++ {
		if out[i] == "-t" {
			out[i+1] = "[REDACTED]"
		}
	}
	return out
}

// lastLines returns up to n trailing non-empty lines of s joined by "; ".
func lastLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	var tail []string
	for i := len(lines) - 1; i >= 0 && len(tail) < n; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			tail = append([]string{l}, tail...)
		}
	}
	return strings.Join(tail, "; ")
}
