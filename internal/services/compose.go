// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package services

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
)

// ComposeOptions locates the files a service is started with.
type ComposeOptions struct {
	// Command is the toolchain binary (default: docker).
	Command string
	// ComposeFile is the base compose file; its directory is the project
	// directory.
	ComposeFile string
	// OverrideFile is the generated hardware override.
	OverrideFile string
	// EnvFile is the generated environment file.
	EnvFile string
}

// Compose builds and starts services with docker compose.
type Compose struct {
	runner Runner
	opts   ComposeOptions
	logger *slog.Logger
}

// NewCompose returns a launcher. Relative paths are resolved against the
// working directory.
func NewCompose(r Runner, opts ComposeOptions, logger *slog.Logger) (*Compose, error) {
	if opts.Command == "" {
		opts.Command = "docker"
	}
	for _, p := range []*string{&opts.ComposeFile, &opts.OverrideFile, &opts.EnvFile} {
		if *p == "" {
			return nil, fmt.Errorf("compose: missing file option")
		}
		abs, err := filepath.Abs(*p)
		if err != nil {
			return nil, fmt.Errorf("compose: %w", err)
		}
		*p = abs
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Compose{runner: r, opts: opts, logger: logger}, nil
}

// Args returns the arguments used to start service.
func (c *Compose) Args(service string) []string {
	return []string{
		"compose",
		"-f", c.opts.ComposeFile,
		"-f", c.opts.OverrideFile,
		"--env-file", c.opts.EnvFile,
		"up", "-d", "--build", service,
	}
}

// Start builds and starts service in the background. It returns when the
// container is running, not when it is healthy.
func (c *Compose) Start(ctx context.Context, service string) error {
	c.logger.Debug("starting service", slog.String("service", service), slog.Any("args", c.Args(service)))
	if _, err := c.runner.Run(ctx, filepath.Dir(c.opts.ComposeFile), c.opts.Command, c.Args(service)...); err != nil {
		return fmt.Errorf("start %s: %w", service, err)
	}
	return nil
}
