// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// PrereqError is a missing or unusable container toolchain.
type PrereqError struct {
	Step string
	Hint string
	Err  error
}

func (e *PrereqError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Step, e.Err)
	if e.Hint != "" {
		msg += " (" + e.Hint + ")"
	}
	return msg
}

func (e *PrereqError) Unwrap() error {
	return e.Err
}

// Toolchain checks the container toolchain prerequisites.
type Toolchain struct {
	runner  Runner
	command string
	logger  *slog.Logger
}

// NewToolchain returns a checker invoking command (usually "docker").
func NewToolchain(r Runner, command string, logger *slog.Logger) *Toolchain {
	if command == "" {
		command = "docker"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Toolchain{runner: r, command: command, logger: logger}
}

// Check verifies that the CLI, the compose plugin and the daemon are all
// usable.
func (t *Toolchain) Check(ctx context.Context) error {
	steps := []struct {
		name string
		args []string
		hint string
	}{
		{t.command + " --version", []string{"--version"}, "install Docker Engine or set SPEECHRIG_DOCKER"},
		{t.command + " compose version", []string{"compose", "version"}, "install the Docker Compose v2 plugin"},
		{t.command + " info", []string{"info", "--format", "{{.ServerVersion}}"}, "start the Docker daemon and make sure the user is in the docker group"},
	}

	for _, step := range steps {
		out, err := t.runner.Run(ctx, "", t.command, step.args...)
		if err != nil {
			hint := step.hint
			var ce *CommandError
			if errors.As(err, &ce) && ce.NotFound() {
				hint = "install Docker Engine or set SPEECHRIG_DOCKER"
			}
			return &PrereqError{Step: step.name, Hint: hint, Err: err}
		}
		t.logger.Debug("prerequisite ok", slog.String("step", step.name), slog.String("output", firstLine(string(out))))
	}
	return nil
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}
