// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// logging.go - Structured stderr logging for commands.

package cli

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"

	"github.com/unicorn-commander/speechrig/internal/config"
)

// NewLogger returns a tint-formatted logger on w. Color is off when noColor
// is set or NO_COLOR is present.
func NewLogger(w io.Writer, level slog.Level, noColor bool) *slog.Logger {
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
		NoColor:    noColor || os.Getenv("NO_COLOR") != "",
	}))
}

// LogLevel resolves the level: --verbose and --quiet win over
// SPEECHRIG_LOG_LEVEL.
func LogLevel(args Args, s config.Settings) slog.Level {
	switch {
	case args.Verbose:
		return slog.LevelDebug
	case args.Quiet:
		return slog.LevelError
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(s.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}
