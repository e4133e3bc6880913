// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cli.go - Command table, usage text and the Run entry point.

package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	"github.com/unicorn-commander/speechrig/internal/capability"
	"github.com/unicorn-commander/speechrig/internal/config"
	"github.com/unicorn-commander/speechrig/internal/detect"
	"github.com/unicorn-commander/speechrig/internal/emitter"
	"github.com/unicorn-commander/speechrig/internal/install"
	"github.com/unicorn-commander/speechrig/internal/services"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command represents the CLI command to execute.
type Command int

const (
	CmdHelp Command = iota
	CmdDetect
	CmdInstall
	CmdReconfigure
	CmdStatus
	CmdVersion
)

var commandNames = map[string]Command{
	"":            CmdHelp,
	"help":        CmdHelp,
	"detect":      CmdDetect,
	"install":     CmdInstall,
	"reconfigure": CmdReconfigure,
	"status":      CmdStatus,
	"s":           CmdStatus,
	"version":     CmdVersion,
}

// LookupCommand resolves a command name or alias.
func LookupCommand(name string) (Command, bool) {
	c, ok := commandNames[name]
	return c, ok
}

// String returns the canonical command name.
func (c Command) String() string {
	switch c {
	case CmdDetect:
		return "detect"
	case CmdInstall:
		return "install"
	case CmdReconfigure:
		return "reconfigure"
	case CmdStatus:
		return "status"
	case CmdVersion:
		return "version"
	default:
		return "help"
	}
}

const usageText = `speechrig - hardware-aware setup for the whisperx and kokoro speech services

Usage:
  speechrig detect                 Detect accelerators and show the recommended backends
  speechrig install [flags]        Detect, configure, start and verify both services
  speechrig reconfigure [flags]    Detect and rewrite the configuration only
  speechrig status, s              Check the configured services once
  speechrig version                Show version information
  speechrig help                   Show this help

Selection flags:
  --stt-backend C                  Pin speech-to-text to npu, igpu, dgpu, cpu (or auto)
  --stt-variant V                  Speech-to-text variant: full or lite
  --tts-backend C                  Pin text-to-speech to npu, igpu, dgpu, cpu (or auto)
  --tts-variant V                  Text-to-speech variant: full or lite
  --prefer-igpu                    Rank the integrated GPU above the NPU
  --no-prefer-npu                  Rank the NPU just above the CPU
  --no-cpu-fallback                Stop instead of falling back to the CPU

Settings flags:
  --config-dir DIR                 Configuration directory (default: ~/.speechrig)
  --compose-file FILE              Base compose file (default: docker-compose.yml)
  --probe-timeout D                Per-probe detection timeout (default: 5s)
  --verify-timeout D               Per-attempt health timeout (default: 3m)

Output flags:
  --json                           Emit one JSON document on stdout
  --verbose, -v                    Debug logging
  --quiet, -q                      Errors only

Environment:
  SPEECHRIG_CONFIG_DIR, SPEECHRIG_COMPOSE_FILE, SPEECHRIG_PROBE_TIMEOUT,
  SPEECHRIG_VERIFY_TIMEOUT, SPEECHRIG_START_TIMEOUT, SPEECHRIG_LOG_LEVEL,
  SPEECHRIG_DOCKER

Exit codes:
  0 success, 1 error, 2 usage, 3 configuration, 4 missing container toolchain,
  5 no backend came up healthy, 6 interrupted

Examples:
  speechrig detect --json
  speechrig install --stt-backend igpu --tts-variant lite
  speechrig install --no-cpu-fallback --verify-timeout 5m
`

// =============================================================================
// APPLICATION
// =============================================================================

// HealthChecker probes a health endpoint once.
type HealthChecker interface {
	Check(ctx context.Context, url string) (services.HealthStatus, error)
}

// Backends are the external collaborators a command works with.
type Backends struct {
	Deps   install.Deps
	Health HealthChecker
}

// BackendFactory builds the collaborators for the resolved settings.
type BackendFactory func(s config.Settings, configDir string, logger *slog.Logger) (Backends, error)

// App runs speechrig commands.
type App struct {
	Stdout io.Writer
	Stderr io.Writer
	Matrix capability.Matrix
	// NewBackends builds collaborators; nil means DefaultBackends.
	NewBackends BackendFactory
}

// NewApp returns an App writing to the process streams.
func NewApp() *App {
	return &App{
		Stdout:      os.Stdout,
		Stderr:      os.Stderr,
		Matrix:      capability.Default(),
		NewBackends: DefaultBackends,
	}
}

// Run parses argv (without the program name), executes the command and
// returns the process exit code.
func Run(ctx context.Context, argv []string) int {
	return NewApp().Run(ctx, argv)
}

// Run executes argv and returns the exit code.
func (a *App) Run(ctx context.Context, argv []string) int {
	args, err := Parse(argv)
	if err != nil {
		DisplayError(a.Stderr, "", err, false)
		return GetExitCode(err)
	}

	var data interface{}
	switch args.Command {
	case CmdHelp:
		fmt.Fprint(a.Stdout, usageText)
		return ExitSuccess
	case CmdVersion:
		data, err = a.version(args)
	default:
		data, err = a.runCommand(ctx, args)
	}

	if err != nil {
		if args.JSON {
			resp := NewJSONErrorResponse(args.Command.String(), err)
			details := errorDetails(err)
			if data != nil {
				details["result"] = data
			}
			resp.Data = details
			_ = resp.Print(a.Stdout)
		} else {
			DisplayError(a.Stderr, args.Command.String(), err, false)
		}
		return GetExitCode(err)
	}
	if args.JSON {
		if err := NewJSONResponse(args.Command.String(), data).Print(a.Stdout); err != nil {
			return ExitGeneralError
		}
	}
	return ExitSuccess
}

// session is everything a command needs after settings are resolved.
type session struct {
	args      Args
	settings  config.Settings
	configDir string
	logger    *slog.Logger
	backends  Backends
}

func (a *App) runCommand(ctx context.Context, args Args) (interface{}, error) {
	s, err := a.newSession(args)
	if err != nil {
		return nil, err
	}
	switch args.Command {
	case CmdDetect:
		return a.detect(ctx, s)
	case CmdInstall, CmdReconfigure:
		return a.install(ctx, s)
	case CmdStatus:
		return a.status(ctx, s)
	}
	return nil, NewValidationError("command", args.Command.String(), "not runnable")
}

func (a *App) newSession(args Args) (*session, error) {
	settings, err := config.LoadSettings()
	if err != nil {
		return nil, &ConfigError{Err: err}
	}
	if args.ConfigDir != "" {
		settings.ConfigDir = args.ConfigDir
	}
	if args.ComposeFile != "" {
		settings.ComposeFile = args.ComposeFile
	}
	if args.ProbeTimeout > 0 {
		settings.ProbeTimeout = args.ProbeTimeout
	}
	if args.VerifyTimeout > 0 {
		settings.VerifyTimeout = args.VerifyTimeout
	}
	if err := settings.Validate(); err != nil {
		return nil, &ConfigError{Err: err}
	}
	dir, err := settings.ResolveConfigDir()
	if err != nil {
		return nil, &ConfigError{Err: err}
	}

	logger := NewLogger(a.Stderr, LogLevel(args, settings), !IsTerminal(a.Stderr))

	factory := a.NewBackends
	if factory == nil {
		factory = DefaultBackends
	}
	backends, err := factory(settings, dir, logger)
	if err != nil {
		return nil, NewCommandError(args.Command.String(), "setup", "could not initialize", err)
	}
	return &session{args: args, settings: settings, configDir: dir, logger: logger, backends: backends}, nil
}

// DefaultBackends wires the real prober, emitter, docker toolchain, compose
// launcher and health client.
func DefaultBackends(s config.Settings, configDir string, logger *slog.Logger) (Backends, error) {
	runner := services.ExecRunner{}
	launcher, err := services.NewCompose(runner, services.ComposeOptions{
		Command:      s.ComposeCommand,
		ComposeFile:  s.ComposeFile,
		OverrideFile: filepath.Join(configDir, emitter.ComposeOverrideFileName),
		EnvFile:      filepath.Join(configDir, emitter.EnvFileName),
	}, logger)
	if err != nil {
		return Backends{}, err
	}
	health := services.NewHealthClient(nil, logger)
	return Backends{
		Deps: install.Deps{
			Prereq:     services.NewToolchain(runner, s.ComposeCommand, logger),
			Detector:   detect.New(detect.WithTimeout(s.ProbeTimeout), detect.WithLogger(logger)),
			Configurer: emitter.New(capability.Default(), logger),
			Launcher:   launcher,
			Verifier:   health,
		},
		Health: health,
	}, nil
}

// VersionInfo is the version command payload.
type VersionInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

func (a *App) version(args Args) (interface{}, error) {
	info := VersionInfo{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	if !args.JSON {
		fmt.Fprintf(a.Stdout, "speechrig %s (commit %s, built %s, %s %s)\n",
			info.Version, info.GitCommit, info.BuildDate, info.GoVersion, info.Platform)
	}
	return info, nil
}
