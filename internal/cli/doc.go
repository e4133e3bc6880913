// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli provides command-line parsing and execution for speechrig.
//
// # Key Types
//
//   - Command: Enumeration of the available commands
//   - Args: Parsed command-line arguments
//   - App: Runs a command against injectable Backends
//   - JSONResponse: The --json output envelope
//
// # Usage
//
//	os.Exit(cli.Run(ctx, os.Args[1:]))
//
// # Commands Overview
//
//   - detect: Report devices and recommended backends, write nothing
//   - install: Detect, configure, start and verify with fallback
//   - reconfigure: Detect and rewrite the configuration only
//   - status: Probe the configured services once
//   - version, help
//
// All commands support --json. Exit codes are listed in errors.go.
package cli
