// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides loading, validation and saving of the speechrig
// configuration artifact and the per-process settings.
//
// # Key Types
//
//   - Config: the persisted config.toml (hardware, preferences, network,
//     performance, services)
//   - Settings: process options from SPEECHRIG_* variables and flags
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Command line flags (applied by the cli package)
//   - Environment variables (SPEECHRIG_*)
//   - <config-dir>/config.toml
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load(dir)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	prefs := cfg.SelectionPreferences()
package config
