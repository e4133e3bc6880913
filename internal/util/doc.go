// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides file helpers shared by speechrig's writers.
//
// # Key Functions
//
//   - AtomicWriteFile: crash-safe file writing with fsync
//   - AtomicWriteFileWithDir: the same, with explicit directory permissions
//   - WriteFileIfChanged: atomic write that skips identical content
//
// # Usage
//
//	// Write files atomically to prevent partial artifacts
//	changed, err := util.WriteFileIfChanged(path, data, 0644)
package util
