// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build unix

package detect

import "golang.org/x/sys/unix"

// accessible checks read/write permission for the real user, the same check
// the container runtime makes when it maps the device node.
func accessible(path string) bool {
	return unix.Access(path, unix.R_OK|unix.W_OK) == nil
}
