// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build !unix

package detect

// accessible always fails: device nodes are only mapped on unix hosts.
func accessible(string) bool {
	return false
}
