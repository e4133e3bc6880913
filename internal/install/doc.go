// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package install drives an installation run as a state machine:
//
//	Init -> PrereqCheck -> Detect -> Select -> Configure -> Start -> Verify -> Done
//
// A service that fails to start or verify goes back to Select with the next
// entry of its fallback chain and is configured, started and verified again
// on its own. Each service runs its lifecycle in its own goroutine; the
// Configure step is serialized so the artifact has a single writer. A run
// ends in Done or Failed and the State records every failed attempt.
//
// State lives in memory only. Collaborators are injected through small
// interfaces (Prereq, Detector, Configurer, Launcher, Verifier) so the
// machine can be exercised without a container runtime.
package install
