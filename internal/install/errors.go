// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package install

import (
	"fmt"
	"strings"

	"github.com/unicorn-commander/speechrig/internal/hardware"
)

// EnvironmentError is a missing prerequisite. It is never retried.
type EnvironmentError struct {
	Err error
}

func (e *EnvironmentError) Error() string {
	return "environment check failed: " + e.Err.Error()
}

func (e *EnvironmentError) Unwrap() error {
	return e.Err
}

// ExhaustedError reports a service whose fallback chain ran out.
type ExhaustedError struct {
	Service  hardware.Service
	Attempts []Attempt
	// StoppedBeforeCPU is set when CPU fallback was disabled.
	StoppedBeforeCPU bool
}

func (e *ExhaustedError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: no backend came up healthy", e.Service)
	if e.StoppedBeforeCPU {
		b.WriteString(" (cpu fallback disabled)")
	}
	for i, a := range e.Attempts {
		fmt.Fprintf(&b, "; attempt %d %s/%s failed in %s: %s", i+1, a.Choice.Class, a.Choice.Variant, a.Phase, a.Error)
	}
	return b.String()
}

// AbortedError reports a run interrupted by the operator.
type AbortedError struct {
	Phase Phase
	Err   error
}

func (e *AbortedError) Error() string {
	return fmt.Sprintf("aborted during %s: %v", e.Phase, e.Err)
}

func (e *AbortedError) Unwrap() error {
	return e.Err
}

// TransitionError is an illegal phase change.
type TransitionError struct {
	Service  hardware.Service
	From, To Phase
}

func (e *TransitionError) Error() string {
	if e.Service != "" {
		return fmt.Sprintf("%s: illegal transition %s -> %s", e.Service, e.From, e.To)
	}
	return fmt.Sprintf("illegal transition %s -> %s", e.From, e.To)
}
