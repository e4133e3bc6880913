// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package install

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/unicorn-commander/speechrig/internal/hardware"
	"github.com/unicorn-commander/speechrig/internal/selector"
)

// =============================================================================
// PHASES
// =============================================================================

// Phase is a step of an installation run.
type Phase int

const (
	PhaseInit Phase = iota
	PhasePrereqCheck
	PhaseDetect
	PhaseSelect
	PhaseConfigure
	PhaseStart
	PhaseVerify
	PhaseDone
	PhaseFailed
)

var phaseNames = [...]string{
	PhaseInit:        "init",
	PhasePrereqCheck: "prereq-check",
	PhaseDetect:      "detect",
	PhaseSelect:      "select",
	PhaseConfigure:   "configure",
	PhaseStart:       "start",
	PhaseVerify:      "verify",
	PhaseDone:        "done",
	PhaseFailed:      "failed",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("phase(%d)", int(p))
	}
	return phaseNames[p]
}

// MarshalText renders the phase name in JSON reports.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Terminal reports whether no transition leaves p.
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseFailed
}

// transitions lists the legal successors of each phase. Failed is reachable
// from every non-terminal phase. Init may skip PrereqCheck and Configure may
// end the run for reconfiguration without starting services. A failed start
// is retried like a failed verification.
var transitions = map[Phase][]Phase{
	PhaseInit:        {PhasePrereqCheck, PhaseDetect},
	PhasePrereqCheck: {PhaseDetect},
	PhaseDetect:      {PhaseSelect},
	PhaseSelect:      {PhaseConfigure},
	PhaseConfigure:   {PhaseStart, PhaseDone},
	PhaseStart:       {PhaseVerify, PhaseSelect},
	PhaseVerify:      {PhaseDone, PhaseSelect},
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to Phase) bool {
	if from.Terminal() {
		return false
	}
	if to == PhaseFailed {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// =============================================================================
// STATE
// =============================================================================

// Attempt is one backend that was started for a service.
type Attempt struct {
	Choice selector.Choice `json:"choice"`
	// Phase is where the attempt ended: Start or Verify on failure, Done
	// when the service came up healthy.
	Phase    Phase         `json:"phase"`
	Healthy  bool          `json:"healthy"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// ServiceState is the lifecycle of one service.
type ServiceState struct {
	Service hardware.Service `json:"service"`
	Phase   Phase            `json:"phase"`
	// Current is the choice being configured, started or verified.
	Current selector.Choice `json:"current"`
	// Attempted holds every choice tried, in order. When the service is
	// Done the last entry is the healthy one.
	Attempted []Attempt `json:"attempted,omitempty"`
}

// failures returns the attempts that did not come up healthy.
func (s *ServiceState) failures() []Attempt {
	var out []Attempt
	for _, a := range s.Attempted {
		if !a.Healthy {
			out = append(out, a)
		}
	}
	return out
}

func (s *ServiceState) transition(to Phase) error {
	if !CanTransition(s.Phase, to) {
		return &TransitionError{Service: s.Service, From: s.Phase, To: to}
	}
	s.Phase = to
	return nil
}

// State is the in-memory record of one run.
type State struct {
	RunID     string                               `json:"run_id"`
	Phase     Phase                                `json:"phase"`
	Devices   hardware.DeviceSet                   `json:"-"`
	Services  map[hardware.Service]*ServiceState   `json:"services"`
	Initial   map[hardware.Service]selector.Choice `json:"initial,omitempty"`
	Final     map[hardware.Service]selector.Choice `json:"final,omitempty"`
	Warnings  []string                             `json:"warnings,omitempty"`
	LastError error                                `json:"-"`
}

func newState() *State {
	return &State{
		RunID:    uuid.NewString(),
		Phase:    PhaseInit,
		Services: make(map[hardware.Service]*ServiceState),
		Initial:  make(map[hardware.Service]selector.Choice),
		Final:    make(map[hardware.Service]selector.Choice),
	}
}

func (s *State) transition(to Phase) error {
	if !CanTransition(s.Phase, to) {
		return &TransitionError{From: s.Phase, To: to}
	}
	s.Phase = to
	return nil
}

// Attempted returns every attempt for svc in order.
func (s *State) Attempted(svc hardware.Service) []Attempt {
	if ss, ok := s.Services[svc]; ok {
		return ss.Attempted
	}
	return nil
}

// Failures returns the failed attempts for svc.
func (s *State) Failures(svc hardware.Service) []Attempt {
	if ss, ok := s.Services[svc]; ok {
		return ss.failures()
	}
	return nil
}

// Changed reports whether svc ended on a backend other than the first
// recommendation.
func (s *State) Changed(svc hardware.Service) bool {
	final, ok := s.Final[svc]
	if !ok {
		return false
	}
	return !final.Same(s.Initial[svc])
}
