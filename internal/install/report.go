// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package install

import (
	"github.com/unicorn-commander/speechrig/internal/hardware"
)

// ServiceReport is the outcome for one service.
type ServiceReport struct {
	Service     hardware.Service `json:"service"`
	Phase       Phase            `json:"phase"`
	Backend     hardware.Class   `json:"backend,omitempty"`
	Variant     hardware.Variant `json:"variant,omitempty"`
	DevicePath  string           `json:"device_path,omitempty"`
	Recommended string           `json:"recommended"`
	// Changed is set when the service ended on a backend other than the
	// first recommendation.
	Changed  bool      `json:"changed"`
	Attempts []Attempt `json:"attempts,omitempty"`
}

// Report summarizes a run for the operator.
type Report struct {
	RunID    string          `json:"run_id"`
	Phase    Phase           `json:"phase"`
	Services []ServiceReport `json:"services"`
	Warnings []string        `json:"warnings,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Report builds the final report, services in fixed order.
func (s *State) Report() Report {
	rep := Report{RunID: s.RunID, Phase: s.Phase, Warnings: s.Warnings}
	if s.LastError != nil {
		rep.Error = s.LastError.Error()
	}
	for _, svc := range hardware.Services() {
		ss, ok := s.Services[svc]
		if !ok {
			continue
		}
		sr := ServiceReport{
			Service:     svc,
			Phase:       ss.Phase,
			Recommended: string(s.Initial[svc].Class) + "/" + string(s.Initial[svc].Variant),
			Changed:     s.Changed(svc),
			Attempts:    ss.Attempted,
		}
		if final, ok := s.Final[svc]; ok {
			sr.Backend = final.Class
			sr.Variant = final.Variant
			sr.DevicePath = final.DevicePath
		}
		rep.Services = append(rep.Services, sr)
	}
	return rep
}
