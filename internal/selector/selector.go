// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package selector picks an accelerator class and variant for each speech
// service from the detected devices, the capability matrix and the operator's
// preferences.
//
// Select is pure: the same device set, matrix and preferences always give the
// same choices.
package selector

import (
	"fmt"
	"slices"

	"github.com/unicorn-commander/speechrig/internal/capability"
	"github.com/unicorn-commander/speechrig/internal/hardware"
)

// Override pins a service to a class. An empty Variant keeps the requested one.
type Override struct {
	Class   hardware.Class   `json:"class"`
	Variant hardware.Variant `json:"variant,omitempty"`
}

// Preferences steer selection.
type Preferences struct {
	// Variants is the requested variant per service. Missing means full.
	Variants map[hardware.Service]hardware.Variant
	// PreferNPU only affects ordering. When false the NPU ranks just above CPU.
	PreferNPU bool
	// PreferIntegratedOverNPU swaps the NPU and integrated GPU.
	PreferIntegratedOverNPU bool
	// Overrides replace ranking for a service with a single class.
	Overrides map[hardware.Service]Override
}

// DefaultPreferences returns the preferences used when the operator gives none.
func DefaultPreferences() Preferences {
	return Preferences{PreferNPU: true}
}

// Variant returns the requested variant for svc.
func (p Preferences) Variant(svc hardware.Service) hardware.Variant {
	if v, ok := p.Variants[svc]; ok && v.Valid() {
		return v
	}
	return hardware.VariantFull
}

// Order returns the class priority order these preferences produce.
func (p Preferences) Order() []hardware.Class {
	order := []hardware.Class{
		hardware.ClassNPU,
		hardware.ClassIntegratedGPU,
		hardware.ClassDiscreteGPU,
	}
	if p.PreferIntegratedOverNPU {
		order[0], order[1] = order[1], order[0]
	}
	if !p.PreferNPU {
		i := slices.Index(order, hardware.ClassNPU)
		order = append(slices.Delete(order, i, i+1), hardware.ClassNPU)
	}
	return append(order, hardware.ClassCPU)
}

// Choice is the backend picked for one service.
type Choice struct {
	Service    hardware.Service `json:"service"`
	Class      hardware.Class   `json:"backend"`
	Variant    hardware.Variant `json:"variant"`
	Vendor     string           `json:"vendor,omitempty"`
	DevicePath string           `json:"device_path,omitempty"`
	// FallbackChain lists what to try next, in order. It ends in CPU unless
	// the choice is CPU itself.
	FallbackChain []Choice `json:"fallback_chain,omitempty"`
	// Notes records informational downgrades made while choosing.
	Notes []string `json:"notes,omitempty"`
}

// Next returns the head of the fallback chain with the rest of the chain
// attached, or false when the chain is exhausted.
func (c Choice) Next() (Choice, bool) {
	if len(c.FallbackChain) == 0 {
		return Choice{}, false
	}
	next := c.FallbackChain[0]
	next.FallbackChain = slices.Clone(c.FallbackChain[1:])
	return next, true
}

// Same reports whether c and o run the same class and variant.
func (c Choice) Same(o Choice) bool {
	return c.Class == o.Class && c.Variant == o.Variant
}

// String returns "stt: igpu/full".
func (c Choice) String() string {
	return fmt.Sprintf("%s: %s/%s", c.Service, c.Class, c.Variant)
}

// Select chooses a backend for every service in the matrix.
func Select(devices hardware.DeviceSet, m capability.Matrix, prefs Preferences) map[hardware.Service]Choice {
	out := make(map[hardware.Service]Choice)
	for _, svc := range m.Services() {
		out[svc] = selectService(svc, devices, m, prefs)
	}
	return out
}

func selectService(svc hardware.Service, devices hardware.DeviceSet, m capability.Matrix, prefs Preferences) Choice {
	variant := prefs.Variant(svc)
	var notes []string

	candidates := prefs.Order()
	if ov, ok := prefs.Overrides[svc]; ok && ov.Class.Valid() {
		if ov.Variant.Valid() {
			variant = ov.Variant
		}
		if reason := rejectReason(svc, ov.Class, variant, devices, m); reason != "" {
			notes = append(notes, fmt.Sprintf("override %s/%s rejected: %s; using cpu", ov.Class, variant, reason))
			candidates = []hardware.Class{hardware.ClassCPU}
		} else {
			candidates = []hardware.Class{ov.Class}
		}
	}

	var picked []Choice
	for _, class := range candidates {
		if class == hardware.ClassCPU {
			continue
		}
		dev, ok := devices.Get(class)
		if !ok || !dev.Usable() {
			continue
		}
		entry, ok := m.Lookup(svc, class)
		if !ok {
			continue
		}
		if !entry.Supports(variant) {
			notes = append(notes, fmt.Sprintf("%s skipped: %s %s variant not supported", class, svc, variant))
			continue
		}
		picked = append(picked, Choice{
			Service:    svc,
			Class:      class,
			Variant:    variant,
			Vendor:     dev.Vendor,
			DevicePath: dev.DevicePath,
		})
	}

	cpu, cpuNote := cpuChoice(svc, variant, devices, m)
	if len(picked) == 0 {
		if cpuNote != "" {
			notes = append(notes, cpuNote)
		}
		cpu.Notes = notes
		return cpu
	}

	chosen := picked[0]
	chosen.FallbackChain = append(slices.Clone(picked[1:]), cpu)
	chosen.Notes = notes
	return chosen
}

// rejectReason explains why an override cannot be honoured, or returns "".
func rejectReason(svc hardware.Service, class hardware.Class, variant hardware.Variant, devices hardware.DeviceSet, m capability.Matrix) string {
	if class == hardware.ClassCPU {
		return ""
	}
	dev, ok := devices.Get(class)
	switch {
	case !ok || !dev.Present:
		return "device not present"
	case !dev.Capable:
		if dev.Note != "" {
			return "device not capable (" + dev.Note + ")"
		}
		return "device not capable"
	}
	entry, ok := m.Lookup(svc, class)
	if !ok {
		return fmt.Sprintf("%s does not run on %s", svc, class)
	}
	if !entry.Supports(variant) {
		return fmt.Sprintf("%s variant not supported", variant)
	}
	return ""
}

// cpuChoice builds the terminal CPU choice. If the CPU entry lacks the
// requested variant it takes the one it has, full first.
func cpuChoice(svc hardware.Service, variant hardware.Variant, devices hardware.DeviceSet, m capability.Matrix) (Choice, string) {
	cpu := devices.CPU()
	c := Choice{Service: svc, Class: hardware.ClassCPU, Variant: variant, Vendor: cpu.Vendor}

	entry, ok := m.Lookup(svc, hardware.ClassCPU)
	if !ok || entry.Supports(variant) {
		return c, ""
	}
	for _, v := range hardware.Variants() {
		if entry.Supports(v) {
			c.Variant = v
			return c, fmt.Sprintf("cpu runs %s %s instead of %s", svc, v, variant)
		}
	}
	return c, ""
}
