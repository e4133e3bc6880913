// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package hardware

import (
	"fmt"
	"sort"
)

// Device is one detected accelerator candidate.
type Device struct {
	Class  Class  `json:"class"`
	Vendor string `json:"vendor,omitempty"`
	Name   string `json:"name,omitempty"`
	Driver string `json:"driver,omitempty"`
	// Present means the device was physically detected.
	Present bool `json:"present"`
	// Capable means driver/runtime prerequisites are satisfied.
	Capable bool `json:"capable"`
	// DevicePath is the device node handed to the service at runtime.
	DevicePath string `json:"device_path,omitempty"`
	MemoryMB   int    `json:"memory_mb,omitempty"`
	// Note explains a not-present or not-capable result.
	Note string `json:"note,omitempty"`
	// DetectFailed means detection for this class errored, panicked or
	// timed out, so the device may exist but was not seen.
	DetectFailed bool `json:"detect_failed,omitempty"`
}

// Usable reports whether d can be selected.
func (d Device) Usable() bool {
	return d.Present && d.Capable
}

// String returns a one-line description of the device.
func (d Device) String() string {
	name := d.Name
	if name == "" {
		name = d.Class.DisplayName()
	}
	s := name
	if d.MemoryMB > 0 {
		s += fmt.Sprintf(" (%dMB)", d.MemoryMB)
	}
	if d.DevicePath != "" {
		s += " at " + d.DevicePath
	}
	return s
}

// Better reports whether a is a better candidate than b within one class.
// Capable beats merely present, then more memory wins; the remaining keys
// only make the order total.
func Better(a, b Device) bool {
	if a.Usable() != b.Usable() {
		return a.Usable()
	}
	if a.Present != b.Present {
		return a.Present
	}
	if a.MemoryMB != b.MemoryMB {
		return a.MemoryMB > b.MemoryMB
	}
	if a.DevicePath != b.DevicePath {
		return a.DevicePath < b.DevicePath
	}
	if a.Vendor != b.Vendor {
		return a.Vendor < b.Vendor
	}
	return a.Name < b.Name
}

// DefaultCPU is the CPU device used when nothing better is known.
func DefaultCPU() Device {
	return Device{Class: ClassCPU, Name: "CPU", Present: true, Capable: true}
}

// DeviceSet is an immutable set of devices keyed by class, holding at most
// one device per class and always exactly one usable CPU.
type DeviceSet struct {
	devices []Device
}

// NewDeviceSet canonicalizes devs into a set: the best device per class is
// kept, unknown classes are dropped and a usable CPU is guaranteed. The
// result does not depend on the order of devs.
func NewDeviceSet(devs ...Device) DeviceSet {
	best := make(map[Class]Device, len(devs)+1)
	for _, d := range devs {
		if !d.Class.Valid() {
			continue
		}
		if !d.Present {
			d.Capable = false
		}
		if cur, ok := best[d.Class]; !ok || Better(d, cur) {
			best[d.Class] = d
		}
	}

	cpu, ok := best[ClassCPU]
	if !ok {
		cpu = DefaultCPU()
	}
	cpu.Present, cpu.Capable = true, true
	best[ClassCPU] = cpu

	out := make([]Device, 0, len(best))
	for _, d := range best {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Class.Rank() < out[j].Class.Rank() })
	return DeviceSet{devices: out}
}

// Devices returns a copy of the devices ordered by class priority.
func (s DeviceSet) Devices() []Device {
	out := make([]Device, len(s.devices))
	copy(out, s.devices)
	return out
}

// Get returns the device of class c.
func (s DeviceSet) Get(c Class) (Device, bool) {
	for _, d := range s.devices {
		if d.Class == c {
			return d, true
		}
	}
	return Device{}, false
}

// CPU returns the CPU device, which always exists.
func (s DeviceSet) CPU() Device {
	if d, ok := s.Get(ClassCPU); ok {
		return d
	}
	return DefaultCPU()
}

// Usable reports whether the device of class c is present and capable.
func (s DeviceSet) Usable(c Class) bool {
	d, ok := s.Get(c)
	return ok && d.Usable()
}

// Len returns the number of devices in the set.
func (s DeviceSet) Len() int {
	return len(s.devices)
}
