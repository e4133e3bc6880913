// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package selector

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unicorn-commander/speechrig/internal/capability"
	"github.com/unicorn-commander/speechrig/internal/hardware"
)

var (
	npu  = hardware.Device{Class: hardware.ClassNPU, Vendor: "AMD", Present: true, Capable: true, DevicePath: "/dev/accel/accel0"}
	igpu = hardware.Device{Class: hardware.ClassIntegratedGPU, Vendor: "Intel", Present: true, Capable: true, DevicePath: "/dev/dri/renderD128"}
	dgpu = hardware.Device{Class: hardware.ClassDiscreteGPU, Vendor: "NVIDIA", Present: true, Capable: true, DevicePath: "/dev/dri/renderD129", MemoryMB: 24576}
	cpu  = hardware.Device{Class: hardware.ClassCPU, Vendor: "AMD", Name: "Ryzen 9", Present: true, Capable: true}
)

func classes(chain []Choice) []hardware.Class {
	out := make([]hardware.Class, 0, len(chain))
	for _, c := range chain {
		out = append(out, c.Class)
	}
	return out
}

func fullPrefs() Preferences {
	p := DefaultPreferences()
	p.Variants = map[hardware.Service]hardware.Variant{
		hardware.ServiceSTT: hardware.VariantFull,
		hardware.ServiceTTS: hardware.VariantFull,
	}
	return p
}

func TestSelect_Totality(t *testing.T) {
	all := []hardware.Device{npu, igpu, dgpu, cpu}
	m := capability.Default()

	// Every subset of accelerators, with both variants requested.
	for mask := 0; mask < 1<<len(all); mask++ {
		var devs []hardware.Device
		for i, d := range all {
			if mask&(1<<i) != 0 {
				devs = append(devs, d)
			}
		}
		for _, v := range hardware.Variants() {
			prefs := DefaultPreferences()
			prefs.Variants = map[hardware.Service]hardware.Variant{hardware.ServiceSTT: v, hardware.ServiceTTS: v}

			got := Select(hardware.NewDeviceSet(devs...), m, prefs)
			require.Len(t, got, 2)
			for _, svc := range hardware.Services() {
				c, ok := got[svc]
				require.True(t, ok)
				assert.True(t, m.Supports(svc, c.Class, c.Variant), "mask=%b %s", mask, c)
				if c.Class != hardware.ClassCPU {
					require.NotEmpty(t, c.FallbackChain)
					assert.Equal(t, hardware.ClassCPU, c.FallbackChain[len(c.FallbackChain)-1].Class)
				} else {
					assert.Empty(t, c.FallbackChain)
				}
			}
		}
	}
}

func TestSelect_DeterministicUnderReordering(t *testing.T) {
	devs := []hardware.Device{npu, igpu, dgpu, cpu}
	m := capability.Default()
	want := Select(hardware.NewDeviceSet(devs...), m, fullPrefs())

	r := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		r.Shuffle(len(devs), func(a, b int) { devs[a], devs[b] = devs[b], devs[a] })
		assert.Equal(t, want, Select(hardware.NewDeviceSet(devs...), m, fullPrefs()))
	}
}

func TestSelect_PriorityLaw(t *testing.T) {
	got := Select(hardware.NewDeviceSet(npu, igpu, cpu), capability.Default(), fullPrefs())
	// TTS runs full on the NPU.
	assert.Equal(t, hardware.ClassNPU, got[hardware.ServiceTTS].Class)
	assert.Equal(t, []hardware.Class{hardware.ClassIntegratedGPU, hardware.ClassCPU}, classes(got[hardware.ServiceTTS].FallbackChain))
	assert.Equal(t, "/dev/accel/accel0", got[hardware.ServiceTTS].DevicePath)

	prefs := fullPrefs()
	prefs.Variants[hardware.ServiceSTT] = hardware.VariantLite
	got = Select(hardware.NewDeviceSet(npu, igpu, cpu), capability.Default(), prefs)
	assert.Equal(t, hardware.ClassNPU, got[hardware.ServiceSTT].Class)
	assert.Equal(t, hardware.VariantLite, got[hardware.ServiceSTT].Variant)
}

func TestSelect_PreferIntegratedOverNPU(t *testing.T) {
	prefs := fullPrefs()
	prefs.PreferIntegratedOverNPU = true
	got := Select(hardware.NewDeviceSet(npu, igpu, cpu), capability.Default(), prefs)
	assert.Equal(t, hardware.ClassIntegratedGPU, got[hardware.ServiceTTS].Class)
	assert.Equal(t, []hardware.Class{hardware.ClassNPU, hardware.ClassCPU}, classes(got[hardware.ServiceTTS].FallbackChain))
}

func TestSelect_PreferNPUFalseRanksNPUAboveCPUOnly(t *testing.T) {
	prefs := fullPrefs()
	prefs.PreferNPU = false
	assert.Equal(t, []hardware.Class{hardware.ClassIntegratedGPU, hardware.ClassDiscreteGPU, hardware.ClassNPU, hardware.ClassCPU}, prefs.Order())

	got := Select(hardware.NewDeviceSet(npu, dgpu, cpu), capability.Default(), prefs)
	assert.Equal(t, hardware.ClassDiscreteGPU, got[hardware.ServiceTTS].Class)
	assert.Equal(t, []hardware.Class{hardware.ClassNPU, hardware.ClassCPU}, classes(got[hardware.ServiceTTS].FallbackChain))
}

func TestSelect_OverrideLaw(t *testing.T) {
	prefs := fullPrefs()
	prefs.Overrides = map[hardware.Service]Override{
		hardware.ServiceSTT: {Class: hardware.ClassDiscreteGPU},
	}
	got := Select(hardware.NewDeviceSet(npu, igpu, dgpu, cpu), capability.Default(), prefs)

	stt := got[hardware.ServiceSTT]
	assert.Equal(t, hardware.ClassDiscreteGPU, stt.Class)
	assert.Equal(t, hardware.VariantFull, stt.Variant)
	assert.Equal(t, []hardware.Class{hardware.ClassCPU}, classes(stt.FallbackChain))
	assert.Empty(t, stt.Notes)

	// TTS is unaffected.
	assert.Equal(t, hardware.ClassNPU, got[hardware.ServiceTTS].Class)
}

func TestSelect_OverrideVariant(t *testing.T) {
	prefs := fullPrefs()
	prefs.Overrides = map[hardware.Service]Override{
		hardware.ServiceSTT: {Class: hardware.ClassNPU, Variant: hardware.VariantLite},
	}
	got := Select(hardware.NewDeviceSet(npu, cpu), capability.Default(), prefs)
	stt := got[hardware.ServiceSTT]
	assert.Equal(t, hardware.ClassNPU, stt.Class)
	assert.Equal(t, hardware.VariantLite, stt.Variant)
	assert.Equal(t, hardware.VariantLite, stt.FallbackChain[0].Variant)
}

func TestSelect_OverrideRejected(t *testing.T) {
	prefs := fullPrefs()
	prefs.Overrides = map[hardware.Service]Override{
		hardware.ServiceSTT: {Class: hardware.ClassDiscreteGPU},
		hardware.ServiceTTS: {Class: hardware.ClassNPU},
	}
	incapable := npu
	incapable.Capable = false
	incapable.Note = "driver not loaded"

	got := Select(hardware.NewDeviceSet(incapable, igpu, cpu), capability.Default(), prefs)
	for _, svc := range hardware.Services() {
		c := got[svc]
		assert.Equal(t, hardware.ClassCPU, c.Class, svc)
		require.Len(t, c.Notes, 1, svc)
		assert.Contains(t, c.Notes[0], "rejected")
	}
	assert.Contains(t, got[hardware.ServiceSTT].Notes[0], "not present")
	assert.Contains(t, got[hardware.ServiceTTS].Notes[0], "driver not loaded")
}

func TestSelect_OverrideCPU(t *testing.T) {
	prefs := fullPrefs()
	prefs.Overrides = map[hardware.Service]Override{hardware.ServiceSTT: {Class: hardware.ClassCPU}}
	got := Select(hardware.NewDeviceSet(npu, igpu, dgpu, cpu), capability.Default(), prefs)
	assert.Equal(t, hardware.ClassCPU, got[hardware.ServiceSTT].Class)
	assert.Empty(t, got[hardware.ServiceSTT].FallbackChain)
	assert.Empty(t, got[hardware.ServiceSTT].Notes)
}

func TestSelect_DemotionLaw(t *testing.T) {
	// STT full is not supported on the NPU: it must descend to the next class.
	got := Select(hardware.NewDeviceSet(npu, dgpu, cpu), capability.Default(), fullPrefs())
	stt := got[hardware.ServiceSTT]
	assert.Equal(t, hardware.ClassDiscreteGPU, stt.Class)
	assert.Equal(t, hardware.VariantFull, stt.Variant)
	assert.Equal(t, []hardware.Class{hardware.ClassCPU}, classes(stt.FallbackChain))
	require.Len(t, stt.Notes, 1)
	assert.Contains(t, stt.Notes[0], "npu skipped")
}

func TestSelect_ScenarioNPULiteOnly(t *testing.T) {
	got := Select(hardware.NewDeviceSet(npu, cpu), capability.Default(), fullPrefs())
	stt := got[hardware.ServiceSTT]
	assert.Equal(t, hardware.ClassCPU, stt.Class)
	assert.Equal(t, hardware.VariantFull, stt.Variant)
	assert.Empty(t, stt.FallbackChain)
	assert.NotEmpty(t, stt.Notes)
}

func TestSelect_ScenarioIntegratedBeforeDiscrete(t *testing.T) {
	got := Select(hardware.NewDeviceSet(igpu, dgpu, cpu), capability.Default(), fullPrefs())
	for _, svc := range hardware.Services() {
		c := got[svc]
		assert.Equal(t, hardware.ClassIntegratedGPU, c.Class, svc)
		assert.Equal(t, []hardware.Class{hardware.ClassDiscreteGPU, hardware.ClassCPU}, classes(c.FallbackChain), svc)
	}
}

func TestSelect_IgnoresUnusableDevices(t *testing.T) {
	present := igpu
	present.Capable = false
	got := Select(hardware.NewDeviceSet(present, cpu), capability.Default(), fullPrefs())
	assert.Equal(t, hardware.ClassCPU, got[hardware.ServiceSTT].Class)
	assert.Empty(t, got[hardware.ServiceSTT].Notes)
}

func TestSelect_CPUVariantFallback(t *testing.T) {
	m := capability.MustNew(capability.Entry{
		Service: hardware.ServiceTTS, Class: hardware.ClassCPU, Variants: []hardware.Variant{hardware.VariantFull},
	})
	prefs := DefaultPreferences()
	prefs.Variants = map[hardware.Service]hardware.Variant{hardware.ServiceTTS: hardware.VariantLite}

	got := Select(hardware.NewDeviceSet(cpu), m, prefs)
	require.Len(t, got, 1)
	tts := got[hardware.ServiceTTS]
	assert.Equal(t, hardware.ClassCPU, tts.Class)
	assert.Equal(t, hardware.VariantFull, tts.Variant)
	require.Len(t, tts.Notes, 1)
	assert.Contains(t, tts.Notes[0], "instead of lite")
}

func TestChoiceNext(t *testing.T) {
	got := Select(hardware.NewDeviceSet(npu, igpu, dgpu, cpu), capability.Default(), fullPrefs())
	c := got[hardware.ServiceTTS]

	var seen []hardware.Class
	for {
		seen = append(seen, c.Class)
		next, ok := c.Next()
		if !ok {
			break
		}
		c = next
	}
	assert.Equal(t, []hardware.Class{hardware.ClassNPU, hardware.ClassIntegratedGPU, hardware.ClassDiscreteGPU, hardware.ClassCPU}, seen)
}
