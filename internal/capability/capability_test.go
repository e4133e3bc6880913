// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package capability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unicorn-commander/speechrig/internal/hardware"
)

func TestDefaultMatrix_EveryServiceHasCPU(t *testing.T) {
	m := Default()
	for _, svc := range hardware.Services() {
		e, ok := m.Lookup(svc, hardware.ClassCPU)
		require.True(t, ok, "service %s", svc)
		assert.True(t, e.Supports(hardware.VariantFull), "service %s", svc)
	}
	assert.Equal(t, hardware.Services(), m.Services())
}

func TestDefaultMatrix_NPUOnlyRunsLiteSTT(t *testing.T) {
	m := Default()
	assert.True(t, m.Supports(hardware.ServiceSTT, hardware.ClassNPU, hardware.VariantLite))
	assert.False(t, m.Supports(hardware.ServiceSTT, hardware.ClassNPU, hardware.VariantFull))
	assert.True(t, m.Supports(hardware.ServiceTTS, hardware.ClassNPU, hardware.VariantFull))
}

func TestLookupReturnsCopy(t *testing.T) {
	m := Default()
	e, ok := m.Lookup(hardware.ServiceSTT, hardware.ClassCPU)
	require.True(t, ok)
	e.Variants[0] = "mutated"

	again, _ := m.Lookup(hardware.ServiceSTT, hardware.ClassCPU)
	assert.Equal(t, hardware.VariantFull, again.Variants[0])
}

func TestLookupMissing(t *testing.T) {
	m := MustNew(Entry{Service: hardware.ServiceTTS, Class: hardware.ClassCPU, Variants: []hardware.Variant{hardware.VariantFull}})
	_, ok := m.Lookup(hardware.ServiceTTS, hardware.ClassNPU)
	assert.False(t, ok)
	assert.False(t, m.Supports(hardware.ServiceSTT, hardware.ClassCPU, hardware.VariantFull))
}

func TestNewRejectsInvalidTables(t *testing.T) {
	cpu := Entry{Service: hardware.ServiceSTT, Class: hardware.ClassCPU, Variants: []hardware.Variant{hardware.VariantFull}}

	tests := []struct {
		name    string
		entries []Entry
	}{
		{"duplicate", []Entry{cpu, cpu}},
		{"no variants", []Entry{cpu, {Service: hardware.ServiceSTT, Class: hardware.ClassNPU}}},
		{"bad variant", []Entry{cpu, {Service: hardware.ServiceSTT, Class: hardware.ClassNPU, Variants: []hardware.Variant{"tiny"}}}},
		{"bad class", []Entry{cpu, {Service: hardware.ServiceSTT, Class: "tpu", Variants: []hardware.Variant{hardware.VariantFull}}}},
		{"bad service", []Entry{{Service: "asr", Class: hardware.ClassCPU, Variants: []hardware.Variant{hardware.VariantFull}}}},
		{"missing cpu", []Entry{{Service: hardware.ServiceTTS, Class: hardware.ClassNPU, Variants: []hardware.Variant{hardware.VariantFull}}}},
		{"bad precision", []Entry{{Service: hardware.ServiceSTT, Class: hardware.ClassCPU, Variants: []hardware.Variant{hardware.VariantFull}, DefaultPrecision: "fp8"}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.entries...)
			assert.Error(t, err)
		})
	}
}

func TestEntriesOrdered(t *testing.T) {
	entries := Default().Entries()
	require.Len(t, entries, 8)
	assert.Equal(t, hardware.ServiceSTT, entries[0].Service)
	assert.Equal(t, hardware.ClassNPU, entries[0].Class)
	assert.Equal(t, hardware.ServiceTTS, entries[7].Service)
	assert.Equal(t, hardware.ClassCPU, entries[7].Class)
}
