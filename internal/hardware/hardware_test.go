// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package hardware

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClass(t *testing.T) {
	tests := []struct {
		in   string
		want Class
	}{
		{"npu", ClassNPU},
		{"XDNA", ClassNPU},
		{"igpu", ClassIntegratedGPU},
		{"OpenVINO", ClassIntegratedGPU},
		{" integrated ", ClassIntegratedGPU},
		{"cuda", ClassDiscreteGPU},
		{"rocm", ClassDiscreteGPU},
		{"dgpu", ClassDiscreteGPU},
		{"CPU", ClassCPU},
	}
	for _, tc := range tests {
		got, err := ParseClass(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}

	_, err := ParseClass("tpu")
	assert.Error(t, err)
}

func TestClassRankFollowsPriority(t *testing.T) {
	assert.Less(t, ClassNPU.Rank(), ClassIntegratedGPU.Rank())
	assert.Less(t, ClassIntegratedGPU.Rank(), ClassDiscreteGPU.Rank())
	assert.Less(t, ClassDiscreteGPU.Rank(), ClassCPU.Rank())
	assert.Equal(t, 4, Class("tpu").Rank())
}

func TestClassMatches(t *testing.T) {
	assert.True(t, ClassDiscreteGPU.Matches("cuda"))
	assert.True(t, ClassIntegratedGPU.Matches("GPU"))
	assert.True(t, ClassDiscreteGPU.Matches("GPU"))
	assert.False(t, ClassNPU.Matches("gpu"))
	assert.True(t, ClassCPU.Matches("CPUExecutionProvider"))
	assert.False(t, ClassCPU.Matches("cuda"))
	assert.False(t, ClassCPU.Matches(""))
}

func TestParseServiceAndVariant(t *testing.T) {
	svc, err := ParseService("STT")
	require.NoError(t, err)
	assert.Equal(t, ServiceSTT, svc)
	assert.Equal(t, "TTS", ServiceTTS.EnvPrefix())

	_, err = ParseService("asr")
	assert.Error(t, err)

	v, err := ParseVariant("Lite")
	require.NoError(t, err)
	assert.Equal(t, VariantLite, v)

	_, err = ParseVariant("tiny")
	assert.Error(t, err)
}

func TestNewDeviceSet_AlwaysHasUsableCPU(t *testing.T) {
	set := NewDeviceSet()
	require.Equal(t, 1, set.Len())
	assert.True(t, set.Usable(ClassCPU))

	set = NewDeviceSet(Device{Class: ClassCPU, Name: "Ryzen", Present: false})
	cpu := set.CPU()
	assert.Equal(t, "Ryzen", cpu.Name)
	assert.True(t, cpu.Usable())
}

func TestNewDeviceSet_KeepsBestPerClass(t *testing.T) {
	weak := Device{Class: ClassDiscreteGPU, Vendor: "AMD", Present: true, MemoryMB: 24576}
	strong := Device{Class: ClassDiscreteGPU, Vendor: "NVIDIA", Present: true, Capable: true, MemoryMB: 8192}

	set := NewDeviceSet(weak, strong)
	got, ok := set.Get(ClassDiscreteGPU)
	require.True(t, ok)
	assert.Equal(t, "NVIDIA", got.Vendor)

	assert.Equal(t, set, NewDeviceSet(strong, weak), "set must not depend on input order")
}

func TestNewDeviceSet_AbsentIsNeverCapable(t *testing.T) {
	set := NewDeviceSet(Device{Class: ClassNPU, Present: false, Capable: true})
	npu, ok := set.Get(ClassNPU)
	require.True(t, ok)
	assert.False(t, npu.Capable)
	assert.False(t, set.Usable(ClassNPU))
}

func TestNewDeviceSet_OrderedByPriority(t *testing.T) {
	set := NewDeviceSet(
		DefaultCPU(),
		Device{Class: ClassDiscreteGPU, Present: true},
		Device{Class: ClassNPU, Present: true},
		Device{Class: "tpu", Present: true},
	)
	var classes []Class
	for _, d := range set.Devices() {
		classes = append(classes, d.Class)
	}
	assert.Equal(t, []Class{ClassNPU, ClassDiscreteGPU, ClassCPU}, classes)
}

func TestDeviceString(t *testing.T) {
	d := Device{Class: ClassIntegratedGPU, Name: "Intel Iris Xe", DevicePath: "/dev/dri/renderD128"}
	assert.Equal(t, "Intel Iris Xe at /dev/dri/renderD128", d.String())
	assert.Equal(t, "CPU", DefaultCPU().String())
}
