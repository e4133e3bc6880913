// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package hardware defines the shared vocabulary of speechrig: accelerator
// classes, speech services, service variants and detected devices.
package hardware

import (
	"fmt"
	"strings"
)

// =============================================================================
// ACCELERATOR CLASSES
// =============================================================================

// Class is an accelerator class a speech service can run on.
type Class string

const (
	// ClassNPU is a dedicated neural processing unit (AMD XDNA, Intel NPU).
	ClassNPU Class = "npu"
	// ClassIntegratedGPU is an on-die GPU sharing system memory.
	ClassIntegratedGPU Class = "igpu"
	// ClassDiscreteGPU is a separate graphics card with its own VRAM.
	ClassDiscreteGPU Class = "dgpu"
	// ClassCPU is the universal fallback.
	ClassCPU Class = "cpu"
)

// Classes returns every class in default priority order (highest first).
func Classes() []Class {
	return []Class{ClassNPU, ClassIntegratedGPU, ClassDiscreteGPU, ClassCPU}
}

// Valid reports whether c is one of the modeled classes.
func (c Class) Valid() bool {
	switch c {
	case ClassNPU, ClassIntegratedGPU, ClassDiscreteGPU, ClassCPU:
		return true
	}
	return false
}

// Rank returns the default priority rank of c (0 = highest). Unknown
// classes sort after CPU.
func (c Class) Rank() int {
	for i, k := range Classes() {
		if k == c {
			return i
		}
	}
	return len(Classes())
}

// DisplayName returns a human-readable class name.
func (c Class) DisplayName() string {
	switch c {
	case ClassNPU:
		return "NPU"
	case ClassIntegratedGPU:
		return "Integrated GPU"
	case ClassDiscreteGPU:
		return "Discrete GPU"
	case ClassCPU:
		return "CPU"
	default:
		return "Unknown"
	}
}

// classAliases maps backend identifiers reported by the speech services (and
// accepted on the command line) to a class.
var classAliases = map[string]Class{
	"npu":            ClassNPU,
	"xdna":           ClassNPU,
	"amdxdna":        ClassNPU,
	"vitisai":        ClassNPU,
	"intel_vpu":      ClassNPU,
	"igpu":           ClassIntegratedGPU,
	"integrated":     ClassIntegratedGPU,
	"integrated-gpu": ClassIntegratedGPU,
	"integratedgpu":  ClassIntegratedGPU,
	"openvino":       ClassIntegratedGPU,
	"gpu":            ClassIntegratedGPU,
	"dgpu":           ClassDiscreteGPU,
	"discrete":       ClassDiscreteGPU,
	"discrete-gpu":   ClassDiscreteGPU,
	"discretegpu":    ClassDiscreteGPU,
	"cuda":           ClassDiscreteGPU,
	"rocm":           ClassDiscreteGPU,
	"hip":            ClassDiscreteGPU,
	"cpu":            ClassCPU,

	// ONNX Runtime execution providers
	"vitisaiexecutionprovider":  ClassNPU,
	"openvinoexecutionprovider": ClassIntegratedGPU,
	"cudaexecutionprovider":     ClassDiscreteGPU,
	"rocmexecutionprovider":     ClassDiscreteGPU,
	"cpuexecutionprovider":      ClassCPU,
}

// genericGPU names reported by services that do not say which kind of GPU
// they run on.
var genericGPU = map[string]bool{"gpu": true}

// ParseClass parses a class name or one of its backend aliases.
func ParseClass(s string) (Class, error) {
	if c, ok := classAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return c, nil
	}
	return "", fmt.Errorf("unknown hardware class %q (want one of npu, igpu, dgpu, cpu)", s)
}

// Matches reports whether a backend identifier reported by a running
// service denotes class c.
// A generic "gpu" matches both GPU classes.
func (c Class) Matches(reported string) bool {
	if genericGPU[strings.ToLower(strings.TrimSpace(reported))] {
		return c == ClassIntegratedGPU || c == ClassDiscreteGPU
	}
	got, err := ParseClass(reported)
	return err == nil && got == c
}

// =============================================================================
// SERVICES AND VARIANTS
// =============================================================================

// Service is one of the speech services speechrig brings up.
type Service string

const (
	// ServiceSTT is speech-to-text (WhisperX).
	ServiceSTT Service = "stt"
	// ServiceTTS is text-to-speech (Kokoro).
	ServiceTTS Service = "tts"
)

// Services returns all services in a stable order.
func Services() []Service {
	return []Service{ServiceSTT, ServiceTTS}
}

// Valid reports whether s is a known service.
func (s Service) Valid() bool {
	return s == ServiceSTT || s == ServiceTTS
}

// EnvPrefix returns the environment variable prefix for s ("STT", "TTS").
func (s Service) EnvPrefix() string {
	return strings.ToUpper(string(s))
}

// ParseService parses a service name.
func ParseService(s string) (Service, error) {
	svc := Service(strings.ToLower(strings.TrimSpace(s)))
	if !svc.Valid() {
		return "", fmt.Errorf("unknown service %q (want stt or tts)", s)
	}
	return svc, nil
}

// Variant is a feature level of a service. Lite omits optional heavy
// post-processing such as speaker diarization.
type Variant string

const (
	VariantFull Variant = "full"
	VariantLite Variant = "lite"
)

// Variants returns all variants, richest first.
func Variants() []Variant {
	return []Variant{VariantFull, VariantLite}
}

// Valid reports whether v is a known variant.
func (v Variant) Valid() bool {
	return v == VariantFull || v == VariantLite
}

// ParseVariant parses a variant name.
func ParseVariant(s string) (Variant, error) {
	v := Variant(strings.ToLower(strings.TrimSpace(s)))
	if !v.Valid() {
		return "", fmt.Errorf("unknown variant %q (want full or lite)", s)
	}
	return v, nil
}
