// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package capability holds the static table of which speech service variants
// run on which accelerator class.
//
// The table is compiled in. Lookups hand out copies so callers cannot mutate
// the shared matrix.
package capability

import (
	"fmt"
	"slices"
	"sort"

	"github.com/unicorn-commander/speechrig/internal/hardware"
)

// Precision is a numeric precision a backend computes in.
type Precision string

const (
	PrecisionInt8 Precision = "int8"
	PrecisionFP16 Precision = "fp16"
	PrecisionFP32 Precision = "fp32"
)

// Valid reports whether p is a known precision.
func (p Precision) Valid() bool {
	return p == PrecisionInt8 || p == PrecisionFP16 || p == PrecisionFP32
}

// Entry says that Service can run on Class with the listed variants.
type Entry struct {
	Service  hardware.Service   `json:"service"`
	Class    hardware.Class     `json:"backend"`
	Variants []hardware.Variant `json:"variants"`
	// RelativeThroughput is informational only, as a multiple of CPU
	// speed. It never drives selection.
	RelativeThroughput float64   `json:"relative_throughput"`
	MaxBatchSize       int       `json:"max_batch_size"`
	DefaultPrecision   Precision `json:"default_precision,omitempty"`
	Runtime            string    `json:"runtime"`
}

// Supports reports whether the entry lists variant v.
func (e Entry) Supports(v hardware.Variant) bool {
	return slices.Contains(e.Variants, v)
}

func (e Entry) clone() Entry {
	e.Variants = slices.Clone(e.Variants)
	return e
}

type key struct {
	service hardware.Service
	class   hardware.Class
}

// Matrix is an immutable (service, class) -> Entry table.
type Matrix struct {
	entries map[key]Entry
}

// New builds a matrix and checks it: no duplicate (service, class) pairs, every
// entry has at least one valid variant, and every service has a CPU entry.
func New(entries ...Entry) (Matrix, error) {
	m := Matrix{entries: make(map[key]Entry, len(entries))}
	services := make(map[hardware.Service]bool)

	for _, e := range entries {
		if !e.Service.Valid() {
			return Matrix{}, fmt.Errorf("capability entry: unknown service %q", e.Service)
		}
		if !e.Class.Valid() {
			return Matrix{}, fmt.Errorf("capability entry %s: unknown class %q", e.Service, e.Class)
		}
		if len(e.Variants) == 0 {
			return Matrix{}, fmt.Errorf("capability entry %s/%s: no variants", e.Service, e.Class)
		}
		for _, v := range e.Variants {
			if !v.Valid() {
				return Matrix{}, fmt.Errorf("capability entry %s/%s: unknown variant %q", e.Service, e.Class, v)
			}
		}
		if e.DefaultPrecision != "" && !e.DefaultPrecision.Valid() {
			return Matrix{}, fmt.Errorf("capability entry %s/%s: unknown precision %q", e.Service, e.Class, e.DefaultPrecision)
		}
		k := key{e.Service, e.Class}
		if _, dup := m.entries[k]; dup {
			return Matrix{}, fmt.Errorf("capability entry %s/%s: duplicate", e.Service, e.Class)
		}
		m.entries[k] = e.clone()
		services[e.Service] = true
	}

	for svc := range services {
		if _, ok := m.entries[key{svc, hardware.ClassCPU}]; !ok {
			return Matrix{}, fmt.Errorf("capability matrix: service %s has no cpu entry", svc)
		}
	}
	return m, nil
}

// MustNew is New that panics on an invalid table.
func MustNew(entries ...Entry) Matrix {
	m, err := New(entries...)
	if err != nil {
		panic(err)
	}
	return m
}

// Lookup returns a copy of the entry for (svc, class).
func (m Matrix) Lookup(svc hardware.Service, class hardware.Class) (Entry, bool) {
	e, ok := m.entries[key{svc, class}]
	if !ok {
		return Entry{}, false
	}
	return e.clone(), true
}

// Supports reports whether svc can run variant v on class.
func (m Matrix) Supports(svc hardware.Service, class hardware.Class, v hardware.Variant) bool {
	e, ok := m.entries[key{svc, class}]
	return ok && e.Supports(v)
}

// Entries returns copies of all entries ordered by service, then class rank.
func (m Matrix) Entries() []Entry {
	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Service != out[j].Service {
			return out[i].Service < out[j].Service
		}
		return out[i].Class.Rank() < out[j].Class.Rank()
	})
	return out
}

// Services returns the services that have entries, sorted.
func (m Matrix) Services() []hardware.Service {
	seen := make(map[hardware.Service]bool)
	var out []hardware.Service
	for k := range m.entries {
		if !seen[k.service] {
			seen[k.service] = true
			out = append(out, k.service)
		}
	}
	slices.Sort(out)
	return out
}

var defaultMatrix = MustNew(
	// WhisperX
	Entry{
		Service: hardware.ServiceSTT, Class: hardware.ClassNPU,
		Variants:           []hardware.Variant{hardware.VariantLite},
		RelativeThroughput: 3.0, MaxBatchSize: 8, DefaultPrecision: PrecisionInt8,
		Runtime: "Ryzen AI / XDNA",
	},
	Entry{
		Service: hardware.ServiceSTT, Class: hardware.ClassIntegratedGPU,
		Variants:           []hardware.Variant{hardware.VariantFull, hardware.VariantLite},
		RelativeThroughput: 2.5, MaxBatchSize: 16, DefaultPrecision: PrecisionFP16,
		Runtime: "OpenVINO",
	},
	Entry{
		Service: hardware.ServiceSTT, Class: hardware.ClassDiscreteGPU,
		Variants:           []hardware.Variant{hardware.VariantFull, hardware.VariantLite},
		RelativeThroughput: 8.0, MaxBatchSize: 32, DefaultPrecision: PrecisionFP16,
		Runtime: "CUDA/ROCm",
	},
	Entry{
		Service: hardware.ServiceSTT, Class: hardware.ClassCPU,
		Variants:           []hardware.Variant{hardware.VariantFull, hardware.VariantLite},
		RelativeThroughput: 1.0, MaxBatchSize: 8, DefaultPrecision: PrecisionInt8,
		Runtime: "CTranslate2",
	},

	// Kokoro
	Entry{
		Service: hardware.ServiceTTS, Class: hardware.ClassNPU,
		Variants:           []hardware.Variant{hardware.VariantFull},
		RelativeThroughput: 2.0, MaxBatchSize: 1, DefaultPrecision: PrecisionInt8,
		Runtime: "Ryzen AI / XDNA",
	},
	Entry{
		Service: hardware.ServiceTTS, Class: hardware.ClassIntegratedGPU,
		Variants:           []hardware.Variant{hardware.VariantFull},
		RelativeThroughput: 2.5, MaxBatchSize: 4, DefaultPrecision: PrecisionFP16,
		Runtime: "OpenVINO",
	},
	Entry{
		Service: hardware.ServiceTTS, Class: hardware.ClassDiscreteGPU,
		Variants:           []hardware.Variant{hardware.VariantFull},
		RelativeThroughput: 5.0, MaxBatchSize: 8, DefaultPrecision: PrecisionFP16,
		Runtime: "CUDA/ROCm",
	},
	Entry{
		Service: hardware.ServiceTTS, Class: hardware.ClassCPU,
		Variants:           []hardware.Variant{hardware.VariantFull, hardware.VariantLite},
		RelativeThroughput: 1.0, MaxBatchSize: 1, DefaultPrecision: PrecisionFP32,
		Runtime: "ONNX Runtime",
	},
)

// Default returns the compiled-in matrix for the STT and TTS services.
func Default() Matrix {
	return defaultMatrix
}
