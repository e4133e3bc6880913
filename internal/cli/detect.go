// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// detect.go - detect command: report devices and the recommended backends.
//
// Command: detect
// Short:   Detect accelerators and recommend a backend per service
//
// Examples:
//   speechrig detect                       Human-readable report
//   speechrig detect --json                Devices and selections as JSON
//   speechrig detect --stt-variant lite    Recommend with the lite STT image
//   speechrig detect --verbose             Also print the capability matrix
//
// Nothing is written.

package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/unicorn-commander/speechrig/internal/capability"
	"github.com/unicorn-commander/speechrig/internal/config"
	"github.com/unicorn-commander/speechrig/internal/hardware"
	"github.com/unicorn-commander/speechrig/internal/install"
	"github.com/unicorn-commander/speechrig/internal/selector"
)

// DetectResult is the detect command payload.
type DetectResult struct {
	Devices    []hardware.Device `json:"devices"`
	Selections []Recommendation  `json:"selections"`
	// Matrix is the full capability table, included with --verbose.
	Matrix []capability.Entry `json:"matrix,omitempty"`
}

// Recommendation is a selected backend plus what the capability matrix says
// about running it.
type Recommendation struct {
	selector.Choice
	Runtime            string               `json:"runtime,omitempty"`
	RelativeThroughput float64              `json:"relative_throughput,omitempty"`
	Precision          capability.Precision `json:"precision,omitempty"`
}

func recommend(m capability.Matrix, c selector.Choice) Recommendation {
	r := Recommendation{Choice: c}
	if e, ok := m.Lookup(c.Service, c.Class); ok {
		r.Runtime = e.Runtime
		r.RelativeThroughput = e.RelativeThroughput
		r.Precision = e.DefaultPrecision
	}
	return r
}

func (a *App) detect(ctx context.Context, s *session) (interface{}, error) {
	cfg, err := loadConfig(s.configDir)
	if err != nil {
		return nil, err
	}
	applyPreferenceFlags(cfg, s.args)
	prefs := selectionPreferences(cfg, s.args)

	orch := install.New(s.backends.Deps, a.Matrix, s.logger)
	devices, choices := orch.Recommend(ctx, prefs)
	if err := ctx.Err(); err != nil {
		return nil, &install.AbortedError{Phase: install.PhaseDetect, Err: err}
	}

	res := DetectResult{Devices: devices.Devices()}
	for _, svc := range hardware.Services() {
		if c, ok := choices[svc]; ok {
			res.Selections = append(res.Selections, recommend(a.Matrix, c))
		}
	}
	if s.args.Verbose {
		res.Matrix = a.Matrix.Entries()
	}
	if !s.args.JSON {
		printDetect(a.Stdout, res, s.args.Quiet)
	}
	return res, nil
}

func printDetect(w io.Writer, res DetectResult, quiet bool) {
	if !quiet {
		fmt.Fprintln(w, TitleStyle.Render("speechrig hardware report"))
	}
	fmt.Fprintln(w, SectionStyle.Render("Devices"))
	for _, d := range res.Devices {
		line := RenderDevice(d)
		if d.Note != "" {
			line += " " + DimStyle.Render("("+d.Note+")")
		}
		fmt.Fprintf(w, "  %s%s\n", RenderLabel(d.Class.DisplayName()), line)
	}

	fmt.Fprintln(w, SectionStyle.Render("Recommended"))
	for _, c := range res.Selections {
		fmt.Fprintf(w, "  %s%s\n", RenderLabel(string(c.Service)), HighlightStyle.Render(string(c.Class)+"/"+string(c.Variant)))
		if c.Runtime != "" {
			fmt.Fprintf(w, "  %s%s\n", RenderLabel("  runtime"), ValueStyle.Render(describeRuntime(c.Runtime, c.RelativeThroughput, c.Precision)))
		}
		if len(c.FallbackChain) > 0 {
			chain := make([]string, 0, len(c.FallbackChain))
			for _, f := range c.FallbackChain {
				chain = append(chain, string(f.Class)+"/"+string(f.Variant))
			}
			fmt.Fprintf(w, "  %s%s\n", RenderLabel("  fallback"), ValueStyle.Render(strings.Join(chain, " -> ")))
		}
		for _, n := range c.Notes {
			fmt.Fprintf(w, "  %s%s\n", RenderLabel("  note"), WarningStyle.Render(n))
		}
	}

	if len(res.Matrix) > 0 {
		fmt.Fprintln(w, SectionStyle.Render("Capability matrix"))
		for _, e := range res.Matrix {
			variants := make([]string, 0, len(e.Variants))
			for _, v := range e.Variants {
				variants = append(variants, string(v))
			}
			fmt.Fprintf(w, "  %s%s %s\n", RenderLabel(string(e.Service)+"/"+string(e.Class)),
				ValueStyle.Render(describeRuntime(e.Runtime, e.RelativeThroughput, e.DefaultPrecision)),
				DimStyle.Render("["+strings.Join(variants, ",")+"]"))
		}
	}
}

// describeRuntime renders e.g. "OpenVINO, ~2.5x cpu, fp16".
func describeRuntime(runtime string, throughput float64, p capability.Precision) string {
	parts := []string{runtime}
	if throughput > 0 {
		parts = append(parts, fmt.Sprintf("~%gx cpu", throughput))
	}
	if p != "" {
		parts = append(parts, string(p))
	}
	return strings.Join(parts, ", ")
}

// loadConfig reads config.toml from dir; a missing file gives the defaults.
func loadConfig(dir string) (*config.Config, error) {
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, &ConfigError{Path: config.Path(dir), Err: err}
	}
	return cfg, nil
}

// applyPreferenceFlags folds the ranking flags into cfg so they persist.
func applyPreferenceFlags(cfg *config.Config, args Args) {
	if args.PreferIGPU {
		cfg.Preferences.PreferIntegratedOverNPU = true
	}
	if args.NoPreferNPU {
		cfg.Preferences.PreferNPU = false
	}
	if args.NoCPUFallback {
		cfg.Preferences.FallbackToCPU = false
	}
}

// selectionPreferences derives selector input from cfg and applies the
// per-run backend and variant flags on top.
func selectionPreferences(cfg *config.Config, args Args) selector.Preferences {
	prefs := cfg.SelectionPreferences()
	if prefs.Variants == nil {
		prefs.Variants = map[hardware.Service]hardware.Variant{}
	}
	apply := func(svc hardware.Service, backend string, variant hardware.Variant) {
		if variant != "" {
			prefs.Variants[svc] = variant
			if o, ok := prefs.Overrides[svc]; ok {
				o.Variant = variant
				prefs.Overrides[svc] = o
			}
		}
		switch backend {
		case "":
		case "auto":
			delete(prefs.Overrides, svc)
		default:
			if prefs.Overrides == nil {
				prefs.Overrides = map[hardware.Service]selector.Override{}
			}
			prefs.Overrides[svc] = selector.Override{Class: hardware.Class(backend), Variant: variant}
		}
	}
	apply(hardware.ServiceSTT, args.STTBackend, args.STTVariant)
	apply(hardware.ServiceTTS, args.TTSBackend, args.TTSVariant)
	return prefs
}
