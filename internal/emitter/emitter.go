// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package emitter turns backend choices into the files the speech services
// are started with: config.toml, speechrig.env and a compose override.
//
// Rendering is pure and byte-stable. Emit validates every choice against the
// capability matrix before anything is written, then writes each file
// atomically. It never starts or stops services.
package emitter

import (
	"bytes"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/unicorn-commander/speechrig/internal/capability"
	"github.com/unicorn-commander/speechrig/internal/config"
	"github.com/unicorn-commander/speechrig/internal/hardware"
	"github.com/unicorn-commander/speechrig/internal/selector"
	"github.com/unicorn-commander/speechrig/internal/util"
)

// Output file names inside the configuration directory.
const (
	EnvFileName             = "speechrig.env"
	ComposeOverrideFileName = "docker-compose.hardware.yml"
)

// InvalidChoiceError reports a choice the capability matrix does not allow.
type InvalidChoiceError struct {
	Service hardware.Service
	Class   hardware.Class
	Variant hardware.Variant
	Reason  string
}

func (e *InvalidChoiceError) Error() string {
	return fmt.Sprintf("invalid backend %s/%s for %s: %s", e.Class, e.Variant, e.Service, e.Reason)
}

// Options controls where and from what the artifact is emitted.
type Options struct {
	// Dir receives the three files.
	Dir string
	// Base supplies preferences, network, performance and services. Nil
	// means defaults.
	Base *config.Config
}

// Artifact is the rendered configuration.
type Artifact struct {
	Config      *config.Config
	ConfigTOML  []byte
	Env         []byte
	Compose     []byte
	ConfigPath  string
	EnvPath     string
	ComposePath string
	// Written lists the files whose content changed on disk.
	Written []string
}

// Emitter renders and writes configuration artifacts.
type Emitter struct {
	matrix capability.Matrix
	logger *slog.Logger
}

// New returns an Emitter validating against m.
func New(m capability.Matrix, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{matrix: m, logger: logger}
}

// Validate checks that every service has a choice and that each choice and
// its fallback chain is allowed by the matrix.
func (e *Emitter) Validate(choices map[hardware.Service]selector.Choice) error {
	for _, svc := range hardware.Services() {
		c, ok := choices[svc]
		if !ok {
			return &InvalidChoiceError{Service: svc, Reason: "no backend chosen"}
		}
		if c.Service != svc {
			return &InvalidChoiceError{Service: svc, Class: c.Class, Variant: c.Variant, Reason: fmt.Sprintf("choice is for service %q", c.Service)}
		}
		if err := e.validateOne(c); err != nil {
			return err
		}
		for _, next := range c.FallbackChain {
			if next.Service != svc {
				return &InvalidChoiceError{Service: svc, Class: next.Class, Variant: next.Variant, Reason: "fallback entry for another service"}
			}
			if err := e.validateOne(next); err != nil {
				return err
			}
		}
	}
	for svc := range choices {
		if !svc.Valid() {
			return &InvalidChoiceError{Service: svc, Reason: "unknown service"}
		}
	}
	return nil
}

func (e *Emitter) validateOne(c selector.Choice) error {
	entry, ok := e.matrix.Lookup(c.Service, c.Class)
	if !ok {
		return &InvalidChoiceError{Service: c.Service, Class: c.Class, Variant: c.Variant, Reason: "no capability entry"}
	}
	if !entry.Supports(c.Variant) {
		return &InvalidChoiceError{Service: c.Service, Class: c.Class, Variant: c.Variant, Reason: "variant not supported"}
	}
	return nil
}

// Render builds the artifact in memory.
func (e *Emitter) Render(choices map[hardware.Service]selector.Choice, opts Options) (*Artifact, error) {
	if err := e.Validate(choices); err != nil {
		return nil, err
	}

	base := opts.Base
	if base == nil {
		base = config.Default()
	}
	cfg := base.Clone()
	for _, svc := range hardware.Services() {
		c := choices[svc]
		cfg.SetBackend(svc, config.BackendConfig{Backend: c.Class, Variant: c.Variant, DevicePath: c.DevicePath})
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("rendered config is invalid: %w", err)
	}

	tomlData, err := cfg.Encode()
	if err != nil {
		return nil, err
	}

	a := &Artifact{
		Config:      cfg,
		ConfigTOML:  tomlData,
		Env:         e.renderEnv(cfg),
		ConfigPath:  config.Path(opts.Dir),
		EnvPath:     filepath.Join(opts.Dir, EnvFileName),
		ComposePath: filepath.Join(opts.Dir, ComposeOverrideFileName),
	}
	a.Compose, err = e.renderCompose(cfg, choices, a.EnvPath)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Emit validates, renders and atomically writes the artifact to opts.Dir.
// Files whose content is unchanged are left alone.
func (e *Emitter) Emit(choices map[hardware.Service]selector.Choice, opts Options) (*Artifact, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("emit: no output directory")
	}
	dir, err := filepath.Abs(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("emit: %w", err)
	}
	opts.Dir = dir

	a, err := e.Render(choices, opts)
	if err != nil {
		return nil, err
	}

	files := []struct {
		path string
		data []byte
	}{
		{a.ConfigPath, a.ConfigTOML},
		{a.EnvPath, a.Env},
		{a.ComposePath, a.Compose},
	}
	for _, f := range files {
		changed, err := util.WriteFileIfChanged(f.path, f.data, 0644)
		if err != nil {
			return nil, fmt.Errorf("emit %s: %w", filepath.Base(f.path), err)
		}
		if changed {
			a.Written = append(a.Written, f.path)
		}
	}

	for _, svc := range hardware.Services() {
		b := a.Config.Backend(svc)
		e.logger.Debug("configuration emitted",
			slog.String("service", string(svc)),
			slog.String("backend", string(b.Backend)),
			slog.String("variant", string(b.Variant)),
			slog.String("device_path", b.DevicePath))
	}
	e.logger.Debug("artifact files", slog.String("dir", dir), slog.Int("written", len(a.Written)))
	return a, nil
}

// =============================================================================
// ENVIRONMENT FILE
// =============================================================================

// EnvVars derives the environment for the services from cfg.
func (e *Emitter) EnvVars(cfg *config.Config) map[string]string {
	vars := map[string]string{
		"SPEECHRIG_CONFIG_VERSION": strconv.Itoa(cfg.Version),
		"BATCH_SIZE":               strconv.Itoa(cfg.Performance.BatchSize),
		"COMPUTE_PRECISION":        cfg.Performance.ComputePrecision,
		"EXTERNAL_HOST":            cfg.Network.ExternalHost,
		"EXTERNAL_PROTOCOL":        cfg.Network.ExternalProtocol,
		"FALLBACK_TO_CPU":          strconv.FormatBool(cfg.Preferences.FallbackToCPU),
		"PREFER_NPU":               strconv.FormatBool(cfg.Preferences.PreferNPU),
	}
	for _, svc := range hardware.Services() {
		b := cfg.Backend(svc)
		p := svc.EnvPrefix() + "_"
		vars[p+"BACKEND"] = string(b.Backend)
		vars[p+"VARIANT"] = string(b.Variant)
		vars[p+"DEVICE_PATH"] = b.DevicePath
		vars[p+"COMPUTE_TYPE"] = string(e.precision(cfg, svc))
		vars[p+"BATCH_SIZE"] = strconv.Itoa(e.batchSize(cfg, svc))
		if svc == hardware.ServiceSTT {
			vars[p+"DIARIZATION"] = strconv.FormatBool(b.Variant == hardware.VariantFull)
		}
	}
	return vars
}

func (e *Emitter) renderEnv(cfg *config.Config) []byte {
	vars := e.EnvVars(cfg)
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteString("# Generated by speechrig from config.toml. Do not edit.\n")
	for _, k := range keys {
		fmt.Fprintf(&buf, "%s=%s\n", k, quoteEnv(vars[k]))
	}
	return buf.Bytes()
}

// quoteEnv quotes values that compose would otherwise split or expand.
func quoteEnv(v string) string {
	if v == "" || !strings.ContainsAny(v, " \t#\"'$\\") {
		return v
	}
	return strconv.Quote(v)
}

// precision resolves "auto" to the matrix default for the chosen backend.
func (e *Emitter) precision(cfg *config.Config, svc hardware.Service) capability.Precision {
	if p := capability.Precision(cfg.Performance.ComputePrecision); p.Valid() {
		return p
	}
	if entry, ok := e.matrix.Lookup(svc, cfg.Backend(svc).Backend); ok && entry.DefaultPrecision != "" {
		return entry.DefaultPrecision
	}
	return capability.PrecisionFP32
}

// batchSize clamps the configured batch size to the backend's ceiling.
func (e *Emitter) batchSize(cfg *config.Config, svc hardware.Service) int {
	n := cfg.Performance.BatchSize
	if entry, ok := e.matrix.Lookup(svc, cfg.Backend(svc).Backend); ok && entry.MaxBatchSize > 0 {
		n = min(n, entry.MaxBatchSize)
	}
	return max(n, 1)
}
