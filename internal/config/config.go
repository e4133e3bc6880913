// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"

	"github.com/unicorn-commander/speechrig/internal/hardware"
	"github.com/unicorn-commander/speechrig/internal/selector"
)

// CurrentVersion is the schema version written to config.toml.
const CurrentVersion = 1

// FileName is the name of the persisted configuration artifact.
const FileName = "config.toml"

// Detection modes.
const (
	DetectionAuto   = "auto"
	DetectionManual = "manual"
)

// Compute precisions accepted in [performance].
const (
	PrecisionAuto = "auto"
	PrecisionInt8 = "int8"
	PrecisionFP16 = "fp16"
	PrecisionFP32 = "fp32"
)

// =============================================================================
// CONFIG STRUCTURE
// =============================================================================

// Config is the persisted speechrig configuration (config.toml).
type Config struct {
	Version     int               `toml:"version" json:"version"`
	Hardware    HardwareConfig    `toml:"hardware" json:"hardware"`
	Preferences PreferencesConfig `toml:"preferences" json:"preferences"`
	Network     NetworkConfig     `toml:"network" json:"network"`
	Performance PerformanceConfig `toml:"performance" json:"performance"`
	Services    ServicesConfig    `toml:"services" json:"services"`

	env *envLayer
}

// HardwareConfig records the backend each service runs on.
type HardwareConfig struct {
	// Detection is "auto" (re-detect every run) or "manual" (pin the
	// backends below as overrides).
	Detection string        `toml:"detection" json:"detection"`
	STT       BackendConfig `toml:"stt" json:"stt"`
	TTS       BackendConfig `toml:"tts" json:"tts"`
}

// BackendConfig is the chosen backend for one service.
type BackendConfig struct {
	Backend    hardware.Class   `toml:"backend" json:"backend"`
	Variant    hardware.Variant `toml:"variant" json:"variant"`
	DevicePath string           `toml:"device_path,omitempty" json:"device_path,omitempty"`
}

// PreferencesConfig steers backend selection.
type PreferencesConfig struct {
	FallbackToCPU           bool `toml:"fallback_to_cpu" json:"fallback_to_cpu"`
	PreferNPU               bool `toml:"prefer_npu" json:"prefer_npu"`
	PreferIntegratedOverNPU bool `toml:"prefer_integrated_over_npu" json:"prefer_integrated_over_npu"`
}

// NetworkConfig is how clients reach the services.
type NetworkConfig struct {
	ExternalHost     string `toml:"external_host" json:"external_host"`
	ExternalProtocol string `toml:"external_protocol" json:"external_protocol"`
}

// PerformanceConfig holds inference tuning passed to the services.
type PerformanceConfig struct {
	BatchSize        int    `toml:"batch_size" json:"batch_size"`
	ComputePrecision string `toml:"compute_precision" json:"compute_precision"`
}

// ServicesConfig describes the two speech services.
type ServicesConfig struct {
	STT ServiceEndpoint `toml:"stt" json:"stt"`
	TTS ServiceEndpoint `toml:"tts" json:"tts"`
}

// ServiceEndpoint names a compose service and where its health endpoint lives.
type ServiceEndpoint struct {
	Name       string `toml:"name" json:"name"`
	Port       int    `toml:"port" json:"port"`
	HealthPath string `toml:"health_path" json:"health_path"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns a configuration with sensible default values.
func Default() *Config {
	return &Config{
		Version: CurrentVersion,
		Hardware: HardwareConfig{
			Detection: DetectionAuto,
			STT:       BackendConfig{Backend: hardware.ClassCPU, Variant: hardware.VariantFull},
			TTS:       BackendConfig{Backend: hardware.ClassCPU, Variant: hardware.VariantFull},
		},
		Preferences: PreferencesConfig{
			FallbackToCPU: true,
			PreferNPU:     true,
		},
		Network: NetworkConfig{
			ExternalHost:     "localhost",
			ExternalProtocol: "http",
		},
		Performance: PerformanceConfig{
			BatchSize:        16,
			ComputePrecision: PrecisionAuto,
		},
		Services: ServicesConfig{
			STT: ServiceEndpoint{Name: "whisperx", Port: 9000, HealthPath: "/health"},
			TTS: ServiceEndpoint{Name: "kokoro", Port: 8880, HealthPath: "/health"},
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the default speechrig configuration directory.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".speechrig"), nil
}

// Path returns the config.toml path inside dir.
func Path(dir string) string {
	return filepath.Join(dir, FileName)
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load reads config.toml from dir. A missing file yields the defaults.
// Environment overrides are applied last.
// CONFIG: Comprehensive validation ensures safe configuration
func Load(dir string) (*Config, error) {
	path := Path(dir)
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		cfg := Default()
		if err := cfg.finish(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return LoadFromPath(path)
}

// LoadFromPath loads configuration from a specific file path with full validation.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	if err := LoadTOML(cfg, path); err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadTOML decodes a TOML file over cfg. Keys missing from the file keep
// their current values.
func LoadTOML(cfg *Config, path string) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return ValidateErrors{{Field: strings.Join(keys, ", "), Message: "unknown key"}}
	}
	return nil
}

// finish runs env overrides, migration, defaults and validation.
func (c *Config) finish() error {
	if err := c.ApplyEnvOverrides(); err != nil {
		return fmt.Errorf("invalid environment override: %w", err)
	}
	if err := c.Migrate(); err != nil {
		return fmt.Errorf("config migration failed: %w", err)
	}
	c.SetDefaults()
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

const header = `# speechrig configuration file
# Generated by speechrig - edit with care
#
# Set [hardware] detection = "manual" to pin the backends below.

`

// Encode renders the configuration as TOML with a fixed header. The output
// depends only on the configuration values. Values that came from
// SPEECHRIG_* variables are written as they were before the override.
func (c *Config) Encode() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(header)
	enc := toml.NewEncoder(&buf)
	enc.Indent = ""
	if err := enc.Encode(c.persisted()); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return buf.Bytes(), nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
// CONFIG: Comprehensive validation ensures safe configuration
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if c.Version != CurrentVersion {
		add("version", "unsupported version %d, must be %d", c.Version, CurrentVersion)
	}

	switch c.Hardware.Detection {
	case DetectionAuto, DetectionManual:
	default:
		add("hardware.detection", "invalid mode '%s', must be one of: auto, manual", c.Hardware.Detection)
	}

	for _, svc := range hardware.Services() {
		b := c.Backend(svc)
		prefix := "hardware." + string(svc)
		if !b.Backend.Valid() {
			add(prefix+".backend", "invalid backend '%s', must be one of: npu, igpu, dgpu, cpu", b.Backend)
		}
		if !b.Variant.Valid() {
			add(prefix+".variant", "invalid variant '%s', must be one of: full, lite", b.Variant)
		}
	}

	switch c.Network.ExternalProtocol {
	case "http", "https":
	default:
		add("network.external_protocol", "invalid protocol '%s', must be one of: http, https", c.Network.ExternalProtocol)
	}
	if strings.TrimSpace(c.Network.ExternalHost) == "" {
		add("network.external_host", "must not be empty")
	} else if strings.ContainsAny(c.Network.ExternalHost, "/ ") {
		add("network.external_host", "'%s' must be a host name or address, not a URL", c.Network.ExternalHost)
	}

	if c.Performance.BatchSize < 1 || c.Performance.BatchSize > 256 {
		add("performance.batch_size", "must be between 1 and 256, got %d", c.Performance.BatchSize)
	}
	switch c.Performance.ComputePrecision {
	case PrecisionAuto, PrecisionInt8, PrecisionFP16, PrecisionFP32:
	default:
		add("performance.compute_precision", "invalid precision '%s', must be one of: auto, int8, fp16, fp32", c.Performance.ComputePrecision)
	}

	ports := map[int]hardware.Service{}
	for _, svc := range hardware.Services() {
		ep := c.Endpoint(svc)
		prefix := "services." + string(svc)
		if ep.Name == "" {
			add(prefix+".name", "must not be empty")
		}
		if ep.Port < 1 || ep.Port > 65535 {
			add(prefix+".port", "must be between 1 and 65535, got %d", ep.Port)
		} else if other, dup := ports[ep.Port]; dup {
			add(prefix+".port", "port %d already used by %s", ep.Port, other)
		} else {
			ports[ep.Port] = svc
		}
		if !strings.HasPrefix(ep.HealthPath, "/") {
			add(prefix+".health_path", "must start with '/', got '%s'", ep.HealthPath)
		}
	}
	if c.Services.STT.Name != "" && c.Services.STT.Name == c.Services.TTS.Name {
		add("services.tts.name", "must differ from services.stt.name")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// SetDefaults fills zero values with defaults.
func (c *Config) SetDefaults() {
	d := Default()
	if c.Version == 0 {
		c.Version = d.Version
	}
	if c.Hardware.Detection == "" {
		c.Hardware.Detection = d.Hardware.Detection
	}
	for _, svc := range hardware.Services() {
		b := c.backendPtr(svc)
		if b.Backend == "" {
			b.Backend = hardware.ClassCPU
		}
		if b.Variant == "" {
			b.Variant = hardware.VariantFull
		}
	}
	if c.Network.ExternalHost == "" {
		c.Network.ExternalHost = d.Network.ExternalHost
	}
	if c.Network.ExternalProtocol == "" {
		c.Network.ExternalProtocol = d.Network.ExternalProtocol
	}
	if c.Performance.BatchSize == 0 {
		c.Performance.BatchSize = d.Performance.BatchSize
	}
	if c.Performance.ComputePrecision == "" {
		c.Performance.ComputePrecision = d.Performance.ComputePrecision
	}
	for _, svc := range hardware.Services() {
		ep, def := c.endpointPtr(svc), d.Endpoint(svc)
		if ep.Name == "" {
			ep.Name = def.Name
		}
		if ep.Port == 0 {
			ep.Port = def.Port
		}
		if ep.HealthPath == "" {
			ep.HealthPath = def.HealthPath
		}
	}
}

// Migrate upgrades older or loosely written files to the current schema.
func (c *Config) Migrate() error {
	if c.Version > CurrentVersion {
		return fmt.Errorf("config version %d is newer than this speechrig (supports %d)", c.Version, CurrentVersion)
	}
	// Version 0 is a file written before the version key existed.
	if c.Version == 0 {
		c.Version = CurrentVersion
	}

	c.Hardware.Detection = strings.ToLower(strings.TrimSpace(c.Hardware.Detection))
	for _, svc := range hardware.Services() {
		b := c.backendPtr(svc)
		// Accept aliases such as "cuda" or "openvino" written by hand.
		if class, err := hardware.ParseClass(string(b.Backend)); err == nil {
			b.Backend = class
		}
		b.Variant = hardware.Variant(strings.ToLower(strings.TrimSpace(string(b.Variant))))
	}
	c.Network.ExternalProtocol = strings.ToLower(strings.TrimSpace(c.Network.ExternalProtocol))
	c.Performance.ComputePrecision = strings.ToLower(strings.TrimSpace(c.Performance.ComputePrecision))
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// envOverrides are the SPEECHRIG_* variables that override config.toml.
// Unset variables leave the loaded value alone.
type envOverrides struct {
	ExternalHost            string `env:"EXTERNAL_HOST"`
	ExternalProtocol        string `env:"EXTERNAL_PROTOCOL"`
	FallbackToCPU           bool   `env:"FALLBACK_TO_CPU"`
	PreferNPU               bool   `env:"PREFER_NPU"`
	PreferIntegratedOverNPU bool   `env:"PREFER_INTEGRATED_OVER_NPU"`
	BatchSize               int    `env:"BATCH_SIZE"`
	ComputePrecision        string `env:"COMPUTE_PRECISION"`
}

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - SPEECHRIG_EXTERNAL_HOST, SPEECHRIG_EXTERNAL_PROTOCOL
//   - SPEECHRIG_FALLBACK_TO_CPU, SPEECHRIG_PREFER_NPU, SPEECHRIG_PREFER_INTEGRATED_OVER_NPU
//   - SPEECHRIG_BATCH_SIZE, SPEECHRIG_COMPUTE_PRECISION
//
// Overrides last for one run. Encode writes the values they replaced.
func (c *Config) ApplyEnvOverrides() error {
	file := overridesOf(c)
	o := file
	if err := env.ParseWithOptions(&o, env.Options{Prefix: EnvPrefix}); err != nil {
		return err
	}
	if o == file {
		return nil
	}
	o.applyTo(c)
	layer := envLayer{file: file, applied: o}
	if c.env != nil {
		layer.file = c.env.file
	}
	c.env = &layer
	return nil
}

// envLayer remembers what the environment replaced.
type envLayer struct {
	file    envOverrides
	applied envOverrides
}

func overridesOf(c *Config) envOverrides {
	return envOverrides{
		ExternalHost:            c.Network.ExternalHost,
		ExternalProtocol:        c.Network.ExternalProtocol,
		FallbackToCPU:           c.Preferences.FallbackToCPU,
		PreferNPU:               c.Preferences.PreferNPU,
		PreferIntegratedOverNPU: c.Preferences.PreferIntegratedOverNPU,
		BatchSize:               c.Performance.BatchSize,
		ComputePrecision:        c.Performance.ComputePrecision,
	}
}

func (o envOverrides) applyTo(c *Config) {
	c.Network.ExternalHost = o.ExternalHost
	c.Network.ExternalProtocol = o.ExternalProtocol
	c.Preferences.FallbackToCPU = o.FallbackToCPU
	c.Preferences.PreferNPU = o.PreferNPU
	c.Preferences.PreferIntegratedOverNPU = o.PreferIntegratedOverNPU
	c.Performance.BatchSize = o.BatchSize
	c.Performance.ComputePrecision = o.ComputePrecision
}

// restore puts the file value back if cur still holds the override.
func restore[T comparable](cur *T, applied, file T) {
	if *cur == applied {
		*cur = file
	}
}

// persisted returns c with environment overrides replaced by the values
// they shadowed. A field changed after loading keeps its new value.
func (c *Config) persisted() *Config {
	if c.env == nil {
		return c
	}
	out := c.Clone()
	out.env = nil
	cur := overridesOf(c)
	a, f := c.env.applied, c.env.file
	restore(&cur.ExternalHost, a.ExternalHost, f.ExternalHost)
	restore(&cur.ExternalProtocol, a.ExternalProtocol, f.ExternalProtocol)
	restore(&cur.FallbackToCPU, a.FallbackToCPU, f.FallbackToCPU)
	restore(&cur.PreferNPU, a.PreferNPU, f.PreferNPU)
	restore(&cur.PreferIntegratedOverNPU, a.PreferIntegratedOverNPU, f.PreferIntegratedOverNPU)
	restore(&cur.BatchSize, a.BatchSize, f.BatchSize)
	restore(&cur.ComputePrecision, a.ComputePrecision, f.ComputePrecision)
	cur.applyTo(out)
	return out
}

// =============================================================================
// ACCESSORS
// =============================================================================

// Backend returns the recorded backend for svc.
func (c *Config) Backend(svc hardware.Service) BackendConfig {
	return *c.backendPtr(svc)
}

// SetBackend records the backend for svc.
func (c *Config) SetBackend(svc hardware.Service, b BackendConfig) {
	*c.backendPtr(svc) = b
}

func (c *Config) backendPtr(svc hardware.Service) *BackendConfig {
	if svc == hardware.ServiceTTS {
		return &c.Hardware.TTS
	}
	return &c.Hardware.STT
}

// Endpoint returns the service description for svc.
func (c *Config) Endpoint(svc hardware.Service) ServiceEndpoint {
	return *c.endpointPtr(svc)
}

func (c *Config) endpointPtr(svc hardware.Service) *ServiceEndpoint {
	if svc == hardware.ServiceTTS {
		return &c.Services.TTS
	}
	return &c.Services.STT
}

// HealthURL returns the URL of svc's health endpoint.
func (c *Config) HealthURL(svc hardware.Service) string {
	ep := c.Endpoint(svc)
	return fmt.Sprintf("%s://%s:%d%s", c.Network.ExternalProtocol, c.Network.ExternalHost, ep.Port, ep.HealthPath)
}

// SelectionPreferences converts the persisted preferences into selector
// input. The recorded variants are the requested ones; with manual detection
// the recorded backends also become overrides.
func (c *Config) SelectionPreferences() selector.Preferences {
	p := selector.Preferences{
		PreferNPU:               c.Preferences.PreferNPU,
		PreferIntegratedOverNPU: c.Preferences.PreferIntegratedOverNPU,
		Variants:                map[hardware.Service]hardware.Variant{},
	}
	for _, svc := range hardware.Services() {
		b := c.Backend(svc)
		p.Variants[svc] = b.Variant
		if c.Hardware.Detection == DetectionManual {
			if p.Overrides == nil {
				p.Overrides = map[hardware.Service]selector.Override{}
			}
			p.Overrides[svc] = selector.Override{Class: b.Backend, Variant: b.Variant}
		}
	}
	return p
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}
