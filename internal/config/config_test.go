// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unicorn-commander/speechrig/internal/hardware"
	"github.com/unicorn-commander/speechrig/internal/selector"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(body), 0644))
	return dir
}

func TestLoad_MissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	dir := writeConfig(t, `
version = 1

[hardware]
detection = "manual"

[hardware.stt]
backend = "CUDA"
variant = "Lite"

[network]
external_host = "speech.lan"
`)
	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, DetectionManual, cfg.Hardware.Detection)
	assert.Equal(t, hardware.ClassDiscreteGPU, cfg.Hardware.STT.Backend)
	assert.Equal(t, hardware.VariantLite, cfg.Hardware.STT.Variant)
	assert.Equal(t, hardware.ClassCPU, cfg.Hardware.TTS.Backend)
	assert.Equal(t, "speech.lan", cfg.Network.ExternalHost)
	assert.Equal(t, "http", cfg.Network.ExternalProtocol)
	assert.True(t, cfg.Preferences.PreferNPU)
	assert.True(t, cfg.Preferences.FallbackToCPU)
	assert.Equal(t, 9000, cfg.Services.STT.Port)
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	dir := writeConfig(t, "version = 1\n[preferences]\nprefer_gpu = true\n")
	_, err := Load(dir)
	require.Error(t, err)

	var verrs ValidateErrors
	require.True(t, errors.As(err, &verrs))
	assert.Contains(t, verrs[0].Field, "preferences.prefer_gpu")
}

func TestLoad_RejectsNewerVersion(t *testing.T) {
	dir := writeConfig(t, "version = 2\n")
	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "newer")
}

func TestLoad_MalformedTOML(t *testing.T) {
	dir := writeConfig(t, "version = \n")
	_, err := Load(dir)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"detection", func(c *Config) { c.Hardware.Detection = "sometimes" }, "hardware.detection"},
		{"backend", func(c *Config) { c.Hardware.TTS.Backend = "tpu" }, "hardware.tts.backend"},
		{"variant", func(c *Config) { c.Hardware.STT.Variant = "tiny" }, "hardware.stt.variant"},
		{"protocol", func(c *Config) { c.Network.ExternalProtocol = "ftp" }, "network.external_protocol"},
		{"host url", func(c *Config) { c.Network.ExternalHost = "http://x/" }, "network.external_host"},
		{"batch", func(c *Config) { c.Performance.BatchSize = 0 }, "performance.batch_size"},
		{"precision", func(c *Config) { c.Performance.ComputePrecision = "bf16" }, "performance.compute_precision"},
		{"port range", func(c *Config) { c.Services.TTS.Port = 70000 }, "services.tts.port"},
		{"port clash", func(c *Config) { c.Services.TTS.Port = 9000 }, "services.tts.port"},
		{"health path", func(c *Config) { c.Services.STT.HealthPath = "health" }, "services.stt.health_path"},
		{"same name", func(c *Config) { c.Services.TTS.Name = "whisperx" }, "services.tts.name"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)

			var verrs ValidateErrors
			require.True(t, errors.As(err, &verrs))
			assert.Equal(t, tc.field, verrs[0].Field)
		})
	}

	assert.NoError(t, Default().Validate())
}

func TestValidateErrorsJoin(t *testing.T) {
	errs := ValidateErrors{{Field: "a", Message: "bad"}, {Field: "b", Message: "worse"}}
	assert.Equal(t, "a: bad; b: worse", errs.Error())
	assert.Equal(t, "no validation errors", ValidateErrors{}.Error())
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("SPEECHRIG_EXTERNAL_HOST", "10.0.0.5")
	t.Setenv("SPEECHRIG_PREFER_NPU", "false")
	t.Setenv("SPEECHRIG_BATCH_SIZE", "4")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", cfg.Network.ExternalHost)
	assert.False(t, cfg.Preferences.PreferNPU)
	assert.Equal(t, 4, cfg.Performance.BatchSize)
	// Untouched values survive.
	assert.True(t, cfg.Preferences.FallbackToCPU)
	assert.Equal(t, "auto", cfg.Performance.ComputePrecision)
}

func TestApplyEnvOverrides_Malformed(t *testing.T) {
	t.Setenv("SPEECHRIG_BATCH_SIZE", "many")
	_, err := Load(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "environment override")
}

func TestSaveAndReloadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := Default()
	cfg.Hardware.STT = BackendConfig{Backend: hardware.ClassIntegratedGPU, Variant: hardware.VariantFull, DevicePath: "/dev/dri/renderD128"}
	cfg.Performance.ComputePrecision = PrecisionFP16

	data, err := cfg.Encode()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(Path(dir), data, 0644))
	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestEncode_KeepsFileValuesUnderEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	data, err := Default().Encode()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(Path(dir), data, 0644))

	t.Setenv("SPEECHRIG_BATCH_SIZE", "4")
	t.Setenv("SPEECHRIG_PREFER_NPU", "false")
	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Performance.BatchSize)
	assert.False(t, cfg.Preferences.PreferNPU)

	// A clone with new backends, as written after an install.
	emitted := cfg.Clone()
	emitted.SetBackend(hardware.ServiceSTT, BackendConfig{Backend: hardware.ClassIntegratedGPU, Variant: hardware.VariantFull})
	out, err := emitted.Encode()
	require.NoError(t, err)
	assert.Contains(t, string(out), "batch_size = 16")
	assert.Contains(t, string(out), "prefer_npu = true")
	assert.Contains(t, string(out), `backend = "igpu"`)
	assert.Equal(t, 4, emitted.Performance.BatchSize, "the running config keeps the override")
}

func TestEncode_ChangedFieldBeatsEnvOverride(t *testing.T) {
	t.Setenv("SPEECHRIG_FALLBACK_TO_CPU", "false")
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	out, err := cfg.Encode()
	require.NoError(t, err)
	assert.Contains(t, string(out), "fallback_to_cpu = true")

	// A flag that changes the field after loading is persisted.
	t.Setenv("SPEECHRIG_BATCH_SIZE", "4")
	cfg, err = Load(t.TempDir())
	require.NoError(t, err)
	cfg.Performance.BatchSize = 8
	out, err = cfg.Encode()
	require.NoError(t, err)
	assert.Contains(t, string(out), "batch_size = 8")
	assert.Contains(t, string(out), "fallback_to_cpu = true")
}

func TestEncodeIsStable(t *testing.T) {
	a, err := Default().Encode()
	require.NoError(t, err)
	b, err := Default().Encode()
	require.NoError(t, err)
	assert.Equal(t, a, b)

	s := string(a)
	assert.Contains(t, s, "# speechrig configuration file")
	assert.Contains(t, s, "version = 1")
	assert.Contains(t, s, "[hardware.stt]")
	assert.Contains(t, s, "[services.tts]")
	assert.Contains(t, s, `name = "kokoro"`)
	assert.NotContains(t, s, "device_path", "empty device paths are omitted")
}

func TestSelectionPreferences(t *testing.T) {
	cfg := Default()
	cfg.Hardware.STT.Variant = hardware.VariantLite
	cfg.Preferences.PreferIntegratedOverNPU = true

	p := cfg.SelectionPreferences()
	assert.Equal(t, hardware.VariantLite, p.Variant(hardware.ServiceSTT))
	assert.Equal(t, hardware.VariantFull, p.Variant(hardware.ServiceTTS))
	assert.True(t, p.PreferNPU)
	assert.True(t, p.PreferIntegratedOverNPU)
	assert.Empty(t, p.Overrides)

	cfg.Hardware.Detection = DetectionManual
	cfg.Hardware.TTS.Backend = hardware.ClassNPU
	p = cfg.SelectionPreferences()
	assert.Equal(t, selector.Override{Class: hardware.ClassNPU, Variant: hardware.VariantFull}, p.Overrides[hardware.ServiceTTS])
	assert.Equal(t, selector.Override{Class: hardware.ClassCPU, Variant: hardware.VariantLite}, p.Overrides[hardware.ServiceSTT])
}

func TestHealthURL(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "http://localhost:9000/health", cfg.HealthURL(hardware.ServiceSTT))
	cfg.Network.ExternalProtocol = "https"
	cfg.Network.ExternalHost = "speech.lan"
	cfg.Services.TTS.HealthPath = "/v1/health"
	assert.Equal(t, "https://speech.lan:8880/v1/health", cfg.HealthURL(hardware.ServiceTTS))
}

func TestLoadSettings(t *testing.T) {
	s, err := LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, "docker-compose.yml", s.ComposeFile)
	assert.Equal(t, 5*time.Second, s.ProbeTimeout)
	assert.Equal(t, 3*time.Minute, s.VerifyTimeout)
	assert.Equal(t, "info", s.LogLevel)
	require.NoError(t, s.Validate())

	t.Setenv("SPEECHRIG_CONFIG_DIR", "/srv/speechrig")
	t.Setenv("SPEECHRIG_PROBE_TIMEOUT", "250ms")
	s, err = LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, s.ProbeTimeout)
	dir, err := s.ResolveConfigDir()
	require.NoError(t, err)
	assert.Equal(t, "/srv/speechrig", dir)

	t.Setenv("SPEECHRIG_VERIFY_TIMEOUT", "soon")
	_, err = LoadSettings()
	assert.Error(t, err)
}

func TestSettingsValidate(t *testing.T) {
	s := Settings{ComposeFile: "c.yml", ProbeTimeout: time.Second, VerifyTimeout: time.Second, StartTimeout: time.Second, LogLevel: "loud"}
	err := s.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log-level")
}
