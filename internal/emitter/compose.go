// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package emitter

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/unicorn-commander/speechrig/internal/capability"
	"github.com/unicorn-commander/speechrig/internal/config"
	"github.com/unicorn-commander/speechrig/internal/hardware"
	"github.com/unicorn-commander/speechrig/internal/selector"
)

const composeHeader = "# Generated by speechrig. Regenerate with `speechrig reconfigure`; manual edits are overwritten.\n"

// composeFile is the subset of the compose schema the override needs.
type composeFile struct {
	Services map[string]composeService `yaml:"services"`
}

type composeService struct {
	EnvFile     []string          `yaml:"env_file,omitempty"`
	Environment map[string]string `yaml:"environment,omitempty"`
	Devices     []string          `yaml:"devices,omitempty"`
	GroupAdd    []string          `yaml:"group_add,omitempty"`
	Ulimits     map[string]int    `yaml:"ulimits,omitempty"`
	Deploy      *composeDeploy    `yaml:"deploy,omitempty"`
}

type composeDeploy struct {
	Resources composeResources `yaml:"resources"`
}

type composeResources struct {
	Reservations composeReservations `yaml:"reservations"`
}

type composeReservations struct {
	Devices []composeDeviceRequest `yaml:"devices"`
}

type composeDeviceRequest struct {
	Driver       string   `yaml:"driver"`
	Count        int      `yaml:"count"`
	Capabilities []string `yaml:"capabilities"`
}

func (e *Emitter) renderCompose(cfg *config.Config, choices map[hardware.Service]selector.Choice, envPath string) ([]byte, error) {
	doc := composeFile{Services: make(map[string]composeService, len(choices))}
	for _, svc := range hardware.Services() {
		c := choices[svc]
		cs := composeService{
			EnvFile:     []string{envPath},
			Environment: e.serviceEnvironment(cfg, svc),
		}
		applyDevice(&cs, c)
		doc.Services[cfg.Endpoint(svc).Name] = cs
	}

	var buf bytes.Buffer
	buf.WriteString(composeHeader)
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode compose override: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode compose override: %w", err)
	}
	return buf.Bytes(), nil
}

// serviceEnvironment is the container environment each image reads.
func (e *Emitter) serviceEnvironment(cfg *config.Config, svc hardware.Service) map[string]string {
	b := cfg.Backend(svc)
	env := map[string]string{
		"SPEECHRIG_BACKEND": string(b.Backend),
		"SPEECHRIG_VARIANT": string(b.Variant),
	}
	switch svc {
	case hardware.ServiceSTT:
		env["DEVICE"] = sttDevice(b.Backend)
		env["COMPUTE_TYPE"] = ctranslatePrecision(e.precision(cfg, svc))
		env["BATCH_SIZE"] = strconv.Itoa(e.batchSize(cfg, svc))
		env["ENABLE_DIARIZATION"] = strconv.FormatBool(b.Variant == hardware.VariantFull)
	case hardware.ServiceTTS:
		env["DEVICE"] = ttsDevice(b.Backend)
		env["CPU_ONLY_MODE"] = strconv.FormatBool(b.Backend == hardware.ClassCPU)
	}
	return env
}

func sttDevice(c hardware.Class) string {
	switch c {
	case hardware.ClassDiscreteGPU:
		return "cuda"
	case hardware.ClassIntegratedGPU:
		return "igpu"
	case hardware.ClassNPU:
		return "npu"
	default:
		return "cpu"
	}
}

func ttsDevice(c hardware.Class) string {
	switch c {
	case hardware.ClassDiscreteGPU:
		return "GPU"
	case hardware.ClassIntegratedGPU:
		return "IGPU"
	case hardware.ClassNPU:
		return "NPU"
	default:
		return "CPU"
	}
}

// ctranslatePrecision maps a precision to the compute type names the STT
// image accepts.
func ctranslatePrecision(p capability.Precision) string {
	switch p {
	case capability.PrecisionFP16:
		return "float16"
	case capability.PrecisionFP32:
		return "float32"
	default:
		return "int8"
	}
}

// applyDevice passes the chosen accelerator through to the container.
func applyDevice(cs *composeService, c selector.Choice) {
	switch c.Class {
	case hardware.ClassNPU:
		if c.DevicePath != "" {
			cs.Devices = []string{passthrough(c.DevicePath)}
		}
		cs.GroupAdd = []string{"render"}
		cs.Ulimits = map[string]int{"memlock": -1}
	case hardware.ClassIntegratedGPU:
		if c.DevicePath != "" {
			cs.Devices = []string{passthrough(c.DevicePath)}
		} else {
			cs.Devices = []string{passthrough("/dev/dri")}
		}
		cs.GroupAdd = []string{"video", "render"}
	case hardware.ClassDiscreteGPU:
		switch strings.ToLower(c.Vendor) {
		case "nvidia":
			cs.Deploy = &composeDeploy{Resources: composeResources{Reservations: composeReservations{
				Devices: []composeDeviceRequest{{Driver: "nvidia", Count: 1, Capabilities: []string{"gpu"}}},
			}}}
		case "amd":
			cs.Devices = []string{passthrough("/dev/kfd"), passthrough("/dev/dri")}
			cs.GroupAdd = []string{"video", "render"}
		default:
			if c.DevicePath != "" {
				cs.Devices = []string{passthrough(c.DevicePath)}
			} else {
				cs.Devices = []string{passthrough("/dev/dri")}
			}
			cs.GroupAdd = []string{"video", "render"}
		}
	}
}

func passthrough(path string) string {
	return path + ":" + path
}
