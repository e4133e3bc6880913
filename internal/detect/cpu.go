// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package detect

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/unicorn-commander/speechrig/internal/hardware"
)

// =============================================================================
// CPU
// =============================================================================

// cpuInfo is the subset of /proc/cpuinfo the report needs.
type cpuInfo struct {
	Vendor  string
	Model   string
	Threads int
	AVX2    bool
	AVX512  bool
}

// parseCPUInfo parses /proc/cpuinfo. Only the first processor block is used
// for model and flags.
func parseCPUInfo(data string) cpuInfo {
	var info cpuInfo
	for _, line := range strings.Split(data, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch key {
		case "processor":
			info.Threads++
		case "vendor_id":
			if info.Vendor == "" {
				info.Vendor = cpuVendor(value)
			}
		case "model name":
			if info.Model == "" {
				info.Model = value
			}
		case "flags":
			if info.Threads <= 1 {
				flags := strings.Fields(value)
				for _, f := range flags {
					switch {
					case f == "avx2":
						info.AVX2 = true
					case strings.HasPrefix(f, "avx512"):
						info.AVX512 = true
					}
				}
			}
		}
	}
	return info
}

func cpuVendor(id string) string {
	switch id {
	case "AuthenticAMD":
		return "AMD"
	case "GenuineIntel":
		return "Intel"
	default:
		return id
	}
}

// cpuModelName returns the processor model string, or "" when unknown.
func cpuModelName(sys System) string {
	data, err := sys.ReadFile("/proc/cpuinfo")
	if err != nil {
		return ""
	}
	return parseCPUInfo(string(data)).Model
}

// probeCPU describes the host CPU. It cannot fail.
func probeCPU(sys System) hardware.Device {
	d := hardware.DefaultCPU()

	var info cpuInfo
	if sys.GOOS() == "linux" {
		if data, err := sys.ReadFile("/proc/cpuinfo"); err == nil {
			info = parseCPUInfo(string(data))
		}
	}
	if info.Threads == 0 {
		info.Threads = runtime.NumCPU()
	}

	d.Vendor = info.Vendor
	name := info.Model
	if name == "" {
		name = "CPU"
	}
	details := []string{fmt.Sprintf("%d threads", info.Threads)}
	if info.AVX2 {
		details = append(details, "AVX2")
	}
	if info.AVX512 {
		details = append(details, "AVX-512")
	}
	d.Name = fmt.Sprintf("%s (%s)", name, strings.Join(details, ", "))
	return d
}
