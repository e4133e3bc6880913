// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package detect

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/unicorn-commander/speechrig/internal/hardware"
)

// =============================================================================
// NPU DETECTION
// =============================================================================

var (
	npuNodePatterns = []string{"/dev/accel/accel*", "/dev/xdna*", "/dev/npu*"}

	// npuDrivers maps kernel modules to the NPU vendor they drive.
	npuDrivers = []struct{ module, vendor string }{
		{"amdxdna", "AMD"},
		{"intel_vpu", "Intel"},
	}

	npuRuntimes = []string{"/opt/ryzen-ai-sw", "/opt/xilinx/xrt"}

	// Ryzen 7040/8040 (Phoenix, Hawk Point) carry a first generation XDNA NPU.
	amdXDNA1Model = regexp.MustCompile(`ryzen (?:\d+ )?(?:pro )?[78][5-9]40`)
	// Ryzen AI 300 (Strix) carries XDNA 2.
	amdXDNA2Model = regexp.MustCompile(`ryzen ai `)
	// Core Ultra (Meteor Lake and later).
	intelNPUModel = regexp.MustCompile(`core(?:\(tm\))? ultra`)
)

// probeNPU looks for NPU device nodes and checks that a driver or runtime is
// available to use them.
func probeNPU(ctx context.Context, sys System) ([]hardware.Device, error) {
	if devs, skip := unsupportedOS(sys, hardware.ClassNPU); skip {
		return devs, nil
	}

	loaded := ""
	for _, drv := range npuDrivers {
		if sys.Exists("/sys/module/" + drv.module) {
			loaded = drv.module
			break
		}
	}
	runtimeInstalled := slices.ContainsFunc(npuRuntimes, sys.Exists)
	model := cpuModelName(sys)

	var out []hardware.Device
	for _, node := range npuNodes(sys) {
		d := hardware.Device{
			Class:      hardware.ClassNPU,
			Present:    true,
			DevicePath: node,
			Driver:     loaded,
		}
		if strings.HasPrefix(node, "/dev/accel/") {
			dir := "/sys/class/accel/" + filepath.Base(node) + "/device"
			d.Vendor = vendorName(readTrimmed(sys, dir+"/vendor"))
			if drv := driverName(sys, dir); drv != "" {
				d.Driver = drv
			}
		}
		if d.Vendor == "" {
			d.Vendor = npuDriverVendor(d.Driver)
		}
		d.Name = npuName(d.Vendor)
		if gen, ok := npuFromCPUModel(model); ok && gen.vendor == d.Vendor {
			d.Name = gen.name()
		}

		switch {
		case !sys.Accessible(node):
			d.Note = "device node not accessible; add the user to the render group"
		case d.Driver == "" && !runtimeInstalled:
			d.Note = "no NPU driver or runtime installed"
		default:
			d.Capable = true
		}
		out = append(out, d)
	}

	if len(out) == 0 {
		if gen, ok := npuFromCPUModel(model); ok {
			out = append(out, hardware.Device{
				Class:   hardware.ClassNPU,
				Vendor:  gen.vendor,
				Name:    gen.name(),
				Present: true,
				Note:    "processor has an NPU but no device node was found; install the amdxdna or intel_vpu driver",
			})
		}
	}
	return out, nil
}

// npuNodes returns the NPU device nodes, sorted and de-duplicated.
func npuNodes(sys System) []string {
	var nodes []string
	for _, pattern := range npuNodePatterns {
		matches, err := sys.Glob(pattern)
		if err != nil {
			continue
		}
		nodes = append(nodes, matches...)
	}
	slices.Sort(nodes)
	return slices.Compact(nodes)
}

func npuDriverVendor(module string) string {
	for _, drv := range npuDrivers {
		if drv.module == module {
			return drv.vendor
		}
	}
	return ""
}

func npuName(vendor string) string {
	switch vendor {
	case "AMD":
		return "AMD XDNA NPU"
	case "Intel":
		return "Intel NPU"
	default:
		return "NPU"
	}
}

// npuGeneration is the NPU a processor model is known to carry.
type npuGeneration struct {
	vendor string
	arch   string
	tops   int
}

func (g npuGeneration) name() string {
	if g.arch == "" {
		return npuName(g.vendor)
	}
	return fmt.Sprintf("%s %s NPU (%d TOPS)", g.vendor, g.arch, g.tops)
}

// npuFromCPUModel recognises processors known to carry an NPU.
func npuFromCPUModel(model string) (npuGeneration, bool) {
	m := strings.ToLower(model)
	switch {
	case amdXDNA2Model.MatchString(m):
		return npuGeneration{vendor: "AMD", arch: "XDNA 2", tops: 50}, true
	case amdXDNA1Model.MatchString(m):
		return npuGeneration{vendor: "AMD", arch: "XDNA", tops: 16}, true
	case intelNPUModel.MatchString(m):
		return npuGeneration{vendor: "Intel"}, true
	default:
		return npuGeneration{}, false
	}
}
