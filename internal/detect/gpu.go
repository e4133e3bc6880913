// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package detect

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/unicorn-commander/speechrig/internal/hardware"
)

// =============================================================================
// DRM RENDER NODES
// =============================================================================

const (
	pciVendorAMD    = "0x1002"
	pciVendorIntel  = "0x8086"
	pciVendorNVIDIA = "0x10de"

	// AMD APUs expose a small VRAM carve-out; anything above this is a card.
	amdIntegratedMaxVRAMMB = 2048
)

// computeDrivers are kernel drivers that can serve GPU compute to containers.
var computeDrivers = map[string]bool{
	"i915":   true,
	"xe":     true,
	"amdgpu": true,
}

// renderNode is one /dev/dri/renderD* node with its PCI identity.
type renderNode struct {
	Path     string
	VendorID string
	DeviceID string
	Driver   string
	VRAMMB   int
}

// renderNodes enumerates DRM render nodes and reads their sysfs attributes.
func renderNodes(sys System) []renderNode {
	paths, err := sys.Glob("/dev/dri/renderD*")
	if err != nil {
		return nil
	}

	nodes := make([]renderNode, 0, len(paths))
	for _, p := range paths {
		dir := "/sys/class/drm/" + filepath.Base(p) + "/device"
		n := renderNode{
			Path:     p,
			VendorID: strings.ToLower(readTrimmed(sys, dir+"/vendor")),
			DeviceID: strings.ToLower(readTrimmed(sys, dir+"/device")),
			Driver:   driverName(sys, dir),
		}
		if raw := readTrimmed(sys, dir+"/mem_info_vram_total"); raw != "" {
			if b, err := strconv.ParseUint(raw, 10, 64); err == nil {
				n.VRAMMB = int(b / (1024 * 1024))
			}
		}
		nodes = append(nodes, n)
	}
	return nodes
}

// Class classifies the node as integrated or discrete. Unknown vendors
// return "".
func (n renderNode) Class() hardware.Class {
	switch n.VendorID {
	case pciVendorIntel:
		if isIntelArc(n.DeviceID) {
			return hardware.ClassDiscreteGPU
		}
		return hardware.ClassIntegratedGPU
	case pciVendorAMD:
		if n.VRAMMB > amdIntegratedMaxVRAMMB {
			return hardware.ClassDiscreteGPU
		}
		return hardware.ClassIntegratedGPU
	case pciVendorNVIDIA:
		return hardware.ClassDiscreteGPU
	default:
		return ""
	}
}

// Name returns a display name built from the PCI identity.
func (n renderNode) Name() string {
	vendor := vendorName(n.VendorID)
	kind := "Integrated GPU"
	if n.Class() == hardware.ClassDiscreteGPU {
		kind = "GPU"
		if n.VendorID == pciVendorIntel {
			kind = "Arc GPU"
		}
	}
	if n.DeviceID == "" {
		return vendor + " " + kind
	}
	return fmt.Sprintf("%s %s [%s]", vendor, kind, strings.TrimPrefix(n.DeviceID, "0x"))
}

func (n renderNode) device(class hardware.Class) hardware.Device {
	return hardware.Device{
		Class:      class,
		Vendor:     vendorName(n.VendorID),
		Name:       n.Name(),
		Driver:     n.Driver,
		Present:    true,
		DevicePath: n.Path,
		MemoryMB:   n.VRAMMB,
	}
}

// isIntelArc reports whether an Intel PCI device id is a discrete Arc card
// (Alchemist 0x56xx, Battlemage 0xe20x/0xe21x).
func isIntelArc(deviceID string) bool {
	id := strings.TrimPrefix(strings.ToLower(deviceID), "0x")
	return strings.HasPrefix(id, "56") || strings.HasPrefix(id, "e20") || strings.HasPrefix(id, "e21")
}

// =============================================================================
// INTEGRATED GPU
// =============================================================================

// probeIntegratedGPU finds on-die GPUs with a compute driver bound.
func probeIntegratedGPU(ctx context.Context, sys System) ([]hardware.Device, error) {
	if devs, skip := unsupportedOS(sys, hardware.ClassIntegratedGPU); skip {
		return devs, nil
	}

	var out []hardware.Device
	for _, n := range renderNodes(sys) {
		if n.Class() != hardware.ClassIntegratedGPU {
			continue
		}
		d := n.device(hardware.ClassIntegratedGPU)
		switch {
		case !computeDrivers[n.Driver]:
			d.Note = "no compute driver bound (want i915, xe or amdgpu)"
		case !sys.Accessible(n.Path):
			d.Note = "render node not accessible; add the user to the render group"
		default:
			d.Capable = true
		}
		out = append(out, d)
	}
	return out, nil
}

// =============================================================================
// DISCRETE GPU
// =============================================================================

// probeDiscreteGPU finds discrete cards and checks their vendor runtime:
// nvidia-smi for NVIDIA, /dev/kfd or rocm-smi for AMD.
func probeDiscreteGPU(ctx context.Context, sys System) ([]hardware.Device, error) {
	if devs, skip := unsupportedOS(sys, hardware.ClassDiscreteGPU); skip {
		return devs, nil
	}

	var discrete []renderNode
	hasNvidiaNode := false
	for _, n := range renderNodes(sys) {
		if n.Class() == hardware.ClassDiscreteGPU {
			discrete = append(discrete, n)
			hasNvidiaNode = hasNvidiaNode || n.VendorID == pciVendorNVIDIA
		}
	}

	var nv *nvidiaInfo
	var nvErr error
	if hasNvidiaNode || sys.Exists("/dev/nvidiactl") {
		nv, nvErr = queryNvidia(ctx, sys)
	}

	var out []hardware.Device
	for _, n := range discrete {
		d := n.device(hardware.ClassDiscreteGPU)
		switch n.VendorID {
		case pciVendorNVIDIA:
			if nvErr != nil {
				d.Note = "nvidia-smi not answering: " + nvErr.Error()
				break
			}
			nv.apply(&d)
			d.Capable = true
		case pciVendorAMD:
			amdCapable(ctx, sys, &d)
		case pciVendorIntel:
			if sys.Accessible(n.Path) {
				d.Capable = true
			} else {
				d.Note = "render node not accessible; add the user to the render group"
			}
		}
		out = append(out, d)
	}

	// The proprietary driver without nvidia-drm exposes only /dev/nvidia*.
	if !hasNvidiaNode && nv != nil && nvErr == nil {
		d := hardware.Device{
			Class:      hardware.ClassDiscreteGPU,
			Vendor:     "NVIDIA",
			Present:    true,
			Capable:    true,
			DevicePath: "/dev/nvidia0",
		}
		nv.apply(&d)
		out = append(out, d)
	}
	return out, nil
}
