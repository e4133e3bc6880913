// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package detect

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/unicorn-commander/speechrig/internal/hardware"
)

// =============================================================================
// AMD DETECTION
// =============================================================================

var amdNumericRegex = regexp.MustCompile(`(\d+)\s*$`)

// rocmUnitDivisor converts a rocm-smi memory value to MB using the unit
// marker in the label, e.g. "VRAM Total Memory (B)". Values without a
// marker are taken as MB.
func rocmUnitDivisor(lowerLine string) uint64 {
	switch {
	case strings.Contains(lowerLine, "(b)"):
		return 1024 * 1024
	case strings.Contains(lowerLine, "(kb)"), strings.Contains(lowerLine, "(kib)"):
		return 1024
	default:
		return 1
	}
}

// rocmInfo is what rocm-smi reports about the first card.
type rocmInfo struct {
	Name     string
	MemoryMB int
}

// amdCapable marks an AMD discrete card capable when the ROCm compute
// interface is usable, enriching it with rocm-smi data when available.
// CANCELLATION: Context enables timeout and cancellation
func amdCapable(ctx context.Context, sys System, d *hardware.Device) {
	kfd := sys.Accessible("/dev/kfd")

	info, err := queryRocm(ctx, sys)
	if err == nil {
		if info.Name != "" {
			d.Name = info.Name
		}
		if d.MemoryMB == 0 && info.MemoryMB > 0 {
			d.MemoryMB = info.MemoryMB
		}
	}

	switch {
	case kfd || err == nil:
		d.Capable = true
	case sys.Exists("/dev/kfd"):
		d.Note = "/dev/kfd not accessible; add the user to the render and video groups"
	default:
		d.Note = "ROCm not available (/dev/kfd missing, rocm-smi not answering)"
	}
}

// queryRocm runs rocm-smi for product name and VRAM.
func queryRocm(ctx context.Context, sys System) (*rocmInfo, error) {
	output, err := sys.Run(ctx, "rocm-smi", "--showproductname", "--showmeminfo", "vram")
	if err != nil {
		return nil, err
	}
	return parseRocmSmi(string(output)), nil
}

// parseRocmSmi extracts the card series and total VRAM from rocm-smi output.
func parseRocmSmi(stdout string) *rocmInfo {
	info := &rocmInfo{}
	for _, line := range strings.Split(stdout, "\n") {
		lower := strings.ToLower(line)

		if info.Name == "" {
			if idx := strings.Index(lower, "card series:"); idx >= 0 {
				if series := strings.TrimSpace(line[idx+len("card series:"):]); series != "" {
					info.Name = "AMD " + series
				}
			}
		}

		if info.MemoryMB == 0 && strings.Contains(lower, "total memory") && !strings.Contains(lower, "used") {
			matches := amdNumericRegex.FindStringSubmatch(strings.TrimSpace(line))
			if len(matches) > 1 {
				if val, err := strconv.ParseUint(matches[1], 10, 64); err == nil {
					info.MemoryMB = int(val / rocmUnitDivisor(lower))
				}
			}
		}
	}
	return info
}
