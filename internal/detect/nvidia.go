// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package detect

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/unicorn-commander/speechrig/internal/hardware"
)

// =============================================================================
// NVIDIA DETECTION
// =============================================================================

// nvidiaInfo is the first GPU reported by nvidia-smi.
type nvidiaInfo struct {
	Name     string
	MemoryMB int
	Driver   string
}

func (n *nvidiaInfo) apply(d *hardware.Device) {
	d.Name = n.Name
	if n.MemoryMB > 0 {
		d.MemoryMB = n.MemoryMB
	}
	d.Driver = "nvidia " + n.Driver
}

// queryNvidia asks nvidia-smi for name, memory and driver of the first GPU.
// CANCELLATION: Context enables timeout and cancellation
func queryNvidia(ctx context.Context, sys System) (*nvidiaInfo, error) {
	output, err := sys.Run(ctx, "nvidia-smi",
		"--query-gpu=name,memory.total,driver_version",
		"--format=csv,noheader,nounits")
	if err != nil {
		return nil, err
	}
	return parseNvidiaSmi(string(output))
}

// parseNvidiaSmi parses one CSV line of nvidia-smi output.
func parseNvidiaSmi(output string) (*nvidiaInfo, error) {
	stdout := strings.TrimSpace(output)
	if stdout == "" {
		return nil, errors.New("no GPUs listed")
	}
	line := strings.TrimSpace(strings.Split(stdout, "\n")[0])

	// nvidia-smi outputs CSV with ", " as delimiter
	parts := strings.Split(line, ", ")
	if len(parts) < 3 {
		return nil, fmt.Errorf("unexpected nvidia-smi output %q", line)
	}

	name := strings.TrimSpace(parts[0])
	if !strings.HasPrefix(name, "NVIDIA") {
		name = "NVIDIA " + name
	}

	// Memory is in MiB
	vramMB, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return nil, fmt.Errorf("parse nvidia-smi memory %q: %w", parts[1], err)
	}

	return &nvidiaInfo{
		Name:     name,
		MemoryMB: int(vramMB),
		Driver:   strings.TrimSpace(parts[2]),
	}, nil
}
