// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package detect probes the host for speech acceleration hardware.
//
// The NPU, integrated GPU and discrete GPU probes run concurrently, each under
// its own timeout, and only ever read system state. A probe that fails, hangs
// or panics reports its class as not present with a note instead of failing
// detection. The CPU is always reported.
//
// # Sources
//
//   - NPU: /dev/accel/accel*, /dev/xdna, /dev/npu*, /sys/module/{amdxdna,intel_vpu},
//     /opt/ryzen-ai-sw and /opt/xilinx/xrt, falling back to a CPU model heuristic
//   - GPUs: /dev/dri/renderD* with PCI ids and driver from /sys/class/drm
//   - NVIDIA: nvidia-smi
//   - AMD: /dev/kfd and rocm-smi
//   - CPU: /proc/cpuinfo
//
// # Usage
//
//	p := detect.New(detect.WithTimeout(5 * time.Second))
//	devices := p.Detect(ctx)
//	for _, d := range devices.Devices() {
//		fmt.Println(d.Class, d.Present, d.Capable)
//	}
//
// All filesystem and command access goes through the System interface so
// probes can be tested against a fake host.
package detect
