// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package detect

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
)

// System is the read-only view of the host the probes use.
type System interface {
	// GOOS returns the operating system name.
	GOOS() string
	// ReadFile returns the contents of a file.
	ReadFile(name string) ([]byte, error)
	// Glob returns the sorted paths matching pattern.
	Glob(pattern string) ([]string, error)
	// Exists reports whether a path exists.
	Exists(name string) bool
	// Accessible reports whether the current user can read and write path.
	Accessible(name string) bool
	// Readlink returns the destination of a symbolic link.
	Readlink(name string) (string, error)
	// Run executes a command and returns its stdout.
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// OS returns the System backed by the real host.
func OS() System {
	return osSystem{}
}

type osSystem struct{}

func (osSystem) GOOS() string { return runtime.GOOS }

func (osSystem) ReadFile(name string) ([]byte, error) { return os.ReadFile(name) }

func (osSystem) Glob(pattern string) ([]string, error) {
	matches, err := filepath.Glob(pattern)
	sort.Strings(matches)
	return matches, err
}

func (osSystem) Exists(name string) bool {
	_, err := os.Stat(name)
	return err == nil
}

func (osSystem) Accessible(name string) bool { return accessible(name) }

func (osSystem) Readlink(name string) (string, error) { return os.Readlink(name) }

// Run executes a command with the context's deadline.
// CANCELLATION: Context enables timeout and cancellation
func (osSystem) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return nil, err
	}
	return exec.CommandContext(ctx, path, args...).Output()
}

// readTrimmed reads a small sysfs attribute and trims whitespace.
func readTrimmed(sys System, name string) string {
	data, err := sys.ReadFile(name)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// driverName returns the kernel driver bound to a sysfs device directory.
func driverName(sys System, deviceDir string) string {
	link, err := sys.Readlink(deviceDir + "/driver")
	if err != nil || link == "" {
		return ""
	}
	return filepath.Base(link)
}

// vendorName maps a PCI vendor id to a display name.
func vendorName(id string) string {
	switch strings.ToLower(id) {
	case "0x1002", "0x1022":
		return "AMD"
	case "0x8086":
		return "Intel"
	case "0x10de":
		return "NVIDIA"
	default:
		return ""
	}
}
