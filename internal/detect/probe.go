// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package detect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/unicorn-commander/speechrig/internal/hardware"
)

// DefaultTimeout bounds each sub-probe.
// CANCELLATION: Context enables timeout and cancellation
const DefaultTimeout = 5 * time.Second

// probeFunc inspects the host for devices of one class.
type probeFunc func(ctx context.Context, sys System) ([]hardware.Device, error)

type subProbe struct {
	class hardware.Class
	fn    probeFunc
}

// Prober runs the hardware sub-probes and merges their results.
type Prober struct {
	sys     System
	timeout time.Duration
	logger  *slog.Logger
	probes  []subProbe
}

// Option configures a Prober.
type Option func(*Prober)

// WithSystem replaces the host view, mainly for tests.
func WithSystem(sys System) Option {
	return func(p *Prober) { p.sys = sys }
}

// WithTimeout sets the per-probe timeout. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(p *Prober) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Prober) {
		if l != nil {
			p.logger = l
		}
	}
}

// New returns a Prober for the real host.
func New(opts ...Option) *Prober {
	p := &Prober{
		sys:     OS(),
		timeout: DefaultTimeout,
		logger:  slog.Default(),
		probes: []subProbe{
			{hardware.ClassNPU, probeNPU},
			{hardware.ClassIntegratedGPU, probeIntegratedGPU},
			{hardware.ClassDiscreteGPU, probeDiscreteGPU},
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Detect runs the accelerator probes concurrently and returns the merged
// device set. It never fails: a probe that errors, panics or exceeds its
// timeout reports its class as not present.
func (p *Prober) Detect(ctx context.Context) hardware.DeviceSet {
	start := time.Now()
	results := make([][]hardware.Device, len(p.probes))

	var g errgroup.Group
	for i, sp := range p.probes {
		g.Go(func() error {
			results[i] = p.run(ctx, sp)
			return nil
		})
	}
	_ = g.Wait()

	var devs []hardware.Device
	for _, r := range results {
		devs = append(devs, r...)
	}
	devs = append(devs, probeCPU(p.sys))

	set := hardware.NewDeviceSet(devs...)
	for _, d := range set.Devices() {
		p.logger.DebugContext(ctx, "device detected",
			slog.String("class", string(d.Class)),
			slog.String("vendor", d.Vendor),
			slog.String("name", d.Name),
			slog.Bool("present", d.Present),
			slog.Bool("capable", d.Capable),
			slog.String("device_path", d.DevicePath),
			slog.String("note", d.Note))
	}
	p.logger.DebugContext(ctx, "hardware detection finished", slog.Duration("elapsed", time.Since(start)))
	return set
}

// run executes one probe under its timeout. The probe goroutine writes to a
// buffered channel so a hung probe cannot block detection.
func (p *Prober) run(ctx context.Context, sp subProbe) []hardware.Device {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	type result struct {
		devs []hardware.Device
		err  error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("probe panicked: %v", r)}
			}
		}()
		devs, err := sp.fn(ctx, p.sys)
		done <- result{devs: devs, err: err}
	}()

	var r result
	select {
	case r = <-done:
	case <-ctx.Done():
		r.err = ctx.Err()
	}

	if r.err != nil {
		note := r.err.Error()
		if errors.Is(r.err, context.DeadlineExceeded) {
			note = fmt.Sprintf("probe timed out after %s", p.timeout)
		}
		p.logger.DebugContext(ctx, "probe failed", slog.String("class", string(sp.class)), slog.String("error", note))
		d := absent(sp.class, note)
		d.DetectFailed = true
		return []hardware.Device{d}
	}

	var out []hardware.Device
	for _, d := range r.devs {
		if d.Class == sp.class {
			out = append(out, d)
		}
	}
	if len(out) == 0 {
		return []hardware.Device{absent(sp.class, "no device found")}
	}
	return out
}

func absent(class hardware.Class, note string) hardware.Device {
	return hardware.Device{Class: class, Note: note}
}

// unsupportedOS reports whether accelerator probing is skipped on this host.
func unsupportedOS(sys System, class hardware.Class) ([]hardware.Device, bool) {
	if sys.GOOS() == "linux" {
		return nil, false
	}
	return []hardware.Device{absent(class, "accelerator detection is not supported on "+sys.GOOS())}, true
}
