// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package install

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/unicorn-commander/speechrig/internal/capability"
	"github.com/unicorn-commander/speechrig/internal/config"
	"github.com/unicorn-commander/speechrig/internal/emitter"
	"github.com/unicorn-commander/speechrig/internal/hardware"
	"github.com/unicorn-commander/speechrig/internal/selector"
	"github.com/unicorn-commander/speechrig/internal/services"
)

// Default bounds for the external steps.
const (
	DefaultStartTimeout  = 15 * time.Minute
	DefaultVerifyTimeout = 3 * time.Minute
)

// =============================================================================
// COLLABORATORS
// =============================================================================

// Prereq checks the container toolchain.
type Prereq interface {
	Check(ctx context.Context) error
}

// Detector reports the host's devices.
type Detector interface {
	Detect(ctx context.Context) hardware.DeviceSet
}

// Configurer writes the configuration artifact.
type Configurer interface {
	Emit(choices map[hardware.Service]selector.Choice, opts emitter.Options) (*emitter.Artifact, error)
}

// Launcher builds and starts one service.
type Launcher interface {
	Start(ctx context.Context, service string) error
}

// Verifier waits for a service to report healthy on a backend.
type Verifier interface {
	WaitHealthy(ctx context.Context, url string, want hardware.Class, timeout time.Duration) (services.HealthStatus, error)
}

// Deps are the collaborators of an Orchestrator. Reconfigure needs only
// Detector and Configurer.
type Deps struct {
	Prereq     Prereq
	Detector   Detector
	Configurer Configurer
	Launcher   Launcher
	Verifier   Verifier
}

// Options parameterize one run.
type Options struct {
	// ConfigDir receives the artifact.
	ConfigDir string
	// Config is the base configuration. Nil means defaults.
	Config *config.Config
	// Preferences drive selection.
	Preferences   selector.Preferences
	StartTimeout  time.Duration
	VerifyTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Config == nil {
		o.Config = config.Default()
	}
	if o.StartTimeout <= 0 {
		o.StartTimeout = DefaultStartTimeout
	}
	if o.VerifyTimeout <= 0 {
		o.VerifyTimeout = DefaultVerifyTimeout
	}
	return o
}

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// Orchestrator drives detection, selection, configuration, start and
// verification, falling back along each service's chain on failure.
type Orchestrator struct {
	deps   Deps
	matrix capability.Matrix
	logger *slog.Logger
}

// New creates an Orchestrator.
func New(deps Deps, m capability.Matrix, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{deps: deps, matrix: m, logger: logger}
}

// Recommend detects the hardware and selects a backend per service without
// writing anything.
func (o *Orchestrator) Recommend(ctx context.Context, prefs selector.Preferences) (hardware.DeviceSet, map[hardware.Service]selector.Choice) {
	devices := o.deps.Detector.Detect(ctx)
	return devices, selector.Select(devices, o.matrix, prefs)
}

// run is the mutable context of one Install or Reconfigure call.
type run struct {
	o     *Orchestrator
	opts  Options
	state *State

	// mu guards state.Warnings, state.Final and current. Configure holds
	// it for the whole emission so the artifact has one writer.
	mu      sync.Mutex
	current map[hardware.Service]selector.Choice
}

// Reconfigure runs Detect, Select and Configure only.
func (o *Orchestrator) Reconfigure(ctx context.Context, opts Options) (*State, error) {
	r := o.newRun(opts)
	if err := r.prepare(ctx, false); err != nil {
		return r.state, err
	}
	if err := r.state.transition(PhaseDone); err != nil {
		return r.state, r.fail(err)
	}
	for svc, c := range r.current {
		r.state.Final[svc] = c
	}
	return r.state, nil
}

// Install runs the full state machine. The returned state is complete even
// when an error is returned.
func (o *Orchestrator) Install(ctx context.Context, opts Options) (*State, error) {
	r := o.newRun(opts)
	if err := r.prepare(ctx, true); err != nil {
		return r.state, err
	}
	if err := r.state.transition(PhaseStart); err != nil {
		return r.state, r.fail(err)
	}

	var g errgroup.Group
	errs := make([]error, len(hardware.Services()))
	for i, svc := range hardware.Services() {
		g.Go(func() error {
			errs[i] = r.lifecycle(ctx, svc)
			return nil
		})
	}
	_ = g.Wait()

	if err := joinServiceErrors(errs); err != nil {
		return r.state, r.fail(err)
	}
	if err := r.state.transition(PhaseVerify); err != nil {
		return r.state, r.fail(err)
	}
	if err := r.state.transition(PhaseDone); err != nil {
		return r.state, r.fail(err)
	}
	o.logger.Info("installation complete", slog.String("run_id", r.state.RunID))
	return r.state, nil
}

func (o *Orchestrator) newRun(opts Options) *run {
	return &run{
		o:       o,
		opts:    opts.withDefaults(),
		state:   newState(),
		current: make(map[hardware.Service]selector.Choice),
	}
}

// prepare runs the shared phases up to and including the first Configure.
func (r *run) prepare(ctx context.Context, prereq bool) error {
	logger := r.o.logger.With(slog.String("run_id", r.state.RunID))

	if prereq {
		if err := r.state.transition(PhasePrereqCheck); err != nil {
			return r.fail(err)
		}
		if err := r.o.deps.Prereq.Check(ctx); err != nil {
			if ctx.Err() != nil {
				return r.fail(&AbortedError{Phase: PhasePrereqCheck, Err: ctx.Err()})
			}
			return r.fail(&EnvironmentError{Err: err})
		}
	}

	if err := r.state.transition(PhaseDetect); err != nil {
		return r.fail(err)
	}
	r.state.Devices = r.o.deps.Detector.Detect(ctx)
	if ctx.Err() != nil {
		return r.fail(&AbortedError{Phase: PhaseDetect, Err: ctx.Err()})
	}
	for _, d := range r.state.Devices.Devices() {
		switch {
		case d.DetectFailed:
			r.warn(fmt.Sprintf("%s detection failed, treating it as absent: %s", d.Class, d.Note))
		case d.Present && !d.Capable:
			r.warn(fmt.Sprintf("%s %s found but not usable: %s", d.Class, d.Name, d.Note))
		}
		logger.Debug("device", slog.String("class", string(d.Class)), slog.Bool("present", d.Present), slog.Bool("capable", d.Capable), slog.String("note", d.Note))
	}

	if err := r.state.transition(PhaseSelect); err != nil {
		return r.fail(err)
	}
	choices := selector.Select(r.state.Devices, r.o.matrix, r.opts.Preferences)
	for _, svc := range hardware.Services() {
		c, ok := choices[svc]
		if !ok {
			return r.fail(fmt.Errorf("no backend selected for %s", svc))
		}
		r.state.Initial[svc] = c
		r.current[svc] = c
		r.state.Services[svc] = &ServiceState{Service: svc, Phase: PhaseSelect, Current: c}
		for _, note := range c.Notes {
			r.warn(fmt.Sprintf("%s: %s", svc, note))
			logger.Info("selection downgraded", slog.String("service", string(svc)), slog.String("note", note))
		}
		logger.Info("backend selected", slog.String("service", string(svc)), slog.String("backend", string(c.Class)), slog.String("variant", string(c.Variant)))
	}

	if err := r.state.transition(PhaseConfigure); err != nil {
		return r.fail(err)
	}
	if err := r.configure(nil); err != nil {
		return r.fail(err)
	}
	return nil
}

// configure emits the artifact for the current choices and moves the given
// services (all when nil) to Configure.
func (r *run) configure(only []hardware.Service) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if only == nil {
		only = hardware.Services()
	}
	for _, svc := range only {
		if err := r.state.Services[svc].transition(PhaseConfigure); err != nil {
			return err
		}
	}
	_, err := r.o.deps.Configurer.Emit(r.current, emitter.Options{Dir: r.opts.ConfigDir, Base: r.opts.Config})
	if err != nil {
		return fmt.Errorf("configure: %w", err)
	}
	return nil
}

// lifecycle starts and verifies one service, walking its fallback chain
// until it is healthy or the chain is exhausted.
func (r *run) lifecycle(ctx context.Context, svc hardware.Service) error {
	ss := r.state.Services[svc]
	cfg := r.opts.Config
	name := cfg.Endpoint(svc).Name
	url := cfg.HealthURL(svc)
	logger := r.o.logger.With(slog.String("run_id", r.state.RunID), slog.String("service", string(svc)))

	for {
		current := ss.Current
		began := time.Now()

		if err := ss.transition(PhaseStart); err != nil {
			return err
		}
		logger.Info("starting", slog.String("backend", string(current.Class)), slog.String("variant", string(current.Variant)))
		failedIn := PhaseStart
		startCtx, cancel := context.WithTimeout(ctx, r.opts.StartTimeout)
		err := r.o.deps.Launcher.Start(startCtx, name)
		cancel()

		if err == nil {
			if err = ss.transition(PhaseVerify); err != nil {
				return err
			}
			failedIn = PhaseVerify
			var status services.HealthStatus
			status, err = r.o.deps.Verifier.WaitHealthy(ctx, url, current.Class, r.opts.VerifyTimeout)
			if err == nil {
				if err := ss.transition(PhaseDone); err != nil {
					return err
				}
				ss.Attempted = append(ss.Attempted, Attempt{Choice: current, Phase: PhaseDone, Healthy: true, Duration: time.Since(began)})
				r.mu.Lock()
				r.state.Final[svc] = current
				r.mu.Unlock()
				logger.Info("healthy", slog.String("backend", string(current.Class)), slog.String("model", status.Model), slog.Duration("took", time.Since(began)))
				return nil
			}
		}

		if ctx.Err() != nil {
			_ = ss.transition(PhaseFailed)
			return &AbortedError{Phase: failedIn, Err: ctx.Err()}
		}

		ss.Attempted = append(ss.Attempted, Attempt{Choice: current, Phase: failedIn, Error: err.Error(), Duration: time.Since(began)})
		logger.Warn("attempt failed",
			slog.String("backend", string(current.Class)),
			slog.String("variant", string(current.Variant)),
			slog.String("phase", failedIn.String()),
			slog.String("error", err.Error()))

		next, ok := current.Next()
		if !ok {
			_ = ss.transition(PhaseFailed)
			return &ExhaustedError{Service: svc, Attempts: ss.failures()}
		}
		if next.Class == hardware.ClassCPU && !cfg.Preferences.FallbackToCPU {
			_ = ss.transition(PhaseFailed)
			return &ExhaustedError{Service: svc, Attempts: ss.failures(), StoppedBeforeCPU: true}
		}

		if err := ss.transition(PhaseSelect); err != nil {
			return err
		}
		r.warn(fmt.Sprintf("%s: %s/%s failed in %s; falling back to %s/%s", svc, current.Class, current.Variant, failedIn, next.Class, next.Variant))
		logger.Info("falling back", slog.String("backend", string(next.Class)), slog.String("variant", string(next.Variant)))
		ss.Current = next

		r.mu.Lock()
		r.current[svc] = next
		r.mu.Unlock()
		if err := r.configure([]hardware.Service{svc}); err != nil {
			_ = ss.transition(PhaseFailed)
			return err
		}
	}
}

func (r *run) warn(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.Warnings = append(r.state.Warnings, msg)
}

// fail moves the run to Failed and records err.
func (r *run) fail(err error) error {
	r.state.Phase = PhaseFailed
	r.state.LastError = err
	r.o.logger.Error("installation failed", slog.String("run_id", r.state.RunID), slog.String("error", err.Error()))
	return err
}

// joinServiceErrors reports an abort in preference to exhaustion.
func joinServiceErrors(errs []error) error {
	for _, err := range errs {
		var aborted *AbortedError
		if errors.As(err, &aborted) {
			return err
		}
	}
	return errors.Join(errs...)
}
