// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// install.go - install and reconfigure commands.
//
// Command: install
// Short:   Detect, configure, start and verify both services
//
// Command: reconfigure
// Short:   Detect and rewrite config.toml, speechrig.env and the compose
//          override without touching containers
//
// Examples:
//   speechrig install
//   speechrig install --stt-backend dgpu --tts-backend cpu
//   speechrig reconfigure --prefer-igpu
//
// A failed service falls back along its chain and is retried on its own.
// The final report is printed even when the run fails.

package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/unicorn-commander/speechrig/internal/install"
)

func (a *App) install(ctx context.Context, s *session) (interface{}, error) {
	cfg, err := loadConfig(s.configDir)
	if err != nil {
		return nil, err
	}
	applyPreferenceFlags(cfg, s.args)

	opts := install.Options{
		ConfigDir:     s.configDir,
		Config:        cfg,
		Preferences:   selectionPreferences(cfg, s.args),
		StartTimeout:  s.settings.StartTimeout,
		VerifyTimeout: s.settings.VerifyTimeout,
	}
	orch := install.New(s.backends.Deps, a.Matrix, s.logger)

	var state *install.State
	if s.args.Command == CmdReconfigure {
		state, err = orch.Reconfigure(ctx, opts)
	} else {
		state, err = orch.Install(ctx, opts)
	}
	if state == nil {
		return nil, err
	}

	rep := state.Report()
	s.logger.Debug("run finished", slog.String("run_id", rep.RunID), slog.String("phase", rep.Phase.String()))
	if !s.args.JSON {
		printReport(a.Stdout, s.args.Command, rep, s.configDir)
	}
	return rep, err
}

func printReport(w io.Writer, cmd Command, rep install.Report, dir string) {
	fmt.Fprintln(w, TitleStyle.Render(fmt.Sprintf("speechrig %s (run %s)", cmd, rep.RunID)))
	for _, sr := range rep.Services {
		status := "failed"
		if sr.Phase == install.PhaseDone {
			status = "ok"
		}
		backend := "-"
		if sr.Backend != "" {
			backend = string(sr.Backend) + "/" + string(sr.Variant)
		}
		line := fmt.Sprintf("  %s %s%s", RenderStatus(status), RenderLabel(string(sr.Service), 8), HighlightStyle.Render(backend))
		if sr.DevicePath != "" {
			line += " " + DimStyle.Render(sr.DevicePath)
		}
		if sr.Changed {
			line += " " + WarningStyle.Render("(recommended "+sr.Recommended+")")
		}
		fmt.Fprintln(w, line)
		for i, at := range sr.Attempts {
			if at.Healthy {
				continue
			}
			fmt.Fprintf(w, "      %s %s/%s failed in %s: %s\n",
				DimStyle.Render(fmt.Sprintf("attempt %d", i+1)), at.Choice.Class, at.Choice.Variant, at.Phase, at.Error)
		}
	}
	if len(rep.Warnings) > 0 {
		fmt.Fprintln(w, SectionStyle.Render("Warnings"))
		for _, warn := range rep.Warnings {
			fmt.Fprintf(w, "  %s %s\n", RenderStatus("warn"), warn)
		}
	}
	if rep.Phase == install.PhaseDone {
		fmt.Fprintf(w, "\n%s configuration written to %s\n", SuccessStyle.Render("Done."), dir)
	}
}
