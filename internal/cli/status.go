// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// status.go - Status command implementation for speechrig.
//
// Command: status
// Short:   Check the configured services once
// Aliases: s
//
// Examples:
//   speechrig status                 Show service health
//   speechrig s                      Show status (short alias)
//   speechrig status --json          Status in JSON format
//
// Output Fields:
//   Backend    Backend and variant recorded in config.toml
//   URL        Health endpoint probed
//   Health     Healthy/unhealthy and the backend the service reports
//
// Exits 1 when any service is unhealthy or reports another backend.

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/unicorn-commander/speechrig/internal/config"
	"github.com/unicorn-commander/speechrig/internal/hardware"
	"github.com/unicorn-commander/speechrig/internal/services"
)

// ServiceStatus is the health of one configured service.
type ServiceStatus struct {
	Service  hardware.Service `json:"service"`
	Name     string           `json:"name"`
	Backend  hardware.Class   `json:"backend"`
	Variant  hardware.Variant `json:"variant"`
	URL      string           `json:"url"`
	Healthy  bool             `json:"healthy"`
	Reported string           `json:"reported_backend,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// StatusResult is the status command payload.
type StatusResult struct {
	ConfigPath string          `json:"config_path"`
	Detection  string          `json:"detection"`
	Services   []ServiceStatus `json:"services"`
}

func (a *App) status(ctx context.Context, s *session) (interface{}, error) {
	path := config.Path(s.configDir)
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, &ConfigError{Path: path, Err: errors.New("not configured; run 'speechrig install' or 'speechrig reconfigure' first")}
	}
	cfg, err := loadConfig(s.configDir)
	if err != nil {
		return nil, err
	}

	res := StatusResult{ConfigPath: path, Detection: cfg.Hardware.Detection}
	unhealthy := 0
	for _, svc := range hardware.Services() {
		st := checkService(ctx, s.backends.Health, cfg, svc)
		if !st.Healthy {
			unhealthy++
		}
		res.Services = append(res.Services, st)
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	if !s.args.JSON {
		printStatus(a.Stdout, res)
	}
	if unhealthy > 0 {
		return res, NewCommandError("status", "health check", fmt.Sprintf("%d of %d services unhealthy", unhealthy, len(res.Services)), nil)
	}
	return res, nil
}

func checkService(ctx context.Context, hc HealthChecker, cfg *config.Config, svc hardware.Service) ServiceStatus {
	b := cfg.Backend(svc)
	st := ServiceStatus{
		Service: svc,
		Name:    cfg.Endpoint(svc).Name,
		Backend: b.Backend,
		Variant: b.Variant,
		URL:     cfg.HealthURL(svc),
	}
	hs, err := hc.Check(ctx, st.URL)
	if err == nil {
		err = services.Verify(st.URL, hs, b.Backend)
	}
	st.Reported = hs.Backend
	if st.Reported == "" {
		st.Reported = hs.Device
	}
	if err != nil {
		st.Error = err.Error()
		return st
	}
	st.Healthy = true
	return st
}

func printStatus(w io.Writer, res StatusResult) {
	fmt.Fprintln(w, TitleStyle.Render("speechrig status"))
	fmt.Fprintf(w, "%s%s\n", RenderLabel("Config"), ValueStyle.Render(res.ConfigPath))
	fmt.Fprintf(w, "%s%s\n", RenderLabel("Detection"), ValueStyle.Render(res.Detection))
	fmt.Fprintln(w, RenderSeparator())
	for _, st := range res.Services {
		health := "healthy"
		if !st.Healthy {
			health = "unhealthy"
		}
		fmt.Fprintf(w, "%s %s%s %s\n", RenderStatus(health),
			RenderLabel(fmt.Sprintf("%s (%s)", st.Service, st.Name)),
			HighlightStyle.Render(string(st.Backend)+"/"+string(st.Variant)),
			DimStyle.Render(st.URL))
		if st.Reported != "" {
			fmt.Fprintf(w, "     %s%s\n", RenderLabel("reports"), ValueStyle.Render(st.Reported))
		}
		if st.Error != "" {
			fmt.Fprintf(w, "     %s%s\n", RenderLabel("error"), ErrorStyle.Render(st.Error))
		}
	}
}
