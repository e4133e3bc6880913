// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unicorn-commander/speechrig/internal/hardware"
)

// =============================================================================
// HEALTH
// =============================================================================

func fastClient() *HealthClient {
	return NewHealthClient(&ClientConfig{
		RequestTimeout:  time.Second,
		InitialInterval: 5 * time.Millisecond,
		MaxInterval:     20 * time.Millisecond,
	}, nil)
}

// healthServer answers 503 for the first failures requests, then body.
func healthServer(t *testing.T, failures int32, body HealthStatus) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		if n <= failures {
			http.Error(w, "loading model", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestHealthStatus_ActiveBackend(t *testing.T) {
	tests := []struct {
		status HealthStatus
		want   hardware.Class
		ok     bool
	}{
		{HealthStatus{Backend: "openvino"}, hardware.ClassIntegratedGPU, true},
		{HealthStatus{Device: "cuda"}, hardware.ClassDiscreteGPU, true},
		{HealthStatus{Backend: "xdna", Device: "cpu"}, hardware.ClassNPU, true},
		{HealthStatus{Backend: "ONNX Runtime", Device: "CPU"}, hardware.ClassCPU, true},
		{HealthStatus{Backend: "ONNX Runtime"}, "", false},
		{HealthStatus{Backend: "ONNX Runtime", ExecutionProvider: "CUDAExecutionProvider"}, hardware.ClassDiscreteGPU, true},
		{HealthStatus{Device: "GPU"}, hardware.ClassIntegratedGPU, true},
		{HealthStatus{}, "", false},
	}
	for _, tc := range tests {
		got, _, ok := tc.status.ActiveBackend()
		assert.Equal(t, tc.ok, ok, "%+v", tc.status)
		assert.Equal(t, tc.want, got, "%+v", tc.status)
	}
}

func TestWaitHealthy_RetriesUntilHealthy(t *testing.T) {
	srv, hits := healthServer(t, 2, HealthStatus{Status: "healthy", Device: "cuda", Model: "large-v3"})

	status, err := fastClient().WaitHealthy(context.Background(), srv.URL+"/health", hardware.ClassDiscreteGPU, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "large-v3", status.Model)
	assert.Equal(t, int32(3), hits.Load())
}

func TestWaitHealthy_BackendMismatchStopsAtOnce(t *testing.T) {
	srv, hits := healthServer(t, 0, HealthStatus{Status: "healthy", Backend: "cpu"})

	_, err := fastClient().WaitHealthy(context.Background(), srv.URL, hardware.ClassIntegratedGPU, 5*time.Second)
	require.Error(t, err)

	var mismatch *BackendMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, hardware.ClassIntegratedGPU, mismatch.Want)
	assert.Equal(t, "cpu", mismatch.Reported)
	assert.Equal(t, int32(1), hits.Load())
}

func TestWaitHealthy_UnverifiedBackendFails(t *testing.T) {
	tests := []struct {
		name string
		body HealthStatus
	}{
		{"no backend", HealthStatus{Status: "healthy"}},
		{"unrecognized backend", HealthStatus{Status: "healthy", Backend: "ONNX Runtime"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, hits := healthServer(t, 0, tt.body)

			_, err := fastClient().WaitHealthy(context.Background(), srv.URL, hardware.ClassNPU, 100*time.Millisecond)
			require.Error(t, err)

			var ce *ClientError
			require.True(t, errors.As(err, &ce), err.Error())
			assert.Equal(t, ErrTypeUnverified, ce.Type)
			assert.Greater(t, hits.Load(), int32(1), "an unverified answer is polled again")

			var mismatch *BackendMismatchError
			assert.False(t, errors.As(err, &mismatch))
		})
	}
}

func TestWaitHealthy_GenericGPUMatchesDiscrete(t *testing.T) {
	srv, _ := healthServer(t, 0, HealthStatus{Status: "healthy", Device: "GPU"})

	for _, want := range []hardware.Class{hardware.ClassDiscreteGPU, hardware.ClassIntegratedGPU} {
		_, err := fastClient().WaitHealthy(context.Background(), srv.URL, want, time.Second)
		assert.NoError(t, err, want)
	}
	_, err := fastClient().WaitHealthy(context.Background(), srv.URL, hardware.ClassNPU, time.Second)
	var mismatch *BackendMismatchError
	assert.True(t, errors.As(err, &mismatch))
}

func TestVerify(t *testing.T) {
	tests := []struct {
		name     string
		status   HealthStatus
		want     hardware.Class
		ok       bool
		mismatch bool
	}{
		{"backend matches", HealthStatus{Backend: "openvino"}, hardware.ClassIntegratedGPU, true, false},
		{"device matches", HealthStatus{Backend: "ONNX Runtime", Device: "CPU"}, hardware.ClassCPU, true, false},
		{"provider matches", HealthStatus{Backend: "ONNX Runtime", ExecutionProvider: "VitisAIExecutionProvider"}, hardware.ClassNPU, true, false},
		{"other backend", HealthStatus{Device: "cpu"}, hardware.ClassNPU, false, true},
		{"nothing reported", HealthStatus{}, hardware.ClassCPU, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Verify("http://localhost:8880/health", tt.status, tt.want)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var mismatch *BackendMismatchError
			assert.Equal(t, tt.mismatch, errors.As(err, &mismatch))
		})
	}
}

func TestWaitHealthy_Timeout(t *testing.T) {
	srv, hits := healthServer(t, 1<<30, HealthStatus{})

	start := time.Now()
	_, err := fastClient().WaitHealthy(context.Background(), srv.URL, hardware.ClassCPU, 150*time.Millisecond)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Greater(t, hits.Load(), int32(1))

	var ce *ClientError
	assert.True(t, errors.As(err, &ce))
}

func TestWaitHealthy_Cancelled(t *testing.T) {
	srv, _ := healthServer(t, 1<<30, HealthStatus{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()
	_, err := fastClient().WaitHealthy(ctx, srv.URL, hardware.ClassCPU, time.Minute)
	require.Error(t, err)
	assert.Error(t, ctx.Err())
}

func TestCheck(t *testing.T) {
	t.Run("unhealthy status", func(t *testing.T) {
		srv, _ := healthServer(t, 0, HealthStatus{Status: "starting"})
		_, err := fastClient().Check(context.Background(), srv.URL)
		var ce *ClientError
		require.True(t, errors.As(err, &ce))
		assert.Equal(t, ErrTypeUnhealthy, ce.Type)
	})

	t.Run("not json", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("<html>ok</html>"))
		}))
		defer srv.Close()
		_, err := fastClient().Check(context.Background(), srv.URL)
		var ce *ClientError
		require.True(t, errors.As(err, &ce))
		assert.Equal(t, ErrTypeInvalidResponse, ce.Type)
	})

	t.Run("not running", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()
		_, err := fastClient().Check(context.Background(), url)
		var ce *ClientError
		require.True(t, errors.As(err, &ce))
		assert.Equal(t, ErrTypeNotRunning, ce.Type)
	})
}

// =============================================================================
// TOOLCHAIN AND COMPOSE
// =============================================================================

type call struct {
	dir  string
	name string
	args []string
}

type fakeRunner struct {
	mu    sync.Mutex
	calls []call
	fail  map[string]error
}

func (f *fakeRunner) Run(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{dir: dir, name: name, args: args})
	if err, ok := f.fail[strings.Join(args, " ")]; ok {
		return nil, err
	}
	return []byte("ok\n"), nil
}

func TestToolchainCheck(t *testing.T) {
	r := &fakeRunner{}
	require.NoError(t, NewToolchain(r, "", nil).Check(context.Background()))
	require.Len(t, r.calls, 3)
	assert.Equal(t, "docker", r.calls[0].name)
	assert.Equal(t, []string{"compose", "version"}, r.calls[1].args)
}

func TestToolchainCheck_DaemonDown(t *testing.T) {
	r := &fakeRunner{fail: map[string]error{
		"info --format {{.ServerVersion}}": &CommandError{Command: "docker info", ExitCode: 1, Output: "Cannot connect to the Docker daemon"},
	}}
	err := NewToolchain(r, "docker", nil).Check(context.Background())
	require.Error(t, err)

	var pe *PrereqError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "docker info", pe.Step)
	assert.Contains(t, pe.Hint, "daemon")
	assert.Contains(t, err.Error(), "Cannot connect")
}

func TestToolchainCheck_Missing(t *testing.T) {
	r := &fakeRunner{fail: map[string]error{
		"--version": &CommandError{Command: "podman --version", Err: exec.ErrNotFound},
	}}
	err := NewToolchain(r, "podman", nil).Check(context.Background())
	var pe *PrereqError
	require.True(t, errors.As(err, &pe))
	assert.Contains(t, pe.Hint, "SPEECHRIG_DOCKER")
	assert.Len(t, r.calls, 1)
}

func TestComposeStart(t *testing.T) {
	r := &fakeRunner{}
	c, err := NewCompose(r, ComposeOptions{
		ComposeFile:  "/srv/speech/docker-compose.yml",
		OverrideFile: "/home/op/.speechrig/docker-compose.hardware.yml",
		EnvFile:      "/home/op/.speechrig/speechrig.env",
	}, nil)
	require.NoError(t, err)

	require.NoError(t, c.Start(context.Background(), "whisperx"))
	require.Len(t, r.calls, 1)
	assert.Equal(t, "/srv/speech", r.calls[0].dir)
	assert.Equal(t, "docker", r.calls[0].name)
	assert.Equal(t, []string{
		"compose",
		"-f", "/srv/speech/docker-compose.yml",
		"-f", "/home/op/.speechrig/docker-compose.hardware.yml",
		"--env-file", "/home/op/.speechrig/speechrig.env",
		"up", "-d", "--build", "whisperx",
	}, r.calls[0].args)
}

func TestComposeStart_Failure(t *testing.T) {
	r := &fakeRunner{fail: map[string]error{}}
	c, err := NewCompose(r, ComposeOptions{ComposeFile: "/a/c.yml", OverrideFile: "/a/o.yml", EnvFile: "/a/e.env"}, nil)
	require.NoError(t, err)
	r.fail[strings.Join(c.Args("kokoro"), " ")] = &CommandError{Command: "docker compose up", ExitCode: 17, Output: "build failed\nno space left on device"}

	err = c.Start(context.Background(), "kokoro")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start kokoro")
	assert.Contains(t, err.Error(), "exit 17")
	assert.Contains(t, err.Error(), "no space left")
}

func TestNewCompose_RequiresFiles(t *testing.T) {
	_, err := NewCompose(&fakeRunner{}, ComposeOptions{ComposeFile: "c.yml"}, nil)
	assert.Error(t, err)
}

func TestExecRunner_MissingBinary(t *testing.T) {
	_, err := ExecRunner{}.Run(context.Background(), "", "speechrig-no-such-binary")
	var ce *CommandError
	require.True(t, errors.As(err, &ce))
	assert.True(t, ce.NotFound())
}
