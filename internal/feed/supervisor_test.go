package feed

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEnsureRunningMissingBinary(t *testing.T) {
	t.Parallel()

	s := NewSupervisor(SupervisorConfig{
		Name:       "test",
		BinaryPath: filepath.Join(t.TempDir(), "missing-binary"),
		GRPCAddr:   "127.0.0.1:50062",
	})

	err := s.EnsureRunning(context.Background())
	if err == nil {
		t.Fatalf("expected missing binary error")
	}
	if !strings.Contains(err.Error(), "agent binary missing") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestStopWithoutProcessIsNoop(t *testing.T) {
	t.Parallel()

	s := NewSupervisor(SupervisorConfig{})
	if err := s.Stop(); err != nil {
		t.Fatalf("expected no-op stop, got: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("expected repeat no-op stop, got: %v", err)
	}
}

func TestEnsureRunningReturnsErrorWhenProcessExitsImmediately(t *testing.T) {
	t.Parallel()

	// The test binary rejects the --listen flag and exits at once.
	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("resolve current executable: %v", err)
	}
	s := NewSupervisor(SupervisorConfig{
		Name:       "quick-exit",
		BinaryPath: exe,
		GRPCAddr:   "127.0.0.1:50062",
	})

	err = s.EnsureRunning(context.Background())
	if err == nil {
		t.Fatalf("expected ensure running to fail when process exits immediately")
	}
	if !strings.Contains(err.Error(), "agent process exited early") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEnsureRunningHonorsContextCancel(t *testing.T) {
	t.Parallel()

	bin := filepath.Join(t.TempDir(), "slow-agent")
	script := "#!/bin/sh\nsleep 60\n"
	if err := os.WriteFile(bin, []byte(script), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}

	s := NewSupervisor(SupervisorConfig{
		Name:       "slow",
		BinaryPath: bin,
		GRPCAddr:   "127.0.0.1:50062",
	})
	t.Cleanup(func() { _ = s.Stop() })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.EnsureRunning(ctx); err != context.Canceled {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
