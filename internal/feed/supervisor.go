package feed

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"sync"
	"time"
)

// startupGrace is how long a freshly started agent gets to bind its feed
// listener before EnsureRunning reports it healthy.
const startupGrace = 250 * time.Millisecond

// SupervisorConfig names the upstream agent binary and the grpc address it
// should serve its feed on.
type SupervisorConfig struct {
	Name       string
	BinaryPath string
	GRPCAddr   string
}

// Supervisor keeps the upstream agent process running so the relay always
// has something to dial. A dead process is restarted lazily on the next
// EnsureRunning; the relay's resume-from-sequence tailing makes the restart
// transparent to the stored log.
type Supervisor struct {
	cfg SupervisorConfig

	mu     sync.Mutex
	cmd    *exec.Cmd
	exited chan struct{}
}

func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	return &Supervisor{cfg: cfg}
}

func (s *Supervisor) EnsureRunning(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd != nil && !closed(s.exited) {
		return nil
	}

	if _, err := os.Stat(s.cfg.BinaryPath); err != nil {
		return fmt.Errorf("agent binary missing: %w", err)
	}

	cmd := exec.Command(s.cfg.BinaryPath, "--listen", s.cfg.GRPCAddr)
	stdout, _ := cmd.StdoutPipe()
	stderr, _ := cmd.StderrPipe()
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start agent process: %w", err)
	}

	exited := make(chan struct{})
	s.cmd = cmd
	s.exited = exited
	prefix := s.cfg.Name
	if prefix == "" {
		prefix = "agent"
	}
	go forwardLogs(stdout, prefix+":stdout")
	go forwardLogs(stderr, prefix+":stderr")
	go waitProcess(cmd, prefix, exited)

	select {
	case <-exited:
		s.cmd = nil
		return fmt.Errorf("agent process exited early")
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		s.cmd = nil
		return ctx.Err()
	case <-time.After(startupGrace):
		return nil
	}
}

func (s *Supervisor) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil || s.cmd.Process == nil {
		return nil
	}
	err := s.cmd.Process.Kill()
	s.cmd = nil
	return err
}

// waitProcess owns cmd.Wait; liveness is signalled through the exited
// channel so EnsureRunning never touches ProcessState concurrently.
func waitProcess(cmd *exec.Cmd, prefix string, exited chan struct{}) {
	defer close(exited)
	if err := cmd.Wait(); err != nil {
		log.Printf("%s exited with error: %v", prefix, err)
	} else {
		log.Printf("%s exited", prefix)
	}
}

func closed(ch chan struct{}) bool {
	if ch == nil {
		return true
	}
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func forwardLogs(r io.Reader, prefix string) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		log.Printf("%s %s", prefix, scanner.Text())
	}
}
