package supervisor

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// ExitStatus describes how the server process terminated
type ExitStatus struct {
	Code   int
	Signal string
}

// process wraps one running server instance. Stdout and stderr are
// scanned line by line and fed to the supervisor; the exit channel
// closes exactly once after cmd.Wait returns and both pipes drain.
type process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	pid    int
	exitCh chan struct{}

	mu   sync.Mutex
	exit ExitStatus
}

// spawn launches the server command in dir and streams each output
// line to onLine. The returned process is already running.
func spawn(dir, command string, args []string, onLine func(string)) (*process, error) {
	cmd := exec.Command(command, args...)
	cmd.Dir = dir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &ProcessSpawnError{Command: command, Err: err}
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &ProcessSpawnError{Command: command, Err: err}
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &ProcessSpawnError{Command: command, Err: err}
	}

	if err := cmd.Start(); err != nil {
		return nil, &ProcessSpawnError{Command: command, Err: err}
	}

	p := &process{
		cmd:    cmd,
		stdin:  stdin,
		pid:    cmd.Process.Pid,
		exitCh: make(chan struct{}),
	}

	var pipes sync.WaitGroup
	readPipe := func(reader io.Reader) {
		defer pipes.Done()
		scanner := bufio.NewScanner(reader)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		scanner.Split(splitOnNewlineOrCarriageReturn)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}
			onLine(line)
		}
	}
	pipes.Add(2)
	go readPipe(stdout)
	go readPipe(stderr)

	go func() {
		err := cmd.Wait()
		pipes.Wait()

		p.mu.Lock()
		p.exit = exitStatusFromError(err)
		p.mu.Unlock()
		close(p.exitCh)
	}()

	return p, nil
}

// PID returns the process id
func (p *process) PID() int {
	return p.pid
}

// Exited returns a channel closed when the process has fully exited
func (p *process) Exited() <-chan struct{} {
	return p.exitCh
}

// ExitStatus returns how the process terminated. Valid only after
// Exited is closed.
func (p *process) ExitStatus() ExitStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exit
}

// WriteCommand sends one line to the server's stdin
func (p *process) WriteCommand(command string) error {
	command = strings.TrimSpace(command)
	if command == "" {
		return fmt.Errorf("empty command")
	}
	if _, err := io.WriteString(p.stdin, command+"\n"); err != nil {
		return fmt.Errorf("failed to write to server stdin: %w", err)
	}
	return nil
}

// WaitTimeout blocks until the process exits or the timeout elapses.
// Returns true if the process exited in time.
func (p *process) WaitTimeout(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-p.exitCh:
		return true
	case <-timer.C:
		return false
	}
}

// Kill forcibly terminates the process and waits for it to be reaped
func (p *process) Kill() error {
	if err := p.cmd.Process.Kill(); err != nil {
		// Already gone is fine
		if !strings.Contains(err.Error(), "process already finished") {
			return fmt.Errorf("failed to kill server process: %w", err)
		}
	}
	<-p.exitCh
	return nil
}

func exitStatusFromError(err error) ExitStatus {
	if err == nil {
		return ExitStatus{Code: 0}
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if status.Signaled() {
				return ExitStatus{Code: -1, Signal: status.Signal().String()}
			}
			return ExitStatus{Code: status.ExitStatus()}
		}
		return ExitStatus{Code: exitErr.ExitCode()}
	}
	return ExitStatus{Code: -1}
}

// splitOnNewlineOrCarriageReturn treats both \n and \r as line
// terminators so progress output written with carriage returns still
// arrives as discrete lines. A line held back at a chunk boundary is
// emitted once its terminator or EOF arrives.
func splitOnNewlineOrCarriageReturn(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	for i, b := range data {
		if b == '\n' || b == '\r' {
			return i + 1, data[:i], nil
		}
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
