package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/yourusername/craft-server-supervisor/internal/config"
	"github.com/yourusername/craft-server-supervisor/internal/console"
	"github.com/yourusername/craft-server-supervisor/internal/database"
	"github.com/yourusername/craft-server-supervisor/internal/eula"
	"github.com/yourusername/craft-server-supervisor/internal/events"
	"github.com/yourusername/craft-server-supervisor/internal/installer"
	"github.com/yourusername/craft-server-supervisor/internal/java"
	"github.com/yourusername/craft-server-supervisor/internal/logging"
	"github.com/yourusername/craft-server-supervisor/internal/monitor"
)

// ResourceTracker is notified when the supervised process starts and
// stops so sampling can follow the PID. Latest is a non-blocking read
// of the most recent sample.
type ResourceTracker interface {
	Track(pid int)
	Untrack()
	Latest() *monitor.Sample
}

// StopResult reports how a stop completed. Forced means the graceful
// window elapsed and the process was killed; that still counts as a
// successful stop.
type StopResult struct {
	Forced bool `json:"forced"`
}

// Status is a point-in-time snapshot of the supervised server
type Status struct {
	State         State     `json:"state"`
	Version       string    `json:"version"`
	PID           int       `json:"pid,omitempty"`
	StartedAt     time.Time `json:"started_at,omitempty"`
	UptimeSeconds int64     `json:"uptime_seconds"`
	Players       []string  `json:"players"`
	EULAAccepted  bool      `json:"eula_accepted"`

	// Resource is the monitor's most recent sample of the server
	// process, absent when nothing is tracked
	Resource *monitor.Sample `json:"resource,omitempty"`
}

// Supervisor owns the server lifecycle. All state changes flow through
// its state machine; Install, Start, Stop, and Restart are serialized
// so overlapping requests cannot interleave.
type Supervisor struct {
	cfg        *config.Config
	machine    *Machine
	installer  *installer.Installer
	db         *database.DB
	bus        *events.Bus
	classifier *console.Classifier
	logWriter  *console.LogWriter
	tracker    ResourceTracker
	logger     *slog.Logger

	// opMu serializes the public lifecycle operations
	opMu sync.Mutex

	// mu guards the fields below
	mu            sync.Mutex
	proc          *process
	stopRequested bool
	startedAt     time.Time
	installPath   string
	players       map[string]struct{}
}

// New creates a supervisor. The initial state is derived from whether
// the configured version is already installed.
func New(cfg *config.Config, db *database.DB, bus *events.Bus, inst *installer.Installer) (*Supervisor, error) {
	rules, err := console.CompileRules(cfg.Supervisor.ConsoleRules)
	if err != nil {
		return nil, fmt.Errorf("invalid console rules: %w", err)
	}

	logWriter, err := console.NewLogWriter(filepath.Join(cfg.Storage.DataDir, "logs"), cfg.Logging.MaxSize, cfg.Logging.MaxBackups)
	if err != nil {
		return nil, err
	}

	s := &Supervisor{
		cfg:        cfg,
		installer:  inst,
		db:         db,
		bus:        bus,
		classifier: console.NewClassifier(rules),
		logWriter:  logWriter,
		logger:     logging.Component("supervisor"),
		players:    make(map[string]struct{}),
	}

	initial := StateUninstalled
	if record, err := db.GetInstallation(cfg.Supervisor.Version); err != nil {
		return nil, err
	} else if record != nil {
		initial = StateStopped
		s.installPath = record.InstallPath
	}

	s.machine = NewMachine(initial)
	s.machine.OnTransition(s.onTransition)
	return s, nil
}

// SetTracker wires the resource monitor. Must be called before Start.
func (s *Supervisor) SetTracker(tracker ResourceTracker) {
	s.tracker = tracker
}

// Machine exposes the state machine for read-only observation in tests
func (s *Supervisor) Machine() *Machine {
	return s.machine
}

func (s *Supervisor) onTransition(t Transition) {
	s.logger.Info("state changed", "from", t.From, "to", t.To, "reason", t.Reason)
	if err := s.db.RecordStatusChange(string(t.From), string(t.To), t.Reason); err != nil {
		s.logger.Error("failed to persist status change", "error", err)
	}
	s.bus.Publish(events.TypeStatusChanged, events.StatusChangedPayload{
		From:   string(t.From),
		To:     string(t.To),
		Reason: t.Reason,
	})
}

// Install downloads and unpacks the configured or given version. On
// failure the state returns to where it started: Uninstalled for a
// first install, Stopped when a previous installation exists.
func (s *Supervisor) Install(ctx context.Context, version string) (string, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if version == "" {
		version = s.cfg.Supervisor.Version
	}
	if version == "" {
		return "", fmt.Errorf("no version configured or requested")
	}

	hadInstall := s.machine.Is(StateStopped, StateCrashed)

	if _, err := s.machine.Transition(StateInstalling, "install requested"); err != nil {
		return "", err
	}

	path, err := s.installer.Install(ctx, version, s.cfg.Storage.InstallDir)
	if err != nil {
		rollback := StateUninstalled
		if hadInstall {
			rollback = StateStopped
		}
		if _, rbErr := s.machine.Transition(rollback, "install failed"); rbErr != nil {
			s.logger.Error("failed to roll back state after install failure", "error", rbErr)
		}
		return "", err
	}

	s.mu.Lock()
	s.installPath = path
	s.mu.Unlock()

	if _, err := s.machine.Transition(StateStopped, "install complete"); err != nil {
		return "", err
	}
	return path, nil
}

// Start spawns the server process. It returns once the process is
// running in the Starting state; the transition to Running happens when
// the ready signature appears on the console, and a startup timeout
// moves the server to Crashed instead.
func (s *Supervisor) Start() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.startLocked()
}

func (s *Supervisor) startLocked() error {
	if s.machine.Is(StateUninstalled, StateInstalling) {
		return ErrNotInstalled
	}

	s.mu.Lock()
	installPath := s.installPath
	s.mu.Unlock()
	if installPath == "" {
		return ErrNotInstalled
	}

	if s.cfg.Supervisor.RequireEULA {
		accepted, err := eula.Accepted(installPath)
		if err != nil {
			return err
		}
		if !accepted {
			return ErrEULANotAccepted
		}
	}

	command, args, err := s.buildCommand(installPath)
	if err != nil {
		return err
	}

	if _, err := s.machine.Transition(StateStarting, "start requested"); err != nil {
		return err
	}

	proc, err := spawn(installPath, command, args, s.handleLine)
	if err != nil {
		if _, rbErr := s.machine.Transition(StateCrashed, "spawn failed"); rbErr != nil {
			s.logger.Error("failed to record spawn failure", "error", rbErr)
		}
		return err
	}

	s.mu.Lock()
	s.proc = proc
	s.stopRequested = false
	s.startedAt = time.Now()
	s.players = make(map[string]struct{})
	s.mu.Unlock()

	if s.tracker != nil {
		s.tracker.Track(proc.PID())
	}

	s.logger.Info("server process started", "pid", proc.PID(), "command", command)

	go s.watchExit(proc)
	go s.watchStartup(proc)
	return nil
}

// buildCommand assembles the launch command. A .jar executable runs
// under the discovered java runtime; anything else runs directly.
func (s *Supervisor) buildCommand(installPath string) (string, []string, error) {
	jar := s.cfg.Supervisor.ServerJar
	if !strings.HasSuffix(jar, ".jar") {
		return filepath.Join(installPath, jar), s.cfg.Supervisor.ServerArgs, nil
	}

	runtime, err := java.Discover(s.cfg.Supervisor.JavaPath)
	if err != nil {
		return "", nil, err
	}

	args := make([]string, 0, len(s.cfg.Supervisor.JavaArgs)+2+len(s.cfg.Supervisor.ServerArgs))
	args = append(args, s.cfg.Supervisor.JavaArgs...)
	args = append(args, "-jar", jar)
	args = append(args, s.cfg.Supervisor.ServerArgs...)
	return runtime.Path, args, nil
}

// handleLine runs on the pipe reader goroutines for every console line
func (s *Supervisor) handleLine(text string) {
	if err := s.logWriter.WriteLine(text); err != nil {
		s.logger.Warn("failed to write console log", "error", err)
	}

	line := s.classifier.Classify(text)

	level := ""
	switch line.Kind {
	case console.KindError:
		level = "error"
	case console.KindWarning:
		level = "warning"
	}
	s.bus.Publish(events.TypeLog, events.LogPayload{Line: text, Kind: string(line.Kind), Level: level})

	switch line.Kind {
	case console.KindReady:
		if changed, err := s.machine.TransitionIf(StateRunning, "ready signature", StateStarting); err != nil {
			s.logger.Error("failed to mark running", "error", err)
		} else if changed {
			s.logger.Info("server ready")
		}

	case console.KindCrash:
		changed, err := s.machine.TransitionIf(StateCrashed, "crash signature: "+truncate(text, 120), StateStarting, StateRunning)
		if err != nil {
			s.logger.Error("failed to mark crashed", "error", err)
		} else if changed {
			s.logger.Warn("crash signature detected", "line", text)
		}

	case console.KindPlayerJoined:
		s.mu.Lock()
		s.players[line.Player] = struct{}{}
		online := len(s.players)
		s.mu.Unlock()
		s.bus.Publish(events.TypePlayerJoined, events.PlayerPayload{Name: line.Player, Online: online})

	case console.KindPlayerLeft:
		s.mu.Lock()
		delete(s.players, line.Player)
		online := len(s.players)
		s.mu.Unlock()
		s.bus.Publish(events.TypePlayerLeft, events.PlayerPayload{Name: line.Player, Online: online})
	}
}

// watchExit reacts to the process terminating for any reason
func (s *Supervisor) watchExit(proc *process) {
	<-proc.Exited()
	exit := proc.ExitStatus()

	s.mu.Lock()
	if s.proc == proc {
		s.proc = nil
	}
	wasRequested := s.stopRequested
	s.players = make(map[string]struct{})
	s.mu.Unlock()

	if s.tracker != nil {
		s.tracker.Untrack()
	}

	if wasRequested {
		if _, err := s.machine.TransitionIf(StateStopped, "process exited", StateStopping); err != nil {
			s.logger.Error("failed to mark stopped", "error", err)
		}
		return
	}

	reason := (&UnexpectedExitError{ExitCode: exit.Code, Signal: exit.Signal}).Error()
	changed, err := s.machine.TransitionIf(StateCrashed, reason, StateStarting, StateRunning, StateStopping)
	if err != nil {
		s.logger.Error("failed to mark crashed", "error", err)
	} else if changed {
		s.logger.Warn("server exited unexpectedly", "exit_code", exit.Code, "signal", exit.Signal)
	}
}

// watchStartup enforces the startup timeout. A server still in Starting
// when the window closes is killed and marked crashed.
func (s *Supervisor) watchStartup(proc *process) {
	timer := time.NewTimer(s.cfg.Supervisor.StartupTimeoutDuration())
	defer timer.Stop()

	select {
	case <-proc.Exited():
		return
	case <-timer.C:
	}

	timeoutErr := &TimeoutError{Stage: "startup", Seconds: s.cfg.Supervisor.StartupTimeout}
	changed, err := s.machine.TransitionIf(StateCrashed, timeoutErr.Error(), StateStarting)
	if err != nil {
		s.logger.Error("failed to mark startup timeout", "error", err)
		return
	}
	if !changed {
		return
	}

	s.logger.Warn("startup timed out, killing server", "timeout_seconds", s.cfg.Supervisor.StartupTimeout)

	s.mu.Lock()
	s.stopRequested = true
	s.mu.Unlock()
	if err := proc.Kill(); err != nil {
		s.logger.Error("failed to kill timed-out server", "error", err)
	}
}

// Stop performs a two-phase shutdown: the configured stop command on
// stdin, then a kill when the graceful window elapses. A stop while
// already Stopped is a successful no-op.
func (s *Supervisor) Stop() (StopResult, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.stopLocked()
}

func (s *Supervisor) stopLocked() (StopResult, error) {
	if s.machine.Is(StateStopped) {
		return StopResult{}, nil
	}

	// Mark the intent before the transition commits so an exit in the
	// window between them is never read as a crash
	s.mu.Lock()
	s.stopRequested = true
	proc := s.proc
	s.mu.Unlock()

	if _, err := s.machine.Transition(StateStopping, "stop requested"); err != nil {
		s.mu.Lock()
		s.stopRequested = false
		s.mu.Unlock()
		return StopResult{}, err
	}

	if proc == nil {
		// Process already gone; just settle the state
		if _, err := s.machine.TransitionIf(StateStopped, "no process", StateStopping); err != nil {
			return StopResult{}, err
		}
		return StopResult{}, nil
	}

	if err := proc.WriteCommand(s.cfg.Supervisor.StopCommand); err != nil {
		s.logger.Warn("failed to send stop command, killing", "error", err)
		return s.forceKill(proc)
	}

	if proc.WaitTimeout(s.cfg.Supervisor.StopTimeoutDuration()) {
		// watchExit transitions Stopping -> Stopped
		<-proc.Exited()
		s.awaitState(StateStopped, time.Second)
		return StopResult{}, nil
	}

	s.logger.Warn("graceful stop timed out, killing server", "timeout_seconds", s.cfg.Supervisor.StopTimeout)
	return s.forceKill(proc)
}

func (s *Supervisor) forceKill(proc *process) (StopResult, error) {
	if err := proc.Kill(); err != nil {
		return StopResult{Forced: true}, err
	}
	s.awaitState(StateStopped, time.Second)
	return StopResult{Forced: true}, nil
}

// awaitState gives the exit watcher a moment to settle the final state
func (s *Supervisor) awaitState(want State, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if s.machine.Is(want) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// Restart stops the server if needed and starts it again as one
// serialized operation
func (s *Supervisor) Restart() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if !s.machine.Is(StateStopped, StateCrashed) {
		if _, err := s.stopLocked(); err != nil {
			return err
		}
	}
	if s.machine.Is(StateCrashed) {
		if _, err := s.machine.Transition(StateStopped, "crash acknowledged for restart"); err != nil {
			return err
		}
	}
	return s.startLocked()
}

// Acknowledge moves a crashed server back to Stopped
func (s *Supervisor) Acknowledge() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if _, err := s.machine.Transition(StateStopped, "crash acknowledged"); err != nil {
		return err
	}
	return nil
}

// SendCommand writes one console command to the running server
func (s *Supervisor) SendCommand(command string) error {
	if !s.machine.Is(StateRunning) {
		return ErrNotRunning
	}

	s.mu.Lock()
	proc := s.proc
	s.mu.Unlock()
	if proc == nil {
		return ErrNotRunning
	}
	return proc.WriteCommand(command)
}

// HandleProcessVanished is the monitor's crash path: the sampler found
// the PID gone before the exit watcher fired. Whichever path runs
// second is a no-op.
func (s *Supervisor) HandleProcessVanished(pid int) {
	s.mu.Lock()
	matches := s.proc != nil && s.proc.PID() == pid
	s.mu.Unlock()
	if !matches {
		return
	}

	changed, err := s.machine.TransitionIf(StateCrashed, "process vanished", StateStarting, StateRunning)
	if err != nil {
		s.logger.Error("failed to mark vanished process", "error", err)
		return
	}
	if changed {
		s.logger.Warn("server process vanished", "pid", pid)
	}
}

// Status returns a snapshot of the current lifecycle state
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := Status{
		State:   s.machine.Current(),
		Version: s.cfg.Supervisor.Version,
		Players: make([]string, 0, len(s.players)),
	}
	for name := range s.players {
		status.Players = append(status.Players, name)
	}
	sort.Strings(status.Players)

	if s.proc != nil {
		status.PID = s.proc.PID()
		status.StartedAt = s.startedAt
		status.UptimeSeconds = int64(time.Since(s.startedAt).Seconds())
	}

	if s.tracker != nil {
		status.Resource = s.tracker.Latest()
	}

	if s.installPath != "" {
		if accepted, err := eula.Accepted(s.installPath); err == nil {
			status.EULAAccepted = accepted
		}
	}
	return status
}

// Running reports whether the server is in the Running state
func (s *Supervisor) Running() bool {
	return s.machine.Is(StateRunning)
}

// Installing reports whether an install is currently rewriting the
// server directory
func (s *Supervisor) Installing() bool {
	return s.machine.Is(StateInstalling)
}

// InstallPath returns the directory of the current installation, or
// empty when nothing is installed
func (s *Supervisor) InstallPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.installPath
}

// AcceptEULA writes acceptance into the install directory
func (s *Supervisor) AcceptEULA() error {
	s.mu.Lock()
	installPath := s.installPath
	s.mu.Unlock()
	if installPath == "" {
		return ErrNotInstalled
	}
	if err := eula.Accept(installPath); err != nil {
		return err
	}
	s.bus.Publish(events.TypeEULAStatus, events.EULAStatusPayload{Accepted: true})
	return nil
}

// Close shuts the supervisor down, stopping the server if running
func (s *Supervisor) Close() error {
	if s.machine.Is(StateStarting, StateRunning, StateStopping) {
		if _, err := s.Stop(); err != nil {
			s.logger.Error("failed to stop server during shutdown", "error", err)
		}
	}
	return s.logWriter.Close()
}

func truncate(text string, max int) string {
	if len(text) <= max {
		return text
	}
	return text[:max]
}
