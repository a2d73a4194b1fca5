// Package supervisor owns the jarvis runtime child processes: one per
// deployment, spawned on demand, health-watched, and restarted with backoff
// when they die unexpectedly. An operator stop always wins over a pending
// restart.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/common/config"
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/common/logger"
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/runtime/health"
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/runtime/logbridge"
)

// Lifecycle states of a supervised process.
const (
	StatusStarting = "starting"
	StatusRunning  = "running"
	StatusStopping = "stopping"
	StatusStopped  = "stopped"
	StatusError    = "error"
)

// Lifecycle event types emitted through the observer.
const (
	EventProcessSpawned   = "process_spawned"
	EventProcessExited    = "process_exited"
	EventRestartScheduled = "process_restart_scheduled"
)

const (
	desiredRunning = "running"
	desiredStopped = "stopped"

	// stopGracePeriod is how long a SIGTERM'd process gets before SIGKILL.
	stopGracePeriod = 4 * time.Second
)

// ErrStillStopping is returned by Start while a previous process for the same
// deployment is draining its stop sequence.
var ErrStillStopping = errors.New("runtime is still stopping")

// ProcessSpec describes one runtime process to launch.
type ProcessSpec struct {
	DeploymentID  string
	BinaryPath    string
	WorkspacePath string
	GatewayHost   string
	GatewayPort   int
	APIBaseURL    string
	Provider      string
	Model         string
	APIKey        string
	Env           map[string]string
	LogPath       string
}

// Observer receives supervision callbacks. Methods run on supervisor
// goroutines and must not block; the manager persists and republishes from
// them.
type Observer interface {
	StatusChanged(deploymentID, status string, pid int, lastError string)
	ProcessEvent(deploymentID, eventType, message string, payload map[string]any)
	RuntimeOutput(ev logbridge.Event)
	HealthChanged(deploymentID string, report health.Report)
}

// ProcessStatus is a point-in-time view of one supervised deployment.
type ProcessStatus struct {
	DeploymentID string        `json:"deployment_id"`
	Status       string        `json:"status"`
	PID          int           `json:"pid,omitempty"`
	RestartCount int           `json:"restart_count"`
	LastError    string        `json:"last_error,omitempty"`
	Health       health.Report `json:"health"`
}

// Supervisor manages all runtime child processes. Each deployment gets its
// own handle with its own lock; operations on different deployments never
// serialize against each other.
type Supervisor struct {
	cfg      *config.RuntimeConfig
	observer Observer
	log      *logger.Logger

	mu      sync.Mutex
	handles map[string]*handle
}

// handle is the supervision state for one deployment. The generation counter
// fences callbacks: exit monitors, health reports, and restart timers from a
// previous process are ignored once it advances.
type handle struct {
	mu sync.Mutex

	id           string
	spec         ProcessSpec
	status       string
	desired      string
	pid          int
	lastError    string
	restartCount int
	restartTimer *time.Timer
	generation   int

	cmd    *exec.Cmd
	poller *health.Poller
	bridge *logbridge.Bridge
	exited chan struct{}
}

// New creates a Supervisor. The observer must be non-nil.
func New(cfg *config.RuntimeConfig, observer Observer, log *logger.Logger) *Supervisor {
	return &Supervisor{
		cfg:      cfg,
		observer: observer,
		log:      log.WithFields(zap.String("component", "supervisor")),
		handles:  make(map[string]*handle),
	}
}

// Start launches the runtime process for a deployment. Starting a deployment
// that is already starting or running is a no-op.
func (s *Supervisor) Start(spec ProcessSpec) error {
	h := s.handleFor(spec.DeploymentID)

	h.mu.Lock()
	if h.cmd != nil {
		if h.status == StatusStopping {
			h.mu.Unlock()
			return ErrStillStopping
		}
		h.mu.Unlock()
		return nil
	}

	h.spec = spec
	h.desired = desiredRunning
	h.restartCount = 0
	h.cancelRestartLocked()

	notify, err := s.spawnLocked(h)
	h.mu.Unlock()

	fire(notify)
	return err
}

// Stop terminates a deployment's process: SIGTERM, a grace period, then
// SIGKILL to the process group. Any pending restart is cancelled first so a
// dying process can never resurrect after an operator asked for it to stop.
func (s *Supervisor) Stop(ctx context.Context, deploymentID string) error {
	h := s.lookup(deploymentID)
	if h == nil {
		return nil
	}

	h.mu.Lock()
	h.desired = desiredStopped
	h.cancelRestartLocked()

	if h.cmd == nil {
		notify := h.setStatusLocked(s, StatusStopped, h.lastError)
		h.mu.Unlock()
		fire(notify)
		return nil
	}

	pid := h.pid
	exited := h.exited
	notify := h.setStatusLocked(s, StatusStopping, "")
	h.mu.Unlock()
	fire(notify)

	s.log.Info("Stopping runtime process",
		zap.String("deployment_id", deploymentID),
		zap.Int("pid", pid))

	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		_ = syscall.Kill(-pid, syscall.SIGKILL)
	}

	select {
	case <-exited:
		return nil
	case <-ctx.Done():
	case <-time.After(stopGracePeriod):
	}

	s.log.Warn("Runtime did not exit in time, sending SIGKILL",
		zap.String("deployment_id", deploymentID),
		zap.Int("pid", pid))
	_ = syscall.Kill(-pid, syscall.SIGKILL)

	select {
	case <-exited:
		return nil
	case <-time.After(2 * time.Second):
		return fmt.Errorf("runtime process %d did not exit after SIGKILL", pid)
	}
}

// Restart stops the deployment's process and starts it again with the given
// spec, which may differ from the one it was last started with.
func (s *Supervisor) Restart(ctx context.Context, spec ProcessSpec) error {
	if err := s.Stop(ctx, spec.DeploymentID); err != nil {
		return err
	}
	return s.Start(spec)
}

// Forget drops all supervision state for a deployment. A still-live process
// is killed; its in-flight callbacks are fenced off by the generation bump.
func (s *Supervisor) Forget(deploymentID string) {
	s.mu.Lock()
	h := s.handles[deploymentID]
	delete(s.handles, deploymentID)
	s.mu.Unlock()

	if h == nil {
		return
	}

	h.mu.Lock()
	h.desired = desiredStopped
	h.cancelRestartLocked()
	h.generation++
	pid := h.pid
	poller := h.poller
	bridge := h.bridge
	h.cmd = nil
	h.pid = 0
	h.poller = nil
	h.bridge = nil
	h.mu.Unlock()

	if poller != nil {
		poller.Stop()
	}
	if bridge != nil {
		_ = bridge.Close()
	}
	if pid > 0 {
		_ = syscall.Kill(-pid, syscall.SIGKILL)
	}
}

// Status reports the supervision state for one deployment.
func (s *Supervisor) Status(deploymentID string) (ProcessStatus, bool) {
	h := s.lookup(deploymentID)
	if h == nil {
		return ProcessStatus{}, false
	}

	h.mu.Lock()
	st := ProcessStatus{
		DeploymentID: h.id,
		Status:       h.status,
		PID:          h.pid,
		RestartCount: h.restartCount,
		LastError:    h.lastError,
		Health:       health.Report{Status: health.StatusUnknown},
	}
	poller := h.poller
	h.mu.Unlock()

	if poller != nil {
		st.Health = poller.Last()
	}
	return st, true
}

// Shutdown stops every live process in parallel. Desired states recorded in
// the store are untouched; deployments that should be running come back on
// the next boot's hydration pass.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ids := make([]string, 0, len(s.handles))
	for id := range s.handles {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			return s.Stop(ctx, id)
		})
	}
	return g.Wait()
}

// RestartDelay returns the backoff before restart attempt n: 1s doubled per
// attempt, capped at 30s from attempt 5 on.
func RestartDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	exp := attempt
	if exp > 6 {
		exp = 6
	}
	ms := 1000 * (1 << exp)
	if ms > 30000 {
		ms = 30000
	}
	return time.Duration(ms) * time.Millisecond
}

func (s *Supervisor) handleFor(deploymentID string) *handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[deploymentID]
	if !ok {
		h = &handle{id: deploymentID, status: StatusStopped, desired: desiredStopped}
		s.handles[deploymentID] = h
	}
	return h
}

func (s *Supervisor) lookup(deploymentID string) *handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handles[deploymentID]
}

// setStatusLocked updates the lifecycle state and returns the observer
// notification to fire once the handle lock is released. No-op transitions
// produce no notification.
func (h *handle) setStatusLocked(s *Supervisor, status, lastError string) []func() {
	if h.status == status && h.lastError == lastError {
		return nil
	}
	h.status = status
	h.lastError = lastError

	id := h.id
	pid := h.pid
	errText := h.lastError
	return []func(){func() {
		s.observer.StatusChanged(id, status, pid, errText)
	}}
}

func (h *handle) cancelRestartLocked() {
	if h.restartTimer != nil {
		h.restartTimer.Stop()
		h.restartTimer = nil
	}
}

func fire(notify []func()) {
	for _, fn := range notify {
		fn()
	}
}
