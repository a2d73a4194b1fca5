package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/runtime/health"
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/runtime/logbridge"
)

// spawnLocked launches the runtime process for a handle. Called with the
// handle lock held; returns the observer notifications to fire after unlock.
//
// exec.Command rather than CommandContext: Stop owns shutdown, and
// CommandContext would SIGKILL on context cancellation, skipping the
// graceful terminate path.
func (s *Supervisor) spawnLocked(h *handle) ([]func(), error) {
	spec := h.spec
	h.generation++
	gen := h.generation

	cmd := exec.Command(spec.BinaryPath, "daemon",
		"--host", spec.GatewayHost,
		"--port", strconv.Itoa(spec.GatewayPort))
	cmd.Dir = spec.WorkspacePath
	cmd.Env = buildEnv(spec)
	cmd.SysProcAttr = buildSysProcAttr()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		err = fmt.Errorf("failed to create stdout pipe: %w", err)
		return h.setStatusLocked(s, StatusError, err.Error()), err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		err = fmt.Errorf("failed to create stderr pipe: %w", err)
		return h.setStatusLocked(s, StatusError, err.Error()), err
	}

	bridge, err := logbridge.New(spec.DeploymentID, spec.LogPath, s.observer.RuntimeOutput, s.log)
	if err != nil {
		return h.setStatusLocked(s, StatusError, err.Error()), err
	}

	if err := cmd.Start(); err != nil {
		_ = bridge.Close()
		err = fmt.Errorf("failed to spawn runtime %s: %w", spec.BinaryPath, err)
		return h.setStatusLocked(s, StatusError, err.Error()), err
	}

	pid := cmd.Process.Pid
	exited := make(chan struct{})
	poller := health.New(spec.APIBaseURL, s.cfg.HealthInterval(), s.cfg.HealthTimeout(),
		func(r health.Report) { s.onHealth(h, gen, r) }, s.log)

	h.cmd = cmd
	h.pid = pid
	h.bridge = bridge
	h.poller = poller
	h.exited = exited

	notify := h.setStatusLocked(s, StatusStarting, "")

	go bridge.Pump("stdout", stdout)
	go bridge.Pump("stderr", stderr)
	go s.waitExit(h, gen, cmd, poller, bridge, exited)
	poller.Start()

	id := h.id
	port := spec.GatewayPort
	binary := spec.BinaryPath
	notify = append(notify, func() {
		s.log.Info("Runtime process spawned",
			zap.String("deployment_id", id),
			zap.Int("pid", pid),
			zap.Int("gateway_port", port))
		s.observer.ProcessEvent(id, EventProcessSpawned,
			fmt.Sprintf("runtime process spawned (pid %d)", pid),
			map[string]any{"pid": pid, "binary": binary, "gateway_port": port})
	})
	return notify, nil
}

// waitExit blocks on the process and settles the handle when it dies. An
// exit while desired=stopped is the operator's stop completing; any other
// exit is a crash that schedules a restart.
func (s *Supervisor) waitExit(h *handle, gen int, cmd *exec.Cmd, poller *health.Poller, bridge *logbridge.Bridge, exited chan struct{}) {
	waitErr := cmd.Wait()
	poller.Stop()
	_ = bridge.Close()

	code := -1
	if cmd.ProcessState != nil {
		code = cmd.ProcessState.ExitCode()
	}
	exitMsg := fmt.Sprintf("runtime exited with code %d", code)
	if waitErr != nil && code < 0 {
		exitMsg = "runtime exited: " + waitErr.Error()
	}

	h.mu.Lock()
	if h.generation != gen {
		h.mu.Unlock()
		close(exited)
		return
	}
	h.cmd = nil
	h.pid = 0
	h.poller = nil
	h.bridge = nil
	h.exited = nil

	var notify []func()
	var delay time.Duration
	var attempt int
	if h.desired == desiredStopped {
		notify = h.setStatusLocked(s, StatusStopped, "")
	} else {
		h.restartCount++
		attempt = h.restartCount
		delay = RestartDelay(attempt)
		notify = h.setStatusLocked(s, StatusError, exitMsg)
		h.scheduleRestartLocked(s, delay)
	}
	id := h.id
	h.mu.Unlock()
	close(exited)

	fire(notify)
	s.observer.ProcessEvent(id, EventProcessExited, exitMsg, map[string]any{"exit_code": code})
	if delay > 0 {
		s.log.Warn("Runtime exited unexpectedly, restart scheduled",
			zap.String("deployment_id", id),
			zap.String("exit", exitMsg),
			zap.Duration("delay", delay),
			zap.Int("attempt", attempt))
		s.observer.ProcessEvent(id, EventRestartScheduled,
			fmt.Sprintf("restart scheduled in %s (attempt %d)", delay, attempt),
			map[string]any{"delay_ms": delay.Milliseconds(), "attempt": attempt})
	}
}

// scheduleRestartLocked arms the restart timer. The generation captured here
// fences the timer: if the deployment is stopped, forgotten, or respawned
// before it fires, the attempt is abandoned.
func (h *handle) scheduleRestartLocked(s *Supervisor, delay time.Duration) {
	h.cancelRestartLocked()
	gen := h.generation
	h.restartTimer = time.AfterFunc(delay, func() {
		s.attemptScheduledRestart(h, gen)
	})
}

func (s *Supervisor) attemptScheduledRestart(h *handle, gen int) {
	h.mu.Lock()
	h.restartTimer = nil
	if h.generation != gen || h.desired != desiredRunning || h.cmd != nil {
		h.mu.Unlock()
		return
	}

	notify, err := s.spawnLocked(h)
	var retry time.Duration
	var attempt int
	if err != nil {
		h.restartCount++
		attempt = h.restartCount
		retry = RestartDelay(attempt)
		h.scheduleRestartLocked(s, retry)
	}
	id := h.id
	h.mu.Unlock()

	fire(notify)
	if err != nil {
		s.log.Error("Scheduled restart failed",
			zap.String("deployment_id", id),
			zap.Error(err))
		s.observer.ProcessEvent(id, EventRestartScheduled,
			fmt.Sprintf("restart failed, retrying in %s (attempt %d)", retry, attempt),
			map[string]any{"delay_ms": retry.Milliseconds(), "attempt": attempt, "error": err.Error()})
	}
}

// onHealth reconciles the lifecycle state with a health report. A healthy
// probe always wins, including recovery out of error; unhealthy forces error
// unless a stop is in progress; degraded and unknown change nothing.
func (s *Supervisor) onHealth(h *handle, gen int, report health.Report) {
	h.mu.Lock()
	if h.generation != gen || h.cmd == nil {
		h.mu.Unlock()
		return
	}

	var notify []func()
	switch report.Status {
	case health.StatusHealthy:
		if h.status != StatusStopping {
			notify = h.setStatusLocked(s, StatusRunning, "")
		}
	case health.StatusUnhealthy:
		if h.status != StatusStopping {
			msg := report.Error
			if msg == "" {
				msg = "health probe failed"
			}
			notify = h.setStatusLocked(s, StatusError, "runtime unresponsive: "+msg)
		}
	}
	id := h.id
	h.mu.Unlock()

	fire(notify)
	s.observer.HealthChanged(id, report)
}

// buildEnv merges the parent environment, the deployment's own variables,
// and the runtime contract variables. Later sources win.
func buildEnv(spec ProcessSpec) []string {
	merged := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			merged[k] = v
		}
	}
	for k, v := range spec.Env {
		merged[k] = v
	}

	merged["PROVIDER"] = spec.Provider
	merged["MODEL"] = spec.Model
	merged["WORKSPACE"] = spec.WorkspacePath
	merged["GATEWAY_HOST"] = spec.GatewayHost
	merged["GATEWAY_PORT"] = strconv.Itoa(spec.GatewayPort)
	if spec.APIKey != "" && spec.Provider != "" {
		merged[ProviderKeyVar(spec.Provider)] = spec.APIKey
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+merged[k])
	}
	return env
}

// ProviderKeyVar maps a provider name to its conventional API key variable,
// e.g. "anthropic" becomes ANTHROPIC_API_KEY.
func ProviderKeyVar(provider string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(strings.TrimSpace(provider)) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String() + "_API_KEY"
}
