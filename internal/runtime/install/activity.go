package install

import (
	"sync"
	"time"
)

// Activity states.
const (
	StateIdle    = "idle"
	StateRunning = "running"
	StateSuccess = "success"
	StateError   = "error"
)

// Phase tags for activity lines. During a multi-minute build this trail is
// the only view into what the installer is doing.
const (
	PhaseResolve        = "resolve"
	PhaseCargoInstall   = "cargo_install"
	PhaseDownloadSource = "download_source"
	PhaseExtractSource  = "extract_source"
	PhasePromote        = "promote"
	PhaseVerify         = "verify"
	PhaseCleanup        = "cleanup"
)

// maxActivityLines bounds the per-install line log; older lines are evicted
// first.
const maxActivityLines = 600

// Line is one captured output line from an install run.
type Line struct {
	Phase  string    `json:"phase"`
	Stream string    `json:"stream"` // stdout, stderr, or installer
	Text   string    `json:"text"`
	At     time.Time `json:"at"`
}

// Activity is the live install log. One instance exists per Installer; it is
// reset at the start of every install call and never persisted.
type Activity struct {
	mu            sync.Mutex
	state         string
	phase         string
	targetVersion string
	lines         []Line
	startedAt     time.Time
	completedAt   *time.Time
	lastError     string
	onLine        func(Line)
}

// Snapshot is a point-in-time copy of the activity for API consumers.
type Snapshot struct {
	State         string     `json:"state"`
	Phase         string     `json:"phase,omitempty"`
	TargetVersion string     `json:"target_version,omitempty"`
	Lines         []Line     `json:"lines"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
}

// NewActivity returns an idle activity log.
func NewActivity() *Activity {
	return &Activity{state: StateIdle}
}

// OnLine registers a listener invoked for every appended line. The listener
// runs outside the activity lock and must not block for long; the manager
// uses it to relay lines onto the event bus.
func (a *Activity) OnLine(fn func(Line)) {
	a.mu.Lock()
	a.onLine = fn
	a.mu.Unlock()
}

// Begin resets the log for a new install run targeting version.
func (a *Activity) Begin(version string) {
	a.mu.Lock()
	a.state = StateRunning
	a.phase = PhaseResolve
	a.targetVersion = version
	a.lines = nil
	a.startedAt = time.Now().UTC()
	a.completedAt = nil
	a.lastError = ""
	a.mu.Unlock()
}

// SetPhase moves the activity into a new phase.
func (a *Activity) SetPhase(phase string) {
	a.mu.Lock()
	a.phase = phase
	a.mu.Unlock()
}

// Append records one output line under the given phase and stream.
func (a *Activity) Append(phase, stream, text string) {
	line := Line{Phase: phase, Stream: stream, Text: text, At: time.Now().UTC()}

	a.mu.Lock()
	a.lines = append(a.lines, line)
	if len(a.lines) > maxActivityLines {
		a.lines = a.lines[len(a.lines)-maxActivityLines:]
	}
	listener := a.onLine
	a.mu.Unlock()

	if listener != nil {
		listener(line)
	}
}

// Infof appends an installer-generated (not subprocess) line.
func (a *Activity) Infof(phase, text string) {
	a.Append(phase, "installer", text)
}

// Succeed marks the run complete.
func (a *Activity) Succeed() {
	now := time.Now().UTC()
	a.mu.Lock()
	a.state = StateSuccess
	a.completedAt = &now
	a.mu.Unlock()
}

// Fail marks the run failed with the error text.
func (a *Activity) Fail(err error) {
	now := time.Now().UTC()
	a.mu.Lock()
	a.state = StateError
	a.completedAt = &now
	if err != nil {
		a.lastError = err.Error()
	}
	a.mu.Unlock()
}

// Running reports whether an install run is in progress.
func (a *Activity) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state == StateRunning
}

// LastError returns the error text of the most recent failed run.
func (a *Activity) LastError() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastError
}

// Snapshot copies the current activity state.
func (a *Activity) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	snap := Snapshot{
		State:         a.state,
		Phase:         a.phase,
		TargetVersion: a.targetVersion,
		Lines:         make([]Line, len(a.lines)),
		CompletedAt:   a.completedAt,
		LastError:     a.lastError,
	}
	copy(snap.Lines, a.lines)
	if !a.startedAt.IsZero() {
		started := a.startedAt
		snap.StartedAt = &started
	}
	return snap
}
