package deployment

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/common/config"
	apperrors "github.com/Gabriel0110/openwork-jarvis-sub000/internal/common/errors"
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/common/logger"
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/deployment/models"
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/deployment/store"
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/events"
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/events/bus"
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/policy"
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/runtime/install"
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/runtime/manifest"
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/runtime/supervisor"
	"github.com/Gabriel0110/openwork-jarvis-sub000/pkg/jarvis"
)

// memStore is an in-memory store.Store with the same contract as the sqlx
// repository: lookups return (nil, nil) on missing rows, updates against a
// missing row error.
type memStore struct {
	mu          sync.Mutex
	order       []string
	deployments map[string]*models.Deployment
	events      []*models.RuntimeEvent
	installs    map[string]*install.Installation
	nextEventID int64
}

func newMemStore() *memStore {
	return &memStore{
		deployments: make(map[string]*models.Deployment),
		installs:    make(map[string]*install.Installation),
	}
}

func cloneDeployment(d *models.Deployment) *models.Deployment {
	c := *d
	if d.Env != nil {
		c.Env = make(map[string]string, len(d.Env))
		for k, v := range d.Env {
			c.Env[k] = v
		}
	}
	if d.Capabilities != nil {
		caps := *d.Capabilities
		c.Capabilities = &caps
	}
	return &c
}

func (s *memStore) CreateDeployment(_ context.Context, d *models.Deployment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	d.CreatedAt, d.UpdatedAt = now, now
	s.deployments[d.ID] = cloneDeployment(d)
	s.order = append(s.order, d.ID)
	return nil
}

func (s *memStore) GetDeployment(_ context.Context, id string) (*models.Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deployments[id]
	if !ok {
		return nil, nil
	}
	return cloneDeployment(d), nil
}

func (s *memStore) ListDeployments(_ context.Context, q store.ListQuery) ([]*models.Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Deployment
	for _, id := range s.order {
		d := s.deployments[id]
		if q.WorkspaceID != "" && d.WorkspaceID != q.WorkspaceID {
			continue
		}
		if q.Name != "" && !strings.Contains(strings.ToLower(d.Name), strings.ToLower(q.Name)) {
			continue
		}
		out = append(out, cloneDeployment(d))
	}
	return out, nil
}

func (s *memStore) ListByDesiredState(_ context.Context, desired string) ([]*models.Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Deployment
	for _, id := range s.order {
		if d := s.deployments[id]; d.DesiredState == desired {
			out = append(out, cloneDeployment(d))
		}
	}
	return out, nil
}

func (s *memStore) UpdateDeployment(_ context.Context, d *models.Deployment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.deployments[d.ID]; !ok {
		return fmt.Errorf("deployment not found: %s", d.ID)
	}
	d.UpdatedAt = time.Now().UTC()
	s.deployments[d.ID] = cloneDeployment(d)
	return nil
}

func (s *memStore) UpdateDeploymentStatus(_ context.Context, id, status string, pid int, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deployments[id]
	if !ok {
		return fmt.Errorf("deployment not found: %s", id)
	}
	d.Status, d.PID, d.LastError = status, pid, lastError
	d.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *memStore) SetDesiredState(_ context.Context, id, desired string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deployments[id]
	if !ok {
		return fmt.Errorf("deployment not found: %s", id)
	}
	d.DesiredState = desired
	d.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *memStore) DeleteDeployment(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.deployments[id]; !ok {
		return fmt.Errorf("deployment not found: %s", id)
	}
	delete(s.deployments, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	kept := s.events[:0]
	for _, ev := range s.events {
		if ev.DeploymentID != id {
			kept = append(kept, ev)
		}
	}
	s.events = kept
	return nil
}

func (s *memStore) AppendRuntimeEvent(_ context.Context, ev *models.RuntimeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextEventID++
	ev.ID = s.nextEventID
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	ev.CreatedAt = time.Now().UTC()
	copied := *ev
	s.events = append(s.events, &copied)
	return nil
}

func (s *memStore) ListRuntimeEvents(_ context.Context, deploymentID string, limit int) ([]*models.RuntimeEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	var out []*models.RuntimeEvent
	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		if s.events[i].DeploymentID == deploymentID {
			copied := *s.events[i]
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *memStore) PruneRuntimeEvents(_ context.Context, _ int) (int64, error) {
	return 0, nil
}

func (s *memStore) SaveInstallation(_ context.Context, inst *install.Installation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *inst
	s.installs[inst.Version] = &copied
	return nil
}

func (s *memStore) ActivateInstallation(_ context.Context, version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.installs[version]; !ok {
		return fmt.Errorf("installation not found: %s", version)
	}
	for v, inst := range s.installs {
		inst.IsActive = v == version
	}
	return nil
}

func (s *memStore) GetInstallation(_ context.Context, version string) (*install.Installation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.installs[version]
	if !ok {
		return nil, nil
	}
	copied := *inst
	return &copied, nil
}

func (s *memStore) GetActiveInstallation(_ context.Context) (*install.Installation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, inst := range s.installs {
		if inst.IsActive {
			copied := *inst
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *memStore) ListInstallations(_ context.Context) ([]*install.Installation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*install.Installation, 0, len(s.installs))
	for _, inst := range s.installs {
		copied := *inst
		out = append(out, &copied)
	}
	return out, nil
}

// fakeBus records every publish.
type busRecord struct {
	subject string
	event   *bus.Event
}

type fakeBus struct {
	mu      sync.Mutex
	records []busRecord
}

func (b *fakeBus) Publish(_ context.Context, subject string, event *bus.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records = append(b.records, busRecord{subject: subject, event: event})
	return nil
}

func (b *fakeBus) Subscribe(string, bus.EventHandler) (bus.Subscription, error) {
	return nil, nil
}

func (b *fakeBus) Close()            {}
func (b *fakeBus) IsConnected() bool { return true }

func (b *fakeBus) bySubject(subject string) []busRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []busRecord
	for _, r := range b.records {
		if r.subject == subject {
			out = append(out, r)
		}
	}
	return out
}

// fakeSupervisor records lifecycle calls without spawning anything.
type fakeSupervisor struct {
	mu       sync.Mutex
	started  []supervisor.ProcessSpec
	stopped  []string
	forgot   []string
	statuses map[string]supervisor.ProcessStatus
	startErr error
	shutdown bool
}

func newFakeSupervisor() *fakeSupervisor {
	return &fakeSupervisor{statuses: make(map[string]supervisor.ProcessStatus)}
}

func (f *fakeSupervisor) Start(spec supervisor.ProcessSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started = append(f.started, spec)
	f.statuses[spec.DeploymentID] = supervisor.ProcessStatus{
		DeploymentID: spec.DeploymentID,
		Status:       supervisor.StatusStarting,
	}
	return nil
}

func (f *fakeSupervisor) Stop(_ context.Context, deploymentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, deploymentID)
	if st, ok := f.statuses[deploymentID]; ok {
		st.Status = supervisor.StatusStopped
		f.statuses[deploymentID] = st
	}
	return nil
}

func (f *fakeSupervisor) Forget(deploymentID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forgot = append(f.forgot, deploymentID)
	delete(f.statuses, deploymentID)
}

func (f *fakeSupervisor) Status(deploymentID string) (supervisor.ProcessStatus, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.statuses[deploymentID]
	return st, ok
}

func (f *fakeSupervisor) Shutdown(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdown = true
	return nil
}

type managerFixture struct {
	manager *Manager
	store   *memStore
	sup     *fakeSupervisor
	bus     *fakeBus
	cfg     *config.Config
}

func newManagerFixture(t *testing.T) *managerFixture {
	t.Helper()

	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stderr"})
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Runtime = config.RuntimeConfig{
		RootDir:               t.TempDir(),
		LogDir:                t.TempDir(),
		BinaryName:            "jarvis",
		GatewayHost:           "127.0.0.1",
		PortRangeStart:        18800,
		PortRangeEnd:          18899,
		HealthIntervalMs:      5000,
		HealthTimeoutMs:       2000,
		InstallTimeoutMinutes: 1,
		EventRetentionHours:   336,
		CargoBin:              "cargo",
		DefaultProvider:       "anthropic",
		DefaultModel:          "sonnet",
	}

	st := newMemStore()
	installer := install.New(&cfg.Runtime, st, manifest.Builtin(), log)
	eb := &fakeBus{}
	m := New(cfg, st, installer, policy.DefaultRegistry(), eb, log)

	sup := newFakeSupervisor()
	m.sup = sup
	return &managerFixture{manager: m, store: st, sup: sup, bus: eb, cfg: cfg}
}

// seedInstallation registers an active runtime install whose binary exists,
// so EnsureVersion takes its fast path.
func (f *managerFixture) seedInstallation(t *testing.T) *install.Installation {
	t.Helper()
	binDir := t.TempDir()
	binPath := filepath.Join(binDir, "jarvis")
	require.NoError(t, os.WriteFile(binPath, []byte("#!/bin/sh\n"), 0o755))

	now := time.Now().UTC()
	inst := &install.Installation{
		Version:     manifest.BuiltinVersion,
		Source:      install.SourceManaged,
		InstallPath: binDir,
		BinaryPath:  binPath,
		StartedAt:   now,
		CompletedAt: &now,
		IsActive:    true,
	}
	require.NoError(t, f.store.SaveInstallation(context.Background(), inst))
	return inst
}

func (f *managerFixture) create(t *testing.T, req CreateRequest) *models.Deployment {
	t.Helper()
	d, err := f.manager.Create(context.Background(), req)
	require.NoError(t, err)
	return d
}

func TestCreateAppliesDefaults(t *testing.T) {
	f := newManagerFixture(t)

	d := f.create(t, CreateRequest{Name: "  docs-agent  ", WorkspacePath: "/tmp/ws"})

	assert.Equal(t, "docs-agent", d.Name)
	assert.Equal(t, models.StatusCreated, d.Status)
	assert.Equal(t, models.DesiredStopped, d.DesiredState)
	assert.Equal(t, "anthropic", d.ModelProvider)
	assert.Equal(t, "sonnet", d.ModelName)
	assert.Equal(t, "127.0.0.1", d.GatewayHost)
	require.NotNil(t, d.Capabilities)
	assert.Equal(t, policy.ModeGlobalOnly, d.Capabilities.Mode)
	assert.NotEmpty(t, d.Capabilities.Tools)

	stored, err := f.store.GetDeployment(context.Background(), d.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "docs-agent", stored.Name)

	require.Len(t, f.bus.bySubject(events.DeploymentCreated), 1)
}

func TestCreateValidatesInput(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	_, err := f.manager.Create(ctx, CreateRequest{WorkspacePath: "/tmp/ws"})
	assert.Equal(t, 400, apperrors.GetHTTPStatus(err))

	_, err = f.manager.Create(ctx, CreateRequest{Name: "x"})
	assert.Equal(t, 400, apperrors.GetHTTPStatus(err))

	_, err = f.manager.Create(ctx, CreateRequest{Name: "x", WorkspacePath: "/tmp/ws", DesiredState: "paused"})
	assert.Equal(t, 400, apperrors.GetHTTPStatus(err))
}

func TestGetMissingIsNotFound(t *testing.T) {
	f := newManagerFixture(t)
	_, err := f.manager.Get(context.Background(), "nope")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestStartResolvesSpecAndRecordsAddress(t *testing.T) {
	f := newManagerFixture(t)
	inst := f.seedInstallation(t)
	d := f.create(t, CreateRequest{
		Name:          "worker",
		WorkspacePath: "/tmp/ws",
		Env:           map[string]string{"ANTHROPIC_API_KEY": "sk-test"},
	})

	started, err := f.manager.Start(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusStarting, started.Status)
	assert.Equal(t, models.DesiredRunning, started.DesiredState)

	require.Len(t, f.sup.started, 1)
	spec := f.sup.started[0]
	assert.Equal(t, d.ID, spec.DeploymentID)
	assert.Equal(t, inst.BinaryPath, spec.BinaryPath)
	assert.Equal(t, "/tmp/ws", spec.WorkspacePath)
	assert.Equal(t, "anthropic", spec.Provider)
	assert.Equal(t, "sk-test", spec.APIKey)
	assert.Equal(t, filepath.Join(f.cfg.Runtime.LogDir, d.ID+".log"), spec.LogPath)
	assert.GreaterOrEqual(t, spec.GatewayPort, 18800)
	assert.LessOrEqual(t, spec.GatewayPort, 18899)
	assert.Equal(t, fmt.Sprintf("http://127.0.0.1:%d", spec.GatewayPort), spec.APIBaseURL)

	stored, err := f.store.GetDeployment(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, manifest.BuiltinVersion, stored.RuntimeVersion)
	assert.Equal(t, spec.GatewayPort, stored.GatewayPort)
	assert.Equal(t, spec.APIBaseURL, stored.APIBaseURL)
	assert.Equal(t, models.DesiredRunning, stored.DesiredState)
}

func TestStartMissingDeployment(t *testing.T) {
	f := newManagerFixture(t)
	_, err := f.manager.Start(context.Background(), "nope")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestStartStillStoppingIsConflict(t *testing.T) {
	f := newManagerFixture(t)
	f.seedInstallation(t)
	d := f.create(t, CreateRequest{Name: "worker", WorkspacePath: "/tmp/ws"})

	f.sup.startErr = supervisor.ErrStillStopping
	_, err := f.manager.Start(context.Background(), d.ID)
	assert.True(t, apperrors.IsConflict(err))
}

func TestStartFailureBeforeSpawnRecordsErrorStatus(t *testing.T) {
	f := newManagerFixture(t)
	// The manifest has no release for this version, so the install phase of
	// the start fails before anything spawns.
	d := f.create(t, CreateRequest{Name: "worker", WorkspacePath: "/tmp/ws", RuntimeVersion: "9.9.9"})

	_, err := f.manager.Start(context.Background(), d.ID)
	require.Error(t, err)

	stored, gerr := f.store.GetDeployment(context.Background(), d.ID)
	require.NoError(t, gerr)
	assert.Equal(t, models.StatusError, stored.Status)
	assert.NotEmpty(t, stored.LastError)
	// Operator intent survives the failure.
	assert.Equal(t, models.DesiredRunning, stored.DesiredState)
}

func TestStopSettlesUnsupervisedDeployment(t *testing.T) {
	f := newManagerFixture(t)
	d := f.create(t, CreateRequest{Name: "worker", WorkspacePath: "/tmp/ws"})

	stopped, err := f.manager.Stop(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusStopped, stopped.Status)
	assert.Equal(t, models.DesiredStopped, stopped.DesiredState)

	stored, err := f.store.GetDeployment(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusStopped, stored.Status)
	assert.Contains(t, f.sup.stopped, d.ID)
}

func TestRestartKeepsGatewayPort(t *testing.T) {
	f := newManagerFixture(t)
	f.seedInstallation(t)
	d := f.create(t, CreateRequest{Name: "worker", WorkspacePath: "/tmp/ws"})

	_, err := f.manager.Start(context.Background(), d.ID)
	require.NoError(t, err)
	_, err = f.manager.Restart(context.Background(), d.ID)
	require.NoError(t, err)

	require.Len(t, f.sup.started, 2)
	assert.Equal(t, f.sup.started[0].GatewayPort, f.sup.started[1].GatewayPort)
	assert.Contains(t, f.sup.stopped, d.ID)
}

func TestDeleteRemovesEverything(t *testing.T) {
	f := newManagerFixture(t)
	d := f.create(t, CreateRequest{Name: "worker", WorkspacePath: "/tmp/ws"})
	require.NoError(t, f.store.AppendRuntimeEvent(context.Background(), &models.RuntimeEvent{
		DeploymentID: d.ID,
		EventType:    "stdout",
		Severity:     "info",
		Message:      "hello",
	}))

	require.NoError(t, f.manager.Delete(context.Background(), d.ID))

	stored, err := f.store.GetDeployment(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Nil(t, stored)
	evs, err := f.store.ListRuntimeEvents(context.Background(), d.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, evs)
	assert.Contains(t, f.sup.forgot, d.ID)
	require.Len(t, f.bus.bySubject(events.DeploymentDeleted), 1)
}

func TestUpdateRecomputesCapabilitiesOnPolicyChange(t *testing.T) {
	f := newManagerFixture(t)
	d := f.create(t, CreateRequest{Name: "worker", WorkspacePath: "/tmp/ws"})

	newPolicy := policy.CapabilityPolicy{
		Mode:              policy.ModeAssignedOnly,
		AssignedToolNames: []string{"file_read", "shell"},
		DeniedToolNames:   []string{"shell"},
	}
	updated, err := f.manager.Update(context.Background(), d.ID, UpdateRequest{Policy: &newPolicy})
	require.NoError(t, err)

	require.NotNil(t, updated.Capabilities)
	require.Len(t, updated.Capabilities.Tools, 1)
	assert.Equal(t, "file_read", updated.Capabilities.Tools[0].Name)
	assert.True(t, updated.Capabilities.Gates.Read)
	assert.False(t, updated.Capabilities.Gates.Exec)

	stored, err := f.store.GetDeployment(context.Background(), d.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Capabilities)
	assert.Equal(t, policy.ModeAssignedOnly, stored.Capabilities.Mode)
	require.Len(t, f.bus.bySubject(events.DeploymentUpdated), 1)
}

func TestCapabilitiesResolvesCurrentPolicy(t *testing.T) {
	f := newManagerFixture(t)
	d := f.create(t, CreateRequest{
		Name:          "worker",
		WorkspacePath: "/tmp/ws",
		Policy: &policy.CapabilityPolicy{
			Mode:              policy.ModeAssignedOnly,
			AssignedSkillIDs:  []string{"Code-Review"},
			AssignedToolNames: []string{"http_post"},
		},
	})

	caps, err := f.manager.Capabilities(context.Background(), d.ID)
	require.NoError(t, err)
	require.Len(t, caps.Skills, 1)
	assert.Equal(t, "code-review", caps.Skills[0].ID)
	require.Len(t, caps.Tools, 1)
	assert.Equal(t, "http_post", caps.Tools[0].Name)
	assert.True(t, caps.Gates.Network)
}

func TestSendMessageRequiresRunning(t *testing.T) {
	f := newManagerFixture(t)
	d := f.create(t, CreateRequest{Name: "worker", WorkspacePath: "/tmp/ws"})

	_, err := f.manager.SendMessage(context.Background(), d.ID, "hi")
	assert.True(t, apperrors.IsConflict(err))

	_, err = f.manager.SendMessage(context.Background(), d.ID, "   ")
	assert.Equal(t, 400, apperrors.GetHTTPStatus(err))
}

func TestSendMessagePublishesTokensAndRecordsResult(t *testing.T) {
	f := newManagerFixture(t)
	f.seedInstallation(t)
	d := f.create(t, CreateRequest{
		Name:          "worker",
		WorkspacePath: "/tmp/ws",
		Env:           map[string]string{WebhookTokenVar: "secret-token"},
	})
	ctx := context.Background()

	_, err := f.manager.Start(ctx, d.ID)
	require.NoError(t, err)
	require.NoError(t, f.store.UpdateDeploymentStatus(ctx, d.ID, models.StatusRunning, 4242, ""))

	var gotBaseURL string
	var gotOpts jarvis.StreamOptions
	f.manager.stream = func(_ context.Context, baseURL string, opts jarvis.StreamOptions) *jarvis.StreamResult {
		gotBaseURL = baseURL
		gotOpts = opts
		opts.OnToken("Hel")
		opts.OnToken("lo")
		return &jarvis.StreamResult{
			OK:          true,
			Response:    "Hello",
			Streamed:    true,
			Transport:   jarvis.TransportEventStream,
			TokenChunks: 2,
		}
	}

	res, err := f.manager.SendMessage(ctx, d.ID, "hi there")
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, "Hello", res.Response)

	stored, err := f.store.GetDeployment(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, stored.APIBaseURL, gotBaseURL)
	assert.Equal(t, "hi there", gotOpts.Message)
	assert.Equal(t, "secret-token", gotOpts.AuthToken)

	tokens := f.bus.bySubject(events.BuildRuntimeStreamSubject(d.ID))
	require.Len(t, tokens, 2)
	first, ok := tokens[0].event.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Hel", first["token"])
	assert.Equal(t, 1, first["seq"])

	evs, err := f.store.ListRuntimeEvents(ctx, d.ID, 10)
	require.NoError(t, err)
	require.NotEmpty(t, evs)
	assert.Equal(t, "webhook_result", evs[0].EventType)
	assert.Equal(t, first["correlation_id"], evs[0].CorrelationID)
	assert.Equal(t, true, evs[0].Payload["ok"])
}

func TestTriggerInstallConflictsWhileRunning(t *testing.T) {
	f := newManagerFixture(t)
	activity := f.manager.installer.Activity()
	activity.Begin("main")
	defer activity.Succeed()

	err := f.manager.TriggerInstall("main")
	assert.True(t, apperrors.IsConflict(err))
}

func TestHydrateSettlesStaleAndResumesDesired(t *testing.T) {
	f := newManagerFixture(t)
	f.seedInstallation(t)
	ctx := context.Background()

	stale := f.create(t, CreateRequest{Name: "stale", WorkspacePath: "/tmp/a"})
	require.NoError(t, f.store.UpdateDeploymentStatus(ctx, stale.ID, models.StatusRunning, 999, ""))

	wanted := f.create(t, CreateRequest{Name: "wanted", WorkspacePath: "/tmp/b"})
	require.NoError(t, f.store.SetDesiredState(ctx, wanted.ID, models.DesiredRunning))

	require.NoError(t, f.manager.Hydrate(ctx))

	staleStored, err := f.store.GetDeployment(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusStopped, staleStored.Status)
	assert.Equal(t, 0, staleStored.PID)

	require.Len(t, f.sup.started, 1)
	assert.Equal(t, wanted.ID, f.sup.started[0].DeploymentID)
}

func TestShutdownStopsSupervisorOnly(t *testing.T) {
	f := newManagerFixture(t)
	f.seedInstallation(t)
	ctx := context.Background()

	d := f.create(t, CreateRequest{Name: "worker", WorkspacePath: "/tmp/ws"})
	_, err := f.manager.Start(ctx, d.ID)
	require.NoError(t, err)

	require.NoError(t, f.manager.Shutdown(ctx))
	assert.True(t, f.sup.shutdown)

	stored, err := f.store.GetDeployment(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DesiredRunning, stored.DesiredState)
}
