// Package deployment is the control-plane facade over one managed jarvis
// runtime: persistence, version installs, process supervision, capability
// resolution, and the webhook message proxy. Mutating lifecycle operations
// serialize per deployment id; reads and message calls never take the lock.
package deployment

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/common/appctx"
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/common/config"
	apperrors "github.com/Gabriel0110/openwork-jarvis-sub000/internal/common/errors"
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/common/logger"
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/common/portutil"
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/common/stringutil"
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/deployment/models"
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/deployment/store"
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/events"
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/events/bus"
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/policy"
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/runtime/install"
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/runtime/logbridge"
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/runtime/supervisor"
	"github.com/Gabriel0110/openwork-jarvis-sub000/pkg/jarvis"
)

const (
	// persistTimeout bounds detached writes triggered by supervision
	// callbacks and stream completions.
	persistTimeout = 10 * time.Second

	// WebhookTokenVar names the deployment env entry holding the runtime's
	// webhook bearer token. The child process receives it through its
	// environment; the message proxy sends the same value back as
	// Authorization.
	WebhookTokenVar = "JARVIS_WEBHOOK_TOKEN"

	eventSource = "deployment-manager"
)

// processSupervisor is the slice of the supervisor the manager drives.
type processSupervisor interface {
	Start(spec supervisor.ProcessSpec) error
	Stop(ctx context.Context, deploymentID string) error
	Forget(deploymentID string)
	Status(deploymentID string) (supervisor.ProcessStatus, bool)
	Shutdown(ctx context.Context) error
}

// streamFunc sends one webhook message to a runtime gateway.
type streamFunc func(ctx context.Context, baseURL string, opts jarvis.StreamOptions) *jarvis.StreamResult

// Manager owns deployment lifecycle end to end. It is also the supervisor's
// observer: status changes, process events, bridge output, and health reports
// flow back through it into the store and onto the event bus.
type Manager struct {
	cfg       *config.Config
	store     store.Store
	installer *install.Installer
	registry  *policy.Registry
	eventBus  bus.EventBus
	logger    *logger.Logger

	sup    processSupervisor
	locks  *keyedLocks
	stream streamFunc
}

// New creates a Manager and the supervisor it drives, and wires install
// activity lines onto the event bus.
func New(cfg *config.Config, st store.Store, installer *install.Installer, registry *policy.Registry, eventBus bus.EventBus, log *logger.Logger) *Manager {
	m := &Manager{
		cfg:       cfg,
		store:     st,
		installer: installer,
		registry:  registry,
		eventBus:  eventBus,
		logger:    log.WithFields(zap.String("component", "deployment-manager")),
		locks:     newKeyedLocks(),
	}
	m.sup = supervisor.New(&cfg.Runtime, m, log)
	m.stream = m.streamViaClient
	installer.Activity().OnLine(m.onInstallLine)
	return m
}

// CreateRequest describes a new deployment.
type CreateRequest struct {
	Name           string
	WorkspaceID    string
	WorkspacePath  string
	RuntimeVersion string
	ModelProvider  string
	ModelName      string
	GatewayPort    int
	Env            map[string]string
	Policy         *policy.CapabilityPolicy
	DesiredState   string
}

// UpdateRequest carries the mutable deployment fields. Nil pointers leave the
// stored value untouched; a non-nil Env replaces the whole map.
type UpdateRequest struct {
	Name          *string
	ModelProvider *string
	ModelName     *string
	Env           map[string]string
	Policy        *policy.CapabilityPolicy
}

// Create validates and persists a new deployment with its effective
// capability set resolved. When the desired state is running the start
// proceeds in the background; the observer settles the outcome.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*models.Deployment, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperrors.ValidationError("name", "must not be empty")
	}
	if strings.TrimSpace(req.WorkspacePath) == "" {
		return nil, apperrors.ValidationError("workspace_path", "must not be empty")
	}
	desired := req.DesiredState
	switch desired {
	case "":
		desired = models.DesiredStopped
	case models.DesiredRunning, models.DesiredStopped:
	default:
		return nil, apperrors.ValidationError("desired_state", "must be running or stopped")
	}

	pol := policy.DefaultPolicy()
	if req.Policy != nil {
		pol = *req.Policy
	}
	caps := policy.Resolve(m.registry, pol)

	provider := stringutil.FirstNonEmpty(req.ModelProvider, m.cfg.Runtime.DefaultProvider)
	model := stringutil.FirstNonEmpty(req.ModelName, m.cfg.Runtime.DefaultModel)

	d := &models.Deployment{
		ID:             uuid.New().String(),
		WorkspaceID:    req.WorkspaceID,
		Name:           name,
		RuntimeVersion: req.RuntimeVersion,
		WorkspacePath:  req.WorkspacePath,
		ModelProvider:  provider,
		ModelName:      model,
		Status:         models.StatusCreated,
		DesiredState:   desired,
		GatewayHost:    m.cfg.Runtime.GatewayHost,
		GatewayPort:    req.GatewayPort,
		Env:            req.Env,
		Policy:         pol,
		Capabilities:   &caps,
	}
	if err := m.store.CreateDeployment(ctx, d); err != nil {
		return nil, apperrors.Wrap(err, "failed to create deployment")
	}

	m.logger.Info("Deployment created",
		zap.String("deployment_id", d.ID),
		zap.String("name", d.Name))
	m.publishData(ctx, events.DeploymentCreated, d)

	if desired == models.DesiredRunning {
		go m.startDetached(d.ID)
	}
	return d, nil
}

// Get returns one deployment by id.
func (m *Manager) Get(ctx context.Context, id string) (*models.Deployment, error) {
	return m.getDeployment(ctx, id)
}

// List returns deployments matching the query, newest first.
func (m *Manager) List(ctx context.Context, q store.ListQuery) ([]*models.Deployment, error) {
	list, err := m.store.ListDeployments(ctx, q)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list deployments")
	}
	return list, nil
}

// Update applies the mutable fields. A policy change recomputes the effective
// capability snapshot; the running process keeps its old environment until
// the next restart.
func (m *Manager) Update(ctx context.Context, id string, req UpdateRequest) (*models.Deployment, error) {
	release, err := m.locks.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	d, err := m.getDeployment(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, apperrors.ValidationError("name", "must not be empty")
		}
		d.Name = name
	}
	if req.ModelProvider != nil {
		d.ModelProvider = *req.ModelProvider
	}
	if req.ModelName != nil {
		d.ModelName = *req.ModelName
	}
	if req.Env != nil {
		d.Env = req.Env
	}
	if req.Policy != nil {
		d.Policy = *req.Policy
		caps := policy.Resolve(m.registry, d.Policy)
		d.Capabilities = &caps
	}

	if err := m.store.UpdateDeployment(ctx, d); err != nil {
		return nil, apperrors.Wrap(err, "failed to update deployment")
	}
	m.publishData(ctx, events.DeploymentUpdated, d)
	return d, nil
}

// Delete stops and forgets the runtime process, then removes the deployment
// and its audit trail.
func (m *Manager) Delete(ctx context.Context, id string) error {
	release, err := m.locks.acquire(ctx, id)
	if err != nil {
		return err
	}
	defer release()

	d, err := m.getDeployment(ctx, id)
	if err != nil {
		return err
	}

	if err := m.store.SetDesiredState(ctx, id, models.DesiredStopped); err != nil {
		return apperrors.Wrap(err, "failed to record desired state")
	}
	if err := m.sup.Stop(ctx, id); err != nil {
		m.logger.Warn("Failed to stop runtime during delete",
			zap.String("deployment_id", id),
			zap.Error(err))
	}
	m.sup.Forget(id)

	if err := m.store.DeleteDeployment(ctx, id); err != nil {
		return apperrors.Wrap(err, "failed to delete deployment")
	}

	m.logger.Info("Deployment deleted",
		zap.String("deployment_id", d.ID),
		zap.String("name", d.Name))
	m.publishData(ctx, events.DeploymentDeleted, d)
	return nil
}

// Start records the running intent, makes sure the runtime version is
// installed and a gateway port is bound, and spawns the process.
func (m *Manager) Start(ctx context.Context, id string) (*models.Deployment, error) {
	release, err := m.locks.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	d, err := m.getDeployment(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := m.store.SetDesiredState(ctx, id, models.DesiredRunning); err != nil {
		return nil, apperrors.Wrap(err, "failed to record desired state")
	}
	d.DesiredState = models.DesiredRunning

	spec, err := m.buildSpec(ctx, d)
	if err != nil {
		m.recordStartFailure(id, err)
		return nil, err
	}

	if err := m.sup.Start(*spec); err != nil {
		if errors.Is(err, supervisor.ErrStillStopping) {
			return nil, apperrors.Conflict(err.Error())
		}
		return nil, apperrors.Wrap(err, "failed to start runtime")
	}

	d.Status = models.StatusStarting
	m.publishData(ctx, events.DeploymentUpdated, d)
	return d, nil
}

// Stop records the stopped intent and terminates the runtime process. The
// supervisor cancels any pending crash restart first, so a stopped deployment
// never resurrects.
func (m *Manager) Stop(ctx context.Context, id string) (*models.Deployment, error) {
	release, err := m.locks.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	d, err := m.getDeployment(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := m.store.SetDesiredState(ctx, id, models.DesiredStopped); err != nil {
		return nil, apperrors.Wrap(err, "failed to record desired state")
	}
	d.DesiredState = models.DesiredStopped

	if err := m.sup.Stop(ctx, id); err != nil {
		return nil, apperrors.Wrap(err, "failed to stop runtime")
	}

	// A deployment never supervised since boot has no handle, so no observer
	// callback settles its stored status.
	if _, ok := m.sup.Status(id); !ok && d.Status != models.StatusStopped {
		m.StatusChanged(id, models.StatusStopped, 0, "")
	}
	d.Status = models.StatusStopped
	d.PID = 0
	d.LastError = ""
	m.publishData(ctx, events.DeploymentUpdated, d)
	return d, nil
}

// Restart stops the runtime process and starts it again with a freshly
// resolved spec, picking up version, env, and model changes.
func (m *Manager) Restart(ctx context.Context, id string) (*models.Deployment, error) {
	release, err := m.locks.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	d, err := m.getDeployment(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := m.store.SetDesiredState(ctx, id, models.DesiredRunning); err != nil {
		return nil, apperrors.Wrap(err, "failed to record desired state")
	}
	d.DesiredState = models.DesiredRunning

	// Stop before resolving the spec so the old process has released its
	// gateway port and the deployment keeps a stable address.
	if err := m.sup.Stop(ctx, id); err != nil {
		return nil, apperrors.Wrap(err, "failed to stop runtime")
	}

	spec, err := m.buildSpec(ctx, d)
	if err != nil {
		m.recordStartFailure(id, err)
		return nil, err
	}
	if err := m.sup.Start(*spec); err != nil {
		if errors.Is(err, supervisor.ErrStillStopping) {
			return nil, apperrors.Conflict(err.Error())
		}
		return nil, apperrors.Wrap(err, "failed to restart runtime")
	}

	d.Status = models.StatusStarting
	m.publishData(ctx, events.DeploymentUpdated, d)
	return d, nil
}

// Events returns the deployment's persisted audit trail, newest first.
func (m *Manager) Events(ctx context.Context, id string, limit int) ([]*models.RuntimeEvent, error) {
	if _, err := m.getDeployment(ctx, id); err != nil {
		return nil, err
	}
	evs, err := m.store.ListRuntimeEvents(ctx, id, limit)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list runtime events")
	}
	return evs, nil
}

// Capabilities resolves the deployment's policy against the current registry.
// The stored snapshot is left alone; it refreshes on create and policy
// update.
func (m *Manager) Capabilities(ctx context.Context, id string) (*policy.EffectiveCapabilitySet, error) {
	d, err := m.getDeployment(ctx, id)
	if err != nil {
		return nil, err
	}
	caps := policy.Resolve(m.registry, d.Policy)
	return &caps, nil
}

// SendMessage proxies one chat message through the runtime's webhook,
// republishing every incremental token on the bus while the call runs. The
// stream outcome is a result value, success or not; the error return covers
// lookup and precondition failures only.
func (m *Manager) SendMessage(ctx context.Context, id, message string) (*jarvis.StreamResult, error) {
	if strings.TrimSpace(message) == "" {
		return nil, apperrors.ValidationError("message", "must not be empty")
	}
	d, err := m.getDeployment(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status != models.StatusRunning {
		return nil, apperrors.Conflict(fmt.Sprintf("deployment is %s, not running", d.Status))
	}

	correlationID := uuid.New().String()
	subject := events.BuildRuntimeStreamSubject(d.ID)
	seq := 0
	res := m.stream(ctx, d.APIBaseURL, jarvis.StreamOptions{
		DeploymentID: d.ID,
		Message:      message,
		AuthToken:    d.Env[WebhookTokenVar],
		OnToken: func(token string) {
			seq++
			m.publishData(ctx, subject, map[string]any{
				"deployment_id":  d.ID,
				"correlation_id": correlationID,
				"seq":            seq,
				"token":          token,
			})
		},
	})

	m.recordStreamResult(d.ID, correlationID, res)
	return res, nil
}

// RuntimeStatus reports the installer's view of available and installed
// runtime versions.
func (m *Manager) RuntimeStatus(ctx context.Context) (*install.Status, error) {
	return m.installer.Status(ctx)
}

// TriggerInstall starts an install in the background, conflicting when one is
// already running. Progress is observable through InstallActivity and the
// install activity bus subject.
func (m *Manager) TriggerInstall(version string) error {
	if m.installer.Activity().Running() {
		return apperrors.Conflict("an install is already running")
	}
	go func() {
		ctx, cancel := appctx.Detached(m.cfg.Runtime.InstallTimeout() + time.Minute)
		defer cancel()
		if _, err := m.installer.Install(ctx, version); err != nil {
			m.logger.Error("Background install failed",
				zap.String("version", version),
				zap.Error(err))
		}
	}()
	return nil
}

// VerifyVersion checks an installed version's binary and checksum. The result
// is advisory.
func (m *Manager) VerifyVersion(ctx context.Context, version string) *install.VerifyResult {
	return m.installer.Verify(ctx, version)
}

// InstallActivity returns the current install activity snapshot.
func (m *Manager) InstallActivity() install.Snapshot {
	return m.installer.Activity().Snapshot()
}

func (m *Manager) getDeployment(ctx context.Context, id string) (*models.Deployment, error) {
	d, err := m.store.GetDeployment(ctx, id)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to load deployment")
	}
	if d == nil {
		return nil, apperrors.NotFound("deployment", id)
	}
	return d, nil
}

// buildSpec resolves what the runtime process needs before spawning: the
// installed binary, a free gateway port, and the credential. The deployment
// row is updated with the resolved version and address.
func (m *Manager) buildSpec(ctx context.Context, d *models.Deployment) (*supervisor.ProcessSpec, error) {
	inst, err := m.installer.EnsureVersion(ctx, d.RuntimeVersion)
	if err != nil {
		return nil, err
	}

	host := d.GatewayHost
	if host == "" {
		host = m.cfg.Runtime.GatewayHost
	}
	port := d.GatewayPort
	if port == 0 || !portutil.IsFree(host, port) {
		if port != 0 {
			m.logger.Warn("Recorded gateway port is busy, picking a new one",
				zap.String("deployment_id", d.ID),
				zap.Int("gateway_port", port))
		}
		port, err = portutil.AllocateInRange(host, m.cfg.Runtime.PortRangeStart, m.cfg.Runtime.PortRangeEnd)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to allocate gateway port")
		}
	}

	d.RuntimeVersion = inst.Version
	d.GatewayHost = host
	d.GatewayPort = port
	d.APIBaseURL = fmt.Sprintf("http://%s:%d", host, port)
	if err := m.store.UpdateDeployment(ctx, d); err != nil {
		return nil, apperrors.Wrap(err, "failed to record gateway address")
	}

	return &supervisor.ProcessSpec{
		DeploymentID:  d.ID,
		BinaryPath:    inst.BinaryPath,
		WorkspacePath: d.WorkspacePath,
		GatewayHost:   host,
		GatewayPort:   port,
		APIBaseURL:    d.APIBaseURL,
		Provider:      d.ModelProvider,
		Model:         d.ModelName,
		APIKey:        m.resolveAPIKey(d),
		Env:           d.Env,
		LogPath:       filepath.Join(m.cfg.Runtime.LogDir, d.ID+".log"),
	}, nil
}

// resolveAPIKey finds the provider credential for a deployment: an explicit
// entry in its env wins, then the daemon's own environment.
func (m *Manager) resolveAPIKey(d *models.Deployment) string {
	if d.ModelProvider == "" {
		return ""
	}
	keyVar := supervisor.ProviderKeyVar(d.ModelProvider)
	return stringutil.FirstNonEmpty(d.Env[keyVar], os.Getenv(keyVar))
}

// startDetached runs a start outside the request that asked for it. Create
// with desired_state=running returns immediately; the start, which may
// include a full install, proceeds here and settles through the observer.
func (m *Manager) startDetached(id string) {
	ctx, cancel := appctx.Detached(m.cfg.Runtime.InstallTimeout() + time.Minute)
	defer cancel()
	if _, err := m.Start(ctx, id); err != nil {
		m.logger.Error("Deferred start failed",
			zap.String("deployment_id", id),
			zap.Error(err))
	}
}

// recordStartFailure settles a deployment that failed before the supervisor
// ever saw it, so the failure is visible in the stored status.
func (m *Manager) recordStartFailure(id string, cause error) {
	m.StatusChanged(id, models.StatusError, 0, cause.Error())
}

// streamViaClient is the production streamFunc.
func (m *Manager) streamViaClient(ctx context.Context, baseURL string, opts jarvis.StreamOptions) *jarvis.StreamResult {
	return jarvis.NewClient(baseURL, m.logger).StreamWebhook(ctx, opts)
}

// recordStreamResult appends the webhook call outcome to the audit trail. The
// write runs detached: the caller's context is already cancelled when a
// stream was aborted midway.
func (m *Manager) recordStreamResult(id, correlationID string, res *jarvis.StreamResult) {
	ctx, cancel := appctx.Detached(persistTimeout)
	defer cancel()

	severity := logbridge.SeverityInfo
	message := "webhook message completed"
	if !res.OK {
		severity = logbridge.SeverityWarning
		message = "webhook message failed"
	}
	ev := &models.RuntimeEvent{
		DeploymentID:  id,
		EventType:     "webhook_result",
		Severity:      severity,
		Message:       message,
		CorrelationID: correlationID,
		Payload: map[string]any{
			"ok":           res.OK,
			"transport":    res.Transport,
			"streamed":     res.Streamed,
			"token_chunks": res.TokenChunks,
			"synthetic":    res.SyntheticFallbackUsed,
			"duration_ms":  res.DurationMs,
		},
	}
	if res.Error != "" {
		ev.Payload["error"] = res.Error
	}
	if res.Unauthorized {
		ev.Payload["unauthorized"] = true
	}
	m.appendEvent(ctx, ev)
}

// appendEvent persists one audit event and republishes it on the bus.
func (m *Manager) appendEvent(ctx context.Context, ev *models.RuntimeEvent) {
	if err := m.store.AppendRuntimeEvent(ctx, ev); err != nil {
		m.logger.Error("Failed to persist runtime event",
			zap.String("deployment_id", ev.DeploymentID),
			zap.String("event_type", ev.EventType),
			zap.Error(err))
	}
	m.publishData(ctx, events.BuildRuntimeEventSubject(ev.DeploymentID), ev)
}

// onInstallLine forwards one install activity line to the bus so a UI can
// tail a multi-minute build live.
func (m *Manager) onInstallLine(line install.Line) {
	ctx, cancel := appctx.Detached(persistTimeout)
	defer cancel()
	m.publishData(ctx, events.InstallActivity, line)
}

func (m *Manager) publishData(ctx context.Context, subject string, data any) {
	if m.eventBus == nil {
		return
	}
	event := bus.NewEvent(subject, eventSource, data)
	if err := m.eventBus.Publish(ctx, subject, event); err != nil {
		m.logger.Error("Failed to publish event",
			zap.String("subject", subject),
			zap.Error(err))
	}
}
