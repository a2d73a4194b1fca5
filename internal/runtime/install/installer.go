// Package install acquires jarvis runtime binaries: building them through
// cargo, falling back to source archives, and promoting verified builds
// atomically into the versions directory.
package install

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/common/appctx"
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/common/config"
	apperrors "github.com/Gabriel0110/openwork-jarvis-sub000/internal/common/errors"
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/common/logger"
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/runtime/manifest"
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/tracing"
)

// Install status states reported by Status.
const (
	StatusInstalling   = "installing"
	StatusInstalled    = "installed"
	StatusNotInstalled = "not_installed"
	StatusError        = "error"
)

// Status is the installer's report for the runtime status endpoint.
type Status struct {
	State             string          `json:"state"`
	ActiveVersion     string          `json:"active_version,omitempty"`
	AvailableVersions []string        `json:"available_versions"`
	Installations     []*Installation `json:"installations"`
	LastError         string          `json:"last_error,omitempty"`
	RuntimeRoot       string          `json:"runtime_root"`
}

// VerifyResult is the advisory outcome of a verification check. Verification
// never fails the caller; doctor flows run many checks and report them all.
type VerifyResult struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// Installer stages, builds, verifies, and promotes runtime versions.
// At most one install runs at a time.
type Installer struct {
	cfg      *config.RuntimeConfig
	store    Store
	manifest *manifest.Manifest
	log      *logger.Logger
	activity *Activity

	httpClient *http.Client

	mu         sync.Mutex
	installing bool
}

// New creates an Installer.
func New(cfg *config.RuntimeConfig, store Store, m *manifest.Manifest, log *logger.Logger) *Installer {
	return &Installer{
		cfg:        cfg,
		store:      store,
		manifest:   m,
		log:        log.WithFields(zap.String("component", "installer")),
		activity:   NewActivity(),
		httpClient: &http.Client{},
	}
}

// Activity exposes the live install log.
func (i *Installer) Activity() *Activity {
	return i.activity
}

// Status reports the current install state.
func (i *Installer) Status(ctx context.Context) (*Status, error) {
	installs, err := i.store.ListInstallations(ctx)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list installations")
	}

	st := &Status{
		AvailableVersions: i.manifest.AvailableVersions(manifest.CurrentPlatform()),
		Installations:     installs,
		RuntimeRoot:       i.cfg.RootDir,
		LastError:         i.activity.LastError(),
	}

	var hasErrorRow bool
	for _, inst := range installs {
		if inst.IsActive {
			st.ActiveVersion = inst.Version
		}
		if inst.LastError != "" {
			hasErrorRow = true
			if st.LastError == "" {
				st.LastError = inst.LastError
			}
		}
	}

	switch {
	case i.activity.Running():
		st.State = StatusInstalling
	case st.ActiveVersion != "":
		st.State = StatusInstalled
	case hasErrorRow || st.LastError != "":
		st.State = StatusError
	default:
		st.State = StatusNotInstalled
	}
	return st, nil
}

// EnsureVersion returns the active installation if it already covers the
// requested version, installing it otherwise.
func (i *Installer) EnsureVersion(ctx context.Context, version string) (*Installation, error) {
	v := i.manifest.ResolveVersion(version)

	active, err := i.store.GetActiveInstallation(ctx)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to read active installation")
	}
	if active != nil && active.Version == v && fileExists(active.BinaryPath) {
		return active, nil
	}
	return i.Install(ctx, v)
}

// Install resolves, stages, builds, and activates a runtime version. On
// failure an error Installation row is recorded and the error returned.
func (i *Installer) Install(ctx context.Context, version string) (*Installation, error) {
	if !i.tryBegin() {
		return nil, apperrors.Conflict("an install is already running")
	}
	defer i.endInstall()

	ctx, cancel := context.WithTimeout(ctx, i.cfg.InstallTimeout())
	defer cancel()

	v := i.manifest.ResolveVersion(version)
	i.activity.Begin(v)

	ctx, span := tracing.TraceInstallPhase(ctx, "install", v)
	inst, err := i.install(ctx, v)
	tracing.TraceInstallResult(span, err)
	span.End()

	if err != nil {
		i.activity.Fail(err)
		i.recordFailure(v, err)
		i.log.Error("Install failed", zap.String("version", v), zap.Error(err))
		return nil, err
	}

	i.activity.Succeed()
	i.log.Info("Install complete",
		zap.String("version", inst.Version),
		zap.String("binary", inst.BinaryPath))
	return inst, nil
}

func (i *Installer) install(ctx context.Context, v string) (*Installation, error) {
	startedAt := time.Now().UTC()
	platform := manifest.CurrentPlatform()

	i.activity.Infof(PhaseResolve, fmt.Sprintf("resolving version %s for %s", v, platform))
	rel, err := i.manifest.Resolve(v, platform)
	if err != nil {
		return nil, apperrors.InstallFailed(PhaseResolve, err)
	}

	installRoot := i.versionRoot(v)
	binPath := filepath.Join(installRoot, i.binaryRelPath(rel))

	// Idempotent fast path: the binary is already on disk.
	if fileExists(binPath) {
		i.activity.Infof(PhaseVerify, "binary already present, activating "+binPath)
		if err := ensureExecutable(binPath); err != nil {
			return nil, apperrors.InstallFailed(PhaseVerify, err)
		}
		return i.register(ctx, v, installRoot, binPath, startedAt)
	}

	// Stage under a unique directory; work/ is promoted, the rest discarded.
	stagingRoot := filepath.Join(i.cfg.RootDir, "staging", uuid.New().String())
	workDir := filepath.Join(stagingRoot, "work")
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, apperrors.InstallFailed(PhaseResolve, fmt.Errorf("failed to create staging dir: %w", err))
	}
	defer i.cleanupStaging(stagingRoot)

	stagedBin := filepath.Join(workDir, i.binaryRelPath(rel))

	if crateRef, ok := i.registryRef(rel, v); ok {
		i.activity.SetPhase(PhaseCargoInstall)
		args := []string{"install", rel.BuildPackage, "--root", workDir, "--locked"}
		if crateRef != "" {
			args = append(args, "--version", crateRef)
		}
		if err := i.runCommand(ctx, PhaseCargoInstall, "", i.cfg.CargoBin, args...); err != nil {
			i.activity.Append(PhaseCargoInstall, "installer", "registry install failed: "+err.Error())
		}
	} else {
		i.activity.Infof(PhaseCargoInstall, "skipping registry install for "+v)
	}

	// Fall back to building from the source archive when the primary
	// strategy produced nothing.
	if !fileExists(stagedBin) {
		if rel.SourceURL == "" {
			return nil, apperrors.InstallFailed(PhaseCargoInstall,
				fmt.Errorf("build produced no binary and release has no source archive"))
		}

		i.activity.SetPhase(PhaseDownloadSource)
		archive := filepath.Join(stagingRoot, "source.tar.gz")
		if _, err := i.downloadSource(ctx, rel.SourceURL, archive); err != nil {
			return nil, apperrors.InstallFailed(PhaseDownloadSource, err)
		}

		if rel.SourceSHA256 != "" {
			sum, err := FileSHA256(archive)
			if err != nil {
				return nil, apperrors.InstallFailed(PhaseDownloadSource, err)
			}
			if !strings.EqualFold(sum, rel.SourceSHA256) {
				return nil, apperrors.ChecksumMismatch(rel.SourceSHA256, sum)
			}
			i.activity.Infof(PhaseDownloadSource, "source checksum verified")
		}

		srcDir, err := i.extractSource(ctx, archive, filepath.Join(stagingRoot, "src"))
		if err != nil {
			return nil, apperrors.InstallFailed(PhaseExtractSource, err)
		}

		i.activity.SetPhase(PhaseCargoInstall)
		args := []string{"install", "--path", srcDir, "--root", workDir, "--locked"}
		if err := i.runCommand(ctx, PhaseCargoInstall, "", i.cfg.CargoBin, args...); err != nil {
			return nil, apperrors.InstallFailed(PhaseCargoInstall, err)
		}
	}

	if !fileExists(stagedBin) {
		return nil, apperrors.InstallFailed(PhaseCargoInstall,
			fmt.Errorf("expected binary %s missing after build", stagedBin))
	}
	if err := ensureExecutable(stagedBin); err != nil {
		return nil, apperrors.InstallFailed(PhaseCargoInstall, err)
	}

	// Atomic promote: remove any previous install root, then rename the
	// staged tree into place.
	i.activity.SetPhase(PhasePromote)
	i.activity.Infof(PhasePromote, "promoting staged build to "+installRoot)
	if err := os.MkdirAll(filepath.Dir(installRoot), 0o755); err != nil {
		return nil, apperrors.InstallFailed(PhasePromote, err)
	}
	if err := os.RemoveAll(installRoot); err != nil {
		return nil, apperrors.InstallFailed(PhasePromote, err)
	}
	if err := os.Rename(workDir, installRoot); err != nil {
		return nil, apperrors.InstallFailed(PhasePromote, err)
	}

	if !fileExists(binPath) {
		return nil, apperrors.InstallFailed(PhasePromote,
			fmt.Errorf("binary %s missing after promote", binPath))
	}

	return i.register(ctx, v, installRoot, binPath, startedAt)
}

// register computes the binary checksum, persists the installation, and
// activates it.
func (i *Installer) register(ctx context.Context, v, installRoot, binPath string, startedAt time.Time) (*Installation, error) {
	i.activity.SetPhase(PhaseVerify)

	sum, err := FileSHA256(binPath)
	if err != nil {
		return nil, apperrors.InstallFailed(PhaseVerify, err)
	}
	i.activity.Infof(PhaseVerify, "binary sha256 "+sum)

	now := time.Now().UTC()
	inst := &Installation{
		Version:     v,
		Source:      SourceManaged,
		InstallPath: installRoot,
		BinaryPath:  binPath,
		Checksum:    sum,
		StartedAt:   startedAt,
		CompletedAt: &now,
		IsActive:    true,
	}

	if err := i.store.SaveInstallation(ctx, inst); err != nil {
		return nil, apperrors.Wrap(err, "failed to save installation")
	}
	if err := i.store.ActivateInstallation(ctx, v); err != nil {
		return nil, apperrors.Wrap(err, "failed to activate installation")
	}
	return inst, nil
}

// Verify checks an installed version's binary and checksum. The result is
// advisory; infrastructure failures fold into the message.
func (i *Installer) Verify(ctx context.Context, version string) *VerifyResult {
	v := i.manifest.ResolveVersion(version)

	inst, err := i.store.GetInstallation(ctx, v)
	if err != nil {
		return &VerifyResult{OK: false, Message: fmt.Sprintf("failed to look up version %s: %v", v, err)}
	}

	binPath := ""
	checksum := ""
	if inst != nil {
		binPath = inst.BinaryPath
		checksum = inst.Checksum
	}
	if binPath == "" {
		binPath = filepath.Join(i.versionRoot(v), "bin", i.cfg.BinaryName)
	}

	if !fileExists(binPath) {
		return &VerifyResult{OK: false, Message: fmt.Sprintf("version %s binary missing at %s", v, binPath)}
	}
	if checksum == "" {
		return &VerifyResult{OK: true, Message: fmt.Sprintf("version %s binary present (no checksum on file)", v)}
	}

	sum, err := FileSHA256(binPath)
	if err != nil {
		return &VerifyResult{OK: false, Message: fmt.Sprintf("failed to hash %s: %v", binPath, err)}
	}
	if !strings.EqualFold(sum, checksum) {
		return &VerifyResult{OK: false, Message: fmt.Sprintf("version %s checksum mismatch: expected %s, got %s", v, checksum, sum)}
	}
	return &VerifyResult{OK: true, Message: fmt.Sprintf("version %s verified", v)}
}

// recordFailure persists an error Installation row so failed installs are
// visible in the status report across restarts. The write runs on a detached
// context: the install context is usually already dead when we get here.
func (i *Installer) recordFailure(v string, cause error) {
	ctx, cancel := appctx.Detached(10 * time.Second)
	defer cancel()

	now := time.Now().UTC()
	startedAt := now
	if snap := i.activity.Snapshot(); snap.StartedAt != nil {
		startedAt = *snap.StartedAt
	}
	row := &Installation{
		Version:     v,
		Source:      SourceManaged,
		InstallPath: i.versionRoot(v),
		StartedAt:   startedAt,
		CompletedAt: &now,
		LastError:   cause.Error(),
	}
	if err := i.store.SaveInstallation(ctx, row); err != nil {
		i.log.Error("Failed to record install failure",
			zap.String("version", v),
			zap.Error(err))
	}
}

func (i *Installer) cleanupStaging(stagingRoot string) {
	i.activity.SetPhase(PhaseCleanup)
	if err := os.RemoveAll(stagingRoot); err != nil {
		i.activity.Infof(PhaseCleanup, "failed to remove staging dir: "+err.Error())
		return
	}
	i.activity.Infof(PhaseCleanup, "staging cleaned")
}

// registryRef decides whether the primary cargo-registry strategy applies and
// which crate version to request. The tracking build has no registry release.
func (i *Installer) registryRef(rel *manifest.Release, v string) (string, bool) {
	if rel.BuildPackage == "" {
		return "", false
	}
	ref := rel.BuildRef
	if ref == "" {
		ref = v
	}
	if ref == manifest.BuiltinVersion {
		return "", false
	}
	return ref, true
}

func (i *Installer) versionRoot(v string) string {
	return filepath.Join(i.cfg.RootDir, "versions", v)
}

func (i *Installer) binaryRelPath(rel *manifest.Release) string {
	if rel.BinaryRelativePath != "" {
		return filepath.FromSlash(rel.BinaryRelativePath)
	}
	return filepath.Join("bin", i.cfg.BinaryName)
}

func (i *Installer) tryBegin() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.installing {
		return false
	}
	i.installing = true
	return true
}

func (i *Installer) endInstall() {
	i.mu.Lock()
	i.installing = false
	i.mu.Unlock()
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func ensureExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Mode()&0o111 != 0 {
		return nil
	}
	return os.Chmod(path, info.Mode()|0o755)
}
