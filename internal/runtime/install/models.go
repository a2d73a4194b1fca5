package install

import (
	"context"
	"time"
)

// Installation sources.
const (
	SourceManaged  = "managed"  // installed by this service
	SourceExternal = "external" // operator-provided binary, recorded but not managed
)

// Installation is one installed (or failed) runtime version. At most one row
// is active at a time; activating a version deactivates the rest.
type Installation struct {
	Version     string     `db:"version" json:"version"`
	Source      string     `db:"source" json:"source"`
	InstallPath string     `db:"install_path" json:"install_path"`
	BinaryPath  string     `db:"binary_path" json:"binary_path"`
	Checksum    string     `db:"checksum" json:"checksum,omitempty"`
	StartedAt   time.Time  `db:"started_at" json:"started_at"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	IsActive    bool       `db:"is_active" json:"is_active"`
	LastError   string     `db:"last_error" json:"last_error,omitempty"`

	// DurationMs is computed by listing queries, not stored.
	DurationMs *int64 `db:"duration_ms" json:"duration_ms,omitempty"`
}

// Store is the installation persistence the installer needs. GetActive and
// Get return (nil, nil) when no matching row exists.
type Store interface {
	SaveInstallation(ctx context.Context, inst *Installation) error
	ActivateInstallation(ctx context.Context, version string) error
	GetInstallation(ctx context.Context, version string) (*Installation, error)
	GetActiveInstallation(ctx context.Context) (*Installation, error)
	ListInstallations(ctx context.Context) ([]*Installation, error)
}
