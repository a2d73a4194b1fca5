// Package events defines the bus subjects used across openworkd.
package events

// Event types for deployments
const (
	DeploymentCreated       = "deployment.created"
	DeploymentUpdated       = "deployment.updated"
	DeploymentDeleted       = "deployment.deleted"
	DeploymentStatusChanged = "deployment.status_changed"
)

// Event types for the managed runtime. Per-deployment subjects carry the
// deployment id as the final token.
const (
	RuntimeEvent  = "runtime.event"  // persisted runtime events (spawn, exit, bridge lines)
	RuntimeHealth = "runtime.health" // health state transitions
	RuntimeStream = "runtime.stream" // webhook stream tokens while a message call runs
)

// Event types for the installer
const (
	InstallActivity = "runtime.install.activity" // live install output lines
)

// BuildRuntimeEventSubject creates a runtime event subject for a specific deployment
func BuildRuntimeEventSubject(deploymentID string) string {
	return RuntimeEvent + "." + deploymentID
}

// BuildRuntimeEventWildcardSubject creates a wildcard subscription for all runtime events
func BuildRuntimeEventWildcardSubject() string {
	return RuntimeEvent + ".*"
}

// BuildRuntimeHealthSubject creates a health subject for a specific deployment
func BuildRuntimeHealthSubject(deploymentID string) string {
	return RuntimeHealth + "." + deploymentID
}

// BuildRuntimeHealthWildcardSubject creates a wildcard subscription for all health events
func BuildRuntimeHealthWildcardSubject() string {
	return RuntimeHealth + ".*"
}

// BuildRuntimeStreamSubject creates a stream token subject for a specific deployment
func BuildRuntimeStreamSubject(deploymentID string) string {
	return RuntimeStream + "." + deploymentID
}

// BuildRuntimeStreamWildcardSubject creates a wildcard subscription for all stream tokens
func BuildRuntimeStreamWildcardSubject() string {
	return RuntimeStream + ".*"
}
