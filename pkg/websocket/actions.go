package websocket

// Action constants for request frames
const (
	// Health
	ActionHealthCheck = "health.check"

	// Deployment actions
	ActionDeploymentList    = "deployment.list"
	ActionDeploymentGet     = "deployment.get"
	ActionDeploymentCreate  = "deployment.create"
	ActionDeploymentUpdate  = "deployment.update"
	ActionDeploymentDelete  = "deployment.delete"
	ActionDeploymentStart   = "deployment.start"
	ActionDeploymentStop    = "deployment.stop"
	ActionDeploymentRestart = "deployment.restart"
	ActionDeploymentEvents  = "deployment.events"
	ActionDeploymentMessage = "deployment.message"

	// Runtime install actions
	ActionRuntimeStatus  = "runtime.status"
	ActionRuntimeInstall = "runtime.install"

	// Subscription actions (handled by the connection, not the dispatcher)
	ActionDeploymentSubscribe   = "deployment.subscribe"
	ActionDeploymentUnsubscribe = "deployment.unsubscribe"
)

// Notification actions (server -> client)
const (
	ActionDeploymentCreated       = "deployment.created"
	ActionDeploymentUpdated       = "deployment.updated"
	ActionDeploymentDeleted       = "deployment.deleted"
	ActionDeploymentStatusChanged = "deployment.status_changed"
	ActionRuntimeEvent            = "runtime.event"
	ActionRuntimeHealth           = "runtime.health"
	ActionRuntimeStream           = "runtime.stream"
	ActionInstallActivity         = "runtime.install.activity"
)

// Error codes
const (
	ErrorCodeBadRequest    = "BAD_REQUEST"
	ErrorCodeNotFound      = "NOT_FOUND"
	ErrorCodeConflict      = "CONFLICT"
	ErrorCodeValidation    = "VALIDATION_ERROR"
	ErrorCodeUnauthorized  = "UNAUTHORIZED"
	ErrorCodeInternalError = "INTERNAL_ERROR"
	ErrorCodeUnknownAction = "UNKNOWN_ACTION"
)
