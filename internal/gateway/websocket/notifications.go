package websocket

import (
	"context"
	"strings"

	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/common/logger"
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/events"
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/events/bus"
	ws "github.com/Gabriel0110/openwork-jarvis-sub000/pkg/websocket"
	"go.uber.org/zap"
)

// DeploymentEventBroadcaster relays bus events into websocket notifications.
// Catalog subjects (deployment lifecycle, install activity) broadcast to every
// client; per-deployment subjects (runtime events, health, stream tokens) go
// only to subscribers of that deployment id, read from the subject's last
// token.
type DeploymentEventBroadcaster struct {
	hub           *Hub
	subscriptions []bus.Subscription
	logger        *logger.Logger
}

func RegisterDeploymentNotifications(ctx context.Context, eventBus bus.EventBus, hub *Hub, log *logger.Logger) *DeploymentEventBroadcaster {
	b := &DeploymentEventBroadcaster{
		hub:    hub,
		logger: log.WithFields(zap.String("component", "ws-deployment-broadcaster")),
	}
	if eventBus == nil {
		return b
	}

	b.subscribeBroadcast(eventBus, events.DeploymentCreated, ws.ActionDeploymentCreated)
	b.subscribeBroadcast(eventBus, events.DeploymentUpdated, ws.ActionDeploymentUpdated)
	b.subscribeBroadcast(eventBus, events.DeploymentDeleted, ws.ActionDeploymentDeleted)
	b.subscribeBroadcast(eventBus, events.DeploymentStatusChanged, ws.ActionDeploymentStatusChanged)
	b.subscribeBroadcast(eventBus, events.InstallActivity, ws.ActionInstallActivity)

	b.subscribeScoped(eventBus, events.BuildRuntimeEventWildcardSubject(), events.RuntimeEvent, ws.ActionRuntimeEvent)
	b.subscribeScoped(eventBus, events.BuildRuntimeHealthWildcardSubject(), events.RuntimeHealth, ws.ActionRuntimeHealth)
	b.subscribeScoped(eventBus, events.BuildRuntimeStreamWildcardSubject(), events.RuntimeStream, ws.ActionRuntimeStream)

	go func() {
		<-ctx.Done()
		b.Close()
	}()

	return b
}

// Close drops all bus subscriptions.
func (b *DeploymentEventBroadcaster) Close() {
	for _, sub := range b.subscriptions {
		if sub != nil && sub.IsValid() {
			_ = sub.Unsubscribe()
		}
	}
	b.subscriptions = nil
}

func (b *DeploymentEventBroadcaster) subscribeBroadcast(eventBus bus.EventBus, subject, action string) {
	sub, err := eventBus.Subscribe(subject, func(ctx context.Context, event *bus.Event) error {
		msg, err := ws.NewNotification(action, event.Data)
		if err != nil {
			b.logger.Error("failed to build websocket notification",
				zap.String("action", action), zap.Error(err))
			return nil
		}
		b.hub.Broadcast(msg)
		return nil
	})
	if err != nil {
		b.logger.Error("failed to subscribe to events", zap.String("subject", subject), zap.Error(err))
		return
	}
	b.subscriptions = append(b.subscriptions, sub)
}

func (b *DeploymentEventBroadcaster) subscribeScoped(eventBus bus.EventBus, pattern, prefix, action string) {
	sub, err := eventBus.Subscribe(pattern, func(ctx context.Context, event *bus.Event) error {
		msg, err := ws.NewNotification(action, event.Data)
		if err != nil {
			b.logger.Error("failed to build websocket notification",
				zap.String("action", action), zap.Error(err))
			return nil
		}

		// The publish subject travels in the event type.
		if id := deploymentIDFromSubject(event.Type, prefix); id != "" {
			b.hub.BroadcastToDeployment(id, msg)
			return nil
		}
		b.hub.Broadcast(msg)
		return nil
	})
	if err != nil {
		b.logger.Error("failed to subscribe to events", zap.String("subject", pattern), zap.Error(err))
		return
	}
	b.subscriptions = append(b.subscriptions, sub)
}

func deploymentIDFromSubject(subject, prefix string) string {
	rest := strings.TrimPrefix(subject, prefix+".")
	if rest == subject || rest == "" || strings.Contains(rest, ".") {
		return ""
	}
	return rest
}
