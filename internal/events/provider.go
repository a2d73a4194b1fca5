package events

import (
	"fmt"
	"strings"

	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/common/config"
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/common/logger"
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/events/bus"
)

// ProvidedBus is the active event bus plus backend details callers may want
// to report. NATS is non-nil only when the NATS backend was selected.
type ProvidedBus struct {
	Bus  bus.EventBus
	NATS *bus.NATSEventBus
}

// Provide builds the configured event bus. An empty NATS URL selects the
// in-process bus. The returned cleanup closes whichever backend was built.
func Provide(cfg *config.Config, log *logger.Logger) (*ProvidedBus, func() error, error) {
	if strings.TrimSpace(cfg.NATS.URL) == "" {
		memBus := bus.NewMemoryEventBus(log)
		return &ProvidedBus{Bus: memBus}, func() error {
			memBus.Close()
			return nil
		}, nil
	}

	natsBus, err := bus.NewNATSEventBus(cfg.NATS, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize NATS event bus: %w", err)
	}
	return &ProvidedBus{Bus: natsBus, NATS: natsBus}, func() error {
		natsBus.Close()
		return nil
	}, nil
}
