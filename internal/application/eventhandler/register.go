package eventhandler

import (
	"fmt"

	"github.com/cyberguard/cyberguard-training/internal/domain/shared"
)

// Subscriber - шина событий, на которую подписываются обработчики.
type Subscriber interface {
	Subscribe(eventType shared.EventType, handler shared.EventHandler) error
}

// Handler - обработчик, знающий свои типы событий.
type Handler interface {
	EventTypes() []shared.EventType
	Handle(event shared.Event) error
}

// Register подписывает каждый обработчик на все его типы событий.
func Register(bus Subscriber, handlers ...Handler) error {
	for _, h := range handlers {
		if h == nil {
			continue
		}
		for _, t := range h.EventTypes() {
			if err := bus.Subscribe(t, h.Handle); err != nil {
				return fmt.Errorf("subscribe %T to %s: %w", h, t, err)
			}
		}
	}
	return nil
}
