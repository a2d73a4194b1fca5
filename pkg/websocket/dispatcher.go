package websocket

import "context"

// Handler processes one request frame and returns the frame to send back.
type Handler interface {
	Handle(ctx context.Context, msg *Message) (*Message, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, msg *Message) (*Message, error)

func (f HandlerFunc) Handle(ctx context.Context, msg *Message) (*Message, error) {
	return f(ctx, msg)
}

// Dispatcher routes request frames to handlers by action. Registration
// happens once at boot; Dispatch may then be called from any connection
// goroutine.
type Dispatcher struct {
	handlers map[string]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

// Register binds a handler to an action, replacing any previous binding.
func (d *Dispatcher) Register(action string, handler Handler) {
	d.handlers[action] = handler
}

// RegisterFunc binds a handler function to an action.
func (d *Dispatcher) RegisterFunc(action string, handler HandlerFunc) {
	d.handlers[action] = handler
}

// Dispatch routes a frame to its handler. An unknown action is answered with
// an error frame rather than a Go error.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *Message) (*Message, error) {
	handler, ok := d.handlers[msg.Action]
	if !ok {
		return NewError(msg.ID, msg.Action, ErrorCodeUnknownAction,
			"Unknown action: "+msg.Action, nil)
	}
	return handler.Handle(ctx, msg)
}

// HasHandler reports whether an action is bound.
func (d *Dispatcher) HasHandler(action string) bool {
	_, ok := d.handlers[action]
	return ok
}
