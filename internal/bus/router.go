package bus

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog/log"
)

// Handler handles one kind of message.
type Handler func(ctx context.Context, msg *Message) (*Reply, error)

// Router dispatches messages to the handler registered for their kind.
type Router struct {
	mu       sync.RWMutex
	handlers map[Kind]Handler
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{handlers: make(map[Kind]Handler)}
}

// Register installs handler for kind, replacing any previous one.
func (r *Router) Register(kind Kind, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = handler
}

// Kinds returns the registered kinds in sorted order.
func (r *Router) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]Kind, 0, len(r.handlers))
	for k := range r.handlers {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

// Dispatch runs the handler for msg.Kind.
func (r *Router) Dispatch(ctx context.Context, msg *Message) (*Reply, error) {
	if msg == nil {
		return nil, fmt.Errorf("%w: nil message", ErrInvalidMessage)
	}

	r.mu.RLock()
	handler, ok := r.handlers[msg.Kind]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, msg.Kind)
	}

	reply, err := handler(ctx, msg)
	if err != nil {
		log.Warn().Err(err).Str("kind", string(msg.Kind)).Msg("Message handler failed")
		return nil, err
	}
	log.Debug().Str("kind", string(msg.Kind)).Bool("success", reply.Success).Msg("Message handled")
	return reply, nil
}
