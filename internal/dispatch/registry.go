// Package dispatch turns persisted message rows into delivered email:
// per-message handlers, receiver-grouped bulk handlers, and the
// scheduler passes that drive them.
package dispatch

import (
	"context"
	"fmt"

	"github.com/ignite/mail-manager/internal/mail"
	"github.com/ignite/mail-manager/internal/message"
)

// Composer builds the outgoing email for one message. The host
// application registers one per single-mail handler key.
type Composer interface {
	Compose(ctx context.Context, m *message.Message, r message.Receiver) (*mail.Email, error)
}

// ComposerFunc adapts a function to the Composer interface.
type ComposerFunc func(ctx context.Context, m *message.Message, r message.Receiver) (*mail.Email, error)

func (f ComposerFunc) Compose(ctx context.Context, m *message.Message, r message.Receiver) (*mail.Email, error) {
	return f(ctx, m, r)
}

// BulkComposer builds one combined email for a receiver's whole group.
type BulkComposer interface {
	ComposeBulk(ctx context.Context, msgs []*message.Message, r message.Receiver) (*mail.Email, error)
}

// BulkComposerFunc adapts a function to the BulkComposer interface.
type BulkComposerFunc func(ctx context.Context, msgs []*message.Message, r message.Receiver) (*mail.Email, error)

func (f BulkComposerFunc) ComposeBulk(ctx context.Context, msgs []*message.Message, r message.Receiver) (*mail.Email, error) {
	return f(ctx, msgs, r)
}

// Registry maps handler keys from message type rows to composers.
// Registration happens at startup; Freeze makes later mutation a
// programming error.
type Registry struct {
	single map[string]Composer
	bulk   map[string]BulkComposer
	frozen bool
}

// NewRegistry creates an empty composer registry.
func NewRegistry() *Registry {
	return &Registry{
		single: make(map[string]Composer),
		bulk:   make(map[string]BulkComposer),
	}
}

// RegisterComposer binds a single-mail handler key.
func (r *Registry) RegisterComposer(key string, c Composer) {
	if r.frozen {
		panic("dispatch: composer registered after freeze")
	}
	r.single[key] = c
}

// RegisterBulkComposer binds a bulk-mail handler key.
func (r *Registry) RegisterBulkComposer(key string, c BulkComposer) {
	if r.frozen {
		panic("dispatch: bulk composer registered after freeze")
	}
	r.bulk[key] = c
}

// Freeze locks the registry.
func (r *Registry) Freeze() { r.frozen = true }

// Composer resolves a single-mail handler key.
func (r *Registry) Composer(key string) (Composer, error) {
	c, ok := r.single[key]
	if !ok {
		return nil, fmt.Errorf("no composer registered for handler %q", key)
	}
	return c, nil
}

// BulkComposer resolves a bulk-mail handler key.
func (r *Registry) BulkComposer(key string) (BulkComposer, error) {
	c, ok := r.bulk[key]
	if !ok {
		return nil, fmt.Errorf("no bulk composer registered for handler %q", key)
	}
	return c, nil
}
