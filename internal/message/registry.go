package message

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Receiver is the capability a notify target must expose to the mail
// handlers. Implementations live in the host application and are
// registered per receiver type discriminator.
type Receiver interface {
	Address() (name, email string)
	IsAddressValid() bool
	MarkAddressInvalid(ctx context.Context, manual bool) error
	PreferredLocale() string
}

// ReceiverResolver loads a receiver entity by id, returning nil when the
// entity no longer exists. Errors are reserved for infrastructure
// failures, not missing rows.
type ReceiverResolver func(ctx context.Context, id int64) (Receiver, error)

// MessagableResolver reports whether the business object that caused a
// message still exists.
type MessagableResolver func(ctx context.Context, id int64) (bool, error)

// Registry maps polymorphic type discriminator strings to resolver
// functions. It is built at startup and immutable afterwards; Freeze
// makes later registration a programming error.
type Registry struct {
	mu          sync.RWMutex
	frozen      bool
	receivers   map[string]ReceiverResolver
	messagables map[string]MessagableResolver
}

// NewRegistry returns an empty resolver registry.
func NewRegistry() *Registry {
	return &Registry{
		receivers:   make(map[string]ReceiverResolver),
		messagables: make(map[string]MessagableResolver),
	}
}

// RegisterReceiver binds a receiver type discriminator to its resolver.
func (r *Registry) RegisterReceiver(typeName string, resolver ReceiverResolver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		panic("message: registry is frozen, register resolvers at startup")
	}
	r.receivers[typeName] = resolver
}

// RegisterMessagable binds a messagable type discriminator to its
// existence check.
func (r *Registry) RegisterMessagable(typeName string, resolver MessagableResolver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		panic("message: registry is frozen, register resolvers at startup")
	}
	r.messagables[typeName] = resolver
}

// Freeze marks the registry immutable. Call once after startup wiring.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// ResolveReceiver loads the receiver for a message. Returns (nil, nil)
// when the message has no receiver reference or the entity is gone.
func (r *Registry) ResolveReceiver(ctx context.Context, m *Message) (Receiver, error) {
	if m.ReceiverType == nil || m.ReceiverID == nil {
		return nil, nil
	}
	r.mu.RLock()
	resolver, ok := r.receivers[*m.ReceiverType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("message: no receiver resolver registered for %q", *m.ReceiverType)
	}
	return resolver(ctx, *m.ReceiverID)
}

// MessagableExists reports whether the causing business object is still
// resolvable. A message without a messagable reference counts as
// existing (nothing to check).
func (r *Registry) MessagableExists(ctx context.Context, m *Message) (bool, error) {
	if m.MessagableType == nil || m.MessagableID == nil {
		return true, nil
	}
	r.mu.RLock()
	resolver, ok := r.messagables[*m.MessagableType]
	r.mu.RUnlock()
	if !ok {
		return false, fmt.Errorf("message: no messagable resolver registered for %q", *m.MessagableType)
	}
	return resolver(ctx, *m.MessagableID)
}

// ReceiverTypes returns the registered receiver discriminators, sorted.
func (r *Registry) ReceiverTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.receivers))
	for t := range r.receivers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
