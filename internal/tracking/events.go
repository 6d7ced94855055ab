package tracking

import (
	"context"

	"github.com/ignite/mail-manager/internal/message"
)

// Notifier receives domain events as webhook notifications land. The
// host application wires its own listener; NopNotifier is the default.
type Notifier interface {
	MessageDelivered(ctx context.Context, m *message.Message, recipient string)
	MessageBounced(ctx context.Context, m *message.Message, recipient string, permanent bool)
	MessageComplained(ctx context.Context, m *message.Message, recipient string)
}

// NopNotifier discards every event.
type NopNotifier struct{}

func (NopNotifier) MessageDelivered(context.Context, *message.Message, string)     {}
func (NopNotifier) MessageBounced(context.Context, *message.Message, string, bool) {}
func (NopNotifier) MessageComplained(context.Context, *message.Message, string)    {}
