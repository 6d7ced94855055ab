package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ignite/mail-manager/internal/config"
	"github.com/ignite/mail-manager/internal/mail"
	"github.com/ignite/mail-manager/internal/message"
	"github.com/ignite/mail-manager/internal/pkg/logger"
	"github.com/ignite/mail-manager/internal/transport"
)

// Injector rewrites an outgoing email for engagement tracking and
// records the correlation state. Implemented by the tracking package.
type Injector interface {
	// Inject stamps the correlation hash and rewrites the body. It
	// returns the hash; a failed injection must not block the send.
	Inject(ctx context.Context, email *mail.Email, msgs []*message.Message) (string, error)
	// RecordTransportID stores the provider message id after a send.
	RecordTransportID(ctx context.Context, hash string, res *transport.Result) error
}

// SendGate is a yes/no predicate over a message. It backs two distinct
// decisions with different consequences: the environment gate (false
// skips the transport but still marks the message sent) and the
// business should-send-now gate (false leaves the message untouched
// for a later pass).
type SendGate func(ctx context.Context, m *message.Message) bool

// Deps bundles what every handler needs.
type Deps struct {
	Store     *message.Store
	Receivers *message.Registry
	Composers *Registry
	Transport transport.Transport
	Injector  Injector
	Config    *config.Config

	// Gate decides whether this environment may reach the transport
	// at all. Defaults to EnvironmentGate.
	Gate SendGate

	// ShouldSendNow is the business gate. Nil means always send.
	ShouldSendNow SendGate
}

// EnvironmentGate is the default SendGate: production always sends;
// other environments send only when a dev BCC is configured, so real
// receivers never get staging mail by accident.
func EnvironmentGate(cfg *config.Config) SendGate {
	return func(ctx context.Context, m *message.Message) bool {
		if cfg.IsProduction() {
			return true
		}
		return cfg.Sending.DevBcc != ""
	}
}

// MailHandler sends one message. Construction takes the reservation
// lease so a concurrent pass skips the row immediately.
type MailHandler struct {
	deps Deps
	msg  *message.Message
}

// NewMailHandler reserves the message and returns its handler.
func NewMailHandler(ctx context.Context, deps Deps, m *message.Message) (*MailHandler, error) {
	if m.Type == nil {
		return nil, fmt.Errorf("message %d has no type loaded", m.ID)
	}
	if err := deps.Store.Reserve(ctx, m.ID); err != nil {
		return nil, fmt.Errorf("reserve message %d: %w", m.ID, err)
	}
	return &MailHandler{deps: deps, msg: m}, nil
}

// Send runs the full delivery flow for the reserved message.
func (h *MailHandler) Send(ctx context.Context) error {
	m := h.msg
	attempts, err := h.deps.Store.BumpAttempts(ctx, m.ID)
	if err != nil {
		return fmt.Errorf("bump attempts for message %d: %w", m.ID, err)
	}
	m.Attempts = attempts

	receiver, abort, err := h.resolveReceiver(ctx)
	if err != nil || abort {
		return err
	}

	if h.deps.ShouldSendNow != nil && !h.deps.ShouldSendNow(ctx, m) {
		// Not due yet. The message stays pending and the retry pass
		// will pick it up once its lease goes stale.
		logger.Debug("message not due yet, leaving pending", "message_id", m.ID)
		return nil
	}

	if m.Type.SingleMailHandler == nil {
		return h.abort(ctx, "message type has no single mail handler")
	}
	composer, err := h.deps.Composers.Composer(*m.Type.SingleMailHandler)
	if err != nil {
		return h.abort(ctx, err.Error())
	}

	email, err := composer.Compose(ctx, m, receiver)
	if err != nil {
		return h.recordFailure(ctx, receiver, &transport.SendError{Text: fmt.Sprintf("compose: %v", err)})
	}
	h.applyDevBcc(email)

	gate := h.deps.Gate
	if gate == nil {
		gate = EnvironmentGate(h.deps.Config)
	}
	if !gate(ctx, m) {
		logger.Info("send gate closed, marking sent without transport",
			"message_id", m.ID, "environment", h.deps.Config.Environment)
		return h.deps.Store.MarkSent(ctx, m.ID)
	}

	hash := h.inject(ctx, email, []*message.Message{m})

	res, err := h.deps.Transport.Send(ctx, email)
	if err != nil {
		var sendErr *transport.SendError
		if !errors.As(err, &sendErr) {
			sendErr = &transport.SendError{Text: err.Error()}
		}
		return h.recordFailure(ctx, receiver, sendErr)
	}

	if err := h.deps.Store.MarkSent(ctx, m.ID); err != nil {
		return fmt.Errorf("mark message %d sent: %w", m.ID, err)
	}
	h.recordTransportID(ctx, hash, res)
	return nil
}

// resolveReceiver loads the receiver and applies the abort predicates.
// abort==true means the message was dealt with (soft-deleted) and the
// caller should stop without error.
func (h *MailHandler) resolveReceiver(ctx context.Context) (message.Receiver, bool, error) {
	m := h.msg
	exists, err := h.deps.Receivers.MessagableExists(ctx, m)
	if err != nil {
		return nil, false, fmt.Errorf("check messagable for message %d: %w", m.ID, err)
	}
	if !exists {
		return nil, true, h.softAbort(ctx, "messagable no longer exists")
	}
	if m.ReceiverType == nil || m.ReceiverID == nil {
		return nil, false, nil
	}
	receiver, err := h.deps.Receivers.ResolveReceiver(ctx, m)
	if err != nil {
		return nil, false, fmt.Errorf("resolve receiver for message %d: %w", m.ID, err)
	}
	if receiver == nil {
		logger.Warn("receiver vanished, deleting message",
			"message_id", m.ID, "receiver_type", *m.ReceiverType, "receiver_id", *m.ReceiverID)
		return nil, true, h.softAbort(ctx, "receiver no longer exists")
	}
	if !receiver.IsAddressValid() {
		return nil, true, h.softAbort(ctx, "receiver address marked invalid")
	}
	return receiver, false, nil
}

func (h *MailHandler) softAbort(ctx context.Context, reason string) error {
	if err := h.deps.Store.SetEmailError(ctx, h.msg.ID, reason); err != nil {
		return err
	}
	return h.deps.Store.SoftDelete(ctx, h.msg.ID)
}

func (h *MailHandler) abort(ctx context.Context, reason string) error {
	logger.Error("message aborted", "message_id", h.msg.ID, "reason", reason)
	return h.softAbort(ctx, reason)
}

func (h *MailHandler) applyDevBcc(email *mail.Email) {
	bcc := h.deps.Config.Sending.DevBcc
	if bcc == "" || h.deps.Config.IsProduction() {
		return
	}
	// The BCC is opt-in per message type.
	if h.msg.Type == nil || !h.msg.Type.DevBcc {
		return
	}
	email.Bcc = append(email.Bcc, mail.Address{Email: bcc})
}

func (h *MailHandler) inject(ctx context.Context, email *mail.Email, msgs []*message.Message) string {
	if h.deps.Injector == nil || email.NoTrack {
		return ""
	}
	hash, err := h.deps.Injector.Inject(ctx, email, msgs)
	if err != nil {
		// Tracking is best effort; the email still goes out.
		logger.Error("tracking injection failed", "message_id", msgs[0].ID, "error", err.Error())
		return ""
	}
	return hash
}

func (h *MailHandler) recordTransportID(ctx context.Context, hash string, res *transport.Result) {
	if h.deps.Injector == nil || hash == "" {
		return
	}
	if err := h.deps.Injector.RecordTransportID(ctx, hash, res); err != nil {
		logger.Error("recording transport message id failed",
			"hash", hash, "error", err.Error())
	}
}

// recordFailure persists the failure and applies the error classifier.
func (h *MailHandler) recordFailure(ctx context.Context, receiver message.Receiver, sendErr *transport.SendError) error {
	m := h.msg
	if err := h.deps.Store.RecordSendError(ctx, m.ID, sendErr.Code, sendErr.Text); err != nil {
		return err
	}
	logger.Warn("send failed", "message_id", m.ID, "code", sendErr.Code, "attempts", m.Attempts)

	switch {
	case (sendErr.Code == 450 || sendErr.Code == 550) && m.Attempts >= 2:
		// The address hard-bounced twice; stop mailing it.
		h.invalidateReceiver(ctx, receiver)
	case sendErr.Code == 451 && strings.Contains(strings.ToLower(sendErr.Text), "temporarily disabled"):
		max := h.deps.Config.Sending.MaxAttemptsBeforeStop
		if max > 0 && m.Attempts >= max {
			h.invalidateReceiver(ctx, receiver)
			return nil
		}
		// Back off linearly with the attempt count.
		at := time.Now().Add(time.Duration(m.Attempts) * time.Hour)
		if err := h.deps.Store.Reschedule(ctx, m.ID, at); err != nil {
			return err
		}
	}
	return nil
}

func (h *MailHandler) invalidateReceiver(ctx context.Context, receiver message.Receiver) {
	if receiver == nil {
		return
	}
	if err := receiver.MarkAddressInvalid(ctx, false); err != nil {
		logger.Error("marking receiver address invalid failed",
			"message_id", h.msg.ID, "error", err.Error())
	}
}
