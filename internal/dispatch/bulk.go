package dispatch

import (
	"context"
	"fmt"

	"github.com/ignite/mail-manager/internal/message"
	"github.com/ignite/mail-manager/internal/pkg/logger"
)

// BulkMailHandler sends one combined email for a receiver's group of
// messages. The group lives or dies together: one transport call, and
// either every member is marked sent or every member is marked failed.
type BulkMailHandler struct {
	deps Deps
	msgs []*message.Message
	ids  []int64
}

// NewBulkMailHandler reserves the whole group and returns its handler.
func NewBulkMailHandler(ctx context.Context, deps Deps, msgs []*message.Message) (*BulkMailHandler, error) {
	if len(msgs) == 0 {
		return nil, fmt.Errorf("empty bulk group")
	}
	ids := make([]int64, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	if err := deps.Store.ReserveGroup(ctx, ids); err != nil {
		return nil, fmt.Errorf("reserve bulk group: %w", err)
	}
	return &BulkMailHandler{deps: deps, msgs: msgs, ids: ids}, nil
}

// Send delivers the combined email.
func (h *BulkMailHandler) Send(ctx context.Context) error {
	lead := h.msgs[0]
	if err := h.deps.Store.BumpGroupAttempts(ctx, h.ids); err != nil {
		return fmt.Errorf("bump attempts for bulk group: %w", err)
	}
	for _, m := range h.msgs {
		m.Attempts++
	}

	if lead.ReceiverType == nil || lead.ReceiverID == nil {
		return h.failGroup(ctx, "bulk group has no receiver")
	}
	receiver, err := h.deps.Receivers.ResolveReceiver(ctx, lead)
	if err != nil {
		return fmt.Errorf("resolve bulk receiver: %w", err)
	}
	if receiver == nil {
		logger.Warn("bulk receiver vanished, deleting group",
			"receiver_type", *lead.ReceiverType, "receiver_id", *lead.ReceiverID,
			"count", len(h.msgs))
		return h.deps.Store.SoftDeleteGroup(ctx, h.ids)
	}
	if !receiver.IsAddressValid() {
		return h.deps.Store.SoftDeleteGroup(ctx, h.ids)
	}

	if lead.Type == nil || lead.Type.BulkMailHandler == nil {
		return h.failGroup(ctx, "bulk group has no bulk mail handler")
	}
	composer, err := h.deps.Composers.BulkComposer(*lead.Type.BulkMailHandler)
	if err != nil {
		return h.failGroup(ctx, err.Error())
	}

	email, err := composer.ComposeBulk(ctx, h.msgs, receiver)
	if err != nil {
		return h.failGroup(ctx, fmt.Sprintf("compose bulk: %v", err))
	}

	h.single(lead).applyDevBcc(email)

	gate := h.deps.Gate
	if gate == nil {
		gate = EnvironmentGate(h.deps.Config)
	}
	if !gate(ctx, lead) {
		logger.Info("send gate closed, marking bulk group sent without transport",
			"count", len(h.msgs), "environment", h.deps.Config.Environment)
		return h.deps.Store.MarkGroupSent(ctx, h.ids)
	}

	hash := h.single(lead).inject(ctx, email, h.msgs)

	res, err := h.deps.Transport.Send(ctx, email)
	if err != nil {
		logger.Warn("bulk send failed", "count", len(h.msgs), "error", err.Error())
		return h.deps.Store.MarkGroupError(ctx, h.ids)
	}

	if err := h.deps.Store.MarkGroupSent(ctx, h.ids); err != nil {
		return fmt.Errorf("mark bulk group sent: %w", err)
	}
	h.single(lead).recordTransportID(ctx, hash, res)
	return nil
}

// MessageLines collects the digest line for each message in a bulk
// group, as configured on its type. Bulk composers use these as the
// per-item rows of the combined email; messages whose type carries no
// line are skipped.
func MessageLines(msgs []*message.Message) []string {
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if m.Type == nil || m.Type.BulkMessageLine == nil {
			continue
		}
		lines = append(lines, *m.Type.BulkMessageLine)
	}
	return lines
}

// single borrows the per-message helper methods for the group.
func (h *BulkMailHandler) single(m *message.Message) *MailHandler {
	return &MailHandler{deps: h.deps, msg: m}
}

func (h *BulkMailHandler) failGroup(ctx context.Context, reason string) error {
	logger.Error("bulk group failed", "count", len(h.msgs), "reason", reason)
	return h.deps.Store.MarkGroupError(ctx, h.ids)
}
