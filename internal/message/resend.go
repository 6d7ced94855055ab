package message

import (
	"context"
	"fmt"
)

// Resend queues a fresh copy of an already-sent message. The copy
// starts with clean delivery and tracking state; the original keeps
// its history. Resending an unsent message is rejected since the
// scheduler will still pick it up.
func (s *Service) Resend(ctx context.Context, id int64) (int64, error) {
	orig, err := s.store.Get(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("load message %d: %w", id, err)
	}
	if orig.SentAt == nil {
		return 0, fmt.Errorf("message %d has not been sent yet", id)
	}
	// The clone keeps an audit pointer back to what it replaces.
	meta := orig.TrackingMeta.Clone()
	meta["resent_from_message_id"] = orig.ID
	clone := &Message{
		MessageTypeID:  orig.MessageTypeID,
		MessagableType: orig.MessagableType,
		MessagableID:   orig.MessagableID,
		ReceiverType:   orig.ReceiverType,
		ReceiverID:     orig.ReceiverID,
		SenderType:     orig.SenderType,
		SenderID:       orig.SenderID,
		CompanyID:      orig.CompanyID,
		Params:         orig.Params,
		Text:           orig.Text,
		Locale:         orig.Locale,
		TrackingMeta:   meta,
	}
	return s.store.Create(ctx, clone)
}
