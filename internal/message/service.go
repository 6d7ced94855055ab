package message

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ignite/mail-manager/internal/pkg/logger"
)

// ErrPrevented is returned when the prevent-create hook rejects a
// draft. Callers treat it as a no-op, not a failure.
var ErrPrevented = errors.New("message creation prevented")

// PreventFunc lets the host application veto message creation, e.g.
// for receivers that opted out of a category.
type PreventFunc func(ctx context.Context, draft *Message, t *MessageType) bool

// Service creates, changes, and deletes message rows. It enforces the
// per-type required-field contract before anything reaches the store.
type Service struct {
	store   *Store
	types   *TypeCache
	prevent PreventFunc
}

// NewService builds a message service. prevent may be nil.
func NewService(store *Store, types *TypeCache, prevent PreventFunc) *Service {
	return &Service{store: store, types: types, prevent: prevent}
}

// Draft accumulates the fields of a message before creation.
type Draft struct {
	MailClass      string
	MessagableType *string
	MessagableID   *int64
	ReceiverType   *string
	ReceiverID     *int64
	SenderType     *string
	SenderID       *int64
	CompanyID      *int64
	Params         Params
	Text           *string
	Locale         *string
	ScheduledAt    *time.Time
}

func (s *Service) validate(d *Draft, t *MessageType) error {
	var missing []string
	if t.RequiredSender && d.SenderID == nil {
		missing = append(missing, "sender")
	}
	if t.RequiredMessagable && d.MessagableID == nil {
		missing = append(missing, "messagable")
	}
	if t.RequiredCompanyID && d.CompanyID == nil {
		missing = append(missing, "company_id")
	}
	if t.RequiredScheduled && d.ScheduledAt == nil {
		missing = append(missing, "scheduled_at")
	}
	if t.RequiredMailText && d.Text == nil {
		missing = append(missing, "text")
	}
	if t.RequiredParams && len(d.Params) == 0 {
		missing = append(missing, "params")
	}
	if len(missing) > 0 {
		return fmt.Errorf("message type %q requires: %s", t.MailClass, strings.Join(missing, ", "))
	}
	return nil
}

func draftToMessage(d *Draft, t *MessageType) *Message {
	return &Message{
		MessageTypeID:  t.ID,
		MessagableType: d.MessagableType,
		MessagableID:   d.MessagableID,
		ReceiverType:   d.ReceiverType,
		ReceiverID:     d.ReceiverID,
		SenderType:     d.SenderType,
		SenderID:       d.SenderID,
		CompanyID:      d.CompanyID,
		Params:         d.Params,
		Text:           d.Text,
		Locale:         d.Locale,
		ScheduledAt:    d.ScheduledAt,
	}
}

// Create validates a draft against its type contract and inserts it.
func (s *Service) Create(ctx context.Context, d *Draft) (int64, error) {
	t, err := s.types.ByMailClass(ctx, d.MailClass)
	if err != nil {
		return 0, fmt.Errorf("resolve message type %q: %w", d.MailClass, err)
	}
	if err := s.validate(d, t); err != nil {
		return 0, err
	}
	m := draftToMessage(d, t)
	if s.prevent != nil && s.prevent(ctx, m, t) {
		logger.Info("message creation prevented",
			"mail_class", d.MailClass, "receiver_id", d.ReceiverID)
		return 0, ErrPrevented
	}
	return s.store.Create(ctx, m)
}

// Change updates the pending message equivalent to the draft, or
// creates one when nothing is queued. A sent message is never touched;
// the caller gets a fresh row instead.
func (s *Service) Change(ctx context.Context, d *Draft) (int64, error) {
	t, err := s.types.ByMailClass(ctx, d.MailClass)
	if err != nil {
		return 0, fmt.Errorf("resolve message type %q: %w", d.MailClass, err)
	}
	if err := s.validate(d, t); err != nil {
		return 0, err
	}
	existing, err := s.store.FindUnsentEquivalent(ctx, t.ID,
		d.MessagableType, d.MessagableID, d.ReceiverType, d.ReceiverID)
	if err != nil {
		return 0, err
	}
	if existing == nil {
		return s.Create(ctx, d)
	}
	existing.Params = d.Params
	existing.Text = d.Text
	if d.Locale != nil {
		existing.Locale = d.Locale
	}
	existing.ScheduledAt = d.ScheduledAt
	if err := s.store.UpdatePending(ctx, existing); err != nil {
		return 0, err
	}
	return existing.ID, nil
}

// Delete soft-deletes the pending message matching the draft identity.
// Sent messages stay untouched.
func (s *Service) Delete(ctx context.Context, mailClass string, messagableType *string, messagableID *int64, receiverType *string, receiverID *int64) error {
	t, err := s.types.ByMailClass(ctx, mailClass)
	if err != nil {
		return fmt.Errorf("resolve message type %q: %w", mailClass, err)
	}
	existing, err := s.store.FindUnsentEquivalent(ctx, t.ID,
		messagableType, messagableID, receiverType, receiverID)
	if err != nil {
		return err
	}
	if existing == nil {
		return nil
	}
	return s.store.SoftDelete(ctx, existing.ID)
}
