package tracking

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/mail-manager/internal/message"
)

// SelfTest exercises the correlation path end to end without leaving
// the process: it stamps a synthetic provider id on a tracked message,
// feeds a fabricated delivery notification through the correlator, and
// checks that the metadata landed.
type SelfTest struct {
	store      *message.Store
	correlator *Correlator
}

// NewSelfTest builds a self test runner.
func NewSelfTest(store *message.Store, correlator *Correlator) *SelfTest {
	return &SelfTest{store: store, correlator: correlator}
}

// Run executes the self test against one already-tracked message.
func (s *SelfTest) Run(ctx context.Context, m *message.Message) error {
	if m.TrackingHash == nil || *m.TrackingHash == "" {
		return fmt.Errorf("message %d has no tracking hash", m.ID)
	}
	syntheticID := SelfTestIDPrefix + uuid.NewString()
	if err := s.store.SetTrackingMessageID(ctx, *m.TrackingHash, syntheticID); err != nil {
		return fmt.Errorf("stamp synthetic message id: %w", err)
	}

	recipient := ""
	if m.TrackingRecipientEmail != nil {
		recipient = *m.TrackingRecipientEmail
	}
	payload, err := json.Marshal(map[string]any{
		"notificationType": "Delivery",
		"mail": map[string]any{
			"messageId":   syntheticID,
			"destination": []string{recipient},
		},
		"delivery": map[string]any{
			"timestamp":    time.Now().UTC().Format(time.RFC3339),
			"recipients":   []string{recipient},
			"smtpResponse": "250 2.0.0 OK (self test)",
		},
	})
	if err != nil {
		return err
	}
	if err := s.correlator.Ingest(ctx, payload); err != nil {
		return fmt.Errorf("ingest self-test notification: %w", err)
	}

	updated, err := s.store.MessagesByTrackingMessageID(ctx, syntheticID)
	if err != nil {
		return err
	}
	if len(updated) == 0 {
		return fmt.Errorf("self-test notification did not correlate")
	}
	for _, u := range updated {
		if ok, _ := u.TrackingMeta["success"].(bool); !ok {
			return fmt.Errorf("self-test delivery not recorded on message %d", u.ID)
		}
	}
	return nil
}
