package tracking

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ignite/mail-manager/internal/message"
	"github.com/ignite/mail-manager/internal/pkg/logger"
)

// Notification is the provider's delivery event payload.
type Notification struct {
	NotificationType string `json:"notificationType"`
	EventType        string `json:"eventType"`
	Mail             struct {
		MessageID   string   `json:"messageId"`
		Destination []string `json:"destination"`
	} `json:"mail"`
	Delivery *struct {
		Timestamp    string   `json:"timestamp"`
		Recipients   []string `json:"recipients"`
		SMTPResponse string   `json:"smtpResponse"`
	} `json:"delivery"`
	Bounce *struct {
		BounceType        string `json:"bounceType"`
		Timestamp         string `json:"timestamp"`
		BouncedRecipients []struct {
			EmailAddress   string `json:"emailAddress"`
			Status         string `json:"status"`
			Action         string `json:"action"`
			DiagnosticCode string `json:"diagnosticCode"`
		} `json:"bouncedRecipients"`
	} `json:"bounce"`
	Complaint *struct {
		Timestamp             string `json:"timestamp"`
		ComplaintFeedbackType string `json:"complaintFeedbackType"`
		ComplainedRecipients  []struct {
			EmailAddress string `json:"emailAddress"`
		} `json:"complainedRecipients"`
	} `json:"complaint"`
}

// Type returns the event discriminator across both envelope variants.
func (n *Notification) Type() string {
	if n.NotificationType != "" {
		return n.NotificationType
	}
	return n.EventType
}

// Correlator merges provider delivery events into the tracking
// metadata of every message correlated by the provider message id.
type Correlator struct {
	store     *message.Store
	receivers *message.Registry
	notifier  Notifier
}

// NewCorrelator builds a correlator; notifier may be nil.
func NewCorrelator(store *message.Store, receivers *message.Registry, notifier Notifier) *Correlator {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Correlator{store: store, receivers: receivers, notifier: notifier}
}

// Ingest routes one raw notification payload. Unmatched message ids
// are a normal outcome and never an error.
func (c *Correlator) Ingest(ctx context.Context, raw []byte) error {
	var n Notification
	if err := json.Unmarshal(raw, &n); err != nil {
		return fmt.Errorf("parse notification: %w", err)
	}
	switch n.Type() {
	case "Delivery":
		return c.handleDelivery(ctx, &n, raw)
	case "Bounce":
		return c.handleBounce(ctx, &n, raw)
	case "Complaint":
		return c.handleComplaint(ctx, &n, raw)
	default:
		logger.Debug("ignoring notification", "type", n.Type())
		return nil
	}
}

func (c *Correlator) correlated(ctx context.Context, n *Notification) ([]*message.Message, error) {
	if n.Mail.MessageID == "" {
		return nil, nil
	}
	return c.store.MessagesByTrackingMessageID(ctx, n.Mail.MessageID)
}

func (c *Correlator) handleDelivery(ctx context.Context, n *Notification, raw []byte) error {
	if n.Delivery == nil {
		return fmt.Errorf("delivery notification without delivery block")
	}
	msgs, err := c.correlated(ctx, n)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		meta := m.TrackingMeta.Clone()
		meta["success"] = true
		meta["delivered_at"] = n.Delivery.Timestamp
		meta["smtpResponse"] = n.Delivery.SMTPResponse
		meta["sns_message_delivery"] = json.RawMessage(raw)
		if err := c.store.UpdateTrackingMeta(ctx, m.ID, meta); err != nil {
			return err
		}
		for _, recipient := range n.Delivery.Recipients {
			c.notifier.MessageDelivered(ctx, m, recipient)
		}
	}
	return nil
}

func (c *Correlator) handleBounce(ctx context.Context, n *Notification, raw []byte) error {
	if n.Bounce == nil {
		return fmt.Errorf("bounce notification without bounce block")
	}
	permanent := n.Bounce.BounceType == "Permanent"
	msgs, err := c.correlated(ctx, n)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		meta := m.TrackingMeta.Clone()
		// failures is append-only; replaying the same event adds a
		// duplicate entry on purpose, preserving the raw history.
		failures := meta.Failures()
		for _, r := range n.Bounce.BouncedRecipients {
			failures = append(failures, map[string]any{
				"emailAddress":   r.EmailAddress,
				"status":         r.Status,
				"action":         r.Action,
				"diagnosticCode": r.DiagnosticCode,
				"bounceType":     n.Bounce.BounceType,
				"timestamp":      n.Bounce.Timestamp,
			})
		}
		meta["failures"] = failures
		meta["success"] = false
		meta["sns_message_bounce"] = json.RawMessage(raw)
		if err := c.store.UpdateTrackingMeta(ctx, m.ID, meta); err != nil {
			return err
		}
		if permanent {
			c.invalidateReceiver(ctx, m)
		}
		for _, r := range n.Bounce.BouncedRecipients {
			c.notifier.MessageBounced(ctx, m, r.EmailAddress, permanent)
		}
	}
	return nil
}

func (c *Correlator) handleComplaint(ctx context.Context, n *Notification, raw []byte) error {
	if n.Complaint == nil {
		return fmt.Errorf("complaint notification without complaint block")
	}
	msgs, err := c.correlated(ctx, n)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		meta := m.TrackingMeta.Clone()
		meta["complaint"] = true
		meta["success"] = false
		meta["complaint_time"] = n.Complaint.Timestamp
		meta["complaint_type"] = n.Complaint.ComplaintFeedbackType
		meta["sns_message_complaint"] = json.RawMessage(raw)
		if err := c.store.UpdateTrackingMeta(ctx, m.ID, meta); err != nil {
			return err
		}
		for _, r := range n.Complaint.ComplainedRecipients {
			c.notifier.MessageComplained(ctx, m, r.EmailAddress)
		}
	}
	return nil
}

func (c *Correlator) invalidateReceiver(ctx context.Context, m *message.Message) {
	receiver, err := c.receivers.ResolveReceiver(ctx, m)
	if err != nil || receiver == nil {
		return
	}
	if err := receiver.MarkAddressInvalid(ctx, false); err != nil {
		logger.Error("marking receiver invalid after bounce failed",
			"message_id", m.ID, "error", err.Error())
	}
}
