// Package transport delivers fully-built emails through an ESP and
// normalizes the provider's failure modes into SMTP-style codes.
package transport

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"github.com/ignite/mail-manager/internal/mail"
)

// Result describes one accepted delivery.
type Result struct {
	// MessageID is the provider-assigned id for the accepted message.
	MessageID string
	// Headers holds provider-stamped headers on the outgoing message.
	Headers map[string]string
}

// TrackingMessageID returns the id used to correlate delivery events
// back to the message. SES stamps X-SES-Message-ID on the wire; when
// present it wins over the API response id.
func (r *Result) TrackingMessageID() string {
	if r == nil {
		return ""
	}
	if id, ok := r.Headers["X-SES-Message-ID"]; ok && id != "" {
		return id
	}
	return r.MessageID
}

// SendError is a delivery failure with an SMTP-style status code.
// Code 0 means the provider gave no classifiable status.
type SendError struct {
	Code int
	Text string
}

func (e *SendError) Error() string {
	if e.Code == 0 {
		return e.Text
	}
	return fmt.Sprintf("%d %s", e.Code, e.Text)
}

var smtpCodeRe = regexp.MustCompile(`\b([245]\d\d)\b`)

// classify wraps a raw provider error, pulling an SMTP status code out
// of its message when one is embedded.
func classify(err error) *SendError {
	text := err.Error()
	code := 0
	if m := smtpCodeRe.FindStringSubmatch(text); m != nil {
		code, _ = strconv.Atoi(m[1])
	}
	return &SendError{Code: code, Text: text}
}

// Transport sends one email. Implementations return a *SendError for
// delivery failures so callers can branch on the status code.
type Transport interface {
	Send(ctx context.Context, email *mail.Email) (*Result, error)
}
