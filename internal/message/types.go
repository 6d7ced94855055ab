package message

import (
	"encoding/json"
	"time"
)

// Message is one outbound notification row. Nullable columns map to
// pointers so lifecycle transitions (null -> set) stay visible.
type Message struct {
	ID            int64
	MessageTypeID int64

	MessagableType *string
	MessagableID   *int64
	ReceiverType   *string
	ReceiverID     *int64
	SenderType     *string
	SenderID       *int64
	CompanyID      *int64

	Params Params
	Text   *string
	Locale *string

	Attempts       int
	EmailErrorCode *int
	EmailError     *string

	ScheduledAt *time.Time
	ReservedAt  *time.Time
	ErrorAt     *time.Time
	SentAt      *time.Time
	CreatedAt   time.Time
	DeletedAt   *time.Time

	TrackingHash           *string
	TrackingMessageID      *string
	TrackingSenderName     *string
	TrackingSenderEmail    *string
	TrackingRecipientName  *string
	TrackingRecipientEmail *string
	TrackingSubject        *string
	TrackingOpens          int
	TrackingClicks         int
	TrackingOpenedAt       *time.Time
	TrackingClickedAt      *time.Time
	TrackingMeta           Meta
	TrackingContent        *string
	TrackingContentPath    *string

	// Type is the eagerly loaded MessageType when the row came from a
	// dispatch query; nil otherwise.
	Type *MessageType
}

// IsSent reports whether the message reached its terminal success state.
func (m *Message) IsSent() bool { return m.SentAt != nil }

// Params is the structured key/value payload of a message.
type Params map[string]any

// Meta is the open tracking metadata map accumulating webhook payloads
// and derived flags (success, complaint, failures, clicked_urls).
type Meta map[string]any

// Clone returns a shallow copy so read-modify-write merges never alias
// the loaded row.
func (m Meta) Clone() Meta {
	if m == nil {
		return Meta{}
	}
	out := make(Meta, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Failures returns the accumulated bounce failure list.
func (m Meta) Failures() []any {
	if v, ok := m["failures"].([]any); ok {
		return v
	}
	return nil
}

// ClickedURLs returns the per-destination click counter map.
func (m Meta) ClickedURLs() map[string]int {
	out := map[string]int{}
	raw, ok := m["clicked_urls"].(map[string]any)
	if !ok {
		// already typed when built in-process
		if typed, ok := m["clicked_urls"].(map[string]int); ok {
			return typed
		}
		return out
	}
	for url, n := range raw {
		switch v := n.(type) {
		case float64:
			out[url] = int(v)
		case int:
			out[url] = v
		}
	}
	return out
}

func marshalJSON(v any) ([]byte, error) {
	if v == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(v)
}

func unmarshalMeta(raw []byte) (Meta, error) {
	if len(raw) == 0 {
		return Meta{}, nil
	}
	var m Meta
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = Meta{}
	}
	return m, nil
}

func unmarshalParams(raw []byte) (Params, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var p Params
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return p, nil
}

// MessageType is the per-type policy descriptor shared by many messages.
type MessageType struct {
	ID                   int64
	MailClass            string
	SingleMailHandler    *string
	BulkMailHandler      *string
	Direct               bool
	DevBcc               bool
	ErrorStopSendMinutes int
	BulkMessageLine      *string

	RequiredSender     bool
	RequiredMessagable bool
	RequiredCompanyID  bool
	RequiredScheduled  bool
	RequiredMailText   bool
	RequiredParams     bool
}

// Ptr helpers for building rows in services and tests.

func StrPtr(s string) *string        { return &s }
func Int64Ptr(n int64) *int64        { return &n }
func IntPtr(n int) *int              { return &n }
func TimePtr(t time.Time) *time.Time { return &t }
