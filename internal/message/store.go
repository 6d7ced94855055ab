package message

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Store is the Postgres-backed message record store. All components
// share it; every write is row- or small-batch-scoped so the
// reservation lease stays the only cross-worker coordination point.
type Store struct {
	db *sql.DB
}

// NewStore creates a message store on an existing database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for components that run their own
// transactions (click counting).
func (s *Store) DB() *sql.DB { return s.db }

const messageColumns = `
	m.id, m.message_type_id, m.messagable_type, m.messagable_id,
	m.receiver_type, m.receiver_id, m.sender_type, m.sender_id, m.company_id,
	m.params, m.text, m.locale,
	m.attempts, m.email_error_code, m.email_error,
	m.scheduled_at, m.reserved_at, m.error_at, m.sent_at, m.created_at, m.deleted_at,
	m.tracking_hash, m.tracking_message_id,
	m.tracking_sender_name, m.tracking_sender_email,
	m.tracking_recipient_name, m.tracking_recipient_email,
	m.tracking_subject, m.tracking_opens, m.tracking_clicks,
	m.tracking_opened_at, m.tracking_clicked_at,
	m.tracking_meta, m.tracking_content, m.tracking_content_path`

const typeColumns = `
	t.id, t.mail_class, t.single_mail_handler, t.bulk_mail_handler,
	t.direct, t.dev_bcc, t.error_stop_send_minutes, t.bulk_message_line,
	t.required_sender, t.required_messagable, t.required_company_id,
	t.required_scheduled, t.required_mail_text, t.required_params`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner, withType bool) (*Message, error) {
	var (
		m      Message
		params []byte
		meta   []byte
	)
	dest := []any{
		&m.ID, &m.MessageTypeID, &m.MessagableType, &m.MessagableID,
		&m.ReceiverType, &m.ReceiverID, &m.SenderType, &m.SenderID, &m.CompanyID,
		&params, &m.Text, &m.Locale,
		&m.Attempts, &m.EmailErrorCode, &m.EmailError,
		&m.ScheduledAt, &m.ReservedAt, &m.ErrorAt, &m.SentAt, &m.CreatedAt, &m.DeletedAt,
		&m.TrackingHash, &m.TrackingMessageID,
		&m.TrackingSenderName, &m.TrackingSenderEmail,
		&m.TrackingRecipientName, &m.TrackingRecipientEmail,
		&m.TrackingSubject, &m.TrackingOpens, &m.TrackingClicks,
		&m.TrackingOpenedAt, &m.TrackingClickedAt,
		&meta, &m.TrackingContent, &m.TrackingContentPath,
	}
	var t MessageType
	if withType {
		dest = append(dest,
			&t.ID, &t.MailClass, &t.SingleMailHandler, &t.BulkMailHandler,
			&t.Direct, &t.DevBcc, &t.ErrorStopSendMinutes, &t.BulkMessageLine,
			&t.RequiredSender, &t.RequiredMessagable, &t.RequiredCompanyID,
			&t.RequiredScheduled, &t.RequiredMailText, &t.RequiredParams,
		)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	var err error
	if m.Params, err = unmarshalParams(params); err != nil {
		return nil, fmt.Errorf("parse params for message %d: %w", m.ID, err)
	}
	if m.TrackingMeta, err = unmarshalMeta(meta); err != nil {
		return nil, fmt.Errorf("parse tracking_meta for message %d: %w", m.ID, err)
	}
	if withType {
		m.Type = &t
	}
	return &m, nil
}

func (s *Store) queryMessages(ctx context.Context, withType bool, query string, args ...any) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		m, err := scanMessage(rows, withType)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Create inserts a new message row and returns its id.
func (s *Store) Create(ctx context.Context, m *Message) (int64, error) {
	params, err := marshalJSON(m.Params)
	if err != nil {
		return 0, fmt.Errorf("encode params: %w", err)
	}
	trackingMeta := m.TrackingMeta
	if trackingMeta == nil {
		trackingMeta = Meta{}
	}
	meta, err := marshalJSON(trackingMeta)
	if err != nil {
		return 0, fmt.Errorf("encode tracking_meta: %w", err)
	}
	var id int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO messages
			(message_type_id, messagable_type, messagable_id,
			 receiver_type, receiver_id, sender_type, sender_id, company_id,
			 params, text, locale, scheduled_at, tracking_meta, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW())
		RETURNING id
	`, m.MessageTypeID, m.MessagableType, m.MessagableID,
		m.ReceiverType, m.ReceiverID, m.SenderType, m.SenderID, m.CompanyID,
		params, m.Text, m.Locale, m.ScheduledAt, meta).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}
	return id, nil
}

// Get loads one message with its type eagerly joined.
func (s *Store) Get(ctx context.Context, id int64) (*Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+`, `+typeColumns+`
		FROM messages m
		JOIN message_types t ON t.id = m.message_type_id
		WHERE m.id = $1
	`, id)
	return scanMessage(row, true)
}

// Reserve stamps the reservation lease on one message.
func (s *Store) Reserve(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET reserved_at = NOW() WHERE id = $1`, id)
	return err
}

// ReserveGroup stamps the reservation lease on a whole group in one
// batch update.
func (s *Store) ReserveGroup(ctx context.Context, ids []int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET reserved_at = NOW() WHERE id = ANY($1)`, pq.Array(ids))
	return err
}

// BumpAttempts increments the attempt counter and returns the new count.
func (s *Store) BumpAttempts(ctx context.Context, id int64) (int, error) {
	var attempts int
	err := s.db.QueryRowContext(ctx,
		`UPDATE messages SET attempts = attempts + 1 WHERE id = $1 RETURNING attempts`,
		id).Scan(&attempts)
	return attempts, err
}

// BumpGroupAttempts increments the attempt counter for a whole group.
func (s *Store) BumpGroupAttempts(ctx context.Context, ids []int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET attempts = attempts + 1 WHERE id = ANY($1)`, pq.Array(ids))
	return err
}

// MarkSent records the terminal success state. sent_at only ever
// transitions null to set; the WHERE clause keeps it that way if two
// workers race past the lease.
func (s *Store) MarkSent(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET sent_at = NOW() WHERE id = $1 AND sent_at IS NULL`, id)
	return err
}

// MarkGroupSent records success for every member of a bulk group.
func (s *Store) MarkGroupSent(ctx context.Context, ids []int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE messages SET sent_at = NOW(), error_at = NULL
		WHERE id = ANY($1) AND sent_at IS NULL
	`, pq.Array(ids))
	return err
}

// MarkGroupError fails every member of a bulk group identically,
// releasing the lease.
func (s *Store) MarkGroupError(ctx context.Context, ids []int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE messages SET reserved_at = NULL, error_at = NOW()
		WHERE id = ANY($1)
	`, pq.Array(ids))
	return err
}

// RecordSendError stores a failed attempt: failure releases the lease.
func (s *Store) RecordSendError(ctx context.Context, id int64, code int, errText string) error {
	if len(errText) > 245 {
		errText = errText[:245]
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET error_at = NOW(), reserved_at = NULL, email_error_code = $2, email_error = $3
		WHERE id = $1
	`, id, code, errText)
	return err
}

// SetEmailError stores a diagnostic message without entering the error
// state (used on abort paths before soft deletion).
func (s *Store) SetEmailError(ctx context.Context, id int64, errText string) error {
	if len(errText) > 245 {
		errText = errText[:245]
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET email_error = $2 WHERE id = $1`, id, errText)
	return err
}

// Reschedule pushes the not-before time forward (backoff classifier).
func (s *Store) Reschedule(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET scheduled_at = $2 WHERE id = $1`, id, at)
	return err
}

// SoftDelete logically removes a message; it stays for audit.
func (s *Store) SoftDelete(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
	return err
}

// SoftDeleteGroup logically removes every member of a group.
func (s *Store) SoftDeleteGroup(ctx context.Context, ids []int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE messages SET deleted_at = NOW()
		WHERE id = ANY($1) AND deleted_at IS NULL
	`, pq.Array(ids))
	return err
}

// ---------------------------------------------------------------------------
// Dispatch eligibility
// ---------------------------------------------------------------------------

const eligibleNow = `
	m.deleted_at IS NULL
	AND m.sent_at IS NULL
	AND m.reserved_at IS NULL
	AND m.error_at IS NULL
	AND (m.scheduled_at IS NULL OR m.scheduled_at < NOW())`

// The retry pass reclaims stale leases and aged-out errors, but only
// within the type's hard retry window after creation.
const eligibleRetry = `
	m.deleted_at IS NULL
	AND m.sent_at IS NULL
	AND (m.scheduled_at IS NULL OR m.scheduled_at < NOW())
	AND (m.reserved_at IS NULL OR m.reserved_at < NOW() - make_interval(mins => $1))
	AND (m.error_at IS NULL OR m.error_at < NOW() - make_interval(mins => $1))
	AND m.created_at > NOW() - make_interval(mins => t.error_stop_send_minutes)`

// DirectEligible returns the next chunk of direct messages after the
// given id, in ascending id order.
func (s *Store) DirectEligible(ctx context.Context, afterID int64, limit int) ([]*Message, error) {
	return s.queryMessages(ctx, true, `
		SELECT `+messageColumns+`, `+typeColumns+`
		FROM messages m
		JOIN message_types t ON t.id = m.message_type_id
		WHERE t.direct = TRUE AND m.id > $1 AND `+eligibleNow+`
		ORDER BY m.id
		LIMIT $2
	`, afterID, limit)
}

// DirectRetryEligible returns the next chunk of direct messages for the
// retry pass.
func (s *Store) DirectRetryEligible(ctx context.Context, staleMinutes int, afterID int64, limit int) ([]*Message, error) {
	return s.queryMessages(ctx, true, `
		SELECT `+messageColumns+`, `+typeColumns+`
		FROM messages m
		JOIN message_types t ON t.id = m.message_type_id
		WHERE t.direct = TRUE AND m.id > $2 AND `+eligibleRetry+`
		ORDER BY m.id
		LIMIT $3
	`, staleMinutes, afterID, limit)
}

// Group identifies one indirect dispatch unit: all eligible messages
// for a single receiver sharing (or lacking) a bulk handler.
type Group struct {
	ReceiverType    *string
	ReceiverID      *int64
	BulkMailHandler *string
	Count           int
}

// IndirectGroups summarizes eligible indirect messages grouped by
// receiver and bulk handler, in receiver order.
func (s *Store) IndirectGroups(ctx context.Context, retry bool, staleMinutes int) ([]Group, error) {
	query := `
		SELECT m.receiver_type, m.receiver_id, t.bulk_mail_handler, COUNT(*)
		FROM messages m
		LEFT JOIN message_types t ON t.id = m.message_type_id
		WHERE (t.direct = FALSE OR t.direct IS NULL) AND ` + s.indirectWhere(retry) + `
		GROUP BY m.receiver_type, m.receiver_id, t.bulk_mail_handler
		ORDER BY m.receiver_type, m.receiver_id`

	var rows *sql.Rows
	var err error
	if retry {
		rows, err = s.db.QueryContext(ctx, query, staleMinutes)
	} else {
		rows, err = s.db.QueryContext(ctx, query)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []Group
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.ReceiverType, &g.ReceiverID, &g.BulkMailHandler, &g.Count); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// IndirectGroupMessages loads the full member rows of one group, in id
// order. Null receiver/handler columns match with IS NOT DISTINCT FROM
// so ungrouped strays still dispatch individually.
func (s *Store) IndirectGroupMessages(ctx context.Context, g Group, retry bool, staleMinutes int) ([]*Message, error) {
	base := `
		SELECT ` + messageColumns + `, ` + typeColumns + `
		FROM messages m
		JOIN message_types t ON t.id = m.message_type_id
		WHERE (t.direct = FALSE OR t.direct IS NULL) AND ` + s.indirectWhere(retry)

	var args []any
	if retry {
		args = append(args, staleMinutes)
	}
	n := len(args)
	base += fmt.Sprintf(`
		AND m.receiver_type IS NOT DISTINCT FROM $%d
		AND m.receiver_id IS NOT DISTINCT FROM $%d
		AND t.bulk_mail_handler IS NOT DISTINCT FROM $%d
		ORDER BY m.id`, n+1, n+2, n+3)
	args = append(args, g.ReceiverType, g.ReceiverID, g.BulkMailHandler)

	return s.queryMessages(ctx, true, base, args...)
}

func (s *Store) indirectWhere(retry bool) string {
	if retry {
		return eligibleRetry
	}
	return eligibleNow
}

// FindUnsentEquivalent locates a pending message of the same type for
// the same messagable and receiver, so a changed notification replaces
// the queued one instead of duplicating it.
func (s *Store) FindUnsentEquivalent(ctx context.Context, typeID int64, messagableType *string, messagableID *int64, receiverType *string, receiverID *int64) (*Message, error) {
	msgs, err := s.queryMessages(ctx, true, `
		SELECT `+messageColumns+`, `+typeColumns+`
		FROM messages m
		JOIN message_types t ON t.id = m.message_type_id
		WHERE m.message_type_id = $1
		  AND m.messagable_type IS NOT DISTINCT FROM $2
		  AND m.messagable_id IS NOT DISTINCT FROM $3
		  AND m.receiver_type IS NOT DISTINCT FROM $4
		  AND m.receiver_id IS NOT DISTINCT FROM $5
		  AND m.sent_at IS NULL AND m.deleted_at IS NULL
		ORDER BY m.id
		LIMIT 1
	`, typeID, messagableType, messagableID, receiverType, receiverID)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	return msgs[0], nil
}

// UpdatePending rewrites the mutable fields of a not-yet-sent message.
func (s *Store) UpdatePending(ctx context.Context, m *Message) error {
	params, err := marshalJSON(m.Params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE messages
		SET params = $2, text = $3, locale = $4, scheduled_at = $5
		WHERE id = $1 AND sent_at IS NULL
	`, m.ID, params, m.Text, m.Locale, m.ScheduledAt)
	return err
}

// ---------------------------------------------------------------------------
// Tracking
// ---------------------------------------------------------------------------

// TrackingHashExists reports whether any row already carries the hash.
func (s *Store) TrackingHashExists(ctx context.Context, hash string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM messages WHERE tracking_hash = $1)`, hash).Scan(&exists)
	return exists, err
}

// TrackingSnapshot is the sender/recipient/subject state stamped on
// every owner message of one physical email.
type TrackingSnapshot struct {
	Hash           string
	SenderName     string
	SenderEmail    string
	RecipientName  string
	RecipientEmail string
	Subject        string
}

// StampTracking writes the tracking snapshot onto every owner message
// and resets the engagement counters.
func (s *Store) StampTracking(ctx context.Context, ids []int64, snap TrackingSnapshot) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET tracking_hash = $2,
			tracking_sender_name = $3, tracking_sender_email = $4,
			tracking_recipient_name = $5, tracking_recipient_email = $6,
			tracking_subject = $7,
			tracking_opens = 0, tracking_clicks = 0,
			tracking_meta = COALESCE(tracking_meta, '{}'::jsonb)
		WHERE id = ANY($1)
	`, pq.Array(ids), snap.Hash,
		snap.SenderName, snap.SenderEmail,
		snap.RecipientName, snap.RecipientEmail, snap.Subject)
	return err
}

// StoreContentInline keeps the pre-rewrite HTML on the row itself.
func (s *Store) StoreContentInline(ctx context.Context, id int64, html string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE messages SET tracking_content = $2, tracking_content_path = NULL WHERE id = $1
	`, id, html)
	return err
}

// StoreContentPath records an external location for the pre-rewrite HTML.
func (s *Store) StoreContentPath(ctx context.Context, id int64, path string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE messages SET tracking_content_path = $2, tracking_content = NULL WHERE id = $1
	`, id, path)
	return err
}

// SetTrackingMessageID writes the transport-assigned id onto every
// message sharing the hash.
func (s *Store) SetTrackingMessageID(ctx context.Context, hash, messageID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET tracking_message_id = $2 WHERE tracking_hash = $1`, hash, messageID)
	return err
}

// MessagesByTrackingHash returns all owner messages of one physical email.
func (s *Store) MessagesByTrackingHash(ctx context.Context, hash string) ([]*Message, error) {
	return s.queryMessages(ctx, false, `
		SELECT `+messageColumns+`
		FROM messages m
		WHERE m.tracking_hash = $1
	`, hash)
}

// MessagesByTrackingMessageID returns all messages correlated to one
// transport-assigned message id. Zero rows is a normal outcome.
func (s *Store) MessagesByTrackingMessageID(ctx context.Context, messageID string) ([]*Message, error) {
	return s.queryMessages(ctx, false, `
		SELECT `+messageColumns+`
		FROM messages m
		WHERE m.tracking_message_id = $1
	`, messageID)
}

// MarkOpenedOnce sets tracking_opened_at if not already set.
func (s *Store) MarkOpenedOnce(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE messages SET tracking_opened_at = NOW()
		WHERE id = $1 AND tracking_opened_at IS NULL
	`, id)
	return err
}

// MarkClickedOnce sets tracking_clicked_at if not already set.
func (s *Store) MarkClickedOnce(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE messages SET tracking_clicked_at = NOW()
		WHERE id = $1 AND tracking_clicked_at IS NULL
	`, id)
	return err
}

// IncrementOpens bumps the open counter.
func (s *Store) IncrementOpens(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET tracking_opens = tracking_opens + 1 WHERE id = $1`, id)
	return err
}

// RecordClick increments the click counter and the per-URL counter in
// tracking_meta under a row lock, so concurrent clicks on the same
// message never lose updates.
func (s *Store) RecordClick(ctx context.Context, id int64, url string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var raw []byte
	var clicks int
	err = tx.QueryRowContext(ctx, `
		SELECT tracking_meta, tracking_clicks FROM messages WHERE id = $1 FOR UPDATE
	`, id).Scan(&raw, &clicks)
	if err != nil {
		return err
	}

	meta, err := unmarshalMeta(raw)
	if err != nil {
		return err
	}
	meta = meta.Clone()
	clicked := meta.ClickedURLs()
	clicked[url]++
	meta["clicked_urls"] = clicked

	encoded, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE messages SET tracking_clicks = $2, tracking_meta = $3 WHERE id = $1
	`, id, clicks+1, encoded)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateTrackingMeta persists a merged metadata map.
func (s *Store) UpdateTrackingMeta(ctx context.Context, id int64, meta Meta) error {
	encoded, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode tracking_meta: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE messages SET tracking_meta = $2 WHERE id = $1`, id, encoded)
	return err
}

// ---------------------------------------------------------------------------
// Message types
// ---------------------------------------------------------------------------

const typeOnlyColumns = `
	id, mail_class, single_mail_handler, bulk_mail_handler,
	direct, dev_bcc, error_stop_send_minutes, bulk_message_line,
	required_sender, required_messagable, required_company_id,
	required_scheduled, required_mail_text, required_params`

func scanType(row rowScanner) (*MessageType, error) {
	var t MessageType
	err := row.Scan(
		&t.ID, &t.MailClass, &t.SingleMailHandler, &t.BulkMailHandler,
		&t.Direct, &t.DevBcc, &t.ErrorStopSendMinutes, &t.BulkMessageLine,
		&t.RequiredSender, &t.RequiredMessagable, &t.RequiredCompanyID,
		&t.RequiredScheduled, &t.RequiredMailText, &t.RequiredParams,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// TypeByID loads one message type.
func (s *Store) TypeByID(ctx context.Context, id int64) (*MessageType, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+typeOnlyColumns+` FROM message_types WHERE id = $1 AND deleted_at IS NULL
	`, id)
	return scanType(row)
}

// TypeByMailClass loads one message type by its logical template id.
func (s *Store) TypeByMailClass(ctx context.Context, mailClass string) (*MessageType, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+typeOnlyColumns+` FROM message_types WHERE mail_class = $1 AND deleted_at IS NULL
	`, mailClass)
	return scanType(row)
}

// ---------------------------------------------------------------------------
// Retention
// ---------------------------------------------------------------------------

// PurgeSoftDeleted hard-deletes rows that have been soft-deleted for
// longer than the retention window. Returns the purged row count.
func (s *Store) PurgeSoftDeleted(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM messages
		WHERE deleted_at IS NOT NULL AND deleted_at < NOW() - make_interval(mins => $1)
	`, int(olderThan.Minutes()))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PurgeSentContent drops stored email bodies from old sent rows; the
// rows themselves stay for engagement history.
func (s *Store) PurgeSentContent(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET tracking_content = NULL, tracking_content_path = NULL
		WHERE sent_at IS NOT NULL AND sent_at < NOW() - make_interval(mins => $1)
		  AND (tracking_content IS NOT NULL OR tracking_content_path IS NOT NULL)
	`, int(olderThan.Minutes()))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
