package dispatch

import (
	"context"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/mail-manager/internal/config"
	"github.com/ignite/mail-manager/internal/mail"
	"github.com/ignite/mail-manager/internal/message"
	"github.com/ignite/mail-manager/internal/transport"
)

type fakeReceiver struct {
	name, email string
	valid       bool
	invalidated bool
}

func (r *fakeReceiver) Address() (string, string) { return r.name, r.email }
func (r *fakeReceiver) IsAddressValid() bool      { return r.valid }
func (r *fakeReceiver) MarkAddressInvalid(ctx context.Context, manual bool) error {
	r.invalidated = true
	return nil
}
func (r *fakeReceiver) PreferredLocale() string { return "en" }

type fakeTransport struct {
	calls int
	res   *transport.Result
	err   error
}

func (t *fakeTransport) Send(ctx context.Context, email *mail.Email) (*transport.Result, error) {
	t.calls++
	if t.err != nil {
		return nil, t.err
	}
	return t.res, nil
}

func plainComposer() Composer {
	return ComposerFunc(func(ctx context.Context, m *message.Message, r message.Receiver) (*mail.Email, error) {
		e := &mail.Email{
			From:    mail.Address{Name: "Acme", Email: "noreply@acme.test"},
			Subject: "hello",
			Body:    mail.NewHTMLPart("<html><body>hi</body></html>"),
		}
		if r != nil {
			name, addr := r.Address()
			e.To = []mail.Address{{Name: name, Email: addr}}
		}
		return e, nil
	})
}

func testDeps(t *testing.T, env string, tr transport.Transport, rcv *fakeReceiver) (Deps, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	receivers := message.NewRegistry()
	receivers.RegisterReceiver("user", func(ctx context.Context, id int64) (message.Receiver, error) {
		if rcv == nil {
			return nil, nil
		}
		return rcv, nil
	})
	receivers.RegisterMessagable("invoice", func(ctx context.Context, id int64) (bool, error) {
		return true, nil
	})
	receivers.Freeze()

	composers := NewRegistry()
	composers.RegisterComposer("invoice_created", plainComposer())
	composers.Freeze()

	cfg := &config.Config{Environment: env}
	cfg.Sending.MaxAttemptsBeforeStop = 7

	return Deps{
		Store:     message.NewStore(db),
		Receivers: receivers,
		Composers: composers,
		Transport: tr,
		Config:    cfg,
	}, mock
}

func directMessage() *message.Message {
	handler := "invoice_created"
	return &message.Message{
		ID:            21,
		MessageTypeID: 7,
		ReceiverType:  message.StrPtr("user"),
		ReceiverID:    message.Int64Ptr(4),
		Type: &message.MessageType{
			ID:                7,
			MailClass:         "invoice_created",
			SingleMailHandler: &handler,
			Direct:            true,
		},
	}
}

func expectReserve(mock sqlmock.Sqlmock, id int64) {
	mock.ExpectExec(`UPDATE messages SET reserved_at = NOW\(\) WHERE id = \$1`).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func expectBump(mock sqlmock.Sqlmock, id int64, attempts int) {
	mock.ExpectQuery(`SET attempts = attempts \+ 1 WHERE id = \$1 RETURNING attempts`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"attempts"}).AddRow(attempts))
}

func TestMailHandlerSendsAndMarksSent(t *testing.T) {
	tr := &fakeTransport{res: &transport.Result{MessageID: "mid-1"}}
	rcv := &fakeReceiver{name: "Jo", email: "jo@example.test", valid: true}
	deps, mock := testDeps(t, "production", tr, rcv)
	msg := directMessage()

	expectReserve(mock, msg.ID)
	expectBump(mock, msg.ID, 1)
	mock.ExpectExec(`UPDATE messages SET sent_at = NOW\(\)`).
		WithArgs(msg.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ctx := context.Background()
	h, err := NewMailHandler(ctx, deps, msg)
	require.NoError(t, err)
	require.NoError(t, h.Send(ctx))
	assert.Equal(t, 1, tr.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMailHandlerGateClosedMarksSentWithoutTransport(t *testing.T) {
	tr := &fakeTransport{res: &transport.Result{MessageID: "mid-1"}}
	rcv := &fakeReceiver{name: "Jo", email: "jo@example.test", valid: true}
	deps, mock := testDeps(t, "staging", tr, rcv)
	msg := directMessage()

	expectReserve(mock, msg.ID)
	expectBump(mock, msg.ID, 1)
	mock.ExpectExec(`UPDATE messages SET sent_at = NOW\(\)`).
		WithArgs(msg.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ctx := context.Background()
	h, err := NewMailHandler(ctx, deps, msg)
	require.NoError(t, err)
	require.NoError(t, h.Send(ctx))
	assert.Equal(t, 0, tr.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMailHandlerVanishedReceiverSoftDeletes(t *testing.T) {
	tr := &fakeTransport{}
	deps, mock := testDeps(t, "production", tr, nil)
	msg := directMessage()

	expectReserve(mock, msg.ID)
	expectBump(mock, msg.ID, 1)
	mock.ExpectExec(`UPDATE messages SET email_error = \$2`).
		WithArgs(msg.ID, "receiver no longer exists").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE messages SET deleted_at = NOW\(\)`).
		WithArgs(msg.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ctx := context.Background()
	h, err := NewMailHandler(ctx, deps, msg)
	require.NoError(t, err)
	require.NoError(t, h.Send(ctx))
	assert.Equal(t, 0, tr.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMailHandlerHardBounceInvalidatesReceiver(t *testing.T) {
	tr := &fakeTransport{err: &transport.SendError{Code: 550, Text: "550 user unknown"}}
	rcv := &fakeReceiver{name: "Jo", email: "jo@example.test", valid: true}
	deps, mock := testDeps(t, "production", tr, rcv)
	msg := directMessage()

	expectReserve(mock, msg.ID)
	expectBump(mock, msg.ID, 2)
	mock.ExpectExec(`SET error_at = NOW\(\), reserved_at = NULL, email_error_code = \$2`).
		WithArgs(msg.ID, 550, "550 user unknown").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ctx := context.Background()
	h, err := NewMailHandler(ctx, deps, msg)
	require.NoError(t, err)
	require.NoError(t, h.Send(ctx))
	assert.True(t, rcv.invalidated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMailHandlerFirstHardBounceKeepsReceiver(t *testing.T) {
	tr := &fakeTransport{err: &transport.SendError{Code: 550, Text: "550 user unknown"}}
	rcv := &fakeReceiver{name: "Jo", email: "jo@example.test", valid: true}
	deps, mock := testDeps(t, "production", tr, rcv)
	msg := directMessage()

	expectReserve(mock, msg.ID)
	expectBump(mock, msg.ID, 1)
	mock.ExpectExec(`SET error_at = NOW\(\), reserved_at = NULL, email_error_code = \$2`).
		WithArgs(msg.ID, 550, "550 user unknown").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ctx := context.Background()
	h, err := NewMailHandler(ctx, deps, msg)
	require.NoError(t, err)
	require.NoError(t, h.Send(ctx))
	assert.False(t, rcv.invalidated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMailHandlerTemporarilyDisabledBacksOff(t *testing.T) {
	tr := &fakeTransport{err: &transport.SendError{Code: 451, Text: "451 address temporarily disabled"}}
	rcv := &fakeReceiver{name: "Jo", email: "jo@example.test", valid: true}
	deps, mock := testDeps(t, "production", tr, rcv)
	msg := directMessage()

	expectReserve(mock, msg.ID)
	expectBump(mock, msg.ID, 3)
	mock.ExpectExec(`SET error_at = NOW\(\), reserved_at = NULL, email_error_code = \$2`).
		WithArgs(msg.ID, 451, "451 address temporarily disabled").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE messages SET scheduled_at = \$2`).
		WithArgs(msg.ID, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ctx := context.Background()
	h, err := NewMailHandler(ctx, deps, msg)
	require.NoError(t, err)
	require.NoError(t, h.Send(ctx))
	assert.False(t, rcv.invalidated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMailHandlerTemporarilyDisabledCapInvalidates(t *testing.T) {
	tr := &fakeTransport{err: &transport.SendError{Code: 451, Text: "451 address temporarily disabled"}}
	rcv := &fakeReceiver{name: "Jo", email: "jo@example.test", valid: true}
	deps, mock := testDeps(t, "production", tr, rcv)
	msg := directMessage()

	expectReserve(mock, msg.ID)
	expectBump(mock, msg.ID, 7)
	mock.ExpectExec(`SET error_at = NOW\(\), reserved_at = NULL, email_error_code = \$2`).
		WithArgs(msg.ID, 451, "451 address temporarily disabled").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ctx := context.Background()
	h, err := NewMailHandler(ctx, deps, msg)
	require.NoError(t, err)
	require.NoError(t, h.Send(ctx))
	assert.True(t, rcv.invalidated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMailHandlerDevBccOutsideProduction(t *testing.T) {
	tr := &fakeTransport{res: &transport.Result{MessageID: "mid-2"}}
	rcv := &fakeReceiver{name: "Jo", email: "jo@example.test", valid: true}
	deps, mock := testDeps(t, "staging", tr, rcv)
	deps.Config.Sending.DevBcc = "dev@acme.test"

	var sentEmail *mail.Email
	deps.Transport = transportFunc(func(ctx context.Context, e *mail.Email) (*transport.Result, error) {
		sentEmail = e
		return tr.res, nil
	})
	msg := directMessage()
	msg.Type.DevBcc = true

	expectReserve(mock, msg.ID)
	expectBump(mock, msg.ID, 1)
	mock.ExpectExec(`UPDATE messages SET sent_at = NOW\(\)`).
		WithArgs(msg.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ctx := context.Background()
	h, err := NewMailHandler(ctx, deps, msg)
	require.NoError(t, err)
	require.NoError(t, h.Send(ctx))
	require.NotNil(t, sentEmail)
	require.Len(t, sentEmail.Bcc, 1)
	assert.Equal(t, "dev@acme.test", sentEmail.Bcc[0].Email)
	assert.NoError(t, mock.ExpectationsWereMet())
}

type transportFunc func(ctx context.Context, e *mail.Email) (*transport.Result, error)

func (f transportFunc) Send(ctx context.Context, e *mail.Email) (*transport.Result, error) {
	return f(ctx, e)
}

func TestMailHandlerDevBccRequiresTypeFlag(t *testing.T) {
	tr := &fakeTransport{res: &transport.Result{MessageID: "mid-2"}}
	rcv := &fakeReceiver{name: "Jo", email: "jo@example.test", valid: true}
	deps, mock := testDeps(t, "staging", tr, rcv)
	deps.Config.Sending.DevBcc = "dev@acme.test"

	var sentEmail *mail.Email
	deps.Transport = transportFunc(func(ctx context.Context, e *mail.Email) (*transport.Result, error) {
		sentEmail = e
		return tr.res, nil
	})
	// Type.DevBcc stays false: the configured address must not leak in.
	msg := directMessage()

	expectReserve(mock, msg.ID)
	expectBump(mock, msg.ID, 1)
	mock.ExpectExec(`UPDATE messages SET sent_at = NOW\(\)`).
		WithArgs(msg.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ctx := context.Background()
	h, err := NewMailHandler(ctx, deps, msg)
	require.NoError(t, err)
	require.NoError(t, h.Send(ctx))
	require.NotNil(t, sentEmail)
	assert.Empty(t, sentEmail.Bcc)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMailHandlerShouldSendNowFalseLeavesPending(t *testing.T) {
	tr := &fakeTransport{res: &transport.Result{MessageID: "mid-9"}}
	rcv := &fakeReceiver{name: "Jo", email: "jo@example.test", valid: true}
	deps, mock := testDeps(t, "production", tr, rcv)
	deps.ShouldSendNow = func(ctx context.Context, m *message.Message) bool { return false }
	msg := directMessage()

	// Only the reservation and attempt bump happen; the message is
	// neither sent nor marked sent.
	expectReserve(mock, msg.ID)
	expectBump(mock, msg.ID, 1)

	ctx := context.Background()
	h, err := NewMailHandler(ctx, deps, msg)
	require.NoError(t, err)
	require.NoError(t, h.Send(ctx))
	assert.Equal(t, 0, tr.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkHandlerVanishedReceiverSoftDeletesGroup(t *testing.T) {
	tr := &fakeTransport{res: &transport.Result{MessageID: "mid-4"}}
	deps, mock := testDeps(t, "production", tr, nil)

	bulk := "daily_digest"
	single := "invoice_created"
	mt := &message.MessageType{ID: 7, MailClass: "invoice_created",
		SingleMailHandler: &single, BulkMailHandler: &bulk}
	group := []*message.Message{
		{ID: 1, MessageTypeID: 7, ReceiverType: message.StrPtr("user"), ReceiverID: message.Int64Ptr(4), Type: mt},
		{ID: 2, MessageTypeID: 7, ReceiverType: message.StrPtr("user"), ReceiverID: message.Int64Ptr(4), Type: mt},
	}

	mock.ExpectExec(`UPDATE messages SET reserved_at = NOW\(\) WHERE id = ANY\(\$1\)`).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`SET attempts = attempts \+ 1 WHERE id = ANY\(\$1\)`).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`UPDATE messages SET deleted_at = NOW\(\)`).
		WillReturnResult(sqlmock.NewResult(0, 2))

	ctx := context.Background()
	h, err := NewBulkMailHandler(ctx, deps, group)
	require.NoError(t, err)
	require.NoError(t, h.Send(ctx))
	assert.Equal(t, 0, tr.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkHandlerAllOrNothing(t *testing.T) {
	rcv := &fakeReceiver{name: "Jo", email: "jo@example.test", valid: true}

	newGroup := func() []*message.Message {
		bulk := "daily_digest"
		single := "invoice_created"
		line := "A new invoice is ready"
		mt := &message.MessageType{ID: 7, MailClass: "invoice_created",
			SingleMailHandler: &single, BulkMailHandler: &bulk, BulkMessageLine: &line}
		return []*message.Message{
			{ID: 1, MessageTypeID: 7, ReceiverType: message.StrPtr("user"), ReceiverID: message.Int64Ptr(4), Type: mt},
			{ID: 2, MessageTypeID: 7, ReceiverType: message.StrPtr("user"), ReceiverID: message.Int64Ptr(4), Type: mt},
		}
	}

	t.Run("success marks whole group sent", func(t *testing.T) {
		tr := &fakeTransport{res: &transport.Result{MessageID: "mid-3"}}
		deps, mock := testDeps(t, "production", tr, rcv)
		deps.Composers = NewRegistry()
		deps.Composers.RegisterBulkComposer("daily_digest",
			BulkComposerFunc(func(ctx context.Context, msgs []*message.Message, r message.Receiver) (*mail.Email, error) {
				body := "<html><body>" + strings.Join(MessageLines(msgs), "<br>") + "</body></html>"
				return &mail.Email{
					From:    mail.Address{Email: "noreply@acme.test"},
					To:      []mail.Address{{Email: "jo@example.test"}},
					Subject: "digest",
					Body:    mail.NewHTMLPart(body),
				}, nil
			}))

		mock.ExpectExec(`UPDATE messages SET reserved_at = NOW\(\) WHERE id = ANY\(\$1\)`).
			WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectExec(`SET attempts = attempts \+ 1 WHERE id = ANY\(\$1\)`).
			WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectExec(`SET sent_at = NOW\(\), error_at = NULL`).
			WillReturnResult(sqlmock.NewResult(0, 2))

		ctx := context.Background()
		h, err := NewBulkMailHandler(ctx, deps, newGroup())
		require.NoError(t, err)
		require.NoError(t, h.Send(ctx))
		assert.Equal(t, 1, tr.calls)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("transport failure marks whole group errored", func(t *testing.T) {
		tr := &fakeTransport{err: &transport.SendError{Code: 421, Text: "421 try later"}}
		deps, mock := testDeps(t, "production", tr, rcv)
		deps.Composers = NewRegistry()
		deps.Composers.RegisterBulkComposer("daily_digest",
			BulkComposerFunc(func(ctx context.Context, msgs []*message.Message, r message.Receiver) (*mail.Email, error) {
				return &mail.Email{
					From:    mail.Address{Email: "noreply@acme.test"},
					To:      []mail.Address{{Email: "jo@example.test"}},
					Subject: "digest",
					Body:    mail.NewHTMLPart("<html><body>digest</body></html>"),
				}, nil
			}))

		mock.ExpectExec(`UPDATE messages SET reserved_at = NOW\(\) WHERE id = ANY\(\$1\)`).
			WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectExec(`SET attempts = attempts \+ 1 WHERE id = ANY\(\$1\)`).
			WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectExec(`SET reserved_at = NULL, error_at = NOW\(\)`).
			WillReturnResult(sqlmock.NewResult(0, 2))

		ctx := context.Background()
		h, err := NewBulkMailHandler(ctx, deps, newGroup())
		require.NoError(t, err)
		require.NoError(t, h.Send(ctx))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestMessageLines(t *testing.T) {
	digest := "A new invoice is ready"
	withLine := &message.MessageType{ID: 7, BulkMessageLine: &digest}
	withoutLine := &message.MessageType{ID: 8}

	lines := MessageLines([]*message.Message{
		{ID: 1, Type: withLine},
		{ID: 2, Type: withoutLine},
		{ID: 3, Type: withLine},
	})
	assert.Equal(t, []string{digest, digest}, lines)
}

func TestEnvironmentGate(t *testing.T) {
	prod := &config.Config{Environment: "production"}
	assert.True(t, EnvironmentGate(prod)(context.Background(), nil))

	staging := &config.Config{Environment: "staging"}
	assert.False(t, EnvironmentGate(staging)(context.Background(), nil))

	staging.Sending.DevBcc = "dev@acme.test"
	assert.True(t, EnvironmentGate(staging)(context.Background(), nil))
}
