package message

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTypeCache(t *testing.T) (*TypeCache, sqlmock.Sqlmock, *miniredis.Miniredis) {
	t.Helper()
	store, mock := newMockStore(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewTypeCache(store, rdb), mock, mr
}

func typeRow() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "mail_class", "single_mail_handler", "bulk_mail_handler",
		"direct", "dev_bcc", "error_stop_send_minutes", "bulk_message_line",
		"required_sender", "required_messagable", "required_company_id",
		"required_scheduled", "required_mail_text", "required_params",
	}).AddRow(
		int64(3), "welcome", "welcome", nil,
		true, false, 4320, nil,
		false, false, false, false, false, false,
	)
}

func TestTypeCacheReadsThroughOnce(t *testing.T) {
	cache, mock, _ := newTypeCache(t)
	ctx := context.Background()

	mock.ExpectQuery(`FROM message_types WHERE id = \$1`).
		WithArgs(int64(3)).
		WillReturnRows(typeRow())

	got, err := cache.ByID(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "welcome", got.MailClass)

	// Second read hits the cache; the mock has no second query queued.
	again, err := cache.ByID(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, got.MailClass, again.MailClass)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTypeCacheInvalidateBumpsVersion(t *testing.T) {
	cache, mock, mr := newTypeCache(t)
	ctx := context.Background()

	mock.ExpectQuery(`FROM message_types WHERE id = \$1`).
		WithArgs(int64(3)).
		WillReturnRows(typeRow())

	_, err := cache.ByID(ctx, 3)
	require.NoError(t, err)

	require.NoError(t, cache.Invalidate(ctx))
	v, err := mr.Get(typeCacheVersionKey)
	require.NoError(t, err)
	assert.Equal(t, "1", v)

	// A fresh generation means the next read goes to the store again.
	mock.ExpectQuery(`FROM message_types WHERE id = \$1`).
		WithArgs(int64(3)).
		WillReturnRows(typeRow())
	_, err = cache.ByID(ctx, 3)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTypeCacheByMailClass(t *testing.T) {
	cache, mock, _ := newTypeCache(t)

	mock.ExpectQuery(`FROM message_types WHERE mail_class = \$1`).
		WithArgs("welcome").
		WillReturnRows(typeRow())

	got, err := cache.ByMailClass(context.Background(), "welcome")
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
