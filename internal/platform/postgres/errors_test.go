package postgres

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/SteveJiangWorkPlace/otium/internal/store"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestMapError(t *testing.T) {
	t.Parallel()

	t.Run("nil passes through", func(t *testing.T) {
		t.Parallel()
		assert.NoError(t, MapError(nil))
	})

	t.Run("no rows maps to not found", func(t *testing.T) {
		t.Parallel()
		err := MapError(sql.ErrNoRows)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("unique violation maps to duplicate", func(t *testing.T) {
		t.Parallel()
		err := MapError(&pgconn.PgError{Code: uniqueViolationCode})
		assert.ErrorIs(t, err, store.ErrDuplicate)
	})

	t.Run("constraint violations map to invalid entity", func(t *testing.T) {
		t.Parallel()
		for _, code := range []string{
			foreignKeyViolationCode,
			checkViolationCode,
			notNullViolationCode,
		} {
			err := MapError(&pgconn.PgError{Code: code})
			assert.ErrorIs(t, err, store.ErrInvalidEntity, "code %s", code)
		}
	})

	t.Run("unrecognized errors pass through unchanged", func(t *testing.T) {
		t.Parallel()
		original := errors.New("boom")
		assert.Equal(t, original, MapError(original))
	})
}

func TestIsUniqueViolation(t *testing.T) {
	t.Parallel()

	assert.True(t, IsUniqueViolation(&pgconn.PgError{Code: uniqueViolationCode}))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: foreignKeyViolationCode}))
	assert.False(t, IsUniqueViolation(errors.New("boom")))
	assert.False(t, IsUniqueViolation(nil))
}
