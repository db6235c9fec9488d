package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodedErrorMatchesKindAndIdentity(t *testing.T) {
	errDup := New(ErrConflict, "duplicate", "already exists")
	wrapped := fmt.Errorf("insert: %w", errDup)

	assert.ErrorIs(t, wrapped, errDup)
	assert.ErrorIs(t, wrapped, ErrConflict)
	assert.NotErrorIs(t, wrapped, ErrValidation)
	assert.Equal(t, "duplicate", CodeOf(wrapped))
	assert.Equal(t, ErrConflict, KindOf(wrapped))
	assert.Equal(t, "already exists", MessageOf(wrapped, "x"))
}

func TestUncodedError(t *testing.T) {
	err := errors.New("boom")

	assert.Equal(t, "", CodeOf(err))
	assert.Nil(t, KindOf(err))
	assert.Equal(t, "internal error", MessageOf(err, "internal error"))
}
