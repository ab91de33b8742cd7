package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("confirm plan 3: %w", InsufficientAvailableStock("product %d short", 7))

	k, ok := KindOf(err)
	assert.True(t, ok)
	assert.Equal(t, KindInsufficientAvailableStock, k)
	assert.True(t, Is(err, KindInsufficientAvailableStock))
	assert.False(t, Is(err, KindConflict))
	assert.Equal(t, "product 7 short", Message(err))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("fk violated")
	err := Wrap(KindConflict, cause, "recipe in use")

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "recipe in use: fk violated", err.Error())
	assert.Equal(t, "recipe in use", Message(err))
}

func TestPlainErrorHasNoKind(t *testing.T) {
	_, ok := KindOf(errors.New("boom"))
	assert.False(t, ok)
}
