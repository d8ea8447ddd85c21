package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestFromStore(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error
	}{
		{"missing row", gorm.ErrRecordNotFound, ErrNotFound},
		{"wrapped missing row", fmt.Errorf("loading: %w", gorm.ErrRecordNotFound), ErrNotFound},
		{"duplicate", gorm.ErrDuplicatedKey, ErrConflict},
		{"deadline", context.DeadlineExceeded, ErrUnavailable},
		{"cancelled", context.Canceled, ErrUnavailable},
		{"driver failure", errors.New("connection reset by peer"), ErrUnavailable},
		{"domain error passes through", ErrTokenExhausted, ErrTokenExhausted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, FromStore(tt.in), tt.want)
		})
	}
	assert.NoError(t, FromStore(nil))
}

func TestTokenNotFoundIsNotFound(t *testing.T) {
	assert.ErrorIs(t, ErrTokenNotFound, ErrNotFound)
	assert.NotErrorIs(t, ErrNotFound, ErrTokenNotFound)
}

func TestHelpers(t *testing.T) {
	err := Unauthorized("invite:create")
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Contains(t, err.Error(), "invite:create")

	err = Validation("ttl %s exceeds maximum", "900h")
	assert.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "900h")
}
