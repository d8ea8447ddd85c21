// Package apperr holds the error taxonomy shared by every domain service.
package apperr

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

var (
	ErrUnauthorized      = errors.New("unauthorized")
	ErrNotFound          = errors.New("not found")
	ErrTokenNotFound     = fmt.Errorf("invitation token %w", ErrNotFound)
	ErrTokenExpired      = errors.New("invitation token expired")
	ErrTokenExhausted    = errors.New("invitation token exhausted")
	ErrTokenInactive     = errors.New("invitation token inactive")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrConflict          = errors.New("conflicting concurrent update")
	ErrUnavailable       = errors.New("store unavailable")
	ErrValidation        = errors.New("validation failed")
)

// FromStore classifies an error returned by gorm. Anything that is neither a
// missing row nor a uniqueness violation is treated as the store being
// unavailable, including caller deadlines.
func FromStore(err error) error {
	switch {
	case err == nil:
		return nil
	case isDomain(err):
		return err
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	default:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}

// Validation wraps a caller-input problem.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Unauthorized names the permission that was missing.
func Unauthorized(action string) error {
	return fmt.Errorf("%w: %s", ErrUnauthorized, action)
}

func isDomain(err error) bool {
	for _, target := range []error{
		ErrUnauthorized, ErrNotFound, ErrTokenExpired, ErrTokenExhausted,
		ErrTokenInactive, ErrInvalidTransition, ErrConflict, ErrUnavailable, ErrValidation,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
