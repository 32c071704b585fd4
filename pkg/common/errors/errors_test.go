package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("bad plan: %w", ErrInvalidInput), http.StatusBadRequest},
		{fmt.Errorf("run x: %w", ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("run x is executing: %w", ErrConflict), http.StatusConflict},
		{fmt.Errorf("processor y: %w", ErrNotReady), http.StatusConflict},
		{ErrUnauthorized, http.StatusUnauthorized},
		{errors.New("disk on fire"), http.StatusInternalServerError},
		{NewAppError(http.StatusTeapot, "short and stout", nil), http.StatusTeapot},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			appErr := MapError(tt.err)
			assert.Equal(t, tt.code, appErr.Code)
		})
	}
	assert.Nil(t, MapError(nil))
}

func TestAppError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("lookup: %w", ErrNotFound)
	appErr := NewAppError(http.StatusNotFound, "Resource not found", cause)
	assert.ErrorIs(t, appErr, ErrNotFound)
	assert.Contains(t, appErr.Error(), "lookup")
}
