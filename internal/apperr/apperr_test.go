package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"validation", fmt.Errorf("%w: file is empty", ErrValidation), http.StatusBadRequest},
		{"unauthorized", ErrUnauthorized, http.StatusUnauthorized},
		{"forbidden", fmt.Errorf("remove: %w", ErrForbidden), http.StatusForbidden},
		{"not found", fmt.Errorf("%w: song", ErrNotFound), http.StatusNotFound},
		{"conflict", ErrConflict, http.StatusConflict},
		{"backend", ErrBackendUnavailable, http.StatusInternalServerError},
		{"io", ErrIOFailure, http.StatusInternalServerError},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestIsBusiness(t *testing.T) {
	assert.True(t, IsBusiness(fmt.Errorf("%w: bad", ErrValidation)))
	assert.True(t, IsBusiness(ErrForbidden))
	assert.False(t, IsBusiness(ErrIOFailure))
	assert.False(t, IsBusiness(errors.New("db down")))
}
