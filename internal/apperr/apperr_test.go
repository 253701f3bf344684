package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConstructorsUnwrapToSentinels(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"not found", NotFound("order %s not found", "abc"), ErrNotFound},
		{"conflict", Conflict("order %s already exists", "abc"), ErrConflict},
		{"invalid state", InvalidState("cannot accept from %s", "REJECTED"), ErrInvalidState},
		{"bad request", BadRequest("courier is BUSY"), ErrBadRequest},
		{"unauthorized", Unauthorized("not the order owner"), ErrUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, errors.Is(tt.err, tt.sentinel))
		})
	}
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, HTTPStatus(NotFound("missing")))
	assert.Equal(t, http.StatusConflict, HTTPStatus(Conflict("dup")))
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(InvalidState("bad transition")))
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(BadRequest("bad field")))
	assert.Equal(t, http.StatusUnauthorized, HTTPStatus(Unauthorized("nope")))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("boom")))
}

func TestHTTPStatusWrappedError(t *testing.T) {
	wrapped := fmt.Errorf("accepting order: %w", InvalidState("PENDING -> PICKED_UP"))
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(wrapped))
}

func TestValidationError(t *testing.T) {
	err := ValidationError{
		"items":       "at least one item is required",
		"customer_id": "customer_id is required",
	}

	assert.Equal(t, http.StatusBadRequest, HTTPStatus(err))
	assert.Equal(t,
		"validation failed: customer_id: customer_id is required; items: at least one item is required",
		err.Error())
}
