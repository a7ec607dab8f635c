package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "nil", err: nil, want: ""},
		{name: "typed", err: NotFound("service %s", "x"), want: KindNotFound},
		{name: "wrapped typed", err: fmt.Errorf("connect: %w", InsufficientFunds("card")), want: KindInsufficientFunds},
		{name: "foreign", err: errors.New("boom"), want: KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestEnsureKeepsTypedErrors(t *testing.T) {
	typed := Forbidden("nope")
	assert.Same(t, typed, Ensure(typed, "ignored"))

	wrapped := Ensure(errors.New("db down"), "failed to load")
	assert.True(t, Is(wrapped, KindInternal))
	assert.Contains(t, wrapped.Error(), "db down")
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(KindValidation))
	assert.Equal(t, http.StatusConflict, HTTPStatus(KindInvalidState))
	assert.Equal(t, http.StatusPaymentRequired, HTTPStatus(KindNoFundingSource))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(KindInternal))
}
