package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindOf(t *testing.T) {
	base := New(KindNotFound, "lookup server", "server s1 not found")
	wrapped := fmt.Errorf("handler: %w", base)

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"direct", base, KindNotFound},
		{"wrapped", wrapped, KindNotFound},
		{"plain error", errors.New("boom"), KindInternal},
		{"wrap helper", Wrap(KindConnectionFailed, "dial", errors.New("refused")), KindConnectionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWrapNil(t *testing.T) {
	if err := Wrap(KindNotFound, "op", nil); err != nil {
		t.Errorf("Wrap(nil) = %v, want nil", err)
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindConfigurationInvalid, http.StatusBadRequest},
		{KindBadRequest, http.StatusBadRequest},
		{KindConnectionFailed, http.StatusServiceUnavailable},
		{KindProtocolInvalid, http.StatusServiceUnavailable},
		{KindNotFound, http.StatusNotFound},
		{KindUnauthorized, http.StatusUnauthorized},
		{KindInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			if got := HTTPStatus(tt.kind); got != tt.want {
				t.Errorf("HTTPStatus(%q) = %d, want %d", tt.kind, got, tt.want)
			}
		})
	}
}

func TestErrorMessage(t *testing.T) {
	err := New(KindUnauthorized, "get card", "missing user")
	if got, want := err.Error(), "get card: missing user"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if got, want := Code(KindUnauthorized, "api"), "unauthorized:api"; got != want {
		t.Errorf("Code() = %q, want %q", got, want)
	}
}
