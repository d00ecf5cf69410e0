package errors

import (
	stderrors "errors"
	"testing"
)

func TestErrorMessage(t *testing.T) {
	t.Run("without cause", func(t *testing.T) {
		err := NewError(ErrorTypeRateLimited, "rate limit exceeded")
		expected := "rate_limited: rate limit exceeded"
		if err.Error() != expected {
			t.Errorf("Expected %q, got %q", expected, err.Error())
		}
	})

	t.Run("with cause", func(t *testing.T) {
		cause := stderrors.New("connection refused")
		err := NewError(ErrorTypeStoreUnavailable, "redis unreachable").WithCause(cause)
		expected := "store_unavailable: redis unreachable: connection refused"
		if err.Error() != expected {
			t.Errorf("Expected %q, got %q", expected, err.Error())
		}
	})
}

func TestUnwrap(t *testing.T) {
	cause := stderrors.New("timeout")
	err := NewError(ErrorTypeStoreUnavailable, "store call failed").WithCause(cause)

	if !stderrors.Is(err, cause) {
		t.Error("Expected errors.Is to find the cause")
	}
}

func TestIsMatchesOnType(t *testing.T) {
	a := NewError(ErrorTypeCsrfInvalid, "token mismatch")
	b := NewError(ErrorTypeCsrfInvalid, "different message")
	c := NewError(ErrorTypeCsrfMissing, "token mismatch")

	if !stderrors.Is(a, b) {
		t.Error("Expected errors with the same type to match")
	}
	if stderrors.Is(a, c) {
		t.Error("Expected errors with different types not to match")
	}
}

func TestAs(t *testing.T) {
	err := Wrap(NewError(ErrorTypeUnauthenticated, "no session"), "guard")

	var structured *Error
	if !As(err, &structured) {
		t.Fatal("Expected As to find the structured error")
	}
	if structured.Type != ErrorTypeUnauthenticated {
		t.Errorf("Expected type unauthenticated, got %s", structured.Type)
	}
}

func TestHTTPStatusCode(t *testing.T) {
	tests := []struct {
		errType ErrorType
		status  int
	}{
		{ErrorTypeRateLimited, 429},
		{ErrorTypeCsrfMissing, 403},
		{ErrorTypeCsrfInvalid, 403},
		{ErrorTypeUnauthenticated, 401},
		{ErrorTypeStoreUnavailable, 503},
		{ErrorTypeInternal, 500},
	}

	for _, tt := range tests {
		t.Run(string(tt.errType), func(t *testing.T) {
			err := NewError(tt.errType, "test")
			if got := err.HTTPStatusCode(); got != tt.status {
				t.Errorf("Expected status %d, got %d", tt.status, got)
			}
		})
	}
}

func TestDetails(t *testing.T) {
	err := NewError(ErrorTypeRateLimited, "rate limit exceeded").
		WithDetail("tier", "login").
		WithDetail("identifier", "203.0.113.7")

	if err.Details["tier"] != "login" {
		t.Errorf("Expected detail tier=login, got %v", err.Details["tier"])
	}
	if err.Details["identifier"] != "203.0.113.7" {
		t.Errorf("Expected detail identifier=203.0.113.7, got %v", err.Details["identifier"])
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, "context") != nil {
		t.Error("Expected Wrap(nil) to return nil")
	}
}
