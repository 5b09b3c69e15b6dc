package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorTaxonomy(t *testing.T) {
	ve := Validationf("qty", "must be positive, got %v", -1.0)
	if !IsValidation(ve) {
		t.Error("IsValidation failed on ValidationError")
	}
	wrapped := fmt.Errorf("create order: %w", ve)
	if !IsValidation(wrapped) {
		t.Error("IsValidation failed on wrapped ValidationError")
	}
	if IsState(wrapped) || IsNotFound(wrapped) || IsBackend(wrapped) {
		t.Error("wrapped ValidationError matched an unrelated predicate")
	}

	se := &StateError{OrderID: "o-1", Status: OrderStatusFilled, Op: "cancel"}
	if !IsState(fmt.Errorf("cancel: %w", se)) {
		t.Error("IsState failed on wrapped StateError")
	}

	nf := &NotFoundError{Kind: "order", ID: "o-9"}
	if !IsNotFound(nf) {
		t.Error("IsNotFound failed on NotFoundError")
	}

	cause := errors.New("connection refused")
	be := &BackendError{Op: "submit order", Venue: "alpaca", StatusCode: 503, Err: cause}
	if !IsBackend(be) {
		t.Error("IsBackend failed on BackendError")
	}
	if !errors.Is(be, cause) {
		t.Error("BackendError does not unwrap to its cause")
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&ValidationError{Field: "price", Reason: "required for limit orders"}, "validation: price: required for limit orders"},
		{&StateError{OrderID: "o-1", Status: OrderStatusFilled, Op: "cancel"}, "order o-1: cannot cancel in status filled"},
		{&NotFoundError{Kind: "algo", ID: "a-2"}, "algo a-2: not found"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}
