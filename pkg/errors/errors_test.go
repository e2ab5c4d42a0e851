package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsNotFound(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"direct match", ErrNotFound, true},
		{"wrapped once", fmt.Errorf("get mention: %w", ErrNotFound), true},
		{"wrapped twice", fmt.Errorf("processor: %w", fmt.Errorf("repo: %w", ErrNotFound)), true},
		{"different error", ErrPersistence, false},
		{"nil error", nil, false},
		{"unrelated error", errors.New("something else"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsNotFound(tt.err); got != tt.want {
				t.Errorf("IsNotFound() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsPersistence(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"direct match", ErrPersistence, true},
		{"wrapped", fmt.Errorf("creating mention: %w", ErrPersistence), true},
		{"different error", ErrNotFound, false},
		{"nil error", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsPersistence(tt.err); got != tt.want {
				t.Errorf("IsPersistence() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsNotVisible(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"direct match", ErrNotVisible, true},
		{"wrapped", fmt.Errorf("clone c-1: %w", ErrNotVisible), true},
		{"different error", ErrNotFound, false},
		{"nil error", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsNotVisible(tt.err); got != tt.want {
				t.Errorf("IsNotVisible() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsValidationAndInvalidState(t *testing.T) {
	if !IsValidation(fmt.Errorf("input: %w", ErrValidation)) {
		t.Error("expected wrapped ErrValidation to match")
	}
	if IsValidation(ErrInvalidState) {
		t.Error("ErrInvalidState should not match IsValidation")
	}
	if !IsInvalidState(fmt.Errorf("mark responded: %w", ErrInvalidState)) {
		t.Error("expected wrapped ErrInvalidState to match")
	}
	if IsInvalidState(nil) {
		t.Error("nil should not match IsInvalidState")
	}
}
