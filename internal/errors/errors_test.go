package errors

import (
	"fmt"
	"testing"
)

func TestClassification(t *testing.T) {
	t.Parallel()

	base := New("boom")

	cases := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{name: "validation", err: NewValidationError("bad field %q", "status"), check: IsValidation},
		{name: "configuration", err: NewConfigurationError("duplicate rule"), check: IsConfiguration},
		{name: "not found", err: NewNotFoundError("stage %s", "s1"), check: IsNotFound},
		{name: "persistence", err: NewPersistenceError(base, "inserting"), check: IsPersistence},
		{name: "retryable", err: NewExternalError(base, true, "advancing"), check: IsRetryable},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if !tc.check(tc.err) {
				t.Fatalf("expected %v to be classified", tc.err)
			}

			wrapped := fmt.Errorf("outer: %w", tc.err)
			if !tc.check(wrapped) {
				t.Fatalf("classification lost after wrapping: %v", wrapped)
			}
		})
	}
}

func TestPermanentIsNotRetryable(t *testing.T) {
	err := NewExternalError(New("422"), false, "advancing")

	if IsRetryable(err) {
		t.Fatalf("permanent error must not be retryable")
	}

	if !Is(err, ErrExternalPermanent) {
		t.Fatalf("expected permanent mark")
	}

	if IsRetryable(New("plain")) {
		t.Fatalf("unclassified errors are permanent")
	}
}

func TestNilStaysNil(t *testing.T) {
	if NewPersistenceError(nil, "x") != nil {
		t.Fatalf("expected nil persistence error")
	}

	if NewExternalError(nil, true, "x") != nil {
		t.Fatalf("expected nil external error")
	}
}
