package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	err := New(CodePaymentInvalidTransition, "payment 3 is released")
	wrapped := fmt.Errorf("release: %w", err)

	if !stderrors.Is(wrapped, New(CodePaymentInvalidTransition, "")) {
		t.Fatal("expected wrapped error to match by code")
	}
	if stderrors.Is(wrapped, New(CodePaymentNotFound, "")) {
		t.Fatal("expected different code not to match")
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := stderrors.New("disk full")
	err := Wrap(CodeStorageUnavailable, "insert listing", cause)
	if !stderrors.Is(err, cause) {
		t.Fatal("expected cause in chain")
	}
	if got := KindOf(err); got != KindUnavailable {
		t.Fatalf("kind = %v, want %v", got, KindUnavailable)
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "nil", err: nil, want: KindUnknown},
		{name: "plain", err: stderrors.New("boom"), want: KindUnknown},
		{name: "validation", err: New(CodeListingPriceInvalid, "bad price"), want: KindValidation},
		{name: "not found", err: New(CodeListingNotFound, "missing"), want: KindNotFound},
		{name: "transition", err: New(CodeListingInvalidTransition, "terminal"), want: KindInvalidTransition},
		{name: "not available", err: New(CodeListingNotAvailable, "pending"), want: KindListingNotAvailable},
		{name: "active payment", err: New(CodeListingActivePaymentExist, "in flight"), want: KindListingNotAvailable},
		{name: "authorization", err: New(CodeActorNotAdmin, "nope"), want: KindAuthorization},
		{name: "wrapped", err: fmt.Errorf("outer: %w", New(CodeActorConsentMissing, "no consent")), want: KindAuthorization},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := KindOf(tc.err); got != tc.want {
				t.Fatalf("KindOf = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestCodeOfPlainError(t *testing.T) {
	if got := CodeOf(stderrors.New("boom")); got != CodeUnknown {
		t.Fatalf("code = %q, want %q", got, CodeUnknown)
	}
}
