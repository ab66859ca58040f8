package i18n

import (
	stderrors "errors"
	"fmt"
	"testing"

	apperrors "github.com/louisbranch/ticketmarket/internal/platform/errors"
)

func TestForFallsBackToBaseLocale(t *testing.T) {
	if got := For("missing-locale").Locale(); got != "en-US" {
		t.Fatalf("locale = %q, want en-US", got)
	}
	if For("en-US") != For("") {
		t.Fatal("expected cached messages for the base locale")
	}
}

func TestForMatchesLanguage(t *testing.T) {
	if got := For("ru").Locale(); got != "ru-RU" {
		t.Fatalf("locale = %q, want ru-RU", got)
	}
}

func TestFormatFallbacks(t *testing.T) {
	messages := NewMessages("test", map[string]string{
		"code":   "hello {{.Name}}",
		"broken": "{{ if .Name }}",
	})

	tests := []struct {
		code     string
		metadata map[string]string
		want     string
	}{
		{code: "unknown", want: "unknown"},
		{code: "code", want: "hello <no value>"},
		{code: "code", metadata: map[string]string{"Name": "Ada"}, want: "hello Ada"},
		{code: "broken", metadata: map[string]string{"Name": "X"}, want: "{{ if .Name }}"},
	}
	for _, tc := range tests {
		if got := messages.Format(tc.code, tc.metadata); got != tc.want {
			t.Errorf("Format(%q) = %q, want %q", tc.code, got, tc.want)
		}
	}
}

func TestLocalize(t *testing.T) {
	err := fmt.Errorf("release: %w", apperrors.WithMetadata(
		apperrors.CodePaymentInvalidTransition,
		"payment 4 is released",
		map[string]string{"PaymentID": "4"},
	))

	tests := []struct {
		name   string
		err    error
		locale string
		want   string
	}{
		{name: "nil", err: nil, locale: "en-US", want: ""},
		{name: "english", err: err, locale: "en-US", want: "Payment #4 was not found or has already been processed."},
		{name: "russian", err: err, locale: "ru-RU", want: "Платёж #4 не найден или уже обработан."},
		{name: "plain error", err: stderrors.New("disk on fire"), locale: "en-US", want: "An unexpected error occurred."},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Localize(tc.err, tc.locale); got != tc.want {
				t.Fatalf("Localize = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestEveryCodeHasMessage(t *testing.T) {
	codes := []apperrors.Code{
		apperrors.CodeListingSellerMissing,
		apperrors.CodeListingDescriptionEmpty,
		apperrors.CodeListingPriceMissing,
		apperrors.CodeListingPriceInvalid,
		apperrors.CodeListingDecisionInvalid,
		apperrors.CodeListingNotFound,
		apperrors.CodeListingInvalidTransition,
		apperrors.CodeListingNotAvailable,
		apperrors.CodeListingActivePaymentExist,
		apperrors.CodePaymentBuyerMissing,
		apperrors.CodePaymentAmountInvalid,
		apperrors.CodePaymentNotFound,
		apperrors.CodePaymentInvalidTransition,
		apperrors.CodeCommissionRateInvalid,
		apperrors.CodeFilterInvalid,
		apperrors.CodeActorMissing,
		apperrors.CodeActorNotAdmin,
		apperrors.CodeActorConsentMissing,
		apperrors.CodeActionReferenceInvalid,
		apperrors.CodeActionReferenceExpired,
		apperrors.CodeSessionUnexpectedInput,
		apperrors.CodeStorageUnavailable,
	}
	for _, locale := range []string{"en-US", "ru-RU"} {
		messages := For(locale)
		for _, code := range codes {
			if got := messages.Format(string(code), nil); got == string(code) {
				t.Errorf("%s: no message for %s", locale, code)
			}
		}
	}
}
