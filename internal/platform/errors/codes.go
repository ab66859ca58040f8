// Package errors provides structured error handling with i18n support.
package errors

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Listing errors
	CodeListingSellerMissing      Code = "LISTING_SELLER_MISSING"
	CodeListingDescriptionEmpty   Code = "LISTING_DESCRIPTION_EMPTY"
	CodeListingPriceMissing       Code = "LISTING_PRICE_MISSING"
	CodeListingPriceInvalid       Code = "LISTING_PRICE_INVALID"
	CodeListingDecisionInvalid    Code = "LISTING_DECISION_INVALID"
	CodeListingNotFound           Code = "LISTING_NOT_FOUND"
	CodeListingInvalidTransition  Code = "LISTING_INVALID_STATUS_TRANSITION"
	CodeListingNotAvailable       Code = "LISTING_NOT_AVAILABLE"
	CodeListingActivePaymentExist Code = "LISTING_ACTIVE_PAYMENT_EXISTS"

	// Payment errors
	CodePaymentBuyerMissing      Code = "PAYMENT_BUYER_MISSING"
	CodePaymentAmountInvalid     Code = "PAYMENT_AMOUNT_INVALID"
	CodePaymentNotFound          Code = "PAYMENT_NOT_FOUND"
	CodePaymentInvalidTransition Code = "PAYMENT_INVALID_STATUS_TRANSITION"
	CodePaymentConfirmationUsed  Code = "PAYMENT_CONFIRMATION_CONFLICT"
	CodeCommissionRateInvalid    Code = "COMMISSION_RATE_INVALID"
	CodeFilterInvalid            Code = "FILTER_INVALID"

	// Authorization errors
	CodeActorMissing           Code = "ACTOR_MISSING"
	CodeActorNotAdmin          Code = "ACTOR_NOT_ADMIN"
	CodeActorConsentMissing    Code = "ACTOR_CONSENT_MISSING"
	CodeActionReferenceInvalid Code = "ACTION_REFERENCE_INVALID"
	CodeActionReferenceExpired Code = "ACTION_REFERENCE_EXPIRED"

	// Conversation errors
	CodeSessionUnexpectedInput Code = "SESSION_UNEXPECTED_INPUT"

	// Infrastructure errors
	CodeStorageUnavailable Code = "STORAGE_UNAVAILABLE"
)

// Kind groups codes into the failure classes callers branch on.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindInvalidTransition
	KindListingNotAvailable
	KindAuthorization
	KindUnavailable
)

// String returns the stable name of the kind.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindInvalidTransition:
		return "invalid_transition"
	case KindListingNotAvailable:
		return "listing_not_available"
	case KindAuthorization:
		return "authorization"
	case KindUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Kind maps domain codes to their failure class.
func (c Code) Kind() Kind {
	switch c {
	// Validation - malformed caller input
	case CodeListingSellerMissing,
		CodeListingDescriptionEmpty,
		CodeListingPriceMissing,
		CodeListingPriceInvalid,
		CodeListingDecisionInvalid,
		CodePaymentBuyerMissing,
		CodePaymentAmountInvalid,
		CodePaymentConfirmationUsed,
		CodeCommissionRateInvalid,
		CodeFilterInvalid,
		CodeSessionUnexpectedInput:
		return KindValidation

	// NotFound - referenced entity is absent
	case CodeListingNotFound,
		CodePaymentNotFound:
		return KindNotFound

	// InvalidTransition - entity is not in the required source state
	case CodeListingInvalidTransition,
		CodePaymentInvalidTransition:
		return KindInvalidTransition

	// ListingNotAvailable - escrow cannot be opened against the listing
	case CodeListingNotAvailable,
		CodeListingActivePaymentExist:
		return KindListingNotAvailable

	// Authorization - caller lacks role, consent or a valid reference
	case CodeActorMissing,
		CodeActorNotAdmin,
		CodeActorConsentMissing,
		CodeActionReferenceInvalid,
		CodeActionReferenceExpired:
		return KindAuthorization

	case CodeStorageUnavailable:
		return KindUnavailable

	default:
		return KindUnknown
	}
}
