// Package storage defines persistence contracts for marketplace ledger state.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates a requested record is missing.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists indicates a uniqueness-constrained record already exists.
	ErrAlreadyExists = errors.New("record already exists")
	// ErrStatusConflict indicates a conditional status update found the
	// record in a different status than expected.
	ErrStatusConflict = errors.New("record status conflict")
	// ErrActivePaymentExists indicates a listing already has a pending payment
	// and the insert required exclusivity.
	ErrActivePaymentExists = errors.New("listing has an active payment")
	// ErrListingUnavailable indicates a payment insert referenced a listing
	// that is missing or not approved.
	ErrListingUnavailable = errors.New("listing is not available")
)

// ListingStatus is the moderation state of a listing.
type ListingStatus string

const (
	ListingPending  ListingStatus = "pending"
	ListingApproved ListingStatus = "approved"
	ListingRejected ListingStatus = "rejected"
)

// Terminal reports whether no further transition is allowed.
func (s ListingStatus) Terminal() bool {
	return s == ListingApproved || s == ListingRejected
}

// Valid reports whether s is a known listing status.
func (s ListingStatus) Valid() bool {
	return s == ListingPending || s.Terminal()
}

// PaymentStatus is the escrow state of a payment.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentReleased PaymentStatus = "released"
	PaymentRefunded PaymentStatus = "refunded"
)

// Terminal reports whether no further transition is allowed.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentReleased || s == PaymentRefunded
}

// Valid reports whether s is a known payment status.
func (s PaymentStatus) Valid() bool {
	return s == PaymentPending || s.Terminal()
}

// Listing stores one seller offering.
type Listing struct {
	ID          int64
	SellerID    string
	Description string
	// Price is the unit price in the smallest currency unit.
	Price       int64
	Status      ListingStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ModeratedAt time.Time
}

// NewListing holds the fields required to insert a pending listing.
type NewListing struct {
	SellerID    string
	Description string
	Price       int64
	CreatedAt   time.Time
}

// Payment stores one escrowed purchase.
type Payment struct {
	ID             int64
	ListingID      int64
	BuyerID        string
	GrossAmount    int64
	Commission     int64
	Status         PaymentStatus
	ConfirmationID string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	SettledAt      time.Time
}

// Payout is the amount owed to the seller on release.
func (p Payment) Payout() int64 {
	return p.GrossAmount - p.Commission
}

// NewPayment holds the fields required to insert a pending payment.
type NewPayment struct {
	ListingID   int64
	BuyerID     string
	GrossAmount int64
	Commission  int64
	// ConfirmationID is the external payment confirmation; empty when unknown.
	ConfirmationID string
	// Exclusive rejects the insert with ErrActivePaymentExists when the
	// listing already has a pending payment.
	Exclusive bool
	CreatedAt time.Time
}

// StatusTransition is a compare-and-set status update.
type StatusTransition[S ~string] struct {
	ID   int64
	From S
	To   S
	At   time.Time
}

// PaymentQuery selects payments with an optional SQL condition, paged by id.
type PaymentQuery struct {
	// Where is a WHERE fragment over payments columns using ? placeholders.
	Where   string
	Params  []any
	AfterID int64
	Limit   int
}

// PaymentTotals aggregates payments in one status.
type PaymentTotals struct {
	Status     PaymentStatus
	Count      int64
	Gross      int64
	Commission int64
}

// ListingStore persists listing records.
type ListingStore interface {
	InsertListing(ctx context.Context, listing NewListing) (Listing, error)
	GetListing(ctx context.Context, id int64) (Listing, error)
	// ListListingsByStatus returns up to limit listings with id > afterID in id order.
	ListListingsByStatus(ctx context.Context, status ListingStatus, afterID int64, limit int) ([]Listing, error)
	// UpdateListingStatus applies the transition only when the stored status
	// equals From. It returns ErrNotFound or ErrStatusConflict otherwise.
	UpdateListingStatus(ctx context.Context, transition StatusTransition[ListingStatus]) (Listing, error)
}

// PaymentStore persists payment records.
type PaymentStore interface {
	// InsertPayment atomically checks the referenced listing is approved
	// (ErrListingUnavailable) and, for exclusive inserts, that no pending
	// payment exists (ErrActivePaymentExists). A repeated confirmation id
	// returns ErrAlreadyExists.
	InsertPayment(ctx context.Context, payment NewPayment) (Payment, error)
	GetPayment(ctx context.Context, id int64) (Payment, error)
	FindPaymentByConfirmation(ctx context.Context, confirmationID string) (Payment, error)
	ListPaymentsByStatus(ctx context.Context, status PaymentStatus, afterID int64, limit int) ([]Payment, error)
	// UpdatePaymentStatus applies the transition only when the stored status
	// equals From. It returns ErrNotFound or ErrStatusConflict otherwise.
	UpdatePaymentStatus(ctx context.Context, transition StatusTransition[PaymentStatus]) (Payment, error)
	SearchPayments(ctx context.Context, query PaymentQuery) ([]Payment, error)
	SummarizePayments(ctx context.Context) ([]PaymentTotals, error)
}

// ConsentRecord stores whether a user accepted the marketplace terms.
type ConsentRecord struct {
	UserID   string
	Agreed   bool
	AgreedAt time.Time
}

// ConsentStore persists consent records.
type ConsentStore interface {
	GetConsent(ctx context.Context, userID string) (ConsentRecord, error)
	PutConsent(ctx context.Context, record ConsentRecord) error
}

// Notification is one rendered message waiting for delivery to a recipient.
type Notification struct {
	ID          string
	RecipientID string
	EventType   string
	Text        string
	// Payload is the JSON-encoded event that produced the notification.
	Payload     []byte
	CreatedAt   time.Time
	DeliveredAt time.Time
}

// NotificationStore persists the notification outbox.
type NotificationStore interface {
	AppendNotification(ctx context.Context, notification Notification) error
	ListUndelivered(ctx context.Context, recipientID string, limit int) ([]Notification, error)
	MarkDelivered(ctx context.Context, ids []string, at time.Time) error
}

// Store is the full ledger surface opened by the process.
type Store interface {
	ListingStore
	PaymentStore
	ConsentStore
	NotificationStore
	Close() error
}
