// Package escrow owns the payment lifecycle: opening escrow on a confirmed
// purchase, computing commission and settling by release or refund.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/louisbranch/ticketmarket/internal/platform/errors"
	platformotel "github.com/louisbranch/ticketmarket/internal/platform/otel"
	"github.com/louisbranch/ticketmarket/internal/services/marketplace/events"
	"github.com/louisbranch/ticketmarket/internal/services/marketplace/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName      = "github.com/louisbranch/ticketmarket/internal/services/marketplace/escrow"
	defaultPageSize = 50
)

var logf = log.Printf

// Store is the ledger surface the escrow manager needs.
type Store interface {
	storage.PaymentStore
	GetListing(ctx context.Context, id int64) (storage.Listing, error)
}

// OpenInput describes a confirmed purchase.
type OpenInput struct {
	ListingID   int64
	BuyerID     string
	GrossAmount int64
	// ConfirmationID identifies the external payment confirmation. Opening
	// twice with the same id returns the first payment.
	ConfirmationID string
}

// ReleaseResult is what the downstream payout step needs after a release.
type ReleaseResult struct {
	PaymentID  int64
	ListingID  int64
	SellerID   string
	BuyerID    string
	Payout     int64
	Commission int64
}

// RefundResult is what the downstream refund step needs after a refund.
type RefundResult struct {
	PaymentID int64
	ListingID int64
	SellerID  string
	BuyerID   string
	Amount    int64
}

// Manager records escrowed payments and settles them.
type Manager struct {
	store        Store
	rate         Rate
	singleActive bool
	publisher    events.Publisher
	clock        func() time.Time
	tracer       trace.Tracer
	pageSize     int
}

// Option configures a Manager.
type Option func(*Manager)

// WithPublisher sets where escrow events are published.
func WithPublisher(publisher events.Publisher) Option {
	return func(m *Manager) {
		if publisher != nil {
			m.publisher = publisher
		}
	}
}

// WithSingleActivePayment controls whether a listing may hold more than one
// pending payment at a time. Enabled by default.
func WithSingleActivePayment(enabled bool) Option {
	return func(m *Manager) {
		m.singleActive = enabled
	}
}

// WithPageSize sets how many rows each store round trip reads while iterating.
func WithPageSize(size int) Option {
	return func(m *Manager) {
		if size > 0 {
			m.pageSize = size
		}
	}
}

// NewManager creates an escrow manager charging rate on every payment.
func NewManager(store Store, rate Rate, opts ...Option) *Manager {
	m := &Manager{
		store:        store,
		rate:         rate,
		singleActive: true,
		publisher:    events.Discard,
		clock:        time.Now,
		tracer:       otel.Tracer(tracerName),
		pageSize:     defaultPageSize,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Rate returns the configured commission rate.
func (m *Manager) Rate() Rate {
	return m.rate
}

// Open records a pending payment against an approved listing.
func (m *Manager) Open(ctx context.Context, input OpenInput) (_ storage.Payment, err error) {
	ctx, span := m.tracer.Start(ctx, "escrow.Open", trace.WithAttributes(
		attribute.Int64("listing.id", input.ListingID),
	))
	defer func() { platformotel.EndSpan(span, err) }()

	buyerID := strings.TrimSpace(input.BuyerID)
	if buyerID == "" {
		return storage.Payment{}, apperrors.New(apperrors.CodePaymentBuyerMissing, "buyer id is required")
	}
	if input.GrossAmount <= 0 {
		return storage.Payment{}, apperrors.WithMetadata(
			apperrors.CodePaymentAmountInvalid,
			fmt.Sprintf("gross amount %d must be positive", input.GrossAmount),
			map[string]string{"Amount": strconv.FormatInt(input.GrossAmount, 10)},
		)
	}
	confirmationID := strings.TrimSpace(input.ConfirmationID)
	if confirmationID != "" {
		existing, err := m.store.FindPaymentByConfirmation(ctx, confirmationID)
		if err == nil {
			return replayed(existing, input.ListingID, buyerID, input.GrossAmount)
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return storage.Payment{}, apperrors.Wrap(apperrors.CodeStorageUnavailable, "find payment by confirmation", err)
		}
	}

	listingMeta := map[string]string{"ListingID": strconv.FormatInt(input.ListingID, 10)}
	listing, err := m.store.GetListing(ctx, input.ListingID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return storage.Payment{}, apperrors.WrapWithMetadata(apperrors.CodeStorageUnavailable, "get listing", listingMeta, err)
	}
	if err != nil || listing.Status != storage.ListingApproved {
		return storage.Payment{}, listingUnavailable(input.ListingID, listingMeta)
	}

	payment, err := m.store.InsertPayment(ctx, storage.NewPayment{
		ListingID:      input.ListingID,
		BuyerID:        buyerID,
		GrossAmount:    input.GrossAmount,
		Commission:     m.rate.Commission(input.GrossAmount),
		ConfirmationID: confirmationID,
		Exclusive:      m.singleActive,
		CreatedAt:      m.clock().UTC(),
	})
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrListingUnavailable):
		return storage.Payment{}, listingUnavailable(input.ListingID, listingMeta)
	case errors.Is(err, storage.ErrActivePaymentExists):
		return storage.Payment{}, apperrors.WithMetadata(
			apperrors.CodeListingActivePaymentExist,
			fmt.Sprintf("listing %d already has a pending payment", input.ListingID),
			listingMeta,
		)
	case errors.Is(err, storage.ErrAlreadyExists) && confirmationID != "":
		// Lost a race with a concurrent open for the same confirmation.
		existing, findErr := m.store.FindPaymentByConfirmation(ctx, confirmationID)
		if findErr != nil {
			return storage.Payment{}, apperrors.Wrap(apperrors.CodeStorageUnavailable, "find payment by confirmation", findErr)
		}
		return replayed(existing, input.ListingID, buyerID, input.GrossAmount)
	default:
		return storage.Payment{}, apperrors.WrapWithMetadata(apperrors.CodeStorageUnavailable, "insert payment", listingMeta, err)
	}
	span.SetAttributes(attribute.Int64("payment.id", payment.ID))

	m.publish(ctx, events.Event{
		Type:        events.EscrowOpened,
		OccurredAt:  payment.CreatedAt,
		ListingID:   payment.ListingID,
		SellerID:    listing.SellerID,
		Description: listing.Description,
		PaymentID:   payment.ID,
		BuyerID:     payment.BuyerID,
		GrossAmount: payment.GrossAmount,
		Commission:  payment.Commission,
		Payout:      payment.Payout(),
	})
	return payment, nil
}

// replayed returns the payment already recorded for a confirmation, provided
// the repeat describes the same purchase. A confirmation reused for another
// listing, buyer or amount is rejected without revealing the original payment.
func replayed(existing storage.Payment, listingID int64, buyerID string, gross int64) (storage.Payment, error) {
	if existing.ListingID == listingID && existing.BuyerID == buyerID && existing.GrossAmount == gross {
		return existing, nil
	}
	return storage.Payment{}, apperrors.WithMetadata(
		apperrors.CodePaymentConfirmationUsed,
		fmt.Sprintf("confirmation %q belongs to another purchase", existing.ConfirmationID),
		map[string]string{"ConfirmationID": existing.ConfirmationID},
	)
}

func listingUnavailable(listingID int64, metadata map[string]string) error {
	return apperrors.WithMetadata(
		apperrors.CodeListingNotAvailable,
		fmt.Sprintf("listing %d is not approved", listingID),
		metadata,
	)
}

// Release settles a pending payment in the seller's favor. Replays and
// releases racing a refund fail with an invalid transition.
func (m *Manager) Release(ctx context.Context, paymentID int64) (_ ReleaseResult, err error) {
	ctx, span := m.tracer.Start(ctx, "escrow.Release", trace.WithAttributes(
		attribute.Int64("payment.id", paymentID),
	))
	defer func() { platformotel.EndSpan(span, err) }()

	payment, err := m.settle(ctx, paymentID, storage.PaymentReleased)
	if err != nil {
		return ReleaseResult{}, err
	}
	sellerID := m.sellerOf(ctx, payment.ListingID)
	result := ReleaseResult{
		PaymentID:  payment.ID,
		ListingID:  payment.ListingID,
		SellerID:   sellerID,
		BuyerID:    payment.BuyerID,
		Payout:     payment.Payout(),
		Commission: payment.Commission,
	}
	m.publish(ctx, events.Event{
		Type:        events.PaymentReleased,
		OccurredAt:  payment.SettledAt,
		ListingID:   payment.ListingID,
		SellerID:    sellerID,
		PaymentID:   payment.ID,
		BuyerID:     payment.BuyerID,
		GrossAmount: payment.GrossAmount,
		Commission:  payment.Commission,
		Payout:      payment.Payout(),
	})
	return result, nil
}

// Refund settles a pending payment in the buyer's favor. Replays and refunds
// racing a release fail with an invalid transition.
func (m *Manager) Refund(ctx context.Context, paymentID int64) (_ RefundResult, err error) {
	ctx, span := m.tracer.Start(ctx, "escrow.Refund", trace.WithAttributes(
		attribute.Int64("payment.id", paymentID),
	))
	defer func() { platformotel.EndSpan(span, err) }()

	payment, err := m.settle(ctx, paymentID, storage.PaymentRefunded)
	if err != nil {
		return RefundResult{}, err
	}
	sellerID := m.sellerOf(ctx, payment.ListingID)
	result := RefundResult{
		PaymentID: payment.ID,
		ListingID: payment.ListingID,
		SellerID:  sellerID,
		BuyerID:   payment.BuyerID,
		Amount:    payment.GrossAmount,
	}
	m.publish(ctx, events.Event{
		Type:        events.PaymentRefunded,
		OccurredAt:  payment.SettledAt,
		ListingID:   payment.ListingID,
		SellerID:    sellerID,
		PaymentID:   payment.ID,
		BuyerID:     payment.BuyerID,
		GrossAmount: payment.GrossAmount,
		Commission:  payment.Commission,
	})
	return result, nil
}

func (m *Manager) settle(ctx context.Context, paymentID int64, to storage.PaymentStatus) (storage.Payment, error) {
	payment, err := m.store.UpdatePaymentStatus(ctx, storage.StatusTransition[storage.PaymentStatus]{
		ID:   paymentID,
		From: storage.PaymentPending,
		To:   to,
		At:   m.clock().UTC(),
	})
	if err != nil {
		return storage.Payment{}, translatePaymentError(err, paymentID)
	}
	return payment, nil
}

// sellerOf resolves the seller for downstream payout. The listing row is
// immutable apart from status, so a lookup failure only loses the id.
func (m *Manager) sellerOf(ctx context.Context, listingID int64) string {
	listing, err := m.store.GetListing(ctx, listingID)
	if err != nil {
		logf("escrow: resolve seller for listing %d: %v", listingID, err)
		return ""
	}
	return listing.SellerID
}

// Get returns one payment.
func (m *Manager) Get(ctx context.Context, paymentID int64) (storage.Payment, error) {
	payment, err := m.store.GetPayment(ctx, paymentID)
	if err != nil {
		return storage.Payment{}, translatePaymentError(err, paymentID)
	}
	return payment, nil
}

// Pending yields payments held in escrow in creation order. Each range over
// the sequence starts again from the first payment.
func (m *Manager) Pending(ctx context.Context) iter.Seq2[storage.Payment, error] {
	return func(yield func(storage.Payment, error) bool) {
		var afterID int64
		for {
			page, err := m.store.ListPaymentsByStatus(ctx, storage.PaymentPending, afterID, m.pageSize)
			if err != nil {
				yield(storage.Payment{}, apperrors.Wrap(apperrors.CodeStorageUnavailable, "list pending payments", err))
				return
			}
			for _, payment := range page {
				if !yield(payment, nil) {
					return
				}
			}
			if len(page) < m.pageSize {
				return
			}
			afterID = page[len(page)-1].ID
		}
	}
}

func (m *Manager) publish(ctx context.Context, event events.Event) {
	if err := m.publisher.Publish(ctx, event); err != nil {
		logf("publish %s for payment %d: %v", event.Type, event.PaymentID, err)
	}
}

func translatePaymentError(err error, paymentID int64) error {
	metadata := map[string]string{"PaymentID": strconv.FormatInt(paymentID, 10)}
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return apperrors.WithMetadata(apperrors.CodePaymentNotFound, fmt.Sprintf("payment %d not found", paymentID), metadata)
	case errors.Is(err, storage.ErrStatusConflict):
		return apperrors.WithMetadata(apperrors.CodePaymentInvalidTransition, fmt.Sprintf("payment %d is not pending", paymentID), metadata)
	default:
		return apperrors.WrapWithMetadata(apperrors.CodeStorageUnavailable, "settle payment", metadata, err)
	}
}
