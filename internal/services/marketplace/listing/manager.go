// Package listing owns the listing lifecycle: submission, moderation and
// queries over approved offerings.
package listing

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log"
	"strconv"
	"strings"
	"time"
	"unicode"

	apperrors "github.com/louisbranch/ticketmarket/internal/platform/errors"
	platformotel "github.com/louisbranch/ticketmarket/internal/platform/otel"
	"github.com/louisbranch/ticketmarket/internal/services/marketplace/events"
	"github.com/louisbranch/ticketmarket/internal/services/marketplace/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName      = "github.com/louisbranch/ticketmarket/internal/services/marketplace/listing"
	defaultPageSize = 50
)

// logf reports infrastructure faults that do not fail the operation.
var logf = log.Printf

// Decision is an administrator's moderation outcome.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// ParseDecision validates a moderation decision.
func ParseDecision(value string) (Decision, error) {
	switch Decision(strings.ToLower(strings.TrimSpace(value))) {
	case DecisionApprove:
		return DecisionApprove, nil
	case DecisionReject:
		return DecisionReject, nil
	default:
		return "", apperrors.WithMetadata(
			apperrors.CodeListingDecisionInvalid,
			fmt.Sprintf("unknown moderation decision %q", value),
			map[string]string{"Decision": value},
		)
	}
}

// Status is the listing status a decision moves to.
func (d Decision) Status() storage.ListingStatus {
	if d == DecisionApprove {
		return storage.ListingApproved
	}
	return storage.ListingRejected
}

// ActionReferencer issues opaque references that let an administrator act on
// a moderation request without restating the listing and decision.
type ActionReferencer interface {
	ModerationReference(listingID int64, decision string) (string, error)
}

// SubmitInput is a seller's structured listing submission.
type SubmitInput struct {
	SellerID    string
	Description string
	Price       int64
}

// Manager creates, moderates and queries listings.
type Manager struct {
	store     storage.ListingStore
	publisher events.Publisher
	refs      ActionReferencer
	clock     func() time.Time
	tracer    trace.Tracer
	pageSize  int
}

// Option configures a Manager.
type Option func(*Manager)

// WithPublisher sets where listing events are published.
func WithPublisher(publisher events.Publisher) Option {
	return func(m *Manager) {
		if publisher != nil {
			m.publisher = publisher
		}
	}
}

// WithActionReferencer attaches approve/reject references to moderation requests.
func WithActionReferencer(refs ActionReferencer) Option {
	return func(m *Manager) {
		m.refs = refs
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

// NewManager creates a listing manager backed by store.
func NewManager(store storage.ListingStore, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		publisher: events.Discard,
		clock:     time.Now,
		tracer:    otel.Tracer(tracerName),
		pageSize:  defaultPageSize,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ParseSubmission splits free text into a description and the trailing price
// token. The price must be a positive base-10 integer.
func ParseSubmission(text string) (string, int64, error) {
	trimmed := strings.TrimSpace(text)
	cut := strings.LastIndexFunc(trimmed, unicode.IsSpace)
	if cut < 0 {
		if _, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
			return "", 0, apperrors.New(apperrors.CodeListingDescriptionEmpty, "listing description is empty")
		}
		return "", 0, apperrors.New(apperrors.CodeListingPriceMissing, "listing text has no trailing price token")
	}

	description := strings.TrimSpace(trimmed[:cut])
	token := trimmed[cut+1:]
	price, err := strconv.ParseInt(token, 10, 64)
	if err != nil {
		var numErr *strconv.NumError
		if errors.As(err, &numErr) && errors.Is(numErr.Err, strconv.ErrRange) {
			return "", 0, priceInvalid(token)
		}
		return "", 0, apperrors.WithMetadata(
			apperrors.CodeListingPriceMissing,
			fmt.Sprintf("trailing token %q is not a price", token),
			map[string]string{"Price": token},
		)
	}
	if price <= 0 {
		return "", 0, priceInvalid(token)
	}
	if description == "" {
		return "", 0, apperrors.New(apperrors.CodeListingDescriptionEmpty, "listing description is empty")
	}
	return description, price, nil
}

func priceInvalid(token string) error {
	return apperrors.WithMetadata(
		apperrors.CodeListingPriceInvalid,
		fmt.Sprintf("price %q must be a positive integer", token),
		map[string]string{"Price": token},
	)
}

// SubmitText parses a seller's free-text submission and submits it.
func (m *Manager) SubmitText(ctx context.Context, sellerID string, text string) (storage.Listing, error) {
	description, price, err := ParseSubmission(text)
	if err != nil {
		return storage.Listing{}, err
	}
	return m.Submit(ctx, SubmitInput{SellerID: sellerID, Description: description, Price: price})
}

// Submit validates and stores a pending listing, then publishes a moderation request.
func (m *Manager) Submit(ctx context.Context, input SubmitInput) (_ storage.Listing, err error) {
	ctx, span := m.tracer.Start(ctx, "listing.Submit")
	defer func() { platformotel.EndSpan(span, err) }()

	sellerID := strings.TrimSpace(input.SellerID)
	description := strings.TrimSpace(input.Description)
	if sellerID == "" {
		return storage.Listing{}, apperrors.New(apperrors.CodeListingSellerMissing, "seller id is required")
	}
	if description == "" {
		return storage.Listing{}, apperrors.New(apperrors.CodeListingDescriptionEmpty, "listing description is empty")
	}
	if input.Price <= 0 {
		return storage.Listing{}, priceInvalid(strconv.FormatInt(input.Price, 10))
	}

	created, err := m.store.InsertListing(ctx, storage.NewListing{
		SellerID:    sellerID,
		Description: description,
		Price:       input.Price,
		CreatedAt:   m.clock().UTC(),
	})
	if err != nil {
		return storage.Listing{}, apperrors.Wrap(apperrors.CodeStorageUnavailable, "insert listing", err)
	}
	span.SetAttributes(attribute.Int64("listing.id", created.ID))

	event := events.Event{
		Type:        events.ListingSubmittedForModeration,
		OccurredAt:  created.CreatedAt,
		ListingID:   created.ID,
		SellerID:    created.SellerID,
		Description: created.Description,
		Price:       created.Price,
	}
	if m.refs != nil {
		event.ApproveRef, event.RejectRef = m.references(created.ID)
	}
	m.publish(ctx, event)
	return created, nil
}

func (m *Manager) references(listingID int64) (string, string) {
	approve, err := m.refs.ModerationReference(listingID, string(DecisionApprove))
	if err != nil {
		logf("listing %d: issue approve reference: %v", listingID, err)
		return "", ""
	}
	reject, err := m.refs.ModerationReference(listingID, string(DecisionReject))
	if err != nil {
		logf("listing %d: issue reject reference: %v", listingID, err)
		return "", ""
	}
	return approve, reject
}

// Moderate moves a pending listing to approved or rejected. A listing that
// was already moderated fails with an invalid transition.
func (m *Manager) Moderate(ctx context.Context, id int64, decision Decision) (_ storage.Listing, err error) {
	ctx, span := m.tracer.Start(ctx, "listing.Moderate", trace.WithAttributes(
		attribute.Int64("listing.id", id),
		attribute.String("listing.decision", string(decision)),
	))
	defer func() { platformotel.EndSpan(span, err) }()

	if _, err := ParseDecision(string(decision)); err != nil {
		return storage.Listing{}, err
	}

	updated, err := m.store.UpdateListingStatus(ctx, storage.StatusTransition[storage.ListingStatus]{
		ID:   id,
		From: storage.ListingPending,
		To:   decision.Status(),
		At:   m.clock().UTC(),
	})
	if err != nil {
		return storage.Listing{}, translateStoreError(err, id, "moderate listing")
	}

	m.publish(ctx, events.Event{
		Type:        events.ListingModerated,
		OccurredAt:  updated.ModeratedAt,
		ListingID:   updated.ID,
		SellerID:    updated.SellerID,
		Description: updated.Description,
		Price:       updated.Price,
		Decision:    string(decision),
	})
	return updated, nil
}

// Get returns one listing.
func (m *Manager) Get(ctx context.Context, id int64) (storage.Listing, error) {
	listing, err := m.store.GetListing(ctx, id)
	if err != nil {
		return storage.Listing{}, translateStoreError(err, id, "get listing")
	}
	return listing, nil
}

// ListApproved yields approved listings in insertion order. Each range over
// the sequence starts again from the first listing.
func (m *Manager) ListApproved(ctx context.Context) iter.Seq2[storage.Listing, error] {
	return m.listByStatus(ctx, storage.ListingApproved)
}

// ListPending yields listings awaiting moderation in insertion order.
func (m *Manager) ListPending(ctx context.Context) iter.Seq2[storage.Listing, error] {
	return m.listByStatus(ctx, storage.ListingPending)
}

// ApprovedPage returns up to limit approved listings with id greater than afterID.
func (m *Manager) ApprovedPage(ctx context.Context, afterID int64, limit int) ([]storage.Listing, error) {
	listings, err := m.store.ListListingsByStatus(ctx, storage.ListingApproved, afterID, limit)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageUnavailable, "list approved listings", err)
	}
	return listings, nil
}

func (m *Manager) listByStatus(ctx context.Context, status storage.ListingStatus) iter.Seq2[storage.Listing, error] {
	return func(yield func(storage.Listing, error) bool) {
		var afterID int64
		for {
			page, err := m.store.ListListingsByStatus(ctx, status, afterID, m.pageSize)
			if err != nil {
				yield(storage.Listing{}, apperrors.Wrap(apperrors.CodeStorageUnavailable, "list listings", err))
				return
			}
			for _, listing := range page {
				if !yield(listing, nil) {
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
		logf("publish %s for listing %d: %v", event.Type, event.ListingID, err)
	}
}

func translateStoreError(err error, id int64, op string) error {
	metadata := map[string]string{"ListingID": strconv.FormatInt(id, 10)}
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return apperrors.WithMetadata(apperrors.CodeListingNotFound, fmt.Sprintf("listing %d not found", id), metadata)
	case errors.Is(err, storage.ErrStatusConflict):
		return apperrors.WithMetadata(apperrors.CodeListingInvalidTransition, fmt.Sprintf("listing %d is not pending", id), metadata)
	default:
		return apperrors.WrapWithMetadata(apperrors.CodeStorageUnavailable, op, metadata, err)
	}
}
