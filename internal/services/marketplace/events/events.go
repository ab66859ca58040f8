// Package events defines the outbound marketplace events and their publishers.
package events

import (
	"context"
	"sync"
	"time"
)

// Type names one outbound event.
type Type string

const (
	ListingSubmittedForModeration Type = "listing.submitted_for_moderation"
	ListingModerated              Type = "listing.moderated"
	EscrowOpened                  Type = "escrow.opened"
	PaymentReleased               Type = "payment.released"
	PaymentRefunded               Type = "payment.refunded"
)

// Event carries the entity ids and amounts for one state change. Fields not
// relevant to the event type are zero.
type Event struct {
	Type       Type      `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`

	ListingID   int64  `json:"listing_id,omitempty"`
	SellerID    string `json:"seller_id,omitempty"`
	Description string `json:"description,omitempty"`
	Price       int64  `json:"price,omitempty"`
	// Decision is "approve" or "reject" on listing.moderated.
	Decision string `json:"decision,omitempty"`
	// ApproveRef and RejectRef are signed action references an administrator
	// can redeem instead of naming the listing and decision.
	ApproveRef string `json:"approve_ref,omitempty"`
	RejectRef  string `json:"reject_ref,omitempty"`

	PaymentID   int64  `json:"payment_id,omitempty"`
	BuyerID     string `json:"buyer_id,omitempty"`
	GrossAmount int64  `json:"gross_amount,omitempty"`
	Commission  int64  `json:"commission,omitempty"`
	Payout      int64  `json:"payout,omitempty"`
}

// Publisher receives events after the state change is durable.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, event Event) error

// Publish implements Publisher.
func (fn PublisherFunc) Publish(ctx context.Context, event Event) error {
	return fn(ctx, event)
}

// Discard drops every event.
var Discard Publisher = PublisherFunc(func(context.Context, Event) error { return nil })

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish implements Publisher.
func (r *Recorder) Publish(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Events returns a copy of the recorded events in publish order.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns recorded events with the given type.
func (r *Recorder) OfType(eventType Type) []Event {
	var out []Event
	for _, event := range r.Events() {
		if event.Type == eventType {
			out = append(out, event)
		}
	}
	return out
}

// Fanout publishes to every publisher in order and returns the first error.
// Later publishers still run after an earlier failure.
type Fanout []Publisher

// Publish implements Publisher.
func (f Fanout) Publish(ctx context.Context, event Event) error {
	var first error
	for _, publisher := range f {
		if publisher == nil {
			continue
		}
		if err := publisher.Publish(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}
