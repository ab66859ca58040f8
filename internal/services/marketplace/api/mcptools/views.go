package mcptools

import (
	"time"

	"github.com/louisbranch/ticketmarket/internal/services/marketplace/escrow"
	"github.com/louisbranch/ticketmarket/internal/services/marketplace/storage"
)

// ListingView is the wire shape of a listing.
type ListingView struct {
	ID          int64  `json:"id" jsonschema:"listing identifier"`
	SellerID    string `json:"seller_id" jsonschema:"seller user identifier"`
	Description string `json:"description" jsonschema:"free-text event description"`
	Price       int64  `json:"price" jsonschema:"ticket price in minor currency units"`
	Status      string `json:"status" jsonschema:"listing status (pending, approved, rejected)"`
	CreatedAt   string `json:"created_at" jsonschema:"RFC3339 timestamp when the listing was submitted"`
	ModeratedAt string `json:"moderated_at,omitempty" jsonschema:"RFC3339 timestamp of the moderation decision"`
}

// PaymentView is the wire shape of an escrowed payment.
type PaymentView struct {
	ID             int64  `json:"id" jsonschema:"payment identifier"`
	ListingID      int64  `json:"listing_id" jsonschema:"listing the ticket was bought for"`
	BuyerID        string `json:"buyer_id" jsonschema:"buyer user identifier"`
	GrossAmount    int64  `json:"gross_amount" jsonschema:"amount charged to the buyer"`
	Commission     int64  `json:"commission" jsonschema:"marketplace commission"`
	Payout         int64  `json:"payout" jsonschema:"amount owed to the seller on release"`
	Status         string `json:"status" jsonschema:"payment status (pending, released, refunded)"`
	ConfirmationID string `json:"confirmation_id,omitempty" jsonschema:"payment provider confirmation identifier"`
	CreatedAt      string `json:"created_at" jsonschema:"RFC3339 timestamp when escrow was opened"`
	SettledAt      string `json:"settled_at,omitempty" jsonschema:"RFC3339 timestamp of release or refund"`
}

// NotificationView is one delivered notification.
type NotificationView struct {
	ID        string `json:"id" jsonschema:"notification identifier"`
	EventType string `json:"event_type" jsonschema:"marketplace event that produced the notification"`
	Text      string `json:"text" jsonschema:"localized message text"`
	CreatedAt string `json:"created_at" jsonschema:"RFC3339 timestamp when the notification was queued"`
}

// TotalsView aggregates payments in one status.
type TotalsView struct {
	Count int64 `json:"count" jsonschema:"number of payments"`
	Gross int64 `json:"gross" jsonschema:"sum of gross amounts"`
}

func listingView(listing storage.Listing) ListingView {
	return ListingView{
		ID:          listing.ID,
		SellerID:    listing.SellerID,
		Description: listing.Description,
		Price:       listing.Price,
		Status:      string(listing.Status),
		CreatedAt:   formatTime(listing.CreatedAt),
		ModeratedAt: formatTime(listing.ModeratedAt),
	}
}

func paymentView(payment storage.Payment) PaymentView {
	return PaymentView{
		ID:             payment.ID,
		ListingID:      payment.ListingID,
		BuyerID:        payment.BuyerID,
		GrossAmount:    payment.GrossAmount,
		Commission:     payment.Commission,
		Payout:         payment.Payout(),
		Status:         string(payment.Status),
		ConfirmationID: payment.ConfirmationID,
		CreatedAt:      formatTime(payment.CreatedAt),
		SettledAt:      formatTime(payment.SettledAt),
	}
}

func paymentViews(payments []storage.Payment) []PaymentView {
	views := make([]PaymentView, 0, len(payments))
	for _, payment := range payments {
		views = append(views, paymentView(payment))
	}
	return views
}

func totalsView(totals escrow.StatusTotals) TotalsView {
	return TotalsView{Count: totals.Count, Gross: totals.Gross}
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(time.RFC3339)
}
