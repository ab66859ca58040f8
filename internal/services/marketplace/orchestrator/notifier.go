package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/louisbranch/ticketmarket/internal/platform/i18n/catalog"
	"github.com/louisbranch/ticketmarket/internal/services/marketplace/events"
	"github.com/louisbranch/ticketmarket/internal/services/marketplace/storage"
)

// Preferences remembers the last locale each user asked for.
type Preferences struct {
	defaultLocale string
	locales       sync.Map
}

// NewPreferences returns preferences falling back to defaultLocale.
func NewPreferences(defaultLocale string) *Preferences {
	defaultLocale = strings.TrimSpace(defaultLocale)
	if defaultLocale == "" {
		defaultLocale = catalog.BaseLocale
	}
	return &Preferences{defaultLocale: defaultLocale}
}

// Remember stores locale for userID. Blank values are ignored.
func (p *Preferences) Remember(userID, locale string) {
	userID = strings.TrimSpace(userID)
	locale = strings.TrimSpace(locale)
	if userID == "" || locale == "" {
		return
	}
	p.locales.Store(userID, locale)
}

// Locale returns the remembered locale for userID or the default.
func (p *Preferences) Locale(userID string) string {
	if value, ok := p.locales.Load(strings.TrimSpace(userID)); ok {
		return value.(string)
	}
	return p.defaultLocale
}

// Default returns the fallback locale.
func (p *Preferences) Default() string {
	return p.defaultLocale
}

// Notifier renders marketplace events into per-recipient localized messages
// and appends them to the notification outbox.
type Notifier struct {
	outbox  storage.NotificationStore
	adminID string
	bundle  *catalog.Bundle
	prefs   *Preferences
	clock   func() time.Time
}

// NewNotifier creates a notifier delivering administrator messages to adminID.
func NewNotifier(outbox storage.NotificationStore, adminID string, bundle *catalog.Bundle, prefs *Preferences) *Notifier {
	if bundle == nil {
		bundle = catalog.Default()
	}
	if prefs == nil {
		prefs = NewPreferences("")
	}
	return &Notifier{
		outbox:  outbox,
		adminID: strings.TrimSpace(adminID),
		bundle:  bundle,
		prefs:   prefs,
		clock:   time.Now,
	}
}

type notice struct {
	recipient string
	key       string
	args      []any
}

// Publish implements events.Publisher.
func (n *Notifier) Publish(ctx context.Context, event events.Event) error {
	notices := n.route(event)
	if len(notices) == 0 {
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event.Type, err)
	}

	var errs []error
	for _, item := range notices {
		if item.recipient == "" {
			continue
		}
		text := n.bundle.Printer(n.prefs.Locale(item.recipient)).Sprintf(item.key, item.args...)
		err := n.outbox.AppendNotification(ctx, storage.Notification{
			ID:          uuid.NewString(),
			RecipientID: item.recipient,
			EventType:   string(event.Type),
			Text:        text,
			Payload:     payload,
			CreatedAt:   n.clock().UTC(),
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("notify %s of %s: %w", item.recipient, event.Type, err))
		}
	}
	return errors.Join(errs...)
}

func (n *Notifier) route(event events.Event) []notice {
	listingID := strconv.FormatInt(event.ListingID, 10)
	paymentID := strconv.FormatInt(event.PaymentID, 10)

	switch event.Type {
	case events.ListingSubmittedForModeration:
		return []notice{{
			recipient: n.adminID,
			key:       "notify.listing_pending",
			args:      []any{listingID, event.Description, event.Price, event.ApproveRef, event.RejectRef},
		}}
	case events.ListingModerated:
		key := "notify.listing_rejected"
		if event.Decision == "approve" {
			key = "notify.listing_approved"
		}
		return []notice{{recipient: event.SellerID, key: key, args: []any{listingID}}}
	case events.EscrowOpened:
		return []notice{
			{
				recipient: n.adminID,
				key:       "notify.escrow_opened_admin",
				args:      []any{paymentID, listingID, event.GrossAmount, event.Commission},
			},
			{recipient: event.SellerID, key: "notify.escrow_opened_seller", args: []any{listingID}},
		}
	case events.PaymentReleased:
		return []notice{
			{recipient: event.BuyerID, key: "notify.payment_released_buyer", args: []any{paymentID}},
			{recipient: event.SellerID, key: "notify.payment_released_seller", args: []any{paymentID, event.Payout}},
		}
	case events.PaymentRefunded:
		return []notice{
			{recipient: event.BuyerID, key: "notify.payment_refunded_buyer", args: []any{paymentID}},
			{recipient: event.SellerID, key: "notify.payment_refunded_seller", args: []any{paymentID, listingID}},
		}
	default:
		return nil
	}
}
