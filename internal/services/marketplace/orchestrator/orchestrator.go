// Package orchestrator turns user commands into guarded calls on the listing
// and escrow managers and renders localized replies.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/louisbranch/ticketmarket/internal/platform/errors"
	"github.com/louisbranch/ticketmarket/internal/platform/grpc/pagination"
	"github.com/louisbranch/ticketmarket/internal/platform/i18n/catalog"
	"github.com/louisbranch/ticketmarket/internal/platform/requestctx"
	"github.com/louisbranch/ticketmarket/internal/services/marketplace/authz"
	"github.com/louisbranch/ticketmarket/internal/services/marketplace/escrow"
	"github.com/louisbranch/ticketmarket/internal/services/marketplace/listing"
	"github.com/louisbranch/ticketmarket/internal/services/marketplace/storage"
	"golang.org/x/text/message"
)

var (
	listingPageSize      = pagination.PageSizeConfig{Default: 10, Max: 50}
	notificationPageSize = pagination.PageSizeConfig{Default: 20, Max: 100}
)

// Deps are the collaborators an Orchestrator routes commands to.
type Deps struct {
	Guard    *authz.Guard
	Listings *listing.Manager
	Escrow   *escrow.Manager
	// Signer verifies moderation references. Nil disables reference redemption.
	Signer   *authz.ActionSigner
	Consents storage.ConsentStore
	Outbox   storage.NotificationStore
	Sessions *Sessions
	Prefs    *Preferences
	Bundle   *catalog.Bundle
}

// Orchestrator is the command surface shared by every transport. The actor
// is read from the request context.
type Orchestrator struct {
	guard    *authz.Guard
	listings *listing.Manager
	escrow   *escrow.Manager
	signer   *authz.ActionSigner
	consents storage.ConsentStore
	outbox   storage.NotificationStore
	sessions *Sessions
	prefs    *Preferences
	bundle   *catalog.Bundle
	clock    func() time.Time
}

// New validates deps and returns an Orchestrator.
func New(deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Guard == nil:
		return nil, errors.New("guard is required")
	case deps.Listings == nil:
		return nil, errors.New("listing manager is required")
	case deps.Escrow == nil:
		return nil, errors.New("escrow manager is required")
	case deps.Consents == nil:
		return nil, errors.New("consent store is required")
	case deps.Outbox == nil:
		return nil, errors.New("notification store is required")
	}
	if deps.Sessions == nil {
		deps.Sessions = NewSessions(0)
	}
	if deps.Prefs == nil {
		deps.Prefs = NewPreferences("")
	}
	if deps.Bundle == nil {
		deps.Bundle = catalog.Default()
	}
	return &Orchestrator{
		guard:    deps.Guard,
		listings: deps.Listings,
		escrow:   deps.Escrow,
		signer:   deps.Signer,
		consents: deps.Consents,
		outbox:   deps.Outbox,
		sessions: deps.Sessions,
		prefs:    deps.Prefs,
		bundle:   deps.Bundle,
		clock:    time.Now,
	}, nil
}

// Reply is a rendered response for the actor.
type Reply struct {
	Text string
}

// ListingReply carries the listing a command acted on.
type ListingReply struct {
	Listing storage.Listing
	Text    string
}

// ListingsPage is one page of approved listings.
type ListingsPage struct {
	Listings      []storage.Listing
	Entries       []string
	NextPageToken string
	Text          string
}

// Invoice describes the charge to request from the payment provider.
type Invoice struct {
	ListingID   int64
	Title       string
	Description string
	Amount      int64
	// Payload is echoed back by the provider on confirmation.
	Payload string
}

// PaymentConfirmation is a successful charge reported by the payment provider.
type PaymentConfirmation struct {
	ListingID      int64
	GrossAmount    int64
	ConfirmationID string
}

// PaymentReply carries the escrowed payment.
type PaymentReply struct {
	Payment storage.Payment
	Text    string
}

// SettlementReply carries the result of a release or refund.
type SettlementReply struct {
	PaymentID   int64
	ListingID   int64
	RecipientID string
	Amount      int64
	Commission  int64
	Text        string
}

// actor resolves the caller and records their locale preference.
func (o *Orchestrator) actor(ctx context.Context) (string, *message.Printer, error) {
	userID := requestctx.UserIDFromContext(ctx)
	if userID == "" {
		return "", nil, apperrors.New(apperrors.CodeActorMissing, "actor id is required")
	}
	locale := requestctx.LocaleFromContext(ctx)
	if locale != "" {
		o.prefs.Remember(userID, o.bundle.Match(locale))
	} else {
		locale = o.prefs.Locale(userID)
	}
	return userID, o.bundle.Printer(locale), nil
}

// Start greets the actor: returning users are welcomed back and everyone
// else is shown the offer terms.
func (o *Orchestrator) Start(ctx context.Context) (Reply, error) {
	userID, p, err := o.actor(ctx)
	if err != nil {
		return Reply{}, err
	}
	if o.guard.HasConsented(ctx, userID) {
		return Reply{Text: p.Sprintf("prompt.welcome_back")}, nil
	}
	return Reply{Text: p.Sprintf("prompt.offer", o.escrow.Rate().Percent())}, nil
}

// AcceptOffer records the actor's consent to the offer terms.
func (o *Orchestrator) AcceptOffer(ctx context.Context) (Reply, error) {
	userID, p, err := o.actor(ctx)
	if err != nil {
		return Reply{}, err
	}
	agreedAt := o.clock().UTC()
	if err := o.consents.PutConsent(ctx, storage.ConsentRecord{UserID: userID, Agreed: true, AgreedAt: agreedAt}); err != nil {
		return Reply{}, apperrors.Wrap(apperrors.CodeStorageUnavailable, "record consent", err)
	}
	return Reply{Text: p.Sprintf("prompt.consent_recorded", agreedAt.Format("2006-01-02 15:04 MST"))}, nil
}

// BeginSell arms the actor's session to treat the next text as a listing.
func (o *Orchestrator) BeginSell(ctx context.Context) (Reply, error) {
	userID, p, err := o.actor(ctx)
	if err != nil {
		return Reply{}, err
	}
	if err := o.guard.RequireConsent(ctx, userID); err != nil {
		return Reply{}, err
	}
	o.sessions.Expect(userID, StepAwaitingListing)
	return Reply{Text: p.Sprintf("prompt.sell")}, nil
}

// HandleText routes free text according to the step the actor's session
// expects. Text without an armed session is rejected.
func (o *Orchestrator) HandleText(ctx context.Context, text string) (ListingReply, error) {
	userID, _, err := o.actor(ctx)
	if err != nil {
		return ListingReply{}, err
	}
	step, ok := o.sessions.Take(userID)
	if !ok {
		return ListingReply{}, apperrors.New(apperrors.CodeSessionUnexpectedInput, "no input is expected")
	}
	switch step {
	case StepAwaitingListing:
		reply, err := o.SubmitListing(ctx, text)
		if apperrors.KindOf(err) == apperrors.KindValidation {
			// Let the seller correct the text without starting over.
			o.sessions.Expect(userID, StepAwaitingListing)
		}
		return reply, err
	default:
		return ListingReply{}, apperrors.New(apperrors.CodeSessionUnexpectedInput, fmt.Sprintf("unhandled step %q", step))
	}
}

// SubmitListing parses the actor's free-text listing and sends it to moderation.
func (o *Orchestrator) SubmitListing(ctx context.Context, text string) (ListingReply, error) {
	userID, p, err := o.actor(ctx)
	if err != nil {
		return ListingReply{}, err
	}
	if err := o.guard.RequireConsent(ctx, userID); err != nil {
		return ListingReply{}, err
	}
	created, err := o.listings.SubmitText(ctx, userID, text)
	if err != nil {
		return ListingReply{}, err
	}
	return ListingReply{
		Listing: created,
		Text:    p.Sprintf("prompt.listing_submitted", formatID(created.ID)),
	}, nil
}

// ModerateListing applies an administrator decision to a pending listing.
func (o *Orchestrator) ModerateListing(ctx context.Context, listingID int64, decision string) (ListingReply, error) {
	userID, p, err := o.actor(ctx)
	if err != nil {
		return ListingReply{}, err
	}
	if err := o.guard.RequireAdmin(userID); err != nil {
		return ListingReply{}, err
	}
	parsed, err := listing.ParseDecision(decision)
	if err != nil {
		return ListingReply{}, err
	}
	return o.moderate(ctx, p, listingID, parsed)
}

// RedeemModerationAction applies the decision named by a signed reference.
// The actor must still be the administrator.
func (o *Orchestrator) RedeemModerationAction(ctx context.Context, ref string) (ListingReply, error) {
	userID, p, err := o.actor(ctx)
	if err != nil {
		return ListingReply{}, err
	}
	if err := o.guard.RequireAdmin(userID); err != nil {
		return ListingReply{}, err
	}
	if o.signer == nil {
		return ListingReply{}, apperrors.New(apperrors.CodeActionReferenceInvalid, "action references are not enabled")
	}
	action, err := o.signer.VerifyModerationReference(ref)
	if err != nil {
		return ListingReply{}, err
	}
	decision, err := listing.ParseDecision(action.Decision)
	if err != nil {
		return ListingReply{}, apperrors.Wrap(apperrors.CodeActionReferenceInvalid, "action reference names an unknown decision", err)
	}
	return o.moderate(ctx, p, action.ListingID, decision)
}

func (o *Orchestrator) moderate(ctx context.Context, p *message.Printer, listingID int64, decision listing.Decision) (ListingReply, error) {
	updated, err := o.listings.Moderate(ctx, listingID, decision)
	if err != nil {
		return ListingReply{}, err
	}
	key := "prompt.listing_rejected"
	if decision == listing.DecisionApprove {
		key = "prompt.listing_approved"
	}
	return ListingReply{Listing: updated, Text: p.Sprintf(key, formatID(updated.ID))}, nil
}

// ListApprovedListings returns one page of listings open for purchase.
func (o *Orchestrator) ListApprovedListings(ctx context.Context, pageSize int, pageToken string) (ListingsPage, error) {
	userID, p, err := o.actor(ctx)
	if err != nil {
		return ListingsPage{}, err
	}
	if err := o.guard.RequireConsent(ctx, userID); err != nil {
		return ListingsPage{}, err
	}
	afterID, err := pagination.DecodeCursor(pageToken)
	if err != nil {
		return ListingsPage{}, apperrors.Wrap(apperrors.CodeFilterInvalid, "invalid page token", err)
	}
	limit := pagination.ClampPageSize(pageSize, listingPageSize)
	listings, err := o.listings.ApprovedPage(ctx, afterID, limit+1)
	if err != nil {
		return ListingsPage{}, err
	}

	var page ListingsPage
	if len(listings) > limit {
		listings = listings[:limit]
		page.NextPageToken = pagination.EncodeCursor(listings[limit-1].ID)
	}
	page.Listings = listings
	if len(listings) == 0 {
		page.Text = p.Sprintf("prompt.no_listings")
		return page, nil
	}
	page.Entries = make([]string, 0, len(listings))
	for _, item := range listings {
		page.Entries = append(page.Entries, p.Sprintf("prompt.listing_entry", formatID(item.ID), item.Description, item.Price))
	}
	page.Text = strings.Join(page.Entries, "\n\n")
	return page, nil
}

// RequestPurchase builds the invoice for buying a ticket to an approved listing.
func (o *Orchestrator) RequestPurchase(ctx context.Context, listingID int64) (Invoice, error) {
	userID, p, err := o.actor(ctx)
	if err != nil {
		return Invoice{}, err
	}
	if err := o.guard.RequireConsent(ctx, userID); err != nil {
		return Invoice{}, err
	}
	item, err := o.listings.Get(ctx, listingID)
	if err != nil && apperrors.KindOf(err) != apperrors.KindNotFound {
		return Invoice{}, err
	}
	if err != nil || item.Status != storage.ListingApproved {
		return Invoice{}, apperrors.WithMetadata(
			apperrors.CodeListingNotAvailable,
			fmt.Sprintf("listing %d is not approved", listingID),
			map[string]string{"ListingID": formatID(listingID)},
		)
	}
	return Invoice{
		ListingID:   item.ID,
		Title:       p.Sprintf("prompt.invoice_title", formatID(item.ID)),
		Description: item.Description,
		Amount:      item.Price,
		Payload:     "listing:" + formatID(item.ID),
	}, nil
}

// ConfirmPayment opens escrow for the actor's confirmed charge. Repeating a
// confirmation returns the payment it already opened.
func (o *Orchestrator) ConfirmPayment(ctx context.Context, confirmation PaymentConfirmation) (PaymentReply, error) {
	userID, p, err := o.actor(ctx)
	if err != nil {
		return PaymentReply{}, err
	}
	if err := o.guard.RequireConsent(ctx, userID); err != nil {
		return PaymentReply{}, err
	}
	payment, err := o.escrow.Open(ctx, escrow.OpenInput{
		ListingID:      confirmation.ListingID,
		BuyerID:        userID,
		GrossAmount:    confirmation.GrossAmount,
		ConfirmationID: confirmation.ConfirmationID,
	})
	if err != nil {
		return PaymentReply{}, err
	}
	return PaymentReply{Payment: payment, Text: p.Sprintf("prompt.payment_held", payment.Commission)}, nil
}

// ReleasePayment pays the seller once the event took place.
func (o *Orchestrator) ReleasePayment(ctx context.Context, paymentID int64) (SettlementReply, error) {
	userID, p, err := o.actor(ctx)
	if err != nil {
		return SettlementReply{}, err
	}
	if err := o.guard.RequireAdmin(userID); err != nil {
		return SettlementReply{}, err
	}
	result, err := o.escrow.Release(ctx, paymentID)
	if err != nil {
		return SettlementReply{}, err
	}
	return SettlementReply{
		PaymentID:   result.PaymentID,
		ListingID:   result.ListingID,
		RecipientID: result.SellerID,
		Amount:      result.Payout,
		Commission:  result.Commission,
		Text:        p.Sprintf("prompt.payment_released", formatID(result.PaymentID), result.Payout),
	}, nil
}

// RefundPayment returns the full amount to the buyer.
func (o *Orchestrator) RefundPayment(ctx context.Context, paymentID int64) (SettlementReply, error) {
	userID, p, err := o.actor(ctx)
	if err != nil {
		return SettlementReply{}, err
	}
	if err := o.guard.RequireAdmin(userID); err != nil {
		return SettlementReply{}, err
	}
	result, err := o.escrow.Refund(ctx, paymentID)
	if err != nil {
		return SettlementReply{}, err
	}
	return SettlementReply{
		PaymentID:   result.PaymentID,
		ListingID:   result.ListingID,
		RecipientID: result.BuyerID,
		Amount:      result.Amount,
		Text:        p.Sprintf("prompt.payment_refunded", formatID(result.PaymentID)),
	}, nil
}

// PendingPayments lists every payment held in escrow.
func (o *Orchestrator) PendingPayments(ctx context.Context) ([]storage.Payment, error) {
	userID, _, err := o.actor(ctx)
	if err != nil {
		return nil, err
	}
	if err := o.guard.RequireAdmin(userID); err != nil {
		return nil, err
	}
	var payments []storage.Payment
	for payment, err := range o.escrow.Pending(ctx) {
		if err != nil {
			return nil, err
		}
		payments = append(payments, payment)
	}
	return payments, nil
}

// SearchPayments filters the payment ledger.
func (o *Orchestrator) SearchPayments(ctx context.Context, filter string, pageSize int, pageToken string) (escrow.SearchPage, error) {
	userID, _, err := o.actor(ctx)
	if err != nil {
		return escrow.SearchPage{}, err
	}
	if err := o.guard.RequireAdmin(userID); err != nil {
		return escrow.SearchPage{}, err
	}
	return o.escrow.Search(ctx, filter, pageSize, pageToken)
}

// EscrowSummary reconciles escrow balances.
func (o *Orchestrator) EscrowSummary(ctx context.Context) (escrow.Summary, error) {
	userID, _, err := o.actor(ctx)
	if err != nil {
		return escrow.Summary{}, err
	}
	if err := o.guard.RequireAdmin(userID); err != nil {
		return escrow.Summary{}, err
	}
	return o.escrow.Summary(ctx)
}

// PullNotifications returns and marks delivered the actor's pending notifications.
func (o *Orchestrator) PullNotifications(ctx context.Context, limit int) ([]storage.Notification, error) {
	userID, _, err := o.actor(ctx)
	if err != nil {
		return nil, err
	}
	pending, err := o.outbox.ListUndelivered(ctx, userID, pagination.ClampPageSize(limit, notificationPageSize))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageUnavailable, "list notifications", err)
	}
	if len(pending) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(pending))
	for _, item := range pending {
		ids = append(ids, item.ID)
	}
	if err := o.outbox.MarkDelivered(ctx, ids, o.clock().UTC()); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageUnavailable, "mark notifications delivered", err)
	}
	return pending, nil
}

// Locale returns the locale replies to the actor in ctx are rendered in.
func (o *Orchestrator) Locale(ctx context.Context) string {
	if locale := requestctx.LocaleFromContext(ctx); locale != "" {
		return o.bundle.Match(locale)
	}
	return o.bundle.Match(o.prefs.Locale(requestctx.UserIDFromContext(ctx)))
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
