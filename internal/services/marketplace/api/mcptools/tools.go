// Package mcptools exposes marketplace commands as MCP tools.
package mcptools

import (
	"context"
	"fmt"
	"log"

	apperrors "github.com/louisbranch/ticketmarket/internal/platform/errors"
	errorsi18n "github.com/louisbranch/ticketmarket/internal/platform/errors/i18n"
	"github.com/louisbranch/ticketmarket/internal/platform/requestctx"
	"github.com/louisbranch/ticketmarket/internal/services/marketplace/orchestrator"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// CallerInput identifies who is calling a tool.
type CallerInput struct {
	ActorID string `json:"actor_id" jsonschema:"identifier of the calling user"`
	Locale  string `json:"locale,omitempty" jsonschema:"preferred reply locale such as en-US or ru-RU"`
}

func (in CallerInput) caller() (string, string) { return in.ActorID, in.Locale }

// TextInput carries free text from the caller.
type TextInput struct {
	ActorID string `json:"actor_id" jsonschema:"identifier of the calling user"`
	Locale  string `json:"locale,omitempty" jsonschema:"preferred reply locale such as en-US or ru-RU"`
	Text    string `json:"text" jsonschema:"free text; listings end with the price, e.g. 'Hall X, 50 guests, 2000'"`
}

func (in TextInput) caller() (string, string) { return in.ActorID, in.Locale }

// ModerateInput is an administrator moderation decision.
type ModerateInput struct {
	ActorID   string `json:"actor_id" jsonschema:"identifier of the calling user"`
	Locale    string `json:"locale,omitempty" jsonschema:"preferred reply locale such as en-US or ru-RU"`
	ListingID int64  `json:"listing_id" jsonschema:"listing to moderate"`
	Decision  string `json:"decision" jsonschema:"approve or reject"`
}

func (in ModerateInput) caller() (string, string) { return in.ActorID, in.Locale }

// ReferenceInput redeems a signed moderation reference.
type ReferenceInput struct {
	ActorID   string `json:"actor_id" jsonschema:"identifier of the calling user"`
	Locale    string `json:"locale,omitempty" jsonschema:"preferred reply locale such as en-US or ru-RU"`
	Reference string `json:"reference" jsonschema:"approve or reject reference from a moderation notification"`
}

func (in ReferenceInput) caller() (string, string) { return in.ActorID, in.Locale }

// PageInput requests one page of approved listings.
type PageInput struct {
	ActorID   string `json:"actor_id" jsonschema:"identifier of the calling user"`
	Locale    string `json:"locale,omitempty" jsonschema:"preferred reply locale such as en-US or ru-RU"`
	PageSize  int    `json:"page_size,omitempty" jsonschema:"maximum listings to return"`
	PageToken string `json:"page_token,omitempty" jsonschema:"token from a previous page"`
}

func (in PageInput) caller() (string, string) { return in.ActorID, in.Locale }

// ListingRefInput names a listing.
type ListingRefInput struct {
	ActorID   string `json:"actor_id" jsonschema:"identifier of the calling user"`
	Locale    string `json:"locale,omitempty" jsonschema:"preferred reply locale such as en-US or ru-RU"`
	ListingID int64  `json:"listing_id" jsonschema:"listing identifier"`
}

func (in ListingRefInput) caller() (string, string) { return in.ActorID, in.Locale }

// ConfirmInput reports a successful charge from the payment provider.
type ConfirmInput struct {
	ActorID        string `json:"actor_id" jsonschema:"identifier of the paying buyer"`
	Locale         string `json:"locale,omitempty" jsonschema:"preferred reply locale such as en-US or ru-RU"`
	ListingID      int64  `json:"listing_id" jsonschema:"listing the ticket was bought for"`
	GrossAmount    int64  `json:"gross_amount" jsonschema:"amount charged in minor currency units"`
	ConfirmationID string `json:"confirmation_id,omitempty" jsonschema:"provider charge identifier; repeats return the same payment"`
}

func (in ConfirmInput) caller() (string, string) { return in.ActorID, in.Locale }

// PaymentRefInput names a payment.
type PaymentRefInput struct {
	ActorID   string `json:"actor_id" jsonschema:"identifier of the calling user"`
	Locale    string `json:"locale,omitempty" jsonschema:"preferred reply locale such as en-US or ru-RU"`
	PaymentID int64  `json:"payment_id" jsonschema:"payment identifier"`
}

func (in PaymentRefInput) caller() (string, string) { return in.ActorID, in.Locale }

// SearchInput filters the payment ledger.
type SearchInput struct {
	ActorID   string `json:"actor_id" jsonschema:"identifier of the calling user"`
	Locale    string `json:"locale,omitempty" jsonschema:"preferred reply locale such as en-US or ru-RU"`
	Filter    string `json:"filter,omitempty" jsonschema:"AIP-160 filter over listing_id, buyer_id, status, gross_amount, commission, created_at"`
	PageSize  int    `json:"page_size,omitempty" jsonschema:"maximum payments to return"`
	PageToken string `json:"page_token,omitempty" jsonschema:"token from a previous page"`
}

func (in SearchInput) caller() (string, string) { return in.ActorID, in.Locale }

// PullInput requests queued notifications.
type PullInput struct {
	ActorID string `json:"actor_id" jsonschema:"identifier of the calling user"`
	Locale  string `json:"locale,omitempty" jsonschema:"preferred reply locale such as en-US or ru-RU"`
	Limit   int    `json:"limit,omitempty" jsonschema:"maximum notifications to return"`
}

func (in PullInput) caller() (string, string) { return in.ActorID, in.Locale }

// ReplyResult is a plain text reply.
type ReplyResult struct {
	Text string `json:"text" jsonschema:"localized reply"`
}

// ListingResult is a listing with a localized reply.
type ListingResult struct {
	Listing ListingView `json:"listing" jsonschema:"listing the command acted on"`
	Text    string      `json:"text" jsonschema:"localized reply"`
}

// ListingsResult is one page of approved listings.
type ListingsResult struct {
	Listings      []ListingView `json:"listings" jsonschema:"approved listings"`
	NextPageToken string        `json:"next_page_token,omitempty" jsonschema:"token for the next page"`
	Text          string        `json:"text" jsonschema:"localized listing overview"`
}

// InvoiceResult describes the charge to request from the payment provider.
type InvoiceResult struct {
	ListingID   int64  `json:"listing_id" jsonschema:"listing being bought"`
	Title       string `json:"title" jsonschema:"localized invoice title"`
	Description string `json:"description" jsonschema:"event description"`
	Amount      int64  `json:"amount" jsonschema:"amount to charge"`
	Payload     string `json:"payload" jsonschema:"opaque payload the provider echoes on confirmation"`
}

// PaymentResult is an escrowed payment with a localized reply.
type PaymentResult struct {
	Payment PaymentView `json:"payment" jsonschema:"payment held in escrow"`
	Text    string      `json:"text" jsonschema:"localized reply"`
}

// SettlementResult reports a release or refund.
type SettlementResult struct {
	PaymentID   int64  `json:"payment_id" jsonschema:"settled payment"`
	ListingID   int64  `json:"listing_id" jsonschema:"listing of the payment"`
	RecipientID string `json:"recipient_id" jsonschema:"seller on release, buyer on refund"`
	Amount      int64  `json:"amount" jsonschema:"payout on release, full amount on refund"`
	Commission  int64  `json:"commission" jsonschema:"commission retained on release"`
	Text        string `json:"text" jsonschema:"localized reply"`
}

// PaymentsResult lists payments.
type PaymentsResult struct {
	Payments      []PaymentView `json:"payments" jsonschema:"matching payments"`
	NextPageToken string        `json:"next_page_token,omitempty" jsonschema:"token for the next page"`
}

// SummaryResult reconciles escrow balances.
type SummaryResult struct {
	Held             TotalsView `json:"held" jsonschema:"payments still in escrow"`
	Released         TotalsView `json:"released" jsonschema:"payments released to sellers"`
	Refunded         TotalsView `json:"refunded" jsonschema:"payments refunded to buyers"`
	CommissionEarned int64      `json:"commission_earned" jsonschema:"commission retained on released payments"`
	PayoutsOwed      int64      `json:"payouts_owed" jsonschema:"amount owed to sellers for released payments"`
}

// NotificationsResult lists notifications marked delivered by this call.
type NotificationsResult struct {
	Notifications []NotificationView `json:"notifications" jsonschema:"notifications in queue order"`
}

type callerInput interface {
	caller() (actorID string, locale string)
}

// handlerFor binds the caller identity into the context and renders domain
// failures as localized tool errors.
func handlerFor[I callerInput, O any](orch *orchestrator.Orchestrator, run func(context.Context, I) (O, error)) mcp.ToolHandlerFor[I, O] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input I) (*mcp.CallToolResult, O, error) {
		actorID, locale := input.caller()
		ctx = requestctx.WithUserID(ctx, actorID)
		if locale != "" {
			ctx = requestctx.WithLocale(ctx, locale)
		}
		out, err := run(ctx, input)
		if err != nil {
			var zero O
			return nil, zero, toolError(orch.Locale(ctx), err)
		}
		return nil, out, nil
	}
}

func toolError(locale string, err error) error {
	code := apperrors.CodeOf(err)
	if code == apperrors.CodeUnknown || code.Kind() == apperrors.KindUnavailable {
		log.Printf("marketplace tool failed: %v", err)
	}
	return fmt.Errorf("%s: %s", code, errorsi18n.Localize(err, locale))
}

// Register adds every marketplace tool to server.
func Register(server *mcp.Server, orch *orchestrator.Orchestrator) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "start",
		Description: "Greets the caller. Shows the offer terms until the caller accepts them.",
	}, handlerFor(orch, func(ctx context.Context, _ CallerInput) (ReplyResult, error) {
		reply, err := orch.Start(ctx)
		return ReplyResult{Text: reply.Text}, err
	}))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "accept_offer",
		Description: "Records that the caller accepted the offer terms.",
	}, handlerFor(orch, func(ctx context.Context, _ CallerInput) (ReplyResult, error) {
		reply, err := orch.AcceptOffer(ctx)
		return ReplyResult{Text: reply.Text}, err
	}))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "sell_begin",
		Description: "Starts a listing submission; the caller's next text_input is treated as the listing.",
	}, handlerFor(orch, func(ctx context.Context, _ CallerInput) (ReplyResult, error) {
		reply, err := orch.BeginSell(ctx)
		return ReplyResult{Text: reply.Text}, err
	}))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "text_input",
		Description: "Delivers free text to the step the caller's conversation is waiting for.",
	}, handlerFor(orch, func(ctx context.Context, input TextInput) (ListingResult, error) {
		return listingResult(orch.HandleText(ctx, input.Text))
	}))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "listing_submit",
		Description: "Submits a listing for moderation. The text must end with a positive integer price.",
	}, handlerFor(orch, func(ctx context.Context, input TextInput) (ListingResult, error) {
		return listingResult(orch.SubmitListing(ctx, input.Text))
	}))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "listing_moderate",
		Description: "Approves or rejects a pending listing. Administrator only.",
	}, handlerFor(orch, func(ctx context.Context, input ModerateInput) (ListingResult, error) {
		return listingResult(orch.ModerateListing(ctx, input.ListingID, input.Decision))
	}))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "listing_moderate_reference",
		Description: "Applies the decision named by a moderation reference. Administrator only.",
	}, handlerFor(orch, func(ctx context.Context, input ReferenceInput) (ListingResult, error) {
		return listingResult(orch.RedeemModerationAction(ctx, input.Reference))
	}))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "listings_approved",
		Description: "Lists approved events open for purchase.",
	}, handlerFor(orch, func(ctx context.Context, input PageInput) (ListingsResult, error) {
		page, err := orch.ListApprovedListings(ctx, input.PageSize, input.PageToken)
		if err != nil {
			return ListingsResult{}, err
		}
		result := ListingsResult{
			Listings:      make([]ListingView, 0, len(page.Listings)),
			NextPageToken: page.NextPageToken,
			Text:          page.Text,
		}
		for _, item := range page.Listings {
			result.Listings = append(result.Listings, listingView(item))
		}
		return result, nil
	}))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "purchase_request",
		Description: "Builds the invoice for buying a ticket to an approved listing.",
	}, handlerFor(orch, func(ctx context.Context, input ListingRefInput) (InvoiceResult, error) {
		invoice, err := orch.RequestPurchase(ctx, input.ListingID)
		if err != nil {
			return InvoiceResult{}, err
		}
		return InvoiceResult{
			ListingID:   invoice.ListingID,
			Title:       invoice.Title,
			Description: invoice.Description,
			Amount:      invoice.Amount,
			Payload:     invoice.Payload,
		}, nil
	}))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "payment_confirm",
		Description: "Opens escrow for a confirmed charge. Repeating a confirmation id returns the same payment.",
	}, handlerFor(orch, func(ctx context.Context, input ConfirmInput) (PaymentResult, error) {
		reply, err := orch.ConfirmPayment(ctx, orchestrator.PaymentConfirmation{
			ListingID:      input.ListingID,
			GrossAmount:    input.GrossAmount,
			ConfirmationID: input.ConfirmationID,
		})
		if err != nil {
			return PaymentResult{}, err
		}
		return PaymentResult{Payment: paymentView(reply.Payment), Text: reply.Text}, nil
	}))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "payment_release",
		Description: "Releases an escrowed payment to the seller after the event. Administrator only.",
	}, handlerFor(orch, func(ctx context.Context, input PaymentRefInput) (SettlementResult, error) {
		return settlementResult(orch.ReleasePayment(ctx, input.PaymentID))
	}))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "payment_refund",
		Description: "Refunds an escrowed payment to the buyer. Administrator only.",
	}, handlerFor(orch, func(ctx context.Context, input PaymentRefInput) (SettlementResult, error) {
		return settlementResult(orch.RefundPayment(ctx, input.PaymentID))
	}))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "payments_pending",
		Description: "Lists payments held in escrow. Administrator only.",
	}, handlerFor(orch, func(ctx context.Context, _ CallerInput) (PaymentsResult, error) {
		payments, err := orch.PendingPayments(ctx)
		if err != nil {
			return PaymentsResult{}, err
		}
		return PaymentsResult{Payments: paymentViews(payments)}, nil
	}))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "payments_search",
		Description: "Searches the payment ledger with an AIP-160 filter. Administrator only.",
	}, handlerFor(orch, func(ctx context.Context, input SearchInput) (PaymentsResult, error) {
		page, err := orch.SearchPayments(ctx, input.Filter, input.PageSize, input.PageToken)
		if err != nil {
			return PaymentsResult{}, err
		}
		return PaymentsResult{Payments: paymentViews(page.Payments), NextPageToken: page.NextPageToken}, nil
	}))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "escrow_summary",
		Description: "Totals held, released and refunded payments. Administrator only.",
	}, handlerFor(orch, func(ctx context.Context, _ CallerInput) (SummaryResult, error) {
		summary, err := orch.EscrowSummary(ctx)
		if err != nil {
			return SummaryResult{}, err
		}
		return SummaryResult{
			Held:             totalsView(summary.Held),
			Released:         totalsView(summary.Released),
			Refunded:         totalsView(summary.Refunded),
			CommissionEarned: summary.CommissionEarned,
			PayoutsOwed:      summary.PayoutsOwed,
		}, nil
	}))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "notifications_pull",
		Description: "Returns the caller's queued notifications and marks them delivered.",
	}, handlerFor(orch, func(ctx context.Context, input PullInput) (NotificationsResult, error) {
		items, err := orch.PullNotifications(ctx, input.Limit)
		if err != nil {
			return NotificationsResult{}, err
		}
		result := NotificationsResult{Notifications: make([]NotificationView, 0, len(items))}
		for _, item := range items {
			result.Notifications = append(result.Notifications, NotificationView{
				ID:        item.ID,
				EventType: item.EventType,
				Text:      item.Text,
				CreatedAt: formatTime(item.CreatedAt),
			})
		}
		return result, nil
	}))
}

func listingResult(reply orchestrator.ListingReply, err error) (ListingResult, error) {
	if err != nil {
		return ListingResult{}, err
	}
	return ListingResult{Listing: listingView(reply.Listing), Text: reply.Text}, nil
}

func settlementResult(reply orchestrator.SettlementReply, err error) (SettlementResult, error) {
	if err != nil {
		return SettlementResult{}, err
	}
	return SettlementResult{
		PaymentID:   reply.PaymentID,
		ListingID:   reply.ListingID,
		RecipientID: reply.RecipientID,
		Amount:      reply.Amount,
		Commission:  reply.Commission,
		Text:        reply.Text,
	}, nil
}
