package escrow

import (
	"context"
	"fmt"

	apperrors "github.com/louisbranch/ticketmarket/internal/platform/errors"
	"github.com/louisbranch/ticketmarket/internal/platform/grpc/pagination"
	"github.com/louisbranch/ticketmarket/internal/services/marketplace/filter"
	"github.com/louisbranch/ticketmarket/internal/services/marketplace/storage"
)

var searchPageSize = pagination.PageSizeConfig{Default: 20, Max: 100}

// SearchPage is one page of filtered payments.
type SearchPage struct {
	Payments      []storage.Payment
	NextPageToken string
}

// Search returns payments matching an AIP-160 filter, one page at a time.
// Pass the returned NextPageToken to read the following page.
func (m *Manager) Search(ctx context.Context, filterStr string, pageSize int, pageToken string) (SearchPage, error) {
	cond, err := filter.ParsePaymentFilter(filterStr)
	if err != nil {
		return SearchPage{}, apperrors.Wrap(apperrors.CodeFilterInvalid, fmt.Sprintf("invalid filter %q", filterStr), err)
	}
	afterID, err := pagination.DecodeCursor(pageToken)
	if err != nil {
		return SearchPage{}, apperrors.Wrap(apperrors.CodeFilterInvalid, "invalid page token", err)
	}
	limit := pagination.ClampPageSize(pageSize, searchPageSize)

	payments, err := m.store.SearchPayments(ctx, storage.PaymentQuery{
		Where:   cond.Clause,
		Params:  cond.Params,
		AfterID: afterID,
		Limit:   limit + 1,
	})
	if err != nil {
		return SearchPage{}, apperrors.Wrap(apperrors.CodeStorageUnavailable, "search payments", err)
	}

	page := SearchPage{Payments: payments}
	if len(payments) > limit {
		page.Payments = payments[:limit]
		page.NextPageToken = pagination.EncodeCursor(payments[limit-1].ID)
	}
	return page, nil
}

// Summary reconciles escrow balances from the payment ledger.
type Summary struct {
	Held     StatusTotals
	Released StatusTotals
	Refunded StatusTotals
	// CommissionEarned counts only released payments.
	CommissionEarned int64
	// PayoutsOwed is what sellers were owed on release.
	PayoutsOwed int64
}

// StatusTotals aggregates payments in one status.
type StatusTotals struct {
	Count int64
	Gross int64
}

// Summary totals the ledger by payment status.
func (m *Manager) Summary(ctx context.Context) (Summary, error) {
	totals, err := m.store.SummarizePayments(ctx)
	if err != nil {
		return Summary{}, apperrors.Wrap(apperrors.CodeStorageUnavailable, "summarize payments", err)
	}
	var summary Summary
	for _, row := range totals {
		bucket := StatusTotals{Count: row.Count, Gross: row.Gross}
		switch row.Status {
		case storage.PaymentPending:
			summary.Held = bucket
		case storage.PaymentReleased:
			summary.Released = bucket
			summary.CommissionEarned = row.Commission
			summary.PayoutsOwed = row.Gross - row.Commission
		case storage.PaymentRefunded:
			summary.Refunded = bucket
		}
	}
	return summary, nil
}
