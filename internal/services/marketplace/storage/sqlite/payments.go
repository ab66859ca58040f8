package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/louisbranch/ticketmarket/internal/services/marketplace/storage"
)

const paymentColumns = `id, listing_id, buyer_id, gross_amount, commission, status,
       confirmation_id, created_at, updated_at, settled_at`

func scanPayment(row rowScanner) (storage.Payment, error) {
	var (
		payment        storage.Payment
		status         string
		confirmationID sql.NullString
		createdAt      int64
		updatedAt      int64
		settledAt      int64
	)
	if err := row.Scan(
		&payment.ID,
		&payment.ListingID,
		&payment.BuyerID,
		&payment.GrossAmount,
		&payment.Commission,
		&status,
		&confirmationID,
		&createdAt,
		&updatedAt,
		&settledAt,
	); err != nil {
		return storage.Payment{}, err
	}
	payment.Status = storage.PaymentStatus(status)
	payment.ConfirmationID = confirmationID.String
	payment.CreatedAt = fromMillis(createdAt)
	payment.UpdatedAt = fromMillis(updatedAt)
	payment.SettledAt = fromOptionalMillis(settledAt)
	return payment, nil
}

func collectPayments(rows *sql.Rows, capacity int) ([]storage.Payment, error) {
	defer rows.Close()
	payments := make([]storage.Payment, 0, capacity)
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, payment)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return payments, nil
}

// InsertPayment records a pending payment. The listing availability check,
// the optional single-active check and the insert run as one statement.
func (s *Store) InsertPayment(ctx context.Context, input storage.NewPayment) (storage.Payment, error) {
	if err := s.ready(ctx); err != nil {
		return storage.Payment{}, err
	}
	buyerID := strings.TrimSpace(input.BuyerID)
	if buyerID == "" {
		return storage.Payment{}, fmt.Errorf("buyer id is required")
	}
	if input.GrossAmount <= 0 {
		return storage.Payment{}, fmt.Errorf("gross amount must be greater than zero")
	}
	if input.Commission < 0 || input.Commission > input.GrossAmount {
		return storage.Payment{}, fmt.Errorf("commission %d is outside [0, %d]", input.Commission, input.GrossAmount)
	}
	confirmationID := sql.NullString{String: strings.TrimSpace(input.ConfirmationID)}
	confirmationID.Valid = confirmationID.String != ""
	exclusive := 0
	if input.Exclusive {
		exclusive = 1
	}
	createdAt := s.timestamp(input.CreatedAt)

	row := s.sqlDB.QueryRowContext(
		ctx,
		`INSERT INTO payments (
		   listing_id, buyer_id, gross_amount, commission, status,
		   confirmation_id, created_at, updated_at
		 )
		 SELECT ?, ?, ?, ?, ?, ?, ?, ?
		  WHERE EXISTS (SELECT 1 FROM listings WHERE id = ? AND status = ?)
		    AND (? = 0 OR NOT EXISTS (
		         SELECT 1 FROM payments WHERE listing_id = ? AND status = ?))
		 RETURNING `+paymentColumns,
		input.ListingID,
		buyerID,
		input.GrossAmount,
		input.Commission,
		string(storage.PaymentPending),
		confirmationID,
		toMillis(createdAt),
		toMillis(createdAt),
		input.ListingID,
		string(storage.ListingApproved),
		exclusive,
		input.ListingID,
		string(storage.PaymentPending),
	)
	payment, err := scanPayment(row)
	if err == nil {
		return payment, nil
	}
	if isUniqueViolation(err, "payments.confirmation_id") {
		return storage.Payment{}, storage.ErrAlreadyExists
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return storage.Payment{}, fmt.Errorf("insert payment: %w", err)
	}

	listing, err := s.GetListing(ctx, input.ListingID)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Payment{}, storage.ErrListingUnavailable
	}
	if err != nil {
		return storage.Payment{}, err
	}
	if listing.Status != storage.ListingApproved {
		return storage.Payment{}, storage.ErrListingUnavailable
	}
	return storage.Payment{}, storage.ErrActivePaymentExists
}

// GetPayment returns one payment by id.
func (s *Store) GetPayment(ctx context.Context, id int64) (storage.Payment, error) {
	if err := s.ready(ctx); err != nil {
		return storage.Payment{}, err
	}
	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = ?`, id)
	payment, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Payment{}, storage.ErrNotFound
		}
		return storage.Payment{}, fmt.Errorf("get payment: %w", err)
	}
	return payment, nil
}

// FindPaymentByConfirmation returns the payment recorded for an external confirmation id.
func (s *Store) FindPaymentByConfirmation(ctx context.Context, confirmationID string) (storage.Payment, error) {
	if err := s.ready(ctx); err != nil {
		return storage.Payment{}, err
	}
	confirmationID = strings.TrimSpace(confirmationID)
	if confirmationID == "" {
		return storage.Payment{}, storage.ErrNotFound
	}
	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE confirmation_id = ?`, confirmationID)
	payment, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Payment{}, storage.ErrNotFound
		}
		return storage.Payment{}, fmt.Errorf("find payment by confirmation: %w", err)
	}
	return payment, nil
}

// ListPaymentsByStatus returns one id-ordered page of payments in status.
func (s *Store) ListPaymentsByStatus(ctx context.Context, status storage.PaymentStatus, afterID int64, limit int) ([]storage.Payment, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("unknown payment status %q", status)
	}
	return s.SearchPayments(ctx, storage.PaymentQuery{
		Where:   "status = ?",
		Params:  []any{string(status)},
		AfterID: afterID,
		Limit:   limit,
	})
}

// UpdatePaymentStatus moves a payment from transition.From to transition.To
// in one conditional statement. Concurrent callers racing on the same payment
// see exactly one success; the rest get ErrStatusConflict.
func (s *Store) UpdatePaymentStatus(ctx context.Context, transition storage.StatusTransition[storage.PaymentStatus]) (storage.Payment, error) {
	if err := s.ready(ctx); err != nil {
		return storage.Payment{}, err
	}
	if !transition.From.Valid() || !transition.To.Valid() {
		return storage.Payment{}, fmt.Errorf("unknown payment transition %q -> %q", transition.From, transition.To)
	}
	at := s.timestamp(transition.At)
	settledAt := int64(0)
	if transition.To.Terminal() {
		settledAt = toMillis(at)
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`UPDATE payments
		    SET status = ?, updated_at = ?, settled_at = ?
		  WHERE id = ? AND status = ?
		 RETURNING `+paymentColumns,
		string(transition.To),
		toMillis(at),
		settledAt,
		transition.ID,
		string(transition.From),
	)
	payment, err := scanPayment(row)
	if err == nil {
		return payment, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return storage.Payment{}, fmt.Errorf("update payment status: %w", err)
	}
	if _, getErr := s.GetPayment(ctx, transition.ID); getErr != nil {
		return storage.Payment{}, getErr
	}
	return storage.Payment{}, storage.ErrStatusConflict
}

// SearchPayments returns one id-ordered page of payments matching query.Where.
func (s *Store) SearchPayments(ctx context.Context, query storage.PaymentQuery) ([]storage.Payment, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	limit := clampLimit(query.Limit)

	where := "id > ?"
	params := []any{query.AfterID}
	if clause := strings.TrimSpace(query.Where); clause != "" {
		where += " AND (" + clause + ")"
		params = append(params, query.Params...)
	}
	params = append(params, limit)

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT `+paymentColumns+`
		   FROM payments
		  WHERE `+where+`
		  ORDER BY id ASC
		  LIMIT ?`,
		params...,
	)
	if err != nil {
		return nil, fmt.Errorf("search payments: %w", err)
	}
	payments, err := collectPayments(rows, limit)
	if err != nil {
		return nil, fmt.Errorf("search payments: %w", err)
	}
	return payments, nil
}

// SummarizePayments returns count and amount totals grouped by status.
func (s *Store) SummarizePayments(ctx context.Context) ([]storage.PaymentTotals, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT status, COUNT(*), COALESCE(SUM(gross_amount), 0), COALESCE(SUM(commission), 0)
		   FROM payments
		  GROUP BY status
		  ORDER BY status ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("summarize payments: %w", err)
	}
	defer rows.Close()

	var totals []storage.PaymentTotals
	for rows.Next() {
		var (
			row    storage.PaymentTotals
			status string
		)
		if err := rows.Scan(&status, &row.Count, &row.Gross, &row.Commission); err != nil {
			return nil, fmt.Errorf("summarize payments: %w", err)
		}
		row.Status = storage.PaymentStatus(status)
		totals = append(totals, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("summarize payments: %w", err)
	}
	return totals, nil
}
