package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/louisbranch/ticketmarket/internal/services/marketplace/storage"
)

const listingColumns = `id, seller_id, description, price, status, created_at, updated_at, moderated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanListing(row rowScanner) (storage.Listing, error) {
	var (
		listing     storage.Listing
		status      string
		createdAt   int64
		updatedAt   int64
		moderatedAt int64
	)
	if err := row.Scan(
		&listing.ID,
		&listing.SellerID,
		&listing.Description,
		&listing.Price,
		&status,
		&createdAt,
		&updatedAt,
		&moderatedAt,
	); err != nil {
		return storage.Listing{}, err
	}
	listing.Status = storage.ListingStatus(status)
	listing.CreatedAt = fromMillis(createdAt)
	listing.UpdatedAt = fromMillis(updatedAt)
	listing.ModeratedAt = fromOptionalMillis(moderatedAt)
	return listing, nil
}

// InsertListing inserts one pending listing and returns it with its assigned id.
func (s *Store) InsertListing(ctx context.Context, input storage.NewListing) (storage.Listing, error) {
	if err := s.ready(ctx); err != nil {
		return storage.Listing{}, err
	}
	sellerID := strings.TrimSpace(input.SellerID)
	description := strings.TrimSpace(input.Description)
	if sellerID == "" {
		return storage.Listing{}, fmt.Errorf("seller id is required")
	}
	if description == "" {
		return storage.Listing{}, fmt.Errorf("description is required")
	}
	if input.Price <= 0 {
		return storage.Listing{}, fmt.Errorf("price must be greater than zero")
	}
	createdAt := s.timestamp(input.CreatedAt)

	row := s.sqlDB.QueryRowContext(
		ctx,
		`INSERT INTO listings (seller_id, description, price, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 RETURNING `+listingColumns,
		sellerID,
		description,
		input.Price,
		string(storage.ListingPending),
		toMillis(createdAt),
		toMillis(createdAt),
	)
	listing, err := scanListing(row)
	if err != nil {
		return storage.Listing{}, fmt.Errorf("insert listing: %w", err)
	}
	return listing, nil
}

// GetListing returns one listing by id.
func (s *Store) GetListing(ctx context.Context, id int64) (storage.Listing, error) {
	if err := s.ready(ctx); err != nil {
		return storage.Listing{}, err
	}
	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = ?`, id)
	listing, err := scanListing(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Listing{}, storage.ErrNotFound
		}
		return storage.Listing{}, fmt.Errorf("get listing: %w", err)
	}
	return listing, nil
}

// ListListingsByStatus returns one id-ordered page of listings in status.
func (s *Store) ListListingsByStatus(ctx context.Context, status storage.ListingStatus, afterID int64, limit int) ([]storage.Listing, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	if !status.Valid() {
		return nil, fmt.Errorf("unknown listing status %q", status)
	}
	limit = clampLimit(limit)

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT `+listingColumns+`
		   FROM listings
		  WHERE status = ? AND id > ?
		  ORDER BY id ASC
		  LIMIT ?`,
		string(status),
		afterID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list listings: %w", err)
	}
	defer rows.Close()

	listings := make([]storage.Listing, 0, limit)
	for rows.Next() {
		listing, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("list listings: %w", err)
		}
		listings = append(listings, listing)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list listings: %w", err)
	}
	return listings, nil
}

// UpdateListingStatus moves a listing from transition.From to transition.To
// in one conditional statement.
func (s *Store) UpdateListingStatus(ctx context.Context, transition storage.StatusTransition[storage.ListingStatus]) (storage.Listing, error) {
	if err := s.ready(ctx); err != nil {
		return storage.Listing{}, err
	}
	if !transition.From.Valid() || !transition.To.Valid() {
		return storage.Listing{}, fmt.Errorf("unknown listing transition %q -> %q", transition.From, transition.To)
	}
	at := s.timestamp(transition.At)
	moderatedAt := int64(0)
	if transition.To.Terminal() {
		moderatedAt = toMillis(at)
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`UPDATE listings
		    SET status = ?, updated_at = ?, moderated_at = ?
		  WHERE id = ? AND status = ?
		 RETURNING `+listingColumns,
		string(transition.To),
		toMillis(at),
		moderatedAt,
		transition.ID,
		string(transition.From),
	)
	listing, err := scanListing(row)
	if err == nil {
		return listing, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return storage.Listing{}, fmt.Errorf("update listing status: %w", err)
	}
	if _, getErr := s.GetListing(ctx, transition.ID); getErr != nil {
		return storage.Listing{}, getErr
	}
	return storage.Listing{}, storage.ErrStatusConflict
}
