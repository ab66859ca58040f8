package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/ticketmarket/internal/services/marketplace/storage"
)

// GetConsent returns the consent record for userID.
func (s *Store) GetConsent(ctx context.Context, userID string) (storage.ConsentRecord, error) {
	if err := s.ready(ctx); err != nil {
		return storage.ConsentRecord{}, err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return storage.ConsentRecord{}, storage.ErrNotFound
	}

	var (
		record   storage.ConsentRecord
		agreed   int
		agreedAt int64
	)
	err := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT user_id, agreed, agreed_at FROM consents WHERE user_id = ?`,
		userID,
	).Scan(&record.UserID, &agreed, &agreedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ConsentRecord{}, storage.ErrNotFound
		}
		return storage.ConsentRecord{}, fmt.Errorf("get consent: %w", err)
	}
	record.Agreed = agreed == 1
	record.AgreedAt = fromOptionalMillis(agreedAt)
	return record, nil
}

// PutConsent inserts or replaces the consent record for a user.
func (s *Store) PutConsent(ctx context.Context, record storage.ConsentRecord) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	userID := strings.TrimSpace(record.UserID)
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	agreed := 0
	if record.Agreed {
		agreed = 1
	}
	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO consents (user_id, agreed, agreed_at) VALUES (?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET agreed = excluded.agreed, agreed_at = excluded.agreed_at`,
		userID,
		agreed,
		toOptionalMillis(record.AgreedAt),
	)
	if err != nil {
		return fmt.Errorf("put consent: %w", err)
	}
	return nil
}

// AppendNotification adds one notification to the outbox.
func (s *Store) AppendNotification(ctx context.Context, notification storage.Notification) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	id := strings.TrimSpace(notification.ID)
	recipientID := strings.TrimSpace(notification.RecipientID)
	if id == "" {
		return fmt.Errorf("notification id is required")
	}
	if recipientID == "" {
		return fmt.Errorf("recipient id is required")
	}
	payload := notification.Payload
	if payload == nil {
		payload = []byte("{}")
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO notifications (id, recipient_id, event_type, text, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id,
		recipientID,
		notification.EventType,
		notification.Text,
		payload,
		toMillis(s.timestamp(notification.CreatedAt)),
	)
	if err != nil {
		if isUniqueViolation(err, "notifications.id") {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("append notification: %w", err)
	}
	return nil
}

// ListUndelivered returns the oldest undelivered notifications for a recipient.
func (s *Store) ListUndelivered(ctx context.Context, recipientID string, limit int) ([]storage.Notification, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	limit = clampLimit(limit)
	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT id, recipient_id, event_type, text, payload, created_at
		   FROM notifications
		  WHERE recipient_id = ? AND delivered_at = 0
		  ORDER BY created_at ASC, rowid ASC
		  LIMIT ?`,
		strings.TrimSpace(recipientID),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list undelivered notifications: %w", err)
	}
	defer rows.Close()

	notifications := make([]storage.Notification, 0, limit)
	for rows.Next() {
		var (
			notification storage.Notification
			createdAt    int64
		)
		if err := rows.Scan(
			&notification.ID,
			&notification.RecipientID,
			&notification.EventType,
			&notification.Text,
			&notification.Payload,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("list undelivered notifications: %w", err)
		}
		notification.CreatedAt = fromMillis(createdAt)
		notifications = append(notifications, notification)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list undelivered notifications: %w", err)
	}
	return notifications, nil
}

// MarkDelivered stamps notifications as delivered. Already delivered rows keep
// their original timestamp.
func (s *Store) MarkDelivered(ctx context.Context, ids []string, at time.Time) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	deliveredAt := toMillis(s.timestamp(at))

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `UPDATE notifications SET delivered_at = ? WHERE id = ? AND delivered_at = 0`)
	if err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, deliveredAt, id); err != nil {
			return fmt.Errorf("mark delivered %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	return nil
}
