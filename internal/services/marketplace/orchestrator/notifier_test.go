package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/louisbranch/ticketmarket/internal/services/marketplace/events"
	"github.com/louisbranch/ticketmarket/internal/services/marketplace/storage"
)

type memoryOutbox struct {
	items []storage.Notification
	err   error
}

func (m *memoryOutbox) AppendNotification(_ context.Context, notification storage.Notification) error {
	if m.err != nil {
		return m.err
	}
	m.items = append(m.items, notification)
	return nil
}

func (m *memoryOutbox) ListUndelivered(context.Context, string, int) ([]storage.Notification, error) {
	return m.items, nil
}

func (m *memoryOutbox) MarkDelivered(context.Context, []string, time.Time) error {
	return nil
}

func TestNotifierRoutesEventsToParticipants(t *testing.T) {
	tests := []struct {
		name  string
		event events.Event
		want  map[string]string
	}{
		{
			name: "moderation request",
			event: events.Event{
				Type: events.ListingSubmittedForModeration, ListingID: 3, SellerID: "s", Description: "Hall X", Price: 500,
				ApproveRef: "ref-a", RejectRef: "ref-r",
			},
			want: map[string]string{"admin": "New listing #3:\n\nHall X\nPrice: 500\n\nApprove: ref-a\nReject: ref-r"},
		},
		{
			name:  "approved",
			event: events.Event{Type: events.ListingModerated, ListingID: 3, SellerID: "s", Decision: "approve"},
			want:  map[string]string{"s": "Your listing #3 was approved and is now visible to buyers."},
		},
		{
			name:  "rejected",
			event: events.Event{Type: events.ListingModerated, ListingID: 3, SellerID: "s", Decision: "reject"},
			want:  map[string]string{"s": "Your listing #3 was rejected by moderation."},
		},
		{
			name:  "escrow opened",
			event: events.Event{Type: events.EscrowOpened, ListingID: 3, PaymentID: 9, SellerID: "s", BuyerID: "b", GrossAmount: 500, Commission: 50},
			want: map[string]string{
				"admin": "Payment #9 for listing #3 is held in escrow: 500, commission 50.",
				"s":     "A ticket for listing #3 was paid. The money is held until the event takes place.",
			},
		},
		{
			name:  "released",
			event: events.Event{Type: events.PaymentReleased, ListingID: 3, PaymentID: 9, SellerID: "s", BuyerID: "b", Payout: 450},
			want: map[string]string{
				"b": "Payment #9 confirmed, the event took place!",
				"s": "Payment #9 released: you receive 450.",
			},
		},
		{
			name:  "refunded without known seller",
			event: events.Event{Type: events.PaymentRefunded, ListingID: 3, PaymentID: 9, BuyerID: "b"},
			want:  map[string]string{"b": "Payment #9 refunded, the event did not take place."},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			outbox := &memoryOutbox{}
			notifier := NewNotifier(outbox, "admin", nil, NewPreferences("en-US"))
			if err := notifier.Publish(context.Background(), tc.event); err != nil {
				t.Fatalf("publish: %v", err)
			}
			got := map[string]string{}
			for _, item := range outbox.items {
				got[item.RecipientID] = item.Text
				if item.ID == "" || item.EventType != string(tc.event.Type) {
					t.Fatalf("notification = %+v", item)
				}
				var decoded events.Event
				if err := json.Unmarshal(item.Payload, &decoded); err != nil || decoded.Type != tc.event.Type {
					t.Fatalf("payload = %s, %v", item.Payload, err)
				}
			}
			if len(got) != len(tc.want) {
				t.Fatalf("recipients = %v, want %v", got, tc.want)
			}
			for recipient, text := range tc.want {
				if got[recipient] != text {
					t.Errorf("%s: text = %q, want %q", recipient, got[recipient], text)
				}
			}
		})
	}
}

func TestNotifierUsesRecipientLocale(t *testing.T) {
	outbox := &memoryOutbox{}
	prefs := NewPreferences("en-US")
	prefs.Remember("s", "ru-RU")
	notifier := NewNotifier(outbox, "admin", nil, prefs)

	event := events.Event{Type: events.ListingModerated, ListingID: 4, SellerID: "s", Decision: "reject"}
	if err := notifier.Publish(context.Background(), event); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(outbox.items) != 1 || outbox.items[0].Text != "Ваша заявка #4 отклонена модерацией." {
		t.Fatalf("items = %+v", outbox.items)
	}
}

func TestNotifierReportsOutboxFailures(t *testing.T) {
	outbox := &memoryOutbox{err: errors.New("disk full")}
	notifier := NewNotifier(outbox, "admin", nil, nil)
	err := notifier.Publish(context.Background(), events.Event{Type: events.PaymentReleased, PaymentID: 1, SellerID: "s", BuyerID: "b"})
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("publish error = %v", err)
	}
	if err := notifier.Publish(context.Background(), events.Event{Type: "unknown.event"}); err != nil {
		t.Fatalf("unrouted event error = %v", err)
	}
}
