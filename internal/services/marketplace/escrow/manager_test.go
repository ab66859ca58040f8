package escrow

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	apperrors "github.com/louisbranch/ticketmarket/internal/platform/errors"
	"github.com/louisbranch/ticketmarket/internal/services/marketplace/events"
	"github.com/louisbranch/ticketmarket/internal/services/marketplace/storage"
	"github.com/louisbranch/ticketmarket/internal/services/marketplace/storage/sqlite"
)

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "marketplace.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func seedListing(t *testing.T, store *sqlite.Store, status storage.ListingStatus) storage.Listing {
	t.Helper()
	ctx := context.Background()
	listing, err := store.InsertListing(ctx, storage.NewListing{
		SellerID:    "seller-1",
		Description: "Hall X, 50 guests",
		Price:       2000,
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("insert listing: %v", err)
	}
	if status == storage.ListingPending {
		return listing
	}
	listing, err = store.UpdateListingStatus(ctx, storage.StatusTransition[storage.ListingStatus]{
		ID:   listing.ID,
		From: storage.ListingPending,
		To:   status,
		At:   time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("moderate listing: %v", err)
	}
	return listing
}

func TestOpenReleaseScenario(t *testing.T) {
	store := openStore(t)
	recorder := &events.Recorder{}
	manager := NewManager(store, MustParseRate("0.10"), WithPublisher(recorder))
	listing := seedListing(t, store, storage.ListingApproved)
	ctx := context.Background()

	payment, err := manager.Open(ctx, OpenInput{ListingID: listing.ID, BuyerID: "buyer-1", GrossAmount: 2000})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if payment.Status != storage.PaymentPending || payment.Commission != 200 || payment.GrossAmount != 2000 {
		t.Fatalf("payment = %+v", payment)
	}
	opened := recorder.OfType(events.EscrowOpened)
	if len(opened) != 1 || opened[0].SellerID != "seller-1" || opened[0].Payout != 1800 {
		t.Fatalf("escrow.opened events = %+v", opened)
	}

	released, err := manager.Release(ctx, payment.ID)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	want := ReleaseResult{
		PaymentID:  payment.ID,
		ListingID:  listing.ID,
		SellerID:   "seller-1",
		BuyerID:    "buyer-1",
		Payout:     1800,
		Commission: 200,
	}
	if released != want {
		t.Fatalf("release = %+v, want %+v", released, want)
	}
	if got := recorder.OfType(events.PaymentReleased); len(got) != 1 {
		t.Fatalf("payment.released events = %d, want 1", len(got))
	}

	if _, err := manager.Release(ctx, payment.ID); apperrors.CodeOf(err) != apperrors.CodePaymentInvalidTransition {
		t.Fatalf("second release error = %v", err)
	}
	if _, err := manager.Refund(ctx, payment.ID); apperrors.CodeOf(err) != apperrors.CodePaymentInvalidTransition {
		t.Fatalf("refund after release error = %v", err)
	}
	stored, err := manager.Get(ctx, payment.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != storage.PaymentReleased || stored.SettledAt.IsZero() {
		t.Fatalf("stored payment = %+v", stored)
	}
}

func TestOpenRefundScenario(t *testing.T) {
	store := openStore(t)
	recorder := &events.Recorder{}
	manager := NewManager(store, MustParseRate("0.10"), WithPublisher(recorder))
	listing := seedListing(t, store, storage.ListingApproved)
	ctx := context.Background()

	payment, err := manager.Open(ctx, OpenInput{ListingID: listing.ID, BuyerID: "buyer-1", GrossAmount: 2000})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	refunded, err := manager.Refund(ctx, payment.ID)
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	want := RefundResult{PaymentID: payment.ID, ListingID: listing.ID, SellerID: "seller-1", BuyerID: "buyer-1", Amount: 2000}
	if refunded != want {
		t.Fatalf("refund = %+v, want %+v", refunded, want)
	}
	if _, err := manager.Release(ctx, payment.ID); apperrors.CodeOf(err) != apperrors.CodePaymentInvalidTransition {
		t.Fatalf("release after refund error = %v", err)
	}
	if got := recorder.OfType(events.PaymentRefunded); len(got) != 1 || got[0].BuyerID != "buyer-1" {
		t.Fatalf("payment.refunded events = %+v", got)
	}
}

func TestOpenRequiresApprovedListing(t *testing.T) {
	store := openStore(t)
	recorder := &events.Recorder{}
	manager := NewManager(store, MustParseRate("0.10"), WithPublisher(recorder))
	ctx := context.Background()

	pending := seedListing(t, store, storage.ListingPending)
	rejected := seedListing(t, store, storage.ListingRejected)
	for _, listingID := range []int64{pending.ID, rejected.ID, 999} {
		_, err := manager.Open(ctx, OpenInput{ListingID: listingID, BuyerID: "buyer-1", GrossAmount: 2000})
		if apperrors.CodeOf(err) != apperrors.CodeListingNotAvailable {
			t.Fatalf("listing %d: error = %v, want listing not available", listingID, err)
		}
		if apperrors.KindOf(err) != apperrors.KindListingNotAvailable {
			t.Fatalf("listing %d: kind = %v", listingID, apperrors.KindOf(err))
		}
	}
	page, err := manager.Search(ctx, "", 10, "")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(page.Payments) != 0 {
		t.Fatalf("payments = %+v, want none", page.Payments)
	}
	if len(recorder.Events()) != 0 {
		t.Fatalf("events = %+v, want none", recorder.Events())
	}
}

func TestOpenValidatesInput(t *testing.T) {
	store := openStore(t)
	manager := NewManager(store, MustParseRate("0.10"))
	listing := seedListing(t, store, storage.ListingApproved)
	ctx := context.Background()

	tests := []struct {
		name  string
		input OpenInput
		code  apperrors.Code
	}{
		{name: "missing buyer", input: OpenInput{ListingID: listing.ID, BuyerID: " ", GrossAmount: 10}, code: apperrors.CodePaymentBuyerMissing},
		{name: "zero amount", input: OpenInput{ListingID: listing.ID, BuyerID: "b", GrossAmount: 0}, code: apperrors.CodePaymentAmountInvalid},
		{name: "negative amount", input: OpenInput{ListingID: listing.ID, BuyerID: "b", GrossAmount: -1}, code: apperrors.CodePaymentAmountInvalid},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := manager.Open(ctx, tc.input)
			if apperrors.CodeOf(err) != tc.code {
				t.Fatalf("error = %v, want %s", err, tc.code)
			}
		})
	}
}

func TestSingleActivePaymentPolicy(t *testing.T) {
	ctx := context.Background()

	t.Run("strict", func(t *testing.T) {
		store := openStore(t)
		manager := NewManager(store, MustParseRate("0.10"))
		listing := seedListing(t, store, storage.ListingApproved)

		first, err := manager.Open(ctx, OpenInput{ListingID: listing.ID, BuyerID: "buyer-1", GrossAmount: 2000})
		if err != nil {
			t.Fatalf("first open: %v", err)
		}
		_, err = manager.Open(ctx, OpenInput{ListingID: listing.ID, BuyerID: "buyer-2", GrossAmount: 2000})
		if apperrors.CodeOf(err) != apperrors.CodeListingActivePaymentExist {
			t.Fatalf("second open error = %v", err)
		}
		if _, err := manager.Refund(ctx, first.ID); err != nil {
			t.Fatalf("refund: %v", err)
		}
		if _, err := manager.Open(ctx, OpenInput{ListingID: listing.ID, BuyerID: "buyer-2", GrossAmount: 2000}); err != nil {
			t.Fatalf("open after refund: %v", err)
		}
	})

	t.Run("relaxed", func(t *testing.T) {
		store := openStore(t)
		manager := NewManager(store, MustParseRate("0.10"), WithSingleActivePayment(false))
		listing := seedListing(t, store, storage.ListingApproved)
		for _, buyer := range []string{"buyer-1", "buyer-2"} {
			if _, err := manager.Open(ctx, OpenInput{ListingID: listing.ID, BuyerID: buyer, GrossAmount: 2000}); err != nil {
				t.Fatalf("open for %s: %v", buyer, err)
			}
		}
	})
}

func TestOpenIsIdempotentPerConfirmation(t *testing.T) {
	store := openStore(t)
	recorder := &events.Recorder{}
	manager := NewManager(store, MustParseRate("0.10"), WithPublisher(recorder), WithSingleActivePayment(false))
	listing := seedListing(t, store, storage.ListingApproved)
	ctx := context.Background()

	input := OpenInput{ListingID: listing.ID, BuyerID: "buyer-1", GrossAmount: 2000, ConfirmationID: "charge-42"}
	first, err := manager.Open(ctx, input)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	second, err := manager.Open(ctx, input)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	if first.ID != second.ID || second.ConfirmationID != "charge-42" {
		t.Fatalf("payments differ: %+v vs %+v", first, second)
	}
	if got := recorder.OfType(events.EscrowOpened); len(got) != 1 {
		t.Fatalf("escrow.opened events = %d, want 1", len(got))
	}
}

func TestOpenRejectsConfirmationReusedForAnotherPurchase(t *testing.T) {
	store := openStore(t)
	recorder := &events.Recorder{}
	manager := NewManager(store, MustParseRate("0.10"), WithPublisher(recorder), WithSingleActivePayment(false))
	first := seedListing(t, store, storage.ListingApproved)
	second := seedListing(t, store, storage.ListingApproved)
	ctx := context.Background()

	if _, err := manager.Open(ctx, OpenInput{ListingID: first.ID, BuyerID: "buyer-1", GrossAmount: 2000, ConfirmationID: "charge-1"}); err != nil {
		t.Fatalf("open: %v", err)
	}

	tests := []struct {
		name  string
		input OpenInput
	}{
		{name: "other listing", input: OpenInput{ListingID: second.ID, BuyerID: "buyer-1", GrossAmount: 2000, ConfirmationID: "charge-1"}},
		{name: "other buyer", input: OpenInput{ListingID: first.ID, BuyerID: "buyer-2", GrossAmount: 2000, ConfirmationID: "charge-1"}},
		{name: "other amount", input: OpenInput{ListingID: first.ID, BuyerID: "buyer-1", GrossAmount: 5, ConfirmationID: "charge-1"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			payment, err := manager.Open(ctx, tc.input)
			if apperrors.CodeOf(err) != apperrors.CodePaymentConfirmationUsed {
				t.Fatalf("error = %v, want confirmation conflict", err)
			}
			if payment.ID != 0 || payment.BuyerID != "" {
				t.Fatalf("conflict leaked payment %+v", payment)
			}
		})
	}
	if got := recorder.OfType(events.EscrowOpened); len(got) != 1 {
		t.Fatalf("escrow.opened events = %d, want 1", len(got))
	}
}

// lateConfirmationStore hides existing confirmations from the first lookup,
// as when a concurrent open commits between lookup and insert.
type lateConfirmationStore struct {
	*sqlite.Store
	hidden bool
}

func (s *lateConfirmationStore) FindPaymentByConfirmation(ctx context.Context, confirmationID string) (storage.Payment, error) {
	if !s.hidden {
		s.hidden = true
		return storage.Payment{}, storage.ErrNotFound
	}
	return s.Store.FindPaymentByConfirmation(ctx, confirmationID)
}

func TestOpenChecksConfirmationAfterLosingInsertRace(t *testing.T) {
	base := openStore(t)
	first := seedListing(t, base, storage.ListingApproved)
	second := seedListing(t, base, storage.ListingApproved)
	ctx := context.Background()
	if _, err := NewManager(base, MustParseRate("0.10")).Open(ctx, OpenInput{ListingID: first.ID, BuyerID: "buyer-1", GrossAmount: 2000, ConfirmationID: "charge-7"}); err != nil {
		t.Fatalf("open: %v", err)
	}

	manager := NewManager(&lateConfirmationStore{Store: base}, MustParseRate("0.10"), WithSingleActivePayment(false))
	_, err := manager.Open(ctx, OpenInput{ListingID: second.ID, BuyerID: "buyer-2", GrossAmount: 5, ConfirmationID: "charge-7"})
	if apperrors.CodeOf(err) != apperrors.CodePaymentConfirmationUsed {
		t.Fatalf("error = %v, want confirmation conflict", err)
	}

	manager = NewManager(&lateConfirmationStore{Store: base}, MustParseRate("0.10"), WithSingleActivePayment(false))
	payment, err := manager.Open(ctx, OpenInput{ListingID: first.ID, BuyerID: "buyer-1", GrossAmount: 2000, ConfirmationID: "charge-7"})
	if err != nil || payment.ConfirmationID != "charge-7" {
		t.Fatalf("matching replay = %+v, %v", payment, err)
	}
}

func TestSettleUnknownPayment(t *testing.T) {
	manager := NewManager(openStore(t), MustParseRate("0.10"))
	ctx := context.Background()
	if _, err := manager.Release(ctx, 404); apperrors.CodeOf(err) != apperrors.CodePaymentNotFound {
		t.Fatalf("release error = %v", err)
	}
	if _, err := manager.Refund(ctx, 404); apperrors.CodeOf(err) != apperrors.CodePaymentNotFound {
		t.Fatalf("refund error = %v", err)
	}
	if _, err := manager.Get(ctx, 404); apperrors.KindOf(err) != apperrors.KindNotFound {
		t.Fatalf("get error = %v", err)
	}
}

func TestReleaseRefundRaceHasSingleWinner(t *testing.T) {
	store := openStore(t)
	manager := NewManager(store, MustParseRate("0.10"))
	listing := seedListing(t, store, storage.ListingApproved)
	payment, err := manager.Open(context.Background(), OpenInput{ListingID: listing.ID, BuyerID: "buyer-1", GrossAmount: 2000})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		releases int
		refunds  int
	)
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var err error
			release := i%2 == 0
			if release {
				_, err = manager.Release(context.Background(), payment.ID)
			} else {
				_, err = manager.Refund(context.Background(), payment.ID)
			}
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && release:
				releases++
			case err == nil:
				refunds++
			case apperrors.KindOf(err) != apperrors.KindInvalidTransition:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if releases+refunds != 1 {
		t.Fatalf("releases = %d refunds = %d, want exactly one settlement", releases, refunds)
	}
}

func TestPendingIsRestartable(t *testing.T) {
	store := openStore(t)
	manager := NewManager(store, MustParseRate("0.10"), WithSingleActivePayment(false), WithPageSize(2))
	listing := seedListing(t, store, storage.ListingApproved)
	ctx := context.Background()

	var ids []int64
	for range 5 {
		payment, err := manager.Open(ctx, OpenInput{ListingID: listing.ID, BuyerID: "buyer-1", GrossAmount: 100})
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		ids = append(ids, payment.ID)
	}
	if _, err := manager.Release(ctx, ids[1]); err != nil {
		t.Fatalf("release: %v", err)
	}

	want := []int64{ids[0], ids[2], ids[3], ids[4]}
	pending := manager.Pending(ctx)
	for pass := range 2 {
		var got []int64
		for payment, err := range pending {
			if err != nil {
				t.Fatalf("pass %d: %v", pass, err)
			}
			got = append(got, payment.ID)
		}
		if len(got) != len(want) {
			t.Fatalf("pass %d: got %v, want %v", pass, got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("pass %d: got %v, want %v", pass, got, want)
			}
		}
	}
}
