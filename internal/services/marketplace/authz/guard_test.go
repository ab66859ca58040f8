package authz

import (
	"context"
	"errors"
	"testing"

	apperrors "github.com/louisbranch/ticketmarket/internal/platform/errors"
	"github.com/louisbranch/ticketmarket/internal/services/marketplace/storage"
)

type consentMap map[string]storage.ConsentRecord

func (m consentMap) GetConsent(_ context.Context, userID string) (storage.ConsentRecord, error) {
	record, ok := m[userID]
	if !ok {
		return storage.ConsentRecord{}, storage.ErrNotFound
	}
	return record, nil
}

type failingLookup struct{}

func (failingLookup) GetConsent(context.Context, string) (storage.ConsentRecord, error) {
	return storage.ConsentRecord{Agreed: true}, errors.New("database is locked")
}

func TestIsAdmin(t *testing.T) {
	guard := NewGuard(" admin-1 ", nil)
	if !guard.IsAdmin("admin-1") {
		t.Fatal("expected admin-1 to be admin")
	}
	if guard.IsAdmin("user-2") || guard.IsAdmin("") {
		t.Fatal("expected other users not to be admin")
	}

	nobody := NewGuard("", nil)
	if nobody.IsAdmin("") || nobody.IsAdmin("admin-1") {
		t.Fatal("empty admin id must grant nobody")
	}
}

func TestRequireAdmin(t *testing.T) {
	guard := NewGuard("admin-1", nil)
	if err := guard.RequireAdmin("admin-1"); err != nil {
		t.Fatalf("RequireAdmin(admin-1): %v", err)
	}
	if err := guard.RequireAdmin("user-2"); apperrors.CodeOf(err) != apperrors.CodeActorNotAdmin {
		t.Fatalf("RequireAdmin(user-2) = %v", err)
	}
	if err := guard.RequireAdmin(" "); apperrors.CodeOf(err) != apperrors.CodeActorMissing {
		t.Fatalf("RequireAdmin(blank) = %v", err)
	}
	if apperrors.KindOf(guard.RequireAdmin("user-2")) != apperrors.KindAuthorization {
		t.Fatal("expected authorization kind")
	}
}

func TestConsentFailsClosed(t *testing.T) {
	lookup := consentMap{
		"agreed":   {UserID: "agreed", Agreed: true},
		"declined": {UserID: "declined", Agreed: false},
	}
	guard := NewGuard("admin-1", lookup)
	ctx := context.Background()

	tests := []struct {
		user string
		want bool
	}{
		{user: "agreed", want: true},
		{user: "declined", want: false},
		{user: "stranger", want: false},
		{user: "", want: false},
	}
	for _, tc := range tests {
		if got := guard.HasConsented(ctx, tc.user); got != tc.want {
			t.Errorf("HasConsented(%q) = %v, want %v", tc.user, got, tc.want)
		}
	}
	if err := guard.RequireConsent(ctx, "stranger"); apperrors.CodeOf(err) != apperrors.CodeActorConsentMissing {
		t.Fatalf("RequireConsent(stranger) = %v", err)
	}

	original := logf
	var logged int
	logf = func(string, ...any) { logged++ }
	defer func() { logf = original }()

	broken := NewGuard("admin-1", failingLookup{})
	if broken.HasConsented(ctx, "agreed") {
		t.Fatal("lookup failure must deny consent")
	}
	if logged != 1 {
		t.Fatalf("logged = %d, want 1", logged)
	}
	if NewGuard("admin-1", nil).HasConsented(ctx, "agreed") {
		t.Fatal("missing lookup must deny consent")
	}
}
