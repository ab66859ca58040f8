// Package authz decides whether an actor may perform a marketplace command.
// Every check fails closed: lookup errors and missing records deny access.
package authz

import (
	"context"
	"errors"
	"log"
	"strings"

	apperrors "github.com/louisbranch/ticketmarket/internal/platform/errors"
	"github.com/louisbranch/ticketmarket/internal/services/marketplace/storage"
)

var logf = log.Printf

// ConsentLookup reads a user's consent record.
type ConsentLookup interface {
	GetConsent(ctx context.Context, userID string) (storage.ConsentRecord, error)
}

// Guard checks the administrator role and terms consent.
type Guard struct {
	adminID  string
	consents ConsentLookup
}

// NewGuard creates a guard for a single administrator identity. An empty
// adminID makes nobody an administrator.
func NewGuard(adminID string, consents ConsentLookup) *Guard {
	return &Guard{adminID: strings.TrimSpace(adminID), consents: consents}
}

// IsAdmin reports whether userID is the configured administrator.
func (g *Guard) IsAdmin(userID string) bool {
	if g == nil || g.adminID == "" {
		return false
	}
	return strings.TrimSpace(userID) == g.adminID
}

// HasConsented reports whether userID accepted the marketplace terms.
func (g *Guard) HasConsented(ctx context.Context, userID string) bool {
	userID = strings.TrimSpace(userID)
	if g == nil || g.consents == nil || userID == "" {
		return false
	}
	record, err := g.consents.GetConsent(ctx, userID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			logf("authz: consent lookup for %s: %v", userID, err)
		}
		return false
	}
	return record.Agreed
}

// RequireAdmin fails unless userID is the administrator.
func (g *Guard) RequireAdmin(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return apperrors.New(apperrors.CodeActorMissing, "actor id is required")
	}
	if !g.IsAdmin(userID) {
		return apperrors.New(apperrors.CodeActorNotAdmin, "actor is not the administrator")
	}
	return nil
}

// RequireConsent fails unless userID accepted the marketplace terms.
func (g *Guard) RequireConsent(ctx context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return apperrors.New(apperrors.CodeActorMissing, "actor id is required")
	}
	if !g.HasConsented(ctx, userID) {
		return apperrors.New(apperrors.CodeActorConsentMissing, "actor has not accepted the terms")
	}
	return nil
}
