package authz

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	apperrors "github.com/louisbranch/ticketmarket/internal/platform/errors"
)

const (
	actionIssuer   = "ticketmarket"
	actionAudience = "ticketmarket.moderation"
)

// actionSignerEnv holds raw env values before post-parse validation.
type actionSignerEnv struct {
	SigningKey string        `env:"TICKETMARKET_ACTION_SIGNING_KEY"`
	TTL        time.Duration `env:"TICKETMARKET_ACTION_TTL"         envDefault:"72h"`
}

// ActionSignerConfig defines how moderation references are signed.
type ActionSignerConfig struct {
	Key ed25519.PrivateKey
	TTL time.Duration
	Now func() time.Time
}

// ModerationAction is a verified moderation reference.
type ModerationAction struct {
	ID        string
	ListingID int64
	Decision  string
	ExpiresAt time.Time
}

type moderationClaims struct {
	jwt.RegisteredClaims
	ListingID string `json:"listing_id"`
	Decision  string `json:"decision"`
}

// ActionSigner issues and verifies signed moderation references. A reference
// names a listing and a decision; it never grants the administrator role.
type ActionSigner struct {
	key ed25519.PrivateKey
	ttl time.Duration
	now func() time.Time
}

// LoadActionSignerFromEnv reads the signing key and reference TTL. Without a
// configured key a random one is generated, so references do not survive a
// restart.
func LoadActionSignerFromEnv(now func() time.Time) (*ActionSigner, error) {
	var raw actionSignerEnv
	if err := env.Parse(&raw); err != nil {
		return nil, fmt.Errorf("parse action signer env: %w", err)
	}
	cfg := ActionSignerConfig{TTL: raw.TTL, Now: now}
	signingKey := strings.TrimSpace(raw.SigningKey)
	if signingKey == "" {
		_, key, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate action signing key: %w", err)
		}
		logf("authz: TICKETMARKET_ACTION_SIGNING_KEY not set; moderation references will not survive restart")
		cfg.Key = key
		return NewActionSigner(cfg)
	}
	keyBytes, err := decodeBase64(signingKey)
	if err != nil {
		return nil, fmt.Errorf("decode action signing key: %w", err)
	}
	switch len(keyBytes) {
	case ed25519.SeedSize:
		cfg.Key = ed25519.NewKeyFromSeed(keyBytes)
	case ed25519.PrivateKeySize:
		cfg.Key = ed25519.PrivateKey(keyBytes)
	default:
		return nil, fmt.Errorf("action signing key must be %d or %d bytes", ed25519.SeedSize, ed25519.PrivateKeySize)
	}
	return NewActionSigner(cfg)
}

// NewActionSigner validates cfg and returns a signer.
func NewActionSigner(cfg ActionSignerConfig) (*ActionSigner, error) {
	if len(cfg.Key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("action signing key must be %d bytes", ed25519.PrivateKeySize)
	}
	if cfg.TTL <= 0 {
		return nil, fmt.Errorf("action reference ttl must be positive")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &ActionSigner{key: cfg.Key, ttl: cfg.TTL, now: cfg.Now}, nil
}

// ModerationReference signs a reference for deciding listingID.
func (s *ActionSigner) ModerationReference(listingID int64, decision string) (string, error) {
	if listingID <= 0 {
		return "", fmt.Errorf("listing id must be positive")
	}
	decision = strings.TrimSpace(decision)
	if decision == "" {
		return "", fmt.Errorf("decision is required")
	}
	now := s.now().UTC()
	claims := moderationClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    actionIssuer,
			Audience:  jwt.ClaimStrings{actionAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			ID:        uuid.NewString(),
		},
		ListingID: strconv.FormatInt(listingID, 10),
		Decision:  decision,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign moderation reference: %w", err)
	}
	return token, nil
}

// VerifyModerationReference checks the signature, issuer, audience and
// expiry of ref and returns the action it names.
func (s *ActionSigner) VerifyModerationReference(ref string) (ModerationAction, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ModerationAction{}, apperrors.New(apperrors.CodeActionReferenceInvalid, "action reference is required")
	}

	var parsed moderationClaims
	_, err := jwt.ParseWithClaims(ref, &parsed, func(*jwt.Token) (any, error) {
		return s.key.Public(), nil
	},
		jwt.WithValidMethods([]string{"EdDSA"}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return ModerationAction{}, mapJWTError(err)
	}
	if parsed.Issuer != actionIssuer || !slices.Contains(parsed.Audience, actionAudience) {
		return ModerationAction{}, apperrors.New(apperrors.CodeActionReferenceInvalid, "action reference was issued for another audience")
	}
	if parsed.ID == "" || parsed.ExpiresAt == nil {
		return ModerationAction{}, apperrors.New(apperrors.CodeActionReferenceInvalid, "action reference is incomplete")
	}
	exp := parsed.ExpiresAt.Time.UTC()
	if !exp.After(s.now().UTC()) {
		return ModerationAction{}, apperrors.New(apperrors.CodeActionReferenceExpired, "action reference is expired")
	}
	listingID, err := strconv.ParseInt(parsed.ListingID, 10, 64)
	if err != nil || listingID <= 0 || strings.TrimSpace(parsed.Decision) == "" {
		return ModerationAction{}, apperrors.New(apperrors.CodeActionReferenceInvalid, "action reference names no listing decision")
	}
	return ModerationAction{
		ID:        parsed.ID,
		ListingID: listingID,
		Decision:  parsed.Decision,
		ExpiresAt: exp,
	}, nil
}

// mapJWTError translates jwt library errors to application errors.
func mapJWTError(err error) error {
	if errors.Is(err, jwt.ErrTokenSignatureInvalid) || errors.Is(err, jwt.ErrEd25519Verification) {
		return apperrors.New(apperrors.CodeActionReferenceInvalid, "action reference signature is invalid")
	}
	return apperrors.Wrap(apperrors.CodeActionReferenceInvalid, "action reference is invalid", err)
}

func decodeBase64(value string) ([]byte, error) {
	decoded, err := base64.RawStdEncoding.DecodeString(value)
	if err == nil {
		return decoded, nil
	}
	return base64.StdEncoding.DecodeString(value)
}
