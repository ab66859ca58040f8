package escrow

import (
	"fmt"
	"math/big"
	"strings"

	apperrors "github.com/louisbranch/ticketmarket/internal/platform/errors"
)

// DefaultRate is the commission fraction used when none is configured.
const DefaultRate = "0.10"

// Rate is an exact commission fraction in [0, 1].
type Rate struct {
	value *big.Rat
}

// ParseRate parses a decimal ("0.10") or fractional ("1/10") commission rate.
func ParseRate(value string) (Rate, error) {
	trimmed := strings.TrimSpace(value)
	r, ok := new(big.Rat).SetString(trimmed)
	if !ok || r.Sign() < 0 || r.Cmp(big.NewRat(1, 1)) > 0 {
		return Rate{}, apperrors.WithMetadata(
			apperrors.CodeCommissionRateInvalid,
			fmt.Sprintf("commission rate %q must be a fraction in [0, 1]", value),
			map[string]string{"Rate": value},
		)
	}
	return Rate{value: r}, nil
}

// MustParseRate is ParseRate for constants known to be valid.
func MustParseRate(value string) Rate {
	rate, err := ParseRate(value)
	if err != nil {
		panic(err)
	}
	return rate
}

// UnmarshalText lets env and flag parsers decode a Rate.
func (r *Rate) UnmarshalText(text []byte) error {
	parsed, err := ParseRate(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// MarshalText encodes the rate in the form UnmarshalText accepts.
func (r Rate) MarshalText() ([]byte, error) {
	return []byte(r.rat().RatString()), nil
}

// String formats the rate as a decimal when it has a finite one ("0.125") and
// as a fraction otherwise ("1/3").
func (r Rate) String() string {
	rat := r.rat()
	if prec, exact := rat.FloatPrec(); exact {
		return rat.FloatString(prec)
	}
	return rat.RatString()
}

// Percent formats the rate as a percentage such as "10%". Rates without a
// finite decimal are rounded to two places.
func (r Rate) Percent() string {
	percent := new(big.Rat).Mul(r.rat(), big.NewRat(100, 1))
	if prec, exact := percent.FloatPrec(); exact {
		return percent.FloatString(prec) + "%"
	}
	text := strings.TrimRight(strings.TrimRight(percent.FloatString(2), "0"), ".")
	return text + "%"
}

// Commission returns floor(gross * rate), clamped to [0, gross]. Negative
// gross amounts have no commission.
func (r Rate) Commission(gross int64) int64 {
	if gross <= 0 {
		return 0
	}
	rat := r.rat()
	product := new(big.Int).Mul(big.NewInt(gross), rat.Num())
	// Num and Denom are positive here, so Quo truncation is floor.
	commission := product.Quo(product, rat.Denom()).Int64()
	return min(max(commission, 0), gross)
}

// Payout is the seller share of gross after commission.
func (r Rate) Payout(gross int64) int64 {
	if gross <= 0 {
		return 0
	}
	return gross - r.Commission(gross)
}

func (r Rate) rat() *big.Rat {
	if r.value == nil {
		return new(big.Rat)
	}
	return r.value
}
