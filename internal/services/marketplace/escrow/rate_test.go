package escrow

import (
	"testing"

	apperrors "github.com/louisbranch/ticketmarket/internal/platform/errors"
)

func TestParseRate(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		percent string
		invalid bool
	}{
		{in: "0.10", want: "0.1", percent: "10%"},
		{in: " 1/8 ", want: "0.125", percent: "12.5%"},
		{in: "0", want: "0", percent: "0%"},
		{in: "1", want: "1", percent: "100%"},
		{in: "1/3", want: "1/3", percent: "33.33%"},
		{in: "2/3", want: "2/3", percent: "66.67%"},
		{in: "0.12345", want: "0.12345", percent: "12.345%"},
		{in: "1.5", invalid: true},
		{in: "-0.1", invalid: true},
		{in: "ten percent", invalid: true},
		{in: "", invalid: true},
	}
	for _, tc := range tests {
		rate, err := ParseRate(tc.in)
		if tc.invalid {
			if apperrors.CodeOf(err) != apperrors.CodeCommissionRateInvalid {
				t.Errorf("ParseRate(%q) error = %v, want invalid rate", tc.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseRate(%q): %v", tc.in, err)
			continue
		}
		if got := rate.String(); got != tc.want {
			t.Errorf("ParseRate(%q).String() = %q, want %q", tc.in, got, tc.want)
		}
		if got := rate.Percent(); got != tc.percent {
			t.Errorf("ParseRate(%q).Percent() = %q, want %q", tc.in, got, tc.percent)
		}
	}
}

func TestCommissionIsExactFloor(t *testing.T) {
	rate := MustParseRate("0.10")
	tests := []struct {
		gross int64
		want  int64
	}{
		{gross: 0, want: 0},
		{gross: 1, want: 0},
		{gross: 9, want: 0},
		{gross: 10, want: 1},
		{gross: 19, want: 1},
		{gross: 2000, want: 200},
		{gross: 2999, want: 299},
		{gross: -50, want: 0},
	}
	for _, tc := range tests {
		if got := rate.Commission(tc.gross); got != tc.want {
			t.Errorf("Commission(%d) = %d, want %d", tc.gross, got, tc.want)
		}
	}
	if got := rate.Payout(2000); got != 1800 {
		t.Fatalf("Payout(2000) = %d, want 1800", got)
	}
}

func TestCommissionBoundsHoldForAllAmounts(t *testing.T) {
	rates := []string{"0", "0.07", "0.10", "1/3", "0.999", "1"}
	for _, value := range rates {
		rate := MustParseRate(value)
		for gross := int64(0); gross <= 5000; gross++ {
			commission := rate.Commission(gross)
			if commission < 0 || commission > gross {
				t.Fatalf("rate %s gross %d: commission %d out of bounds", value, gross, commission)
			}
			if payout := gross - commission; payout < 0 {
				t.Fatalf("rate %s gross %d: negative payout %d", value, gross, payout)
			}
		}
	}
	// Large amounts must not lose precision to floating point.
	huge := int64(9_000_000_000_000_000_000)
	if got := MustParseRate("0.10").Commission(huge); got != 900_000_000_000_000_000 {
		t.Fatalf("Commission(%d) = %d", huge, got)
	}
}

func TestRateUnmarshalText(t *testing.T) {
	var rate Rate
	if err := rate.UnmarshalText([]byte("0.15")); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got := rate.Commission(100); got != 15 {
		t.Fatalf("Commission(100) = %d, want 15", got)
	}
	if err := rate.UnmarshalText([]byte("2")); err == nil {
		t.Fatal("expected out-of-range error")
	}
}

func TestRateMarshalTextRoundTrip(t *testing.T) {
	text, err := MustParseRate("0.125").MarshalText()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var rate Rate
	if err := rate.UnmarshalText(text); err != nil {
		t.Fatalf("unmarshal %q: %v", text, err)
	}
	if got := rate.Commission(800); got != 100 {
		t.Fatalf("Commission(800) = %d, want 100", got)
	}
}
