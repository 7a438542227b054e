package money

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestParsePositive(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		want    string
		wantErr error
	}{
		{name: "plain", raw: "10", want: "10.0000000"},
		{name: "seven decimals", raw: "9.5000000", want: "9.5000000"},
		{name: "trims spaces", raw: " 0.0000001 ", want: "0.0000001"},
		{name: "empty", raw: "", wantErr: ErrInvalidAmount},
		{name: "not a number", raw: "ten", wantErr: ErrInvalidAmount},
		{name: "too many decimals", raw: "1.00000001", wantErr: ErrInvalidAmount},
		{name: "zero", raw: "0", wantErr: ErrNonPositiveAmount},
		{name: "negative", raw: "-5", wantErr: ErrNonPositiveAmount},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, err := ParsePositive(tc.raw)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("ParsePositive(%q) error = %v, want %v", tc.raw, err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParsePositive(%q) unexpected error: %v", tc.raw, err)
			}
			if got := Format(d); got != tc.want {
				t.Fatalf("Format = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestFormatAlwaysSevenDecimals(t *testing.T) {
	d := decimal.RequireFromString("0.05").Mul(decimal.RequireFromString("10"))
	if got := Format(d); got != "0.5000000" {
		t.Fatalf("Format = %q, want %q", got, "0.5000000")
	}
}
