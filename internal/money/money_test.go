package money

import "testing"

func TestFormat(t *testing.T) {
	cases := []struct {
		cents    int64
		currency string
		want     string
	}{
		{0, "USD", "$0"},
		{49, "USD", "$0"},
		{50, "USD", "$1"},
		{123456, "USD", "$1,235"},
		{699000, "GHS", "₵6,990"},
		{1199000, "GHS", "₵11,990"},
		{100000000, "USD", "$1,000,000"},
		{-699000, "USD", "-$6,990"},
		{699000, "", "$6,990"},
	}

	for _, tc := range cases {
		if got := Format(tc.cents, tc.currency); got != tc.want {
			t.Fatalf("Format(%d, %q) = %q, want %q", tc.cents, tc.currency, got, tc.want)
		}
	}
}
