// Package money formats cent amounts for receipts and summaries. Display
// follows shop convention: whole currency units, thousands separators, no
// decimals.
package money

import "strconv"

// Format renders cents as a display string, rounding to the nearest whole
// unit. GHS uses the cedi symbol alone; everything else falls back to USD.
func Format(cents int64, currency string) string {
	symbol := "$"
	if currency == "GHS" {
		symbol = "₵"
	}
	units := roundToUnits(cents)
	if units < 0 {
		return "-" + symbol + groupDigits(-units)
	}
	return symbol + groupDigits(units)
}

func roundToUnits(cents int64) int64 {
	if cents >= 0 {
		return (cents + 50) / 100
	}
	return -((-cents + 50) / 100)
}

func groupDigits(units int64) string {
	negative := units < 0
	if negative {
		units = -units
	}
	digits := strconv.FormatInt(units, 10)

	var out []byte
	for i, d := range []byte(digits) {
		if i > 0 && (len(digits)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, d)
	}
	if negative {
		return "-" + string(out)
	}
	return string(out)
}
