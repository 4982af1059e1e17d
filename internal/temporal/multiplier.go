// Package temporal implements yes/no markets on future story chapters. The
// payout multiplier grows with the horizon between opening and resolution
// and is locked into each bet when it is placed.
package temporal

// MaxMultiplierBps caps the curve at 20x.
const MaxMultiplierBps int64 = 200_000

// MultiplierBps is the piecewise-linear horizon curve in basis points.
//
//	h <= 0      1.00
//	h == 1      1.15
//	1 < h <= 5  1.15 + (h-1)*0.15
//	5 < h <= 10 1.75 + (h-5)*0.35
//	10 < h <= 20 3.50 + (h-10)*0.25
//	20 < h <= 50 6.00 + (h-20)*0.15
//	h > 50      min(20.00, 10.50 + (h-50)*0.10)
func MultiplierBps(h int) int64 {
	x := int64(h)
	switch {
	case h <= 0:
		return 10_000
	case h <= 5:
		return 11_500 + (x-1)*1_500
	case h <= 10:
		return 17_500 + (x-5)*3_500
	case h <= 20:
		return 35_000 + (x-10)*2_500
	case h <= 50:
		return 60_000 + (x-20)*1_500
	}
	if h >= 50+int((MaxMultiplierBps-105_000)/1_000) {
		return MaxMultiplierBps
	}
	return 105_000 + (x-50)*1_000
}
