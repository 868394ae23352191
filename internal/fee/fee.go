// Package fee computes the platform/recipient split of a booking's gross amount.
package fee

// Mode selects the platform fee rate applied to a gross amount.
type Mode string

const (
	ModeStandard        Mode = "STANDARD"
	ModeDisputeResolved Mode = "DISPUTE_RESOLVED"
)

const basisPointsScale = 10_000

var rates = map[Mode]int64{
	ModeStandard:        1_000,
	ModeDisputeResolved: 500,
}

// Result is a split of a gross amount in minor units.
type Result struct {
	Gross     int64 `json:"gross"`
	Fee       int64 `json:"fee"`
	Recipient int64 `json:"recipient"`
}

// RateBasisPoints returns the fee rate for mode. Unknown modes use the standard rate.
func RateBasisPoints(mode Mode) int64 {
	if bps, ok := rates[mode]; ok {
		return bps
	}
	return rates[ModeStandard]
}

// Split computes fee = round_half_up(gross * rate) and recipient = gross - fee.
// gross is expected to be positive; callers validate it.
func Split(gross int64, mode Mode) Result {
	fee := percentOf(gross, RateBasisPoints(mode))
	return Result{
		Gross:     gross,
		Fee:       fee,
		Recipient: gross - fee,
	}
}

// percentOf keeps the multiplication within int64 by handling the quotient
// and remainder of gross separately.
func percentOf(gross, bps int64) int64 {
	if gross <= 0 {
		return 0
	}
	q, r := gross/basisPointsScale, gross%basisPointsScale
	return q*bps + (r*bps+basisPointsScale/2)/basisPointsScale
}
