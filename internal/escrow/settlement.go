package escrow

import (
	"math"
	"math/bits"
)

// FiatToICP converts a fiat amount to ICP e8s at the rate frozen in the deposit
func FiatToICP(fiat uint64, d Deposit) uint64 {
	if d.ValueFiat == 0 {
		return 0
	}
	icp := math.Round(float64(fiat) * float64(d.ValueICP) / float64(d.ValueFiat))
	if icp >= math.MaxUint64 {
		return math.MaxUint64
	}
	return uint64(icp)
}

// RefundAmount is the deposit part not covered by sold installments, bounded by what is held
func RefundAmount(d Deposit, soldFiat, held uint64) uint64 {
	covered := FiatToICP(soldFiat, d)
	if covered >= d.ValueICP {
		return 0
	}
	refund := d.ValueICP - covered
	if refund > held {
		return held
	}
	return refund
}

// SellerShare is the part of the deposit owed to a seller holding quota percent
func SellerShare(d Deposit, quota uint8) (uint64, bool) {
	hi, lo := bits.Mul64(d.ValueICP, uint64(quota))
	if hi != 0 {
		return 0, false
	}
	return lo / 100, true
}
