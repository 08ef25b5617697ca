package contracts

import (
	"math/bits"
	"sort"
)

// SellerRange is the half-open index range [Start, End) minted to a seller
type SellerRange struct {
	Seller string
	Start  uint64
	End    uint64
}

// Partition splits installments across sellers by quota using the largest remainder
// method. Ranges are contiguous, follow seller order and cover [0, installments).
// Remainder ties go to the earlier seller. Quotas must sum to 100.
func Partition(installments uint64, sellers []Seller) []SellerRange {
	counts := make([]uint64, len(sellers))
	remainders := make([]uint64, len(sellers))
	var assigned uint64
	for i, s := range sellers {
		hi, lo := bits.Mul64(installments, uint64(s.Quota))
		q, r := bits.Div64(hi, lo, 100)
		counts[i] = q
		remainders[i] = r
		assigned += q
	}

	order := make([]int, len(sellers))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return remainders[order[a]] > remainders[order[b]]
	})
	for i := 0; assigned < installments && len(order) > 0; i++ {
		counts[order[i%len(order)]]++
		assigned++
	}

	ranges := make([]SellerRange, 0, len(sellers))
	var start uint64
	for i, s := range sellers {
		ranges = append(ranges, SellerRange{Seller: s.Address, Start: start, End: start + counts[i]})
		start += counts[i]
	}
	return ranges
}

// SellerAt returns the seller owning index in ranges
func SellerAt(ranges []SellerRange, index uint64) (string, bool) {
	for _, r := range ranges {
		if index >= r.Start && index < r.End {
			return r.Seller, true
		}
	}
	return "", false
}
