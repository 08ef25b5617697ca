package escrow

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFiatToICP(t *testing.T) {
	deposit := Deposit{ValueFiat: 10, ValueICP: 100 * 100_000_000}

	assert.Equal(t, uint64(50*100_000_000), FiatToICP(5, deposit))
	assert.Equal(t, uint64(0), FiatToICP(0, deposit))
	assert.Equal(t, uint64(0), FiatToICP(5, Deposit{}))

	// rounds to nearest unit
	assert.Equal(t, uint64(33), FiatToICP(1, Deposit{ValueFiat: 3, ValueICP: 100}))
	assert.Equal(t, uint64(67), FiatToICP(2, Deposit{ValueFiat: 3, ValueICP: 100}))
}

func TestRefundAmount(t *testing.T) {
	deposit := Deposit{ValueFiat: 400_000, ValueICP: 400_000_000_000}

	assert.Equal(t, uint64(200_000_000_000), RefundAmount(deposit, 200_000, deposit.ValueICP))
	assert.Equal(t, deposit.ValueICP, RefundAmount(deposit, 0, deposit.ValueICP))
	assert.Equal(t, uint64(0), RefundAmount(deposit, 400_000, deposit.ValueICP))
	assert.Equal(t, uint64(0), RefundAmount(deposit, 500_000, deposit.ValueICP))
	// never more than held
	assert.Equal(t, uint64(1_000), RefundAmount(deposit, 0, 1_000))
}

func TestSellerShare(t *testing.T) {
	share, ok := SellerShare(Deposit{ValueICP: 400_000_000_000}, 60)
	assert.True(t, ok)
	assert.Equal(t, uint64(240_000_000_000), share)

	_, ok = SellerShare(Deposit{ValueICP: math.MaxUint64}, 60)
	assert.False(t, ok)
}
