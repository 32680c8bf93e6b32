package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusFor(t *testing.T) {
	assert.Equal(t, Incomplete, StatusFor(0, 10))
	assert.Equal(t, PartialFilled, StatusFor(4, 10))
	assert.Equal(t, CompletelyFilled, StatusFor(10, 10))
}

func TestOrderRemaining(t *testing.T) {
	o := Order{TotalQuantity: 10, FilledQuantity: 3}
	assert.Equal(t, uint64(7), o.Remaining())
}

func TestOrderValidate(t *testing.T) {
	good := Order{Price: 5, TotalQuantity: 10, FilledQuantity: 4, Status: PartialFilled}
	assert.NoError(t, good.Validate())

	badPrice := good
	badPrice.Price = 11
	assert.Error(t, badPrice.Validate())

	zeroQty := good
	zeroQty.TotalQuantity = 0
	assert.Error(t, zeroQty.Validate())

	overfilled := good
	overfilled.FilledQuantity = 20
	assert.Error(t, overfilled.Validate())

	mismatchedStatus := good
	mismatchedStatus.Status = CompletelyFilled
	assert.Error(t, mismatchedStatus.Validate())

	cancelledAnyway := good
	cancelledAnyway.Status = Cancelled
	assert.NoError(t, cancelledAnyway.Validate())
}

func TestTradeValue(t *testing.T) {
	tr := Trade{Price: 7, Quantity: 3}
	assert.Equal(t, uint64(21), tr.Value())
}

func TestMakeFingerprintIsStableAndDistinct(t *testing.T) {
	a := MakeFingerprint("evt1", Buy, Yes, 5)
	b := MakeFingerprint("evt1", Buy, Yes, 5)
	c := MakeFingerprint("evt1", Sell, Yes, 5)
	d := MakeFingerprint("evt1", Buy, No, 5)
	e := MakeFingerprint("evt1", Buy, Yes, 6)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d)
	assert.NotEqual(t, a, e)
}

func TestSideOpposite(t *testing.T) {
	assert.Equal(t, Sell, Buy.Opposite())
	assert.Equal(t, Buy, Sell.Opposite())
}
