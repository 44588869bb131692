package convert

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestToFloat64(t *testing.T) {
	assert.Equal(t, 1.5, ToFloat64("1.5"))
	assert.Equal(t, 2.0, ToFloat64(json.Number("2")))
	assert.Equal(t, 0.0, ToFloat64(struct{}{}))
}

func TestToInt64(t *testing.T) {
	assert.Equal(t, int64(1700000000000), ToInt64("1700000000000"))
	assert.Equal(t, int64(42), ToInt64(42.0))
}

func TestToDecimalKeepsPrecision(t *testing.T) {
	d := ToDecimal("0.10000000000000000001")
	assert.True(t, d.GreaterThan(decimal.RequireFromString("0.1")))
	assert.True(t, ToDecimal("garbage").IsZero())
}
