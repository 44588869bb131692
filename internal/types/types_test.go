package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectionJSON(t *testing.T) {
	b, err := json.Marshal(StrongBuy)
	require.NoError(t, err)
	assert.Equal(t, `"STRONG_BUY"`, string(b))

	var d Direction
	require.NoError(t, json.Unmarshal([]byte(`"sell"`), &d))
	assert.Equal(t, Sell, d)
	assert.Error(t, json.Unmarshal([]byte(`"UP"`), &d))
}

func TestSideHelpers(t *testing.T) {
	s, err := ParseSide("long")
	require.NoError(t, err)
	assert.Equal(t, SideBuy, s)
	assert.Equal(t, SideSell, s.Opposite())
	assert.True(t, s.IsLong())

	_, ok := SideFor(DirNeutral)
	assert.False(t, ok)
	side, ok := SideFor(StrongSell)
	assert.True(t, ok)
	assert.Equal(t, SideSell, side)
}
