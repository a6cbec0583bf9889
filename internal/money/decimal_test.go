package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	d, err := Parse("1.23")
	assert.NoError(t, err)
	assert.Equal(t, "1.2300", d.String())

	_, err = Parse("not-a-number")
	assert.Error(t, err)
}

func TestDecimal_IsPositive(t *testing.T) {
	assert.True(t, MustParse("0.01").IsPositive())
	assert.False(t, Zero().IsPositive())
	assert.False(t, MustParse("-1.00").IsPositive())
}

func TestDecimal_Cmp(t *testing.T) {
	assert.Equal(t, 0, MustParse("1.5").Cmp(MustParse("1.50")))
	assert.Equal(t, 1, MustParse("2").Cmp(MustParse("1")))
	assert.Equal(t, -1, MustParse("1").Cmp(MustParse("2")))
}

func TestDecimal_ZeroValue(t *testing.T) {
	var d Decimal
	assert.True(t, d.IsZero())
	assert.False(t, d.IsPositive())
	assert.Equal(t, "0", d.String())
}
