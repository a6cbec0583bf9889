package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/aristath/dividend-ingest/internal/money"
)

func TestDividend_Validate(t *testing.T) {
	valid := Dividend{
		ExDividendDate: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Amount:         money.MustParse("0.25"),
	}
	assert.NoError(t, valid.Validate())

	missingDate := valid
	missingDate.ExDividendDate = time.Time{}
	assert.Error(t, missingDate.Validate())

	zeroAmount := valid
	zeroAmount.Amount = money.Zero()
	assert.Error(t, zeroAmount.Validate())

	negativeAmount := valid
	negativeAmount.Amount = money.MustParse("-1.00")
	assert.Error(t, negativeAmount.Validate())
}

func TestDividend_WithDefaults(t *testing.T) {
	d := Dividend{}.WithDefaults()
	assert.Equal(t, DefaultCurrency, d.Currency)
	assert.Equal(t, DefaultFrequency, d.Frequency)
	assert.Equal(t, DefaultType, d.Type)
	assert.Equal(t, DefaultDataSource, d.DataSource)

	explicit := Dividend{Currency: "EUR", Frequency: 1, Type: "Stock", DataSource: "manual"}.WithDefaults()
	assert.Equal(t, "EUR", explicit.Currency)
	assert.Equal(t, 1, explicit.Frequency)
	assert.Equal(t, "Stock", explicit.Type)
	assert.Equal(t, "manual", explicit.DataSource)
}
