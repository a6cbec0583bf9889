package domain

import (
	"time"

	"github.com/aristath/dividend-ingest/internal/money"
)

// Dividend is one cash (or other typed) distribution event. Its natural key
// is (Ticker, ExDividendDate); upserts replace the row in place.
type Dividend struct {
	Ticker           string
	ExDividendDate   time.Time
	DeclarationDate  *time.Time
	RecordDate       *time.Time
	PayDate          *time.Time
	Amount           money.Decimal
	Currency         string
	Frequency        int
	Type             string
	PolygonID        string
	DataSource       string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Defaults per §3.
const (
	DefaultCurrency   = "USD"
	DefaultFrequency  = 4
	DefaultType       = "Cash"
	DefaultDataSource = "polygon"
)

// Validate enforces the per-record invariants from §3 and §4.2: amount > 0
// and ex-dividend date present. Returns a descriptive error for batch
// summaries; it does not panic or abort the batch.
func (d Dividend) Validate() error {
	if d.ExDividendDate.IsZero() {
		return errMissingExDate
	}
	if !d.Amount.IsPositive() {
		return errNonPositiveAmount
	}
	return nil
}

var (
	errMissingExDate     = validationErr("ex_dividend_date is required")
	errNonPositiveAmount = validationErr("amount must be > 0")
)

type validationErr string

func (e validationErr) Error() string { return string(e) }

// WithDefaults fills in the record defaults described in §4.3's transform
// step (currency<-USD, frequency<-4, type<-Cash, dataSource<-polygon).
func (d Dividend) WithDefaults() Dividend {
	if d.Currency == "" {
		d.Currency = DefaultCurrency
	}
	if d.Frequency == 0 {
		d.Frequency = DefaultFrequency
	}
	if d.Type == "" {
		d.Type = DefaultType
	}
	if d.DataSource == "" {
		d.DataSource = DefaultDataSource
	}
	return d
}
