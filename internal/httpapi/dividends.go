package httpapi

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aristath/dividend-ingest/internal/domain"
)

// handleTickerDividends is the simple read-only query path explicitly
// marked out of scope by §1 ("treated only as external collaborators via
// their contracts in §6"): a minimal contract-honoring implementation,
// not the focus of this service.
func (s *Server) handleTickerDividends(w http.ResponseWriter, r *http.Request) {
	symbol, ok := domain.NormalizeSymbol(chi.URLParam(r, "ticker"))
	if !ok {
		s.writeError(w, http.StatusBadRequest, "validation", "invalid ticker symbol")
		return
	}

	records, err := s.gw.ListDividends(r.Context(), symbol, dividendFilterFromQuery(r))
	if err != nil {
		s.writeAppError(w, err)
		return
	}

	if r.URL.Query().Get("format") == "csv" {
		writeDividendCSV(w, symbol, records, false)
		return
	}
	s.writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleAllDividends(w http.ResponseWriter, r *http.Request) {
	records, err := s.gw.ListAllDividends(r.Context(), dividendFilterFromQuery(r))
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	if r.URL.Query().Get("format") == "csv" {
		writeDividendCSV(w, "", records, true)
		return
	}
	s.writeJSON(w, http.StatusOK, records)
}

// handleMyDividends implements §4.9's join of a user's subscribed tickers
// with the dividends view.
func (s *Server) handleMyDividends(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r)
	subs, err := s.gw.ListSubscriptions(r.Context(), user.ID)
	if err != nil {
		s.writeAppError(w, err)
		return
	}

	filter := dividendFilterFromQuery(r)
	var all []domain.Dividend
	for _, sub := range subs {
		records, err := s.gw.ListDividends(r.Context(), sub.TickerSymbol, filter)
		if err != nil {
			continue
		}
		all = append(all, records...)
	}

	if r.URL.Query().Get("format") == "csv" {
		writeDividendCSV(w, "", all, true)
		return
	}
	s.writeJSON(w, http.StatusOK, all)
}

// writeDividendCSV implements §6.2's two header layouts. Out of scope per
// §1, kept minimal rather than feature-complete.
func writeDividendCSV(w http.ResponseWriter, ticker string, records []domain.Dividend, withTickerColumn bool) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", csvFilename(ticker)))

	cw := csv.NewWriter(w)
	defer cw.Flush()

	header := []string{"Declaration Date", "Record Date", "Ex-Dividend Date", "Pay Date", "Amount", "Currency", "Frequency", "Type"}
	if withTickerColumn {
		header = append([]string{"Ticker"}, header...)
	}
	_ = cw.Write(header)

	for _, d := range records {
		row := []string{
			optionalDate(d.DeclarationDate),
			optionalDate(d.RecordDate),
			d.ExDividendDate.Format("2006-01-02"),
			optionalDate(d.PayDate),
			d.Amount.String(),
			d.Currency,
			fmt.Sprintf("%d", d.Frequency),
			d.Type,
		}
		if withTickerColumn {
			row = append([]string{d.Ticker}, row...)
		}
		_ = cw.Write(row)
	}
}

func optionalDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}

func csvFilename(ticker string) string {
	if ticker == "" {
		return "dividends.csv"
	}
	return ticker + "-dividends.csv"
}
