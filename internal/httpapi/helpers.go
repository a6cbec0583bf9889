package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/aristath/dividend-ingest/internal/apperr"
	"github.com/aristath/dividend-ingest/internal/store"
)

func isNotFound(err error) bool {
	return apperr.Is(err, apperr.NotFound)
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func queryDate(r *http.Request, key string) *time.Time {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return nil
	}
	return &t
}

func dividendFilterFromQuery(r *http.Request) store.DividendFilter {
	return store.DividendFilter{
		StartDate: queryDate(r, "startDate"),
		EndDate:   queryDate(r, "endDate"),
		Limit:     queryInt(r, "limit", 100),
		Offset:    queryInt(r, "offset", 0),
	}
}
