package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"limitboard/internal/domain"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		err        error
		wantKind   Kind
		wantReason string
	}{
		{errors.New("AAA: No timezone found, symbol may be delisted"), KindPermanent, ReasonTZMissing},
		{errors.New("BBB: No price data found, symbol may be delisted (1d)"), KindPermanent, ReasonNoPrice},
		{errors.New("No data found, symbol may be delisted"), KindPermanent, ReasonNoPrice},
		{errors.New("connection reset by peer"), KindTransient, ""},
		{fmt.Errorf("wrapped: %w", context.DeadlineExceeded), KindTransient, ""},
		{fmt.Errorf("wrapped: %w", NewShape("X", "empty")), KindShape, ""},
	}
	for _, tt := range tests {
		got := Classify(tt.err)
		if got.Kind != tt.wantKind || got.Reason != tt.wantReason {
			t.Errorf("Classify(%q) = %v/%q, want %v/%q", tt.err, got.Kind, got.Reason, tt.wantKind, tt.wantReason)
		}
	}
	if Classify(nil) != nil {
		t.Error("Classify(nil) != nil")
	}

	wrapped := fmt.Errorf("single: %w", NewPermanent("ZZZ", ReasonTZMissing, errors.New("x")))
	if reason, ok := IsPermanent(wrapped); !ok || reason != ReasonTZMissing {
		t.Errorf("IsPermanent(wrapped) = %q, %v, want tz_missing, true", reason, ok)
	}
}

func TestNormalize(t *testing.T) {
	b, ok := Normalize(domain.Bar{Symbol: "A", Date: "2024-01-02", Close: 10})
	if !ok || b.Open != 10 || b.High != 10 || b.Low != 10 {
		t.Errorf("Normalize filled = %+v, %v", b, ok)
	}
	if _, ok := Normalize(domain.Bar{Symbol: "A", Date: "2024-01-02", Open: 1, High: 2, Low: 1}); ok {
		t.Error("Normalize without close ok = true, want false")
	}
}

const chartOK = `{"chart":{"result":[{"meta":{"exchangeTimezoneName":"America/Toronto","gmtoffset":-18000},
"timestamp":[1704205800,1704292200,1704378600],
"indicators":{"quote":[{"open":[10,null,11],"high":[10.5,null,11.5],"low":[9.5,null,10.5],"close":[10.2,null,11.2],"volume":[1000,null,2000]}]}}],"error":null}}`

const chartNoTZ = `{"chart":{"result":[{"meta":{},"timestamp":[1704205800],
"indicators":{"quote":[{"open":[1],"high":[1],"low":[1],"close":[1],"volume":[1]}]}}],"error":null}}`

const chartDelisted = `{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found, symbol may be delisted"}}}`

func newYahooServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); ua == "" {
			t.Errorf("request without User-Agent")
		}
		if r.URL.Query().Get("period1") == "" || r.URL.Query().Get("period2") == "" {
			t.Errorf("request %s without period1/period2", r.URL)
		}
		switch {
		case strings.HasSuffix(r.URL.Path, "/GOOD.TO"):
			fmt.Fprint(w, chartOK)
		case strings.HasSuffix(r.URL.Path, "/NOTZ.TO"):
			fmt.Fprint(w, chartNoTZ)
		case strings.HasSuffix(r.URL.Path, "/GONE.TO"):
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, chartDelisted)
		case strings.HasSuffix(r.URL.Path, "/EMPTY.TO"):
			fmt.Fprint(w, `{"chart":{"result":[{"meta":{"exchangeTimezoneName":"America/Toronto"}}],"error":null}}`)
		default:
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, "boom")
		}
	}))
}

func TestYahooFetchOne(t *testing.T) {
	srv := newYahooServer(t)
	defer srv.Close()
	y := NewYahoo(YahooOptions{BaseURL: srv.URL, Timeout: 5 * time.Second})

	bars, err := y.FetchOne(context.Background(), "GOOD.TO", "2024-01-01", "2024-01-05")
	if err != nil {
		t.Fatalf("FetchOne returned error: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("len(bars) = %d, want 2 (null row dropped)", len(bars))
	}
	if bars[0].Date != "2024-01-02" || bars[0].Close != 10.2 || bars[0].Volume != 1000 {
		t.Errorf("bars[0] = %+v", bars[0])
	}
	if bars[1].Date != "2024-01-04" {
		t.Errorf("bars[1].Date = %q, want 2024-01-04", bars[1].Date)
	}

	_, err = y.FetchOne(context.Background(), "NOTZ.TO", "2024-01-01", "2024-01-05")
	if reason, ok := IsPermanent(err); !ok || reason != ReasonTZMissing {
		t.Errorf("NOTZ error = %v, want permanent tz_missing", err)
	}

	_, err = y.FetchOne(context.Background(), "GONE.TO", "2024-01-01", "2024-01-05")
	if reason, ok := IsPermanent(err); !ok || reason != ReasonNoPrice {
		t.Errorf("GONE error = %v, want permanent no_price", err)
	}

	bars, err = y.FetchOne(context.Background(), "EMPTY.TO", "2024-01-01", "2024-01-05")
	if err != nil || len(bars) != 0 {
		t.Errorf("EMPTY = %v, %v, want no bars and no error", bars, err)
	}

	_, err = y.FetchOne(context.Background(), "DOWN.TO", "2024-01-01", "2024-01-05")
	if err == nil || Classify(err).Kind != KindTransient {
		t.Errorf("DOWN error = %v, want transient", err)
	}
}

func TestYahooFetchDaily(t *testing.T) {
	srv := newYahooServer(t)
	defer srv.Close()
	y := NewYahoo(YahooOptions{BaseURL: srv.URL, Threads: 3})

	batch, err := y.FetchDaily(context.Background(),
		[]string{"GOOD.TO", "NOTZ.TO", "EMPTY.TO", "DOWN.TO"}, "2024-01-01", "2024-01-05")
	if err != nil {
		t.Fatalf("FetchDaily returned error: %v", err)
	}
	if len(batch.Bars["GOOD.TO"]) != 2 {
		t.Errorf("GOOD.TO bars = %d, want 2", len(batch.Bars["GOOD.TO"]))
	}
	if _, ok := batch.Bars["EMPTY.TO"]; ok {
		t.Error("EMPTY.TO present in Bars, want absent")
	}
	if _, ok := batch.Errors["NOTZ.TO"]; !ok {
		t.Error("NOTZ.TO missing from Errors")
	}
	if _, ok := batch.Errors["DOWN.TO"]; !ok {
		t.Error("DOWN.TO missing from Errors")
	}

	_, err = y.FetchDaily(context.Background(), []string{"DOWN.TO", "ALSO.TO"}, "2024-01-01", "2024-01-05")
	if err == nil {
		t.Error("FetchDaily with every symbol failing returned nil error")
	}
}
