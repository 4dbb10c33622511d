package market

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/rewired-gh/repricer/internal/metrics"
	"github.com/rewired-gh/repricer/internal/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *[]time.Duration) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, "secret-key", ClientConfig{Timeout: 2 * time.Second, MaxRetries: 3, RetryDelay: 10 * time.Second})
	var sleeps []time.Duration
	c.sleep = func(d time.Duration) { sleeps = append(sleeps, d) }
	return c, &sleeps
}

func TestFetchListings_FiltersSold(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/items" || r.URL.Query().Get("v") != "2" {
			t.Errorf("unexpected request %s", r.URL.String())
		}
		if r.URL.Query().Get("key") != "secret-key" {
			t.Errorf("missing api key in query")
		}
		_, _ = w.Write([]byte(`{"success":true,"items":[
			{"item_id":"1","market_hash_name":"AK-47 | Redline (Field-Tested)","price":10.5,"status":"1"},
			{"item_id":"2","market_hash_name":"AWP | Asiimov (Field-Tested)","price":50,"status":2},
			{"item_id":"3","market_hash_name":"Glock-18 | Fade (Factory New)","price":114.391,"status":9}
		]}`))
	})

	listings, err := c.FetchListings(context.Background())
	if err != nil {
		t.Fatalf("FetchListings: %v", err)
	}
	if len(listings) != 2 {
		t.Fatalf("got %d listings, want 2", len(listings))
	}
	if listings[0].ItemID != "1" || listings[0].Price != 10500 {
		t.Errorf("unexpected first listing: %+v", listings[0])
	}
	if listings[1].ItemID != "3" || listings[1].Price != 114391 {
		t.Errorf("unknown status should stay active: %+v", listings[1])
	}
}

func TestFetchBestOffers_DecodesThousandths(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("hash_name"); got != "AK-47 | Redline (Field-Tested)" {
			t.Errorf("hash_name = %q", got)
		}
		_, _ = w.Write([]byte(`{"success":true,"data":[{"price":114391},{"price":"115000"}]}`))
	})

	offers, err := c.FetchBestOffers(context.Background(), "AK-47 | Redline (Field-Tested)")
	if err != nil {
		t.Fatalf("FetchBestOffers: %v", err)
	}
	if len(offers) != 2 || offers[0].Price != models.PriceFromFloat(114.391) || offers[1].Price != 115000 {
		t.Errorf("unexpected offers: %+v", offers)
	}
}

func TestFetchBestOffers_EmptyIsNotError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"data":[]}`))
	})

	offers, err := c.FetchBestOffers(context.Background(), "x")
	if err != nil {
		t.Fatalf("FetchBestOffers: %v", err)
	}
	if len(offers) != 0 {
		t.Errorf("expected no offers, got %d", len(offers))
	}
}

func TestSetPrice_WireFormat(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if r.URL.Path != "/set-price" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if q.Get("item_id") != "42" || q.Get("price") != "114391" || q.Get("cur") != "USD" {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"success":true}`))
	})

	if err := c.SetPrice(context.Background(), "42", models.PriceFromFloat(114.391), ""); err != nil {
		t.Fatalf("SetPrice: %v", err)
	}
}

func TestSetPrice_TooOftenIsAPIErrorWithoutRetry(t *testing.T) {
	var calls int32
	c, sleeps := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(`{"success":false,"error":"too_often"}`))
	})

	err := c.SetPrice(context.Background(), "42", 9490, "USD")
	if !IsTooOften(err) {
		t.Fatalf("expected too_often error, got %v", err)
	}
	if RawPayload(err) != `{"success":false,"error":"too_often"}` {
		t.Errorf("raw payload = %q", RawPayload(err))
	}
	if calls != 1 || len(*sleeps) != 0 {
		t.Errorf("client must not retry application errors: calls=%d sleeps=%d", calls, len(*sleeps))
	}
}

func TestServerErrorNotRetried(t *testing.T) {
	var calls int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`oops`))
	})

	_, err := c.Balance(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.Status != http.StatusInternalServerError || apiErr.Body != "oops" {
		t.Errorf("unexpected api error: %+v", apiErr)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestMalformedPayload(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":tru`))
	})

	err := c.Ping(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || !strings.Contains(apiErr.Message, "malformed") {
		t.Fatalf("expected malformed api error, got %v", err)
	}
}

func durationSamples(t *testing.T, endpoint string) uint64 {
	t.Helper()
	var m dto.Metric
	if err := metrics.APIRequestDuration.WithLabelValues(endpoint).(prometheus.Metric).Write(&m); err != nil {
		t.Fatalf("read histogram: %v", err)
	}
	return m.GetHistogram().GetSampleCount()
}

func TestNetworkErrorRetriedWithFixedDelay(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := srv.URL
	srv.Close()
	before := durationSamples(t, "items")

	c := NewClient(addr, "secret-key", ClientConfig{Timeout: time.Second, MaxRetries: 3, RetryDelay: 10 * time.Second})
	var sleeps []time.Duration
	c.sleep = func(d time.Duration) { sleeps = append(sleeps, d) }

	_, err := c.FetchListings(context.Background())
	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("expected *NetworkError, got %v", err)
	}
	if netErr.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", netErr.Attempts)
	}
	if len(sleeps) != 2 || sleeps[0] != 10*time.Second || sleeps[1] != 10*time.Second {
		t.Errorf("sleeps = %v, want two 10s waits", sleeps)
	}
	if strings.Contains(err.Error(), "secret-key") {
		t.Errorf("error leaks api key: %v", err)
	}
	if got := durationSamples(t, "items") - before; got != 3 {
		t.Errorf("failed attempts observed %d times, want 3", got)
	}
}

func TestNetworkErrorRecovers(t *testing.T) {
	var calls int32
	c, sleeps := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			hj, ok := w.(http.Hijacker)
			if !ok {
				t.Error("hijack unsupported")
				return
			}
			conn, _, _ := hj.Hijack()
			conn.Close()
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"money":12.345,"currency":"USD"}`))
	})

	balance, err := c.Balance(context.Background())
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if balance.String() != "12.345" {
		t.Errorf("balance = %s", balance)
	}
	if len(*sleeps) != 1 {
		t.Errorf("expected one retry wait, got %v", *sleeps)
	}
}

func TestCancelledContextNotRetried(t *testing.T) {
	c, sleeps := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true}`))
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := c.Ping(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(*sleeps) != 0 {
		t.Errorf("cancelled request must not be retried")
	}
}

func TestFetchInventory(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/my-inventory" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"success":true,"items":[{"id":"77","market_hash_name":"Sticker | Crown (Foil)","market_price":812.5,"tradable":1}]}`))
	})

	items, err := c.FetchInventory(context.Background())
	if err != nil {
		t.Fatalf("FetchInventory: %v", err)
	}
	if len(items) != 1 || items[0].ID != "77" || items[0].MarketPrice != 812500 || !items[0].Tradable {
		t.Errorf("unexpected inventory: %+v", items)
	}
}

type countingLimiter struct {
	n         int32
	endpoints []string
}

func (l *countingLimiter) Acquire(ctx context.Context, endpoint string) error {
	atomic.AddInt32(&l.n, 1)
	l.endpoints = append(l.endpoints, endpoint)
	return nil
}

func TestLimiterAcquiredPerRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	lim := &countingLimiter{}
	c := NewClient(srv.URL, "k", ClientConfig{Limiter: lim})
	for i := 0; i < 3; i++ {
		if err := c.Ping(context.Background()); err != nil {
			t.Fatalf("Ping: %v", err)
		}
	}
	if err := c.SetPrice(context.Background(), "42", 9490, "USD"); err != nil {
		t.Fatalf("SetPrice: %v", err)
	}
	if lim.n != 4 {
		t.Errorf("limiter acquired %d times, want 4", lim.n)
	}
	if got := lim.endpoints[len(lim.endpoints)-1]; got != "set-price" || lim.endpoints[0] != "ping-new" {
		t.Errorf("limiter endpoints = %v", lim.endpoints)
	}
}
