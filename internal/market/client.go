// Package market is a client for the market.csgo.com v2 API.
package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/awnumar/memguard"
	"github.com/rewired-gh/repricer/internal/logger"
	"github.com/rewired-gh/repricer/internal/metrics"
	"github.com/rewired-gh/repricer/internal/models"
	"github.com/shopspring/decimal"
)

const (
	DefaultBaseURL  = "https://market.csgo.com/api/v2"
	DefaultCurrency = "USD"
)

// Limiter gates outbound requests per endpoint. *ratelimit.RateLimiter
// implements it.
type Limiter interface {
	Acquire(ctx context.Context, endpoint string) error
}

// ClientConfig holds the transport and retry policy.
type ClientConfig struct {
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	Limiter    Limiter
}

// Client provides access to the marketplace API.
type Client struct {
	baseURL    string
	key        *memguard.Enclave
	httpClient *http.Client
	maxRetries int
	retryDelay time.Duration
	limiter    Limiter
	sleep      func(time.Duration)
}

// envelope is the part every response shares.
type envelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type itemsResponse struct {
	envelope
	Items []struct {
		ItemID         string  `json:"item_id"`
		MarketHashName string  `json:"market_hash_name"`
		Price          float64 `json:"price"`
		Status         flexInt `json:"status"`
	} `json:"items"`
}

type inventoryResponse struct {
	envelope
	Items []struct {
		ID             string  `json:"id"`
		MarketHashName string  `json:"market_hash_name"`
		MarketPrice    float64 `json:"market_price"`
		Tradable       flexInt `json:"tradable"`
	} `json:"items"`
}

type searchResponse struct {
	envelope
	Data []struct {
		Price flexInt `json:"price"`
	} `json:"data"`
}

type moneyResponse struct {
	envelope
	Money    decimal.Decimal `json:"money"`
	Currency string          `json:"currency"`
}

// flexInt accepts both 2 and "2"; the API is not consistent about it.
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			*f = 0
			return nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return err
		}
		*f = flexInt(n)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	v, err := n.Int64()
	if err != nil {
		fv, ferr := n.Float64()
		if ferr != nil {
			return err
		}
		v = int64(fv)
	}
	*f = flexInt(v)
	return nil
}

// NewClient creates a new marketplace client. The API key is moved into an
// encrypted enclave and only decrypted while building a request URL.
// An empty key yields a client that sends no key parameter.
func NewClient(baseURL, apiKey string, cfg ClientConfig) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}

	return &Client{
		baseURL: baseURL,
		key:     memguard.NewEnclave([]byte(apiKey)),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 15 * time.Second}).DialContext,
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 5 * time.Second,
			},
		},
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		limiter:    cfg.Limiter,
		sleep:      time.Sleep,
	}
}

// FetchListings returns our listings that are still for sale.
// Listings with the sold/in-progress status are dropped.
func (c *Client) FetchListings(ctx context.Context) ([]models.RawListing, error) {
	var resp itemsResponse
	if err := c.get(ctx, "items", url.Values{"v": {"2"}}, &resp); err != nil {
		return nil, err
	}

	listings := make([]models.RawListing, 0, len(resp.Items))
	sold := 0
	for _, it := range resp.Items {
		l := models.RawListing{
			ItemID:         it.ItemID,
			MarketHashName: it.MarketHashName,
			Price:          models.PriceFromFloat(it.Price),
			Status:         int(it.Status),
		}
		if !l.Active() {
			sold++
			logger.Debug("Skipping sold listing %s (status=%d)", l.MarketHashName, l.Status)
			continue
		}
		listings = append(listings, l)
	}
	logger.Debug("Fetched %d listings: %d active, %d sold or in progress", len(resp.Items), len(listings), sold)

	return listings, nil
}

// FetchInventory returns inventory items that can be put up for sale.
func (c *Client) FetchInventory(ctx context.Context) ([]models.InventoryItem, error) {
	var resp inventoryResponse
	if err := c.get(ctx, "my-inventory", nil, &resp); err != nil {
		return nil, err
	}

	items := make([]models.InventoryItem, 0, len(resp.Items))
	for _, it := range resp.Items {
		items = append(items, models.InventoryItem{
			ID:             it.ID,
			MarketHashName: it.MarketHashName,
			MarketPrice:    models.PriceFromFloat(it.MarketPrice),
			Tradable:       it.Tradable != 0,
		})
	}
	return items, nil
}

// FetchBestOffers returns the current sell offers for hashName in the order
// the API sends them (ascending price). An empty slice means no competition.
func (c *Client) FetchBestOffers(ctx context.Context, hashName string) ([]models.Offer, error) {
	var resp searchResponse
	if err := c.get(ctx, "search-item-by-hash-name", url.Values{"hash_name": {hashName}}, &resp); err != nil {
		return nil, err
	}

	offers := make([]models.Offer, 0, len(resp.Data))
	for _, o := range resp.Data {
		offers = append(offers, models.Offer{Price: models.Price(o.Price)})
	}
	return offers, nil
}

// SetPrice changes the price of a listing. The price goes over the wire as
// an integer number of thousandths ($114.391 -> 114391).
func (c *Client) SetPrice(ctx context.Context, itemID string, price models.Price, currency string) error {
	if currency == "" {
		currency = DefaultCurrency
	}
	params := url.Values{
		"item_id": {itemID},
		"price":   {strconv.FormatInt(price.Wire(), 10)},
		"cur":     {currency},
	}
	logger.Debug("set-price item_id=%s price=%s wire=%d cur=%s", itemID, price, price.Wire(), currency)

	var resp envelope
	return c.get(ctx, "set-price", params, &resp)
}

// Ping keeps sales active on the marketplace.
func (c *Client) Ping(ctx context.Context) error {
	var resp envelope
	return c.get(ctx, "ping-new", url.Values{"v": {"2"}}, &resp)
}

// Balance returns the account balance in currency units.
func (c *Client) Balance(ctx context.Context) (decimal.Decimal, error) {
	var resp moneyResponse
	if err := c.get(ctx, "get-money", nil, &resp); err != nil {
		return decimal.Zero, err
	}
	return resp.Money, nil
}

// successful is implemented by every response type through the embedded envelope.
type successful interface {
	ok() (bool, string)
}

func (e *envelope) ok() (bool, string) { return e.Success, e.Error }

// get performs a GET, decodes the JSON body into target and turns
// success=false into an *APIError.
func (c *Client) get(ctx context.Context, endpoint string, params url.Values, target successful) error {
	body, status, err := c.doRequest(ctx, endpoint, params)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, target); err != nil {
		metrics.APIRequestsTotal.WithLabelValues(endpoint, "api_error").Inc()
		if status != http.StatusOK {
			return &APIError{Endpoint: endpoint, Status: status, Message: http.StatusText(status), Body: string(body)}
		}
		return &APIError{Endpoint: endpoint, Status: status, Message: fmt.Sprintf("malformed response: %v", err), Body: string(body)}
	}

	success, msg := target.ok()
	if status != http.StatusOK || !success {
		metrics.APIRequestsTotal.WithLabelValues(endpoint, "api_error").Inc()
		if msg == "" {
			msg = http.StatusText(status)
			if status == http.StatusOK {
				msg = "unknown error"
			}
		}
		return &APIError{Endpoint: endpoint, Status: status, Message: msg, Body: string(body)}
	}

	metrics.APIRequestsTotal.WithLabelValues(endpoint, "ok").Inc()
	return nil
}

// doRequest performs the HTTP request, retrying connection failures and
// timeouts with a fixed blocking delay. It returns the raw body of the
// first response the server produced, whatever its status.
func (c *Client) doRequest(ctx context.Context, endpoint string, params url.Values) ([]byte, int, error) {
	var lastErr error

	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Acquire(ctx, endpoint); err != nil {
				return nil, 0, fmt.Errorf("%s: rate limiter: %w", endpoint, err)
			}
		}

		reqURL, err := c.buildURL(endpoint, params)
		if err != nil {
			return nil, 0, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, 0, err
		}
		req.Header.Set("Accept", "application/json")

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		metrics.APIRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		if err == nil {
			body, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			if readErr == nil {
				return body, resp.StatusCode, nil
			}
			err = readErr
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, 0, ctxErr
		}
		lastErr = scrubURLError(err)
		metrics.APIRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()

		if attempt < c.maxRetries {
			logger.Warn("Connection error on %s: %v; retrying in %v (%d/%d)", endpoint, lastErr, c.retryDelay, attempt+1, c.maxRetries)
			metrics.APIRetriesTotal.WithLabelValues(endpoint).Inc()
			c.sleep(c.retryDelay)
		}
	}

	logger.Error("Request to %s failed after %d attempts: %v", endpoint, c.maxRetries, lastErr)
	return nil, 0, &NetworkError{Endpoint: endpoint, Attempts: c.maxRetries, Err: lastErr}
}

func (c *Client) buildURL(endpoint string, params url.Values) (string, error) {
	u, err := url.Parse(c.baseURL + "/" + endpoint)
	if err != nil {
		return "", fmt.Errorf("failed to parse URL: %w", err)
	}

	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}

	if c.key != nil {
		key, err := c.key.Open()
		if err != nil {
			return "", fmt.Errorf("failed to open api key: %w", err)
		}
		q.Set("key", string(key.Bytes()))
		key.Destroy()
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// scrubURLError drops the request URL, which carries the API key, from
// transport errors before they are logged or returned.
func scrubURLError(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return uerr.Err
	}
	return err
}
