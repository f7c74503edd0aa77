package services

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
	"strings"
	"time"

	"github.com/codyseavey/poke-collection/internal/metrics"
	"github.com/codyseavey/poke-collection/internal/models"
)

const (
	pricingDefaultBaseURL = "https://api.pokemontcg.io/v2"
	pricingDefaultTimeout = 30 * time.Second
)

// APIError is a non-2xx answer from the pricing service or an artifact host
type APIError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *APIError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
	}
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
}

// Retryable reports whether the status is a transient condition:
// rate limiting, request timeout or a server error.
func (e *APIError) Retryable() bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests,
		http.StatusRequestTimeout,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// IsRetryable classifies an error returned by the pricing client.
// Transport timeouts are retryable, context cancellation never is.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// RemoteCard is one card record of a cards page
type RemoteCard struct {
	Number     string            `json:"number"`
	Cardmarket *RemoteCardmarket `json:"cardmarket"`
}

// RemoteCardmarket holds the market block of a card record.
// Prices are kept loosely typed so a malformed field only loses that field.
type RemoteCardmarket struct {
	URL       string         `json:"url"`
	UpdatedAt string         `json:"updatedAt"`
	Prices    map[string]any `json:"prices"`
}

// PriceEntry converts the remote record into a catalog entry
func (c RemoteCard) PriceEntry() models.PriceEntry {
	if c.Cardmarket == nil {
		return models.PriceEntry{}
	}
	p := c.Cardmarket.Prices
	return models.PriceEntry{
		Trend:        priceField(p, "trendPrice"),
		Avg7:         priceField(p, "avg7"),
		Avg30:        priceField(p, "avg30"),
		Low:          priceField(p, "lowPrice"),
		ReverseTrend: priceField(p, "reverseHoloTrend"),
		URL:          c.Cardmarket.URL,
		UpdatedAt:    c.Cardmarket.UpdatedAt,
	}
}

func priceField(prices map[string]any, key string) *float64 {
	switch v := prices[key].(type) {
	case float64:
		return &v
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return &f
		}
	}
	return nil
}

// RemoteSet is one record of a sets page
type RemoteSet struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Series string `json:"series"`
	Images struct {
		Symbol string `json:"symbol"`
		Logo   string `json:"logo"`
	} `json:"images"`
}

// CardPageFetcher fetches one page of card price records for a set
type CardPageFetcher interface {
	FetchCardsPage(ctx context.Context, setID string, page, pageSize int) ([]RemoteCard, error)
}

// PricingClient talks to the remote card pricing service
type PricingClient struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

// NewPricingClient creates a client. An empty apiKey sends anonymous requests,
// which the service serves under a lower rate limit.
func NewPricingClient(baseURL, apiKey string, timeout time.Duration) *PricingClient {
	if baseURL == "" {
		baseURL = pricingDefaultBaseURL
	}
	if timeout <= 0 {
		timeout = pricingDefaultTimeout
	}
	return &PricingClient{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
	}
}

// FetchCardsPage fetches one 1-based page of the price records of a set
func (c *PricingClient) FetchCardsPage(ctx context.Context, setID string, page, pageSize int) ([]RemoteCard, error) {
	params := url.Values{}
	params.Set("q", fmt.Sprintf("set.id:%q", setID))
	params.Set("select", "number,cardmarket")
	params.Set("page", strconv.Itoa(page))
	params.Set("pageSize", strconv.Itoa(pageSize))

	var resp struct {
		Data []RemoteCard `json:"data"`
	}
	if err := c.getJSON(ctx, "cards", c.baseURL+"/cards?"+params.Encode(), &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// FetchSetsPage fetches one 1-based page of set metadata
func (c *PricingClient) FetchSetsPage(ctx context.Context, page, pageSize int) ([]RemoteSet, error) {
	params := url.Values{}
	params.Set("select", "id,name,series,images")
	params.Set("page", strconv.Itoa(page))
	params.Set("pageSize", strconv.Itoa(pageSize))

	var resp struct {
		Data []RemoteSet `json:"data"`
	}
	if err := c.getJSON(ctx, "sets", c.baseURL+"/sets?"+params.Encode(), &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (c *PricingClient) getJSON(ctx context.Context, endpoint, reqURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		status := "error"
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			status = "timeout"
		}
		metrics.PricingRequestsTotal.WithLabelValues(endpoint, status).Inc()
		return fmt.Errorf("request to %s failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	metrics.PricingRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return &APIError{
			StatusCode: resp.StatusCode,
			URL:        reqURL,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", endpoint, err)
	}
	return nil
}
