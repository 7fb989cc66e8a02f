// Package coingecko implements the CoinGecko market-data client used to
// fetch historical daily prices for a single asset.
//
// The client handles rate limiting, retry with exponential backoff for
// transient failures, and conversion of the wire format into RawPoint
// samples. Failures collapse into three typed errors (TransportError,
// StatusError, FormatError) so callers can fail closed without inspecting
// strings.
package coingecko

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/taometrics/pricehist/internal/models"
)

const (
	defaultBaseURL = "https://api.coingecko.com"

	marketChartEndpoint = "/api/v3/coins/%s/market_chart"
	marketRangeEndpoint = "/api/v3/coins/%s/market_chart/range"

	// apiKeyParam carries the demo-tier credential as a query parameter.
	apiKeyParam = "x_cg_demo_api_key"

	maxBodyExcerpt = 512

	initialRetryDelay = 500 * time.Millisecond
	maxRetryDelay     = 15 * time.Second
	maxRetries        = 3
)

// Client is a CoinGecko API client scoped to historical price charts.
type Client struct {
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	baseURL     string
	apiKey      string
	logger      *slog.Logger
}

// Options configures a Client. Zero values fall back to defaults.
type Options struct {
	BaseURL         string
	APIKey          string
	Timeout         time.Duration
	RateLimitPerSec int
	Logger          *slog.Logger
}

// New creates a CoinGecko client.
func New(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RateLimitPerSec <= 0 {
		opts.RateLimitPerSec = 2
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		rateLimiter: rate.NewLimiter(rate.Limit(opts.RateLimitPerSec), 1),
		baseURL:     opts.BaseURL,
		apiKey:      opts.APIKey,
		logger:      opts.Logger,
	}
}

// FetchFullHistory requests the maximum available daily history for the
// asset, quoted in vs.
func (c *Client) FetchFullHistory(ctx context.Context, asset, vs string) ([]models.RawPoint, error) {
	params := url.Values{}
	params.Set("vs_currency", vs)
	params.Set("days", "max")
	params.Set("interval", "daily")

	endpoint := fmt.Sprintf(marketChartEndpoint, url.PathEscape(asset))

	c.logger.Debug("fetching full price history", "asset", asset, "vs_currency", vs)
	return c.fetchPrices(ctx, endpoint, params)
}

// FetchRange requests history for the asset between from and to, both Unix
// epoch seconds. The request is issued even when from > to; the provider
// answers an empty series, which callers treat as "no data returned".
func (c *Client) FetchRange(ctx context.Context, asset, vs string, from, to int64) ([]models.RawPoint, error) {
	params := url.Values{}
	params.Set("vs_currency", vs)
	params.Set("from", strconv.FormatInt(from, 10))
	params.Set("to", strconv.FormatInt(to, 10))

	endpoint := fmt.Sprintf(marketRangeEndpoint, url.PathEscape(asset))

	c.logger.Debug("fetching price range", "asset", asset, "vs_currency", vs, "from", from, "to", to)
	return c.fetchPrices(ctx, endpoint, params)
}

func (c *Client) fetchPrices(ctx context.Context, endpoint string, params url.Values) ([]models.RawPoint, error) {
	if c.apiKey != "" {
		params.Set(apiKeyParam, c.apiKey)
	}
	requestURL := c.baseURL + endpoint + "?" + params.Encode()

	body, err := c.get(ctx, requestURL)
	if err != nil {
		return nil, err
	}

	points, err := parsePrices(body)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("fetched price samples", "count", len(points))
	return points, nil
}

// get performs the HTTP request with rate limiting and retries. Rate-limit
// responses and server errors are retried with exponential backoff; client
// errors are permanent.
func (c *Client) get(ctx context.Context, requestURL string) ([]byte, error) {
	var body []byte

	strategy := backoff.NewExponentialBackOff()
	strategy.InitialInterval = initialRetryDelay
	strategy.MaxInterval = maxRetryDelay
	strategy.MaxElapsedTime = 0 // bounded by retry count and context

	operation := func() error {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return backoff.Permanent(&TransportError{Err: err})
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
		if err != nil {
			return backoff.Permanent(&TransportError{Err: err})
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", "pricehist/1.0")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return &TransportError{Err: err} // retryable
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return &TransportError{Err: err} // retryable
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			statusErr := &StatusError{
				StatusCode: resp.StatusCode,
				Body:       excerpt(data),
			}
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				c.logger.Warn("retryable provider response", "status", resp.StatusCode)
				return statusErr
			}
			return backoff.Permanent(statusErr)
		}

		body = data
		return nil
	}

	err := backoff.Retry(operation,
		backoff.WithContext(backoff.WithMaxRetries(strategy, maxRetries), ctx))
	if err != nil {
		return nil, err
	}
	return body, nil
}

// marketChartResponse mirrors the provider's wire format: an object with a
// prices field of [millisecond_timestamp, price] pairs. Numbers are kept
// as json.Number so price precision survives into decimal.Decimal.
type marketChartResponse struct {
	Prices *[][]json.Number `json:"prices"`
}

func parsePrices(body []byte) ([]models.RawPoint, error) {
	var chart marketChartResponse
	if err := json.Unmarshal(body, &chart); err != nil {
		return nil, &FormatError{Reason: fmt.Sprintf("body is not the expected JSON object: %v", err)}
	}
	if chart.Prices == nil {
		return nil, &FormatError{Reason: `response has no "prices" field`}
	}

	points := make([]models.RawPoint, 0, len(*chart.Prices))
	for i, pair := range *chart.Prices {
		if len(pair) != 2 {
			return nil, &FormatError{Reason: fmt.Sprintf("prices[%d] has %d elements, want 2", i, len(pair))}
		}

		ms, err := parseTimestampMS(pair[0])
		if err != nil {
			return nil, &FormatError{Reason: fmt.Sprintf("prices[%d] timestamp %q: %v", i, pair[0], err)}
		}

		price, err := decimal.NewFromString(pair[1].String())
		if err != nil {
			return nil, &FormatError{Reason: fmt.Sprintf("prices[%d] price %q: %v", i, pair[1], err)}
		}

		points = append(points, models.RawPoint{TimestampMS: ms, Price: price})
	}
	return points, nil
}

// parseTimestampMS accepts integer millisecond timestamps, tolerating the
// scientific notation some JSON encoders emit for large values.
func parseTimestampMS(n json.Number) (int64, error) {
	if ms, err := n.Int64(); err == nil {
		return ms, nil
	}
	f, err := n.Float64()
	if err != nil {
		return 0, err
	}
	return int64(f), nil
}

func excerpt(body []byte) string {
	if len(body) > maxBodyExcerpt {
		return string(body[:maxBodyExcerpt]) + "..."
	}
	return string(body)
}
