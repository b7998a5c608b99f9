package marketdata

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"time"

	"rulebot/internal/config"
	"rulebot/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RestClient fetches samples from an HTTP market data service.
//
//	GET /samples?symbol=BTC&start=<unix ms>&end=<unix ms>  -> []sample
//	GET /ticker?symbol=BTC                                 -> sample
type RestClient struct {
	client  *resty.Client
	logger  *zap.Logger
	limiter *rate.Limiter
	backoff time.Duration // base delay between retries
}

// ensure RestClient implements the interface
var _ Source = (*RestClient)(nil)

// NewRestClient creates a new market data REST client.
func NewRestClient(cfg *config.MarketData, logger *zap.Logger) *RestClient {
	client := resty.New().SetBaseURL(cfg.BaseURL)

	// rate.Limit is requests per second.
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst)

	return &RestClient{
		client:  client,
		logger:  logger.Named("marketdata"),
		limiter: limiter,
		backoff: time.Second,
	}
}

// wireSample is the JSON shape served by the market data service.
type wireSample struct {
	Timestamp int64   `json:"timestamp"` // unix milliseconds
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Volume    float64 `json:"volume"`
	RSI       float64 `json:"rsi"`
	MACD      float64 `json:"macd"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
}

func (w wireSample) toModel() models.MarketSample {
	return models.MarketSample{
		Timestamp: time.UnixMilli(w.Timestamp).UTC(),
		Symbol:    w.Symbol,
		Price:     w.Price,
		Volume:    w.Volume,
		RSI:       w.RSI,
		MACD:      w.MACD,
		High:      w.High,
		Low:       w.Low,
	}
}

// History fetches the samples for symbol within the window, sorted by time.
func (c *RestClient) History(ctx context.Context, symbol string, start, end time.Time) ([]models.MarketSample, error) {
	var samples []wireSample

	req := c.client.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		SetQueryParam("start", strconv.FormatInt(start.UnixMilli(), 10)).
		SetQueryParam("end", strconv.FormatInt(end.UnixMilli(), 10)).
		SetResult(&samples)

	if _, err := c.doRequest(ctx, http.MethodGet, "/samples", req); err != nil {
		return nil, fmt.Errorf("%w: history %s: %w", ErrUnavailable, symbol, err)
	}

	out := make([]models.MarketSample, 0, len(samples))
	for _, s := range samples {
		m := s.toModel()
		if m.Symbol == "" {
			m.Symbol = symbol
		}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// Latest fetches the current sample for symbol.
func (c *RestClient) Latest(ctx context.Context, symbol string) (models.MarketSample, error) {
	var sample wireSample

	req := c.client.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		SetResult(&sample)

	if _, err := c.doRequest(ctx, http.MethodGet, "/ticker", req); err != nil {
		c.logger.Error("Failed to get latest sample", zap.String("symbol", symbol), zap.Error(err))
		return models.MarketSample{}, fmt.Errorf("%w: latest %s: %w", ErrUnavailable, symbol, err)
	}

	m := sample.toModel()
	if m.Symbol == "" {
		m.Symbol = symbol
	}
	return m, nil
}

// doRequest handles the actual request execution with rate limiting and retry logic.
func (c *RestClient) doRequest(ctx context.Context, method, url string, req *resty.Request) (*resty.Response, error) {
	var resp *resty.Response
	var err error
	const maxRetries = 3

	for i := 0; i < maxRetries; i++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		c.logger.Debug("Executing request", zap.String("method", method), zap.String("url", c.client.BaseURL+url))
		resp, err = req.Execute(method, url)

		if err == nil && !resp.IsError() {
			return resp, nil
		}

		shouldRetry := false
		var retryAfter time.Duration

		if err == nil && resp != nil {
			statusCode := resp.StatusCode()
			if statusCode == http.StatusTooManyRequests {
				shouldRetry = true
				if seconds, perr := strconv.Atoi(resp.Header().Get("Retry-After")); perr == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			} else if statusCode >= 500 {
				shouldRetry = true
			}
		} else if ctx.Err() == nil { // Network or other client-side errors
			shouldRetry = true
		}

		if !shouldRetry {
			if err != nil {
				return nil, fmt.Errorf("request failed: %w", err)
			}
			return nil, fmt.Errorf("request failed with status %s: %s", resp.Status(), resp.String())
		}

		if retryAfter == 0 {
			// Exponential backoff: 1x, 2x, 4x the base delay
			retryAfter = time.Duration(math.Pow(2, float64(i))) * c.backoff
		}
		if err == nil {
			err = fmt.Errorf("status %s", resp.Status())
		}

		c.logger.Warn("Request failed, retrying...",
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(err),
		)

		if i == maxRetries-1 {
			break
		}
		select {
		case <-time.After(retryAfter):
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", maxRetries, err)
}
