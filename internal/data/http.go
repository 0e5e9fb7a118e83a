package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/sawpanic/backtester/internal/domain/market"
)

// ProviderConfig configures the HTTP quote provider
type ProviderConfig struct {
	BaseURL          string        `yaml:"base_url"`
	APIKey           string        `yaml:"api_key"`
	RPS              float64       `yaml:"rps"`
	Burst            int           `yaml:"burst"`
	Timeout          time.Duration `yaml:"timeout"`
	FailureThreshold uint32        `yaml:"failure_threshold"` // consecutive failures that open the breaker
	OpenTimeout      time.Duration `yaml:"open_timeout"`      // time spent open before a half-open probe
}

// DefaultProviderConfig returns conservative limits for a public quote API
func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		RPS:              2,
		Burst:            4,
		Timeout:          10 * time.Second,
		FailureThreshold: 3,
		OpenTimeout:      60 * time.Second,
	}
}

// barsResponse is the provider's JSON payload for GET /bars/{symbol}
type barsResponse struct {
	Symbol string `json:"symbol"`
	Bars   []struct {
		Date   string  `json:"date"`
		Open   float64 `json:"open"`
		High   float64 `json:"high"`
		Low    float64 `json:"low"`
		Close  float64 `json:"close"`
		Volume float64 `json:"volume"`
	} `json:"bars"`
}

// statusError marks a non-2xx response
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("provider returned HTTP %d: %s", e.code, e.body)
}

// HTTPSource fetches daily bars from a remote provider behind a token bucket
// and a circuit breaker
type HTTPSource struct {
	cfg     ProviderConfig
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// NewHTTPSource builds a provider client; a nil client gets one with cfg.Timeout
func NewHTTPSource(cfg ProviderConfig, client *http.Client) (*HTTPSource, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("provider base_url is required")
	}
	def := DefaultProviderConfig()
	if cfg.RPS <= 0 {
		cfg.RPS = def.RPS
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	threshold := cfg.FailureThreshold
	st := gobreaker.Settings{
		Name:    "quote-provider",
		Timeout: cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			// client errors (bad symbol, no data) say nothing about provider health
			var se *statusError
			if errors.As(err, &se) && se.code >= 400 && se.code < 500 {
				return true
			}
			return err == nil || errors.Is(err, ErrNoData)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	}

	return &HTTPSource{
		cfg:     cfg,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		breaker: gobreaker.NewCircuitBreaker(st),
	}, nil
}

// Name identifies the source in logs and errors
func (h *HTTPSource) Name() string { return "http" }

// BreakerState reports the circuit breaker state
func (h *HTTPSource) BreakerState() gobreaker.State { return h.breaker.State() }

// Load waits for a rate-limit token, then fetches through the breaker
func (h *HTTPSource) Load(ctx context.Context, symbol string, from, to time.Time) (market.Series, error) {
	if err := h.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	v, err := h.breaker.Execute(func() (interface{}, error) {
		return h.fetch(ctx, symbol, from, to)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", symbol, err)
	}
	return finish(symbol, v.(market.Series), from, to)
}

func (h *HTTPSource) fetch(ctx context.Context, symbol string, from, to time.Time) (market.Series, error) {
	u, err := url.Parse(strings.TrimRight(h.cfg.BaseURL, "/") + "/bars/" + url.PathEscape(symbol))
	if err != nil {
		return nil, fmt.Errorf("build url: %w", err)
	}
	q := u.Query()
	if !from.IsZero() {
		q.Set("from", from.Format(market.DateLayout))
	}
	if !to.IsZero() {
		q.Set("to", to.Format(market.DateLayout))
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if h.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.cfg.APIKey)
	}

	started := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNoData
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(body))}
	}

	var payload barsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	s := make(market.Series, 0, len(payload.Bars))
	for _, b := range payload.Bars {
		d, err := market.ParseDate(b.Date)
		if err != nil {
			return nil, err
		}
		s = append(s, market.PricePoint{Date: d, Open: b.Open, High: b.High, Low: b.Low, Close: b.Close, Volume: b.Volume})
	}

	log.Debug().
		Str("symbol", symbol).
		Int("bars", len(s)).
		Dur("latency", time.Since(started)).
		Msg("fetched provider series")
	return s, nil
}
