package venue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/crossarb/crossarb/internal/domain"
)

// HTTPSource implements domain.DataSource over a generic JSON price API.
// Its quotes are reference-only and never used as an order leg.
type HTTPSource struct {
	name    string
	baseURL string
	client  *http.Client
}

// NewHTTPSource creates a data source that fetches prices from
// baseURL?symbol=<compact symbol>.
func NewHTTPSource(name, baseURL string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSource{
		name:    name,
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Name returns the source identifier.
func (s *HTTPSource) Name() string {
	return s.name
}

// GetQuote fetches the current price snapshot for a symbol.
func (s *HTTPSource) GetQuote(ctx context.Context, symbol string) (domain.Ticker, error) {
	params := url.Values{}
	params.Set("symbol", binanceSymbol(symbol))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return domain.Ticker{}, fmt.Errorf("source %s: create request: %w", s.name, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return domain.Ticker{}, fmt.Errorf("source %s: %w: %v", s.name, domain.ErrTimeout, err)
		}
		return domain.Ticker{}, fmt.Errorf("source %s: request: %w", s.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.Ticker{}, fmt.Errorf("source %s: read response: %w", s.name, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode == http.StatusTooManyRequests {
			return domain.Ticker{}, fmt.Errorf("source %s: %w", s.name, domain.ErrRateLimited)
		}
		return domain.Ticker{}, fmt.Errorf("source %s: HTTP %d", s.name, resp.StatusCode)
	}

	var quote struct {
		Price  float64 `json:"price"`
		Bid    float64 `json:"bid"`
		Ask    float64 `json:"ask"`
		Volume float64 `json:"volume"`
	}
	if err := json.Unmarshal(body, &quote); err != nil {
		return domain.Ticker{}, fmt.Errorf("source %s: decode quote: %w", s.name, err)
	}

	return domain.Ticker{
		Price:     quote.Price,
		Bid:       quote.Bid,
		Ask:       quote.Ask,
		Volume:    quote.Volume,
		Timestamp: time.Now().UTC(),
	}, nil
}
