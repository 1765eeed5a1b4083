package fx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// HTTPRateProvider reads rates from a frankfurter-compatible API:
// GET {base}/latest?from=USD&to=GBP -> {"rates":{"GBP":0.79}}
type HTTPRateProvider struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewHTTPRateProvider(baseURL string, timeout time.Duration, logger *zap.Logger) *HTTPRateProvider {
	return &HTTPRateProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type rateResponse struct {
	Rate  *float64           `json:"rate"`
	Rates map[string]float64 `json:"rates"`
}

func (p *HTTPRateProvider) FetchRate(ctx context.Context, from, to string) (float64, error) {
	q := url.Values{}
	q.Set("from", from)
	q.Set("to", to)
	endpoint := p.baseURL + "/latest?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	startTime := time.Now()
	resp, err := p.httpClient.Do(req)
	duration := time.Since(startTime)
	if err != nil {
		p.logger.Warn("Rate request failed",
			zap.String("from", from),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return 0, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		p.logger.Error("Rate provider error",
			zap.String("from", from),
			zap.Int("status_code", resp.StatusCode),
			zap.String("response", string(body)),
		)
		return 0, fmt.Errorf("rate provider returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed rateResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		p.logger.Error("Unreadable rate response", zap.String("from", from), zap.Error(err))
		return 0, fmt.Errorf("failed to decode rate response: %w", err)
	}

	if rate, ok := parsed.Rates[to]; ok {
		p.logger.Debug("Rate fetched",
			zap.String("from", from),
			zap.String("to", to),
			zap.Float64("rate", rate),
			zap.Duration("duration", duration),
		)
		return rate, nil
	}
	if parsed.Rate != nil {
		return *parsed.Rate, nil
	}
	p.logger.Warn("Rate response has no rate", zap.String("from", from), zap.String("to", to))
	return 0, fmt.Errorf("rate provider response has no %s rate", to)
}
