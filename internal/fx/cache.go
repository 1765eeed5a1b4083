// Package fx converts amounts into the reporting currency using exchange
// rates cached in durable storage.
package fx

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"autotrac/sync-client/internal/connectivity"
	"autotrac/sync-client/internal/models"
	"autotrac/sync-client/internal/storage"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	keyPrefix = "fx_rate:"

	DefaultTTL               = 12 * time.Hour
	DefaultReportingCurrency = "GBP"
)

// ErrNetworkUnavailable is returned when a rate is needed but the device is offline
var ErrNetworkUnavailable = errors.New("network unavailable")

// BadRateError is returned when the provider answers with a rate that is
// not a positive finite number
type BadRateError struct {
	Currency string
	Rate     float64
}

func (e *BadRateError) Error() string {
	return fmt.Sprintf("bad exchange rate for %s: %v", e.Currency, e.Rate)
}

// RateFetchError wraps a failed rate lookup
type RateFetchError struct {
	Currency string
	Err      error
}

func (e *RateFetchError) Error() string {
	return fmt.Sprintf("failed to fetch exchange rate for %s: %v", e.Currency, e.Err)
}

func (e *RateFetchError) Unwrap() error {
	return e.Err
}

// Entry is a cached rate: 1 unit of the currency = Rate units of the
// reporting currency
type Entry struct {
	Rate      float64   `json:"rate"`
	Timestamp time.Time `json:"timestamp"`
}

// Fresh reports whether the entry is younger than ttl
func (e Entry) Fresh(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.Timestamp) < ttl
}

// RateProvider fetches the current rate from one currency to another
type RateProvider interface {
	FetchRate(ctx context.Context, from, to string) (float64, error)
}

// Options configures a RateCache
type Options struct {
	ReportingCurrency string
	TTL               time.Duration
	FetchTimeout      time.Duration
	Now               func() time.Time
}

// RateCache resolves exchange rates from storage first and the provider
// second. Concurrent lookups of the same currency share one fetch.
type RateCache struct {
	store    storage.Store
	provider RateProvider
	observer connectivity.Observer
	opts     Options
	logger   *zap.Logger

	group singleflight.Group

	// memo mirrors entries read or written through this cache so that
	// ConvertCached never touches storage
	mu   sync.RWMutex
	memo map[string]Entry
}

func New(store storage.Store, provider RateProvider, observer connectivity.Observer, opts Options, logger *zap.Logger) *RateCache {
	opts.ReportingCurrency = models.NormalizeCurrency(opts.ReportingCurrency)
	if opts.ReportingCurrency == "" {
		opts.ReportingCurrency = DefaultReportingCurrency
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 5 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &RateCache{
		store:    store,
		provider: provider,
		observer: observer,
		opts:     opts,
		logger:   logger,
		memo:     make(map[string]Entry),
	}
}

func (c *RateCache) ReportingCurrency() string {
	return c.opts.ReportingCurrency
}

// GetRate returns how many reporting-currency units one unit of currency is
// worth. Blank and the reporting currency itself resolve to 1 without I/O.
func (c *RateCache) GetRate(ctx context.Context, currency string) (float64, error) {
	code := models.NormalizeCurrency(currency)
	if code == "" || code == c.opts.ReportingCurrency {
		return 1, nil
	}
	if !models.ValidCurrency(code) {
		return 0, &RateFetchError{Currency: code, Err: fmt.Errorf("invalid currency code %q", code)}
	}

	if entry, ok := c.lookup(ctx, code); ok {
		return entry.Rate, nil
	}

	if c.observer != nil && !c.observer.IsOnline() {
		return 0, &RateFetchError{Currency: code, Err: ErrNetworkUnavailable}
	}

	// the fetch is shared, so it must not end with the caller that started
	// it; fetch bounds it with FetchTimeout and each caller waits on its own ctx
	ch := c.group.DoChan(code, func() (any, error) {
		return c.fetch(context.WithoutCancel(ctx), code)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return 0, res.Err
		}
		if res.Shared {
			c.logger.Debug("Shared in-flight rate fetch", zap.String("currency", code))
		}
		return res.Val.(float64), nil
	case <-ctx.Done():
		return 0, &RateFetchError{Currency: code, Err: ctx.Err()}
	}
}

// lookup returns a fresh cached entry. Storage errors count as a miss.
func (c *RateCache) lookup(ctx context.Context, code string) (Entry, bool) {
	now := c.opts.Now()

	c.mu.RLock()
	entry, ok := c.memo[code]
	c.mu.RUnlock()
	if ok && entry.Fresh(now, c.opts.TTL) {
		return entry, true
	}

	found, err := storage.GetJSON(ctx, c.store, keyPrefix+code, &entry)
	if err != nil {
		c.logger.Warn("Failed to read cached rate", zap.String("currency", code), zap.Error(err))
		return Entry{}, false
	}
	if !found {
		return Entry{}, false
	}

	c.remember(code, entry)
	if !entry.Fresh(now, c.opts.TTL) {
		return Entry{}, false
	}
	return entry, true
}

func (c *RateCache) remember(code string, entry Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.memo[code] = entry
}

func (c *RateCache) fetch(ctx context.Context, code string) (float64, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, c.opts.FetchTimeout)
	defer cancel()

	rate, err := c.provider.FetchRate(fetchCtx, code, c.opts.ReportingCurrency)
	if err != nil {
		c.logger.Warn("Exchange rate fetch failed", zap.String("currency", code), zap.Error(err))
		return 0, &RateFetchError{Currency: code, Err: err}
	}
	if math.IsNaN(rate) || math.IsInf(rate, 0) || rate <= 0 {
		c.logger.Warn("Provider returned unusable rate", zap.String("currency", code), zap.Float64("rate", rate))
		return 0, &BadRateError{Currency: code, Rate: rate}
	}

	entry := Entry{Rate: rate, Timestamp: c.opts.Now().UTC()}
	c.remember(code, entry)
	if err := storage.SetJSON(ctx, c.store, keyPrefix+code, entry); err != nil {
		c.logger.Warn("Failed to persist exchange rate", zap.String("currency", code), zap.Error(err))
	}

	c.logger.Info("Exchange rate updated",
		zap.String("currency", code),
		zap.String("reporting_currency", c.opts.ReportingCurrency),
		zap.Float64("rate", rate),
	)
	return rate, nil
}

// Prefetch warms the cache for the given currencies concurrently and
// returns the ones that could not be resolved, sorted
func (c *RateCache) Prefetch(ctx context.Context, currencies ...string) []string {
	seen := make(map[string]bool)
	var (
		mu         sync.Mutex
		unresolved []string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, cur := range currencies {
		code := models.NormalizeCurrency(cur)
		if code == "" || seen[code] {
			continue
		}
		seen[code] = true

		g.Go(func() error {
			if _, err := c.GetRate(gctx, code); err != nil {
				mu.Lock()
				unresolved = append(unresolved, code)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(unresolved)
	return unresolved
}
