package fx

import (
	"context"
	"errors"

	"autotrac/sync-client/internal/models"

	"github.com/shopspring/decimal"
)

var errNotCached = errors.New("rate not cached")

// Placeholder is shown instead of an amount whose conversion is unknown
const Placeholder = "—"

// Conversion is an amount in the reporting currency, or the reason it could
// not be computed. An unknown conversion never reads as zero.
type Conversion struct {
	Amount   float64
	Known    bool
	Currency string
	Source   string
	Reason   error
}

func (c Conversion) String() string {
	if !c.Known {
		return Placeholder
	}
	return decimal.NewFromFloat(c.Amount).StringFixed(2)
}

// Convert turns amount in currency into the reporting currency, fetching the
// rate if needed. Blank currency means the amount is already in the
// reporting currency.
func (c *RateCache) Convert(ctx context.Context, amount float64, currency string) Conversion {
	code := models.NormalizeCurrency(currency)
	out := Conversion{Currency: c.opts.ReportingCurrency, Source: code}
	if code == "" {
		out.Amount, out.Known = amount, true
		return out
	}

	rate, err := c.GetRate(ctx, code)
	if err != nil {
		out.Reason = err
		return out
	}
	out.Amount, out.Known = multiply(amount, rate), true
	return out
}

// ConvertCached converts using only what is already cached in memory. It
// never blocks on storage or the network.
func (c *RateCache) ConvertCached(amount float64, currency string) Conversion {
	code := models.NormalizeCurrency(currency)
	out := Conversion{Currency: c.opts.ReportingCurrency, Source: code}
	if code == "" || code == c.opts.ReportingCurrency {
		out.Amount, out.Known = amount, true
		return out
	}

	c.mu.RLock()
	entry, ok := c.memo[code]
	c.mu.RUnlock()
	if !ok || !entry.Fresh(c.opts.Now(), c.opts.TTL) {
		out.Reason = &RateFetchError{Currency: code, Err: errNotCached}
		return out
	}
	out.Amount, out.Known = multiply(amount, entry.Rate), true
	return out
}

func multiply(amount, rate float64) float64 {
	return decimal.NewFromFloat(amount).Mul(decimal.NewFromFloat(rate)).InexactFloat64()
}
