package marketdata

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"
	"time"

	"rulebot/internal/models"
)

const (
	rsiPeriod  = 14
	macdFast   = 12
	macdSlow   = 26
	basePrice  = 100.0
	baseVolume = 1000.0
)

// Synthetic generates a deterministic hourly random walk. The same symbol and
// window always produce the same series, which makes backtests reproducible
// without a market data service.
type Synthetic struct {
	Interval time.Duration
	Now      func() time.Time
}

var _ Source = (*Synthetic)(nil)

// NewSynthetic creates a synthetic source with hourly samples.
func NewSynthetic() *Synthetic {
	return &Synthetic{Interval: time.Hour, Now: time.Now}
}

func seedFor(symbol string, start time.Time) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(symbol))
	return int64(h.Sum64()) ^ start.Unix()
}

// History returns one sample per Interval from start to end inclusive.
// An empty or inverted window yields no samples.
func (s *Synthetic) History(ctx context.Context, symbol string, start, end time.Time) ([]models.MarketSample, error) {
	if end.Before(start) {
		return nil, nil
	}
	interval := s.Interval
	if interval <= 0 {
		interval = time.Hour
	}

	rng := rand.New(rand.NewSource(seedFor(symbol, start)))
	ind := newIndicators()
	price := basePrice

	var out []models.MarketSample
	for ts := start; !ts.After(end); ts = ts.Add(interval) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		prev := price
		price = math.Max(0.01, price*(1+rng.NormFloat64()*0.01))
		swing := math.Abs(rng.NormFloat64()) * 0.005 * price

		out = append(out, models.MarketSample{
			Timestamp: ts,
			Symbol:    symbol,
			Price:     price,
			Volume:    baseVolume * (0.5 + rng.Float64()),
			RSI:       ind.rsi(price - prev),
			MACD:      ind.macd(price),
			High:      math.Max(price, prev) + swing,
			Low:       math.Max(0, math.Min(price, prev)-swing),
		})
	}
	return out, nil
}

// Latest returns the sample for the current interval.
func (s *Synthetic) Latest(ctx context.Context, symbol string) (models.MarketSample, error) {
	now := s.Now()
	interval := s.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	day := now.Truncate(24 * time.Hour)
	series, err := s.History(ctx, symbol, day, now.Truncate(interval))
	if err != nil {
		return models.MarketSample{}, err
	}
	if len(series) == 0 {
		return models.MarketSample{}, ErrUnavailable
	}
	return series[len(series)-1], nil
}

// indicators keeps Wilder RSI and EMA-based MACD state over a price walk.
type indicators struct {
	n                int
	avgGain, avgLoss float64
	fast, slow       float64
}

func newIndicators() *indicators { return &indicators{} }

func (in *indicators) rsi(change float64) float64 {
	in.n++
	gain, loss := math.Max(change, 0), math.Max(-change, 0)
	if in.n <= rsiPeriod {
		in.avgGain += (gain - in.avgGain) / float64(in.n)
		in.avgLoss += (loss - in.avgLoss) / float64(in.n)
	} else {
		in.avgGain = (in.avgGain*(rsiPeriod-1) + gain) / rsiPeriod
		in.avgLoss = (in.avgLoss*(rsiPeriod-1) + loss) / rsiPeriod
	}
	if in.avgLoss == 0 {
		return 100
	}
	rs := in.avgGain / in.avgLoss
	return 100 - 100/(1+rs)
}

func (in *indicators) macd(price float64) float64 {
	if in.fast == 0 {
		in.fast, in.slow = price, price
		return 0
	}
	in.fast += (price - in.fast) * 2 / (macdFast + 1)
	in.slow += (price - in.slow) * 2 / (macdSlow + 1)
	return in.fast - in.slow
}
