// Package indicator computes derived per-bar series (SMA, RSI, Bollinger
// Bands) from a bar series. Every value before an indicator's lookback is
// undefined and is never reported as zero.
package indicator

import (
	"context"
	"fmt"
	"math"
	"sync"

	"odin-backtester/internal/model"

	"golang.org/x/sync/errgroup"
)

type Kind string

const (
	KindSMA       Kind = "sma"
	KindRSI       Kind = "rsi"
	KindBollinger Kind = "bollinger"
)

// Indicator describes one requested indicator.
type Indicator struct {
	Kind   Kind
	Period int
	K      float64 // band width in standard deviations, Bollinger only
}

func SMA(period int) Indicator { return Indicator{Kind: KindSMA, Period: period} }
func RSI(period int) Indicator { return Indicator{Kind: KindRSI, Period: period} }
func Bollinger(period int, k float64) Indicator {
	return Indicator{Kind: KindBollinger, Period: period, K: k}
}

// Names lists the series keys the indicator produces.
func (ind Indicator) Names() []string {
	switch ind.Kind {
	case KindSMA:
		return []string{SMAName(ind.Period)}
	case KindRSI:
		return []string{RSIName(ind.Period)}
	case KindBollinger:
		return []string{UpperName(ind.Period), MiddleName(ind.Period), LowerName(ind.Period)}
	}
	return nil
}

// Lookback is the number of bars needed before the first defined value.
func (ind Indicator) Lookback() int {
	if ind.Kind == KindRSI {
		return ind.Period + 1
	}
	return ind.Period
}

func (ind Indicator) String() string {
	if ind.Kind == KindBollinger {
		return fmt.Sprintf("%s(%d,%g)", ind.Kind, ind.Period, ind.K)
	}
	return fmt.Sprintf("%s(%d)", ind.Kind, ind.Period)
}

func SMAName(period int) string    { return fmt.Sprintf("sma_%d", period) }
func RSIName(period int) string    { return fmt.Sprintf("rsi_%d", period) }
func UpperName(period int) string  { return fmt.Sprintf("bb%d_upper", period) }
func MiddleName(period int) string { return fmt.Sprintf("bb%d_middle", period) }
func LowerName(period int) string  { return fmt.Sprintf("bb%d_lower", period) }

// Spec enumerates the indicators a strategy needs.
type Spec []Indicator

// Merge returns the union of two specs, dropping duplicates.
func (s Spec) Merge(other Spec) Spec {
	out := make(Spec, 0, len(s)+len(other))
	seen := make(map[Indicator]bool)
	for _, ind := range append(append(Spec{}, s...), other...) {
		if !seen[ind] {
			seen[ind] = true
			out = append(out, ind)
		}
	}
	return out
}

// MaxLookback is the longest lookback across the spec.
func (s Spec) MaxLookback() int {
	m := 0
	for _, ind := range s {
		if l := ind.Lookback(); l > m {
			m = l
		}
	}
	return m
}

func (s Spec) validate() error {
	names := make(map[string]Indicator)
	for _, ind := range s {
		if ind.Period <= 0 {
			return model.NewComputationError(ind.String(), "period must be positive")
		}
		switch ind.Kind {
		case KindSMA, KindRSI:
		case KindBollinger:
			if ind.Period < 2 {
				return model.NewComputationError(ind.String(), "sample deviation needs a period of at least 2")
			}
			if !(ind.K > 0) || math.IsInf(ind.K, 0) {
				return model.NewComputationError(ind.String(), "band width must be positive")
			}
		default:
			return model.NewComputationError(ind.String(), "unknown indicator kind")
		}
		for _, n := range ind.Names() {
			if prev, ok := names[n]; ok && prev != ind {
				return model.NewComputationError(ind.String(), fmt.Sprintf("output %s already produced by %s", n, prev))
			}
			names[n] = ind
		}
	}
	return nil
}

// Set holds computed series keyed by name. It is read-only after Compute.
type Set struct {
	n      int
	values map[string][]float64
}

// Len is the number of bars the set was computed over.
func (s *Set) Len() int { return s.n }

// Value returns the indicator value at bar i; ok is false while undefined.
func (s *Set) Value(name string, i int) (float64, bool) {
	if s == nil {
		return 0, false
	}
	series, found := s.values[name]
	if !found || i < 0 || i >= len(series) {
		return 0, false
	}
	v := series[i]
	if math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

func (s *Set) Has(name string) bool {
	_, ok := s.values[name]
	return ok
}

// NewSet builds a set from precomputed series; NaN marks undefined bars.
func NewSet(n int, values map[string][]float64) *Set {
	copied := make(map[string][]float64, len(values))
	for k, v := range values {
		copied[k] = append([]float64(nil), v...)
	}
	return &Set{n: n, values: copied}
}

// Compute evaluates every indicator of the spec over the series. Indicators
// are independent, so they run concurrently.
func Compute(ctx context.Context, series model.Series, spec Spec) (*Set, error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}
	closes := make([]float64, len(series.Bars))
	for i, b := range series.Bars {
		closes[i] = b.Close
	}

	set := &Set{n: len(closes), values: make(map[string][]float64)}
	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	for _, ind := range spec {
		ind := ind
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			out, err := compute(ind, closes)
			if err != nil {
				return err
			}
			mu.Lock()
			for k, v := range out {
				set.values[k] = v
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return set, nil
}

func compute(ind Indicator, closes []float64) (map[string][]float64, error) {
	var out map[string][]float64
	switch ind.Kind {
	case KindSMA:
		out = map[string][]float64{SMAName(ind.Period): sma(closes, ind.Period)}
	case KindRSI:
		out = map[string][]float64{RSIName(ind.Period): rsi(closes, ind.Period)}
	case KindBollinger:
		upper, middle, lower := bollinger(closes, ind.Period, ind.K)
		out = map[string][]float64{
			UpperName(ind.Period):  upper,
			MiddleName(ind.Period): middle,
			LowerName(ind.Period):  lower,
		}
	}
	for name, series := range out {
		for i, v := range series {
			if math.IsInf(v, 0) || (math.IsNaN(v) && i >= ind.Lookback()-1) {
				return nil, model.NewComputationError(name, fmt.Sprintf("non-finite value at bar %d", i))
			}
		}
	}
	return out, nil
}

func undefined(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
