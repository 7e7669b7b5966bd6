// Package sweep runs a grid search over filter and risk parameters. Every
// combination gets its own engine with its own config value and series, so
// the grid parallelizes without shared mutable state.
package sweep

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cfdbacktest/services/config"
	"cfdbacktest/services/engine"
)

// Range is an inclusive numeric grid axis. A zero or negative step pins
// the axis to Min.
type Range struct {
	Min  float64 `yaml:"min"`
	Max  float64 `yaml:"max"`
	Step float64 `yaml:"step"`
}

// Values expands the axis into concrete grid points.
func (r Range) Values() []float64 {
	if r.Step <= 0 || r.Max <= r.Min {
		return []float64{r.Min}
	}
	var out []float64
	// Small epsilon keeps Max itself in the grid despite float error.
	for v := r.Min; v <= r.Max+r.Step*1e-9; v += r.Step {
		out = append(out, v)
	}
	return out
}

// Metric selects the ranking statistic.
type Metric string

const (
	MetricProfitFactor Metric = "profit_factor"
	MetricWinRate      Metric = "win_rate"
	MetricTotalProfit  Metric = "total_profit"
)

// Spec describes the grid and how to rank it.
type Spec struct {
	VolumeThreshold     Range  `yaml:"volume_threshold"`
	ATRThreshold        Range  `yaml:"atr_threshold"`
	TrailingStopPercent Range  `yaml:"trailing_stop_percent"`
	Metric              Metric `yaml:"metric"`
	MinTrades           int    `yaml:"min_trades"`
	Workers             int    `yaml:"workers"`
}

// Outcome is one completed grid point.
type Outcome struct {
	ID                  string         `json:"id"`
	VolumeThreshold     float64        `json:"volume_threshold"`
	ATRThreshold        float64        `json:"atr_threshold"`
	TrailingStopPercent float64        `json:"trailing_stop_percent"`
	Summary             engine.Summary `json:"summary"`
}

// score orders outcomes; an infinite profit factor ranks above everything.
func (o Outcome) score(m Metric) float64 {
	switch m {
	case MetricWinRate:
		return o.Summary.WinRate.InexactFloat64()
	case MetricTotalProfit:
		return o.Summary.TotalProfit.InexactFloat64()
	default:
		if o.Summary.ProfitFactor.Infinite {
			return math.Inf(1)
		}
		return o.Summary.ProfitFactor.Value.InexactFloat64()
	}
}

type job struct {
	volume, atr, trailing float64
}

// Run executes the whole grid over the given bar data and returns the
// qualifying outcomes ranked best-first. The bars are shared read-only;
// each engine builds its own series and indicator columns.
func Run(ctx context.Context, base config.Config, entryBars, trendBars []engine.Bar, spec Spec, logger *zap.Logger) ([]Outcome, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var jobs []job
	for _, v := range spec.VolumeThreshold.Values() {
		for _, a := range spec.ATRThreshold.Values() {
			for _, tr := range spec.TrailingStopPercent.Values() {
				jobs = append(jobs, job{volume: v, atr: a, trailing: tr})
			}
		}
	}

	workers := spec.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(jobs) {
		workers = len(jobs)
	}

	logger.Info("starting parameter sweep",
		zap.Int("combinations", len(jobs)),
		zap.Int("workers", workers),
		zap.String("metric", string(spec.Metric)),
	)

	jobCh := make(chan job)
	var (
		mu       sync.Mutex
		outcomes []Outcome
		firstErr error
	)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobCh {
				if ctx.Err() != nil {
					return
				}
				out, err := runOne(base, entryBars, trendBars, j)
				mu.Lock()
				if err != nil {
					if firstErr == nil {
						firstErr = err
					}
				} else {
					outcomes = append(outcomes, out)
				}
				mu.Unlock()
			}
		}()
	}

	for _, j := range jobs {
		select {
		case <-ctx.Done():
			close(jobCh)
			wg.Wait()
			return nil, ctx.Err()
		case jobCh <- j:
		}
	}
	close(jobCh)
	wg.Wait()

	if len(outcomes) == 0 {
		if firstErr != nil {
			return nil, fmt.Errorf("sweep produced no results: %w", firstErr)
		}
		return nil, fmt.Errorf("sweep produced no results")
	}

	qualified := outcomes[:0]
	for _, o := range outcomes {
		if o.Summary.TotalTrades >= spec.MinTrades {
			qualified = append(qualified, o)
		}
	}
	sort.Slice(qualified, func(i, k int) bool {
		return qualified[i].score(spec.Metric) > qualified[k].score(spec.Metric)
	})

	logger.Info("sweep complete",
		zap.Int("qualified", len(qualified)),
		zap.Int("total", len(jobs)),
	)
	return qualified, nil
}

func runOne(base config.Config, entryBars, trendBars []engine.Bar, j job) (Outcome, error) {
	cfg := base // by value; the grid point never touches the caller's config
	cfg.Filters.VolumeThreshold = j.volume
	cfg.Filters.ATRThreshold = j.atr
	cfg.Risk.TrailingStopPercent = j.trailing

	entry, err := engine.NewSeries(entryBars)
	if err != nil {
		return Outcome{}, err
	}
	trend, err := engine.NewSeries(trendBars)
	if err != nil {
		return Outcome{}, err
	}

	eng, err := engine.New(cfg, entry, trend, nil)
	if err != nil {
		return Outcome{}, err
	}
	res, err := eng.Run()
	if err != nil {
		return Outcome{}, err
	}

	return Outcome{
		ID:                  uuid.NewString(),
		VolumeThreshold:     j.volume,
		ATRThreshold:        j.atr,
		TrailingStopPercent: j.trailing,
		Summary:             res.Summary,
	}, nil
}
