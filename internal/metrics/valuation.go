package metrics

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"portfolio-tracker/internal/logger"
	"portfolio-tracker/internal/model"
	"portfolio-tracker/internal/portfolio"
)

// Snapshotter yields a consistent copy of the portfolio state.
type Snapshotter interface {
	Snapshot() model.State
}

// ValuationJob refreshes the valuation gauges on a cron schedule.
type ValuationJob struct {
	cron *cron.Cron
	src  Snapshotter
	m    *Metrics
	log  *slog.Logger
}

// NewValuationJob schedules the job with a standard cron spec or a
// descriptor such as "@every 10s".
func NewValuationJob(schedule string, src Snapshotter, m *Metrics, log *slog.Logger) (*ValuationJob, error) {
	if log == nil {
		log = slog.Default()
	}
	j := &ValuationJob{
		cron: cron.New(),
		src:  src,
		m:    m,
		log:  logger.Component(log, "valuation"),
	}
	if _, err := j.cron.AddFunc(schedule, j.Run); err != nil {
		return nil, fmt.Errorf("valuation: schedule %q: %w", schedule, err)
	}
	return j, nil
}

// Run computes the summary once and publishes it.
func (j *ValuationJob) Run() {
	state := j.src.Snapshot()
	sum := portfolio.Summarize(state)

	j.m.PortfolioValue.Set(sum.TotalValue)
	j.m.PortfolioChangePct.Set(sum.PercentageChange)
	j.m.HoldingsCount.Set(float64(sum.TotalAssets))

	// Removed holdings must disappear from the vec
	j.m.HoldingValue.Reset()
	for _, h := range state.Holdings {
		j.m.HoldingValue.WithLabelValues(h.Symbol).Set(h.Value())
	}

	j.log.Debug("valuation refreshed",
		slog.Float64("total_value", sum.TotalValue),
		slog.Float64("change_pct", sum.PercentageChange),
		slog.Int("holdings", sum.TotalAssets),
	)
}

// Start runs the job once immediately, then on schedule.
func (j *ValuationJob) Start() {
	j.Run()
	j.cron.Start()
}

// Stop halts the schedule and waits for a running job to finish or ctx to
// expire.
func (j *ValuationJob) Stop(ctx context.Context) {
	done := j.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}
