package repricer

import (
	"context"
	"time"

	"github.com/rewired-gh/repricer/internal/logger"
	"github.com/rewired-gh/repricer/internal/metrics"
	"github.com/rewired-gh/repricer/internal/models"
)

// DefaultInterval is the pause between cycles when none is configured.
const DefaultInterval = 30 * time.Second

// Pinger keeps our sales visible on the marketplace.
type Pinger interface {
	Ping(ctx context.Context) error
}

// LoopConfig sets the cycle interval and whether updates skip confirmation.
type LoopConfig struct {
	Interval    time.Duration
	AutoConfirm bool
}

// Loop runs ProcessAll immediately and then on every tick until cancelled.
type Loop struct {
	engine      *Engine
	interval    time.Duration
	autoConfirm bool
	pinger      Pinger
	onCycle     func(models.RunStats, error)
}

// NewLoop creates a loop around engine. A zero Interval means DefaultInterval.
func NewLoop(engine *Engine, cfg LoopConfig) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &Loop{
		engine:      engine,
		interval:    cfg.Interval,
		autoConfirm: cfg.AutoConfirm,
	}
}

// SetPinger enables a keep-alive ping before every cycle.
func (l *Loop) SetPinger(p Pinger) {
	l.pinger = p
}

// OnCycle registers a callback invoked after every cycle with its stats and
// the cycle-level error, if any.
func (l *Loop) OnCycle(fn func(models.RunStats, error)) {
	l.onCycle = fn
}

// RunOnce runs a single cycle and reports it.
func (l *Loop) RunOnce(ctx context.Context) (models.RunStats, error) {
	start := time.Now()
	logger.Info("Starting repricing cycle")

	if l.pinger != nil {
		if err := l.pinger.Ping(ctx); err != nil {
			logger.Warn("Keep-alive ping failed: %v", err)
		}
	}

	stats, err := l.engine.ProcessAll(ctx, l.autoConfirm)
	metrics.CycleDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.CyclesTotal.WithLabelValues("error").Inc()
		logger.Error("Repricing cycle failed: %v", err)
	} else {
		metrics.CyclesTotal.WithLabelValues("ok").Inc()
		logger.Info("Cycle %s completed in %v: total=%d first=%d updated=%d skipped=%d below_min=%d failed=%d cancelled=%d",
			stats.RunID, stats.Duration, stats.Total, stats.FirstPosition, stats.Updated,
			stats.Skipped, stats.BelowMin, stats.Failed, stats.Cancelled)
	}

	if l.onCycle != nil {
		l.onCycle(stats, err)
	}
	return stats, err
}

// Run blocks until ctx is cancelled. A cycle already in progress when the
// context ends runs to completion; Run then returns nil. Cycle errors are
// reported through OnCycle and never stop the loop.
func (l *Loop) Run(ctx context.Context) error {
	cycleCtx := context.WithoutCancel(ctx)

	logger.Info("Starting repricer (interval: %v, auto_confirm: %v)", l.interval, l.autoConfirm)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	if ctx.Err() != nil {
		logger.Info("Repricer stopped")
		return nil
	}
	_, _ = l.RunOnce(cycleCtx)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Repricer stopped")
			return nil
		case <-ticker.C:
			if ctx.Err() != nil {
				continue
			}
			_, _ = l.RunOnce(cycleCtx)
		}
	}
}
