package client

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Ticker is the part of time.Ticker the scheduler uses
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// NewRealTicker wraps time.NewTicker
func NewRealTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}

type job struct {
	name     string
	interval time.Duration
	fn       func(context.Context) error
}

// Scheduler runs periodic jobs concurrently until its context ends. A job
// error is logged and the job keeps its schedule.
type Scheduler struct {
	logger    *slog.Logger
	newTicker func(time.Duration) Ticker
	jobs      []job
}

// NewScheduler creates a scheduler. A nil newTicker uses real tickers.
func NewScheduler(logger *slog.Logger, newTicker func(time.Duration) Ticker) *Scheduler {
	if newTicker == nil {
		newTicker = NewRealTicker
	}
	return &Scheduler{logger: logger, newTicker: newTicker}
}

// Every registers fn to run at each interval tick
func (s *Scheduler) Every(name string, interval time.Duration, fn func(context.Context) error) {
	s.jobs = append(s.jobs, job{name: name, interval: interval, fn: fn})
}

// ScheduleEngine registers the engine's heartbeat and re-verification loops
func (s *Scheduler) ScheduleEngine(e *Engine, heartbeat, reverify time.Duration) {
	s.Every("heartbeat", heartbeat, e.HeartbeatTick)
	s.Every("reverify", reverify, e.ReverifyTick)
}

// Run blocks until ctx is done
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, j := range s.jobs {
		g.Go(func() error {
			s.loop(ctx, j)
			return nil
		})
	}
	return g.Wait()
}

func (s *Scheduler) loop(ctx context.Context, j job) {
	t := s.newTicker(j.interval)
	defer t.Stop()

	s.logger.DebugContext(ctx, "scheduled job started",
		slog.String("job", j.name),
		slog.Duration("interval", j.interval))

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C():
			if err := j.fn(ctx); err != nil && ctx.Err() == nil {
				s.logger.WarnContext(ctx, "scheduled job failed",
					slog.String("job", j.name),
					slog.String("error", err.Error()))
			}
		}
	}
}
