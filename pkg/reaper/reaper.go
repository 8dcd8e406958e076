// Package reaper periodically deletes expired authorization codes and
// tokens. Expiry is always checked on read; pruning only reclaims storage.
package reaper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultInterval = 10 * time.Minute
	DefaultGrace    = time.Hour
)

// Pruner deletes records that expired before the given time
type Pruner interface {
	PruneExpired(ctx context.Context, before time.Time) (int64, error)
}

type target struct {
	name   string
	pruner Pruner
}

type Reaper struct {
	targets  []target
	interval time.Duration
	grace    time.Duration
	now      func() time.Time
}

type Option func(*Reaper)

func WithInterval(d time.Duration) Option {
	return func(r *Reaper) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithGrace keeps records for d after they expire
func WithGrace(d time.Duration) Option {
	return func(r *Reaper) {
		if d >= 0 {
			r.grace = d
		}
	}
}

// WithClock overrides time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(r *Reaper) {
		r.now = now
	}
}

func New(opts ...Option) *Reaper {
	r := &Reaper{
		interval: DefaultInterval,
		grace:    DefaultGrace,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Add registers a store to prune under name, used in logs
func (r *Reaper) Add(name string, p Pruner) *Reaper {
	r.targets = append(r.targets, target{name: name, pruner: p})
	return r
}

// RunOnce prunes every target concurrently
func (r *Reaper) RunOnce(ctx context.Context) error {
	before := r.now().UTC().Add(-r.grace)
	g, ctx := errgroup.WithContext(ctx)
	for _, t := range r.targets {
		g.Go(func() error {
			n, err := t.pruner.PruneExpired(ctx, before)
			if err != nil {
				return fmt.Errorf("failed to prune %s: %w", t.name, err)
			}
			if n > 0 {
				slog.Info("Pruned expired records", "store", t.name, "count", n)
			}
			return nil
		})
	}
	return g.Wait()
}

// Run prunes on every interval until ctx is done. Failures are logged and
// retried on the next tick.
func (r *Reaper) Run(ctx context.Context) error {
	slog.Info("Starting reaper", "interval", r.interval, "grace", r.grace, "targets", len(r.targets))
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Stopping reaper")
			return nil
		case <-ticker.C:
			if err := r.RunOnce(ctx); err != nil {
				slog.Error("Reaper pass failed", "err", err)
			}
		}
	}
}
