// Package maintenance runs the daemon's periodic housekeeping: sweeping
// stale tickets, pruning synthesized audio, and keeping price quotes warm.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/oyalabs/sensei/internal/media"
	"github.com/oyalabs/sensei/internal/relay"
	"github.com/oyalabs/sensei/internal/ticket"
)

const (
	ticketSweepSchedule  = "@every 5m"
	audioPruneSchedule   = "@every 1h"
	priceRefreshSchedule = "@every 1m"

	audioMaxAge = 24 * time.Hour
)

// Runner schedules the housekeeping jobs on a shared cron instance.
type Runner struct {
	mu     sync.Mutex
	cron   *cron.Cron
	jobs   []cron.EntryID
	logger *slog.Logger

	tickets   *ticket.Store
	ticketTTL time.Duration
	media     *media.Store
	prices    *relay.PriceFeed
	tokens    []string
}

// Options configures which jobs the runner registers. Nil collaborators
// skip their job.
type Options struct {
	Tickets   *ticket.Store
	TicketTTL time.Duration
	Media     *media.Store
	Prices    *relay.PriceFeed
	Tokens    []string
	Logger    *slog.Logger
}

// New creates a Runner and registers the jobs for the configured
// collaborators.
func New(opts Options) (*Runner, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{
		cron:      cron.New(),
		logger:    logger,
		tickets:   opts.Tickets,
		ticketTTL: opts.TicketTTL,
		media:     opts.Media,
		prices:    opts.Prices,
		tokens:    opts.Tokens,
	}

	if r.tickets != nil && r.ticketTTL > 0 {
		if err := r.add(ticketSweepSchedule, r.sweepTickets); err != nil {
			return nil, err
		}
	}
	if r.media != nil {
		if err := r.add(audioPruneSchedule, r.pruneAudio); err != nil {
			return nil, err
		}
	}
	if r.prices != nil && len(r.tokens) > 0 {
		if err := r.add(priceRefreshSchedule, r.refreshPrices); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Start begins the cron loop and blocks until ctx is cancelled.
func (r *Runner) Start(ctx context.Context) error {
	r.cron.Start()
	r.logger.Info("maintenance started", "jobs", r.JobCount())

	<-ctx.Done()
	r.cron.Stop()
	r.logger.Info("maintenance stopped")
	return ctx.Err()
}

// JobCount returns how many jobs are registered.
func (r *Runner) JobCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

func (r *Runner) add(schedule string, fn func()) error {
	id, err := r.cron.AddFunc(schedule, fn)
	if err != nil {
		return fmt.Errorf("maintenance: invalid schedule %q: %w", schedule, err)
	}
	r.mu.Lock()
	r.jobs = append(r.jobs, id)
	r.mu.Unlock()
	return nil
}

// sweepTickets reclaims tickets whose poller never came back.
func (r *Runner) sweepTickets() {
	removed := r.tickets.Sweep(r.ticketTTL)
	if removed > 0 {
		r.logger.Info("tickets swept", "removed", removed, "live", r.tickets.Len())
	}
}

// pruneAudio drops synthesized replies the client never fetched.
func (r *Runner) pruneAudio() {
	removed, err := r.media.Prune(audioMaxAge)
	if err != nil {
		r.logger.Warn("audio prune failed", "error", err)
		return
	}
	if removed > 0 {
		r.logger.Info("audio pruned", "removed", removed)
	}
}

// refreshPrices keeps the quote cache warm so interactive reads rarely
// hit the upstream feed.
func (r *Runner) refreshPrices() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := r.prices.Refresh(ctx, r.tokens); err != nil {
		r.logger.Warn("price refresh failed", "error", err)
	}
}
