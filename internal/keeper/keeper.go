// Package keeper runs the fund's periodic housekeeping on a cron schedule.
// Jobs only call the fund's public operations; they hold no state of their
// own beyond the schedule.
package keeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/atmx/fund-engine/internal/metrics"
	"github.com/atmx/fund-engine/internal/model"
)

// Fund is the part of the fund the keeper drives.
type Fund interface {
	CanShutdown(ctx context.Context) (bool, error)
	TriggerEmergency(ctx context.Context, caller string) error
	NAV(ctx context.Context) (model.NAVSnapshot, error)
}

// SnapshotStore records NAV snapshots.
type SnapshotStore interface {
	InsertNAVSnapshot(ctx context.Context, snap *model.NAVSnapshot) error
}

// Config schedules the keeper's jobs. Specs take a leading seconds field;
// an empty spec disables the job.
type Config struct {
	// Account is the caller the keeper acts as.
	Account            string
	EmergencyWatchSpec string
	NAVSnapshotSpec    string
	// JobTimeout bounds a single job run.
	JobTimeout time.Duration
}

// Keeper owns the cron scheduler.
type Keeper struct {
	cron    *cron.Cron
	fund    Fund
	store   SnapshotStore
	account string
	timeout time.Duration
	logger  *slog.Logger
	baseCtx context.Context
}

// New schedules the configured jobs. Nothing runs until Start.
func New(baseCtx context.Context, cfg Config, fund Fund, store SnapshotStore, logger *slog.Logger) (*Keeper, error) {
	if fund == nil {
		return nil, errors.New("keeper: fund is required")
	}
	if cfg.Account == "" {
		return nil, errors.New("keeper: account is required")
	}
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 30 * time.Second
	}

	k := &Keeper{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		fund:    fund,
		store:   store,
		account: cfg.Account,
		timeout: cfg.JobTimeout,
		logger:  logger.With("component", "keeper"),
		baseCtx: baseCtx,
	}

	if err := k.add("emergency_watch", cfg.EmergencyWatchSpec, k.EmergencyWatch); err != nil {
		return nil, err
	}
	if err := k.add("nav_snapshot", cfg.NAVSnapshotSpec, k.SnapshotNAV); err != nil {
		return nil, err
	}
	return k, nil
}

func (k *Keeper) add(name, spec string, job func(context.Context) error) error {
	if spec == "" {
		return nil
	}
	_, err := k.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(k.baseCtx, k.timeout)
		defer cancel()
		start := time.Now()
		err := job(ctx)
		metrics.ObserveOperation("keeper_"+name, err, start)
		if err != nil {
			k.logger.Warn("keeper job failed", "job", name, "err", err)
		}
	})
	if err != nil {
		return fmt.Errorf("keeper: schedule %s %q: %w", name, spec, err)
	}
	k.logger.Info("keeper job scheduled", "job", name, "spec", spec)
	return nil
}

// Jobs returns the number of scheduled jobs.
func (k *Keeper) Jobs() int { return len(k.cron.Entries()) }

func (k *Keeper) Start() {
	k.logger.Info("keeper started")
	k.cron.Start()
}

// Stop waits for running jobs to finish.
func (k *Keeper) Stop() {
	ctx := k.cron.Stop()
	<-ctx.Done()
	k.logger.Info("keeper stopped")
}

// EmergencyWatch triggers the emergency once a drawdown or leverage mark
// is reached.
func (k *Keeper) EmergencyWatch(ctx context.Context) error {
	ok, err := k.fund.CanShutdown(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	k.logger.Warn("emergency threshold reached, triggering emergency")
	return k.fund.TriggerEmergency(ctx, k.account)
}

// SnapshotNAV records the current valuation and refreshes the NAV gauges.
func (k *Keeper) SnapshotNAV(ctx context.Context) error {
	snap, err := k.fund.NAV(ctx)
	if err != nil {
		return err
	}
	metrics.ObserveNAV(snap)
	if k.store == nil {
		return nil
	}
	return k.store.InsertNAVSnapshot(ctx, &snap)
}
