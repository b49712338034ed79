// Package daemon runs the recurring sync loop over all tracked accounts.
package daemon

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/lego-rl/waxlog/internal/ingest"
	"github.com/lego-rl/waxlog/internal/store"
	"github.com/rs/zerolog"
)

// Config holds daemon configuration
type Config struct {
	SyncInterval   time.Duration // How often to run a sync pass over all accounts
	AccountTimeout time.Duration // Per-account sync deadline within a pass
}

// Syncer mirrors one account's remote history into the store.
type Syncer interface {
	Sync(ctx context.Context, acct store.Account) (ingest.Result, error)
}

// Daemon drives the Syncer for every tracked account on a fixed
// interval. Passes run sequentially; a pass that outlives the interval
// defers the next firing rather than overlapping it.
type Daemon struct {
	config Config
	store  *store.Store
	engine Syncer
	logger zerolog.Logger

	mu       sync.Mutex
	inFlight map[int64]bool
}

// New creates a new Daemon instance
func New(cfg Config, st *store.Store, engine Syncer, logger zerolog.Logger) *Daemon {
	return &Daemon{
		config:   cfg,
		store:    st,
		engine:   engine,
		logger:   logger.With().Str("component", "daemon").Logger(),
		inFlight: make(map[int64]bool),
	}
}

// Run starts the daemon and blocks until shutdown signal received
func (d *Daemon) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Handle first signal gracefully, second signal forces exit
	go func() {
		<-sigChan
		d.logger.Info().Msg("Shutdown signal received, initiating graceful shutdown")
		cancel()

		// Second signal forces exit
		<-sigChan
		d.logger.Warn().Msg("Second shutdown signal received, forcing exit")
		os.Exit(1)
	}()

	if err := d.run(ctx); err != nil && err != context.Canceled {
		return err
	}

	return nil
}

// run is the main sync loop
func (d *Daemon) run(ctx context.Context) error {
	d.logger.Info().
		Dur("interval", d.config.SyncInterval).
		Msg("Starting sync loop")

	ticker := time.NewTicker(d.config.SyncInterval)
	defer ticker.Stop()

	// Sync immediately on start. Ticker ticks are dropped while a pass
	// is still running, so overruns defer the next pass instead of
	// overlapping it.
	d.pass(ctx)

	for {
		select {
		case <-ctx.Done():
			d.logger.Info().Msg("Sync loop stopped")
			return ctx.Err()
		case <-ticker.C:
			d.pass(ctx)
		}
	}
}

// pass syncs every tracked account once, sequentially.
func (d *Daemon) pass(ctx context.Context) {
	accounts, err := d.store.ListAccounts(ctx)
	if err != nil {
		// Storage outages are expected to be transient; the next
		// firing retries rather than crashing the process.
		d.logger.Error().Err(err).Msg("Failed to list accounts, skipping pass")
		return
	}

	if len(accounts) == 0 {
		d.logger.Debug().Msg("No tracked accounts")
		return
	}

	start := time.Now()
	d.logger.Debug().Int("accounts", len(accounts)).Msg("Starting sync pass")

	for _, acct := range accounts {
		if ctx.Err() != nil {
			return
		}

		if !d.syncAccount(ctx, acct) {
			d.logger.Error().Msg("Storage unavailable, aborting pass")
			return
		}
	}

	d.logger.Debug().
		Int("accounts", len(accounts)).
		Dur("elapsed", time.Since(start)).
		Msg("Sync pass complete")
}

// syncAccount runs one account's sync with a deadline and per-account
// mutual exclusion. It returns false only when the storage layer is
// unavailable, which aborts the rest of the pass.
func (d *Daemon) syncAccount(ctx context.Context, acct store.Account) bool {
	if !d.acquire(acct.ID) {
		// Never run two syncs for the same account concurrently: both
		// would read the same stale cursor and double the remote load.
		d.logger.Warn().
			Int64("account", acct.ID).
			Msg("Previous sync still running, skipping account")
		return true
	}
	defer d.release(acct.ID)

	syncCtx := ctx
	if d.config.AccountTimeout > 0 {
		var cancel context.CancelFunc
		syncCtx, cancel = context.WithTimeout(ctx, d.config.AccountTimeout)
		defer cancel()
	}

	res, err := d.engine.Sync(syncCtx, acct)
	if err == nil {
		if !res.SkippedFetch && res.Inserted > 0 {
			d.logger.Info().
				Int64("account", acct.ID).
				Str("user", acct.LastFMUser).
				Int("inserted", res.Inserted).
				Msg("Account synced")
		}
		return true
	}

	switch {
	case errors.Is(err, store.ErrAccountNotFound):
		// Raced with a deletion or repoint, fine to skip this cycle.
		d.logger.Debug().
			Int64("account", acct.ID).
			Msg("Account disappeared mid-sync, skipping")
		return true

	case errors.Is(err, ingest.ErrRemoteUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		// Only this account is affected; its stored data simply stays
		// stale until a later cycle succeeds.
		d.logger.Warn().
			Err(err).
			Int64("account", acct.ID).
			Str("user", acct.LastFMUser).
			Msg("Sync failed for account")
		return true

	case errors.Is(err, context.Canceled):
		// Process shutdown.
		return true

	default:
		d.logger.Error().
			Err(err).
			Int64("account", acct.ID).
			Msg("Storage error during sync")
		return false
	}
}

// acquire marks the account as syncing; false means a sync is already
// in flight for it.
func (d *Daemon) acquire(id int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inFlight[id] {
		return false
	}
	d.inFlight[id] = true
	return true
}

func (d *Daemon) release(id int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.inFlight, id)
}
