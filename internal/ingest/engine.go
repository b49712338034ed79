// Package ingest implements per-account incremental synchronization of
// Last.fm listening history into the local store.
package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/lego-rl/waxlog/internal/store"
	"github.com/lego-rl/waxlog/pkg/lastfm"
	"github.com/rs/zerolog"
)

// ErrRemoteUnavailable wraps any failure to fetch from the remote
// service. Callers treat it as fatal for the affected account's cycle
// only; the cursor is derived from committed store state, so no
// corruption survives an aborted fetch.
var ErrRemoteUnavailable = errors.New("ingest: remote service unavailable")

// DefaultBatchSize bounds how many scrobbles are held in memory and
// flushed per store call. The bound exists for memory and to limit the
// blast radius of a mid-batch failure, not because of any remote page
// size.
const DefaultBatchSize = 100

// Source is the remote feed consumed by the engine.
type Source interface {
	// Playcount returns the total number of plays the remote service
	// has recorded for the user.
	Playcount(ctx context.Context, user string) (int64, error)

	// History returns an iterator over the user's plays at or after
	// since (0 means full history), surfaced oldest-first.
	History(ctx context.Context, user string, since int64) Iterator
}

// Iterator is a single-pass sequence of remote plays.
type Iterator interface {
	Next() bool
	Track() lastfm.PlayedTrack
	Err() error
	Dropped() int
}

// LastFMSource adapts a lastfm.Client to the Source interface.
type LastFMSource struct {
	Client *lastfm.Client
}

func (s *LastFMSource) Playcount(ctx context.Context, user string) (int64, error) {
	info, err := s.Client.User().Info(ctx, user)
	if err != nil {
		return 0, err
	}
	return info.Playcount, nil
}

func (s *LastFMSource) History(ctx context.Context, user string, since int64) Iterator {
	return s.Client.User().History(ctx, user, since)
}

// Result summarizes one sync invocation.
type Result struct {
	Fetched      int  // Remote plays consumed from the feed
	Inserted     int  // Rows actually added to the store
	Dropped      int  // Malformed remote entries skipped by the client
	SkippedFetch bool // True when the playcount check made a fetch unnecessary
}

// Engine brings one account's stored scrobbles up to date with the
// remote feed, exactly once per new remote play, with bounded memory.
type Engine struct {
	store     *store.Store
	source    Source
	batchSize int
	logger    zerolog.Logger
}

// NewEngine creates a sync engine. batchSize <= 0 selects
// DefaultBatchSize.
func NewEngine(st *store.Store, src Source, batchSize int, logger zerolog.Logger) *Engine {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Engine{
		store:     st,
		source:    src,
		batchSize: batchSize,
		logger:    logger.With().Str("component", "ingest").Logger(),
	}
}

// Sync mirrors the account's new remote plays into the store.
//
// The resume cursor is the maximum committed timestamp; the remote
// "from" filter is inclusive, so the request starts at cursor+1 to
// avoid re-fetching the boundary play. Batches are committed in fetch
// order (oldest first), so a crash mid-sync costs at most a re-fetch of
// the last in-flight batch, and resubmission is a per-duplicate no-op.
//
// Error classification for callers:
//   - errors.Is(err, store.ErrAccountNotFound): account vanished, skip.
//   - errors.Is(err, ErrRemoteUnavailable): this account only failed.
//   - anything else: the storage layer itself is unavailable.
func (e *Engine) Sync(ctx context.Context, acct store.Account) (Result, error) {
	var res Result

	cursor, ok, err := e.store.LatestTimestamp(ctx, acct.ID)
	if err != nil {
		return res, err
	}

	var since int64
	if ok {
		since = cursor + 1
	}

	// The remote playcount is one cheap request; when nothing new was
	// played since the last cycle it saves the whole history walk.
	stored, err := e.store.ScrobbleCount(ctx, acct.ID)
	if err != nil {
		return res, err
	}

	remote, err := e.source.Playcount(ctx, acct.LastFMUser)
	if err != nil {
		return res, fmt.Errorf("%w: %w", ErrRemoteUnavailable, err)
	}

	if remote <= stored {
		res.SkippedFetch = true
		e.logger.Debug().
			Int64("account", acct.ID).
			Str("user", acct.LastFMUser).
			Int64("stored", stored).
			Int64("remote", remote).
			Msg("No new plays, skipping fetch")
		return res, nil
	}

	it := e.source.History(ctx, acct.LastFMUser, since)

	batch := make([]store.Scrobble, 0, e.batchSize)
	for it.Next() {
		t := it.Track()
		res.Fetched++
		batch = append(batch, store.Scrobble{
			Title:     t.Title,
			Artist:    t.Artist,
			Album:     t.Album,
			URL:       t.URL,
			Timestamp: t.Timestamp,
		})

		if len(batch) < e.batchSize {
			continue
		}

		n, err := e.store.AppendScrobbles(ctx, acct.ID, acct.LastFMUser, batch)
		if err != nil {
			return res, err
		}
		res.Inserted += n
		batch = batch[:0]

		// Cancellation lands between batches, never mid-batch.
		if err := ctx.Err(); err != nil {
			return res, err
		}
	}

	if err := it.Err(); err != nil {
		res.Dropped = it.Dropped()
		return res, fmt.Errorf("%w: %w", ErrRemoteUnavailable, err)
	}

	// A non-empty remainder must never be dropped.
	if len(batch) > 0 {
		n, err := e.store.AppendScrobbles(ctx, acct.ID, acct.LastFMUser, batch)
		if err != nil {
			return res, err
		}
		res.Inserted += n
	}

	res.Dropped = it.Dropped()

	e.logger.Info().
		Int64("account", acct.ID).
		Str("user", acct.LastFMUser).
		Int("fetched", res.Fetched).
		Int("inserted", res.Inserted).
		Int("dropped", res.Dropped).
		Msg("Sync complete")

	return res, nil
}
