package ingest

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/lego-rl/waxlog/internal/store"
	"github.com/lego-rl/waxlog/pkg/lastfm"
	"github.com/rs/zerolog"
)

// stubIterator replays a fixed track list, optionally failing after a
// set number of tracks to simulate a remote outage mid-stream.
type stubIterator struct {
	tracks    []lastfm.PlayedTrack
	idx       int
	failAfter int // fail once this many tracks were emitted (0 = never)
	dropped   int
	err       error

	onEmit func(n int) // called after each emitted track
}

func (it *stubIterator) Next() bool {
	if it.err != nil {
		return false
	}
	if it.failAfter > 0 && it.idx >= it.failAfter {
		it.err = errors.New("connection reset")
		return false
	}
	if it.idx >= len(it.tracks) {
		return false
	}
	it.idx++
	if it.onEmit != nil {
		it.onEmit(it.idx)
	}
	return true
}

func (it *stubIterator) Track() lastfm.PlayedTrack { return it.tracks[it.idx-1] }
func (it *stubIterator) Err() error                { return it.err }
func (it *stubIterator) Dropped() int              { return it.dropped }

// stubSource serves a full oldest-first history and filters it by the
// requested since bound, like the real feed does.
type stubSource struct {
	playcount    int64
	playcountErr error
	tracks       []lastfm.PlayedTrack
	failAfter    int
	onEmit       func(n int)

	historyCalls []int64 // since values observed
}

func (s *stubSource) Playcount(ctx context.Context, user string) (int64, error) {
	if s.playcountErr != nil {
		return 0, s.playcountErr
	}
	return s.playcount, nil
}

func (s *stubSource) History(ctx context.Context, user string, since int64) Iterator {
	s.historyCalls = append(s.historyCalls, since)

	var filtered []lastfm.PlayedTrack
	for _, t := range s.tracks {
		if t.Timestamp >= since {
			filtered = append(filtered, t)
		}
	}
	return &stubIterator{tracks: filtered, failAfter: s.failAfter, onEmit: s.onEmit}
}

func playedTracks(n int, startTS int64) []lastfm.PlayedTrack {
	tracks := make([]lastfm.PlayedTrack, n)
	for i := range tracks {
		tracks[i] = lastfm.PlayedTrack{
			Title:     fmt.Sprintf("Track %d", i),
			Artist:    "Artist",
			Album:     "Album",
			URL:       "https://example.com/t",
			Timestamp: startTS + int64(i),
		}
	}
	return tracks
}

func createTestStore(t *testing.T) *store.Store {
	t.Helper()

	st, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestSync_FullHistory(t *testing.T) {
	st := createTestStore(t)
	ctx := context.Background()

	if _, err := st.RegisterAccount(ctx, 1, "alice"); err != nil {
		t.Fatalf("failed to register account: %v", err)
	}

	src := &stubSource{
		playcount: 250,
		tracks:    playedTracks(250, 1000),
	}
	engine := NewEngine(st, src, 0, zerolog.Nop())

	res, err := engine.Sync(ctx, store.Account{ID: 1, LastFMUser: "alice"})
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	if res.Fetched != 250 || res.Inserted != 250 {
		t.Errorf("expected 250 fetched and inserted, got %+v", res)
	}

	count, err := st.ScrobbleCount(ctx, 1)
	if err != nil {
		t.Fatalf("failed to count scrobbles: %v", err)
	}
	if count != 250 {
		t.Errorf("expected 250 stored scrobbles, got %d", count)
	}

	ts, ok, err := st.LatestTimestamp(ctx, 1)
	if err != nil {
		t.Fatalf("failed to get latest timestamp: %v", err)
	}
	if !ok || ts != 1249 {
		t.Errorf("expected latest timestamp 1249, got %d (ok=%v)", ts, ok)
	}

	// First sync requests the full history
	if len(src.historyCalls) != 1 || src.historyCalls[0] != 0 {
		t.Errorf("expected one history call with since=0, got %v", src.historyCalls)
	}

	// Second sync with no new remote plays: the playcount check makes
	// the fetch unnecessary and the stored set is unchanged
	res, err = engine.Sync(ctx, store.Account{ID: 1, LastFMUser: "alice"})
	if err != nil {
		t.Fatalf("second sync failed: %v", err)
	}
	if !res.SkippedFetch {
		t.Error("expected second sync to skip the fetch")
	}
	if len(src.historyCalls) != 1 {
		t.Errorf("expected no further history calls, got %v", src.historyCalls)
	}

	count, err = st.ScrobbleCount(ctx, 1)
	if err != nil {
		t.Fatalf("failed to count scrobbles: %v", err)
	}
	if count != 250 {
		t.Errorf("expected count unchanged at 250, got %d", count)
	}
}

func TestSync_ResumesPastBoundary(t *testing.T) {
	st := createTestStore(t)
	ctx := context.Background()

	if _, err := st.RegisterAccount(ctx, 1, "alice"); err != nil {
		t.Fatalf("failed to register account: %v", err)
	}
	if _, err := st.AppendScrobbles(ctx, 1, "alice", []store.Scrobble{
		{Title: "Boundary", Artist: "Artist", Timestamp: 1000},
	}); err != nil {
		t.Fatalf("failed to seed scrobble: %v", err)
	}

	// Remote reports the already-stored boundary play and one new play
	src := &stubSource{
		playcount: 2,
		tracks: []lastfm.PlayedTrack{
			{Title: "Boundary", Artist: "Artist", Timestamp: 1000},
			{Title: "New", Artist: "Artist", Timestamp: 1001},
		},
	}
	engine := NewEngine(st, src, 0, zerolog.Nop())

	res, err := engine.Sync(ctx, store.Account{ID: 1, LastFMUser: "alice"})
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	// The from filter is inclusive, so the request starts at cursor+1
	// and the boundary play is never re-fetched
	if len(src.historyCalls) != 1 || src.historyCalls[0] != 1001 {
		t.Errorf("expected history call with since=1001, got %v", src.historyCalls)
	}
	if res.Fetched != 1 || res.Inserted != 1 {
		t.Errorf("expected exactly the new play, got %+v", res)
	}

	count, err := st.ScrobbleCount(ctx, 1)
	if err != nil {
		t.Fatalf("failed to count scrobbles: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 stored scrobbles, got %d", count)
	}
}

func TestSync_CursorNeverDecreases(t *testing.T) {
	st := createTestStore(t)
	ctx := context.Background()

	if _, err := st.RegisterAccount(ctx, 1, "alice"); err != nil {
		t.Fatalf("failed to register account: %v", err)
	}

	engine := NewEngine(st, &stubSource{playcount: 100, tracks: playedTracks(100, 1000)}, 0, zerolog.Nop())

	var prev int64
	for cycle := 0; cycle < 3; cycle++ {
		if _, err := engine.Sync(ctx, store.Account{ID: 1, LastFMUser: "alice"}); err != nil {
			t.Fatalf("sync %d failed: %v", cycle, err)
		}

		ts, ok, err := st.LatestTimestamp(ctx, 1)
		if err != nil {
			t.Fatalf("failed to get latest timestamp: %v", err)
		}
		if !ok {
			t.Fatal("expected a timestamp after sync")
		}
		if ts < prev {
			t.Fatalf("cursor decreased from %d to %d", prev, ts)
		}
		prev = ts
	}
}

func TestSync_RemoteFailureMidStream(t *testing.T) {
	st := createTestStore(t)
	ctx := context.Background()

	if _, err := st.RegisterAccount(ctx, 1, "alice"); err != nil {
		t.Fatalf("failed to register account: %v", err)
	}

	tracks := playedTracks(250, 1000)

	// The feed dies after 150 tracks: one full batch of 100 was
	// committed, the partial second batch is discarded
	src := &stubSource{playcount: 250, tracks: tracks, failAfter: 150}
	engine := NewEngine(st, src, 0, zerolog.Nop())

	_, err := engine.Sync(ctx, store.Account{ID: 1, LastFMUser: "alice"})
	if !errors.Is(err, ErrRemoteUnavailable) {
		t.Fatalf("expected ErrRemoteUnavailable, got %v", err)
	}

	count, err := st.ScrobbleCount(ctx, 1)
	if err != nil {
		t.Fatalf("failed to count scrobbles: %v", err)
	}
	if count != 100 {
		t.Fatalf("expected 100 committed scrobbles after failure, got %d", count)
	}

	// Recovery: the next cycle recomputes the cursor from committed
	// state and fetches only what is missing
	src = &stubSource{playcount: 250, tracks: tracks}
	engine = NewEngine(st, src, 0, zerolog.Nop())

	res, err := engine.Sync(ctx, store.Account{ID: 1, LastFMUser: "alice"})
	if err != nil {
		t.Fatalf("recovery sync failed: %v", err)
	}

	if len(src.historyCalls) != 1 || src.historyCalls[0] != 1100 {
		t.Errorf("expected resume from since=1100, got %v", src.historyCalls)
	}
	if res.Inserted != 150 {
		t.Errorf("expected 150 inserted on recovery, got %d", res.Inserted)
	}

	count, err = st.ScrobbleCount(ctx, 1)
	if err != nil {
		t.Fatalf("failed to count scrobbles: %v", err)
	}
	if count != 250 {
		t.Errorf("expected complete history of 250, got %d", count)
	}

	// No gaps: every timestamp from 1000 to 1249 is present exactly once
	recent, err := st.RecentScrobbles(ctx, 1, 250)
	if err != nil {
		t.Fatalf("failed to query scrobbles: %v", err)
	}
	seen := make(map[int64]bool, len(recent))
	for _, s := range recent {
		if seen[s.Timestamp] {
			t.Fatalf("duplicate timestamp %d", s.Timestamp)
		}
		seen[s.Timestamp] = true
	}
	for ts := int64(1000); ts <= 1249; ts++ {
		if !seen[ts] {
			t.Fatalf("missing timestamp %d", ts)
		}
	}
}

func TestSync_RemainderFlush(t *testing.T) {
	st := createTestStore(t)
	ctx := context.Background()

	if _, err := st.RegisterAccount(ctx, 1, "alice"); err != nil {
		t.Fatalf("failed to register account: %v", err)
	}

	// 142 tracks: one full batch and a remainder of 42
	src := &stubSource{playcount: 142, tracks: playedTracks(142, 1000)}
	engine := NewEngine(st, src, 100, zerolog.Nop())

	res, err := engine.Sync(ctx, store.Account{ID: 1, LastFMUser: "alice"})
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if res.Inserted != 142 {
		t.Errorf("expected 142 inserted, got %d", res.Inserted)
	}

	count, err := st.ScrobbleCount(ctx, 1)
	if err != nil {
		t.Fatalf("failed to count scrobbles: %v", err)
	}
	if count != 142 {
		t.Errorf("expected 142 stored, got %d", count)
	}
}

func TestSync_PlaycountUnavailable(t *testing.T) {
	st := createTestStore(t)
	ctx := context.Background()

	if _, err := st.RegisterAccount(ctx, 1, "alice"); err != nil {
		t.Fatalf("failed to register account: %v", err)
	}

	src := &stubSource{playcountErr: errors.New("connection refused")}
	engine := NewEngine(st, src, 0, zerolog.Nop())

	_, err := engine.Sync(ctx, store.Account{ID: 1, LastFMUser: "alice"})
	if !errors.Is(err, ErrRemoteUnavailable) {
		t.Fatalf("expected ErrRemoteUnavailable, got %v", err)
	}
}

func TestSync_AccountNotFound(t *testing.T) {
	st := createTestStore(t)
	ctx := context.Background()

	// Account was never registered (or vanished in a repoint race)
	src := &stubSource{playcount: 10, tracks: playedTracks(10, 1000)}
	engine := NewEngine(st, src, 0, zerolog.Nop())

	_, err := engine.Sync(ctx, store.Account{ID: 42, LastFMUser: "ghost"})
	if !errors.Is(err, store.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestSync_CancelledBetweenBatches(t *testing.T) {
	st := createTestStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := st.RegisterAccount(ctx, 1, "alice"); err != nil {
		t.Fatalf("failed to register account: %v", err)
	}

	// Cancel right after the first full batch: that batch commits
	// whole, and nothing from the next batch ever reaches the store
	src := &stubSource{
		playcount: 250,
		tracks:    playedTracks(250, 1000),
		onEmit: func(n int) {
			if n == 101 {
				cancel()
			}
		},
	}
	engine := NewEngine(st, src, 100, zerolog.Nop())

	_, err := engine.Sync(ctx, store.Account{ID: 1, LastFMUser: "alice"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	// The in-flight batch was committed in full, nothing beyond it
	count, err := st.ScrobbleCount(context.Background(), 1)
	if err != nil {
		t.Fatalf("failed to count scrobbles: %v", err)
	}
	if count != 100 {
		t.Errorf("expected exactly the flushed batch of 100, got %d", count)
	}
}
