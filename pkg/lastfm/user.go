package lastfm

import (
	"context"
	"encoding/xml"
	"fmt"
	"strconv"
)

// UserService provides read operations over Last.fm user data.
type UserService struct {
	client *Client
}

const (
	// HistoryPageSize is the number of tracks requested per
	// user.getRecentTracks page. 200 is the maximum Last.fm allows.
	HistoryPageSize = 200
)

// Info fetches a user's profile via user.getInfo.
//
// The returned Playcount is the total number of scrobbles Last.fm has
// recorded for the user, which callers can compare against locally
// stored data to decide whether a history fetch is worthwhile.
func (s *UserService) Info(ctx context.Context, user string) (*UserInfo, error) {
	params := map[string]string{
		"user": user,
	}

	resp, err := s.client.call(ctx, "user.getinfo", params)
	if err != nil {
		return nil, err
	}

	info, err := unmarshalUserInfo(resp)
	if err != nil {
		return nil, fmt.Errorf("lastfm: failed to parse user info response: %w", err)
	}

	return info, nil
}

// History returns an iterator over a user's listening history, surfaced
// oldest-first as one logical sequence regardless of how Last.fm
// paginates it underneath.
//
// since is a Unix timestamp; only plays at or after it are returned
// (Last.fm's "from" filter is inclusive). Pass 0 for the full history.
//
// Last.fm orders recent-tracks pages newest-first, so the iterator
// walks pages from the last to the first and reverses each page.
// Oldest-first ordering matters to callers that commit the sequence
// incrementally: a resume cursor derived from committed rows must never
// skip past history that was not yet committed.
//
// The window's upper bound is frozen at creation time via the "to"
// filter. Without it, a play scrobbled mid-iteration shifts every older
// play down the newest-first ranking; when that shift crosses a page
// boundary the oldest play slides onto a page already walked and is
// never returned. Plays at or after the bound are picked up by the next
// History call.
//
// Provisional "now playing" entries are filtered out, as are rows
// missing an artist or timestamp; the latter are counted in Dropped.
//
// The iteration pattern follows database/sql rows:
//
//	hist := client.User().History(ctx, "some-user", 0)
//	for hist.Next() {
//	    t := hist.Track()
//	    ...
//	}
//	if err := hist.Err(); err != nil {
//	    ...
//	}
func (s *UserService) History(ctx context.Context, user string, since int64) *History {
	return &History{
		ctx:   ctx,
		svc:   s,
		user:  user,
		since: since,
		until: s.client.now(),
	}
}

// History iterates over a user's listening history. It is not safe for
// concurrent use. A History is single-pass; a fresh call to
// UserService.History re-requests from the origin.
type History struct {
	ctx   context.Context
	svc   *UserService
	user  string
	since int64
	until int64 // exclusive upper bound, fixed at creation

	started bool
	page    int           // next page to fetch, counting down to 2
	first   []PlayedTrack // cached page 1, emitted after all others
	haveOne bool

	buf     []PlayedTrack
	idx     int
	cur     PlayedTrack
	dropped int
	done    bool
	err     error
}

// Next advances to the next track. It returns false when the sequence
// is exhausted or an error occurred; check Err afterwards.
func (h *History) Next() bool {
	if h.err != nil || h.done {
		return false
	}

	for h.idx >= len(h.buf) {
		if err := h.fill(); err != nil {
			h.err = err
			return false
		}
		if h.done {
			return false
		}
	}

	h.cur = h.buf[h.idx]
	h.idx++
	return true
}

// Track returns the track positioned by the last successful Next.
func (h *History) Track() PlayedTrack {
	return h.cur
}

// Err returns the error that terminated iteration, if any.
func (h *History) Err() error {
	return h.err
}

// Dropped returns the number of malformed entries skipped so far.
func (h *History) Dropped() int {
	return h.dropped
}

// fill replaces the buffer with the next page of tracks. It sets done
// once no pages remain. The buffer may legitimately come back empty
// when a whole page was filtered out, in which case the caller loops.
func (h *History) fill() error {
	h.buf = nil
	h.idx = 0

	if !h.started {
		// First request learns the page count. Page 1 is the newest
		// slice of history, so it is held back and emitted last.
		page, totalPages, err := h.fetchPage(1)
		if err != nil {
			return err
		}
		h.started = true

		if totalPages <= 1 {
			h.buf = page
			h.haveOne = false
			h.page = 0
			return nil
		}

		h.first = page
		h.haveOne = true
		h.page = totalPages
		// Fall through to fetch the oldest page.
	}

	if h.page >= 2 {
		page, _, err := h.fetchPage(h.page)
		if err != nil {
			return err
		}
		h.page--
		h.buf = page
		return nil
	}

	if h.haveOne {
		h.buf = h.first
		h.first = nil
		h.haveOne = false
		return nil
	}

	h.done = true
	return nil
}

// fetchPage requests one user.getRecentTracks page and returns its
// usable tracks oldest-first.
func (h *History) fetchPage(page int) ([]PlayedTrack, int, error) {
	params := map[string]string{
		"user":  h.user,
		"limit": strconv.Itoa(HistoryPageSize),
		"page":  strconv.Itoa(page),
	}
	if h.since > 0 {
		params["from"] = strconv.FormatInt(h.since, 10)
	}
	// "to" is exclusive on the Last.fm side. Pinning it keeps every
	// page request inside the same immutable window.
	params["to"] = strconv.FormatInt(h.until, 10)

	resp, err := h.svc.client.call(h.ctx, "user.getrecenttracks", params)
	if err != nil {
		return nil, 0, err
	}

	parsed, err := unmarshalRecentTracks(resp)
	if err != nil {
		return nil, 0, fmt.Errorf("lastfm: failed to parse recent tracks response: %w", err)
	}

	tracks := make([]PlayedTrack, 0, len(parsed.Tracks))

	// Walk backwards so each page comes out oldest-first.
	for i := len(parsed.Tracks) - 1; i >= 0; i-- {
		t := parsed.Tracks[i]

		// In-progress plays have no finalized timestamp and must not
		// be surfaced; Last.fm interleaves them with history.
		if t.NowPlaying == "true" {
			continue
		}

		var ts int64
		if t.Date.UTS != "" {
			ts, _ = strconv.ParseInt(t.Date.UTS, 10, 64)
		}
		if t.Artist == "" || ts == 0 {
			h.dropped++
			continue
		}

		tracks = append(tracks, PlayedTrack{
			Title:     t.Name,
			Artist:    t.Artist,
			Album:     t.Album,
			URL:       t.URL,
			Timestamp: ts,
		})
	}

	return tracks, parsed.TotalPages, nil
}

// recentTracksResponse represents the XML payload of user.getRecentTracks.
type recentTracksResponse struct {
	XMLName    xml.Name `xml:"recenttracks"`
	Page       int      `xml:"page,attr"`
	TotalPages int      `xml:"totalPages,attr"`
	Total      int      `xml:"total,attr"`
	Tracks     []struct {
		NowPlaying string `xml:"nowplaying,attr"`
		Artist     string `xml:"artist"`
		Name       string `xml:"name"`
		Album      string `xml:"album"`
		URL        string `xml:"url"`
		Date       struct {
			UTS string `xml:"uts,attr"`
		} `xml:"date"`
	} `xml:"track"`
}

// unmarshalRecentTracks parses the XML response from user.getRecentTracks.
func unmarshalRecentTracks(data []byte) (*recentTracksResponse, error) {
	var resp recentTracksResponse
	if err := xml.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal recent tracks response: %w", err)
	}
	return &resp, nil
}

// userInfoResponse represents the XML payload of user.getInfo.
type userInfoResponse struct {
	XMLName   xml.Name `xml:"user"`
	Name      string   `xml:"name"`
	URL       string   `xml:"url"`
	Playcount string   `xml:"playcount"`
}

// unmarshalUserInfo parses the XML response from user.getInfo.
func unmarshalUserInfo(data []byte) (*UserInfo, error) {
	var resp userInfoResponse
	if err := xml.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user info response: %w", err)
	}

	var playcount int64
	if resp.Playcount != "" {
		playcount, _ = strconv.ParseInt(resp.Playcount, 10, 64)
	}

	return &UserInfo{
		Name:      resp.Name,
		Playcount: playcount,
		URL:       resp.URL,
	}, nil
}
