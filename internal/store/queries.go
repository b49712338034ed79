package store

import (
	"context"
	"fmt"
)

// Presentation reads consumed by the CLI. These impose no invariants
// beyond the scrobble data model; ingestion never calls them.

// TrackCount is a track with its play count for one account.
type TrackCount struct {
	Title  string
	Artist string
	Plays  int64
}

// ArtistCount is an artist with its play count for one account.
type ArtistCount struct {
	Artist string
	Plays  int64
}

// AlbumCount is an album with its play count for one account.
type AlbumCount struct {
	Album  string
	Artist string
	Plays  int64
}

// RecentScrobbles returns the account's most recent scrobbles, newest
// first, up to limit.
func (s *Store) RecentScrobbles(ctx context.Context, id int64, limit int) ([]Scrobble, error) {
	query := `
		SELECT title, artist, COALESCE(album, ''), url, timestamp
		FROM scrobbles
		WHERE account_id = ?
		ORDER BY timestamp DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, id, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent scrobbles: %w", err)
	}
	defer rows.Close()

	var scrobbles []Scrobble
	for rows.Next() {
		var sc Scrobble
		if err := rows.Scan(&sc.Title, &sc.Artist, &sc.Album, &sc.URL, &sc.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan scrobble: %w", err)
		}
		scrobbles = append(scrobbles, sc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating scrobbles: %w", err)
	}

	return scrobbles, nil
}

// TopTracks returns the account's most played tracks within the
// timestamp window [from, to], most played first. A zero bound leaves
// that side of the window open.
func (s *Store) TopTracks(ctx context.Context, id int64, from, to int64, limit int) ([]TrackCount, error) {
	query := `
		SELECT title, artist, COUNT(*) AS plays
		FROM scrobbles
		WHERE account_id = ?` + windowClause(from, to) + `
		GROUP BY title, artist
		ORDER BY plays DESC, title ASC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, windowArgs(id, from, to, limit)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query top tracks: %w", err)
	}
	defer rows.Close()

	var tracks []TrackCount
	for rows.Next() {
		var t TrackCount
		if err := rows.Scan(&t.Title, &t.Artist, &t.Plays); err != nil {
			return nil, fmt.Errorf("failed to scan track count: %w", err)
		}
		tracks = append(tracks, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating track counts: %w", err)
	}

	return tracks, nil
}

// TopArtists returns the account's most played artists within the
// timestamp window [from, to], most played first.
func (s *Store) TopArtists(ctx context.Context, id int64, from, to int64, limit int) ([]ArtistCount, error) {
	query := `
		SELECT artist, COUNT(*) AS plays
		FROM scrobbles
		WHERE account_id = ?` + windowClause(from, to) + `
		GROUP BY artist
		ORDER BY plays DESC, artist ASC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, windowArgs(id, from, to, limit)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query top artists: %w", err)
	}
	defer rows.Close()

	var artists []ArtistCount
	for rows.Next() {
		var a ArtistCount
		if err := rows.Scan(&a.Artist, &a.Plays); err != nil {
			return nil, fmt.Errorf("failed to scan artist count: %w", err)
		}
		artists = append(artists, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating artist counts: %w", err)
	}

	return artists, nil
}

// TopAlbums returns the account's most played albums within the
// timestamp window [from, to], most played first. Scrobbles with no
// album are excluded.
func (s *Store) TopAlbums(ctx context.Context, id int64, from, to int64, limit int) ([]AlbumCount, error) {
	query := `
		SELECT album, artist, COUNT(*) AS plays
		FROM scrobbles
		WHERE account_id = ? AND album IS NOT NULL` + windowClause(from, to) + `
		GROUP BY album, artist
		ORDER BY plays DESC, album ASC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, windowArgs(id, from, to, limit)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query top albums: %w", err)
	}
	defer rows.Close()

	var albums []AlbumCount
	for rows.Next() {
		var a AlbumCount
		if err := rows.Scan(&a.Album, &a.Artist, &a.Plays); err != nil {
			return nil, fmt.Errorf("failed to scan album count: %w", err)
		}
		albums = append(albums, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating album counts: %w", err)
	}

	return albums, nil
}

// windowClause builds the optional timestamp window filter.
func windowClause(from, to int64) string {
	clause := ""
	if from > 0 {
		clause += " AND timestamp >= ?"
	}
	if to > 0 {
		clause += " AND timestamp <= ?"
	}
	return clause
}

// windowArgs builds the argument list matching windowClause.
func windowArgs(id int64, from, to int64, limit int) []interface{} {
	args := []interface{}{id}
	if from > 0 {
		args = append(args, from)
	}
	if to > 0 {
		args = append(args, to)
	}
	return append(args, limit)
}
