package lastfm

// PlayedTrack represents one finalized play from a user's listening
// history, as reported by user.getRecentTracks.
type PlayedTrack struct {
	Title     string // Track title
	Artist    string // Artist name
	Album     string // Album name (may be empty, Last.fm omits it for some tracks)
	URL       string // Last.fm permalink for the track
	Timestamp int64  // Unix timestamp of the play, assigned by Last.fm
}

// UserInfo represents a user profile from user.getInfo.
type UserInfo struct {
	Name      string // Last.fm username
	Playcount int64  // Total scrobbles recorded by Last.fm
	URL       string // Profile permalink
}
