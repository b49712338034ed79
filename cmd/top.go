package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

var (
	topLimit   int
	topSince   time.Duration
	topArtists bool
	topAlbums  bool
)

// topCmd represents the top command
var topCmd = &cobra.Command{
	Use:   "top <id>",
	Short: "Show an account's most played tracks, artists, or albums",
	Long: `Show an account's most played tracks (default), artists, or albums
from the mirrored history, most played first.

Use --since to restrict the count to a recent window, e.g.:

  waxlog top 42 --artists --since 168h   # top artists of the last week`,
	Args: cobra.ExactArgs(1),
	RunE: runTop,
}

func init() {
	rootCmd.AddCommand(topCmd)

	topCmd.Flags().IntVarP(&topLimit, "limit", "n", 10, "Number of entries to show")
	topCmd.Flags().DurationVar(&topSince, "since", 0, "Only count plays within this window (0=all time)")
	topCmd.Flags().BoolVar(&topArtists, "artists", false, "Rank artists instead of tracks")
	topCmd.Flags().BoolVar(&topAlbums, "albums", false, "Rank albums instead of tracks")
}

func runTop(cmd *cobra.Command, args []string) error {
	if topArtists && topAlbums {
		return fmt.Errorf("--artists and --albums are mutually exclusive")
	}

	id, err := parseAccountID(args[0])
	if err != nil {
		return err
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var from int64
	if topSince > 0 {
		from = time.Now().Add(-topSince).Unix()
	}

	switch {
	case topArtists:
		artists, err := st.TopArtists(ctx, id, from, 0, topLimit)
		if err != nil {
			return fmt.Errorf("failed to query top artists: %w", err)
		}
		if len(artists) == 0 {
			fmt.Println("No scrobbles mirrored for this account")
			return nil
		}

		rows := make([][]string, 0, len(artists))
		for i, a := range artists {
			rows = append(rows, []string{
				strconv.Itoa(i + 1),
				a.Artist,
				strconv.FormatInt(a.Plays, 10),
			})
		}
		renderTable(os.Stdout, []string{"#", "ARTIST", "PLAYS"}, rows)

	case topAlbums:
		albums, err := st.TopAlbums(ctx, id, from, 0, topLimit)
		if err != nil {
			return fmt.Errorf("failed to query top albums: %w", err)
		}
		if len(albums) == 0 {
			fmt.Println("No scrobbles mirrored for this account")
			return nil
		}

		rows := make([][]string, 0, len(albums))
		for i, a := range albums {
			rows = append(rows, []string{
				strconv.Itoa(i + 1),
				a.Album,
				a.Artist,
				strconv.FormatInt(a.Plays, 10),
			})
		}
		renderTable(os.Stdout, []string{"#", "ALBUM", "ARTIST", "PLAYS"}, rows)

	default:
		tracks, err := st.TopTracks(ctx, id, from, 0, topLimit)
		if err != nil {
			return fmt.Errorf("failed to query top tracks: %w", err)
		}
		if len(tracks) == 0 {
			fmt.Println("No scrobbles mirrored for this account")
			return nil
		}

		rows := make([][]string, 0, len(tracks))
		for i, t := range tracks {
			rows = append(rows, []string{
				strconv.Itoa(i + 1),
				t.Title,
				t.Artist,
				strconv.FormatInt(t.Plays, 10),
			})
		}
		renderTable(os.Stdout, []string{"#", "TRACK", "ARTIST", "PLAYS"}, rows)
	}

	return nil
}
