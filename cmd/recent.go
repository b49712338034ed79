package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var recentLimit int

// recentCmd represents the recent command
var recentCmd = &cobra.Command{
	Use:   "recent <id>",
	Short: "Show an account's most recent mirrored scrobbles",
	Long: `Show an account's most recent mirrored scrobbles, newest first.

This reads only the local database; data is as fresh as the last
successful daemon sync for the account.`,
	Args: cobra.ExactArgs(1),
	RunE: runRecent,
}

func init() {
	rootCmd.AddCommand(recentCmd)

	recentCmd.Flags().IntVarP(&recentLimit, "limit", "n", 10, "Number of scrobbles to show")
}

func runRecent(cmd *cobra.Command, args []string) error {
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

	scrobbles, err := st.RecentScrobbles(ctx, id, recentLimit)
	if err != nil {
		return fmt.Errorf("failed to query recent scrobbles: %w", err)
	}

	if len(scrobbles) == 0 {
		fmt.Println("No scrobbles mirrored for this account")
		return nil
	}

	rows := make([][]string, 0, len(scrobbles))
	for _, s := range scrobbles {
		rows = append(rows, []string{
			time.Unix(s.Timestamp, 0).Format("2006-01-02 15:04"),
			s.Title,
			s.Artist,
			s.Album,
		})
	}

	renderTable(os.Stdout, []string{"PLAYED", "TRACK", "ARTIST", "ALBUM"}, rows)
	return nil
}
