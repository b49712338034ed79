package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/lego-rl/waxlog/internal/store"
	"github.com/spf13/cobra"
)

// accountCmd groups tracked-account management commands
var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Manage tracked accounts",
	Long: `Manage the accounts whose Last.fm listening history is mirrored.

An account pairs an application-assigned numeric id with a Last.fm
username. The daemon syncs every registered account on its interval.`,
}

var accountRegisterCmd = &cobra.Command{
	Use:   "register <id> <lastfm-user>",
	Short: "Register a new tracked account",
	Long: `Register a new tracked account.

Registration never overwrites an existing account: if the id is already
registered, nothing changes. Use 'account repoint' to point an existing
account at a different Last.fm username.`,
	Args: cobra.ExactArgs(2),
	RunE: runAccountRegister,
}

var accountRepointCmd = &cobra.Command{
	Use:   "repoint <id> <lastfm-user>",
	Short: "Point an existing account at a different Last.fm username",
	Long: `Point an existing account at a different Last.fm username.

All scrobbles mirrored under the previous username are removed, so
history belonging to the old identity is never attributed to the new
one. The next daemon pass re-mirrors the new username from scratch.

Repointing to the username already stored is a no-op.`,
	Args: cobra.ExactArgs(2),
	RunE: runAccountRepoint,
}

var accountListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked accounts",
	Args:  cobra.NoArgs,
	RunE:  runAccountList,
}

func init() {
	rootCmd.AddCommand(accountCmd)
	accountCmd.AddCommand(accountRegisterCmd)
	accountCmd.AddCommand(accountRepointCmd)
	accountCmd.AddCommand(accountListCmd)
}

func parseAccountID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid account id %q: %w", arg, err)
	}
	return id, nil
}

func runAccountRegister(cmd *cobra.Command, args []string) error {
	id, err := parseAccountID(args[0])
	if err != nil {
		return err
	}
	user := args[1]

	st, err := openStore()
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	created, err := st.RegisterAccount(ctx, id, user)
	if err != nil {
		return fmt.Errorf("failed to register account: %w", err)
	}

	if !created {
		fmt.Printf("Account %d already registered, nothing changed\n", id)
		return nil
	}

	fmt.Printf("Registered account %d -> %s\n", id, user)
	return nil
}

func runAccountRepoint(cmd *cobra.Command, args []string) error {
	id, err := parseAccountID(args[0])
	if err != nil {
		return err
	}
	user := args[1]

	st, err := openStore()
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	outcome, err := st.RepointAccount(ctx, id, user)
	if err != nil {
		return fmt.Errorf("failed to repoint account: %w", err)
	}

	switch outcome {
	case store.RepointUpdated:
		fmt.Printf("Account %d now tracks %s; previously mirrored history was removed\n", id, user)
	case store.RepointUnchanged:
		fmt.Printf("Account %d already tracks %s, nothing changed\n", id, user)
	case store.RepointNotFound:
		return fmt.Errorf("account %d is not registered", id)
	}

	return nil
}

func runAccountList(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	accounts, err := st.ListAccounts(ctx)
	if err != nil {
		return fmt.Errorf("failed to list accounts: %w", err)
	}

	if len(accounts) == 0 {
		fmt.Println("No tracked accounts")
		return nil
	}

	rows := make([][]string, 0, len(accounts))
	for _, a := range accounts {
		count, err := st.ScrobbleCount(ctx, a.ID)
		if err != nil {
			return fmt.Errorf("failed to count scrobbles: %w", err)
		}

		last := "never"
		if ts, ok, err := st.LatestTimestamp(ctx, a.ID); err != nil {
			return fmt.Errorf("failed to get latest timestamp: %w", err)
		} else if ok {
			last = time.Unix(ts, 0).Format("2006-01-02 15:04")
		}

		rows = append(rows, []string{
			strconv.FormatInt(a.ID, 10),
			a.LastFMUser,
			strconv.FormatInt(count, 10),
			last,
		})
	}

	renderTable(os.Stdout, []string{"ID", "LAST.FM USER", "SCROBBLES", "LAST SCROBBLE"}, rows)
	return nil
}
