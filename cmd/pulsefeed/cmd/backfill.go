package cmd

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// BackfillCmd copies recent public entries into a subscriber's timeline.
var BackfillCmd = &cobra.Command{
	Use:   "backfill <user-id> <repo-uuid>",
	Short: "Backfill a subscriber's timeline from the public feed",
	Long: `Copy the last 30 days of a repo's public timeline into one user's
timeline. The subscribe API does this automatically; this command repairs
timelines for users subscribed through other paths, or after a partial
fan-out failure.

Backfill is idempotent: entries the user already has are merged in place,
so running it twice changes nothing.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID := args[0]
		repoID, err := uuid.Parse(args[1])
		if err != nil {
			return fmt.Errorf("invalid repo id %q: %w", args[1], err)
		}

		cfg, err := loadConfig(true, false)
		if err != nil {
			return err
		}
		s, err := openStores(cfg)
		if err != nil {
			return err
		}

		copied, err := s.writer.Backfill(cmd.Context(), userID, repoID)
		if err != nil {
			return fmt.Errorf("backfill failed: %w", err)
		}

		fmt.Printf("Backfilled %d entries for %s.\n", copied, userID)
		return nil
	},
}
