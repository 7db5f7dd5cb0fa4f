package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pulsefeed/pulsefeed/internal/feed"
)

// ReposCmd is the parent command for repository administration.
var ReposCmd = &cobra.Command{
	Use:   "repos",
	Short: "Manage tracked repositories",
	Long: `Manage the repositories pulsefeed tracks.

Webhook deliveries for repositories not in this directory are accepted and
dropped, so tracking a repo here is what turns its webhooks into feed
entries.

Commands:
  add   Track a repository (org/repo)
  list  List tracked repositories`,
}

var reposAddToken string

var reposAddCmd = &cobra.Command{
	Use:   "add <org/repo>",
	Short: "Track a repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		parts := strings.Split(args[0], "/")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return fmt.Errorf("invalid repo format: %s (expected org/repo)", args[0])
		}

		cfg, err := loadConfig(true, false)
		if err != nil {
			return err
		}
		s, err := openStores(cfg)
		if err != nil {
			return err
		}

		r := &feed.Repository{
			Org:         parts[0],
			Repo:        parts[1],
			AccessToken: reposAddToken,
		}
		if err := s.repos.Create(cmd.Context(), r); err != nil {
			return fmt.Errorf("failed to track %s: %w", args[0], err)
		}

		fmt.Printf("Tracking %s/%s (%s).\n", r.Org, r.Repo, r.ID)
		return nil
	},
}

var reposListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked repositories",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(true, false)
		if err != nil {
			return err
		}
		s, err := openStores(cfg)
		if err != nil {
			return err
		}

		repos, err := s.repos.List(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list repositories: %w", err)
		}
		if len(repos) == 0 {
			fmt.Println("No repositories tracked. Run 'pulsefeed repos add <org/repo>'.")
			return nil
		}
		for _, r := range repos {
			fmt.Printf("%s  %s/%s\n", r.ID, r.Org, r.Repo)
		}
		return nil
	},
}

func init() {
	reposAddCmd.Flags().StringVar(&reposAddToken, "token", "", "GitHub access token for this repo's API enrichment")
	ReposCmd.AddCommand(reposAddCmd)
	ReposCmd.AddCommand(reposListCmd)
}
