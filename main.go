// pulsefeed - GitHub activity feed pipeline
//
// A single binary that ingests GitHub webhooks, enriches and summarizes
// the interesting events, and fans them out into public and per-subscriber
// timelines.
package main

import (
	"os"

	// Bootstrap MUST be imported first to set the log level before other packages initialize
	_ "github.com/pulsefeed/pulsefeed/internal/bootstrap"

	"github.com/pulsefeed/pulsefeed/cmd/pulsefeed/cmd"
	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "pulsefeed",
		Short: "GitHub activity feed pipeline",
		Long: `pulsefeed turns GitHub webhooks into activity timelines.

HOW IT FITS TOGETHER:
  1. pulsefeed migrate        # Create the schema
  2. pulsefeed repos add o/r  # Track a repository
  3. pulsefeed serve          # Receive webhooks, store raw events
  4. pulsefeed worker         # Enrich, summarize, dedupe, fan out

KEY COMMANDS:
  serve     - Webhook ingress and subscriber API
  worker    - Batch processor (enrich, summarize, fan out)
  repos     - Manage tracked repositories
  backfill  - Repair a subscriber's timeline
  migrate   - Create or update the database schema`,
	}

	// Pass version to the version command
	cmd.SetVersion(Version)

	rootCmd.AddCommand(cmd.VersionCmd)
	rootCmd.AddCommand(cmd.ServeCmd)
	rootCmd.AddCommand(cmd.WorkerCmd)
	rootCmd.AddCommand(cmd.ReposCmd)
	rootCmd.AddCommand(cmd.BackfillCmd)
	rootCmd.AddCommand(cmd.MigrateCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
