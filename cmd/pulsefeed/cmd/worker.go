package cmd

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/pulsefeed/pulsefeed/internal/bootstrap"
	"github.com/pulsefeed/pulsefeed/internal/config"
	"github.com/pulsefeed/pulsefeed/internal/ghapi"
	"github.com/pulsefeed/pulsefeed/internal/processor"
	"github.com/pulsefeed/pulsefeed/internal/summarize"
	"github.com/pulsefeed/pulsefeed/internal/worker"
)

var (
	workerOnce     bool
	workerInterval time.Duration
)

// WorkerCmd runs the batch event processor.
var WorkerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the batch event processor",
	Long: `Run the worker that drains unprocessed events into the timelines.

Each batch run takes the worker lease, wakes snoozed entries whose snooze
time has passed, then processes pending events oldest first: enrich from
the GitHub API, summarize, dedupe, score, and fan out to the public and
per-subscriber timelines.

Only one worker processes at a time. With redis_addr configured the lease
lives in redis, so extra worker instances are safe and simply idle. Without
it the lease is in-process and the deployment must run a single instance.

Use --once for a single batch run, e.g. from cron or for debugging.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(true, true)
		if err != nil {
			return err
		}
		if workerInterval > 0 {
			cfg.BatchInterval = workerInterval
		}

		s, err := openStores(cfg)
		if err != nil {
			return err
		}

		log := bootstrap.Logger("worker")

		registry := processor.NewRegistry(processor.Deps{
			Summarizer: summarize.NewClient(cfg.SummarizerURL, cfg.SummarizerKey),
			NewGitHub:  newGitHubFactory(cfg),
		})

		runner := worker.NewRunner(worker.Config{
			Events:          s.events,
			Repos:           s.repos,
			Timelines:       s.timelines,
			Registry:        registry,
			Writer:          s.writer,
			Lock:            newLock(cfg),
			Logger:          log,
			InterEventDelay: cfg.InterEventDelay,
			BatchBudget:     cfg.BatchBudget,
		})

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if workerOnce {
			return runner.RunBatch(ctx)
		}
		return runner.Start(ctx, cfg.BatchInterval)
	},
}

// newGitHubFactory builds per-repo API clients, falling back to the globally
// configured token for repos without their own.
func newGitHubFactory(cfg *config.Config) func(token string) processor.GitHub {
	return func(token string) processor.GitHub {
		if token == "" {
			token = cfg.GitHubToken
		}
		return ghapi.NewClient(token)
	}
}

// newLock builds the batch lease: redis-backed when configured, otherwise
// in-process.
func newLock(cfg *config.Config) worker.Lock {
	if cfg.RedisAddr == "" {
		return worker.NewLocalLock()
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	return worker.NewRedisLock(client, cfg.LeaseKey, cfg.BatchBudget+time.Minute)
}

func init() {
	WorkerCmd.Flags().BoolVar(&workerOnce, "once", false, "run a single batch and exit")
	WorkerCmd.Flags().DurationVar(&workerInterval, "interval", 0, "batch interval (overrides config)")
}
