package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var (
	settingsPath     string
	systemPromptPath string
	schemaPath       string
	fixturePath      string
	debugMode        bool
	dryRun           bool
	metricsAddr      string
	pruneOlderThan   time.Duration
	recentLimit      int
)

var rootCmd = &cobra.Command{
	Use:   "social-agent",
	Short: "Budgeted social media engagement agent",
	Long: `Searches a platform for posts, ranks them by relevance, lets a language model
decide whether to ignore, like, comment or explore a thread, and acts within daily limits.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return SetupLogging(debugMode)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		syncLogger()
	},
}

var runCmd = &cobra.Command{
	Use:   "run [term...]",
	Short: "Run a single engagement cycle",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := setupApp(cmd.Context())
		if err != nil {
			return err
		}
		defer app.Close()

		stats, err := app.Supervisor.RunCycle(cmd.Context(), args)
		if err != nil {
			return fmt.Errorf("cycle failed: %w", err)
		}
		fmt.Println(stats)
		return nil
	},
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run engagement cycles on the configured interval",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := setupApp(cmd.Context())
		if err != nil {
			return err
		}
		defer app.Close()

		if metricsAddr != "" {
			srv := &http.Server{Addr: metricsAddr, Handler: promhttp.Handler()}
			go func() {
				logger.Infof("Serving metrics on %s", metricsAddr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Errorf("Metrics server: %v", err)
				}
			}()
			defer srv.Close()
		}

		sched := app.Config.Settings.Schedule
		scheduler := NewScheduler(sched.Interval, sched.Jitter, func(ctx context.Context) error {
			_, err := app.Supervisor.RunCycle(ctx, nil)
			return err
		})
		err = scheduler.Run(cmd.Context())
		if errors.Is(err, context.Canceled) {
			logger.Infof("Scheduler stopped")
			return nil
		}
		return err
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show today's budget usage and recent actions",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := setupApp(cmd.Context())
		if err != nil {
			return err
		}
		defer app.Close()
		return printStats(cmd.Context(), app, recentLimit)
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check configuration, credentials and ledger access",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := NewConfig(buildOverrides())
		if err != nil {
			fmt.Printf("✗ settings: %v\n", err)
			return err
		}
		fmt.Println("✓ settings")
		return validateSetup(cmd.Context(), cfg)
	},
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Drop seen markers older than a duration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := NewConfig(buildOverrides())
		if err != nil {
			return err
		}
		ledger, err := OpenLedger(cfg.Settings.Ledger.DSN)
		if err != nil {
			return fmt.Errorf("opening ledger: %w", err)
		}
		defer ledger.Close()

		n, err := ledger.Prune(cmd.Context(), time.Now().Add(-pruneOlderThan))
		if err != nil {
			return err
		}
		fmt.Printf("✓ Pruned %d seen items older than %s\n", n, pruneOlderThan)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&settingsPath, "config", "", "Path to settings file")
	rootCmd.PersistentFlags().StringVar(&systemPromptPath, "system-prompt", "", "Path to custom decider system prompt")
	rootCmd.PersistentFlags().StringVar(&schemaPath, "schema", "", "Path to custom decision schema")
	rootCmd.PersistentFlags().StringVar(&fixturePath, "fixture", "", "Read items from a YAML fixture instead of the HTTP source")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "Decide but do not act; uses an in-memory ledger")

	scheduleCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address")
	statsCmd.Flags().IntVar(&recentLimit, "recent", 10, "Number of recent actions to show")
	pruneCmd.Flags().DurationVar(&pruneOlderThan, "older-than", 30*24*time.Hour, "Age of seen markers to drop")

	rootCmd.AddCommand(runCmd, scheduleCmd, statsCmd, validateCmd, pruneCmd)
}

func buildOverrides() *ConfigOverrides {
	overrides := &ConfigOverrides{}
	if settingsPath != "" {
		overrides.SettingsPath = &settingsPath
	}
	if systemPromptPath != "" {
		overrides.SystemPromptPath = &systemPromptPath
	}
	if schemaPath != "" {
		overrides.SchemaPath = &schemaPath
	}
	return overrides
}

func setupApp(ctx context.Context) (*App, error) {
	cfg, err := NewConfig(buildOverrides())
	if err != nil {
		return nil, err
	}
	if fixturePath != "" {
		cfg.Settings.Source.Kind = "file"
		cfg.Settings.Source.Fixture = fixturePath
	}
	app, err := NewApp(ctx, cfg, dryRun || cfg.Settings.Actions.DryRun)
	if err != nil {
		return nil, fmt.Errorf("setting up: %w", err)
	}
	return app, nil
}

func printStats(ctx context.Context, app *App, limit int) error {
	day := DayKey(time.Now())
	fmt.Printf("Budget for %s\n", day)
	for _, kind := range []Kind{KindLike, KindComment} {
		max, _ := app.Budget.Limit(kind)
		left, err := app.Budget.Remaining(ctx, kind, day)
		if err != nil {
			return err
		}
		done, err := app.Ledger.CountSucceeded(ctx, kind, day)
		if err != nil {
			return err
		}
		fmt.Printf("  %-8s %d/%d used, %d succeeded, %d remaining\n", kind, max-left, max, done, left)
	}

	recent, err := app.Ledger.Recent(ctx, limit)
	if err != nil {
		return err
	}
	fmt.Printf("Recent actions (%d)\n", len(recent))
	for _, rec := range recent {
		fmt.Printf("  %s  %-8s %-10s %s\n", rec.At.Format(time.RFC3339), rec.Kind, rec.Outcome, rec.ItemID)
	}
	return nil
}

// validateSetup reports every check rather than stopping at the first failure
func validateSetup(ctx context.Context, cfg *Config) error {
	var errs []error
	check := func(name string, err error) {
		if err != nil {
			fmt.Printf("✗ %s: %v\n", name, err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		fmt.Printf("✓ %s\n", name)
	}

	if cfg.Secrets.AnthropicAPIKey == "" {
		check("anthropic credentials", errors.New("ANTHROPIC_API_KEY is not set"))
	} else {
		check("anthropic credentials", nil)
	}
	if cfg.Secrets.GeminiAPIKey == "" {
		fmt.Println("- embeddings: GEMINI_API_KEY not set, keyword ranking will be used")
	} else {
		check("embeddings credentials", nil)
	}

	ledger, err := OpenLedger(cfg.Settings.Ledger.DSN)
	check("ledger "+cfg.Settings.Ledger.DSN, err)
	if err == nil {
		_, err = ledger.Usage(ctx, KindLike, DayKey(time.Now()))
		check("ledger query", err)
		ledger.Close()
	}

	if cfg.Settings.Budget.Store == "redis" {
		store, err := NewRedisBudgetStore(cfg.Secrets.RedisURL)
		check("redis budget store", err)
		if err == nil {
			store.Close()
		}
	}

	return errors.Join(errs...)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
