// tidesync syncs external data sources into a generic document store.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tidesync/tidesync/pkg/config"
	"github.com/tidesync/tidesync/pkg/logger"
	"github.com/tidesync/tidesync/pkg/metrics"
	"github.com/tidesync/tidesync/pkg/pipeline"
	"github.com/tidesync/tidesync/pkg/store"
)

var (
	version = "dev"
	commit  = "unknown"
)

var (
	cfgFile string
	cfg     *config.Config
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "tidesync",
		Short: "Sync external data sources into a document store",
		Long: `tidesync pulls rows from relational databases and JSON APIs,
maps them into documents and keeps a versioned copy in a postgres-backed
document store. Pipelines describe source, mapping and schedule; the loop
command runs them continuously.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Missing .env is fine; environment may be set directly.
			_ = godotenv.Load()

			var err error
			cfg, err = config.Load(cfgFile)
			if err != nil {
				return err
			}

			return logger.Init(logger.Config{
				Level:       cfg.Logging.Level,
				Encoding:    cfg.Logging.Encoding,
				Development: cfg.Logging.Development,
			})
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file")

	root.AddCommand(versionCmd(), listCmd(), createCmd(), runCmd(), loopCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("tidesync %s (%s)\n", version, commit)
		},
	}
}

// openStores connects to the document store and the pipeline store sharing
// its pool.
func openStores(ctx context.Context) (*store.PostgresStore, *pipeline.PostgresStore, error) {
	documents, err := store.NewPostgresStore(ctx, cfg.Store.DSN)
	if err != nil {
		return nil, nil, err
	}
	pipelines, err := pipeline.NewPostgresStore(ctx, documents.Pool())
	if err != nil {
		documents.Close()
		return nil, nil, err
	}
	return documents, pipelines, nil
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured pipelines",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			documents, pipelines, err := openStores(ctx)
			if err != nil {
				return err
			}
			defer documents.Close()

			all, err := pipelines.List(ctx)
			if err != nil {
				return err
			}

			for _, p := range all {
				state := "idle"
				if p.Executing {
					state = "executing"
				}
				schedule := fmt.Sprintf("every %dm", p.Schedule.Minutes)
				if p.Schedule.Type == pipeline.ScheduleAt {
					schedule = fmt.Sprintf("at %02d:00", p.Schedule.Hour)
				}
				lastRun := "never"
				if !p.LastRun.IsZero() {
					lastRun = fmt.Sprintf("%s (%.1fs)",
						p.LastRun.Format("2006-01-02 15:04:05"), p.LastDurationSeconds)
				}
				fmt.Printf("%-30s %-10s %-10s %-10s last run: %s\n",
					p.Name, p.SourceKind, schedule, state, lastRun)
			}
			return nil
		},
	}
}

func createCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a pipeline from a JSON definition file",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("cannot read pipeline file: %w", err)
			}
			p := &pipeline.Pipeline{}
			if err := json.Unmarshal(raw, p); err != nil {
				return fmt.Errorf("cannot parse pipeline file: %w", err)
			}

			ctx := cmd.Context()
			documents, pipelines, err := openStores(ctx)
			if err != nil {
				return err
			}
			defer documents.Close()

			if err := pipelines.Create(ctx, p); err != nil {
				return err
			}
			logger.Info("pipeline created", zap.String("pipeline", p.Name))
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "pipeline definition file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func runCmd() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one pipeline immediately, ignoring its schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			documents, pipelines, err := openStores(ctx)
			if err != nil {
				return err
			}
			defer documents.Close()

			p, err := pipelines.Get(ctx, name)
			if err != nil {
				return err
			}
			if p.Executing {
				return fmt.Errorf("pipeline %q is already executing", name)
			}

			p.Executing = true
			p.LastRun = time.Now()
			if err := pipelines.Save(ctx, p); err != nil {
				return err
			}

			engine := pipeline.NewEngine(documents, cfg.Sync.BatchSize, cfg.Sync.SampleSize,
				cfg.Store.CreatedBy, logger.Get())

			report, err := engine.Execute(ctx, p)
			p.Executing = false
			p.LastDurationSeconds = report.Duration.Seconds()
			if saveErr := pipelines.Save(ctx, p); saveErr != nil {
				logger.Error("cannot save pipeline state", zap.Error(saveErr))
			}
			if err != nil {
				return err
			}

			fmt.Printf("%s: %d new, %d updated, %d unchanged", report.Pipeline,
				report.New, report.Updated, report.Same)
			if report.Truncated {
				fmt.Print(" (truncated)")
			}
			fmt.Printf(" in %s\n", report.Duration.Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "pipeline", "", "pipeline name")
	_ = cmd.MarkFlagRequired("pipeline")
	return cmd
}

func loopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "loop",
		Short: "Run the scheduler loop until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			documents, pipelines, err := openStores(ctx)
			if err != nil {
				return err
			}
			defer documents.Close()

			if cfg.Metrics.Addr != "" {
				go serveMetrics(cfg.Metrics.Addr)
			}

			engine := pipeline.NewEngine(documents, cfg.Sync.BatchSize, cfg.Sync.SampleSize,
				cfg.Store.CreatedBy, logger.Get())
			scheduler := pipeline.NewScheduler(pipelines, engine, cfg.Sync.MaxDuration, logger.Get())

			err = scheduler.Run(ctx, cfg.Sync.PollInterval)
			_ = logger.Sync()
			if err == context.Canceled {
				return nil
			}
			return err
		},
	}
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	logger.Info("metrics listener started", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics listener failed", zap.Error(err))
	}
}
