package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	gcstorage "cloud.google.com/go/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/followcrawl/internal/clock/system"
	"github.com/JakeFAU/followcrawl/internal/config"
	"github.com/JakeFAU/followcrawl/internal/crawler"
	"github.com/JakeFAU/followcrawl/internal/id/uuid"
	"github.com/JakeFAU/followcrawl/internal/metrics"
	"github.com/JakeFAU/followcrawl/internal/probe"
	"github.com/JakeFAU/followcrawl/internal/probe/headless"
	"github.com/JakeFAU/followcrawl/internal/probe/scratchapi"
	"github.com/JakeFAU/followcrawl/internal/publisher/pubsub"
	"github.com/JakeFAU/followcrawl/internal/seeds"
	"github.com/JakeFAU/followcrawl/internal/sink"
	"github.com/JakeFAU/followcrawl/internal/storage/gcs"
	"github.com/JakeFAU/followcrawl/internal/storage/postgres"
)

type crawlFlags struct {
	seeds     []string
	seedsFile string
	output    string
	workers   int
	maxDepth  int
	probeKind string
}

// newCrawlCmd creates the crawl subcommand.
func newCrawlCmd() *cobra.Command {
	var flags crawlFlags

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run one breadth-first crawl from the configured seeds.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			applyCrawlFlags(cmd, flags, &appInstance.Config)
			if err := appInstance.Config.Validate(); err != nil {
				return err
			}

			summary, err := runCrawl(cmd.Context(), appInstance.Config, appInstance.Logger)
			if summary.RunID != "" {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if encErr := enc.Encode(summary); encErr != nil {
					appInstance.Logger.Warn("failed to print summary", zap.Error(encErr))
				}
			}
			if errors.Is(err, context.Canceled) {
				appInstance.Logger.Info("crawl interrupted, partial output kept")
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringSliceVar(&flags.seeds, "seed", nil, "seed username (repeatable, replaces crawler.seeds)")
	cmd.Flags().StringVar(&flags.seedsFile, "seeds-file", "", "YAML file listing seed usernames")
	cmd.Flags().StringVarP(&flags.output, "output", "o", "", "output file for discovered usernames")
	cmd.Flags().IntVar(&flags.workers, "workers", 0, "number of workers (0 sizes the pool from CPU count)")
	cmd.Flags().IntVar(&flags.maxDepth, "max-depth", 0, "stop probing accounts at this depth (0 is unlimited)")
	cmd.Flags().StringVar(&flags.probeKind, "probe", "", "probe implementation: api or headless")

	return cmd
}

// applyCrawlFlags overlays explicitly set flags on top of file and env config.
func applyCrawlFlags(cmd *cobra.Command, flags crawlFlags, cfg *config.Config) {
	set := cmd.Flags().Changed
	if set("seed") {
		cfg.Crawler.Seeds = flags.seeds
	}
	if set("seeds-file") {
		cfg.Crawler.SeedsFile = flags.seedsFile
	}
	if set("output") {
		cfg.Output.Path = flags.output
	}
	if set("workers") {
		cfg.Crawler.Workers = flags.workers
	}
	if set("max-depth") {
		cfg.Crawler.MaxDepth = flags.maxDepth
	}
	if set("probe") {
		cfg.Probe.Kind = flags.probeKind
	}
}

// runCrawl wires the probe, writers and engine from cfg and runs one crawl.
func runCrawl(ctx context.Context, cfg config.Config, logger *zap.Logger) (crawler.Summary, error) {
	seedList, err := seeds.Resolve(cfg.Crawler.Seeds, cfg.Crawler.SeedsFile)
	if err != nil {
		return crawler.Summary{}, err
	}
	crawlCfg := crawler.Config{
		Seeds:      seedList,
		Workers:    cfg.Crawler.Workers,
		MaxWorkers: cfg.Crawler.MaxWorkers,
		MaxDepth:   cfg.Crawler.MaxDepth,
	}
	// Reject a bad crawl before the output file from the last run is truncated.
	if err := crawlCfg.Validate(); err != nil {
		return crawler.Summary{}, fmt.Errorf("invalid crawl config: %w", err)
	}

	p, closeProbe, err := buildProbe(cfg, logger)
	if err != nil {
		return crawler.Summary{}, err
	}
	defer closeProbe()

	outs, err := buildOutputs(ctx, cfg, logger)
	if err != nil {
		return crawler.Summary{}, err
	}
	defer outs.close()

	out, err := sink.New(outs.writer, logger)
	if err != nil {
		return crawler.Summary{}, err
	}

	clock := system.New()
	engine := crawler.NewEngine(crawlCfg, p, out, clock, uuid.New(), logger)

	if cfg.Metrics.Enabled {
		metricsCtx, stopMetrics := context.WithCancel(ctx)
		defer stopMetrics()
		go func() {
			if err := metrics.Serve(metricsCtx, cfg.Metrics.Addr, metrics.NewRouter(engine.Progress), logger); err != nil {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	summary, runErr := engine.Run(ctx)
	if summary.RunID == "" {
		// The engine never started the sink, so the writers are still open.
		if err := out.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("failed to close outputs", zap.Error(err))
		}
		return summary, runErr
	}

	// Bookkeeping below must finish even when the crawl was interrupted.
	finishCtx := context.WithoutCancel(ctx)
	if outs.runs != nil {
		if err := outs.runs.RecordRun(finishCtx, summary, clock.Now()); err != nil {
			logger.Error("failed to record run", zap.String("run_id", summary.RunID), zap.Error(err))
		}
	}
	if cfg.Storage.GCSBucket != "" {
		if err := archiveOutput(finishCtx, cfg, summary.RunID, logger); err != nil {
			logger.Error("failed to archive output", zap.String("run_id", summary.RunID), zap.Error(err))
		}
	}

	fields := []zap.Field{
		zap.String("run_id", summary.RunID),
		zap.Int64("discovered", summary.Discovered),
		zap.Int64("probe_failures", summary.ProbeFailures),
		zap.Int64("write_failures", summary.WriteFailures),
		zap.Duration("duration", summary.Duration),
		zap.String("output", cfg.Output.Path),
	}
	if started, err := uuid.Timestamp(summary.RunID); err == nil {
		fields = append(fields, zap.Time("started_at", started))
	}
	logger.Info("crawl finished", fields...)

	return summary, runErr
}

// buildProbe constructs the configured probe and wraps it with rate
// limiting, retries and instrumentation. The returned func releases any
// resources the probe holds.
func buildProbe(cfg config.Config, logger *zap.Logger) (crawler.Probe, func(), error) {
	var (
		base    crawler.Probe
		cleanup = func() {}
	)
	switch cfg.Probe.Kind {
	case config.ProbeKindHeadless:
		hp, err := headless.New(headless.Config{
			ProfileURL:        cfg.Headless.ProfileURL,
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Probe.UserAgent,
			NavigationTimeout: cfg.NavTimeout(),
			MaxScrolls:        cfg.Headless.MaxScrolls,
			ScrollWait:        msDuration(cfg.Headless.ScrollWaitMs),
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("init headless probe: %w", err)
		}
		base, cleanup = hp, hp.Close
	default:
		ap, err := scratchapi.New(scratchapi.Config{
			BaseURL:       cfg.Probe.BaseURL,
			UserAgent:     cfg.Probe.UserAgent,
			RespectRobots: cfg.Probe.RespectRobots,
			Timeout:       cfg.HTTPTimeout(),
			PageSize:      cfg.Probe.PageSize,
			MaxFollowing:  cfg.Probe.MaxFollowing,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("init api probe: %w", err)
		}
		base = ap
	}

	initial, maxDelay := cfg.BackoffBounds()
	policy := probe.NewExponentialRetryPolicy(cfg.HTTP.MaxRetries, initial, maxDelay)
	limited := probe.NewRateLimited(base, cfg.Probe.RateLimitQPS, cfg.Probe.RateLimitBurst)
	return probe.NewInstrumented(probe.NewRetrying(limited, policy, logger)), cleanup, nil
}

type outputs struct {
	writer  crawler.RecordWriter
	runs    *postgres.RunStore
	closers []func()
}

func (o *outputs) close() {
	for i := len(o.closers) - 1; i >= 0; i-- {
		o.closers[i]()
	}
}

// buildOutputs opens the output file plus every downstream writer enabled
// in cfg. The file is always written; Postgres and Pub/Sub are optional.
func buildOutputs(ctx context.Context, cfg config.Config, logger *zap.Logger) (*outputs, error) {
	file, err := sink.NewFileWriter(cfg.Output.Path)
	if err != nil {
		return nil, err
	}
	o := &outputs{}
	writers := []crawler.RecordWriter{file}

	if cfg.DB.DSN != "" {
		pool, err := postgres.Connect(ctx, postgres.PoolConfig{
			DSN:      cfg.DB.DSN,
			MaxConns: int32(cfg.DB.MaxConns),
		})
		if err != nil {
			_ = file.Close(ctx)
			return nil, err
		}
		o.closers = append(o.closers, pool.Close)

		accounts, err := postgres.NewAccountStore(pool, "")
		if err == nil {
			err = accounts.EnsureSchema(ctx)
		}
		var runs *postgres.RunStore
		if err == nil {
			runs, err = postgres.NewRunStore(pool, "")
		}
		if err == nil {
			err = runs.EnsureSchema(ctx)
		}
		if err != nil {
			_ = file.Close(ctx)
			o.close()
			return nil, fmt.Errorf("prepare postgres stores: %w", err)
		}
		writers = append(writers, accounts)
		o.runs = runs
		logger.Info("postgres persistence enabled")
	}

	if cfg.PubSub.TopicName != "" {
		publisher, err := pubsub.Connect(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName, logger)
		if err != nil {
			_ = file.Close(ctx)
			o.close()
			return nil, err
		}
		writers = append(writers, publisher)
		logger.Info("pubsub publishing enabled", zap.String("topic", cfg.PubSub.TopicName))
	}

	if len(writers) == 1 {
		o.writer = file
	} else {
		o.writer = sink.NewMultiWriter(writers...)
	}
	return o, nil
}

// archiveOutput copies the finished output file to GCS under the run ID.
func archiveOutput(ctx context.Context, cfg config.Config, runID string, logger *zap.Logger) error {
	client, err := gcstorage.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("create storage client: %w", err)
	}
	defer client.Close()

	archiver, err := gcs.New(client, gcs.Config{Bucket: cfg.Storage.GCSBucket, Prefix: cfg.Storage.Prefix})
	if err != nil {
		return err
	}
	uri, err := archiver.ArchiveFile(ctx, runID, cfg.Output.Path)
	if err != nil {
		return err
	}
	logger.Info("output archived", zap.String("uri", uri))
	return nil
}

func msDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
