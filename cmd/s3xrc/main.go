// Command s3xrc runs the cross-region compression workers: the source
// pipeline archives and compresses new objects into staging, the target
// pipeline unpacks arriving archives into their destination buckets.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/s3xrc/s3xrc/internal/config"
	"github.com/s3xrc/s3xrc/internal/logctx"
	"github.com/s3xrc/s3xrc/internal/logging"
	"github.com/s3xrc/s3xrc/internal/metrics"
	"github.com/s3xrc/s3xrc/internal/source"
	"github.com/s3xrc/s3xrc/internal/target"
	"github.com/s3xrc/s3xrc/pkg/codec"
	"github.com/s3xrc/s3xrc/pkg/events"
	"github.com/s3xrc/s3xrc/pkg/humanfmt"
	"github.com/s3xrc/s3xrc/pkg/routing"
	"github.com/s3xrc/s3xrc/pkg/s3io"
	"github.com/s3xrc/s3xrc/pkg/settings"
	"github.com/s3xrc/s3xrc/pkg/sysmem"
)

type rootFlags struct {
	ConfigPath string
	Debug      bool
	Human      bool
}

func main() {
	flags := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:   "s3xrc",
		Short: "Adaptive cross-region compression for S3 objects",
	}
	rootCmd.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "Path to config file")
	rootCmd.PersistentFlags().BoolVar(&flags.Debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&flags.Human, "human", false, "Human-friendly console logging")

	rootCmd.AddCommand(sourceCmd(flags), targetCmd(flags))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func sourceCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "source",
		Short: "Run the source-side archiver pipeline",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPipeline(cmd.Context(), flags, "source")
		},
	}
}

func targetCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "target",
		Short: "Run the target-side extractor pipeline",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPipeline(cmd.Context(), flags, "target")
		},
	}
}

func runPipeline(ctx context.Context, flags *rootFlags, pipeline string) error {
	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		return err
	}
	if pipeline == "source" {
		err = cfg.ValidateSource()
	} else {
		err = cfg.ValidateTarget()
	}
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logging.Init(flags.Debug, flags.Human)
	log := logging.WithPipeline(pipeline)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logctx.WithLogger(ctx, log)

	engine, err := buildEngine(ctx, cfg)
	if err != nil {
		return err
	}
	log.Info().
		Str("read_buffer", humanfmt.Bytes(int64(engine.Buffers.Read))).
		Str("write_buffer", humanfmt.Bytes(int64(engine.Buffers.Write))).
		Float64("cpu_factor", engine.CPUFactor).
		Int("threads", engine.Threads).
		Msg("codec engine ready")

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return fmt.Errorf("load AWS config: %w", err)
	}
	store := s3io.NewClientWithAPI(s3.NewFromConfig(awsCfg))

	// A batch is one queue receive; the receive size is bounded by both
	// the queue setting and the source batch cap.
	maxMessages := cfg.Queue.MaxMessages
	if pipeline == "source" && cfg.Source.MaxBatchSize > 0 && cfg.Source.MaxBatchSize < maxMessages {
		maxMessages = cfg.Source.MaxBatchSize
	}
	poller := events.NewPoller(sqs.NewFromConfig(awsCfg), events.PollerConfig{
		QueueURL:          cfg.Queue.URL,
		MaxMessages:       maxMessages,
		VisibilitySeconds: cfg.Queue.VisibilitySeconds,
	})

	set := metrics.New(pipeline)
	if cfg.Global.MetricsAddr != "" {
		go serveMetrics(ctx, cfg.Global.MetricsAddr, set, log)
	}

	switch pipeline {
	case "source":
		ddb := dynamodb.NewFromConfig(awsCfg)
		repo := settings.NewRepository(
			settings.NewDynamoStore(ddb, cfg.Settings.Table),
			settings.RepoConfig{CacheTTL: cfg.Settings.CacheTTL, Strict: cfg.Settings.StrictUpdates},
		)
		routes := routing.NewDynamoLookup(ddb, cfg.Source.RoutingTable, cfg.Settings.CacheTTL)

		p := source.New(source.Config{
			StagingBucket:        cfg.Source.StagingBucket,
			MonitoredPrefix:      cfg.Source.MonitoredPrefix,
			WorkDir:              cfg.Global.WorkDir,
			Workers:              cfg.Global.WorkerPoolSize,
			DeleteAfterArchive:   cfg.Source.DeleteAfterArchive,
			DefaultLevel:         cfg.Compression.DefaultLevel,
			TransferCostPerByte:  cfg.Costs.TransferCostPerByte,
			ComputeCostPerMinute: cfg.Costs.ComputeCostPerMinute,
		}, engine, poller, store, routes, repo, set)
		return p.Run(ctx)

	case "target":
		p := target.New(target.Config{
			Region:               cfg.Target.Region,
			WorkDir:              cfg.Global.WorkDir,
			DeleteStagingArchive: cfg.Target.DeleteStagingArchive,
		}, engine, poller, store, set)
		return p.Run(ctx)
	}
	return fmt.Errorf("unknown pipeline %q", pipeline)
}

// buildEngine detects available memory, measures the CPU normalization
// factor, and constructs the process-wide codec engine.
func buildEngine(ctx context.Context, cfg *config.Config) (*codec.Engine, error) {
	mem := sysmem.Detect()

	factor := cfg.Compression.CPUFactor
	if factor <= 0 {
		probeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()

		var err error
		factor, err = codec.NewZstdProbe().Run(probeCtx)
		if err != nil {
			return nil, fmt.Errorf("cpu probe: %w", err)
		}
	}

	return codec.NewEngine(mem.AvailableBytes, runtime.NumCPU(), factor), nil
}

// serveMetrics exposes the prometheus endpoint until ctx is cancelled.
func serveMetrics(ctx context.Context, addr string, set *metrics.Set, log zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", set.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Str("addr", addr).Msg("metrics server failed")
	}
}
