package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rendercrawl/rendercrawl/internal/api"
	"github.com/rendercrawl/rendercrawl/internal/browser"
	"github.com/rendercrawl/rendercrawl/internal/crawler"
	"github.com/rendercrawl/rendercrawl/internal/metrics"
	"github.com/rendercrawl/rendercrawl/internal/monitor"
	"github.com/rendercrawl/rendercrawl/internal/scheduler"
	"github.com/rendercrawl/rendercrawl/internal/sink"
	"github.com/rendercrawl/rendercrawl/internal/supervisor"
)

// newCrawlCmd creates and configures the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	var urlFile string
	var output string
	var noProgress bool

	cmd := &cobra.Command{
		Use:   "crawl [count]",
		Short: "Crawls URLs through a pool of headless browser instances",
		Long: `Reads URLs from a file (one per line) and crawls up to [count] of them,
pacing requests so no domain is hit more than once per cooldown window.
Results are written as a JSON array; an interrupt drains in-flight pages
and flushes partial results before exiting.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit := 0
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n <= 0 {
					return fmt.Errorf("count must be a positive integer, got %q", args[0])
				}
				limit = n
			}
			return runCrawl(cmd, limit, urlFile, output, noProgress)
		},
	}

	cmd.Flags().StringVar(&urlFile, "urls", "", "path to the URL list (one URL per line)")
	cmd.Flags().StringVar(&output, "out", "", "path for the JSON result file")
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "disable the progress bar")

	return cmd
}

func runCrawl(cmd *cobra.Command, limit int, urlFile, output string, noProgress bool) error {
	cfg, logger, err := loadEnvironment()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if urlFile == "" {
		urlFile = cfg.Crawl.URLFile
	}
	if output == "" {
		output = cfg.Crawl.Output
	}

	tasks, err := crawler.LoadTasks(urlFile, limit, logger)
	if err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}
	if len(tasks) == 0 {
		logger.Warn("No crawlable URLs found", zap.String("file", urlFile))
		return nil
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gate := monitor.New(monitor.Config{
		CPUThreshold:   cfg.Resources.CPUThreshold,
		MemThreshold:   cfg.Resources.MemThreshold,
		MinMemAvailMB:  cfg.Resources.MinMemAvailMB,
		SampleInterval: cfg.SampleInterval(),
	}, logger)

	sched := scheduler.New(cfg.DomainDelay(), crawler.SystemClock{})

	driver := browser.NewChromedpDriver(browser.DriverConfig{
		UserAgent:   cfg.Browser.UserAgent,
		SettleDelay: cfg.SettleDelay(),
	}, logger)

	logger.Info("Launching browser pool",
		zap.Int("size", cfg.Browser.PoolSize),
		zap.Int("tasks", len(tasks)),
	)
	pool, err := browser.NewPool(ctx, driver, browser.PoolConfig{
		Size:                   cfg.Browser.PoolSize,
		MaxConsecutiveFailures: cfg.Browser.MaxConsecutiveFailures,
	}, logger)
	if err != nil {
		return fmt.Errorf("launch browser pool: %w", err)
	}
	defer pool.Close()

	resultSink, err := sink.NewJSONFile(output, logger)
	if err != nil {
		return fmt.Errorf("open result sink: %w", err)
	}

	sup := supervisor.New(supervisor.Config{
		PageTimeout:        cfg.PageTimeout(),
		AdmitRetryInterval: cfg.AdmitRetry(),
	}, sched, gate, pool, resultSink, logger)

	if !noProgress {
		bar := progressbar.NewOptions(len(tasks),
			progressbar.OptionSetDescription("crawling"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(30),
			progressbar.OptionThrottle(200*time.Millisecond),
			progressbar.OptionOnCompletion(func() { fmt.Fprintln(os.Stderr) }),
		)
		sup.OnResult = func(crawler.Result) { _ = bar.Add(1) }
	}

	if cfg.Ops.Enabled {
		metrics.Init()
		opsServer := api.NewServer(cfg.Ops.Port, sup, logger)
		opsServer.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			opsServer.Shutdown(shutdownCtx)
		}()
	}

	runErr := sup.Run(ctx, tasks)

	snap := sup.Stats()
	logger.Info("Crawl finished",
		zap.Int("completed", snap.Completed),
		zap.Int("succeeded", snap.Succeeded),
		zap.Int("timed_out", snap.TimedOut),
		zap.Int("failed", snap.Failed),
		zap.String("output", output),
	)
	if runErr != nil {
		return fmt.Errorf("crawl aborted: %w", runErr)
	}
	return nil
}
