package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/petstay/hotel-scraper/internal/api"
	"github.com/petstay/hotel-scraper/internal/brands"
	"github.com/petstay/hotel-scraper/internal/browser"
	"github.com/petstay/hotel-scraper/internal/config"
	"github.com/petstay/hotel-scraper/internal/crawl"
	"github.com/petstay/hotel-scraper/internal/database"
	"github.com/petstay/hotel-scraper/internal/metrics"
	"github.com/petstay/hotel-scraper/internal/ratelimit"
	"github.com/petstay/hotel-scraper/internal/storage"
)

var (
	runBrand string
	runAll   bool

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Crawl one brand, or every brand in parallel",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if runAll {
				return runAllBrands(cmd.Context(), cfg)
			}
			if runBrand == "" {
				return errors.New("pass --brand <name> or --all")
			}
			return crawlBrand(cmd.Context(), cfg, runBrand)
		},
	}
)

func init() {
	runCmd.Flags().StringVar(&runBrand, "brand", "", "brand to crawl (see `hotel-scraper brands`)")
	runCmd.Flags().BoolVar(&runAll, "all", false, "run every registered brand as its own process")
	runCmd.MarkFlagsMutuallyExclusive("brand", "all")
	rootCmd.AddCommand(runCmd)
}

// runAllBrands re-executes this binary once per brand and waits for all of
// them. Each child gets its own monitor port so the servers do not collide.
func runAllBrands(ctx context.Context, cfg *config.Config) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolving executable: %w", err)
	}

	basePort := 8080
	if p, err := strconv.Atoi(cfg.Server.Port); err == nil {
		basePort = p
	}

	names := brands.Names()
	errs := make([]error, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		childArgs := []string{"run", "--brand", name}
		if configPath != "" {
			childArgs = append(childArgs, "--config", configPath)
		}
		child := exec.CommandContext(ctx, exe, childArgs...)
		child.Stdout = os.Stdout
		child.Stderr = os.Stderr
		child.Env = append(os.Environ(), fmt.Sprintf("SERVER_PORT=%d", basePort+i))
		// Children get the interrupt, not a kill, so they can save a
		// final checkpoint.
		child.Cancel = func() error { return child.Process.Signal(os.Interrupt) }
		child.WaitDelay = 30 * time.Second

		slog.Info("starting brand process", "brand", name, "monitor_port", basePort+i)
		wg.Add(1)
		go func(i int, child *exec.Cmd) {
			defer wg.Done()
			errs[i] = child.Run()
		}(i, child)
	}
	wg.Wait()

	failed := 0
	for i, name := range names {
		if errs[i] != nil {
			failed++
			color.Red("✗ %s: %v", name, errs[i])
		} else {
			color.Green("✓ %s finished", name)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d brand runs failed", failed, len(names))
	}
	return nil
}

// crawlBrand wires one brand's crawl and supervises it until completion.
func crawlBrand(ctx context.Context, cfg *config.Config, name string) error {
	logger := slog.Default().With("brand", name)

	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}
	paths, err := brands.PathsFor(name, cfg.Storage.DataDir)
	if err != nil {
		return err
	}
	source, err := brands.New(name, brands.Options{
		DataDir: cfg.Storage.DataDir,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	runCtx, stopRun := context.WithCancel(ctx)
	defer stopRun()

	m := metrics.NewCrawlMetrics()
	ring := crawl.NewRingRecorder(256)
	recorder := crawl.MultiRecorder{ring}

	var outbox api.OutboxStats
	if cfg.Journal.Enabled {
		db, err := database.New(runCtx, cfg.Journal.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connecting journal database: %w", err)
		}
		defer db.Close()
		if err := db.EnsureSchema(runCtx); err != nil {
			return fmt.Errorf("preparing journal schema: %w", err)
		}

		journal := database.NewJournal(database.NewJournalStore(db, cfg.Journal.RedisStream), cfg.Journal.BufferSize, logger)
		journal.Start(runCtx)
		defer journal.Close()
		recorder = append(recorder, journal)

		if cfg.Journal.RedisAddr != "" {
			rdb := redis.NewClient(&redis.Options{Addr: cfg.Journal.RedisAddr})
			defer rdb.Close()
			relay := database.NewRelay(db, rdb, logger, database.RelayConfig{
				PollInterval: cfg.Journal.RelayInterval,
			})
			go func() {
				if err := relay.Start(runCtx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("outbox relay stopped", "error", err)
				}
			}()
			outbox = relay
		}
	}

	records, err := storage.NewRecordStore(paths.OutputJSON, paths.OutputCSV, source.Columns(), storage.CSVAppend, logger)
	if err != nil {
		return err
	}
	checkpoints := storage.NewCheckpointStore(paths.Checkpoint, logger)

	session, err := browser.New(browserOptions(&cfg.Browser), logger)
	if err != nil {
		return fmt.Errorf("launching browser: %w", err)
	}
	defer session.Close()

	live := &liveStatus{brand: name}
	if cfg.Server.Enabled {
		handlers := api.NewHandlers(live, ring, m, logger)
		if outbox != nil {
			handlers.WithOutbox(outbox)
		}
		srv := api.NewServer(cfg.Server, handlers, logger)
		go func() {
			if err := srv.Start(runCtx); err != nil {
				logger.Error("monitor server failed", "error", err)
			}
		}()
	}

	err = supervise(runCtx, superviseDeps{
		cfg:         cfg,
		name:        name,
		source:      source,
		session:     session,
		records:     records,
		checkpoints: checkpoints,
		pacer:       ratelimit.NewSimpleRateLimiter(cfg.Crawler.ItemDelayMin, cfg.Crawler.ItemDelayMax),
		metrics:     m,
		recorder:    recorder,
		live:        live,
		logger:      logger,
	})
	// Stop the relay and journal consumers before their stores close.
	stopRun()
	return err
}

// superviseDeps is everything one brand's supervise loop shares across
// engine restarts.
type superviseDeps struct {
	cfg         *config.Config
	name        string
	source      crawl.Source
	session     *browser.Browser
	records     *storage.RecordStore
	checkpoints *storage.CheckpointStore
	pacer       ratelimit.RateLimiter
	metrics     *metrics.CrawlMetrics
	recorder    crawl.Recorder
	live        *liveStatus
	logger      *slog.Logger
}

// supervise runs engines until one completes. A stall or crash-class
// failure tears the session down and re-enters from the last checkpoint;
// each iteration is a fresh run with its own id.
func supervise(ctx context.Context, d superviseDeps) error {
	cc := d.cfg.Crawler
	for restarts := 0; ; {
		eng, err := crawl.NewEngine(crawl.EngineOptions{
			Source:     d.source,
			Session:    d.session,
			Walker:     crawl.NewWalker(d.checkpoints, d.metrics, d.logger),
			Records:    d.records,
			Supervisor: crawl.NewSupervisor(supervisorConfig(cc, d.name), d.session, d.metrics, d.logger),
			Limiter:    d.pacer,
			Metrics:    d.metrics,
			Recorder:   d.recorder,
			Logger:     d.logger,
		})
		if err != nil {
			return err
		}
		d.live.set(eng)

		err = eng.Run(ctx)
		if err == nil {
			color.Green("✓ %s: %d records in %s", d.name, d.records.Len(), d.cfg.Storage.DataDir)
			return nil
		}
		if ctx.Err() != nil {
			return err
		}

		restarts++
		if cc.MaxRestarts > 0 && restarts > cc.MaxRestarts {
			return fmt.Errorf("giving up after %d restarts: %w", cc.MaxRestarts, err)
		}
		msg := "run aborted, restarting from checkpoint"
		if crawl.IsStall(err) {
			msg = "crawl stalled, restarting from checkpoint"
		}
		d.logger.Error(msg, "error", err, "restart", restarts, "delay", cc.RestartDelay)

		select {
		case <-time.After(cc.RestartDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if err := d.session.Restart(ctx); err != nil {
			return fmt.Errorf("restarting browser session: %w", err)
		}
		d.metrics.SessionRestart(d.name)
	}
}

func supervisorConfig(cc config.CrawlerConfig, brand string) crawl.SupervisorConfig {
	return crawl.SupervisorConfig{
		Brand:          brand,
		MaxAttempts:    cc.MaxAttempts,
		BackoffBase:    cc.BackoffBase,
		BackoffCap:     cc.BackoffCap,
		JitterMin:      cc.JitterMin,
		JitterMax:      cc.JitterMax,
		StallThreshold: cc.StallThreshold,
		StallInterval:  cc.StallInterval,
	}
}

func browserOptions(bc *config.BrowserConfig) *browser.Options {
	opts := browser.DefaultOptions()
	opts.Headless = bc.Headless
	opts.NavTimeout = bc.NavTimeout
	opts.WaitTimeout = bc.WaitTimeout
	opts.ViewportWidth = bc.ViewportWidth
	opts.ViewportHeight = bc.ViewportHeight
	opts.AcceptLanguage = bc.AcceptLanguage
	opts.TimezoneID = bc.TimezoneID
	opts.Locale = bc.Locale
	opts.ProxyServer = bc.Proxy
	return opts
}

// liveStatus hands the monitor API the current engine's snapshot; the
// supervise loop swaps engines across restarts while the server keeps this
// one handle.
type liveStatus struct {
	mu    sync.Mutex
	brand string
	eng   *crawl.Engine
}

func (l *liveStatus) set(eng *crawl.Engine) {
	l.mu.Lock()
	l.eng = eng
	l.mu.Unlock()
}

func (l *liveStatus) Status() crawl.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.eng == nil {
		return crawl.Status{Brand: l.brand, State: "starting"}
	}
	return l.eng.Status()
}
