// Package main is the entry point for the data refresh workflow engine.
//
// Startup wires, in order: configuration, logging, the three SQLite
// databases (marketdata, workflow, respcache) and their migrations, the
// provider stack (concrete clients wrapped in rate-limit/retry guards, a
// primary/fallback composite, and a stale-cache/live-quote decorator), the
// refresh manager, workflow orchestrator and signal readiness gate, the
// cron scheduler with its daily/periodic/maintenance/archive jobs, and
// finally the HTTP command surface. Shutdown reverses the order: stop
// accepting HTTP requests, stop the scheduler, close the databases.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantloop/refreshengine/internal/archive"
	"github.com/quantloop/refreshengine/internal/config"
	"github.com/quantloop/refreshengine/internal/database"
	"github.com/quantloop/refreshengine/internal/httpapi"
	"github.com/quantloop/refreshengine/internal/logging"
	"github.com/quantloop/refreshengine/internal/maintenance"
	"github.com/quantloop/refreshengine/internal/provider"
	"github.com/quantloop/refreshengine/internal/provider/alphavantage"
	"github.com/quantloop/refreshengine/internal/provider/livequote"
	"github.com/quantloop/refreshengine/internal/provider/respcache"
	"github.com/quantloop/refreshengine/internal/provider/yahoo"
	"github.com/quantloop/refreshengine/internal/readiness"
	"github.com/quantloop/refreshengine/internal/refresh"
	"github.com/quantloop/refreshengine/internal/repository"
	"github.com/quantloop/refreshengine/internal/scheduler"
	"github.com/quantloop/refreshengine/internal/workflow"
)

func main() {
	dataDir := flag.String("data-dir", "", "override the data directory (defaults to REFRESHENGINE_DATA_DIR or ./data)")
	flag.Parse()

	cfg, err := config.Load(*dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(logging.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	log.Info().Str("data_dir", cfg.DataDir).Msg("starting refresh engine")

	dbs, err := openDatabases(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open databases")
	}
	defer closeDatabases(dbs, log)

	repo := repository.New(dbs["marketdata"], log)
	orch := workflow.New(dbs["workflow"], log)
	gate := readiness.New(repo)
	respCache := respcache.New(dbs["respcache"])

	client, registry := buildProviderStack(cfg, log, respCache)
	manager := refresh.New(client, repo, log, cfg.ScheduleTime)

	sched := scheduler.New(log)
	if err := registerJobs(sched, cfg, log, dbs, respCache, repo, manager, orch); err != nil {
		log.Fatal().Err(err).Msg("failed to register scheduled jobs")
	}
	sched.Start()
	defer sched.Stop()

	srv := httpapi.New(httpapi.Config{
		Log:      log,
		Cfg:      cfg,
		Repo:     repo,
		Manager:  manager,
		Orch:     orch,
		Gate:     gate,
		Registry: registry,
		Port:     cfg.Port,
		DevMode:  cfg.DevMode,
	})

	go func() {
		if err := srv.Start(); err != nil && err.Error() != "http: Server closed" {
			log.Error().Err(err).Msg("http server stopped unexpectedly")
		}
	}()

	waitForShutdown(log)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}
}

// openDatabases opens and migrates the three named SQLite databases.
func openDatabases(cfg *config.Config) (map[string]*database.DB, error) {
	specs := []struct {
		name    string
		file    string
		profile database.DatabaseProfile
	}{
		{"marketdata", "marketdata.db", database.ProfileStandard},
		{"workflow", "workflow.db", database.ProfileLedger},
		{"respcache", "respcache.db", database.ProfileCache},
	}

	dbs := make(map[string]*database.DB, len(specs))
	for _, s := range specs {
		db, err := database.New(database.Config{
			Path:    cfg.DataDir + "/" + s.file,
			Profile: s.profile,
			Name:    s.name,
		})
		if err != nil {
			return nil, fmt.Errorf("open %s database: %w", s.name, err)
		}
		if err := db.Migrate(); err != nil {
			return nil, fmt.Errorf("migrate %s database: %w", s.name, err)
		}
		dbs[s.name] = db
	}
	return dbs, nil
}

func closeDatabases(dbs map[string]*database.DB, log zerolog.Logger) {
	for name, db := range dbs {
		if err := db.Close(); err != nil {
			log.Warn().Err(err).Str("database", name).Msg("error closing database")
		}
	}
}

// buildProviderStack assembles the decorator chain: concrete client ->
// Guarded (rate limit + retry) -> Composite (primary/fallback routing) ->
// Cached (stale-response fallback, live-quote precedence). The registry
// holds the two concrete clients directly (pre-decoration) so
// getDataSourceConfig can report each provider's own availability.
func buildProviderStack(cfg *config.Config, log zerolog.Logger, respCache *respcache.Cache) (provider.Client, *provider.Registry) {
	avClient := alphavantage.NewClient(cfg.AlphaVantage.APIKey, log, cfg.AlphaVantage.Timeout)
	yahooClient := yahoo.NewClient(log, cfg.Yahoo.Timeout)

	registry := provider.NewRegistry()
	registry.Register(avClient)
	registry.Register(yahooClient)

	avGuarded := provider.NewGuarded(avClient, provider.Config{
		MaxRetries:      cfg.AlphaVantage.MaxRetries,
		RetryDelay:      cfg.AlphaVantage.RetryDelay,
		RateLimitCalls:  cfg.AlphaVantage.RateLimitCalls,
		RateLimitWindow: cfg.AlphaVantage.RateLimitWindow,
	})
	yahooGuarded := provider.NewGuarded(yahooClient, provider.Config{
		MaxRetries:      cfg.Yahoo.MaxRetries,
		RetryDelay:      cfg.Yahoo.RetryDelay,
		RateLimitCalls:  cfg.Yahoo.RateLimitCalls,
		RateLimitWindow: cfg.Yahoo.RateLimitWindow,
	})

	var primary, fallback provider.Client = avGuarded, yahooGuarded
	if cfg.Yahoo.Priority < cfg.AlphaVantage.Priority {
		primary, fallback = yahooGuarded, avGuarded
	}
	composite := provider.NewComposite(primary, fallback, 5*time.Minute)

	var live provider.LiveQuoteSource
	if cfg.LiveQuoteURL != "" {
		live = livequote.New(cfg.LiveQuoteURL, log)
	}

	return provider.NewCached(composite, respCache, live), registry
}

func registerJobs(
	sched *scheduler.Scheduler,
	cfg *config.Config,
	log zerolog.Logger,
	dbs map[string]*database.DB,
	respCache *respcache.Cache,
	repo *repository.Repository,
	manager *refresh.Manager,
	orch *workflow.Orchestrator,
) error {
	hour, minute := 6, 0
	if _, err := fmt.Sscanf(cfg.ScheduleTime, "%d:%d", &hour, &minute); err != nil {
		log.Warn().Str("schedule_time", cfg.ScheduleTime).Msg("unparsable schedule time, defaulting to 06:00")
		hour, minute = 6, 0
	}

	dailyJob := scheduler.NewDailyJob(repo, manager, orch, log)
	if err := sched.AddJob(fmt.Sprintf("0 %d %d * * *", minute, hour), dailyJob); err != nil {
		return fmt.Errorf("register daily job: %w", err)
	}

	periodicJob := scheduler.NewPeriodicJob(repo, manager, log)
	if err := sched.AddJob("0 */15 * * * *", periodicJob); err != nil {
		return fmt.Errorf("register periodic job: %w", err)
	}

	maintenanceJob := maintenance.New(dbs, respCache, cfg.DataDir, log)
	if err := sched.AddJob("0 0 3 * * *", maintenanceJob); err != nil {
		return fmt.Errorf("register maintenance job: %w", err)
	}

	var archiveClient *archive.Client
	if cfg.Archive.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		ac, err := archive.NewClient(ctx, archive.Config{
			Enabled:         cfg.Archive.Enabled,
			Bucket:          cfg.Archive.Bucket,
			Region:          cfg.Archive.Region,
			Endpoint:        cfg.Archive.Endpoint,
			AccessKeyID:     cfg.Archive.AccessKeyID,
			SecretAccessKey: cfg.Archive.SecretAccessKey,
		})
		if err != nil {
			return fmt.Errorf("build archive client: %w", err)
		}
		archiveClient = ac
	}
	archiveJob := archive.NewJob(archiveClient, repo, log)
	if err := sched.AddJob("0 30 3 * * *", archiveJob); err != nil {
		return fmt.Errorf("register archive job: %w", err)
	}

	return nil
}

func waitForShutdown(log zerolog.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
}
