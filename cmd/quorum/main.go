// quorum runs the trading core: the trigger scheduler, the decision engine
// and the control-plane API, plus one-shot subcommands for operating a
// deployment.
//
// Usage:
//
//	quorum [-config path] run
//	quorum [-config path] trigger <pair> [-reason ...] [-emergency] [-addr ...]
//	quorum [-config path] validate-config
//	quorum [-config path] dump-journal [-since RFC3339]
//	quorum [-config path] migrate [-migrations dir] [-status]
package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	_ "github.com/lib/pq"

	"quorum-trader/internal/analyst"
	"quorum-trader/internal/api"
	"quorum-trader/internal/bus"
	"quorum-trader/internal/config"
	"quorum-trader/internal/decision"
	"quorum-trader/internal/guard"
	"quorum-trader/internal/journal"
	"quorum-trader/internal/metrics"
	"quorum-trader/internal/orchestrator"
	"quorum-trader/internal/portfolio"
	"quorum-trader/internal/providers"
	"quorum-trader/internal/scheduler"
	"quorum-trader/internal/sizing"
	"quorum-trader/internal/snapshot"
	"quorum-trader/internal/store"
	"quorum-trader/pkg/models"
)

// Exit codes the operator tooling keys on.
const (
	exitOK            = 0
	exitError         = 1
	exitConfigInvalid = 2
	exitStartupAuth   = 3
)

const startupProbeTimeout = 15 * time.Second

func main() {
	configPath := flag.String("config", "", "Path to config file (default: ./configs/quorum.yaml)")
	flag.Parse()

	// Bootstrap logging until the configured logger takes over.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// .env is a dev convenience; a missing file is not an error.
	_ = godotenv.Load()

	command := "run"
	if flag.NArg() > 0 {
		command = flag.Arg(0)
	}
	args := flag.Args()
	if len(args) > 0 {
		args = args[1:]
	}

	switch command {
	case "run":
		os.Exit(runMain(*configPath))
	case "trigger":
		os.Exit(triggerMain(*configPath, args))
	case "validate-config":
		os.Exit(validateConfigMain(*configPath))
	case "dump-journal":
		os.Exit(dumpJournalMain(*configPath, args))
	case "migrate":
		os.Exit(migrateMain(*configPath, args))
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		fmt.Fprintf(os.Stderr, "Usage: quorum [-config path] run|trigger <pair>|validate-config|dump-journal|migrate\n")
		os.Exit(exitError)
	}
}

// runMain wires the full pipeline and blocks until a shutdown signal.
func runMain(configPath string) int {
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Error().Err(err).Msg("Configuration rejected")
		return exitConfigInvalid
	}

	config.InitLogger(cfg.Logging.Level, cfg.Logging.Format)
	logger := log.Logger

	log.Info().
		Str("deploy_env", cfg.Environment.DeployEnv).
		Int("pairs", len(cfg.Pairs)).
		Int("providers", len(cfg.Providers)).
		Int("analysts", len(cfg.Analysts)).
		Msg("Starting quorum-trader")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Market data with failover.
	registry, err := providers.NewRegistryFromConfig(cfg, logger)
	if err != nil {
		log.Error().Err(err).Msg("Failed to build provider registry")
		return exitError
	}

	probeCtx, probeCancel := context.WithTimeout(ctx, startupProbeTimeout)
	err = registry.StartupProbe(probeCtx)
	probeCancel()
	if err != nil {
		log.Error().Err(err).Msg("Provider credentials rejected")
		return exitStartupAuth
	}

	// Snapshot cache is optional; without Redis every fetch goes upstream.
	var cache *snapshot.Cache
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).
				Msg("Redis unreachable, running without snapshot cache")
		} else {
			cache = snapshot.NewCache(client, logger)
			defer client.Close()
		}
	}
	assembler := snapshot.NewAssembler(registry, cache, logger)

	// Analyst pool with its opinion sources.
	pool, closeSources, err := analyst.NewPoolFromConfig(ctx, cfg, logger)
	if err != nil {
		log.Error().Err(err).Msg("Failed to build analyst pool")
		return exitError
	}
	defer func() {
		if err := closeSources(); err != nil {
			log.Warn().Err(err).Msg("Opinion source shutdown reported errors")
		}
	}()

	combiner, err := decision.NewCombiner(decision.Config{
		ThetaBuy:        cfg.Combiner.ThetaBuy,
		ThetaSell:       cfg.Combiner.ThetaSell,
		FallbackPenalty: cfg.Combiner.FallbackPenalty,
	}, logger)
	if err != nil {
		log.Error().Err(err).Msg("Failed to build combiner")
		return exitError
	}

	cooldowns := guard.NewCooldownTable()
	guards := guard.FromConfig(cfg.Guards, cooldowns, logger)

	sizer, err := sizing.NewSizer(cfg.Sizing, logger)
	if err != nil {
		log.Error().Err(err).Msg("Failed to build sizer")
		return exitError
	}

	writer, err := journal.NewWriter(cfg.Journal.Path, cfg.Journal.FsyncEachRecord, logger)
	if err != nil {
		log.Error().Err(err).Msg("Failed to open journal")
		return exitError
	}
	defer func() {
		if err := writer.Close(); err != nil {
			log.Warn().Err(err).Msg("Journal close reported errors")
		}
	}()

	paper, err := portfolio.NewPaper(cfg.Portfolio.InitialCashQuote, logger)
	if err != nil {
		log.Error().Err(err).Msg("Failed to build paper portfolio")
		return exitError
	}

	// Intent/decision bus; disabled means a no-op publisher.
	var publisher bus.Publisher = bus.NewNop()
	if cfg.NATS.Enabled {
		natsPub, err := bus.Connect(cfg.NATS.URL, cfg.NATS.SubjectPrefix, logger)
		if err != nil {
			log.Error().Err(err).Msg("Failed to connect to NATS")
			return exitError
		}
		publisher = natsPub
	}
	defer publisher.Close() //nolint:errcheck // best-effort drain on shutdown

	// Optional Postgres mirror of the journal.
	var mirror orchestrator.Mirror
	if cfg.Postgres.Enabled {
		st, err := store.Connect(ctx, cfg.Postgres, logger)
		if err != nil {
			log.Error().Err(err).Msg("Failed to connect decision mirror")
			return exitError
		}
		defer st.Close()
		mirror = st
	}

	// Journal tail hub for WebSocket subscribers.
	hub := api.NewHub(logger)
	go hub.Run(ctx)

	engine, err := orchestrator.NewEngine(orchestrator.Deps{
		Assembler:        assembler,
		Pool:             pool,
		Combiner:         combiner,
		Guards:           guards,
		Sizer:            sizer,
		Journal:          writer,
		Publisher:        publisher,
		Executor:         paper,
		Cooldowns:        cooldowns,
		Mirror:           mirror,
		MaxNotionalQuote: cfg.Sizing.MaxQuote,
	}, logger, orchestrator.WithRecordHook(func(rec models.JournalRecord) {
		hub.BroadcastRecord(&rec)
	}))
	if err != nil {
		log.Error().Err(err).Msg("Failed to build engine")
		return exitError
	}

	pairs := make([]models.Pair, 0, len(cfg.Pairs))
	for _, pc := range cfg.Pairs {
		pair, err := pc.Pair()
		if err != nil {
			log.Error().Err(err).Msg("Invalid pair")
			return exitConfigInvalid
		}
		pairs = append(pairs, pair)
	}

	sched, err := scheduler.New(pairs, engine.RunCycle, logger)
	if err != nil {
		log.Error().Err(err).Msg("Failed to build scheduler")
		return exitError
	}

	apiServer, err := api.NewServer(api.Config{Host: "0.0.0.0", Port: cfg.Server.APIPort}, api.Deps{
		Engine:    engine,
		Scheduler: sched,
		Portfolio: paper,
		Journal:   journal.FileReader{Path: cfg.Journal.Path},
		Analysts:  cfg.Analysts,
		Hub:       hub,
	}, logger)
	if err != nil {
		log.Error().Err(err).Msg("Failed to build API server")
		return exitError
	}

	metricsServer := metrics.NewServer(cfg.Server.MetricsPort, logger)
	if err := metricsServer.Start(); err != nil {
		log.Error().Err(err).Msg("Failed to start metrics server")
		return exitError
	}

	errChan := make(chan error, 1)
	go func() {
		if err := apiServer.Start(); err != nil {
			errChan <- fmt.Errorf("api server error: %w", err)
		}
	}()

	if err := sched.Start(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to start scheduler")
		return exitError
	}

	log.Info().
		Int("api_port", cfg.Server.APIPort).
		Int("metrics_port", cfg.Server.MetricsPort).
		Msg("quorum-trader running")

	// Wait for shutdown signal or a server failure.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	case err := <-errChan:
		log.Error().Err(err).Msg("Server error")
	}

	log.Info().Msg("Initiating graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop feeding the engine first, then tear the edges down. In-flight
	// cycles see the cancelled context and abort without a record.
	sched.Stop()
	cancel()

	if err := apiServer.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("API server shutdown error")
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Metrics server shutdown error")
	}

	log.Info().Msg("Shutdown complete")
	return exitOK
}

// triggerMain asks a running instance to fire an out-of-schedule cycle.
func triggerMain(configPath string, args []string) int {
	fs := flag.NewFlagSet("trigger", flag.ExitOnError)
	addr := fs.String("addr", "", "Control API base URL (default derived from config)")
	reason := fs.String("reason", "", "Reason recorded on the trigger")
	emergency := fs.Bool("emergency", false, "Fire an EMERGENCY trigger instead of MANUAL")
	fs.Parse(args) //nolint:errcheck // ExitOnError

	if fs.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "Usage: quorum trigger <pair> [-reason ...] [-emergency]\n")
		return exitError
	}
	pair := fs.Arg(0)

	baseURL := *addr
	if baseURL == "" {
		port := 8090
		if cfg, err := config.Load(configPath); err == nil {
			port = cfg.Server.APIPort
		}
		baseURL = fmt.Sprintf("http://localhost:%d", port)
	}

	// The path segment uses a dash in place of the pair slash.
	pairSegment := strings.ReplaceAll(pair, "/", "-")
	url := fmt.Sprintf("%s/api/v1/trigger/%s", baseURL, pairSegment)

	body, err := json.Marshal(map[string]interface{}{
		"reason":    *reason,
		"emergency": *emergency,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode request: %v\n", err)
		return exitError
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to reach %s: %v\n", baseURL, err)
		return exitError
	}
	defer resp.Body.Close()

	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	fmt.Printf("%s\n", bytes.TrimSpace(payload))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		fmt.Fprintf(os.Stderr, "Trigger rejected with status %d\n", resp.StatusCode)
		return exitError
	}
	return exitOK
}

// validateConfigMain loads and validates the configuration, reporting the
// effective lineup on success.
func validateConfigMain(configPath string) int {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration invalid: %v\n", err)
		return exitConfigInvalid
	}

	fmt.Printf("Configuration valid\n")
	fmt.Printf("  deploy_env: %s\n", cfg.Environment.DeployEnv)
	fmt.Printf("  pairs:      %d\n", len(cfg.Pairs))
	fmt.Printf("  providers:  %d\n", len(cfg.Providers))
	fmt.Printf("  analysts:   %d\n", len(cfg.Analysts))
	fmt.Printf("  journal:    %s\n", cfg.Journal.Path)
	return exitOK
}

// dumpJournalMain re-emits journal records as JSONL on stdout.
func dumpJournalMain(configPath string, args []string) int {
	fs := flag.NewFlagSet("dump-journal", flag.ExitOnError)
	sinceStr := fs.String("since", "", "Only records with fire_time at or after this RFC3339 timestamp")
	path := fs.String("path", "", "Journal path (default from config)")
	fs.Parse(args) //nolint:errcheck // ExitOnError

	var since time.Time
	if *sinceStr != "" {
		parsed, err := time.Parse(time.RFC3339, *sinceStr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid -since timestamp: %v\n", err)
			return exitError
		}
		since = parsed
	}

	journalPath := *path
	if journalPath == "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Configuration invalid: %v\n", err)
			return exitConfigInvalid
		}
		journalPath = cfg.Journal.Path
	}

	records, err := journal.ReadSince(journalPath, since)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read journal: %v\n", err)
		return exitError
	}

	enc := json.NewEncoder(os.Stdout)
	for i := range records {
		if err := enc.Encode(&records[i]); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode record: %v\n", err)
			return exitError
		}
	}
	fmt.Fprintf(os.Stderr, "%d record(s)\n", len(records))
	return exitOK
}

// migrateMain applies the decision-mirror schema migrations.
func migrateMain(configPath string, args []string) int {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	dir := fs.String("migrations", "migrations", "Path to migrations directory")
	statusOnly := fs.Bool("status", false, "Print migration status without applying")
	fs.Parse(args) //nolint:errcheck // ExitOnError

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration invalid: %v\n", err)
		return exitConfigInvalid
	}

	database, err := sql.Open("postgres", cfg.Postgres.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return exitError
	}
	defer func() {
		if err := database.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to close database connection: %v\n", err)
		}
	}()

	ctx := context.Background()
	if err := database.PingContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to ping database: %v\n", err)
		return exitError
	}

	migrator := store.NewMigrator(database, *dir)
	if *statusOnly {
		if err := migrator.Status(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Status check failed: %v\n", err)
			return exitError
		}
		return exitOK
	}
	if err := migrator.Migrate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
		return exitError
	}
	return exitOK
}
