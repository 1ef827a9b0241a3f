// Ballotd is an anonymous candidate-match daemon with HTTP/SSE transport.
//
// The daemon serves the voting deck and match scoring, and runs background
// research tasks that pull candidate positions from external sources,
// streaming progress over Server-Sent Events backed by NATS.
//
// Configuration comes from a YAML file plus environment overrides. See
// internal/config for details.
//
// Usage:
//
//	# Start with defaults
//	ballotd
//
//	# Configure via environment
//	SERVER_PORT=8000 SEARCH_API_KEY=tvly-... SYNTHESIS_API_KEY=sk-... ballotd
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ballotd/internal/config"
	"github.com/fyrsmithlabs/ballotd/internal/events"
	"github.com/fyrsmithlabs/ballotd/internal/httpapi"
	"github.com/fyrsmithlabs/ballotd/internal/research"
	"github.com/fyrsmithlabs/ballotd/internal/results"
	"github.com/fyrsmithlabs/ballotd/internal/search"
	"github.com/fyrsmithlabs/ballotd/internal/stance"
	"github.com/fyrsmithlabs/ballotd/internal/synthesis"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  ballotd           Start the ballotd daemon\n")
			fmt.Fprintf(os.Stderr, "  ballotd version   Show version information\n")
			os.Exit(1)
		}
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("ballotd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the ballotd daemon and blocks until the context is cancelled.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync() // Best-effort sync on shutdown
	}()

	logger.Info("Starting ballotd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout.Duration()))

	deps, err := initDependencies(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	logger.Info("Dependencies initialized",
		zap.Bool("nats_embedded", deps.embeddedNATS != nil),
		zap.Int("candidates", len(deps.stances.Candidates())))

	orch := research.NewOrchestrator(
		research.Config{
			MaxConcurrent: cfg.Research.MaxConcurrent,
			TaskTimeout:   cfg.Research.TaskTimeout.Duration(),
			MaxQueries:    cfg.Research.MaxQueries,
			MaxSources:    cfg.Research.MaxSources,
			RetryBackoff:  cfg.Research.RetryBackoff.Duration(),
			Retention:     cfg.Research.Retention.Duration(),
		},
		deps.stances,
		deps.searcher,
		deps.synthesizer,
		deps.broadcaster,
		deps.results,
		logger,
	)

	srv, err := httpapi.NewServer(orch, deps.stances, deps.broadcaster, logger, &httpapi.Config{
		Host:    cfg.Server.Host,
		Port:    cfg.Server.Port,
		Version: version,
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	// Background sweep of expired results
	if retention := cfg.Results.Retention.Duration(); retention > 0 {
		go sweepResults(ctx, deps.results, retention, logger)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown failed", zap.Error(err))
	}
	if err := orch.Shutdown(shutdownCtx); err != nil {
		logger.Warn("orchestrator shutdown failed", zap.Error(err))
	}
	return nil
}

// sweepResults periodically evicts expired result documents.
func sweepResults(ctx context.Context, store *results.Store, retention time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(retention / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := store.Sweep(retention); err != nil {
				logger.Warn("results sweep failed", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

// dependencies holds all infrastructure dependencies.
type dependencies struct {
	embeddedNATS *natsserver.Server
	natsConn     *nats.Conn
	broadcaster  *events.Broadcaster
	stances      *stance.Store
	searcher     search.Searcher
	synthesizer  synthesis.Synthesizer
	results      *results.Store
}

// Close releases all infrastructure resources.
func (d *dependencies) Close() {
	if d.natsConn != nil {
		d.natsConn.Close()
	}
	if d.embeddedNATS != nil {
		d.embeddedNATS.Shutdown()
		d.embeddedNATS.WaitForShutdown()
	}
}

// initLogger initializes the structured logger.
func initLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.Logging.Development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// initDependencies starts or connects NATS, loads the candidate roster, and
// creates the gateways and stores the orchestrator needs.
func initDependencies(cfg *config.Config, logger *zap.Logger) (*dependencies, error) {
	deps := &dependencies{}

	natsURL := cfg.NATS.URL
	if cfg.NATS.Embedded {
		ns, err := natsserver.NewServer(&natsserver.Options{
			Host:   "127.0.0.1",
			Port:   -1, // Random port
			NoLog:  true,
			NoSigs: true,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create embedded NATS server: %w", err)
		}
		go ns.Start()
		if !ns.ReadyForConnections(5 * time.Second) {
			return nil, fmt.Errorf("embedded NATS server not ready")
		}
		deps.embeddedNATS = ns
		natsURL = ns.ClientURL()
		logger.Info("Embedded NATS server started", zap.String("url", natsURL))
	}

	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
	)
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", natsURL, err)
	}
	deps.natsConn = nc
	deps.broadcaster = events.NewBroadcaster(nc, logger)

	logger.Info("Connected to NATS", zap.String("url", natsURL))

	deps.stances = stance.NewStore(logger)
	if cfg.Candidates.RosterPath != "" {
		if err := deps.stances.LoadRoster(cfg.Candidates.RosterPath); err != nil {
			deps.Close()
			return nil, fmt.Errorf("failed to load candidate roster: %w", err)
		}
	}

	searcher, err := search.NewTavilyClient(search.TavilyConfig{
		APIKey:            cfg.Search.APIKey.Value(),
		BaseURL:           cfg.Search.BaseURL,
		MaxResults:        cfg.Search.MaxResults,
		RequestsPerMinute: cfg.Search.RequestsPerMinute,
	}, logger)
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("failed to create search client: %w", err)
	}
	deps.searcher = searcher

	synthesizer, err := synthesis.NewService(synthesis.Config{
		BaseURL: cfg.Synthesis.BaseURL,
		APIKey:  cfg.Synthesis.APIKey.Value(),
		Model:   cfg.Synthesis.Model,
	}, logger)
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("failed to create synthesis service: %w", err)
	}
	deps.synthesizer = synthesizer

	store, err := results.NewStore(cfg.Results.Dir, logger)
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("failed to create results store: %w", err)
	}
	deps.results = store

	return deps, nil
}
