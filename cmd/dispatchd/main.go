// Dispatchd routes free-text requests to specialized capability
// adapters and records every interaction in an append-only execution
// log.
//
// The daemon serves an HTTP API by default and an MCP stdio server with
// --mcp. Configuration is loaded from a YAML file with DISPATCHD_*
// environment overrides; see internal/config for details.
//
// Usage:
//
//	# Start the daemon with defaults (chat-only until backends are configured)
//	dispatchd
//
//	# Explicit config file
//	dispatchd --config /etc/dispatchd/config.yaml
//
//	# MCP stdio mode for editor/agent integration
//	dispatchd --mcp
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/dispatchd/internal/capability"
	"github.com/fyrsmithlabs/dispatchd/internal/capability/codegen"
	"github.com/fyrsmithlabs/dispatchd/internal/capability/conversation"
	"github.com/fyrsmithlabs/dispatchd/internal/capability/planning"
	"github.com/fyrsmithlabs/dispatchd/internal/capability/relquery"
	"github.com/fyrsmithlabs/dispatchd/internal/capability/repository"
	"github.com/fyrsmithlabs/dispatchd/internal/capability/workflow"
	"github.com/fyrsmithlabs/dispatchd/internal/classify"
	"github.com/fyrsmithlabs/dispatchd/internal/config"
	"github.com/fyrsmithlabs/dispatchd/internal/dispatch"
	"github.com/fyrsmithlabs/dispatchd/internal/events"
	"github.com/fyrsmithlabs/dispatchd/internal/execlog"
	httpserver "github.com/fyrsmithlabs/dispatchd/internal/http"
	"github.com/fyrsmithlabs/dispatchd/internal/llm"
	"github.com/fyrsmithlabs/dispatchd/internal/logging"
	mcpserver "github.com/fyrsmithlabs/dispatchd/internal/mcp"
	"github.com/fyrsmithlabs/dispatchd/internal/memory"
	"github.com/fyrsmithlabs/dispatchd/internal/secrets"
	"github.com/fyrsmithlabs/dispatchd/internal/telemetry"
)

const natsReconnectWait = 1 * time.Second

// Version information (set via ldflags during build).
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	mcpMode := flag.Bool("mcp", false, "serve MCP over stdio instead of the HTTP API")
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  dispatchd            Start the dispatch daemon\n")
			fmt.Fprintf(os.Stderr, "  dispatchd --mcp      Start in MCP stdio mode\n")
			fmt.Fprintf(os.Stderr, "  dispatchd version    Show version information\n")
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, *mcpMode); err != nil {
		fmt.Fprintf(os.Stderr, "dispatchd: %v\n", err)
		os.Exit(1)
	}
}

func printVersion() {
	fmt.Printf("dispatchd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the daemon and blocks until the context is cancelled.
//
// Initialization order: configuration, telemetry, logger, infrastructure
// dependencies (execution log, NATS, model clients), capability
// adapters, orchestrator, then the serving surface (HTTP or MCP stdio).
// Optional backends that fail to initialize leave their adapter
// unavailable instead of aborting startup; the daemon always comes up.
func run(ctx context.Context, configPath string, mcpMode bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	tel, err := telemetry.New(ctx, cfg.Telemetry, version)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() { _ = tel.Shutdown(context.Background()) }()

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format, nil)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info(ctx, "starting dispatchd",
		zap.String("version", version),
		zap.Bool("mcp_mode", mcpMode),
		zap.Bool("telemetry_enabled", cfg.Telemetry.Enabled),
		zap.Bool("telemetry_degraded", tel.Degraded()))

	deps, err := initDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing dependencies: %w", err)
	}
	defer deps.Close()

	logger.Info(ctx, "dependencies initialized",
		zap.String("database", cfg.Database.Path),
		zap.Bool("nats_connected", deps.natsConn != nil),
		zap.Bool("chat_model", deps.chatModel != nil))

	orchestrator, err := initServices(ctx, cfg, deps, logger)
	if err != nil {
		return fmt.Errorf("initializing services: %w", err)
	}

	if mcpMode {
		srv, err := mcpserver.NewServer(orchestrator, deps.store, logger, cfg.MCP)
		if err != nil {
			return fmt.Errorf("creating mcp server: %w", err)
		}
		return srv.Run(ctx)
	}

	srv, err := httpserver.NewServer(orchestrator, deps.store, logger, cfg.Server)
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}

	logger.Info(ctx, "dispatchd stopped")
	return nil
}

// dependencies holds the infrastructure the services are built on.
type dependencies struct {
	store     *execlog.Store
	natsConn  *nats.Conn
	chatModel llm.Model
	codegen   *codegen.Adapter
	relquery  *relquery.Adapter
}

// Close releases infrastructure resources in reverse dependency order.
func (d *dependencies) Close() {
	if d.relquery != nil {
		d.relquery.Close()
	}
	if d.codegen != nil {
		_ = d.codegen.Close()
	}
	if d.natsConn != nil {
		d.natsConn.Close()
	}
	if d.store != nil {
		_ = d.store.Close()
	}
}

// initDependencies builds the execution log, the optional NATS
// connection and the optional backend clients. Optional pieces log a
// warning on failure and stay nil.
func initDependencies(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*dependencies, error) {
	scrubber, err := secrets.New(cfg.Scrubber)
	if err != nil {
		return nil, fmt.Errorf("creating scrubber: %w", err)
	}

	store, err := execlog.NewStore(cfg.Database.Path, scrubber)
	if err != nil {
		return nil, fmt.Errorf("opening execution log: %w", err)
	}

	deps := &dependencies{store: store}

	if cfg.NATS.Enabled {
		nc, err := nats.Connect(cfg.NATS.URL,
			nats.RetryOnFailedConnect(true),
			nats.MaxReconnects(5),
			nats.ReconnectWait(natsReconnectWait),
		)
		if err != nil {
			logger.Warn(ctx, "NATS unavailable, dispatch events disabled",
				zap.String("url", cfg.NATS.URL), zap.Error(err))
		} else {
			deps.natsConn = nc
		}
	}

	chatModel, err := llm.New(cfg.LLM)
	switch {
	case err == nil:
		deps.chatModel = chatModel
	case errors.Is(err, llm.ErrNotConfigured):
		logger.Warn(ctx, "chat model not configured, LLM-backed capabilities unavailable")
	default:
		logger.Warn(ctx, "chat model initialization failed", zap.Error(err))
	}

	cg, err := codegen.New(ctx, cfg.Gemini)
	if err != nil {
		logger.Warn(ctx, "codegen backend initialization failed", zap.Error(err))
		cg, _ = codegen.New(ctx, config.GeminiConfig{})
	}
	deps.codegen = cg

	rq, err := relquery.New(ctx, cfg.Postgres, deps.chatModel)
	if err != nil {
		logger.Warn(ctx, "postgres unavailable, relational queries disabled", zap.Error(err))
		rq, _ = relquery.New(ctx, config.PostgresConfig{}, deps.chatModel)
	}
	deps.relquery = rq

	return deps, nil
}

// initServices wires the classifier, adapters and orchestrator.
func initServices(ctx context.Context, cfg *config.Config, deps *dependencies, logger *logging.Logger) (*dispatch.Orchestrator, error) {
	classifier := classify.NewKeywordClassifier()
	if cfg.Classifier.RulesPath != "" {
		if err := classifier.Reload(cfg.Classifier.RulesPath); err != nil {
			logger.Warn(ctx, "classifier rules load failed, using defaults",
				zap.String("path", cfg.Classifier.RulesPath), zap.Error(err))
		} else {
			// Watch blocks until ctx is done, so it gets its own goroutine.
			go func() {
				err := classifier.Watch(ctx, cfg.Classifier.RulesPath, logger.Underlying())
				if err != nil && !errors.Is(err, context.Canceled) {
					logger.Warn(ctx, "classifier rules watch stopped",
						zap.String("path", cfg.Classifier.RulesPath), zap.Error(err))
				}
			}()
		}
	}

	registry := capability.NewRegistry()
	registry.Register(conversation.New(deps.chatModel))
	registry.Register(repository.New(ctx, cfg.GitHub.Token, logger))
	registry.Register(deps.codegen)
	registry.Register(planning.New(deps.chatModel))
	registry.Register(deps.relquery)
	registry.Register(workflow.New(deps.chatModel, registry))

	mem := memory.NewManager(cfg.Memory.Window)
	publisher := events.NewPublisher(deps.natsConn, logger)
	metrics := dispatch.NewMetrics(logger)

	return dispatch.New(classifier, registry, mem, deps.store, publisher, logger, metrics), nil
}
