package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/gostudio/internal/config"
	"github.com/3leaps/gostudio/internal/observability"
	"github.com/3leaps/gostudio/internal/server"
	"github.com/3leaps/gostudio/internal/server/handlers"
	"github.com/3leaps/gostudio/pkg/engine"
	"github.com/3leaps/gostudio/pkg/feed"
	"github.com/3leaps/gostudio/pkg/runner"
	"github.com/3leaps/gostudio/pkg/tracker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP facade server",
	Long: `Run the HTTP facade over the engine and tracking backend.

The facade exposes the merged feed, job submission, and job status as a
small REST API, plus health and version endpoints for orchestration.

Endpoints:
  GET  /health                 Aggregate health with registered checks
  GET  /health/live            Liveness probe
  GET  /health/ready           Readiness probe
  GET  /version                Build information
  GET  /api/v1/feed            Merged feed page (?more=true appends)
  POST /api/v1/jobs            Submit a generation job
  GET  /api/v1/jobs/{prompt_id} Job status by engine prompt id

Examples:
  # Serve on the configured address
  gostudio serve

  # Override the listen address
  gostudio serve --host 0.0.0.0 --port 9090`,
	RunE: runServe,
}

var (
	serveHost         string
	servePort         int
	serveWorkflowsDir string
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen host (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (overrides config; 0 picks a free port)")
	serveCmd.Flags().StringVar(&serveWorkflowsDir, "workflows-dir", "", "User template directory layered over builtins")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	overrides := map[string]any{}
	if cmd.Flags().Changed("host") {
		overrides["server.host"] = serveHost
	}
	if cmd.Flags().Changed("port") {
		overrides["server.port"] = servePort
	}

	cfg, err := config.Load(ctx, overrides)
	if err != nil {
		observability.CLILogger.Error("Failed to load configuration", zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}

	logger, err := observability.InitLogger(cfg.Logging.Level, cfg.Logging.Profile)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid logging configuration", err)
	}
	defer observability.Sync()

	engineClient, err := engine.New(engine.Config{
		BaseURL:           cfg.Engine.URL,
		ClientID:          cfg.Engine.ClientID,
		HTTPTimeout:       cfg.Engine.HTTPTimeout,
		RequestsPerSecond: cfg.Engine.RequestsPerSecond,
		Logger:            logger,
	})
	if err != nil {
		logger.Error("invalid engine configuration", zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Invalid engine configuration", err)
	}
	trackerClient, err := tracker.New(tracker.Config{
		BaseURL:     cfg.Tracker.URL,
		HTTPTimeout: cfg.Tracker.HTTPTimeout,
		Logger:      logger,
	})
	if err != nil {
		logger.Error("invalid tracker configuration", zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Invalid tracker configuration", err)
	}

	r, err := runner.New(runner.Config{
		Engine:       engineClient,
		Tracker:      trackerClient,
		PollInterval: cfg.Runner.PollInterval,
		PollTimeout:  cfg.Runner.PollTimeout,
		Logger:       logger,
	})
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid runner configuration", err)
	}

	loader, err := feed.NewLoader(feed.Config{
		Tracker:    trackerClient,
		Categories: cfg.Feed.Categories,
		Limit:      cfg.Feed.Limit,
		Logger:     logger,
	})
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid feed configuration", err)
	}
	stopRefresher := feed.NewRefresher(loader, cfg.Feed.RefreshInterval, logger).Start(ctx)
	defer stopRefresher()

	registry := newTemplateRegistry(serveWorkflowsDir)
	jobsHandler := handlers.NewJobsHandler(handlers.JobsConfig{
		Runner:    r,
		Templates: registry,
		Engine:    engineClient,
		BaseCtx:   ctx,
		Logger:    logger,
	})

	srv := server.New(cfg.Server.Host, cfg.Server.Port,
		server.WithLogger(logger),
		server.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		server.WithIdleTimeout(cfg.Server.IdleTimeout),
		server.WithFeed(loader),
		server.WithJobs(jobsHandler),
	)

	handlers.InitHealthManager(versionInfo.Version)
	m := handlers.GetHealthManager()
	m.RegisterChecker("signal", &signalHealthChecker{srv: srv})
	m.RegisterChecker("identity", newIdentityHealthChecker())
	m.RegisterChecker("engine", &engineHealthChecker{client: engineClient})
	m.RegisterChecker("tracker", &trackerHealthChecker{client: trackerClient})

	logger.Info("starting server",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.String("engine_url", cfg.Engine.URL),
		zap.String("tracker_url", cfg.Tracker.URL))

	if err := srv.Start(ctx); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		return exitError(foundry.ExitExternalServiceUnavailable, "Server stopped", err)
	}
	return nil
}

// signalHealthChecker reports unhealthy once the server starts draining,
// so load balancers stop routing before shutdown completes. The zero
// value is healthy.
type signalHealthChecker struct {
	srv *server.Server
}

func (c *signalHealthChecker) CheckHealth(ctx context.Context) error {
	if c.srv != nil && c.srv.Draining() {
		return fmt.Errorf("server is draining")
	}
	return nil
}

// identityHealthChecker verifies the app identity is fully populated.
type identityHealthChecker struct {
	binaryName string
	envPrefix  string
	configName string
}

func newIdentityHealthChecker() *identityHealthChecker {
	c := &identityHealthChecker{}
	if identity := GetAppIdentity(); identity != nil {
		c.binaryName = identity.BinaryName
		c.envPrefix = identity.EnvPrefix
		c.configName = identity.ConfigName
	}
	return c
}

func (c *identityHealthChecker) CheckHealth(ctx context.Context) error {
	if strings.TrimSpace(c.binaryName) == "" {
		return fmt.Errorf("app identity missing binary name")
	}
	if strings.TrimSpace(c.envPrefix) == "" {
		return fmt.Errorf("app identity missing env prefix")
	}
	if strings.TrimSpace(c.configName) == "" {
		return fmt.Errorf("app identity missing config name")
	}
	return nil
}

// engineHealthChecker probes the engine's stats endpoint.
type engineHealthChecker struct {
	client *engine.Client
}

func (c *engineHealthChecker) CheckHealth(ctx context.Context) error {
	if c.client == nil {
		return fmt.Errorf("engine client not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := c.client.SystemStats(ctx); err != nil {
		return fmt.Errorf("engine not reachable: %w", err)
	}
	return nil
}

// trackerHealthChecker probes the tracking backend with a one-row list.
type trackerHealthChecker struct {
	client *tracker.Client
}

func (c *trackerHealthChecker) CheckHealth(ctx context.Context) error {
	if c.client == nil {
		return fmt.Errorf("tracker client not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := c.client.ListJobs(ctx, tracker.Query{Limit: 1}); err != nil {
		return fmt.Errorf("tracker not reachable: %w", err)
	}
	return nil
}
