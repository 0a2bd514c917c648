// Package cmd implements the advisory-index command line: the server itself
// plus client and maintenance commands.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ortelius/advisory-index/config"
	"github.com/ortelius/advisory-index/database"
	gqlschema "github.com/ortelius/advisory-index/graphql"
	"github.com/ortelius/advisory-index/index"
	"github.com/ortelius/advisory-index/loader"
	"github.com/ortelius/advisory-index/metrics"
	"github.com/ortelius/advisory-index/query"
	"github.com/ortelius/advisory-index/server"
	"github.com/ortelius/advisory-index/util"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfgFile   string
	serverURL string
	verbose   bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "advisory-index",
	Short: "Security advisory index for npm modules",
	Long: `Serves security advisories for npm modules and answers whether a
module version is affected. Client commands query a running server.`,
	SilenceUsage: true,
}

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Load advisories and serve the HTTP API",
	Long: `Loads advisories from the configured source, builds the index and
serves the HTTP and GraphQL APIs. With a refresh interval the index is
rebuilt periodically; queries keep using the previous generation until
the new one is published.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Advisory API server URL")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().String("source", "", "Advisory source: dir or arangodb (env ADVISORY_SOURCE)")
	rootCmd.PersistentFlags().String("dir", "", "Advisories directory (env ADVISORIES_DIR)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (env LOG_LEVEL)")
	rootCmd.PersistentFlags().String("arango-url", "", "ArangoDB URL (env ARANGO_URL)")

	// Serve command specific flags
	serveCmd.Flags().String("port", "", "Listen port (env MS_PORT)")
	serveCmd.Flags().Duration("refresh", 0, "Refresh interval, 0 disables (env REFRESH_INTERVAL)")
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	config.MergeFlags(cfg, cmd.Flags())
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newSource(ctx context.Context, cfg *config.Config, logger *zap.Logger) (loader.Source, error) {
	if cfg.Source == config.SourceArango {
		conn, err := database.Connect(ctx, cfg.Arango, logger)
		if err != nil {
			return nil, err
		}
		return database.NewSource(conn, logger), nil
	}
	return loader.NewDir(cfg.AdvisoriesDir, logger), nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger := util.InitLogger(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	source, err := newSource(ctx, cfg, logger)
	if err != nil {
		return err
	}

	holder := index.NewHolder()
	m := metrics.NewMetrics()
	refresher := loader.NewRefresher(source, holder, logger, m, cfg.RefreshInterval)

	// The first generation must exist before any request is served
	if _, err := refresher.Refresh(ctx); err != nil {
		return err
	}
	go refresher.Run(ctx)

	engine := query.NewEngine(holder)
	schema, err := gqlschema.CreateSchema(engine)
	if err != nil {
		return fmt.Errorf("failed to create GraphQL schema: %w", err)
	}

	app := server.New(engine, schema, m, logger).App()

	go func() {
		<-ctx.Done()
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			logger.Error("Shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("Starting server",
		zap.String("port", cfg.Port),
		zap.String("source", source.Name()),
		zap.Duration("refresh", cfg.RefreshInterval))
	logger.Info("GraphQL endpoint available at /api/v1/graphql")

	return app.Listen(":" + cfg.Port)
}
