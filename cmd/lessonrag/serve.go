package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/dshills/lessonrag/internal/mcp"
	"github.com/dshills/lessonrag/internal/metrics"
	"github.com/dshills/lessonrag/internal/storage"
)

var serveMetricsAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server on stdio",
	Long: `Starts the Model Context Protocol server. It exposes the index_lessons,
retrieve_chunks and get_status tools over stdio; logs go to stderr.

With --metrics-addr (or metrics.addr in the config) Prometheus metrics are
served on that address under /metrics.

MCP client configuration:
  {
    "mcpServers": {
      "lessonrag": {
        "command": "/path/to/lessonrag",
        "args": ["serve"]
      }
    }
  }`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if serveMetricsAddr != "" {
		cfg.Metrics.Addr = serveMetricsAddr
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	var registry *prometheus.Registry
	var registerer prometheus.Registerer
	if cfg.Metrics.Addr != "" {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		registerer = registry
	}

	a, err := openApp(ctx, cfg, logger, registerer)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	server, err := mcp.NewServer(mcp.Deps{
		Store:     a.store,
		Indexer:   a.indexer,
		Retriever: a.retriever,
		Embedder:  a.client,
		Defaults:  cfg.IndexOptions(),
		TopK:      cfg.Retrieval.TopK,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	logger.Info("lessonrag starting",
		"version", version,
		"build_mode", storage.BuildMode,
		"driver", storage.DriverName,
		"backend", cfg.Storage.Driver)

	errChan := make(chan error, 2)
	if registry != nil {
		metricsServer := metrics.NewServer(cfg.Metrics.Addr, registry)
		go func() {
			logger.Info("metrics listening", "addr", cfg.Metrics.Addr, "path", metrics.DefaultPath)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- err
			}
		}()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
	}

	go func() {
		errChan <- server.Serve(ctx)
	}()

	// Wait for shutdown signal or error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		return nil
	case err := <-errChan:
		if err != nil {
			logger.Error("server error", "error", err)
			return err
		}
	}
	logger.Info("server stopped")
	return nil
}
