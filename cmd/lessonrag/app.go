package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dshills/lessonrag/internal/config"
	"github.com/dshills/lessonrag/internal/embedder"
	"github.com/dshills/lessonrag/internal/indexer"
	"github.com/dshills/lessonrag/internal/metrics"
	"github.com/dshills/lessonrag/internal/retriever"
	"github.com/dshills/lessonrag/internal/storage"
)

// app holds the components every command shares. Indexer and retriever
// use the same embedding client.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     storage.Storage
	client    *embedder.Client
	indexer   *indexer.Indexer
	retriever *retriever.Retriever
}

// openApp wires storage, embedder, indexer and retriever from cfg. A nil
// registerer disables metrics.
func openApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, registerer prometheus.Registerer) (*app, error) {
	m, err := metrics.New(registerer)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	store, err := storage.Open(ctx, cfg.StorageOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	provider, err := embedder.New(cfg.EmbedderOptions())
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	var clientOpts []embedder.ClientOption
	if cfg.Embedder.CacheSize > 0 {
		clientOpts = append(clientOpts, embedder.WithCache(embedder.NewCache(cfg.Embedder.CacheSize)))
	}
	client, err := embedder.NewClient(provider, cfg.Embedder.Dimension, clientOpts...)
	if err != nil {
		_ = provider.Close()
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	logger.Debug("components ready",
		"backend", cfg.Storage.Driver,
		"provider", client.Provider(),
		"model", client.Model(),
		"dimension", client.Dimension())

	return &app{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		client:    client,
		indexer:   indexer.New(store, client, indexer.WithLogger(logger), indexer.WithMetrics(m)),
		retriever: retriever.New(store, client, retriever.WithLogger(logger), retriever.WithMetrics(m)),
	}, nil
}

// Close releases the embedder and the store
func (a *app) Close() error {
	return errors.Join(a.client.Close(), a.store.Close())
}
