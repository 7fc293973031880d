//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Copyright (C) 2025 Aaron Mathis aaron.mathis@gmail.com
//
// This file is part of LogShip.
//
// LogShip is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// LogShip is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with LogShip. If not, see https://www.gnu.org/licenses/.

// The logship command exports JSONL log records from a file (or a set of
// S3 objects) into a bulk-write backend. Configuration comes from the
// environment, optionally seeded from a .env file; see the repository
// README for the full variable list.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aaronlmathis/logship"
	"github.com/aaronlmathis/logship/config"
	"github.com/aaronlmathis/logship/sinks"
	"github.com/aaronlmathis/logship/sources"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The source opens before any sink interaction: a missing log file must
	// abort the run without touching the backend.
	source, err := newSource(ctx, cfg)
	if err != nil {
		return err
	}

	sink, err := newSink(ctx, cfg, logger)
	if err != nil {
		source.Close()
		return err
	}

	if err := sink.Ping(ctx); err != nil {
		source.Close()
		sink.Close()
		return err
	}

	if cfg.Sink == config.SinkOpenSearch && cfg.OpenSearchCreateIndex {
		osSink := sink.(*sinks.OpenSearchSink)
		if err := osSink.EnsureIndex(ctx, cfg.OpenSearchIndex); err != nil {
			source.Close()
			sink.Close()
			return err
		}
	}

	exporter, err := logship.NewExporter().
		From(source).
		To(sink).
		WithMode(cfg.Mode()).
		WithDestination(cfg.Destination()).
		WithBatchSize(cfg.BatchSize).
		WithFlushInterval(cfg.FlushInterval()).
		WithIdlePollInterval(cfg.IdlePollInterval()).
		WithLogger(logger).
		Build()
	if err != nil {
		source.Close()
		sink.Close()
		return err
	}

	if err := exporter.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	return nil
}

// newSource builds the line source selected by the configuration. For the
// file source the export mode decides the traversal: drain from the start,
// tail from the end, or drain-then-tail on one handle.
func newSource(ctx context.Context, cfg *config.Config) (logship.LineSource, error) {
	switch cfg.Source {
	case config.SourceS3:
		return sources.NewS3Source(ctx,
			sources.WithS3Bucket(cfg.S3Bucket),
			sources.WithS3Prefix(cfg.S3Prefix),
			sources.WithS3Suffix(cfg.S3Suffix),
			sources.WithS3Region(cfg.S3Region),
			sources.WithS3Profile(cfg.S3Profile),
			sources.WithS3Endpoint(cfg.S3Endpoint),
			sources.WithS3PathStyle(cfg.S3PathStyle),
		)
	default:
		switch cfg.Mode() {
		case logship.ModeContinuous:
			return sources.NewTailSource(cfg.LogFilePath)
		case logship.ModeCombined:
			return sources.NewCombinedSource(cfg.LogFilePath)
		default:
			return sources.NewDrainSource(cfg.LogFilePath)
		}
	}
}

// newSink builds the bulk sink selected by the configuration.
func newSink(ctx context.Context, cfg *config.Config, logger *slog.Logger) (logship.BulkSink, error) {
	switch cfg.Sink {
	case config.SinkPostgres:
		return sinks.NewPostgresSink(
			sinks.WithPostgresDSN(cfg.PostgresDSN),
			sinks.WithPostgresCreateTable(cfg.PostgresCreateTable),
		)
	case config.SinkMongoDB:
		return sinks.NewMongoSink(ctx,
			sinks.WithMongoURI(cfg.MongoDBURI),
			sinks.WithMongoDatabase(cfg.MongoDBDatabase),
		)
	case config.SinkFile:
		return sinks.NewFileSink(cfg.FileSinkPath)
	default:
		options := []sinks.OpenSearchSinkOption{
			sinks.WithOpenSearchHost(cfg.OpenSearchHost),
			sinks.WithOpenSearchPort(cfg.OpenSearchPort),
			// Certificate verification is skipped when SSL is on; the
			// typical deployment target is a self-signed dev cluster.
			sinks.WithOpenSearchSSL(cfg.OpenSearchUseSSL, cfg.OpenSearchUseSSL),
			sinks.WithOpenSearchBasicAuth(cfg.OpenSearchUsername, cfg.OpenSearchPassword),
		}
		if cfg.OpenSearchMappingsFile != "" {
			mappings, err := os.ReadFile(cfg.OpenSearchMappingsFile)
			if err != nil {
				return nil, fmt.Errorf("reading OPENSEARCH_MAPPINGS_FILE: %w", err)
			}
			options = append(options, sinks.WithOpenSearchMappings(mappings))
		}
		return sinks.NewOpenSearchSink(logger, options...)
	}
}
