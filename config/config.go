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

// Package config loads the exporter configuration from the environment.
//
// An optional .env file is loaded first (matching the original deployment
// convention), then environment variables are mapped onto the Config
// struct with defaults applied. Validation failures are fatal and occur
// before any file or sink is touched.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/aaronlmathis/logship"
)

// Source and sink selector values.
const (
	SourceFile = "file"
	SourceS3   = "s3"

	SinkOpenSearch = "opensearch"
	SinkPostgres   = "postgres"
	SinkMongoDB    = "mongodb"
	SinkFile       = "file"
)

// Config is the full configuration surface of the exporter. It is
// constructed once at startup and passed into the components that need it;
// nothing reads the process environment after Load returns.
type Config struct {
	ExportMode              string  `envconfig:"EXPORT_MODE" default:"one_time"`
	BatchSize               int     `envconfig:"BATCH_SIZE" default:"100"`
	FlushIntervalSeconds    float64 `envconfig:"FLUSH_INTERVAL_SECONDS" default:"5.0"`
	IdlePollIntervalSeconds float64 `envconfig:"IDLE_POLL_INTERVAL_SECONDS" default:"0.5"`

	Source      string `envconfig:"SOURCE" default:"file"`
	LogFilePath string `envconfig:"LOG_FILE_PATH"`

	S3Bucket    string `envconfig:"S3_BUCKET"`
	S3Prefix    string `envconfig:"S3_PREFIX"`
	S3Suffix    string `envconfig:"S3_SUFFIX" default:".jsonl"`
	S3Region    string `envconfig:"S3_REGION"`
	S3Profile   string `envconfig:"S3_PROFILE"`
	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3PathStyle bool   `envconfig:"S3_PATH_STYLE"`

	Sink string `envconfig:"SINK" default:"opensearch"`

	OpenSearchHost         string `envconfig:"OPENSEARCH_HOST"`
	OpenSearchPort         int    `envconfig:"OPENSEARCH_PORT" default:"9200"`
	OpenSearchUseSSL       bool   `envconfig:"OPENSEARCH_USE_SSL"`
	OpenSearchIndex        string `envconfig:"OPENSEARCH_INDEX"`
	OpenSearchUsername     string `envconfig:"OPENSEARCH_USERNAME"`
	OpenSearchPassword     string `envconfig:"OPENSEARCH_PASSWORD"`
	OpenSearchCreateIndex  bool   `envconfig:"OPENSEARCH_CREATE_INDEX" default:"true"`
	OpenSearchMappingsFile string `envconfig:"OPENSEARCH_MAPPINGS_FILE"`

	PostgresDSN         string `envconfig:"POSTGRES_DSN"`
	PostgresTable       string `envconfig:"POSTGRES_TABLE"`
	PostgresCreateTable bool   `envconfig:"POSTGRES_CREATE_TABLE" default:"true"`

	MongoDBURI        string `envconfig:"MONGODB_URI"`
	MongoDBDatabase   string `envconfig:"MONGODB_DATABASE"`
	MongoDBCollection string `envconfig:"MONGODB_COLLECTION"`

	FileSinkPath string `envconfig:"FILE_SINK_PATH"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"INFO"`
}

// Load reads the optional .env file, maps the environment onto a Config,
// and validates it. Any failure here is fatal to the run.
func Load() (*Config, error) {
	// A missing .env file is fine; only explicit overrides live there.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate applies the fatal configuration rules.
func (c *Config) Validate() error {
	if _, err := logship.ParseMode(c.ExportMode); err != nil {
		return err
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("BATCH_SIZE must be positive, got %d", c.BatchSize)
	}
	if c.FlushIntervalSeconds <= 0 {
		return fmt.Errorf("FLUSH_INTERVAL_SECONDS must be positive, got %v", c.FlushIntervalSeconds)
	}
	if c.IdlePollIntervalSeconds <= 0 {
		return fmt.Errorf("IDLE_POLL_INTERVAL_SECONDS must be positive, got %v", c.IdlePollIntervalSeconds)
	}

	switch c.Source {
	case SourceFile:
		if c.LogFilePath == "" {
			return fmt.Errorf("LOG_FILE_PATH is required when SOURCE=file")
		}
	case SourceS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when SOURCE=s3")
		}
		if c.ExportMode != string(logship.ModeOneTime) {
			return fmt.Errorf("SOURCE=s3 supports only EXPORT_MODE=one_time (objects cannot be tailed)")
		}
	default:
		return fmt.Errorf("unknown source %q (expected file or s3)", c.Source)
	}

	switch c.Sink {
	case SinkOpenSearch:
		if c.OpenSearchHost == "" {
			return fmt.Errorf("OPENSEARCH_HOST is required when SINK=opensearch")
		}
		if c.OpenSearchIndex == "" {
			return fmt.Errorf("OPENSEARCH_INDEX is required when SINK=opensearch")
		}
	case SinkPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required when SINK=postgres")
		}
		if c.PostgresTable == "" {
			return fmt.Errorf("POSTGRES_TABLE is required when SINK=postgres")
		}
	case SinkMongoDB:
		if c.MongoDBURI == "" {
			return fmt.Errorf("MONGODB_URI is required when SINK=mongodb")
		}
		if c.MongoDBDatabase == "" {
			return fmt.Errorf("MONGODB_DATABASE is required when SINK=mongodb")
		}
		if c.MongoDBCollection == "" {
			return fmt.Errorf("MONGODB_COLLECTION is required when SINK=mongodb")
		}
	case SinkFile:
		if c.FileSinkPath == "" {
			return fmt.Errorf("FILE_SINK_PATH is required when SINK=file")
		}
	default:
		return fmt.Errorf("unknown sink %q (expected opensearch, postgres, mongodb, or file)", c.Sink)
	}

	return nil
}

// Mode returns the validated export mode.
func (c *Config) Mode() logship.Mode {
	return logship.Mode(c.ExportMode)
}

// FlushInterval returns the flush interval as a duration.
func (c *Config) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalSeconds * float64(time.Second))
}

// IdlePollInterval returns the idle poll interval as a duration.
func (c *Config) IdlePollInterval() time.Duration {
	return time.Duration(c.IdlePollIntervalSeconds * float64(time.Second))
}

// Destination returns the index, table, collection, or file path batches
// are stamped with, depending on the selected sink.
func (c *Config) Destination() string {
	switch c.Sink {
	case SinkPostgres:
		return c.PostgresTable
	case SinkMongoDB:
		return c.MongoDBCollection
	case SinkFile:
		return c.FileSinkPath
	default:
		return c.OpenSearchIndex
	}
}

// SlogLevel maps the LOG_LEVEL value onto a slog level, defaulting to
// Info for unrecognized values.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
