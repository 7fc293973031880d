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

package sinks

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/aaronlmathis/logship"
)

// PostgresSinkError wraps PostgreSQL sink errors with context about the
// operation.
type PostgresSinkError struct {
	Op  string // The operation being performed (e.g., "send", "connect")
	Err error  // The underlying error
}

// Error returns the error string for PostgresSinkError.
func (e *PostgresSinkError) Error() string {
	return fmt.Sprintf("postgres sink %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for PostgresSinkError.
func (e *PostgresSinkError) Unwrap() error {
	return e.Err
}

// PostgresSinkStats holds PostgreSQL write statistics.
type PostgresSinkStats struct {
	BatchesSent     int64         // Batches written
	RecordsIndexed  int64         // Rows inserted
	RecordsRejected int64         // Rows rejected individually
	ConnectionTime  time.Duration // Time spent establishing the connection
	SendDuration    time.Duration // Total time spent writing
	LastSendTime    time.Time     // Time of last write
}

// PostgresSinkOptions configures the PostgreSQL sink.
type PostgresSinkOptions struct {
	DSN             string        // PostgreSQL connection string (required)
	CreateTable     bool          // Create the destination table if missing
	ConnMaxLifetime time.Duration // Max connection lifetime
	ConnMaxIdleTime time.Duration // Max idle connection time
	MaxOpenConns    int           // Max open connections
	MaxIdleConns    int           // Max idle connections
	QueryTimeout    time.Duration // Timeout for queries
}

// PostgresSinkOption represents a configuration function for
// PostgresSinkOptions.
type PostgresSinkOption func(*PostgresSinkOptions)

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) PostgresSinkOption {
	return func(opts *PostgresSinkOptions) {
		opts.DSN = dsn
	}
}

// WithPostgresCreateTable enables or disables table creation.
func WithPostgresCreateTable(create bool) PostgresSinkOption {
	return func(opts *PostgresSinkOptions) {
		opts.CreateTable = create
	}
}

// WithPostgresConnectionPool configures the connection pool.
func WithPostgresConnectionPool(maxOpen, maxIdle int, maxLifetime, maxIdleTime time.Duration) PostgresSinkOption {
	return func(opts *PostgresSinkOptions) {
		opts.MaxOpenConns = maxOpen
		opts.MaxIdleConns = maxIdle
		opts.ConnMaxLifetime = maxLifetime
		opts.ConnMaxIdleTime = maxIdleTime
	}
}

// WithPostgresQueryTimeout sets the query timeout.
func WithPostgresQueryTimeout(timeout time.Duration) PostgresSinkOption {
	return func(opts *PostgresSinkOptions) {
		opts.QueryTimeout = timeout
	}
}

// PostgresSink implements logship.BulkSink against a PostgreSQL table with
// a JSONB document column. Each record is inserted as one row; per-row
// insert failures are reported individually in the result, matching the
// per-item semantics of the bulk write protocol. The batch destination
// names the table.
type PostgresSink struct {
	db      *sql.DB
	opts    PostgresSinkOptions
	stats   PostgresSinkStats
	created map[string]bool
	mu      sync.Mutex
}

// NewPostgresSink creates a sink connected to the configured database.
func NewPostgresSink(options ...PostgresSinkOption) (*PostgresSink, error) {
	opts := PostgresSinkOptions{
		CreateTable:     true,
		QueryTimeout:    30 * time.Second,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 1 * time.Minute,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
	}
	for _, option := range options {
		option(&opts)
	}

	if opts.DSN == "" {
		return nil, &PostgresSinkError{Op: "validate", Err: fmt.Errorf("dsn is required")}
	}

	sink := &PostgresSink{
		opts:    opts,
		created: make(map[string]bool),
	}
	if err := sink.connect(); err != nil {
		return nil, &PostgresSinkError{Op: "connect", Err: err}
	}
	return sink, nil
}

// connect establishes the database connection and configures the pool.
func (s *PostgresSink) connect() error {
	start := time.Now()

	db, err := sql.Open("postgres", s.opts.DSN)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.opts.MaxOpenConns)
	db.SetMaxIdleConns(s.opts.MaxIdleConns)
	db.SetConnMaxLifetime(s.opts.ConnMaxLifetime)
	db.SetConnMaxIdleTime(s.opts.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.QueryTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	s.stats.ConnectionTime = time.Since(start)
	return nil
}

// Send implements the logship.BulkSink interface.
func (s *PostgresSink) Send(ctx context.Context, batch logship.Batch) (logship.BulkResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureTableUnsafe(ctx, batch.Destination); err != nil {
		return logship.BulkResult{}, err
	}

	start := time.Now()
	query := fmt.Sprintf("INSERT INTO %s (document) VALUES ($1::jsonb)", batch.Destination)

	result := logship.BulkResult{}
	for _, record := range batch.Records {
		doc, err := json.Marshal(record)
		if err != nil {
			result.Failed = append(result.Failed, logship.RecordFailure{
				Record: record,
				Err:    fmt.Errorf("marshal record: %w", err),
			})
			continue
		}
		if _, err := s.db.ExecContext(ctx, query, doc); err != nil {
			if ctx.Err() != nil {
				return logship.BulkResult{}, &PostgresSinkError{Op: "send", Err: ctx.Err()}
			}
			result.Failed = append(result.Failed, logship.RecordFailure{Record: record, Err: err})
			continue
		}
		result.Indexed++
	}

	s.stats.BatchesSent++
	s.stats.RecordsIndexed += int64(result.Indexed)
	s.stats.RecordsRejected += int64(len(result.Failed))
	s.stats.LastSendTime = time.Now()
	s.stats.SendDuration += time.Since(start)

	return result, nil
}

// ensureTableUnsafe creates the destination table on first use when table
// creation is enabled (must hold mutex).
func (s *PostgresSink) ensureTableUnsafe(ctx context.Context, table string) error {
	if !s.opts.CreateTable || s.created[table] {
		return nil
	}
	query := fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (id BIGSERIAL PRIMARY KEY, document JSONB NOT NULL, ingested_at TIMESTAMPTZ NOT NULL DEFAULT now())",
		table)
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return &PostgresSinkError{Op: "create_table", Err: err}
	}
	s.created[table] = true
	return nil
}

// Ping implements the logship.BulkSink interface.
func (s *PostgresSink) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return &PostgresSinkError{Op: "ping", Err: err}
	}
	return nil
}

// Stats returns a copy of the sink's write statistics.
func (s *PostgresSink) Stats() PostgresSinkStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Close implements the logship.BulkSink interface.
func (s *PostgresSink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
