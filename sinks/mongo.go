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
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/aaronlmathis/logship"
)

// MongoSinkError wraps MongoDB sink errors with context about the operation.
type MongoSinkError struct {
	Op  string // The operation being performed (e.g., "send", "connect")
	Err error  // The underlying error
}

// Error returns the error string for MongoSinkError.
func (e *MongoSinkError) Error() string {
	return fmt.Sprintf("mongo sink %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for MongoSinkError.
func (e *MongoSinkError) Unwrap() error {
	return e.Err
}

// MongoSinkStats holds MongoDB write statistics.
type MongoSinkStats struct {
	BatchesSent     int64         // Batches written
	RecordsIndexed  int64         // Documents inserted
	RecordsRejected int64         // Documents rejected per write error
	SendDuration    time.Duration // Total time spent writing
	LastSendTime    time.Time     // Time of last write
}

// MongoSinkOptions configures the MongoDB sink.
type MongoSinkOptions struct {
	URI            string        // MongoDB connection URI (required)
	Database       string        // Database holding the destination collections (required)
	ConnectTimeout time.Duration // Timeout for the initial connect and ping
	MaxPoolSize    uint64        // Connection pool size
}

// MongoSinkOption represents a configuration function for MongoSinkOptions.
type MongoSinkOption func(*MongoSinkOptions)

// WithMongoURI sets the connection URI.
func WithMongoURI(uri string) MongoSinkOption {
	return func(opts *MongoSinkOptions) {
		opts.URI = uri
	}
}

// WithMongoDatabase sets the database name.
func WithMongoDatabase(database string) MongoSinkOption {
	return func(opts *MongoSinkOptions) {
		opts.Database = database
	}
}

// WithMongoConnectTimeout sets the connect and ping timeout.
func WithMongoConnectTimeout(timeout time.Duration) MongoSinkOption {
	return func(opts *MongoSinkOptions) {
		opts.ConnectTimeout = timeout
	}
}

// WithMongoMaxPoolSize sets the connection pool size.
func WithMongoMaxPoolSize(size uint64) MongoSinkOption {
	return func(opts *MongoSinkOptions) {
		opts.MaxPoolSize = size
	}
}

// MongoSink implements logship.BulkSink against a MongoDB collection using
// unordered InsertMany calls. Unordered inserts keep per-document outcomes
// independent: a rejected document does not stop the rest of the batch.
// The batch destination names the collection.
type MongoSink struct {
	client *mongo.Client
	opts   MongoSinkOptions
	stats  MongoSinkStats
	mu     sync.Mutex
}

// NewMongoSink connects to the configured deployment and verifies the
// connection with a ping.
func NewMongoSink(ctx context.Context, opts ...MongoSinkOption) (*MongoSink, error) {
	sinkOpts := MongoSinkOptions{
		ConnectTimeout: 10 * time.Second,
		MaxPoolSize:    10,
	}
	for _, option := range opts {
		option(&sinkOpts)
	}

	if sinkOpts.URI == "" {
		return nil, &MongoSinkError{Op: "validate", Err: fmt.Errorf("uri is required")}
	}
	if sinkOpts.Database == "" {
		return nil, &MongoSinkError{Op: "validate", Err: fmt.Errorf("database is required")}
	}

	clientOpts := options.Client().
		ApplyURI(sinkOpts.URI).
		SetConnectTimeout(sinkOpts.ConnectTimeout).
		SetMaxPoolSize(sinkOpts.MaxPoolSize)

	connectCtx, cancel := context.WithTimeout(ctx, sinkOpts.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, clientOpts)
	if err != nil {
		return nil, &MongoSinkError{Op: "connect", Err: err}
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, &MongoSinkError{Op: "connect", Err: err}
	}

	return &MongoSink{
		client: client,
		opts:   sinkOpts,
	}, nil
}

// Send implements the logship.BulkSink interface.
func (s *MongoSink) Send(ctx context.Context, batch logship.Batch) (logship.BulkResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	docs := make([]interface{}, len(batch.Records))
	for i, record := range batch.Records {
		docs[i] = record
	}

	start := time.Now()
	collection := s.client.Database(s.opts.Database).Collection(batch.Destination)
	_, err := collection.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))

	result := logship.BulkResult{Indexed: len(batch.Records)}
	if err != nil {
		var bulkErr mongo.BulkWriteException
		if !errors.As(err, &bulkErr) {
			return logship.BulkResult{}, &MongoSinkError{Op: "send", Err: err}
		}
		// Unordered insert: only the listed writes failed, the rest landed.
		result.Indexed = len(batch.Records) - len(bulkErr.WriteErrors)
		for _, writeErr := range bulkErr.WriteErrors {
			failure := logship.RecordFailure{Err: fmt.Errorf("%s", writeErr.Message)}
			if writeErr.Index >= 0 && writeErr.Index < len(batch.Records) {
				failure.Record = batch.Records[writeErr.Index]
			}
			result.Failed = append(result.Failed, failure)
		}
	}

	s.stats.BatchesSent++
	s.stats.RecordsIndexed += int64(result.Indexed)
	s.stats.RecordsRejected += int64(len(result.Failed))
	s.stats.LastSendTime = time.Now()
	s.stats.SendDuration += time.Since(start)

	return result, nil
}

// Ping implements the logship.BulkSink interface.
func (s *MongoSink) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, nil); err != nil {
		return &MongoSinkError{Op: "ping", Err: err}
	}
	return nil
}

// Stats returns a copy of the sink's write statistics.
func (s *MongoSink) Stats() MongoSinkStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Close implements the logship.BulkSink interface.
func (s *MongoSink) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.ConnectTimeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}
