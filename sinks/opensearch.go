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

// Package sinks provides implementations of logship.BulkSink for shipping
// batches to OpenSearch, PostgreSQL, MongoDB, and local NDJSON files.
package sinks

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	opensearch "github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"

	"github.com/aaronlmathis/logship"
)

// OpenSearchSinkError wraps OpenSearch sink errors with context about the
// operation.
type OpenSearchSinkError struct {
	Op  string // The operation being performed (e.g., "bulk", "ping", "ensure_index")
	Err error  // The underlying error
}

// Error returns the error string for OpenSearchSinkError.
func (e *OpenSearchSinkError) Error() string {
	return fmt.Sprintf("opensearch sink %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for OpenSearchSinkError.
func (e *OpenSearchSinkError) Unwrap() error {
	return e.Err
}

// OpenSearchSinkStats holds bulk write statistics.
type OpenSearchSinkStats struct {
	BatchesSent     int64         // Bulk calls the backend accepted
	BatchesFailed   int64         // Bulk calls that failed whole
	RecordsIndexed  int64         // Records the backend indexed
	RecordsRejected int64         // Records rejected per item
	SendDuration    time.Duration // Total time in bulk calls
	LastSendTime    time.Time     // Time of last accepted bulk call
}

// OpenSearchSinkOptions configures the OpenSearch sink.
type OpenSearchSinkOptions struct {
	Host          string // Backend host (required)
	Port          int    // Backend port
	UseSSL        bool   // Use https scheme
	SkipTLSVerify bool   // Skip certificate verification (self-signed clusters)
	Username      string // Basic auth username
	Password      string // Basic auth password
	Mappings      []byte // Optional JSON mappings document for index creation
}

// OpenSearchSinkOption represents a configuration function for
// OpenSearchSinkOptions.
type OpenSearchSinkOption func(*OpenSearchSinkOptions)

// WithOpenSearchHost sets the backend host.
func WithOpenSearchHost(host string) OpenSearchSinkOption {
	return func(opts *OpenSearchSinkOptions) {
		opts.Host = host
	}
}

// WithOpenSearchPort sets the backend port.
func WithOpenSearchPort(port int) OpenSearchSinkOption {
	return func(opts *OpenSearchSinkOptions) {
		opts.Port = port
	}
}

// WithOpenSearchSSL selects the https scheme and optionally skips
// certificate verification.
func WithOpenSearchSSL(useSSL, skipVerify bool) OpenSearchSinkOption {
	return func(opts *OpenSearchSinkOptions) {
		opts.UseSSL = useSSL
		opts.SkipTLSVerify = skipVerify
	}
}

// WithOpenSearchBasicAuth sets basic auth credentials.
func WithOpenSearchBasicAuth(username, password string) OpenSearchSinkOption {
	return func(opts *OpenSearchSinkOptions) {
		opts.Username = username
		opts.Password = password
	}
}

// WithOpenSearchMappings sets the JSON mappings document applied when
// EnsureIndex creates a missing index.
func WithOpenSearchMappings(mappings []byte) OpenSearchSinkOption {
	return func(opts *OpenSearchSinkOptions) {
		opts.Mappings = append([]byte(nil), mappings...)
	}
}

// OpenSearchSink implements logship.BulkSink against the OpenSearch bulk
// API. Each Send issues one _bulk call carrying the whole batch as NDJSON
// action/document pairs; per-item rejections come back in the result while
// a failed call as a whole is returned as an error (the caller drops the
// batch — there is no retry here).
type OpenSearchSink struct {
	client *opensearch.Client
	opts   OpenSearchSinkOptions
	logger *slog.Logger
	stats  OpenSearchSinkStats
	mu     sync.Mutex
}

// NewOpenSearchSink creates a sink connected to the configured cluster. A
// nil logger falls back to slog.Default().
func NewOpenSearchSink(logger *slog.Logger, options ...OpenSearchSinkOption) (*OpenSearchSink, error) {
	opts := OpenSearchSinkOptions{Port: 9200}
	for _, option := range options {
		option(&opts)
	}

	if opts.Host == "" {
		return nil, &OpenSearchSinkError{Op: "validate", Err: fmt.Errorf("host is required")}
	}
	if logger == nil {
		logger = slog.Default()
	}

	scheme := "http"
	if opts.UseSSL {
		scheme = "https"
	}

	cfg := opensearch.Config{
		Addresses: []string{fmt.Sprintf("%s://%s:%d", scheme, opts.Host, opts.Port)},
		Username:  opts.Username,
		Password:  opts.Password,
	}
	if opts.SkipTLSVerify {
		cfg.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	client, err := opensearch.NewClient(cfg)
	if err != nil {
		return nil, &OpenSearchSinkError{Op: "connect", Err: err}
	}

	return &OpenSearchSink{
		client: client,
		opts:   opts,
		logger: logger,
	}, nil
}

// bulkResponse mirrors the fields of the _bulk API response the sink needs.
type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		Status int             `json:"status"`
		Error  json.RawMessage `json:"error"`
	} `json:"items"`
}

// Send implements the logship.BulkSink interface.
func (s *OpenSearchSink) Send(ctx context.Context, batch logship.Batch) (logship.BulkResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	body, err := encodeBulkBody(batch)
	if err != nil {
		return logship.BulkResult{}, &OpenSearchSinkError{Op: "encode", Err: err}
	}

	start := time.Now()
	res, err := opensearchapi.BulkRequest{Body: bytes.NewReader(body)}.Do(ctx, s.client)
	if err != nil {
		s.stats.BatchesFailed++
		return logship.BulkResult{}, &OpenSearchSinkError{Op: "bulk", Err: err}
	}
	defer res.Body.Close()

	if res.IsError() {
		s.stats.BatchesFailed++
		return logship.BulkResult{}, &OpenSearchSinkError{Op: "bulk",
			Err: fmt.Errorf("bulk request returned %s", res.Status())}
	}

	var parsed bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		s.stats.BatchesFailed++
		return logship.BulkResult{}, &OpenSearchSinkError{Op: "decode", Err: err}
	}

	result := logship.BulkResult{}
	for i, item := range parsed.Items {
		outcome, ok := item["index"]
		if !ok || len(outcome.Error) > 0 {
			if i < len(batch.Records) {
				result.Failed = append(result.Failed, logship.RecordFailure{
					Record: batch.Records[i],
					Err:    fmt.Errorf("item error (status %d): %s", outcome.Status, outcome.Error),
				})
			}
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

// encodeBulkBody renders the batch as NDJSON action/document pairs for the
// _bulk endpoint.
func encodeBulkBody(batch logship.Batch) ([]byte, error) {
	action, err := json.Marshal(map[string]map[string]string{
		"index": {"_index": batch.Destination},
	})
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	for _, record := range batch.Records {
		doc, err := json.Marshal(record)
		if err != nil {
			return nil, fmt.Errorf("marshal record: %w", err)
		}
		buf.Write(action)
		buf.WriteByte('\n')
		buf.Write(doc)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// Ping implements the logship.BulkSink interface. It calls the cluster
// info endpoint and logs the backend identity.
func (s *OpenSearchSink) Ping(ctx context.Context) error {
	res, err := opensearchapi.InfoRequest{}.Do(ctx, s.client)
	if err != nil {
		return &OpenSearchSinkError{Op: "ping", Err: err}
	}
	defer res.Body.Close()

	if res.IsError() {
		return &OpenSearchSinkError{Op: "ping", Err: fmt.Errorf("info request returned %s", res.Status())}
	}

	var info struct {
		Version struct {
			Distribution string `json:"distribution"`
			Number       string `json:"number"`
		} `json:"version"`
	}
	if err := json.NewDecoder(res.Body).Decode(&info); err != nil {
		return &OpenSearchSinkError{Op: "ping", Err: err}
	}

	s.logger.Info("connected to search backend",
		"distribution", info.Version.Distribution,
		"version", info.Version.Number,
	)
	return nil
}

// EnsureIndex creates the index when it does not exist, applying the
// configured mappings document if one was provided.
func (s *OpenSearchSink) EnsureIndex(ctx context.Context, name string) error {
	res, err := opensearchapi.IndicesExistsRequest{Index: []string{name}}.Do(ctx, s.client)
	if err != nil {
		return &OpenSearchSinkError{Op: "ensure_index", Err: err}
	}
	res.Body.Close()

	if res.StatusCode == http.StatusOK {
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return &OpenSearchSinkError{Op: "ensure_index",
			Err: fmt.Errorf("exists check returned %s", res.Status())}
	}

	s.logger.Info("index does not exist, creating it", "index", name)

	create := opensearchapi.IndicesCreateRequest{Index: name}
	if len(s.opts.Mappings) > 0 {
		create.Body = bytes.NewReader(s.opts.Mappings)
	}
	createRes, err := create.Do(ctx, s.client)
	if err != nil {
		return &OpenSearchSinkError{Op: "create_index", Err: err}
	}
	defer createRes.Body.Close()

	if createRes.IsError() {
		return &OpenSearchSinkError{Op: "create_index",
			Err: fmt.Errorf("create returned %s", createRes.Status())}
	}

	s.logger.Info("index created", "index", name)
	return nil
}

// Stats returns a copy of the sink's write statistics.
func (s *OpenSearchSink) Stats() OpenSearchSinkStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Close implements the logship.BulkSink interface. The underlying HTTP
// client needs no explicit teardown.
func (s *OpenSearchSink) Close() error {
	return nil
}
