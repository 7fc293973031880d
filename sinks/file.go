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
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/aaronlmathis/logship"
)

// FileSinkError wraps file sink errors with context about the operation.
type FileSinkError struct {
	Op  string // The operation being performed (e.g., "write", "open")
	Err error  // The underlying error
}

// Error returns the error string for FileSinkError.
func (e *FileSinkError) Error() string {
	return fmt.Sprintf("file sink %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for FileSinkError.
func (e *FileSinkError) Unwrap() error {
	return e.Err
}

// FileSinkStats holds file write statistics.
type FileSinkStats struct {
	BatchesSent    int64     // Batches written
	RecordsIndexed int64     // Records written
	BytesWritten   int64     // Bytes written including newlines
	LastSendTime   time.Time // Time of last write
}

// FileSink implements logship.BulkSink by appending batches as NDJSON to a
// local file. It serves as a dry-run or archive destination: every record
// the exporter would ship lands as one JSON line, in order.
type FileSink struct {
	file   *os.File
	writer *bufio.Writer
	stats  FileSinkStats
	mu     sync.Mutex
}

// NewFileSink opens (or creates) the destination file for appending.
func NewFileSink(path string) (*FileSink, error) {
	if path == "" {
		return nil, &FileSinkError{Op: "validate", Err: fmt.Errorf("path is required")}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, &FileSinkError{Op: "open", Err: err}
	}
	return &FileSink{
		file:   file,
		writer: bufio.NewWriter(file),
	}, nil
}

// Send implements the logship.BulkSink interface. The whole batch is
// written and flushed in one call; any write error fails the call whole,
// matching the transport-failure semantics of the network sinks.
func (s *FileSink) Send(ctx context.Context, batch logship.Batch) (logship.BulkResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return logship.BulkResult{}, &FileSinkError{Op: "write", Err: err}
	}

	var written int64
	for _, record := range batch.Records {
		data, err := json.Marshal(record)
		if err != nil {
			return logship.BulkResult{}, &FileSinkError{Op: "marshal", Err: err}
		}
		n, err := s.writer.Write(append(data, '\n'))
		written += int64(n)
		if err != nil {
			return logship.BulkResult{}, &FileSinkError{Op: "write", Err: err}
		}
	}
	if err := s.writer.Flush(); err != nil {
		return logship.BulkResult{}, &FileSinkError{Op: "flush", Err: err}
	}

	s.stats.BatchesSent++
	s.stats.RecordsIndexed += int64(len(batch.Records))
	s.stats.BytesWritten += written
	s.stats.LastSendTime = time.Now()

	return logship.BulkResult{Indexed: len(batch.Records)}, nil
}

// Ping implements the logship.BulkSink interface. The file was opened at
// construction, so there is nothing further to verify.
func (s *FileSink) Ping(ctx context.Context) error {
	return nil
}

// Stats returns a copy of the sink's write statistics.
func (s *FileSink) Stats() FileSinkStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Close implements the logship.BulkSink interface.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writer.Flush(); err != nil {
		return &FileSinkError{Op: "flush", Err: err}
	}
	return s.file.Close()
}
