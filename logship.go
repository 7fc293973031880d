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

// Package logship implements a single-process JSONL log export pipeline.
//
// LogShip reads newline-delimited JSON records from a log file (or an S3
// object set), parses each line into a schema-free Record, accumulates
// records into batches, and bulk-ships each batch to a search or document
// sink. Delivery is ordered and at-least-once: there is no retry, backoff,
// or requeue on sink failure. A batch that fails at the transport level is
// logged and dropped. Callers that need stronger guarantees should run
// one-time exports periodically rather than relying on a long-lived tail.
package logship

import (
	"context"
	"errors"
	"fmt"
)

// Record represents a single parsed log entry.
// Each record is a map from field names to values, supporting heterogeneous
// data. Records are never mutated after parsing.
type Record map[string]interface{}

// Batch is an ordered group of records bound for a single bulk write call,
// stamped with the destination (index, table, or collection) they target.
// Insertion order is read order; a batch is handed to the sink whole.
type Batch struct {
	Destination string
	Records     []Record
}

// Len returns the number of records in the batch.
func (b Batch) Len() int { return len(b.Records) }

// RecordFailure reports one record the sink rejected and the cause.
type RecordFailure struct {
	Record Record
	Err    error
}

// BulkResult carries the per-record outcome of one bulk send. Indexed counts
// records the backend accepted; Failed lists the rejected records. A batch
// with failures still counts as flushed — the pipeline logs the failures and
// moves on.
type BulkResult struct {
	Indexed int
	Failed  []RecordFailure
}

// LineSource produces an ordered sequence of trimmed, non-empty text lines.
//
// Next returns the next line, or one of:
//   - io.EOF: the source is exhausted (drain sources only; a combined-mode
//     source reports io.EOF exactly once at the catch-up boundary and then
//     behaves as a tail source)
//   - ErrNoData: no complete line is available right now (tail sources);
//     the caller should idle and retry
//   - any other error: the read loop must abort
//
// Implementations skip blank lines internally; a returned line is never
// empty after whitespace trimming.
type LineSource interface {
	// Next returns the next non-blank line from the source.
	Next(ctx context.Context) (string, error)
	// Offset returns the byte position reached within the source.
	Offset() int64
	// Close releases any resources held by the source.
	Close() error
}

// BulkSink ships batches to a destination in single bulk calls.
//
// Send delivers the whole batch in one call and reports per-record outcomes.
// A returned error means the entire call failed at the transport level and
// every record in the batch must be considered lost (the exporter does not
// requeue them).
type BulkSink interface {
	// Send writes the batch and returns per-record outcomes.
	Send(ctx context.Context, batch Batch) (BulkResult, error)
	// Ping verifies the sink is reachable before an export begins.
	Ping(ctx context.Context) error
	// Close releases any resources held by the sink.
	Close() error
}

// ErrNoData is returned by tail sources when no complete line is available
// at the current read position. It signals "idle and retry", not failure.
var ErrNoData = errors.New("logship: no data available")

// FlushTrigger identifies why a batch was flushed.
type FlushTrigger int

const (
	// TriggerNone means no flush is due.
	TriggerNone FlushTrigger = iota
	// TriggerCountReached fires when the process-wide total of accumulated
	// records is an exact multiple of the batch size.
	TriggerCountReached
	// TriggerIntervalElapsed fires when a non-empty batch has been pending
	// for at least the flush interval.
	TriggerIntervalElapsed
	// TriggerStreamExhausted fires for the residual batch when a drain pass
	// reaches end-of-file.
	TriggerStreamExhausted
	// TriggerShutdownRequested fires for the best-effort residual flush on
	// a one-time run's abort path.
	TriggerShutdownRequested
)

// String returns the trigger name as it appears in flush log entries.
func (t FlushTrigger) String() string {
	switch t {
	case TriggerNone:
		return "none"
	case TriggerCountReached:
		return "count_reached"
	case TriggerIntervalElapsed:
		return "interval_elapsed"
	case TriggerStreamExhausted:
		return "stream_exhausted"
	case TriggerShutdownRequested:
		return "shutdown_requested"
	default:
		return fmt.Sprintf("trigger(%d)", int(t))
	}
}

// Mode selects how the exporter traverses the source file.
type Mode string

const (
	// ModeOneTime drains the file from its current start to end-of-file,
	// flushes the residual, and exits.
	ModeOneTime Mode = "one_time"
	// ModeContinuous tails the file starting at end-of-file; pre-existing
	// content is never replayed.
	ModeContinuous Mode = "continuous"
	// ModeCombined drains existing content, then switches to tailing on the
	// same open handle without gap or replay.
	ModeCombined Mode = "combined"
)

// ParseMode validates a mode string from configuration.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeOneTime, ModeContinuous, ModeCombined:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown export mode %q (expected one_time, continuous, or combined)", s)
	}
}
