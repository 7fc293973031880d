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

package logship

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aaronlmathis/logship/clock"
)

// Default pipeline settings, matching the recognized configuration surface.
const (
	DefaultBatchSize        = 100
	DefaultFlushInterval    = 5 * time.Second
	DefaultIdlePollInterval = 500 * time.Millisecond

	// shutdownFlushTimeout bounds the best-effort residual flush on a
	// one-time run's abort path, where the run context is already dead.
	shutdownFlushTimeout = 10 * time.Second
)

// ExporterBuilder provides a fluent API for constructing an Exporter.
// Use NewExporter() to create a builder, then chain From, To, and
// configuration methods before calling Build.
type ExporterBuilder struct {
	exporter *Exporter
}

// NewExporter creates a new ExporterBuilder with default settings.
func NewExporter() *ExporterBuilder {
	return &ExporterBuilder{
		exporter: &Exporter{
			mode:          ModeOneTime,
			batchSize:     DefaultBatchSize,
			flushInterval: DefaultFlushInterval,
			idlePoll:      DefaultIdlePollInterval,
		},
	}
}

// From sets the LineSource for the export run.
func (eb *ExporterBuilder) From(source LineSource) *ExporterBuilder {
	eb.exporter.source = source
	return eb
}

// To sets the BulkSink for the export run.
func (eb *ExporterBuilder) To(sink BulkSink) *ExporterBuilder {
	eb.exporter.sink = sink
	return eb
}

// WithMode selects the export mode (one_time, continuous, combined).
func (eb *ExporterBuilder) WithMode(mode Mode) *ExporterBuilder {
	eb.exporter.mode = mode
	return eb
}

// WithDestination sets the index, table, or collection name stamped onto
// every batch.
func (eb *ExporterBuilder) WithDestination(destination string) *ExporterBuilder {
	eb.exporter.destination = destination
	return eb
}

// WithBatchSize sets the count-trigger batch size.
func (eb *ExporterBuilder) WithBatchSize(size int) *ExporterBuilder {
	eb.exporter.batchSize = size
	return eb
}

// WithFlushInterval sets the interval-trigger duration.
func (eb *ExporterBuilder) WithFlushInterval(interval time.Duration) *ExporterBuilder {
	eb.exporter.flushInterval = interval
	return eb
}

// WithIdlePollInterval sets the pause between tail polls when no new line
// is available.
func (eb *ExporterBuilder) WithIdlePollInterval(interval time.Duration) *ExporterBuilder {
	eb.exporter.idlePoll = interval
	return eb
}

// WithClock injects the clock used for trigger timing and idle pacing.
func (eb *ExporterBuilder) WithClock(clk clock.Clock) *ExporterBuilder {
	eb.exporter.clk = clk
	return eb
}

// WithLogger sets the logger for flush and diagnostic entries.
func (eb *ExporterBuilder) WithLogger(logger *slog.Logger) *ExporterBuilder {
	eb.exporter.logger = logger
	return eb
}

// Build validates and constructs the Exporter from the builder.
func (eb *ExporterBuilder) Build() (*Exporter, error) {
	e := eb.exporter
	if e.source == nil {
		return nil, fmt.Errorf("exporter requires a line source")
	}
	if e.sink == nil {
		return nil, fmt.Errorf("exporter requires a bulk sink")
	}
	if e.destination == "" {
		return nil, fmt.Errorf("exporter requires a destination name")
	}
	if e.batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", e.batchSize)
	}
	if e.flushInterval <= 0 {
		return nil, fmt.Errorf("flush interval must be positive, got %v", e.flushInterval)
	}
	if e.idlePoll <= 0 {
		return nil, fmt.Errorf("idle poll interval must be positive, got %v", e.idlePoll)
	}
	if _, err := ParseMode(string(e.mode)); err != nil {
		return nil, err
	}
	if e.clk == nil {
		e.clk = clock.Real()
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.parser = NewParser(e.logger)
	e.acc = NewAccumulator(e.destination, e.batchSize, e.flushInterval, e.clk)
	return e, nil
}

// ExportStats holds counters for one export run.
type ExportStats struct {
	LinesRead       int64         // Non-blank lines read from the source
	ParseFailures   int64         // Lines skipped as malformed
	BatchesFlushed  int64         // Batches the sink accepted
	BatchesLost     int64         // Batches dropped on transport failure
	RecordsShipped  int64         // Records the sink indexed
	RecordsRejected int64         // Records the sink rejected individually
	RecordsLost     int64         // Records dropped with lost batches
	LastFlushTime   time.Time     // Completion time of the last accepted flush
	FlushDuration   time.Duration // Total time spent in sink calls
}

// Exporter drives the read → parse → batch → flush pipeline for one run.
//
// A single goroutine owns the whole cycle: lines are read in order, parsed
// records are accumulated in order, and batches are sent in order, so the
// sink sees records exactly as they appeared in the file. There is no
// internal parallelism and no locking around the accumulator or cursor.
//
// Failure semantics differ by mode. A one-time run that aborts mid-stream
// still attempts a best-effort residual flush before returning. A tail loop
// (continuous mode, or the tail phase of combined mode) that hits a read
// error exits immediately — whatever was buffered at that moment is lost.
// Likewise a transport-level sink failure drops the whole batch without
// retry. Both gaps are deliberate; see the repository documentation.
type Exporter struct {
	source      LineSource
	sink        BulkSink
	mode        Mode
	destination string

	batchSize     int
	flushInterval time.Duration
	idlePoll      time.Duration

	clk    clock.Clock
	logger *slog.Logger
	parser *Parser
	acc    *Accumulator

	stats ExportStats
}

// Stats returns a copy of the run's counters.
func (e *Exporter) Stats() ExportStats { return e.stats }

// Run executes the export in the configured mode. It returns nil on a
// completed one-time drain and on external cancellation of a tail loop
// (the normal stop path for continuous and combined runs). The source and
// sink are closed when Run returns.
func (e *Exporter) Run(ctx context.Context) error {
	defer func() {
		e.source.Close()
		e.sink.Close()
	}()

	e.logger.Info("export starting",
		"mode", string(e.mode),
		"destination", e.destination,
		"batch_size", e.batchSize,
		"flush_interval", e.flushInterval,
		"idle_poll_interval", e.idlePoll,
	)

	switch e.mode {
	case ModeOneTime:
		return e.runOneTime(ctx)
	case ModeContinuous:
		return e.runTail(ctx)
	case ModeCombined:
		return e.runCombined(ctx)
	default:
		return fmt.Errorf("unknown export mode %q", e.mode)
	}
}

// runOneTime drains the source to exhaustion. On a mid-stream abort the
// residual batch is still flushed best-effort before the error is returned.
func (e *Exporter) runOneTime(ctx context.Context) error {
	if err := e.drainLoop(ctx); err != nil {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownFlushTimeout)
		defer cancel()
		e.flush(flushCtx, TriggerShutdownRequested)
		return err
	}
	e.logger.Info("export finished",
		"lines", e.stats.LinesRead,
		"shipped", e.stats.RecordsShipped,
		"parse_failures", e.stats.ParseFailures,
	)
	return nil
}

// runTail runs the unbounded tail loop. External cancellation is the
// normal stop path and returns nil.
func (e *Exporter) runTail(ctx context.Context) error {
	return e.tailLoop(ctx)
}

// runCombined drains existing content, logs the handoff offset, then tails
// from that offset on the same open handle. A mid-drain error follows the
// tail rule: the loop exits without a best-effort flush.
func (e *Exporter) runCombined(ctx context.Context) error {
	if err := e.drainLoop(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	e.logger.Info("catch-up complete, switching to tail",
		"offset", e.source.Offset(),
		"lines", e.stats.LinesRead,
	)
	return e.tailLoop(ctx)
}

// drainLoop reads the source until io.EOF, flushing on triggers as they
// fire, and force-flushes the residual batch at exhaustion.
func (e *Exporter) drainLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line, err := e.source.Next(ctx)
		if err == io.EOF {
			e.flush(ctx, TriggerStreamExhausted)
			return nil
		}
		if err != nil {
			return err
		}
		e.processLine(ctx, line)
	}
}

// tailLoop polls the source for appended lines until the context is
// cancelled. Idle wakes check the interval trigger so a dangling partial
// batch is delivered within one poll of the flush interval elapsing. A
// mid-tail read error exits without flushing: the buffered records are
// dropped.
func (e *Exporter) tailLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("export stopped",
				"lines", e.stats.LinesRead,
				"shipped", e.stats.RecordsShipped,
				"pending_dropped", e.acc.Len(),
			)
			return nil
		default:
		}

		line, err := e.source.Next(ctx)
		switch {
		case err == nil:
			e.processLine(ctx, line)
		case errors.Is(err, ErrNoData):
			if trigger := e.acc.ShouldFlush(e.clk.Now()); trigger != TriggerNone {
				e.flush(ctx, trigger)
			}
			select {
			case <-ctx.Done():
			case <-e.clk.After(e.idlePoll):
			}
		default:
			e.logger.Error("tail read failed, exiting",
				"error", err,
				"pending_dropped", e.acc.Len(),
			)
			return err
		}
	}
}

// processLine parses one line and accumulates the record, flushing when a
// trigger fires. Parse failures are logged by the parser and skipped here;
// they never reach the accumulator.
func (e *Exporter) processLine(ctx context.Context, line string) {
	e.stats.LinesRead++
	record, err := e.parser.Parse(line)
	if err != nil {
		e.stats.ParseFailures++
		return
	}
	e.acc.Add(record)
	if trigger := e.acc.ShouldFlush(e.clk.Now()); trigger != TriggerNone {
		e.flush(ctx, trigger)
	}
}

// flush drains the accumulator and sends the batch. An empty accumulator
// produces no sink call. A transport-level failure drops the whole batch:
// the loss is logged and the pipeline continues (no retry, no requeue).
func (e *Exporter) flush(ctx context.Context, trigger FlushTrigger) {
	batch := e.acc.Drain()
	if batch.Len() == 0 {
		return
	}

	start := e.clk.Now()
	result, err := e.sink.Send(ctx, batch)
	if err != nil {
		e.stats.BatchesLost++
		e.stats.RecordsLost += int64(batch.Len())
		e.logger.Error("bulk send failed, dropping batch",
			"trigger", trigger.String(),
			"records", batch.Len(),
			"error", err,
		)
		return
	}

	e.stats.BatchesFlushed++
	e.stats.RecordsShipped += int64(result.Indexed)
	e.stats.RecordsRejected += int64(len(result.Failed))
	e.stats.LastFlushTime = e.clk.Now()
	e.stats.FlushDuration += e.stats.LastFlushTime.Sub(start)

	for _, failure := range result.Failed {
		e.logger.Warn("record rejected by sink", "error", failure.Err)
	}
	e.logger.Info("flushed batch",
		"trigger", trigger.String(),
		"records", batch.Len(),
		"indexed", result.Indexed,
		"rejected", len(result.Failed),
		"total", e.acc.Total(),
	)
}
