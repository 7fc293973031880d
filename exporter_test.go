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
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/logship/clock"
)

// sourceEvent is one step of a scripted source: a line or an error.
type sourceEvent struct {
	line string
	err  error
}

// scriptedSource replays a fixed event sequence, then reports ErrNoData
// forever. onExhausted fires once when the script runs out, letting tests
// stop a tail loop at a known point.
type scriptedSource struct {
	events      []sourceEvent
	pos         int
	offset      int64
	closed      bool
	onExhausted func()
}

func (s *scriptedSource) Next(ctx context.Context) (string, error) {
	if s.pos >= len(s.events) {
		if s.onExhausted != nil {
			s.onExhausted()
			s.onExhausted = nil
		}
		return "", ErrNoData
	}
	event := s.events[s.pos]
	s.pos++
	if event.err != nil {
		return "", event.err
	}
	s.offset += int64(len(event.line)) + 1
	return event.line, nil
}

func (s *scriptedSource) Offset() int64 { return s.offset }

func (s *scriptedSource) Close() error {
	s.closed = true
	return nil
}

// recordingSink captures every batch it receives. Individual calls can be
// scripted to fail whole (transport error) via failOn.
type recordingSink struct {
	mu      sync.Mutex
	batches []Batch
	calls   int
	failOn  map[int]error // 1-based call index -> error
	closed  bool
}

func (s *recordingSink) Send(ctx context.Context, batch Batch) (BulkResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if err, ok := s.failOn[s.calls]; ok {
		return BulkResult{}, err
	}
	copied := Batch{Destination: batch.Destination, Records: append([]Record(nil), batch.Records...)}
	s.batches = append(s.batches, copied)
	return BulkResult{Indexed: batch.Len()}, nil
}

func (s *recordingSink) Ping(ctx context.Context) error { return nil }

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) batchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

func (s *recordingSink) batch(i int) Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batches[i]
}

func lineEvents(lines ...string) []sourceEvent {
	events := make([]sourceEvent, 0, len(lines))
	for _, line := range lines {
		events = append(events, sourceEvent{line: line})
	}
	return events
}

func jsonLine(n int) string {
	return fmt.Sprintf(`{"seq":%d}`, n)
}

func buildExporter(t *testing.T, source LineSource, sink BulkSink, mode Mode, batchSize int, clk clock.Clock) *Exporter {
	t.Helper()
	exporter, err := NewExporter().
		From(source).
		To(sink).
		WithMode(mode).
		WithDestination("logs").
		WithBatchSize(batchSize).
		WithFlushInterval(5 * time.Second).
		WithIdlePollInterval(500 * time.Millisecond).
		WithClock(clk).
		Build()
	require.NoError(t, err)
	return exporter
}

func TestExporter_OneTimeSingleResidualFlush(t *testing.T) {
	lines := []string{
		`{"event":"start","timestamp":1}`,
		`{"event":"process","timestamp":2}`,
		`{"event":"end","timestamp":3}`,
	}
	source := &scriptedSource{events: append(lineEvents(lines...), sourceEvent{err: io.EOF})}
	sink := &recordingSink{}
	exporter := buildExporter(t, source, sink, ModeOneTime, 100, clock.Fake(time.Unix(1000, 0)))

	require.NoError(t, exporter.Run(context.Background()))

	require.Equal(t, 1, sink.batchCount())
	batch := sink.batch(0)
	require.Equal(t, 3, batch.Len())
	assert.Equal(t, "start", batch.Records[0]["event"])
	assert.Equal(t, "process", batch.Records[1]["event"])
	assert.Equal(t, "end", batch.Records[2]["event"])

	stats := exporter.Stats()
	assert.Equal(t, int64(3), stats.LinesRead)
	assert.Equal(t, int64(3), stats.RecordsShipped)
	assert.Equal(t, int64(1), stats.BatchesFlushed)
	assert.True(t, source.closed)
	assert.True(t, sink.closed)
}

func TestExporter_OneTimeCeilingOfFlushes(t *testing.T) {
	const n, batchSize = 10, 3

	var lines []string
	for i := 1; i <= n; i++ {
		lines = append(lines, jsonLine(i))
	}
	source := &scriptedSource{events: append(lineEvents(lines...), sourceEvent{err: io.EOF})}
	sink := &recordingSink{}
	exporter := buildExporter(t, source, sink, ModeOneTime, batchSize, clock.Fake(time.Unix(1000, 0)))

	require.NoError(t, exporter.Run(context.Background()))

	// ceil(10/3) = 4 flushes: 3 + 3 + 3 + 1, in file order.
	require.Equal(t, 4, sink.batchCount())
	seq := 0
	for i := 0; i < sink.batchCount(); i++ {
		for _, record := range sink.batch(i).Records {
			seq++
			assert.Equal(t, float64(seq), record["seq"])
		}
	}
	assert.Equal(t, n, seq)
	assert.Equal(t, 1, sink.batch(3).Len())
}

func TestExporter_MalformedLinesSkipped(t *testing.T) {
	source := &scriptedSource{events: append(lineEvents(
		jsonLine(1),
		`{"broken`,
		jsonLine(2),
		`not json`,
		jsonLine(3),
	), sourceEvent{err: io.EOF})}
	sink := &recordingSink{}
	exporter := buildExporter(t, source, sink, ModeOneTime, 2, clock.Fake(time.Unix(1000, 0)))

	require.NoError(t, exporter.Run(context.Background()))

	// The count trigger fires on valid-record totals only: flush 1 after
	// the second valid record, residual flush with the third.
	require.Equal(t, 2, sink.batchCount())
	assert.Equal(t, 2, sink.batch(0).Len())
	assert.Equal(t, 1, sink.batch(1).Len())

	stats := exporter.Stats()
	assert.Equal(t, int64(5), stats.LinesRead)
	assert.Equal(t, int64(2), stats.ParseFailures)
	assert.Equal(t, int64(3), stats.RecordsShipped)
}

func TestExporter_EmptySourceNoSinkCall(t *testing.T) {
	source := &scriptedSource{events: []sourceEvent{{err: io.EOF}}}
	sink := &recordingSink{}
	exporter := buildExporter(t, source, sink, ModeOneTime, 100, clock.Fake(time.Unix(1000, 0)))

	require.NoError(t, exporter.Run(context.Background()))
	assert.Zero(t, sink.batchCount())
}

func TestExporter_TransportErrorDropsBatch(t *testing.T) {
	source := &scriptedSource{events: append(lineEvents(
		jsonLine(1), jsonLine(2), jsonLine(3), jsonLine(4),
	), sourceEvent{err: io.EOF})}
	sink := &recordingSink{failOn: map[int]error{1: fmt.Errorf("connection refused")}}
	exporter := buildExporter(t, source, sink, ModeOneTime, 2, clock.Fake(time.Unix(1000, 0)))

	require.NoError(t, exporter.Run(context.Background()))

	// Batch 1 (records 1, 2) is lost whole; batch 2 carries only newer
	// records — nothing is requeued.
	require.Equal(t, 1, sink.batchCount())
	batch := sink.batch(0)
	require.Equal(t, 2, batch.Len())
	assert.Equal(t, float64(3), batch.Records[0]["seq"])
	assert.Equal(t, float64(4), batch.Records[1]["seq"])

	stats := exporter.Stats()
	assert.Equal(t, int64(1), stats.BatchesLost)
	assert.Equal(t, int64(2), stats.RecordsLost)
	assert.Equal(t, int64(1), stats.BatchesFlushed)
}

func TestExporter_OneTimeReadErrorFlushesResidual(t *testing.T) {
	readErr := fmt.Errorf("input/output error")
	source := &scriptedSource{events: []sourceEvent{
		{line: jsonLine(1)},
		{err: readErr},
	}}
	sink := &recordingSink{}
	exporter := buildExporter(t, source, sink, ModeOneTime, 100, clock.Fake(time.Unix(1000, 0)))

	err := exporter.Run(context.Background())
	require.ErrorIs(t, err, readErr)

	// The abort path still flushes the residual best-effort.
	require.Equal(t, 1, sink.batchCount())
	assert.Equal(t, 1, sink.batch(0).Len())
}

func TestExporter_TailReadErrorDropsPending(t *testing.T) {
	readErr := fmt.Errorf("input/output error")
	source := &scriptedSource{events: []sourceEvent{
		{line: jsonLine(1)},
		{err: readErr},
	}}
	sink := &recordingSink{}
	exporter := buildExporter(t, source, sink, ModeContinuous, 100, clock.Fake(time.Unix(1000, 0)))

	err := exporter.Run(context.Background())
	require.ErrorIs(t, err, readErr)

	// Asymmetric with one-time mode: no best-effort flush on a mid-tail
	// read error, the buffered record is gone.
	assert.Zero(t, sink.batchCount())
}

func TestExporter_CombinedHandoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Three pre-existing lines, the catch-up boundary, then two appended
	// lines. Batch size 5 flushes the appended pair on the count trigger.
	source := &scriptedSource{
		events: []sourceEvent{
			{line: jsonLine(1)},
			{line: jsonLine(2)},
			{line: jsonLine(3)},
			{err: io.EOF},
			{line: jsonLine(4)},
			{line: jsonLine(5)},
		},
		onExhausted: cancel,
	}
	sink := &recordingSink{}
	exporter := buildExporter(t, source, sink, ModeCombined, 5, clock.Fake(time.Unix(1000, 0)))

	require.NoError(t, exporter.Run(ctx))

	// Drain flush reports exactly the 3 pre-existing lines; the tail phase
	// reports exactly the 2 appended ones — no replay, no gap.
	require.Equal(t, 2, sink.batchCount())
	require.Equal(t, 3, sink.batch(0).Len())
	require.Equal(t, 2, sink.batch(1).Len())

	seq := 0
	for i := 0; i < sink.batchCount(); i++ {
		for _, record := range sink.batch(i).Records {
			seq++
			assert.Equal(t, float64(seq), record["seq"])
		}
	}
	assert.Equal(t, 5, seq)
}

func TestExporter_ContinuousIntervalFlush(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clk := clock.Fake(time.Unix(1000, 0))

	// Batch size 2, flush interval 5s, idle poll 0.5s: lines 1 and 2 flush
	// immediately on the count trigger; line 3 waits for the interval.
	source := &scriptedSource{events: lineEvents(jsonLine(1), jsonLine(2), jsonLine(3))}
	sink := &recordingSink{}
	exporter := buildExporter(t, source, sink, ModeContinuous, 2, clk)

	done := make(chan error, 1)
	go func() {
		done <- exporter.Run(ctx)
	}()

	// Drive the idle polls until the interval trigger delivers line 3.
	for sink.batchCount() < 2 {
		clk.BlockUntil(1)
		clk.Advance(500 * time.Millisecond)
	}
	cancel()
	require.NoError(t, <-done)

	require.Equal(t, 2, sink.batchCount())
	first := sink.batch(0)
	require.Equal(t, 2, first.Len())
	assert.Equal(t, float64(1), first.Records[0]["seq"])
	assert.Equal(t, float64(2), first.Records[1]["seq"])

	// Line 3 is never combined with the earlier batch and flushes within
	// one idle poll of the interval elapsing.
	second := sink.batch(1)
	require.Equal(t, 1, second.Len())
	assert.Equal(t, float64(3), second.Records[0]["seq"])
}

func TestExporter_CancelStopsTailCleanly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	source := &scriptedSource{events: lineEvents(jsonLine(1)), onExhausted: cancel}
	sink := &recordingSink{}
	exporter := buildExporter(t, source, sink, ModeContinuous, 100, clock.Fake(time.Unix(1000, 0)))

	require.NoError(t, exporter.Run(ctx))
	// The pending partial batch is dropped on external termination.
	assert.Zero(t, sink.batchCount())
	assert.True(t, source.closed)
}

func TestExporterBuilder_Validation(t *testing.T) {
	source := &scriptedSource{}
	sink := &recordingSink{}

	tests := []struct {
		name    string
		builder *ExporterBuilder
	}{
		{"missing source", NewExporter().To(sink).WithDestination("logs")},
		{"missing sink", NewExporter().From(source).WithDestination("logs")},
		{"missing destination", NewExporter().From(source).To(sink)},
		{"zero batch size", NewExporter().From(source).To(sink).WithDestination("logs").WithBatchSize(0)},
		{"negative batch size", NewExporter().From(source).To(sink).WithDestination("logs").WithBatchSize(-5)},
		{"unknown mode", NewExporter().From(source).To(sink).WithDestination("logs").WithMode(Mode("hourly"))},
		{"zero flush interval", NewExporter().From(source).To(sink).WithDestination("logs").WithFlushInterval(0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.builder.Build()
			assert.Error(t, err)
		})
	}
}

func TestExporter_DefaultsApplied(t *testing.T) {
	exporter, err := NewExporter().
		From(&scriptedSource{}).
		To(&recordingSink{}).
		WithDestination("logs").
		Build()
	require.NoError(t, err)
	assert.Equal(t, DefaultBatchSize, exporter.batchSize)
	assert.Equal(t, DefaultFlushInterval, exporter.flushInterval)
	assert.Equal(t, DefaultIdlePollInterval, exporter.idlePoll)
	assert.Equal(t, ModeOneTime, exporter.mode)
}
