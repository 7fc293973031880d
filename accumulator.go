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
	"time"

	"github.com/aaronlmathis/logship/clock"
)

// Accumulator buffers parsed records between flushes and decides when a
// flush is due. Two triggers apply, checked in priority order:
//
//  1. count: the process-wide running total of added records is an exact
//     multiple of the batch size. The total never resets, so the trigger
//     fires on totals B, 2B, 3B, ... — not on buffer length.
//  2. interval: the buffer is non-empty and at least the flush interval has
//     elapsed since the buffer last became non-empty. Measuring from the
//     last transition to non-empty (rather than the last drain) keeps a
//     record appended after a long idle gap from flushing early.
//
// An Accumulator is owned by a single exporter goroutine and is not safe
// for concurrent use.
type Accumulator struct {
	destination   string
	batchSize     int
	flushInterval time.Duration
	clk           clock.Clock

	records      []Record
	total        int64
	pendingSince time.Time
}

// NewAccumulator creates an accumulator that stamps every drained batch
// with the given destination. A nil clk falls back to the real clock.
func NewAccumulator(destination string, batchSize int, flushInterval time.Duration, clk clock.Clock) *Accumulator {
	if clk == nil {
		clk = clock.Real()
	}
	return &Accumulator{
		destination:   destination,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		clk:           clk,
	}
}

// Add appends a record in arrival order and increments the running total.
func (a *Accumulator) Add(record Record) {
	if len(a.records) == 0 {
		a.pendingSince = a.clk.Now()
	}
	a.records = append(a.records, record)
	a.total++
}

// ShouldFlush reports which trigger, if any, is due at the given instant.
// Count takes priority when both triggers are simultaneously true.
func (a *Accumulator) ShouldFlush(now time.Time) FlushTrigger {
	if len(a.records) == 0 {
		return TriggerNone
	}
	if a.total%int64(a.batchSize) == 0 {
		return TriggerCountReached
	}
	if now.Sub(a.pendingSince) >= a.flushInterval {
		return TriggerIntervalElapsed
	}
	return TriggerNone
}

// Drain returns the pending records as a Batch and resets the buffer. The
// running total is preserved across drains. Draining an empty accumulator
// yields an empty batch, which the exporter never sends.
func (a *Accumulator) Drain() Batch {
	batch := Batch{Destination: a.destination, Records: a.records}
	a.records = nil
	a.pendingSince = time.Time{}
	return batch
}

// Len returns the number of records pending in the buffer.
func (a *Accumulator) Len() int { return len(a.records) }

// Total returns the process-wide count of records added since creation.
func (a *Accumulator) Total() int64 { return a.total }
