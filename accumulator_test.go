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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/logship/clock"
)

func testRecord(n int) Record {
	return Record{"seq": n}
}

func TestAccumulator_CountTrigger(t *testing.T) {
	clk := clock.Fake(time.Unix(1000, 0))
	acc := NewAccumulator("logs", 3, 5*time.Second, clk)

	acc.Add(testRecord(1))
	assert.Equal(t, TriggerNone, acc.ShouldFlush(clk.Now()))
	acc.Add(testRecord(2))
	assert.Equal(t, TriggerNone, acc.ShouldFlush(clk.Now()))
	acc.Add(testRecord(3))
	assert.Equal(t, TriggerCountReached, acc.ShouldFlush(clk.Now()))

	batch := acc.Drain()
	require.Equal(t, 3, batch.Len())
	assert.Equal(t, "logs", batch.Destination)
	assert.Equal(t, int64(3), acc.Total())

	// The running total is process-wide: the next trigger fires at 6, not
	// at buffer length 3.
	acc.Add(testRecord(4))
	assert.Equal(t, TriggerNone, acc.ShouldFlush(clk.Now()))
	acc.Add(testRecord(5))
	assert.Equal(t, TriggerNone, acc.ShouldFlush(clk.Now()))
	acc.Add(testRecord(6))
	assert.Equal(t, TriggerCountReached, acc.ShouldFlush(clk.Now()))
}

func TestAccumulator_EmptyNeverFlushes(t *testing.T) {
	clk := clock.Fake(time.Unix(1000, 0))
	acc := NewAccumulator("logs", 1, time.Millisecond, clk)

	assert.Equal(t, TriggerNone, acc.ShouldFlush(clk.Now()))
	clk.Advance(time.Hour)
	assert.Equal(t, TriggerNone, acc.ShouldFlush(clk.Now()))

	batch := acc.Drain()
	assert.Zero(t, batch.Len())
}

func TestAccumulator_IntervalTrigger(t *testing.T) {
	clk := clock.Fake(time.Unix(1000, 0))
	acc := NewAccumulator("logs", 100, 5*time.Second, clk)

	acc.Add(testRecord(1))
	assert.Equal(t, TriggerNone, acc.ShouldFlush(clk.Now()))

	clk.Advance(4 * time.Second)
	assert.Equal(t, TriggerNone, acc.ShouldFlush(clk.Now()))

	clk.Advance(time.Second)
	assert.Equal(t, TriggerIntervalElapsed, acc.ShouldFlush(clk.Now()))
}

func TestAccumulator_IntervalMeasuresFromPendingStart(t *testing.T) {
	clk := clock.Fake(time.Unix(1000, 0))
	acc := NewAccumulator("logs", 100, 5*time.Second, clk)

	acc.Add(testRecord(1))
	clk.Advance(6 * time.Second)
	require.Equal(t, TriggerIntervalElapsed, acc.ShouldFlush(clk.Now()))
	acc.Drain()

	// A long idle gap between drains must not make the next record flush
	// early: the timer restarts when the buffer becomes non-empty.
	clk.Advance(time.Hour)
	acc.Add(testRecord(2))
	assert.Equal(t, TriggerNone, acc.ShouldFlush(clk.Now()))
	clk.Advance(5 * time.Second)
	assert.Equal(t, TriggerIntervalElapsed, acc.ShouldFlush(clk.Now()))
}

func TestAccumulator_CountTakesPriority(t *testing.T) {
	clk := clock.Fake(time.Unix(1000, 0))
	acc := NewAccumulator("logs", 2, time.Second, clk)

	acc.Add(testRecord(1))
	clk.Advance(time.Minute)
	acc.Add(testRecord(2))
	// Both triggers are due; count wins.
	assert.Equal(t, TriggerCountReached, acc.ShouldFlush(clk.Now()))
}

func TestAccumulator_DrainPreservesOrder(t *testing.T) {
	clk := clock.Fake(time.Unix(1000, 0))
	acc := NewAccumulator("logs", 100, time.Second, clk)

	for i := 1; i <= 5; i++ {
		acc.Add(testRecord(i))
	}
	batch := acc.Drain()
	require.Equal(t, 5, batch.Len())
	for i, record := range batch.Records {
		assert.Equal(t, i+1, record["seq"])
	}
	assert.Zero(t, acc.Len())
	assert.Equal(t, int64(5), acc.Total())
}
