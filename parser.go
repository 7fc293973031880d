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
	"encoding/json"
	"fmt"
	"log/slog"
)

// ParseError reports a line that could not be parsed into a Record. It
// carries the offending line for diagnostics. The exporter treats a
// ParseError as "skip this line, continue the stream" — it never aborts a
// run and the line is excluded from every count.
type ParseError struct {
	Line string
	Err  error
}

// Error returns the error string for ParseError.
func (e *ParseError) Error() string {
	return fmt.Sprintf("parse line: %v", e.Err)
}

// Unwrap returns the underlying error for ParseError.
func (e *ParseError) Unwrap() error {
	return e.Err
}

// Parser converts JSONL lines into Records. Only a syntactically valid JSON
// object is accepted; anything else (malformed JSON, or a valid scalar or
// array) yields a *ParseError. Each failure emits one diagnostic log entry.
type Parser struct {
	logger *slog.Logger
}

// NewParser creates a Parser. A nil logger falls back to slog.Default().
func NewParser(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{logger: logger}
}

// Parse converts one line into a Record or reports a *ParseError.
func (p *Parser) Parse(line string) (Record, error) {
	var record Record
	if err := json.Unmarshal([]byte(line), &record); err != nil {
		p.logger.Warn("skipping malformed line", "line", line, "error", err)
		return nil, &ParseError{Line: line, Err: err}
	}
	// JSON null unmarshals into a nil map without error.
	if record == nil {
		err := fmt.Errorf("not a JSON object")
		p.logger.Warn("skipping malformed line", "line", line, "error", err)
		return nil, &ParseError{Line: line, Err: err}
	}
	return record, nil
}
