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

// Package sources provides implementations of logship.LineSource for
// reading JSONL lines from local files and S3 object sets.
package sources

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/aaronlmathis/logship"
)

// FileSourceError wraps file source errors with context about the operation.
type FileSourceError struct {
	Op  string // The operation being performed (e.g., "open", "read", "seek")
	Err error  // The underlying error
}

// Error returns the error string for FileSourceError.
func (e *FileSourceError) Error() string {
	return fmt.Sprintf("file source %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for FileSourceError.
func (e *FileSourceError) Unwrap() error {
	return e.Err
}

// FileSourceStats holds file read statistics.
type FileSourceStats struct {
	LinesRead    int64     // Non-blank lines returned
	BlankLines   int64     // Whitespace-only lines skipped
	BytesRead    int64     // Bytes consumed from the file
	LastReadTime time.Time // Time of last successful line read
}

// FileSourceOptions configures the file source behavior.
type FileSourceOptions struct {
	Path       string // Path to the log file (required)
	StartAtEnd bool   // Seek to end-of-file before reading (tail mode)
	Follow     bool   // Poll for appended lines instead of reporting io.EOF
	CatchUp    bool   // With Follow: report io.EOF once at the initial end-of-file boundary
}

// FileSourceOption represents a configuration function for FileSourceOptions.
type FileSourceOption func(*FileSourceOptions)

// WithFilePath sets the path of the log file to read.
func WithFilePath(path string) FileSourceOption {
	return func(opts *FileSourceOptions) {
		opts.Path = path
	}
}

// WithStartAtEnd seeks to end-of-file before the first read, so existing
// content is never replayed.
func WithStartAtEnd(startAtEnd bool) FileSourceOption {
	return func(opts *FileSourceOptions) {
		opts.StartAtEnd = startAtEnd
	}
}

// WithFollow keeps the source open at end-of-file, reporting
// logship.ErrNoData instead of io.EOF so the caller can poll for appended
// lines.
func WithFollow(follow bool) FileSourceOption {
	return func(opts *FileSourceOptions) {
		opts.Follow = follow
	}
}

// WithCatchUp makes a following source report io.EOF exactly once when the
// initial drain pass reaches end-of-file, marking the drain→tail handoff
// point. Subsequent reads behave as a plain follow.
func WithCatchUp(catchUp bool) FileSourceOption {
	return func(opts *FileSourceOptions) {
		opts.CatchUp = catchUp
	}
}

// FileSource implements logship.LineSource over a single local file. The
// handle is opened once and held for the lifetime of the source; in
// combined mode the tail phase continues from the drain phase's byte
// offset on the same handle, which is what makes the handoff gapless.
//
// In follow mode a trailing line without its newline is held back until
// the newline arrives, so a half-written append is never shipped in two
// pieces. A plain drain emits the unterminated trailing line as the final
// line of the stream.
type FileSource struct {
	file    *os.File
	reader  *bufio.Reader
	opts    FileSourceOptions
	logger  *slog.Logger
	offset  int64
	partial string
	caught  bool
	stats   FileSourceStats
}

// NewFileSource opens the file and creates a source with the given
// options. A missing or unreadable file is reported here, before any sink
// interaction can happen.
func NewFileSource(options ...FileSourceOption) (*FileSource, error) {
	opts := FileSourceOptions{}
	for _, option := range options {
		option(&opts)
	}

	if opts.Path == "" {
		return nil, &FileSourceError{Op: "validate", Err: fmt.Errorf("file path is required")}
	}

	file, err := os.Open(opts.Path)
	if err != nil {
		return nil, &FileSourceError{Op: "open", Err: err}
	}

	source := &FileSource{
		file:   file,
		reader: bufio.NewReader(file),
		opts:   opts,
		logger: slog.Default(),
	}

	if opts.StartAtEnd {
		offset, err := file.Seek(0, io.SeekEnd)
		if err != nil {
			file.Close()
			return nil, &FileSourceError{Op: "seek", Err: err}
		}
		source.offset = offset
	}

	return source, nil
}

// NewDrainSource creates a source for a one-time drain: it reads from the
// start of the file and reports io.EOF at exhaustion.
func NewDrainSource(path string) (*FileSource, error) {
	return NewFileSource(WithFilePath(path))
}

// NewTailSource creates a source for continuous tailing: it starts at
// end-of-file and reports logship.ErrNoData when no complete line is
// available.
func NewTailSource(path string) (*FileSource, error) {
	return NewFileSource(WithFilePath(path), WithStartAtEnd(true), WithFollow(true))
}

// NewCombinedSource creates a source for combined mode: it drains existing
// content from the start, reports io.EOF once at the catch-up boundary,
// then follows appended lines from the same offset.
func NewCombinedSource(path string) (*FileSource, error) {
	return NewFileSource(WithFilePath(path), WithFollow(true), WithCatchUp(true))
}

// Next implements the logship.LineSource interface.
func (s *FileSource) Next(ctx context.Context) (string, error) {
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		chunk, err := s.reader.ReadString('\n')
		s.offset += int64(len(chunk))
		s.stats.BytesRead += int64(len(chunk))

		if err == nil {
			line := strings.TrimSpace(s.partial + chunk)
			s.partial = ""
			if line == "" {
				s.stats.BlankLines++
				continue
			}
			s.stats.LinesRead++
			s.stats.LastReadTime = time.Now()
			return line, nil
		}

		if err == io.EOF {
			if s.opts.Follow {
				// Hold an unterminated trailing line until its newline
				// arrives.
				s.partial += chunk
				if s.opts.CatchUp && !s.caught {
					s.caught = true
					return "", io.EOF
				}
				return "", logship.ErrNoData
			}
			line := strings.TrimSpace(s.partial + chunk)
			s.partial = ""
			if line != "" {
				s.stats.LinesRead++
				s.stats.LastReadTime = time.Now()
				return line, nil
			}
			return "", io.EOF
		}

		return "", &FileSourceError{Op: "read", Err: err}
	}
}

// Offset implements the logship.LineSource interface. It returns the byte
// position consumed from the file, including any held-back partial line.
func (s *FileSource) Offset() int64 { return s.offset }

// Stats returns a copy of the source's read statistics.
func (s *FileSource) Stats() FileSourceStats { return s.stats }

// Close implements the logship.LineSource interface.
func (s *FileSource) Close() error {
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}
