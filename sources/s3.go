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

package sources

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3SourceError provides structured error information for S3 source
// operations.
type S3SourceError struct {
	Op  string // Operation that failed (e.g., "list_objects", "get_object", "read")
	Err error  // Underlying error
}

func (e *S3SourceError) Error() string {
	return fmt.Sprintf("s3 source %s: %v", e.Op, e.Err)
}

func (e *S3SourceError) Unwrap() error {
	return e.Err
}

// S3SourceStats holds statistics about the S3 source's progress.
type S3SourceStats struct {
	ObjectsListed int64     // Total objects discovered
	ObjectsRead   int64     // Objects fully consumed
	LinesRead     int64     // Non-blank lines returned across all objects
	BytesRead     int64     // Total bytes consumed
	CurrentObject string    // Key of the object currently being read
	LastReadTime  time.Time // Time of last successful line read
}

// S3SourceOptions configures the S3 source behavior.
type S3SourceOptions struct {
	Bucket         string          // S3 bucket name (required)
	Prefix         string          // Key prefix filter
	Suffix         string          // Key suffix filter (e.g., ".jsonl")
	Region         string          // AWS region
	Profile        string          // AWS shared-config profile
	Credentials    aws.Credentials // Explicit static credentials
	EndpointURL    string          // Custom S3 endpoint (for S3-compatible services)
	ForcePathStyle bool            // Use path-style addressing
	MaxKeys        int32           // Page size for object listing
}

// S3SourceOption represents a configuration function for S3SourceOptions.
type S3SourceOption func(*S3SourceOptions)

// WithS3Bucket sets the bucket to read from.
func WithS3Bucket(bucket string) S3SourceOption {
	return func(opts *S3SourceOptions) {
		opts.Bucket = bucket
	}
}

// WithS3Prefix sets the object key prefix filter.
func WithS3Prefix(prefix string) S3SourceOption {
	return func(opts *S3SourceOptions) {
		opts.Prefix = prefix
	}
}

// WithS3Suffix sets the object key suffix filter.
func WithS3Suffix(suffix string) S3SourceOption {
	return func(opts *S3SourceOptions) {
		opts.Suffix = suffix
	}
}

// WithS3Region sets the AWS region.
func WithS3Region(region string) S3SourceOption {
	return func(opts *S3SourceOptions) {
		opts.Region = region
	}
}

// WithS3Profile sets the AWS shared-config profile.
func WithS3Profile(profile string) S3SourceOption {
	return func(opts *S3SourceOptions) {
		opts.Profile = profile
	}
}

// WithS3Credentials sets explicit static credentials.
func WithS3Credentials(creds aws.Credentials) S3SourceOption {
	return func(opts *S3SourceOptions) {
		opts.Credentials = creds
	}
}

// WithS3Endpoint sets a custom S3 endpoint.
func WithS3Endpoint(endpoint string) S3SourceOption {
	return func(opts *S3SourceOptions) {
		opts.EndpointURL = endpoint
	}
}

// WithS3PathStyle enables path-style addressing.
func WithS3PathStyle(pathStyle bool) S3SourceOption {
	return func(opts *S3SourceOptions) {
		opts.ForcePathStyle = pathStyle
	}
}

// S3Source implements logship.LineSource over a set of JSONL objects in an
// S3 bucket. Objects matching the prefix/suffix filters are listed once at
// construction, sorted by key, and drained sequentially; the source reports
// io.EOF after the last object. It is a drain-only source — tailing S3 is
// rejected at configuration time.
type S3Source struct {
	client  *s3.Client
	opts    S3SourceOptions
	keys    []string
	index   int
	body    io.ReadCloser
	scanner *bufio.Scanner
	offset  int64
	stats   S3SourceStats
}

// NewS3Source lists the matching objects and creates the source. Listing
// failures (missing bucket, bad credentials) are reported here, before any
// sink interaction can happen.
func NewS3Source(ctx context.Context, options ...S3SourceOption) (*S3Source, error) {
	opts := S3SourceOptions{
		Suffix:  ".jsonl",
		MaxKeys: 1000,
	}
	for _, option := range options {
		option(&opts)
	}

	if opts.Bucket == "" {
		return nil, &S3SourceError{Op: "validate", Err: fmt.Errorf("bucket is required")}
	}

	cfg, err := createAWSConfig(ctx, opts)
	if err != nil {
		return nil, &S3SourceError{Op: "create_aws_config", Err: err}
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.EndpointURL != "" {
			o.BaseEndpoint = aws.String(opts.EndpointURL)
		}
		o.UsePathStyle = opts.ForcePathStyle
	})

	source := &S3Source{
		client: client,
		opts:   opts,
	}

	if err := source.listObjects(ctx); err != nil {
		return nil, &S3SourceError{Op: "list_objects", Err: err}
	}
	if len(source.keys) == 0 {
		return nil, &S3SourceError{Op: "list_objects",
			Err: fmt.Errorf("no objects match s3://%s/%s*%s", opts.Bucket, opts.Prefix, opts.Suffix)}
	}

	return source, nil
}

// Next implements the logship.LineSource interface.
func (s *S3Source) Next(ctx context.Context) (string, error) {
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		if s.scanner == nil {
			if s.index >= len(s.keys) {
				return "", io.EOF
			}
			if err := s.openObject(ctx, s.keys[s.index]); err != nil {
				return "", err
			}
		}

		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return "", &S3SourceError{Op: "read", Err: err}
			}
			// Current object exhausted; advance to the next one.
			s.closeObject()
			s.stats.ObjectsRead++
			s.index++
			continue
		}

		raw := s.scanner.Text()
		s.offset += int64(len(raw)) + 1
		s.stats.BytesRead += int64(len(raw)) + 1

		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		s.stats.LinesRead++
		s.stats.LastReadTime = time.Now()
		return line, nil
	}
}

// Offset implements the logship.LineSource interface. It returns the total
// bytes consumed across all objects.
func (s *S3Source) Offset() int64 { return s.offset }

// Stats returns a copy of the source's progress statistics.
func (s *S3Source) Stats() S3SourceStats { return s.stats }

// Keys returns the object keys the source will drain, in read order.
func (s *S3Source) Keys() []string {
	return append([]string(nil), s.keys...)
}

// Close implements the logship.LineSource interface.
func (s *S3Source) Close() error {
	return s.closeObject()
}

// createAWSConfig creates AWS configuration from options.
func createAWSConfig(ctx context.Context, opts S3SourceOptions) (aws.Config, error) {
	configOpts := []func(*config.LoadOptions) error{}

	if opts.Region != "" {
		configOpts = append(configOpts, config.WithRegion(opts.Region))
	}
	if opts.Profile != "" {
		configOpts = append(configOpts, config.WithSharedConfigProfile(opts.Profile))
	}

	cfg, err := config.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return aws.Config{}, err
	}

	if opts.Credentials.AccessKeyID != "" {
		cfg.Credentials = aws.NewCredentialsCache(
			credentials.NewStaticCredentialsProvider(
				opts.Credentials.AccessKeyID,
				opts.Credentials.SecretAccessKey,
				opts.Credentials.SessionToken,
			),
		)
	}

	return cfg, nil
}

// listObjects retrieves and filters object keys, sorted by key so the read
// order is deterministic.
func (s *S3Source) listObjects(ctx context.Context) error {
	input := &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.opts.Bucket),
		MaxKeys: &s.opts.MaxKeys,
	}
	if s.opts.Prefix != "" {
		input.Prefix = aws.String(s.opts.Prefix)
	}

	paginator := s3.NewListObjectsV2Paginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to list objects: %w", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if s.opts.Suffix != "" && !strings.HasSuffix(key, s.opts.Suffix) {
				continue
			}
			s.keys = append(s.keys, key)
		}
	}

	sort.Strings(s.keys)
	s.stats.ObjectsListed = int64(len(s.keys))
	return nil
}

// openObject starts streaming one object's body.
func (s *S3Source) openObject(ctx context.Context, key string) error {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.opts.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return &S3SourceError{Op: "get_object", Err: err}
	}

	s.body = out.Body
	s.scanner = bufio.NewScanner(out.Body)
	s.scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	s.stats.CurrentObject = key
	return nil
}

// closeObject closes the current object body, if any.
func (s *S3Source) closeObject() error {
	s.scanner = nil
	if s.body != nil {
		err := s.body.Close()
		s.body = nil
		return err
	}
	return nil
}
