// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package download

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSConfig configures a GCSFetcher.
type GCSConfig struct {
	// Bucket holds mirrored artifacts under <repo>/<file>.
	Bucket string

	// CredentialsFile is a service account key. Empty uses application
	// default credentials.
	CredentialsFile string

	// ChunkSize is the copy buffer size in bytes.
	ChunkSize int

	Logger *slog.Logger
}

// GCSFetcher reads artifacts from a Cloud Storage mirror of the hub.
//
// Objects are addressed as gs://<bucket>/<repo>/<file>, so a mirror made
// with `gcloud storage cp -r` of hub snapshots works unchanged. Partial
// transfers resume with a range read.
type GCSFetcher struct {
	client    *storage.Client
	bucket    string
	chunkSize int
	logger    *slog.Logger
}

// NewGCSFetcher opens a storage client for cfg.
func NewGCSFetcher(ctx context.Context, cfg GCSConfig) (*GCSFetcher, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("gcs fetcher: bucket is required")
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		if _, err := os.Stat(cfg.CredentialsFile); err != nil {
			return nil, fmt.Errorf("service account key not found at path: %s: %w", cfg.CredentialsFile, err)
		}
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &GCSFetcher{
		client:    client,
		bucket:    cfg.Bucket,
		chunkSize: cfg.ChunkSize,
		logger:    cfg.Logger,
	}, nil
}

// ObjectName returns the object key for repo/file.
func ObjectName(repo, file string) string {
	return path.Join(repo, file)
}

// Fetch implements Fetcher.
func (g *GCSFetcher) Fetch(ctx context.Context, repo, file, destDir string) (string, error) {
	pf := newPartialFile(destDir, file, g.chunkSize, g.logger)
	offset := pf.offset()

	obj := g.client.Bucket(g.bucket).Object(ObjectName(repo, file))
	r, err := obj.NewRangeReader(ctx, offset, -1)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return "", fmt.Errorf("%w: gs://%s/%s", ErrArtifactNotFound, g.bucket, ObjectName(repo, file))
	}
	if err != nil {
		return "", fmt.Errorf("failed to open gs://%s/%s: %w", g.bucket, ObjectName(repo, file), err)
	}
	defer r.Close()

	total := r.Attrs.Size
	if offset > 0 {
		g.logger.Info("Resuming download", "file", file, "offset", offset)
	}
	return pf.write(ctx, r, offset > 0, total)
}

// Close releases the storage client.
func (g *GCSFetcher) Close() error {
	return g.client.Close()
}

var _ Fetcher = (*GCSFetcher)(nil)
