// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"log/slog"

	"github.com/AleutianAI/localai/cmd/localai/config"
	"github.com/AleutianAI/localai/cmd/localai/internal/download"
	"github.com/AleutianAI/localai/cmd/localai/internal/health"
	"github.com/AleutianAI/localai/cmd/localai/internal/registry"
	"github.com/AleutianAI/localai/cmd/localai/internal/service"
)

type (
	// fetcherFactory returns the artifact source and a func releasing it.
	fetcherFactory func(ctx context.Context, snap *config.Snapshot, logger *slog.Logger) (download.Fetcher, func() error, error)

	managerFactory func(snap *config.Snapshot, reg *registry.Registry, logger *slog.Logger) service.Manager

	proberFactory func(snap *config.Snapshot, logger *slog.Logger) *health.Prober
)

// defaultFetcher picks the hub or the GCS mirror by LOCAL_AI_MODEL_SOURCE.
func defaultFetcher(ctx context.Context, snap *config.Snapshot, logger *slog.Logger) (download.Fetcher, func() error, error) {
	if snap.Network.ModelSource == config.SourceGCS {
		f, err := download.NewGCSFetcher(ctx, download.GCSConfig{
			Bucket:          snap.Network.GCSBucket,
			CredentialsFile: snap.Network.GCSCredentials,
			ChunkSize:       snap.Network.DefaultChunkSize,
			Logger:          logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return f, f.Close, nil
	}

	f := download.NewHubFetcher(download.HubConfig{
		Endpoint:  snap.Network.HFEndpoint,
		ChunkSize: snap.Network.DefaultChunkSize,
		Timeout:   snap.DownloadTimeout(),
		Token:     download.TokenFromEnv(),
		Logger:    logger,
	})
	return f, func() error { return nil }, nil
}

func defaultManager(snap *config.Snapshot, reg *registry.Registry, logger *slog.Logger) service.Manager {
	return service.NewProcessLauncher(service.LauncherConfig{
		Binary:           snap.FilePaths.LlamaServer,
		Registry:         reg,
		ModelsDir:        snap.FilePaths.ModelsDir,
		LogsDir:          snap.FilePaths.LogsDir,
		StartLockFile:    snap.FilePaths.StartLockFile,
		LockTimeout:      snap.LockTimeout(),
		PortCheckTimeout: snap.PortCheckTimeout(),
		Logger:           logger,
	})
}

func defaultProber(_ *config.Snapshot, logger *slog.Logger) *health.Prober {
	return health.NewProber(health.Config{Logger: logger})
}

// downloader builds a Downloader over the configured fetcher.
func (a *app) downloader(ctx context.Context) (*download.Downloader, func() error, error) {
	fetcher, release, err := a.newFetcher(ctx, a.snap, a.log)
	if err != nil {
		return nil, nil, err
	}
	dl := download.New(a.registry, fetcher, download.Options{
		ModelsDir:   a.snap.FilePaths.ModelsDir,
		LockTimeout: a.snap.LockTimeout(),
		Logger:      a.log,
	})
	return dl, release, nil
}
