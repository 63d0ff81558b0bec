// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package output

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path"
	"path/filepath"

	"cloud.google.com/go/storage"
	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/config"
	"google.golang.org/api/option"
)

// Uploader copies a local file to object storage.
type Uploader interface {
	UploadFile(ctx context.Context, localPath, objectName string) error
}

// GCSClient uploads reports to a Google Cloud Storage bucket.
type GCSClient struct {
	storageClient *storage.Client
	BucketName    string
	logger        *slog.Logger
}

// NewGCSClient creates a client for cfg.Bucket.
//
// Description:
//
//	With credentials_file set the service account key must exist. Without
//	it the client uses application default credentials
//	(GOOGLE_APPLICATION_CREDENTIALS, gcloud login or the metadata server).
func NewGCSClient(ctx context.Context, cfg config.UploadConfig, logger *slog.Logger) (*GCSClient, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		info, err := os.Stat(cfg.CredentialsFile)
		if err != nil || info.IsDir() {
			return nil, fmt.Errorf("service account key not found at path: %s. Please ensure you have the correct key and it is accessible", cfg.CredentialsFile)
		}
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	storageClient, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GCSClient{
		storageClient: storageClient,
		BucketName:    cfg.Bucket,
		logger:        logger.With(slog.String("component", "gcs")),
	}, nil
}

// UploadFile implements Uploader.
func (c *GCSClient) UploadFile(ctx context.Context, localPath, objectName string) error {
	localFile, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open the local file: %s: %w", localPath, err)
	}
	defer localFile.Close()

	writer := c.storageClient.Bucket(c.BucketName).Object(objectName).NewWriter(ctx)
	writer.ContentType = contentType(localPath)
	writer.CacheControl = "no-cache, no-store, must-revalidate"

	if _, err := io.Copy(writer, localFile); err != nil {
		_ = writer.Close()
		return fmt.Errorf("failed to copy local file %s to GCS object %s: %w", localPath, objectName, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer for %s: %w", objectName, err)
	}
	c.logger.Info("uploaded report", slog.String("object", fmt.Sprintf("gs://%s/%s", c.BucketName, objectName)))
	return nil
}

// Close releases the storage client.
func (c *GCSClient) Close() error {
	return c.storageClient.Close()
}

// UploadReports uploads files under prefix/<run>/ and returns the object
// names. Every file is attempted; the first error is returned.
func UploadReports(ctx context.Context, up Uploader, prefix, run string, files []string) ([]string, error) {
	var (
		objects  []string
		firstErr error
	)
	for _, f := range files {
		name := path.Join(prefix, run, filepath.Base(f))
		if err := up.UploadFile(ctx, f, name); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		objects = append(objects, name)
	}
	return objects, firstErr
}

func contentType(p string) string {
	if ct := mime.TypeByExtension(filepath.Ext(p)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
