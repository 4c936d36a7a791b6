// Package gcs archives finished crawl output to Google Cloud Storage.
package gcs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
	Prefix string
}

// Archiver uploads run artifacts to a configured GCS bucket.
type Archiver struct {
	client *storage.Client
	bucket string
	prefix string
}

// New creates a GCS-backed archiver.
func New(client *storage.Client, cfg Config) (*Archiver, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &Archiver{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// ObjectName returns where the file named base is stored for runID.
func (a *Archiver) ObjectName(runID, base string) string {
	return path.Join(a.prefix, runID, base)
}

// ArchiveFile uploads the file at localPath under {prefix}/{runID}/ and
// returns its gs:// URI.
func (a *Archiver) ArchiveFile(ctx context.Context, runID, localPath string) (string, error) {
	if strings.TrimSpace(runID) == "" {
		return "", fmt.Errorf("run id is required")
	}
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open archive source: %w", err)
	}
	defer f.Close()

	return a.PutObject(ctx, a.ObjectName(runID, filepath.Base(localPath)), "text/plain; charset=utf-8", f)
}

// PutObject uploads data to the configured bucket and returns a gs:// URI.
func (a *Archiver) PutObject(ctx context.Context, name string, contentType string, r io.Reader) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("object name is required")
	}
	writer := a.client.Bucket(a.bucket).Object(name).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if _, err := io.Copy(writer, r); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", a.bucket, name), nil
}
