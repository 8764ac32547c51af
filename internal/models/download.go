package models

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/clipscribe/clipscribe/internal/domain"
)

// Downloader fetches model weight files over HTTP into a local cache
// directory, reporting cumulative per-file progress.
type Downloader struct {
	client *http.Client
}

// NewDownloader creates a downloader using the default HTTP client.
func NewDownloader() *Downloader {
	return &Downloader{client: http.DefaultClient}
}

// NewDownloaderWithClient creates a downloader with a custom HTTP client.
func NewDownloaderWithClient(client *http.Client) *Downloader {
	return &Downloader{client: client}
}

// EnsureFiles downloads every listed file into dir, skipping files that
// already exist with non-zero size. Each file is written to a temp path
// and renamed on completion, so a failed download never leaves a partial
// file behind.
func (d *Downloader) EnsureFiles(ctx context.Context, dir string, files []File, emit domain.ProgressFunc) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating models dir: %w", err)
	}

	for _, f := range files {
		dest := filepath.Join(dir, f.Name)
		if info, err := os.Stat(dest); err == nil && info.Size() > 0 {
			continue
		}
		if err := d.fetch(ctx, f, dest, emit); err != nil {
			return err
		}
	}
	return nil
}

// fetch downloads one file with progress reporting.
func (d *Downloader) fetch(ctx context.Context, f File, dest string, emit domain.ProgressFunc) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return fmt.Errorf("building request for %s: %w", f.Name, err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("downloading %s: %w", f.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("downloading %s: HTTP %d", f.Name, resp.StatusCode)
	}

	tmpPath := dest + ".tmp"
	out, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	pw := &progressWriter{
		writer: out,
		total:  resp.ContentLength,
		file:   f.Name,
		emit:   emit,
	}

	_, err = io.Copy(pw, resp.Body)
	out.Close()
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("writing %s: %w", f.Name, err)
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("moving %s into place: %w", f.Name, err)
	}
	return nil
}

// progressWriter wraps an io.Writer and emits cumulative download progress.
type progressWriter struct {
	writer  io.Writer
	total   int64
	written int64
	file    string
	emit    domain.ProgressFunc
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n, err := pw.writer.Write(p)
	pw.written += int64(n)
	pw.emit.Emit(domain.Progress{
		Stage:  domain.StageDownload,
		File:   pw.file,
		Loaded: pw.written,
		Total:  pw.total,
	})
	return n, err
}
