// Package download executes and deduplicates media file downloads.
//
// Concurrent requests for the same URL share one transfer; a request for a
// file that already exists on disk completes without network access. Every
// completed transfer is verified (non-empty, byte count against the size
// hint when the server provides one) before the file is moved into place.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrCancelled is returned to waiters when a transfer is aborted by CancelAll.
var ErrCancelled = errors.New("download cancelled")

const partSuffix = ".part"

// Coordinator deduplicates and executes file downloads.
type Coordinator struct {
	mu       sync.Mutex
	client   *http.Client
	log      zerolog.Logger
	inflight map[string]*transfer // keyed by URL

	metrics *coordinatorMetrics
}

// transfer is one in-flight download shared by all waiters for its URL.
type transfer struct {
	id     string
	url    string
	dest   string
	cancel context.CancelFunc
	done   chan struct{}

	// set before done is closed
	result string
	err    error
}

// New creates a download coordinator. The timeout bounds each individual
// transfer, not the queueing of waiters.
func New(log zerolog.Logger, timeout time.Duration) *Coordinator {
	return &Coordinator{
		client:   &http.Client{Timeout: timeout},
		log:      log.With().Str("component", "download").Logger(),
		inflight: make(map[string]*transfer),
		metrics:  newCoordinatorMetrics(),
	}
}

// Fetch downloads url to destPath and returns the local path. A second
// caller for an in-flight URL attaches to the running transfer instead of
// starting another one. If destPath already holds a non-empty file, Fetch
// returns immediately.
func (c *Coordinator) Fetch(ctx context.Context, url, destPath string) (string, error) {
	c.mu.Lock()

	if fileReady(destPath) {
		c.mu.Unlock()
		return destPath, nil
	}

	t, ok := c.inflight[url]
	if !ok {
		// Transfers get their own context so an individual waiter's
		// cancellation does not abort a download other waiters share.
		tctx, cancel := context.WithCancel(context.Background())
		t = &transfer{
			id:     uuid.NewString(),
			url:    url,
			dest:   destPath,
			cancel: cancel,
			done:   make(chan struct{}),
		}
		c.inflight[url] = t
		go c.run(tctx, t)
	}
	c.mu.Unlock()

	select {
	case <-t.done:
		return t.result, t.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// InflightCount returns the number of transfers currently running.
func (c *Coordinator) InflightCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inflight)
}

// CancelAll aborts every in-flight transfer and deletes partial files.
// Waiters receive ErrCancelled. Used when the cache is cleared.
func (c *Coordinator) CancelAll() {
	c.mu.Lock()
	transfers := make([]*transfer, 0, len(c.inflight))
	for _, t := range c.inflight {
		transfers = append(transfers, t)
	}
	c.mu.Unlock()

	for _, t := range transfers {
		t.cancel()
	}
	for _, t := range transfers {
		<-t.done
	}
}

// run executes one transfer and publishes its result.
func (c *Coordinator) run(ctx context.Context, t *transfer) {
	start := time.Now()
	c.metrics.started(ctx)

	result, err := c.download(ctx, t)

	c.mu.Lock()
	delete(c.inflight, t.url)
	c.mu.Unlock()

	t.result = result
	t.err = err
	close(t.done)

	if err != nil {
		c.metrics.failed(ctx)
		c.log.Error().Str("transfer", t.id).Str("url", t.url).Err(err).
			Dur("duration", time.Since(start)).Msg("Download failed")
		return
	}
	c.metrics.completed(ctx)
	c.log.Debug().Str("transfer", t.id).Str("url", t.url).Str("path", result).
		Dur("duration", time.Since(start)).Msg("Download complete")
}

func (c *Coordinator) download(ctx context.Context, t *transfer) (string, error) {
	if err := os.MkdirAll(filepath.Dir(t.dest), 0755); err != nil {
		return "", fmt.Errorf("failed to create destination dir: %w", err)
	}

	partPath := t.dest + partSuffix

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		os.Remove(partPath)
		if ctx.Err() != nil {
			return "", ErrCancelled
		}
		return "", fmt.Errorf("download request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download returned status %d", resp.StatusCode)
	}

	part, err := os.Create(partPath)
	if err != nil {
		return "", fmt.Errorf("failed to create partial file: %w", err)
	}

	written, copyErr := io.Copy(part, resp.Body)
	closeErr := part.Close()

	if copyErr != nil || closeErr != nil {
		os.Remove(partPath)
		if ctx.Err() != nil {
			return "", ErrCancelled
		}
		if copyErr != nil {
			return "", fmt.Errorf("download interrupted: %w", copyErr)
		}
		return "", fmt.Errorf("failed to finalize partial file: %w", closeErr)
	}

	if err := verify(written, resp.ContentLength); err != nil {
		os.Remove(partPath)
		return "", err
	}

	if err := os.Rename(partPath, t.dest); err != nil {
		os.Remove(partPath)
		return "", fmt.Errorf("failed to move file into place: %w", err)
	}

	c.metrics.bytes(ctx, written)
	return t.dest, nil
}

// verify checks a completed transfer: the file must be non-empty and, when
// the server supplied a size hint, the byte count must match it.
func verify(written, contentLength int64) error {
	if written == 0 {
		return errors.New("downloaded file is empty")
	}
	if contentLength > 0 && written != contentLength {
		return fmt.Errorf("incomplete download: got %d bytes, expected %d", written, contentLength)
	}
	return nil
}

// fileReady reports whether dest already holds a non-empty file.
func fileReady(dest string) bool {
	info, err := os.Stat(dest)
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}
