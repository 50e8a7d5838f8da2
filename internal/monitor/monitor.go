// Package monitor periodically snapshots the pipeline's runtime state,
// writes it to a status file and forwards it to InfluxDB when configured.
package monitor

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/arscape/artifact-engine/internal/artifactcache"
	"github.com/arscape/artifact-engine/internal/download"
	"github.com/arscape/artifact-engine/internal/influx"
	"github.com/arscape/artifact-engine/internal/logging"
	"github.com/arscape/artifact-engine/internal/modelpool"
)

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	Cache      *artifactcache.Cache
	Pool       *modelpool.Pool
	Downloads  *download.Coordinator
	Influx     *influx.Manager // optional
	LogManager *logging.SlogManager
	StatusDir  string
	Interval   time.Duration // default 1s
}

// Snapshot is one observation of the pipeline.
type Snapshot struct {
	Time               time.Time      `json:"time"`
	PendingResolutions int            `json:"pendingResolutions"`
	InflightTransfers  int            `json:"inflightTransfers"`
	HistoryEntries     int            `json:"historyEntries"`
	Pool               modelpool.Stats `json:"pool"`
}

// Service manages status monitoring
type Service struct {
	deps      Dependencies
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Interval <= 0 {
		deps.Interval = time.Second
	}
	return &Service{
		deps:     deps,
		stopChan: make(chan struct{}),
	}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Status returns the current pipeline snapshot.
func (s *Service) Status() Snapshot {
	return Snapshot{
		Time:               time.Now(),
		PendingResolutions: s.deps.Cache.PendingCount(),
		InflightTransfers:  s.deps.Downloads.InflightCount(),
		HistoryEntries:     len(s.deps.Cache.History()),
		Pool:               s.deps.Pool.Stats(),
	}
}

// Start starts the status monitor goroutine
func (s *Service) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
		}()

		logger := slog.Default()
		if s.deps.LogManager != nil {
			logger = s.deps.LogManager.Logger()
		}
		logger.Debug("Starting status monitor goroutine", "operation", "startStatusMonitor")

		statusFile, err := os.Create(filepath.Join(s.deps.StatusDir, "status.json"))
		if err != nil {
			logger.Error("Error creating status file", "error", err)
		}
		defer statusFile.Close()

		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.stopChan:
				return
			case <-ticker.C:
				snap := s.Status()

				if statusFile != nil {
					data, err := json.MarshalIndent(snap, "", "  ")
					if err == nil {
						statusFile.Truncate(0)
						statusFile.Seek(0, 0)
						statusFile.Write(append(data, '\n'))
					}
				}

				if s.deps.Influx != nil {
					ctx := context.Background()
					if err := s.deps.Influx.WritePoolSnapshot(ctx,
						snap.Pool.Size, snap.Pool.Capacity, snap.Pool.Pending, snap.Pool.Failures); err != nil {
						logger.Error("Error writing pool snapshot", "error", err)
					}
					if err := s.deps.Influx.WriteTransferSnapshot(ctx, snap.InflightTransfers); err != nil {
						logger.Error("Error writing transfer snapshot", "error", err)
					}
				}
			}
		}
	}()

	return nil
}

// Stop stops the status monitor
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		close(s.stopChan)
	}
}
