package scanner

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// Submitter is the remote half of the sync engine. *Client satisfies it;
// tests substitute fakes.
type Submitter interface {
	SubmitScan(ctx context.Context, scan QueuedScan) (SubmitResult, error)
	Healthy(ctx context.Context) bool
}

// Syncer drains the offline queue against the audit API. It is safe to
// trigger from several places at once (connectivity watcher, cron schedule,
// manual endpoint): a drain already in progress makes further triggers no-ops
// rather than racing the same queue.
type Syncer struct {
	queue   *Queue
	remote  Submitter
	logger  *log.Logger
	metrics *agentMetrics

	draining sync.Mutex

	onlineMu sync.Mutex
	online   bool
}

// NewSyncer wires the queue to the remote submitter.
func NewSyncer(queue *Queue, remote Submitter, logger *log.Logger, metrics *agentMetrics) (*Syncer, error) {
	if queue == nil {
		return nil, errors.New("queue is required")
	}
	if remote == nil {
		return nil, errors.New("remote submitter is required")
	}
	if metrics == nil {
		metrics = newAgentMetrics()
	}

	return &Syncer{queue: queue, remote: remote, logger: logger, metrics: metrics}, nil
}

// Online reports the last connectivity probe result.
func (s *Syncer) Online() bool {
	s.onlineMu.Lock()
	defer s.onlineMu.Unlock()
	return s.online
}

func (s *Syncer) setOnline(online bool) bool {
	s.onlineMu.Lock()
	defer s.onlineMu.Unlock()
	changed := s.online != online
	s.online = online
	return changed
}

// Sync runs one drain pass. The second return is false when another drain was
// already in progress and this call did nothing.
func (s *Syncer) Sync(ctx context.Context) (DrainResult, bool, error) {
	if !s.draining.TryLock() {
		return DrainResult{}, false, nil
	}
	defer s.draining.Unlock()

	result, err := s.queue.Drain(ctx, func(ctx context.Context, scan QueuedScan) error {
		_, submitErr := s.remote.SubmitScan(ctx, scan)
		return submitErr
	})

	s.metrics.drains.Inc()
	s.metrics.scansSynced.Add(float64(result.Succeeded))
	s.observeDepth(ctx)

	if s.logger != nil && result.Attempted > 0 {
		s.logger.Printf("INFO drained offline queue: attempted=%d succeeded=%d failed=%d",
			result.Attempted, result.Succeeded, result.Failed)
	}

	return result, true, err
}

// Watch probes connectivity until ctx is cancelled and triggers a drain on
// every offline-to-online transition. It also reconciles the online flag the
// session consults when deciding between direct submit and enqueue.
func (s *Syncer) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		healthy := s.remote.Healthy(ctx)
		if changed := s.setOnline(healthy); changed && healthy {
			if s.logger != nil {
				s.logger.Printf("INFO connectivity restored, draining offline queue")
			}
			if _, _, err := s.Sync(ctx); err != nil && s.logger != nil {
				s.logger.Printf("ERROR drain after reconnect: %v", err)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Syncer) observeDepth(ctx context.Context) {
	count, err := s.queue.PendingCount(ctx)
	if err != nil {
		return
	}
	s.metrics.queueDepth.Set(float64(count))
}
