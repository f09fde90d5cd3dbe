package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/auditsync/internal/core/domain"
	"github.com/atvirokodosprendimai/auditsync/internal/core/ports"
	"github.com/atvirokodosprendimai/auditsync/internal/platform/metrics"
)

const defaultOutboxMaxRetry = 5

// OutboxDispatcher delivers run events stored by the run ledger to a
// publisher, retrying with backoff until an event is dispatched or dead.
type OutboxDispatcher struct {
	repo      ports.OutboxRepository
	publisher ports.EventPublisher
	interval  time.Duration
	batchSize int
	maxRetry  int
	logger    *zap.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewOutboxDispatcher(repo ports.OutboxRepository, publisher ports.EventPublisher, interval time.Duration, batchSize int, logger *zap.Logger, m *metrics.Metrics) *OutboxDispatcher {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OutboxDispatcher{
		repo:      repo,
		publisher: publisher,
		interval:  interval,
		batchSize: batchSize,
		maxRetry:  defaultOutboxMaxRetry,
		logger:    logger,
		metrics:   m,
		now:       time.Now,
	}
}

func (d *OutboxDispatcher) Start(parent context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	d.cancel = cancel
	d.wg.Add(1)
	go d.loop(ctx)
}

func (d *OutboxDispatcher) Close() error {
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	d.wg.Wait()
	return nil
}

// DispatchPending delivers every event that is due now. Events that fail stay
// pending for a later attempt.
func (d *OutboxDispatcher) DispatchPending(ctx context.Context) error {
	for {
		n, err := d.dispatchBatch(ctx)
		if err != nil {
			return err
		}
		if n < d.batchSize {
			return nil
		}
	}
}

func (d *OutboxDispatcher) loop(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		if _, err := d.dispatchBatch(ctx); err != nil && ctx.Err() == nil {
			d.logger.Error("outbox dispatch batch", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *OutboxDispatcher) dispatchBatch(ctx context.Context) (int, error) {
	events, err := d.repo.FetchPending(ctx, d.now().UTC(), d.batchSize)
	if err != nil {
		return 0, err
	}

	for _, event := range events {
		var runEvent domain.RunEvent
		if err := json.Unmarshal(event.PayloadJSON, &runEvent); err != nil {
			if markErr := d.markFailure(ctx, event, fmt.Sprintf("decode payload: %v", err)); markErr != nil {
				return 0, markErr
			}
			continue
		}

		if err := d.publisher.Publish(ctx, event.Topic, runEvent); err != nil {
			d.logger.Warn("publish run event",
				zap.String("event_id", event.EventID),
				zap.String("topic", event.Topic),
				zap.Int("attempt", event.Attempts+1),
				zap.Error(err),
			)
			if markErr := d.markFailure(ctx, event, err.Error()); markErr != nil {
				return 0, markErr
			}
			continue
		}

		if err := d.repo.MarkDispatched(ctx, event.ID); err != nil {
			return 0, err
		}
		d.metrics.OutboxDispatch("dispatched")
	}

	return len(events), nil
}

func (d *OutboxDispatcher) markFailure(ctx context.Context, event domain.OutboxEvent, errMsg string) error {
	attempts := event.Attempts + 1
	if attempts >= d.maxRetry {
		if err := d.repo.MarkDead(ctx, event.ID, attempts, errMsg); err != nil {
			return err
		}
		d.metrics.OutboxDispatch("dead")
		d.logger.Error("run event dead-lettered", zap.String("event_id", event.EventID), zap.Int("attempts", attempts))
		return nil
	}
	d.metrics.OutboxDispatch("failed")
	next := d.now().UTC().Add(backoffDuration(attempts))
	return d.repo.MarkFailed(ctx, event.ID, attempts, next, errMsg)
}

func backoffDuration(attempt int) time.Duration {
	if attempt <= 1 {
		return 1 * time.Second
	}
	d := time.Duration(attempt*attempt) * time.Second
	if d > 5*time.Minute {
		return 5 * time.Minute
	}
	return d
}
