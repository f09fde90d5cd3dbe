package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atvirokodosprendimai/auditsync/internal/core/domain"
	"github.com/atvirokodosprendimai/auditsync/internal/core/ports"
	"github.com/atvirokodosprendimai/auditsync/internal/platform/metrics"
)

type outboxRepoStub struct {
	events []domain.OutboxEvent

	fetchLimits []int
	failed      []failedMark
	dead        []deadMark
	dispatched  []int64
}

type failedMark struct {
	id           int64
	attempts     int
	nextAttempt  time.Time
	errorMessage string
}

type deadMark struct {
	id           int64
	attempts     int
	errorMessage string
}

func (r *outboxRepoStub) FetchPending(_ context.Context, now time.Time, limit int) ([]domain.OutboxEvent, error) {
	r.fetchLimits = append(r.fetchLimits, limit)
	out := make([]domain.OutboxEvent, 0, limit)
	for _, e := range r.events {
		if e.Status != domain.OutboxPending {
			continue
		}
		if e.NextAttemptAt.After(now) {
			continue
		}
		out = append(out, e)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *outboxRepoStub) MarkDispatched(_ context.Context, id int64) error {
	r.dispatched = append(r.dispatched, id)
	for i := range r.events {
		if r.events[i].ID == id {
			r.events[i].Status = domain.OutboxDispatched
			now := time.Now().UTC()
			r.events[i].DispatchedAt = &now
			return nil
		}
	}
	return errors.New("unknown outbox id")
}

func (r *outboxRepoStub) MarkFailed(_ context.Context, id int64, attempts int, nextAttemptAt time.Time, errMsg string) error {
	r.failed = append(r.failed, failedMark{id: id, attempts: attempts, nextAttempt: nextAttemptAt, errorMessage: errMsg})
	for i := range r.events {
		if r.events[i].ID == id {
			r.events[i].Attempts = attempts
			r.events[i].NextAttemptAt = nextAttemptAt
			r.events[i].LastError = errMsg
			return nil
		}
	}
	return errors.New("unknown outbox id")
}

func (r *outboxRepoStub) MarkDead(_ context.Context, id int64, attempts int, errMsg string) error {
	r.dead = append(r.dead, deadMark{id: id, attempts: attempts, errorMessage: errMsg})
	for i := range r.events {
		if r.events[i].ID == id {
			r.events[i].Status = domain.OutboxDead
			r.events[i].Attempts = attempts
			r.events[i].LastError = errMsg
			return nil
		}
	}
	return errors.New("unknown outbox id")
}

type publisherStub struct {
	errByID   map[string]error
	published []domain.RunEvent
	topics    []string
}

func (p *publisherStub) Publish(_ context.Context, topic string, event domain.RunEvent) error {
	p.published = append(p.published, event)
	p.topics = append(p.topics, topic)
	if err, ok := p.errByID[event.EventID]; ok {
		return err
	}
	return nil
}

// pendingEvent builds an outbox row that is due one second before now.
func pendingEvent(t *testing.T, now time.Time, id int64, eventID string, status domain.RunStatus, attempts int) domain.OutboxEvent {
	t.Helper()
	ev := domain.NewRunEvent(eventID, domain.RunReport{ID: "run-" + eventID, Status: status})
	payload, err := json.Marshal(ev)
	require.NoError(t, err)
	return domain.OutboxEvent{
		ID:            id,
		EventID:       eventID,
		RunID:         ev.Run.ID,
		Status:        domain.OutboxPending,
		Attempts:      attempts,
		NextAttemptAt: now.Add(-time.Second),
		PayloadJSON:   payload,
		Topic:         ev.EventType,
	}
}

func newTestDispatcher(repo *outboxRepoStub, pub ports.EventPublisher, batchSize int, m *metrics.Metrics, now time.Time) *OutboxDispatcher {
	d := NewOutboxDispatcher(repo, pub, time.Second, batchSize, nil, m)
	d.now = func() time.Time { return now }
	return d
}

var dispatchClock = time.Date(2025, 4, 3, 8, 0, 0, 0, time.UTC)

func TestOutboxDispatcherDispatchBatchSuccess(t *testing.T) {
	repo := &outboxRepoStub{events: []domain.OutboxEvent{pendingEvent(t, dispatchClock, 1, "e1", domain.RunSucceeded, 0)}}
	pub := &publisherStub{}
	m := metrics.New(prometheus.NewRegistry())
	d := newTestDispatcher(repo, pub, 10, m, dispatchClock)

	_, err := d.dispatchBatch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int{10}, repo.fetchLimits)
	require.Len(t, pub.published, 1)
	assert.Equal(t, "run-e1", pub.published[0].Run.ID)
	assert.Equal(t, "sync.run.succeeded", pub.topics[0])
	assert.Equal(t, []int64{1}, repo.dispatched)
	assert.Empty(t, repo.failed)
	assert.Empty(t, repo.dead)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OutboxDispatches.WithLabelValues("dispatched")))
}

func TestOutboxDispatcherPublishFailureMarksFailedWithRetry(t *testing.T) {
	repo := &outboxRepoStub{events: []domain.OutboxEvent{pendingEvent(t, dispatchClock, 2, "e2", domain.RunFailed, 0)}}
	pub := &publisherStub{errByID: map[string]error{"e2": errors.New("publisher down")}}
	d := newTestDispatcher(repo, pub, 10, nil, dispatchClock)

	_, err := d.dispatchBatch(context.Background())
	require.NoError(t, err)

	require.Len(t, repo.failed, 1)
	assert.Equal(t, 1, repo.failed[0].attempts)
	assert.True(t, repo.failed[0].nextAttempt.Equal(dispatchClock.Add(time.Second)), "next attempt %s", repo.failed[0].nextAttempt)
	assert.Equal(t, "publisher down", repo.failed[0].errorMessage)
	assert.Empty(t, repo.dispatched)
	assert.Empty(t, repo.dead)
}

func TestOutboxDispatcherSkipsEventsNotYetDue(t *testing.T) {
	ev := pendingEvent(t, dispatchClock, 8, "e8", domain.RunSucceeded, 1)
	ev.NextAttemptAt = dispatchClock.Add(time.Minute)
	repo := &outboxRepoStub{events: []domain.OutboxEvent{ev}}
	pub := &publisherStub{}

	n, err := newTestDispatcher(repo, pub, 10, nil, dispatchClock).dispatchBatch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, pub.published)

	n, err = newTestDispatcher(repo, pub, 10, nil, dispatchClock.Add(time.Minute)).dispatchBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []int64{8}, repo.dispatched)
}

func TestOutboxDispatcherRetryBudgetMovesToDead(t *testing.T) {
	repo := &outboxRepoStub{events: []domain.OutboxEvent{pendingEvent(t, dispatchClock, 3, "e3", domain.RunNoData, 4)}}
	pub := &publisherStub{errByID: map[string]error{"e3": errors.New("still failing")}}
	d := newTestDispatcher(repo, pub, 10, nil, dispatchClock)

	_, err := d.dispatchBatch(context.Background())
	require.NoError(t, err)

	require.Len(t, repo.dead, 1)
	assert.Equal(t, 5, repo.dead[0].attempts)
	assert.Empty(t, repo.failed, "no failed marks when dead-lettered")
}

func TestOutboxDispatcherUndecodablePayloadIsRetriedNotPublished(t *testing.T) {
	ev := pendingEvent(t, dispatchClock, 6, "e6", domain.RunSucceeded, 0)
	ev.PayloadJSON = json.RawMessage(`{"run":`)
	repo := &outboxRepoStub{events: []domain.OutboxEvent{ev}}
	pub := &publisherStub{}
	d := newTestDispatcher(repo, pub, 10, nil, dispatchClock)

	_, err := d.dispatchBatch(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pub.published)
	assert.Len(t, repo.failed, 1)
}

func TestOutboxDispatcherDispatchPendingResumesRemaining(t *testing.T) {
	repo := &outboxRepoStub{events: []domain.OutboxEvent{
		pendingEvent(t, dispatchClock, 4, "e4", domain.RunSucceeded, 0),
		pendingEvent(t, dispatchClock, 5, "e5", domain.RunSucceeded, 0),
	}}

	pub := &publisherStub{errByID: map[string]error{"e4": errors.New("transient")}}
	require.NoError(t, newTestDispatcher(repo, pub, 1, nil, dispatchClock).DispatchPending(context.Background()))
	assert.Equal(t, []int64{5}, repo.dispatched, "only id=5 dispatched after first run")

	pub.errByID = map[string]error{}
	later := dispatchClock.Add(time.Minute)
	require.NoError(t, newTestDispatcher(repo, pub, 10, nil, later).DispatchPending(context.Background()))
	assert.Equal(t, []int64{5, 4}, repo.dispatched)
}

type notifyPublisher struct {
	published chan domain.RunEvent
}

func (p notifyPublisher) Publish(_ context.Context, _ string, event domain.RunEvent) error {
	p.published <- event
	return nil
}

func TestOutboxDispatcherStartAndClose(t *testing.T) {
	repo := &outboxRepoStub{events: []domain.OutboxEvent{pendingEvent(t, time.Now().UTC(), 7, "e7", domain.RunSucceeded, 0)}}
	pub := notifyPublisher{published: make(chan domain.RunEvent, 1)}
	d := NewOutboxDispatcher(repo, pub, 10*time.Millisecond, 10, nil, nil)

	d.Start(context.Background())
	d.Start(context.Background())

	select {
	case ev := <-pub.published:
		assert.Equal(t, "e7", ev.EventID)
	case <-time.After(2 * time.Second):
		t.Fatal("expected background dispatch")
	}
	require.NoError(t, d.Close())
	assert.Equal(t, []int64{7}, repo.dispatched)
}
