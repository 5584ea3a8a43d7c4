package service

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dotabank/dotabank/internal/alert"
	"github.com/dotabank/dotabank/internal/domain"
	"github.com/dotabank/dotabank/internal/metrics"
	"github.com/dotabank/dotabank/internal/queue"
	"github.com/dotabank/dotabank/internal/repository"
	"github.com/dotabank/dotabank/internal/repository/repotest"
	"github.com/dotabank/dotabank/internal/storage"
	"github.com/stretchr/testify/require"
)

var errQueueDown = errors.New("queue down")

// fakeQueue records pushes and acks. failures < 0 fails every push; > 0 fails that many.
type fakeQueue struct {
	mu       sync.Mutex
	name     string
	msgs     []queue.Message
	leased   map[int64]queue.Message
	acked    []int64
	failures int
}

func (q *fakeQueue) Name() string { return q.name }

func (q *fakeQueue) Push(_ context.Context, msg queue.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failures != 0 {
		if q.failures > 0 {
			q.failures--
		}
		return errQueueDown
	}
	q.msgs = append(q.msgs, msg)
	return nil
}

func (q *fakeQueue) Pop(_ context.Context, _ time.Duration) (queue.Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.msgs) == 0 {
		return queue.Message{}, queue.ErrEmpty
	}
	msg := q.msgs[0]
	q.msgs = q.msgs[1:]
	if q.leased == nil {
		q.leased = make(map[int64]queue.Message)
	}
	q.leased[msg.ReplayID] = msg
	return msg, nil
}

func (q *fakeQueue) Ack(_ context.Context, replayID int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.leased, replayID)
	q.acked = append(q.acked, replayID)
	return nil
}

// Reclaim treats every lease as expired.
func (q *fakeQueue) Reclaim(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.leased)
	for id, msg := range q.leased {
		q.msgs = append([]queue.Message{msg}, q.msgs...)
		delete(q.leased, id)
	}
	return n, nil
}

func (q *fakeQueue) Leased(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.leased)), nil
}

func (q *fakeQueue) ackedIDs() []int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]int64(nil), q.acked...)
}

func (q *fakeQueue) Len(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.msgs)), nil
}

func (q *fakeQueue) failWith(n int) {
	q.mu.Lock()
	q.failures = n
	q.mu.Unlock()
}

func (q *fakeQueue) ids() []int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]int64, len(q.msgs))
	for i, m := range q.msgs {
		out[i] = m.ReplayID
	}
	return out
}

type recordingAlerter struct {
	mu     sync.Mutex
	alerts []alert.Alert
}

func (r *recordingAlerter) Alert(_ context.Context, a alert.Alert) {
	r.mu.Lock()
	r.alerts = append(r.alerts, a)
	r.mu.Unlock()
}

func (r *recordingAlerter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alerts)
}

type testEnv struct {
	ctx        context.Context
	store      *repository.Store
	meta, dl   *fakeQueue
	archive    *storage.MemoryStorage
	metrics    *metrics.Metrics
	alerts     *recordingAlerter
	dispatcher *Dispatcher
	machine    *StateMachine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		ctx:     context.Background(),
		store:   repotest.NewStore(t),
		meta:    &fakeQueue{name: "dotabank:gc"},
		dl:      &fakeQueue{name: "dotabank:dl"},
		archive: storage.NewMemoryStorage(),
		metrics: metrics.New(),
		alerts:  &recordingAlerter{},
	}
	env.dispatcher = NewDispatcher(env.store, queue.Set{Metadata: env.meta, Download: env.dl}, env.metrics, DispatcherConfig{
		WriteTimeout:   time.Second,
		MaxRetries:     2,
		InitialBackoff: time.Millisecond,
	})
	env.machine = NewStateMachine(env.store, env.dispatcher, env.archive, nil, env.metrics)
	return env
}

// seed inserts a replay directly, bypassing the dispatcher.
func (e *testEnv) seed(t *testing.T, r *domain.Replay) *domain.Replay {
	t.Helper()
	if r.ReplayState == "" {
		r.ReplayState = domain.FileUnknown
	}
	if r.AddedToSiteTime.IsZero() {
		r.AddedToSiteTime = time.Now().UTC()
	}
	if r.StateChangedAt.IsZero() {
		r.StateChangedAt = r.AddedToSiteTime
	}
	if r.State == domain.StatusArchived && r.LocalURI == nil {
		key := domain.ReplayKey(r.ID)
		r.LocalURI = &key
	}
	require.NoError(t, e.store.Replays.Create(e.ctx, r))
	return r
}

func (e *testEnv) get(t *testing.T, id int64) *domain.Replay {
	t.Helper()
	r, err := e.store.Replays.Get(e.ctx, id)
	require.NoError(t, err)
	return r
}

func (e *testEnv) worker(t *testing.T, username string) *domain.Worker {
	t.Helper()
	w := &domain.Worker{Username: username, Secret: []byte("sealed")}
	require.NoError(t, e.store.Workers.Create(e.ctx, w))
	return w
}

func (e *testEnv) upload(t *testing.T, key string, size int) {
	t.Helper()
	require.NoError(t, e.archive.Upload(e.ctx, key, bytes.NewReader(make([]byte, size)), int64(size), "application/x-bzip2"))
}

func accountID(v int64) *int64 { return &v }

func strPtr(s string) *string { return &s }

func roster(humans, bots int) []domain.ReplayPlayer {
	var out []domain.ReplayPlayer
	for i := 0; i < humans; i++ {
		out = append(out, domain.ReplayPlayer{AccountID: accountID(int64(1000 + i)), PlayerSlot: i, HeroID: i + 1})
	}
	for i := 0; i < bots; i++ {
		out = append(out, domain.ReplayPlayer{PlayerSlot: 128 + i, HeroID: 50 + i})
	}
	return out
}
