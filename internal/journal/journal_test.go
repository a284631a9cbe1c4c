package journal

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-relay/internal/domain"
	"github.com/nerrad567/gray-logic-relay/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-relay/internal/observe"
	"github.com/nerrad567/gray-logic-relay/migrations"
)

func openRepo(t *testing.T) *SQLiteRepository {
	t.Helper()

	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{
		Path:        filepath.Join(t.TempDir(), "relay.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Migrate(ctx, migrations.FS)
	require.NoError(t, err)

	return NewSQLiteRepository(db.DB)
}

func at(e observe.Event, ts time.Time) observe.Event {
	e.At = ts
	return e
}

// =============================================================================
// Repository
// =============================================================================

func TestRepository_AppendAndListRoundTrip(t *testing.T) {
	repo := openRepo(t)
	ctx := context.Background()

	base := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	msg := domain.ChatMessage{ChatID: "12345", Text: "not stored", Topic: "freezer/status", Seq: 9}
	dropped := at(observe.Dropped(observe.ReasonRetriesExhausted, msg, 5, errors.New("429 too many requests")), base.Add(1500*time.Millisecond))
	backoff := at(observe.BackingOff(observe.ConnectionBus, 2, 3*time.Second, errors.New("refused")), base)

	require.NoError(t, repo.Append(ctx, backoff, dropped))

	res, err := repo.List(ctx, Filter{})
	require.NoError(t, err)
	require.Equal(t, 2, res.Total)
	require.Len(t, res.Events, 2)

	assert.Equal(t, dropped, res.Events[0], "newest first")
	assert.Equal(t, backoff, res.Events[1])
}

func TestRepository_ListFilters(t *testing.T) {
	repo := openRepo(t)
	ctx := context.Background()

	base := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	events := []observe.Event{
		at(observe.Connected(observe.ConnectionBus), base),
		at(observe.Translated(domain.ChatMessage{ChatID: "1", Topic: "a", Seq: 1}), base.Add(time.Second)),
		at(observe.Delivered(domain.ChatMessage{ChatID: "1", Topic: "a", Seq: 1}, 1), base.Add(2*time.Second)),
		at(observe.Dropped(observe.ReasonQueueOverflow, domain.ChatMessage{ChatID: "2", Topic: "b", Seq: 4}, 0, nil), base.Add(3*time.Second)),
		at(observe.DroppedBusMessage(observe.ReasonNoRoute, "c", "", nil), base.Add(4*time.Second)),
	}
	require.NoError(t, repo.Append(ctx, events...))

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"all", Filter{}, 5},
		{"by kind", Filter{Kind: "message_dropped"}, 2},
		{"by reason", Filter{Reason: "no_route"}, 1},
		{"by chat", Filter{ChatID: "1"}, 2},
		{"by connection", Filter{Connection: "bus"}, 1},
		{"combined", Filter{Kind: "message_dropped", ChatID: "2"}, 1},
		{"no match", Filter{Kind: "backoff"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := repo.List(ctx, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Total)
			assert.Len(t, res.Events, tt.want)
			assert.NotNil(t, res.Events)
		})
	}
}

func TestRepository_ListPaging(t *testing.T) {
	repo := openRepo(t)
	ctx := context.Background()

	base := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	var events []observe.Event
	for i := 0; i < 7; i++ {
		events = append(events, at(observe.Connected(observe.ConnectionChat), base.Add(time.Duration(i)*time.Millisecond)))
	}
	require.NoError(t, repo.Append(ctx, events...))

	res, err := repo.List(ctx, Filter{Limit: 3, Offset: 3})
	require.NoError(t, err)
	assert.Equal(t, 7, res.Total)
	assert.Equal(t, 3, res.Limit)
	assert.Equal(t, 3, res.Offset)
	require.Len(t, res.Events, 3)
	assert.Equal(t, events[3].ID, res.Events[0].ID)
	assert.Equal(t, events[1].ID, res.Events[2].ID)

	res, err = repo.List(ctx, Filter{Limit: 10000, Offset: -5})
	require.NoError(t, err)
	assert.Equal(t, maxPageSize, res.Limit)
	assert.Equal(t, 0, res.Offset)
}

func TestRepository_DuplicateIDRollsBackBatch(t *testing.T) {
	repo := openRepo(t)
	ctx := context.Background()

	e := observe.Connected(observe.ConnectionBus)
	err := repo.Append(ctx, observe.Connected(observe.ConnectionChat), e, e)
	require.Error(t, err)

	res, err := repo.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Total)
}

// =============================================================================
// Writer
// =============================================================================

func TestWriter_FlushesOnClose(t *testing.T) {
	repo := openRepo(t)
	w := NewWriter(repo, WriterOptions{BatchSize: 100, FlushInterval: time.Hour}, nil)

	for i := 0; i < 10; i++ {
		w.Record(context.Background(), observe.Connected(observe.ConnectionBus))
	}
	require.NoError(t, w.Close(context.Background()))

	res, err := repo.List(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Equal(t, 10, res.Total)
	assert.Zero(t, w.Dropped())
}

func TestWriter_FlushesOnInterval(t *testing.T) {
	repo := openRepo(t)
	w := NewWriter(repo, WriterOptions{BatchSize: 100, FlushInterval: 20 * time.Millisecond}, nil)
	defer w.Close(context.Background())

	w.Record(context.Background(), observe.Connected(observe.ConnectionBus))

	assert.Eventually(t, func() bool {
		res, err := repo.List(context.Background(), Filter{})
		return err == nil && res.Total == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWriter_RecordAfterCloseIsDropped(t *testing.T) {
	repo := openRepo(t)
	w := NewWriter(repo, WriterOptions{}, nil)
	require.NoError(t, w.Close(context.Background()))
	require.NoError(t, w.Close(context.Background()))

	w.Record(context.Background(), observe.Connected(observe.ConnectionBus))
	assert.Equal(t, uint64(1), w.Dropped())
}

// blockingRepo holds every Append until release is closed.
type blockingRepo struct {
	release chan struct{}
	mu      sync.Mutex
	got     int
}

func (r *blockingRepo) Append(_ context.Context, events ...observe.Event) error {
	<-r.release
	r.mu.Lock()
	r.got += len(events)
	r.mu.Unlock()
	return nil
}

func (r *blockingRepo) List(context.Context, Filter) (*ListResult, error) {
	return &ListResult{}, nil
}

func TestWriter_DropsWhenBufferFull(t *testing.T) {
	repo := &blockingRepo{release: make(chan struct{})}
	w := NewWriter(repo, WriterOptions{Buffer: 2, BatchSize: 1, FlushInterval: time.Hour}, nil)

	// The first event is taken by the writer goroutine and blocks in Append.
	w.Record(context.Background(), observe.Connected(observe.ConnectionBus))
	require.Eventually(t, func() bool { return len(w.events) == 0 }, time.Second, time.Millisecond)

	for i := 0; i < 5; i++ {
		w.Record(context.Background(), observe.Connected(observe.ConnectionBus))
	}
	assert.Equal(t, uint64(3), w.Dropped())

	close(repo.release)
	require.NoError(t, w.Close(context.Background()))

	repo.mu.Lock()
	defer repo.mu.Unlock()
	assert.Equal(t, 3, repo.got)
}

type failingRepo struct{}

func (failingRepo) Append(context.Context, ...observe.Event) error {
	return errors.New("disk full")
}

func (failingRepo) List(context.Context, Filter) (*ListResult, error) {
	return nil, errors.New("disk full")
}

type recordingLogger struct {
	mu    sync.Mutex
	warns []string
}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

func TestWriter_FailedBatchCountedAndLogged(t *testing.T) {
	logger := &recordingLogger{}
	w := NewWriter(failingRepo{}, WriterOptions{BatchSize: 2}, logger)

	w.Record(context.Background(), observe.Connected(observe.ConnectionBus))
	w.Record(context.Background(), observe.Connected(observe.ConnectionChat))
	require.NoError(t, w.Close(context.Background()))

	assert.Equal(t, uint64(2), w.Dropped())
	assert.Equal(t, []string{"journal write failed"}, logger.warns)
}

func TestWriter_CloseHonoursContext(t *testing.T) {
	repo := &blockingRepo{release: make(chan struct{})}
	defer close(repo.release)

	w := NewWriter(repo, WriterOptions{BatchSize: 1}, nil)
	w.Record(context.Background(), observe.Connected(observe.ConnectionBus))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, w.Close(ctx), context.DeadlineExceeded)
}
