package journal

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-relay/internal/observe"
)

const (
	defaultBuffer        = 1024
	defaultBatchSize     = 64
	defaultFlushInterval = time.Second
	writeTimeout         = 5 * time.Second
)

// Logger is the logging surface the writer needs.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// WriterOptions tunes the asynchronous writer. Zero values take defaults.
type WriterOptions struct {
	// Buffer is how many events may wait for the writer goroutine before
	// Record starts dropping them.
	Buffer int

	// BatchSize is the number of events committed per transaction.
	BatchSize int

	// FlushInterval bounds how long a partial batch waits.
	FlushInterval time.Duration
}

// Writer is an observe.Recorder that appends events to a Repository from
// a background goroutine. Record never blocks: when the buffer is full the
// event is counted in Dropped and discarded.
type Writer struct {
	repo   Repository
	opts   WriterOptions
	events chan observe.Event
	done   chan struct{}

	mu     sync.RWMutex
	closed bool

	dropped atomic.Uint64
	logger  Logger
}

// NewWriter starts a writer over repo. Call Close to flush and stop it.
func NewWriter(repo Repository, opts WriterOptions, logger Logger) *Writer {
	if opts.Buffer <= 0 {
		opts.Buffer = defaultBuffer
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = defaultFlushInterval
	}
	if logger == nil {
		logger = noopLogger{}
	}

	w := &Writer{
		repo:   repo,
		opts:   opts,
		events: make(chan observe.Event, opts.Buffer),
		done:   make(chan struct{}),
		logger: logger,
	}
	go w.loop()
	return w
}

// Record implements observe.Recorder.
func (w *Writer) Record(_ context.Context, e observe.Event) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		w.dropped.Add(1)
		return
	}
	select {
	case w.events <- e:
	default:
		w.dropped.Add(1)
	}
}

// Dropped returns how many events never reached the repository, either
// because the buffer was full or because a batch failed to commit.
func (w *Writer) Dropped() uint64 {
	return w.dropped.Load()
}

// Close stops accepting events and waits until everything buffered has
// been written or ctx ends.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.events)
	}
	w.mu.Unlock()

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Writer) loop() {
	defer close(w.done)

	ticker := time.NewTicker(w.opts.FlushInterval)
	defer ticker.Stop()

	batch := make([]observe.Event, 0, w.opts.BatchSize)
	for {
		select {
		case e, ok := <-w.events:
			if !ok {
				w.flush(batch)
				return
			}
			batch = append(batch, e)
			if len(batch) >= w.opts.BatchSize {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(batch)
				batch = batch[:0]
			}
		}
	}
}

func (w *Writer) flush(batch []observe.Event) {
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := w.repo.Append(ctx, batch...); err != nil {
		w.dropped.Add(uint64(len(batch)))
		w.logger.Warn("journal write failed", "events", len(batch), "error", err)
	}
}
