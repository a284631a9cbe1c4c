package relay

import (
	"context"
	"errors"
	"sync"

	"github.com/mymmrac/telego"

	"github.com/nerrad567/gray-logic-relay/internal/domain"
	"github.com/nerrad567/gray-logic-relay/internal/observe"
	"github.com/nerrad567/gray-logic-relay/internal/queue"
	"github.com/nerrad567/gray-logic-relay/internal/telegram"
)

// ChatSender is the chat side as used by the relay. *telegram.Sender
// satisfies it.
type ChatSender interface {
	Connect(ctx context.Context) (*telego.User, error)
	Send(ctx context.Context, msg domain.ChatMessage) (int, error)
}

// runChat is the chat connection's supervisor.Runner. It verifies the bot
// session, then runs one delivery worker per destination.
//
// It returns nil once every queue is closed and drained, or the first
// session-loss error. On session loss the other workers finish their
// current message and stop so the Manager can reconnect.
func (r *Relay) runChat(ctx context.Context, ready func()) error {
	user, err := r.sender.Connect(ctx)
	if err != nil {
		return err
	}
	ready()

	bot := ""
	if user != nil {
		bot = user.Username
	}
	r.logger.Info("chat session verified", "bot", bot, "destinations", len(r.queues.Destinations()))

	// Cancelling dequeueCtx stops workers between messages; sends in flight
	// keep ctx.
	dequeueCtx, stop := context.WithCancel(ctx)
	defer stop()

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	for _, chatID := range r.queues.Destinations() {
		q := r.queues.Queue(chatID)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.deliver(ctx, dequeueCtx, q); err != nil {
				once.Do(func() {
					firstErr = err
					stop()
				})
			}
		}()
	}
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}

// deliver sends messages from q in sequence order until q is closed and
// drained, dequeueCtx ends, or the chat session is lost.
func (r *Relay) deliver(ctx, dequeueCtx context.Context, q *queue.Queue) error {
	for {
		msg, err := q.Dequeue(dequeueCtx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) {
				return nil
			}
			return ctx.Err()
		}

		attempts, err := r.sender.Send(ctx, msg)
		r.recorder.Record(ctx, deliveryEvent(ctx, msg, attempts, err))

		if telegram.IsSessionLost(err) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// deliveryEvent maps the outcome of Send to an event.
func deliveryEvent(ctx context.Context, msg domain.ChatMessage, attempts int, err error) observe.Event {
	var se *telegram.SendError
	switch {
	case err == nil:
		return observe.Delivered(msg, attempts)
	case errors.Is(err, telegram.ErrRetriesExhausted):
		return observe.Dropped(observe.ReasonRetriesExhausted, msg, attempts, err)
	case errors.As(err, &se) && se.Kind == telegram.Permanent:
		return observe.Dropped(observe.ReasonPermanentFailure, msg, attempts, err)
	case ctx.Err() != nil:
		return observe.Dropped(observe.ReasonCancelled, msg, attempts, err)
	default:
		return observe.Dropped(observe.ReasonRetriesExhausted, msg, attempts, err)
	}
}
