package relay

import (
	"context"
	"errors"

	"github.com/nerrad567/gray-logic-relay/internal/domain"
	"github.com/nerrad567/gray-logic-relay/internal/observe"
	"github.com/nerrad567/gray-logic-relay/internal/queue"
	"github.com/nerrad567/gray-logic-relay/internal/route"
	"github.com/nerrad567/gray-logic-relay/internal/translate"
)

// Pipeline turns bus messages into queued chat messages:
// route match, translate, enqueue. Every outcome is recorded.
type Pipeline struct {
	routes     *route.Table
	translator *translate.Translator
	queues     *queue.Set
	recorder   observe.Recorder
}

// NewPipeline wires the bus-side stages.
func NewPipeline(routes *route.Table, translator *translate.Translator, queues *queue.Set, recorder observe.Recorder) *Pipeline {
	if recorder == nil {
		recorder = observe.Discard
	}
	return &Pipeline{
		routes:     routes,
		translator: translator,
		queues:     queues,
		recorder:   recorder,
	}
}

// Handle processes one bus message. It never blocks on delivery and never
// fails: drops are reported as events.
func (p *Pipeline) Handle(ctx context.Context, msg domain.BusMessage) {
	routes := p.routes.Match(msg.Topic)
	if len(routes) == 0 {
		p.recorder.Record(ctx, observe.DroppedBusMessage(observe.ReasonNoRoute, msg.Topic, "", nil))
		return
	}

	for _, r := range routes {
		chatMsg, err := p.translator.Translate(msg, r)
		if err != nil {
			p.recorder.Record(ctx, observe.DroppedBusMessage(observe.ReasonTranslationFailed, msg.Topic, r.ChatID, err))
			continue
		}
		p.enqueue(ctx, chatMsg)
	}
}

// Announce queues text to every destination, bypassing routing and
// translation. Empty text is a no-op.
func (p *Pipeline) Announce(ctx context.Context, text string) {
	if text == "" {
		return
	}
	for _, chatID := range p.queues.Destinations() {
		p.enqueue(ctx, domain.ChatMessage{ChatID: chatID, Text: text})
	}
}

func (p *Pipeline) enqueue(ctx context.Context, msg domain.ChatMessage) {
	res, err := p.queues.Enqueue(msg)
	if err != nil {
		reason := observe.ReasonCancelled
		if !errors.Is(err, queue.ErrClosed) {
			reason = observe.ReasonNoRoute
		}
		p.recorder.Record(ctx, observe.Dropped(reason, msg, 0, err))
		return
	}

	msg.Seq = res.Seq
	p.recorder.Record(ctx, observe.Translated(msg))
	if res.Evicted != nil {
		p.recorder.Record(ctx, observe.Dropped(observe.ReasonQueueOverflow, *res.Evicted, 0, nil))
	}
}
