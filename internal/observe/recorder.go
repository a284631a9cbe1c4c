package observe

import (
	"context"
	"log/slog"
	"strconv"
	"time"
)

// Recorder receives relay events. Implementations must not block the
// caller for long; they are invoked on the message path.
type Recorder interface {
	Record(ctx context.Context, e Event)
}

// RecorderFunc adapts a function to a Recorder.
type RecorderFunc func(ctx context.Context, e Event)

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, e Event) {
	f(ctx, e)
}

// Discard drops every event.
var Discard Recorder = RecorderFunc(func(context.Context, Event) {})

// Multi fans each event out to every recorder in order. Nil entries are
// skipped.
type Multi []Recorder

// Record implements Recorder.
func (m Multi) Record(ctx context.Context, e Event) {
	for _, r := range m {
		if r != nil {
			r.Record(ctx, e)
		}
	}
}

// LogRecorder writes each event as one structured log line.
type LogRecorder struct {
	logger *slog.Logger
}

// NewLogRecorder returns a recorder logging to logger.
func NewLogRecorder(logger *slog.Logger) *LogRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogRecorder{logger: logger}
}

// Record implements Recorder.
func (l *LogRecorder) Record(ctx context.Context, e Event) {
	l.logger.Log(ctx, Level(e), string(e.Kind), Attrs(e)...)
}

// Level returns the log severity for e. Drops are warnings, except
// shutdown_timeout which is an error; delivery chatter is debug.
func Level(e Event) slog.Level {
	switch e.Kind {
	case KindDropped:
		if e.Reason == ReasonShutdownTimeout {
			return slog.LevelError
		}
		return slog.LevelWarn
	case KindDisconnect, KindBackoff:
		return slog.LevelWarn
	case KindTranslated:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// Attrs flattens the non-empty fields of e into slog key/value pairs.
func Attrs(e Event) []any {
	attrs := []any{"event_id", e.ID}
	if e.Connection != "" {
		attrs = append(attrs, "connection", e.Connection)
	}
	if e.Topic != "" {
		attrs = append(attrs, "topic", e.Topic)
	}
	if e.ChatID != "" {
		attrs = append(attrs, "chat_id", e.ChatID)
	}
	if e.Seq != 0 {
		attrs = append(attrs, "seq", e.Seq)
	}
	if e.Reason != "" {
		attrs = append(attrs, "reason", string(e.Reason))
	}
	if e.Attempts != 0 {
		attrs = append(attrs, "attempts", e.Attempts)
	}
	if e.Delay != 0 {
		attrs = append(attrs, "delay", e.Delay.String())
	}
	if e.Error != "" {
		attrs = append(attrs, "error", e.Error)
	}
	return attrs
}

// Measurement is the time-series measurement events are written under.
const Measurement = "relay_events"

// PointWriter accepts time-series points. *influxdb.Client satisfies it.
type PointWriter interface {
	WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time)
}

// PointRecorder turns events into relay_events points.
//
// Tags carry the low-cardinality dimensions (kind, connection, reason,
// chat). Topic, seq and error text are fields.
type PointRecorder struct {
	w PointWriter
}

// NewPointRecorder returns a recorder writing to w.
func NewPointRecorder(w PointWriter) *PointRecorder {
	return &PointRecorder{w: w}
}

// Record implements Recorder.
func (p *PointRecorder) Record(_ context.Context, e Event) {
	tags, fields := Point(e)
	p.w.WritePointWithTime(Measurement, tags, fields, e.At)
}

// Point splits e into tags and fields.
func Point(e Event) (map[string]string, map[string]interface{}) {
	tags := map[string]string{"kind": string(e.Kind)}
	if e.Connection != "" {
		tags["connection"] = e.Connection
	}
	if e.Reason != "" {
		tags["reason"] = string(e.Reason)
	}
	if e.ChatID != "" {
		tags["chat_id"] = e.ChatID
	}

	fields := map[string]interface{}{"count": int64(1)}
	if e.Topic != "" {
		fields["topic"] = e.Topic
	}
	if e.Seq != 0 {
		fields["seq"] = strconv.FormatUint(e.Seq, 10)
	}
	if e.Attempts != 0 {
		fields["attempts"] = int64(e.Attempts)
	}
	if e.Delay != 0 {
		fields["delay_ms"] = e.Delay.Milliseconds()
	}
	if e.Error != "" {
		fields["error"] = e.Error
	}
	return tags, fields
}
