// Package journal records relay events in SQLite for later inspection
// through the status API.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-relay/internal/observe"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500

	// timeLayout is fixed width so created_at sorts as text.
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// Filter selects journal rows. Empty fields match everything.
type Filter struct {
	Kind       string
	Reason     string
	ChatID     string
	Connection string
	Limit      int // default 50, max 500
	Offset     int
}

// ListResult is one page of events, newest first.
type ListResult struct {
	Events []observe.Event `json:"events"`
	Total  int             `json:"total"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

// Repository stores and queries relay events.
type Repository interface {
	Append(ctx context.Context, events ...observe.Event) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository is the relay_events table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository returns a repository over db. The relay_events
// migration must already be applied.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Append inserts events in one transaction.
func (r *SQLiteRepository) Append(ctx context.Context, events ...observe.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting journal transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO relay_events (id, kind, connection, topic, chat_id, seq, reason, attempts, delay_ms, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing journal insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		var seq any
		if e.Seq != 0 {
			seq = int64(e.Seq) //nolint:gosec // sequence numbers never reach 2^63
		}
		if _, err := stmt.ExecContext(ctx,
			e.ID, string(e.Kind),
			nullableString(e.Connection), nullableString(e.Topic), nullableString(e.ChatID),
			seq, nullableString(string(e.Reason)),
			e.Attempts, e.Delay.Milliseconds(), nullableString(e.Error),
			e.At.UTC().Format(timeLayout),
		); err != nil {
			return fmt.Errorf("inserting journal event %s: %w", e.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing journal events: %w", err)
	}
	return nil
}

// nullableString maps "" to NULL for optional TEXT columns.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns events matching filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultPageSize
	}
	if filter.Limit > maxPageSize {
		filter.Limit = maxPageSize
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	for _, c := range []struct{ column, value string }{
		{"kind", filter.Kind},
		{"reason", filter.Reason},
		{"chat_id", filter.ChatID},
		{"connection", filter.Connection},
	} {
		if c.value != "" {
			conditions = append(conditions, c.column+" = ?")
			args = append(args, c.value)
		}
	}
	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM relay_events " + where //nolint:gosec // columns are fixed, values are parameters
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting journal events: %w", err)
	}

	query := "SELECT id, kind, connection, topic, chat_id, seq, reason, attempts, delay_ms, error, created_at FROM relay_events " + //nolint:gosec // as above
		where + " ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?"
	rows, err := r.db.QueryContext(ctx, query, append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("querying journal events: %w", err)
	}
	defer rows.Close()

	events := []observe.Event{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating journal events: %w", err)
	}

	return &ListResult{
		Events: events,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}, nil
}

func scanEvent(rows *sql.Rows) (observe.Event, error) {
	var (
		e                                           observe.Event
		kind, createdAt                             string
		connection, topic, chatID, reason, errorMsg sql.NullString
		seq                                         sql.NullInt64
		delayMS                                     int64
	)
	if err := rows.Scan(&e.ID, &kind, &connection, &topic, &chatID, &seq, &reason,
		&e.Attempts, &delayMS, &errorMsg, &createdAt); err != nil {
		return observe.Event{}, fmt.Errorf("scanning journal event: %w", err)
	}

	at, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return observe.Event{}, fmt.Errorf("parsing journal timestamp %q: %w", createdAt, err)
	}

	e.Kind = observe.Kind(kind)
	e.Connection = connection.String
	e.Topic = topic.String
	e.ChatID = chatID.String
	e.Reason = observe.Reason(reason.String)
	e.Error = errorMsg.String
	e.Delay = time.Duration(delayMS) * time.Millisecond
	e.At = at
	if seq.Valid {
		e.Seq = uint64(seq.Int64) //nolint:gosec // written from a uint64 below 2^63
	}
	return e, nil
}
