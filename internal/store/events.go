package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event is one operational log entry: a link change, a scan, a session
// transition. Events are append-only and trimmed by hand, not by code.
type Event struct {
	ID        string         `json:"id"`
	Category  string         `json:"category"`
	Action    string         `json:"action"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// EventFilter controls which events to return.
type EventFilter struct {
	Category string // optional: filter by category (link, discovery, trend, system)
	Action   string // optional: filter by action within a category
	Limit    int    // default 50, max 200
	Offset   int    // pagination offset
}

// EventListResult contains the paginated event results.
type EventListResult struct {
	Events []Event `json:"events"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

// Logger is the logging surface the stores consume.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// noopLogger discards all log output.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// EventStore reads and writes the events table.
type EventStore struct {
	db     *sql.DB
	logger Logger
}

// NewEventStore creates an event repository.
func NewEventStore(db *sql.DB) *EventStore {
	return &EventStore{db: db, logger: noopLogger{}}
}

// SetLogger sets the logger used by the fire-and-forget recording path.
func (s *EventStore) SetLogger(logger Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Create inserts a new event. The ID and CreatedAt are generated if empty.
func (s *EventStore) Create(ctx context.Context, event *Event) error {
	if event.ID == "" {
		event.ID = "evt-" + uuid.NewString()[:8]
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	var detailJSON *string
	if event.Detail != nil {
		b, err := json.Marshal(event.Detail)
		if err != nil {
			return fmt.Errorf("marshalling event detail: %w", err)
		}
		str := string(b)
		detailJSON = &str
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (id, category, action, detail, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		event.ID, event.Category, event.Action, detailJSON,
		event.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}

	return nil
}

// RecordEvent is the fire-and-forget write used by engine callbacks, which
// have no error channel of their own. Failures are logged, never surfaced:
// losing a log line must not disturb a running session.
func (s *EventStore) RecordEvent(ctx context.Context, category, action string, detail map[string]any) {
	event := &Event{Category: category, Action: action, Detail: detail}
	if err := s.Create(ctx, event); err != nil {
		s.logger.Warn("event write failed", "category", category, "action", action, "error", err)
	}
}

// List returns events matching the filter, ordered by most recent first.
func (s *EventStore) List(ctx context.Context, filter EventFilter) (*EventListResult, error) {
	// Clamp paging to sane bounds.
	filter.Limit = min(max(filter.Limit, 0), 200)
	if filter.Limit == 0 {
		filter.Limit = 50
	}
	filter.Offset = max(filter.Offset, 0)

	// Assemble the WHERE clause from whichever filters are set.
	var conditions []string
	var args []any

	if filter.Category != "" {
		conditions = append(conditions, "category = ?")
		args = append(args, filter.Category)
	}
	if filter.Action != "" {
		conditions = append(conditions, "action = ?")
		args = append(args, filter.Action)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	// WHERE is assembled from parameterised conditions only.
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM events %s", where)
	var total int
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting events: %w", err)
	}

	query := fmt.Sprintf(
		"SELECT id, category, action, detail, created_at FROM events %s ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?",
		where,
	)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var event Event
		var detailJSON sql.NullString
		var createdAt string

		if err := rows.Scan(&event.ID, &event.Category, &event.Action, &detailJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}

		if detailJSON.Valid && detailJSON.String != "" {
			var detail map[string]any
			if json.Unmarshal([]byte(detailJSON.String), &detail) == nil {
				event.Detail = detail
			}
		}

		stamp, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing event timestamp %q: %w", createdAt, err)
		}
		event.CreatedAt = stamp

		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating events: %w", err)
	}

	if events == nil {
		events = []Event{}
	}

	return &EventListResult{
		Events: events,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}, nil
}
