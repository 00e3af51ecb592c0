package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/SAS-Controls/SAS-Trend-Tool/internal/trend"
)

// ErrNotFound reports a lookup for a row that does not exist.
var ErrNotFound = errors.New("store: not found")

// SessionRecord is one archived trend session, document included.
type SessionRecord struct {
	ID                string          `json:"id"`
	Endpoint          string          `json:"endpoint"`
	ProtocolFamily    string          `json:"protocol_family"`
	DeviceLabel       string          `json:"device_label,omitempty"`
	Tags              []string        `json:"tags"`
	SampleRateSeconds float64         `json:"sample_rate_seconds"`
	StartedAt         time.Time       `json:"started_at"`
	EndedAt           *time.Time      `json:"ended_at,omitempty"`
	TotalPoints       int             `json:"total_points"`
	StopReason        string          `json:"stop_reason,omitempty"`
	Document          json.RawMessage `json:"document,omitempty"`
}

// SessionSummary is a record without its document, for listings. A long
// session's document runs to megabytes; lists must not drag those along.
type SessionSummary struct {
	ID                string     `json:"id"`
	Endpoint          string     `json:"endpoint"`
	ProtocolFamily    string     `json:"protocol_family"`
	DeviceLabel       string     `json:"device_label,omitempty"`
	Tags              []string   `json:"tags"`
	SampleRateSeconds float64    `json:"sample_rate_seconds"`
	StartedAt         time.Time  `json:"started_at"`
	EndedAt           *time.Time `json:"ended_at,omitempty"`
	TotalPoints       int        `json:"total_points"`
	StopReason        string     `json:"stop_reason,omitempty"`
}

// SessionFilter controls which archived sessions to return.
type SessionFilter struct {
	Endpoint string // optional: filter by endpoint
	Limit    int    // default 50, max 200
	Offset   int    // pagination offset
}

// SessionListResult contains the paginated session summaries.
type SessionListResult struct {
	Sessions []SessionSummary `json:"sessions"`
	Total    int              `json:"total"`
	Limit    int              `json:"limit"`
	Offset   int              `json:"offset"`
}

// SessionStore reads and writes the trend_sessions table.
type SessionStore struct {
	db *sql.DB
}

// NewSessionStore creates a session archive repository.
func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

// ArchiveSession satisfies the trend engine's archiver contract: it
// flattens the finished session and its document into one row.
func (s *SessionStore) ArchiveSession(ctx context.Context, info trend.SessionInfo, doc *trend.ExportDocument) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshalling session document: %w", err)
	}

	record := &SessionRecord{
		ID:                info.ID,
		Endpoint:          info.Endpoint,
		ProtocolFamily:    info.Family,
		DeviceLabel:       info.DeviceLabel,
		Tags:              info.Tags,
		SampleRateSeconds: info.RateSeconds,
		StartedAt:         info.StartedAt,
		EndedAt:           info.EndedAt,
		TotalPoints:       info.PointCount,
		StopReason:        info.StopReason,
		Document:          raw,
	}
	return s.Save(ctx, record)
}

// Save inserts an archived session. Archiving is insert-only; a session id
// reaching this table twice is a bug upstream, and the primary key makes
// it loud.
func (s *SessionStore) Save(ctx context.Context, record *SessionRecord) error {
	tagsJSON, err := json.Marshal(record.Tags)
	if err != nil {
		return fmt.Errorf("marshalling session tags: %w", err)
	}

	var endedAt *string
	if record.EndedAt != nil {
		str := record.EndedAt.UTC().Format(time.RFC3339)
		endedAt = &str
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO trend_sessions
		 (id, endpoint, protocol_family, device_label, tags, sample_rate_seconds,
		  started_at, ended_at, total_points, stop_reason, document)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID, record.Endpoint, record.ProtocolFamily,
		nullableString(record.DeviceLabel), string(tagsJSON), record.SampleRateSeconds,
		record.StartedAt.UTC().Format(time.RFC3339), endedAt,
		record.TotalPoints, nullableString(record.StopReason), string(record.Document),
	)
	if err != nil {
		return fmt.Errorf("inserting trend session: %w", err)
	}

	return nil
}

// Get returns one archived session with its document.
func (s *SessionStore) Get(ctx context.Context, id string) (*SessionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, endpoint, protocol_family, device_label, tags, sample_rate_seconds,
		        started_at, ended_at, total_points, stop_reason, document
		 FROM trend_sessions WHERE id = ?`, id)

	record, err := scanSession(row.Scan, true)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: session %q", ErrNotFound, id)
		}
		return nil, fmt.Errorf("loading trend session: %w", err)
	}
	return record, nil
}

// Delete removes an archived session.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM trend_sessions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting trend session: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: session %q", ErrNotFound, id)
	}
	return nil
}

// List returns archived session summaries, most recent first.
func (s *SessionStore) List(ctx context.Context, filter SessionFilter) (*SessionListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 200 {
		filter.Limit = 200
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	if filter.Endpoint != "" {
		conditions = append(conditions, "endpoint = ?")
		args = append(args, filter.Endpoint)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM trend_sessions %s", where)
	var total int
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting trend sessions: %w", err)
	}

	query := fmt.Sprintf(
		`SELECT id, endpoint, protocol_family, device_label, tags, sample_rate_seconds,
		        started_at, ended_at, total_points, stop_reason
		 FROM trend_sessions %s ORDER BY started_at DESC, id DESC LIMIT ? OFFSET ?`,
		where,
	)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying trend sessions: %w", err)
	}
	defer rows.Close()

	var sessions []SessionSummary
	for rows.Next() {
		record, err := scanSession(rows.Scan, false)
		if err != nil {
			return nil, fmt.Errorf("scanning trend session: %w", err)
		}
		sessions = append(sessions, SessionSummary{
			ID:                record.ID,
			Endpoint:          record.Endpoint,
			ProtocolFamily:    record.ProtocolFamily,
			DeviceLabel:       record.DeviceLabel,
			Tags:              record.Tags,
			SampleRateSeconds: record.SampleRateSeconds,
			StartedAt:         record.StartedAt,
			EndedAt:           record.EndedAt,
			TotalPoints:       record.TotalPoints,
			StopReason:        record.StopReason,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating trend sessions: %w", err)
	}

	if sessions == nil {
		sessions = []SessionSummary{}
	}

	return &SessionListResult{
		Sessions: sessions,
		Total:    total,
		Limit:    filter.Limit,
		Offset:   filter.Offset,
	}, nil
}

// scanSession maps one row onto a SessionRecord. withDocument selects the
// eleven-column shape used by Get over the ten-column shape used by List.
func scanSession(scan func(...any) error, withDocument bool) (*SessionRecord, error) {
	var record SessionRecord
	var deviceLabel, endedAt, stopReason sql.NullString
	var tagsJSON, startedAt string
	var document string

	dest := []any{
		&record.ID, &record.Endpoint, &record.ProtocolFamily, &deviceLabel,
		&tagsJSON, &record.SampleRateSeconds, &startedAt, &endedAt,
		&record.TotalPoints, &stopReason,
	}
	if withDocument {
		dest = append(dest, &document)
	}

	if err := scan(dest...); err != nil {
		return nil, err
	}

	if deviceLabel.Valid {
		record.DeviceLabel = deviceLabel.String
	}
	if stopReason.Valid {
		record.StopReason = stopReason.String
	}
	if err := json.Unmarshal([]byte(tagsJSON), &record.Tags); err != nil {
		return nil, fmt.Errorf("parsing session tags: %w", err)
	}

	stamp, err := time.Parse(time.RFC3339, startedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing session start %q: %w", startedAt, err)
	}
	record.StartedAt = stamp

	if endedAt.Valid {
		stamp, err := time.Parse(time.RFC3339, endedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing session end %q: %w", endedAt.String, err)
		}
		record.EndedAt = &stamp
	}

	if withDocument {
		record.Document = json.RawMessage(document)
	}

	return &record, nil
}

// nullableString returns nil for empty strings, or the string otherwise.
// Used for nullable TEXT columns in SQLite.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
