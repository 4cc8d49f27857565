package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/glebarez/go-sqlite"

	"openbounty/core/events"
	"openbounty/core/types"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// Journal persists committed ledger events to SQLite so clients can page
// through history after the fact.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger
	nowFn  func() time.Time
}

// Open creates or opens the journal at path. Use ":memory:" for an ephemeral
// journal.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Appends arrive in commit order and must keep it.
	db.SetMaxOpenConns(1)
	journal := &Journal{db: db, logger: slog.Default(), nowFn: time.Now}
	if err := journal.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return journal, nil
}

func (j *Journal) init() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS events (
            sequence INTEGER PRIMARY KEY AUTOINCREMENT,
            type TEXT NOT NULL,
            bounty TEXT,
            company TEXT,
            payload TEXT NOT NULL,
            created_at TIMESTAMP NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS events_bounty ON events(bounty);`,
		`CREATE INDEX IF NOT EXISTS events_type ON events(type);`,
	}
	for _, stmt := range schema {
		if _, err := j.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// SetLogger overrides the logger used to report failed appends.
func (j *Journal) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	j.logger = logger
}

// SetNowFunc overrides the wall clock stamped on rows.
func (j *Journal) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	j.nowFn = now
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// StoredEvent is a journaled event.
type StoredEvent struct {
	Sequence  int64             `json:"sequence"`
	Type      string            `json:"type"`
	Bounty    string            `json:"bounty,omitempty"`
	Company   string            `json:"company,omitempty"`
	Payload   map[string]string `json:"attributes"`
	CreatedAt time.Time         `json:"createdAt"`
}

// Emit implements events.Emitter. Events without a payload are ignored and a
// failed append is logged, since the ledger state has already committed.
func (j *Journal) Emit(evt events.Event) {
	payload, ok := events.Payload(evt)
	if !ok {
		return
	}
	if _, err := j.Append(context.Background(), payload); err != nil {
		j.logger.Error("event journal append failed", "type", payload.Type, "error", err)
	}
}

// Append stores evt and returns its sequence number.
func (j *Journal) Append(ctx context.Context, evt *types.Event) (int64, error) {
	if evt == nil {
		return 0, fmt.Errorf("eventlog: nil event")
	}
	const stmt = `INSERT INTO events(type, bounty, company, payload, created_at) VALUES (?, ?, ?, ?, ?)`
	attrs := evt.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	payloadJSON, err := json.Marshal(attrs)
	if err != nil {
		return 0, err
	}
	res, err := j.db.ExecContext(ctx, stmt, evt.Type, nullable(evt.Attr("bounty")), nullable(evt.Attr("company")), string(payloadJSON), j.nowFn().UTC())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	Type    string
	Bounty  string
	Company string
	// After returns only events with a greater sequence.
	After int64
	Limit int
}

// List returns journaled events in sequence order.
func (j *Journal) List(ctx context.Context, filter Filter) ([]StoredEvent, error) {
	var (
		clauses = []string{"sequence > ?"}
		args    = []any{filter.After}
	)
	if filter.Type != "" {
		clauses = append(clauses, "type = ?")
		args = append(args, filter.Type)
	}
	if filter.Bounty != "" {
		clauses = append(clauses, "bounty = ?")
		args = append(args, filter.Bounty)
	}
	if filter.Company != "" {
		clauses = append(clauses, "company = ?")
		args = append(args, filter.Company)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	args = append(args, limit)

	query := `SELECT sequence, type, bounty, company, payload, created_at FROM events WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY sequence ASC LIMIT ?`
	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StoredEvent
	for rows.Next() {
		var (
			evt             StoredEvent
			bounty, company sql.NullString
			payload         string
		)
		if err := rows.Scan(&evt.Sequence, &evt.Type, &bounty, &company, &payload, &evt.CreatedAt); err != nil {
			return nil, err
		}
		evt.Bounty = bounty.String
		evt.Company = company.String
		if err := json.Unmarshal([]byte(payload), &evt.Payload); err != nil {
			return nil, fmt.Errorf("eventlog: decode payload of event %d: %w", evt.Sequence, err)
		}
		out = append(out, evt)
	}
	return out, rows.Err()
}

// LastSequence returns the sequence of the newest event, or zero when empty.
func (j *Journal) LastSequence(ctx context.Context) (int64, error) {
	row := j.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(sequence), 0) FROM events`)
	var value int64
	if err := row.Scan(&value); err != nil {
		return 0, err
	}
	return value, nil
}

func nullable(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}
