// Package journal keeps recently classified events in the in-memory database.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/reedfamily/mcwarden/internal/game"
)

const DefaultMaxRows = 10000

// Entry is one journaled event.
type Entry struct {
	ID         int64     `json:"id"`
	RunID      string    `json:"run_id,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
	game.Record
}

type Journal struct {
	db      *sql.DB
	maxRows int
	log     *zap.SugaredLogger
	now     func() time.Time
	// runID reports the run the event came from.
	runID func() string
}

func New(db *sql.DB, maxRows int, runID func() string, log *zap.SugaredLogger) *Journal {
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if runID == nil {
		runID = func() string { return "" }
	}
	return &Journal{db: db, maxRows: maxRows, log: log.Named("journal"), now: time.Now, runID: runID}
}

// HandleEvent records ev, logging rather than returning failures.
func (j *Journal) HandleEvent(ev *game.Event) {
	if _, err := j.Append(context.Background(), ev); err != nil {
		j.log.Warnw("journal event", "type", ev.ID(), "error", err)
	}
}

// Append stores ev and trims the oldest rows beyond the limit.
func (j *Journal) Append(ctx context.Context, ev *game.Event) (int64, error) {
	r := ev.Record()
	args, err := json.Marshal(r.Args)
	if err != nil {
		return 0, fmt.Errorf("encode args: %w", err)
	}
	res, err := j.db.ExecContext(ctx, `
		INSERT INTO events (run_id, type, time, source, content, args, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, j.runID(), r.Type, r.Time, r.Source, r.Content, string(args), j.now().UTC())
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if id > int64(j.maxRows) {
		if _, err := j.db.ExecContext(ctx, "DELETE FROM events WHERE id <= ?", id-int64(j.maxRows)); err != nil {
			return id, fmt.Errorf("trim journal: %w", err)
		}
	}
	return id, nil
}

// Query selects journal entries, newest first.
type Query struct {
	Limit int
	// Type restricts the result to one event type when set.
	Type string
	// Before returns only entries with a smaller id, for paging.
	Before int64
}

// Recent returns up to limit of the newest entries.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	return j.Find(ctx, Query{Limit: limit})
}

func (j *Journal) Find(ctx context.Context, q Query) ([]Entry, error) {
	if q.Limit <= 0 || q.Limit > j.maxRows {
		q.Limit = j.maxRows
	}
	query := "SELECT id, run_id, type, time, source, content, args, received_at FROM events WHERE 1 = 1"
	var params []any
	if q.Type != "" {
		query += " AND type = ?"
		params = append(params, q.Type)
	}
	if q.Before > 0 {
		query += " AND id < ?"
		params = append(params, q.Before)
	}
	query += " ORDER BY id DESC LIMIT ?"
	params = append(params, q.Limit)

	rows, err := j.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var args string
		if err := rows.Scan(&e.ID, &e.RunID, &e.Type, &e.Time, &e.Source, &e.Content, &args, &e.ReceivedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(args), &e.Args); err != nil {
			return nil, fmt.Errorf("decode args of event %d: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (j *Journal) Count(ctx context.Context) (int, error) {
	var n int
	err := j.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events").Scan(&n)
	return n, err
}
