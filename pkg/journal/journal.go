// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package journal persists link and relay events to SQLite so an operator
// can see what happened while nobody was watching.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event kinds
const (
	KindRelayOn        = "RELAY_ON"
	KindRelayOff       = "RELAY_OFF"
	KindSafetyTimeout  = "SAFETY_TIMEOUT"
	KindModeSwitch     = "MODE_SWITCH"
	KindSendFailed     = "SEND_FAILED"
	KindCommand        = "COMMAND"
	KindInvalidPayload = "INVALID_PAYLOAD"
	KindControl        = "CONTROL"
	KindLink           = "LINK"
)

// Entry is one journal row. Meta is stored CBOR encoded.
type Entry struct {
	ID      string
	Time    time.Time
	Kind    string
	Message string
	Meta    map[string]any
}

// Journal appends and queries events.
type Journal struct {
	db  *sql.DB
	now func() time.Time
	log *zap.SugaredLogger
}

// New wraps an open database. OpenDB creates one.
func New(db *sql.DB, l *zap.SugaredLogger) *Journal {
	if l == nil {
		l = zap.NewNop().Sugar()
	}
	return &Journal{db: db, now: time.Now, log: l}
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Append inserts e. Missing ID and time are filled in.
func (j *Journal) Append(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = j.now()
	}

	var meta []byte
	if len(e.Meta) > 0 {
		b, err := cbor.Marshal(e.Meta)
		if err != nil {
			return fmt.Errorf("encode meta: %w", err)
		}
		meta = b
	}

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO link_events (id, occurred_at, kind, message, meta)
		VALUES (?, ?, ?, ?, ?)
	`,
		e.ID,
		e.Time.UTC(),
		strings.ToUpper(strings.TrimSpace(e.Kind)),
		e.Message,
		meta,
	)
	if err != nil {
		return fmt.Errorf("append %s event: %w", e.Kind, err)
	}
	return nil
}

// Record appends an event and logs instead of returning a failure. It is
// for callers that must not stop on a journal error.
func (j *Journal) Record(ctx context.Context, kind, message string, meta map[string]any) {
	if err := j.Append(ctx, Entry{Kind: kind, Message: message, Meta: meta}); err != nil {
		j.log.Warnf("journal: %v", err)
	}
}

// Query filters List. Zero values match everything.
type Query struct {
	From  time.Time
	To    time.Time
	Kind  string
	Limit int
	// Newest orders newest first.
	Newest bool
}

// List returns the events matching q.
func (j *Journal) List(ctx context.Context, q Query) ([]Entry, error) {
	var (
		conds []string
		args  []any
	)
	if !q.From.IsZero() {
		conds = append(conds, "occurred_at >= ?")
		args = append(args, q.From.UTC())
	}
	if !q.To.IsZero() {
		conds = append(conds, "occurred_at <= ?")
		args = append(args, q.To.UTC())
	}
	if kind := strings.ToUpper(strings.TrimSpace(q.Kind)); kind != "" {
		conds = append(conds, "kind = ?")
		args = append(args, kind)
	}

	stmt := `SELECT id, occurred_at, kind, message, meta FROM link_events`
	if len(conds) > 0 {
		stmt += " WHERE " + strings.Join(conds, " AND ")
	}
	if q.Newest {
		stmt += " ORDER BY occurred_at DESC"
	} else {
		stmt += " ORDER BY occurred_at ASC"
	}
	if q.Limit > 0 {
		stmt += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := j.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	out := make([]Entry, 0, 32)
	for rows.Next() {
		var (
			e    Entry
			meta []byte
		)
		if err := rows.Scan(&e.ID, &e.Time, &e.Kind, &e.Message, &meta); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Time = e.Time.UTC()
		if len(meta) > 0 {
			if err := cbor.Unmarshal(meta, &e.Meta); err != nil {
				j.log.Warnf("journal: event %s has unreadable meta: %v", e.ID, err)
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return out, nil
}

// Recent returns the newest n events, newest first.
func (j *Journal) Recent(ctx context.Context, n int) ([]Entry, error) {
	return j.List(ctx, Query{Limit: n, Newest: true})
}

// Counts returns the number of events per kind.
func (j *Journal) Counts(ctx context.Context) (map[string]int, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM link_events GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			kind string
			n    int
		)
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[kind] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	return counts, nil
}

// LastRelayState returns the newest relay transition. ok is false when the
// journal has none.
func (j *Journal) LastRelayState(ctx context.Context) (e Entry, ok bool, err error) {
	row := j.db.QueryRowContext(ctx, `
		SELECT id, occurred_at, kind, message FROM link_events
		WHERE kind IN (?, ?, ?) ORDER BY occurred_at DESC LIMIT 1
	`, KindRelayOn, KindRelayOff, KindSafetyTimeout)

	switch err := row.Scan(&e.ID, &e.Time, &e.Kind, &e.Message); {
	case errors.Is(err, sql.ErrNoRows):
		return Entry{}, false, nil
	case err != nil:
		return Entry{}, false, fmt.Errorf("last relay state: %w", err)
	}
	e.Time = e.Time.UTC()
	return e, true, nil
}
