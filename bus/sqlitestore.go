package bus

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/petal-labs/signalflow/core"
	"github.com/petal-labs/signalflow/runtime"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS events (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id    TEXT    NOT NULL,
	seq       INTEGER NOT NULL,
	kind      TEXT    NOT NULL,
	node_id   TEXT    NOT NULL DEFAULT '',
	archetype TEXT    NOT NULL DEFAULT '',
	scope     TEXT    NOT NULL DEFAULT '',
	time      TEXT    NOT NULL,
	elapsed   INTEGER NOT NULL DEFAULT 0,
	payload   TEXT    NOT NULL DEFAULT '{}',
	trace_id  TEXT    NOT NULL DEFAULT '',
	span_id   TEXT    NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_events_run_seq ON events (run_id, seq);
CREATE INDEX IF NOT EXISTS idx_events_time ON events (time);
`

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const eventColumns = `run_id, seq, kind, node_id, archetype, scope, time, elapsed, payload, trace_id, span_id`

// SQLiteStoreConfig configures the SQLite event store.
type SQLiteStoreConfig struct {
	// DSN is the database connection string, e.g. "file:events.db" or
	// ":memory:".
	DSN string

	// RetentionAge deletes events older than this duration (0 = no age pruning).
	RetentionAge time.Duration

	// RetentionCount keeps at most this many events per run (0 = no count pruning).
	RetentionCount int

	// PruneInterval is how often to run pruning (default 1 hour).
	PruneInterval time.Duration
}

// SQLiteEventStore persists events to a SQLite database in WAL mode with an
// optional background pruner.
type SQLiteEventStore struct {
	db   *sql.DB
	cfg  SQLiteStoreConfig
	stop chan struct{}
	done chan struct{}
}

// NewSQLiteEventStore opens (or creates) a SQLite event store.
func NewSQLiteEventStore(cfg SQLiteStoreConfig) (*SQLiteEventStore, error) {
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = time.Hour
	}

	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent and
	// serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlitestore: set WAL mode: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlitestore: create schema: %w", err)
	}

	s := &SQLiteEventStore{
		db:   db,
		cfg:  cfg,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	if cfg.RetentionAge > 0 || cfg.RetentionCount > 0 {
		go s.pruneLoop()
	} else {
		close(s.done)
	}
	return s, nil
}

// Append stores an event.
func (s *SQLiteEventStore) Append(ctx context.Context, event runtime.Event) error {
	payload, err := json.Marshal(encodablePayload(event.Payload))
	if err != nil {
		return fmt.Errorf("sqlitestore: marshal payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events (`+eventColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.RunID,
		int64(event.Seq), // #nosec G115 -- sequence numbers stay far below MaxInt64
		string(event.Kind),
		event.NodeID,
		string(event.Archetype),
		event.Scope,
		event.Time.UTC().Format(timeLayout),
		int64(event.Elapsed),
		string(payload),
		event.TraceID,
		event.SpanID,
	)
	if err != nil {
		return fmt.Errorf("sqlitestore: append: %w", err)
	}
	return nil
}

// List returns the events of a run ordered by Seq.
func (s *SQLiteEventStore) List(ctx context.Context, runID string, opts ListOptions) ([]runtime.Event, error) {
	var b strings.Builder
	b.WriteString(`SELECT ` + eventColumns + ` FROM events WHERE run_id = ? AND seq > ?`)
	args := []any{runID, int64(opts.AfterSeq)} // #nosec G115
	if len(opts.Kinds) > 0 {
		b.WriteString(` AND kind IN (?` + strings.Repeat(`, ?`, len(opts.Kinds)-1) + `)`)
		for _, k := range opts.Kinds {
			args = append(args, string(k))
		}
	}
	b.WriteString(` ORDER BY seq ASC`)
	if opts.Limit > 0 {
		b.WriteString(` LIMIT ?`)
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: list: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// LatestSeq returns the highest Seq for a run (0 if no events).
func (s *SQLiteEventStore) LatestSeq(ctx context.Context, runID string) (uint64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM events WHERE run_id = ?`, runID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: latest seq: %w", err)
	}
	if !seq.Valid || seq.Int64 < 0 {
		return 0, nil
	}
	return uint64(seq.Int64), nil
}

// Runs summarizes every stored run.
func (s *SQLiteEventStore) Runs(ctx context.Context) ([]RunSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, COUNT(*), MAX(seq), MIN(time), MAX(time) FROM events GROUP BY run_id`)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var (
			r           RunSummary
			latest      int64
			first, last string
		)
		if err := rows.Scan(&r.RunID, &r.Events, &latest, &first, &last); err != nil {
			return nil, fmt.Errorf("sqlitestore: scan run: %w", err)
		}
		r.LatestSeq = uint64(max(latest, 0))
		if r.Started, err = time.Parse(time.RFC3339Nano, first); err != nil {
			return nil, fmt.Errorf("sqlitestore: parse time %q: %w", first, err)
		}
		if r.Updated, err = time.Parse(time.RFC3339Nano, last); err != nil {
			return nil, fmt.Errorf("sqlitestore: parse time %q: %w", last, err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortRuns(runs)
	return runs, nil
}

// Delete removes all events of a run.
func (s *SQLiteEventStore) Delete(ctx context.Context, runID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE run_id = ?`, runID)
	if err != nil {
		return fmt.Errorf("sqlitestore: delete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlitestore: delete: %w", err)
	}
	if n == 0 {
		return ErrRunNotFound
	}
	return nil
}

// Close stops the background pruner and closes the database connection.
func (s *SQLiteEventStore) Close() error {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	<-s.done
	return s.db.Close()
}

// Prune runs a single pruning pass.
func (s *SQLiteEventStore) Prune(ctx context.Context) error {
	if s.cfg.RetentionAge > 0 {
		cutoff := time.Now().Add(-s.cfg.RetentionAge).UTC().Format(timeLayout)
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM events WHERE time < ?`, cutoff,
		); err != nil {
			return fmt.Errorf("sqlitestore: prune by age: %w", err)
		}
	}

	if s.cfg.RetentionCount > 0 {
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM events WHERE id IN (
				SELECT id FROM (
					SELECT id, ROW_NUMBER() OVER (PARTITION BY run_id ORDER BY seq DESC) AS rn
					FROM events
				) WHERE rn > ?
			)`, s.cfg.RetentionCount,
		); err != nil {
			return fmt.Errorf("sqlitestore: prune by count: %w", err)
		}
	}
	return nil
}

func (s *SQLiteEventStore) pruneLoop() {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			_ = s.Prune(context.Background())
		}
	}
}

func scanEvents(rows *sql.Rows) ([]runtime.Event, error) {
	var events []runtime.Event
	for rows.Next() {
		var (
			e                      runtime.Event
			seq, elapsed           int64
			kind, archetype, stamp string
			payload                string
		)
		err := rows.Scan(&e.RunID, &seq, &kind, &e.NodeID, &archetype, &e.Scope,
			&stamp, &elapsed, &payload, &e.TraceID, &e.SpanID)
		if err != nil {
			return nil, fmt.Errorf("sqlitestore: scan event: %w", err)
		}
		e.Seq = uint64(max(seq, 0))
		e.Kind = runtime.EventKind(kind)
		e.Archetype = core.Archetype(archetype)
		e.Elapsed = time.Duration(elapsed)
		if e.Time, err = time.Parse(time.RFC3339Nano, stamp); err != nil {
			return nil, fmt.Errorf("sqlitestore: parse time %q: %w", stamp, err)
		}
		e.Payload = map[string]any{}
		if payload != "" && payload != "null" {
			if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
				return nil, fmt.Errorf("sqlitestore: unmarshal payload: %w", err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

var _ EventStore = (*SQLiteEventStore)(nil)

