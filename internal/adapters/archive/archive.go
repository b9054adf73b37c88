// Package archive keeps a durable copy of terminal tasks in PostgreSQL after
// their records age out of the result store.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // postgres driver

	"github.com/okian/startsit/internal/domain/model"
)

// ErrNotFound is returned by Lookup for unknown task ids.
var ErrNotFound = errors.New("task not archived")

// Archiver stores terminal tasks.
type Archiver interface {
	// Archive records a terminal task; archiving the same task twice is a no-op.
	Archive(ctx context.Context, t model.Task, result *model.Result) error
	// Lookup returns an archived task and its result, if any.
	Lookup(ctx context.Context, id string) (model.Task, *model.Result, error)
}

// Nop discards everything. Used when no DSN is configured.
type Nop struct{}

func (Nop) Archive(context.Context, model.Task, *model.Result) error { return nil }

func (Nop) Lookup(context.Context, string) (model.Task, *model.Result, error) {
	return model.Task{}, nil, ErrNotFound
}

const schema = `CREATE TABLE IF NOT EXISTS task_archive (
	task_id     TEXT PRIMARY KEY,
	fingerprint TEXT NOT NULL,
	queue       TEXT NOT NULL,
	category    TEXT NOT NULL,
	state       TEXT NOT NULL,
	attempts    INTEGER NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	payload     JSONB NOT NULL,
	result      JSONB,
	created_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL
)`

const insertTask = `INSERT INTO task_archive
	(task_id, fingerprint, queue, category, state, attempts, error, payload, result, created_at, finished_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (task_id) DO NOTHING`

const selectTask = `SELECT fingerprint, queue, state, attempts, error, payload, result, created_at, finished_at FROM task_archive WHERE task_id = $1`

// Postgres implements Archiver on database/sql with lib/pq.
type Postgres struct {
	db *sql.DB
}

// Open connects to dsn and returns a Postgres archiver.
func Open(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return New(db), nil
}

// New wraps an existing handle, e.g. one from sqlmock.
func New(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// EnsureSchema creates the archive table if missing.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create task_archive: %w", err)
	}
	return nil
}

func (p *Postgres) Archive(ctx context.Context, t model.Task, result *model.Result) error {
	if !t.State.IsTerminal() {
		return fmt.Errorf("archive %s: state %s is not terminal", t.ID, t.State)
	}
	payload, err := json.Marshal(t.Payload)
	if err != nil {
		return fmt.Errorf("archive %s: encode payload: %w", t.ID, err)
	}
	var res interface{}
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("archive %s: encode result: %w", t.ID, err)
		}
		res = b
	}

	_, err = p.db.ExecContext(ctx, insertTask,
		t.ID, t.Fingerprint, t.Queue, string(t.Payload.Category), string(t.State),
		t.Attempts, t.Error, payload, res, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("archive %s: %w", t.ID, err)
	}
	return nil
}

func (p *Postgres) Lookup(ctx context.Context, id string) (model.Task, *model.Result, error) {
	var (
		t       = model.Task{ID: id}
		state   string
		payload []byte
		result  []byte
	)
	err := p.db.QueryRowContext(ctx, selectTask, id).Scan(
		&t.Fingerprint, &t.Queue, &state, &t.Attempts, &t.Error, &payload, &result, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Task{}, nil, ErrNotFound
	}
	if err != nil {
		return model.Task{}, nil, fmt.Errorf("lookup %s: %w", id, err)
	}
	t.State = model.TaskState(state)
	if err := json.Unmarshal(payload, &t.Payload); err != nil {
		return model.Task{}, nil, fmt.Errorf("lookup %s: decode payload: %w", id, err)
	}
	if len(result) == 0 {
		return t, nil, nil
	}
	var r model.Result
	if err := json.Unmarshal(result, &r); err != nil {
		return model.Task{}, nil, fmt.Errorf("lookup %s: decode result: %w", id, err)
	}
	return t, &r, nil
}

// Close closes the database connection.
func (p *Postgres) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}
