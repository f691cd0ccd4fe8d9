// Package store is the persistent trigger store: durable job definitions,
// one-shot triggers keyed by (name, group), and the legacy job_scheduler
// table read at startup reconciliation.
//
// The default driver is sqlite (modernc.org/sqlite, no cgo); postgres via
// lib/pq is a config switch. All queries go through sqlx with Rebind so the
// placeholder style follows the driver.
package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"slotsched/pkg/logx"
)

//go:embed schema.sql
var schemaFS embed.FS

// Config selects and configures the backing database.
//
// Driver values:
//   - "sqlite" (default): DSN is a file path, or ":memory:" for tests
//   - "postgres": DSN is a lib/pq connection string
type Config struct {
	Driver      string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

type Store struct {
	db  *sqlx.DB
	log logx.Logger
}

// Open connects, applies pragmas, and runs the embedded schema.
func Open(cfg Config, log logx.Logger) (*Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		driver = "sqlite"
	}
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("store: dsn is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "sqlite", "sqlite3":
		driver = "sqlite"
		if cfg.DSN != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.DSN), 0o755); err != nil {
				return nil, err
			}
		}
	case "postgres", "pq":
		driver = "postgres"
	default:
		return nil, fmt.Errorf("store: unknown driver %q", cfg.Driver)
	}

	db, err := sqlx.Connect(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}

	if driver == "sqlite" {
		// SQLite prefers a small number of concurrent writers.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		if cfg.BusyTimeout > 0 {
			_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
		}
		_, _ = db.Exec("PRAGMA journal_mode = WAL")
		_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	}

	s := &Store{db: db, log: log}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return err
	}
	// Comment lines go before splitting on ";" so punctuation inside a
	// comment is never executed as SQL.
	var sb strings.Builder
	for _, line := range strings.Split(string(b), "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	for _, stmt := range strings.Split(sb.String(), ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// UpsertJob durably registers (or overwrites) a job definition.
func (s *Store) UpsertJob(ctx context.Context, rec JobRecord) error {
	payload := "{}"
	if rec.Payload != nil {
		b, err := json.Marshal(rec.Payload)
		if err != nil {
			return fmt.Errorf("store: marshal payload: %w", err)
		}
		payload = string(b)
	}
	q := s.db.Rebind(`INSERT INTO jobs (job_name, job_group, handler_ref, description, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (job_name, job_group) DO UPDATE SET
			handler_ref = excluded.handler_ref,
			description = excluded.description,
			payload = excluded.payload`)
	_, err := s.db.ExecContext(ctx, q, rec.Name, rec.Group, rec.HandlerRef, rec.Description, payload, toMillis(rec.CreatedAt))
	return err
}

// JobExists reports whether a job with this identity is registered.
func (s *Store) JobExists(ctx context.Context, name, group string) (bool, error) {
	var n int
	q := s.db.Rebind(`SELECT COUNT(*) FROM jobs WHERE job_name = ? AND job_group = ?`)
	if err := s.db.GetContext(ctx, &n, q, name, group); err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetJob loads one job definition, or (nil, nil) when absent.
func (s *Store) GetJob(ctx context.Context, name, group string) (*JobRecord, error) {
	var row jobRow
	q := s.db.Rebind(`SELECT * FROM jobs WHERE job_name = ? AND job_group = ?`)
	err := s.db.GetContext(ctx, &row, q, name, group)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec := row.record()
	return &rec, nil
}

// ListJobs returns every registered job identity.
func (s *Store) ListJobs(ctx context.Context) ([]JobRecord, error) {
	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM jobs ORDER BY job_group, job_name`); err != nil {
		return nil, err
	}
	out := make([]JobRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.record())
	}
	return out, nil
}

// DeleteJob removes a job and all its triggers. Reports false when no job
// with this identity existed (the triggers are left untouched in that case
// too, since they can only exist under a job).
func (s *Store) DeleteJob(ctx context.Context, name, group string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM jobs WHERE job_name = ? AND job_group = ?`), name, group)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	_, err = s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM triggers WHERE job_name = ? AND job_group = ?`), name, group)
	return true, err
}

// InsertTrigger durably registers one one-shot trigger.
func (s *Store) InsertTrigger(ctx context.Context, rec TriggerRecord) error {
	state := rec.State
	if state == "" {
		state = StateScheduled
	}
	q := s.db.Rebind(`INSERT INTO triggers (trigger_name, trigger_group, job_name, job_group, fire_at, state, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, q, rec.Name, rec.Group, rec.JobName, rec.JobGroup, toMillis(rec.FireAt), string(state), toMillis(rec.CreatedAt))
	return err
}

// TriggersForJob returns a job's triggers ordered by fire instant.
func (s *Store) TriggersForJob(ctx context.Context, name, group string) ([]TriggerRecord, error) {
	var rows []triggerRow
	q := s.db.Rebind(`SELECT * FROM triggers WHERE job_name = ? AND job_group = ? ORDER BY fire_at`)
	if err := s.db.SelectContext(ctx, &rows, q, name, group); err != nil {
		return nil, err
	}
	out := make([]TriggerRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.record())
	}
	return out, nil
}

// PauseJob parks all of a job's scheduled triggers. Paused triggers do not
// fire until resumed.
func (s *Store) PauseJob(ctx context.Context, name, group string) error {
	q := s.db.Rebind(`UPDATE triggers SET state = ? WHERE job_name = ? AND job_group = ? AND state = ?`)
	_, err := s.db.ExecContext(ctx, q, string(StatePaused), name, group, string(StateScheduled))
	return err
}

// ResumeJob returns paused triggers to the scheduled state. A paused trigger
// whose instant has passed becomes due immediately (misfire fires now).
func (s *Store) ResumeJob(ctx context.Context, name, group string) error {
	q := s.db.Rebind(`UPDATE triggers SET state = ? WHERE job_name = ? AND job_group = ? AND state = ?`)
	_, err := s.db.ExecContext(ctx, q, string(StateScheduled), name, group, string(StatePaused))
	return err
}

// DueTriggers lists scheduled triggers whose instant is at or before now,
// soonest first.
func (s *Store) DueTriggers(ctx context.Context, now time.Time, limit int) ([]TriggerRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []triggerRow
	q := s.db.Rebind(`SELECT * FROM triggers WHERE state = ? AND fire_at <= ? ORDER BY fire_at LIMIT ?`)
	if err := s.db.SelectContext(ctx, &rows, q, string(StateScheduled), toMillis(now), limit); err != nil {
		return nil, err
	}
	out := make([]TriggerRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.record())
	}
	return out, nil
}

// ClaimTrigger atomically flips one trigger from SCHEDULED to FIRED.
// Reports false when another caller got there first (or the trigger is
// gone), which is what makes each trigger fire at most once.
func (s *Store) ClaimTrigger(ctx context.Context, name, group string) (bool, error) {
	q := s.db.Rebind(`UPDATE triggers SET state = ? WHERE trigger_name = ? AND trigger_group = ? AND state = ?`)
	res, err := s.db.ExecContext(ctx, q, string(StateFired), name, group, string(StateScheduled))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// NextFireAt returns the earliest scheduled instant, if any.
func (s *Store) NextFireAt(ctx context.Context) (time.Time, bool, error) {
	var ms sql.NullInt64
	q := s.db.Rebind(`SELECT MIN(fire_at) FROM triggers WHERE state = ?`)
	if err := s.db.GetContext(ctx, &ms, q, string(StateScheduled)); err != nil {
		return time.Time{}, false, err
	}
	if !ms.Valid {
		return time.Time{}, false, nil
	}
	return fromMillis(ms.Int64), true, nil
}

// LegacyJobDefinitions loads the legacy cron job table. The core never
// writes or deletes these rows.
func (s *Store) LegacyJobDefinitions(ctx context.Context) ([]JobDefinition, error) {
	var rows []jobDefinitionRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM job_scheduler ORDER BY job_name`); err != nil {
		return nil, err
	}
	out := make([]JobDefinition, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.record())
	}
	return out, nil
}

// DB exposes the underlying handle for tests.
func (s *Store) DB() *sqlx.DB { return s.db }
