package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"stackctl/internal/reporting"
	"stackctl/internal/runtime"
)

// ErrNotFound is returned when no run matches.
var ErrNotFound = errors.New("not found")

// Run is one archived deployment run.
type Run struct {
	ID          string             `json:"id" yaml:"id"`
	Deployment  string             `json:"deployment" yaml:"deployment"`
	Environment string             `json:"environment" yaml:"environment"`
	Runtime     string             `json:"runtime" yaml:"runtime"`
	Descriptor  string             `json:"descriptor" yaml:"descriptor"`
	State       reporting.RunState `json:"state" yaml:"state"`
	Error       string             `json:"error,omitempty" yaml:"error,omitempty"`
	// OwnerPID is the stackctl process supervising a foreground run; zero
	// for detached runs.
	OwnerPID  int        `json:"ownerPid,omitempty" yaml:"ownerPid,omitempty"`
	StartedAt time.Time  `json:"startedAt" yaml:"startedAt"`
	UpdatedAt time.Time  `json:"updatedAt" yaml:"updatedAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty" yaml:"endedAt,omitempty"`
}

// ServiceRecord is the archived state of one service within a run.
type ServiceRecord struct {
	RunID       string                 `json:"runId" yaml:"runId"`
	Service     string                 `json:"service" yaml:"service"`
	State       reporting.ServiceState `json:"state" yaml:"state"`
	Handle      *runtime.Handle        `json:"handle,omitempty" yaml:"handle,omitempty"`
	Address     string                 `json:"address,omitempty" yaml:"address,omitempty"`
	URL         string                 `json:"url,omitempty" yaml:"url,omitempty"`
	StartSeq    int                    `json:"startSeq,omitempty" yaml:"startSeq,omitempty"`
	Attempts    int                    `json:"attempts,omitempty" yaml:"attempts,omitempty"`
	LastCheckAt *time.Time             `json:"lastCheckAt,omitempty" yaml:"lastCheckAt,omitempty"`
	Error       string                 `json:"error,omitempty" yaml:"error,omitempty"`
	UpdatedAt   time.Time              `json:"updatedAt" yaml:"updatedAt"`
}

// Store is the SQLite-backed run archive.
type Store struct {
	db *sql.DB
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

const runColumns = `id,deployment,environment,runtime,descriptor,state,error,owner_pid,started_at,updated_at,ended_at`

// SaveRun inserts a run or updates its state. Identity fields left empty
// keep their stored value; started_at is only written on insert.
func (s *Store) SaveRun(ctx context.Context, r Run) error {
	now := time.Now()
	if r.StartedAt.IsZero() {
		r.StartedAt = now
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = now
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO runs(`+runColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET
    deployment  = COALESCE(NULLIF(excluded.deployment,''), runs.deployment),
    environment = COALESCE(NULLIF(excluded.environment,''), runs.environment),
    runtime     = COALESCE(NULLIF(excluded.runtime,''), runs.runtime),
    descriptor  = COALESCE(NULLIF(excluded.descriptor,''), runs.descriptor),
    state       = excluded.state,
    error       = excluded.error,
    owner_pid   = excluded.owner_pid,
    updated_at  = excluded.updated_at,
    ended_at    = COALESCE(excluded.ended_at, runs.ended_at)`,
		r.ID, r.Deployment, r.Environment, r.Runtime, r.Descriptor, string(r.State), r.Error, r.OwnerPID,
		formatTime(r.StartedAt), formatTime(r.UpdatedAt), formatTimePtr(r.EndedAt))
	if err != nil {
		return fmt.Errorf("saving run %s: %w", r.ID, err)
	}
	return nil
}

// GetRun returns a run by id.
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	return scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id=?`, id))
}

// ListRuns returns runs newest first. An empty deployment lists all of
// them; limit <= 0 means no limit.
func (s *Store) ListRuns(ctx context.Context, deployment string, limit int) ([]Run, error) {
	q := `SELECT ` + runColumns + ` FROM runs`
	var args []interface{}
	if deployment != "" {
		q += ` WHERE deployment=?`
		args = append(args, deployment)
	}
	q += ` ORDER BY started_at DESC, rowid DESC`
	if limit > 0 {
		q += fmt.Sprintf(` LIMIT %d`, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, r)
	}
	return res, rows.Err()
}

// LatestRun returns the most recent run of a deployment.
func (s *Store) LatestRun(ctx context.Context, deployment string) (Run, error) {
	runs, err := s.ListRuns(ctx, deployment, 1)
	if err != nil {
		return Run{}, err
	}
	if len(runs) == 0 {
		return Run{}, ErrNotFound
	}
	return runs[0], nil
}

// LatestActiveRun returns the most recent run of a deployment whose services
// may still be up.
func (s *Store) LatestActiveRun(ctx context.Context, deployment string) (Run, error) {
	return scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs
WHERE deployment=? AND state IN (?,?,?,?)
ORDER BY started_at DESC, rowid DESC LIMIT 1`,
		deployment, string(reporting.RunInitializing), string(reporting.RunRunning), string(reporting.RunCompleted),
		string(reporting.RunStopFailed)))
}

// SaveService upserts a service record. Handle, address, url, start
// sequence and last check keep their stored value when left empty.
func (s *Store) SaveService(ctx context.Context, rec ServiceRecord) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}
	var handle interface{}
	if rec.Handle != nil {
		data, err := json.Marshal(rec.Handle)
		if err != nil {
			return fmt.Errorf("encoding handle: %w", err)
		}
		handle = string(data)
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO services(run_id,name,state,handle,address,url,start_seq,attempts,last_check_at,error,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(run_id,name) DO UPDATE SET
    state         = excluded.state,
    handle        = COALESCE(excluded.handle, services.handle),
    address       = COALESCE(NULLIF(excluded.address,''), services.address),
    url           = COALESCE(NULLIF(excluded.url,''), services.url),
    start_seq     = CASE WHEN excluded.start_seq > 0 THEN excluded.start_seq ELSE services.start_seq END,
    attempts      = CASE WHEN excluded.attempts > 0 THEN excluded.attempts ELSE services.attempts END,
    last_check_at = COALESCE(excluded.last_check_at, services.last_check_at),
    error         = excluded.error,
    updated_at    = excluded.updated_at`,
		rec.RunID, rec.Service, string(rec.State), handle, rec.Address, rec.URL, rec.StartSeq, rec.Attempts,
		formatTimePtr(rec.LastCheckAt), rec.Error, formatTime(rec.UpdatedAt))
	if err != nil {
		return fmt.Errorf("saving service %s of run %s: %w", rec.Service, rec.RunID, err)
	}
	return nil
}

// Services returns the records of a run in start order; services that never
// started come last, by name.
func (s *Store) Services(ctx context.Context, runID string) ([]ServiceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT run_id,name,state,COALESCE(handle,''),address,url,start_seq,attempts,last_check_at,error,updated_at
FROM services WHERE run_id=?
ORDER BY CASE WHEN start_seq = 0 THEN 1 ELSE 0 END, start_seq, name`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []ServiceRecord
	for rows.Next() {
		var (
			rec       ServiceRecord
			state     string
			handle    string
			lastCheck sql.NullString
			updated   string
		)
		if err := rows.Scan(&rec.RunID, &rec.Service, &state, &handle, &rec.Address, &rec.URL,
			&rec.StartSeq, &rec.Attempts, &lastCheck, &rec.Error, &updated); err != nil {
			return nil, err
		}
		rec.State = reporting.ServiceState(state)
		if handle != "" {
			var h runtime.Handle
			if err := json.Unmarshal([]byte(handle), &h); err != nil {
				return nil, fmt.Errorf("decoding handle of %s: %w", rec.Service, err)
			}
			rec.Handle = &h
		}
		if rec.LastCheckAt, err = parseTimePtr(lastCheck); err != nil {
			return nil, err
		}
		if rec.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// PruneRuns deletes finished runs of a deployment beyond the newest keep.
func (s *Store) PruneRuns(ctx context.Context, deployment string, keep int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
DELETE FROM runs WHERE deployment=? AND state IN (?,?) AND id NOT IN (
    SELECT id FROM runs WHERE deployment=? ORDER BY started_at DESC, rowid DESC LIMIT ?
)`, deployment, string(reporting.RunRolledBack), string(reporting.RunStopped), deployment, keep)
	if err != nil {
		return 0, fmt.Errorf("pruning runs: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		r                Run
		state            string
		started, updated string
		ended            sql.NullString
	)
	err := row.Scan(&r.ID, &r.Deployment, &r.Environment, &r.Runtime, &r.Descriptor, &state, &r.Error,
		&r.OwnerPID, &started, &updated, &ended)
	if err == sql.ErrNoRows {
		return r, ErrNotFound
	}
	if err != nil {
		return r, err
	}
	r.State = reporting.RunState(state)
	if r.StartedAt, err = parseTime(started); err != nil {
		return r, err
	}
	if r.UpdatedAt, err = parseTime(updated); err != nil {
		return r, err
	}
	if r.EndedAt, err = parseTimePtr(ended); err != nil {
		return r, err
	}
	return r, nil
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil || t.IsZero() {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing archived timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
