package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/stackforge-io/stackforge/internal/artifact"
	"github.com/stackforge-io/stackforge/internal/run"
)

// PGTracker persists runs in Postgres. Shared installations use it so that
// status is visible from any host; the semantics match the filesystem
// Journal exactly.
type PGTracker struct {
	db *sql.DB
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id          TEXT PRIMARY KEY,
	pipeline        TEXT NOT NULL,
	definition_path TEXT NOT NULL,
	environment     TEXT NOT NULL,
	policy          TEXT NOT NULL,
	stage_filter    JSONB NOT NULL DEFAULT '[]',
	pre_snapshot_id TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL,
	started_at      TIMESTAMPTZ NOT NULL,
	finished_at     TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS run_events (
	event_id      BIGSERIAL PRIMARY KEY,
	run_id        TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
	kind          TEXT NOT NULL,
	stage         TEXT NOT NULL DEFAULT '',
	from_status   TEXT NOT NULL DEFAULT '',
	to_status     TEXT NOT NULL DEFAULT '',
	reason        TEXT NOT NULL DEFAULT '',
	artifact_name TEXT NOT NULL DEFAULT '',
	artifact_ref  TEXT NOT NULL DEFAULT '',
	at            TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS run_events_run_id_idx ON run_events (run_id, event_id);
`

// OpenPG connects, pings, and ensures the schema exists.
func OpenPG(ctx context.Context, url string) (*PGTracker, error) {
	if url == "" {
		return nil, errors.New("database url is empty")
	}
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, pgSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return &PGTracker{db: db}, nil
}

// NewPGTrackerWithDB wraps an existing handle, which tests use.
func NewPGTrackerWithDB(db *sql.DB) *PGTracker {
	return &PGTracker{db: db}
}

func (t *PGTracker) Begin(ctx context.Context, rec RunRecord) error {
	if rec.ID == "" {
		return errors.New("run id is empty")
	}
	filter, err := json.Marshal(rec.StageFilter)
	if err != nil {
		return fmt.Errorf("encoding stage filter: %w", err)
	}

	const q = `INSERT INTO runs (
		run_id, pipeline, definition_path, environment, policy,
		stage_filter, pre_snapshot_id, status, started_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	ON CONFLICT (run_id) DO NOTHING`

	res, err := t.db.ExecContext(ctx, q,
		rec.ID, rec.Pipeline, rec.DefinitionPath, rec.Environment, string(rec.Policy),
		filter, rec.PreSnapshotID, string(rec.Status), rec.StartedAt.UTC())
	if err != nil {
		return fmt.Errorf("inserting run %q: %w", rec.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %q already exists", rec.ID)
	}
	return nil
}

func (t *PGTracker) RecordTransition(ctx context.Context, runID string, tr Transition) error {
	const q = `INSERT INTO run_events (run_id, kind, stage, from_status, to_status, reason, at)
		VALUES ($1,'transition',$2,$3,$4,$5,$6)`
	_, err := t.db.ExecContext(ctx, q,
		runID, tr.Stage, string(tr.From), string(tr.To), tr.Reason, tr.At.UTC())
	if err != nil {
		return fmt.Errorf("recording transition for run %q: %w", runID, err)
	}
	return nil
}

func (t *PGTracker) RecordArtifact(ctx context.Context, runID string, a artifact.Artifact) error {
	const q = `INSERT INTO run_events (run_id, kind, stage, artifact_name, artifact_ref, at)
		VALUES ($1,'artifact',$2,$3,$4,$5)`
	_, err := t.db.ExecContext(ctx, q, runID, a.Producer, a.Name, a.Ref, a.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("recording artifact for run %q: %w", runID, err)
	}
	return nil
}

func (t *PGTracker) Finish(ctx context.Context, runID string, status run.Status, at time.Time) error {
	const q = `UPDATE runs SET status = $2, finished_at = $3 WHERE run_id = $1`
	res, err := t.db.ExecContext(ctx, q, runID, string(status), at.UTC())
	if err != nil {
		return fmt.Errorf("finishing run %q: %w", runID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %q: %w", runID, ErrRunNotFound)
	}
	return nil
}

func (t *PGTracker) Load(ctx context.Context, runID string) (*RunState, error) {
	const headQ = `SELECT run_id, pipeline, definition_path, environment, policy,
		stage_filter, pre_snapshot_id, status, started_at, finished_at
		FROM runs WHERE run_id = $1`

	var (
		rec      RunRecord
		policy   string
		status   string
		filter   []byte
		finished sql.NullTime
	)
	err := t.db.QueryRowContext(ctx, headQ, runID).Scan(
		&rec.ID, &rec.Pipeline, &rec.DefinitionPath, &rec.Environment, &policy,
		&filter, &rec.PreSnapshotID, &status, &rec.StartedAt, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %q: %w", runID, ErrRunNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading run %q: %w", runID, err)
	}
	rec.Policy = run.FailurePolicy(policy)
	rec.Status = run.Status(status)
	if finished.Valid {
		at := finished.Time
		rec.FinishedAt = &at
	}
	if len(filter) > 0 {
		if err := json.Unmarshal(filter, &rec.StageFilter); err != nil {
			return nil, fmt.Errorf("decoding stage filter of run %q: %w", runID, err)
		}
	}

	st := &RunState{Record: rec, Stages: make(map[string]run.StageStatus)}

	const evQ = `SELECT kind, stage, from_status, to_status, reason, artifact_name, artifact_ref, at
		FROM run_events WHERE run_id = $1 ORDER BY event_id ASC`
	rows, err := t.db.QueryContext(ctx, evQ, runID)
	if err != nil {
		return nil, fmt.Errorf("loading events of run %q: %w", runID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			kind, stage, from, to, reason string
			artName, artRef               string
			at                            time.Time
		)
		if err := rows.Scan(&kind, &stage, &from, &to, &reason, &artName, &artRef, &at); err != nil {
			return nil, fmt.Errorf("scanning event of run %q: %w", runID, err)
		}
		switch kind {
		case "transition":
			tr := Transition{Stage: stage, From: run.StageStatus(from), To: run.StageStatus(to), Reason: reason, At: at}
			st.History = append(st.History, tr)
			st.Stages[stage] = tr.To
		case "artifact":
			st.Artifacts = append(st.Artifacts, artifact.Artifact{
				Name: artName, Producer: stage, Ref: artRef, CreatedAt: at,
			})
		default:
			return nil, fmt.Errorf("run %q has an unknown event kind %q", runID, kind)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading events of run %q: %w", runID, err)
	}
	return st, nil
}

func (t *PGTracker) List(ctx context.Context) ([]RunRecord, error) {
	const q = `SELECT run_id, pipeline, definition_path, environment, policy,
		stage_filter, pre_snapshot_id, status, started_at, finished_at
		FROM runs ORDER BY started_at ASC`

	rows, err := t.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var (
			rec      RunRecord
			policy   string
			status   string
			filter   []byte
			finished sql.NullTime
		)
		if err := rows.Scan(&rec.ID, &rec.Pipeline, &rec.DefinitionPath, &rec.Environment,
			&policy, &filter, &rec.PreSnapshotID, &status, &rec.StartedAt, &finished); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		rec.Policy = run.FailurePolicy(policy)
		rec.Status = run.Status(status)
		if finished.Valid {
			at := finished.Time
			rec.FinishedAt = &at
		}
		if len(filter) > 0 {
			if err := json.Unmarshal(filter, &rec.StageFilter); err != nil {
				return nil, fmt.Errorf("decoding stage filter of run %q: %w", rec.ID, err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (t *PGTracker) Close() error {
	return t.db.Close()
}
