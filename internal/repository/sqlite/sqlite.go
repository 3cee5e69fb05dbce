package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"nbsync/internal/domain"
	"nbsync/internal/repository"
)

// DefaultListLimit is used when ListRuns is called without a limit
const DefaultListLimit = 20

// Repository implements repository.Journal using SQLite
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

var _ repository.Journal = (*Repository)(nil)

// New opens (or creates) the journal at dbPath. ":memory:" gives a private
// in-memory journal.
func New(dbPath string, log zerolog.Logger) (*Repository, error) {
	dsn := dbPath
	if dbPath != ":memory:" && !strings.HasPrefix(dbPath, "file:") {
		dsn = "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one connection keeps :memory: databases shared and serializes writers
	db.SetMaxOpenConns(1)

	repo := &Repository{db: db, log: log}
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return repo, nil
}

func (r *Repository) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		dry_run INTEGER NOT NULL DEFAULT 0,
		started_at TEXT NOT NULL,
		finished_at TEXT,
		attempted INTEGER NOT NULL DEFAULT 0,
		reconciled INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS outcomes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		entity TEXT NOT NULL,
		kind TEXT NOT NULL,
		action TEXT NOT NULL,
		stage TEXT,
		class TEXT,
		error TEXT,
		notes TEXT,
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_outcomes_run ON outcomes(run_id);
	`

	_, err := r.db.Exec(schema)
	return err
}

// RecordRun stores a finished pass and all of its outcomes in one transaction
func (r *Repository) RecordRun(ctx context.Context, summary *domain.BatchSummary) (*Run, error) {
	if summary == nil {
		return nil, errors.New("nil summary")
	}

	run := &repository.Run{
		ID:         uuid.NewString(),
		Kind:       summary.Name,
		DryRun:     summary.DryRun,
		StartedAt:  summary.StartedAt,
		FinishedAt: summary.FinishedAt,
		Attempted:  summary.Attempted(),
		Reconciled: summary.Reconciled(),
		Failed:     summary.Failed(),
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, kind, dry_run, started_at, finished_at, attempted, reconciled, failed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Kind, boolToInt(run.DryRun), formatTime(run.StartedAt), formatTime(run.FinishedAt),
		run.Attempted, run.Reconciled, run.Failed)
	if err != nil {
		return nil, fmt.Errorf("failed to insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO outcomes (run_id, entity, kind, action, stage, class, error, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare outcome insert: %w", err)
	}
	defer stmt.Close()

	for _, o := range summary.Outcomes {
		_, err := stmt.ExecContext(ctx,
			run.ID,
			o.Entity,
			outcomeKind(o, summary.Name),
			string(o.Action),
			stringToNull(string(o.Stage)),
			stringToNull(string(o.Class)),
			stringToNull(o.ErrString()),
			stringToNull(joinNotes(o.Notes)),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to insert outcome %s: %w", o.Entity, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit run: %w", err)
	}

	r.log.Debug().
		Str("run_id", run.ID).
		Str("kind", run.Kind).
		Int("outcomes", len(summary.Outcomes)).
		Msg("Run recorded")

	return run, nil
}

// Run is a recorded pass
type Run = repository.Run

// GetRun returns one run or domain.ErrNotFound
func (r *Repository) GetRun(ctx context.Context, id string) (*Run, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, kind, dry_run, started_at, finished_at, attempted, reconciled, failed
		FROM runs WHERE id = ?
	`, id)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs first
func (r *Repository) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, kind, dry_run, started_at, finished_at, attempted, reconciled, failed
		FROM runs
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// Outcomes returns the outcomes of a run in the order they were recorded
func (r *Repository) Outcomes(ctx context.Context, runID string) ([]repository.OutcomeRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT run_id, entity, kind, action, stage, class, error, notes
		FROM outcomes
		WHERE run_id = ?
		ORDER BY id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query outcomes: %w", err)
	}
	defer rows.Close()

	var records []repository.OutcomeRecord
	for rows.Next() {
		var (
			rec                       repository.OutcomeRecord
			stage, class, errText, nt sql.NullString
		)
		if err := rows.Scan(&rec.RunID, &rec.Entity, &rec.Kind, &rec.Action, &stage, &class, &errText, &nt); err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		rec.Stage = nullToString(stage)
		rec.Class = nullToString(class)
		rec.Error = nullToString(errText)
		rec.Notes = nullToString(nt)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outcomes: %w", err)
	}

	return records, nil
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		run               Run
		dryRun            int
		started, finished sql.NullString
	)
	if err := row.Scan(&run.ID, &run.Kind, &dryRun, &started, &finished, &run.Attempted, &run.Reconciled, &run.Failed); err != nil {
		return nil, err
	}
	run.DryRun = dryRun != 0
	run.StartedAt = parseTime(started)
	run.FinishedAt = parseTime(finished)
	return &run, nil
}
