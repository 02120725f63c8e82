package transfer

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

// SQL statements for ledger operations.
const (
	sqlInsertRun = `INSERT INTO transfer_runs
		(run_id, site_url, dest_dir, label, started_at, total)
		VALUES (?, ?, ?, ?, ?, ?)`

	sqlFinishRun = `UPDATE transfer_runs SET
		 finished_at = ?,
		 succeeded = ?,
		 failed = ?,
		 skipped = ?,
		 bytes = ?
		WHERE run_id = ?`

	sqlInsertOutcome = `INSERT INTO transfer_outcomes
		(run_id, document_id, name, status, error_kind, local_path,
		 bytes, attempts, error_msg, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlOwnsPath = `SELECT EXISTS(
		SELECT 1 FROM transfer_outcomes
		WHERE local_path = ? AND document_id = ? AND status = 'succeeded')`

	sqlLastRuns = `SELECT run_id, site_url, dest_dir, label, started_at,
		 finished_at, total, succeeded, failed, skipped, bytes
		FROM transfer_runs
		ORDER BY started_at DESC
		LIMIT ?`

	sqlFailedOutcomes = `SELECT document_id, name, error_kind, local_path,
		 attempts, error_msg
		FROM transfer_outcomes
		WHERE run_id = ? AND status = 'failed'
		ORDER BY name`
)

// RunRecord is a row from the transfer_runs table: one bulk download and
// how it ended. FinishedAt is the zero time for runs that crashed before
// finishing.
type RunRecord struct {
	RunID      string
	SiteURL    string
	DestDir    string
	Label      string
	StartedAt  time.Time
	FinishedAt time.Time
	Total      int
	Succeeded  int
	Failed     int
	Skipped    int
	Bytes      int64
}

// FailureRecord is a failed row from the transfer_outcomes table, used by
// the status command to show what went wrong in a past run.
type FailureRecord struct {
	DocumentID string
	Name       string
	ErrorKind  string
	LocalPath  string
	Attempts   int
	ErrorMsg   string
}

// Ledger is the sole writer to the transfer database. It records every run
// and every per-document outcome, and answers the one question an
// idempotent re-run needs: did a previous run put this file here?
type Ledger struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time // injectable for deterministic tests
}

// OpenLedger opens the SQLite database at dbPath, runs migrations, and
// returns a ready-to-use ledger. The database uses WAL mode with
// synchronous=FULL for crash-safe durability.
func OpenLedger(dbPath string, logger *slog.Logger) (*Ledger, error) {
	// DSN parameters ensure pragmas apply to every connection from the pool.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)"+
			"&_pragma=journal_size_limit(67108864)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("transfer: opening ledger %s: %w", dbPath, err)
	}

	// Sole-writer pattern: only one connection writes at a time.
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("transfer ledger opened", slog.String("db_path", dbPath))

	return &Ledger{
		db:      db,
		logger:  logger,
		nowFunc: time.Now,
	}, nil
}

// Close releases the underlying database connection.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// BeginRun records the start of a bulk transfer. The row is written before
// any download begins so a crashed run still leaves a trace (finished_at
// stays zero).
func (l *Ledger) BeginRun(ctx context.Context, runID, siteURL, destDir, label string, total int) error {
	_, err := l.db.ExecContext(ctx, sqlInsertRun,
		runID, siteURL, destDir, label, l.nowFunc().UnixNano(), total)
	if err != nil {
		return fmt.Errorf("transfer: ledger begin run: %w", err)
	}

	return nil
}

// RecordOutcome appends one per-document outcome to the run.
func (l *Ledger) RecordOutcome(ctx context.Context, runID string, o Outcome) error {
	var errMsg string
	if o.Err != nil {
		errMsg = o.Err.Error()
	}

	_, err := l.db.ExecContext(ctx, sqlInsertOutcome,
		runID, o.DocumentID, o.Name, o.Status.String(), o.Kind.String(),
		o.LocalPath, o.Bytes, o.Attempts, errMsg, l.nowFunc().UnixNano())
	if err != nil {
		return fmt.Errorf("transfer: ledger record outcome: %w", err)
	}

	return nil
}

// FinishRun stamps the run with its final tallies.
func (l *Ledger) FinishRun(ctx context.Context, runID string, succeeded, failed, skipped int, bytes int64) error {
	res, err := l.db.ExecContext(ctx, sqlFinishRun,
		l.nowFunc().UnixNano(), succeeded, failed, skipped, bytes, runID)
	if err != nil {
		return fmt.Errorf("transfer: ledger finish run: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transfer: ledger finish run rows: %w", err)
	}

	if n == 0 {
		return fmt.Errorf("transfer: ledger finish run: no run %s", runID)
	}

	return nil
}

// OwnsPath reports whether a previous run recorded a successful transfer of
// the given document to the given local path. The transfer manager uses
// this to tell "file we wrote earlier, size drifted" apart from "foreign
// file that happens to share the name".
func (l *Ledger) OwnsPath(ctx context.Context, localPath, documentID string) (bool, error) {
	var owns bool
	if err := l.db.QueryRowContext(ctx, sqlOwnsPath, localPath, documentID).Scan(&owns); err != nil {
		return false, fmt.Errorf("transfer: ledger owns path: %w", err)
	}

	return owns, nil
}

// LastRuns returns the most recent runs, newest first.
func (l *Ledger) LastRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	rows, err := l.db.QueryContext(ctx, sqlLastRuns, limit)
	if err != nil {
		return nil, fmt.Errorf("transfer: ledger listing runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord

	for rows.Next() {
		var (
			r        RunRecord
			started  int64
			finished int64
		)

		if err := rows.Scan(&r.RunID, &r.SiteURL, &r.DestDir, &r.Label,
			&started, &finished, &r.Total, &r.Succeeded, &r.Failed,
			&r.Skipped, &r.Bytes); err != nil {
			return nil, fmt.Errorf("transfer: ledger scanning run: %w", err)
		}

		r.StartedAt = time.Unix(0, started)
		if finished != 0 {
			r.FinishedAt = time.Unix(0, finished)
		}

		runs = append(runs, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("transfer: ledger listing runs: %w", err)
	}

	return runs, nil
}

// FailedOutcomes returns the failed documents of a run, sorted by name.
func (l *Ledger) FailedOutcomes(ctx context.Context, runID string) ([]FailureRecord, error) {
	rows, err := l.db.QueryContext(ctx, sqlFailedOutcomes, runID)
	if err != nil {
		return nil, fmt.Errorf("transfer: ledger listing failures: %w", err)
	}
	defer rows.Close()

	var failures []FailureRecord

	for rows.Next() {
		var f FailureRecord
		if err := rows.Scan(&f.DocumentID, &f.Name, &f.ErrorKind,
			&f.LocalPath, &f.Attempts, &f.ErrorMsg); err != nil {
			return nil, fmt.Errorf("transfer: ledger scanning failure: %w", err)
		}

		failures = append(failures, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("transfer: ledger listing failures: %w", err)
	}

	return failures, nil
}
