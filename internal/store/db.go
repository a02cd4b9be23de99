package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mailprobe/internal/models"
)

var DB *pgxpool.Pool

// Init connects to Postgres and runs migrations.
func Init(connString string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var err error
	DB, err = pgxpool.New(ctx, connString)
	if err != nil {
		return fmt.Errorf("unable to connect to database: %w", err)
	}

	if err := DB.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	return runMigrations(ctx)
}

func runMigrations(ctx context.Context) error {
	queryJobs := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		total_count INT DEFAULT 0,
		processed_count INT DEFAULT 0,
		created_at TIMESTAMP DEFAULT NOW(),
		completed_at TIMESTAMP
	);`

	// One row per address. email is unique: re-verifications overwrite
	// the previous row, last writer wins.
	queryResults := `
	CREATE TABLE IF NOT EXISTS results (
		email TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		score INT NOT NULL,
		reason TEXT,
		checked_at BIGINT NOT NULL,
		ttl BIGINT NOT NULL,
		job_id TEXT,
		domain TEXT NOT NULL
	);`

	queryResultsIdx := `CREATE INDEX IF NOT EXISTS results_job_id ON results (job_id);`

	for _, q := range []string{queryJobs, queryResults, queryResultsIdx} {
		if _, err := DB.Exec(ctx, q); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// UpsertResult writes one verification result inside tx with
// last-writer-wins semantics keyed by email.
func UpsertResult(ctx context.Context, tx pgx.Tx, jobID string, res *models.VerificationResult) error {
	domain := ""
	if at := strings.LastIndex(res.Email, "@"); at >= 0 {
		domain = res.Email[at+1:]
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO results (email, status, score, reason, checked_at, ttl, job_id, domain)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8)
		ON CONFLICT (email) DO UPDATE SET
			status = EXCLUDED.status,
			score = EXCLUDED.score,
			reason = EXCLUDED.reason,
			checked_at = EXCLUDED.checked_at,
			ttl = EXCLUDED.ttl,
			job_id = EXCLUDED.job_id,
			domain = EXCLUDED.domain
	`, res.Email, string(res.Status), res.Score, res.Reason, res.CheckedAt, res.TTL, jobID, domain)
	return err
}

// AdvanceJob increments the job's processed count and marks it completed
// once every address has been handled.
func AdvanceJob(ctx context.Context, tx pgx.Tx, jobID string) error {
	_, err := tx.Exec(ctx, `
		UPDATE jobs
		SET processed_count = processed_count + 1,
		    status = CASE
		        WHEN processed_count + 1 >= total_count THEN 'completed'
		        ELSE status
		    END,
		    completed_at = CASE
		        WHEN processed_count + 1 >= total_count THEN NOW()
		        ELSE completed_at
		    END
		WHERE id = $1
	`, jobID)
	return err
}

// DeleteResult removes every persisted row for the address. Used by the
// deletion endpoint; returns the number of rows removed.
func DeleteResult(ctx context.Context, email string) (int64, error) {
	tag, err := DB.Exec(ctx, `DELETE FROM results WHERE email = $1`, email)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
