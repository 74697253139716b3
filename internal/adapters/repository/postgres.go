package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/okian/holdout/internal/domain/model"
	"github.com/okian/holdout/pkg/metrics"
)

// Connection pool settings.
const (
	maxOpenConns    = 25
	maxIdleConns    = 25
	connMaxLifetime = 5 * time.Minute
)

const schema = `
CREATE TABLE IF NOT EXISTS submissions (
	id           BIGSERIAL PRIMARY KEY,
	user_id      VARCHAR(64) NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	artifact_ref TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS submissions_user_created_idx ON submissions (user_id, created_at);
CREATE TABLE IF NOT EXISTS evaluations (
	submission_id      BIGINT PRIMARY KEY REFERENCES submissions (id),
	public_score       DOUBLE PRECISION NOT NULL,
	private_score      DOUBLE PRECISION NOT NULL,
	evaluated_at       TIMESTAMPTZ NOT NULL,
	selected_for_final BOOLEAN NOT NULL DEFAULT FALSE
);`

const selectRecords = `
SELECT s.id, s.user_id, s.created_at, s.artifact_ref,
       e.public_score, e.private_score, e.evaluated_at, e.selected_for_final
FROM submissions s
LEFT JOIN evaluations e ON e.submission_id = s.id`

// PostgresStore is a Store backed by PostgreSQL. The per-participant
// critical section is a transaction-scoped advisory lock keyed by user id.
type PostgresStore struct {
	db *sql.DB
}

// Connect opens a pooled connection and verifies it within timeout.
func Connect(ctx context.Context, dsn string, timeout time.Duration) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create database handle: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database within %v: %w", timeout, err)
	}
	return db, nil
}

// NewPostgresStore wraps db and creates the schema if missing.
func NewPostgresStore(ctx context.Context, db *sql.DB) (*PostgresStore, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// inUserTx runs fn in a transaction holding the participant's advisory lock.
func (s *PostgresStore) inUserTx(ctx context.Context, userID string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, userID); err != nil {
		return fmt.Errorf("lock participant %q: %w", userID, err)
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func history(ctx context.Context, q queryer, userID string) (model.History, error) {
	var (
		count int
		last  sql.NullTime
	)
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*), MAX(created_at) FROM submissions WHERE user_id = $1`, userID,
	).Scan(&count, &last)
	if err != nil {
		return model.History{}, fmt.Errorf("load history of %q: %w", userID, err)
	}
	h := model.History{Count: count}
	if last.Valid {
		h.Last = last.Time.UTC()
	}
	return h, nil
}

// Append implements Store.
func (s *PostgresStore) Append(ctx context.Context, sub model.Submission, eval *model.Evaluation, admit AdmitFunc) (model.Submission, error) {
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryUpdateLatency(float64(time.Since(start).Milliseconds()))
	}()

	err := s.inUserTx(ctx, sub.UserID, func(tx *sql.Tx) error {
		h, err := history(ctx, tx, sub.UserID)
		if err != nil {
			return err
		}
		if admit != nil {
			if err := admit(h); err != nil {
				return err
			}
		}
		if h.HasLast() && sub.CreatedAt.Before(h.Last) {
			sub.CreatedAt = h.Last
		}
		err = tx.QueryRowContext(ctx,
			`INSERT INTO submissions (user_id, created_at, artifact_ref) VALUES ($1, $2, $3) RETURNING id`,
			sub.UserID, sub.CreatedAt, sub.ArtifactRef,
		).Scan(&sub.ID)
		if err != nil {
			return fmt.Errorf("insert submission: %w", err)
		}
		if eval == nil {
			return nil
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO evaluations (submission_id, public_score, private_score, evaluated_at, selected_for_final)
			 VALUES ($1, $2, $3, $4, $5)`,
			sub.ID, eval.PublicScore, eval.PrivateScore, eval.EvaluatedAt, eval.SelectedForFinal,
		)
		if err != nil {
			return fmt.Errorf("insert evaluation: %w", err)
		}
		return nil
	})
	if err != nil {
		return model.Submission{}, err
	}
	return sub, nil
}

// History implements Store.
func (s *PostgresStore) History(ctx context.Context, userID string) (model.History, error) {
	return history(ctx, s.db, userID)
}

func (s *PostgresStore) queryRecords(ctx context.Context, query string, args ...any) ([]model.Record, error) {
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryQueryLatency(float64(time.Since(start).Milliseconds()))
	}()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var out []model.Record
	for rows.Next() {
		var (
			r           model.Record
			pub, priv   sql.NullFloat64
			evaluatedAt sql.NullTime
			selected    sql.NullBool
		)
		if err := rows.Scan(&r.Submission.ID, &r.Submission.UserID, &r.Submission.CreatedAt, &r.Submission.ArtifactRef,
			&pub, &priv, &evaluatedAt, &selected); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		r.Submission.CreatedAt = r.Submission.CreatedAt.UTC()
		if pub.Valid {
			r.Evaluation = &model.Evaluation{
				SubmissionID:     r.Submission.ID,
				PublicScore:      pub.Float64,
				PrivateScore:     priv.Float64,
				EvaluatedAt:      evaluatedAt.Time.UTC(),
				SelectedForFinal: selected.Bool,
			}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

// Records implements Store.
func (s *PostgresStore) Records(ctx context.Context) ([]model.Record, error) {
	return s.queryRecords(ctx, selectRecords+` ORDER BY s.id`)
}

// UserRecords implements Store.
func (s *PostgresStore) UserRecords(ctx context.Context, userID string) ([]model.Record, error) {
	return s.queryRecords(ctx, selectRecords+` WHERE s.user_id = $1 ORDER BY s.id`, userID)
}

// ReplaceSelection implements Store.
func (s *PostgresStore) ReplaceSelection(ctx context.Context, userID string, ids []int64) error {
	return s.inUserTx(ctx, userID, func(tx *sql.Tx) error {
		if len(ids) > 0 {
			var owned int
			err := tx.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM submissions s JOIN evaluations e ON e.submission_id = s.id
				 WHERE s.user_id = $1 AND s.id = ANY($2)`,
				userID, pq.Array(ids),
			).Scan(&owned)
			if err != nil {
				return fmt.Errorf("check selection ownership: %w", err)
			}
			if owned != len(ids) {
				return fmt.Errorf("%w: %d of %d ids for user %q", ErrSubmissionNotFound, len(ids)-owned, len(ids), userID)
			}
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE evaluations SET selected_for_final = (submission_id = ANY($2))
			 WHERE submission_id IN (SELECT id FROM submissions WHERE user_id = $1)`,
			userID, pq.Array(ids),
		)
		if err != nil {
			return fmt.Errorf("replace selection: %w", err)
		}
		return nil
	})
}

// Stats implements Store.
func (s *PostgresStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(DISTINCT user_id) FROM submissions),
		        (SELECT COUNT(*) FROM submissions),
		        (SELECT COUNT(*) FROM evaluations)`,
	).Scan(&st.Participants, &st.Submissions, &st.Evaluations)
	if err != nil {
		if errors.Is(err, sql.ErrConnDone) {
			return Stats{}, ErrClosed
		}
		return Stats{}, fmt.Errorf("stats: %w", err)
	}
	return st, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
