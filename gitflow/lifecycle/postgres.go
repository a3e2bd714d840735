package lifecycle

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	// Registers the postgres driver.
	_ "github.com/lib/pq"
)

// PostgresStore persists records in a postgres table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection pool and verifies
// it with a ping.
func NewPostgresStore(
	databaseURL string,
) (*PostgresStore, error) {
	const errCtx = "opening record store"

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: open database: %w", errCtx, err,
		)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(
		context.Background(),
	); err != nil {
		return nil, fmt.Errorf(
			"%s: ping database: %w", errCtx, err,
		)
	}

	return &PostgresStore{db: db}, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the repo_records table when it
// does not exist yet.
func (s *PostgresStore) EnsureSchema(
	ctx context.Context,
) error {
	const errCtx = "ensuring record schema"

	query := `
		CREATE TABLE IF NOT EXISTS repo_records (
			id BIGSERIAL PRIMARY KEY,
			user_id TEXT NOT NULL,
			clone_url TEXT NOT NULL,
			repo_name TEXT NOT NULL,
			status TEXT NOT NULL,
			branch TEXT NOT NULL DEFAULT 'main',
			local_path TEXT,
			last_clone_attempt TIMESTAMPTZ,
			clone_error_message TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (user_id, repo_name)
		)`

	if _, err := s.db.ExecContext(
		ctx, query,
	); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	return nil
}

const recordColumns = `id, user_id, clone_url,
	repo_name, status, branch,
	COALESCE(local_path, ''),
	last_clone_attempt,
	COALESCE(clone_error_message, ''),
	created_at, updated_at`

// scanRecord reads one row into a Record.
func scanRecord(
	row interface{ Scan(...any) error },
) (*Record, error) {
	var (
		rec     Record
		status  string
		attempt sql.NullTime
	)

	err := row.Scan(
		&rec.ID, &rec.UserID, &rec.CloneURL,
		&rec.RepoName, &status, &rec.Branch,
		&rec.LocalPath, &attempt,
		&rec.CloneErrorMsg,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Status = Status(status)

	if attempt.Valid {
		t := attempt.Time
		rec.LastCloneAttempt = &t
	}

	return &rec, nil
}

// nullable maps empty strings to SQL NULL so the
// record invariants hold at the column level.
func nullable(s string) any {
	if s == "" {
		return nil
	}

	return s
}

// Get implements Store.
func (s *PostgresStore) Get(
	ctx context.Context,
	userID string,
	repoName string,
) (*Record, error) {
	query := `SELECT ` + recordColumns + `
		FROM repo_records
		WHERE user_id = $1 AND repo_name = $2`

	rec, err := scanRecord(s.db.QueryRowContext(
		ctx, query, userID, repoName,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf(
			"%s/%s: %w",
			userID, repoName, ErrRecordNotFound,
		)
	}

	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}

	return rec, nil
}

// Insert implements Store.
func (s *PostgresStore) Insert(
	ctx context.Context,
	rec *Record,
) (*Record, error) {
	query := `INSERT INTO repo_records
		(user_id, clone_url, repo_name, status,
		 branch, local_path, last_clone_attempt,
		 clone_error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + recordColumns

	out, err := scanRecord(s.db.QueryRowContext(
		ctx, query,
		rec.UserID, rec.CloneURL, rec.RepoName,
		string(rec.Status), rec.Branch,
		nullable(rec.LocalPath),
		rec.LastCloneAttempt,
		nullable(rec.CloneErrorMsg),
	))
	if err != nil {
		return nil, fmt.Errorf(
			"insert record: %w", err,
		)
	}

	return out, nil
}

// Update implements Store.
func (s *PostgresStore) Update(
	ctx context.Context,
	rec *Record,
) error {
	query := `UPDATE repo_records SET
		clone_url = $1,
		status = $2,
		branch = $3,
		local_path = $4,
		last_clone_attempt = $5,
		clone_error_message = $6,
		updated_at = NOW()
		WHERE id = $7`

	res, err := s.db.ExecContext(
		ctx, query,
		rec.CloneURL, string(rec.Status),
		rec.Branch, nullable(rec.LocalPath),
		rec.LastCloneAttempt,
		nullable(rec.CloneErrorMsg),
		rec.ID,
	)
	if err != nil {
		return fmt.Errorf("update record: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf(
			"%s/%s: %w",
			rec.UserID, rec.RepoName,
			ErrRecordNotFound,
		)
	}

	return nil
}

// ListByUser implements Store.
func (s *PostgresStore) ListByUser(
	ctx context.Context,
	userID string,
) ([]Record, error) {
	query := `SELECT ` + recordColumns + `
		FROM repo_records
		WHERE user_id = $1
		ORDER BY created_at`

	rows, err := s.db.QueryContext(
		ctx, query, userID,
	)
	if err != nil {
		return nil, fmt.Errorf(
			"list records: %w", err,
		)
	}
	defer rows.Close() //nolint:errcheck

	var out []Record

	for rows.Next() {
		rec, serr := scanRecord(rows)
		if serr != nil {
			return nil, fmt.Errorf(
				"scan record: %w", serr,
			)
		}

		out = append(out, *rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf(
			"list records: %w", err,
		)
	}

	return out, nil
}

// Delete implements Store.
func (s *PostgresStore) Delete(
	ctx context.Context,
	userID string,
	repoName string,
) error {
	query := `DELETE FROM repo_records
		WHERE user_id = $1 AND repo_name = $2`

	if _, err := s.db.ExecContext(
		ctx, query, userID, repoName,
	); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}

	return nil
}
