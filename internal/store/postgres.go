package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, email, full_name, password_hash, is_active, created_at
		FROM users WHERE email = $1
	`, normalizeEmail(email)))
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id int64) (User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, email, full_name, password_hash, is_active, created_at
		FROM users WHERE id = $1
	`, id))
}

func (s *PostgresStore) CreateUser(ctx context.Context, email, fullName, passwordHash string) (User, error) {
	user, err := s.scanUser(s.db.QueryRowContext(ctx, `
		INSERT INTO users (email, full_name, password_hash)
		VALUES ($1, $2, $3)
		RETURNING id, email, full_name, password_hash, is_active, created_at
	`, normalizeEmail(email), strings.TrimSpace(fullName), passwordHash))
	if err != nil {
		return User{}, wrapErr("insert user", err)
	}
	return user, nil
}

func (s *PostgresStore) scanUser(row rowScanner) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.Email, &user.FullName, &user.PasswordHash, &user.IsActive, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetAdminByEmail(ctx context.Context, email string) (Admin, error) {
	return s.scanAdmin(s.db.QueryRowContext(ctx, `
		SELECT id, email, full_name, password_hash, role, array_to_json(permissions), is_active, created_at
		FROM admins WHERE email = $1
	`, normalizeEmail(email)))
}

func (s *PostgresStore) GetAdminByID(ctx context.Context, id int64) (Admin, error) {
	return s.scanAdmin(s.db.QueryRowContext(ctx, `
		SELECT id, email, full_name, password_hash, role, array_to_json(permissions), is_active, created_at
		FROM admins WHERE id = $1
	`, id))
}

func (s *PostgresStore) CreateAdmin(ctx context.Context, admin Admin) (Admin, error) {
	permissions := admin.Permissions
	if permissions == nil {
		permissions = []string{}
	}
	created, err := s.scanAdmin(s.db.QueryRowContext(ctx, `
		INSERT INTO admins (email, full_name, password_hash, role, permissions)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, email, full_name, password_hash, role, array_to_json(permissions), is_active, created_at
	`, normalizeEmail(admin.Email), strings.TrimSpace(admin.FullName), admin.PasswordHash, admin.Role, permissions))
	if err != nil {
		return Admin{}, wrapErr("insert admin", err)
	}
	return created, nil
}

func (s *PostgresStore) CountAdmins(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM admins`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count admins: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) scanAdmin(row rowScanner) (Admin, error) {
	var (
		admin       Admin
		permissions []byte
	)
	err := row.Scan(&admin.ID, &admin.Email, &admin.FullName, &admin.PasswordHash, &admin.Role,
		&permissions, &admin.IsActive, &admin.CreatedAt)
	if err != nil {
		return Admin{}, err
	}
	admin.Permissions = []string{}
	if len(permissions) > 0 {
		if err := json.Unmarshal(permissions, &admin.Permissions); err != nil {
			return Admin{}, fmt.Errorf("decode admin permissions: %w", err)
		}
	}
	return admin, nil
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash string, subject Subject, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, subject_kind, subject_id, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (token_hash) DO UPDATE
		SET subject_kind=EXCLUDED.subject_kind, subject_id=EXCLUDED.subject_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, subject.Kind, subject.ID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (Subject, error) {
	var subject Subject
	err := s.db.QueryRowContext(ctx, `
		SELECT subject_kind, subject_id
		FROM refresh_sessions
		WHERE token_hash = $1
			AND revoked_at IS NULL
			AND expires_at > NOW()
	`, tokenHash).Scan(&subject.Kind, &subject.ID)
	if err != nil {
		return Subject{}, err
	}
	return subject, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// PurgeExpiredSessions removes refresh sessions and revoked token markers
// that can no longer matter.
func (s *PostgresStore) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	var total int64
	for _, stmt := range []string{
		`DELETE FROM refresh_sessions WHERE expires_at < NOW() OR revoked_at IS NOT NULL`,
		`DELETE FROM revoked_access_tokens WHERE expires_at < NOW()`,
	} {
		res, err := s.db.ExecContext(ctx, stmt)
		if err != nil {
			return total, fmt.Errorf("purge sessions: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

func (s *PostgresStore) StartRegenerationRun(ctx context.Context, trigger, entity string, recordID int64) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO regeneration_runs (trigger, entity, record_id)
		VALUES ($1, NULLIF($2, ''), NULLIF($3::bigint, 0))
		RETURNING id
	`, trigger, entity, recordID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("start regeneration run: %w", err)
	}
	return id, nil
}

// FinishRegenerationRun records the outcome of a run. A non-empty errText
// marks it failed.
func (s *PostgresStore) FinishRegenerationRun(ctx context.Context, id int64, sitemapURLs int, commitHash, errText string) error {
	status := "succeeded"
	if errText != "" {
		status = "failed"
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE regeneration_runs
		SET status=$2, sitemap_urls=$3, commit_hash=$4, error=$5, finished_at=NOW()
		WHERE id=$1
	`, id, status, sitemapURLs, commitHash, errText)
	if err != nil {
		return fmt.Errorf("finish regeneration run: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListRegenerationRuns(ctx context.Context, limit int) ([]RegenerationRun, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, trigger, COALESCE(entity, ''), COALESCE(record_id, 0), status, sitemap_urls,
			commit_hash, error, started_at, finished_at
		FROM regeneration_runs
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list regeneration runs: %w", err)
	}
	defer rows.Close()

	runs := make([]RegenerationRun, 0)
	for rows.Next() {
		var (
			run      RegenerationRun
			finished sql.NullTime
		)
		if err := rows.Scan(&run.ID, &run.Trigger, &run.Entity, &run.RecordID, &run.Status, &run.SitemapURLs,
			&run.CommitHash, &run.Error, &run.StartedAt, &finished); err != nil {
			return nil, fmt.Errorf("scan regeneration run: %w", err)
		}
		run.FinishedAt = nullTime(finished)
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate regeneration runs: %w", err)
	}
	return runs, nil
}

// IsNotFound reports whether err means a lookup matched no row.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
