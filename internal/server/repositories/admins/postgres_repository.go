package admins

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/postboard/internal/common"
	"github.com/dmitrijs2005/postboard/internal/dbx"
	"github.com/dmitrijs2005/postboard/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, a *models.Admin) (int64, error) {
	query := `
		INSERT INTO admins (username, password_hash, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	var id int64
	if err := r.db.QueryRowContext(ctx, query, a.Username, a.PasswordHash, a.Role, a.CreatedAt, a.UpdatedAt).Scan(&id); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return id, nil
}

func (r *PostgresRepository) GetByUsername(ctx context.Context, username string) (*models.Admin, error) {
	query := `
		SELECT id, username, password_hash, role, failed_login_count, last_login_at, created_at, updated_at
		FROM admins WHERE username = $1`

	var (
		a         models.Admin
		lastLogin sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, username).Scan(
		&a.ID, &a.Username, &a.PasswordHash, &a.Role, &a.FailedLoginCount, &lastLogin, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		a.LastLoginAt = &t
	}
	return &a, nil
}

// RecordLoginSuccess resets the failure counter and stamps last_login_at.
func (r *PostgresRepository) RecordLoginSuccess(ctx context.Context, id int64, now time.Time) error {
	query := `UPDATE admins SET failed_login_count = 0, last_login_at = $2, updated_at = $2 WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query, id, now)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

// RecordLoginFailure increments the failure counter and returns its new value.
func (r *PostgresRepository) RecordLoginFailure(ctx context.Context, id int64, now time.Time) (int, error) {
	query := `
		UPDATE admins SET failed_login_count = failed_login_count + 1, updated_at = $2
		WHERE id = $1
		RETURNING failed_login_count`

	var count int
	if err := r.db.QueryRowContext(ctx, query, id, now).Scan(&count); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, common.ErrorNotFound
		}
		return 0, fmt.Errorf("db error: %w", err)
	}
	return count, nil
}
