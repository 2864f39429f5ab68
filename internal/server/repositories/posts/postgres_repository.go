package posts

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

const postColumns = `id, title, content, password_hash, created_at, updated_at, deleted_at`

// PostgresRepository implements Repository over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(row rowScanner) (*models.Post, error) {
	var (
		p         models.Post
		deletedAt sql.NullTime
	)
	if err := row.Scan(&p.ID, &p.Title, &p.Content, &p.PasswordHash, &p.CreatedAt, &p.UpdatedAt, &deletedAt); err != nil {
		return nil, err
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		p.DeletedAt = &t
	}
	return &p, nil
}

// Create inserts p and returns the assigned id. Timestamps are taken from p.
func (r *PostgresRepository) Create(ctx context.Context, p *models.Post) (int64, error) {
	query := `
		INSERT INTO posts (title, content, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	var id int64
	if err := r.db.QueryRowContext(ctx, query, p.Title, p.Content, p.PasswordHash, p.CreatedAt, p.UpdatedAt).Scan(&id); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return id, nil
}

// GetByID returns the post regardless of its deleted state, or
// common.ErrorNotFound.
func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (*models.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE id = $1`

	p, err := scanPost(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return p, nil
}

// ListRecent returns up to limit posts, newest first. Soft-deleted posts
// are included only when includeDeleted is set.
func (r *PostgresRepository) ListRecent(ctx context.Context, limit int, includeDeleted bool) ([]*models.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts`
	if !includeDeleted {
		query += ` WHERE deleted_at IS NULL`
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	result := make([]*models.Post, 0, limit)
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return result, nil
}

// Update replaces title and content of an active post.
func (r *PostgresRepository) Update(ctx context.Context, p *models.Post) error {
	query := `
		UPDATE posts SET title = $2, content = $3, updated_at = $4
		WHERE id = $1 AND deleted_at IS NULL`

	res, err := r.db.ExecContext(ctx, query, p.ID, p.Title, p.Content, p.UpdatedAt)
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

// SoftDelete stamps deleted_at on an active post. It reports false when
// the post was already deleted or does not exist.
func (r *PostgresRepository) SoftDelete(ctx context.Context, id int64, now time.Time) (bool, error) {
	query := `UPDATE posts SET deleted_at = $2, updated_at = $2 WHERE id = $1 AND deleted_at IS NULL`
	return r.execChanged(ctx, query, id, now)
}

// Restore clears deleted_at. It reports false when the post was already
// active or does not exist.
func (r *PostgresRepository) Restore(ctx context.Context, id int64, now time.Time) (bool, error) {
	query := `UPDATE posts SET deleted_at = NULL, updated_at = $2 WHERE id = $1 AND deleted_at IS NOT NULL`
	return r.execChanged(ctx, query, id, now)
}

func (r *PostgresRepository) execChanged(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	return n > 0, nil
}
