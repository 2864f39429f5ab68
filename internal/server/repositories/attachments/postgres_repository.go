package attachments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/postboard/internal/common"
	"github.com/dmitrijs2005/postboard/internal/dbx"
	"github.com/dmitrijs2005/postboard/internal/server/models"
)

const attachmentColumns = `id, post_id, original_name, storage_key, content_type, size_bytes, status, error_message, created_at, updated_at, deleted_at`

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

func scanAttachment(row rowScanner) (*models.Attachment, error) {
	var (
		a         models.Attachment
		status    string
		errMsg    sql.NullString
		deletedAt sql.NullTime
	)
	err := row.Scan(&a.ID, &a.PostID, &a.OriginalName, &a.StorageKey, &a.ContentType, &a.SizeBytes,
		&status, &errMsg, &a.CreatedAt, &a.UpdatedAt, &deletedAt)
	if err != nil {
		return nil, err
	}
	a.Status = models.AttachmentStatus(status)
	if errMsg.Valid {
		s := errMsg.String
		a.ErrorMessage = &s
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		a.DeletedAt = &t
	}
	return &a, nil
}

func (r *PostgresRepository) queryList(ctx context.Context, query string, args ...any) ([]*models.Attachment, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.Attachment
	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return result, nil
}

// Create inserts a new record and returns its id. The caller sets Status
// (normally PENDING) and the timestamps.
func (r *PostgresRepository) Create(ctx context.Context, a *models.Attachment) (int64, error) {
	query := `
		INSERT INTO attachments (post_id, original_name, storage_key, content_type, size_bytes, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`

	var id int64
	err := r.db.QueryRowContext(ctx, query,
		a.PostID, a.OriginalName, a.StorageKey, a.ContentType, a.SizeBytes, string(a.Status), a.CreatedAt, a.UpdatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return id, nil
}

// GetByID returns the record in any status, or common.ErrorNotFound.
func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (*models.Attachment, error) {
	query := `SELECT ` + attachmentColumns + ` FROM attachments WHERE id = $1`

	a, err := scanAttachment(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return a, nil
}

// ListByPost returns the non-deleted records of a post in the given status,
// in id order.
func (r *PostgresRepository) ListByPost(ctx context.Context, postID int64, status models.AttachmentStatus) ([]*models.Attachment, error) {
	query := `SELECT ` + attachmentColumns + ` FROM attachments
		WHERE post_id = $1 AND status = $2 AND deleted_at IS NULL
		ORDER BY id ASC`
	return r.queryList(ctx, query, postID, string(status))
}

// ExistsActiveByPost reports whether the post has any non-deleted record.
func (r *PostgresRepository) ExistsActiveByPost(ctx context.Context, postID int64) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM attachments WHERE post_id = $1 AND deleted_at IS NULL)`

	var exists bool
	if err := r.db.QueryRowContext(ctx, query, postID).Scan(&exists); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return exists, nil
}

// HasActiveByPosts is the batch form of ExistsActiveByPost. Posts without
// live attachments are absent from the result.
func (r *PostgresRepository) HasActiveByPosts(ctx context.Context, postIDs []int64) (map[int64]bool, error) {
	result := make(map[int64]bool, len(postIDs))
	if len(postIDs) == 0 {
		return result, nil
	}

	placeholders := make([]string, len(postIDs))
	args := make([]any, len(postIDs))
	for i, id := range postIDs {
		placeholders[i] = "$" + strconv.Itoa(i+1)
		args[i] = id
	}
	query := `SELECT DISTINCT post_id FROM attachments
		WHERE deleted_at IS NULL AND post_id IN (` + strings.Join(placeholders, ", ") + `)`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		result[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return result, nil
}

// MarkReady moves a PENDING record to READY and clears any error text.
func (r *PostgresRepository) MarkReady(ctx context.Context, id int64, now time.Time) error {
	query := `
		UPDATE attachments SET status = 'READY', error_message = NULL, updated_at = $2
		WHERE id = $1 AND status = 'PENDING'`
	return r.execFinalize(ctx, query, id, now)
}

// MarkFailed moves a PENDING record to FAILED with the given message.
func (r *PostgresRepository) MarkFailed(ctx context.Context, id int64, message string, now time.Time) error {
	query := `
		UPDATE attachments SET status = 'FAILED', error_message = $2, updated_at = $3
		WHERE id = $1 AND status = 'PENDING'`
	return r.execFinalize(ctx, query, id, message, now)
}

func (r *PostgresRepository) execFinalize(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 1:
		return nil
	case 0:
		return ErrNotPending
	default:
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
}

// MarkDeleted moves a READY or FAILED record to DELETED. It reports false
// when the record is still PENDING, already deleted or does not exist.
func (r *PostgresRepository) MarkDeleted(ctx context.Context, id int64, now time.Time) (bool, error) {
	query := `
		UPDATE attachments SET status = 'DELETED', deleted_at = $2, updated_at = $2
		WHERE id = $1 AND status IN ('READY', 'FAILED')`

	res, err := r.db.ExecContext(ctx, query, id, now)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	return n > 0, nil
}

// SoftDeleteByPost marks every READY or FAILED record of the post DELETED
// and returns the storage keys of the records it changed. PENDING records
// belong to an upload still in flight and are left alone.
func (r *PostgresRepository) SoftDeleteByPost(ctx context.Context, postID int64, now time.Time) ([]string, error) {
	query := `
		UPDATE attachments SET status = 'DELETED', deleted_at = $2, updated_at = $2
		WHERE post_id = $1 AND status IN ('READY', 'FAILED')
		RETURNING storage_key`

	rows, err := r.db.QueryContext(ctx, query, postID, now)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return keys, nil
}

// ListStalePending returns PENDING records created before the cutoff,
// oldest first.
func (r *PostgresRepository) ListStalePending(ctx context.Context, before time.Time, limit int) ([]*models.Attachment, error) {
	query := `SELECT ` + attachmentColumns + ` FROM attachments
		WHERE status = 'PENDING' AND created_at < $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2`
	return r.queryList(ctx, query, before, limit)
}
