// Package attachments persists attachment metadata. Status transitions are
// guarded in SQL so that a record only moves along PENDING -> READY|FAILED
// and from any live status to DELETED.
package attachments

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/postboard/internal/server/models"
)

// ErrNotPending is returned by finalize calls on a record that has already
// left the PENDING state.
var ErrNotPending = errors.New("attachment is not pending")

type Repository interface {
	Create(ctx context.Context, a *models.Attachment) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.Attachment, error)
	ListByPost(ctx context.Context, postID int64, status models.AttachmentStatus) ([]*models.Attachment, error)
	ExistsActiveByPost(ctx context.Context, postID int64) (bool, error)
	HasActiveByPosts(ctx context.Context, postIDs []int64) (map[int64]bool, error)
	MarkReady(ctx context.Context, id int64, now time.Time) error
	MarkFailed(ctx context.Context, id int64, message string, now time.Time) error
	MarkDeleted(ctx context.Context, id int64, now time.Time) (bool, error)
	SoftDeleteByPost(ctx context.Context, postID int64, now time.Time) ([]string, error)
	ListStalePending(ctx context.Context, before time.Time, limit int) ([]*models.Attachment, error)
}
