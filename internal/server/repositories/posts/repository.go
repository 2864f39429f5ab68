// Package posts persists board posts.
package posts

import (
	"context"
	"time"

	"github.com/dmitrijs2005/postboard/internal/server/models"
)

// Repository stores posts. Visibility is always an explicit argument:
// nothing filters soft-deleted posts implicitly.
type Repository interface {
	Create(ctx context.Context, p *models.Post) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.Post, error)
	ListRecent(ctx context.Context, limit int, includeDeleted bool) ([]*models.Post, error)
	Update(ctx context.Context, p *models.Post) error
	SoftDelete(ctx context.Context, id int64, now time.Time) (bool, error)
	Restore(ctx context.Context, id int64, now time.Time) (bool, error)
}
