// Package admins persists admin accounts and their login bookkeeping.
package admins

import (
	"context"
	"time"

	"github.com/dmitrijs2005/postboard/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, a *models.Admin) (int64, error)
	GetByUsername(ctx context.Context, username string) (*models.Admin, error)
	RecordLoginSuccess(ctx context.Context, id int64, now time.Time) error
	RecordLoginFailure(ctx context.Context, id int64, now time.Time) (int, error)
}
