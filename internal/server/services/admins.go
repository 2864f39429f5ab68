package services

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/postboard/internal/common"
	"github.com/dmitrijs2005/postboard/internal/cryptox"
	"github.com/dmitrijs2005/postboard/internal/logging"
	"github.com/dmitrijs2005/postboard/internal/server/auth"
	"github.com/dmitrijs2005/postboard/internal/server/config"
	"github.com/dmitrijs2005/postboard/internal/server/models"
	"github.com/dmitrijs2005/postboard/internal/server/repositories/repomanager"
)

// AdminService authenticates admins and issues their access tokens.
type AdminService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	verifier    cryptox.PasswordVerifier
	jwtSecret   []byte
	tokenTTL    time.Duration
	log         logging.Logger
	now         func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

func NewAdminService(db *sql.DB, m repomanager.RepositoryManager, verifier cryptox.PasswordVerifier,
	cfg *config.Config, log logging.Logger) *AdminService {
	return &AdminService{
		db:          db,
		repomanager: m,
		verifier:    verifier,
		jwtSecret:   []byte(cfg.SecretKey),
		tokenTTL:    cfg.AdminTokenTTL,
		log:         log,
		now:         time.Now,
	}
}

// Login checks credentials and returns a signed token. Each wrong password
// counts towards the lock threshold; a locked account is refused before
// its password is checked.
func (s *AdminService) Login(ctx context.Context, username, password string) (string, *models.Admin, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return "", nil, common.ErrAdminInvalidCredentials
	}

	repo := s.repomanager.Admins(s.db)
	admin, err := repo.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			// burn a comparable amount of time so absence is not observable
			s.verifier.Verify(password, s.getDummyHash())
			return "", nil, common.ErrAdminInvalidCredentials
		}
		return "", nil, common.Wrap(common.ErrInternal, err)
	}

	if admin.Locked() {
		s.log.Warn(ctx, "login to locked admin account", "admin_id", admin.ID)
		return "", nil, common.ErrAdminAccountLocked
	}

	if !s.verifier.Verify(password, admin.PasswordHash) {
		count, err := repo.RecordLoginFailure(ctx, admin.ID, s.now())
		if err != nil {
			return "", nil, common.Wrap(common.ErrInternal, err)
		}
		s.log.Warn(ctx, "admin login failed", "admin_id", admin.ID, "failed_count", count)
		return "", nil, common.ErrAdminInvalidCredentials
	}

	now := s.now()
	if err := repo.RecordLoginSuccess(ctx, admin.ID, now); err != nil {
		return "", nil, common.Wrap(common.ErrInternal, err)
	}
	admin.FailedLoginCount = 0
	admin.LastLoginAt = &now

	token, err := auth.GenerateToken(admin.ID, admin.Role, s.jwtSecret, s.tokenTTL)
	if err != nil {
		return "", nil, common.Wrap(common.ErrInternal, err)
	}
	return token, admin, nil
}

// CreateAdmin provisions an admin account.
func (s *AdminService) CreateAdmin(ctx context.Context, username, password string) (int64, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return 0, common.ErrInvalidRequest
	}
	if len(password) > maxPasswordBytes {
		return 0, common.Wrap(common.ErrInvalidRequest, errors.New("password must be at most 72 bytes"))
	}
	hash, err := s.verifier.Hash(password)
	if err != nil {
		return 0, common.Wrap(common.ErrInternal, err)
	}
	now := s.now()
	return s.repomanager.Admins(s.db).Create(ctx, &models.Admin{
		Username:     username,
		PasswordHash: hash,
		Role:         models.RoleAdmin,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
}

func (s *AdminService) getDummyHash() string {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = s.verifier.Hash("postboard-dummy-password")
	})
	return s.dummyHash
}
