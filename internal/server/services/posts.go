package services

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/dmitrijs2005/postboard/internal/common"
	"github.com/dmitrijs2005/postboard/internal/cryptox"
	"github.com/dmitrijs2005/postboard/internal/dbx"
	"github.com/dmitrijs2005/postboard/internal/logging"
	"github.com/dmitrijs2005/postboard/internal/server/blobstore"
	"github.com/dmitrijs2005/postboard/internal/server/config"
	"github.com/dmitrijs2005/postboard/internal/server/models"
	"github.com/dmitrijs2005/postboard/internal/server/monitoring"
	"github.com/dmitrijs2005/postboard/internal/server/repositories/repomanager"
)

// bcrypt ignores input past 72 bytes, so longer secrets are refused.
const maxPasswordBytes = 72

// PostService is the single authority for password-gated mutations of
// posts and their attachments, plus the read paths that depend on
// visibility.
type PostService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	store       blobstore.Store
	verifier    cryptox.PasswordVerifier
	listLimit   int
	log         logging.Logger
	metrics     *monitoring.Metrics
	now         func() time.Time
}

func NewPostService(db *sql.DB, m repomanager.RepositoryManager, store blobstore.Store, verifier cryptox.PasswordVerifier,
	cfg *config.Config, log logging.Logger, metrics *monitoring.Metrics) *PostService {
	return &PostService{
		db:          db,
		repomanager: m,
		store:       store,
		verifier:    verifier,
		listLimit:   cfg.ListLimit,
		log:         log,
		metrics:     metrics,
		now:         time.Now,
	}
}

func validatePostFields(title, content string) (string, string, error) {
	title = strings.TrimSpace(title)
	content = strings.TrimSpace(content)
	if title == "" {
		return "", "", common.ErrPostTitleRequired
	}
	if content == "" {
		return "", "", common.ErrPostContentRequired
	}
	return title, content, nil
}

// CreatePost stores a new post protected by secret.
func (s *PostService) CreatePost(ctx context.Context, title, content, secret string) (int64, error) {
	title, content, err := validatePostFields(title, content)
	if err != nil {
		return 0, err
	}
	if strings.TrimSpace(secret) == "" {
		return 0, common.ErrPostPasswordRequired
	}
	if len(secret) > maxPasswordBytes {
		return 0, common.ErrPostPasswordTooLong
	}

	hash, err := s.verifier.Hash(secret)
	if err != nil {
		return 0, common.Wrap(common.ErrInternal, err)
	}

	now := s.now()
	id, err := s.repomanager.Posts(s.db).Create(ctx, &models.Post{
		Title:        title,
		Content:      content,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return 0, common.Wrap(common.ErrInternal, err)
	}
	s.log.Info(ctx, "post created", "post_id", id)
	return id, nil
}

// VerifyPassword succeeds only for an active post whose password matches.
func (s *PostService) VerifyPassword(ctx context.Context, postID int64, secret string) error {
	_, err := s.verifiedPost(ctx, postID, secret)
	return err
}

func (s *PostService) verifiedPost(ctx context.Context, postID int64, secret string) (*models.Post, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, common.ErrPostPasswordRequired
	}
	post, err := s.loadPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	if !post.Active() {
		return nil, common.ErrPostAlreadyDeleted
	}
	if !s.verifier.Verify(secret, post.PasswordHash) {
		return nil, common.ErrPostPasswordMismatch
	}
	return post, nil
}

func (s *PostService) loadPost(ctx context.Context, postID int64) (*models.Post, error) {
	post, err := s.repomanager.Posts(s.db).GetByID(ctx, postID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrPostNotFound
		}
		return nil, common.Wrap(common.ErrInternal, err)
	}
	return post, nil
}

// UpdatePost replaces title and content after verifying secret.
func (s *PostService) UpdatePost(ctx context.Context, postID int64, secret, title, content string) error {
	post, err := s.verifiedPost(ctx, postID, secret)
	if err != nil {
		return err
	}
	title, content, err = validatePostFields(title, content)
	if err != nil {
		return err
	}

	post.Title = title
	post.Content = content
	post.UpdatedAt = s.now()
	if err := s.repomanager.Posts(s.db).Update(ctx, post); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrPostNotFound
		}
		return common.Wrap(common.ErrInternal, err)
	}
	return nil
}

// DeletePost soft-deletes the post after verifying secret. Attachments
// are left as they are.
func (s *PostService) DeletePost(ctx context.Context, postID int64, secret string) error {
	if _, err := s.verifiedPost(ctx, postID, secret); err != nil {
		return err
	}
	changed, err := s.repomanager.Posts(s.db).SoftDelete(ctx, postID, s.now())
	if err != nil {
		return common.Wrap(common.ErrInternal, err)
	}
	if !changed {
		return common.ErrPostAlreadyDeleted
	}
	s.log.Info(ctx, "post deleted", "post_id", postID)
	return nil
}

// SetDeleted soft-deletes or restores a post without a password. Callers
// must have checked admin capability. Repeating a call is a no-op.
func (s *PostService) SetDeleted(ctx context.Context, postID int64, deleted bool) error {
	if _, err := s.loadPost(ctx, postID); err != nil {
		return err
	}

	repo := s.repomanager.Posts(s.db)
	var err error
	if deleted {
		_, err = repo.SoftDelete(ctx, postID, s.now())
	} else {
		_, err = repo.Restore(ctx, postID, s.now())
	}
	if err != nil {
		return common.Wrap(common.ErrInternal, err)
	}
	s.log.Info(ctx, "post visibility changed", "post_id", postID, "deleted", deleted)
	return nil
}

// DeleteAttachment marks a READY or FAILED file DELETED after verifying the
// owning post's password, then removes the blob. A PENDING file is still
// owned by its upload and is refused with FILE_NOT_READY. If the blob
// delete fails the record stays DELETED and STORAGE_DELETE_FAILED is
// returned.
func (s *PostService) DeleteAttachment(ctx context.Context, fileID int64, secret string) error {
	if strings.TrimSpace(secret) == "" {
		return common.ErrPostPasswordRequired
	}

	att, err := s.repomanager.Attachments(s.db).GetByID(ctx, fileID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrFileNotFound
		}
		return common.Wrap(common.ErrInternal, err)
	}
	switch att.Status {
	case models.AttachmentDeleted:
		return common.ErrFileAlreadyDeleted
	case models.AttachmentPending:
		return common.ErrFileNotReady
	}

	if _, err := s.verifiedPost(ctx, att.PostID, secret); err != nil {
		return err
	}

	var changed bool
	err = dbx.WithNewTx(ctx, s.db, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		changed, err = s.repomanager.Attachments(tx).MarkDeleted(ctx, fileID, s.now())
		return err
	})
	if err != nil {
		return common.Wrap(common.ErrInternal, err)
	}
	if !changed {
		return common.ErrFileAlreadyDeleted
	}

	if err := s.deleteBlob(ctx, att.StorageKey); err != nil {
		s.log.Error(ctx, "blob delete failed", "attachment_id", fileID, "key", att.StorageKey, "error", err)
		return common.Wrap(common.ErrStorageDeleteFailed, err)
	}
	s.log.Info(ctx, "attachment deleted", "attachment_id", fileID)
	return nil
}

func (s *PostService) deleteBlob(ctx context.Context, key string) error {
	start := time.Now()
	err := s.store.Delete(ctx, key)
	s.metrics.ObserveBlob("delete", time.Since(start))
	if err != nil && !errors.Is(err, blobstore.ErrNotFound) {
		s.metrics.RecordBlobDelete("error")
		return err
	}
	s.metrics.RecordBlobDelete("ok")
	return nil
}

// ListPosts returns the newest posts. Soft-deleted posts are included
// only for privileged callers.
func (s *PostService) ListPosts(ctx context.Context, privileged bool) ([]*models.PostSummary, error) {
	list, err := s.repomanager.Posts(s.db).ListRecent(ctx, s.listLimit, privileged)
	if err != nil {
		return nil, common.Wrap(common.ErrInternal, err)
	}
	if len(list) == 0 {
		return []*models.PostSummary{}, nil
	}

	ids := make([]int64, len(list))
	for i, p := range list {
		ids[i] = p.ID
	}
	hasFiles, err := s.repomanager.Attachments(s.db).HasActiveByPosts(ctx, ids)
	if err != nil {
		return nil, common.Wrap(common.ErrInternal, err)
	}

	out := make([]*models.PostSummary, len(list))
	for i, p := range list {
		out[i] = &models.PostSummary{Post: *p, HasFiles: hasFiles[p.ID]}
	}
	return out, nil
}

// GetPost returns a post with its READY attachments. A soft-deleted post
// is reported as not found unless the caller is privileged.
func (s *PostService) GetPost(ctx context.Context, postID int64, privileged bool) (*models.PostDetail, error) {
	post, err := s.loadPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	if !post.Active() && !privileged {
		return nil, common.ErrPostNotFound
	}

	files, err := s.repomanager.Attachments(s.db).ListByPost(ctx, postID, models.AttachmentReady)
	if err != nil {
		return nil, common.Wrap(common.ErrInternal, err)
	}
	if files == nil {
		files = []*models.Attachment{}
	}
	return &models.PostDetail{Post: *post, Files: files}, nil
}

// PurgeAttachments marks every READY or FAILED attachment of a post
// DELETED in one transaction, then removes the blobs best-effort. Uploads
// still PENDING are skipped. It returns the number of records purged.
func (s *PostService) PurgeAttachments(ctx context.Context, postID int64) (int64, error) {
	if _, err := s.loadPost(ctx, postID); err != nil {
		return 0, err
	}

	var keys []string
	err := dbx.WithNewTx(ctx, s.db, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		keys, err = s.repomanager.Attachments(tx).SoftDeleteByPost(ctx, postID, s.now())
		return err
	})
	if err != nil {
		return 0, common.Wrap(common.ErrInternal, err)
	}

	for _, key := range keys {
		if err := s.deleteBlob(ctx, key); err != nil {
			s.log.Warn(ctx, "purge: blob delete failed", "post_id", postID, "key", key, "error", err)
		}
	}
	s.log.Info(ctx, "attachments purged", "post_id", postID, "count", len(keys))
	return int64(len(keys)), nil
}
