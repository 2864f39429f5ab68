package services

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/dmitrijs2005/postboard/internal/common"
	"github.com/dmitrijs2005/postboard/internal/logging"
	"github.com/dmitrijs2005/postboard/internal/server/blobstore"
	"github.com/dmitrijs2005/postboard/internal/server/models"
	"github.com/dmitrijs2005/postboard/internal/server/monitoring"
	"github.com/dmitrijs2005/postboard/internal/server/repositories/repomanager"
)

// DownloadService resolves attachments into readable streams.
type DownloadService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	store       blobstore.Store
	log         logging.Logger
	metrics     *monitoring.Metrics
}

func NewDownloadService(db *sql.DB, m repomanager.RepositoryManager, store blobstore.Store,
	log logging.Logger, metrics *monitoring.Metrics) *DownloadService {
	return &DownloadService{db: db, repomanager: m, store: store, log: log, metrics: metrics}
}

// Status returns the attachment record in any live status.
func (s *DownloadService) Status(ctx context.Context, fileID int64) (*models.Attachment, error) {
	att, err := s.load(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if att.Status == models.AttachmentDeleted {
		return nil, common.ErrFileAlreadyDeleted
	}
	return att, nil
}

func (s *DownloadService) load(ctx context.Context, fileID int64) (*models.Attachment, error) {
	att, err := s.repomanager.Attachments(s.db).GetByID(ctx, fileID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrFileNotFound
		}
		return nil, common.Wrap(common.ErrInternal, err)
	}
	return att, nil
}

// ResolveForDownload opens a READY attachment. The caller closes Body.
func (s *DownloadService) ResolveForDownload(ctx context.Context, fileID int64) (*models.Download, error) {
	d, err := s.resolve(ctx, fileID)
	if err != nil {
		s.metrics.RecordDownload(common.AsError(err).Code)
		return nil, err
	}
	s.metrics.RecordDownload("ok")
	return d, nil
}

func (s *DownloadService) resolve(ctx context.Context, fileID int64) (*models.Download, error) {
	att, err := s.Status(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if att.Status != models.AttachmentReady {
		return nil, common.ErrFileNotReady
	}

	start := time.Now()
	body, err := s.store.Get(ctx, att.StorageKey)
	s.metrics.ObserveBlob("get", time.Since(start))
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, s.missingBlob(ctx, att)
		}
		s.log.Error(ctx, "blob read failed", "attachment_id", att.ID, "key", att.StorageKey, "error", err)
		return nil, common.Wrap(common.ErrStorageDownloadFailed, err)
	}

	return &models.Download{
		Body:        body,
		Filename:    att.OriginalName,
		ContentType: att.ContentType,
		Size:        att.SizeBytes,
	}, nil
}

// missingBlob tells a concurrent delete apart from a READY record whose
// blob is gone.
func (s *DownloadService) missingBlob(ctx context.Context, att *models.Attachment) error {
	current, err := s.load(ctx, att.ID)
	if err == nil && current.Status == models.AttachmentDeleted {
		return common.ErrFileAlreadyDeleted
	}
	if errors.Is(err, common.ErrFileNotFound) {
		return common.ErrFileNotFound
	}
	s.log.Error(ctx, "attachment is READY but its blob is missing", "attachment_id", att.ID, "key", att.StorageKey)
	return common.ErrFileInconsistentState
}
