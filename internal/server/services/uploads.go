// Package services contains the board's business logic: the upload
// pipeline, password-gated post and file mutations, download resolution
// and admin login.
package services

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/postboard/internal/common"
	"github.com/dmitrijs2005/postboard/internal/dbx"
	"github.com/dmitrijs2005/postboard/internal/filex"
	"github.com/dmitrijs2005/postboard/internal/logging"
	"github.com/dmitrijs2005/postboard/internal/server/blobstore"
	"github.com/dmitrijs2005/postboard/internal/server/config"
	"github.com/dmitrijs2005/postboard/internal/server/models"
	"github.com/dmitrijs2005/postboard/internal/server/monitoring"
	"github.com/dmitrijs2005/postboard/internal/server/repositories/repomanager"
)

// maxErrorMessageRunes bounds the error text stored on FAILED records.
const maxErrorMessageRunes = 500

// UploadFile is one file of an upload batch. Open is called at most once.
type UploadFile struct {
	Name        string
	ContentType string
	Size        int64
	Open        func() (io.ReadCloser, error)
}

// Rejection is a file refused by the upload policy. Rejected files leave
// no record behind.
type Rejection struct {
	Name string
	Err  error
}

// UploadResult lists the created record ids in input order, whatever
// their final status, plus the files refused by policy.
type UploadResult struct {
	IDs      []int64
	Rejected []Rejection
}

// UploadService runs the attachment pipeline: validate, create a PENDING
// record, transfer the bytes, finalize to READY or FAILED. Create and
// finalize each commit in their own transaction.
type UploadService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	store       blobstore.Store
	policy      config.UploadPolicy
	concurrency int
	spoolDir    string
	log         logging.Logger
	metrics     *monitoring.Metrics
	now         func() time.Time
}

func NewUploadService(db *sql.DB, m repomanager.RepositoryManager, store blobstore.Store, cfg *config.Config,
	log logging.Logger, metrics *monitoring.Metrics) *UploadService {
	concurrency := cfg.UploadConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	return &UploadService{
		db:          db,
		repomanager: m,
		store:       store,
		policy:      cfg.UploadPolicy(),
		concurrency: concurrency,
		spoolDir:    cfg.SpoolDir,
		log:         log,
		metrics:     metrics,
		now:         time.Now,
	}
}

type acceptedFile struct {
	UploadFile
	name        string
	contentType string
}

// Upload stores files as attachments of postID. Files with zero size or
// no payload are skipped. Transfer failures do not fail the batch: the
// record ends FAILED and its id is still returned. If a PENDING record
// cannot be created the error is INTERNAL_ERROR and the result still
// carries the ids of the files that were recorded.
func (s *UploadService) Upload(ctx context.Context, postID int64, files []UploadFile) (*UploadResult, error) {
	if len(files) == 0 {
		return nil, common.ErrUploadEmpty
	}
	if err := s.requireActivePost(ctx, postID); err != nil {
		return nil, err
	}

	result := &UploadResult{}
	var accepted []acceptedFile
	for _, f := range files {
		if f.Size == 0 || f.Open == nil {
			continue
		}
		af := acceptedFile{
			UploadFile:  f,
			name:        SanitizeFilename(f.Name),
			contentType: NormalizeContentType(f.ContentType),
		}
		if err := s.validate(af); err != nil {
			s.metrics.RecordUpload(monitoring.OutcomeRejected, 0)
			result.Rejected = append(result.Rejected, Rejection{Name: af.name, Err: err})
			continue
		}
		accepted = append(accepted, af)
	}

	if len(accepted) == 0 {
		if len(result.Rejected) > 0 {
			return nil, result.Rejected[0].Err
		}
		return nil, common.ErrUploadEmpty
	}

	ids := make([]int64, len(accepted))
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, f := range accepted {
		g.Go(func() error {
			id, err := s.uploadOne(ctx, postID, f)
			ids[i] = id
			return err
		})
	}
	err := g.Wait()
	if err == nil {
		result.IDs = ids
		return result, nil
	}

	for _, id := range ids {
		if id != 0 {
			result.IDs = append(result.IDs, id)
		}
	}
	s.log.Error(ctx, "upload batch incomplete", "post_id", postID, "recorded_ids", result.IDs, "error", err)
	return result, common.Wrap(common.ErrInternal, err)
}

func (s *UploadService) requireActivePost(ctx context.Context, postID int64) error {
	post, err := s.repomanager.Posts(s.db).GetByID(ctx, postID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrPostNotFound
		}
		return common.Wrap(common.ErrInternal, err)
	}
	if !post.Active() {
		return common.ErrPostNotFound
	}
	return nil
}

func (s *UploadService) validate(f acceptedFile) error {
	if f.Size > s.policy.MaxFileBytes {
		return common.ErrUploadTooLarge
	}
	if !s.policy.Allows(f.contentType) {
		return common.ErrContentTypeNotAllowed
	}
	return nil
}

// uploadOne returns an error only when the PENDING record could not be
// created. Everything after that ends in a finalized record.
func (s *UploadService) uploadOne(ctx context.Context, postID int64, f acceptedFile) (int64, error) {
	now := s.now()
	rec := &models.Attachment{
		PostID:       postID,
		OriginalName: f.name,
		StorageKey:   StorageKey(postID, f.name),
		ContentType:  f.contentType,
		SizeBytes:    f.Size,
		Status:       models.AttachmentPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	var id int64
	err := dbx.WithNewTx(ctx, s.db, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		id, err = s.repomanager.Attachments(tx).Create(ctx, rec)
		return err
	})
	if err != nil {
		s.log.Error(ctx, "create pending attachment failed", "post_id", postID, "name", f.name, "error", err)
		return 0, fmt.Errorf("create pending attachment: %w", err)
	}

	start := time.Now()
	terr := s.transfer(ctx, f, rec.StorageKey)
	s.metrics.ObserveBlob("put", time.Since(start))

	s.finalize(ctx, id, terr)
	if terr != nil {
		s.log.Warn(ctx, "attachment transfer failed", "attachment_id", id, "key", rec.StorageKey, "error", terr)
		s.metrics.RecordUpload(monitoring.OutcomeFailed, f.Size)
	} else {
		s.log.Info(ctx, "attachment stored", "attachment_id", id, "key", rec.StorageKey, "bytes", f.Size)
		s.metrics.RecordUpload(monitoring.OutcomeReady, f.Size)
	}
	return id, nil
}

// transfer moves the payload into the store. Small files are buffered in
// memory, larger ones are spooled to disk first so the store sees a
// seekable body of known length.
func (s *UploadService) transfer(ctx context.Context, f acceptedFile, key string) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open payload: %w", err)
	}
	defer rc.Close()

	max := s.policy.MaxFileBytes
	if f.Size <= s.policy.StreamThresholdBytes {
		data, err := io.ReadAll(io.LimitReader(rc, max+1))
		if err != nil {
			return fmt.Errorf("read payload: %w", err)
		}
		if int64(len(data)) > max {
			return filex.ErrTooLarge
		}
		if err := checkSize(f.Size, int64(len(data))); err != nil {
			return err
		}
		return s.store.Put(ctx, key, f.contentType, bytes.NewReader(data), int64(len(data)))
	}

	spool, n, err := filex.Spool(s.spoolDir, rc, max)
	if err != nil {
		return err
	}
	defer filex.Discard(spool)
	if err := checkSize(f.Size, n); err != nil {
		return err
	}
	return s.store.Put(ctx, key, f.contentType, spool, n)
}

func checkSize(declared, actual int64) error {
	if declared > 0 && declared != actual {
		return fmt.Errorf("payload has %d bytes, declared %d", actual, declared)
	}
	return nil
}

// finalize moves the record out of PENDING. It ignores cancellation of
// ctx so that a timed-out request still leaves a terminal status.
func (s *UploadService) finalize(ctx context.Context, id int64, transferErr error) {
	ctx = context.WithoutCancel(ctx)
	err := dbx.WithNewTx(ctx, s.db, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Attachments(tx)
		if transferErr == nil {
			return repo.MarkReady(ctx, id, s.now())
		}
		return repo.MarkFailed(ctx, id, common.Truncate(transferErr.Error(), maxErrorMessageRunes), s.now())
	})
	if err != nil {
		s.log.Error(ctx, "finalize attachment failed", "attachment_id", id, "error", err)
		s.metrics.RecordFinalizeError()
	}
}
