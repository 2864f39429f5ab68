package services

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/dmitrijs2005/postboard/internal/common"
	"github.com/dmitrijs2005/postboard/internal/dbx"
	"github.com/dmitrijs2005/postboard/internal/server/blobstore"
	"github.com/dmitrijs2005/postboard/internal/server/config"
	"github.com/dmitrijs2005/postboard/internal/server/models"
	"github.com/dmitrijs2005/postboard/internal/server/repositories/admins"
	"github.com/dmitrijs2005/postboard/internal/server/repositories/attachments"
	"github.com/dmitrijs2005/postboard/internal/server/repositories/posts"
)

var errBoom = errors.New("boom")

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newSQLMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

// expectTx registers n committed transactions.
func expectTx(mock sqlmock.Sqlmock, n int) {
	for i := 0; i < n; i++ {
		mock.ExpectBegin()
		mock.ExpectCommit()
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.UploadConcurrency = 1
	cfg.SpoolDir = t.TempDir()
	return cfg
}

// fakeVerifier stores secrets in the clear so tests stay fast.
type fakeVerifier struct {
	hashErr error
}

func (f fakeVerifier) Hash(secret string) (string, error) {
	if f.hashErr != nil {
		return "", f.hashErr
	}
	return "hash:" + secret, nil
}

func (f fakeVerifier) Verify(secret, hash string) bool {
	return hash != "" && hash == "hash:"+secret
}

// --- posts ---

type fakePostsRepo struct {
	mu     sync.Mutex
	posts  map[int64]*models.Post
	nextID int64

	getErr    error
	createErr error
	listErr   error
}

func newFakePostsRepo() *fakePostsRepo {
	return &fakePostsRepo{posts: map[int64]*models.Post{}}
}

func (f *fakePostsRepo) add(p models.Post) *models.Post {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p.ID == 0 {
		f.nextID++
		p.ID = f.nextID
	} else if p.ID > f.nextID {
		f.nextID = p.ID
	}
	f.posts[p.ID] = &p
	return &p
}

func (f *fakePostsRepo) Create(ctx context.Context, p *models.Post) (int64, error) {
	if f.createErr != nil {
		return 0, f.createErr
	}
	return f.add(*p).ID, nil
}

func (f *fakePostsRepo) GetByID(ctx context.Context, id int64) (*models.Post, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.posts[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakePostsRepo) ListRecent(ctx context.Context, limit int, includeDeleted bool) ([]*models.Post, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Post
	for _, p := range f.posts {
		if includeDeleted || p.Active() {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakePostsRepo) Update(ctx context.Context, p *models.Post) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.posts[p.ID]; !ok {
		return common.ErrorNotFound
	}
	cp := *p
	f.posts[p.ID] = &cp
	return nil
}

func (f *fakePostsRepo) SoftDelete(ctx context.Context, id int64, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.posts[id]
	if !ok || p.DeletedAt != nil {
		return false, nil
	}
	p.DeletedAt = &now
	p.UpdatedAt = now
	return true, nil
}

func (f *fakePostsRepo) Restore(ctx context.Context, id int64, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.posts[id]
	if !ok || p.DeletedAt == nil {
		return false, nil
	}
	p.DeletedAt = nil
	p.UpdatedAt = now
	return true, nil
}

// --- attachments ---

type fakeAttachmentsRepo struct {
	mu     sync.Mutex
	items  map[int64]*models.Attachment
	nextID int64

	createErr   error
	createFails map[string]bool
	getErr      error
	finalizeErr error
	markDelErr  error
	lostDelRace bool
	purgeErr    error
	hasFilesErr error
	getCalls    int
	onGet       func(call int, a *models.Attachment)
}

func newFakeAttachmentsRepo() *fakeAttachmentsRepo {
	return &fakeAttachmentsRepo{items: map[int64]*models.Attachment{}}
}

func (f *fakeAttachmentsRepo) add(a models.Attachment) *models.Attachment {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	a.ID = f.nextID
	f.items[a.ID] = &a
	return &a
}

func (f *fakeAttachmentsRepo) get(id int64) *models.Attachment {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.items[id]
	if !ok {
		return nil
	}
	cp := *a
	return &cp
}

func (f *fakeAttachmentsRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

func (f *fakeAttachmentsRepo) Create(ctx context.Context, a *models.Attachment) (int64, error) {
	if f.createErr != nil {
		return 0, f.createErr
	}
	if f.createFails[a.OriginalName] {
		return 0, errBoom
	}
	return f.add(*a).ID, nil
}

func (f *fakeAttachmentsRepo) GetByID(ctx context.Context, id int64) (*models.Attachment, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	f.mu.Lock()
	f.getCalls++
	call := f.getCalls
	a, ok := f.items[id]
	if ok && f.onGet != nil {
		f.onGet(call, a)
	}
	f.mu.Unlock()
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *a
	return &cp, nil
}

func (f *fakeAttachmentsRepo) ListByPost(ctx context.Context, postID int64, status models.AttachmentStatus) ([]*models.Attachment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Attachment
	for _, a := range f.items {
		if a.PostID == postID && a.Status == status && a.DeletedAt == nil {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeAttachmentsRepo) ExistsActiveByPost(ctx context.Context, postID int64) (bool, error) {
	m, err := f.HasActiveByPosts(ctx, []int64{postID})
	return m[postID], err
}

func (f *fakeAttachmentsRepo) HasActiveByPosts(ctx context.Context, postIDs []int64) (map[int64]bool, error) {
	if f.hasFilesErr != nil {
		return nil, f.hasFilesErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[int64]bool, len(postIDs))
	for _, id := range postIDs {
		out[id] = false
	}
	for _, a := range f.items {
		if _, ok := out[a.PostID]; ok && a.DeletedAt == nil {
			out[a.PostID] = true
		}
	}
	return out, nil
}

func (f *fakeAttachmentsRepo) finalize(id int64, status models.AttachmentStatus, msg *string, now time.Time) error {
	if f.finalizeErr != nil {
		return f.finalizeErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.items[id]
	if !ok || a.Status != models.AttachmentPending {
		return attachments.ErrNotPending
	}
	a.Status = status
	a.ErrorMessage = msg
	a.UpdatedAt = now
	return nil
}

func (f *fakeAttachmentsRepo) MarkReady(ctx context.Context, id int64, now time.Time) error {
	return f.finalize(id, models.AttachmentReady, nil, now)
}

func (f *fakeAttachmentsRepo) MarkFailed(ctx context.Context, id int64, message string, now time.Time) error {
	return f.finalize(id, models.AttachmentFailed, &message, now)
}

func (f *fakeAttachmentsRepo) MarkDeleted(ctx context.Context, id int64, now time.Time) (bool, error) {
	if f.markDelErr != nil {
		return false, f.markDelErr
	}
	if f.lostDelRace {
		return false, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.items[id]
	if !ok || !deletable(a.Status) {
		return false, nil
	}
	a.Status = models.AttachmentDeleted
	a.DeletedAt = &now
	return true, nil
}

func deletable(st models.AttachmentStatus) bool {
	return st == models.AttachmentReady || st == models.AttachmentFailed
}

func (f *fakeAttachmentsRepo) SoftDeleteByPost(ctx context.Context, postID int64, now time.Time) ([]string, error) {
	if f.purgeErr != nil {
		return nil, f.purgeErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for _, a := range f.items {
		if a.PostID == postID && deletable(a.Status) {
			a.Status = models.AttachmentDeleted
			a.DeletedAt = &now
			keys = append(keys, a.StorageKey)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (f *fakeAttachmentsRepo) ListStalePending(ctx context.Context, before time.Time, limit int) ([]*models.Attachment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Attachment
	for _, a := range f.items {
		if a.Status == models.AttachmentPending && a.CreatedAt.Before(before) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- admins ---

type fakeAdminsRepo struct {
	mu     sync.Mutex
	admins map[string]*models.Admin
	nextID int64

	getErr     error
	successErr error
	failureErr error
}

func newFakeAdminsRepo() *fakeAdminsRepo {
	return &fakeAdminsRepo{admins: map[string]*models.Admin{}}
}

func (f *fakeAdminsRepo) Create(ctx context.Context, a *models.Admin) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	cp := *a
	cp.ID = f.nextID
	f.admins[a.Username] = &cp
	return cp.ID, nil
}

func (f *fakeAdminsRepo) GetByUsername(ctx context.Context, username string) (*models.Admin, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.admins[username]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *a
	return &cp, nil
}

func (f *fakeAdminsRepo) byID(id int64) *models.Admin {
	for _, a := range f.admins {
		if a.ID == id {
			return a
		}
	}
	return nil
}

func (f *fakeAdminsRepo) RecordLoginSuccess(ctx context.Context, id int64, now time.Time) error {
	if f.successErr != nil {
		return f.successErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if a := f.byID(id); a != nil {
		a.FailedLoginCount = 0
		a.LastLoginAt = &now
	}
	return nil
}

func (f *fakeAdminsRepo) RecordLoginFailure(ctx context.Context, id int64, now time.Time) (int, error) {
	if f.failureErr != nil {
		return 0, f.failureErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	a := f.byID(id)
	if a == nil {
		return 0, common.ErrorNotFound
	}
	a.FailedLoginCount++
	return a.FailedLoginCount, nil
}

// --- manager ---

type fakeRepoManager struct {
	posts       *fakePostsRepo
	attachments *fakeAttachmentsRepo
	admins      *fakeAdminsRepo
}

func newFakeRepoManager() *fakeRepoManager {
	return &fakeRepoManager{
		posts:       newFakePostsRepo(),
		attachments: newFakeAttachmentsRepo(),
		admins:      newFakeAdminsRepo(),
	}
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error  { return nil }
func (m *fakeRepoManager) Posts(db dbx.DBTX) posts.Repository             { return m.posts }
func (m *fakeRepoManager) Attachments(db dbx.DBTX) attachments.Repository { return m.attachments }
func (m *fakeRepoManager) Admins(db dbx.DBTX) admins.Repository           { return m.admins }

// --- store ---

// faultyStore wraps a MemoryStore with injectable Get and Delete faults.
type faultyStore struct {
	*blobstore.MemoryStore
	getErr    error
	deleteErr error
}

func (s *faultyStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.MemoryStore.Get(ctx, key)
}

func (s *faultyStore) Delete(ctx context.Context, key string) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	return s.MemoryStore.Delete(ctx, key)
}

func fileOf(name, contentType, body string) UploadFile {
	return UploadFile{
		Name:        name,
		ContentType: contentType,
		Size:        int64(len(body)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(body)), nil
		},
	}
}
