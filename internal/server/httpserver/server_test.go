package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/postboard/internal/common"
	"github.com/dmitrijs2005/postboard/internal/server/auth"
	"github.com/dmitrijs2005/postboard/internal/server/config"
	"github.com/dmitrijs2005/postboard/internal/server/models"
	"github.com/dmitrijs2005/postboard/internal/server/monitoring"
	"github.com/dmitrijs2005/postboard/internal/server/services"
)

const testSecret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

type fakePosts struct {
	PostAPI

	createErr      error
	verifyErr      error
	lastPrivileged *bool
	lastSetDeleted *bool
	deletedFile    int64
	deletedSecret  string
	updated        []string
	panicOnList    bool
}

func (f *fakePosts) CreatePost(ctx context.Context, title, content, secret string) (int64, error) {
	if f.createErr != nil {
		return 0, f.createErr
	}
	return 7, nil
}

func (f *fakePosts) VerifyPassword(ctx context.Context, postID int64, secret string) error {
	return f.verifyErr
}

func (f *fakePosts) ListPosts(ctx context.Context, privileged bool) ([]*models.PostSummary, error) {
	if f.panicOnList {
		panic("boom")
	}
	f.lastPrivileged = &privileged
	return []*models.PostSummary{{Post: models.Post{ID: 1, Title: "t"}, HasFiles: true}}, nil
}

func (f *fakePosts) GetPost(ctx context.Context, postID int64, privileged bool) (*models.PostDetail, error) {
	f.lastPrivileged = &privileged
	if postID != 1 {
		return nil, common.ErrPostNotFound
	}
	return &models.PostDetail{
		Post:  models.Post{ID: 1, Title: "t"},
		Files: []*models.Attachment{{ID: 3, PostID: 1, OriginalName: "a.png", Status: models.AttachmentReady}},
	}, nil
}

func (f *fakePosts) SetDeleted(ctx context.Context, postID int64, deleted bool) error {
	f.lastSetDeleted = &deleted
	return nil
}

func (f *fakePosts) DeleteAttachment(ctx context.Context, fileID int64, secret string) error {
	f.deletedFile = fileID
	f.deletedSecret = secret
	return nil
}

func (f *fakePosts) UpdatePost(ctx context.Context, postID int64, secret, title, content string) error {
	f.updated = append(f.updated, strconv.FormatInt(postID, 10), secret, title, content)
	return nil
}

type fakeUploads struct {
	got []services.UploadFile
	res *services.UploadResult
	err error
}

func (f *fakeUploads) Upload(ctx context.Context, postID int64, files []services.UploadFile) (*services.UploadResult, error) {
	for _, file := range files {
		rc, err := file.Open()
		if err != nil {
			return nil, err
		}
		body, _ := io.ReadAll(rc)
		_ = rc.Close()
		file.Open = func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(body)), nil }
		f.got = append(f.got, file)
	}
	return f.res, f.err
}

type fakeDownloads struct {
	download *models.Download
	err      error
}

func (f *fakeDownloads) ResolveForDownload(ctx context.Context, fileID int64) (*models.Download, error) {
	return f.download, f.err
}

func (f *fakeDownloads) Status(ctx context.Context, fileID int64) (*models.Attachment, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.Attachment{ID: fileID, Status: models.AttachmentFailed}, nil
}

type fakeAdmins struct{}

func (fakeAdmins) Login(ctx context.Context, username, password string) (string, *models.Admin, error) {
	if username != "root" || password != "pw" {
		return "", nil, common.ErrAdminInvalidCredentials
	}
	tok, err := auth.GenerateToken(1, models.RoleAdmin, []byte(testSecret), time.Hour)
	return tok, &models.Admin{ID: 1, Role: models.RoleAdmin}, err
}

type testServer struct {
	srv       *Server
	posts     *fakePosts
	uploads   *fakeUploads
	downloads *fakeDownloads
}

func newTestServer(t *testing.T, tune func(*config.Config)) *testServer {
	t.Helper()
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.SecretKey = testSecret
	if tune != nil {
		tune(cfg)
	}
	m, err := monitoring.New()
	require.NoError(t, err)

	ts := &testServer{
		posts:     &fakePosts{},
		uploads:   &fakeUploads{res: &services.UploadResult{}},
		downloads: &fakeDownloads{},
	}
	ts.srv = NewServer(cfg, Deps{
		Posts:     ts.posts,
		Uploads:   ts.uploads,
		Downloads: ts.downloads,
		Admins:    fakeAdmins{},
		Metrics:   m,
		Health:    http.NotFoundHandler(),
	})
	return ts
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func jsonRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func adminToken(t *testing.T) string {
	t.Helper()
	tok, err := auth.GenerateToken(1, models.RoleAdmin, []byte(testSecret), time.Hour)
	require.NoError(t, err)
	return "Bearer " + tok
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var e ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
	return e
}

func TestPing(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/ping", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(common.RequestIDHeaderName))
}

func TestRequestIDIsEchoed(t *testing.T) {
	ts := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/ping", nil)
	req.Header.Set(common.RequestIDHeaderName, "abc123")
	rec := ts.do(req)
	assert.Equal(t, "abc123", rec.Header().Get(common.RequestIDHeaderName))
}

func TestCreatePost(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(jsonRequest(http.MethodPost, "/api/posts", `{"title":"t","content":"c","postPassword":"pw"}`))
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"id":7}`, rec.Body.String())
}

func TestErrorBody(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.posts.createErr = common.ErrPostTitleRequired

	rec := ts.do(jsonRequest(http.MethodPost, "/api/posts", `{"content":"c","postPassword":"pw"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, ErrorResponse{
		Status:  http.StatusBadRequest,
		Code:    "POST_TITLE_REQUIRED",
		Message: "title is required",
		Path:    "/api/posts",
	}, decodeError(t, rec))
}

func TestMalformedJSON(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(jsonRequest(http.MethodPost, "/api/posts", `{`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_REQUEST", decodeError(t, rec).Code)
}

func TestInvalidID(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/posts/abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_REQUEST", decodeError(t, rec).Code)
}

func TestVerifyPassword_Mismatch(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.posts.verifyErr = common.ErrPostPasswordMismatch
	rec := ts.do(jsonRequest(http.MethodPost, "/api/posts/1/verify-password", `{"postPassword":"x"}`))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "POST_PASSWORD_MISMATCH", decodeError(t, rec).Code)
}

func TestListPosts_Privilege(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/posts", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, *ts.posts.lastPrivileged)
	assert.Contains(t, rec.Body.String(), `"hasFiles":true`)

	req := httptest.NewRequest(http.MethodGet, "/api/posts", nil)
	req.Header.Set("Authorization", adminToken(t))
	rec = ts.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, *ts.posts.lastPrivileged)

	// a bad token on a public route is simply not privileged
	req = httptest.NewRequest(http.MethodGet, "/api/posts", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec = ts.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, *ts.posts.lastPrivileged)
}

func TestGetPost(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/posts/1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body postJSON
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Files, 1)
	assert.Equal(t, "a.png", body.Files[0].Name)

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/api/posts/2", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "POST_NOT_FOUND", decodeError(t, rec).Code)
}

func TestAdminRoutes(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(jsonRequest(http.MethodPatch, "/api/posts/1/deleted", `{"deleted":true}`))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", decodeError(t, rec).Code)
	assert.Nil(t, ts.posts.lastSetDeleted)

	req := jsonRequest(http.MethodPatch, "/api/posts/1/deleted", `{"deleted":true}`)
	req.Header.Set("Authorization", adminToken(t))
	rec = ts.do(req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, ts.posts.lastSetDeleted)
	assert.True(t, *ts.posts.lastSetDeleted)

	req = jsonRequest(http.MethodPatch, "/api/posts/1/deleted", `{}`)
	req.Header.Set("Authorization", adminToken(t))
	rec = ts.do(req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLoginAndMe(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(jsonRequest(http.MethodPost, "/api/auth/login", `{"username":"root","password":"nope"}`))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(jsonRequest(http.MethodPost, "/api/auth/login", `{"username":"root","password":"pw"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	var lr loginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &lr))
	assert.Equal(t, "Bearer", lr.TokenType)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+lr.Token)
	rec = ts.do(req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"adminId":1,"role":"ADMIN"}`, rec.Body.String())
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) {
		c.RateLimitPerMinute = 1
		c.RateLimitBurst = 1
	})

	rec := ts.do(jsonRequest(http.MethodPost, "/api/posts/1/verify-password", `{"postPassword":"pw"}`))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(jsonRequest(http.MethodPost, "/api/posts/1/verify-password", `{"postPassword":"pw"}`))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "RATE_LIMITED", decodeError(t, rec).Code)

	// reads are not limited
	rec = ts.do(httptest.NewRequest(http.MethodGet, "/api/posts", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func multipartRequest(t *testing.T, path string, files map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for name, body := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="files"; filename="`+name+`"`)
		h.Set("Content-Type", "image/png")
		part, err := w.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestUpload(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.uploads.res = &services.UploadResult{
		IDs:      []int64{11},
		Rejected: []services.Rejection{{Name: "b.png", Err: common.ErrUploadTooLarge}},
	}

	rec := ts.do(multipartRequest(t, "/api/posts/1/files", map[string]string{"a.png": "PNG"}))
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"fileIds":[11],"rejected":[{"name":"b.png","code":"FILE_UPLOAD_TOO_LARGE","message":"file exceeds the maximum allowed size"}]}`, rec.Body.String())

	require.Len(t, ts.uploads.got, 1)
	got := ts.uploads.got[0]
	assert.Equal(t, "a.png", got.Name)
	assert.Equal(t, "image/png", got.ContentType)
	assert.Equal(t, int64(3), got.Size)
}

func TestUpload_ServiceError(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.uploads.err = common.ErrUploadEmpty

	rec := ts.do(multipartRequest(t, "/api/posts/1/files", map[string]string{}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "FILE_UPLOAD_EMPTY", decodeError(t, rec).Code)
}

func TestUpload_BodyTooLarge(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) {
		c.MaxFileBytes = 1
	})
	big := strings.Repeat("x", 3<<20)

	rec := ts.do(multipartRequest(t, "/api/posts/1/files", map[string]string{"a.png": big}))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestDownload(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.downloads.download = &models.Download{
		Body:        io.NopCloser(strings.NewReader("PNGDATA")),
		Filename:    "фото.png",
		ContentType: "image/png",
		Size:        7,
	}

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/files/3/download", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "PNGDATA", rec.Body.String())
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, "7", rec.Header().Get("Content-Length"))
	assert.Equal(t, ContentDisposition("фото.png"), rec.Header().Get("Content-Disposition"))
}

func TestDownload_Errors(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{common.ErrFileNotFound, http.StatusNotFound, "FILE_NOT_FOUND"},
		{common.ErrFileAlreadyDeleted, http.StatusNotFound, "FILE_ALREADY_DELETED"},
		{common.ErrFileNotReady, http.StatusConflict, "FILE_NOT_READY"},
		{common.ErrFileInconsistentState, http.StatusInternalServerError, "FILE_INCONSISTENT_STATE"},
		{common.Wrap(common.ErrStorageDownloadFailed, io.ErrUnexpectedEOF), http.StatusBadGateway, "STORAGE_DOWNLOAD_FAILED"},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			ts := newTestServer(t, nil)
			ts.downloads.err = tt.err
			rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/files/3/download", nil))
			assert.Equal(t, tt.status, rec.Code)
			e := decodeError(t, rec)
			assert.Equal(t, tt.code, e.Code)
			assert.NotContains(t, e.Message, "unexpected EOF")
		})
	}
}

func TestFileStatusAndDelete(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/files/5", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"FAILED"`)

	rec = ts.do(jsonRequest(http.MethodPost, "/api/files/5/delete", `{"postPassword":"pw"}`))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, int64(5), ts.posts.deletedFile)
	assert.Equal(t, "pw", ts.posts.deletedSecret)
}

func TestUpdatePost_BothRoutes(t *testing.T) {
	body := `{"title":"t2","content":"c2","postPassword":"pw"}`
	for _, req := range []*http.Request{
		jsonRequest(http.MethodPost, "/api/posts/1/update", body),
		jsonRequest(http.MethodPut, "/api/posts/1", body),
	} {
		ts := newTestServer(t, nil)
		rec := ts.do(req)
		assert.Equal(t, http.StatusNoContent, rec.Code, req.Method)
		assert.Equal(t, []string{"1", "pw", "t2", "c2"}, ts.posts.updated, req.Method)
	}
}

func TestRecovery(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.posts.panicOnList = true

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/posts", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "INTERNAL_ERROR", decodeError(t, rec).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.do(httptest.NewRequest(http.MethodGet, "/api/ping", nil))

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `postboard_http_requests_total{method="GET",route="/api/ping",status="200"} 1`)
}
