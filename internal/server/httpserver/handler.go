package httpserver

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dmitrijs2005/postboard/internal/common"
	"github.com/dmitrijs2005/postboard/internal/server/models"
	"github.com/dmitrijs2005/postboard/internal/server/services"
)

// PostAPI is the part of services.PostService used by the handlers.
type PostAPI interface {
	CreatePost(ctx context.Context, title, content, secret string) (int64, error)
	VerifyPassword(ctx context.Context, postID int64, secret string) error
	UpdatePost(ctx context.Context, postID int64, secret, title, content string) error
	DeletePost(ctx context.Context, postID int64, secret string) error
	SetDeleted(ctx context.Context, postID int64, deleted bool) error
	DeleteAttachment(ctx context.Context, fileID int64, secret string) error
	ListPosts(ctx context.Context, privileged bool) ([]*models.PostSummary, error)
	GetPost(ctx context.Context, postID int64, privileged bool) (*models.PostDetail, error)
	PurgeAttachments(ctx context.Context, postID int64) (int64, error)
}

type UploadAPI interface {
	Upload(ctx context.Context, postID int64, files []services.UploadFile) (*services.UploadResult, error)
}

type DownloadAPI interface {
	ResolveForDownload(ctx context.Context, fileID int64) (*models.Download, error)
	Status(ctx context.Context, fileID int64) (*models.Attachment, error)
}

type AdminAPI interface {
	Login(ctx context.Context, username, password string) (string, *models.Admin, error)
}

// --- DTOs ---

type postRequest struct {
	Title    string `json:"title"`
	Content  string `json:"content"`
	Password string `json:"postPassword"`
}

type passwordRequest struct {
	Password string `json:"postPassword"`
}

type setDeletedRequest struct {
	Deleted *bool `json:"deleted"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string `json:"token"`
	TokenType string `json:"tokenType"`
	ExpiresIn int64  `json:"expiresIn"`
}

type postJSON struct {
	ID        int64      `json:"id"`
	Title     string     `json:"title"`
	Content   string     `json:"content"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
	HasFiles  *bool      `json:"hasFiles,omitempty"`
	Files     []fileJSON `json:"files,omitempty"`
}

type fileJSON struct {
	ID          int64     `json:"id"`
	PostID      int64     `json:"postId"`
	Name        string    `json:"name"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	Status      string    `json:"status"`
	Error       *string   `json:"error,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

type rejectionJSON struct {
	Name    string `json:"name"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type uploadResponse struct {
	FileIDs  []int64         `json:"fileIds"`
	Rejected []rejectionJSON `json:"rejected"`
}

func toPostJSON(p *models.Post) postJSON {
	return postJSON{
		ID:        p.ID,
		Title:     p.Title,
		Content:   p.Content,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
		DeletedAt: p.DeletedAt,
	}
}

func toFileJSON(a *models.Attachment) fileJSON {
	return fileJSON{
		ID:          a.ID,
		PostID:      a.PostID,
		Name:        a.OriginalName,
		ContentType: a.ContentType,
		Size:        a.SizeBytes,
		Status:      string(a.Status),
		Error:       a.ErrorMessage,
		CreatedAt:   a.CreatedAt,
	}
}

// --- helpers ---

func idParam(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, common.Wrap(common.ErrInvalidRequest, errors.New("invalid id"))
	}
	return id, nil
}

func (s *Server) bindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		if isBodyTooLarge(err) {
			s.writeError(c, common.ErrUploadTooLarge)
			return false
		}
		s.writeError(c, common.Wrap(common.ErrInvalidRequest, err))
		return false
	}
	return true
}

// --- handlers ---

func (s *Server) ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "OK"})
}

func (s *Server) login(c *gin.Context) {
	var req loginRequest
	if !s.bindJSON(c, &req) {
		return
	}
	token, admin, err := s.admins.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		s.writeError(c, err)
		return
	}
	s.logger.Info(c.Request.Context(), "admin logged in", "admin_id", admin.ID)
	c.JSON(http.StatusOK, loginResponse{
		Token:     token,
		TokenType: "Bearer",
		ExpiresIn: int64(s.tokenTTL / time.Second),
	})
}

func (s *Server) me(c *gin.Context) {
	claims, _ := adminClaims(c)
	c.JSON(http.StatusOK, gin.H{"adminId": claims.AdminID, "role": claims.Role})
}

func (s *Server) listPosts(c *gin.Context) {
	list, err := s.posts.ListPosts(c.Request.Context(), privileged(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	out := make([]postJSON, len(list))
	for i, p := range list {
		out[i] = toPostJSON(&p.Post)
		hasFiles := p.HasFiles
		out[i].HasFiles = &hasFiles
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) getPost(c *gin.Context) {
	id, err := idParam(c)
	if err != nil {
		s.writeError(c, err)
		return
	}
	d, err := s.posts.GetPost(c.Request.Context(), id, privileged(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	out := toPostJSON(&d.Post)
	out.Files = make([]fileJSON, len(d.Files))
	for i, f := range d.Files {
		out.Files[i] = toFileJSON(f)
	}
	hasFiles := len(d.Files) > 0
	out.HasFiles = &hasFiles
	c.JSON(http.StatusOK, out)
}

func (s *Server) createPost(c *gin.Context) {
	var req postRequest
	if !s.bindJSON(c, &req) {
		return
	}
	id, err := s.posts.CreatePost(c.Request.Context(), req.Title, req.Content, req.Password)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (s *Server) verifyPassword(c *gin.Context) {
	id, err := idParam(c)
	if err != nil {
		s.writeError(c, err)
		return
	}
	var req passwordRequest
	if !s.bindJSON(c, &req) {
		return
	}
	if err := s.posts.VerifyPassword(c.Request.Context(), id, req.Password); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"verified": true})
}

func (s *Server) updatePost(c *gin.Context) {
	id, err := idParam(c)
	if err != nil {
		s.writeError(c, err)
		return
	}
	var req postRequest
	if !s.bindJSON(c, &req) {
		return
	}
	if err := s.posts.UpdatePost(c.Request.Context(), id, req.Password, req.Title, req.Content); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) deletePost(c *gin.Context) {
	id, err := idParam(c)
	if err != nil {
		s.writeError(c, err)
		return
	}
	var req passwordRequest
	if !s.bindJSON(c, &req) {
		return
	}
	if err := s.posts.DeletePost(c.Request.Context(), id, req.Password); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) setDeleted(c *gin.Context) {
	id, err := idParam(c)
	if err != nil {
		s.writeError(c, err)
		return
	}
	var req setDeletedRequest
	if !s.bindJSON(c, &req) {
		return
	}
	if req.Deleted == nil {
		s.writeError(c, common.Wrap(common.ErrInvalidRequest, errors.New("deleted is required")))
		return
	}
	if err := s.posts.SetDeleted(c.Request.Context(), id, *req.Deleted); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) purgeAttachments(c *gin.Context) {
	id, err := idParam(c)
	if err != nil {
		s.writeError(c, err)
		return
	}
	n, err := s.posts.PurgeAttachments(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"purged": n})
}

func (s *Server) uploadFiles(c *gin.Context) {
	id, err := idParam(c)
	if err != nil {
		s.writeError(c, err)
		return
	}
	form, err := c.MultipartForm()
	if err != nil {
		if isBodyTooLarge(err) {
			s.writeError(c, common.ErrUploadTooLarge)
			return
		}
		s.writeError(c, common.Wrap(common.ErrInvalidRequest, err))
		return
	}
	defer func() { _ = form.RemoveAll() }()

	headers := form.File["files"]
	files := make([]services.UploadFile, len(headers))
	for i, fh := range headers {
		files[i] = uploadFileFrom(fh)
	}

	res, err := s.uploads.Upload(c.Request.Context(), id, files)
	if err != nil {
		s.writeError(c, err)
		return
	}

	out := uploadResponse{FileIDs: res.IDs, Rejected: make([]rejectionJSON, len(res.Rejected))}
	for i, r := range res.Rejected {
		e := common.AsError(r.Err)
		out.Rejected[i] = rejectionJSON{Name: r.Name, Code: e.Code, Message: e.Message}
	}
	c.JSON(http.StatusCreated, out)
}

func uploadFileFrom(fh *multipart.FileHeader) services.UploadFile {
	return services.UploadFile{
		Name:        fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        fh.Size,
		Open: func() (io.ReadCloser, error) {
			return fh.Open()
		},
	}
}

func (s *Server) fileStatus(c *gin.Context) {
	id, err := idParam(c)
	if err != nil {
		s.writeError(c, err)
		return
	}
	a, err := s.downloads.Status(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toFileJSON(a))
}

func (s *Server) downloadFile(c *gin.Context) {
	id, err := idParam(c)
	if err != nil {
		s.writeError(c, err)
		return
	}
	d, err := s.downloads.ResolveForDownload(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	defer d.Body.Close()

	size := d.Size
	if size <= 0 {
		size = -1
	}
	c.DataFromReader(http.StatusOK, size, d.ContentType, d.Body, map[string]string{
		"Content-Disposition":    ContentDisposition(d.Filename),
		"X-Content-Type-Options": "nosniff",
	})
}

func (s *Server) deleteFile(c *gin.Context) {
	id, err := idParam(c)
	if err != nil {
		s.writeError(c, err)
		return
	}
	var req passwordRequest
	if !s.bindJSON(c, &req) {
		return
	}
	if err := s.posts.DeleteAttachment(c.Request.Context(), id, req.Password); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
