package httpserver

import (
	"github.com/gin-gonic/gin"

	"github.com/dmitrijs2005/postboard/internal/common"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Path    string `json:"path"`
}

// writeError renders err as an ErrorResponse and aborts the chain. Errors
// outside the catalog become INTERNAL_ERROR; their text is logged, never
// returned.
func (s *Server) writeError(c *gin.Context, err error) {
	e := common.AsError(err)
	ctx := c.Request.Context()
	if e.Kind == common.KindInternal || e.Kind == common.KindInconsistent || e.Kind == common.KindTransfer {
		s.logger.Error(ctx, "request failed", "path", c.Request.URL.Path, "code", e.Code, "error", err)
	} else {
		s.logger.Debug(ctx, "request rejected", "path", c.Request.URL.Path, "code", e.Code)
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(e.Status, ErrorResponse{
		Status:  e.Status,
		Code:    e.Code,
		Message: e.Message,
		Path:    c.Request.URL.Path,
	})
}
