package httpserver

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dmitrijs2005/postboard/internal/common"
	"github.com/dmitrijs2005/postboard/internal/logging"
	"github.com/dmitrijs2005/postboard/internal/server/auth"
	"github.com/dmitrijs2005/postboard/internal/server/models"
)

const claimsKey = "adminClaims"

// requestContext assigns a request id, echoes it back and logs the
// request once it completes.
func (s *Server) requestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(common.RequestIDHeaderName)
		if id == "" || len(id) > 64 {
			id, _ = common.MakeRandHexString(8)
		}
		ctx := logging.WithRequestID(c.Request.Context(), id)
		c.Request = c.Request.WithContext(ctx)
		c.Header(common.RequestIDHeaderName, id)

		start := time.Now()
		c.Next()

		s.logger.Info(ctx, "request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"client_ip", c.ClientIP(),
		)
	}
}

func (s *Server) recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		s.logger.Error(c.Request.Context(), "panic recovered", "panic", recovered)
		s.writeError(c, common.ErrInternal)
	})
}

func (s *Server) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		s.metrics.ObserveHTTP(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}

// bodyLimit caps the request body. Oversized bodies surface as
// *http.MaxBytesError from the reader.
func bodyLimit(max int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > max {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, ErrorResponse{
				Status:  http.StatusRequestEntityTooLarge,
				Code:    common.ErrUploadTooLarge.Code,
				Message: "request body too large",
				Path:    c.Request.URL.Path,
			})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, max)
		c.Next()
	}
}

// resolveAdmin attaches admin claims when a valid bearer token is sent.
// Invalid tokens are ignored here; routes that need an admin reject them
// in requireAdmin.
func (s *Server) resolveAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader(common.AuthorizationHeaderName)
		if strings.HasPrefix(header, common.BearerPrefix) {
			token := strings.TrimSpace(strings.TrimPrefix(header, common.BearerPrefix))
			claims, err := auth.ParseToken(token, s.jwtSecret)
			if err == nil && claims.Role == models.RoleAdmin {
				c.Set(claimsKey, claims)
			} else if err != nil {
				s.logger.Debug(c.Request.Context(), "ignoring bearer token", "error", err)
			}
		}
		c.Next()
	}
}

func (s *Server) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !privileged(c) {
			s.writeError(c, common.ErrUnauthorized)
			return
		}
		c.Next()
	}
}

func adminClaims(c *gin.Context) (*auth.Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*auth.Claims)
	return claims, ok
}

func privileged(c *gin.Context) bool {
	_, ok := adminClaims(c)
	return ok
}

// rateLimit throttles password-bearing routes per client address.
func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.allow("ip:" + c.ClientIP()) {
			c.Header("Retry-After", "60")
			s.writeError(c, common.ErrRateLimited)
			return
		}
		c.Next()
	}
}

func isBodyTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}
