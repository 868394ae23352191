package server

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/gigpay/internal/authorization"
)

// authorize checks the caller against the RBAC policy before the handler runs.
// Party checks (is this the booking's organizer?) stay in the domain services.
func (s *Server) authorize(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := actorFromContext(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if s.authzSvc == nil {
			AbortWithError(c, ErrForbidden)
			return
		}

		err := s.authzSvc.Authorize(c.Request.Context(), actor, object, action)
		switch {
		case err == nil:
			c.Next()
		case errors.Is(err, authorization.ErrForbidden):
			AbortWithError(c, ErrForbidden)
		case errors.Is(err, authorization.ErrInvalidActor):
			AbortWithError(c, ErrUnauthorized)
		default:
			AbortWithError(c, err)
		}
	}
}
