package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RetrySettlement re-drives the settlement of one booking. Legs still at the
// gateway answer 202.
func (s *Server) RetrySettlement(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.tagBooking(c, id.String())

	result, err := s.settlementSvc.RetrySettlement(c.Request.Context(), id)
	if err != nil {
		s.log.Info("settlement retry incomplete",
			zap.String("booking_id", id.String()),
			zap.Error(err),
		)
		AbortWithError(c, err)
		return
	}

	if result.Processing() {
		c.JSON(http.StatusAccepted, gin.H{"data": result})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": result})
}
