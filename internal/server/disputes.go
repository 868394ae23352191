package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	disputedomain "github.com/smallbiznis/gigpay/internal/dispute/domain"
)

type fileDisputeRequest struct {
	Reason      string `json:"reason"`
	Explanation string `json:"explanation"`
}

type resolveDisputeRequest struct {
	Outcome      string `json:"outcome"`
	Notes        string `json:"notes"`
	RefundAmount *int64 `json:"refund_amount"`
	PayoutAmount *int64 `json:"payout_amount"`
}

func (s *Server) FileDispute(c *gin.Context) {
	bookingID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.tagBooking(c, bookingID.String())

	var req fileDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	actor, _ := actorFromContext(c)
	dispute, err := s.disputeSvc.FileDispute(c.Request.Context(), disputedomain.FileRequest{
		BookingID:   bookingID,
		Reason:      disputedomain.Reason(strings.ToUpper(strings.TrimSpace(req.Reason))),
		Explanation: req.Explanation,
		RaisedBy:    actor,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": dispute})
}

func (s *Server) ListBookingDisputes(c *gin.Context) {
	bookingID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.tagBooking(c, bookingID.String())

	booking, err := s.bookingSvc.Get(c.Request.Context(), bookingID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !s.canView(c, *booking) {
		AbortWithError(c, ErrNotFound)
		return
	}

	disputes, err := s.disputeSvc.ListByBooking(c.Request.Context(), bookingID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if disputes == nil {
		disputes = []disputedomain.Dispute{}
	}

	c.JSON(http.StatusOK, gin.H{"data": disputes})
}

func (s *Server) GetDispute(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	dispute, err := s.disputeSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.tagBooking(c, dispute.BookingID.String())

	booking, err := s.bookingSvc.Get(c.Request.Context(), dispute.BookingID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !s.canView(c, *booking) {
		AbortWithError(c, ErrNotFound)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": dispute})
}

func (s *Server) ReviewDispute(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	actor, _ := actorFromContext(c)
	dispute, err := s.disputeSvc.MarkUnderReview(c.Request.Context(), id, actor)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": dispute})
}

// ResolveDispute answers 200 once the resolution commits. A settlement that
// could not complete is reported in the body, not as a failed request.
func (s *Server) ResolveDispute(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req resolveDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	actor, _ := actorFromContext(c)
	result, err := s.disputeSvc.Resolve(c.Request.Context(), disputedomain.ResolveRequest{
		DisputeID:    id,
		Outcome:      disputedomain.Outcome(strings.ToUpper(strings.TrimSpace(req.Outcome))),
		Notes:        req.Notes,
		RefundAmount: req.RefundAmount,
		PayoutAmount: req.PayoutAmount,
		Resolver:     actor,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.tagBooking(c, result.Booking.ID.String())

	status := http.StatusOK
	if result.Settlement.Processing() {
		status = http.StatusAccepted
	}
	c.JSON(status, gin.H{"data": result})
}
