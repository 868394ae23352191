package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	bookingdomain "github.com/smallbiznis/gigpay/internal/booking/domain"
	obscontext "github.com/smallbiznis/gigpay/internal/observability/context"
)

type createBookingRequest struct {
	GrossAmount  int64  `json:"gross_amount"`
	Currency     string `json:"currency"`
	OrganizerRef string `json:"organizer_ref"`
	ProviderRef  string `json:"provider_ref"`
	EventRef     string `json:"event_ref"`
	Notes        string `json:"notes"`
}

type transitionRequest struct {
	Action string `json:"action"`
	Notes  string `json:"notes"`
}

func (s *Server) CreateBooking(c *gin.Context) {
	var req createBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	actor, _ := actorFromContext(c)
	organizerRef := strings.TrimSpace(req.OrganizerRef)
	if organizerRef == "" && !actor.IsAdmin() {
		organizerRef = actor.Ref
	}

	booking, err := s.bookingSvc.Create(c.Request.Context(), bookingdomain.CreateRequest{
		GrossAmount:  req.GrossAmount,
		Currency:     req.Currency,
		OrganizerRef: organizerRef,
		ProviderRef:  req.ProviderRef,
		EventRef:     req.EventRef,
		Notes:        req.Notes,
		Actor:        actor,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": booking})
}

func (s *Server) GetBooking(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.tagBooking(c, id.String())

	booking, err := s.bookingSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !s.canView(c, *booking) {
		AbortWithError(c, ErrNotFound)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": booking})
}

func (s *Server) TransitionBooking(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.tagBooking(c, id.String())

	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	actor, _ := actorFromContext(c)
	booking, err := s.bookingSvc.RequestTransition(c.Request.Context(), bookingdomain.TransitionRequest{
		BookingID: id,
		Action:    bookingdomain.Action(strings.ToUpper(strings.TrimSpace(req.Action))),
		Notes:     req.Notes,
		Actor:     actor,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": booking})
}

// canView hides bookings from callers who are not a party to them.
func (s *Server) canView(c *gin.Context, booking bookingdomain.Booking) bool {
	actor, ok := actorFromContext(c)
	return ok && booking.IsParty(actor)
}

func (s *Server) tagBooking(c *gin.Context, bookingID string) {
	c.Request = c.Request.WithContext(obscontext.WithBookingID(c.Request.Context(), bookingID))
}
