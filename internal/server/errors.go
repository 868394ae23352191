package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/gigpay/internal/audit/domain"
	bookingdomain "github.com/smallbiznis/gigpay/internal/booking/domain"
	disputedomain "github.com/smallbiznis/gigpay/internal/dispute/domain"
	gatewaydomain "github.com/smallbiznis/gigpay/internal/gateway/domain"
	settlementdomain "github.com/smallbiznis/gigpay/internal/settlement/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Code    string            `json:"code,omitempty"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if code, ok := validationErrorCode(err); ok {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, gatewaydomain.ErrInvalidSignature):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, bookingdomain.ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Code:    conflictCode(err),
			Message: "conflict",
		}
	case isUnprocessableError(err):
		code := unprocessableCode(err)
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "unprocessable",
			Code:    code,
			Message: unprocessableMessage(code),
		}
	case errors.Is(err, gatewaydomain.ErrRejected):
		reason, _ := gatewaydomain.RejectionReason(err)
		if strings.TrimSpace(reason) == "" {
			reason = "transfer rejected by gateway"
		}
		return http.StatusBadGateway, errorPayload{
			Type:    "gateway_rejected",
			Message: reason,
		}
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, gatewaydomain.ErrUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

var validationErrors = []error{
	ErrInvalidRequest,
	bookingdomain.ErrInvalidAmount,
	bookingdomain.ErrInvalidCurrency,
	bookingdomain.ErrInvalidOrganizer,
	bookingdomain.ErrInvalidProvider,
	bookingdomain.ErrInvalidAction,
	bookingdomain.ErrInvalidActor,
	disputedomain.ErrInvalidOutcome,
	disputedomain.ErrInvalidSplit,
	disputedomain.ErrInvalidReason,
	settlementdomain.ErrInvalidTrigger,
	settlementdomain.ErrInvalidPayment,
	gatewaydomain.ErrInvalidPayload,
	auditdomain.ErrInvalidPageToken,
	auditdomain.ErrInvalidTimeRange,
	auditdomain.ErrInvalidAction,
}

func validationErrorCode(err error) (string, bool) {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return target.Error(), true
		}
	}
	return "", false
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "invalid_split":
		return "refund and payout must be non-negative and fit within the gross amount less the dispute fee"
	default:
		return "invalid value"
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, bookingdomain.ErrBookingNotFound),
		errors.Is(err, disputedomain.ErrDisputeNotFound),
		errors.Is(err, gatewaydomain.ErrProviderNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

var conflictErrors = []error{
	bookingdomain.ErrInvalidTransition,
	bookingdomain.ErrAlreadyTerminal,
	bookingdomain.ErrConcurrentUpdate,
	settlementdomain.ErrAlreadyPaidOut,
	settlementdomain.ErrPayoutInFlight,
	settlementdomain.ErrResolutionNotFound,
	disputedomain.ErrDisputeAlreadyOpen,
	disputedomain.ErrDisputeClosed,
	ErrConflict,
}

func isConflictError(err error) bool {
	return conflictCode(err) != ""
}

func conflictCode(err error) string {
	for _, target := range conflictErrors {
		if errors.Is(err, target) {
			return target.Error()
		}
	}
	return ""
}

var unprocessableErrors = []error{
	settlementdomain.ErrRecipientNotVerified,
	settlementdomain.ErrNoDestination,
	settlementdomain.ErrNotEligible,
	settlementdomain.ErrPaymentNotCaptured,
}

func isUnprocessableError(err error) bool {
	return unprocessableCode(err) != ""
}

func unprocessableCode(err error) string {
	for _, target := range unprocessableErrors {
		if errors.Is(err, target) {
			return target.Error()
		}
	}
	return ""
}

func unprocessableMessage(code string) string {
	switch code {
	case settlementdomain.ErrRecipientNotVerified.Error():
		return "provider has not completed verification"
	case settlementdomain.ErrNoDestination.Error():
		return "provider has no payout destination on file"
	case settlementdomain.ErrNotEligible.Error():
		return "booking is not eligible for settlement"
	case settlementdomain.ErrPaymentNotCaptured.Error():
		return "organizer payment has not been captured"
	default:
		return "unprocessable request"
	}
}

// classifyErrorForLog returns the error type and code written to the request log.
func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	_, payload := mapError(err)
	code := payload.Code
	if code == "" && len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	if code == "" {
		code = payload.Type
	}
	return payload.Type, code
}
