package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	auditdomain "github.com/smallbiznis/gigpay/internal/audit/domain"
	"github.com/smallbiznis/gigpay/internal/authorization"
	bookingdomain "github.com/smallbiznis/gigpay/internal/booking/domain"
	"github.com/smallbiznis/gigpay/internal/config"
	disputedomain "github.com/smallbiznis/gigpay/internal/dispute/domain"
	gatewaydomain "github.com/smallbiznis/gigpay/internal/gateway/domain"
	"github.com/smallbiznis/gigpay/internal/identity"
	ledgerdomain "github.com/smallbiznis/gigpay/internal/ledger/domain"
	settlementdomain "github.com/smallbiznis/gigpay/internal/settlement/domain"
	"github.com/smallbiznis/gigpay/internal/testutil/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testSecret = "test-secret"

type fakeBookingService struct {
	booking     *bookingdomain.Booking
	err         error
	created     *bookingdomain.CreateRequest
	transitions []bookingdomain.TransitionRequest
}

func (f *fakeBookingService) Create(_ context.Context, req bookingdomain.CreateRequest) (*bookingdomain.Booking, error) {
	f.created = &req
	if f.err != nil {
		return nil, f.err
	}
	return &bookingdomain.Booking{ID: 1, Status: bookingdomain.StatusPending, OrganizerRef: req.OrganizerRef, ProviderRef: req.ProviderRef}, nil
}

func (f *fakeBookingService) Get(context.Context, snowflake.ID) (*bookingdomain.Booking, error) {
	if f.booking == nil {
		return nil, bookingdomain.ErrBookingNotFound
	}
	return f.booking, nil
}

func (f *fakeBookingService) RequestTransition(_ context.Context, req bookingdomain.TransitionRequest) (*bookingdomain.Booking, error) {
	f.transitions = append(f.transitions, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.booking, nil
}

func (f *fakeBookingService) TransitionTx(context.Context, *gorm.DB, bookingdomain.TransitionRequest) (*bookingdomain.Booking, []bookingdomain.Event, error) {
	return nil, nil, errors.New("not implemented")
}

func (f *fakeBookingService) Publish(context.Context, []bookingdomain.Event) {}

type fakeDisputeService struct {
	resolved *disputedomain.ResolveRequest
	result   *disputedomain.ResolveResult
	err      error
}

func (f *fakeDisputeService) FileDispute(_ context.Context, req disputedomain.FileRequest) (*disputedomain.Dispute, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &disputedomain.Dispute{ID: 9, BookingID: req.BookingID, Reason: req.Reason, Status: disputedomain.StatusOpen}, nil
}

func (f *fakeDisputeService) MarkUnderReview(_ context.Context, id snowflake.ID, _ identity.Actor) (*disputedomain.Dispute, error) {
	return &disputedomain.Dispute{ID: id, Status: disputedomain.StatusUnderReview}, f.err
}

func (f *fakeDisputeService) Resolve(_ context.Context, req disputedomain.ResolveRequest) (*disputedomain.ResolveResult, error) {
	f.resolved = &req
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeDisputeService) Get(context.Context, snowflake.ID) (*disputedomain.Dispute, error) {
	return nil, disputedomain.ErrDisputeNotFound
}

func (f *fakeDisputeService) ListByBooking(context.Context, snowflake.ID) ([]disputedomain.Dispute, error) {
	return nil, nil
}

type fakeSettlementService struct {
	result    *settlementdomain.Result
	err       error
	retried   []snowflake.ID
	webhooks  []string
	hookError error
}

func (f *fakeSettlementService) Settle(context.Context, snowflake.ID, settlementdomain.Trigger) (*settlementdomain.Result, error) {
	return f.result, f.err
}

func (f *fakeSettlementService) RetrySettlement(_ context.Context, id snowflake.ID) (*settlementdomain.Result, error) {
	f.retried = append(f.retried, id)
	return f.result, f.err
}

func (f *fakeSettlementService) HandleWebhook(_ context.Context, provider string, _ []byte, _ http.Header) error {
	f.webhooks = append(f.webhooks, provider)
	return f.hookError
}

func (f *fakeSettlementService) RecordOrganizerPayment(context.Context, settlementdomain.OrganizerPaymentRequest) (*ledgerdomain.Transaction, error) {
	return nil, nil
}

type fakeAuditService struct{}

func (fakeAuditService) Record(context.Context, auditdomain.Entry) error { return nil }

func (fakeAuditService) RecordTx(context.Context, *gorm.DB, auditdomain.Entry) error { return nil }

func (fakeAuditService) List(context.Context, auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	return auditdomain.ListAuditLogResponse{AuditLogs: []auditdomain.AuditLog{}}, nil
}

type testServer struct {
	engine     *gin.Engine
	bookings   *fakeBookingService
	disputes   *fakeDisputeService
	settlement *fakeSettlementService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	enforcer, err := authorization.NewEnforcer(dbtest.Open(t))
	require.NoError(t, err)

	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())

	ts := &testServer{
		engine: engine,
		bookings: &fakeBookingService{booking: &bookingdomain.Booking{
			ID:           1,
			Status:       bookingdomain.StatusCompleted,
			OrganizerRef: "org-1",
			ProviderRef:  "prov-1",
		}},
		disputes:   &fakeDisputeService{},
		settlement: &fakeSettlementService{},
	}
	srv := NewServer(ServerParams{
		Gin:           engine,
		Cfg:           config.Config{AuthJWTSecret: testSecret},
		Log:           zap.NewNop(),
		AuthzSvc:      authorization.NewService(authorization.Params{Log: zap.NewNop(), Enforcer: enforcer}),
		AuditSvc:      fakeAuditService{},
		BookingSvc:    ts.bookings,
		DisputeSvc:    ts.disputes,
		SettlementSvc: ts.settlement,
	})
	srv.RegisterRoutes()
	return ts
}

func token(t *testing.T, role identity.Role, ref string) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   ref,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func (ts *testServer) do(t *testing.T, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	ts.engine.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestBearerTokenIsRequired(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/v1/bookings/1", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		Role:             "admin",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "ops-1"},
	}).SignedString([]byte("other-secret"))
	require.NoError(t, err)
	rec = ts.do(t, http.MethodGet, "/v1/bookings/1", forged, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/bookings/1", token(t, "guest", "x"), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateBookingDefaultsOrganizerToCaller(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/v1/bookings", token(t, identity.RoleOrganizer, "org-1"), gin.H{
		"gross_amount": 100000,
		"currency":     "NGN",
		"provider_ref": "prov-1",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.NotNil(t, ts.bookings.created)
	assert.Equal(t, "org-1", ts.bookings.created.OrganizerRef)
	assert.Equal(t, identity.Actor{Ref: "org-1", Role: identity.RoleOrganizer}, ts.bookings.created.Actor)
}

func TestCreateBookingRejectedForProviders(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/v1/bookings", token(t, identity.RoleProvider, "prov-1"), gin.H{
		"gross_amount": 100000,
		"currency":     "NGN",
		"provider_ref": "prov-1",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Nil(t, ts.bookings.created)
}

func TestCreateBookingValidationError(t *testing.T) {
	ts := newTestServer(t)
	ts.bookings.err = bookingdomain.ErrInvalidAmount

	rec := ts.do(t, http.MethodPost, "/v1/bookings", token(t, identity.RoleOrganizer, "org-1"), gin.H{"gross_amount": 0})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	payload := decodeError(t, rec)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "amount", payload.Errors[0].Field)
	assert.Equal(t, "invalid_amount", payload.Errors[0].Code)
}

func TestGetBookingHiddenFromStrangers(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/v1/bookings/1", token(t, identity.RoleProvider, "prov-1"), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/bookings/1", token(t, identity.RoleProvider, "prov-2"), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/bookings/abc", token(t, identity.RoleAdmin, "ops-1"), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTransitionErrorsMapToStatus(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"invalid transition", bookingdomain.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
		{"terminal", bookingdomain.ErrAlreadyTerminal, http.StatusConflict, "already_terminal"},
		{"wrong party", bookingdomain.ErrForbidden, http.StatusForbidden, ""},
		{"unknown booking", bookingdomain.ErrBookingNotFound, http.StatusNotFound, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.bookings.err = tc.err

			rec := ts.do(t, http.MethodPost, "/v1/bookings/1/transitions", token(t, identity.RoleProvider, "prov-1"), gin.H{"action": "accept"})
			require.Equal(t, tc.status, rec.Code, rec.Body.String())
			assert.Equal(t, tc.code, decodeError(t, rec).Code)
			require.Len(t, ts.bookings.transitions, 1)
			assert.Equal(t, bookingdomain.ActionAccept, ts.bookings.transitions[0].Action)
		})
	}
}

func TestRetrySettlementResponses(t *testing.T) {
	processing := &settlementdomain.Result{BookingID: 1, Legs: []settlementdomain.LegResult{
		{Kind: ledgerdomain.KindProviderPayout, Status: settlementdomain.LegStatusProcessing},
	}}
	settled := &settlementdomain.Result{BookingID: 1, Settled: true}

	cases := []struct {
		name    string
		result  *settlementdomain.Result
		err     error
		status  int
		message string
	}{
		{name: "settled", result: settled, status: http.StatusOK},
		{name: "still processing", result: processing, status: http.StatusAccepted},
		{name: "recipient not verified", result: &settlementdomain.Result{}, err: settlementdomain.ErrRecipientNotVerified, status: http.StatusUnprocessableEntity, message: "provider has not completed verification"},
		{name: "no destination", err: settlementdomain.ErrNoDestination, status: http.StatusUnprocessableEntity, message: "provider has no payout destination on file"},
		{name: "gateway rejected", result: &settlementdomain.Result{}, err: fmt.Errorf("payout: %w", gatewaydomain.Rejected("paystack", "invalid_account", "account number is invalid")), status: http.StatusBadGateway, message: "account number is invalid"},
		{name: "gateway unavailable", err: gatewaydomain.Unavailable("paystack", nil), status: http.StatusServiceUnavailable},
		{name: "already paid out", err: settlementdomain.ErrAlreadyPaidOut, status: http.StatusConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.settlement.result = tc.result
			ts.settlement.err = tc.err

			rec := ts.do(t, http.MethodPost, "/v1/bookings/1/settlement/retry", token(t, identity.RoleAdmin, "ops-1"), nil)
			require.Equal(t, tc.status, rec.Code, rec.Body.String())
			if tc.message != "" {
				assert.Equal(t, tc.message, decodeError(t, rec).Message)
			}
			assert.Equal(t, []snowflake.ID{1}, ts.settlement.retried)
		})
	}
}

func TestOperatorEndpointsRequireAdmin(t *testing.T) {
	ts := newTestServer(t)
	organizer := token(t, identity.RoleOrganizer, "org-1")

	rec := ts.do(t, http.MethodPost, "/v1/bookings/1/settlement/retry", organizer, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, ts.settlement.retried)

	rec = ts.do(t, http.MethodPost, "/v1/disputes/9/resolve", organizer, gin.H{"outcome": "ORGANIZER_FAVOR"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Nil(t, ts.disputes.resolved)

	rec = ts.do(t, http.MethodPost, "/v1/disputes/9/review", token(t, identity.RoleProvider, "prov-1"), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/audit-logs", organizer, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/audit-logs", token(t, identity.RoleAdmin, "ops-1"), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestResolveDisputeReportsSettlementInBody(t *testing.T) {
	ts := newTestServer(t)
	refund := int64(95000)
	ts.disputes.result = &disputedomain.ResolveResult{
		Dispute:         disputedomain.Dispute{ID: 9, Status: disputedomain.StatusResolvedOrganizer},
		Booking:         bookingdomain.Booking{ID: 1, Status: bookingdomain.StatusResolvedOrganizer},
		SettlementError: settlementdomain.ErrPaymentNotCaptured.Error(),
	}

	rec := ts.do(t, http.MethodPost, "/v1/disputes/9/resolve", token(t, identity.RoleAdmin, "ops-1"), gin.H{
		"outcome":       "organizer_favor",
		"refund_amount": refund,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NotNil(t, ts.disputes.resolved)
	assert.Equal(t, disputedomain.OutcomeOrganizerFavor, ts.disputes.resolved.Outcome)
	assert.Equal(t, refund, *ts.disputes.resolved.RefundAmount)
	assert.Contains(t, rec.Body.String(), "organizer_payment_not_captured")
}

func TestFileDisputeConflict(t *testing.T) {
	ts := newTestServer(t)
	ts.disputes.err = disputedomain.ErrDisputeAlreadyOpen

	rec := ts.do(t, http.MethodPost, "/v1/bookings/1/disputes", token(t, identity.RoleOrganizer, "org-1"), gin.H{"reason": "no_show"})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "dispute_already_open", decodeError(t, rec).Code)
}

func TestWebhookSkipsBearerAuth(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/v1/webhooks/Paystack", "", gin.H{"event": "transfer.success"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"paystack"}, ts.settlement.webhooks)

	ts.settlement.hookError = gatewaydomain.ErrInvalidSignature
	rec = ts.do(t, http.MethodPost, "/v1/webhooks/paystack", "", gin.H{})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	ts.settlement.hookError = gatewaydomain.ErrProviderNotFound
	rec = ts.do(t, http.MethodPost, "/v1/webhooks/unknown", "", gin.H{})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestClassifyErrorForLog(t *testing.T) {
	errorType, code := classifyErrorForLog(fmt.Errorf("payout: %w", settlementdomain.ErrRecipientNotVerified))
	assert.Equal(t, "unprocessable", errorType)
	assert.Equal(t, "recipient_not_verified", code)

	errorType, code = classifyErrorForLog(disputedomain.ErrInvalidSplit)
	assert.Equal(t, "validation_error", errorType)
	assert.Equal(t, "invalid_split", code)

	errorType, code = classifyErrorForLog(errors.New("boom"))
	assert.Equal(t, "internal_error", errorType)
	assert.Equal(t, "internal_error", code)
}
