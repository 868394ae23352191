package service

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/bwmarrin/snowflake"
	bookingdomain "github.com/smallbiznis/gigpay/internal/booking/domain"
	gatewaydomain "github.com/smallbiznis/gigpay/internal/gateway/domain"
	"github.com/smallbiznis/gigpay/internal/gateway/gatewaytest"
	"github.com/smallbiznis/gigpay/internal/identity"
	ledgerdomain "github.com/smallbiznis/gigpay/internal/ledger/domain"
	"github.com/smallbiznis/gigpay/internal/settlement/domain"
	"github.com/smallbiznis/gigpay/internal/testutil/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signed() http.Header {
	headers := http.Header{}
	headers.Set(gatewaytest.SignatureHeader, gatewaytest.ValidSignature)
	return headers
}

func payload(t *testing.T, event gatewaydomain.WebhookEvent) []byte {
	t.Helper()
	raw, err := json.Marshal(event)
	require.NoError(t, err)
	return raw
}

func TestTransferWebhookCompletesPendingLegOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	b := h.completedBooking(t, 100000)

	h.gw.SetInitialStatus(gatewaydomain.TransferStatusPending)
	result, err := h.svc.Settle(ctx, b.ID, domain.TriggerTransition)
	require.NoError(t, err)
	require.True(t, result.Processing())

	reference := domain.IdempotencyKey(b.ID, ledgerdomain.KindProviderPayout)
	h.gw.Settle(reference, gatewaydomain.TransferStatusSuccess, "")

	body := payload(t, gatewaydomain.WebhookEvent{
		EventID:   "evt_1",
		Type:      gatewaydomain.WebhookTransferSuccess,
		Reference: reference,
	})
	require.NoError(t, h.svc.HandleWebhook(ctx, "fake", body, signed()))

	payout := h.txn(t, b.ID, ledgerdomain.KindProviderPayout)
	assert.Equal(t, ledgerdomain.TransactionStatusCompleted, payout.Status)
	assert.NotNil(t, h.booking(t, b.ID).SettledAt)

	// redelivery is acknowledged without touching the gateway again
	verifies := h.gw.Calls(gatewaytest.OpVerifyTransfer)
	require.NoError(t, h.svc.HandleWebhook(ctx, "fake", body, signed()))
	assert.Equal(t, verifies, h.gw.Calls(gatewaytest.OpVerifyTransfer))
	assert.Equal(t, 1, h.gw.TransferCount())

	dbtest.AssertCount(t, h.db, `SELECT COUNT(*) FROM webhook_events WHERE provider = 'fake' AND event_id = 'evt_1'`, 1)
	dbtest.AssertCount(t, h.db, `SELECT COUNT(*) FROM webhook_events WHERE processed_at IS NOT NULL`, 1)
}

func TestWebhookOutcomeIsReadFromGateway(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	b := h.completedBooking(t, 100000)

	h.gw.SetInitialStatus(gatewaydomain.TransferStatusPending)
	_, err := h.svc.Settle(ctx, b.ID, domain.TriggerTransition)
	require.NoError(t, err)

	// the payload claims success but the gateway still reports pending
	reference := domain.IdempotencyKey(b.ID, ledgerdomain.KindProviderPayout)
	require.NoError(t, h.svc.HandleWebhook(ctx, "fake", payload(t, gatewaydomain.WebhookEvent{
		EventID:   "evt_forged",
		Type:      gatewaydomain.WebhookTransferSuccess,
		Reference: reference,
	}), signed()))

	assert.Equal(t, ledgerdomain.TransactionStatusPending, h.txn(t, b.ID, ledgerdomain.KindProviderPayout).Status)
	assert.False(t, h.booking(t, b.ID).IsPaidOut)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	h := newHarness(t)
	body := payload(t, gatewaydomain.WebhookEvent{EventID: "evt_2", Type: gatewaydomain.WebhookTransferSuccess, Reference: "x"})

	err := h.svc.HandleWebhook(context.Background(), "fake", body, http.Header{})
	require.ErrorIs(t, err, gatewaydomain.ErrInvalidSignature)
	dbtest.AssertCount(t, h.db, `SELECT COUNT(*) FROM webhook_events`, 0)

	err = h.svc.HandleWebhook(context.Background(), "nope", body, signed())
	require.ErrorIs(t, err, gatewaydomain.ErrProviderNotFound)
}

func TestWebhookForUnknownReferenceIsAcknowledged(t *testing.T) {
	h := newHarness(t)
	body := payload(t, gatewaydomain.WebhookEvent{
		EventID:   "evt_3",
		Type:      gatewaydomain.WebhookTransferFailed,
		Reference: "provider-payout-1",
	})
	require.NoError(t, h.svc.HandleWebhook(context.Background(), "fake", body, signed()))
	dbtest.AssertCount(t, h.db, `SELECT COUNT(*) FROM webhook_events WHERE processed_at IS NOT NULL`, 1)
}

func TestChargeWebhookRecordsOrganizerPaymentOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	b, err := h.bookings.Create(ctx, bookingdomain.CreateRequest{
		GrossAmount:  75000,
		Currency:     "NGN",
		OrganizerRef: organizerRef,
		ProviderRef:  providerRef,
		Actor:        organizer,
	})
	require.NoError(t, err)

	charge := func(eventID string) []byte {
		return payload(t, gatewaydomain.WebhookEvent{
			EventID:     eventID,
			Type:        gatewaydomain.WebhookChargeSuccess,
			Reference:   "chg_" + b.ID.String(),
			ExternalRef: "PSK_991",
			BookingRef:  b.ID.String(),
			Amount:      75000,
			Currency:    "ngn",
		})
	}
	require.NoError(t, h.svc.HandleWebhook(ctx, "fake", charge("evt_c1"), signed()))
	require.NoError(t, h.svc.HandleWebhook(ctx, "fake", charge("evt_c2"), signed()))

	payment := h.txn(t, b.ID, ledgerdomain.KindOrganizerPayment)
	require.NotNil(t, payment)
	assert.Equal(t, int64(75000), payment.Amount)
	assert.Equal(t, "PSK_991", *payment.ExternalRef)
	dbtest.AssertCount(t, h.db, `SELECT COUNT(*) FROM ledger_entries WHERE booking_id = ?`, 1, b.ID)
	assert.Equal(t, int64(75000), -h.balance(t, ledgerdomain.AccountCodeEscrow))
}

func TestRecordOrganizerPaymentValidates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	b := h.completedBooking(t, 100000)

	cases := []domain.OrganizerPaymentRequest{
		{BookingID: b.ID, Amount: 0, Currency: "NGN", ExternalRef: "x"},
		{BookingID: b.ID, Amount: 100, Currency: "NGN"},
		{BookingID: b.ID, Amount: 100, Currency: "USD", ExternalRef: "x"},
		{BookingID: 0, Amount: 100, Currency: "NGN", ExternalRef: "x"},
	}
	for _, req := range cases {
		req.Actor = identity.System("test")
		_, err := h.svc.RecordOrganizerPayment(ctx, req)
		require.ErrorIs(t, err, domain.ErrInvalidPayment)
	}

	_, err := h.svc.RecordOrganizerPayment(ctx, domain.OrganizerPaymentRequest{
		BookingID:   snowflake.ID(7),
		Amount:      100,
		Currency:    "NGN",
		ExternalRef: "x",
	})
	require.ErrorIs(t, err, bookingdomain.ErrBookingNotFound)
}
