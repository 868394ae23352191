package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/samber/lo"
	bookingdomain "github.com/smallbiznis/gigpay/internal/booking/domain"
	bookingrepo "github.com/smallbiznis/gigpay/internal/booking/repository"
	bookingservice "github.com/smallbiznis/gigpay/internal/booking/service"
	"github.com/smallbiznis/gigpay/internal/clock"
	"github.com/smallbiznis/gigpay/internal/config"
	"github.com/smallbiznis/gigpay/internal/dispute/domain"
	"github.com/smallbiznis/gigpay/internal/dispute/repository"
	gatewaydomain "github.com/smallbiznis/gigpay/internal/gateway/domain"
	"github.com/smallbiznis/gigpay/internal/gateway/gatewaytest"
	"github.com/smallbiznis/gigpay/internal/identity"
	"github.com/smallbiznis/gigpay/internal/kyc"
	ledgerdomain "github.com/smallbiznis/gigpay/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/gigpay/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/gigpay/internal/ledger/service"
	settlementdomain "github.com/smallbiznis/gigpay/internal/settlement/domain"
	settlementrepo "github.com/smallbiznis/gigpay/internal/settlement/repository"
	settlementservice "github.com/smallbiznis/gigpay/internal/settlement/service"
	"github.com/smallbiznis/gigpay/internal/testutil/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	organizer = identity.Actor{Ref: "org-chi", Role: identity.RoleOrganizer}
	provider  = identity.Actor{Ref: "prov-emeka", Role: identity.RoleProvider}
	admin     = identity.Actor{Ref: "ops-1", Role: identity.RoleAdmin}
)

type testEnv struct {
	db         *gorm.DB
	svc        domain.Service
	repo       domain.Repository
	bookings   bookingdomain.Service
	txnRepo    ledgerdomain.Repository
	settlement settlementdomain.Service
	gw         *gatewaytest.Fake
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := dbtest.Open(t)
	node, err := snowflake.NewNode(5)
	require.NoError(t, err)
	log := zap.NewNop()
	clk := clock.NewFakeClock(time.Date(2026, 6, 1, 18, 0, 0, 0, time.UTC))

	store := kyc.NewStore(db, log)
	require.NoError(t, store.Upsert(context.Background(), kyc.PayoutProfile{
		RecipientRef:  provider.Ref,
		KYCStatus:     kyc.StatusVerified,
		AccountNumber: "0011223344",
		BankCode:      "044",
	}))

	repo := repository.Provide()
	bRepo := bookingrepo.Provide()
	tRepo := ledgerrepo.Provide()
	bookings := bookingservice.NewService(bookingservice.Params{DB: db, Log: log, GenID: node, Repo: bRepo, Clock: clk})
	gw := gatewaytest.NewFake()
	settlement := settlementservice.NewService(settlementservice.Params{
		DB:          db,
		Log:         log,
		GenID:       node,
		Clock:       clk,
		BookingRepo: bRepo,
		TxnRepo:     tRepo,
		Ledger:      ledgerservice.NewService(ledgerservice.Params{DB: db, Log: log, GenID: node}),
		Gateway:     gw,
		Verifier:    store,
		Webhooks:    settlementrepo.Provide(),
		Holder:      config.NewStaticSettlementConfigHolder(config.DefaultSettlementConfig()),
		Resolutions: NewResolutionSource(repo),
	})

	return &testEnv{
		db:   db,
		repo: repo,
		svc: NewService(Params{
			DB:          db,
			Log:         log,
			GenID:       node,
			Clock:       clk,
			Repo:        repo,
			BookingRepo: bRepo,
			BookingSvc:  bookings,
			TxnRepo:     tRepo,
			Settlement:  settlement,
		}),
		bookings:   bookings,
		txnRepo:    tRepo,
		settlement: settlement,
		gw:         gw,
	}
}

func (e *testEnv) completedBooking(t *testing.T, gross int64) snowflake.ID {
	t.Helper()
	ctx := context.Background()
	b, err := e.bookings.Create(ctx, bookingdomain.CreateRequest{
		GrossAmount:  gross,
		Currency:     "NGN",
		OrganizerRef: organizer.Ref,
		ProviderRef:  provider.Ref,
		Actor:        organizer,
	})
	require.NoError(t, err)
	_, err = e.settlement.RecordOrganizerPayment(ctx, settlementdomain.OrganizerPaymentRequest{
		BookingID:   b.ID,
		Amount:      gross,
		Currency:    "NGN",
		ExternalRef: "PAY_" + b.ID.String(),
		Actor:       identity.System("test"),
	})
	require.NoError(t, err)

	for _, step := range []struct {
		action bookingdomain.Action
		actor  identity.Actor
	}{
		{bookingdomain.ActionAccept, provider},
		{bookingdomain.ActionStart, provider},
		{bookingdomain.ActionComplete, organizer},
	} {
		_, err := e.bookings.RequestTransition(ctx, bookingdomain.TransitionRequest{BookingID: b.ID, Action: step.action, Actor: step.actor})
		require.NoError(t, err)
	}
	return b.ID
}

func (e *testEnv) file(t *testing.T, bookingID snowflake.ID) *domain.Dispute {
	t.Helper()
	d, err := e.svc.FileDispute(context.Background(), domain.FileRequest{
		BookingID:   bookingID,
		Reason:      domain.ReasonNoShow,
		Explanation: "band never arrived",
		RaisedBy:    organizer,
	})
	require.NoError(t, err)
	return d
}

func TestFileDisputeMovesBookingToDisputed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.completedBooking(t, 100000)

	d := env.file(t, id)
	assert.Equal(t, domain.StatusOpen, d.Status)
	assert.Equal(t, organizer.Ref, d.FiledByRef)

	b, err := env.bookings.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, bookingdomain.StatusDisputed, b.Status)
	assert.NotNil(t, b.DisputedAt)

	_, err = env.svc.FileDispute(ctx, domain.FileRequest{BookingID: id, Reason: domain.ReasonQuality, RaisedBy: provider})
	require.ErrorIs(t, err, domain.ErrDisputeAlreadyOpen)

	list, err := env.svc.ListByBooking(ctx, id)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestConcurrentFilingsOpenOneDispute(t *testing.T) {
	env := newTestEnv(t)
	id := env.completedBooking(t, 100000)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		wins  int
		other []error
	)
	for _, actor := range []identity.Actor{organizer, provider, organizer, provider} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.FileDispute(context.Background(), domain.FileRequest{BookingID: id, Reason: domain.ReasonOther, RaisedBy: actor})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
				return
			}
			other = append(other, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	for _, err := range other {
		assert.True(t,
			lo.Contains([]error{domain.ErrDisputeAlreadyOpen, bookingdomain.ErrInvalidTransition}, err),
			"unexpected error %v", err)
	}
	dbtest.AssertCount(t, env.db, `SELECT COUNT(*) FROM disputes WHERE booking_id = ?`, 1, id)
}

func TestFileDisputeRejections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.completedBooking(t, 100000)

	_, err := env.svc.FileDispute(ctx, domain.FileRequest{BookingID: id, Reason: "BORED", RaisedBy: organizer})
	require.ErrorIs(t, err, domain.ErrInvalidReason)

	stranger := identity.Actor{Ref: "org-other", Role: identity.RoleOrganizer}
	_, err = env.svc.FileDispute(ctx, domain.FileRequest{BookingID: id, Reason: domain.ReasonQuality, RaisedBy: stranger})
	require.ErrorIs(t, err, bookingdomain.ErrForbidden)

	pending, err := env.bookings.Create(ctx, bookingdomain.CreateRequest{
		GrossAmount: 5000, Currency: "NGN", OrganizerRef: organizer.Ref, ProviderRef: provider.Ref, Actor: organizer,
	})
	require.NoError(t, err)
	_, err = env.svc.FileDispute(ctx, domain.FileRequest{BookingID: pending.ID, Reason: domain.ReasonQuality, RaisedBy: organizer})
	require.ErrorIs(t, err, bookingdomain.ErrInvalidTransition)

	dbtest.AssertCount(t, env.db, `SELECT COUNT(*) FROM disputes`, 0)
}

func TestResolveProviderFavorPaysAtDisputeRate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.completedBooking(t, 100000)
	d := env.file(t, id)

	res, err := env.svc.Resolve(ctx, domain.ResolveRequest{
		DisputeID: d.ID,
		Outcome:   domain.OutcomeProviderFavor,
		Notes:     "organizer confirmed arrival on call",
		Resolver:  admin,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusResolvedProvider, res.Dispute.Status)
	assert.Equal(t, int64(95000), res.Dispute.PayoutAmount)
	assert.Equal(t, int64(5000), res.Dispute.DisputeFee)
	assert.Empty(t, res.SettlementError)
	require.NotNil(t, res.Settlement)
	assert.True(t, res.Settlement.Settled)
	assert.Equal(t, bookingdomain.StatusResolvedProvider, res.Booking.Status)
	assert.NotNil(t, res.Booking.SettledAt)

	payout, err := env.txnRepo.FindTransaction(ctx, env.db, id, ledgerdomain.KindProviderPayout)
	require.NoError(t, err)
	assert.Equal(t, int64(95000), payout.Amount)

	_, err = env.svc.Resolve(ctx, domain.ResolveRequest{DisputeID: d.ID, Outcome: domain.OutcomeOrganizerFavor, Resolver: admin})
	require.ErrorIs(t, err, domain.ErrDisputeClosed)
}

func TestResolvePartialRefundsAndPays(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.completedBooking(t, 100000)
	d := env.file(t, id)

	res, err := env.svc.Resolve(ctx, domain.ResolveRequest{
		DisputeID:    d.ID,
		Outcome:      domain.OutcomePartial,
		RefundAmount: lo.ToPtr(int64(30000)),
		PayoutAmount: lo.ToPtr(int64(65000)),
		Resolver:     admin,
	})
	require.NoError(t, err)
	require.Len(t, res.Settlement.Legs, 2)
	assert.True(t, res.Settlement.Settled)
	assert.Equal(t, 1, env.gw.RefundCount())
	assert.Equal(t, 1, env.gw.TransferCount())

	refund, err := env.txnRepo.FindTransaction(ctx, env.db, id, ledgerdomain.KindRefund)
	require.NoError(t, err)
	assert.Equal(t, int64(30000), refund.Amount)
	fee, err := env.txnRepo.FindTransaction(ctx, env.db, id, ledgerdomain.KindPlatformFee)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), fee.Amount)
}

func TestResolveValidatesSplit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.completedBooking(t, 100000)
	d := env.file(t, id)

	cases := []domain.ResolveRequest{
		{Outcome: domain.OutcomePartial, RefundAmount: lo.ToPtr(int64(50000)), PayoutAmount: lo.ToPtr(int64(50000))},
		{Outcome: domain.OutcomePartial, RefundAmount: lo.ToPtr(int64(50000))},
		{Outcome: domain.OutcomePartial, RefundAmount: lo.ToPtr(int64(-1)), PayoutAmount: lo.ToPtr(int64(1000))},
		{Outcome: domain.OutcomeOrganizerFavor, RefundAmount: lo.ToPtr(int64(96000))},
	}
	for _, req := range cases {
		req.DisputeID = d.ID
		req.Resolver = admin
		_, err := env.svc.Resolve(ctx, req)
		require.ErrorIs(t, err, domain.ErrInvalidSplit)
	}

	_, err := env.svc.Resolve(ctx, domain.ResolveRequest{DisputeID: d.ID, Outcome: "SPLIT_IT", Resolver: admin})
	require.ErrorIs(t, err, domain.ErrInvalidOutcome)

	_, err = env.svc.Resolve(ctx, domain.ResolveRequest{DisputeID: d.ID, Outcome: domain.OutcomeProviderFavor, Resolver: organizer})
	require.ErrorIs(t, err, bookingdomain.ErrForbidden)

	_, err = env.svc.Resolve(ctx, domain.ResolveRequest{DisputeID: 99, Outcome: domain.OutcomeProviderFavor, Resolver: admin})
	require.ErrorIs(t, err, domain.ErrDisputeNotFound)

	current, err := env.svc.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOpen, current.Status)
}

func TestResolveRefusesOutcomesContradictingPayout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.completedBooking(t, 100000)

	_, err := env.settlement.Settle(ctx, id, settlementdomain.TriggerTransition)
	require.NoError(t, err)
	d := env.file(t, id)

	_, err = env.svc.Resolve(ctx, domain.ResolveRequest{DisputeID: d.ID, Outcome: domain.OutcomeOrganizerFavor, Resolver: admin})
	require.ErrorIs(t, err, settlementdomain.ErrAlreadyPaidOut)

	_, err = env.svc.Resolve(ctx, domain.ResolveRequest{
		DisputeID:    d.ID,
		Outcome:      domain.OutcomePartial,
		RefundAmount: lo.ToPtr(int64(45000)),
		PayoutAmount: lo.ToPtr(int64(50000)),
		Resolver:     admin,
	})
	require.ErrorIs(t, err, settlementdomain.ErrAlreadyPaidOut)

	res, err := env.svc.Resolve(ctx, domain.ResolveRequest{DisputeID: d.ID, Outcome: domain.OutcomeProviderFavor, Resolver: admin})
	require.NoError(t, err)
	require.Len(t, res.Settlement.Legs, 1)
	assert.Equal(t, ledgerdomain.KindProviderAdjustment, res.Settlement.Legs[0].Kind)
	assert.Equal(t, int64(5000), res.Settlement.Legs[0].Amount)
}

func TestResolveWaitsForPayoutInFlight(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.completedBooking(t, 100000)

	env.gw.SetInitialStatus(gatewaydomain.TransferStatusPending)
	_, err := env.settlement.Settle(ctx, id, settlementdomain.TriggerTransition)
	require.NoError(t, err)
	d := env.file(t, id)

	_, err = env.svc.Resolve(ctx, domain.ResolveRequest{DisputeID: d.ID, Outcome: domain.OutcomeProviderFavor, Resolver: admin})
	require.ErrorIs(t, err, settlementdomain.ErrPayoutInFlight)

	env.gw.Settle(settlementdomain.IdempotencyKey(id, ledgerdomain.KindProviderPayout), gatewaydomain.TransferStatusSuccess, "")
	_, err = env.settlement.Settle(ctx, id, settlementdomain.TriggerSweep)
	require.NoError(t, err)

	res, err := env.svc.Resolve(ctx, domain.ResolveRequest{DisputeID: d.ID, Outcome: domain.OutcomeProviderFavor, Resolver: admin})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusResolvedProvider, res.Dispute.Status)
}

func TestMarkUnderReview(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	d := env.file(t, env.completedBooking(t, 20000))

	_, err := env.svc.MarkUnderReview(ctx, d.ID, organizer)
	require.ErrorIs(t, err, bookingdomain.ErrForbidden)

	reviewed, err := env.svc.MarkUnderReview(ctx, d.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUnderReview, reviewed.Status)
	assert.NotNil(t, reviewed.ReviewedAt)

	again, err := env.svc.MarkUnderReview(ctx, d.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUnderReview, again.Status)

	_, err = env.svc.Resolve(ctx, domain.ResolveRequest{
		DisputeID:    d.ID,
		Outcome:      domain.OutcomeOrganizerFavor,
		Resolver:     admin,
		RefundAmount: lo.ToPtr(int64(19000)),
	})
	require.NoError(t, err)

	_, err = env.svc.MarkUnderReview(ctx, d.ID, admin)
	require.ErrorIs(t, err, domain.ErrDisputeClosed)
}

func TestResolutionSourceReadsLatestResolution(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.completedBooking(t, 100000)
	source := NewResolutionSource(env.repo)

	res, err := source.ResolutionFor(ctx, env.db, id)
	require.NoError(t, err)
	assert.Nil(t, res)

	d := env.file(t, id)
	_, err = env.svc.Resolve(ctx, domain.ResolveRequest{
		DisputeID:    d.ID,
		Outcome:      domain.OutcomePartial,
		RefundAmount: lo.ToPtr(int64(10000)),
		PayoutAmount: lo.ToPtr(int64(85000)),
		Resolver:     admin,
	})
	require.NoError(t, err)

	res, err = source.ResolutionFor(ctx, env.db, id)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, d.ID, res.DisputeID)
	assert.Equal(t, int64(10000), res.RefundAmount)
	assert.Equal(t, int64(85000), res.PayoutAmount)
}
