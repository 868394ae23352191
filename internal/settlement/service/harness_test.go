package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	bookingdomain "github.com/smallbiznis/gigpay/internal/booking/domain"
	bookingrepo "github.com/smallbiznis/gigpay/internal/booking/repository"
	bookingservice "github.com/smallbiznis/gigpay/internal/booking/service"
	"github.com/smallbiznis/gigpay/internal/clock"
	"github.com/smallbiznis/gigpay/internal/config"
	"github.com/smallbiznis/gigpay/internal/gateway"
	"github.com/smallbiznis/gigpay/internal/gateway/gatewaytest"
	"github.com/smallbiznis/gigpay/internal/identity"
	"github.com/smallbiznis/gigpay/internal/kyc"
	ledgerdomain "github.com/smallbiznis/gigpay/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/gigpay/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/gigpay/internal/ledger/service"
	"github.com/smallbiznis/gigpay/internal/notification"
	"github.com/smallbiznis/gigpay/internal/settlement/domain"
	settlementrepo "github.com/smallbiznis/gigpay/internal/settlement/repository"
	"github.com/smallbiznis/gigpay/internal/testutil/dbtest"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	organizerRef = "org-ada"
	providerRef  = "prov-tunde"
)

var (
	organizer = identity.Actor{Ref: organizerRef, Role: identity.RoleOrganizer}
	provider  = identity.Actor{Ref: providerRef, Role: identity.RoleProvider}
	admin     = identity.Actor{Ref: "admin-1", Role: identity.RoleAdmin}
)

type staticResolutions map[snowflake.ID]*domain.Resolution

func (s staticResolutions) ResolutionFor(_ context.Context, _ *gorm.DB, bookingID snowflake.ID) (*domain.Resolution, error) {
	return s[bookingID], nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	kinds []notification.Kind
}

func (n *recordingNotifier) Emit(_ context.Context, _ string, kind notification.Kind, _ map[string]any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.kinds = append(n.kinds, kind)
	return nil
}

func (n *recordingNotifier) count(kind notification.Kind) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	total := 0
	for _, k := range n.kinds {
		if k == kind {
			total++
		}
	}
	return total
}

type harness struct {
	db          *gorm.DB
	svc         *Service
	bookings    bookingdomain.Service
	bookingRepo bookingdomain.Repository
	txnRepo     ledgerdomain.Repository
	ledger      ledgerdomain.Service
	gw          *gatewaytest.Fake
	kyc         *kyc.Store
	clock       *clock.FakeClock
	resolutions staticResolutions
}

func newHarness(t *testing.T, overrides ...func(*Params)) *harness {
	t.Helper()
	db := dbtest.Open(t)
	node, err := snowflake.NewNode(3)
	require.NoError(t, err)

	log := zap.NewNop()
	clk := clock.NewFakeClock(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	h := &harness{
		db:          db,
		bookingRepo: bookingrepo.Provide(),
		txnRepo:     ledgerrepo.Provide(),
		ledger:      ledgerservice.NewService(ledgerservice.Params{DB: db, Log: log, GenID: node}),
		gw:          gatewaytest.NewFake(),
		kyc:         kyc.NewStore(db, log),
		clock:       clk,
		resolutions: staticResolutions{},
	}
	h.bookings = bookingservice.NewService(bookingservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Repo:  h.bookingRepo,
		Clock: clk,
	})

	require.NoError(t, h.kyc.Upsert(context.Background(), kyc.PayoutProfile{
		RecipientRef:  providerRef,
		KYCStatus:     kyc.StatusVerified,
		AccountName:   "Tunde Bakare",
		AccountNumber: "0123456789",
		BankCode:      "058",
		Currency:      "NGN",
	}))

	p := Params{
		DB:          db,
		Log:         log,
		GenID:       node,
		Clock:       clk,
		BookingRepo: h.bookingRepo,
		TxnRepo:     h.txnRepo,
		Ledger:      h.ledger,
		Gateway:     h.gw,
		Verifier:    h.kyc,
		Webhooks:    settlementrepo.Provide(),
		Holder:      config.NewStaticSettlementConfigHolder(config.DefaultSettlementConfig()),
		Registry:    gateway.NewRegistry(h.gw),
		Resolutions: h.resolutions,
	}
	for _, override := range overrides {
		override(&p)
	}
	h.svc = New(p)
	return h
}

func (h *harness) transition(t *testing.T, id snowflake.ID, action bookingdomain.Action, actor identity.Actor) *bookingdomain.Booking {
	t.Helper()
	b, err := h.bookings.RequestTransition(context.Background(), bookingdomain.TransitionRequest{
		BookingID: id,
		Action:    action,
		Actor:     actor,
	})
	require.NoError(t, err)
	return b
}

// completedBooking walks a funded booking to COMPLETED.
func (h *harness) completedBooking(t *testing.T, gross int64) *bookingdomain.Booking {
	t.Helper()
	ctx := context.Background()
	b, err := h.bookings.Create(ctx, bookingdomain.CreateRequest{
		GrossAmount:  gross,
		Currency:     "NGN",
		OrganizerRef: organizerRef,
		ProviderRef:  providerRef,
		EventRef:     "wedding-lagos",
		Actor:        organizer,
	})
	require.NoError(t, err)

	_, err = h.svc.RecordOrganizerPayment(ctx, domain.OrganizerPaymentRequest{
		BookingID:   b.ID,
		Amount:      gross,
		Currency:    "NGN",
		ExternalRef: "PAY_" + b.ID.String(),
		Actor:       identity.System("test"),
	})
	require.NoError(t, err)

	h.transition(t, b.ID, bookingdomain.ActionAccept, provider)
	h.transition(t, b.ID, bookingdomain.ActionStart, provider)
	return h.transition(t, b.ID, bookingdomain.ActionComplete, organizer)
}

// resolve disputes a completed booking and resolves it with action.
func (h *harness) resolve(t *testing.T, id snowflake.ID, action bookingdomain.Action, res *domain.Resolution) *bookingdomain.Booking {
	t.Helper()
	h.transition(t, id, bookingdomain.ActionDispute, organizer)
	if res != nil {
		h.resolutions[id] = res
	}
	return h.transition(t, id, action, admin)
}

func (h *harness) txn(t *testing.T, bookingID snowflake.ID, kind ledgerdomain.TransactionKind) *ledgerdomain.Transaction {
	t.Helper()
	txn, err := h.txnRepo.FindTransaction(context.Background(), h.db, bookingID, kind)
	require.NoError(t, err)
	return txn
}

func (h *harness) booking(t *testing.T, id snowflake.ID) *bookingdomain.Booking {
	t.Helper()
	b, err := h.bookingRepo.FindByID(context.Background(), h.db, id)
	require.NoError(t, err)
	require.NotNil(t, b)
	return b
}

func (h *harness) balance(t *testing.T, code ledgerdomain.LedgerAccountCode) int64 {
	t.Helper()
	amount, err := h.ledger.Balance(context.Background(), code, "NGN")
	require.NoError(t, err)
	return amount
}
