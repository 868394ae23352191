package sweeper

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	bookingdomain "github.com/smallbiznis/gigpay/internal/booking/domain"
	bookingrepo "github.com/smallbiznis/gigpay/internal/booking/repository"
	"github.com/smallbiznis/gigpay/internal/clock"
	"github.com/smallbiznis/gigpay/internal/config"
	ledgerdomain "github.com/smallbiznis/gigpay/internal/ledger/domain"
	"github.com/smallbiznis/gigpay/internal/settlement/domain"
	"github.com/smallbiznis/gigpay/internal/testutil/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingSettler struct {
	mu     sync.Mutex
	seen   []snowflake.ID
	result func(id snowflake.ID) (*domain.Result, error)
}

func (r *recordingSettler) Settle(_ context.Context, id snowflake.ID, trigger domain.Trigger) (*domain.Result, error) {
	r.mu.Lock()
	r.seen = append(r.seen, id)
	r.mu.Unlock()
	if r.result != nil {
		return r.result(id)
	}
	return &domain.Result{BookingID: id, Trigger: trigger, Settled: true}, nil
}

func (r *recordingSettler) RetrySettlement(ctx context.Context, id snowflake.ID) (*domain.Result, error) {
	return r.Settle(ctx, id, domain.TriggerOperator)
}

func (r *recordingSettler) HandleWebhook(context.Context, string, []byte, http.Header) error {
	return nil
}

func (r *recordingSettler) RecordOrganizerPayment(context.Context, domain.OrganizerPaymentRequest) (*ledgerdomain.Transaction, error) {
	return nil, nil
}

func (r *recordingSettler) calls() []snowflake.ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]snowflake.ID(nil), r.seen...)
}

type fixture struct {
	db       *gorm.DB
	repo     bookingdomain.Repository
	clock    *clock.FakeClock
	node     *snowflake.Node
	settler  *recordingSettler
	sweeper  *Sweeper
	settings config.SettlementConfig
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	node, err := snowflake.NewNode(9)
	require.NoError(t, err)

	settings := config.DefaultSettlementConfig()
	settings.Sweep.Interval = 10 * time.Millisecond
	settings.Sweep.Concurrency = 2

	f := &fixture{
		db:       dbtest.Open(t),
		repo:     bookingrepo.Provide(),
		clock:    clock.NewFakeClock(time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)),
		node:     node,
		settler:  &recordingSettler{},
		settings: settings,
	}
	f.sweeper, err = New(Params{
		DB:          f.db,
		Log:         zap.NewNop(),
		Clock:       f.clock,
		Settlement:  f.settler,
		BookingRepo: f.repo,
		Holder:      config.NewStaticSettlementConfigHolder(settings),
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) insertBooking(t *testing.T, status bookingdomain.Status, age time.Duration) snowflake.ID {
	t.Helper()
	at := f.clock.Now().Add(-age).UTC()
	b := bookingdomain.Booking{
		ID:              f.node.Generate(),
		Status:          status,
		GrossAmount:     100000,
		PlatformFee:     10000,
		RecipientAmount: 90000,
		Currency:        "NGN",
		OrganizerRef:    "org-1",
		ProviderRef:     "prov-1",
		ProposedAt:      at,
		CreatedAt:       at,
		UpdatedAt:       at,
	}
	require.NoError(t, f.repo.Insert(context.Background(), f.db, &b))
	return b.ID
}

func TestRunOnceVisitsOnlyStaleUnsettledBookings(t *testing.T) {
	f := newFixture(t)
	stale := f.insertBooking(t, bookingdomain.StatusCompleted, time.Hour)
	resolved := f.insertBooking(t, bookingdomain.StatusResolvedPartial, time.Hour)
	f.insertBooking(t, bookingdomain.StatusCompleted, 10*time.Second)
	f.insertBooking(t, bookingdomain.StatusInProgress, time.Hour)
	f.insertBooking(t, bookingdomain.StatusDisputed, time.Hour)

	summary, err := f.sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Candidates)
	assert.Equal(t, 2, summary.Settled)
	assert.ElementsMatch(t, []snowflake.ID{stale, resolved}, f.settler.calls())
}

func TestRunOnceSkipsBookingsWithFailedLegs(t *testing.T) {
	f := newFixture(t)
	id := f.insertBooking(t, bookingdomain.StatusCompleted, time.Hour)
	require.NoError(t, f.db.Exec(
		`INSERT INTO booking_transactions (id, booking_id, kind, status, amount, currency, idempotency_key, created_at, updated_at)
		VALUES (?, ?, 'PROVIDER_PAYOUT', 'FAILED', 90000, 'NGN', ?, ?, ?)`,
		f.node.Generate(), id, "provider-payout-"+id.String(), f.clock.Now(), f.clock.Now(),
	).Error)

	summary, err := f.sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.Candidates)
	assert.Empty(t, f.settler.calls())
}

func TestRunOnceCountsOutcomes(t *testing.T) {
	f := newFixture(t)
	processing := f.insertBooking(t, bookingdomain.StatusCompleted, time.Hour)
	failing := f.insertBooking(t, bookingdomain.StatusCompleted, time.Hour)
	f.settler.result = func(id snowflake.ID) (*domain.Result, error) {
		switch id {
		case processing:
			return &domain.Result{BookingID: id, Legs: []domain.LegResult{{Status: domain.LegStatusProcessing}}}, nil
		case failing:
			return nil, domain.ErrNotEligible
		}
		return &domain.Result{BookingID: id}, nil
	}

	summary, err := f.sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Candidates: 2, Processing: 1, Failed: 1}, summary)
}

func TestScheduleStopsWithApp(t *testing.T) {
	f := newFixture(t)
	f.insertBooking(t, bookingdomain.StatusCompleted, time.Hour)

	app := fxtest.New(t,
		fx.Supply(config.NewStaticSettlementConfigHolder(f.settings)),
		fx.Supply(f.sweeper),
		Schedule,
	)
	app.RequireStart()
	require.Eventually(t, func() bool { return len(f.settler.calls()) > 0 }, time.Second, 5*time.Millisecond)
	app.RequireStop()
}
