package domain

import (
	"testing"

	"github.com/bwmarrin/snowflake"
	bookingdomain "github.com/smallbiznis/gigpay/internal/booking/domain"
	gatewaydomain "github.com/smallbiznis/gigpay/internal/gateway/domain"
	ledgerdomain "github.com/smallbiznis/gigpay/internal/ledger/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func booking(status bookingdomain.Status, paid bool) bookingdomain.Booking {
	b := bookingdomain.Booking{
		ID:              snowflake.ID(1001),
		Status:          status,
		GrossAmount:     100000,
		PlatformFee:     10000,
		RecipientAmount: 90000,
		IsPaidOut:       paid,
	}
	if status.IsResolved() {
		b.PlatformFee, b.RecipientAmount = 5000, 95000
	}
	return b
}

func TestBuildPlan(t *testing.T) {
	cases := []struct {
		name string
		in   PlanInput
		want []Leg
		err  error
	}{
		{
			name: "completed pays recipient amount",
			in:   PlanInput{Booking: booking(bookingdomain.StatusCompleted, false)},
			want: []Leg{{Kind: ledgerdomain.KindProviderPayout, Amount: 90000}},
		},
		{
			name: "provider favor unpaid",
			in:   PlanInput{Booking: booking(bookingdomain.StatusResolvedProvider, false)},
			want: []Leg{{Kind: ledgerdomain.KindProviderPayout, Amount: 95000}},
		},
		{
			name: "provider favor tops up a standard payout",
			in:   PlanInput{Booking: booking(bookingdomain.StatusResolvedProvider, true), PaidAmount: 90000},
			want: []Leg{{Kind: ledgerdomain.KindProviderAdjustment, Amount: 5000}},
		},
		{
			name: "provider favor already paid in full",
			in:   PlanInput{Booking: booking(bookingdomain.StatusResolvedProvider, true), PaidAmount: 95000},
		},
		{
			name: "partial unpaid",
			in: PlanInput{
				Booking:    booking(bookingdomain.StatusResolvedPartial, false),
				Resolution: &Resolution{RefundAmount: 40000, PayoutAmount: 55000},
			},
			want: []Leg{
				{Kind: ledgerdomain.KindRefund, Amount: 40000},
				{Kind: ledgerdomain.KindProviderPayout, Amount: 55000},
			},
		},
		{
			name: "partial paid below award adjusts",
			in: PlanInput{
				Booking:    booking(bookingdomain.StatusResolvedPartial, true),
				Resolution: &Resolution{RefundAmount: 0, PayoutAmount: 95000},
				PaidAmount: 90000,
			},
			want: []Leg{{Kind: ledgerdomain.KindProviderAdjustment, Amount: 5000}},
		},
		{
			name: "partial paid above award",
			in: PlanInput{
				Booking:    booking(bookingdomain.StatusResolvedPartial, true),
				Resolution: &Resolution{RefundAmount: 45000, PayoutAmount: 50000},
				PaidAmount: 90000,
			},
			err: ErrAlreadyPaidOut,
		},
		{
			name: "partial without resolution",
			in:   PlanInput{Booking: booking(bookingdomain.StatusResolvedPartial, false)},
			err:  ErrResolutionNotFound,
		},
		{
			name: "organizer favor refunds",
			in: PlanInput{
				Booking:    booking(bookingdomain.StatusResolvedOrganizer, false),
				Resolution: &Resolution{RefundAmount: 95000},
			},
			want: []Leg{{Kind: ledgerdomain.KindRefund, Amount: 95000}},
		},
		{
			name: "organizer favor after payout",
			in: PlanInput{
				Booking:    booking(bookingdomain.StatusResolvedOrganizer, true),
				Resolution: &Resolution{RefundAmount: 95000},
				PaidAmount: 90000,
			},
			err: ErrAlreadyPaidOut,
		},
		{
			name: "in progress is not settleable",
			in:   PlanInput{Booking: booking(bookingdomain.StatusInProgress, false)},
			err:  ErrNotEligible,
		},
		{
			name: "disputed is not settleable",
			in:   PlanInput{Booking: booking(bookingdomain.StatusDisputed, false)},
			err:  ErrNotEligible,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			legs, err := BuildPlan(tc.in)
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, legs)
		})
	}
}

func TestIdempotencyKeyIsStablePerLeg(t *testing.T) {
	id := snowflake.ID(1790000000000000001)
	assert.Equal(t, "provider-payout-1790000000000000001", IdempotencyKey(id, ledgerdomain.KindProviderPayout))
	assert.Equal(t, "refund-1790000000000000001", IdempotencyKey(id, ledgerdomain.KindRefund))
	assert.Equal(t, "provider-adjustment-1790000000000000001", IdempotencyKey(id, ledgerdomain.KindProviderAdjustment))
	assert.NotEqual(t, IdempotencyKey(id, ledgerdomain.KindRefund), IdempotencyKey(id+1, ledgerdomain.KindRefund))
}

func TestResultErrIgnoresUnavailableLegs(t *testing.T) {
	r := &Result{Legs: []LegResult{
		{Status: LegStatusProcessing, Err: gatewaydomain.Unavailable("fake", nil)},
		{Status: LegStatusSkipped, Err: ErrRecipientNotVerified},
	}}
	assert.True(t, r.Processing())
	require.ErrorIs(t, r.Err(), ErrRecipientNotVerified)
	assert.NotErrorIs(t, r.Err(), gatewaydomain.ErrUnavailable)

	var empty *Result
	assert.NoError(t, empty.Err())
	assert.False(t, empty.Processing())
}
