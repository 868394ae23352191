package domain_test

import (
	"testing"
	"time"

	"github.com/smallbiznis/gigpay/internal/booking/domain"
	"github.com/smallbiznis/gigpay/internal/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	organizer = identity.Actor{Ref: "org-1", Role: identity.RoleOrganizer}
	provider  = identity.Actor{Ref: "prov-1", Role: identity.RoleProvider}
	admin     = identity.Actor{Ref: "admin-1", Role: identity.RoleAdmin}
)

func newBooking(status domain.Status) domain.Booking {
	return domain.Booking{
		ID:           42,
		Status:       status,
		GrossAmount:  100_000,
		Currency:     "NGN",
		OrganizerRef: organizer.Ref,
		ProviderRef:  provider.Ref,
	}
}

func TestApplyLegalityGrid(t *testing.T) {
	legal := map[domain.Status]map[domain.Action]domain.Status{
		domain.StatusPending: {
			domain.ActionAccept:  domain.StatusAccepted,
			domain.ActionDecline: domain.StatusDeclined,
		},
		domain.StatusAccepted: {
			domain.ActionStart:    domain.StatusInProgress,
			domain.ActionCancel:   domain.StatusCancelled,
			domain.ActionComplete: domain.StatusCompleted,
		},
		domain.StatusInProgress: {
			domain.ActionComplete: domain.StatusCompleted,
			domain.ActionCancel:   domain.StatusCancelled,
		},
		domain.StatusCompleted: {
			domain.ActionDispute: domain.StatusDisputed,
		},
		domain.StatusDisputed: {
			domain.ActionResolveOrganizer: domain.StatusResolvedOrganizer,
			domain.ActionResolveProvider:  domain.StatusResolvedProvider,
			domain.ActionResolvePartial:   domain.StatusResolvedPartial,
		},
	}

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for _, status := range domain.AllStatuses {
		for _, action := range domain.AllActions {
			t.Run(string(status)+"/"+string(action), func(t *testing.T) {
				next, events, err := domain.Apply(newBooking(status), action, admin, now)
				switch {
				case status.IsTerminal():
					assert.ErrorIs(t, err, domain.ErrAlreadyTerminal)
					assert.Empty(t, events)
				case legal[status][action] != "":
					require.NoError(t, err)
					assert.Equal(t, legal[status][action], next.Status)
					require.NotEmpty(t, events)
					assert.Equal(t, domain.EventBookingTransitioned, events[0].Type)
				default:
					assert.ErrorIs(t, err, domain.ErrInvalidTransition)
					assert.Equal(t, status, next.Status)
				}
			})
		}
	}
}

func TestApplyChecksTerminalBeforeTable(t *testing.T) {
	_, _, err := domain.Apply(newBooking(domain.StatusCancelled), domain.ActionAccept, provider, time.Now())
	assert.ErrorIs(t, err, domain.ErrAlreadyTerminal)
}

func TestApplyRoleTable(t *testing.T) {
	cases := []struct {
		name   string
		status domain.Status
		action domain.Action
		actor  identity.Actor
		err    error
	}{
		{"provider accepts", domain.StatusPending, domain.ActionAccept, provider, nil},
		{"organizer cannot accept", domain.StatusPending, domain.ActionAccept, organizer, domain.ErrForbidden},
		{"organizer cannot start", domain.StatusAccepted, domain.ActionStart, organizer, domain.ErrForbidden},
		{"organizer completes", domain.StatusInProgress, domain.ActionComplete, organizer, nil},
		{"organizer disputes", domain.StatusCompleted, domain.ActionDispute, organizer, nil},
		{"provider cannot resolve", domain.StatusDisputed, domain.ActionResolveProvider, provider, domain.ErrForbidden},
		{"system cannot complete", domain.StatusInProgress, domain.ActionComplete, identity.System("sweeper"), domain.ErrForbidden},
		{"foreign organizer", domain.StatusInProgress, domain.ActionCancel, identity.Actor{Ref: "org-2", Role: identity.RoleOrganizer}, domain.ErrForbidden},
		{"foreign provider", domain.StatusPending, domain.ActionAccept, identity.Actor{Ref: "prov-2", Role: identity.RoleProvider}, domain.ErrForbidden},
		{"admin resolves", domain.StatusDisputed, domain.ActionResolvePartial, admin, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := domain.Apply(newBooking(tc.status), tc.action, tc.actor, time.Now())
			if tc.err == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.err)
		})
	}
}

func TestApplyCompleteComputesStandardSplit(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	b := newBooking(domain.StatusInProgress)

	next, events, err := domain.Apply(b, domain.ActionComplete, organizer, now)
	require.NoError(t, err)
	assert.Equal(t, int64(10_000), next.PlatformFee)
	assert.Equal(t, int64(90_000), next.RecipientAmount)
	require.NotNil(t, next.CompletedAt)
	assert.True(t, next.CompletedAt.Equal(now))

	require.Len(t, events, 2)
	assert.Equal(t, domain.EventSettlementRequested, events[1].Type)
	assert.Equal(t, domain.StatusInProgress, events[1].From)
	assert.Equal(t, domain.StatusCompleted, events[1].To)

	// the input is untouched
	assert.Equal(t, domain.StatusInProgress, b.Status)
	assert.Nil(t, b.CompletedAt)
}

func TestApplyResolutionRecomputesSplit(t *testing.T) {
	b := newBooking(domain.StatusDisputed)
	b.PlatformFee, b.RecipientAmount, b.IsPaidOut = 10_000, 90_000, true

	next, _, err := domain.Apply(b, domain.ActionResolveProvider, admin, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(5_000), next.PlatformFee)
	assert.Equal(t, int64(95_000), next.RecipientAmount)
	assert.Equal(t, next.GrossAmount, next.PlatformFee+next.RecipientAmount)
}

func TestApplyNonSettlingTransitionEmitsSingleEvent(t *testing.T) {
	_, events, err := domain.Apply(newBooking(domain.StatusPending), domain.ActionAccept, provider, time.Now())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.StatusAccepted, events[0].To)
}
