package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/gigpay/internal/audit/domain"
	"github.com/smallbiznis/gigpay/internal/audit/repository"
	"github.com/smallbiznis/gigpay/internal/auditcontext"
	"github.com/smallbiznis/gigpay/internal/clock"
	"github.com/smallbiznis/gigpay/internal/testutil/dbtest"
	"github.com/smallbiznis/gigpay/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) (auditdomain.Service, *clock.FakeClock) {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC))
	svc := NewService(Params{
		DB:    dbtest.Open(t),
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  repository.Provide(),
		Clock: clk,
	})
	return svc, clk
}

func TestRecordUsesContextActorAndMasksPayload(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := auditcontext.WithActor(context.Background(), string(auditdomain.ActorTypeUser), "org-1")
	ctx = auditcontext.WithRequestID(ctx, "req-9")

	require.NoError(t, svc.Record(ctx, auditdomain.Entry{
		Action:     "booking.created",
		TargetType: "booking",
		TargetID:   "101",
		After:      map[string]any{"account_number": "0123456789", "status": "PENDING"},
	}))

	resp, err := svc.List(context.Background(), auditdomain.ListAuditLogRequest{TargetType: "booking", TargetID: "101"})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 1)

	entry := resp.AuditLogs[0]
	assert.Equal(t, "user", entry.ActorType)
	require.NotNil(t, entry.ActorRef)
	assert.Equal(t, "org-1", *entry.ActorRef)
	assert.Equal(t, "req-9", entry.Metadata["request_id"])
	assert.Equal(t, "PENDING", entry.After["status"])
	assert.NotEqual(t, "0123456789", entry.After["account_number"])
}

func TestRecordDefaultsToSystemActor(t *testing.T) {
	svc, _ := newTestService(t)
	require.NoError(t, svc.Record(context.Background(), auditdomain.Entry{Action: "settlement.swept"}))

	resp, err := svc.List(context.Background(), auditdomain.ListAuditLogRequest{Action: "settlement.swept"})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 1)
	assert.Equal(t, "system", resp.AuditLogs[0].ActorType)
	assert.Equal(t, "unknown", resp.AuditLogs[0].TargetType)
}

func TestRecordRequiresAction(t *testing.T) {
	svc, _ := newTestService(t)
	require.ErrorIs(t, svc.Record(context.Background(), auditdomain.Entry{Action: "  "}), auditdomain.ErrInvalidAction)
}

func TestListPagesNewestFirst(t *testing.T) {
	svc, clk := newTestService(t)
	ctx := context.Background()
	for _, action := range []string{"step.1", "step.2", "step.3"} {
		require.NoError(t, svc.Record(ctx, auditdomain.Entry{
			ActorType: auditdomain.ActorTypeUser,
			ActorRef:  "ops-1",
			Action:    action,
		}))
		clk.Advance(time.Second)
	}
	require.NoError(t, svc.Record(ctx, auditdomain.Entry{ActorType: auditdomain.ActorTypeUser, ActorRef: "ops-2", Action: "step.other"}))

	first, err := svc.List(ctx, auditdomain.ListAuditLogRequest{
		Pagination: pagination.Pagination{PageSize: 2},
		ActorRef:   "ops-1",
	})
	require.NoError(t, err)
	require.Len(t, first.AuditLogs, 2)
	assert.Equal(t, "step.3", first.AuditLogs[0].Action)
	assert.Equal(t, "step.2", first.AuditLogs[1].Action)
	require.True(t, first.HasMore)
	require.NotEmpty(t, first.NextPageToken)

	second, err := svc.List(ctx, auditdomain.ListAuditLogRequest{
		Pagination: pagination.Pagination{PageSize: 2, PageToken: first.NextPageToken},
		ActorRef:   "ops-1",
	})
	require.NoError(t, err)
	require.Len(t, second.AuditLogs, 1)
	assert.Equal(t, "step.1", second.AuditLogs[0].Action)
	assert.False(t, second.HasMore)
}

func TestListRejectsBadInput(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.List(ctx, auditdomain.ListAuditLogRequest{Pagination: pagination.Pagination{PageToken: "not-a-token"}})
	require.ErrorIs(t, err, auditdomain.ErrInvalidPageToken)

	start := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	end := start.Add(-time.Hour)
	_, err = svc.List(ctx, auditdomain.ListAuditLogRequest{StartAt: &start, EndAt: &end})
	require.ErrorIs(t, err, auditdomain.ErrInvalidTimeRange)
}
