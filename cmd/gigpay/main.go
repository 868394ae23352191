package main

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gigpay/internal/audit"
	"github.com/smallbiznis/gigpay/internal/authorization"
	"github.com/smallbiznis/gigpay/internal/booking"
	"github.com/smallbiznis/gigpay/internal/clock"
	"github.com/smallbiznis/gigpay/internal/config"
	"github.com/smallbiznis/gigpay/internal/dispute"
	"github.com/smallbiznis/gigpay/internal/events"
	"github.com/smallbiznis/gigpay/internal/gateway"
	"github.com/smallbiznis/gigpay/internal/kyc"
	"github.com/smallbiznis/gigpay/internal/lease"
	"github.com/smallbiznis/gigpay/internal/ledger"
	"github.com/smallbiznis/gigpay/internal/migration"
	"github.com/smallbiznis/gigpay/internal/notification"
	"github.com/smallbiznis/gigpay/internal/observability"
	"github.com/smallbiznis/gigpay/internal/server"
	"github.com/smallbiznis/gigpay/internal/settlement"
	"github.com/smallbiznis/gigpay/internal/settlement/sweeper"
	"github.com/smallbiznis/gigpay/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		events.Module,

		// Functional Domains
		audit.Module,
		authorization.Module,
		booking.Module,
		ledger.Module,
		kyc.Module,
		gateway.Module,
		notification.Module,
		settlement.Module,
		dispute.Module,

		// Background settlement retries
		lease.Module,
		sweeper.Module,
		sweeper.Schedule,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	node, err := snowflake.NewNode(cfg.SnowflakeNode)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", cfg.SnowflakeNode, err)
	}
	return node, nil
}
