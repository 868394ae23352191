package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gigpay/internal/audit"
	"github.com/smallbiznis/gigpay/internal/auditcontext"
	auditdomain "github.com/smallbiznis/gigpay/internal/audit/domain"
	"github.com/smallbiznis/gigpay/internal/authorization"
	"github.com/smallbiznis/gigpay/internal/booking"
	"github.com/smallbiznis/gigpay/internal/clock"
	"github.com/smallbiznis/gigpay/internal/config"
	"github.com/smallbiznis/gigpay/internal/dispute"
	"github.com/smallbiznis/gigpay/internal/events"
	"github.com/smallbiznis/gigpay/internal/gateway"
	"github.com/smallbiznis/gigpay/internal/identity"
	"github.com/smallbiznis/gigpay/internal/kyc"
	"github.com/smallbiznis/gigpay/internal/lease"
	"github.com/smallbiznis/gigpay/internal/ledger"
	"github.com/smallbiznis/gigpay/internal/notification"
	"github.com/smallbiznis/gigpay/internal/observability"
	obscontext "github.com/smallbiznis/gigpay/internal/observability/context"
	obsmetrics "github.com/smallbiznis/gigpay/internal/observability/metrics"
	"github.com/smallbiznis/gigpay/internal/settlement"
	settlementdomain "github.com/smallbiznis/gigpay/internal/settlement/domain"
	"github.com/smallbiznis/gigpay/internal/settlement/sweeper"
	"github.com/smallbiznis/gigpay/pkg/db"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const operator = "gigpayctl"

// toolkit is the slice of the service graph the commands drive.
type toolkit struct {
	authz      authorization.Service
	settlement settlementdomain.Service
	sweeper    *sweeper.Sweeper
	pusher     obsmetrics.Pusher
	log        *zap.Logger
}

func main() {
	app := &cli.App{
		Name:  "gigpayctl",
		Usage: "Operate booking settlements",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "timeout",
				Value: 2 * time.Minute,
				Usage: "give up after this long",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "retry",
				Usage: "re-drive settlement of one booking",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "booking", Required: true, Usage: "booking id"},
				},
				Action: func(c *cli.Context) error {
					id, err := snowflake.ParseString(c.String("booking"))
					if err != nil || id <= 0 {
						return fmt.Errorf("invalid booking id %q", c.String("booking"))
					}
					return withToolkit(c, func(ctx context.Context, tk toolkit) error {
						if err := tk.authz.Authorize(ctx, identity.System(operator), authorization.ObjectSettlement, authorization.ActionSettlementRetry); err != nil {
							return err
						}
						result, err := tk.settlement.RetrySettlement(ctx, id)
						if result != nil {
							if printErr := printJSON(result); printErr != nil {
								return printErr
							}
						}
						return err
					})
				},
			},
			{
				Name:  "sweep",
				Usage: "settle one batch of unsettled bookings",
				Action: func(c *cli.Context) error {
					return withToolkit(c, func(ctx context.Context, tk toolkit) error {
						if err := tk.authz.Authorize(ctx, identity.System(operator), authorization.ObjectSettlement, authorization.ActionSettlementSweep); err != nil {
							return err
						}
						summary, err := tk.sweeper.RunOnce(ctx)
						if err != nil {
							return err
						}
						return printJSON(summary)
					})
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// withToolkit boots the service graph without the HTTP server or the sweep
// loop, runs fn and shuts the graph down again.
func withToolkit(c *cli.Context, fn func(ctx context.Context, tk toolkit) error) error {
	var tk toolkit
	app := fx.New(
		fx.NopLogger,
		config.Module,
		// settle inline so the command sees the outcome
		fx.Decorate(func(cfg config.Config) config.Config {
			cfg.SettlementDispatch = "sync"
			return cfg
		}),
		observability.Module,
		fx.Provide(registerSnowflake),
		db.Module,
		clock.Module,
		events.Module,
		audit.Module,
		authorization.Module,
		booking.Module,
		ledger.Module,
		kyc.Module,
		gateway.Module,
		notification.Module,
		settlement.Module,
		dispute.Module,
		lease.Module,
		sweeper.Module,
		fx.Provide(newPusher),
		fx.Populate(&tk.authz, &tk.settlement, &tk.sweeper, &tk.pusher, &tk.log),
	)

	ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
	defer cancel()

	if err := app.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer stopCancel()
		_ = app.Stop(stopCtx)
	}()

	ctx = obscontext.WithActor(ctx, string(identity.RoleSystem), operator)
	ctx = auditcontext.WithActor(ctx, string(auditdomain.ActorTypeSystem), operator)
	runErr := fn(ctx, tk)

	if tk.pusher != nil {
		pushCtx, pushCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer pushCancel()
		if err := tk.pusher.Push(pushCtx, prometheus.DefaultGatherer); err != nil {
			tk.log.Warn("failed to push metrics", zap.Error(err))
		}
	}
	return runErr
}

func newPusher(cfg config.Config, log *zap.Logger) obsmetrics.Pusher {
	return obsmetrics.NewPusher(obsmetrics.PushConfig{
		Exporter:  cfg.MetricsPushExporter,
		Endpoint:  cfg.MetricsPushEndpoint,
		AuthToken: cfg.MetricsPushToken,
		Job:       operator,
		Grouping:  map[string]string{"environment": cfg.Environment},
	}, log)
}

func registerSnowflake(cfg config.Config) (*snowflake.Node, error) {
	node, err := snowflake.NewNode(cfg.SnowflakeNode)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", cfg.SnowflakeNode, err)
	}
	return node, nil
}

func printJSON(value any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}
