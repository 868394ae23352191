package sweeper

import (
	"context"

	"github.com/smallbiznis/gigpay/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("settlement.sweeper",
	fx.Provide(New),
)

// Schedule runs the sweep loop for the lifetime of the app.
var Schedule = fx.Invoke(Start)

func Start(lc fx.Lifecycle, holder *config.SettlementConfigHolder, sw *Sweeper) {
	if !holder.Get().Sweep.Enabled {
		return
	}

	var (
		cancel context.CancelFunc
		done   chan struct{}
	)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			done = make(chan struct{})
			go func() {
				defer close(done)
				sw.RunForever(ctx)
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-ctx.Done():
			}
			return nil
		},
	})
}
