// Package sweeper periodically re-drives settlements that did not finish.
package sweeper

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	bookingdomain "github.com/smallbiznis/gigpay/internal/booking/domain"
	"github.com/smallbiznis/gigpay/internal/clock"
	"github.com/smallbiznis/gigpay/internal/config"
	"github.com/smallbiznis/gigpay/internal/lease"
	"github.com/smallbiznis/gigpay/internal/observability/metrics"
	"github.com/smallbiznis/gigpay/internal/settlement/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const lockKey = "gigpay:settlement:sweep"

const (
	resultSettled    = "settled"
	resultProcessing = "processing"
	resultFailed     = "failed"
	resultSkipped    = "skipped"
)

var ErrInvalidConfig = errors.New("invalid_sweeper_config")

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Clock       clock.Clock
	Settlement  domain.Service
	BookingRepo bookingdomain.Repository
	Holder      *config.SettlementConfigHolder `optional:"true"`
	Locker      *lease.Locker                  `optional:"true"`
	Metrics     *metrics.SettlementMetrics     `optional:"true"`
}

type Sweeper struct {
	db          *gorm.DB
	log         *zap.Logger
	clock       clock.Clock
	settlement  domain.Service
	bookingRepo bookingdomain.Repository
	holder      *config.SettlementConfigHolder
	locker      *lease.Locker
	metrics     *metrics.SettlementMetrics
}

// Summary counts the outcome of one sweep by booking.
type Summary struct {
	Candidates int `json:"candidates"`
	Settled    int `json:"settled"`
	Processing int `json:"processing"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
	// Locked is set when another process held the sweep lease.
	Locked bool `json:"locked"`
}

func New(p Params) (*Sweeper, error) {
	if p.DB == nil || p.Log == nil || p.Settlement == nil || p.BookingRepo == nil {
		return nil, ErrInvalidConfig
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Sweeper{
		db:          p.DB,
		log:         p.Log.Named("settlement.sweeper"),
		clock:       clk,
		settlement:  p.Settlement,
		bookingRepo: p.BookingRepo,
		holder:      p.Holder,
		locker:      p.Locker,
		metrics:     p.Metrics,
	}, nil
}

// RunOnce settles one batch of unsettled bookings under the sweep lease.
func (s *Sweeper) RunOnce(ctx context.Context) (Summary, error) {
	start := time.Now()
	cfg := s.holder.Get().Sweep

	token, acquired, err := s.locker.TryAcquire(ctx, lockKey, cfg.LockTTL)
	if err != nil {
		s.metrics.ObserveSweep("error", time.Since(start), 0)
		return Summary{}, err
	}
	if !acquired {
		s.log.Debug("sweep lease held elsewhere")
		s.metrics.ObserveSweep("locked", time.Since(start), 0)
		return Summary{Locked: true}, nil
	}
	defer func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), lockKey, token); err != nil {
			s.log.Warn("failed to release sweep lease", zap.Error(err))
		}
	}()

	now := s.clock.Now().UTC()
	ids, err := s.bookingRepo.ListUnsettled(ctx, s.db, bookingdomain.UnsettledFilter{
		Statuses:  bookingdomain.SettleableStatuses,
		OlderThan: now.Add(-cfg.MinAge),
		Now:       now,
		Limit:     cfg.BatchSize,
	})
	if err != nil {
		s.metrics.ObserveSweep("error", time.Since(start), 0)
		return Summary{}, err
	}

	summary := Summary{Candidates: len(ids)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Concurrency)
	for _, id := range ids {
		g.Go(func() error {
			outcome := s.settleOne(gctx, id)
			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case resultSettled:
				summary.Settled++
			case resultProcessing:
				summary.Processing++
			case resultFailed:
				summary.Failed++
			default:
				summary.Skipped++
			}
			return nil
		})
	}
	_ = g.Wait()

	s.metrics.AddSweepBookings(resultSettled, summary.Settled)
	s.metrics.AddSweepBookings(resultProcessing, summary.Processing)
	s.metrics.AddSweepBookings(resultFailed, summary.Failed)
	s.metrics.AddSweepBookings(resultSkipped, summary.Skipped)

	result := "ok"
	if ctx.Err() != nil {
		result = "cancelled"
	}
	s.metrics.ObserveSweep(result, time.Since(start), summary.Candidates)

	if summary.Candidates > 0 {
		s.log.Info("sweep finished",
			zap.Int("candidates", summary.Candidates),
			zap.Int("settled", summary.Settled),
			zap.Int("processing", summary.Processing),
			zap.Int("failed", summary.Failed),
			zap.Int("skipped", summary.Skipped),
			zap.Duration("duration", time.Since(start)),
		)
	}
	return summary, ctx.Err()
}

func (s *Sweeper) settleOne(ctx context.Context, id snowflake.ID) string {
	result, err := s.settlement.Settle(ctx, id, domain.TriggerSweep)
	switch {
	case result == nil && err != nil:
		s.log.Warn("sweep could not settle booking",
			zap.String("booking_id", id.String()),
			zap.Error(err),
		)
		return resultFailed
	case result.Settled:
		return resultSettled
	case result.Processing():
		return resultProcessing
	case err != nil:
		s.log.Warn("sweep settlement incomplete",
			zap.String("booking_id", id.String()),
			zap.Error(err),
		)
		return resultFailed
	default:
		return resultSkipped
	}
}

// RunForever sweeps until ctx is cancelled. The interval is re-read after
// every run so config reloads apply without a restart.
func (s *Sweeper) RunForever(ctx context.Context) {
	timer := time.NewTimer(s.holder.Get().Sweep.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.log.Warn("sweep run failed", zap.Error(err))
		}
		timer.Reset(s.holder.Get().Sweep.Interval)
	}
}
