package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/smallbiznis/gigpay/internal/config"
	"github.com/smallbiznis/gigpay/internal/gateway/domain"
	"github.com/smallbiznis/gigpay/internal/observability/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Retrying bounds every gateway call with a timeout and retries
// ErrUnavailable with exponential backoff. Rejections are returned at once.
type Retrying struct {
	next    domain.Gateway
	policy  func() config.GatewayPolicy
	log     *zap.Logger
	metrics *metrics.SettlementMetrics
	tracer  trace.Tracer
}

func NewRetrying(next domain.Gateway, holder *config.SettlementConfigHolder, log *zap.Logger, m *metrics.SettlementMetrics) *Retrying {
	if log == nil {
		log = zap.NewNop()
	}
	return &Retrying{
		next:    next,
		policy:  func() config.GatewayPolicy { return holder.Get().Gateway },
		log:     log.Named("gateway.retrying"),
		metrics: m,
		tracer:  otel.Tracer("gigpay/gateway"),
	}
}

func (r *Retrying) Provider() string { return r.next.Provider() }

// Unwrap returns the adapter behind the retry policy.
func (r *Retrying) Unwrap() domain.Gateway { return r.next }

func (r *Retrying) ResolveRecipient(ctx context.Context, details domain.RecipientDetails) (*domain.Recipient, error) {
	return call(ctx, r, "resolve_recipient", func(ctx context.Context) (*domain.Recipient, error) {
		return r.next.ResolveRecipient(ctx, details)
	})
}

func (r *Retrying) InitiateTransfer(ctx context.Context, req domain.TransferRequest) (*domain.Transfer, error) {
	return call(ctx, r, "initiate_transfer", func(ctx context.Context) (*domain.Transfer, error) {
		return r.next.InitiateTransfer(ctx, req)
	})
}

func (r *Retrying) VerifyTransfer(ctx context.Context, reference string) (*domain.Transfer, error) {
	return call(ctx, r, "verify_transfer", func(ctx context.Context) (*domain.Transfer, error) {
		return r.next.VerifyTransfer(ctx, reference)
	})
}

func (r *Retrying) InitiateRefund(ctx context.Context, req domain.RefundRequest) (*domain.Transfer, error) {
	return call(ctx, r, "initiate_refund", func(ctx context.Context) (*domain.Transfer, error) {
		return r.next.InitiateRefund(ctx, req)
	})
}

func (r *Retrying) VerifyRefund(ctx context.Context, req domain.RefundRequest) (*domain.Transfer, error) {
	return call(ctx, r, "verify_refund", func(ctx context.Context) (*domain.Transfer, error) {
		return r.next.VerifyRefund(ctx, req)
	})
}

func call[T any](ctx context.Context, r *Retrying, operation string, fn func(context.Context) (T, error)) (T, error) {
	policy := r.policy()
	ctx, span := r.tracer.Start(ctx, "gateway."+operation, trace.WithAttributes(
		attribute.String("gateway.provider", r.next.Provider()),
	))
	defer span.End()

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = policy.InitialInterval
	expo.MaxInterval = policy.MaxInterval

	attempt := 0
	op := func() (T, error) {
		attempt++
		callCtx := ctx
		cancel := func() {}
		if policy.CallTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, policy.CallTimeout)
		}
		defer cancel()

		started := time.Now()
		out, err := fn(callCtx)
		result := classify(callCtx, err)
		r.metrics.ObserveGatewayCall(operation, result, time.Since(started))

		switch {
		case err == nil:
			return out, nil
		case errors.Is(err, domain.ErrUnavailable):
		case result == metrics.GatewayResultTimeout && ctx.Err() == nil:
			err = domain.Unavailable(r.next.Provider(), err)
		default:
			return out, backoff.Permanent(err)
		}
		r.log.Debug("gateway call unavailable",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		return out, err
	}

	out, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(policy.MaxTries),
	)
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, domain.ErrUnavailable) {
			err = domain.Unavailable(r.next.Provider(), err)
		}
		span.RecordError(err)
	}
	return out, err
}

func classify(ctx context.Context, err error) string {
	switch {
	case err == nil, errors.Is(err, domain.ErrTransferNotFound):
		return metrics.GatewayResultOK
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return metrics.GatewayResultTimeout
	case errors.Is(err, domain.ErrUnavailable):
		return metrics.GatewayResultUnavailable
	default:
		return metrics.GatewayResultRejected
	}
}
