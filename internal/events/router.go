package events

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func NewRouter(lc fx.Lifecycle, logger watermill.LoggerAdapter, log *zap.Logger) (*message.Router, error) {
	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: 10 * time.Second}, logger)
	if err != nil {
		return nil, err
	}
	UseMiddlewares(router, logger, log)

	var done chan struct{}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			done = make(chan struct{})
			go func() {
				defer close(done)
				if err := router.Run(context.Background()); err != nil {
					log.Error("event router stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			err := router.Close()
			if done != nil {
				select {
				case <-done:
				case <-ctx.Done():
				}
			}
			return err
		},
	})
	return router, nil
}

func UseMiddlewares(router *message.Router, logger watermill.LoggerAdapter, log *zap.Logger) {
	router.AddMiddleware(middleware.Recoverer)

	router.AddMiddleware(middleware.Retry{
		MaxRetries:      5,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Multiplier:      2,
		Logger:          logger,
	}.Middleware)

	router.AddMiddleware(func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			ctx := otel.GetTextMapPropagator().Extract(msg.Context(), propagation.MapCarrier(msg.Metadata))
			topic := message.SubscribeTopicFromCtx(msg.Context())
			handler := message.HandlerNameFromCtx(msg.Context())
			ctx, span := otel.Tracer("gigpay/events").Start(ctx, "handle "+topic+"/"+handler)
			span.SetAttributes(
				attribute.String("messaging.topic", topic),
				attribute.String("messaging.handler", handler),
			)
			defer span.End()
			msg.SetContext(ctx)

			msgs, err := h(msg)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				log.Warn("message handler failed",
					zap.String("message_id", msg.UUID),
					zap.String("topic", topic),
					zap.String("handler", handler),
					zap.Error(err),
				)
			}
			return msgs, err
		}
	})
}
