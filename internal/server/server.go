package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	auditdomain "github.com/smallbiznis/gigpay/internal/audit/domain"
	"github.com/smallbiznis/gigpay/internal/authorization"
	bookingdomain "github.com/smallbiznis/gigpay/internal/booking/domain"
	"github.com/smallbiznis/gigpay/internal/config"
	disputedomain "github.com/smallbiznis/gigpay/internal/dispute/domain"
	"github.com/smallbiznis/gigpay/internal/observability"
	obsmiddleware "github.com/smallbiznis/gigpay/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/gigpay/internal/observability/metrics"
	obstracing "github.com/smallbiznis/gigpay/internal/observability/tracing"
	settlementdomain "github.com/smallbiznis/gigpay/internal/settlement/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(func(s *Server) {
		s.RegisterRoutes()
	}),
	fx.Invoke(RunHTTP),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics, log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Log:             log,
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.Middleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func RunHTTP(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine        *gin.Engine
	cfg           config.Config
	log           *zap.Logger
	authzSvc      authorization.Service
	auditSvc      auditdomain.Service
	bookingSvc    bookingdomain.Service
	disputeSvc    disputedomain.Service
	settlementSvc settlementdomain.Service
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	Log           *zap.Logger
	AuthzSvc      authorization.Service
	AuditSvc      auditdomain.Service
	BookingSvc    bookingdomain.Service
	DisputeSvc    disputedomain.Service
	SettlementSvc settlementdomain.Service
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		log:           p.Log.Named("http.server"),
		authzSvc:      p.AuthzSvc,
		auditSvc:      p.AuditSvc,
		bookingSvc:    p.BookingSvc,
		disputeSvc:    p.DisputeSvc,
		settlementSvc: p.SettlementSvc,
	}
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) RegisterRoutes() {
	s.RegisterAPIRoutes()
	s.RegisterWebhookRoutes()
}

func (s *Server) RegisterAPIRoutes() {
	api := s.engine.Group("/v1", s.AuthRequired())

	// -------- Bookings --------
	api.POST("/bookings", s.authorize(authorization.ObjectBooking, authorization.ActionBookingCreate), s.CreateBooking)
	api.GET("/bookings/:id", s.authorize(authorization.ObjectBooking, authorization.ActionBookingView), s.GetBooking)
	api.POST("/bookings/:id/transitions", s.authorize(authorization.ObjectBooking, authorization.ActionBookingTransition), s.TransitionBooking)

	// -------- Disputes --------
	api.POST("/bookings/:id/disputes", s.authorize(authorization.ObjectDispute, authorization.ActionDisputeFile), s.FileDispute)
	api.GET("/bookings/:id/disputes", s.authorize(authorization.ObjectDispute, authorization.ActionDisputeView), s.ListBookingDisputes)
	api.GET("/disputes/:id", s.authorize(authorization.ObjectDispute, authorization.ActionDisputeView), s.GetDispute)
	api.POST("/disputes/:id/review", s.authorize(authorization.ObjectDispute, authorization.ActionDisputeReview), s.ReviewDispute)
	api.POST("/disputes/:id/resolve", s.authorize(authorization.ObjectDispute, authorization.ActionDisputeResolve), s.ResolveDispute)

	// -------- Settlement --------
	api.POST("/bookings/:id/settlement/retry", s.authorize(authorization.ObjectSettlement, authorization.ActionSettlementRetry), s.RetrySettlement)

	api.GET("/audit-logs", s.authorize(authorization.ObjectAuditLog, authorization.ActionAuditLogView), s.ListAuditLogs)
}

// RegisterWebhookRoutes mounts gateway callbacks. Providers authenticate with
// signatures, so these routes sit outside the bearer group.
func (s *Server) RegisterWebhookRoutes() {
	s.engine.POST("/v1/webhooks/:provider", s.HandleGatewayWebhook)
}
