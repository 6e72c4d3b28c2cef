package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rubhub/payouts/internal/config"
	obslogger "github.com/rubhub/payouts/internal/observability/logger"
	obstracing "github.com/rubhub/payouts/internal/observability/tracing"
	payoutdomain "github.com/rubhub/payouts/internal/payout/domain"
	"github.com/rubhub/payouts/internal/scheduler"
	servicerequestdomain "github.com/rubhub/payouts/internal/servicerequest/domain"
	settlementdomain "github.com/rubhub/payouts/internal/settlement/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(run),
)

// SettlementRunner starts a settlement run, refusing while another one is in flight.
type SettlementRunner interface {
	RunOnce(ctx context.Context) (*settlementdomain.Summary, error)
}

func NewEngine(log *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(log, obslogger.MiddlewareConfig{
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func run(lc fx.Lifecycle, shutdowner fx.Shutdowner, cfg config.Config, s *Server, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("http server failed", zap.String("addr", srv.Addr), zap.Error(err))
					_ = shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()
			log.Info("http server listening", zap.String("addr", srv.Addr))
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
	engine     *gin.Engine
	log        *zap.Logger
	requestSvc servicerequestdomain.Service
	paymentSvc payoutdomain.Service
	runner     SettlementRunner
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Log        *zap.Logger
	RequestSvc servicerequestdomain.Service
	PaymentSvc payoutdomain.Service
	Scheduler  *scheduler.Scheduler `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	var runner SettlementRunner
	if p.Scheduler != nil {
		runner = p.Scheduler
	}
	return newServer(p.Gin, p.Log, p.RequestSvc, p.PaymentSvc, runner)
}

func newServer(
	engine *gin.Engine,
	log *zap.Logger,
	requestSvc servicerequestdomain.Service,
	paymentSvc payoutdomain.Service,
	runner SettlementRunner,
) *Server {
	svc := &Server{
		engine:     engine,
		log:        log.Named("http"),
		requestSvc: requestSvc,
		paymentSvc: paymentSvc,
		runner:     runner,
	}
	svc.registerInternalRoutes()
	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerInternalRoutes() {
	internal := s.engine.Group("/internal")

	// -------- Settlement --------
	internal.POST("/settlements/run", s.RunSettlement)

	// -------- Payouts --------
	internal.GET("/payments", s.ListPayments)
	internal.GET("/payments/:id", s.GetPayment)
	internal.GET("/fee-transfers", s.ListFeeTransfers)

	// -------- Service requests --------
	internal.POST("/service-requests", s.CreateServiceRequest)
	internal.GET("/service-requests/:id", s.GetServiceRequest)
	internal.POST("/service-requests/:id/accept", s.AcceptServiceRequest)
	internal.POST("/service-requests/:id/start", s.StartServiceRequest)
	internal.POST("/service-requests/:id/complete", s.CompleteServiceRequest)
	internal.POST("/service-requests/:id/cancel", s.CancelServiceRequest)
	internal.POST("/service-requests/:id/paid", s.MarkServiceRequestPaid)
}
