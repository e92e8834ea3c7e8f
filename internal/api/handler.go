// Package api exposes the operator HTTP surface and the gRPC health
// service.
package api

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/PiotrGNN/kraken/internal/bot"
	"github.com/PiotrGNN/kraken/internal/environment"
	"github.com/PiotrGNN/kraken/internal/events"
	"github.com/PiotrGNN/kraken/internal/order"
	"github.com/PiotrGNN/kraken/internal/reconciliation"
	"github.com/PiotrGNN/kraken/internal/router"
	"github.com/PiotrGNN/kraken/internal/scheduler"
)

var log = logrus.WithField("component", "api")

// Trading is the router surface the API reads and drives.
type Trading interface {
	Status() router.Status
	Orders(n int) []order.Record
	SetActiveExchange(name, reason string) error
	HandleEnvChange(ctx context.Context, target environment.Environment) bool
}

// Environments reports environment state.
type Environments interface {
	Current() environment.Environment
	GetStatus() environment.Status
}

// Runner controls the trading loop.
type Runner interface {
	Start(ctx context.Context) error
	Stop() error
	Status() bot.Status
}

// Tasks lists scheduler tasks.
type Tasks interface {
	Tasks() []scheduler.TaskStatus
}

// Reconciler reports the latest reconciliation pass.
type Reconciler interface {
	Last() reconciliation.Report
}

// Deps are the server collaborators. Tasks and Reconciler may be nil.
type Deps struct {
	Bus        *events.Bus
	Trading    Trading
	Env        Environments
	Bot        Runner
	Tasks      Tasks
	Reconciler Reconciler
	JWTSecret  string
	// BaseContext parents background work such as environment switches.
	BaseContext context.Context
}

// Server wires HTTP endpoints around the router and the event bus.
type Server struct {
	Router *gin.Engine

	deps      Deps
	limiter   *ipLimiter
	switching atomic.Bool
}

func NewServer(deps Deps) *Server {
	if deps.BaseContext == nil {
		deps.BaseContext = context.Background()
	}
	r := gin.New()

	// Middleware stack (order matters!)
	lim := newIPLimiter(20, 50, 5*time.Minute)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger())
	r.Use(RateLimitMiddleware(lim))
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware())

	s := &Server{Router: r, deps: deps, limiter: lim}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)
	s.Router.GET("/env", s.getEnv)
	s.Router.GET("/status", s.getStatus)
	s.Router.GET("/orders", s.getOrders)

	protected := s.Router.Group("")
	protected.Use(AuthMiddleware(s.deps.JWTSecret))
	{
		// "toggle" is accepted as a target.
		protected.POST("/env/:target", s.switchEnv)
		protected.POST("/start", s.startBot)
		protected.POST("/stop", s.stopBot)
		protected.POST("/exchange/:name", s.setExchange)
	}
}

func (s *Server) health(c *gin.Context) {
	st := s.deps.Trading.Status()
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"environment": st.Environment,
		"exchange":    st.CurrentExchange,
		"health":      st.ExchangeHealth,
	})
}

// Start serves HTTP on addr until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("http api listening")
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
