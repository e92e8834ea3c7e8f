package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/PiotrGNN/kraken/internal/bot"
	"github.com/PiotrGNN/kraken/internal/environment"
	"github.com/PiotrGNN/kraken/internal/router"
)

type listOrdersQuery struct {
	Limit int `form:"limit"`
}

func (q *listOrdersQuery) normalize() {
	if q.Limit <= 0 {
		q.Limit = 100
	}
	if q.Limit > 500 {
		q.Limit = 500
	}
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

func (s *Server) getEnv(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Env.GetStatus())
}

// switchEnv drains and switches in the background; the response only
// says whether a switch was started.
func (s *Server) switchEnv(c *gin.Context) {
	current := s.deps.Env.Current()
	target := current.Opposite()
	if raw := c.Param("target"); raw != "toggle" {
		env, err := environment.Parse(raw)
		if err != nil {
			respondError(c, http.StatusBadRequest, "INVALID_ENVIRONMENT", err.Error())
			return
		}
		target = env
	}
	if target == current {
		c.JSON(http.StatusOK, gin.H{"status": "no_change", "environment": current})
		return
	}
	if !s.switching.CompareAndSwap(false, true) {
		respondError(c, http.StatusConflict, "SWITCH_IN_PROGRESS", "an environment switch is already running")
		return
	}

	go func() {
		defer s.switching.Store(false)
		ok := s.deps.Trading.HandleEnvChange(s.deps.BaseContext, target)
		log.WithField("target", target).WithField("switched", ok).Info("background environment switch finished")
	}()
	c.JSON(http.StatusAccepted, gin.H{"status": "switching", "from": current, "to": target})
}

func (s *Server) getStatus(c *gin.Context) {
	resp := gin.H{
		"router":      s.deps.Trading.Status(),
		"environment": s.deps.Env.GetStatus(),
	}
	if s.deps.Bot != nil {
		resp["bot"] = s.deps.Bot.Status()
	}
	if s.deps.Tasks != nil {
		resp["tasks"] = s.deps.Tasks.Tasks()
	}
	if s.deps.Reconciler != nil {
		resp["reconciliation"] = s.deps.Reconciler.Last()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) getOrders(c *gin.Context) {
	var q listOrdersQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", "invalid query parameters")
		return
	}
	q.normalize()

	orders := s.deps.Trading.Orders(q.Limit)
	c.Header("X-Result-Limit", strconv.Itoa(q.Limit))
	c.JSON(http.StatusOK, orders)
}

func (s *Server) startBot(c *gin.Context) {
	if s.deps.Bot == nil {
		respondError(c, http.StatusServiceUnavailable, "BOT_UNAVAILABLE", "trading bot not configured")
		return
	}
	if err := s.deps.Bot.Start(s.deps.BaseContext); err != nil {
		if errors.Is(err, bot.ErrAlreadyRunning) {
			respondError(c, http.StatusConflict, "ALREADY_RUNNING", err.Error())
			return
		}
		respondError(c, http.StatusInternalServerError, "START_FAILED", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "started"})
}

func (s *Server) stopBot(c *gin.Context) {
	if s.deps.Bot == nil {
		respondError(c, http.StatusServiceUnavailable, "BOT_UNAVAILABLE", "trading bot not configured")
		return
	}
	if err := s.deps.Bot.Stop(); err != nil {
		if errors.Is(err, bot.ErrNotRunning) {
			respondError(c, http.StatusConflict, "NOT_RUNNING", err.Error())
			return
		}
		respondError(c, http.StatusInternalServerError, "STOP_FAILED", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

// setExchange is the manual failover.
func (s *Server) setExchange(c *gin.Context) {
	name := c.Param("name")
	if err := s.deps.Trading.SetActiveExchange(name, "Manual failover"); err != nil {
		if errors.Is(err, router.ErrExchangeNotFound) {
			respondError(c, http.StatusNotFound, "EXCHANGE_NOT_FOUND", err.Error())
			return
		}
		respondError(c, http.StatusInternalServerError, "FAILOVER_FAILED", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "exchange": name})
}
