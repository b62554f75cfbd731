package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"coinbase-trading-bot/internal/engine"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleStatus returns the lightweight summary used by dashboards.
func (s *Server) handleStatus(c *gin.Context) {
	state := s.engine.Snapshot()
	successResponse(c, gin.H{
		"mode":            state.Mode,
		"phase":           state.Phase,
		"portfolio_value": state.PortfolioValue,
		"cash_balance":    state.CashBalance,
		"positions_open":  len(state.Positions),
		"paused":          state.Paused,
		"kill_switch":     state.KillSwitch,
		"breaker_state":   state.BreakerState,
		"daily_stats":     state.DailyStats,
		"uptime_seconds":  state.UptimeSeconds,
	})
}

// handleState returns the full snapshot.
func (s *Server) handleState(c *gin.Context) {
	successResponse(c, s.engine.Snapshot())
}

// handleEvents returns the recent order event stream.
func (s *Server) handleEvents(c *gin.Context) {
	n := 50
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			n = parsed
		}
	}
	successResponse(c, s.bus.Recent(n))
}

func (s *Server) handleGetConfig(c *gin.Context) {
	successResponse(c, gin.H{
		"params": s.store.Params(),
		"paused": s.store.PauseNewEntries(),
	})
}

type setConfigRequest struct {
	Param string  `json:"param" binding:"required"`
	Value float64 `json:"value"`
}

func (s *Server) handleSetConfig(c *gin.Context) {
	var req setConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	s.respond(c, s.engine.Enqueue(&engine.Command{
		Kind:  engine.CmdSetParam,
		Param: req.Param,
		Value: req.Value,
	}))
}

func (s *Server) handlePause(c *gin.Context) {
	s.respond(c, s.engine.Enqueue(&engine.Command{Kind: engine.CmdPause}))
}

func (s *Server) handleResume(c *gin.Context) {
	s.respond(c, s.engine.Enqueue(&engine.Command{Kind: engine.CmdResume}))
}

type closeRequest struct {
	Symbol string `json:"symbol" binding:"required"`
	Reason string `json:"reason"`
}

func (s *Server) handleClose(c *gin.Context) {
	var req closeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	s.respond(c, s.engine.Enqueue(&engine.Command{
		Kind:   engine.CmdCloseSymbol,
		Symbol: req.Symbol,
		Reason: req.Reason,
	}))
}

func (s *Server) handleCloseAll(c *gin.Context) {
	s.respond(c, s.engine.Enqueue(&engine.Command{Kind: engine.CmdCloseAll}))
}

type killRequest struct {
	Engage bool   `json:"engage"`
	Reason string `json:"reason"`
}

func (s *Server) handleKill(c *gin.Context) {
	var req killRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	s.respond(c, s.engine.Enqueue(&engine.Command{
		Kind:   engine.CmdKillSwitch,
		Engage: req.Engage,
		Reason: req.Reason,
	}))
}

func (s *Server) respond(c *gin.Context, res engine.CommandResult) {
	if !res.OK {
		errorResponse(c, http.StatusUnprocessableEntity, res.Message)
		return
	}
	successResponse(c, gin.H{"message": res.Message})
}

func errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"error":   true,
		"message": message,
	})
}

func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}
