package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"signal-core/internal/market"
	"signal-core/internal/pipeline"
	"signal-core/internal/safety"
)

func (s *Server) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version":       s.Meta.Version,
		"venue":         s.Meta.Venue,
		"symbols":       s.Meta.Symbols,
		"simulate":      s.Meta.Simulate,
		"use_mock_feed": s.Meta.UseMockFeed,
		"pipeline":      s.Pipeline.Running(),
		"breaker":       string(s.Breaker.State()),
		"emergency":     s.Guard.Halted(),
	})
}

func (s *Server) getPipelineMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.Pipeline.GetMetrics())
}

func (s *Server) getSafetyStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.Guard.GetStatus())
}

func (s *Server) getBreakerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.Breaker.GetStatus())
}

func (s *Server) getExecutions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	executions, err := s.DB.ListRecentExecutions(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"executions": executions, "count": len(executions)})
}

func (s *Server) getAlerts(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	alerts, err := s.DB.ListRecentAlerts(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts, "count": len(alerts)})
}

func (s *Server) getDailyMetrics(c *gin.Context) {
	date := c.DefaultQuery("date", time.Now().UTC().Format("2006-01-02"))
	metrics, err := s.DB.GetDailyMetrics(c.Request.Context(), date)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, metrics)
}

// recordTradeResult lets the downstream PnL tracker report a closed trade.
func (s *Server) recordTradeResult(c *gin.Context) {
	var req struct {
		StrategyID string  `json:"strategy_id"`
		Symbol     string  `json:"symbol"`
		PnL        float64 `json:"pnl"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": "invalid request payload",
		})
		return
	}

	s.Pipeline.RecordTradeResult(req.StrategyID, req.PnL)

	date := time.Now().UTC().Format("2006-01-02")
	if err := s.DB.UpsertDailyMetrics(c.Request.Context(), date, req.PnL, req.PnL > 0); err != nil {
		s.log.Warn().Err(err).Msg("persist daily metrics")
	}
	c.JSON(http.StatusOK, gin.H{"status": "recorded"})
}

func (s *Server) validateTrade(c *gin.Context) {
	var req struct {
		Pair     string  `json:"pair"`
		Side     string  `json:"side"`
		Quantity float64 `json:"quantity"`
		Price    float64 `json:"price"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": "invalid request payload",
		})
		return
	}
	if req.Pair == "" || (req.Side != "BUY" && req.Side != "SELL") {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_REQUEST",
			"error": "pair and side (BUY or SELL) are required",
		})
		return
	}

	check := s.Guard.ValidateTrade(c.Request.Context(), req.Pair, req.Side, req.Quantity, req.Price)
	c.JSON(http.StatusOK, check)
}

func (s *Server) startPipeline(c *gin.Context) {
	if err := s.Pipeline.Start(s.Portfolio()); err != nil {
		if errors.Is(err, pipeline.ErrAlreadyRunning) {
			c.JSON(http.StatusConflict, gin.H{
				"code":  "ALREADY_RUNNING",
				"error": err.Error(),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "started"})
}

func (s *Server) stopPipeline(c *gin.Context) {
	s.Pipeline.Stop()
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

// updatePipelineConfig applies a partial update over the live tunables.
func (s *Server) updatePipelineConfig(c *gin.Context) {
	var req struct {
		MinStrength          *float64 `json:"min_strength"`
		AllowedSymbols       []string `json:"allowed_symbols"`
		DeniedSymbols        []string `json:"denied_symbols"`
		MaxConcurrentSignals *int     `json:"max_concurrent_signals"`
		Simulate             *bool    `json:"simulate"`
		MinSuccessRate       *float64 `json:"min_success_rate"`
		MaxAvgSlippage       *float64 `json:"max_avg_slippage"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": "invalid request payload",
		})
		return
	}

	cfg := s.Pipeline.GetConfig()
	if req.MinStrength != nil {
		cfg.MinStrength = *req.MinStrength
	}
	if req.AllowedSymbols != nil {
		cfg.AllowedSymbols = req.AllowedSymbols
	}
	if req.DeniedSymbols != nil {
		cfg.DeniedSymbols = req.DeniedSymbols
	}
	if req.MaxConcurrentSignals != nil {
		cfg.MaxConcurrentSignals = *req.MaxConcurrentSignals
	}
	if req.Simulate != nil {
		cfg.Simulate = *req.Simulate
	}
	if req.MinSuccessRate != nil {
		cfg.MinSuccessRate = *req.MinSuccessRate
	}
	if req.MaxAvgSlippage != nil {
		cfg.MaxAvgSlippage = *req.MaxAvgSlippage
	}
	s.Pipeline.UpdateConfig(cfg)
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

func (s *Server) queueSentiment(c *gin.Context) {
	var update market.Update
	if err := c.BindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": "invalid request payload",
		})
		return
	}
	if update.Sentiment.Symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_REQUEST",
			"error": "sentiment symbol is required",
		})
		return
	}
	if !s.Pipeline.Running() {
		c.JSON(http.StatusConflict, gin.H{
			"code":  "NOT_RUNNING",
			"error": "pipeline is not running",
		})
		return
	}
	s.Pipeline.QueueSentiment(update)
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

func (s *Server) emergencyStop(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.BindJSON(&req)
	if req.Reason == "" {
		req.Reason = "manual emergency stop"
	}

	s.Breaker.EmergencyStop(req.Reason)
	if err := s.Guard.ActivateEmergencyStop(c.Request.Context(), req.Reason); err != nil {
		// Halt is already latched; cancel failures are reported, not fatal.
		c.JSON(http.StatusOK, gin.H{
			"status":  "stopped",
			"warning": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

func (s *Server) resetEmergencyStop(c *gin.Context) {
	var req struct {
		AdminKey string `json:"admin_key"`
	}
	_ = c.BindJSON(&req)

	if err := s.Guard.ResetEmergencyStop(req.AdminKey); err != nil {
		s.writeAuthError(c, err)
		return
	}
	s.Breaker.ForceClose()
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}

func (s *Server) updateLimits(c *gin.Context) {
	var req struct {
		Limits   safety.Limits `json:"limits"`
		AdminKey string        `json:"admin_key"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": "invalid request payload",
		})
		return
	}

	if err := s.Guard.UpdateLimits(req.Limits, req.AdminKey); err != nil {
		switch {
		case errors.Is(err, safety.ErrUnauthorized),
			errors.Is(err, safety.ErrKeyRequired),
			errors.Is(err, safety.ErrNotConfigured):
			s.writeAuthError(c, err)
		default:
			c.JSON(http.StatusBadRequest, gin.H{
				"code":  "INVALID_LIMITS",
				"error": err.Error(),
			})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated", "limits": req.Limits})
}

func (s *Server) resetBreaker(c *gin.Context) {
	s.Breaker.ForceClose()
	c.JSON(http.StatusOK, gin.H{"status": "closed"})
}

func (s *Server) writeAuthError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, safety.ErrNotConfigured):
		c.JSON(http.StatusForbidden, gin.H{
			"code":  "NOT_CONFIGURED",
			"error": err.Error(),
		})
	default:
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":  "UNAUTHORIZED",
			"error": err.Error(),
		})
	}
}
