package api

import (
	"fmt"
	"io"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"quorum-trader/internal/analyst"
)

// Root handler
func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "quorum-trader",
		"version": "1.0.0",
		"status":  "running",
		"time":    time.Now().UTC(),
	})
}

// handleGetHealth returns a simple health check (for load balancers)
func (s *Server) handleGetHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().UTC(),
	})
}

// handleGetStatus returns comprehensive system status: engine state, per-pair
// cycle stages, scheduler dispatchers and process health.
func (s *Server) handleGetStatus(c *gin.Context) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	engineStatus := s.deps.Engine.Status()

	systemStatus := "running"
	if engineStatus.Paused {
		systemStatus = "paused"
	}

	status := gin.H{
		"status":    systemStatus,
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(startTime).Seconds(),
		"version":   "1.0.0",
		"engine":    engineStatus,
		"schedules": s.deps.Scheduler.Status(),
		"system": gin.H{
			"goroutines": runtime.NumGoroutine(),
			"memory": gin.H{
				"alloc_mb":       toMB(memStats.Alloc),
				"total_alloc_mb": toMB(memStats.TotalAlloc),
				"sys_mb":         toMB(memStats.Sys),
				"num_gc":         memStats.NumGC,
			},
			"go_version": runtime.Version(),
		},
	}

	if s.deps.Hub != nil {
		status["websocket"] = gin.H{"clients": s.deps.Hub.ClientCount()}
	}

	c.JSON(http.StatusOK, status)
}

// handleTrigger fires an out-of-schedule cycle for one pair. The path
// parameter uses a dash instead of the slash ("BTC-USDT" for BTC/USDT). An
// optional JSON body carries {"reason": ..., "emergency": bool}; emergencies
// preempt any pending trigger.
func (s *Server) handleTrigger(c *gin.Context) {
	pairName := pairParam(c.Param("pair"))

	var req struct {
		Reason    string `json:"reason"`
		Emergency bool   `json:"emergency"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": fmt.Sprintf("invalid request: %v", err),
			})
			return
		}
	}

	var (
		accepted int
		err      error
		cause    string
	)
	if req.Emergency {
		cause = "EMERGENCY"
		accepted, err = s.deps.Scheduler.TriggerEmergency(pairName, req.Reason)
	} else {
		cause = "MANUAL"
		accepted, err = s.deps.Scheduler.TriggerNow(pairName)
	}
	if err != nil {
		// The scheduler only errors on pairs it does not dispatch.
		c.JSON(http.StatusNotFound, gin.H{
			"error": err.Error(),
		})
		return
	}

	s.log.Info().
		Str("pair", pairName).
		Str("cause", cause).
		Int("accepted", accepted).
		Msg("Trigger injected")

	c.JSON(http.StatusAccepted, gin.H{
		"pair":     pairName,
		"cause":    cause,
		"accepted": accepted,
	})
}

// handlePause stops new cycles from starting; in-flight cycles finish.
func (s *Server) handlePause(c *gin.Context) {
	s.deps.Engine.Pause()
	c.JSON(http.StatusOK, gin.H{
		"status": "paused",
		"time":   time.Now().UTC(),
	})
}

// handleResume lifts a pause.
func (s *Server) handleResume(c *gin.Context) {
	s.deps.Engine.Resume()
	c.JSON(http.StatusOK, gin.H{
		"status": "running",
		"time":   time.Now().UTC(),
	})
}

// handleGetJournal returns journal records at or after ?since= (RFC3339,
// default: everything), newest last, capped at ?limit= (default 100).
func (s *Server) handleGetJournal(c *gin.Context) {
	if s.deps.Journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "journal not available",
		})
		return
	}

	var since time.Time
	if sinceStr := c.Query("since"); sinceStr != "" {
		parsed, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": fmt.Sprintf("invalid since timestamp: %v", err),
			})
			return
		}
		since = parsed
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit < 1 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "limit must be a positive integer",
		})
		return
	}

	records, err := s.deps.Journal.Since(since)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to read journal")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to read journal",
		})
		return
	}

	// Keep the most recent records when over the limit.
	if len(records) > limit {
		records = records[len(records)-limit:]
	}

	c.JSON(http.StatusOK, gin.H{
		"records": records,
		"total":   len(records),
		"limit":   limit,
	})
}

// handleJournalWS upgrades to a WebSocket subscription streaming every new
// journal record as it is written.
func (s *Server) handleJournalWS(c *gin.Context) {
	if s.deps.Hub == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "journal tail not available",
		})
		return
	}
	ServeWS(s.deps.Hub, c.Writer, c.Request)
}

// handleGetPortfolio returns the paper book: cash, positions, exposure,
// drawdown and fill count.
func (s *Server) handleGetPortfolio(c *gin.Context) {
	if s.deps.Portfolio == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "portfolio not available",
		})
		return
	}

	state := s.deps.Portfolio.State()

	c.JSON(http.StatusOK, gin.H{
		"cash_quote":         state.CashQuote,
		"equity":             state.Equity(),
		"positions":          state.Positions,
		"open_risk_exposure": state.OpenRiskExposure,
		"drawdown_from_peak": state.DrawdownFromPeak,
		"fills":              s.deps.Portfolio.Fills(),
		"time":               time.Now().UTC(),
	})
}

// handleExportPreset renders the running analyst lineup as a versioned YAML
// preset document.
func (s *Server) handleExportPreset(c *gin.Context) {
	if len(s.deps.Analysts) == 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "analyst lineup not configured",
		})
		return
	}

	name := c.DefaultQuery("name", "live")
	data, err := analyst.ExportPreset(name, s.deps.Analysts)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to export analyst preset")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to export preset",
		})
		return
	}

	c.Data(http.StatusOK, "application/x-yaml", data)
}

// handleImportPreset validates a preset document against the running schema.
// The lineup itself is fixed at startup; a valid document applies on the next
// restart, so this endpoint is a dry run for operators editing presets.
func (s *Server) handleImportPreset(c *gin.Context) {
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("failed to read body: %v", err),
		})
		return
	}

	analysts, err := analyst.ImportPreset(data)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"valid": false,
			"error": err.Error(),
		})
		return
	}

	lineup := make([]gin.H, 0, len(analysts))
	for _, ac := range analysts {
		lineup = append(lineup, gin.H{
			"id":     ac.ID,
			"role":   ac.Role,
			"weight": ac.Weight,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"valid":    true,
		"analysts": len(analysts),
		"lineup":   lineup,
		"note":     "preset is valid; it applies on the next restart",
	})
}

// Utility functions

var startTime = time.Now()

func toMB(bytes uint64) uint64 {
	return bytes / 1024 / 1024
}

// pairParam maps the URL form of a pair to the domain form: the path segment
// cannot hold a slash, so clients send "BTC-USDT" for BTC/USDT.
func pairParam(raw string) string {
	return strings.Replace(raw, "-", "/", 1)
}
