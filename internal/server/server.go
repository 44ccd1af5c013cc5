package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/kristal2012/flowsniper/internal/config"
	"github.com/kristal2012/flowsniper/internal/engine"
	"github.com/kristal2012/flowsniper/internal/logger"
	"github.com/kristal2012/flowsniper/internal/models"
)

// Server 暴露引擎的控制与观测接口
type Server struct {
	eng  *engine.Engine
	feed *engine.Feed
	srv  *http.Server
}

// New 构造控制服务
func New(eng *engine.Engine, feed *engine.Feed) *Server {
	return &Server{eng: eng, feed: feed}
}

// Run 启动 HTTP 服务, 阻塞直到服务关闭
func (s *Server) Run(addr string) error {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	api := r.Group("/api")
	{
		api.GET("/status", s.handleStatus)
		api.GET("/config", s.handleGetConfig)
		api.PUT("/config", s.handleUpdateConfig)
		api.POST("/start", s.handleStart)
		api.POST("/stop", s.handleStop)
		api.GET("/logs", s.handleLogs)
		api.POST("/liquidate", s.handleLiquidate)
		api.POST("/recharge", s.handleRecharge)
		api.POST("/withdraw", s.handleWithdraw)
	}
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.srv = &http.Server{Addr: addr, Handler: r}
	logger.S().Infof("控制接口监听于 %s", addr)

	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown 优雅关闭 HTTP 服务
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.eng.State())
}

func (s *Server) handleGetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, s.eng.Config())
}

func (s *Server) handleUpdateConfig(c *gin.Context) {
	var ec models.EngineConfig
	if err := c.ShouldBindJSON(&ec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := config.ValidateEngine(&ec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.eng.UpdateConfig(ec)
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

func (s *Server) handleStart(c *gin.Context) {
	// 请求体可省略, 省略时沿用当前配置
	ec := s.eng.Config()
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&ec); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if err := config.ValidateEngine(&ec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.eng.Start(ec); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "started"})
}

func (s *Server) handleStop(c *gin.Context) {
	s.eng.Stop()
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

func (s *Server) handleLogs(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	c.JSON(http.StatusOK, s.feed.Recent(limit))
}

func (s *Server) handleLiquidate(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Minute)
	defer cancel()

	count, err := s.eng.EmergencyLiquidate(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"liquidated": count})
}

type amountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func (s *Server) handleRecharge(c *gin.Context) {
	var req amountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.eng.Recharge(c.Request.Context(), req.Amount); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "recharged"})
}

type withdrawRequest struct {
	To     string          `json:"to"`
	Amount decimal.Decimal `json:"amount"`
}

func (s *Server) handleWithdraw(c *gin.Context) {
	var req withdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	txRef, err := s.eng.Withdraw(c.Request.Context(), req.To, req.Amount)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction_ref": txRef})
}
