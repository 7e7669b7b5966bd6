// Command server exposes the backtest engine over HTTP. Jobs load candles
// from the ClickHouse store, run asynchronously, and are polled by ID.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"cfdbacktest/services/clickhouse"
	"cfdbacktest/services/config"
	"cfdbacktest/services/engine"
)

type backtestRequest struct {
	Symbol        string `json:"symbol" binding:"required"`
	EntryInterval string `json:"entry_interval" binding:"required"`
	TrendInterval string `json:"trend_interval" binding:"required"`
	FromMs        int64  `json:"from_ms" binding:"required"`
	ToMs          int64  `json:"to_ms" binding:"required"`
	Instrument    string `json:"instrument"`
}

type jobStatus string

const (
	jobRunning jobStatus = "running"
	jobDone    jobStatus = "done"
	jobFailed  jobStatus = "failed"
)

type jobRecord struct {
	ID         string          `json:"id"`
	Status     jobStatus       `json:"status"`
	Error      string          `json:"error,omitempty"`
	Summary    *engine.Summary `json:"summary,omitempty"`
	TradeCount int             `json:"trade_count"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

type server struct {
	cfg    config.Config
	store  *clickhouse.Client
	logger *zap.Logger

	mu   sync.RWMutex
	jobs map[string]*jobRecord
}

func (s *server) routes(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		api.POST("/backtest", s.handleBacktest)
		api.GET("/backtest/:job_id", s.handleJob)
		api.GET("/health", s.handleHealth)
	}
}

func (s *server) handleBacktest(c *gin.Context) {
	var req backtestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.ToMs <= req.FromMs {
		c.JSON(http.StatusBadRequest, gin.H{"error": "to_ms must be after from_ms"})
		return
	}

	cfg := s.cfg
	if req.Instrument != "" {
		cfg.ActiveInstrument = req.Instrument
		if err := cfg.Resolve(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	rec := &jobRecord{
		ID:        uuid.NewString(),
		Status:    jobRunning,
		StartedAt: time.Now().UTC(),
	}
	s.mu.Lock()
	s.jobs[rec.ID] = rec
	s.mu.Unlock()

	go s.runJob(rec.ID, cfg, req)

	c.JSON(http.StatusAccepted, gin.H{"job_id": rec.ID, "status": rec.Status})
}

func (s *server) runJob(id string, cfg config.Config, req backtestRequest) {
	res, err := s.execute(cfg, req)

	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.jobs[id]
	rec.FinishedAt = &now
	if err != nil {
		rec.Status = jobFailed
		rec.Error = err.Error()
		s.logger.Error("job failed", zap.String("job_id", id), zap.Error(err))
		return
	}
	rec.Status = jobDone
	rec.Summary = &res.Summary
	rec.TradeCount = len(res.Trades)
	s.logger.Info("job complete",
		zap.String("job_id", id),
		zap.Int("trades", rec.TradeCount),
	)
}

func (s *server) execute(cfg config.Config, req backtestRequest) (*engine.Result, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	entry, err := s.store.LoadBars(ctx, req.Symbol, req.EntryInterval, req.FromMs, req.ToMs)
	if err != nil {
		return nil, fmt.Errorf("load entry bars: %w", err)
	}
	trend, err := s.store.LoadBars(ctx, req.Symbol, req.TrendInterval, req.FromMs, req.ToMs)
	if err != nil {
		return nil, fmt.Errorf("load trend bars: %w", err)
	}

	eng, err := engine.New(cfg, entry, trend, s.logger)
	if err != nil {
		return nil, err
	}
	return eng.Run()
}

func (s *server) handleJob(c *gin.Context) {
	s.mu.RLock()
	rec, ok := s.jobs[c.Param("job_id")]
	s.mu.RUnlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown job"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

func main() {
	configPath := flag.String("config", "config.yaml", "Path to YAML configuration")
	addr := flag.String("addr", ":8080", "HTTP listen address")
	chAddr := flag.String("ch-addr", "localhost:9000", "ClickHouse native address")
	chDatabase := flag.String("ch-database", "backtest", "ClickHouse database")
	chTable := flag.String("ch-table", "ohlcv", "ClickHouse candle table")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	chCfg := clickhouse.DefaultConfig()
	chCfg.Addr = *chAddr
	chCfg.Database = *chDatabase
	chCfg.Table = *chTable

	ctx := context.Background()
	store, err := clickhouse.NewClient(ctx, chCfg)
	if err != nil {
		logger.Fatal("connect clickhouse", zap.Error(err))
	}
	defer store.Close()
	if err := store.EnsureSchema(ctx); err != nil {
		logger.Fatal("ensure schema", zap.Error(err))
	}

	srv := &server{
		cfg:    cfg,
		store:  store,
		logger: logger,
		jobs:   make(map[string]*jobRecord),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	srv.routes(router)

	httpServer := &http.Server{
		Addr:    *addr,
		Handler: router,
	}
	go func() {
		logger.Info("starting http server", zap.String("addr", *addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("serve http", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}
