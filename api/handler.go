package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"odin-backtester/internal/model"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Service is the job pipeline behind the HTTP surface.
type Service interface {
	Submit(ctx context.Context, req model.BacktestRequest) (model.BacktestJob, error)
	Get(ctx context.Context, id string) (model.BacktestJob, error)
	List(ctx context.Context, limit int) ([]model.BacktestJob, error)
	Cancel(ctx context.Context, id string) (model.BacktestJob, error)
	Delete(ctx context.Context, id string) error
	Strategies() []model.StrategyInfo
}

type Handler struct {
	svc    Service
	logger *zap.Logger
}

func NewHandler(svc Service, logger *zap.Logger) *Handler {
	return &Handler{
		svc:    svc,
		logger: logger,
	}
}

// Routes mounts the backtest API. submit guards the submission endpoint.
func (h *Handler) Routes(rg *gin.RouterGroup, submit ...gin.HandlerFunc) {
	rg.POST("/backtest", append(submit, h.RunBacktest)...)
	rg.GET("/result/:job_id", h.GetResult)
	rg.GET("/history", h.GetHistory)
	rg.DELETE("/job/:job_id", h.DeleteJob)
	rg.POST("/job/:job_id/cancel", h.CancelJob)
	rg.GET("/strategies", h.GetStrategies)
}

var dateLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"}

func parseDate(field, s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, model.NewValidationError(fmt.Sprintf("%s %q is not a date", field, s))
}

func (h *Handler) RunBacktest(c *gin.Context) {
	var req struct {
		StrategyID     string          `json:"strategy_id" binding:"required"`
		Symbol         string          `json:"symbol"`
		StartDate      string          `json:"start_date" binding:"required"`
		EndDate        string          `json:"end_date" binding:"required"`
		InitialCapital decimal.Decimal `json:"initial_capital"`
		Timeframe      string          `json:"timeframe"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	start, err := parseDate("start_date", req.StartDate)
	if err != nil {
		h.writeError(c, err)
		return
	}
	end, err := parseDate("end_date", req.EndDate)
	if err != nil {
		h.writeError(c, err)
		return
	}

	job, err := h.svc.Submit(c.Request.Context(), model.BacktestRequest{
		StrategyID:     req.StrategyID,
		Symbol:         req.Symbol,
		StartDate:      start,
		EndDate:        end,
		InitialCapital: req.InitialCapital,
		Timeframe:      req.Timeframe,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"job_id":        job.ID,
		"status":        job.Status,
		"strategy_id":   job.StrategyID,
		"strategy_name": job.StrategyName,
		"created_at":    job.CreatedAt,
	})
}

func (h *Handler) GetResult(c *gin.Context) {
	job, err := h.svc.Get(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *Handler) GetHistory(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return
	}
	history, err := h.svc.List(c.Request.Context(), limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(history), "history": history})
}

func (h *Handler) DeleteJob(c *gin.Context) {
	id := c.Param("job_id")
	if err := h.svc.Delete(c.Request.Context(), id); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "job deleted", "job_id": id})
}

func (h *Handler) CancelJob(c *gin.Context) {
	job, err := h.svc.Cancel(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *Handler) GetStrategies(c *gin.Context) {
	strategies := h.svc.Strategies()
	c.JSON(http.StatusOK, gin.H{"count": len(strategies), "strategies": strategies})
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, model.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	case errors.Is(err, model.ErrJobRunning):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	switch model.KindOf(err) {
	case model.KindValidation:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case model.KindConcurrencyLimit:
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	default:
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
