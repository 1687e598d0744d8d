package performance

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ksred/klear-paper/internal/types"
	"github.com/ksred/klear-paper/pkg/response"
)

// GinHandlers contains HTTP handlers for performance endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for performance endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

type PointResponse struct {
	Timestamp     string `json:"timestamp"`
	TotalValue    string `json:"total_value"`
	Cash          string `json:"cash"`
	InvestedValue string `json:"invested_value"`
}

type PerformanceResponse struct {
	AccountID string          `json:"account_id"`
	History   []PointResponse `json:"history"`
	Stats     StatsResponse   `json:"stats"`
}

type StatsResponse struct {
	PeriodReturn     float64 `json:"period_return"`
	AnnualizedReturn float64 `json:"annualized_return"`
	Volatility       float64 `json:"volatility"`
	SharpeRatio      float64 `json:"sharpe_ratio"`
	SortinoRatio     float64 `json:"sortino_ratio"`
	MaxDrawdown      float64 `json:"max_drawdown"`
	TotalRealizedPnL string  `json:"total_realized_pnl"`
}

// GetPerformanceHandler handles GET requests for an account's value history
// URL parameter: account_id
func (h *GinHandlers) GetPerformanceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		perf, err := h.service.GetPerformance(c.Request.Context(), c.Param("account_id"))
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, NewPerformanceResponse(perf))
	}
}

func NewPerformanceResponse(p *Performance) PerformanceResponse {
	resp := PerformanceResponse{
		AccountID: p.AccountID,
		History:   make([]PointResponse, 0, len(p.History)),
		Stats: StatsResponse{
			PeriodReturn:     p.Stats.PeriodReturn,
			AnnualizedReturn: p.Stats.AnnualizedReturn,
			Volatility:       p.Stats.Volatility,
			SharpeRatio:      p.Stats.SharpeRatio,
			SortinoRatio:     p.Stats.SortinoRatio,
			MaxDrawdown:      p.Stats.MaxDrawdown,
			TotalRealizedPnL: types.Money(p.Stats.TotalRealizedPnL),
		},
	}
	for _, pt := range p.History {
		resp.History = append(resp.History, PointResponse{
			Timestamp:     pt.Timestamp.UTC().Format(time.RFC3339),
			TotalValue:    types.Money(pt.TotalValue),
			Cash:          types.Money(pt.Cash),
			InvestedValue: types.Money(pt.InvestedValue),
		})
	}
	return resp
}
