package risk

import (
	"github.com/gin-gonic/gin"

	"github.com/ksred/klear-paper/internal/types"
	"github.com/ksred/klear-paper/pkg/response"
)

// GinHandlers contains HTTP handlers for analytics endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for analytics endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

type SectorAllocationResponse struct {
	Sector         string   `json:"sector"`
	Value          string   `json:"value"`
	Weight         float64  `json:"weight"`
	AverageReturn  float64  `json:"average_return"`
	BestPerformer  string   `json:"best_performer"`
	WorstPerformer string   `json:"worst_performer"`
	Symbols        []string `json:"symbols"`
}

type RiskMetricsResponse struct {
	Volatility          float64 `json:"volatility"`
	VaR95               string  `json:"var_95"`
	ExpectedShortfall95 string  `json:"expected_shortfall_95"`
	VaR99               string  `json:"var_99"`
}

type AnalyticsResponse struct {
	AccountID              string                     `json:"account_id"`
	TotalValue             string                     `json:"total_value"`
	SectorAllocation       []SectorAllocationResponse `json:"sector_allocation"`
	ConcentrationRisk      float64                    `json:"concentration_risk"`
	RiskMetrics            RiskMetricsResponse        `json:"risk_metrics"`
	Correlation            CorrelationMatrix          `json:"correlation"`
	BenchmarkComparison    BenchmarkComparison        `json:"benchmark_comparison"`
	RebalancingSuggestions []Suggestion               `json:"rebalancing_suggestions"`
}

// GetAnalyticsHandler handles GET requests for an account's risk bundle
// URL parameter: account_id
func (h *GinHandlers) GetAnalyticsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		analytics, err := h.service.Analyze(c.Request.Context(), c.Param("account_id"))
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, NewAnalyticsResponse(analytics))
	}
}

func NewAnalyticsResponse(a *Analytics) AnalyticsResponse {
	resp := AnalyticsResponse{
		AccountID:         a.AccountID,
		TotalValue:        types.Money(a.TotalValue),
		SectorAllocation:  make([]SectorAllocationResponse, 0, len(a.SectorAllocation)),
		ConcentrationRisk: a.ConcentrationRisk,
		RiskMetrics: RiskMetricsResponse{
			Volatility:          a.RiskMetrics.Volatility,
			VaR95:               types.Money(a.RiskMetrics.VaR95),
			ExpectedShortfall95: types.Money(a.RiskMetrics.ExpectedShortfall95),
			VaR99:               types.Money(a.RiskMetrics.VaR99),
		},
		Correlation:            a.Correlation,
		BenchmarkComparison:    a.BenchmarkComparison,
		RebalancingSuggestions: a.RebalancingSuggestions,
	}
	for _, s := range a.SectorAllocation {
		resp.SectorAllocation = append(resp.SectorAllocation, SectorAllocationResponse{
			Sector:         s.Sector,
			Value:          types.Money(s.Value),
			Weight:         s.Weight,
			AverageReturn:  s.AverageReturn,
			BestPerformer:  s.BestPerformer,
			WorstPerformer: s.WorstPerformer,
			Symbols:        s.Symbols,
		})
	}
	return resp
}
