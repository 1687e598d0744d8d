package trading

import (
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/ksred/klear-paper/internal/types"
	"github.com/ksred/klear-paper/pkg/response"
)

// GinHandlers contains HTTP handlers for trading endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for trading endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// TradeBody is the order payload. Quantity accepts a JSON number or string.
type TradeBody struct {
	Symbol   string          `json:"symbol" binding:"required"`
	Side     types.Side      `json:"side" binding:"required"`
	Quantity decimal.Decimal `json:"quantity"`
}

// ExecuteTradeHandler handles POST requests to execute a market order
// Requires a valid JWT token and idempotency key in headers
// URL parameter: account_id
func (h *GinHandlers) ExecuteTradeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		idempotencyKey := c.GetHeader("Idempotency-Key")
		if idempotencyKey == "" {
			response.BadRequest(c, "Idempotency-Key header is required")
			return
		}

		var body TradeBody
		if err := c.ShouldBindJSON(&body); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		trade, err := h.service.ExecuteTrade(c.Request.Context(), TradeRequest{
			AccountID:      c.Param("account_id"),
			Symbol:         body.Symbol,
			Side:           body.Side,
			Quantity:       body.Quantity,
			IdempotencyKey: idempotencyKey,
		})
		if err != nil {
			response.Handle(c, nil, err)
			return
		}

		response.Success(c, types.NewTradeResponse(trade))
	}
}

// ListTradesHandler handles GET requests for an account's trade history
// URL parameter: account_id
func (h *GinHandlers) ListTradesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		trades, err := h.service.ListTrades(c.Request.Context(), c.Param("account_id"))
		if err != nil {
			response.Handle(c, nil, err)
			return
		}

		out := make([]types.TradeResponse, 0, len(trades))
		for i := range trades {
			out = append(out, types.NewTradeResponse(&trades[i]))
		}
		response.Success(c, out)
	}
}
