package accounts

import (
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/ksred/klear-paper/internal/auth"
	apperrors "github.com/ksred/klear-paper/internal/errors"
	"github.com/ksred/klear-paper/internal/rules"
	"github.com/ksred/klear-paper/internal/types"
	"github.com/ksred/klear-paper/pkg/response"
)

// GinHandlers contains HTTP handlers for account endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for account endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// CreateAccountBody is the account opening payload
type CreateAccountBody struct {
	AccountType types.AccountType `json:"account_type"`
	InitialCash *decimal.Decimal  `json:"initial_cash"`
	RiskRules   rules.Set         `json:"risk_rules"`
}

// CreateAccountHandler handles POST requests to open an account for the
// authenticated client
func (h *GinHandlers) CreateAccountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var body CreateAccountBody
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&body); err != nil {
				response.Handle(c, nil, apperrors.NewValidationError("body", nil, err.Error()))
				return
			}
		}

		account, err := h.service.CreateAccount(c.Request.Context(), CreateRequest{
			OwnerID:     auth.ClientID(c),
			AccountType: body.AccountType,
			InitialCash: body.InitialCash,
			RiskRules:   body.RiskRules,
		})
		if err != nil {
			response.Handle(c, nil, err)
			return
		}

		response.Success(c, types.NewAccountResponse(account))
	}
}

// ListAccountsHandler handles GET requests for the client's accounts
func (h *GinHandlers) ListAccountsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accounts, err := h.service.ListAccounts(c.Request.Context(), auth.ClientID(c))
		if err != nil {
			response.Handle(c, nil, err)
			return
		}

		out := make([]types.AccountResponse, 0, len(accounts))
		for i := range accounts {
			out = append(out, types.NewAccountResponse(&accounts[i]))
		}
		response.Success(c, out)
	}
}

// GetAccountHandler handles GET requests for a single account with positions
// URL parameter: account_id
func (h *GinHandlers) GetAccountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		account, err := h.service.GetAccount(c.Request.Context(), c.Param("account_id"))
		response.Handle(c, accountResponse(account), err)
	}
}

// CloseAccountHandler handles DELETE requests to close an account
// URL parameter: account_id
func (h *GinHandlers) CloseAccountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		account, err := h.service.CloseAccount(c.Request.Context(), c.Param("account_id"))
		response.Handle(c, accountResponse(account), err)
	}
}

// RequireOwner rejects requests for accounts the client does not own. Foreign
// and missing accounts both answer 404.
func (h *GinHandlers) RequireOwner() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := c.Param("account_id")
		if accountID == "" {
			c.Next()
			return
		}

		owner, err := h.service.OwnerOf(c.Request.Context(), accountID)
		if err == nil && owner != auth.ClientID(c) {
			err = apperrors.AccountNotFound(accountID)
		}
		if err != nil {
			response.Handle(c, nil, err)
			c.Abort()
			return
		}
		c.Next()
	}
}

func accountResponse(account *types.Account) interface{} {
	if account == nil {
		return nil
	}
	return types.NewAccountResponse(account)
}
