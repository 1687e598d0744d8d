package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	apperrors "github.com/ksred/klear-paper/internal/errors"
)

func perform(t *testing.T, method string, data interface{}, err error) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(method, "/", nil)

	Handle(c, data, err)

	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w, resp
}

func TestHandleMapsDomainErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", apperrors.NewValidationError("quantity", "0", "must be positive"), http.StatusBadRequest, apperrors.CodeValidation},
		{"not found", apperrors.AccountNotFound("acc-1"), http.StatusNotFound, apperrors.CodeAccountNotFound},
		{"inactive", apperrors.AccountInactive("acc-1"), http.StatusConflict, apperrors.CodeAccountInactive},
		{"insufficient funds", apperrors.NewTradeError(apperrors.ErrInsufficientFunds, "acc-1", "AAPL", "buy", ""), http.StatusUnprocessableEntity, apperrors.CodeInsufficientFunds},
		{"day trade limit", apperrors.NewTradeError(apperrors.ErrDayTradeLimitExceeded, "acc-1", "AAPL", "sell", ""), http.StatusUnprocessableEntity, apperrors.CodeDayTradeLimitExceeded},
		{"risk rule", apperrors.NewTradeError(apperrors.ErrRiskRuleViolation, "acc-1", "AAPL", "buy", ""), http.StatusUnprocessableEntity, apperrors.CodeRiskRuleViolation},
		{"price unavailable", fmt.Errorf("quote: %w", apperrors.ErrPriceUnavailable), http.StatusServiceUnavailable, apperrors.CodePriceUnavailable},
		{"dependency", apperrors.Dependency("commit", gorm.ErrRecordNotFound), http.StatusBadGateway, apperrors.CodeDependencyFailure},
		{"corrupt rule set", &apperrors.DependencyError{Op: "decode risk rules", Err: apperrors.NewValidationError("max_position_size", "x", "not a decimal")}, http.StatusBadGateway, apperrors.CodeDependencyFailure},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, ErrCodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, resp := perform(t, http.MethodGet, nil, tt.err)
			assert.Equal(t, tt.status, w.Code)
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
		})
	}
}

func TestHandleHidesInternalMessages(t *testing.T) {
	_, resp := perform(t, http.MethodGet, nil, errors.New("dsn=secret"))
	assert.Equal(t, "An unexpected error occurred", resp.Error.Message)
}

func TestHandleSuccess(t *testing.T) {
	w, resp := perform(t, http.MethodPost, gin.H{"ok": true}, nil)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.True(t, resp.Success)

	w, _ = perform(t, http.MethodGet, gin.H{"ok": true}, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandleGormErrors(t *testing.T) {
	w, resp := perform(t, http.MethodGet, nil, gorm.ErrRecordNotFound)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, ErrCodeNotFound, resp.Error.Code)

	w, resp = perform(t, http.MethodPost, nil, fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, ErrCodeDuplicateResource, resp.Error.Code)
}

func TestHelpersWriteEnvelope(t *testing.T) {
	tests := []struct {
		name   string
		send   func(*gin.Context, string)
		status int
		code   string
	}{
		{"bad request", BadRequest, http.StatusBadRequest, ErrCodeBadRequest},
		{"unauthorized", Unauthorized, http.StatusUnauthorized, ErrCodeUnauthorized},
		{"rate limited", TooManyRequests, http.StatusTooManyRequests, ErrCodeRateLimited},
	}
	gin.SetMode(gin.TestMode)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			tt.send(c, "nope")

			var resp Response
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, resp.Error.Code)
			assert.Equal(t, "nope", resp.Error.Message)
		})
	}
}
