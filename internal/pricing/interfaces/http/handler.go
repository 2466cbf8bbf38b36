package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/commissionledger/internal/pricing/application"
	"github.com/wyfcoding/commissionledger/internal/pricing/domain"
	"github.com/wyfcoding/commissionledger/pkg/logger"
)

// PricingHandler 定价 HTTP 处理器
type PricingHandler struct {
	quotes *application.QuoteService
}

// NewPricingHandler 创建定价处理器
func NewPricingHandler(quotes *application.QuoteService) *PricingHandler {
	return &PricingHandler{quotes: quotes}
}

// RegisterRoutes 注册路由
func (h *PricingHandler) RegisterRoutes(api *gin.RouterGroup) {
	api.POST("/pricing/quote", h.Quote)
}

// Quote 计算挂牌售价
func (h *PricingHandler) Quote(c *gin.Context) {
	var req application.QuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	q, err := h.quotes.Quote(c.Request.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidAsk), errors.Is(err, domain.ErrInvalidRate):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "INVALID_INPUT"})
		default:
			logger.Error(c.Request.Context(), "Failed to quote listing", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, q)
}
