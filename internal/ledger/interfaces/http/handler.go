package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/commissionledger/internal/ledger/application"
	"github.com/wyfcoding/commissionledger/internal/ledger/domain"
	"github.com/wyfcoding/commissionledger/pkg/logger"
)

// LedgerHandler 账本运维接口：释放、对账、冻结解除、冲正与分账审计
type LedgerHandler struct {
	ledger     *application.LedgerService
	release    *application.ReleaseScheduler
	reconciler *application.Reconciler
}

// NewLedgerHandler 创建处理器
func NewLedgerHandler(ledger *application.LedgerService, release *application.ReleaseScheduler, reconciler *application.Reconciler) *LedgerHandler {
	return &LedgerHandler{ledger: ledger, release: release, reconciler: reconciler}
}

// RegisterRoutes 注册路由
func (h *LedgerHandler) RegisterRoutes(api *gin.RouterGroup) {
	ops := api.Group("/ops")
	{
		ops.POST("/release", h.Release)
		ops.POST("/reconcile", h.Reconcile)
		ops.POST("/remediate", h.Remediate)
	}
	api.POST("/orders/:order_id/reverse", h.ReverseOrder)
	api.POST("/order-lines/:order_line_id/reverse", h.ReverseOrderLine)
	api.GET("/order-lines/:order_line_id/audit", h.AuditSplit)
}

// Release 立即执行一次释放
func (h *LedgerHandler) Release(c *gin.Context) {
	n, err := h.release.ReleaseEligible(c.Request.Context())
	if err != nil {
		logger.Error(c.Request.Context(), "Release run failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "released": n})
		return
	}
	c.JSON(http.StatusOK, gin.H{"released": n})
}

// Reconcile 立即执行一次对账
func (h *LedgerHandler) Reconcile(c *gin.Context) {
	report, err := h.reconciler.Reconcile(c.Request.Context())
	if err != nil {
		logger.Error(c.Request.Context(), "Reconciliation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

type remediateRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Role   string `json:"role" binding:"required"`
}

// Remediate 人工处理付款失败后解除冻结
func (h *LedgerHandler) Remediate(c *gin.Context) {
	var req remediateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	role, err := domain.ParseRole(req.Role)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "INVALID_ROLE"})
		return
	}

	n, err := h.ledger.RemediatePayouts(c.Request.Context(), domain.BalanceKey{UserID: req.UserID, Role: role})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"remediated": n})
}

// ReverseOrder 按订单冲正
func (h *LedgerHandler) ReverseOrder(c *gin.Context) {
	res, err := h.ledger.ReverseOrder(c.Request.Context(), c.Param("order_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ReverseOrderLine 按订单行冲正
func (h *LedgerHandler) ReverseOrderLine(c *gin.Context) {
	res, err := h.ledger.ReverseOrderLine(c.Request.Context(), c.Param("order_line_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// AuditSplit 以记录时的费率版本重算分账
func (h *LedgerHandler) AuditSplit(c *gin.Context) {
	audit, err := h.ledger.RecomputeSplit(c.Request.Context(), c.Param("order_line_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, audit)
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrDistributionNotFound), errors.Is(err, domain.ErrOrderLineNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "code": "NOT_FOUND"})
	case errors.Is(err, domain.ErrDistributionInSettlement), errors.Is(err, domain.ErrPayoutInFlight):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "code": "IN_SETTLEMENT"})
	default:
		logger.Error(c.Request.Context(), "Ledger request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
