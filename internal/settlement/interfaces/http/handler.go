// Package http 付款结算的 HTTP 接口
package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	ledger "github.com/wyfcoding/commissionledger/internal/ledger/domain"
	"github.com/wyfcoding/commissionledger/internal/settlement/application"
	"github.com/wyfcoding/commissionledger/internal/settlement/domain"
	"github.com/wyfcoding/commissionledger/pkg/logger"
	"github.com/wyfcoding/commissionledger/pkg/middleware"
)

// SettlementHandler 余额、付款申请、关联账户与批次结算接口
type SettlementHandler struct {
	accounts *application.AccountService
	requests *application.PayoutRequestService
	batch    *application.BatchSettlementService
	// 付款申请的限流中间件，可为 nil
	requestLimit gin.HandlerFunc
}

// NewSettlementHandler 创建处理器
func NewSettlementHandler(
	accounts *application.AccountService,
	requests *application.PayoutRequestService,
	batch *application.BatchSettlementService,
	requestLimit gin.HandlerFunc,
) *SettlementHandler {
	return &SettlementHandler{accounts: accounts, requests: requests, batch: batch, requestLimit: requestLimit}
}

// UserKey 限流键：优先取网关注入的用户标识，其次客户端 IP
func UserKey(c *gin.Context) string {
	if id := c.GetHeader("X-User-ID"); id != "" {
		return id
	}
	return middleware.ClientIPKey(c)
}

// RegisterRoutes 注册路由
func (h *SettlementHandler) RegisterRoutes(api *gin.RouterGroup) {
	api.GET("/balances/:user_id", h.GetBalances)

	reqs := api.Group("/payout-requests")
	{
		create := []gin.HandlerFunc{h.RequestPayout}
		if h.requestLimit != nil {
			create = append([]gin.HandlerFunc{h.requestLimit}, create...)
		}
		reqs.POST("", create...)
		reqs.POST("/:id/approve", h.ApproveRequest)
		reqs.POST("/:id/reject", h.RejectRequest)
	}

	accounts := api.Group("/accounts")
	{
		accounts.POST("/connect", h.ConnectAccount)
		accounts.GET("/:user_id", h.GetAccount)
		accounts.POST("/:user_id/refresh", h.RefreshAccount)
		accounts.PUT("/:user_id/verification", h.SetVerification)
	}

	api.POST("/ops/settle", h.RunBatch)
}

// GetBalances 查询余额，role 必填
func (h *SettlementHandler) GetBalances(c *gin.Context) {
	role, err := ledger.ParseRole(c.Query("role"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "INVALID_ROLE"})
		return
	}
	view, err := h.requests.GetBalances(c.Request.Context(), c.Param("user_id"), role)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// RequestPayout 创建付款申请
func (h *SettlementHandler) RequestPayout(c *gin.Context) {
	var cmd application.RequestPayoutCommand
	if err := c.ShouldBindJSON(&cmd); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req, err := h.requests.RequestPayout(c.Request.Context(), cmd)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, req)
}

// ApproveRequest 审核通过
func (h *SettlementHandler) ApproveRequest(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	req, err := h.requests.ApproveRequest(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

type rejectRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// RejectRequest 拒绝申请
func (h *SettlementHandler) RejectRequest(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var body rejectRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req, err := h.requests.RejectRequest(c.Request.Context(), id, body.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

// ConnectAccount 在处理方开户
func (h *SettlementHandler) ConnectAccount(c *gin.Context) {
	var cmd application.ConnectAccountCommand
	if err := c.ShouldBindJSON(&cmd); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	acct, err := h.accounts.ConnectAccount(c.Request.Context(), cmd)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, acct)
}

// GetAccount 查询关联账户
func (h *SettlementHandler) GetAccount(c *gin.Context) {
	acct, err := h.accounts.GetAccount(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, acct)
}

// RefreshAccount 同步处理方账户状态
func (h *SettlementHandler) RefreshAccount(c *gin.Context) {
	acct, err := h.accounts.RefreshAccountStatus(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, acct)
}

// SetVerification 运营设置卖家审核与税务协议
func (h *SettlementHandler) SetVerification(c *gin.Context) {
	var cmd application.SetVerificationCommand
	if err := c.ShouldBindJSON(&cmd); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cmd.UserID = c.Param("user_id")
	acct, err := h.accounts.SetVerification(c.Request.Context(), cmd)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, acct)
}

// RunBatch 立即执行一次批次结算
func (h *SettlementHandler) RunBatch(c *gin.Context) {
	res, err := h.batch.RunBatch(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func writeError(c *gin.Context, err error) {
	var reqErr *domain.PayoutRequestError
	if errors.As(err, &reqErr) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":         reqErr.Message,
			"code":          reqErr.Code,
			"missing_steps": reqErr.MissingSteps,
			"minimum":       reqErr.Minimum,
			"available":     reqErr.Available,
			"requested":     reqErr.Requested,
		})
		return
	}

	switch {
	case errors.Is(err, ledger.ErrInvalidRole), errors.Is(err, application.ErrInvalidVerificationStatus):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "INVALID_ARGUMENT"})
	case errors.Is(err, domain.ErrAccountNotFound), errors.Is(err, domain.ErrRequestNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "code": "NOT_FOUND"})
	case errors.Is(err, domain.ErrNotConnected):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "code": string(domain.CodeNotConnected)})
	case errors.Is(err, domain.ErrInvalidRequestTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "code": "INVALID_STATE"})
	case errors.Is(err, domain.ErrBatchRunning):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "code": "BATCH_RUNNING"})
	case errors.Is(err, domain.ErrProcessorUnavailable), errors.Is(err, domain.ErrTransferRejected):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "code": "PROCESSOR_ERROR"})
	default:
		logger.Error(c.Request.Context(), "Settlement request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
