// Package http 报表 HTTP 接口
package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/commissionledger/internal/regulatoryreporting/application"
	"github.com/wyfcoding/commissionledger/internal/regulatoryreporting/domain"
	settlement "github.com/wyfcoding/commissionledger/internal/settlement/domain"
	"github.com/wyfcoding/commissionledger/pkg/logger"
)

// ReportHandler 报表接口
type ReportHandler struct {
	svc *application.ReportingService
}

// NewReportHandler 创建处理器
func NewReportHandler(svc *application.ReportingService) *ReportHandler {
	return &ReportHandler{svc: svc}
}

// RegisterRoutes 注册路由
func (h *ReportHandler) RegisterRoutes(api *gin.RouterGroup) {
	reports := api.Group("/reports")
	{
		reports.GET("/sales-ledger/:seller_id", h.SalesLedger)
		reports.GET("/tax/:year", h.TaxReport)
		reports.GET("/processor-payouts/:user_id", h.ProcessorPayouts)
	}
}

// SalesLedger 卖家销售台账
func (h *ReportHandler) SalesLedger(c *gin.Context) {
	ledger, err := h.svc.SalesLedger(c.Request.Context(), c.Param("seller_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ledger)
}

// TaxReport 年度报税汇总
func (h *ReportHandler) TaxReport(c *gin.Context) {
	year, err := strconv.Atoi(c.Param("year"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid year"})
		return
	}
	report, err := h.svc.TaxReport(c.Request.Context(), year)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// ProcessorPayouts 处理方出款记录
func (h *ReportHandler) ProcessorPayouts(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	payouts, err := h.svc.ProcessorPayouts(c.Request.Context(), c.Param("user_id"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": payouts})
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidYear):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, settlement.ErrAccountNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "code": "NOT_FOUND"})
	case errors.Is(err, settlement.ErrNotConnected):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "code": string(settlement.CodeNotConnected)})
	case errors.Is(err, settlement.ErrProcessorUnavailable), errors.Is(err, settlement.ErrTransferRejected):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "code": "PROCESSOR_ERROR"})
	default:
		logger.Error(c.Request.Context(), "Report request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
