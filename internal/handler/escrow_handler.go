package handler

import (
	"errors"
	"strconv"

	"trustmarket/internal/model"
	"trustmarket/internal/service"
	"trustmarket/pkg/response"

	"github.com/gin-gonic/gin"
)

// EscrowHandler 托管订单接口
type EscrowHandler struct {
	escrowService *service.EscrowService
}

func NewEscrowHandler(escrowService *service.EscrowService) *EscrowHandler {
	return &EscrowHandler{escrowService: escrowService}
}

// writeOrderResult 对账类错误不算彻底失败（资金已动），
// 订单要随告警码一起带回给调用方
func writeOrderResult(c *gin.Context, order *model.EscrowOrder, err error) {
	if err == nil {
		response.Success(c, order)
		return
	}
	if errors.Is(err, service.ErrReconciliationRequired) && order != nil {
		response.ErrorWithData(c, response.CodeReconciliationRequired, err.Error(), order)
		return
	}
	writeServiceError(c, err)
}

// CreateEscrow 创建托管订单
// POST /api/v1/escrow/orders
func (h *EscrowHandler) CreateEscrow(c *gin.Context) {
	var req service.CreateEscrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	order, err := h.escrowService.CreateEscrow(c.Request.Context(), &req)
	writeOrderResult(c, order, err)
}

type callerRequest struct {
	CallerID int64 `json:"caller_id" binding:"required"`
}

type disputeRequest struct {
	CallerID int64  `json:"caller_id" binding:"required"`
	Reason   string `json:"reason" binding:"required"`
}

// ReleaseEscrow 买家确认放款
// POST /api/v1/escrow/orders/:orderNo/release
func (h *EscrowHandler) ReleaseEscrow(c *gin.Context) {
	var req callerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	order, err := h.escrowService.ReleaseEscrow(c.Request.Context(), c.Param("orderNo"), req.CallerID)
	writeOrderResult(c, order, err)
}

// RaiseDispute 发起争议
// POST /api/v1/escrow/orders/:orderNo/dispute
func (h *EscrowHandler) RaiseDispute(c *gin.Context) {
	var req disputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	order, err := h.escrowService.RaiseDispute(c.Request.Context(), c.Param("orderNo"), req.CallerID, req.Reason)
	writeOrderResult(c, order, err)
}

// MarkShipped 卖家标记发货
// POST /api/v1/escrow/orders/:orderNo/ship
func (h *EscrowHandler) MarkShipped(c *gin.Context) {
	var req callerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.escrowService.MarkShipped(c.Request.Context(), c.Param("orderNo"), req.CallerID); err != nil {
		writeServiceError(c, err)
		return
	}
	response.Success(c, nil)
}

// MarkDelivered 买家标记收货
// POST /api/v1/escrow/orders/:orderNo/deliver
func (h *EscrowHandler) MarkDelivered(c *gin.Context) {
	var req callerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.escrowService.MarkDelivered(c.Request.Context(), c.Param("orderNo"), req.CallerID); err != nil {
		writeServiceError(c, err)
		return
	}
	response.Success(c, nil)
}

// GetOrder 查询订单及结算流水
// GET /api/v1/escrow/orders/:orderNo
func (h *EscrowHandler) GetOrder(c *gin.Context) {
	detail, err := h.escrowService.GetOrder(c.Request.Context(), c.Param("orderNo"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	response.Success(c, detail)
}

// GetEscrowDetails 查询订单的链上托管状态
// GET /api/v1/escrow/orders/:orderNo/details
func (h *EscrowHandler) GetEscrowDetails(c *gin.Context) {
	details, err := h.escrowService.GetEscrowDetails(c.Request.Context(), c.Param("orderNo"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	response.Success(c, details)
}

// ListOrders 分页查询买家订单
// GET /api/v1/escrow/orders?buyer_id=&page=&page_size=
func (h *EscrowHandler) ListOrders(c *gin.Context) {
	buyerID, err := strconv.ParseInt(c.Query("buyer_id"), 10, 64)
	if err != nil || buyerID <= 0 {
		response.ParamError(c, "buyer_id 不合法")
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	orders, total, err := h.escrowService.ListOrdersByBuyer(c.Request.Context(), buyerID, page, pageSize)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	response.Success(c, gin.H{
		"list":  orders,
		"total": total,
	})
}
