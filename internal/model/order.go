package model

import (
	"time"
)

const (
	OrderStatusPending        = "PENDING" // 本地已落库，链上托管未确认
	OrderStatusPaid           = "PAID"    // 链上托管已建立
	OrderStatusShipped        = "SHIPPED"
	OrderStatusDelivered      = "DELIVERED"
	OrderStatusReleasePending = "RELEASE_PENDING" // 放款请求已提交链上
	OrderStatusDisputePending = "DISPUTE_PENDING" // 争议请求已提交链上
	OrderStatusDisputed       = "DISPUTED"
	OrderStatusCompleted      = "COMPLETED"
	OrderStatusCancelled      = "CANCELLED"
	OrderStatusRefunded       = "REFUNDED"
)

// ValidStatusTransitions 订单状态机
// PENDING -> PAID 之外的回退转移（RELEASE_PENDING -> PAID 等）
// 只用于外部调用失败后的补偿回滚
var ValidStatusTransitions = map[string][]string{
	OrderStatusPending:        {OrderStatusPaid, OrderStatusCancelled},
	OrderStatusPaid:           {OrderStatusShipped, OrderStatusReleasePending, OrderStatusDisputePending},
	OrderStatusShipped:        {OrderStatusDelivered, OrderStatusReleasePending, OrderStatusDisputePending},
	OrderStatusDelivered:      {OrderStatusReleasePending, OrderStatusDisputePending},
	OrderStatusReleasePending: {OrderStatusCompleted, OrderStatusPaid, OrderStatusShipped, OrderStatusDelivered, OrderStatusDisputePending},
	OrderStatusDisputePending: {OrderStatusDisputed, OrderStatusPaid, OrderStatusShipped, OrderStatusDelivered, OrderStatusReleasePending},
	OrderStatusDisputed:       {OrderStatusRefunded, OrderStatusCompleted},
}

// CanTransitionTo 检查状态转移是否合法
func CanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidStatusTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// IsTerminalStatus 终态订单不再接受任何操作
func IsTerminalStatus(status string) bool {
	switch status {
	case OrderStatusCompleted, OrderStatusCancelled, OrderStatusRefunded:
		return true
	}
	return false
}

// EscrowOrder 托管订单
// 由托管服务独占写入，所有状态变更走 CanTransitionTo 定义的转移
type EscrowOrder struct {
	ID            int64   `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderNo       string  `gorm:"type:varchar(64);uniqueIndex;not null" json:"order_no"`
	BuyerID       int64   `gorm:"index;not null" json:"buyer_id"`
	SellerID      int64   `gorm:"index;not null" json:"seller_id"`
	ProductID     int64   `gorm:"index;not null" json:"product_id"`
	Amount        float64 `gorm:"not null" json:"amount"`
	TokenSymbol   string  `gorm:"type:varchar(16);not null" json:"token_symbol"`
	Quantity      int64   `gorm:"not null" json:"quantity"`
	Status        string  `gorm:"type:varchar(20);index;not null" json:"status"`
	EscrowAddress string  `gorm:"type:varchar(64);index" json:"escrow_address"`
	MetadataRef   string  `gorm:"type:varchar(128)" json:"metadata_ref"`
	// 链上已扣款但本地状态更新失败时置位，由对账任务兜底
	Reconcile   bool       `gorm:"not null;default:false;index" json:"reconcile"`
	PaidAt      *time.Time `json:"paid_at"`
	CompletedAt *time.Time `json:"completed_at"`
	CancelledAt *time.Time `json:"cancelled_at"`
	CreatedAt   time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (EscrowOrder) TableName() string {
	return "escrow_order"
}
