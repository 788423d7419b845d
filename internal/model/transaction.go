package model

import (
	"time"
)

// ============================================================================
// 结算流水类型常量
// ============================================================================

const (
	TransactionTypeEscrowCreate   = "ESCROW_CREATE"  // 建立托管
	TransactionTypeEscrowRelease  = "ESCROW_RELEASE" // 放款给卖家
	TransactionTypeEscrowRefund   = "ESCROW_REFUND"  // 退款给买家
	TransactionTypeEscrowDispute  = "ESCROW_DISPUTE" // 发起争议
	TransactionTypeDirectTransfer = "DIRECT_TRANSFER"
)

const (
	TxStatusPending   = "PENDING"   // 本地意向已落库，未发链上
	TxStatusSubmitted = "SUBMITTED" // 链上调用已成功提交
	TxStatusConfirmed = "CONFIRMED" // 链上确认完成
	TxStatusFailed    = "FAILED"    // 链上调用发出后失败，本地已补偿
	TxStatusCancelled = "CANCELLED" // 意向从未发出，对账时直接撤销
)

// IsTerminalTxStatus 终态流水不再变更
func IsTerminalTxStatus(status string) bool {
	switch status {
	case TxStatusConfirmed, TxStatusFailed, TxStatusCancelled:
		return true
	}
	return false
}

// EscrowTransaction 结算流水表
// 记录每一次链上结算动作，是本地与链上对账的核心依据
//
// 【重要】流水表设计原则：
// 1. 只追加，不修改 —— 唯一例外是补记提交/确认元数据（哈希、区块号）
// 2. 每笔流水必须关联订单号
// 3. 同一订单同一类型的流水，同时最多只有一条处于非终态
type EscrowTransaction struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"`
	OrderNo       string    `gorm:"type:varchar(64);index;not null" json:"order_no"`
	Type          string    `gorm:"type:varchar(20);index;not null" json:"type"`
	Status        string    `gorm:"type:varchar(20);index;not null" json:"status"`
	TxHash        string    `gorm:"type:varchar(80)" json:"tx_hash"`
	EscrowAddress string    `gorm:"type:varchar(64)" json:"escrow_address"`
	BlockNumber   uint64    `gorm:"not null;default:0" json:"block_number"`
	GasUsed       uint64    `gorm:"not null;default:0" json:"gas_used"`
	Metadata      string    `gorm:"type:text" json:"metadata"` // JSON，争议原因等附加信息
	CreatedAt     time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (EscrowTransaction) TableName() string {
	return "escrow_transaction"
}
