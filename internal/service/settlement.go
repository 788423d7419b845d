package service

import (
	"context"
)

// SettlementResult 一次链上结算调用的结果
type SettlementResult struct {
	Success       bool
	EscrowAddress string
	TxHash        string
	BlockNumber   uint64
	GasUsed       uint64
	ErrMessage    string
}

// EscrowDetails 链上托管合约的当前状态
type EscrowDetails struct {
	Status  string // created / released / disputed / refunded
	Balance float64
	Buyer   string
	Seller  string
	Token   string
	Amount  float64
}

// SettlementBackend 链上结算后端
//
// 【重要】这是一个非事务性的外部系统：调用慢（秒级）、可能超时、
// 可能和本地库各自成功一半。所有调用方必须遵守两阶段本地提交：
// 先提交本地意向，再发起外部调用，最后提交本地结果，
// 绝不能把本地事务跨在外部调用上。
type SettlementBackend interface {
	CreateEscrow(ctx context.Context, orderNo, sellerAddr, tokenSymbol string, amount float64, metadataRef string, releaseAfterSeconds int64) (*SettlementResult, error)
	Release(ctx context.Context, escrowAddress string) (*SettlementResult, error)
	Dispute(ctx context.Context, escrowAddress, reason string) (*SettlementResult, error)
	GetDetails(ctx context.Context, escrowAddress string) (*EscrowDetails, error)
	GetTokenBalance(ctx context.Context, address, tokenSymbol string) (float64, error)
}

// ContentStore 不可变内容存储（IPFS）
// 交易元数据在本地落库之前先写入内容存储，拿到引用后随订单一起提交
type ContentStore interface {
	Put(ctx context.Context, obj interface{}) (string, error)
}
