package repository

import (
	"context"
	"errors"

	"trustmarket/internal/model"

	"gorm.io/gorm"
)

var (
	ErrTransactionNotFound      = errors.New("结算流水不存在")
	ErrTransactionStatusInvalid = errors.New("结算流水状态不合法")
)

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Create(ctx context.Context, tx *gorm.DB, trans *model.EscrowTransaction) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(trans).Error
}

func (r *TransactionRepository) GetByTransactionNo(ctx context.Context, transactionNo string) (*model.EscrowTransaction, error) {
	var trans model.EscrowTransaction
	err := r.db.WithContext(ctx).Where("transaction_no = ?", transactionNo).First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &trans, nil
}

// GetLatestByOrderNoAndType 同订单同类型的最新一条流水
func (r *TransactionRepository) GetLatestByOrderNoAndType(ctx context.Context, orderNo, txType string) (*model.EscrowTransaction, error) {
	var trans model.EscrowTransaction
	err := r.db.WithContext(ctx).
		Where("order_no = ? AND type = ?", orderNo, txType).
		Order("created_at DESC").
		First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &trans, nil
}

// HasNonTerminalOfType 同一订单同一类型是否已有在途流水
// 不变量：同订单同类型的流水同时最多一条处于非终态
func (r *TransactionRepository) HasNonTerminalOfType(ctx context.Context, orderNo, txType string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.EscrowTransaction{}).
		Where("order_no = ? AND type = ? AND status IN ?", orderNo, txType,
			[]string{model.TxStatusPending, model.TxStatusSubmitted}).
		Count(&count).Error
	return count > 0, err
}

func (r *TransactionRepository) ListByOrderNo(ctx context.Context, orderNo string) ([]model.EscrowTransaction, error) {
	var transactions []model.EscrowTransaction
	err := r.db.WithContext(ctx).
		Where("order_no = ?", orderNo).
		Order("created_at ASC").
		Find(&transactions).Error
	return transactions, err
}

// MarkSubmitted PENDING -> SUBMITTED，补记链上元数据
// 这是流水表唯一允许的"修改"：记录提交/确认结果
func (r *TransactionRepository) MarkSubmitted(ctx context.Context, tx *gorm.DB, transactionNo, txHash, escrowAddress string, blockNumber, gasUsed uint64) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.EscrowTransaction{}).
		Where("transaction_no = ? AND status = ?", transactionNo, model.TxStatusPending).
		Updates(map[string]interface{}{
			"status":         model.TxStatusSubmitted,
			"tx_hash":        txHash,
			"escrow_address": escrowAddress,
			"block_number":   blockNumber,
			"gas_used":       gasUsed,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrTransactionStatusInvalid
	}
	return nil
}

// UpdateStatus 流水状态 CAS 转移
func (r *TransactionRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, transactionNo, fromStatus, toStatus string) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.EscrowTransaction{}).
		Where("transaction_no = ? AND status = ?", transactionNo, fromStatus).
		UpdateColumn("status", toStatus)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrTransactionStatusInvalid
	}
	return nil
}

// DeleteByOrderNo 只用于回滚从未提交链上的订单流水
func (r *TransactionRepository) DeleteByOrderNo(ctx context.Context, tx *gorm.DB, orderNo string) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).
		Where("order_no = ? AND status = ?", orderNo, model.TxStatusPending).
		Delete(&model.EscrowTransaction{}).Error
}
