package repository

import (
	"context"
	"errors"
	"time"

	"trustmarket/internal/model"

	"gorm.io/gorm"
)

var (
	ErrOrderNotFound      = errors.New("订单不存在")
	ErrOrderStatusInvalid = errors.New("订单状态不合法")
)

type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Create(ctx context.Context, tx *gorm.DB, order *model.EscrowOrder) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(order).Error
}

func (r *OrderRepository) GetByOrderNo(ctx context.Context, orderNo string) (*model.EscrowOrder, error) {
	var order model.EscrowOrder
	err := r.db.WithContext(ctx).Where("order_no = ?", orderNo).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (r *OrderRepository) GetByEscrowAddress(ctx context.Context, escrowAddress string) (*model.EscrowOrder, error) {
	var order model.EscrowOrder
	err := r.db.WithContext(ctx).Where("escrow_address = ?", escrowAddress).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

// UpdateStatus 状态转移
//
// 【关键点】WHERE 带上 fromStatus 做 CAS，同一订单上的并发操作
// （比如同时放款和争议）只有一个能转移成功，另一个拿到 RowsAffected=0
func (r *OrderRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, orderNo string, fromStatus, toStatus string) error {
	if !model.CanTransitionTo(fromStatus, toStatus) {
		return ErrOrderStatusInvalid
	}

	if tx == nil {
		tx = r.db
	}

	updates := map[string]interface{}{
		"status": toStatus,
	}

	now := time.Now()
	switch toStatus {
	case model.OrderStatusPaid:
		updates["paid_at"] = &now
	case model.OrderStatusCompleted:
		updates["completed_at"] = &now
	case model.OrderStatusCancelled:
		updates["cancelled_at"] = &now
	}

	result := tx.WithContext(ctx).
		Model(&model.EscrowOrder{}).
		Where("order_no = ? AND status = ?", orderNo, fromStatus).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrOrderStatusInvalid
	}

	return nil
}

// MarkPaid PENDING -> PAID，同时补记托管地址
func (r *OrderRepository) MarkPaid(ctx context.Context, tx *gorm.DB, orderNo string, escrowAddress string) error {
	if tx == nil {
		tx = r.db
	}

	now := time.Now()
	result := tx.WithContext(ctx).
		Model(&model.EscrowOrder{}).
		Where("order_no = ? AND status = ?", orderNo, model.OrderStatusPending).
		Updates(map[string]interface{}{
			"status":         model.OrderStatusPaid,
			"escrow_address": escrowAddress,
			"paid_at":        &now,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrOrderStatusInvalid
	}
	return nil
}

// DeleteByOrderNo 只用于回滚从未到达 PAID 的订单
func (r *OrderRepository) DeleteByOrderNo(ctx context.Context, tx *gorm.DB, orderNo string) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).
		Where("order_no = ? AND status = ?", orderNo, model.OrderStatusPending).
		Delete(&model.EscrowOrder{}).Error
}

// SetReconcile 标记订单需要人工/后台对账（尽力而为，不走 CAS）
func (r *OrderRepository) SetReconcile(ctx context.Context, orderNo string) error {
	return r.db.WithContext(ctx).
		Model(&model.EscrowOrder{}).
		Where("order_no = ?", orderNo).
		UpdateColumn("reconcile", true).Error
}

func (r *OrderRepository) ClearReconcile(ctx context.Context, tx *gorm.DB, orderNo string) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).
		Model(&model.EscrowOrder{}).
		Where("order_no = ?", orderNo).
		UpdateColumn("reconcile", false).Error
}

// ListStuck 查询在中间状态停留过久的订单，对账任务的输入
func (r *OrderRepository) ListStuck(ctx context.Context, statuses []string, before time.Time, limit int) ([]*model.EscrowOrder, error) {
	var orders []*model.EscrowOrder
	err := r.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", statuses, before).
		Limit(limit).
		Find(&orders).Error
	return orders, err
}

func (r *OrderRepository) ListReconcile(ctx context.Context, limit int) ([]*model.EscrowOrder, error) {
	var orders []*model.EscrowOrder
	err := r.db.WithContext(ctx).
		Where("reconcile = ?", true).
		Limit(limit).
		Find(&orders).Error
	return orders, err
}

func (r *OrderRepository) ListByBuyer(ctx context.Context, buyerID int64, page, pageSize int) ([]*model.EscrowOrder, int64, error) {
	var orders []*model.EscrowOrder
	var total int64

	query := r.db.WithContext(ctx).Model(&model.EscrowOrder{}).Where("buyer_id = ?", buyerID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&orders).Error

	return orders, total, err
}

// ListRecentByUser 用户近期订单（行为分析器用）
func (r *OrderRepository) ListRecentByUser(ctx context.Context, userID int64, since time.Time) ([]model.EscrowOrder, error) {
	var orders []model.EscrowOrder
	err := r.db.WithContext(ctx).
		Where("(buyer_id = ? OR seller_id = ?) AND created_at >= ?", userID, userID, since).
		Limit(500).
		Find(&orders).Error
	return orders, err
}

// OrderStats 卖家维度的订单统计（交易历史分析器用）
func (r *OrderRepository) OrderStats(ctx context.Context, sellerID int64) (model.OrderStats, error) {
	var stats model.OrderStats

	type row struct {
		Status string
		Cnt    int64
	}
	var rows []row
	err := r.db.WithContext(ctx).
		Model(&model.EscrowOrder{}).
		Select("status, count(*) as cnt").
		Where("seller_id = ?", sellerID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return stats, err
	}

	for _, row := range rows {
		stats.Total += row.Cnt
		switch row.Status {
		case model.OrderStatusCompleted:
			stats.Completed += row.Cnt
		case model.OrderStatusDisputed, model.OrderStatusDisputePending:
			stats.Disputed += row.Cnt
		case model.OrderStatusRefunded:
			stats.Refunded += row.Cnt
		}
	}
	return stats, nil
}
