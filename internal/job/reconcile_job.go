package job

import (
	"context"
	"encoding/json"
	"log"
	"sync/atomic"
	"time"

	"trustmarket/internal/config"
	"trustmarket/internal/model"
	"trustmarket/internal/repository"
	"trustmarket/internal/service"

	"gorm.io/gorm"
)

// ReconcileJob 托管订单对账任务
//
// 两类输入：
//  1. 在中间状态（PENDING/RELEASE_PENDING/DISPUTE_PENDING）停留过久的订单，
//     多半是进程在两阶段提交中间挂掉留下的
//  2. 被显式置了对账标记的订单（链上成功但本地确认失败）
//
// 以链上状态为准修复本地状态：链上没动过的退回原状态，
// 链上已经动了的把本地推进到对应终态。修不了的发告警消息。
type ReconcileJob struct {
	db         *gorm.DB
	orderRepo  *repository.OrderRepository
	txRepo     *repository.TransactionRepository
	outboxRepo *repository.OutboxRepository
	backend    service.SettlementBackend

	stuckAfter time.Duration
	alertTopic string
	batchSize  int

	inProgress int32
	stopCh     chan struct{}
}

func NewReconcileJob(db *gorm.DB, backend service.SettlementBackend, cfg *config.Config) *ReconcileJob {
	stuckMinutes := cfg.Business.StuckOrderMinutes
	if stuckMinutes <= 0 {
		stuckMinutes = 10
	}
	return &ReconcileJob{
		db:         db,
		orderRepo:  repository.NewOrderRepository(db),
		txRepo:     repository.NewTransactionRepository(db),
		outboxRepo: repository.NewOutboxRepository(db),
		backend:    backend,
		stuckAfter: time.Duration(stuckMinutes) * time.Minute,
		alertTopic: cfg.Kafka.Topic.ReconcileAlert,
		batchSize:  100,
		stopCh:     make(chan struct{}),
	}
}

func (j *ReconcileJob) Start() {
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()

		log.Println("对账任务启动")
		for {
			select {
			case <-j.stopCh:
				log.Println("对账任务停止")
				return
			case <-ticker.C:
				j.RunOnce(context.Background())
			}
		}
	}()
}

func (j *ReconcileJob) Stop() {
	close(j.stopCh)
}

// RunOnce 执行一轮对账，返回处理的订单数
func (j *ReconcileJob) RunOnce(ctx context.Context) int {
	if !atomic.CompareAndSwapInt32(&j.inProgress, 0, 1) {
		log.Println("上一轮对账尚未结束，跳过本轮")
		return 0
	}
	defer atomic.StoreInt32(&j.inProgress, 0)

	seen := make(map[string]bool)
	processed := 0

	stuckStatuses := []string{
		model.OrderStatusPending,
		model.OrderStatusReleasePending,
		model.OrderStatusDisputePending,
	}
	stuck, err := j.orderRepo.ListStuck(ctx, stuckStatuses, time.Now().Add(-j.stuckAfter), j.batchSize)
	if err != nil {
		log.Printf("查询卡住订单失败: %v", err)
	} else {
		for _, order := range stuck {
			seen[order.OrderNo] = true
			j.repair(ctx, order)
			processed++
		}
	}

	flagged, err := j.orderRepo.ListReconcile(ctx, j.batchSize)
	if err != nil {
		log.Printf("查询对账标记订单失败: %v", err)
	} else {
		for _, order := range flagged {
			if seen[order.OrderNo] {
				continue
			}
			j.repair(ctx, order)
			processed++
		}
	}

	if processed > 0 {
		log.Printf("对账完成: 处理订单数=%d", processed)
	}
	return processed
}

// repair 以链上状态为准修复单个订单
func (j *ReconcileJob) repair(ctx context.Context, order *model.EscrowOrder) {
	if order.EscrowAddress == "" {
		// 没有托管地址说明链上调用从未成功，卡在 PENDING 的订单
		// 不能贸然删除：建托管可能已提交但结果没落库，只能告警人工核对
		j.alert(ctx, order, "订单无托管地址且长期停留在 "+order.Status)
		return
	}

	details, err := j.backend.GetDetails(ctx, order.EscrowAddress)
	if err != nil {
		log.Printf("查询链上托管状态失败: orderNo=%s, err=%v", order.OrderNo, err)
		j.alert(ctx, order, "链上状态查询失败: "+err.Error())
		return
	}

	switch details.Status {
	case "created":
		// 链上还停在托管建立态，中间状态是本地意向没撤干净
		j.rollbackIntent(ctx, order)
	case "released":
		j.advance(ctx, order, model.OrderStatusReleasePending, model.OrderStatusCompleted, model.TransactionTypeEscrowRelease)
	case "disputed":
		j.advance(ctx, order, model.OrderStatusDisputePending, model.OrderStatusDisputed, model.TransactionTypeEscrowDispute)
	case "refunded":
		if order.Status == model.OrderStatusDisputed {
			j.advance(ctx, order, model.OrderStatusDisputed, model.OrderStatusRefunded, model.TransactionTypeEscrowRefund)
		} else {
			j.alert(ctx, order, "链上已退款但本地状态为 "+order.Status)
		}
	default:
		j.alert(ctx, order, "无法识别的链上状态: "+details.Status)
	}
}

// rollbackIntent 链上没有发生结算，把本地的中间状态退回
func (j *ReconcileJob) rollbackIntent(ctx context.Context, order *model.EscrowOrder) {
	switch order.Status {
	case model.OrderStatusPending:
		// 链上托管已建立但本地还在 PENDING：补 MarkPaid
		err := j.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := j.orderRepo.MarkPaid(ctx, tx, order.OrderNo, order.EscrowAddress); err != nil {
				return err
			}
			return j.orderRepo.ClearReconcile(ctx, tx, order.OrderNo)
		})
		if err != nil {
			j.alert(ctx, order, "补记 PAID 状态失败: "+err.Error())
		}
	case model.OrderStatusReleasePending, model.OrderStatusDisputePending:
		err := j.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := j.cancelPendingTx(ctx, tx, order.OrderNo); err != nil {
				return err
			}
			if err := j.orderRepo.UpdateStatus(ctx, tx, order.OrderNo, order.Status, model.OrderStatusPaid); err != nil {
				return err
			}
			return j.orderRepo.ClearReconcile(ctx, tx, order.OrderNo)
		})
		if err != nil {
			j.alert(ctx, order, "回退意向状态失败: "+err.Error())
		}
	default:
		if order.Reconcile {
			if err := j.orderRepo.ClearReconcile(ctx, nil, order.OrderNo); err != nil {
				log.Printf("清除对账标记失败: orderNo=%s, err=%v", order.OrderNo, err)
			}
		}
	}
}

// advance 链上已经结算，把本地推进到对应终态
func (j *ReconcileJob) advance(ctx context.Context, order *model.EscrowOrder, midStatus, finalStatus, txType string) {
	err := j.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if order.Status == midStatus {
			if err := j.orderRepo.UpdateStatus(ctx, tx, order.OrderNo, midStatus, finalStatus); err != nil {
				return err
			}
		} else if order.Status != finalStatus {
			return repository.ErrOrderStatusInvalid
		}
		if err := j.confirmPendingTx(ctx, tx, order.OrderNo, order.EscrowAddress, txType); err != nil {
			return err
		}
		return j.orderRepo.ClearReconcile(ctx, tx, order.OrderNo)
	})
	if err != nil {
		j.alert(ctx, order, "按链上状态推进本地状态失败: "+err.Error())
		return
	}
	log.Printf("对账修复成功: orderNo=%s, %s -> %s", order.OrderNo, order.Status, finalStatus)
}

// cancelPendingTx 作废订单上所有未发链的流水
func (j *ReconcileJob) cancelPendingTx(ctx context.Context, tx *gorm.DB, orderNo string) error {
	transactions, err := j.txRepo.ListByOrderNo(ctx, orderNo)
	if err != nil {
		return err
	}
	for _, t := range transactions {
		if t.Status != model.TxStatusPending {
			continue
		}
		if err := j.txRepo.UpdateStatus(ctx, tx, t.TransactionNo, model.TxStatusPending, model.TxStatusCancelled); err != nil {
			return err
		}
	}
	return nil
}

// confirmPendingTx 链上已确认，把对应类型的在途流水补到 CONFIRMED
func (j *ReconcileJob) confirmPendingTx(ctx context.Context, tx *gorm.DB, orderNo, escrowAddress, txType string) error {
	latest, err := j.txRepo.GetLatestByOrderNoAndType(ctx, orderNo, txType)
	if err != nil {
		return err
	}
	if latest == nil || model.IsTerminalTxStatus(latest.Status) {
		return nil
	}
	if latest.Status == model.TxStatusPending {
		// 对账路径拿不到交易哈希，补记空哈希，审计时以链上记录为准
		if err := j.txRepo.MarkSubmitted(ctx, tx, latest.TransactionNo, latest.TxHash, escrowAddress, latest.BlockNumber, latest.GasUsed); err != nil {
			return err
		}
	}
	return j.txRepo.UpdateStatus(ctx, tx, latest.TransactionNo, model.TxStatusSubmitted, model.TxStatusConfirmed)
}

// alert 修复不了的不一致发告警消息，走发件箱投递
func (j *ReconcileJob) alert(ctx context.Context, order *model.EscrowOrder, reason string) {
	payload, err := json.Marshal(map[string]interface{}{
		"order_no":       order.OrderNo,
		"status":         order.Status,
		"escrow_address": order.EscrowAddress,
		"reason":         reason,
		"detected_at":    time.Now(),
	})
	if err != nil {
		return
	}
	msg := &model.OutboxMessage{
		MessageKey: order.OrderNo,
		Topic:      j.alertTopic,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	}
	if err := j.outboxRepo.Create(ctx, nil, msg); err != nil {
		log.Printf("写入对账告警失败: orderNo=%s, err=%v", order.OrderNo, err)
	}
	log.Printf("【对账告警】orderNo=%s, reason=%s", order.OrderNo, reason)
}
