package job

import (
	"context"
	"testing"

	"trustmarket/internal/model"
	"trustmarket/internal/service"

	"gorm.io/gorm"
)

// chainStub 只实现对账需要的链上查询
type chainStub struct {
	details map[string]*service.EscrowDetails
}

func (s *chainStub) CreateEscrow(ctx context.Context, orderNo, sellerAddr, tokenSymbol string, amount float64, metadataRef string, releaseAfterSeconds int64) (*service.SettlementResult, error) {
	return &service.SettlementResult{Success: false, ErrMessage: "not implemented"}, nil
}

func (s *chainStub) Release(ctx context.Context, escrowAddress string) (*service.SettlementResult, error) {
	return &service.SettlementResult{Success: false, ErrMessage: "not implemented"}, nil
}

func (s *chainStub) Dispute(ctx context.Context, escrowAddress, reason string) (*service.SettlementResult, error) {
	return &service.SettlementResult{Success: false, ErrMessage: "not implemented"}, nil
}

func (s *chainStub) GetDetails(ctx context.Context, escrowAddress string) (*service.EscrowDetails, error) {
	return s.details[escrowAddress], nil
}

func (s *chainStub) GetTokenBalance(ctx context.Context, address, tokenSymbol string) (float64, error) {
	return 0, nil
}

const testEscrowAddr = "0x00000000000000000000000000000000000000aa"

func seedReconcileOrder(t *testing.T, db *gorm.DB, status string, withPendingTx string) *model.EscrowOrder {
	t.Helper()
	order := &model.EscrowOrder{
		OrderNo:       "ORD-RECON-0001",
		BuyerID:       1,
		SellerID:      2,
		ProductID:     1,
		Amount:        100,
		TokenSymbol:   "USDC",
		Quantity:      1,
		Status:        status,
		EscrowAddress: testEscrowAddr,
		Reconcile:     true,
	}
	if err := db.Create(order).Error; err != nil {
		t.Fatalf("写入订单失败: %v", err)
	}
	if withPendingTx != "" {
		trans := &model.EscrowTransaction{
			TransactionNo: "TXN-RECON-0001",
			OrderNo:       order.OrderNo,
			Type:          withPendingTx,
			Status:        model.TxStatusPending,
			EscrowAddress: testEscrowAddr,
		}
		if err := db.Create(trans).Error; err != nil {
			t.Fatalf("写入流水失败: %v", err)
		}
	}
	return order
}

// 链上还停在托管建立态：本地意向没发出去，退回 PAID
func TestReconcileRollsBackUnsentIntent(t *testing.T) {
	db := newTestDB(t)
	backend := &chainStub{details: map[string]*service.EscrowDetails{
		testEscrowAddr: {Status: "created"},
	}}
	job := NewReconcileJob(db, backend, testConfig())
	order := seedReconcileOrder(t, db, model.OrderStatusReleasePending, model.TransactionTypeEscrowRelease)

	if processed := job.RunOnce(context.Background()); processed != 1 {
		t.Errorf("processed = %d, want 1", processed)
	}

	var saved model.EscrowOrder
	db.Where("order_no = ?", order.OrderNo).First(&saved)
	if saved.Status != model.OrderStatusPaid {
		t.Errorf("Status = %s, want PAID", saved.Status)
	}
	if saved.Reconcile {
		t.Error("对账标记未清除")
	}

	var trans model.EscrowTransaction
	db.Where("order_no = ?", order.OrderNo).First(&trans)
	if trans.Status != model.TxStatusCancelled {
		t.Errorf("流水状态 = %s, want CANCELLED", trans.Status)
	}
}

// 链上已放款但本地卡在 RELEASE_PENDING：推进到 COMPLETED 并确认流水
func TestReconcileAdvancesReleasedOrder(t *testing.T) {
	db := newTestDB(t)
	backend := &chainStub{details: map[string]*service.EscrowDetails{
		testEscrowAddr: {Status: "released"},
	}}
	job := NewReconcileJob(db, backend, testConfig())
	order := seedReconcileOrder(t, db, model.OrderStatusReleasePending, model.TransactionTypeEscrowRelease)

	job.RunOnce(context.Background())

	var saved model.EscrowOrder
	db.Where("order_no = ?", order.OrderNo).First(&saved)
	if saved.Status != model.OrderStatusCompleted {
		t.Errorf("Status = %s, want COMPLETED", saved.Status)
	}
	if saved.Reconcile {
		t.Error("对账标记未清除")
	}

	var trans model.EscrowTransaction
	db.Where("order_no = ?", order.OrderNo).First(&trans)
	if trans.Status != model.TxStatusConfirmed {
		t.Errorf("流水状态 = %s, want CONFIRMED", trans.Status)
	}
}

// 无托管地址的订单修不了，只发告警
func TestReconcileAlertsOnMissingEscrowAddress(t *testing.T) {
	db := newTestDB(t)
	job := NewReconcileJob(db, &chainStub{}, testConfig())

	order := &model.EscrowOrder{
		OrderNo:     "ORD-RECON-0002",
		BuyerID:     1,
		SellerID:    2,
		ProductID:   1,
		Amount:      100,
		TokenSymbol: "USDC",
		Quantity:    1,
		Status:      model.OrderStatusPending,
		Reconcile:   true,
	}
	if err := db.Create(order).Error; err != nil {
		t.Fatalf("写入订单失败: %v", err)
	}

	job.RunOnce(context.Background())

	var alerts int64
	db.Model(&model.OutboxMessage{}).Where("topic = ?", "trust.escrow.reconcile").Count(&alerts)
	if alerts != 1 {
		t.Errorf("告警消息数 = %d, want 1", alerts)
	}

	// 订单保持原状等待人工处理
	var saved model.EscrowOrder
	db.Where("order_no = ?", order.OrderNo).First(&saved)
	if saved.Status != model.OrderStatusPending {
		t.Errorf("Status = %s, want PENDING", saved.Status)
	}
}
