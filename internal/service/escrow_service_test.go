package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"trustmarket/internal/model"
	"trustmarket/internal/repository"

	"gorm.io/gorm"
)

// stubBackend 可编程的结算后端
type stubBackend struct {
	createResult  *SettlementResult
	releaseResult *SettlementResult
	disputeResult *SettlementResult
	details       *EscrowDetails

	// onCreate 在链上建托管调用内执行，用来模拟调用窗口期的并发干扰
	onCreate func()

	createCalls  int
	releaseCalls int
	disputeCalls int
}

func okResult() *SettlementResult {
	return &SettlementResult{
		Success:       true,
		EscrowAddress: "0x00000000000000000000000000000000000000aa",
		TxHash:        "0xabc",
		BlockNumber:   100,
		GasUsed:       21000,
	}
}

func failResult(msg string) *SettlementResult {
	return &SettlementResult{Success: false, ErrMessage: msg}
}

func (b *stubBackend) CreateEscrow(ctx context.Context, orderNo, sellerAddr, tokenSymbol string, amount float64, metadataRef string, releaseAfterSeconds int64) (*SettlementResult, error) {
	b.createCalls++
	if b.onCreate != nil {
		b.onCreate()
	}
	return b.createResult, nil
}

func (b *stubBackend) Release(ctx context.Context, escrowAddress string) (*SettlementResult, error) {
	b.releaseCalls++
	return b.releaseResult, nil
}

func (b *stubBackend) Dispute(ctx context.Context, escrowAddress, reason string) (*SettlementResult, error) {
	b.disputeCalls++
	return b.disputeResult, nil
}

func (b *stubBackend) GetDetails(ctx context.Context, escrowAddress string) (*EscrowDetails, error) {
	if b.details == nil {
		return nil, errors.New("no details")
	}
	return b.details, nil
}

func (b *stubBackend) GetTokenBalance(ctx context.Context, address, tokenSymbol string) (float64, error) {
	return 0, nil
}

type stubContentStore struct {
	ref string
	err error
}

func (s *stubContentStore) Put(ctx context.Context, obj interface{}) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.ref, nil
}

type escrowFixture struct {
	svc     *EscrowService
	db      *gorm.DB
	backend *stubBackend
	buyer   *model.User
	seller  *model.User
	product *model.Product
}

func newEscrowFixture(t *testing.T, backend *stubBackend) *escrowFixture {
	t.Helper()
	db := newTestDB(t)
	svc := NewEscrowService(db, newTestRedis(t), backend, &stubContentStore{ref: "ipfs://QmTest"}, testConfig())

	buyer := seedUser(t, db, &model.User{Username: "buyer", Status: model.UserStatusActive, WalletAddress: "0x00000000000000000000000000000000000000b1"})
	seller := seedUser(t, db, &model.User{Username: "seller", Status: model.UserStatusActive, WalletAddress: "0x00000000000000000000000000000000000000b2"})

	product := &model.Product{
		SellerID: seller.ID,
		Name:     "vintage camera",
		Price:    100,
		Quantity: 5,
		Status:   model.ProductStatusActive,
	}
	if err := db.Create(product).Error; err != nil {
		t.Fatalf("写入商品失败: %v", err)
	}

	return &escrowFixture{svc: svc, db: db, backend: backend, buyer: buyer, seller: seller, product: product}
}

func (f *escrowFixture) productQuantity(t *testing.T) int64 {
	t.Helper()
	var p model.Product
	if err := f.db.First(&p, f.product.ID).Error; err != nil {
		t.Fatalf("读商品失败: %v", err)
	}
	return p.Quantity
}

func TestCreateEscrowSuccess(t *testing.T) {
	f := newEscrowFixture(t, &stubBackend{createResult: okResult()})

	order, err := f.svc.CreateEscrow(context.Background(), &CreateEscrowRequest{
		BuyerID:     f.buyer.ID,
		ProductID:   f.product.ID,
		Quantity:    2,
		TokenSymbol: "USDC",
	})
	if err != nil {
		t.Fatalf("CreateEscrow: %v", err)
	}

	if order.Status != model.OrderStatusPaid {
		t.Errorf("Status = %s, want PAID", order.Status)
	}
	if order.Amount != 200 {
		t.Errorf("Amount = %v, want 200", order.Amount)
	}
	if order.EscrowAddress == "" {
		t.Error("托管地址未回填")
	}
	if order.MetadataRef != "ipfs://QmTest" {
		t.Errorf("MetadataRef = %s", order.MetadataRef)
	}
	if qty := f.productQuantity(t); qty != 3 {
		t.Errorf("库存 = %d, want 3", qty)
	}

	// 流水已确认
	var trans model.EscrowTransaction
	if err := f.db.Where("order_no = ?", order.OrderNo).First(&trans).Error; err != nil {
		t.Fatalf("读流水失败: %v", err)
	}
	if trans.Status != model.TxStatusConfirmed {
		t.Errorf("流水状态 = %s, want CONFIRMED", trans.Status)
	}
	if trans.TxHash != "0xabc" {
		t.Errorf("TxHash = %s", trans.TxHash)
	}

	// 托管事件入发件箱
	var outboxCount int64
	f.db.Model(&model.OutboxMessage{}).Where("topic = ?", "trust.escrow.events").Count(&outboxCount)
	if outboxCount != 1 {
		t.Errorf("发件箱消息数 = %d, want 1", outboxCount)
	}
}

// 链上失败后本地不留任何痕迹：订单、流水删除，库存恢复
func TestCreateEscrowSettlementFailureRollsBack(t *testing.T) {
	f := newEscrowFixture(t, &stubBackend{createResult: failResult("insufficient funds")})

	_, err := f.svc.CreateEscrow(context.Background(), &CreateEscrowRequest{
		BuyerID:     f.buyer.ID,
		ProductID:   f.product.ID,
		Quantity:    2,
		TokenSymbol: "USDC",
	})
	if !errors.Is(err, ErrSettlementFailed) {
		t.Fatalf("err = %v, want ErrSettlementFailed", err)
	}

	var orderCount, txCount int64
	f.db.Model(&model.EscrowOrder{}).Count(&orderCount)
	f.db.Model(&model.EscrowTransaction{}).Count(&txCount)
	if orderCount != 0 || txCount != 0 {
		t.Errorf("回滚不彻底: orders=%d, transactions=%d", orderCount, txCount)
	}
	if qty := f.productQuantity(t); qty != 5 {
		t.Errorf("库存未恢复: %d, want 5", qty)
	}
}

func TestCreateEscrowNoOversell(t *testing.T) {
	f := newEscrowFixture(t, &stubBackend{createResult: okResult()})
	f.db.Model(&model.Product{}).Where("id = ?", f.product.ID).Update("quantity", 1)

	req := &CreateEscrowRequest{BuyerID: f.buyer.ID, ProductID: f.product.ID, Quantity: 1, TokenSymbol: "USDC"}

	if _, err := f.svc.CreateEscrow(context.Background(), req); err != nil {
		t.Fatalf("第一单应成功: %v", err)
	}

	_, err := f.svc.CreateEscrow(context.Background(), req)
	if err == nil {
		t.Fatal("库存为 0 的第二单必须失败")
	}
	// 最后一件售出后商品转 SOLD_OUT，晚到的请求先被在售校验拦下；
	// 并发穿过校验的则由原子扣减兜底返回库存不足
	if !errors.Is(err, repository.ErrStockNotEnough) && !errors.Is(err, ErrInvalidState) {
		t.Fatalf("err = %v, want 库存不足或状态不允许", err)
	}
	if qty := f.productQuantity(t); qty != 0 {
		t.Errorf("库存 = %d, want 0", qty)
	}
	if f.backend.createCalls != 1 {
		t.Errorf("失败的下单不应打链上调用: calls=%d", f.backend.createCalls)
	}
}

// 链上托管已建立但本地确认没跟上：资金已动，
// 必须置对账标记、返回订单并上抛对账错误，绝不能当普通失败
func TestCreateEscrowOutcomeCommitFailure(t *testing.T) {
	backend := &stubBackend{createResult: okResult()}
	f := newEscrowFixture(t, backend)

	// 链上调用窗口期订单被挪出 PENDING，结果事务里 MarkPaid 的 CAS 必然失败
	backend.onCreate = func() {
		f.db.Model(&model.EscrowOrder{}).
			Where("status = ?", model.OrderStatusPending).
			Update("status", model.OrderStatusCancelled)
	}

	order, err := f.svc.CreateEscrow(context.Background(), &CreateEscrowRequest{
		BuyerID:     f.buyer.ID,
		ProductID:   f.product.ID,
		Quantity:    1,
		TokenSymbol: "USDC",
	})
	if !errors.Is(err, ErrReconciliationRequired) {
		t.Fatalf("err = %v, want ErrReconciliationRequired", err)
	}
	if order == nil {
		t.Fatal("订单未随对账错误一起返回")
	}
	if order.EscrowAddress == "" {
		t.Error("托管地址未回填")
	}

	var saved model.EscrowOrder
	if err := f.db.Where("order_no = ?", order.OrderNo).First(&saved).Error; err != nil {
		t.Fatalf("读订单失败: %v", err)
	}
	if !saved.Reconcile {
		t.Error("对账标记未设置")
	}
}

// 并发扣减最后一件库存，只能有一个成功
func TestDecrementQuantityConcurrent(t *testing.T) {
	db := newTestDB(t)
	repo := repository.NewProductRepository(db)

	product := &model.Product{
		SellerID: 1,
		Name:     "last one",
		Price:    100,
		Quantity: 1,
		Status:   model.ProductStatusActive,
	}
	if err := db.Create(product).Error; err != nil {
		t.Fatalf("写入商品失败: %v", err)
	}

	const attempts = 8
	var wg sync.WaitGroup
	var succeeded int32
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := repo.DecrementQuantity(context.Background(), nil, product.ID, 1); err == nil {
				atomic.AddInt32(&succeeded, 1)
			}
		}()
	}
	wg.Wait()

	if succeeded != 1 {
		t.Errorf("成功扣减次数 = %d, want 1", succeeded)
	}

	var saved model.Product
	if err := db.First(&saved, product.ID).Error; err != nil {
		t.Fatalf("读商品失败: %v", err)
	}
	if saved.Quantity != 0 {
		t.Errorf("库存 = %d, want 0", saved.Quantity)
	}
	if saved.Status != model.ProductStatusSoldOut {
		t.Errorf("状态 = %s, want SOLD_OUT", saved.Status)
	}
}

func TestCreateEscrowBuyOwnProduct(t *testing.T) {
	f := newEscrowFixture(t, &stubBackend{createResult: okResult()})

	_, err := f.svc.CreateEscrow(context.Background(), &CreateEscrowRequest{
		BuyerID:     f.seller.ID,
		ProductID:   f.product.ID,
		Quantity:    1,
		TokenSymbol: "USDC",
	})
	if !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("err = %v, want ErrValidationFailed", err)
	}
}

// paidOrder 直接造一笔 PAID 订单
func (f *escrowFixture) paidOrder(t *testing.T) *model.EscrowOrder {
	t.Helper()
	order := &model.EscrowOrder{
		OrderNo:       "ORD-TEST-00000001",
		BuyerID:       f.buyer.ID,
		SellerID:      f.seller.ID,
		ProductID:     f.product.ID,
		Amount:        100,
		TokenSymbol:   "USDC",
		Quantity:      1,
		Status:        model.OrderStatusPaid,
		EscrowAddress: "0x00000000000000000000000000000000000000aa",
	}
	if err := f.db.Create(order).Error; err != nil {
		t.Fatalf("写入订单失败: %v", err)
	}
	return order
}

func (f *escrowFixture) orderStatus(t *testing.T, orderNo string) string {
	t.Helper()
	var order model.EscrowOrder
	if err := f.db.Where("order_no = ?", orderNo).First(&order).Error; err != nil {
		t.Fatalf("读订单失败: %v", err)
	}
	return order.Status
}

func TestReleaseEscrowSuccess(t *testing.T) {
	f := newEscrowFixture(t, &stubBackend{releaseResult: okResult()})
	order := f.paidOrder(t)

	released, err := f.svc.ReleaseEscrow(context.Background(), order.OrderNo, f.buyer.ID)
	if err != nil {
		t.Fatalf("ReleaseEscrow: %v", err)
	}
	if released.Status != model.OrderStatusCompleted {
		t.Errorf("Status = %s, want COMPLETED", released.Status)
	}

	var trans model.EscrowTransaction
	if err := f.db.Where("order_no = ? AND type = ?", order.OrderNo, model.TransactionTypeEscrowRelease).First(&trans).Error; err != nil {
		t.Fatalf("读放款流水失败: %v", err)
	}
	if trans.Status != model.TxStatusConfirmed {
		t.Errorf("流水状态 = %s, want CONFIRMED", trans.Status)
	}
}

// 放款是买家专属操作
func TestReleaseEscrowNonBuyerRejected(t *testing.T) {
	f := newEscrowFixture(t, &stubBackend{releaseResult: okResult()})
	order := f.paidOrder(t)

	_, err := f.svc.ReleaseEscrow(context.Background(), order.OrderNo, f.seller.ID)
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}
	if f.backend.releaseCalls != 0 {
		t.Error("越权请求不应打链上调用")
	}
	if got := f.orderStatus(t, order.OrderNo); got != model.OrderStatusPaid {
		t.Errorf("订单状态被污染: %s", got)
	}
}

func TestReleaseEscrowFailureRollsBack(t *testing.T) {
	f := newEscrowFixture(t, &stubBackend{releaseResult: failResult("execution reverted")})
	order := f.paidOrder(t)

	_, err := f.svc.ReleaseEscrow(context.Background(), order.OrderNo, f.buyer.ID)
	if !errors.Is(err, ErrSettlementFailed) {
		t.Fatalf("err = %v, want ErrSettlementFailed", err)
	}

	// 订单退回原状态，放款流水标记失败
	if got := f.orderStatus(t, order.OrderNo); got != model.OrderStatusPaid {
		t.Errorf("订单状态 = %s, want PAID", got)
	}
	var trans model.EscrowTransaction
	if err := f.db.Where("order_no = ? AND type = ?", order.OrderNo, model.TransactionTypeEscrowRelease).First(&trans).Error; err != nil {
		t.Fatalf("读放款流水失败: %v", err)
	}
	if trans.Status != model.TxStatusFailed {
		t.Errorf("流水状态 = %s, want FAILED", trans.Status)
	}
}

func TestRaiseDisputeBySeller(t *testing.T) {
	f := newEscrowFixture(t, &stubBackend{disputeResult: okResult()})
	order := f.paidOrder(t)

	disputed, err := f.svc.RaiseDispute(context.Background(), order.OrderNo, f.seller.ID, "买家拒绝沟通")
	if err != nil {
		t.Fatalf("RaiseDispute: %v", err)
	}
	if disputed.Status != model.OrderStatusDisputed {
		t.Errorf("Status = %s, want DISPUTED", disputed.Status)
	}
}

func TestRaiseDisputeByOutsiderRejected(t *testing.T) {
	f := newEscrowFixture(t, &stubBackend{disputeResult: okResult()})
	order := f.paidOrder(t)
	outsider := seedUser(t, f.db, &model.User{Username: "mallory", Status: model.UserStatusActive})

	_, err := f.svc.RaiseDispute(context.Background(), order.OrderNo, outsider.ID, "无关人员")
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}
}

func TestRaiseDisputeOnCompletedRejected(t *testing.T) {
	f := newEscrowFixture(t, &stubBackend{disputeResult: okResult()})
	order := f.paidOrder(t)
	f.db.Model(&model.EscrowOrder{}).Where("order_no = ?", order.OrderNo).Update("status", model.OrderStatusCompleted)

	_, err := f.svc.RaiseDispute(context.Background(), order.OrderNo, f.buyer.ID, "太晚了")
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("err = %v, want ErrInvalidState", err)
	}
}

func TestGetEscrowDetails(t *testing.T) {
	backend := &stubBackend{details: &EscrowDetails{Status: "created", Balance: 100, Amount: 100}}
	f := newEscrowFixture(t, backend)
	order := f.paidOrder(t)

	details, err := f.svc.GetEscrowDetails(context.Background(), order.OrderNo)
	if err != nil {
		t.Fatalf("GetEscrowDetails: %v", err)
	}
	if details.Status != "created" {
		t.Errorf("Status = %s, want created", details.Status)
	}
}

func TestGetOrderWithTransactions(t *testing.T) {
	f := newEscrowFixture(t, &stubBackend{createResult: okResult()})

	order, err := f.svc.CreateEscrow(context.Background(), &CreateEscrowRequest{
		BuyerID:     f.buyer.ID,
		ProductID:   f.product.ID,
		Quantity:    1,
		TokenSymbol: "USDC",
	})
	if err != nil {
		t.Fatalf("CreateEscrow: %v", err)
	}

	detail, err := f.svc.GetOrder(context.Background(), order.OrderNo)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if len(detail.Transactions) != 1 {
		t.Errorf("流水条数 = %d, want 1", len(detail.Transactions))
	}
	if detail.Order.Status != model.OrderStatusPaid {
		t.Errorf("Status = %s, want PAID", detail.Order.Status)
	}
}
