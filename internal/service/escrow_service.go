package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"trustmarket/internal/config"
	"trustmarket/internal/infrastructure/lock"
	"trustmarket/internal/model"
	"trustmarket/internal/repository"
	"trustmarket/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CreateEscrowRequest 创建托管订单请求
type CreateEscrowRequest struct {
	BuyerID     int64  `json:"buyer_id" binding:"required"`
	ProductID   int64  `json:"product_id" binding:"required"`
	Quantity    int64  `json:"quantity" binding:"required"`
	TokenSymbol string `json:"token_symbol" binding:"required"`
}

// OrderDetail 订单及其全部结算流水
type OrderDetail struct {
	Order        *model.EscrowOrder        `json:"order"`
	Transactions []model.EscrowTransaction `json:"transactions"`
}

// escrowMetadata 随订单写入内容存储的交易元数据
type escrowMetadata struct {
	OrderNo     string    `json:"order_no"`
	BuyerID     int64     `json:"buyer_id"`
	SellerID    int64     `json:"seller_id"`
	ProductID   int64     `json:"product_id"`
	ProductName string    `json:"product_name"`
	Quantity    int64     `json:"quantity"`
	Amount      float64   `json:"amount"`
	TokenSymbol string    `json:"token_symbol"`
	CreatedAt   time.Time `json:"created_at"`
}

// EscrowService 托管订单服务
//
// 所有涉及链上的操作遵守同一个两阶段模式：
//
//	本地意向事务 -> 链上调用 -> 本地结果事务
//
// 链上调用失败时回滚意向（本地完整补偿，资金没动过）；
// 链上成功但结果事务失败时置对账标记并向上抛 ErrReconciliationRequired
// （资金已经动了，本地补偿无意义，只能对账修复）。
type EscrowService struct {
	db      *gorm.DB
	redis   *redis.Client
	backend SettlementBackend
	content ContentStore

	userRepo    *repository.UserRepository
	productRepo *repository.ProductRepository
	orderRepo   *repository.OrderRepository
	txRepo      *repository.TransactionRepository
	outboxRepo  *repository.OutboxRepository

	releaseAfterSeconds int64
	escrowTopic         string
}

func NewEscrowService(
	db *gorm.DB,
	redisClient *redis.Client,
	backend SettlementBackend,
	content ContentStore,
	cfg *config.Config,
) *EscrowService {
	return &EscrowService{
		db:                  db,
		redis:               redisClient,
		backend:             backend,
		content:             content,
		userRepo:            repository.NewUserRepository(db),
		productRepo:         repository.NewProductRepository(db),
		orderRepo:           repository.NewOrderRepository(db),
		txRepo:              repository.NewTransactionRepository(db),
		outboxRepo:          repository.NewOutboxRepository(db),
		releaseAfterSeconds: int64(cfg.Business.ReleaseAfterSeconds),
		escrowTopic:         cfg.Kafka.Topic.EscrowEvents,
	}
}

// CreateEscrow 创建托管订单
//
// 流程：
//  1. 校验买家/商品/卖家钱包
//  2. 元数据先写内容存储（此时本地零写入，失败直接中止）
//  3. 意向事务：订单 PENDING + 流水 PENDING + 原子扣库存
//  4. 链上建立托管
//  5. 失败 -> 回滚事务删订单删流水并恢复库存；
//     成功 -> 结果事务推进到 PAID/CONFIRMED 并发事件
func (s *EscrowService) CreateEscrow(ctx context.Context, req *CreateEscrowRequest) (*model.EscrowOrder, error) {
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("%w: 购买数量必须大于 0", ErrValidationFailed)
	}

	buyer, err := s.userRepo.GetByID(ctx, req.BuyerID)
	if err != nil {
		return nil, err
	}

	product, err := s.productRepo.GetByID(ctx, req.ProductID)
	if err != nil {
		return nil, err
	}
	if product.Status != model.ProductStatusActive {
		return nil, fmt.Errorf("%w: 商品不在售", ErrInvalidState)
	}
	if buyer.ID == product.SellerID {
		return nil, fmt.Errorf("%w: 不能购买自己的商品", ErrValidationFailed)
	}

	seller, err := s.userRepo.GetByID(ctx, product.SellerID)
	if err != nil {
		return nil, err
	}
	if seller.WalletAddress == "" {
		return nil, fmt.Errorf("%w: 卖家未绑定钱包地址", ErrValidationFailed)
	}

	// 商品锁压掉同一商品上的并发下单，库存扣减的原子 SQL 是正确性兜底
	productLock := lock.NewProductLock(s.redis, product.ID, uuid.NewString())
	if err := productLock.Lock(ctx, 100*time.Millisecond, 5); err != nil {
		return nil, fmt.Errorf("商品下单太频繁，请稍后重试: %w", err)
	}
	defer func() {
		if err := productLock.Unlock(context.Background()); err != nil {
			log.Printf("释放商品锁失败: productID=%d, err=%v", product.ID, err)
		}
	}()

	orderNo := idgen.GenerateOrderNo()
	amount := product.Price * float64(req.Quantity)

	// 元数据引用必须随订单一起提交，所以先上传再开意向事务
	metadataRef, err := s.content.Put(ctx, &escrowMetadata{
		OrderNo:     orderNo,
		BuyerID:     buyer.ID,
		SellerID:    seller.ID,
		ProductID:   product.ID,
		ProductName: product.Name,
		Quantity:    req.Quantity,
		Amount:      amount,
		TokenSymbol: req.TokenSymbol,
		CreatedAt:   time.Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("写入交易元数据失败: %w", err)
	}

	order := &model.EscrowOrder{
		OrderNo:     orderNo,
		BuyerID:     buyer.ID,
		SellerID:    seller.ID,
		ProductID:   product.ID,
		Amount:      amount,
		TokenSymbol: req.TokenSymbol,
		Quantity:    req.Quantity,
		Status:      model.OrderStatusPending,
		MetadataRef: metadataRef,
	}
	escrowTx := &model.EscrowTransaction{
		TransactionNo: idgen.GenerateTransactionNo(),
		OrderNo:       orderNo,
		Type:          model.TransactionTypeEscrowCreate,
		Status:        model.TxStatusPending,
	}

	// 意向事务：订单、流水、库存扣减要么全部生效要么全部不生效
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.orderRepo.Create(ctx, tx, order); err != nil {
			return err
		}
		if err := s.txRepo.Create(ctx, tx, escrowTx); err != nil {
			return err
		}
		return s.productRepo.DecrementQuantity(ctx, tx, product.ID, req.Quantity)
	})
	if err != nil {
		return nil, err
	}

	result, err := s.backend.CreateEscrow(ctx, orderNo, seller.WalletAddress, req.TokenSymbol, amount, metadataRef, s.releaseAfterSeconds)
	if err != nil || !result.Success {
		errMsg := "链上调用异常"
		if err != nil {
			errMsg = err.Error()
		} else if result.ErrMessage != "" {
			errMsg = result.ErrMessage
		}
		log.Printf("链上建立托管失败，回滚本地意向: orderNo=%s, err=%s", orderNo, errMsg)
		s.rollbackCreate(ctx, orderNo, product.ID, req.Quantity)
		return nil, fmt.Errorf("%w: %s", ErrSettlementFailed, errMsg)
	}

	// 结果事务：流水补记链上元数据并确认，订单推进到 PAID
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.txRepo.MarkSubmitted(ctx, tx, escrowTx.TransactionNo, result.TxHash, result.EscrowAddress, result.BlockNumber, result.GasUsed); err != nil {
			return err
		}
		if err := s.txRepo.UpdateStatus(ctx, tx, escrowTx.TransactionNo, model.TxStatusSubmitted, model.TxStatusConfirmed); err != nil {
			return err
		}
		if err := s.orderRepo.MarkPaid(ctx, tx, orderNo, result.EscrowAddress); err != nil {
			return err
		}
		return s.appendEscrowEvent(ctx, tx, orderNo, "escrow_created", result)
	})
	if err != nil {
		// 链上托管已建立，本地没跟上，不能回滚也不能吞掉
		log.Printf("【对账告警】链上托管已建立但本地确认失败: orderNo=%s, escrow=%s, err=%v", orderNo, result.EscrowAddress, err)
		if markErr := s.orderRepo.SetReconcile(ctx, orderNo); markErr != nil {
			log.Printf("置对账标记失败: orderNo=%s, err=%v", orderNo, markErr)
		}
		order.EscrowAddress = result.EscrowAddress
		return order, fmt.Errorf("%w: orderNo=%s", ErrReconciliationRequired, orderNo)
	}

	order.Status = model.OrderStatusPaid
	order.EscrowAddress = result.EscrowAddress
	return order, nil
}

// rollbackCreate 链上建托管失败后的本地补偿
// 删 PENDING 流水、删 PENDING 订单、恢复库存，单事务内完成
func (s *EscrowService) rollbackCreate(ctx context.Context, orderNo string, productID, quantity int64) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.txRepo.DeleteByOrderNo(ctx, tx, orderNo); err != nil {
			return err
		}
		if err := s.orderRepo.DeleteByOrderNo(ctx, tx, orderNo); err != nil {
			return err
		}
		return s.productRepo.RestoreQuantity(ctx, tx, productID, quantity)
	})
	if err != nil {
		// 回滚失败留给对账任务兜底：订单还在 PENDING，能被扫出来
		log.Printf("【对账告警】本地回滚失败: orderNo=%s, err=%v", orderNo, err)
		if markErr := s.orderRepo.SetReconcile(ctx, orderNo); markErr != nil {
			log.Printf("置对账标记失败: orderNo=%s, err=%v", orderNo, markErr)
		}
	}
}

// ReleaseEscrow 买家确认收货，放款给卖家
// 只有买家本人能放款
func (s *EscrowService) ReleaseEscrow(ctx context.Context, orderNo string, callerID int64) (*model.EscrowOrder, error) {
	return s.settle(ctx, orderNo, callerID, settleParams{
		txType:      model.TransactionTypeEscrowRelease,
		eventType:   "escrow_released",
		finalStatus: model.OrderStatusCompleted,
		midStatus:   model.OrderStatusReleasePending,
		authorize: func(order *model.EscrowOrder) error {
			if callerID != order.BuyerID {
				return fmt.Errorf("%w: 只有买家可以放款", ErrForbidden)
			}
			return nil
		},
		call: func(ctx context.Context, order *model.EscrowOrder) (*SettlementResult, error) {
			return s.backend.Release(ctx, order.EscrowAddress)
		},
	})
}

// RaiseDispute 发起争议，冻结托管资金等待仲裁
// 买卖双方都可以发起
func (s *EscrowService) RaiseDispute(ctx context.Context, orderNo string, callerID int64, reason string) (*model.EscrowOrder, error) {
	if reason == "" {
		return nil, fmt.Errorf("%w: 争议原因不能为空", ErrValidationFailed)
	}
	metadata, _ := json.Marshal(map[string]interface{}{
		"reason":    reason,
		"raised_by": callerID,
	})
	return s.settle(ctx, orderNo, callerID, settleParams{
		txType:      model.TransactionTypeEscrowDispute,
		eventType:   "escrow_disputed",
		finalStatus: model.OrderStatusDisputed,
		midStatus:   model.OrderStatusDisputePending,
		txMetadata:  string(metadata),
		authorize: func(order *model.EscrowOrder) error {
			if callerID != order.BuyerID && callerID != order.SellerID {
				return fmt.Errorf("%w: 只有订单参与方可以发起争议", ErrForbidden)
			}
			return nil
		},
		call: func(ctx context.Context, order *model.EscrowOrder) (*SettlementResult, error) {
			return s.backend.Dispute(ctx, order.EscrowAddress, reason)
		},
	})
}

// settleParams 放款/争议共用的结算参数
type settleParams struct {
	txType      string
	eventType   string
	midStatus   string // 意向状态，链上调用期间订单停在这里
	finalStatus string
	txMetadata  string
	authorize   func(order *model.EscrowOrder) error
	call        func(ctx context.Context, order *model.EscrowOrder) (*SettlementResult, error)
}

// settle 放款/争议的统一两阶段流程
func (s *EscrowService) settle(ctx context.Context, orderNo string, callerID int64, p settleParams) (*model.EscrowOrder, error) {
	orderLock := lock.NewOrderLock(s.redis, orderNo, uuid.NewString())
	if err := orderLock.Lock(ctx, 100*time.Millisecond, 5); err != nil {
		return nil, fmt.Errorf("订单操作冲突，请稍后重试: %w", err)
	}
	defer func() {
		if err := orderLock.Unlock(context.Background()); err != nil {
			log.Printf("释放订单锁失败: orderNo=%s, err=%v", orderNo, err)
		}
	}()

	order, err := s.orderRepo.GetByOrderNo(ctx, orderNo)
	if err != nil {
		return nil, err
	}
	if err := p.authorize(order); err != nil {
		return nil, err
	}
	if order.EscrowAddress == "" {
		return nil, fmt.Errorf("%w: 订单尚未建立链上托管", ErrInvalidState)
	}
	if !model.CanTransitionTo(order.Status, p.midStatus) {
		return nil, fmt.Errorf("%w: 订单当前状态 %s 不允许该操作", ErrInvalidState, order.Status)
	}

	// 同类型流水已有在途的，说明上一次操作还没到终态
	inflight, err := s.txRepo.HasNonTerminalOfType(ctx, orderNo, p.txType)
	if err != nil {
		return nil, err
	}
	if inflight {
		return nil, fmt.Errorf("%w: 同类操作正在处理中", ErrInvalidState)
	}

	prevStatus := order.Status
	escrowTx := &model.EscrowTransaction{
		TransactionNo: idgen.GenerateTransactionNo(),
		OrderNo:       orderNo,
		Type:          p.txType,
		Status:        model.TxStatusPending,
		EscrowAddress: order.EscrowAddress,
		Metadata:      p.txMetadata,
	}

	// 意向事务
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.orderRepo.UpdateStatus(ctx, tx, orderNo, prevStatus, p.midStatus); err != nil {
			return err
		}
		return s.txRepo.Create(ctx, tx, escrowTx)
	})
	if err != nil {
		return nil, err
	}

	result, err := p.call(ctx, order)
	if err != nil || !result.Success {
		errMsg := "链上调用异常"
		if err != nil {
			errMsg = err.Error()
		} else if result.ErrMessage != "" {
			errMsg = result.ErrMessage
		}
		log.Printf("链上结算失败，回滚本地意向: orderNo=%s, type=%s, err=%s", orderNo, p.txType, errMsg)
		s.rollbackSettle(ctx, orderNo, escrowTx.TransactionNo, p.midStatus, prevStatus)
		return nil, fmt.Errorf("%w: %s", ErrSettlementFailed, errMsg)
	}

	// 结果事务
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.txRepo.MarkSubmitted(ctx, tx, escrowTx.TransactionNo, result.TxHash, order.EscrowAddress, result.BlockNumber, result.GasUsed); err != nil {
			return err
		}
		if err := s.txRepo.UpdateStatus(ctx, tx, escrowTx.TransactionNo, model.TxStatusSubmitted, model.TxStatusConfirmed); err != nil {
			return err
		}
		if err := s.orderRepo.UpdateStatus(ctx, tx, orderNo, p.midStatus, p.finalStatus); err != nil {
			return err
		}
		return s.appendEscrowEvent(ctx, tx, orderNo, p.eventType, result)
	})
	if err != nil {
		log.Printf("【对账告警】链上已结算但本地确认失败: orderNo=%s, type=%s, err=%v", orderNo, p.txType, err)
		if markErr := s.orderRepo.SetReconcile(ctx, orderNo); markErr != nil {
			log.Printf("置对账标记失败: orderNo=%s, err=%v", orderNo, markErr)
		}
		return order, fmt.Errorf("%w: orderNo=%s", ErrReconciliationRequired, orderNo)
	}

	order.Status = p.finalStatus
	return order, nil
}

// rollbackSettle 链上结算失败后的本地补偿
// 流水标记失败（链上调用已发出过），订单从意向状态退回原状态
func (s *EscrowService) rollbackSettle(ctx context.Context, orderNo, transactionNo, midStatus, prevStatus string) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.txRepo.UpdateStatus(ctx, tx, transactionNo, model.TxStatusPending, model.TxStatusFailed); err != nil {
			return err
		}
		return s.orderRepo.UpdateStatus(ctx, tx, orderNo, midStatus, prevStatus)
	})
	if err != nil {
		log.Printf("【对账告警】本地回滚失败: orderNo=%s, err=%v", orderNo, err)
		if markErr := s.orderRepo.SetReconcile(ctx, orderNo); markErr != nil {
			log.Printf("置对账标记失败: orderNo=%s, err=%v", orderNo, markErr)
		}
	}
}

// MarkShipped 卖家标记发货，纯本地状态转移
func (s *EscrowService) MarkShipped(ctx context.Context, orderNo string, callerID int64) error {
	order, err := s.orderRepo.GetByOrderNo(ctx, orderNo)
	if err != nil {
		return err
	}
	if callerID != order.SellerID {
		return fmt.Errorf("%w: 只有卖家可以标记发货", ErrForbidden)
	}
	return s.orderRepo.UpdateStatus(ctx, nil, orderNo, model.OrderStatusPaid, model.OrderStatusShipped)
}

// MarkDelivered 买家标记收货，纯本地状态转移
func (s *EscrowService) MarkDelivered(ctx context.Context, orderNo string, callerID int64) error {
	order, err := s.orderRepo.GetByOrderNo(ctx, orderNo)
	if err != nil {
		return err
	}
	if callerID != order.BuyerID {
		return fmt.Errorf("%w: 只有买家可以标记收货", ErrForbidden)
	}
	return s.orderRepo.UpdateStatus(ctx, nil, orderNo, model.OrderStatusShipped, model.OrderStatusDelivered)
}

// GetOrder 查询订单及其全部结算流水
func (s *EscrowService) GetOrder(ctx context.Context, orderNo string) (*OrderDetail, error) {
	order, err := s.orderRepo.GetByOrderNo(ctx, orderNo)
	if err != nil {
		return nil, err
	}
	transactions, err := s.txRepo.ListByOrderNo(ctx, orderNo)
	if err != nil {
		return nil, err
	}
	return &OrderDetail{Order: order, Transactions: transactions}, nil
}

// ListOrdersByBuyer 分页查询买家订单
func (s *EscrowService) ListOrdersByBuyer(ctx context.Context, buyerID int64, page, pageSize int) ([]*model.EscrowOrder, int64, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	return s.orderRepo.ListByBuyer(ctx, buyerID, page, pageSize)
}

// GetEscrowDetails 查询订单对应的链上托管状态
func (s *EscrowService) GetEscrowDetails(ctx context.Context, orderNo string) (*EscrowDetails, error) {
	order, err := s.orderRepo.GetByOrderNo(ctx, orderNo)
	if err != nil {
		return nil, err
	}
	if order.EscrowAddress == "" {
		return nil, fmt.Errorf("%w: 订单尚未建立链上托管", ErrInvalidState)
	}
	return s.backend.GetDetails(ctx, order.EscrowAddress)
}

// appendEscrowEvent 托管事件随结果事务一起写入发件箱
func (s *EscrowService) appendEscrowEvent(ctx context.Context, tx *gorm.DB, orderNo, eventType string, result *SettlementResult) error {
	payload, err := json.Marshal(map[string]interface{}{
		"event_type":     eventType,
		"order_no":       orderNo,
		"escrow_address": result.EscrowAddress,
		"tx_hash":        result.TxHash,
		"block_number":   result.BlockNumber,
		"occurred_at":    time.Now(),
	})
	if err != nil {
		return err
	}
	msg := &model.OutboxMessage{
		MessageKey: orderNo,
		Topic:      s.escrowTopic,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	}
	return s.outboxRepo.Create(ctx, tx, msg)
}
