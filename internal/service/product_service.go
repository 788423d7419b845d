package service

import (
	"context"
	"fmt"

	"trustmarket/internal/model"
	"trustmarket/internal/repository"

	"gorm.io/gorm"
)

type CreateProductRequest struct {
	SellerID          int64   `json:"seller_id" binding:"required"`
	Name              string  `json:"name" binding:"required"`
	Description       string  `json:"description"`
	Price             float64 `json:"price" binding:"required"`
	Quantity          int64   `json:"quantity" binding:"required"`
	VerificationScore float64 `json:"verification_score"`
}

// 允许通过接口设置的商品状态，SOLD_OUT 只能由库存扣减产生
var settableProductStatuses = map[string]bool{
	model.ProductStatusActive:  true,
	model.ProductStatusPaused:  true,
	model.ProductStatusFlagged: true,
}

type ProductService struct {
	db          *gorm.DB
	userRepo    *repository.UserRepository
	productRepo *repository.ProductRepository
}

func NewProductService(db *gorm.DB) *ProductService {
	return &ProductService{
		db:          db,
		userRepo:    repository.NewUserRepository(db),
		productRepo: repository.NewProductRepository(db),
	}
}

func (s *ProductService) CreateProduct(ctx context.Context, req *CreateProductRequest) (*model.Product, error) {
	if req.Price <= 0 {
		return nil, fmt.Errorf("%w: 价格必须大于0", ErrValidationFailed)
	}
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("%w: 库存必须大于0", ErrValidationFailed)
	}
	if req.VerificationScore < 0 || req.VerificationScore > 1 {
		return nil, fmt.Errorf("%w: 验证分必须在 [0,1] 区间", ErrValidationFailed)
	}
	if _, err := s.userRepo.GetByID(ctx, req.SellerID); err != nil {
		return nil, err
	}

	product := &model.Product{
		SellerID:          req.SellerID,
		Name:              req.Name,
		Description:       req.Description,
		Price:             req.Price,
		Quantity:          req.Quantity,
		Status:            model.ProductStatusActive,
		VerificationScore: req.VerificationScore,
	}
	if err := s.productRepo.Create(ctx, product); err != nil {
		return nil, err
	}
	return product, nil
}

func (s *ProductService) GetProduct(ctx context.Context, productID int64) (*model.Product, error) {
	return s.productRepo.GetByID(ctx, productID)
}

func (s *ProductService) ListBySeller(ctx context.Context, sellerID int64) ([]model.Product, error) {
	return s.productRepo.ListBySeller(ctx, sellerID)
}

// UpdateStatus 上下架或风控标记
func (s *ProductService) UpdateStatus(ctx context.Context, productID int64, status string) (*model.Product, error) {
	if !settableProductStatuses[status] {
		return nil, fmt.Errorf("%w: 不支持的商品状态 %s", ErrValidationFailed, status)
	}
	if err := s.productRepo.UpdateStatus(ctx, productID, status); err != nil {
		return nil, err
	}
	return s.productRepo.GetByID(ctx, productID)
}
