package repository

import (
	"context"
	"errors"
	"time"

	"trustmarket/internal/model"

	"gorm.io/gorm"
)

var (
	ErrProductNotFound = errors.New("商品不存在")
	ErrStockNotEnough  = errors.New("商品库存不足")
)

type ProductRepository struct {
	db *gorm.DB
}

func NewProductRepository(db *gorm.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

func (r *ProductRepository) Create(ctx context.Context, product *model.Product) error {
	return r.db.WithContext(ctx).Create(product).Error
}

func (r *ProductRepository) GetByID(ctx context.Context, productID int64) (*model.Product, error) {
	var product model.Product
	err := r.db.WithContext(ctx).Where("id = ?", productID).First(&product).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}
	return &product, nil
}

// DecrementQuantity 原子扣减库存
//
// 【关键点】扣减条件写进 WHERE（quantity >= ? 且商品在售），
// 通过 RowsAffected 判断是否扣成功，绝不能读出来再写回去 —— 并发下会超卖
func (r *ProductRepository) DecrementQuantity(ctx context.Context, tx *gorm.DB, productID int64, quantity int64) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.Product{}).
		Where("id = ? AND status = ? AND quantity >= ?", productID, model.ProductStatusActive, quantity).
		UpdateColumn("quantity", gorm.Expr("quantity - ?", quantity))

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		product, err := r.GetByID(ctx, productID)
		if err != nil {
			return err
		}
		if product.Status != model.ProductStatusActive {
			return ErrStockNotEnough
		}
		if product.Quantity < quantity {
			return ErrStockNotEnough
		}
		return ErrStockNotEnough
	}

	// 扣到 0 自动转为售罄，失败不影响扣减结果
	tx.WithContext(ctx).
		Model(&model.Product{}).
		Where("id = ? AND quantity = 0 AND status = ?", productID, model.ProductStatusActive).
		UpdateColumn("status", model.ProductStatusSoldOut)

	return nil
}

// RestoreQuantity 回滚补偿时恢复库存
func (r *ProductRepository) RestoreQuantity(ctx context.Context, tx *gorm.DB, productID int64, quantity int64) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.Product{}).
		Where("id = ?", productID).
		UpdateColumn("quantity", gorm.Expr("quantity + ?", quantity))

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrProductNotFound
	}

	// 售罄状态恢复在售
	tx.WithContext(ctx).
		Model(&model.Product{}).
		Where("id = ? AND status = ? AND quantity > 0", productID, model.ProductStatusSoldOut).
		UpdateColumn("status", model.ProductStatusActive)

	return nil
}

func (r *ProductRepository) UpdateStatus(ctx context.Context, productID int64, status string) error {
	result := r.db.WithContext(ctx).
		Model(&model.Product{}).
		Where("id = ?", productID).
		UpdateColumn("status", status)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrProductNotFound
	}
	return nil
}

func (r *ProductRepository) ListActiveBySeller(ctx context.Context, sellerID int64) ([]model.Product, error) {
	var products []model.Product
	err := r.db.WithContext(ctx).
		Where("seller_id = ? AND status = ?", sellerID, model.ProductStatusActive).
		Find(&products).Error
	return products, err
}

func (r *ProductRepository) ListBySeller(ctx context.Context, sellerID int64) ([]model.Product, error) {
	var products []model.Product
	err := r.db.WithContext(ctx).
		Where("seller_id = ?", sellerID).
		Find(&products).Error
	return products, err
}

// CountRecentBySeller 统计卖家近期上架数量（连发检测）
func (r *ProductRepository) CountRecentBySeller(ctx context.Context, sellerID int64, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Product{}).
		Where("seller_id = ? AND created_at >= ?", sellerID, since).
		Count(&count).Error
	return count, err
}

// PeerPrices 同名前缀在售商品的价格（同类比价）
func (r *ProductRepository) PeerPrices(ctx context.Context, namePrefix string, excludeProductID int64) ([]float64, error) {
	var prices []float64
	err := r.db.WithContext(ctx).
		Model(&model.Product{}).
		Where("name LIKE ? AND status = ? AND id <> ?", namePrefix+"%", model.ProductStatusActive, excludeProductID).
		Limit(200).
		Pluck("price", &prices).Error
	return prices, err
}

// CountDuplicateByName 统计其他卖家的同名在售商品（跨卖家重复上架检测）
func (r *ProductRepository) CountDuplicateByName(ctx context.Context, name string, excludeSellerID int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Product{}).
		Where("name = ? AND seller_id <> ? AND status = ?", name, excludeSellerID, model.ProductStatusActive).
		Count(&count).Error
	return count, err
}

// ProductStats 卖家维度的商品统计
func (r *ProductRepository) ProductStats(ctx context.Context, sellerID int64) (model.ProductStats, error) {
	var stats model.ProductStats

	products, err := r.ListBySeller(ctx, sellerID)
	if err != nil {
		return stats, err
	}

	var verificationSum float64
	for _, p := range products {
		stats.Total++
		switch p.Status {
		case model.ProductStatusActive:
			stats.Active++
		case model.ProductStatusFlagged:
			stats.Flagged++
		}
		verificationSum += p.VerificationScore
		if stats.MinPrice == 0 || p.Price < stats.MinPrice {
			stats.MinPrice = p.Price
		}
		if p.Price > stats.MaxPrice {
			stats.MaxPrice = p.Price
		}
	}
	if stats.Total > 0 {
		stats.AvgVerification = verificationSum / float64(stats.Total)
	}
	return stats, nil
}
