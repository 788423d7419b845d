package model

import (
	"time"
)

const (
	ProductStatusActive  = "ACTIVE"
	ProductStatusPaused  = "PAUSED"
	ProductStatusFlagged = "FLAGGED" // 被风控标记
	ProductStatusSoldOut = "SOLD_OUT"
)

// Product 商品
// 库存扣减必须是原子操作（带下限检查），防止超卖
type Product struct {
	ID                int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	SellerID          int64     `gorm:"index;not null" json:"seller_id"`
	Name              string    `gorm:"type:varchar(255);index;not null" json:"name"`
	Description       string    `gorm:"type:text" json:"description"`
	Price             float64   `gorm:"not null" json:"price"`
	Quantity          int64     `gorm:"not null;default:0" json:"quantity"`
	Status            string    `gorm:"type:varchar(20);index;not null;default:ACTIVE" json:"status"`
	VerificationScore float64   `gorm:"not null;default:0" json:"verification_score"`
	CreatedAt         time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Product) TableName() string {
	return "product"
}
