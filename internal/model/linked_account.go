package model

import (
	"time"
)

const (
	PlatformInstagram = "instagram"
	PlatformFacebook  = "facebook"
	PlatformTwitter   = "twitter"
	PlatformTiktok    = "tiktok"
)

// LinkedAccount 绑定的外部社交账号
// 每个 (user_id, platform) 只保留一条，重新绑定直接覆盖
type LinkedAccount struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID         int64     `gorm:"uniqueIndex:uk_user_platform;not null" json:"user_id"`
	Platform       string    `gorm:"type:varchar(32);uniqueIndex:uk_user_platform;not null" json:"platform"`
	PlatformUserID string    `gorm:"type:varchar(64);not null" json:"platform_user_id"`
	DisplayName    string    `gorm:"type:varchar(128)" json:"display_name"`
	Followers      int64     `gorm:"not null;default:0" json:"followers"`
	Posts          int64     `gorm:"not null;default:0" json:"posts"`
	EngagementRate float64   `gorm:"not null;default:0" json:"engagement_rate"`
	Verified       bool      `gorm:"not null;default:false" json:"verified"`
	Business       bool      `gorm:"not null;default:false" json:"business"`
	AccountCreated time.Time `json:"account_created"` // 平台侧的注册时间
	AccessToken    string    `gorm:"type:varchar(512)" json:"-"`
	RawPayload     string    `gorm:"type:text" json:"-"` // 平台返回的原始数据
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (LinkedAccount) TableName() string {
	return "linked_account"
}

// AccountSnapshot 社交账号的周期性快照
// 只追加不修改，合法性分析器用最近一条快照做差分
type AccountSnapshot struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	AccountID      int64     `gorm:"index;not null" json:"account_id"`
	Followers      int64     `gorm:"not null;default:0" json:"followers"`
	Posts          int64     `gorm:"not null;default:0" json:"posts"`
	EngagementRate float64   `gorm:"not null;default:0" json:"engagement_rate"`
	Verified       bool      `gorm:"not null;default:false" json:"verified"`
	Business       bool      `gorm:"not null;default:false" json:"business"`
	TakenAt        time.Time `gorm:"index;not null" json:"taken_at"`
}

func (AccountSnapshot) TableName() string {
	return "account_snapshot"
}
