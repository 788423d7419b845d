package model

import (
	"time"
)

const (
	UserStatusActive = "ACTIVE"
	UserStatusPaused = "PAUSED" // 软停用，不做物理删除
)

// User 评分主体（买家/卖家）
// 各评分分析器只读取本表，写操作归属各自的服务
type User struct {
	ID                 int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	Username           string `gorm:"type:varchar(64);uniqueIndex;not null" json:"username"`
	WalletAddress      string `gorm:"type:varchar(64);index" json:"wallet_address"`
	Status             string `gorm:"type:varchar(20);index;not null;default:ACTIVE" json:"status"`
	LoginCount         int64  `gorm:"not null;default:0" json:"login_count"`
	ProfileUpdateCount int64  `gorm:"not null;default:0" json:"profile_update_count"`
	// 各调度族独立的检查时间，null 表示从未评估过
	LastScoreCheck      *time.Time `gorm:"index" json:"last_score_check"`
	LastLegitimacyCheck *time.Time `gorm:"index" json:"last_legitimacy_check"`
	LastBehaviorCheck   *time.Time `gorm:"index" json:"last_behavior_check"`
	CreatedAt           time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (User) TableName() string {
	return "user"
}
