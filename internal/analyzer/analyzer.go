package analyzer

import (
	"context"

	"trustmarket/internal/model"
)

// Analyzer 单个评分来源
//
// 约定：
//  1. Evaluate 除写自己的历史日志外，对主体无副作用
//  2. 数据获取失败在内部兜住，转成 failed=true 的分项，绝不向上抛 —
//     单个来源挂掉不能拖垮整次聚合
//  3. 必须响应 ctx 取消/超时，慢分析器不能阻塞兄弟分析器
type Analyzer interface {
	Kind() model.AnalyzerKind
	Evaluate(ctx context.Context, subjectID int64) (model.PartialScore, error)
}

// UserSource 用户基础数据源
type UserSource interface {
	GetByID(ctx context.Context, userID int64) (*model.User, error)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
