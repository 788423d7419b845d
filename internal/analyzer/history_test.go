package analyzer

import (
	"context"
	"errors"
	"testing"

	"trustmarket/internal/model"
)

type stubHistorySource struct {
	stats model.OrderStats
	err   error
}

func (s *stubHistorySource) OrderStats(ctx context.Context, sellerID int64) (model.OrderStats, error) {
	return s.stats, s.err
}

func TestTransactionHistoryScore(t *testing.T) {
	tests := []struct {
		name  string
		stats model.OrderStats
		want  float64
	}{
		{
			// 成功率 0.8*0.5 + 争议健康 (1-5*0.02)*0.3 + 量 1.0*0.2 = 0.4+0.27+0.2
			name:  "成熟卖家",
			stats: model.OrderStats{Total: 50, Completed: 40, Disputed: 1},
			want:  0.87,
		},
		{
			// 成功率 1.0*0.5 + 健康 1.0*0.3 + 量 10/50*0.2 = 0.84
			name:  "新卖家无争议",
			stats: model.OrderStats{Total: 10, Completed: 10},
			want:  0.84,
		},
		{
			// 争议率 0.5，放大后健康度封到 0
			name:  "高争议卖家",
			stats: model.OrderStats{Total: 10, Completed: 2, Disputed: 3, Refunded: 2},
			want:  2.0/10*0.5 + 0 + 10.0/50*0.2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewTransactionHistoryAnalyzer(&stubHistorySource{stats: tt.stats})
			partial, err := a.Evaluate(context.Background(), 1)
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			if !almostEqual(partial.Value, tt.want) {
				t.Errorf("Value = %v, want %v", partial.Value, tt.want)
			}
		})
	}
}

func TestTransactionHistoryNoData(t *testing.T) {
	a := NewTransactionHistoryAnalyzer(&stubHistorySource{})

	partial, err := a.Evaluate(context.Background(), 1)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if partial.Failed {
		t.Fatal("零交易不是失败")
	}
	if !almostEqual(partial.Value, historyNoDataFloor) {
		t.Errorf("Value = %v, want %v", partial.Value, historyNoDataFloor)
	}
}

func TestTransactionHistoryFetchError(t *testing.T) {
	a := NewTransactionHistoryAnalyzer(&stubHistorySource{err: errors.New("db down")})

	partial, err := a.Evaluate(context.Background(), 1)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !partial.Failed {
		t.Fatal("统计失败应转成失败分项")
	}
}
