package handler

import (
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"testing"

	"trustmarket/internal/model"
	"trustmarket/internal/service"
	"trustmarket/pkg/response"

	"github.com/gin-gonic/gin"
)

// 对账类错误不算彻底失败（资金已动）：告警码和订单必须同时返回
func TestWriteOrderResultReconciliation(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	order := &model.EscrowOrder{OrderNo: "ORD-TEST-00000009", Status: model.OrderStatusPending}
	writeOrderResult(c, order, fmt.Errorf("%w: orderNo=%s", service.ErrReconciliationRequired, order.OrderNo))

	var resp response.Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if resp.Code != response.CodeReconciliationRequired {
		t.Errorf("Code = %d, want %d", resp.Code, response.CodeReconciliationRequired)
	}
	data, ok := resp.Data.(map[string]interface{})
	if !ok {
		t.Fatal("订单未随告警一起返回")
	}
	if data["order_no"] != order.OrderNo {
		t.Errorf("order_no = %v, want %s", data["order_no"], order.OrderNo)
	}
}

// 普通结算失败走常规错误映射，不带数据
func TestWriteOrderResultSettlementFailed(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	writeOrderResult(c, nil, fmt.Errorf("%w: execution reverted", service.ErrSettlementFailed))

	var resp response.Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if resp.Code != response.CodeSettlementFailed {
		t.Errorf("Code = %d, want %d", resp.Code, response.CodeSettlementFailed)
	}
	if resp.Data != nil {
		t.Error("失败响应不应带数据")
	}
}
