package service

import (
	"errors"
)

// 服务层错误分类，handler 据此映射业务错误码
var (
	// ErrInvalidState 当前状态不允许该操作（非在售商品下单、重复放款等）
	ErrInvalidState = errors.New("当前状态不允许该操作")

	// ErrForbidden 调用者不是订单参与方
	ErrForbidden = errors.New("无权操作该订单")

	// ErrValidationFailed 入参不合法
	ErrValidationFailed = errors.New("参数校验失败")

	// ErrSettlementFailed 链上结算调用失败或超时，本地状态已完整回滚
	ErrSettlementFailed = errors.New("链上结算失败")

	// ErrReconciliationRequired 链上已成功但本地状态更新失败，
	// 资金已经移动，绝不能当普通失败吞掉，必须暴露给运维对账
	ErrReconciliationRequired = errors.New("本地与链上状态不一致，需要对账")
)
