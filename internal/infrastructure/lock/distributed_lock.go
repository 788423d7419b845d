package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ============================================================================
// 分布式锁
// ============================================================================
//
// 托管订单上的放款/争议操作必须串行：同一订单同时收到 Release 和 Dispute
// 时，只能有一个进入状态机。订单状态的 CAS 转移是正确性兜底，
// 分布式锁把并发请求挡在外面，避免白白打一次链上调用。
//
// 加锁：SET key value NX EX timeout
// 释放：Lua 脚本先校验 value 再删除，防止误删别人的锁
//
// ============================================================================

var (
	ErrLockFailed = errors.New("获取分布式锁失败")
)

// DistributedLock 分布式锁
type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string // 锁持有者标识，释放时校验
	expiration time.Duration
}

// NewDistributedLock 创建分布式锁
func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock 尝试获取锁（非阻塞）
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	success, err := l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
	if err != nil {
		return false, err
	}
	return success, nil
}

// Lock 阻塞式获取锁（带重试）
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return ErrLockFailed
}

// Unlock 释放锁
//
// Lua 脚本保证"校验持有者 + 删除"的原子性：锁过期后被别人拿走时，
// 过期的持有者不能删掉新持有者的锁
func (l *DistributedLock) Unlock(ctx context.Context) error {
	script := `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`
	_, err := l.client.Eval(ctx, script, []string{l.key}, l.value).Result()
	return err
}

// NewOrderLock 订单维度的托管操作锁
//
// 按订单号加锁：不同订单完全独立可并发，同一订单上的
// create/release/dispute 串行执行
func NewOrderLock(client *redis.Client, orderNo, owner string) *DistributedLock {
	key := fmt.Sprintf("escrow:lock:order:%s", orderNo)
	return NewDistributedLock(client, key, owner, 60*time.Second)
}

// NewProductLock 商品维度的下单锁
// 库存扣减本身是原子 SQL，这把锁只是压掉同一商品上的无效并发
func NewProductLock(client *redis.Client, productID int64, owner string) *DistributedLock {
	key := fmt.Sprintf("escrow:lock:product:%d", productID)
	return NewDistributedLock(client, key, owner, 30*time.Second)
}
