// Package utils 提供 ID 生成、幂等键、退避重试等通用工具
package utils

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

// IDGenerator 雪花 ID 生成器
type IDGenerator struct {
	node *snowflake.Node
}

// NewIDGenerator 创建雪花 ID 生成器，nodeID 取值 0-1023
func NewIDGenerator(nodeID int64) (*IDGenerator, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, err
	}
	return &IDGenerator{node: node}, nil
}

// Next 生成下一个 ID
func (g *IDGenerator) Next() int64 {
	return g.node.Generate().Int64()
}

// SHA256Hash 计算 SHA256 哈希
func SHA256Hash(data string) string {
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// IdempotencyKey 由各部分拼接后取哈希，相同输入总是得到相同的键
func IdempotencyKey(parts ...string) string {
	return SHA256Hash(strings.Join(parts, "|"))[:32]
}

// RetryWithBackoff 带指数退避的重试，ctx 取消时提前返回
func RetryWithBackoff(ctx context.Context, maxAttempts int, initialDelay, maxDelay time.Duration, fn func() error) error {
	var lastErr error
	delay := initialDelay

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		if attempt == maxAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = min(time.Duration(float64(delay)*1.5), maxDelay)
	}
	return lastErr
}
