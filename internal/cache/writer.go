package cache

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"
)

// HeaderCachedAt 记录条目写入时间（毫秒时间戳），只存在于存储副本上。
const HeaderCachedAt = "cached-at"

// ErrStoreUnavailable 表示写入器未绑定分区。
var ErrStoreUnavailable = errors.New("cache store unavailable")

// StrategyWriter 绑定单个分区，负责写入时打 cached-at 戳以及读取时判断新鲜度。
type StrategyWriter struct {
	partition Partition
	stamp     bool
	now       func() time.Time
}

// NewStrategyWriter 构造写入器；stamp 为 false 时条目不带时间戳，读取时永远视为过期。
func NewStrategyWriter(partition Partition, stamp bool, now func() time.Time) StrategyWriter {
	if now == nil {
		now = time.Now
	}
	return StrategyWriter{
		partition: partition,
		stamp:     stamp,
		now:       now,
	}
}

// Enabled 返回当前是否具备缓存写入能力。
func (w StrategyWriter) Enabled() bool {
	return w.partition != nil
}

// Put 写入 resp 的副本，调用方持有的 resp 不会被修改。
func (w StrategyWriter) Put(ctx context.Context, key string, resp *Response) error {
	if w.partition == nil {
		return ErrStoreUnavailable
	}
	stored := resp.Clone()
	if w.stamp {
		stored.Header.Set(HeaderCachedAt, strconv.FormatInt(w.now().UnixMilli(), 10))
	}
	return w.partition.Put(ctx, key, stored)
}

// IsFresh 判断 now - cached-at 是否小于 maxAge；缺少或无法解析时间戳视为过期。
func (w StrategyWriter) IsFresh(resp *Response, maxAge time.Duration) bool {
	if resp == nil || maxAge <= 0 {
		return false
	}
	cachedAt, ok := CachedAt(resp)
	if !ok {
		return false
	}
	return w.now().Sub(cachedAt) < maxAge
}

// CachedAt 解析 cached-at 头。
func CachedAt(resp *Response) (time.Time, bool) {
	if resp == nil || resp.Header == nil {
		return time.Time{}, false
	}
	raw := strings.TrimSpace(resp.Header.Get(HeaderCachedAt))
	if raw == "" {
		return time.Time{}, false
	}
	millis, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(millis), true
}
