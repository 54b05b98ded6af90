package cache

import (
	"context"
	"errors"
	"net/http"
)

// Storage 管理全部命名分区，语义对齐浏览器 CacheStorage：open / keys / delete。
type Storage interface {
	// Open 返回指定名称的分区，不存在时自动创建。
	Open(ctx context.Context, name string) (Partition, error)

	// Keys 返回当前存在的全部分区名（按名称排序）。
	Keys(ctx context.Context) ([]string, error)

	// Delete 删除整个分区，返回该分区此前是否存在。
	Delete(ctx context.Context, name string) (bool, error)
}

// Partition 是单个命名分区，key 为请求的绝对 URL。
type Partition interface {
	Name() string

	// Match 返回存储的响应副本，不存在时返回 ErrNotFound。
	Match(ctx context.Context, key string) (*Response, error)

	// Put 覆盖写入条目。实现需保证同一 key 的写入原子可见。
	Put(ctx context.Context, key string, resp *Response) error

	// Remove 删除单个条目，条目不存在时不报错。
	Remove(ctx context.Context, key string) error
}

// Response 是被缓存或即将返回给调用方的完整响应。
type Response struct {
	Status     int         `json:"status"`
	StatusText string      `json:"status_text"`
	Header     http.Header `json:"header"`
	Body       []byte      `json:"-"`
}

// Clone 深拷贝响应，存储与返回路径各持一份，互不影响。
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	cloned := &Response{
		Status:     r.Status,
		StatusText: r.StatusText,
		Header:     r.Header.Clone(),
		Body:       append([]byte(nil), r.Body...),
	}
	if cloned.Header == nil {
		cloned.Header = http.Header{}
	}
	return cloned
}

// ErrNotFound 表示分区中不存在该条目。
var ErrNotFound = errors.New("cache entry not found")

// ErrInvalidPartition 表示分区名不合法（空、包含路径分隔符或以 . 开头）。
var ErrInvalidPartition = errors.New("invalid partition name")
