package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	gocache "github.com/patrickmn/go-cache"
)

// NewMemoryStore 构建进程内分区存储，条目永不过期；新鲜度只在读取时判断。
func NewMemoryStore() Storage {
	return &memoryStore{partitions: make(map[string]*memoryPartition)}
}

type memoryStore struct {
	mu         sync.Mutex
	partitions map[string]*memoryPartition
}

type memoryPartition struct {
	name    string
	entries *gocache.Cache
}

func (s *memoryStore) Open(ctx context.Context, name string) (Partition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !validPartitionName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPartition, name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.partitions[name]; ok {
		return p, nil
	}
	p := &memoryPartition{
		name:    name,
		entries: gocache.New(gocache.NoExpiration, 0),
	}
	s.partitions[name] = p
	return p, nil
}

func (s *memoryStore) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.partitions))
	for name := range s.partitions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *memoryStore) Delete(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.partitions[name]
	if !ok {
		return false, nil
	}
	p.entries.Flush()
	delete(s.partitions, name)
	return true, nil
}

func (p *memoryPartition) Name() string {
	return p.name
}

func (p *memoryPartition) Match(ctx context.Context, key string) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	value, ok := p.entries.Get(key)
	if !ok {
		return nil, ErrNotFound
	}
	resp, ok := value.(*Response)
	if !ok {
		return nil, fmt.Errorf("unexpected cache value %T", value)
	}
	return resp.Clone(), nil
}

func (p *memoryPartition) Put(ctx context.Context, key string, resp *Response) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if resp == nil {
		return errors.New("response required")
	}
	p.entries.Set(key, resp.Clone(), gocache.NoExpiration)
	return nil
}

func (p *memoryPartition) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.entries.Delete(key)
	return nil
}
