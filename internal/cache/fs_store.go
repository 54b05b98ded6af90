package cache

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// NewStore 以 basePath 为根目录构建磁盘缓存，每个分区对应一个子目录。
func NewStore(basePath string) (Storage, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &fileStore{
		basePath: abs,
		locks:    make(map[string]*entryLock),
	}, nil
}

// fileStore 通过 entryLock 避免同一条目并发写入，分区删除会持有 partitionMu 写锁。
type fileStore struct {
	basePath string

	partitionMu sync.RWMutex

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

// entryMeta 编码为条目文件首行，json.Marshal 的输出不含换行。
type entryMeta struct {
	URL        string              `json:"url"`
	Status     int                 `json:"status"`
	StatusText string              `json:"status_text"`
	Header     map[string][]string `json:"header"`
	StoredAt   time.Time           `json:"stored_at"`
}

type filePartition struct {
	store *fileStore
	name  string
	dir   string
}

func (s *fileStore) Open(ctx context.Context, name string) (Partition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, err := s.partitionDir(name)
	if err != nil {
		return nil, err
	}

	s.partitionMu.RLock()
	defer s.partitionMu.RUnlock()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create partition %s: %w", name, err)
	}
	return &filePartition{store: s, name: name, dir: dir}, nil
}

func (s *fileStore) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (s *fileStore) Delete(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	dir, err := s.partitionDir(name)
	if err != nil {
		return false, err
	}

	s.partitionMu.Lock()
	defer s.partitionMu.Unlock()

	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if !info.IsDir() {
		return false, nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return false, err
	}
	return true, nil
}

func (s *fileStore) partitionDir(name string) (string, error) {
	if !validPartitionName(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPartition, name)
	}
	return filepath.Join(s.basePath, name), nil
}

func (p *filePartition) Name() string {
	return p.name
}

func (p *filePartition) Match(ctx context.Context, key string) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.store.partitionMu.RLock()
	defer p.store.partitionMu.RUnlock()

	raw, err := os.ReadFile(p.entryPath(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	rawMeta, body, ok := bytes.Cut(raw, []byte{'\n'})
	if !ok {
		return nil, errors.New("decode cache entry: missing meta header")
	}
	var meta entryMeta
	if err := json.Unmarshal(rawMeta, &meta); err != nil {
		return nil, fmt.Errorf("decode cache meta: %w", err)
	}
	if meta.URL != key {
		return nil, ErrNotFound
	}

	resp := &Response{
		Status:     meta.Status,
		StatusText: meta.StatusText,
		Header:     make(map[string][]string, len(meta.Header)),
		Body:       body,
	}
	for k, v := range meta.Header {
		resp.Header[k] = append([]string(nil), v...)
	}
	return resp, nil
}

func (p *filePartition) Put(ctx context.Context, key string, resp *Response) error {
	if resp == nil {
		return errors.New("response required")
	}
	unlock := p.store.lockEntry(p.name, key)
	defer unlock()

	p.store.partitionMu.RLock()
	defer p.store.partitionMu.RUnlock()

	target := p.entryPath(key)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	meta := entryMeta{
		URL:        key,
		Status:     resp.Status,
		StatusText: resp.StatusText,
		Header:     resp.Header,
		StoredAt:   time.Now().UTC(),
	}
	encoded, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	encoded = append(encoded, '\n')
	return writeAtomic(ctx, target, io.MultiReader(bytes.NewReader(encoded), bytes.NewReader(resp.Body)))
}

func (p *filePartition) Remove(ctx context.Context, key string) error {
	unlock := p.store.lockEntry(p.name, key)
	defer unlock()

	p.store.partitionMu.RLock()
	defer p.store.partitionMu.RUnlock()

	if err := os.Remove(p.entryPath(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// entryPath 将 URL 散列为 <partition>/<前两位>/<sha1>.entry，避免 URL 路径与目录冲突。
// 文件首行是 JSON 元数据，其后为正文，整体一次 rename 生效。
func (p *filePartition) entryPath(key string) string {
	sum := sha1.Sum([]byte(key))
	digest := hex.EncodeToString(sum[:])
	return filepath.Join(p.dir, digest[:2], digest+".entry")
}

func (s *fileStore) lockEntry(partition, key string) func() {
	lockKey := partition + "::" + key
	s.mu.Lock()
	lock := s.locks[lockKey]
	if lock == nil {
		lock = &entryLock{}
		s.locks[lockKey] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, lockKey)
		}
		s.mu.Unlock()
	}
}

func writeAtomic(ctx context.Context, target string, body io.Reader) error {
	tempFile, err := os.CreateTemp(filepath.Dir(target), ".cache-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, err = copyWithContext(ctx, tempFile, body)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}

	if err := os.Rename(tempName, target); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}

func validPartitionName(name string) bool {
	if strings.TrimSpace(name) == "" || name != strings.TrimSpace(name) {
		return false
	}
	if strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return false
	}
	return true
}
