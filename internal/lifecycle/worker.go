// Package lifecycle 驱动 worker 完成安装与激活。
// 安装阶段预取关键资源，要么全部写入要么不留痕迹；激活阶段删除未识别的分区后接管流量，
// 此后引擎才开始拦截请求。
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/shellcache/shellcache/internal/cache"
	"github.com/shellcache/shellcache/internal/config"
	"github.com/shellcache/shellcache/internal/fetch"
	"github.com/shellcache/shellcache/internal/logging"
	"github.com/shellcache/shellcache/internal/metrics"
)

// ErrInstallFailed 表示关键资源预取失败，worker 不会进入激活阶段。
var ErrInstallFailed = errors.New("worker install failed")

// ErrNotInstalled 表示在安装成功前调用了 Activate。
var ErrNotInstalled = errors.New("worker not installed")

// State 对应 worker 生命周期阶段。
type State string

const (
	StateNew        State = "new"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActivated  State = "activated"
	StateRedundant  State = "redundant"
)

// Options 聚合 Worker 依赖。
type Options struct {
	Storage        cache.Storage
	Fetcher        fetch.Fetcher
	Origin         string
	CriticalAssets []string
	Partitions     config.PartitionConfig
	Logger         *logrus.Logger
	Metrics        *metrics.Recorder
}

// Worker 管理安装与激活，Controlling 在激活完成后才返回 true。
type Worker struct {
	storage    cache.Storage
	fetcher    fetch.Fetcher
	origin     *url.URL
	assets     []string
	partitions config.PartitionConfig
	logger     *logrus.Logger
	metrics    *metrics.Recorder

	mu          sync.Mutex
	state       State
	controlling atomic.Bool
}

// NewWorker 校验配置并创建处于 new 状态的 Worker。
func NewWorker(opts Options) (*Worker, error) {
	if opts.Storage == nil {
		return nil, errors.New("storage is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if opts.Partitions.Critical == "" {
		return nil, errors.New("critical partition is required")
	}
	origin, err := url.Parse(strings.TrimSpace(opts.Origin))
	if err != nil || origin.Scheme == "" || origin.Host == "" {
		return nil, fmt.Errorf("invalid origin %q", opts.Origin)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Worker{
		storage:    opts.Storage,
		fetcher:    opts.Fetcher,
		origin:     origin,
		assets:     append([]string(nil), opts.CriticalAssets...),
		partitions: opts.Partitions,
		logger:     logger,
		metrics:    opts.Metrics,
		state:      StateNew,
	}, nil
}

// State 返回当前阶段。
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Controlling 实现 proxy.Activation。
func (w *Worker) Controlling() bool {
	return w.controlling.Load()
}

func (w *Worker) transition(from []State, to State) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, s := range from {
		if w.state == s {
			w.state = to
			return nil
		}
	}
	return fmt.Errorf("invalid transition %s -> %s", w.state, to)
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

// CriticalURLs 返回按 origin 解析后的关键资源地址，顺序与配置一致。
func (w *Worker) CriticalURLs() []*url.URL {
	urls := make([]*url.URL, 0, len(w.assets))
	for _, asset := range w.assets {
		rel := &url.URL{Path: "/" + strings.TrimLeft(asset, "/")}
		urls = append(urls, w.origin.ResolveReference(rel))
	}
	return urls
}

// Install 并发预取全部关键资源，全部 2xx 后才写入关键分区；任一失败则不留下任何条目。
// 成功后直接进入 installed，不等待旧 worker 退出。
func (w *Worker) Install(ctx context.Context) error {
	if err := w.transition([]State{StateNew, StateRedundant}, StateInstalling); err != nil {
		return err
	}

	err := w.install(ctx)
	w.metrics.ObserveInstall(err)
	if err != nil {
		w.setState(StateRedundant)
		w.logger.WithFields(logging.PartitionFields("install", w.partitions.Critical)).
			WithError(err).Error("install_failed")
		return err
	}
	w.setState(StateInstalled)
	w.logger.WithFields(logging.PartitionFields("install", w.partitions.Critical)).
		WithField("assets", len(w.assets)).Info("install_complete")
	return nil
}

func (w *Worker) install(ctx context.Context) error {
	urls := w.CriticalURLs()
	responses := make([]*cache.Response, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	for i, target := range urls {
		g.Go(func() error {
			resp, err := w.fetcher.Fetch(gctx, &fetch.Request{
				Method: http.MethodGet,
				URL:    target,
				Header: http.Header{},
			})
			if err != nil {
				return err
			}
			if resp.Status < 200 || resp.Status > 299 {
				return fmt.Errorf("fetch %s: unexpected status %d", target, resp.Status)
			}
			responses[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("%w: %w", ErrInstallFailed, err)
	}

	partition, err := w.storage.Open(ctx, w.partitions.Critical)
	if err != nil {
		return fmt.Errorf("%w: open %s: %w", ErrInstallFailed, w.partitions.Critical, err)
	}
	written := make([]string, 0, len(urls))
	for i, target := range urls {
		key := target.String()
		if err := partition.Put(ctx, key, responses[i]); err != nil {
			w.rollback(partition, written)
			return fmt.Errorf("%w: store %s: %w", ErrInstallFailed, key, err)
		}
		written = append(written, key)
	}
	return nil
}

func (w *Worker) rollback(partition cache.Partition, keys []string) {
	for _, key := range keys {
		if err := partition.Remove(context.Background(), key); err != nil {
			w.logger.WithFields(logging.PartitionFields("install_rollback", partition.Name())).
				WithField("url", key).WithError(err).Warn("rollback_failed")
		}
	}
}

// Activate 删除所有未被识别的分区，全部成功后接管请求。
func (w *Worker) Activate(ctx context.Context) error {
	if err := w.transition([]State{StateInstalled}, StateActivating); err != nil {
		return fmt.Errorf("%w: %w", ErrNotInstalled, err)
	}

	deleted, err := w.collectGarbage(ctx)
	if err != nil {
		w.setState(StateInstalled)
		return fmt.Errorf("activate: %w", err)
	}

	w.controlling.Store(true)
	w.setState(StateActivated)
	w.logger.WithFields(logrus.Fields{
		"action":  "activate",
		"deleted": deleted,
	}).Info("worker_claimed")
	return nil
}

func (w *Worker) collectGarbage(ctx context.Context) ([]string, error) {
	names, err := w.storage.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}

	recognized := make(map[string]struct{})
	for _, name := range w.partitions.Recognized() {
		recognized[name] = struct{}{}
	}

	var (
		mu      sync.Mutex
		deleted []string
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		if _, ok := recognized[name]; ok {
			continue
		}
		g.Go(func() error {
			removed, err := w.storage.Delete(gctx, name)
			if err != nil {
				return fmt.Errorf("delete partition %s: %w", name, err)
			}
			if removed {
				w.metrics.ObservePartitionDeleted()
				w.logger.WithFields(logging.PartitionFields("partition_gc", name)).Info("partition_deleted")
				mu.Lock()
				deleted = append(deleted, name)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return deleted, nil
}
