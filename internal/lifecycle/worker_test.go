package lifecycle

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/shellcache/shellcache/internal/cache"
	"github.com/shellcache/shellcache/internal/config"
	"github.com/shellcache/shellcache/internal/fetch"
	"github.com/shellcache/shellcache/internal/metrics"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testPartitions = config.PartitionConfig{
	Static:   "static-assets-cache",
	API:      "api-cache",
	Critical: "critical-assets-cache",
	Reserved: []string{"flutter-app-cache"},
}

var testAssets = []string{"main.dart.js", "flutter_bootstrap.js", "index.html", "assets/FontManifest.json"}

type fetcherFunc func(req *fetch.Request) (*cache.Response, error)

func (f fetcherFunc) Fetch(_ context.Context, req *fetch.Request) (*cache.Response, error) {
	return f(req)
}

func serveAll(seen *sync.Map) fetcherFunc {
	return func(req *fetch.Request) (*cache.Response, error) {
		if seen != nil {
			seen.Store(req.Key(), true)
		}
		return &cache.Response{Status: 200, Header: http.Header{}, Body: []byte(req.URL.Path)}, nil
	}
}

func newTestWorker(t *testing.T, storage cache.Storage, fetcher fetch.Fetcher) *Worker {
	t.Helper()
	w, err := NewWorker(Options{
		Storage:        storage,
		Fetcher:        fetcher,
		Origin:         "https://app.example.org",
		CriticalAssets: testAssets,
		Partitions:     testPartitions,
		Metrics:        metrics.NewRecorder(),
	})
	require.NoError(t, err)
	return w
}

func TestInstallPopulatesCriticalPartition(t *testing.T) {
	storage := cache.NewMemoryStore()
	seen := &sync.Map{}
	w := newTestWorker(t, storage, serveAll(seen))

	require.Equal(t, StateNew, w.State())
	require.NoError(t, w.Install(context.Background()))
	require.Equal(t, StateInstalled, w.State())
	require.False(t, w.Controlling())

	partition, err := storage.Open(context.Background(), testPartitions.Critical)
	require.NoError(t, err)
	for _, asset := range testAssets {
		key := "https://app.example.org/" + asset
		_, fetched := seen.Load(key)
		require.True(t, fetched, key)

		resp, err := partition.Match(context.Background(), key)
		require.NoError(t, err, key)
		require.Equal(t, "/"+asset, string(resp.Body))
	}
}

func TestInstallFailureLeavesNothingBehind(t *testing.T) {
	storage := cache.NewMemoryStore()
	w := newTestWorker(t, storage, fetcherFunc(func(req *fetch.Request) (*cache.Response, error) {
		if strings.HasSuffix(req.URL.Path, "FontManifest.json") {
			return &cache.Response{Status: 404, Header: http.Header{}}, nil
		}
		return &cache.Response{Status: 200, Header: http.Header{}, Body: []byte("ok")}, nil
	}))

	err := w.Install(context.Background())
	require.ErrorIs(t, err, ErrInstallFailed)
	require.Equal(t, StateRedundant, w.State())

	keys, err := storage.Keys(context.Background())
	require.NoError(t, err)
	require.NotContains(t, keys, testPartitions.Critical)

	require.ErrorIs(t, w.Activate(context.Background()), ErrNotInstalled)
	require.False(t, w.Controlling())
}

func TestInstallNetworkFailure(t *testing.T) {
	w := newTestWorker(t, cache.NewMemoryStore(), fetcherFunc(func(req *fetch.Request) (*cache.Response, error) {
		return nil, &fetch.NetworkError{URL: req.Key(), Err: errors.New("connection refused")}
	}))

	err := w.Install(context.Background())
	require.ErrorIs(t, err, ErrInstallFailed)

	var netErr *fetch.NetworkError
	require.ErrorAs(t, err, &netErr)
}

// failingPutStorage 在第 n 次 Put 时返回错误。
type failingPutStorage struct {
	cache.Storage
	failAt int
	puts   int
}

func (s *failingPutStorage) Open(ctx context.Context, name string) (cache.Partition, error) {
	p, err := s.Storage.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return &failingPutPartition{Partition: p, owner: s}, nil
}

type failingPutPartition struct {
	cache.Partition
	owner *failingPutStorage
}

func (p *failingPutPartition) Put(ctx context.Context, key string, resp *cache.Response) error {
	p.owner.puts++
	if p.owner.puts == p.owner.failAt {
		return errors.New("disk full")
	}
	return p.Partition.Put(ctx, key, resp)
}

func TestInstallRollsBackPartialWrites(t *testing.T) {
	storage := &failingPutStorage{Storage: cache.NewMemoryStore(), failAt: 3}
	w := newTestWorker(t, storage, serveAll(nil))

	require.ErrorIs(t, w.Install(context.Background()), ErrInstallFailed)

	partition, err := storage.Storage.Open(context.Background(), testPartitions.Critical)
	require.NoError(t, err)
	for _, asset := range testAssets {
		_, err := partition.Match(context.Background(), "https://app.example.org/"+asset)
		require.ErrorIs(t, err, cache.ErrNotFound, asset)
	}
}

func TestActivateDeletesUnrecognizedPartitions(t *testing.T) {
	storage := cache.NewMemoryStore()
	ctx := context.Background()
	for _, name := range []string{"v0-old", "static-assets-cache", "api-cache", "flutter-app-cache", "legacy-cache"} {
		_, err := storage.Open(ctx, name)
		require.NoError(t, err)
	}

	w := newTestWorker(t, storage, serveAll(nil))
	require.NoError(t, w.Install(ctx))
	require.NoError(t, w.Activate(ctx))

	keys, err := storage.Keys(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"api-cache", "critical-assets-cache", "flutter-app-cache", "static-assets-cache"}, keys)
	require.True(t, w.Controlling())
	require.Equal(t, StateActivated, w.State())

	require.Error(t, w.Activate(ctx))
	require.Error(t, w.Install(ctx))
}

// deleteFailStorage 模拟分区删除失败。
type deleteFailStorage struct {
	cache.Storage
}

func (s deleteFailStorage) Delete(context.Context, string) (bool, error) {
	return false, errors.New("permission denied")
}

func TestActivateFailureDoesNotClaim(t *testing.T) {
	inner := cache.NewMemoryStore()
	_, _ = inner.Open(context.Background(), "v0-old")
	storage := deleteFailStorage{Storage: inner}

	w := newTestWorker(t, storage, serveAll(nil))
	require.NoError(t, w.Install(context.Background()))

	err := w.Activate(context.Background())
	require.Error(t, err)
	require.False(t, w.Controlling())
	require.Equal(t, StateInstalled, w.State())
}

func TestCriticalURLs(t *testing.T) {
	w := newTestWorker(t, cache.NewMemoryStore(), serveAll(nil))
	urls := w.CriticalURLs()
	require.Len(t, urls, len(testAssets))
	require.Equal(t, "https://app.example.org/main.dart.js", urls[0].String())
	require.Equal(t, "https://app.example.org/assets/FontManifest.json", urls[3].String())
}

func TestNewWorkerValidatesOptions(t *testing.T) {
	_, err := NewWorker(Options{})
	require.Error(t, err)

	_, err = NewWorker(Options{
		Storage:    cache.NewMemoryStore(),
		Fetcher:    serveAll(nil),
		Origin:     "not a url",
		Partitions: testPartitions,
	})
	require.Error(t, err)
}
