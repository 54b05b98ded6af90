// Package metrics 为缓存引擎、worker 生命周期与压缩器提供 Prometheus 计数器。
// 每个 Recorder 持有独立的 Registry，测试之间互不干扰。
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "shellcache"

// Recorder 汇总全部指标。nil Recorder 的方法均为空操作，便于在测试中省略。
type Recorder struct {
	registry *prometheus.Registry

	requests       *prometheus.CounterVec
	cacheWrites    *prometheus.CounterVec
	installs       *prometheus.CounterVec
	partitionsGC   prometheus.Counter
	compressedFile *prometheus.CounterVec
}

// NewRecorder 创建带独立 Registry 的 Recorder，并注册 Go 运行时指标。
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Requests handled by the caching engine, by strategy and outcome.",
		}, []string{"strategy", "outcome"}),
		cacheWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_writes_total",
			Help:      "Cache partition writes, by partition and result.",
		}, []string{"partition", "result"}),
		installs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "installs_total",
			Help:      "Worker install attempts, by result.",
		}, []string{"result"}),
		partitionsGC: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "partitions_deleted_total",
			Help:      "Unrecognized cache partitions deleted during activation.",
		}),
		compressedFile: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compressed_files_total",
			Help:      "Files processed by the gzip pass, by result.",
		}, []string{"result"}),
	}
	r.registry.MustRegister(
		r.requests,
		r.cacheWrites,
		r.installs,
		r.partitionsGC,
		r.compressedFile,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Registry 返回底层 Registry，供测试读取。
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler 返回 /-/metrics 使用的 http.Handler。
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// ObserveRequest 记录一次引擎处理结果。
func (r *Recorder) ObserveRequest(strategy, outcome string) {
	if r == nil {
		return
	}
	r.requests.WithLabelValues(strategy, outcome).Inc()
}

// ObserveCacheWrite 记录一次分区写入。
func (r *Recorder) ObserveCacheWrite(partition string, err error) {
	if r == nil {
		return
	}
	r.cacheWrites.WithLabelValues(partition, resultLabel(err)).Inc()
}

// ObserveInstall 记录安装阶段结果。
func (r *Recorder) ObserveInstall(err error) {
	if r == nil {
		return
	}
	r.installs.WithLabelValues(resultLabel(err)).Inc()
}

// ObservePartitionDeleted 累加激活阶段删除的分区数。
func (r *Recorder) ObservePartitionDeleted() {
	if r == nil {
		return
	}
	r.partitionsGC.Inc()
}

// ObserveCompressed 记录单个文件的压缩结果。
func (r *Recorder) ObserveCompressed(err error) {
	if r == nil {
		return
	}
	r.compressedFile.WithLabelValues(resultLabel(err)).Inc()
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
