// Package compress 为构建产物中可压缩的文件生成 gzip 副本（<file>.gz），供静态服务直接返回。
package compress

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/shellcache/shellcache/internal/logging"
	"github.com/shellcache/shellcache/internal/metrics"
)

// ErrBuildDirMissing 表示构建目录不存在，需要先执行前端构建。
var ErrBuildDirMissing = errors.New("build directory not found")

// DefaultExtensions 是默认参与压缩的扩展名（不区分大小写）。
var DefaultExtensions = []string{".js", ".css", ".html", ".json", ".xml", ".svg", ".txt", ".map"}

// Options 控制压缩行为，零值使用默认扩展名与 CPU 数并发。
type Options struct {
	Extensions  []string
	Parallelism int
	Logger      *logrus.Logger
	Metrics     *metrics.Recorder
}

// Result 汇总一次压缩的结果。
type Result struct {
	Compressed int
	Failed     int
	Skipped    int
}

// Run 递归遍历 dir 并为匹配的文件生成 .gz；单个文件失败只记录，不中断整体流程。
func Run(ctx context.Context, dir string, opts Options) (Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return Result{}, fmt.Errorf("%w: %s", ErrBuildDirMissing, dir)
	}

	exts := normalizeExtensions(opts.Extensions)
	files, skipped, err := collect(dir, exts)
	if err != nil {
		return Result{}, fmt.Errorf("walk %s: %w", dir, err)
	}

	logger.WithFields(logrus.Fields{
		"action": "compress",
		"dir":    dir,
		"files":  len(files),
	}).Info("compression started")

	limit := opts.Parallelism
	if limit <= 0 {
		limit = runtime.NumCPU()
	}

	var (
		mu     sync.Mutex
		result = Result{Skipped: skipped}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, file := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			fileErr := CompressFile(file)
			opts.Metrics.ObserveCompressed(fileErr)

			mu.Lock()
			defer mu.Unlock()
			if fileErr != nil {
				result.Failed++
				logger.WithFields(logrus.Fields{
					"action": "compress",
					"file":   file,
				}).WithError(fileErr).Error("compress failed")
				return nil
			}
			result.Compressed++
			logger.WithFields(logrus.Fields{
				"action": "compress",
				"file":   file,
				"output": file + ".gz",
			}).Debug("compressed")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}

	logger.WithFields(logrus.Fields{
		"action":     "compress",
		"compressed": result.Compressed,
		"failed":     result.Failed,
	}).Info("compression complete")
	return result, nil
}

// ShouldCompress 判断文件扩展名是否在 exts 中。
func ShouldCompress(path string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return false
	}
	for _, candidate := range exts {
		if candidate == ext {
			return true
		}
	}
	return false
}

// CompressFile 以最高压缩率写出 path.gz，先写临时文件再 rename。
func CompressFile(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	tmp, err := os.CreateTemp(filepath.Dir(path), ".gz-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	zw, err := gzip.NewWriterLevel(tmp, gzip.BestCompression)
	if err == nil {
		zw.Name = filepath.Base(path)
		_, err = io.Copy(zw, src)
		if closeErr := zw.Close(); err == nil {
			err = closeErr
		}
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path+".gz"); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func collect(dir string, exts []string) ([]string, int, error) {
	var (
		files   []string
		skipped int
	)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if ShouldCompress(path, exts) {
			files = append(files, path)
		} else {
			skipped++
		}
		return nil
	})
	return files, skipped, err
}

func normalizeExtensions(exts []string) []string {
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	result := make([]string, 0, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		result = append(result, ext)
	}
	return result
}
