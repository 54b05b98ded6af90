// Package static 提供前端构建目录的静态文件服务，客户端接受 gzip 时优先返回预压缩的 <file>.gz。
package static

import (
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/shellcache/shellcache/internal/logging"
)

const (
	indexFile = "index.html"
	// precompressedCacheControl 仅用于 .gz 版本，构建产物按内容更新。
	precompressedCacheControl = "public, max-age=31536000"
)

// Server 以 root 为根目录提供静态文件。
type Server struct {
	root   string
	logger *logrus.Logger
}

// NewServer 校验 root 为已存在目录。
func NewServer(root string, logger *logrus.Logger) (*Server, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve static root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("static root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("static root %s is not a directory", abs)
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Server{root: abs, logger: logger}, nil
}

// Root 返回绝对根目录。
func (s *Server) Root() string {
	return s.root
}

// Handle 服务单个请求。所有响应都带 CORS 头。
func (s *Server) Handle(c fiber.Ctx) error {
	setCORSHeaders(c)

	switch c.Method() {
	case http.MethodOptions:
		return c.SendStatus(fiber.StatusNoContent)
	case http.MethodGet, http.MethodHead:
	default:
		return c.Status(fiber.StatusMethodNotAllowed).JSON(fiber.Map{"error": "method_not_allowed"})
	}

	target, ok := s.resolve(string(c.Request().URI().Path()))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found"})
	}

	if acceptsGzip(c) {
		gzPath := target + ".gz"
		if info, err := os.Stat(gzPath); err == nil && info.Mode().IsRegular() {
			c.Set(fiber.HeaderContentEncoding, "gzip")
			c.Set(fiber.HeaderCacheControl, precompressedCacheControl)
			c.Set(fiber.HeaderVary, fiber.HeaderAcceptEncoding)
			return s.sendFile(c, gzPath, target)
		}
	}
	return s.sendFile(c, target, target)
}

// resolve 将 URL 路径映射到 root 内的普通文件，目录回退到 index.html。
func (s *Server) resolve(urlPath string) (string, bool) {
	clean := path.Clean("/" + urlPath)
	target := filepath.Join(s.root, filepath.FromSlash(clean))
	rel, err := filepath.Rel(s.root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}

	info, err := os.Stat(target)
	if err != nil {
		return "", false
	}
	if info.IsDir() {
		target = filepath.Join(target, indexFile)
		info, err = os.Stat(target)
		if err != nil {
			return "", false
		}
	}
	if !info.Mode().IsRegular() {
		return "", false
	}
	return target, true
}

// sendFile 读取 file 并以 typeFrom 的扩展名决定 Content-Type。
func (s *Server) sendFile(c fiber.Ctx, file, typeFrom string) error {
	info, err := os.Stat(file)
	if err != nil {
		return s.fail(c, file, err)
	}
	c.Set(fiber.HeaderContentType, ContentType(typeFrom))
	c.Set(fiber.HeaderLastModified, info.ModTime().UTC().Format(http.TimeFormat))

	payload, err := os.ReadFile(file)
	if err != nil {
		return s.fail(c, file, err)
	}
	return c.Status(fiber.StatusOK).Send(payload)
}

func (s *Server) fail(c fiber.Ctx, file string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found"})
	}
	s.logger.WithFields(logrus.Fields{
		"action": "static_serve",
		"file":   file,
	}).WithError(err).Error("static file read failed")
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "read_failed"})
}

func setCORSHeaders(c fiber.Ctx) {
	c.Set(fiber.HeaderAccessControlAllowOrigin, "*")
	c.Set(fiber.HeaderAccessControlAllowMethods, "GET, POST, OPTIONS")
	c.Set(fiber.HeaderAccessControlAllowHeaders, "*")
}

// acceptsGzip 交给 Fiber 做 Accept-Encoding 协商（含 q=0 拒绝）；缺失该头时 Fiber 会接受任意编码，这里视为不支持。
func acceptsGzip(c fiber.Ctx) bool {
	if c.Get(fiber.HeaderAcceptEncoding) == "" {
		return false
	}
	return c.AcceptsEncodings("gzip") != ""
}

// ContentType 先查系统 MIME 表，再回退到 js/json/wasm，最后为 text/plain。
func ContentType(file string) string {
	ext := strings.ToLower(filepath.Ext(file))
	if ext != "" {
		if mt := mime.TypeByExtension(ext); mt != "" {
			return mt
		}
	}
	switch ext {
	case ".js":
		return "application/javascript"
	case ".json":
		return "application/json"
	case ".wasm":
		return "application/wasm"
	default:
		return "text/plain"
	}
}
