package static

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, name string, data []byte) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, data, 0o644))
}

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func newStaticApp(t *testing.T) (*fiber.App, string) {
	t.Helper()
	root := t.TempDir()
	writeFile(t, root, "index.html", []byte("<html>home</html>"))
	writeFile(t, root, "main.dart.js", []byte("console.log('main')"))
	writeFile(t, root, "main.dart.js.gz", gzipBytes(t, []byte("console.log('main')")))
	writeFile(t, root, "canvaskit/canvaskit.wasm", []byte("\x00asm"))
	writeFile(t, root, "docs/index.html", []byte("<html>docs</html>"))
	writeFile(t, root, "LICENSE.unknownext", []byte("MIT"))

	srv, err := NewServer(root, nil)
	require.NoError(t, err)

	app := fiber.New()
	app.All("/*", srv.Handle)
	return app, root
}

func TestServesPrecompressedSibling(t *testing.T) {
	app, _ := newStaticApp(t)

	req := httptest.NewRequest(http.MethodGet, "/main.dart.js", nil)
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "gzip", resp.Header.Get("Content-Encoding"))
	require.Equal(t, "public, max-age=31536000", resp.Header.Get("Cache-Control"))
	require.Contains(t, resp.Header.Get("Content-Type"), "javascript")
	require.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	zr, err := gzip.NewReader(resp.Body)
	require.NoError(t, err)
	body, err := io.ReadAll(zr)
	require.NoError(t, err)
	require.Equal(t, "console.log('main')", string(body))
}

func TestServesPlainFileWithoutGzipSupport(t *testing.T) {
	app, _ := newStaticApp(t)

	for _, accept := range []string{"", "br", "gzip;q=0"} {
		req := httptest.NewRequest(http.MethodGet, "/main.dart.js", nil)
		if accept != "" {
			req.Header.Set("Accept-Encoding", accept)
		}
		resp, err := app.Test(req)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Empty(t, resp.Header.Get("Content-Encoding"), accept)
		require.Empty(t, resp.Header.Get("Cache-Control"), accept)
		body, _ := io.ReadAll(resp.Body)
		require.Equal(t, "console.log('main')", string(body))
	}
}

func TestServesIndexForDirectories(t *testing.T) {
	app, _ := newStaticApp(t)

	for path, want := range map[string]string{"/": "<html>home</html>", "/docs/": "<html>docs</html>"} {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Contains(t, resp.Header.Get("Content-Type"), "text/html")
		body, _ := io.ReadAll(resp.Body)
		require.Equal(t, want, string(body))
	}
}

func TestRejectsMissingAndTraversal(t *testing.T) {
	app, root := newStaticApp(t)
	writeFile(t, filepath.Dir(root), "secret.txt", []byte("secret"))

	for _, path := range []string{"/missing.js", "/../secret.txt", "/%2e%2e/secret.txt"} {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
		require.NoError(t, err)
		require.Equal(t, http.StatusNotFound, resp.StatusCode, path)
		require.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	}
}

func TestOptionsAndMethodHandling(t *testing.T) {
	app, _ := newStaticApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodOptions, "/main.dart.js", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, "GET, POST, OPTIONS", resp.Header.Get("Access-Control-Allow-Methods"))
	require.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Headers"))

	resp, err = app.Test(httptest.NewRequest(http.MethodDelete, "/main.dart.js", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestContentTypeFallbacks(t *testing.T) {
	require.Equal(t, "application/wasm", ContentType("canvaskit.wasm"))
	require.Contains(t, ContentType("app.json"), "application/json")
	require.Contains(t, ContentType("main.dart.js"), "javascript")
	require.Equal(t, "text/plain", ContentType("LICENSE.unknownext"))
	require.Equal(t, "text/plain", ContentType("Makefile"))
}

func TestAcceptsGzipNegotiation(t *testing.T) {
	app := fiber.New()
	app.Get("/", func(c fiber.Ctx) error {
		if acceptsGzip(c) {
			return c.SendString("gzip")
		}
		return c.SendString("identity")
	})

	cases := map[string]string{
		"gzip":                "gzip",
		"deflate, gzip;q=0.8": "gzip",
		"*":                   "gzip",
		"":                    "identity",
		"br, deflate":         "identity",
		"gzip;q=0":            "identity",
	}
	for accept, want := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if accept != "" {
			req.Header.Set("Accept-Encoding", accept)
		}
		resp, err := app.Test(req)
		require.NoError(t, err)
		body, _ := io.ReadAll(resp.Body)
		require.Equal(t, want, string(body), accept)
	}
}

func TestNewServerRequiresDirectory(t *testing.T) {
	_, err := NewServer(filepath.Join(t.TempDir(), "missing"), nil)
	require.Error(t, err)

	file := filepath.Join(t.TempDir(), "file.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	_, err = NewServer(file, nil)
	require.Error(t, err)
}
