package server

import (
	"net/url"
	"testing"

	"github.com/shellcache/shellcache/internal/config"
)

func testSiteConfig() *config.Config {
	return &config.Config{
		Global: config.GlobalConfig{
			ListenPort: 5000,
			Origin:     "https://app.example.org",
		},
		Sites: []config.SiteConfig{
			{
				Name:     "app",
				Domain:   "app.example.org",
				Scheme:   "https",
				Upstream: "http://127.0.0.1:8080",
			},
			{
				Name:     "cms",
				Domain:   "cms.example.org",
				Upstream: "https://wordpress.internal",
			},
		},
	}
}

func TestSiteRegistryLookupByHost(t *testing.T) {
	registry, err := NewSiteRegistry(testSiteConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	route, ok := registry.Lookup("app.example.org")
	if !ok {
		t.Fatalf("expected app route")
	}
	if route.Config.Name != "app" {
		t.Errorf("wrong site returned: %s", route.Config.Name)
	}
	if route.UpstreamURL.String() != "http://127.0.0.1:8080" {
		t.Errorf("unexpected upstream URL: %s", route.UpstreamURL)
	}
	if route.PublicURL.String() != "https://app.example.org" {
		t.Errorf("unexpected public URL: %s", route.PublicURL)
	}
	if route.ListenPort != 5000 {
		t.Fatalf("route listen port mismatch: %d", route.ListenPort)
	}
	if got := len(registry.List()); got != 2 {
		t.Fatalf("expected 2 routes in list, got %d", got)
	}
}

func TestSiteRegistryParsesHostHeaderPort(t *testing.T) {
	registry, err := NewSiteRegistry(testSiteConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := registry.Lookup("APP.example.org:6000"); !ok {
		t.Fatalf("expected lookup to ignore host header port")
	}
	if _, ok := registry.Lookup(""); ok {
		t.Fatalf("empty host should not match")
	}
}

func TestSiteRegistryRejectsDuplicateDomains(t *testing.T) {
	cfg := testSiteConfig()
	cfg.Sites[1].Domain = "app.example.org"
	if _, err := NewSiteRegistry(cfg); err == nil {
		t.Fatalf("expected duplicate domain error")
	}
}

func TestSiteRegistryResolveUpstream(t *testing.T) {
	registry, err := NewSiteRegistry(testSiteConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	logical, _ := url.Parse("https://app.example.org/images/logo.png?v=3")
	resolved := registry.ResolveUpstream(logical)
	if resolved == nil || resolved.String() != "http://127.0.0.1:8080/images/logo.png?v=3" {
		t.Fatalf("unexpected upstream: %v", resolved)
	}

	logical, _ = url.Parse("https://cms.example.org/wp-json/wp/v2/posts")
	resolved = registry.ResolveUpstream(logical)
	if resolved == nil || resolved.String() != "https://wordpress.internal/wp-json/wp/v2/posts" {
		t.Fatalf("unexpected cms upstream: %v", resolved)
	}

	external, _ := url.Parse("https://fonts.example.net/roboto.woff2")
	if got := registry.ResolveUpstream(external); got != nil {
		t.Fatalf("external url should not be resolved, got %s", got)
	}

	wrongScheme, _ := url.Parse("http://app.example.org/x.png")
	if got := registry.ResolveUpstream(wrongScheme); got != nil {
		t.Fatalf("scheme mismatch should not be resolved, got %s", got)
	}
}

func TestSiteRouteLogicalURL(t *testing.T) {
	registry, _ := NewSiteRegistry(testSiteConfig())
	route, _ := registry.Lookup("app.example.org")

	got := route.LogicalURL("/api/posts", "page=2")
	if got.String() != "https://app.example.org/api/posts?page=2" {
		t.Fatalf("unexpected logical url: %s", got)
	}
	if root := route.LogicalURL("", ""); root.String() != "https://app.example.org/" {
		t.Fatalf("unexpected root url: %s", root)
	}
}
