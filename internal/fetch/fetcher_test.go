package fetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/require"
)

func TestHTTPFetcherResolvesUpstream(t *testing.T) {
	var gotHost, gotForwardedHost, gotAcceptEncoding, gotPath string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHost = r.Host
		gotForwardedHost = r.Header.Get("X-Forwarded-Host")
		gotAcceptEncoding = r.Header.Get("Accept-Encoding")
		gotPath = r.URL.RequestURI()
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Connection", "close")
		_, _ = io.WriteString(w, `{"posts":[]}`)
	}))
	defer upstream.Close()

	base, _ := url.Parse(upstream.URL)
	fetcher := NewHTTPFetcher(upstream.Client(), func(u *url.URL) *url.URL {
		resolved := *u
		resolved.Scheme = base.Scheme
		resolved.Host = base.Host
		return &resolved
	})

	logical, _ := url.Parse("https://app.example.org/api/posts?page=2")
	header := http.Header{}
	header.Set("Accept-Encoding", "br")
	header.Set("X-Client", "shell")

	resp, err := fetcher.Fetch(context.Background(), &Request{Method: http.MethodGet, URL: logical, Header: header})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.Status)
	require.Equal(t, "OK", resp.StatusText)
	require.Equal(t, `{"posts":[]}`, string(resp.Body))
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	require.Empty(t, resp.Header.Get("Connection"))

	require.Equal(t, base.Host, gotHost)
	require.Equal(t, "app.example.org", gotForwardedHost)
	require.NotEqual(t, "br", gotAcceptEncoding)
	require.Equal(t, "/api/posts?page=2", gotPath)
}

func TestHTTPFetcherReturnsErrorStatusAsResponse(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer upstream.Close()

	target, _ := url.Parse(upstream.URL + "/missing.png")
	resp, err := NewHTTPFetcher(upstream.Client(), nil).Fetch(context.Background(), &Request{URL: target})
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.Status)
}

func TestHTTPFetcherPostsBody(t *testing.T) {
	var gotMethod, gotBody string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		raw, _ := io.ReadAll(r.Body)
		gotBody = string(raw)
		w.WriteHeader(http.StatusCreated)
	}))
	defer upstream.Close()

	target, _ := url.Parse(upstream.URL + "/api/comments")
	resp, err := NewHTTPFetcher(upstream.Client(), nil).Fetch(context.Background(), &Request{
		Method: http.MethodPost,
		URL:    target,
		Body:   []byte(`{"text":"hi"}`),
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.Status)
	require.Equal(t, http.MethodPost, gotMethod)
	require.Equal(t, `{"text":"hi"}`, gotBody)
}

func TestHTTPFetcherWrapsTransportFailure(t *testing.T) {
	client := &http.Client{}
	httpmock.ActivateNonDefault(client)
	defer httpmock.DeactivateAndReset()

	refused := errors.New("connection refused")
	httpmock.RegisterResponder(http.MethodGet, "https://app.example.org/images/logo.png",
		httpmock.NewErrorResponder(refused))

	target, _ := url.Parse("https://app.example.org/images/logo.png")
	_, err := NewHTTPFetcher(client, nil).Fetch(context.Background(), &Request{Method: http.MethodGet, URL: target})
	require.Error(t, err)

	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
	require.Equal(t, "https://app.example.org/images/logo.png", netErr.URL)
	require.ErrorIs(t, err, refused)
	require.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestHTTPFetcherRequiresURL(t *testing.T) {
	_, err := NewHTTPFetcher(nil, nil).Fetch(context.Background(), &Request{})
	require.Error(t, err)
}

func TestRequestHelpers(t *testing.T) {
	target, _ := url.Parse("https://app.example.org/a.png?v=1")
	req := &Request{URL: target}
	require.True(t, req.IsGet())
	require.Equal(t, "https://app.example.org/a.png?v=1", req.Key())

	req.Method = http.MethodPost
	require.False(t, req.IsGet())

	var empty *Request
	require.Equal(t, "", empty.Key())
	require.False(t, empty.IsGet())
}
