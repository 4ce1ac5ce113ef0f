package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/any-listen/any-listen-extension-store/core/extension"
)

func testClient(retries int) *Client {
	return New(Options{
		Timeout:        2 * time.Second,
		Retries:        retries,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	})
}

func TestVersionInfo(t *testing.T) {
	var ua atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua.Store(r.UserAgent())
		switch r.URL.Path {
		case "/ok":
			_, _ = w.Write([]byte(`{"version":"1.2.0","download_url":"https://x/demo.alix"}`))
		case "/partial":
			_, _ = w.Write([]byte(`{"version":"1.2.0"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := testClient(0)
	info, err := c.VersionInfo(context.Background(), srv.URL+"/ok")
	if err != nil {
		t.Fatalf("version info: %v", err)
	}
	if info.Version != "1.2.0" || info.DownloadURL != "https://x/demo.alix" {
		t.Fatalf("unexpected info: %#v", info)
	}
	if ua.Load() != DefaultUserAgent {
		t.Fatalf("expected default user agent, got %v", ua.Load())
	}
	if _, err := c.VersionInfo(context.Background(), srv.URL+"/partial"); !errors.Is(err, extension.ErrAcquisition) {
		t.Fatalf("expected acquisition error for missing download_url, got %v", err)
	}
	_, err = c.VersionInfo(context.Background(), srv.URL+"/missing")
	var status *StatusError
	if !errors.As(err, &status) || status.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 status error, got %v", err)
	}
}

func TestRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("package-bytes"))
	}))
	defer srv.Close()

	dst := filepath.Join(t.TempDir(), "pkg.alix")
	if err := testClient(3).Download(context.Background(), srv.URL, dst); err != nil {
		t.Fatalf("download: %v", err)
	}
	data, err := os.ReadFile(dst)
	if err != nil || string(data) != "package-bytes" {
		t.Fatalf("unexpected body %q %v", data, err)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestNoRetryOnClientError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	dst := filepath.Join(t.TempDir(), "pkg.alix")
	if err := testClient(3).Download(context.Background(), srv.URL, dst); !errors.Is(err, extension.ErrAcquisition) {
		t.Fatalf("expected acquisition error, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("4xx must not be retried, got %d calls", calls)
	}
	if _, err := os.Stat(dst); !os.IsNotExist(err) {
		t.Fatalf("failed download should leave no file")
	}
}

func TestDownloadSizeLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 64))
	}))
	defer srv.Close()

	c := New(Options{Retries: 0, MaxBodyBytes: 16})
	if err := c.Download(context.Background(), srv.URL, filepath.Join(t.TempDir(), "x")); err == nil {
		t.Fatalf("expected size limit error")
	}
}

func TestRedirectCap(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, srv.URL+r.URL.Path+"x", http.StatusFound)
	}))
	defer srv.Close()

	if testClient(0).Reachable(context.Background(), srv.URL+"/a") {
		t.Fatalf("endless redirects must not be reachable")
	}
}

func TestReachable(t *testing.T) {
	var method atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method.Store(r.Method)
		if r.URL.Path == "/gone" {
			w.WriteHeader(http.StatusGone)
		}
	}))
	defer srv.Close()

	c := testClient(0)
	if !c.Reachable(context.Background(), srv.URL+"/pkg.alix") {
		t.Fatalf("expected reachable")
	}
	if method.Load() != http.MethodHead {
		t.Fatalf("expected HEAD probe, got %v", method.Load())
	}
	if c.Reachable(context.Background(), srv.URL+"/gone") {
		t.Fatalf("410 must be unreachable")
	}
	if c.Reachable(context.Background(), "ftp://example.test/pkg.alix") {
		t.Fatalf("non-http url must be unreachable")
	}
	if c.Reachable(context.Background(), "/local/path.alix") {
		t.Fatalf("local path must be unreachable")
	}
}
