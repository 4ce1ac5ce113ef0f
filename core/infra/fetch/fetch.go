// Package fetch is the HTTP acquisition layer for version info documents and
// remote extension packages.
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/any-listen/any-listen-extension-store/core/extension"
	"github.com/any-listen/any-listen-extension-store/core/infra/logging"
	"github.com/any-listen/any-listen-extension-store/core/infra/schema"
)

const (
	DefaultTimeout      = 15 * time.Second
	DefaultMaxRedirects = 3
	DefaultRetries      = 3
	DefaultUserAgent    = "Mozilla/5.0 (Windows NT 10.0; WOW64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/69.0.3497.100 Safari/537.36"

	defaultMaxBodyBytes   = 256 << 20
	maxVersionInfoBytes   = 1 << 20
	defaultInitialBackoff = time.Second
	defaultMaxBackoff     = 10 * time.Second
)

// Options configures a Client. Zero durations, sizes and MaxRedirects take
// the defaults above; Retries is used as given.
type Options struct {
	Timeout      time.Duration
	MaxRedirects int
	Retries      int
	UserAgent    string
	MaxBodyBytes int64

	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// VersionInfo is the document behind an extension's version_info_url.
type VersionInfo struct {
	Version     string `json:"version"`
	DownloadURL string `json:"download_url"`
}

// Client performs bounded, retried HTTP requests.
type Client struct {
	http *http.Client
	opts Options
}

// StatusError reports a non-200 response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
}

// New builds a Client.
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxRedirects < 0 {
		opts.MaxRedirects = 0
	} else if opts.MaxRedirects == 0 {
		opts.MaxRedirects = DefaultMaxRedirects
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if strings.TrimSpace(opts.UserAgent) == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = defaultInitialBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = defaultMaxBackoff
	}
	maxRedirects := opts.MaxRedirects
	return &Client{
		opts: opts,
		http: &http.Client{
			Timeout: opts.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) > maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
	}
}

// VersionInfo fetches and validates the version info document at url. Both
// version and download_url must be present.
func (c *Client) VersionInfo(ctx context.Context, url string) (VersionInfo, error) {
	var body []byte
	err := c.retry(ctx, url, func() error {
		resp, err := c.do(ctx, http.MethodGet, url)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		body, err = io.ReadAll(io.LimitReader(resp.Body, maxVersionInfoBytes))
		return err
	})
	if err != nil {
		return VersionInfo{}, extension.Wrap(extension.ErrAcquisition, "version info "+url, err)
	}
	if err := schema.Validate(schema.VersionInfo, body); err != nil {
		return VersionInfo{}, extension.Wrap(extension.ErrAcquisition, "version info "+url, err)
	}
	var info VersionInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return VersionInfo{}, extension.Wrap(extension.ErrAcquisition, "version info "+url, err)
	}
	return info, nil
}

// Download writes the body at url to dst, replacing it on every attempt.
func (c *Client) Download(ctx context.Context, url, dst string) error {
	err := c.retry(ctx, url, func() error {
		resp, err := c.do(ctx, http.MethodGet, url)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.ContentLength > c.opts.MaxBodyBytes {
			return backoff.Permanent(fmt.Errorf("body too large: %d bytes", resp.ContentLength))
		}
		out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
		if err != nil {
			return backoff.Permanent(err)
		}
		n, err := io.Copy(out, io.LimitReader(resp.Body, c.opts.MaxBodyBytes+1))
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
		if n > c.opts.MaxBodyBytes {
			return backoff.Permanent(fmt.Errorf("body exceeds %d bytes", c.opts.MaxBodyBytes))
		}
		return nil
	})
	if err != nil {
		_ = os.Remove(dst)
		return extension.Wrap(extension.ErrAcquisition, "download "+url, err)
	}
	return nil
}

// Reachable issues a single HEAD request and reports whether it answered 200.
// Non-http(s) URLs are never reachable.
func (c *Client) Reachable(ctx context.Context, url string) bool {
	if !IsHTTP(url) {
		return false
	}
	resp, err := c.do(ctx, http.MethodHead, url)
	if err != nil {
		logging.Debug("fetch", "probe failed", "url", url, "err", err)
		return false
	}
	_ = resp.Body.Close()
	return true
}

// IsHTTP reports whether url uses the http or https scheme.
func IsHTTP(url string) bool {
	lower := strings.ToLower(url)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// do sends one request. Any status other than 200 is returned as a
// *StatusError with the body closed.
func (c *Client) do(ctx context.Context, method, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}
	return resp, nil
}

func (c *Client) retry(ctx context.Context, url string, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.opts.InitialBackoff
	policy.MaxInterval = c.opts.MaxBackoff
	policy.MaxElapsedTime = 0
	var b backoff.BackOff = backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.opts.Retries)), ctx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return err
		}
		if !retryable(err) {
			return backoff.Permanent(err)
		}
		logging.Debug("fetch", "request failed", "url", url, "attempt", attempt, "err", err)
		return err
	}, b)
}

func retryable(err error) bool {
	var status *StatusError
	if errors.As(err, &status) {
		return status.StatusCode == http.StatusTooManyRequests || status.StatusCode >= 500
	}
	return true
}
