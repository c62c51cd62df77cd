package crawler

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/coolbeans/policyfinder/pkg/doctext"
)

// defaultHeaders mimic a desktop browser; some regulator sites refuse
// requests without them.
var defaultHeaders = map[string]string{
	"User-Agent": "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36",
	"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
	"Accept-Language": "zh-CN,zh;q=0.9,en;q=0.5",
}

// Fetcher issues polite HTTP requests: a fixed delay plus random
// jitter before every request, browser-like headers, and a capped
// response size.
type Fetcher struct {
	client       *http.Client
	delay        time.Duration
	jitter       time.Duration
	maxBodyBytes int64
	rand         *rand.Rand
}

// NewFetcher returns a Fetcher that waits delay plus up to jitter
// before each request and times out after timeout.
func NewFetcher(delay, jitter, timeout time.Duration) *Fetcher {
	return &Fetcher{
		client:       &http.Client{Timeout: timeout},
		delay:        delay,
		jitter:       jitter,
		maxBodyBytes: 50 * 1024 * 1024,
		rand:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetClient replaces the HTTP client, for tests.
func (f *Fetcher) SetClient(client *http.Client) {
	f.client = client
}

// pause sleeps for the configured delay plus jitter, honoring ctx.
func (f *Fetcher) pause(ctx context.Context) error {
	wait := f.delay
	if f.jitter > 0 {
		wait += time.Duration(f.rand.Int63n(int64(f.jitter)))
	}
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (f *Fetcher) get(ctx context.Context, rawURL string) ([]byte, error) {
	if err := f.pause(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid URL %s: %w", rawURL, err)
	}
	for key, value := range defaultHeaders {
		req.Header.Set(key, value)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, rawURL)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read body of %s: %w", rawURL, err)
	}
	return data, nil
}

// FetchPage retrieves a listing or detail page and decodes it to
// UTF-8, sniffing GB18030/GBK and UTF-16 encodings.
func (f *Fetcher) FetchPage(ctx context.Context, rawURL string) (string, error) {
	data, err := f.get(ctx, rawURL)
	if err != nil {
		return "", err
	}
	return doctext.DecodeBytes(data), nil
}

// Download fetches a file into dir under the given filename, creating
// dir as needed, and returns the local path.
func (f *Fetcher) Download(ctx context.Context, rawURL, dir, filename string) (string, error) {
	data, err := f.get(ctx, rawURL)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}
	target := filepath.Join(dir, filename)
	if err := os.WriteFile(target, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", target, err)
	}
	return target, nil
}
