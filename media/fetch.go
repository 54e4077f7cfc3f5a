package media

import (
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strconv"
	"strings"
	"time"
)

// ErrNotCached is returned by Fetcher.Cached on a miss.
var ErrNotCached = errors.New("media: not in cache")

// StatusError reports a non-success HTTP status.
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: status %d", e.URL, e.Status)
}

const (
	defaultUserAgent = "hoversave/1.0 (+https://github.com/hoversave)"
	defaultTimeout   = 20 * time.Second
	defaultMaxBytes  = 256 << 20
)

// FetcherConfig tunes a Fetcher. Zero values pick defaults.
type FetcherConfig struct {
	Client    *http.Client
	UserAgent string
	Timeout   time.Duration
	MaxBytes  int64
	Cache     *Cache
}

// Fetcher downloads media bodies and keeps the response cache warm.
type Fetcher struct {
	client   *http.Client
	ua       string
	maxBytes int64
	cache    *Cache
}

// Response is a fetched body. Truncated is set for ranged fetches that did
// not cover the whole resource.
type Response struct {
	URL       string
	Status    int
	MIME      string
	Data      []byte
	Truncated bool
}

func NewFetcher(cfg FetcherConfig) *Fetcher {
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		jar, _ := cookiejar.New(nil)
		client = &http.Client{Timeout: timeout, Jar: jar}
	}
	ua := strings.TrimSpace(cfg.UserAgent)
	if ua == "" {
		ua = defaultUserAgent
	}
	max := cfg.MaxBytes
	if max <= 0 {
		max = defaultMaxBytes
	}
	return &Fetcher{client: client, ua: ua, maxBytes: max, cache: cfg.Cache}
}

// Cache exposes the response cache shared with the fetcher (may be nil).
func (f *Fetcher) Cache() *Cache { return f.cache }

// Cached returns a body only if it is already cached; it never hits the network.
func (f *Fetcher) Cached(rawURL string) ([]byte, string, error) {
	if strings.HasPrefix(rawURL, "data:") {
		data, mt, err := DecodeDataURI(rawURL)
		if err != nil {
			return nil, "", err
		}
		return data, mt, nil
	}
	data, mt, ok := f.cache.Get(rawURL)
	if !ok {
		return nil, "", ErrNotCached
	}
	return data, mt, nil
}

// Get downloads the full body of rawURL. Successful media responses are cached.
func (f *Fetcher) Get(ctx context.Context, rawURL, referer string) (*Response, error) {
	if strings.HasPrefix(rawURL, "data:") {
		data, mt, err := DecodeDataURI(rawURL)
		if err != nil {
			return nil, err
		}
		return &Response{URL: rawURL, Status: http.StatusOK, MIME: mt, Data: data}, nil
	}
	req, err := f.newRequest(ctx, rawURL, referer, "image/*,video/*,*/*;q=0.8")
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{URL: rawURL, Status: resp.StatusCode}
	}
	body, cleanup := decodeBody(resp)
	defer cleanup()
	data, err := io.ReadAll(io.LimitReader(body, f.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rawURL, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("fetch %s: empty body", rawURL)
	}
	mt := SniffMIME(data, resp.Header.Get("Content-Type"))
	if resp.StatusCode == http.StatusOK && isMediaType(mt) {
		f.cache.Put(rawURL, data, mt)
	}
	return &Response{URL: rawURL, Status: resp.StatusCode, MIME: mt, Data: data}, nil
}

// Head fetches at most n leading bytes using a Range request. Servers that
// ignore Range are read only up to n bytes.
func (f *Fetcher) Head(ctx context.Context, rawURL string, n int) (*Response, error) {
	if n <= 0 {
		return nil, fmt.Errorf("head %s: invalid length %d", rawURL, n)
	}
	if strings.HasPrefix(rawURL, "data:") {
		r, err := f.Get(ctx, rawURL, "")
		if err != nil {
			return nil, err
		}
		if len(r.Data) > n {
			r.Data = r.Data[:n]
			r.Truncated = true
		}
		return r, nil
	}
	if data, mt, ok := f.cache.Get(rawURL); ok {
		r := &Response{URL: rawURL, Status: http.StatusOK, MIME: mt, Data: data}
		if len(data) > n {
			r.Data, r.Truncated = data[:n], true
		}
		return r, nil
	}
	req, err := f.newRequest(ctx, rawURL, "", "image/*,*/*;q=0.8")
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", "bytes=0-"+strconv.Itoa(n-1))
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("head %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return nil, &StatusError{URL: rawURL, Status: resp.StatusCode}
	}
	body, cleanup := decodeBody(resp)
	defer cleanup()
	data, err := io.ReadAll(io.LimitReader(body, int64(n)+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rawURL, err)
	}
	r := &Response{URL: rawURL, Status: resp.StatusCode}
	if len(data) > n {
		data = data[:n]
		r.Truncated = true
	}
	if resp.StatusCode == http.StatusPartialContent {
		total := contentRangeTotal(resp.Header.Get("Content-Range"))
		r.Truncated = total < 0 || total > int64(len(data))
	}
	r.Data = data
	r.MIME = SniffMIME(data, resp.Header.Get("Content-Type"))
	return r, nil
}

// Text fetches a textual resource such as a stylesheet or an HTML document.
func (f *Fetcher) Text(ctx context.Context, rawURL, accept string) ([]byte, http.Header, error) {
	if accept == "" {
		accept = "text/*"
	}
	req, err := f.newRequest(ctx, rawURL, "", accept)
	if err != nil {
		return nil, nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, resp.Header, &StatusError{URL: rawURL, Status: resp.StatusCode}
	}
	body, cleanup := decodeBody(resp)
	defer cleanup()
	data, err := io.ReadAll(io.LimitReader(body, f.maxBytes))
	if err != nil {
		return nil, resp.Header, fmt.Errorf("read %s: %w", rawURL, err)
	}
	return data, resp.Header, nil
}

func (f *Fetcher) newRequest(ctx context.Context, rawURL, referer, accept string) (*http.Request, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", f.ua)
	if referer != "" {
		req.Header.Set("Referer", referer)
	}
	return req, nil
}

func decodeBody(resp *http.Response) (io.Reader, func()) {
	var rc io.ReadCloser = resp.Body
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip":
		if gr, err := gzip.NewReader(resp.Body); err == nil {
			rc = gr
		}
	case "deflate":
		if zr, err := zlib.NewReader(resp.Body); err == nil {
			rc = zr
		} else {
			rc = flate.NewReader(resp.Body)
		}
	}
	if rc == resp.Body {
		return rc, func() {}
	}
	return rc, func() { _ = rc.Close() }
}

// contentRangeTotal parses "bytes 0-1023/4096"; -1 when the total is unknown.
func contentRangeTotal(v string) int64 {
	i := strings.LastIndexByte(v, '/')
	if i < 0 {
		return -1
	}
	total, err := strconv.ParseInt(strings.TrimSpace(v[i+1:]), 10, 64)
	if err != nil {
		return -1
	}
	return total
}

func isMediaType(mt string) bool {
	return strings.HasPrefix(mt, "image/") || strings.HasPrefix(mt, "video/")
}
