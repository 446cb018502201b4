package download

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"
)

// Fetcher opens a byte stream for a URL. total is the expected length, or
// -1 when unknown.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (body io.ReadCloser, total int64, err error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, url string) (io.ReadCloser, int64, error)

func (f FetcherFunc) Fetch(ctx context.Context, url string) (io.ReadCloser, int64, error) {
	return f(ctx, url)
}

// HTTPFetcher fetches over HTTP(S). Model files are large, so there is no
// overall client timeout; connect and response-header waits are bounded.
type HTTPFetcher struct {
	Client    *http.Client
	UserAgent string
}

func NewHTTPFetcher() *HTTPFetcher {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.DialContext = (&net.Dialer{Timeout: 15 * time.Second, KeepAlive: 30 * time.Second}).DialContext
	tr.ResponseHeaderTimeout = 30 * time.Second
	return &HTTPFetcher{Client: &http.Client{Transport: tr}, UserAgent: "studycored"}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	if f.UserAgent != "" {
		req.Header.Set("User-Agent", f.UserAgent)
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, 0, &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}
	return resp.Body, resp.ContentLength, nil
}
