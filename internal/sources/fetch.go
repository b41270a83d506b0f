package sources

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"fabricsync/internal"
	"fabricsync/internal/config"
)

// maxDocumentBytes caps a single fetched document.
const maxDocumentBytes = 64 << 20

// Fetcher downloads raw supplier documents. It never retries: a failed fetch
// is reported as SourceUnavailableError and picked up by the next scheduled run.
type Fetcher struct {
	httpClient *http.Client
	limiter    *RateLimiter
	userAgent  string
}

func NewFetcher(cfg config.Config) *Fetcher {
	return &Fetcher{
		httpClient: &http.Client{Timeout: cfg.FetchTimeout()},
		limiter:    NewRateLimiter(cfg.FetchRateLimitRPS),
		userAgent:  cfg.FetchUserAgent,
	}
}

func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (internal.Document, error) {
	if strings.TrimSpace(rawURL) == "" {
		return internal.Document{}, &internal.SourceUnavailableError{Source: "(empty url)", Err: fmt.Errorf("no url configured")}
	}
	if err := f.limiter.WaitTurn(ctx); err != nil {
		return internal.Document{}, &internal.SourceUnavailableError{Source: rawURL, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return internal.Document{}, &internal.SourceUnavailableError{Source: rawURL, Err: err}
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	started := time.Now()
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return internal.Document{}, &internal.SourceUnavailableError{Source: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return internal.Document{}, &internal.SourceUnavailableError{
			Source: rawURL,
			Err:    fmt.Errorf("http %d after %s: %s", resp.StatusCode, time.Since(started).Round(time.Millisecond), strings.TrimSpace(string(snippet))),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes+1))
	if err != nil {
		return internal.Document{}, &internal.SourceUnavailableError{Source: rawURL, Err: err}
	}
	if len(body) > maxDocumentBytes {
		return internal.Document{}, &internal.SourceUnavailableError{Source: rawURL, Err: fmt.Errorf("document exceeds %d bytes", maxDocumentBytes)}
	}

	return internal.Document{
		Name:        documentName(rawURL, resp.Header.Get("Content-Disposition")),
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

func documentName(rawURL, disposition string) string {
	if disposition != "" {
		if _, params, err := mime.ParseMediaType(disposition); err == nil && params["filename"] != "" {
			return params["filename"]
		}
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	if base := path.Base(u.Path); base != "." && base != "/" {
		return base
	}
	return u.Host
}
