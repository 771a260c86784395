package fetcher

import (
	"bytes"
	"context"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/time/rate"

	"github.com/sells-group/wvfoia-sync/internal/resilience"
)

// maxBodyBytes caps how much of an entry page is read.
const maxBodyBytes = 4 << 20

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	BaseURL string
	Timeout time.Duration
	// UserAgents is the pool a random User-Agent is drawn from per request.
	// Empty uses the built-in browser list.
	UserAgents []string
	// MaxRequestsPerSecond is a hard request ceiling. Zero means unlimited.
	MaxRequestsPerSecond float64
	// NotFoundOn404 treats a 404 like a redirect instead of a transport error.
	NotFoundOn404 bool
	// Transport overrides the default round tripper (tests).
	Transport http.RoundTripper
}

// HTTPFetcher implements Fetcher using net/http. It never follows redirects
// and never retries; retry policy belongs to the caller.
type HTTPFetcher struct {
	client  *http.Client
	opts    HTTPOptions
	agents  *UserAgentPool
	limiter *rate.Limiter
}

// NewHTTPFetcher creates a new HTTPFetcher with the given options.
func NewHTTPFetcher(opts HTTPOptions) (*HTTPFetcher, error) {
	if opts.BaseURL == "" {
		return nil, eris.New("fetcher: base url is required")
	}
	if _, err := url.Parse(opts.BaseURL); err != nil {
		return nil, eris.Wrap(err, "fetcher: parse base url")
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}

	transport := opts.Transport
	if transport == nil {
		transport = &http.Transport{
			DialContext: (&net.Dialer{
				Timeout: 10 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout: 10 * time.Second,
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     90 * time.Second,
		}
	}

	limit := rate.Inf
	if opts.MaxRequestsPerSecond > 0 {
		limit = rate.Limit(opts.MaxRequestsPerSecond)
	}

	return &HTTPFetcher{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		opts:    opts,
		agents:  NewUserAgentPool(opts.UserAgents),
		limiter: rate.NewLimiter(limit, 1),
	}, nil
}

// EntryURL returns the detail page URL for id.
func (f *HTTPFetcher) EntryURL(id int) string {
	u, _ := url.Parse(f.opts.BaseURL)
	q := u.Query()
	q.Set("entryId", strconv.Itoa(id))
	u.RawQuery = q.Encode()
	return u.String()
}

// Fetch retrieves the entry page for id.
func (f *HTTPFetcher) Fetch(ctx context.Context, id int) (*Page, error) {
	log := zap.L().With(zap.String("component", "fetcher"), zap.Int("entry_id", id))
	target := f.EntryURL(id)

	if err := f.limiter.Wait(ctx); err != nil {
		return nil, &TransportError{ID: id, Err: eris.Wrap(err, "rate limiter wait")}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &TransportError{ID: id, Err: eris.Wrap(err, "create request")}
	}
	req.Header.Set("User-Agent", f.agents.Random())
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		log.Debug("request failed", zap.Error(err))
		return nil, &TransportError{ID: id, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		log.Debug("redirect, entry does not exist",
			zap.Int("status", resp.StatusCode),
			zap.String("location", resp.Header.Get("Location")),
		)
		return nil, ErrNotFound
	case resp.StatusCode == http.StatusNotFound && f.opts.NotFoundOn404:
		return nil, ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		statusErr := eris.Errorf("unexpected status %d from %s", resp.StatusCode, target)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			statusErr = resilience.NewTransientError(statusErr, resp.StatusCode)
		}
		return nil, &TransportError{ID: id, StatusCode: resp.StatusCode, Err: statusErr}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &TransportError{ID: id, StatusCode: resp.StatusCode, Err: eris.Wrap(err, "read body")}
	}

	body, err := decodeBody(raw, resp.Header.Get("Content-Type"))
	if err != nil {
		log.Warn("charset decode failed, using raw body", zap.Error(err))
		body = raw
	}

	return &Page{
		ID:         id,
		URL:        target,
		StatusCode: resp.StatusCode,
		Body:       body,
	}, nil
}

// decodeBody converts raw to UTF-8 using the charset named in contentType.
func decodeBody(raw []byte, contentType string) ([]byte, error) {
	if contentType == "" {
		return raw, nil
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return raw, nil
	}
	charset := strings.ToLower(strings.TrimSpace(params["charset"]))
	if charset == "" || charset == "utf-8" || charset == "utf8" {
		return raw, nil
	}

	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: unsupported charset %q", charset)
	}
	out, err := io.ReadAll(enc.NewDecoder().Reader(bytes.NewReader(raw)))
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: decode %s", charset)
	}
	return out, nil
}
