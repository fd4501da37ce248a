package web

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"code.sajari.com/docconv"
	"github.com/poiesic/civicrag/core"
	"github.com/poiesic/civicrag/retry"
	"github.com/poiesic/civicrag/sources"
	"golang.org/x/time/rate"
)

const (
	// DefaultUserAgent is sent when no User-Agent is configured.
	DefaultUserAgent = "civicrag/1.0 (+civic content indexer)"

	defaultTimeout  = 30 * time.Second
	defaultMaxBytes = 20 << 20
)

// Adapter fetches seed targets of one source type over HTTP.
type Adapter struct {
	typ       core.SourceType
	targets   []sources.Target
	client    *http.Client
	limiter   *rate.Limiter
	userAgent string
	maxBytes  int64
	logger    *slog.Logger
}

var _ sources.Adapter = (*Adapter)(nil)

// Option configures an Adapter.
type Option func(*Adapter)

// WithHTTPClient sets the HTTP client. Default has a 30s timeout.
func WithHTTPClient(client *http.Client) Option {
	return func(a *Adapter) {
		if client != nil {
			a.client = client
		}
	}
}

// WithDelay spaces requests at least d apart. Zero disables the limit.
func WithDelay(d time.Duration) Option {
	return func(a *Adapter) {
		if d <= 0 {
			a.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		a.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(a *Adapter) {
		if ua != "" {
			a.userAgent = ua
		}
	}
}

// WithMaxBytes caps the size of a fetched body.
func WithMaxBytes(n int64) Option {
	return func(a *Adapter) {
		if n > 0 {
			a.maxBytes = n
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// New creates an adapter serving typ from the given targets. Targets of other
// types are ignored.
func New(typ core.SourceType, targets []sources.Target, opts ...Option) *Adapter {
	a := &Adapter{
		typ:       typ,
		client:    &http.Client{Timeout: defaultTimeout},
		limiter:   rate.NewLimiter(rate.Every(2*time.Second), 1),
		userAgent: DefaultUserAgent,
		maxBytes:  defaultMaxBytes,
		logger:    slog.Default(),
	}
	for _, t := range targets {
		if t.Type == typ {
			a.targets = append(a.targets, t)
		}
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("component", "web", "type", string(typ))
	return a
}

// Type implements sources.Adapter.
func (a *Adapter) Type() core.SourceType {
	return a.typ
}

// Discover implements sources.Adapter.
func (a *Adapter) Discover(ctx context.Context) ([]sources.Target, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return append([]sources.Target(nil), a.targets...), nil
}

// Fetch implements sources.Adapter. Client errors (4xx) are marked permanent
// so callers do not retry them.
func (a *Adapter) Fetch(ctx context.Context, target sources.Target) (*sources.RawRecord, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, sources.FetchError(target, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.URL, nil)
	if err != nil {
		return nil, retry.Permanent(sources.FetchError(target, err))
	}
	req.Header.Set("User-Agent", a.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/pdf;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "hi-IN,hi;q=0.9,en-IN;q=0.8,en;q=0.7")

	a.logger.Debug("fetching", "url", target.URL)
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, sources.FetchError(target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := sources.FetchError(target, fmt.Errorf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode)))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, retry.Permanent(err)
		}
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, a.maxBytes+1))
	if err != nil {
		return nil, sources.FetchError(target, fmt.Errorf("read body: %w", err))
	}
	if int64(len(body)) > a.maxBytes {
		return nil, retry.Permanent(sources.FetchError(target, fmt.Errorf("content too large (exceeds %d bytes)", a.maxBytes)))
	}

	contentType := mediaType(resp.Header.Get("Content-Type"), body)
	title, text, err := extract(contentType, body)
	if err != nil {
		return nil, retry.Permanent(sources.FetchError(target, err))
	}
	if title == "" {
		title = target.Title
	}

	return &sources.RawRecord{
		Target:      target,
		Title:       title,
		Text:        text,
		Payload:     body,
		ContentType: contentType,
		FetchedAt:   time.Now().UTC(),
	}, nil
}

// mediaType returns the media type of a response, sniffing the body when the
// header is missing or unusable.
func mediaType(header string, body []byte) string {
	if mt, _, err := mime.ParseMediaType(header); err == nil && mt != "application/octet-stream" {
		return mt
	}
	mt, _, _ := mime.ParseMediaType(http.DetectContentType(body))
	return mt
}

func extract(contentType string, body []byte) (title, text string, err error) {
	switch {
	case contentType == "text/html" || contentType == "application/xhtml+xml":
		return ExtractHTML(body)
	case strings.HasPrefix(contentType, "text/"):
		return "", string(body), nil
	default:
		res, err := docconv.Convert(bytes.NewReader(body), contentType, false)
		if err != nil {
			return "", "", fmt.Errorf("convert %s: %w", contentType, err)
		}
		return res.Meta["Title"], res.Body, nil
	}
}
