package sources

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/poiesic/civicrag/core"
)

// Target is one item an adapter can fetch.
type Target struct {
	// ExternalID is the stable identifier of the source: a canonical URL or a platform ID.
	ExternalID string
	Type       core.SourceType
	// URL is what the adapter fetches. It is usually the same as ExternalID.
	URL string
	// Title is an optional title hint used when the payload carries none.
	Title string
}

// Key returns the natural key the target will be stored under.
func (t Target) Key() core.SourceKey {
	return core.SourceKey{ExternalID: t.ExternalID, Type: t.Type}
}

// RawRecord is the result of fetching a target.
type RawRecord struct {
	Target Target
	Title  string
	// Text is the extracted, not yet normalized, text of the payload.
	Text string
	// Payload is the body as received, kept for archiving.
	Payload     []byte
	ContentType string
	FetchedAt   time.Time
}

// Adapter fetches raw content for one source type.
// Implementations must be safe for concurrent use.
type Adapter interface {
	// Type returns the source type this adapter serves.
	Type() core.SourceType

	// Discover lists the targets currently known to the adapter.
	Discover(ctx context.Context) ([]Target, error)

	// Fetch retrieves a target. Errors wrap core.ErrFetch.
	Fetch(ctx context.Context, target Target) (*RawRecord, error)
}

// FetchError wraps err as a core.ErrFetch for target.
func FetchError(target Target, err error) error {
	return fmt.Errorf("%w: %s: %w", core.ErrFetch, target.URL, err)
}

// CanonicalURL returns the form of raw used as an external identifier:
// lower-case scheme and host, no fragment, no trailing slash on the path.
func CanonicalURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host in %q", ErrInvalidURL, raw)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	if len(u.Path) > 1 {
		u.Path = strings.TrimRight(u.Path, "/")
		u.RawPath = ""
	}
	return u.String(), nil
}

// NewTarget builds a target for a URL, using its canonical form as the external ID.
func NewTarget(typ core.SourceType, rawURL, title string) (Target, error) {
	if !typ.Valid() {
		return Target{}, fmt.Errorf("%w: %q", core.ErrInvalidSourceType, typ)
	}
	id, err := CanonicalURL(rawURL)
	if err != nil {
		return Target{}, err
	}
	return Target{ExternalID: id, Type: typ, URL: strings.TrimSpace(rawURL), Title: title}, nil
}
