package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/poiesic/civicrag/core"
	"github.com/poiesic/civicrag/retry"
	"github.com/poiesic/civicrag/sources"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const articlePage = `<!DOCTYPE html>
<html>
<head>
  <title>Site | वार्ड 12 में पानी</title>
  <meta property="og:title" content="वार्ड 12 में पानी की आपूर्ति बहाल">
  <script>var tracking = "ignored";</script>
  <style>body { color: red; }</style>
</head>
<body>
  <nav>Home | City | Politics</nav>
  <header>Breaking news ticker</header>
  <article>
    <h1>वार्ड 12 में पानी की आपूर्ति बहाल</h1>
    <p>इंदौर नगर निगम ने वार्ड 12 में पानी की आपूर्ति फिर से शुरू की।</p>
    <p>Residents had complained about the outage for a week.</p>
    <script>alert("ignored")</script>
  </article>
  <aside>Related stories</aside>
  <footer>Copyright</footer>
</body>
</html>`

func TestExtractHTML_PrefersArticle(t *testing.T) {
	title, text, err := ExtractHTML([]byte(articlePage))
	require.NoError(t, err)

	assert.Equal(t, "वार्ड 12 में पानी की आपूर्ति बहाल", title)
	assert.Contains(t, text, "इंदौर नगर निगम")
	assert.Contains(t, text, "Residents had complained")
	for _, dropped := range []string{"Home | City", "ticker", "Related stories", "Copyright", "ignored", "color: red"} {
		assert.NotContains(t, text, dropped)
	}
}

func TestExtractHTML_FallsBackToBody(t *testing.T) {
	page := `<html><head><title> Plain  page </title></head><body><nav>menu</nav><div>Body text here.</div><footer>foot</footer></body></html>`
	title, text, err := ExtractHTML([]byte(page))
	require.NoError(t, err)

	assert.Equal(t, "Plain page", title)
	assert.Equal(t, "Body text here.", text)
}

func TestExtractHTML_RoleMain(t *testing.T) {
	page := `<html><body><div>outside</div><div role="main"><p>inside</p></div></body></html>`
	_, text, err := ExtractHTML([]byte(page))
	require.NoError(t, err)
	assert.Equal(t, "inside", text)
}

func newTarget(t *testing.T, url string) sources.Target {
	t.Helper()
	target, err := sources.NewTarget(core.SourceTypeMedia, url, "seed title")
	require.NoError(t, err)
	return target
}

func TestFetch_HTML(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(articlePage))
	}))
	defer srv.Close()

	target := newTarget(t, srv.URL+"/news/1")
	a := New(core.SourceTypeMedia, []sources.Target{target}, WithDelay(0), WithUserAgent("test-agent/1.0"))

	rec, err := a.Fetch(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, "test-agent/1.0", gotUA)
	assert.Equal(t, "text/html", rec.ContentType)
	assert.Equal(t, "वार्ड 12 में पानी की आपूर्ति बहाल", rec.Title)
	assert.Contains(t, rec.Text, "इंदौर नगर निगम")
	assert.Equal(t, []byte(articlePage), rec.Payload)
	assert.Equal(t, target, rec.Target)
	assert.False(t, rec.FetchedAt.IsZero())
}

func TestFetch_PlainTextUsesSeedTitle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("transcript text"))
	}))
	defer srv.Close()

	target := newTarget(t, srv.URL+"/t")
	rec, err := New(core.SourceTypeMedia, nil, WithDelay(0)).Fetch(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, "transcript text", rec.Text)
	assert.Equal(t, "seed title", rec.Title)
}

func TestFetch_StatusErrors(t *testing.T) {
	status := http.StatusNotFound
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()

	a := New(core.SourceTypeMedia, nil, WithDelay(0))
	target := newTarget(t, srv.URL+"/gone")

	_, err := a.Fetch(context.Background(), target)
	assert.ErrorIs(t, err, core.ErrFetch)
	assert.True(t, retry.IsPermanent(err), "4xx must not be retried")

	status = http.StatusBadGateway
	_, err = a.Fetch(context.Background(), target)
	assert.ErrorIs(t, err, core.ErrFetch)
	assert.False(t, retry.IsPermanent(err), "5xx is transient")

	status = http.StatusTooManyRequests
	_, err = a.Fetch(context.Background(), target)
	assert.False(t, retry.IsPermanent(err))
}

func TestFetch_TooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write(make([]byte, 64))
	}))
	defer srv.Close()

	_, err := New(core.SourceTypeMedia, nil, WithDelay(0), WithMaxBytes(16)).Fetch(context.Background(), newTarget(t, srv.URL))
	assert.ErrorIs(t, err, core.ErrFetch)
	assert.True(t, retry.IsPermanent(err))
}

func TestFetch_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	a := New(core.SourceTypeMedia, nil, WithDelay(time.Hour))
	target := newTarget(t, srv.URL)

	_, err := a.Fetch(context.Background(), target)
	require.NoError(t, err, "the first request uses the burst")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = a.Fetch(ctx, target)
	assert.ErrorIs(t, err, core.ErrFetch)
}

func TestDiscover_FiltersByType(t *testing.T) {
	media := newTarget(t, "https://example.org/a")
	gov, err := sources.NewTarget(core.SourceTypeGovernment, "https://imc.gov.in/b", "")
	require.NoError(t, err)

	a := New(core.SourceTypeMedia, []sources.Target{media, gov})
	assert.Equal(t, core.SourceTypeMedia, a.Type())

	targets, err := a.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []sources.Target{media}, targets)
}
