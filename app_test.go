package mediawidget

import (
	"context"
	"fmt"
	"image"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/a-h/templ"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"github.com/eringen/mediawidget/views"
)

type stubRaster struct {
	calls atomic.Int32
}

func (s *stubRaster) FirstPage(ctx context.Context, src string) (image.Image, error) {
	s.calls.Add(1)
	return image.NewRGBA(image.Rect(0, 0, 400, 600)), nil
}

func testConfig(t *testing.T) SiteConfig {
	dir := t.TempDir()
	return SiteConfig{
		Name:          "Test",
		URL:           "http://example.com",
		DatabasePath:  filepath.Join(dir, "media.db"),
		MediaDir:      filepath.Join(dir, "media"),
		AdminPassword: "secret",
		SessionSecret: "0123456789abcdef0123456789abcdef",
		LoadMoreRate:  1000,
		LoadMoreBurst: 1000,
	}
}

func newTestAppWith(t *testing.T, cfg SiteConfig, opts ...Option) *App {
	t.Helper()
	opts = append([]Option{WithLogger(zerolog.Nop())}, opts...)
	a := New(cfg, opts...)
	require.NoError(t, a.Init())
	t.Cleanup(func() { a.Close() })
	return a
}

func newTestApp(t *testing.T, opts ...Option) (*App, *stubRaster) {
	t.Helper()
	raster := &stubRaster{}
	a := newTestAppWith(t, testConfig(t), append([]Option{WithRasterizer(raster)}, opts...)...)
	return a, raster
}

// seedFiles writes n files of the given type into category with strictly
// increasing creation times and returns them oldest first.
func seedFiles(t *testing.T, a *App, category int64, n int, mime string) []Attachment {
	t.Helper()
	ctx := context.Background()
	if _, err := a.Categories.Get(ctx, category); err != nil {
		require.NoError(t, a.Store.SaveCategory(ctx, &Category{ID: category, Name: fmt.Sprintf("Category %d", category), Slug: fmt.Sprintf("category-%d", category)}))
		a.Categories.Invalidate()
	}
	ext, body := ".png", pngBytes(t)
	if mime == MIMEPDF {
		ext, body = ".pdf", []byte("%PDF-1.4\n")
	}
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]Attachment, 0, n)
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("c%d-doc-%02d%s", category, i, ext)
		path := filepath.Join(a.Config.MediaDir, name)
		require.NoError(t, os.WriteFile(path, body, 0o644))
		att := Attachment{
			Title:      fmt.Sprintf("Doc %02d", i),
			MimeType:   mime,
			FilePath:   path,
			URL:        FileURL(a.Config.URL, a.Config.MediaURLPrefix, name),
			CategoryID: category,
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, a.Store.SaveAttachment(ctx, &att))
		out = append(out, att)
	}
	return out
}

func saveWidget(t *testing.T, a *App, w WidgetConfig) WidgetConfig {
	t.Helper()
	require.NoError(t, a.Store.SaveWidget(context.Background(), &w))
	return w
}

func doRequest(a *App, method, target string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	if method == http.MethodPost && body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	}
	rec := httptest.NewRecorder()
	a.Echo.ServeHTTP(rec, req)
	return rec
}

type renderedItem struct {
	ID     string
	Href   string
	Target string
	Src    string
	Title  string
	Note   string
}

type renderedMore struct {
	Target, Widget, Category, Offset, MaxItems string
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func hasClass(n *html.Node, class string) bool {
	v, _ := attr(n, "class")
	for _, c := range strings.Fields(v) {
		if c == class {
			return true
		}
	}
	return false
}

func walk(n *html.Node, fn func(*html.Node)) {
	fn(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

func textOf(n *html.Node) string {
	var b strings.Builder
	walk(n, func(c *html.Node) {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	})
	return b.String()
}

// parseWidget extracts media items and the load-more control from markup.
// Fragments parse fine as well: the parser supplies the missing document.
func parseWidget(t *testing.T, body string) ([]renderedItem, *renderedMore) {
	t.Helper()
	doc, err := html.Parse(strings.NewReader(body))
	require.NoError(t, err)
	var items []renderedItem
	var more *renderedMore
	walk(doc, func(n *html.Node) {
		if n.Type != html.ElementNode {
			return
		}
		switch {
		case n.Data == "div" && hasClass(n, "media-widget-post"):
			it := renderedItem{}
			it.ID, _ = attr(n, "data-id")
			walk(n, func(c *html.Node) {
				if c.Type != html.ElementNode {
					return
				}
				switch {
				case c.Data == "a":
					it.Href, _ = attr(c, "href")
					it.Target, _ = attr(c, "target")
				case c.Data == "img":
					it.Src, _ = attr(c, "src")
				case c.Data == "span" && hasClass(c, "media-widget-diagnostic"):
					it.Note = textOf(c)
				case c.Data == "div" && c.Parent == n:
					it.Title = textOf(c)
				}
			})
			items = append(items, it)
		case n.Data == "a" && hasClass(n, "mediawidget-readmore"):
			m := &renderedMore{}
			m.Target, _ = attr(n, "data-target")
			m.Widget, _ = attr(n, "data-widget")
			m.Category, _ = attr(n, "data-category")
			m.Offset, _ = attr(n, "data-offset")
			m.MaxItems, _ = attr(n, "data-maxitems")
			more = m
		}
	})
	return items, more
}

func itemIDs(items []renderedItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func attachmentIDs(media []Attachment) []string {
	out := make([]string, len(media))
	for i, m := range media {
		out[i] = fmt.Sprint(m.ID)
	}
	return out
}

func reversed(media []Attachment) []Attachment {
	out := make([]Attachment, len(media))
	for i, m := range media {
		out[len(media)-1-i] = m
	}
	return out
}

func TestInitRequiresSecrets(t *testing.T) {
	cfg := testConfig(t)
	cfg.AdminPassword = ""
	require.Error(t, New(cfg, WithLogger(zerolog.Nop())).Init())

	cfg = testConfig(t)
	cfg.SessionSecret = ""
	require.Error(t, New(cfg, WithLogger(zerolog.Nop())).Init())
}

func TestCustomRoutesAreRegistered(t *testing.T) {
	a, _ := newTestApp(t, WithCustomRoutes(func(a *App) {
		a.Echo.GET("/custom/", func(c echo.Context) error { return c.String(http.StatusOK, "custom") })
	}))
	rec := doRequest(a, http.MethodGet, "/custom/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "custom", rec.Body.String())
}

func TestHealthz(t *testing.T) {
	a, _ := newTestApp(t)
	rec := doRequest(a, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"ok"`)
	require.Contains(t, rec.Body.String(), `"rasterizer":true`)
}

func TestEmbeddedAssetsAreServed(t *testing.T) {
	a, _ := newTestApp(t)

	rec := doRequest(a, http.MethodGet, "/public/mediawidget.js", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "/loadmore/")

	rec = doRequest(a, http.MethodGet, "/public/mediawidget.css", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), ".media-widget-post")
}

func TestMetricsEndpoint(t *testing.T) {
	a, _ := newTestApp(t)
	seedFiles(t, a, 7, 1, MIMEPDF)
	w := saveWidget(t, a, WidgetConfig{CategoryID: 7})
	require.Equal(t, http.StatusOK, doRequest(a, http.MethodGet, fmt.Sprintf("/widgets/%d/", w.ID), nil).Code)

	rec := doRequest(a, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "mediawidget_thumbnails_total")
	require.Contains(t, rec.Body.String(), "mediawidget_http_requests_total")
}

func TestUnknownWidgetIs404(t *testing.T) {
	a, _ := newTestApp(t)
	require.Equal(t, http.StatusNotFound, doRequest(a, http.MethodGet, "/widgets/99/", nil).Code)
	require.Equal(t, http.StatusNotFound, doRequest(a, http.MethodGet, "/widgets/abc/", nil).Code)
}

func TestWithViewsReplacesSelectedComponents(t *testing.T) {
	list := func(items []views.MediaItem, d views.Display) templ.Component {
		return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
			_, err := fmt.Fprintf(w, "<ol data-items=\"%d\"></ol>", len(items))
			return err
		})
	}
	a, _ := newTestApp(t, WithViews(ViewFuncs{MediaList: list}))
	require.NotNil(t, a.Views.NotFound)
	seedFiles(t, a, 7, 3, MIMEPDF)

	rec := doRequest(a, http.MethodGet, "/loadmore/?category=7&offset=1&maxitems=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, `<ol data-items="2"></ol>`, rec.Body.String())

	rec = doRequest(a, http.MethodGet, "/widgets/99/", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), "The page you requested does not exist.")
}
