package mediawidget

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func loadMore(t *testing.T, a *App, form url.Values) ([]renderedItem, string) {
	t.Helper()
	rec := doRequest(a, http.MethodPost, "/loadmore/", strings.NewReader(form.Encode()))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	items, more := parseWidget(t, rec.Body.String())
	require.Nil(t, more, "fragments never carry a load-more control")
	return items, rec.Header().Get(CountHeader)
}

func TestWidgetFirstPageAndLoadMore(t *testing.T) {
	a, raster := newTestApp(t)
	added := seedFiles(t, a, 7, 12, MIMEPDF)
	newest := reversed(added)
	w := saveWidget(t, a, WidgetConfig{Title: "Reports", CategoryID: 7})

	rec := doRequest(a, http.MethodGet, fmt.Sprintf("/widgets/%d/", w.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, fmt.Sprintf(`id="mediawidget-%d"`, w.ID))

	items, more := parseWidget(t, body)
	require.Equal(t, attachmentIDs(newest[:5]), itemIDs(items))
	for i, it := range items {
		require.Equal(t, newest[i].URL, it.Href)
		require.True(t, strings.HasSuffix(it.Src, "-image.png"), it.Src)
		require.Equal(t, newest[i].Title, it.Title)
		require.Empty(t, it.Note)
		_, err := os.Stat(a.Thumbs.DerivedPath(newest[i].FilePath))
		require.NoError(t, err)
	}
	require.EqualValues(t, 5, raster.calls.Load())

	require.NotNil(t, more)
	require.Equal(t, renderedMore{
		Target:   fmt.Sprintf("mediawidget-%d", w.ID),
		Widget:   fmt.Sprint(w.ID),
		Category: "7",
		Offset:   "5",
		MaxItems: "5",
	}, *more)

	page2, count := loadMore(t, a, url.Values{"category": {"7"}, "offset": {"5"}, "maxitems": {"5"}})
	require.Equal(t, "5", count)
	require.Equal(t, attachmentIDs(newest[5:10]), itemIDs(page2))

	page3, count := loadMore(t, a, url.Values{"category": {"7"}, "offset": {"10"}, "maxitems": {"5"}})
	require.Equal(t, "2", count)
	require.Equal(t, attachmentIDs(newest[10:]), itemIDs(page3))

	page4, count := loadMore(t, a, url.Values{"category": {"7"}, "offset": {"15"}, "maxitems": {"5"}})
	require.Equal(t, "0", count)
	require.Empty(t, page4)

	all := append(append(items, page2...), page3...)
	require.Equal(t, attachmentIDs(newest), itemIDs(all))
}

func TestLoadMoreMatchesStoreSlice(t *testing.T) {
	a, _ := newTestApp(t)
	seedFiles(t, a, 4, 9, MIMEPNG)
	ctx := context.Background()

	for _, tc := range []struct{ offset, max int }{{0, 3}, {2, 4}, {8, 5}, {9, 1}} {
		want, err := a.Store.ListMedia(ctx, 4, tc.offset, tc.max)
		require.NoError(t, err)
		got, _ := loadMore(t, a, url.Values{
			"category": {"4"},
			"offset":   {fmt.Sprint(tc.offset)},
			"maxitems": {fmt.Sprint(tc.max)},
		})
		require.Equal(t, attachmentIDs(want), itemIDs(got), "offset=%d maxitems=%d", tc.offset, tc.max)
	}
}

func TestLoadMoreAcceptsQueryParameters(t *testing.T) {
	a, _ := newTestApp(t)
	seedFiles(t, a, 4, 3, MIMEPNG)
	rec := doRequest(a, http.MethodGet, "/loadmore/?category=4&offset=1&maxitems=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "2", rec.Header().Get(CountHeader))
}

func TestNoShowMoreWhenCategoryFits(t *testing.T) {
	a, _ := newTestApp(t)
	seedFiles(t, a, 3, 5, MIMEPNG)

	exact := saveWidget(t, a, WidgetConfig{CategoryID: 3, MaxItems: 5})
	items, more := parseWidget(t, doRequest(a, http.MethodGet, fmt.Sprintf("/widgets/%d/", exact.ID), nil).Body.String())
	require.Len(t, items, 5)
	require.Nil(t, more)

	smaller := saveWidget(t, a, WidgetConfig{CategoryID: 3, MaxItems: 4})
	items, more = parseWidget(t, doRequest(a, http.MethodGet, fmt.Sprintf("/widgets/%d/", smaller.ID), nil).Body.String())
	require.Len(t, items, 4)
	require.NotNil(t, more)
	require.Equal(t, "4", more.Offset)
}

func TestWidgetWithoutCategoryRendersEmpty(t *testing.T) {
	a, _ := newTestApp(t)
	seedFiles(t, a, 3, 2, MIMEPNG)
	w := saveWidget(t, a, WidgetConfig{Title: "Nothing"})

	rec := doRequest(a, http.MethodGet, fmt.Sprintf("/widgets/%d/", w.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	items, more := parseWidget(t, rec.Body.String())
	require.Empty(t, items)
	require.Nil(t, more)
}

func TestWidgetDefaultPageSize(t *testing.T) {
	a, _ := newTestApp(t)
	seedFiles(t, a, 3, 8, MIMEPNG)
	for _, maxItems := range []int{0, -2} {
		w := saveWidget(t, a, WidgetConfig{CategoryID: 3, MaxItems: maxItems})
		items, more := parseWidget(t, doRequest(a, http.MethodGet, fmt.Sprintf("/widgets/%d/", w.ID), nil).Body.String())
		require.Len(t, items, DefaultPageSize)
		require.Equal(t, fmt.Sprint(DefaultPageSize), more.MaxItems)
	}
}

func TestSmallImagesUseTheirOwnURL(t *testing.T) {
	a, raster := newTestApp(t)
	media := seedFiles(t, a, 3, 1, MIMEPNG)
	w := saveWidget(t, a, WidgetConfig{CategoryID: 3})

	items, _ := parseWidget(t, doRequest(a, http.MethodGet, fmt.Sprintf("/widgets/%d/", w.ID), nil).Body.String())
	require.Len(t, items, 1)
	require.Equal(t, media[0].URL, items[0].Src)
	require.Equal(t, media[0].URL, items[0].Href)
	require.Zero(t, raster.calls.Load())

	children, err := a.Store.ListChildren(context.Background(), media[0].ID)
	require.NoError(t, err)
	require.Empty(t, children)
}

func saveFile(t *testing.T, a *App, category int64, name, mime string, body []byte, created time.Time) Attachment {
	t.Helper()
	path := filepath.Join(a.Config.MediaDir, name)
	require.NoError(t, os.WriteFile(path, body, 0o644))
	att := Attachment{
		Title:      strings.TrimSuffix(name, filepath.Ext(name)),
		MimeType:   mime,
		FilePath:   path,
		URL:        FileURL(a.Config.URL, a.Config.MediaURLPrefix, name),
		CategoryID: category,
		CreatedAt:  created,
	}
	require.NoError(t, a.Store.SaveAttachment(context.Background(), &att))
	return att
}

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func TestWideImagesServeScaledCopy(t *testing.T) {
	a, raster := newTestApp(t)
	seedFiles(t, a, 3, 0, MIMEPNG)
	wide := saveFile(t, a, 3, "banner.png", MIMEPNG, encodePNG(t, 400, 200), time.Now())
	w := saveWidget(t, a, WidgetConfig{CategoryID: 3})
	target := fmt.Sprintf("/widgets/%d/", w.ID)

	items, _ := parseWidget(t, doRequest(a, http.MethodGet, target, nil).Body.String())
	require.Len(t, items, 1)
	require.Equal(t, FileURL(a.Config.URL, a.Config.MediaURLPrefix, "banner-200w.png"), items[0].Src)
	require.Equal(t, wide.URL, items[0].Href)
	require.Zero(t, raster.calls.Load())

	f, err := os.Open(filepath.Join(a.Config.MediaDir, "banner-200w.png"))
	require.NoError(t, err)
	cfg, err := png.DecodeConfig(f)
	f.Close()
	require.NoError(t, err)
	require.Equal(t, 200, cfg.Width)
	require.Equal(t, 100, cfg.Height)

	// A second render reuses the file and does not register it again.
	again, _ := parseWidget(t, doRequest(a, http.MethodGet, target, nil).Body.String())
	require.Equal(t, items, again)
	children, err := a.Store.ListChildren(context.Background(), wide.ID)
	require.NoError(t, err)
	require.Len(t, children, 1)
	require.Equal(t, MIMEPNG, children[0].MimeType)
	require.Equal(t, items[0].Src, children[0].URL)
	require.Equal(t, wide.Title+" (thumbnail)", children[0].Title)

	n, err := a.Store.CountMedia(context.Background(), 3)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestCategorySevenExample(t *testing.T) {
	a, raster := newTestApp(t)
	seedFiles(t, a, 7, 0, MIMEPDF)
	now := time.Now()
	first := saveFile(t, a, 7, "a.png", MIMEPNG, encodePNG(t, 40, 40), now)
	second := saveFile(t, a, 7, "b.pdf", MIMEPDF, []byte("%PDF-1.4\n"), now.Add(-time.Minute))
	third := saveFile(t, a, 7, "c.png", MIMEPNG, encodePNG(t, 40, 40), now.Add(-2*time.Minute))
	w := saveWidget(t, a, WidgetConfig{Title: "Category 7", CategoryID: 7, MaxItems: 2})

	rec := doRequest(a, http.MethodGet, fmt.Sprintf("/widgets/%d/", w.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	items, more := parseWidget(t, rec.Body.String())
	require.Equal(t, attachmentIDs([]Attachment{first, second}), itemIDs(items))
	require.Equal(t, first.URL, items[0].Src)
	require.Equal(t, FileURL(a.Config.URL, a.Config.MediaURLPrefix, "b-image.png"), items[1].Src)
	require.EqualValues(t, 1, raster.calls.Load())

	entries, err := os.ReadDir(a.Config.MediaDir)
	require.NoError(t, err)
	var derived []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), "-image.png") {
			derived = append(derived, e.Name())
		}
	}
	require.Equal(t, []string{"b-image.png"}, derived)

	require.NotNil(t, more)
	require.Equal(t, "2", more.Offset)
	require.Equal(t, "2", more.MaxItems)
	require.Equal(t, "7", more.Category)

	rec = doRequest(a, http.MethodGet, "/loadmore/?category=7&offset=2&maxitems=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "1", rec.Header().Get(CountHeader))
	page, none := parseWidget(t, rec.Body.String())
	require.Nil(t, none)
	require.Equal(t, attachmentIDs([]Attachment{third}), itemIDs(page))
	require.Equal(t, third.URL, page[0].Src)
}

func TestDisplayOptions(t *testing.T) {
	a, _ := newTestApp(t)
	seedFiles(t, a, 3, 6, MIMEPNG)

	plain := saveWidget(t, a, WidgetConfig{CategoryID: 3})
	items, _ := parseWidget(t, doRequest(a, http.MethodGet, fmt.Sprintf("/widgets/%d/", plain.ID), nil).Body.String())
	require.Empty(t, items[0].Target)
	require.NotEmpty(t, items[0].Title)

	styled := saveWidget(t, a, WidgetConfig{CategoryID: 3, NewWindow: true, HideTitle: true})
	items, more := parseWidget(t, doRequest(a, http.MethodGet, fmt.Sprintf("/widgets/%d/", styled.ID), nil).Body.String())
	require.Equal(t, "_blank", items[0].Target)
	require.Empty(t, items[0].Title)

	page, _ := loadMore(t, a, url.Values{"widget": {more.Widget}, "category": {"3"}, "offset": {"5"}, "maxitems": {"5"}})
	require.Len(t, page, 1)
	require.Equal(t, "_blank", page[0].Target)
	require.Empty(t, page[0].Title)

	page, _ = loadMore(t, a, url.Values{"widget": {fmt.Sprint(plain.ID)}, "category": {"3"}, "offset": {"5"}, "maxitems": {"5"}})
	require.Empty(t, page[0].Target)
	require.NotEmpty(t, page[0].Title)

	page, _ = loadMore(t, a, url.Values{"category": {"3"}, "offset": {"5"}, "maxitems": {"5"}})
	require.Equal(t, "_blank", page[0].Target)
	require.NotEmpty(t, page[0].Title)
}

func TestLoadMoreValidation(t *testing.T) {
	a, _ := newTestApp(t)
	seedFiles(t, a, 4, 60, MIMEPNG)

	for _, form := range []url.Values{
		{"category": {"abc"}, "offset": {"0"}, "maxitems": {"5"}},
		{"category": {"4"}, "offset": {"1.5"}, "maxitems": {"5"}},
		{"category": {"4"}, "offset": {"0"}, "maxitems": {"ten"}},
	} {
		rec := doRequest(a, http.MethodPost, "/loadmore/", strings.NewReader(form.Encode()))
		require.Equal(t, http.StatusBadRequest, rec.Code, form.Encode())
		require.NotContains(t, rec.Body.String(), "<html")
	}

	_, count := loadMore(t, a, url.Values{"category": {"0"}, "offset": {"0"}, "maxitems": {"5"}})
	require.Equal(t, "0", count)

	_, count = loadMore(t, a, url.Values{"category": {"4"}, "offset": {"0"}, "maxitems": {"500"}})
	require.Equal(t, fmt.Sprint(MaxPageSize), count)

	_, count = loadMore(t, a, url.Values{"category": {"4"}, "offset": {"0"}, "maxitems": {"0"}})
	require.Equal(t, fmt.Sprint(DefaultPageSize), count)

	neg, _ := loadMore(t, a, url.Values{"category": {"4"}, "offset": {"-3"}, "maxitems": {"2"}})
	zero, _ := loadMore(t, a, url.Values{"category": {"4"}, "offset": {"0"}, "maxitems": {"2"}})
	require.Equal(t, itemIDs(zero), itemIDs(neg))

	_, count = loadMore(t, a, url.Values{"category": {"4"}})
	require.Equal(t, fmt.Sprint(DefaultPageSize), count)
}

func TestLoadMoreNormalize(t *testing.T) {
	cases := []struct {
		in, want LoadMoreRequest
	}{
		{LoadMoreRequest{Offset: -1, MaxItems: 3}, LoadMoreRequest{Offset: 0, MaxItems: 3}},
		{LoadMoreRequest{Offset: 4, MaxItems: 0}, LoadMoreRequest{Offset: 4, MaxItems: 5}},
		{LoadMoreRequest{Offset: 4, MaxItems: -7}, LoadMoreRequest{Offset: 4, MaxItems: 5}},
		{LoadMoreRequest{Offset: 4, MaxItems: 51}, LoadMoreRequest{Offset: 4, MaxItems: 50}},
	}
	for _, tc := range cases {
		got := tc.in
		got.Normalize(5, 50)
		if got != tc.want {
			t.Fatalf("Normalize(%+v) = %+v, want %+v", tc.in, got, tc.want)
		}
	}
}

func TestLoadMoreRateLimited(t *testing.T) {
	cfg := testConfig(t)
	cfg.LoadMoreRate = 0.001
	cfg.LoadMoreBurst = 2
	a := newTestAppWith(t, cfg, WithRasterizer(&stubRaster{}))

	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusOK, doRequest(a, http.MethodGet, "/loadmore/?category=1", nil).Code)
	}
	require.Equal(t, http.StatusTooManyRequests, doRequest(a, http.MethodGet, "/loadmore/?category=1", nil).Code)
}

func TestThumbnailsAreGeneratedOnce(t *testing.T) {
	a, raster := newTestApp(t)
	media := seedFiles(t, a, 7, 3, MIMEPDF)
	w := saveWidget(t, a, WidgetConfig{CategoryID: 7})
	target := fmt.Sprintf("/widgets/%d/", w.ID)

	first := doRequest(a, http.MethodGet, target, nil).Body.String()
	require.EqualValues(t, 3, raster.calls.Load())
	second := doRequest(a, http.MethodGet, target, nil).Body.String()
	require.EqualValues(t, 3, raster.calls.Load())

	a1, _ := parseWidget(t, first)
	a2, _ := parseWidget(t, second)
	require.Equal(t, a1, a2)

	for _, m := range media {
		children, err := a.Store.ListChildren(context.Background(), m.ID)
		require.NoError(t, err)
		require.Len(t, children, 1)
		require.Equal(t, MIMEPNG, children[0].MimeType)
		require.Equal(t, m.Title+" (thumbnail)", children[0].Title)
	}
	n, err := a.Store.CountMedia(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, 3, n, "thumbnails must not join the category listing")
}

func TestMissingRasterizerShowsDiagnostic(t *testing.T) {
	a := newTestAppWith(t, testConfig(t), WithRasterizer(nil))
	seedFiles(t, a, 7, 2, MIMEPDF)
	w := saveWidget(t, a, WidgetConfig{CategoryID: 7})

	rec := doRequest(a, http.MethodGet, fmt.Sprintf("/widgets/%d/", w.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	items, _ := parseWidget(t, rec.Body.String())
	require.Len(t, items, 2)
	for _, it := range items {
		require.Equal(t, DiagnosticNoConverter, it.Note)
		require.Empty(t, it.Src)
		require.NotEmpty(t, it.Href)
	}

	health := doRequest(a, http.MethodGet, "/healthz", nil)
	require.Contains(t, health.Body.String(), `"rasterizer":false`)
}

func TestHomeRendersEveryWidgetWithAssetsOnce(t *testing.T) {
	a, _ := newTestApp(t)
	seedFiles(t, a, 3, 2, MIMEPNG)
	saveWidget(t, a, WidgetConfig{Title: "First", CategoryID: 3})
	saveWidget(t, a, WidgetConfig{Title: "Second", CategoryID: 3})

	rec := doRequest(a, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, "First")
	require.Contains(t, body, "Second")
	require.Equal(t, 1, strings.Count(body, "/public/mediawidget.js"))
	items, _ := parseWidget(t, body)
	require.Len(t, items, 4)
}

func TestWidgetPageEscapesTitles(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()
	seedFiles(t, a, 3, 0, MIMEPNG)
	att := Attachment{Title: `<script>alert(1)</script>`, MimeType: MIMEPNG, URL: "http://example.com/media/x.png", CategoryID: 3}
	require.NoError(t, a.Store.SaveAttachment(ctx, &att))
	w := saveWidget(t, a, WidgetConfig{Title: `Tom & "Jerry"`, CategoryID: 3})

	body := doRequest(a, http.MethodGet, fmt.Sprintf("/widgets/%d/", w.ID), nil).Body.String()
	require.NotContains(t, body, "<script>alert")
	items, _ := parseWidget(t, body)
	require.Equal(t, `<script>alert(1)</script>`, items[0].Title)
}

func TestFeedListsCategoryWithEnclosures(t *testing.T) {
	a, _ := newTestApp(t)
	media := seedFiles(t, a, 7, 2, MIMEPDF)

	rec := doRequest(a, http.MethodGet, "/feed/7/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Type"), "application/rss+xml")
	body := rec.Body.String()
	require.Contains(t, body, `<enclosure url="`+media[1].URL+`"`)
	require.Contains(t, body, `type="application/pdf"`)
	require.Less(t, strings.Index(body, media[1].URL), strings.Index(body, media[0].URL))

	require.Equal(t, http.StatusNotFound, doRequest(a, http.MethodGet, "/feed/99/", nil).Code)
}
