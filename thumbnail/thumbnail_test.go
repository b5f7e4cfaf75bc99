package thumbnail

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeRaster struct {
	calls     atomic.Int32
	cancelled atomic.Bool
	err       error
	gate      chan struct{}
	started   chan struct{}
}

func (f *fakeRaster) FirstPage(ctx context.Context, src string) (image.Image, error) {
	f.calls.Add(1)
	if f.started != nil {
		close(f.started)
	}
	if f.gate != nil {
		<-f.gate
	}
	f.cancelled.Store(ctx.Err() != nil)
	if f.err != nil {
		return nil, f.err
	}
	img := image.NewRGBA(image.Rect(0, 0, 400, 600))
	for y := 0; y < 600; y++ {
		for x := 0; x < 400; x++ {
			img.Set(x, y, color.RGBA{R: 200, A: 255})
		}
	}
	return img, nil
}

type fakeRegistrar struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (r *fakeRegistrar) RegisterThumbnail(ctx context.Context, src Source, th Thumbnail) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, th.Path)
	return r.err
}

func writePDF(t *testing.T, dir, name string) Source {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte("%PDF-1.4 fake"), 0o644))
	return Source{ID: 1, Title: "Report", Path: p, URL: "http://localhost/media/" + name}
}

func TestDerivedName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"/data/report.pdf", "/data/report-image.png"},
		{"/data/REPORT.PDF", "/data/REPORT-image.png"},
		{"http://x/media/a.pdf", "http://x/media/a-image.png"},
		{"/data/noext", "/data/noext-image.png"},
		{"/data/scan.tiff", "/data/scan-image.png"},
		{"/data/a.pdf.pdf", "/data/a.pdf-image.png"},
	}
	for _, tt := range tests {
		if got := DerivedName(tt.in, DefaultSuffix); got != tt.want {
			t.Errorf("DerivedName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDeriveGeneratesScaledPNG(t *testing.T) {
	dir := t.TempDir()
	src := writePDF(t, dir, "report.pdf")
	raster := &fakeRaster{}
	reg := &fakeRegistrar{}
	d := NewDeriver(raster, reg, 200, "")

	th, err := d.Derive(context.Background(), src)
	require.NoError(t, err)
	require.Equal(t, Generated, th.Outcome)
	require.Equal(t, filepath.Join(dir, "report-image.png"), th.Path)
	require.Equal(t, "http://localhost/media/report-image.png", th.URL)
	require.NoError(t, th.RegisterErr)
	require.Equal(t, []string{th.Path}, reg.calls)

	f, err := os.Open(th.Path)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	require.Equal(t, 200, img.Bounds().Dx())
	require.Equal(t, 300, img.Bounds().Dy())

	// no temp files left behind
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestDeriveIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	src := writePDF(t, dir, "report.pdf")
	before, err := os.ReadFile(src.Path)
	require.NoError(t, err)

	raster := &fakeRaster{}
	reg := &fakeRegistrar{}
	d := NewDeriver(raster, reg, 0, "")

	first, err := d.Derive(context.Background(), src)
	require.NoError(t, err)
	second, err := d.Derive(context.Background(), src)
	require.NoError(t, err)

	require.Equal(t, first.URL, second.URL)
	require.Equal(t, Hit, second.Outcome)
	require.EqualValues(t, 1, raster.calls.Load())
	require.Len(t, reg.calls, 1)

	after, err := os.ReadFile(src.Path)
	require.NoError(t, err)
	require.True(t, bytes.Equal(before, after), "source file changed")
}

func TestDeriveConcurrentFirstRequests(t *testing.T) {
	dir := t.TempDir()
	src := writePDF(t, dir, "report.pdf")
	raster := &fakeRaster{gate: make(chan struct{})}
	reg := &fakeRegistrar{}
	d := NewDeriver(raster, reg, 0, "")

	const n = 8
	var wg sync.WaitGroup
	urls := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			th, err := d.Derive(context.Background(), src)
			urls[i], errs[i] = th.URL, err
		}(i)
	}
	close(raster.gate)
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, "http://localhost/media/report-image.png", urls[i])
	}
	require.EqualValues(t, 1, raster.calls.Load())
	require.Len(t, reg.calls, 1)
}

func TestDeriveUnavailable(t *testing.T) {
	dir := t.TempDir()
	src := writePDF(t, dir, "report.pdf")
	d := NewDeriver(nil, nil, 0, "")

	require.False(t, d.Available())
	_, err := d.Derive(context.Background(), src)
	require.ErrorIs(t, err, ErrUnavailable)
	_, statErr := os.Stat(filepath.Join(dir, "report-image.png"))
	require.True(t, os.IsNotExist(statErr))
}

func TestDeriveUnavailableServesExistingFile(t *testing.T) {
	dir := t.TempDir()
	src := writePDF(t, dir, "report.pdf")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "report-image.png"), []byte("png"), 0o644))
	d := NewDeriver(nil, nil, 0, "")

	th, err := d.Derive(context.Background(), src)
	require.NoError(t, err)
	require.Equal(t, Hit, th.Outcome)
}

func TestDeriveFailureRetriesOnNextCall(t *testing.T) {
	dir := t.TempDir()
	src := writePDF(t, dir, "report.pdf")
	raster := &fakeRaster{err: errors.New("corrupt pdf")}
	d := NewDeriver(raster, nil, 0, "")

	_, err := d.Derive(context.Background(), src)
	require.Error(t, err)

	raster.err = nil
	th, err := d.Derive(context.Background(), src)
	require.NoError(t, err)
	require.Equal(t, Generated, th.Outcome)
	require.EqualValues(t, 2, raster.calls.Load())
}

func TestDeriveRegisterErrorDoesNotBlock(t *testing.T) {
	dir := t.TempDir()
	src := writePDF(t, dir, "report.pdf")
	reg := &fakeRegistrar{err: errors.New("db locked")}
	d := NewDeriver(&fakeRaster{}, reg, 0, "")

	th, err := d.Derive(context.Background(), src)
	require.NoError(t, err)
	require.Error(t, th.RegisterErr)
	require.Equal(t, "http://localhost/media/report-image.png", th.URL)
}

func TestScaleKeepsAspect(t *testing.T) {
	img := Scale(image.NewRGBA(image.Rect(0, 0, 100, 50)), 200)
	require.Equal(t, image.Rect(0, 0, 200, 100), img.Bounds())
}

func TestDeriveSurvivesCancelledFirstCaller(t *testing.T) {
	dir := t.TempDir()
	src := writePDF(t, dir, "report.pdf")
	raster := &fakeRaster{gate: make(chan struct{}), started: make(chan struct{})}
	reg := &fakeRegistrar{}
	d := NewDeriver(raster, reg, 0, "")

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := d.Derive(ctx, src)
		first <- err
	}()
	<-raster.started

	type result struct {
		th  Thumbnail
		err error
	}
	second := make(chan result, 1)
	go func() {
		th, err := d.Derive(context.Background(), src)
		second <- result{th, err}
	}()

	cancel()
	require.ErrorIs(t, <-first, context.Canceled)
	close(raster.gate)

	res := <-second
	require.NoError(t, res.err)
	require.Equal(t, "http://localhost/media/report-image.png", res.th.URL)
	require.False(t, raster.cancelled.Load(), "rasterizer saw a cancelled context")
	require.EqualValues(t, 1, raster.calls.Load())
	require.Len(t, reg.calls, 1)
	require.FileExists(t, filepath.Join(dir, "report-image.png"))
}

func writeImage(t *testing.T, dir, name string, w, h int) Source {
	t.Helper()
	p := filepath.Join(dir, name)
	f, err := os.Create(p)
	require.NoError(t, err)
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	if filepath.Ext(name) == ".jpg" {
		require.NoError(t, jpeg.Encode(f, img, nil))
	} else {
		require.NoError(t, png.Encode(f, img))
	}
	require.NoError(t, f.Close())
	return Source{ID: 2, Title: "Photo", Path: p, URL: "http://localhost/media/" + name}
}

func TestImageDerivedName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"/data/photo.jpg", "/data/photo-200w.jpg"},
		{"/data/photo.JPEG", "/data/photo-200w.JPEG"},
		{"http://x/media/a.png", "http://x/media/a-200w.png"},
		{"/data/anim.gif", "/data/anim-200w-gif.png"},
		{"/data/pic.webp", "/data/pic-200w-webp.png"},
	}
	for _, tt := range tests {
		if got := ImageDerivedName(tt.in, 200); got != tt.want {
			t.Errorf("ImageDerivedName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSourcesInvertsDerivedNames(t *testing.T) {
	d := NewDeriver(nil, nil, 200, "")
	for _, src := range []string{"report.pdf", "photo.jpg", "photo.png", "anim.gif", "pic.webp"} {
		var derived string
		if filepath.Ext(src) == ".pdf" {
			derived = d.DerivedPath(src)
		} else {
			derived = d.ImagePath(src)
		}
		require.Contains(t, d.Sources(derived), src, derived)
	}
	require.Empty(t, d.Sources("photo.jpg"))
}

func TestDeriveImageScalesWideImages(t *testing.T) {
	dir := t.TempDir()
	src := writeImage(t, dir, "photo.jpg", 800, 400)
	reg := &fakeRegistrar{}
	d := NewDeriver(nil, reg, 200, "")

	th, err := d.DeriveImage(context.Background(), src)
	require.NoError(t, err)
	require.Equal(t, Generated, th.Outcome)
	require.Equal(t, "http://localhost/media/photo-200w.jpg", th.URL)
	require.Equal(t, "image/jpeg", th.MimeType)
	require.Equal(t, []string{th.Path}, reg.calls)

	f, err := os.Open(th.Path)
	require.NoError(t, err)
	defer f.Close()
	cfg, format, err := image.DecodeConfig(f)
	require.NoError(t, err)
	require.Equal(t, "jpeg", format)
	require.Equal(t, 200, cfg.Width)
	require.Equal(t, 100, cfg.Height)

	again, err := d.DeriveImage(context.Background(), src)
	require.NoError(t, err)
	require.Equal(t, Hit, again.Outcome)
	require.Len(t, reg.calls, 1)
}

func TestDeriveImageKeepsSmallImages(t *testing.T) {
	dir := t.TempDir()
	src := writeImage(t, dir, "icon.png", 120, 120)
	reg := &fakeRegistrar{}
	d := NewDeriver(nil, reg, 200, "")

	th, err := d.DeriveImage(context.Background(), src)
	require.NoError(t, err)
	require.Equal(t, Original, th.Outcome)
	require.Equal(t, src.URL, th.URL)
	require.Empty(t, reg.calls)
	_, statErr := os.Stat(filepath.Join(dir, "icon-200w.png"))
	require.True(t, os.IsNotExist(statErr))
}

func TestDeriveImageRejectsUndecodableFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "broken.png")
	require.NoError(t, os.WriteFile(p, []byte("not an image"), 0o644))
	d := NewDeriver(nil, nil, 200, "")

	_, err := d.DeriveImage(context.Background(), Source{Path: p, URL: "http://localhost/media/broken.png"})
	require.Error(t, err)
}
