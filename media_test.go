package mediawidget

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4))))
	return buf.Bytes()
}

func TestAddMediaSniffsType(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()

	pdf, err := a.AddMedia(ctx, strings.NewReader("%PDF-1.7\n..."), "Report.pdf", "", 0)
	require.NoError(t, err)
	require.Equal(t, MIMEPDF, pdf.MimeType)
	require.Equal(t, "Report", pdf.Title)
	require.Equal(t, filepath.Join(a.Config.MediaDir, "report.pdf"), pdf.FilePath)

	// The extension follows the content, not the submitted name.
	img, err := a.AddMedia(ctx, bytes.NewReader(pngBytes(t)), "picture.jpg", "Picture", 0)
	require.NoError(t, err)
	require.Equal(t, MIMEPNG, img.MimeType)
	require.True(t, strings.HasSuffix(img.FilePath, "picture.png"), img.FilePath)

	_, err = a.AddMedia(ctx, strings.NewReader("hello"), "x.pdf", "", 0)
	require.ErrorIs(t, err, ErrUnsupportedMedia)

	// PNG signature with a corrupt body.
	_, err = a.AddMedia(ctx, strings.NewReader("\x89PNG\r\n\x1a\ngarbage"), "broken.png", "", 0)
	require.ErrorIs(t, err, ErrUnsupportedMedia)
}

func TestAddMediaLimits(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxUploadSize = 16
	a := newTestAppWith(t, cfg, WithRasterizer(&stubRaster{}))
	ctx := context.Background()

	_, err := a.AddMedia(ctx, strings.NewReader("%PDF-1.7\n0123456789abcdef"), "big.pdf", "", 0)
	require.ErrorIs(t, err, ErrTooLarge)

	_, err = a.AddMedia(ctx, strings.NewReader("%PDF-1.7\n"), "a.pdf", "", 42)
	require.True(t, errors.Is(err, ErrNotFound), "unknown category should be rejected, got %v", err)

	entries, err := os.ReadDir(a.Config.MediaDir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestAddMediaUniqueNames(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()

	first, err := a.AddMedia(ctx, strings.NewReader("%PDF-1.7\n"), "report.pdf", "", 0)
	require.NoError(t, err)
	second, err := a.AddMedia(ctx, strings.NewReader("%PDF-1.7\n"), "report.pdf", "", 0)
	require.NoError(t, err)
	require.NotEqual(t, first.FilePath, second.FilePath)
	require.Equal(t, "report-2.pdf", filepath.Base(second.FilePath))

	// An image may not take the name reserved for a PDF's thumbnail.
	img, err := a.AddMedia(ctx, bytes.NewReader(pngBytes(t)), "report-image.png", "", 0)
	require.NoError(t, err)
	require.Equal(t, "report-image-2.png", filepath.Base(img.FilePath))

	// Nor may a PDF whose thumbnail would overwrite an existing file.
	_, err = a.AddMedia(ctx, bytes.NewReader(pngBytes(t)), "brochure-image.png", "", 0)
	require.NoError(t, err)
	pdf, err := a.AddMedia(ctx, strings.NewReader("%PDF-1.7\n"), "brochure.pdf", "", 0)
	require.NoError(t, err)
	require.Equal(t, "brochure-2.pdf", filepath.Base(pdf.FilePath))

	// Scaled image copies are reserved the same way.
	_, err = a.AddMedia(ctx, bytes.NewReader(pngBytes(t)), "photo.png", "", 0)
	require.NoError(t, err)
	scaled, err := a.AddMedia(ctx, bytes.NewReader(pngBytes(t)), "photo-200w.png", "", 0)
	require.NoError(t, err)
	require.Equal(t, "photo-200w-2.png", filepath.Base(scaled.FilePath))
}

func TestAddMediaEmptyName(t *testing.T) {
	a, _ := newTestApp(t)
	att, err := a.AddMedia(context.Background(), strings.NewReader("%PDF-1.7\n"), "###.pdf", "Untitled", 0)
	require.NoError(t, err)
	require.Equal(t, "file.pdf", filepath.Base(att.FilePath))
}

func TestWarmThumbnails(t *testing.T) {
	a, raster := newTestApp(t)
	seedFiles(t, a, 7, 3, MIMEPDF)
	seedFiles(t, a, 8, 2, MIMEPNG)
	ctx := context.Background()

	n, err := a.WarmThumbnails(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	n, err = a.WarmThumbnails(ctx, 0)
	require.NoError(t, err)
	require.Zero(t, n)
	require.EqualValues(t, 3, raster.calls.Load())
}

func TestWarmThumbnailsWithoutRasterizer(t *testing.T) {
	a := newTestAppWith(t, testConfig(t), WithRasterizer(nil))
	seedFiles(t, a, 7, 1, MIMEPDF)
	_, err := a.WarmThumbnails(context.Background(), 7)
	require.Error(t, err)
}
