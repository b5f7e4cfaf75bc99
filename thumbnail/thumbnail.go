// Package thumbnail derives raster previews for media attachments.
//
// A derived file lives next to its source. PDFs get a rendering of their
// first page: "report.pdf" becomes "report-image.png". Images wider than
// the configured width get a scaled copy: "photo.jpg" becomes
// "photo-200w.jpg". The file on disk is the cache. Both Derive calls return
// the existing file when present and otherwise generate it once, collapsing
// concurrent requests for the same target path.
package thumbnail

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultWidth  = 200
	DefaultSuffix = "-image.png"
)

// ErrUnavailable is returned when no PDF rasterizer is installed.
var ErrUnavailable = errors.New("thumbnail: no image converter available")

var rePDFExt = regexp.MustCompile(`(?i)\.pdf$`)

// Rasterizer renders the first page of a PDF file.
type Rasterizer interface {
	FirstPage(ctx context.Context, src string) (image.Image, error)
}

// Registrar records a freshly generated file with the content store.
type Registrar interface {
	RegisterThumbnail(ctx context.Context, src Source, th Thumbnail) error
}

// Source identifies the attachment a derivative is made from.
type Source struct {
	ID    int64
	Title string
	Path  string
	URL   string
}

// Outcome tells how a Derive call produced its result.
type Outcome string

const (
	Hit       Outcome = "hit"
	Generated Outcome = "generated"
	// Original means the source image already fits and is served as is.
	Original Outcome = "original"
)

// Thumbnail is the result of a Derive call.
type Thumbnail struct {
	Path     string
	URL      string
	MimeType string
	Outcome  Outcome
	// RegisterErr is set when the file was written but registering it
	// failed. The thumbnail is still usable.
	RegisterErr error
}

// Deriver generates thumbnails on demand.
type Deriver struct {
	raster    Rasterizer
	registrar Registrar
	width     int
	suffix    string
	group     singleflight.Group
}

// NewDeriver returns a Deriver. A nil raster makes every PDF miss fail with
// ErrUnavailable; a nil registrar skips registration.
func NewDeriver(raster Rasterizer, registrar Registrar, width int, suffix string) *Deriver {
	if width <= 0 {
		width = DefaultWidth
	}
	if suffix == "" {
		suffix = DefaultSuffix
	}
	return &Deriver{raster: raster, registrar: registrar, width: width, suffix: suffix}
}

// Available reports whether a rasterizer is configured.
func (d *Deriver) Available() bool {
	return d.raster != nil
}

// Width returns the target width of derived files.
func (d *Deriver) Width() int {
	return d.width
}

// DerivedPath maps a PDF location (path or URL) to its thumbnail.
func (d *Deriver) DerivedPath(src string) string {
	return DerivedName(src, d.suffix)
}

// ImagePath maps an image location (path or URL) to its scaled copy.
func (d *Deriver) ImagePath(src string) string {
	return ImageDerivedName(src, d.width)
}

// DerivedName replaces a trailing ".pdf" (any case) with suffix. Other
// extensions are replaced too; a name without extension gets suffix appended.
func DerivedName(src, suffix string) string {
	if rePDFExt.MatchString(src) {
		return rePDFExt.ReplaceAllLiteralString(src, suffix)
	}
	return strings.TrimSuffix(src, filepath.Ext(src)) + suffix
}

// ImageDerivedName inserts the width before the extension. JPEG and PNG
// copies keep their format; other formats are re-encoded as PNG and keep
// their original extension in the name.
func ImageDerivedName(src string, width int) string {
	ext := filepath.Ext(src)
	base := strings.TrimSuffix(src, ext) + "-" + strconv.Itoa(width) + "w"
	if sameFormat(ext) {
		return base + ext
	}
	return base + "-" + strings.ToLower(strings.TrimPrefix(ext, ".")) + ".png"
}

func sameFormat(ext string) bool {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg", ".png":
		return true
	}
	return false
}

// Sources lists the file names whose derivative would be called name.
func (d *Deriver) Sources(name string) []string {
	var out []string
	if base, ok := strings.CutSuffix(name, d.suffix); ok {
		out = append(out, base+".pdf")
	}
	tag := "-" + strconv.Itoa(d.width) + "w"
	ext := filepath.Ext(name)
	if base, ok := strings.CutSuffix(name, tag+ext); ok && sameFormat(ext) {
		out = append(out, base+ext)
	}
	for _, other := range []string{"gif", "webp"} {
		if base, ok := strings.CutSuffix(name, tag+"-"+other+".png"); ok {
			out = append(out, base+"."+other)
		}
	}
	return out
}

// Derive returns the thumbnail of a PDF, rasterizing its first page when
// the derived file does not exist yet.
func (d *Deriver) Derive(ctx context.Context, src Source) (Thumbnail, error) {
	t := Thumbnail{Path: d.DerivedPath(src.Path), URL: d.DerivedPath(src.URL), MimeType: "image/png"}
	if exists(t.Path) {
		t.Outcome = Hit
		return t, nil
	}
	if d.raster == nil {
		return Thumbnail{}, ErrUnavailable
	}
	return d.flight(ctx, src, t, func(ctx context.Context) (image.Image, error) {
		page, err := d.raster.FirstPage(ctx, src.Path)
		if err != nil {
			return nil, fmt.Errorf("rasterize %s: %w", filepath.Base(src.Path), err)
		}
		return page, nil
	})
}

// DeriveImage returns a copy of an image scaled to the configured width.
// Images no wider than that are returned unchanged with Outcome Original.
func (d *Deriver) DeriveImage(ctx context.Context, src Source) (Thumbnail, error) {
	t := Thumbnail{Path: d.ImagePath(src.Path), URL: d.ImagePath(src.URL), MimeType: mimeFor(d.ImagePath(src.Path))}
	if exists(t.Path) {
		t.Outcome = Hit
		return t, nil
	}
	cfg, err := decodeConfig(src.Path)
	if err != nil {
		return Thumbnail{}, err
	}
	if cfg.Width <= d.width {
		return Thumbnail{Path: src.Path, URL: src.URL, Outcome: Original}, nil
	}
	return d.flight(ctx, src, t, func(context.Context) (image.Image, error) {
		f, err := os.Open(src.Path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		img, _, err := image.Decode(f)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", filepath.Base(src.Path), err)
		}
		return img, nil
	})
}

// flight generates t.Path at most once at a time. The work runs detached
// from the caller's cancellation so joined callers still get a result; a
// caller whose ctx ends stops waiting.
func (d *Deriver) flight(ctx context.Context, src Source, t Thumbnail, load func(context.Context) (image.Image, error)) (Thumbnail, error) {
	ch := d.group.DoChan(t.Path, func() (any, error) {
		r := t
		// Another flight may have finished between the stat above and here.
		if exists(r.Path) {
			r.Outcome = Hit
			return r, nil
		}
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), CommandTimeout)
		defer cancel()
		img, err := load(fctx)
		if err != nil {
			return nil, err
		}
		if err := d.write(r.Path, Scale(img, d.width)); err != nil {
			return nil, err
		}
		r.Outcome = Generated
		// Registration runs inside the flight so joined callers do not
		// register the same file twice.
		if d.registrar != nil {
			r.RegisterErr = d.registrar.RegisterThumbnail(fctx, src, r)
		}
		return r, nil
	})
	select {
	case <-ctx.Done():
		return Thumbnail{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Thumbnail{}, res.Err
		}
		return res.Val.(Thumbnail), nil
	}
}

func (d *Deriver) write(dstPath string, img image.Image) error {
	tmp := filepath.Join(filepath.Dir(dstPath), "."+filepath.Base(dstPath)+"."+uuid.NewString()+".tmp")
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create thumbnail: %w", err)
	}
	if err := encode(f, dstPath, img); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("encode thumbnail: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write thumbnail: %w", err)
	}
	if err := os.Rename(tmp, dstPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write thumbnail: %w", err)
	}
	return nil
}

func encode(w io.Writer, name string, img image.Image) error {
	if mimeFor(name) == "image/jpeg" {
		return jpeg.Encode(w, img, &jpeg.Options{Quality: 85})
	}
	return png.Encode(w, img)
}

func mimeFor(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	}
	return "image/png"
}

func decodeConfig(path string) (image.Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return image.Config{}, err
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return image.Config{}, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return cfg, nil
}

// Scale resizes img to width pixels wide keeping its aspect ratio.
func Scale(img image.Image, width int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return image.NewRGBA(image.Rect(0, 0, width, width))
	}
	newH := h * width / w
	if newH < 1 {
		newH = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, newH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
