package mediawidget

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/labstack/echo/v4"
	_ "golang.org/x/image/webp"

	"github.com/eringen/mediawidget/views"
)

// ErrUnsupportedMedia is returned for uploads that are neither a supported
// image nor a PDF.
var ErrUnsupportedMedia = errors.New("unsupported media type")

// ErrTooLarge is returned for uploads above the configured size limit.
var ErrTooLarge = errors.New("file too large")

var mediaExtensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
	MIMEPDF:      ".pdf",
}

// AddMedia stores the contents of src as a new attachment. The MIME type
// is sniffed from the content, never taken from the file name. Title
// defaults to the original file name without extension.
func (a *App) AddMedia(ctx context.Context, src io.Reader, originalName, title string, category int64) (Attachment, error) {
	data, err := io.ReadAll(io.LimitReader(src, a.Config.MaxUploadSize+1))
	if err != nil {
		return Attachment{}, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > a.Config.MaxUploadSize {
		return Attachment{}, ErrTooLarge
	}
	mime := http.DetectContentType(data)
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	ext, ok := mediaExtensions[mime]
	if !ok {
		return Attachment{}, fmt.Errorf("%w: %s", ErrUnsupportedMedia, mime)
	}
	if mime != MIMEPDF {
		if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
			return Attachment{}, fmt.Errorf("%w: %v", ErrUnsupportedMedia, err)
		}
	}
	if category > 0 {
		if _, err := a.Categories.Get(ctx, category); err != nil {
			return Attachment{}, fmt.Errorf("category %d: %w", category, err)
		}
	}

	base := slugifyFilename(originalName)
	if base == "" {
		base = "file"
	}
	name, f, err := a.createUnique(base, ext)
	if err != nil {
		return Attachment{}, err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return Attachment{}, fmt.Errorf("write upload: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return Attachment{}, fmt.Errorf("write upload: %w", err)
	}

	title = strings.TrimSpace(title)
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(originalName), filepath.Ext(originalName))
	}
	att := Attachment{
		Title:      title,
		MimeType:   mime,
		FilePath:   f.Name(),
		URL:        FileURL(a.Config.URL, a.Config.MediaURLPrefix, name),
		Size:       int64(len(data)),
		CategoryID: category,
	}
	if err := a.Store.SaveAttachment(ctx, &att); err != nil {
		os.Remove(f.Name())
		return Attachment{}, err
	}
	a.Logger.Info().Int64("attachment", att.ID).Str("mime", mime).Str("file", name).Msg("media added")
	return att, nil
}

// slugifyFilename converts a filename (without extension) to a URL-safe slug.
func slugifyFilename(name string) string {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(filepath.Base(name), ext)
	return Slugify(base)
}

// createUnique creates base+ext in the media directory, appending a
// counter when the name is taken.
func (a *App) createUnique(base, ext string) (string, *os.File, error) {
	candidate := base + ext
	for counter := 2; ; counter++ {
		if !a.reservedName(candidate) {
			f, err := os.OpenFile(filepath.Join(a.Config.MediaDir, candidate), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
			if err == nil {
				return candidate, f, nil
			}
			if !errors.Is(err, os.ErrExist) {
				return "", nil, fmt.Errorf("create upload: %w", err)
			}
		}
		candidate = fmt.Sprintf("%s-%d%s", base, counter, ext)
	}
}

// reservedName reports whether name collides with a derived file, either
// the one it would produce or one it would replace.
func (a *App) reservedName(name string) bool {
	dir := a.Config.MediaDir
	switch {
	case strings.EqualFold(filepath.Ext(name), ".pdf"):
		if fileExists(filepath.Join(dir, a.Thumbs.DerivedPath(name))) {
			return true
		}
	case imageExt(name):
		if fileExists(filepath.Join(dir, a.Thumbs.ImagePath(name))) {
			return true
		}
	}
	for _, src := range a.Thumbs.Sources(name) {
		if fileExists(filepath.Join(dir, src)) {
			return true
		}
	}
	return false
}

func imageExt(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		return true
	}
	return false
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// DeleteMedia removes an attachment, its derived children and their files.
func (a *App) DeleteMedia(ctx context.Context, id int64) error {
	att, err := a.Store.GetAttachment(ctx, id)
	if err != nil {
		return err
	}
	children, err := a.Store.ListChildren(ctx, id)
	if err != nil {
		return err
	}
	if err := a.Store.DeleteAttachment(ctx, id); err != nil {
		return err
	}
	for _, f := range append(children, att) {
		if err := os.Remove(f.FilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			a.Logger.Warn().Err(err).Str("path", f.FilePath).Msg("remove media file")
		}
	}
	return nil
}

func (a *App) handleMediaUpload(c echo.Context) error {
	if !IsAdmin(c) {
		return c.Redirect(http.StatusSeeOther, "/admin/")
	}
	file, err := c.FormFile("file")
	if err != nil {
		return a.renderMediaListStatus(c, http.StatusBadRequest, "No file provided.")
	}
	if file.Size > a.Config.MaxUploadSize {
		return a.renderMediaListStatus(c, http.StatusBadRequest, "File too large.")
	}
	src, err := file.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	_, err = a.AddMedia(c.Request().Context(), src, file.Filename, c.FormValue("title"), parseID(c.FormValue("category")))
	switch {
	case errors.Is(err, ErrUnsupportedMedia):
		return a.renderMediaListStatus(c, http.StatusBadRequest, "Only images and PDF documents can be uploaded.")
	case errors.Is(err, ErrTooLarge):
		return a.renderMediaListStatus(c, http.StatusBadRequest, "File too large.")
	case errors.Is(err, ErrNotFound):
		return a.renderMediaListStatus(c, http.StatusBadRequest, "Unknown category.")
	case err != nil:
		return err
	}
	return a.renderMediaList(c, "Uploaded.")
}

func (a *App) handleMediaDelete(c echo.Context) error {
	if !IsAdmin(c) {
		return c.Redirect(http.StatusSeeOther, "/admin/")
	}
	err := a.DeleteMedia(c.Request().Context(), parseID(c.Param("id")))
	if errors.Is(err, ErrNotFound) {
		return a.renderMediaListStatus(c, http.StatusNotFound, "No such media.")
	}
	if err != nil {
		return err
	}
	return a.renderMediaList(c, "Deleted.")
}

func (a *App) handleMediaList(c echo.Context) error {
	if !IsAdmin(c) {
		return c.Redirect(http.StatusSeeOther, "/admin/")
	}
	return a.renderMediaList(c, c.QueryParam("msg"))
}

func (a *App) renderMediaList(c echo.Context, msg string) error {
	return a.renderMediaListStatus(c, http.StatusOK, msg)
}

func (a *App) renderMediaListStatus(c echo.Context, code int, msg string) error {
	ctx := c.Request().Context()
	media, err := a.Store.ListAttachments(ctx)
	if err != nil {
		return err
	}
	opts, err := a.categoryOptions(ctx)
	if err != nil {
		return err
	}
	rows := make([]views.MediaRow, 0, len(media))
	for _, m := range media {
		rows = append(rows, views.MediaRow{
			ID:       m.ID,
			Title:    m.Title,
			MimeType: m.MimeType,
			URL:      m.URL,
			Category: a.Categories.Name(ctx, m.CategoryID),
			Derived:  m.ParentID != 0,
		})
	}
	return RenderStatus(c, code, a.Views.AdminMedia(a.siteView(), rows, opts, !a.Config.DisableTaxonomy, msg, CsrfToken(c)))
}
