package mediawidget

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/eringen/mediawidget/thumbnail"
	"github.com/eringen/mediawidget/views"
)

// DiagnosticNoConverter is shown in place of a PDF preview when no
// rasterizer is installed.
const DiagnosticNoConverter = "No image converter found"

// MediaItems resolves the preview image of each attachment, deriving PDF
// thumbnails and scaled image copies as needed. Items keep their input
// order. A PDF thumbnail failure leaves that item's image empty and never
// fails the page.
func (a *App) MediaItems(ctx context.Context, media []Attachment) []views.MediaItem {
	items := make([]views.MediaItem, 0, len(media))
	for _, m := range media {
		it := views.MediaItem{ID: m.ID, Title: m.Title, Link: m.URL}
		switch {
		case m.IsPDF():
			it.ImageURL, it.Diagnostic = a.pdfPreview(ctx, m)
		case m.IsImage():
			it.ImageURL = a.imagePreview(ctx, m)
		}
		items = append(items, it)
	}
	return items
}

// imagePreview returns the scaled copy of an image, falling back to the
// original file when scaling fails.
func (a *App) imagePreview(ctx context.Context, m Attachment) string {
	th, err := a.Thumbs.DeriveImage(ctx, thumbnail.Source{ID: m.ID, Title: m.Title, Path: m.FilePath, URL: m.URL})
	if err != nil {
		thumbnailOutcomes.WithLabelValues("failed").Inc()
		a.Logger.Error().Err(err).Int64("attachment", m.ID).Str("path", m.FilePath).Msg("image resize failed")
		return m.URL
	}
	thumbnailOutcomes.WithLabelValues(string(th.Outcome)).Inc()
	if th.RegisterErr != nil {
		a.Logger.Warn().Err(th.RegisterErr).Int64("attachment", m.ID).Msg("thumbnail registration failed")
	}
	return th.URL
}

func (a *App) pdfPreview(ctx context.Context, m Attachment) (imageURL, diagnostic string) {
	log := a.Logger.With().Int64("attachment", m.ID).Str("path", m.FilePath).Logger()
	th, err := a.Thumbs.Derive(ctx, thumbnail.Source{ID: m.ID, Title: m.Title, Path: m.FilePath, URL: m.URL})
	switch {
	case errors.Is(err, thumbnail.ErrUnavailable):
		thumbnailOutcomes.WithLabelValues("unavailable").Inc()
		log.Warn().Msg("pdf thumbnail skipped: no rasterizer")
		return "", DiagnosticNoConverter
	case err != nil:
		thumbnailOutcomes.WithLabelValues("failed").Inc()
		log.Error().Err(err).Msg("pdf thumbnail failed")
		return "", ""
	}
	thumbnailOutcomes.WithLabelValues(string(th.Outcome)).Inc()
	if th.Outcome == thumbnail.Generated {
		log.Info().Str("thumbnail", th.Path).Msg("pdf thumbnail generated")
	}
	if th.RegisterErr != nil {
		log.Warn().Err(th.RegisterErr).Msg("thumbnail registration failed")
	}
	return th.URL, ""
}

// WarmThumbnails derives missing PDF thumbnails and scaled image copies
// for every attachment in category, or in the whole library when category
// is 0. It returns how many files were generated.
func (a *App) WarmThumbnails(ctx context.Context, category int64) (int, error) {
	var media []Attachment
	var err error
	if category > 0 {
		var total int
		if total, err = a.Store.CountMedia(ctx, category); err == nil {
			media, err = a.Store.ListMedia(ctx, category, 0, total)
		}
	} else {
		media, err = a.Store.ListAttachments(ctx)
	}
	if err != nil {
		return 0, err
	}
	generated := 0
	for _, m := range media {
		if m.ParentID != 0 || (!m.IsPDF() && !m.IsImage()) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return generated, err
		}
		src := thumbnail.Source{ID: m.ID, Title: m.Title, Path: m.FilePath, URL: m.URL}
		var th thumbnail.Thumbnail
		if m.IsPDF() {
			th, err = a.Thumbs.Derive(ctx, src)
		} else {
			th, err = a.Thumbs.DeriveImage(ctx, src)
		}
		if err != nil {
			if errors.Is(err, thumbnail.ErrUnavailable) {
				return generated, err
			}
			a.Logger.Error().Err(err).Int64("attachment", m.ID).Msg("thumbnail failed")
			continue
		}
		if th.Outcome == thumbnail.Generated {
			generated++
		}
	}
	return generated, nil
}

// RegisterThumbnail records a derived file as a child attachment of its
// source. It is a no-op when the child already exists.
func (s *Store) RegisterThumbnail(ctx context.Context, src thumbnail.Source, th thumbnail.Thumbnail) error {
	var size int64
	if fi, err := os.Stat(th.Path); err == nil {
		size = fi.Size()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO attachments (title, mime_type, file_path, url, size, category_id, parent_id, created_at)
		SELECT ?, ?, ?, ?, ?, NULL, ?, ?
		WHERE NOT EXISTS (SELECT 1 FROM attachments WHERE parent_id = ? AND file_path = ?)`,
		src.Title+" (thumbnail)", th.MimeType, th.Path, th.URL, size, src.ID, time.Now().UTC().UnixNano(), src.ID, th.Path)
	if err != nil {
		return fmt.Errorf("register thumbnail: %w", err)
	}
	return nil
}
