package mediawidget

import (
	"strings"
	"time"
)

// MIME types the widget treats specially.
const (
	MIMEPDF = "application/pdf"
	MIMEPNG = "image/png"
)

// Category is a taxonomy term attachments are grouped under.
type Category struct {
	ID   int64
	Name string
	Slug string
}

// Attachment is a stored media file record.
type Attachment struct {
	ID         int64
	Title      string
	MimeType   string
	FilePath   string // location on disk
	URL        string // public URL
	Size       int64
	CategoryID int64 // 0 when uncategorized
	ParentID   int64 // source attachment for derived files
	CreatedAt  time.Time
}

// IsPDF reports whether the attachment is a PDF document.
func (a Attachment) IsPDF() bool {
	return strings.EqualFold(a.MimeType, MIMEPDF)
}

// IsImage reports whether the attachment is a raster image.
func (a Attachment) IsImage() bool {
	return strings.HasPrefix(strings.ToLower(a.MimeType), "image/")
}

// WidgetConfig is the persisted configuration of one widget instance.
// Values are stored as submitted; fallbacks are applied on read.
type WidgetConfig struct {
	ID         int64
	Title      string
	CategoryID int64 // 0 when no category was chosen
	MaxItems   int   // 0 when not stored
	NewWindow  bool
	HideTitle  bool
}

// PageSize returns MaxItems, or def when it is not a positive number.
func (w WidgetConfig) PageSize(def int) int {
	if w.MaxItems < 1 {
		return def
	}
	return w.MaxItems
}
