package views

// SiteConfig holds the site-wide values templates need.
type SiteConfig struct {
	Name string
	URL  string
}

// MediaItem is one resolved attachment ready for rendering.
type MediaItem struct {
	ID         int64
	Title      string
	Link       string // attachment URL
	ImageURL   string // thumbnail or image URL, may be empty
	Diagnostic string // inline notice shown before the link
}

// Display carries the per-instance rendering switches.
type Display struct {
	NewWindow bool
	HideTitle bool
}

// ShowMore describes the load-more control for a widget.
type ShowMore struct {
	Target   string // container element id
	Widget   int64
	Category int64
	Offset   int
	MaxItems int
}

// Widget is one rendered widget instance.
type Widget struct {
	ID      int64
	Title   string
	Items   []MediaItem
	Display Display
	More    *ShowMore // nil when every item fits on the first page
}

// ContainerID returns the DOM id the load-more fragment is appended to.
func (w Widget) ContainerID() string {
	return ContainerID(w.ID)
}

// WidgetForm is the admin form state for one widget instance.
type WidgetForm struct {
	ID         int64
	Title      string
	CategoryID int64
	MaxItems   int
	NewWindow  bool
	HideTitle  bool
}

// CategoryOption is one entry of the category selector.
type CategoryOption struct {
	ID    int64
	Name  string
	Count int
}

// WidgetRow is one line of the admin widget list.
type WidgetRow struct {
	ID       int64
	Title    string
	Category string
	PageSize int
}

// DisplayTitle is the row label; untitled widgets show their id.
func (r WidgetRow) DisplayTitle() string {
	if r.Title == "" {
		return "(untitled #" + i64toa(r.ID) + ")"
	}
	return r.Title
}

// MediaRow is one line of the admin media list.
type MediaRow struct {
	ID       int64
	Title    string
	MimeType string
	URL      string
	Category string
	Derived  bool
}
