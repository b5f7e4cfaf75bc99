package mediawidget

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/eringen/mediawidget/views"
)

func (a *App) handleHome(c echo.Context) error {
	ctx := c.Request().Context()
	configs, err := a.Store.ListWidgets(ctx)
	if err != nil {
		return err
	}
	widgets := make([]views.Widget, 0, len(configs))
	for _, w := range configs {
		v, err := a.BuildWidget(ctx, w)
		if err != nil {
			return err
		}
		widgets = append(widgets, v)
	}
	return Render(c, a.Views.Home(a.siteView(), widgets))
}

func (a *App) handleWidget(c echo.Context) error {
	ctx := c.Request().Context()
	id := parseID(c.Param("id"))
	if id == 0 {
		return RenderStatus(c, http.StatusNotFound, a.Views.NotFound(a.siteView()))
	}
	w, err := a.Store.GetWidget(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return RenderStatus(c, http.StatusNotFound, a.Views.NotFound(a.siteView()))
		}
		return err
	}
	v, err := a.BuildWidget(ctx, w)
	if err != nil {
		return err
	}
	return Render(c, a.Views.WidgetPage(a.siteView(), v))
}

// pageSize resolves the effective page size of a widget instance.
func (a *App) pageSize(w WidgetConfig) int {
	return min(w.PageSize(a.Config.DefaultPageSize), a.Config.MaxPageSize)
}

// BuildWidget renders the first page of a widget instance: up to its page
// size of the newest category items, plus a load-more control when the
// category holds more.
func (a *App) BuildWidget(ctx context.Context, w WidgetConfig) (views.Widget, error) {
	size := a.pageSize(w)
	media, err := a.Store.ListMedia(ctx, w.CategoryID, 0, size)
	if err != nil {
		return views.Widget{}, err
	}
	v := views.Widget{
		ID:      w.ID,
		Title:   w.Title,
		Items:   a.MediaItems(ctx, media),
		Display: views.Display{NewWindow: w.NewWindow, HideTitle: w.HideTitle},
	}
	if w.CategoryID < 1 {
		return v, nil
	}
	total, err := a.Store.CountMedia(ctx, w.CategoryID)
	if err != nil {
		return views.Widget{}, err
	}
	if total > size {
		v.More = &views.ShowMore{
			Target:   views.ContainerID(w.ID),
			Widget:   w.ID,
			Category: w.CategoryID,
			Offset:   size,
			MaxItems: size,
		}
	}
	return v, nil
}

// LoadMoreRequest is the replay state a load-more control sends back.
// Numeric fields that fail to parse reject the request with 400.
type LoadMoreRequest struct {
	Widget   int64 `query:"widget" form:"widget"`
	Category int64 `query:"category" form:"category"`
	Offset   int   `query:"offset" form:"offset"`
	MaxItems int   `query:"maxitems" form:"maxitems"`
}

// Normalize clamps offset and page size into range.
func (r *LoadMoreRequest) Normalize(def, max int) {
	if r.Offset < 0 {
		r.Offset = 0
	}
	if r.MaxItems < 1 {
		r.MaxItems = def
	}
	if r.MaxItems > max {
		r.MaxItems = max
	}
}

// handleLoadMore returns the next page of a category as a bare HTML
// fragment for the client to append.
func (a *App) handleLoadMore(c echo.Context) error {
	ctx := c.Request().Context()
	var req LoadMoreRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid load-more parameters")
	}
	req.Normalize(a.Config.DefaultPageSize, a.Config.MaxPageSize)

	media, err := a.Store.ListMedia(ctx, req.Category, req.Offset, req.MaxItems)
	if err != nil {
		return err
	}
	loadMoreItems.Observe(float64(len(media)))

	display, err := a.loadMoreDisplay(ctx, req.Widget)
	if err != nil {
		return err
	}
	return RenderFragment(c, len(media), a.Views.MediaList(a.MediaItems(ctx, media), display))
}

// loadMoreDisplay returns the display switches of the requesting widget.
// Requests without a known widget get links in a new tab with titles shown.
func (a *App) loadMoreDisplay(ctx context.Context, widget int64) (views.Display, error) {
	def := views.Display{NewWindow: true}
	if widget < 1 {
		return def, nil
	}
	w, err := a.Store.GetWidget(ctx, widget)
	if errors.Is(err, ErrNotFound) {
		return def, nil
	}
	if err != nil {
		return views.Display{}, err
	}
	return views.Display{NewWindow: w.NewWindow, HideTitle: w.HideTitle}, nil
}

func (a *App) handleHealth(c echo.Context) error {
	if err := a.Store.Ping(c.Request().Context()); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":     "ok",
		"rasterizer": a.Thumbs.Available(),
	})
}

func (a *App) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	var he *echo.HTTPError
	ok := errors.As(err, &he)
	code := http.StatusInternalServerError
	if ok {
		code = he.Code
	}
	if code >= 500 {
		a.Logger.Error().Err(err).Str("uri", c.Request().RequestURI).Msg("server error")
	}
	if c.Path() == "/loadmore/" {
		_ = c.String(code, http.StatusText(code))
		return
	}
	switch {
	case code == http.StatusNotFound:
		_ = RenderStatus(c, code, a.Views.NotFound(a.siteView()))
	case code >= 500:
		_ = RenderStatus(c, code, a.Views.ServerError(a.siteView()))
	default:
		a.Echo.DefaultHTTPErrorHandler(err, c)
	}
}
