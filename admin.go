package mediawidget

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/eringen/mediawidget/views"
)

func (a *App) handleAdmin(c echo.Context) error {
	if !IsAdmin(c) {
		return Render(c, a.Views.AdminLogin(a.siteView(), false, CsrfToken(c)))
	}
	return a.renderAdminDashboard(c, c.QueryParam("msg"))
}

func (a *App) handleAdminLogin(c echo.Context) error {
	if !a.loginLimiter.Allow(c.RealIP()) {
		return c.String(http.StatusTooManyRequests, "Too many login attempts. Try again later.")
	}
	pass := c.FormValue("password")
	if subtle.ConstantTimeCompare([]byte(pass), []byte(a.Config.AdminPassword)) == 1 {
		if err := setAdminSession(c); err != nil {
			return err
		}
		return c.Redirect(http.StatusSeeOther, "/admin/")
	}
	a.Logger.Warn().Str("ip", c.RealIP()).Msg("failed admin login")
	return Render(c, a.Views.AdminLogin(a.siteView(), true, CsrfToken(c)))
}

func handleAdminLogout(c echo.Context) error {
	if err := clearAdminSession(c); err != nil {
		return err
	}
	return c.Redirect(http.StatusSeeOther, "/admin/")
}

// handleAdminWidgetForm shows the settings form for a new or existing
// widget instance.
func (a *App) handleAdminWidgetForm(c echo.Context) error {
	if !IsAdmin(c) {
		return c.Redirect(http.StatusSeeOther, "/admin/")
	}
	ctx := c.Request().Context()
	var w WidgetConfig
	if id := parseID(c.Param("id")); id != 0 {
		var err error
		if w, err = a.Store.GetWidget(ctx, id); err != nil {
			if errors.Is(err, ErrNotFound) {
				return RenderStatus(c, http.StatusNotFound, a.Views.NotFound(a.siteView()))
			}
			return err
		}
	}
	opts, err := a.categoryOptions(ctx)
	if err != nil {
		return err
	}
	form := views.WidgetForm{
		ID:         w.ID,
		Title:      w.Title,
		CategoryID: w.CategoryID,
		MaxItems:   w.PageSize(a.Config.DefaultPageSize),
		NewWindow:  w.NewWindow,
		HideTitle:  w.HideTitle,
	}
	if w.ID == 0 {
		form.NewWindow = true
	}
	return Render(c, a.Views.AdminWidgetForm(a.siteView(), form, opts, !a.Config.DisableTaxonomy, CsrfToken(c)))
}

// ParseWidgetForm reads submitted widget settings. Text values are kept
// as submitted; a non-numeric max items value is stored as unset.
func ParseWidgetForm(c echo.Context) WidgetConfig {
	maxItems, _ := strconv.Atoi(strings.TrimSpace(c.FormValue("maxitems")))
	return WidgetConfig{
		ID:         parseID(c.FormValue("id")),
		Title:      c.FormValue("title"),
		CategoryID: parseID(c.FormValue("category")),
		MaxItems:   maxItems,
		NewWindow:  c.FormValue("newwindow") != "",
		HideTitle:  c.FormValue("hidetitle") != "",
	}
}

func (a *App) handleAdminWidgetSave(c echo.Context) error {
	if !IsAdmin(c) {
		return c.Redirect(http.StatusSeeOther, "/admin/")
	}
	w := ParseWidgetForm(c)
	if err := a.Store.SaveWidget(c.Request().Context(), &w); err != nil {
		if errors.Is(err, ErrNotFound) {
			return RenderStatus(c, http.StatusNotFound, a.Views.NotFound(a.siteView()))
		}
		return err
	}
	a.Logger.Info().Int64("widget", w.ID).Int64("category", w.CategoryID).Msg("widget saved")
	return a.renderAdminDashboard(c, "saved")
}

func (a *App) handleAdminWidgetDelete(c echo.Context) error {
	if !IsAdmin(c) {
		return c.Redirect(http.StatusSeeOther, "/admin/")
	}
	if err := a.Store.DeleteWidget(c.Request().Context(), parseID(c.Param("id"))); err != nil {
		return err
	}
	return a.renderAdminDashboard(c, "deleted")
}

func (a *App) renderAdminDashboard(c echo.Context, msg string) error {
	ctx := c.Request().Context()
	widgets, err := a.Store.ListWidgets(ctx)
	if err != nil {
		return err
	}
	rows := make([]views.WidgetRow, 0, len(widgets))
	for _, w := range widgets {
		rows = append(rows, views.WidgetRow{
			ID:       w.ID,
			Title:    w.Title,
			Category: a.Categories.Name(ctx, w.CategoryID),
			PageSize: a.pageSize(w),
		})
	}
	return Render(c, a.Views.AdminDashboard(a.siteView(), rows, msg, CsrfToken(c)))
}

// categoryOptions lists categories with their item counts for selectors.
func (a *App) categoryOptions(ctx context.Context) ([]views.CategoryOption, error) {
	cats, err := a.Categories.List(ctx)
	if err != nil {
		return nil, err
	}
	opts := make([]views.CategoryOption, 0, len(cats))
	for _, cat := range cats {
		n, err := a.Store.CountMedia(ctx, cat.ID)
		if err != nil {
			return nil, err
		}
		opts = append(opts, views.CategoryOption{ID: cat.ID, Name: cat.Name, Count: n})
	}
	return opts, nil
}

func (a *App) handleCategoryCreate(c echo.Context) error {
	if !IsAdmin(c) {
		return c.Redirect(http.StatusSeeOther, "/admin/")
	}
	name := strings.TrimSpace(c.FormValue("name"))
	slug := Slugify(name)
	if slug == "" {
		return a.renderMediaList(c, "Category name is required.")
	}
	cat := Category{Name: name, Slug: slug}
	if err := a.Store.SaveCategory(c.Request().Context(), &cat); err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return a.renderMediaList(c, "A category with that name already exists.")
		}
		return err
	}
	a.Categories.Invalidate()
	return a.renderMediaList(c, "Category added.")
}

func (a *App) handleCategoryDelete(c echo.Context) error {
	if !IsAdmin(c) {
		return c.Redirect(http.StatusSeeOther, "/admin/")
	}
	if err := a.Store.DeleteCategory(c.Request().Context(), parseID(c.Param("id"))); err != nil {
		return err
	}
	a.Categories.Invalidate()
	return a.renderMediaList(c, "Category deleted.")
}
