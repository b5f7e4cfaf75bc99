// Package mediawidget serves category-filtered media widgets: lists of
// images and PDFs with thumbnails and incremental "load more" paging.
//
// It ships its own SQLite content store, an admin area for widget
// configuration and media uploads, and the frontend assets the widgets
// need. PDF thumbnails are derived on first view and cached on disk.
package mediawidget

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"time"

	"github.com/a-h/templ"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/eringen/mediawidget/thumbnail"
	"github.com/eringen/mediawidget/views"
)

// ViewFuncs holds the templ components the handlers render. Hosts that
// want their own markup replace individual fields with WithViews; nil
// fields fall back to the views package.
type ViewFuncs struct {
	MediaList       func(items []views.MediaItem, d views.Display) templ.Component
	WidgetPage      func(cfg views.SiteConfig, w views.Widget) templ.Component
	Home            func(cfg views.SiteConfig, widgets []views.Widget) templ.Component
	AdminLogin      func(cfg views.SiteConfig, showError bool, csrf string) templ.Component
	AdminDashboard  func(cfg views.SiteConfig, rows []views.WidgetRow, msg, csrf string) templ.Component
	AdminWidgetForm func(cfg views.SiteConfig, f views.WidgetForm, cats []views.CategoryOption, taxonomy bool, csrf string) templ.Component
	AdminMedia      func(cfg views.SiteConfig, rows []views.MediaRow, cats []views.CategoryOption, taxonomy bool, msg, csrf string) templ.Component
	NotFound        func(cfg views.SiteConfig) templ.Component
	ServerError     func(cfg views.SiteConfig) templ.Component
}

// DefaultViews returns the components shipped in the views package.
func DefaultViews() ViewFuncs {
	return ViewFuncs{
		MediaList:       views.MediaList,
		WidgetPage:      views.WidgetPage,
		Home:            views.Home,
		AdminLogin:      views.AdminLogin,
		AdminDashboard:  views.AdminDashboard,
		AdminWidgetForm: views.AdminWidgetForm,
		AdminMedia:      views.AdminMedia,
		NotFound:        views.NotFound,
		ServerError:     views.ServerError,
	}
}

func (v *ViewFuncs) fillDefaults() {
	def := DefaultViews()
	if v.MediaList == nil {
		v.MediaList = def.MediaList
	}
	if v.WidgetPage == nil {
		v.WidgetPage = def.WidgetPage
	}
	if v.Home == nil {
		v.Home = def.Home
	}
	if v.AdminLogin == nil {
		v.AdminLogin = def.AdminLogin
	}
	if v.AdminDashboard == nil {
		v.AdminDashboard = def.AdminDashboard
	}
	if v.AdminWidgetForm == nil {
		v.AdminWidgetForm = def.AdminWidgetForm
	}
	if v.AdminMedia == nil {
		v.AdminMedia = def.AdminMedia
	}
	if v.NotFound == nil {
		v.NotFound = def.NotFound
	}
	if v.ServerError == nil {
		v.ServerError = def.ServerError
	}
}

// App is the central mediawidget application. It wires together the store,
// caches, thumbnail deriver, handlers, middleware and views.
type App struct {
	Config     SiteConfig
	Echo       *echo.Echo
	Store      *Store
	Categories *CategoryCache
	Thumbs     *thumbnail.Deriver
	Views      ViewFuncs
	Logger     zerolog.Logger

	loginLimiter    *KeyLimiter
	loadMoreLimiter *KeyLimiter
	rasterizer      thumbnail.Rasterizer
	rasterizerSet   bool
	customRoutes    []func(*App)
	initialized     bool
}

// New creates an App with the given configuration.
func New(cfg SiteConfig, opts ...Option) *App {
	cfg.setDefaults()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	a := &App{
		Config: cfg,
		Echo:   e,
		Logger: zerolog.New(os.Stderr).With().Timestamp().Logger().Level(cfg.Level()),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.Views.fillDefaults()
	return a
}

// Init opens the app and registers middleware and routes.
// Start calls it; tests call it directly.
func (a *App) Init() error {
	if a.initialized {
		return nil
	}
	if a.Config.AdminPassword == "" {
		return fmt.Errorf("mediawidget: AdminPassword is required")
	}
	if a.Config.SessionSecret == "" {
		return fmt.Errorf("mediawidget: SessionSecret is required")
	}

	if err := a.Open(); err != nil {
		return err
	}
	a.loginLimiter = NewLoginLimiter(5, time.Minute)
	a.loadMoreLimiter = NewKeyLimiter(rate.Limit(a.Config.LoadMoreRate), a.Config.LoadMoreBurst, 3*time.Minute)

	a.setupMiddleware()
	a.setupRoutes()
	for _, fn := range a.customRoutes {
		fn(a)
	}
	a.initialized = true
	return nil
}

// Open prepares the store, media directory and thumbnail deriver without
// any HTTP wiring. Command-line tools use it directly.
func (a *App) Open() error {
	if a.Store != nil {
		return nil
	}
	store, err := NewStore(a.Config.DatabasePath)
	if err != nil {
		return fmt.Errorf("mediawidget: init store: %w", err)
	}
	if err := os.MkdirAll(a.Config.MediaDir, 0o755); err != nil {
		store.Close()
		return fmt.Errorf("mediawidget: create media dir: %w", err)
	}
	a.Store = store
	a.Categories = NewCategoryCache(a.Store, a.Config.CategoryCacheTTL)

	if !a.rasterizerSet {
		a.rasterizer = thumbnail.Detect()
	}
	if a.rasterizer == nil {
		a.Logger.Warn().Msg("no pdf rasterizer found on PATH (pdftoppm, magick, gs); pdf thumbnails disabled")
	}
	a.Thumbs = thumbnail.NewDeriver(a.rasterizer, a.Store, a.Config.ThumbnailWidth, a.Config.ThumbnailSuffix)
	return nil
}

// Start initializes the app and serves HTTP until the server is shut down.
func (a *App) Start() error {
	if err := a.Init(); err != nil {
		return err
	}
	a.Logger.Info().Str("addr", a.Config.Addr).Msg("starting server")
	if err := a.Echo.Start(a.Config.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server gracefully and releases resources.
func (a *App) Shutdown(ctx context.Context) error {
	err := a.Echo.Shutdown(ctx)
	if cerr := a.Close(); err == nil {
		err = cerr
	}
	return err
}

func (a *App) setupRoutes() {
	e := a.Echo

	assets, _ := fs.Sub(EmbeddedAssets, "embedded")
	assetHandler := echo.WrapHandler(http.StripPrefix("/public/", http.FileServer(http.FS(assets))))
	e.GET(views.ScriptPath, assetHandler)
	e.GET(views.StylesheetPath, assetHandler)
	e.Static(a.Config.MediaURLPrefix, a.Config.MediaDir)

	e.GET("/healthz", a.handleHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Public routes
	e.GET("/", a.handleHome)
	e.GET("/widgets/:id/", a.handleWidget)
	e.GET("/loadmore/", a.handleLoadMore, a.limitLoadMore)
	e.POST("/loadmore/", a.handleLoadMore, a.limitLoadMore)
	e.GET("/feed/:id/", a.handleFeed)

	// Admin routes
	e.GET("/admin/", a.handleAdmin)
	e.POST("/admin/login/", a.handleAdminLogin)
	e.POST("/admin/logout/", handleAdminLogout)
	e.GET("/admin/widgets/new/", a.handleAdminWidgetForm)
	e.GET("/admin/widgets/:id/", a.handleAdminWidgetForm)
	e.POST("/admin/widgets/save/", a.handleAdminWidgetSave)
	e.POST("/admin/widgets/:id/delete/", a.handleAdminWidgetDelete)
	e.GET("/admin/media/", a.handleMediaList)
	e.POST("/admin/media/upload/", a.handleMediaUpload)
	e.POST("/admin/media/:id/delete/", a.handleMediaDelete)
	e.POST("/admin/categories/", a.handleCategoryCreate)
	e.POST("/admin/categories/:id/delete/", a.handleCategoryDelete)
}

// Close releases the store and background workers.
func (a *App) Close() error {
	if a.loginLimiter != nil {
		a.loginLimiter.Close()
	}
	if a.loadMoreLimiter != nil {
		a.loadMoreLimiter.Close()
	}
	if a.Store != nil {
		return a.Store.Close()
	}
	return nil
}

func (a *App) siteView() views.SiteConfig {
	return views.SiteConfig{Name: a.Config.Name, URL: a.Config.URL}
}

// EnvOr returns the value of the environment variable key, or fallback if empty.
func EnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
