package mediawidget

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/eringen/mediawidget/thumbnail"
)

// Default widget paging values.
const (
	DefaultPageSize = 5
	MaxPageSize     = 50
)

// SiteConfig holds all configuration for a mediawidget site.
type SiteConfig struct {
	Name string `yaml:"name"` // Site name (default "Media")
	URL  string `yaml:"url"`  // Canonical URL (default "http://localhost:3000")

	Addr         string `yaml:"addr"`          // Listen address (default ":3000")
	DatabasePath string `yaml:"database_path"` // SQLite path (default "data/media.db")

	MediaDir       string `yaml:"media_dir"`        // Upload root on disk (default "data/media")
	MediaURLPrefix string `yaml:"media_url_prefix"` // Public prefix for MediaDir (default "/media")
	MaxUploadSize  int64  `yaml:"max_upload_size"`  // Bytes (default 20MB)

	AdminPassword string `yaml:"admin_password"` // Required: admin login password
	SessionSecret string `yaml:"session_secret"` // Required: session encryption secret
	CookieSecure  bool   `yaml:"cookie_secure"`  // Set true for HTTPS

	// DisableTaxonomy hides the category selector in the widget form and
	// shows a notice instead.
	DisableTaxonomy bool `yaml:"disable_taxonomy"`

	DefaultPageSize int `yaml:"default_page_size"` // Items per widget page when unset (default 5)
	MaxPageSize     int `yaml:"max_page_size"`     // Upper clamp for load-more requests (default 50)

	ThumbnailWidth  int    `yaml:"thumbnail_width"`  // Width of PDF thumbnails and scaled images (default 200)
	ThumbnailSuffix string `yaml:"thumbnail_suffix"` // Replaces ".pdf" (default "-image.png")

	LoadMoreRate  float64 `yaml:"load_more_rate"`  // Requests per second per IP (default 5)
	LoadMoreBurst int     `yaml:"load_more_burst"` // Bucket size (default 10)

	CategoryCacheTTL time.Duration `yaml:"category_cache_ttl"` // default 5min
	LogLevel         string        `yaml:"log_level"`          // zerolog level (default "info")
}

func (c *SiteConfig) setDefaults() {
	if c.Name == "" {
		c.Name = "Media"
	}
	if c.URL == "" {
		c.URL = "http://localhost:3000"
	}
	c.URL = strings.TrimSuffix(c.URL, "/")
	if c.Addr == "" {
		c.Addr = ":3000"
	}
	if c.DatabasePath == "" {
		c.DatabasePath = "data/media.db"
	}
	if c.MediaDir == "" {
		c.MediaDir = "data/media"
	}
	if c.MediaURLPrefix == "" {
		c.MediaURLPrefix = "/media"
	}
	c.MediaURLPrefix = "/" + strings.Trim(c.MediaURLPrefix, "/")
	if c.MaxUploadSize <= 0 {
		c.MaxUploadSize = 20 << 20
	}
	if c.DefaultPageSize <= 0 {
		c.DefaultPageSize = DefaultPageSize
	}
	if c.MaxPageSize <= 0 {
		c.MaxPageSize = MaxPageSize
	}
	if c.MaxPageSize < c.DefaultPageSize {
		c.MaxPageSize = c.DefaultPageSize
	}
	if c.ThumbnailWidth <= 0 {
		c.ThumbnailWidth = thumbnail.DefaultWidth
	}
	if c.ThumbnailSuffix == "" {
		c.ThumbnailSuffix = thumbnail.DefaultSuffix
	}
	if c.LoadMoreRate <= 0 {
		c.LoadMoreRate = 5
	}
	if c.LoadMoreBurst <= 0 {
		c.LoadMoreBurst = 10
	}
	if c.CategoryCacheTTL == 0 {
		c.CategoryCacheTTL = 5 * time.Minute
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Level parses LogLevel, falling back to info.
func (c SiteConfig) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// LoadConfig reads a YAML config file. An empty path returns the zero value.
func LoadConfig(path string) (SiteConfig, error) {
	var c SiteConfig
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("parse config %s: %w", path, err)
	}
	return c, nil
}

// ApplyEnv overlays MEDIAWIDGET_* environment variables onto c.
// Unset variables leave the existing value in place.
func (c *SiteConfig) ApplyEnv() error {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	str("MEDIAWIDGET_SITE_NAME", &c.Name)
	str("MEDIAWIDGET_SITE_URL", &c.URL)
	str("MEDIAWIDGET_ADDR", &c.Addr)
	str("MEDIAWIDGET_DATABASE_PATH", &c.DatabasePath)
	str("MEDIAWIDGET_MEDIA_DIR", &c.MediaDir)
	str("MEDIAWIDGET_MEDIA_URL_PREFIX", &c.MediaURLPrefix)
	str("MEDIAWIDGET_ADMIN_PASSWORD", &c.AdminPassword)
	str("MEDIAWIDGET_SESSION_SECRET", &c.SessionSecret)
	str("MEDIAWIDGET_THUMBNAIL_SUFFIX", &c.ThumbnailSuffix)
	str("MEDIAWIDGET_LOG_LEVEL", &c.LogLevel)

	if v := os.Getenv("MEDIAWIDGET_COOKIE_SECURE"); v != "" {
		c.CookieSecure = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("MEDIAWIDGET_DISABLE_TAXONOMY"); v != "" {
		c.DisableTaxonomy = strings.EqualFold(v, "true")
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"MEDIAWIDGET_DEFAULT_PAGE_SIZE", &c.DefaultPageSize},
		{"MEDIAWIDGET_MAX_PAGE_SIZE", &c.MaxPageSize},
		{"MEDIAWIDGET_THUMBNAIL_WIDTH", &c.ThumbnailWidth},
		{"MEDIAWIDGET_LOAD_MORE_BURST", &c.LoadMoreBurst},
	}
	for _, it := range ints {
		v := os.Getenv(it.key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", it.key, err)
		}
		*it.dst = n
	}
	if v := os.Getenv("MEDIAWIDGET_LOAD_MORE_RATE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("MEDIAWIDGET_LOAD_MORE_RATE: %w", err)
		}
		c.LoadMoreRate = f
	}
	if v := os.Getenv("MEDIAWIDGET_CATEGORY_CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("MEDIAWIDGET_CATEGORY_CACHE_TTL: %w", err)
		}
		c.CategoryCacheTTL = d
	}
	return nil
}

// Option configures additional App behavior.
type Option func(*App)

// WithCustomRoutes registers additional routes on the Echo instance.
// The callback receives the App before the server starts.
func WithCustomRoutes(fn func(*App)) Option {
	return func(a *App) {
		a.customRoutes = append(a.customRoutes, fn)
	}
}

// WithRasterizer overrides PDF rasterizer detection. A nil r disables
// thumbnail generation.
func WithRasterizer(r thumbnail.Rasterizer) Option {
	return func(a *App) {
		a.rasterizer = r
		a.rasterizerSet = true
	}
}

// WithViews replaces the rendered components. Fields left nil keep the
// default views.
func WithViews(v ViewFuncs) Option {
	return func(a *App) {
		a.Views = v
	}
}

// WithLogger replaces the default zerolog logger.
func WithLogger(l zerolog.Logger) Option {
	return func(a *App) {
		a.Logger = l
	}
}
