package mediawidget

import "embed"

// EmbeddedAssets holds the frontend files shipped with the widget:
// mediawidget.js (load-more handler) and mediawidget.css.
//
//go:embed embedded/*
var EmbeddedAssets embed.FS
