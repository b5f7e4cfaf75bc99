package mediawidget

import (
	"errors"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediawidget_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"method", "route", "status"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mediawidget_http_request_duration_seconds",
		Help:    "HTTP request latency by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	thumbnailOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediawidget_thumbnails_total",
		Help: "PDF thumbnail lookups by outcome (hit, generated, unavailable, failed).",
	}, []string{"outcome"})

	loadMoreItems = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mediawidget_loadmore_items",
		Help:    "Items returned per load-more request.",
		Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
	})

	loadMoreRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mediawidget_loadmore_rejected_total",
		Help: "Load-more requests rejected by the rate limiter.",
	})
)

// instrument records request counts and latency keyed by the matched route
// template, so ids in paths do not explode label cardinality.
func instrument(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)

		status := c.Response().Status
		if err != nil {
			var he *echo.HTTPError
			if errors.As(err, &he) {
				status = he.Code
			} else if !c.Response().Committed {
				status = 500
			}
		}
		route := c.Path()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request().Method
		httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
		httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
		return err
	}
}
