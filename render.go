package mediawidget

import (
	"net/http"
	"strconv"

	"github.com/a-h/templ"
	"github.com/labstack/echo/v4"
)

// CountHeader carries the number of items in a load-more fragment. The
// client removes its control once a page comes back short.
const CountHeader = "X-Mediawidget-Count"

// Render writes a templ component as an HTTP 200 HTML response.
func Render(c echo.Context, cmp templ.Component) error {
	return RenderStatus(c, http.StatusOK, cmp)
}

// RenderStatus writes a templ component with a specific HTTP status code.
func RenderStatus(c echo.Context, code int, cmp templ.Component) error {
	c.Response().Header().Set(echo.HeaderContentType, echo.MIMETextHTMLCharsetUTF8)
	c.Response().WriteHeader(code)
	return cmp.Render(c.Request().Context(), c.Response().Writer)
}

// RenderFragment writes a bare markup fragment of count items. The body is
// never wrapped in a page layout.
func RenderFragment(c echo.Context, count int, cmp templ.Component) error {
	c.Response().Header().Set(CountHeader, strconv.Itoa(count))
	return RenderStatus(c, http.StatusOK, cmp)
}
