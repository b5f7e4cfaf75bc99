package views

//go:generate go run github.com/a-h/templ/cmd/templ@v0.3.960 generate

import "strconv"

// ContainerID returns the DOM id of a widget's item container.
func ContainerID(widgetID int64) string {
	return "mediawidget-" + strconv.FormatInt(widgetID, 10)
}

func pageTitle(cfg SiteConfig, title string) string {
	if title == "" || title == cfg.Name {
		return cfg.Name
	}
	return title + " | " + cfg.Name
}

func widgetPath(id int64) string {
	return "/widgets/" + i64toa(id) + "/"
}

func adminWidgetPath(id int64) string {
	return "/admin/widgets/" + i64toa(id) + "/"
}

func feedPath(category int64) string {
	return "/feed/" + i64toa(category) + "/"
}

func itoa(n int) string {
	return strconv.Itoa(n)
}

func i64toa(n int64) string {
	return strconv.FormatInt(n, 10)
}
