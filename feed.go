package mediawidget

import (
	"encoding/xml"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
)

type rssXML struct {
	XMLName xml.Name   `xml:"rss"`
	Version string     `xml:"version,attr"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title       string    `xml:"title"`
	Link        string    `xml:"link"`
	Description string    `xml:"description"`
	Items       []rssItem `xml:"item"`
}

type rssItem struct {
	Title     string        `xml:"title"`
	Link      string        `xml:"link"`
	PubDate   string        `xml:"pubDate"`
	GUID      string        `xml:"guid"`
	Enclosure *rssEnclosure `xml:"enclosure,omitempty"`
}

type rssEnclosure struct {
	URL    string `xml:"url,attr"`
	Length string `xml:"length,attr"`
	Type   string `xml:"type,attr"`
}

// handleFeed serves the newest items of one category as RSS 2.0, each
// with its file as an enclosure.
func (a *App) handleFeed(c echo.Context) error {
	ctx := c.Request().Context()
	cat, err := a.Categories.Get(ctx, parseID(c.Param("id")))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return RenderStatus(c, http.StatusNotFound, a.Views.NotFound(a.siteView()))
		}
		return err
	}
	media, err := a.Store.ListMedia(ctx, cat.ID, 0, a.Config.MaxPageSize)
	if err != nil {
		return err
	}
	return a.renderRSS(c, cat, media)
}

func (a *App) renderRSS(c echo.Context, cat Category, media []Attachment) error {
	items := make([]rssItem, 0, len(media))
	for _, m := range media {
		items = append(items, rssItem{
			Title:   m.Title,
			Link:    m.URL,
			PubDate: m.CreatedAt.Format(time.RFC1123Z),
			GUID:    m.URL,
			Enclosure: &rssEnclosure{
				URL:    m.URL,
				Length: strconv.FormatInt(m.Size, 10),
				Type:   m.MimeType,
			},
		})
	}
	feed := rssXML{
		Version: "2.0",
		Channel: rssChannel{
			Title:       a.Config.Name + " | " + cat.Name,
			Link:        BuildURL(a.Config.URL, "feed", strconv.FormatInt(cat.ID, 10)),
			Description: "Latest media in " + cat.Name,
			Items:       items,
		},
	}
	c.Response().Header().Set(echo.HeaderContentType, "application/rss+xml; charset=utf-8")
	c.Response().WriteHeader(http.StatusOK)
	if _, err := c.Response().Write([]byte(xml.Header)); err != nil {
		return err
	}
	return xml.NewEncoder(c.Response()).Encode(feed)
}
