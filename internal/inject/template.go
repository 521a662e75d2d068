package inject

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"github.com/kalambet/pim/internal/settings"
)

// Render replaces every {category} in tmpl with a link to the category.
// label is the raw category name and is escaped here, once, for both the
// title attribute and the link text. Links with a scheme other than http or
// https are replaced with "#". The rest of tmpl is copied verbatim.
func Render(tmpl, label, link string) string {
	if !strings.Contains(tmpl, settings.Placeholder) {
		return tmpl
	}
	name := html.EscapeString(label)
	anchor := `<a href="` + html.EscapeString(safeLink(link)) + `" title="` + name + `">` + name + `</a>`
	return strings.ReplaceAll(tmpl, settings.Placeholder, anchor)
}

func safeLink(link string) string {
	link = strings.TrimSpace(link)
	if link == "" {
		return "#"
	}
	u, err := url.Parse(link)
	if err != nil {
		return "#"
	}
	switch strings.ToLower(u.Scheme) {
	case "", "http", "https":
		return link
	default:
		return "#"
	}
}
