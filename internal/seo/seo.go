package seo

import "strings"

// OpenGraph holds the og:* properties of a page.
type OpenGraph struct {
	Title       string
	Description string
	Image       string
	Type        string
	URL         string
	SiteName    string
	Locale      string
}

// Twitter holds the twitter:* card properties.
type Twitter struct {
	Card  string
	Site  string
	Image string
}

// Meta is the head metadata rendered by the base layout.
type Meta struct {
	Title       string
	Description string
	Canonical   string
	Robots      string
	OG          OpenGraph
	Twitter     Twitter
	JSONLD      []string
}

// AbsoluteURL joins a site base URL and a root-relative path. An empty base keeps the path.
func AbsoluteURL(base, path string) string {
	if path == "" {
		return base
	}
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	base = strings.TrimRight(base, "/")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}

// OGLocale converts a BCP 47 tag into the og:locale form, e.g. pt-BR -> pt_BR.
func OGLocale(lang string) string {
	return strings.ReplaceAll(lang, "-", "_")
}
