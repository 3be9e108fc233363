// Package site builds the view models of the blog pages and renders them.
package site

import (
	"html/template"
	"net/http"

	"finitefield.org/hanko-blog/internal/cms"
	"finitefield.org/hanko-blog/internal/format"
	"finitefield.org/hanko-blog/internal/i18n"
	"finitefield.org/hanko-blog/internal/post"
	"finitefield.org/hanko-blog/internal/richtext"
	"finitefield.org/hanko-blog/internal/seo"
)

// View selects the main template of a page.
type View string

const (
	ViewPost     View = "post"
	ViewLoading  View = "loading"
	ViewNotFound View = "notfound"
	ViewError    View = "error"
)

const descriptionLimit = 160

// Site carries the settings shared by every page.
type Site struct {
	Name   string
	URL    string
	Lang   string
	Bundle *i18n.Bundle
}

// PageData is the view model executed by the base layout.
type PageData struct {
	Title    string
	Lang     string
	SiteName string
	Path     string
	Status   int
	SEO      seo.Meta
	View     View
	Post     *PostView
	Aside    *cms.Block

	bundle *i18n.Bundle
}

// T translates key in the page language.
func (p PageData) T(key string) string {
	if p.bundle == nil {
		return key
	}
	return p.bundle.T(p.Lang, key)
}

// PostView is the post payload of a page. Data is the normalized post as is, so fields the
// document lacks (e.g. the banner) fail when the template reads them.
type PostView struct {
	UID         string
	Data        post.Data
	Date        string
	DateISO     string
	ReadingTime string
	Minutes     int
	Sections    []Section
}

// Section is one rendered content item.
type Section struct {
	Heading string
	HTML    template.HTML
}

// PostPath returns the route of the post with slug.
func PostPath(slug string) string {
	return "/post/" + slug
}

// LinkResolver maps document links inside rich text to site routes.
func LinkResolver(link richtext.SpanData) string {
	if link.UID == "" {
		return "/"
	}
	return PostPath(link.UID)
}

func (s Site) page(lang, path string, view View) PageData {
	if lang == "" {
		lang = s.Lang
	}
	return PageData{
		Lang:     lang,
		SiteName: s.Name,
		Path:     path,
		Status:   http.StatusOK,
		View:     view,
		bundle:   s.Bundle,
	}
}

// PostPage builds the page of p. aside may be nil.
func (s Site) PostPage(p post.Post, aside *cms.Block) PageData {
	path := PostPath(p.UID)
	data := s.page(s.Lang, path, ViewPost)
	data.Aside = aside

	view := &PostView{
		UID:     p.UID,
		Data:    p.Data,
		Minutes: post.ReadingTime(p.Data.Content),
	}
	view.ReadingTime = format.FmtMinutes(view.Minutes, data.Lang)
	if published := p.PublishedAt(); !published.IsZero() {
		view.Date = format.FmtDate(published, data.Lang)
		view.DateISO = format.FmtISO(published)
	}
	view.Sections = make([]Section, len(p.Data.Content))
	for i, item := range p.Data.Content {
		view.Sections[i] = Section{
			Heading: item.Heading,
			HTML:    richtext.AsHTML(item.Body, richtext.Options{LinkResolver: LinkResolver}),
		}
	}
	data.Post = view

	data.Title = p.Data.Title + " | " + s.Name
	description := p.Summary(descriptionLimit)
	canonical := seo.AbsoluteURL(s.URL, path)
	image := ""
	if p.Data.Banner != nil {
		image = p.Data.Banner.URL
	}
	data.SEO = seo.Meta{
		Title:       data.Title,
		Description: description,
		Canonical:   canonical,
		OG: seo.OpenGraph{
			Title:       p.Data.Title,
			Description: description,
			Image:       image,
			Type:        "article",
			URL:         canonical,
			SiteName:    s.Name,
			Locale:      seo.OGLocale(data.Lang),
		},
		Twitter: seo.Twitter{Card: "summary_large_image", Image: image},
		JSONLD: []string{
			seo.JSON(seo.Article(seo.ArticleInput{
				Headline:      p.Data.Title,
				Description:   description,
				URL:           canonical,
				ImageURL:      image,
				AuthorName:    p.Data.Author,
				DatePublished: view.DateISO,
				WordCount:     post.WordCount(p.Data.Content),
				InLanguage:    data.Lang,
			})),
			seo.JSON(seo.BreadcrumbList([]seo.BreadcrumbItem{
				{Name: s.Name, Item: seo.AbsoluteURL(s.URL, "/")},
				{Name: p.Data.Title, Item: canonical},
			})),
		},
	}
	return data
}

// LoadingPage is served while a post is generated in the background.
func (s Site) LoadingPage(slug string) PageData {
	data := s.page(s.Lang, PostPath(slug), ViewLoading)
	data.Title = data.T("post.loading")
	data.SEO = seo.Meta{Title: data.Title, Robots: "noindex"}
	return data
}

// NotFoundPage is served for slugs the content API does not know.
func (s Site) NotFoundPage(lang, path string) PageData {
	data := s.page(lang, path, ViewNotFound)
	data.Status = http.StatusNotFound
	data.Title = data.T("notfound.title") + " | " + s.Name
	data.SEO = seo.Meta{Title: data.Title, Robots: "noindex"}
	return data
}

// ErrorPage is served when the content API fails.
func (s Site) ErrorPage(lang, path string, status int) PageData {
	data := s.page(lang, path, ViewError)
	data.Status = status
	data.Title = data.T("error.title") + " | " + s.Name
	data.SEO = seo.Meta{Title: data.Title, Robots: "noindex"}
	return data
}
