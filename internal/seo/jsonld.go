package seo

import (
	"encoding/json"
)

// JSON marshals v to a compact JSON string. It returns an empty string on error.
func JSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// BreadcrumbItem maps name and absolute item URL.
type BreadcrumbItem struct {
	Name string
	Item string
}

// BreadcrumbList builds schema.org BreadcrumbList.
func BreadcrumbList(items []BreadcrumbItem) map[string]any {
	el := make([]map[string]any, 0, len(items))
	for i, it := range items {
		el = append(el, map[string]any{
			"@type":    "ListItem",
			"position": i + 1,
			"name":     it.Name,
			"item":     it.Item,
		})
	}
	return map[string]any{
		"@context":        "https://schema.org",
		"@type":           "BreadcrumbList",
		"itemListElement": el,
	}
}

// ArticleInput describes a blog post for the Article schema.
type ArticleInput struct {
	Headline      string
	Description   string
	URL           string
	ImageURL      string
	AuthorName    string
	DatePublished string
	WordCount     int
	InLanguage    string
}

// Article returns a BlogPosting-compatible Article schema payload.
func Article(in ArticleInput) map[string]any {
	m := map[string]any{
		"@context": "https://schema.org",
		"@type":    "Article",
		"headline": in.Headline,
	}
	if in.Description != "" {
		m["description"] = in.Description
	}
	if in.URL != "" {
		m["url"] = in.URL
		m["mainEntityOfPage"] = in.URL
	}
	if in.ImageURL != "" {
		m["image"] = in.ImageURL
	}
	if in.AuthorName != "" {
		m["author"] = map[string]any{"@type": "Person", "name": in.AuthorName}
	}
	if in.DatePublished != "" {
		m["datePublished"] = in.DatePublished
	}
	if in.WordCount > 0 {
		m["wordCount"] = in.WordCount
	}
	if in.InLanguage != "" {
		m["inLanguage"] = in.InLanguage
	}
	return m
}
