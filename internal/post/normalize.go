package post

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"finitefield.org/hanko-blog/internal/prismic"
	"finitefield.org/hanko-blog/internal/richtext"
)

type rawData struct {
	Title    textField    `json:"title"`
	Subtitle textField    `json:"subtitle"`
	Author   textField    `json:"author"`
	Banner   *rawBanner   `json:"banner"`
	Content  []rawContent `json:"content"`
}

type rawBanner struct {
	URL string `json:"url"`
	Alt string `json:"alt"`
}

type rawContent struct {
	Heading textField        `json:"heading"`
	Body    []richtext.Block `json:"body"`
}

// textField accepts both Key Text (a string) and Title/Rich Text (a block list) fields.
type textField string

func (t *textField) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0, bytes.Equal(data, []byte("null")):
		*t = ""
		return nil
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = textField(s)
		return nil
	case data[0] == '[':
		var blocks []richtext.Block
		if err := json.Unmarshal(data, &blocks); err != nil {
			return err
		}
		*t = textField(richtext.AsText(blocks, " "))
		return nil
	default:
		*t = textField(strings.Trim(string(data), `"`))
		return nil
	}
}

// Normalize reshapes a content API document into a Post by direct field selection. Content
// and body order are kept as delivered; required fields are not validated.
func Normalize(doc prismic.Document) (Post, error) {
	p := Post{UID: doc.UID}
	if doc.FirstPublicationDate != nil && !doc.FirstPublicationDate.IsZero() {
		t := doc.FirstPublicationDate.Time
		p.FirstPublicationDate = &t
	}
	if len(bytes.TrimSpace(doc.Data)) == 0 {
		return p, nil
	}

	var raw rawData
	if err := json.Unmarshal(doc.Data, &raw); err != nil {
		return Post{}, fmt.Errorf("post: decode data of %q: %w", doc.UID, err)
	}

	p.Data = Data{
		Title:    string(raw.Title),
		Subtitle: string(raw.Subtitle),
		Author:   string(raw.Author),
	}
	if raw.Banner != nil {
		p.Data.Banner = &Banner{URL: raw.Banner.URL, Alt: raw.Banner.Alt}
	}
	if raw.Content != nil {
		p.Data.Content = make([]Content, len(raw.Content))
		for i, item := range raw.Content {
			body := make([]richtext.Block, len(item.Body))
			copy(body, item.Body)
			p.Data.Content[i] = Content{Heading: string(item.Heading), Body: body}
		}
	}
	return p, nil
}

// PublishedAt returns the first publication date or the zero time for unpublished documents.
func (p Post) PublishedAt() time.Time {
	if p.FirstPublicationDate == nil {
		return time.Time{}
	}
	return *p.FirstPublicationDate
}

// Summary returns the subtitle, or the leading text of the first section when there is none.
func (p Post) Summary(limit int) string {
	if s := strings.TrimSpace(p.Data.Subtitle); s != "" {
		return truncate(s, limit)
	}
	for _, item := range p.Data.Content {
		if text := strings.TrimSpace(richtext.AsText(item.Body, " ")); text != "" {
			return truncate(text, limit)
		}
	}
	return ""
}

func truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return strings.TrimSpace(string(runes[:limit])) + "…"
}
