// Package post models blog publications and reshapes content API documents into them.
package post

import (
	"errors"
	"time"

	"finitefield.org/hanko-blog/internal/richtext"
)

// DefaultDocumentType is the custom type holding blog posts.
const DefaultDocumentType = "publications"

// ErrNotFound is returned when no post matches a slug.
var ErrNotFound = errors.New("post: not found")

// Post is the page-ready shape of one publication.
type Post struct {
	UID                  string     `json:"uid"`
	FirstPublicationDate *time.Time `json:"first_publication_date"`
	Data                 Data       `json:"data"`
}

// Data holds the publication fields in source order.
type Data struct {
	Title    string    `json:"title"`
	Subtitle string    `json:"subtitle"`
	Banner   *Banner   `json:"banner"`
	Author   string    `json:"author"`
	Content  []Content `json:"content"`
}

// Banner is the post header image. A document without a banner field leaves it nil.
type Banner struct {
	URL string `json:"url"`
	Alt string `json:"alt,omitempty"`
}

// Content is one section of a post: a heading followed by structured text.
type Content struct {
	Heading string           `json:"heading"`
	Body    []richtext.Block `json:"body"`
}

// Path identifies one pre-rendered post page.
type Path struct {
	Params Params `json:"params"`
}

// Params are the route parameters of a post page.
type Params struct {
	Slug string `json:"slug"`
}
