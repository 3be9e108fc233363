// Package richtext renders Prismic structured text fields.
package richtext

import (
	"html"
	"html/template"
	"sort"
	"strconv"
	"strings"
	"unicode/utf16"

	"github.com/microcosm-cc/bluemonday"
)

// Block types emitted by Prismic.
const (
	Paragraph    = "paragraph"
	Heading1     = "heading1"
	Heading2     = "heading2"
	Heading3     = "heading3"
	Heading4     = "heading4"
	Heading5     = "heading5"
	Heading6     = "heading6"
	Preformatted = "preformatted"
	ListItem     = "list-item"
	OListItem    = "o-list-item"
	Image        = "image"
	Embed        = "embed"
)

// Span types.
const (
	Strong    = "strong"
	Em        = "em"
	Hyperlink = "hyperlink"
	Label     = "label"
)

// Block is one element of a structured text field.
type Block struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Spans []Span `json:"spans"`
	Label string `json:"label,omitempty"`

	// image blocks
	URL        string      `json:"url,omitempty"`
	Alt        string      `json:"alt,omitempty"`
	Dimensions *Dimensions `json:"dimensions,omitempty"`

	// embed blocks
	OEmbed *OEmbed `json:"oembed,omitempty"`
}

// Dimensions of an image block.
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// OEmbed is the payload of an embed block.
type OEmbed struct {
	Type         string `json:"type"`
	EmbedURL     string `json:"embed_url"`
	ProviderName string `json:"provider_name"`
	HTML         string `json:"html"`
}

// Span marks a rune range of a block's text. Start is inclusive, End exclusive.
type Span struct {
	Start int       `json:"start"`
	End   int       `json:"end"`
	Type  string    `json:"type"`
	Data  *SpanData `json:"data,omitempty"`
}

// SpanData carries hyperlink targets and label names.
type SpanData struct {
	LinkType string `json:"link_type,omitempty"`
	URL      string `json:"url,omitempty"`
	Target   string `json:"target,omitempty"`
	ID       string `json:"id,omitempty"`
	UID      string `json:"uid,omitempty"`
	Type     string `json:"type,omitempty"`
	Label    string `json:"label,omitempty"`
}

// LinkResolver maps a document link to a site URL.
type LinkResolver func(link SpanData) string

// Options tune HTML rendering.
type Options struct {
	LinkResolver LinkResolver
}

var policy = newPolicy()

func newPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowAttrs("class").OnElements("p", "span", "pre", "div", "img", "h1", "h2", "h3", "h4", "h5", "h6")
	p.AllowAttrs("target").Matching(bluemonday.SpaceSeparatedTokens).OnElements("a")
	p.AllowAttrs("width", "height", "loading").OnElements("img")
	p.AllowAttrs("data-oembed", "data-oembed-type", "data-oembed-provider").OnElements("div")
	p.RequireNoFollowOnLinks(true)
	p.AddTargetBlankToFullyQualifiedLinks(false)
	return p
}

// AsHTML renders blocks to sanitized HTML.
func AsHTML(blocks []Block, opts Options) template.HTML {
	if len(blocks) == 0 {
		return ""
	}
	resolve := opts.LinkResolver
	if resolve == nil {
		resolve = defaultLinkResolver
	}

	var b strings.Builder
	for i := 0; i < len(blocks); i++ {
		block := blocks[i]
		switch block.Type {
		case ListItem, OListItem:
			tag := "ul"
			if block.Type == OListItem {
				tag = "ol"
			}
			b.WriteString("<" + tag + ">")
			for ; i < len(blocks) && blocks[i].Type == block.Type; i++ {
				b.WriteString("<li>")
				b.WriteString(renderSpans(blocks[i].Text, blocks[i].Spans, resolve))
				b.WriteString("</li>")
			}
			i--
			b.WriteString("</" + tag + ">")
		default:
			writeBlock(&b, block, resolve)
		}
	}
	return template.HTML(policy.Sanitize(b.String()))
}

func writeBlock(b *strings.Builder, block Block, resolve LinkResolver) {
	class := ""
	if block.Label != "" {
		class = ` class="` + html.EscapeString(block.Label) + `"`
	}
	switch block.Type {
	case Heading1, Heading2, Heading3, Heading4, Heading5, Heading6:
		tag := "h" + strings.TrimPrefix(block.Type, "heading")
		b.WriteString("<" + tag + class + ">")
		b.WriteString(renderSpans(block.Text, block.Spans, resolve))
		b.WriteString("</" + tag + ">")
	case Preformatted:
		b.WriteString("<pre" + class + ">")
		b.WriteString(renderSpans(block.Text, block.Spans, resolve))
		b.WriteString("</pre>")
	case Image:
		if block.URL == "" {
			return
		}
		b.WriteString(`<p class="block-img"><img src="` + html.EscapeString(block.URL) + `" alt="` + html.EscapeString(block.Alt) + `"`)
		if block.Dimensions != nil && block.Dimensions.Width > 0 && block.Dimensions.Height > 0 {
			b.WriteString(` width="` + strconv.Itoa(block.Dimensions.Width) + `" height="` + strconv.Itoa(block.Dimensions.Height) + `"`)
		}
		b.WriteString(` loading="lazy" /></p>`)
	case Embed:
		if block.OEmbed == nil {
			return
		}
		b.WriteString(`<div data-oembed="` + html.EscapeString(block.OEmbed.EmbedURL) +
			`" data-oembed-type="` + html.EscapeString(block.OEmbed.Type) +
			`" data-oembed-provider="` + html.EscapeString(block.OEmbed.ProviderName) + `">`)
		b.WriteString(block.OEmbed.HTML)
		b.WriteString("</div>")
	default:
		b.WriteString("<p" + class + ">")
		b.WriteString(renderSpans(block.Text, block.Spans, resolve))
		b.WriteString("</p>")
	}
}

// AsText joins the text of every block with sep.
func AsText(blocks []Block, sep string) string {
	parts := make([]string, 0, len(blocks))
	for _, block := range blocks {
		if block.Text == "" {
			continue
		}
		parts = append(parts, block.Text)
	}
	return strings.Join(parts, sep)
}

// renderSpans writes escaped text wrapped in span tags. Span offsets are UTF-16 code unit
// indices. Overlapping spans are split so the output stays well nested.
func renderSpans(text string, spans []Span, resolve LinkResolver) string {
	if len(spans) == 0 {
		return escapeText(text)
	}
	units := utf16.Encode([]rune(text))

	valid := make([]Span, 0, len(spans))
	points := map[int]struct{}{0: {}, len(units): {}}
	for _, span := range spans {
		start, end := unitOffset(units, span.Start), unitOffset(units, span.End)
		if start >= end {
			continue
		}
		span.Start, span.End = start, end
		valid = append(valid, span)
		points[start] = struct{}{}
		points[end] = struct{}{}
	}
	if len(valid) == 0 {
		return escapeText(text)
	}
	sort.SliceStable(valid, func(i, j int) bool {
		if valid[i].Start != valid[j].Start {
			return valid[i].Start < valid[j].Start
		}
		return valid[i].End > valid[j].End
	})

	sorted := make([]int, 0, len(points))
	for p := range points {
		sorted = append(sorted, p)
	}
	sort.Ints(sorted)

	var b strings.Builder
	var stack []int
	next := 0
	for i := 0; i < len(sorted)-1; i++ {
		at, until := sorted[i], sorted[i+1]

		// Close every open span from the first one ending here, reopening the ones still running.
		cut := len(stack)
		for j, idx := range stack {
			if valid[idx].End <= at {
				cut = j
				break
			}
		}
		var reopen []int
		for j := len(stack) - 1; j >= cut; j-- {
			idx := stack[j]
			b.WriteString(closeTag(valid[idx]))
			if valid[idx].End > at {
				reopen = append([]int{idx}, reopen...)
			}
		}
		stack = stack[:cut]
		for _, idx := range reopen {
			b.WriteString(openTag(valid[idx], resolve))
			stack = append(stack, idx)
		}

		for ; next < len(valid) && valid[next].Start == at; next++ {
			b.WriteString(openTag(valid[next], resolve))
			stack = append(stack, next)
		}
		b.WriteString(escapeText(string(utf16.Decode(units[at:until]))))
	}
	for j := len(stack) - 1; j >= 0; j-- {
		b.WriteString(closeTag(valid[stack[j]]))
	}
	return b.String()
}

func openTag(span Span, resolve LinkResolver) string {
	switch span.Type {
	case Strong:
		return "<strong>"
	case Em:
		return "<em>"
	case Hyperlink:
		href := ""
		target := ""
		if span.Data != nil {
			if span.Data.LinkType == "Document" {
				href = resolve(*span.Data)
			} else {
				href = span.Data.URL
			}
			if span.Data.Target != "" {
				target = ` target="` + html.EscapeString(span.Data.Target) + `"`
			}
		}
		return `<a href="` + html.EscapeString(href) + `"` + target + `>`
	case Label:
		name := ""
		if span.Data != nil {
			name = span.Data.Label
		}
		return `<span class="` + html.EscapeString(name) + `">`
	default:
		return "<span>"
	}
}

func closeTag(span Span) string {
	switch span.Type {
	case Strong:
		return "</strong>"
	case Em:
		return "</em>"
	case Hyperlink:
		return "</a>"
	default:
		return "</span>"
	}
}

func escapeText(text string) string {
	return strings.ReplaceAll(html.EscapeString(text), "\n", "<br />")
}

func defaultLinkResolver(link SpanData) string {
	if link.UID == "" {
		return "/"
	}
	return "/" + link.UID
}

// unitOffset clamps v into units and moves it off the second half of a surrogate pair.
func unitOffset(units []uint16, v int) int {
	if v < 0 {
		return 0
	}
	if v > len(units) {
		return len(units)
	}
	if v > 0 && v < len(units) && units[v] >= 0xDC00 && units[v] <= 0xDFFF {
		return v - 1
	}
	return v
}
