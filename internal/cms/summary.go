package cms

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// summarize returns the text of the first paragraph of rendered, cut at limit runes.
func summarize(rendered []byte, limit int) string {
	root, err := html.Parse(bytes.NewReader(rendered))
	if err != nil {
		return ""
	}
	p := findFirst(root, atom.P)
	if p == nil {
		p = root
	}
	var b strings.Builder
	collectText(p, &b)
	text := strings.Join(strings.Fields(b.String()), " ")

	runes := []rune(text)
	if limit > 0 && len(runes) > limit {
		return strings.TrimSpace(string(runes[:limit])) + "…"
	}
	return text
}

func findFirst(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, a); found != nil {
			return found
		}
	}
	return nil
}

func collectText(n *html.Node, b *strings.Builder) {
	if n.Type == html.TextNode {
		b.WriteString(n.Data)
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, b)
	}
}
