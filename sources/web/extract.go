package web

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// skipped elements never contribute text.
var skipped = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Nav:      true,
	atom.Footer:   true,
	atom.Header:   true,
	atom.Aside:    true,
	atom.Form:     true,
	atom.Iframe:   true,
	atom.Svg:      true,
	atom.Button:   true,
}

// block elements end a line of text.
var block = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Br: true, atom.Li: true, atom.Tr: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Article: true, atom.Section: true, atom.Main: true, atom.Blockquote: true,
	atom.Pre: true, atom.Table: true, atom.Ul: true, atom.Ol: true,
}

// ExtractHTML returns the title and main text of an HTML document.
// The text comes from the first <article>, then <main> or [role=main], then <body>.
func ExtractHTML(content []byte) (title, text string, err error) {
	doc, err := html.Parse(bytes.NewReader(content))
	if err != nil {
		return "", "", err
	}

	title = extractTitle(doc)

	root := findFirst(doc, func(n *html.Node) bool { return n.DataAtom == atom.Article })
	if root == nil {
		root = findFirst(doc, func(n *html.Node) bool {
			return n.DataAtom == atom.Main || attr(n, "role") == "main"
		})
	}
	if root == nil {
		root = findFirst(doc, func(n *html.Node) bool { return n.DataAtom == atom.Body })
	}
	if root == nil {
		root = doc
	}

	var b strings.Builder
	writeText(&b, root)
	return title, strings.TrimSpace(b.String()), nil
}

// extractTitle prefers og:title, then <title>, then the first <h1>.
func extractTitle(doc *html.Node) string {
	if meta := findFirst(doc, func(n *html.Node) bool {
		return n.DataAtom == atom.Meta && attr(n, "property") == "og:title"
	}); meta != nil {
		if t := strings.TrimSpace(attr(meta, "content")); t != "" {
			return t
		}
	}
	for _, a := range []atom.Atom{atom.Title, atom.H1} {
		if n := findFirst(doc, func(n *html.Node) bool { return n.DataAtom == a }); n != nil {
			var b strings.Builder
			writeText(&b, n)
			if t := strings.Join(strings.Fields(b.String()), " "); t != "" {
				return t
			}
		}
	}
	return ""
}

func findFirst(n *html.Node, match func(*html.Node) bool) *html.Node {
	if n.Type == html.ElementNode && match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, match); found != nil {
			return found
		}
	}
	return nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func writeText(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.ElementNode:
		if skipped[n.DataAtom] {
			return
		}
	case html.CommentNode:
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeText(b, c)
	}
	if n.Type == html.ElementNode && block[n.DataAtom] {
		b.WriteString("\n")
	}
}
