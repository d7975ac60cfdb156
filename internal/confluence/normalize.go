package confluence

import (
	"strings"

	"golang.org/x/net/html"
)

// blockTags are elements whose boundaries become paragraph breaks in the
// normalized text. The chunker splits on blank lines, so preserving these
// boundaries is what keeps chunks from starting mid-sentence.
var blockTags = map[string]bool{
	"p": true, "div": true, "section": true, "article": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"ul": true, "ol": true, "table": true, "blockquote": true, "pre": true,
}

// lineTags end a line without ending the paragraph.
var lineTags = map[string]bool{
	"li": true, "tr": true, "br": true, "dt": true, "dd": true,
	"td": true, "th": true,
}

var skipTags = map[string]bool{
	"script": true, "style": true, "head": true,
}

// Normalize strips Confluence storage-format markup (XHTML) down to plain
// text. Block elements become paragraph breaks, list items and table rows
// become line breaks, runs of whitespace collapse, and entities are decoded
// by the parser. Unparseable input falls back to returning the raw text
// with tags crudely removed rather than failing the page.
func Normalize(markup string) string {
	if strings.TrimSpace(markup) == "" {
		return ""
	}

	root, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return cleanWhitespace(stripTags(markup))
	}

	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
		case html.ElementNode:
			if skipTags[n.Data] {
				return
			}
			if n.Data == "br" {
				b.WriteString("\n")
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode {
			if blockTags[n.Data] {
				b.WriteString("\n\n")
			} else if lineTags[n.Data] {
				b.WriteString("\n")
			}
		}
	}
	walk(root)

	return cleanWhitespace(b.String())
}

// stripTags removes anything between angle brackets. Fallback path only.
func stripTags(markup string) string {
	var b strings.Builder
	inTag := false
	for _, r := range markup {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
			b.WriteRune(' ')
		case !inTag:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// cleanWhitespace collapses horizontal whitespace within lines, trims each
// line, and reduces runs of blank lines to a single paragraph separator.
func cleanWhitespace(text string) string {
	lines := strings.Split(text, "\n")
	var out []string
	blank := true // leading blanks are dropped
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if !blank {
				out = append(out, "")
				blank = true
			}
			continue
		}
		out = append(out, line)
		blank = false
	}
	// Drop a trailing paragraph separator.
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return strings.Join(out, "\n")
}
