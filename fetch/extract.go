package fetch

import (
	"strings"

	"golang.org/x/net/html"
)

// skippedTags are stripped entirely — navigation chrome, ads, and
// non-content scaffolding (spec §4.5: "strip navigation/ads; return main
// text").
var skippedTags = map[string]bool{
	"nav": true, "header": true, "footer": true, "aside": true,
	"script": true, "style": true, "noscript": true, "form": true,
	"iframe": true, "svg": true, "button": true,
}

// ExtractMainText walks the parsed DOM and concatenates visible text nodes
// outside of navigation/ad scaffolding.
func ExtractMainText(rawHTML string) string {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return ""
	}

	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skippedTags[strings.ToLower(n.Data)] {
			return
		}
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				sb.WriteString(text)
				sb.WriteString(" ")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return collapseWhitespace(sb.String())
}

func collapseWhitespace(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}
