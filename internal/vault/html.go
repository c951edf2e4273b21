package vault

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// parseHTML reads a saved clipping. The URL comes from the canonical link,
// falling back to og:url; tags come from the keywords meta element.
func parseHTML(data []byte, doc *Document) error {
	root, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("invalid HTML: %w", err)
	}

	var canonical, ogURL, keywords string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "link":
				if strings.EqualFold(attr(n, "rel"), "canonical") && canonical == "" {
					canonical = attr(n, "href")
				}
			case "meta":
				switch {
				case strings.EqualFold(attr(n, "property"), "og:url") && ogURL == "":
					ogURL = attr(n, "content")
				case strings.EqualFold(attr(n, "name"), "keywords") && keywords == "":
					keywords = attr(n, "content")
				}
			case "title":
				if doc.Title == "" && n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
					doc.Title = strings.TrimSpace(n.FirstChild.Data)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	doc.URL = strings.TrimSpace(canonical)
	if doc.URL == "" {
		doc.URL = strings.TrimSpace(ogURL)
	}
	doc.Tags = dedupe(strings.Split(keywords, ","))
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
