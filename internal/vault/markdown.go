package vault

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// inlineTag matches "#tag" preceded by start of line or whitespace.
var inlineTag = regexp.MustCompile(`(?:^|\s)#([\p{L}\p{N}_/\-]+)`)

// splitFrontmatter separates a leading frontmatter block from the body.
// delim is "---" (YAML), "+++" (TOML) or "" when there is none.
func splitFrontmatter(data []byte) (delim string, front, body []byte) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	for _, d := range []string{"---", "+++"} {
		open := d + "\n"
		if !bytes.HasPrefix(data, []byte(open)) && !bytes.HasPrefix(data, []byte(d+"\r\n")) {
			continue
		}
		rest := data[bytes.IndexByte(data, '\n')+1:]
		// Closing delimiter on its own line.
		for off := 0; off <= len(rest); {
			nl := bytes.IndexByte(rest[off:], '\n')
			line := rest[off:]
			if nl >= 0 {
				line = rest[off : off+nl]
			}
			if string(bytes.TrimRight(line, "\r")) == d {
				end := len(rest)
				if nl >= 0 {
					end = off + nl + 1
				}
				return d, rest[:off], rest[end:]
			}
			if nl < 0 {
				break
			}
			off += nl + 1
		}
	}
	return "", nil, data
}

func (v *Vault) parseMarkdown(data []byte, doc *Document) error {
	delim, front, body := splitFrontmatter(data)

	props := map[string]interface{}{}
	switch delim {
	case "---":
		if err := yaml.Unmarshal(front, &props); err != nil {
			return fmt.Errorf("invalid YAML frontmatter: %w", err)
		}
	case "+++":
		if err := toml.Unmarshal(front, &props); err != nil {
			return fmt.Errorf("invalid TOML frontmatter: %w", err)
		}
	}

	if s, ok := props[v.urlProperty].(string); ok {
		doc.URL = strings.TrimSpace(s)
	}
	if s, ok := props["title"].(string); ok {
		doc.Title = strings.TrimSpace(s)
	}

	var tags []string
	tags = append(tags, propertyTags(props["tags"])...)
	tags = append(tags, propertyTags(props["tag"])...)
	tags = append(tags, inlineTags(body)...)
	doc.Tags = dedupe(tags)
	return nil
}

// propertyTags reads a tags property given either as a list or as a
// comma/space separated string.
func propertyTags(v interface{}) []string {
	switch t := v.(type) {
	case string:
		return strings.FieldsFunc(t, func(r rune) bool {
			return r == ',' || unicode.IsSpace(r)
		})
	case []interface{}:
		var tags []string
		for _, e := range t {
			if s, ok := e.(string); ok {
				tags = append(tags, propertyTags(s)...)
			}
		}
		return tags
	case []string:
		return t
	}
	return nil
}

// inlineTags collects "#tag" occurrences outside fenced code blocks.
// Purely numeric matches (issue numbers, "#1") are not tags.
func inlineTags(body []byte) []string {
	var tags []string
	inFence := false
	for _, line := range strings.Split(string(body), "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		for _, m := range inlineTag.FindAllStringSubmatch(line, -1) {
			if !isNumeric(m[1]) {
				tags = append(tags, m[1])
			}
		}
	}
	return tags
}

func isNumeric(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
