package api

import (
	"bytes"
	"fmt"
	"html"
	"strings"

	"github.com/ashureev/contextual-writer/internal/domain"
	"github.com/yuin/goldmark"
)

// markdownExport renders the document as markdown with its title as a heading.
func markdownExport(doc *domain.Document) string {
	var sb strings.Builder
	sb.WriteString("# ")
	sb.WriteString(doc.DisplayTitle())
	sb.WriteString("\n\n")
	sb.WriteString(strings.TrimRight(doc.Text, "\n"))
	sb.WriteString("\n")
	return sb.String()
}

// htmlExport renders the markdown export as a standalone HTML page. Raw HTML
// in the document text is omitted by the renderer.
func htmlExport(doc *domain.Document) (string, error) {
	var body bytes.Buffer
	if err := goldmark.Convert([]byte(markdownExport(doc)), &body); err != nil {
		return "", fmt.Errorf("render html export: %w", err)
	}
	return fmt.Sprintf("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n<title>%s</title>\n</head>\n<body>\n%s</body>\n</html>\n",
		html.EscapeString(doc.DisplayTitle()), body.String()), nil
}

func exportFilename(doc *domain.Document, ext string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r == ' ':
			return '-'
		default:
			return -1
		}
	}, doc.DisplayTitle())
	if name == "" {
		name = "document"
	}
	return name + "." + ext
}
