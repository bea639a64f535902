package domain

import (
	"time"
)

// Document is a persisted editor document with its context panel state.
type Document struct {
	ID           string    `json:"id"`
	UserID       string    `json:"-"`
	Title        string    `json:"title"`
	Text         string    `json:"text"`
	ContextText  string    `json:"context_text"`
	SavedContext string    `json:"saved_context"`
	Version      int64     `json:"version"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// DisplayTitle returns the title or a fallback derived from the first line of text.
func (d *Document) DisplayTitle() string {
	if d.Title != "" {
		return d.Title
	}
	line := d.Text
	for i, r := range line {
		if r == '\n' {
			line = line[:i]
			break
		}
	}
	if line == "" {
		return "Untitled"
	}
	if runes := []rune(line); len(runes) > 60 {
		return string(runes[:60]) + "…"
	}
	return line
}
