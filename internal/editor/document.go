// Package editor holds the writing surface state and applies flow results to it.
package editor

import (
	"errors"
	"fmt"
	"sync"
	"unicode/utf8"
)

var (
	// ErrStaleSelection is returned when a selection no longer matches the text it was taken from.
	ErrStaleSelection = errors.New("selection no longer matches document")
	// ErrInvalidRange is returned by Select for offsets outside the text or inside a rune.
	ErrInvalidRange = errors.New("invalid selection range")
)

// DefaultInstruction is used when a revision is requested without instructions.
const DefaultInstruction = "Rewrite"

// State is a point-in-time copy of a document.
type State struct {
	Text         string
	Context      string
	SavedContext string
	Version      int64
}

// Selection is a span of the document captured by byte offsets.
type Selection struct {
	Start   int    `json:"start"`
	End     int    `json:"end"`
	Text    string `json:"text"`
	Version int64  `json:"version"`
}

// Document is the editable text plus the context panel contents. All methods
// are safe for concurrent use; every mutation bumps the version.
type Document struct {
	mu    sync.Mutex
	state State
}

// New creates a document holding text.
func New(text string) *Document {
	return &Document{state: State{Text: text}}
}

// FromState restores a document from a snapshot.
func FromState(s State) *Document {
	return &Document{state: s}
}

// Snapshot returns a copy of the current state.
func (d *Document) Snapshot() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// SetText replaces the text as typed by the user.
func (d *Document) SetText(text string) {
	d.mutate(func(s *State) { s.Text = text })
}

// SetContext replaces the context panel text.
func (d *Document) SetContext(context string) {
	d.mutate(func(s *State) { s.Context = context })
}

// Select captures the text between start and end.
func (d *Document) Select(start, end int) (Selection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	text := d.state.Text
	if start < 0 || end < start || end > len(text) {
		return Selection{}, fmt.Errorf("%w: [%d,%d) of %d bytes", ErrInvalidRange, start, end, len(text))
	}
	if !onRuneBoundary(text, start) || !onRuneBoundary(text, end) {
		return Selection{}, fmt.Errorf("%w: [%d,%d) splits a character", ErrInvalidRange, start, end)
	}
	return Selection{Start: start, End: end, Text: text[start:end], Version: d.state.Version}, nil
}

// ApplyRevision replaces the selected span with revised. When the span is out
// of range or no longer holds the selected text the document is left
// unchanged and ErrStaleSelection is returned.
func (d *Document) ApplyRevision(sel Selection, revised string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	text := d.state.Text
	if sel.Start < 0 || sel.End < sel.Start || sel.End > len(text) || text[sel.Start:sel.End] != sel.Text {
		return ErrStaleSelection
	}
	d.state.Text = text[:sel.Start] + revised + text[sel.End:]
	d.state.Version++
	return nil
}

// ApplyGlobalEdit replaces the whole text.
func (d *Document) ApplyGlobalEdit(revised string) {
	d.mutate(func(s *State) { s.Text = revised })
}

// ApplyContinuation appends continued to the text as is.
func (d *Document) ApplyContinuation(continued string) {
	d.mutate(func(s *State) { s.Text += continued })
}

// SaveSuggestion appends a suggestion to the saved context on a new line.
func (d *Document) SaveSuggestion(suggestion string) {
	d.mutate(func(s *State) { s.SavedContext += "\n" + suggestion })
}

func (d *Document) mutate(fn func(*State)) {
	d.mu.Lock()
	fn(&d.state)
	d.state.Version++
	d.mu.Unlock()
}

func onRuneBoundary(s string, i int) bool {
	return i == 0 || i == len(s) || utf8.RuneStart(s[i])
}
