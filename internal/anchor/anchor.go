// Package anchor locates previously captured text fragments in a document
// tree. An anchor is the fragment text plus the text that surrounded it at
// capture time and, optionally, which of several identical fragments was
// chosen.
package anchor

import (
	"errors"

	"github.com/xonecas/threadmark/internal/dom"
)

// DefaultContextChars is how many runes of surrounding text are captured on
// each side of a selection.
const DefaultContextChars = 150

var (
	// ErrEmptyText is returned when an anchor has no fragment text.
	ErrEmptyText = errors.New("anchor text is empty")

	// ErrEmptySelection is returned when a selection holds no visible text.
	ErrEmptySelection = errors.New("selection is empty")

	// ErrSelectionOutsideRoot is returned when a selection boundary cannot be
	// mapped into the flattened text of the root.
	ErrSelectionOutsideRoot = errors.New("selection is outside the document root")
)

// TextAnchor is a serializable locator for a text fragment. It is immutable
// once created.
type TextAnchor struct {
	Text       string `json:"text" yaml:"text"`
	Prefix     string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	Suffix     string `json:"suffix,omitempty" yaml:"suffix,omitempty"`
	Occurrence *int   `json:"occurrence,omitempty" yaml:"occurrence,omitempty"`
}

// Validate checks the preconditions for a resolution attempt.
func (a TextAnchor) Validate() error {
	if a.Text == "" {
		return ErrEmptyText
	}
	return nil
}

// Context returns the disambiguation context of the anchor.
func (a TextAnchor) Context() Context {
	return Context{Prefix: a.Prefix, Suffix: a.Suffix}
}

// Context is the text observed around a fragment when it was captured.
type Context struct {
	Prefix string
	Suffix string
}

// Candidate is one scored possible location for a fragment.
type Candidate struct {
	Range dom.Range
	Score int
	Start int // flattened offset of the match
	End   int
	Mode  dom.Mode
}

// Occurrence returns a pointer to i, for building anchors.
func Occurrence(i int) *int {
	return &i
}
