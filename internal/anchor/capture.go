package anchor

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/xonecas/threadmark/internal/dom"
	"golang.org/x/net/html"
)

// LocateOccurrenceIndex returns which exact-mode occurrence of text the
// selection covers: the first candidate starting where the selection starts
// or overlapping it. It reports false when text occurs fewer than two times,
// since a unique fragment needs no disambiguation.
func LocateOccurrenceIndex(root *html.Node, text string, sel dom.Range) (int, bool) {
	flat := dom.Flatten(root, dom.Exact)
	start, ok := flat.OffsetOf(sel.Start)
	if !ok {
		return 0, false
	}
	end, ok := flat.OffsetOf(sel.End)
	if !ok {
		return 0, false
	}
	return locateOccurrence(root, text, start, end)
}

func locateOccurrence(root *html.Node, text string, selStart, selEnd int) (int, bool) {
	cands := FindCandidates(root, text, Context{}, dom.Exact)
	if len(cands) < 2 {
		return 0, false
	}
	for i, c := range cands {
		if c.Start == selStart {
			return i, true
		}
		if c.Start < selEnd && c.End > selStart {
			return i, true
		}
	}
	return 0, false
}

// Capture builds an anchor from a live selection. The fragment is the
// selected text without surrounding whitespace; prefix and suffix hold up to
// contextChars runes of document text on either side of it.
func Capture(root *html.Node, sel dom.Range, contextChars int) (TextAnchor, error) {
	if contextChars <= 0 {
		contextChars = DefaultContextChars
	}

	flat := dom.Flatten(root, dom.Exact)
	start, ok := flat.OffsetOf(sel.Start)
	if !ok {
		return TextAnchor{}, ErrSelectionOutsideRoot
	}
	end, ok := flat.OffsetOf(sel.End)
	if !ok {
		return TextAnchor{}, ErrSelectionOutsideRoot
	}
	if end < start {
		start, end = end, start
	}

	selected := flat.Text[start:end]
	left := strings.TrimLeftFunc(selected, unicode.IsSpace)
	start += len(selected) - len(left)
	text := strings.TrimRightFunc(left, unicode.IsSpace)
	end = start + len(text)
	if text == "" {
		return TextAnchor{}, ErrEmptySelection
	}

	a := TextAnchor{
		Text:   text,
		Prefix: lastRunes(flat.Text[:start], contextChars),
		Suffix: firstRunes(flat.Text[end:], contextChars),
	}
	if i, ok := locateOccurrence(root, text, start, end); ok {
		a.Occurrence = Occurrence(i)
	}
	return a, nil
}

func lastRunes(s string, n int) string {
	i := len(s)
	for ; n > 0 && i > 0; n-- {
		_, size := utf8.DecodeLastRuneInString(s[:i])
		i -= size
	}
	return s[i:]
}

func firstRunes(s string, n int) string {
	i := 0
	for ; n > 0 && i < len(s); n-- {
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}
	return s[:i]
}
