package anchor

import (
	"errors"
	"testing"
)

const threeCats = "<p>x cat 1. y cat 2. z cat 3.</p>"

func TestResolve_EndToEndCatSat(t *testing.T) {
	body := parseBody(t, "<p>A cat sat on a cat mat</p>")

	c, ok := Resolve(body, TextAnchor{Text: "cat", Suffix: " sat", Occurrence: Occurrence(0)})
	if !ok {
		t.Fatal("expected a match")
	}
	if c.Start != 2 || c.Score != 10 {
		t.Errorf("got start %d score %d, want start 2 score 10", c.Start, c.Score)
	}
}

func TestResolve_Deterministic(t *testing.T) {
	body := parseBody(t, threeCats)
	a := TextAnchor{Text: "cat", Prefix: "z ", Suffix: " 3"}

	first, ok := Resolve(body, a)
	if !ok {
		t.Fatal("expected a match")
	}
	second, ok := Resolve(body, a)
	if !ok {
		t.Fatal("expected a match on second attempt")
	}
	if first.Range != second.Range {
		t.Errorf("ranges differ: %+v vs %+v", first.Range, second.Range)
	}
}

func TestResolve_UniqueFragmentIgnoresContext(t *testing.T) {
	body := parseBody(t, "<p>only one needle here</p>")

	c, ok := Resolve(body, TextAnchor{
		Text:       "needle",
		Prefix:     "completely different",
		Suffix:     "context",
		Occurrence: Occurrence(5),
	})
	if !ok {
		t.Fatal("expected a match")
	}
	if c.Start != 9 {
		t.Errorf("start = %d, want 9", c.Start)
	}
}

func TestResolve_OccurrencePolicy(t *testing.T) {
	tests := []struct {
		name   string
		anchor TextAnchor
		want   int
	}{
		{
			name:   "occurrence agrees with best context",
			anchor: TextAnchor{Text: "cat", Prefix: "y ", Suffix: " 2", Occurrence: Occurrence(1)},
			want:   11,
		},
		{
			name:   "occurrence out of range falls back to best score",
			anchor: TextAnchor{Text: "cat", Prefix: "y ", Suffix: " 2", Occurrence: Occurrence(7)},
			want:   11,
		},
		{
			name:   "negative occurrence is ignored",
			anchor: TextAnchor{Text: "cat", Prefix: "z ", Occurrence: Occurrence(-1)},
			want:   20,
		},
		{
			name:   "occurrence with lower score loses",
			anchor: TextAnchor{Text: "cat", Prefix: "y ", Suffix: " 2", Occurrence: Occurrence(0)},
			want:   11,
		},
		{
			name:   "occurrence wins when nothing scores",
			anchor: TextAnchor{Text: "cat", Occurrence: Occurrence(2)},
			want:   20,
		},
		{
			name:   "ties keep the earliest",
			anchor: TextAnchor{Text: "cat"},
			want:   2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := parseBody(t, threeCats)
			c, ok := Resolve(body, tt.anchor)
			if !ok {
				t.Fatal("expected a match")
			}
			if c.Start != tt.want {
				t.Errorf("start = %d, want %d", c.Start, tt.want)
			}
		})
	}
}

func TestResolve_FallsBackToNormalized(t *testing.T) {
	body := parseBody(t, "<p>streamed\n   reply text</p>")

	c, ok := Resolve(body, TextAnchor{Text: "streamed reply"})
	if !ok {
		t.Fatal("expected a normalized match")
	}
	if c.Mode.String() != "normalized" {
		t.Errorf("mode = %v, want normalized", c.Mode)
	}
	if c.Range.Start.Offset != 0 {
		t.Errorf("start offset = %d, want 0", c.Range.Start.Offset)
	}
}

func TestResolve_NotFound(t *testing.T) {
	body := parseBody(t, "<p>nothing to see</p>")

	if _, ok := Resolve(body, TextAnchor{Text: "hello"}); ok {
		t.Error("expected no match")
	}
}

func TestResolve_EmptyText(t *testing.T) {
	body := parseBody(t, "<p>text</p>")

	if _, ok := Resolve(body, TextAnchor{}); ok {
		t.Error("empty anchor should not resolve")
	}
	if err := (TextAnchor{}).Validate(); !errors.Is(err, ErrEmptyText) {
		t.Errorf("Validate = %v, want ErrEmptyText", err)
	}
}

func TestSelect_Empty(t *testing.T) {
	if _, ok := Select(nil, Occurrence(0)); ok {
		t.Error("empty candidate set should not select")
	}
}
