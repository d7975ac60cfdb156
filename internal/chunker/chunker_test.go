package chunker

import (
	"strings"
	"testing"
)

func mustSplitter(t *testing.T, maxChars, overlap int) *Splitter {
	t.Helper()
	s, err := New(maxChars, overlap)
	if err != nil {
		t.Fatalf("New(%d, %d): %v", maxChars, overlap, err)
	}
	return s
}

// para returns a paragraph of exactly n characters ending in a period.
func para(fill byte, n int) string {
	return strings.Repeat(string(fill), n-1) + "."
}

func TestNewRejectsBadConfig(t *testing.T) {
	for _, tt := range []struct{ max, overlap int }{
		{0, 10}, {-1, 10}, {100, 0}, {100, -5}, {100, 100}, {100, 150},
	} {
		if _, err := New(tt.max, tt.overlap); err == nil {
			t.Errorf("New(%d, %d) should fail", tt.max, tt.overlap)
		}
	}
}

func TestSplitEmptyBody(t *testing.T) {
	s := mustSplitter(t, 300, 50)
	for _, body := range []string{"", "   ", "\n\n\n", " \n \n "} {
		if chunks := s.Split("p1", "ENG", 1, body); len(chunks) != 0 {
			t.Errorf("Split(%q) = %d chunks, want 0", body, len(chunks))
		}
	}
}

func TestSplitSinglePageShorterThanOverlap(t *testing.T) {
	s := mustSplitter(t, 300, 50)
	chunks := s.Split("p1", "ENG", 1, "Tiny page.")
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if chunks[0].Text != "Tiny page." {
		t.Errorf("Text = %q", chunks[0].Text)
	}
}

func TestSplitDeterministic(t *testing.T) {
	s := mustSplitter(t, 120, 20)
	body := strings.Join([]string{
		para('a', 80), para('b', 80), para('c', 80), para('d', 80),
	}, "\n\n")

	first := s.Split("page-9", "OPS", 3, body)
	second := s.Split("page-9", "OPS", 3, body)
	if len(first) != len(second) {
		t.Fatalf("chunk counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Errorf("chunk %d: id %s vs %s", i, first[i].ID, second[i].ID)
		}
		if first[i].Text != second[i].Text {
			t.Errorf("chunk %d: text differs", i)
		}
	}
}

func TestIDStableAcrossInputsOnly(t *testing.T) {
	// The id depends only on page id, version, and sequence.
	if ID("p1", 1, 0) != ID("p1", 1, 0) {
		t.Error("same inputs must give same id")
	}
	if ID("p1", 1, 0) == ID("p1", 2, 0) {
		t.Error("different versions must give different ids")
	}
	if ID("p1", 1, 0) == ID("p2", 1, 0) {
		t.Error("different pages must give different ids")
	}
	if ID("p1", 1, 0) == ID("p1", 1, 1) {
		t.Error("different sequence indexes must give different ids")
	}
	if got := len(ID("p1", 1, 0)); got != 24 {
		t.Errorf("id length = %d, want 24", got)
	}
}

func TestIDs(t *testing.T) {
	ids := IDs("p1", 4, 3)
	if len(ids) != 3 {
		t.Fatalf("len = %d, want 3", len(ids))
	}
	for i, id := range ids {
		if id != ID("p1", 4, i) {
			t.Errorf("ids[%d] = %s, want %s", i, id, ID("p1", 4, i))
		}
	}
}

func TestSplitInvariants(t *testing.T) {
	const maxChars, overlap = 300, 50
	s := mustSplitter(t, maxChars, overlap)

	// ~720 characters of content across paragraphs small enough that the
	// overlap seed always fits: expect three chunks, each within bounds,
	// adjacent chunks sharing the configured overlap.
	body := strings.Join([]string{
		para('a', 240), para('b', 240), para('c', 240),
	}, "\n\n")

	chunks := s.Split("deploy-guide", "PROJECTS", 1, body)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}

	for i, c := range chunks {
		if n := len([]rune(c.Text)); n > maxChars {
			t.Errorf("chunk %d length %d exceeds max %d", i, n, maxChars)
		}
		if c.Seq != i {
			t.Errorf("chunk %d Seq = %d", i, c.Seq)
		}
	}

	for i := 1; i < len(chunks); i++ {
		prev := []rune(chunks[i-1].Text)
		tail := string(prev[len(prev)-overlap:])
		if !strings.HasPrefix(chunks[i].Text, tail) {
			t.Errorf("chunk %d does not start with the %d-char tail of chunk %d", i, overlap, i-1)
		}
	}
}

func TestSplitShrinkageAcrossVersions(t *testing.T) {
	s := mustSplitter(t, 300, 50)

	v1 := strings.Join([]string{para('a', 240), para('b', 240), para('c', 240)}, "\n\n")
	v2 := strings.Join([]string{para('a', 250), para('b', 244)}, "\n\n")

	c1 := s.Split("deploy-guide", "PROJECTS", 1, v1)
	c2 := s.Split("deploy-guide", "PROJECTS", 2, v2)
	if len(c1) != 3 || len(c2) != 2 {
		t.Fatalf("chunk counts = %d/%d, want 3/2", len(c1), len(c2))
	}

	// No id collision between versions: the v2 upsert writes fresh ids and
	// all three v1 ids become stale.
	seen := map[string]bool{}
	for _, c := range c1 {
		seen[c.ID] = true
	}
	for _, c := range c2 {
		if seen[c.ID] {
			t.Errorf("chunk id %s reused across versions", c.ID)
		}
	}
}

func TestSplitOversizedParagraphSentenceSplit(t *testing.T) {
	s := mustSplitter(t, 100, 20)
	sentence := strings.Repeat("x", 59) + "."
	body := sentence + " " + sentence + " " + sentence // one 182-char paragraph

	chunks := s.Split("p1", "ENG", 1, body)
	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want at least 2", len(chunks))
	}
	for i, c := range chunks {
		if n := len([]rune(c.Text)); n > 100 {
			t.Errorf("chunk %d length %d exceeds max", i, n)
		}
	}
}

func TestSplitIndivisibleRunHardTruncated(t *testing.T) {
	s := mustSplitter(t, 100, 20)
	body := strings.Repeat("x", 250) // no paragraph or sentence breaks

	chunks := s.Split("p1", "ENG", 1, body)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	total := 0
	for i, c := range chunks {
		n := len([]rune(c.Text))
		if n > 100 {
			t.Errorf("chunk %d length %d exceeds max", i, n)
		}
		total += n
	}
	if total != 250 {
		t.Errorf("truncated chunks cover %d chars, want 250", total)
	}
}

func TestSplitRuneSafety(t *testing.T) {
	s := mustSplitter(t, 10, 3)
	body := strings.Repeat("界", 25) // multi-byte runes, no breaks

	chunks := s.Split("p1", "ENG", 1, body)
	for i, c := range chunks {
		if !strings.HasPrefix(c.Text, "界") {
			t.Errorf("chunk %d starts mid-rune: %q", i, c.Text)
		}
		if n := len([]rune(c.Text)); n > 10 {
			t.Errorf("chunk %d rune length %d exceeds max", i, n)
		}
	}
}

func TestSplitOffsetsPointIntoBody(t *testing.T) {
	s := mustSplitter(t, 300, 50)
	body := "First paragraph here.\n\nSecond paragraph follows."

	chunks := s.Split("p1", "ENG", 1, body)
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	c := chunks[0]
	if c.Start != 0 {
		t.Errorf("Start = %d, want 0", c.Start)
	}
	if c.End != len([]rune(body)) {
		t.Errorf("End = %d, want %d", c.End, len([]rune(body)))
	}
}
