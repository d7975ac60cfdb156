package confluence

import (
	"strings"
	"testing"
)

func TestNormalizeParagraphBoundaries(t *testing.T) {
	markup := `<p>First paragraph.</p><p>Second paragraph.</p>`
	got := Normalize(markup)
	want := "First paragraph.\n\nSecond paragraph."
	if got != want {
		t.Errorf("Normalize() = %q, want %q", got, want)
	}
}

func TestNormalizeHeadingsAndLists(t *testing.T) {
	markup := `<h1>Deploy Guide</h1><p>Intro text.</p><ul><li>step one</li><li>step two</li></ul>`
	got := Normalize(markup)

	if !strings.Contains(got, "Deploy Guide\n\n") {
		t.Errorf("heading should end a paragraph, got %q", got)
	}
	if !strings.Contains(got, "step one\nstep two") {
		t.Errorf("list items should be separate lines, got %q", got)
	}
}

func TestNormalizeEntitiesDecoded(t *testing.T) {
	got := Normalize(`<p>a&nbsp;&amp;&nbsp;b &lt;tag&gt;</p>`)
	if !strings.Contains(got, "a & b <tag>") {
		t.Errorf("entities should decode, got %q", got)
	}
}

func TestNormalizeSkipsScriptAndStyle(t *testing.T) {
	got := Normalize(`<p>visible</p><script>alert(1)</script><style>.x{}</style>`)
	if strings.Contains(got, "alert") || strings.Contains(got, ".x{}") {
		t.Errorf("script/style content leaked: %q", got)
	}
	if !strings.Contains(got, "visible") {
		t.Errorf("lost visible text: %q", got)
	}
}

func TestNormalizeCollapsesWhitespace(t *testing.T) {
	got := Normalize("<p>a\t\t b    c</p><p></p><p></p><p>d</p>")
	want := "a b c\n\nd"
	if got != want {
		t.Errorf("Normalize() = %q, want %q", got, want)
	}
}

func TestNormalizeEmpty(t *testing.T) {
	for _, in := range []string{"", "   ", "<p></p>", "<div>\n</div>"} {
		if got := Normalize(in); got != "" {
			t.Errorf("Normalize(%q) = %q, want empty", in, got)
		}
	}
}

func TestNormalizeBr(t *testing.T) {
	got := Normalize(`<p>line one<br/>line two</p>`)
	if !strings.Contains(got, "line one\nline two") {
		t.Errorf("br should become a single newline, got %q", got)
	}
}

func TestNormalizeTable(t *testing.T) {
	markup := `<table><tr><td>k</td><td>v</td></tr><tr><td>k2</td><td>v2</td></tr></table><p>after</p>`
	got := Normalize(markup)
	if !strings.Contains(got, "\n\nafter") {
		t.Errorf("table should end a paragraph before following text, got %q", got)
	}
}
