package service

import (
	"strings"
	"testing"
)

func TestExtractHTMLText_StripsChromeAndScripts(t *testing.T) {
	doc := `<html><head><style>p{color:red}</style><script>alert(1)</script></head>
<body>
<header>Site header</header>
<nav>menu</nav>
<p>First paragraph.</p>
<div>Second <b>bold</b> block.</div>
<footer>copyright</footer>
</body></html>`

	got := extractHTMLText([]byte(doc))

	for _, banned := range []string{"alert(1)", "color:red", "Site header", "menu", "copyright"} {
		if strings.Contains(got, banned) {
			t.Errorf("extracted text contains %q", banned)
		}
	}
	if !strings.Contains(got, "First paragraph.") {
		t.Errorf("paragraph text missing: %q", got)
	}
	if !strings.Contains(got, "Second bold block.") {
		t.Errorf("inline markup should flatten to spaces: %q", got)
	}
}

func TestExtractHTMLText_BlockBoundariesBecomeNewlines(t *testing.T) {
	got := extractHTMLText([]byte("<p>one</p><p>two</p>"))
	if !strings.Contains(got, "one") || !strings.Contains(got, "two") {
		t.Fatalf("text missing: %q", got)
	}
	if !strings.Contains(got, "\n") {
		t.Errorf("no newline between block elements: %q", got)
	}
}

func TestExtractHTMLText_CollapsesBlankRuns(t *testing.T) {
	got := extractHTMLText([]byte("<div>a</div><br><br><br><br><div>b</div>"))
	if strings.Contains(got, "\n\n\n") {
		t.Errorf("blank runs not collapsed: %q", got)
	}
}

func TestExtractHTMLText_EmptyInput(t *testing.T) {
	if got := extractHTMLText(nil); got != "" {
		t.Errorf("empty input produced %q", got)
	}
}
