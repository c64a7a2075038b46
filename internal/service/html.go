package service

import (
	"bytes"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// skippedHTMLTags are subtrees that never contribute body text.
var skippedHTMLTags = map[string]bool{
	"script": true,
	"style":  true,
	"header": true,
	"footer": true,
	"nav":    true,
}

// blockHTMLTags emit a newline when closed so paragraph structure
// survives extraction.
var blockHTMLTags = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"section": true, "article": true, "blockquote": true, "pre": true,
}

var excessNewlines = regexp.MustCompile(`\n{3,}`)

// extractHTMLText walks an HTML document with the streaming tokenizer,
// skipping script/style/header/footer subtrees, emitting newlines at
// block boundaries, and collapsing runs of three or more newlines.
func extractHTMLText(data []byte) string {
	tok := html.NewTokenizer(bytes.NewReader(data))
	var sb strings.Builder
	skipDepth := 0

	for {
		switch tok.Next() {
		case html.ErrorToken:
			text := strings.TrimSpace(sb.String())
			return excessNewlines.ReplaceAllString(text, "\n\n")
		case html.StartTagToken:
			name, _ := tok.TagName()
			if skippedHTMLTags[string(name)] {
				skipDepth++
			}
		case html.EndTagToken:
			name, _ := tok.TagName()
			tag := string(name)
			if skippedHTMLTags[tag] {
				if skipDepth > 0 {
					skipDepth--
				}
				continue
			}
			if skipDepth == 0 && blockHTMLTags[tag] {
				sb.WriteByte('\n')
			}
		case html.SelfClosingTagToken:
			name, _ := tok.TagName()
			if skipDepth == 0 && blockHTMLTags[string(name)] {
				sb.WriteByte('\n')
			}
		case html.TextToken:
			if skipDepth > 0 {
				continue
			}
			text := strings.TrimSpace(string(tok.Text()))
			if text != "" {
				if sb.Len() > 0 && !strings.HasSuffix(sb.String(), "\n") {
					sb.WriteByte(' ')
				}
				sb.WriteString(text)
			}
		}
	}
}
