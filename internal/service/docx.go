package service

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// extractDocxText extracts text from .docx file bytes. A .docx file is
// a ZIP archive containing XML; the main body lives in
// word/document.xml. Heading paragraphs come out as Markdown headings
// and tables as Markdown pipe tables so the splitter and retriever see
// document structure, not a flat blob.
func extractDocxText(data []byte) (string, error) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open docx zip: %w", err)
	}

	var docFile *zip.File
	for _, f := range r.File {
		if f.Name == "word/document.xml" {
			docFile = f
			break
		}
	}
	if docFile == nil {
		return "", fmt.Errorf("word/document.xml not found in docx archive")
	}

	rc, err := docFile.Open()
	if err != nil {
		return "", fmt.Errorf("open word/document.xml: %w", err)
	}
	defer rc.Close()

	xmlData, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("read word/document.xml: %w", err)
	}

	return parseDocumentXML(xmlData)
}

// docxWalker accumulates the document as it streams through the OOXML
// token stream: paragraphs (with their heading level from <w:pStyle>),
// and table rows/cells flushed as pipe rows.
type docxWalker struct {
	out strings.Builder

	para         strings.Builder
	headingLevel int
	inText       bool

	inTable  bool
	rowCells []string
	rowCount int
}

// flushPara writes the buffered paragraph, prefixed with '#'s when it
// was styled as a heading. Inside a table the paragraph text belongs to
// the current cell instead.
func (w *docxWalker) flushPara() {
	text := strings.TrimSpace(w.para.String())
	w.para.Reset()
	level := w.headingLevel
	w.headingLevel = 0
	if text == "" {
		return
	}
	if w.inTable {
		if n := len(w.rowCells); n > 0 {
			if w.rowCells[n-1] != "" {
				w.rowCells[n-1] += " "
			}
			w.rowCells[n-1] += text
		}
		return
	}
	if level > 0 {
		if level > 6 {
			level = 6
		}
		w.out.WriteString(strings.Repeat("#", level) + " " + text + "\n")
		return
	}
	w.out.WriteString(text + "\n")
}

// flushRow emits the buffered table row as a pipe row, with a
// separator row after the first (header) row.
func (w *docxWalker) flushRow() {
	if len(w.rowCells) == 0 {
		return
	}
	w.out.WriteString("| " + strings.Join(w.rowCells, " | ") + " |\n")
	w.rowCount++
	if w.rowCount == 1 {
		seps := make([]string, len(w.rowCells))
		for i := range seps {
			seps[i] = "---"
		}
		w.out.WriteString("| " + strings.Join(seps, " | ") + " |\n")
	}
	w.rowCells = nil
}

// headingLevelFromStyle maps a <w:pStyle w:val="Heading2"> value to its
// Markdown depth; 0 means body text.
func headingLevelFromStyle(val string) int {
	val = strings.ToLower(val)
	rest, ok := strings.CutPrefix(val, "heading")
	if !ok {
		if val == "title" {
			return 1
		}
		return 0
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 1 {
		return 0
	}
	return n
}

// parseDocumentXML walks the OOXML body: paragraph boundaries become
// newlines, pStyle heading levels become Markdown '#' prefixes, and
// <w:tbl>/<w:tr>/<w:tc> become Markdown pipe tables.
func parseDocumentXML(data []byte) (string, error) {
	decoder := xml.NewDecoder(bytes.NewReader(data))
	decoder.Strict = false
	decoder.AutoClose = xml.HTMLAutoClose

	w := &docxWalker{}

	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse document xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "tbl":
				w.flushPara()
				w.inTable = true
				w.rowCount = 0
			case "tr":
				w.rowCells = nil
			case "tc":
				w.rowCells = append(w.rowCells, "")
			case "pStyle":
				for _, attr := range t.Attr {
					if attr.Name.Local == "val" {
						w.headingLevel = headingLevelFromStyle(attr.Value)
					}
				}
			case "t":
				w.inText = true
			case "tab":
				w.para.WriteByte('\t')
			case "br":
				w.flushPara()
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				w.inText = false
			case "p":
				w.flushPara()
			case "tr":
				w.flushRow()
			case "tbl":
				w.inTable = false
				w.out.WriteByte('\n')
			}
		case xml.CharData:
			if w.inText {
				w.para.Write(t)
			}
		}
	}
	w.flushPara()

	result := strings.TrimSpace(w.out.String())
	if result == "" {
		return "", fmt.Errorf("no text content found in docx")
	}
	return result, nil
}
