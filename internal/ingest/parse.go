package ingest

import (
	"archive/zip"
	"bytes"
	"compress/flate"
	"encoding/xml"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/richardlehane/mscfb"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/encoding/unicode"
)

// Page is one unit of extracted text. Formats without page structure
// (docx, hwp) produce a single page.
type Page struct {
	Number int
	Text   string
}

// parseDocument dispatches on the filename extension.
func parseDocument(data []byte, filename string) ([]Page, []string, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return parsePDF(data)
	case ".docx":
		return parseDOCX(data)
	case ".hwp":
		return parseHWP(data)
	default:
		return nil, nil, fmt.Errorf("unsupported file extension: %s", filepath.Ext(filename))
	}
}

// parsePDF extracts text page by page. When the average characters per page
// falls under 50 the document is likely scanned and a needs_ocr warning is
// attached; extraction still proceeds with whatever text exists.
func parsePDF(data []byte) ([]Page, []string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, nil, fmt.Errorf("open pdf: %w", err)
	}

	var pages []Page
	var warnings []string
	totalChars := 0
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		p := reader.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("page %d: text extraction failed: %v", i, err))
			continue
		}
		totalChars += len(strings.TrimSpace(text))
		pages = append(pages, Page{Number: i, Text: text})
	}

	if numPages > 0 && totalChars/numPages < 50 {
		warnings = append(warnings, "needs_ocr: average characters per page below 50, document looks scanned")
	}
	return pages, warnings, nil
}

// docx XML shapes we care about: <w:p> paragraphs containing <w:t> runs.
func parseDOCX(data []byte) ([]Page, []string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, nil, fmt.Errorf("open docx: %w", err)
	}
	var docXML io.ReadCloser
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			docXML, err = f.Open()
			if err != nil {
				return nil, nil, fmt.Errorf("open docx document.xml: %w", err)
			}
			break
		}
	}
	if docXML == nil {
		return nil, nil, fmt.Errorf("docx has no word/document.xml")
	}
	defer docXML.Close()

	var b strings.Builder
	dec := xml.NewDecoder(docXML)
	inText := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("parse docx xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" {
				inText = true
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				b.WriteString("\n")
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
	return []Page{{Number: 1, Text: b.String()}}, nil, nil
}

// parseHWP reads an HWP 5.0 OLE container: BodyText/Section* streams are
// raw-deflate compressed UTF-16LE text. A section that fails to decompress
// is skipped with a warning; the rest of the document still ingests.
func parseHWP(data []byte) ([]Page, []string, error) {
	doc, err := mscfb.New(bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("not a valid HWP file (OLE container required): %w", err)
	}

	type section struct {
		name string
		data []byte
	}
	var sections []section
	for entry, err := doc.Next(); err == nil; entry, err = doc.Next() {
		if len(entry.Path) == 0 || entry.Path[0] != "BodyText" {
			continue
		}
		raw, rerr := io.ReadAll(entry)
		if rerr != nil {
			log.Warn().Err(rerr).Str("section", entry.Name).Msg("hwp section read failed")
			continue
		}
		sections = append(sections, section{name: entry.Name, data: raw})
	}
	sort.Slice(sections, func(i, j int) bool {
		ni, _ := strconv.Atoi(strings.TrimPrefix(sections[i].name, "Section"))
		nj, _ := strconv.Atoi(strings.TrimPrefix(sections[j].name, "Section"))
		return ni < nj
	})

	var warnings []string
	var b strings.Builder
	dec := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
	for _, sec := range sections {
		fr := flate.NewReader(bytes.NewReader(sec.data))
		decompressed, derr := io.ReadAll(fr)
		_ = fr.Close()
		if derr != nil {
			warnings = append(warnings, fmt.Sprintf("section %s: decompress failed: %v", sec.name, derr))
			continue
		}
		text, derr := dec.Bytes(decompressed)
		if derr != nil {
			warnings = append(warnings, fmt.Sprintf("section %s: decode failed: %v", sec.name, derr))
			continue
		}
		b.WriteString(stripControl(string(text)))
		b.WriteString("\n")
	}
	return []Page{{Number: 1, Text: b.String()}}, warnings, nil
}

// HWP body text interleaves control records with the visible characters.
func stripControl(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r == '\n' || r == '\t' || r >= 32 {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return b.String()
}
