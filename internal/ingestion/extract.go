package ingestion

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"
)

// Extractor names recorded in job metadata.
const (
	ExtractorPlain = "plain"
	ExtractorHTML  = "html"
	ExtractorXLSX  = "xlsx"
	ExtractorPDF   = "pdf"
	ExtractorDOCX  = "docx"
)

const (
	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	docxContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

// Extraction is the text pulled from a document and the extractor that produced it.
type Extraction struct {
	Text      string
	Extractor string
}

// ExtractText converts raw document bytes into cleaned text. The content type wins
// over the file extension when both are known. Unsupported formats and documents
// without any text yield an *UnreadableError.
func ExtractText(data []byte, contentType, fileName string) (*Extraction, error) {
	extractor := detectExtractor(data, contentType, fileName)

	var (
		text string
		err  error
	)
	switch extractor {
	case ExtractorHTML:
		text, err = extractHTML(data)
	case ExtractorXLSX:
		text, err = extractXLSX(data)
	case ExtractorPDF:
		text, err = extractPDF(data)
	case ExtractorDOCX:
		text, err = extractDOCX(data)
	case ExtractorPlain:
		if !utf8.Valid(data) {
			return nil, &UnreadableError{FileName: fileName, Message: "text is not valid UTF-8"}
		}
		text = string(data)
	default:
		return nil, &UnreadableError{FileName: fileName, Message: fmt.Sprintf("unsupported content type %q", contentType)}
	}
	if err != nil {
		return nil, &UnreadableError{FileName: fileName, Message: extractor + " extraction failed", Cause: err}
	}

	text = CleanText(text)
	if text == "" {
		return nil, &UnreadableError{FileName: fileName, Message: "document contains no text"}
	}
	return &Extraction{Text: text, Extractor: extractor}, nil
}

// detectExtractor picks an extractor from the content type, then the file extension,
// then the leading bytes.
func detectExtractor(data []byte, contentType, fileName string) string {
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		switch {
		case mediaType == "text/html" || mediaType == "application/xhtml+xml":
			return ExtractorHTML
		case mediaType == xlsxContentType:
			return ExtractorXLSX
		case mediaType == "application/pdf":
			return ExtractorPDF
		case mediaType == docxContentType:
			return ExtractorDOCX
		case strings.HasPrefix(mediaType, "text/"), mediaType == "application/json":
			return ExtractorPlain
		}
	}

	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".html", ".htm":
		return ExtractorHTML
	case ".xlsx":
		return ExtractorXLSX
	case ".pdf":
		return ExtractorPDF
	case ".docx":
		return ExtractorDOCX
	case ".txt", ".md", ".markdown", ".csv", ".json":
		return ExtractorPlain
	}
	return sniffExtractor(data)
}

func sniffExtractor(data []byte) string {
	switch {
	case bytes.HasPrefix(data, []byte("%PDF-")):
		return ExtractorPDF
	case bytes.HasPrefix(data, []byte("PK\x03\x04")):
		zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			return ""
		}
		for _, f := range zr.File {
			switch {
			case f.Name == "word/document.xml":
				return ExtractorDOCX
			case strings.HasPrefix(f.Name, "xl/"):
				return ExtractorXLSX
			}
		}
	}
	return ""
}

func extractHTML(data []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}
	doc.Find("script, style, noscript, nav, footer").Remove()

	var sb strings.Builder
	doc.Find("h1, h2, h3, h4, h5, h6, p, li, td, th, pre").Each(func(_ int, s *goquery.Selection) {
		line := strings.TrimSpace(s.Text())
		if line == "" {
			return
		}
		if goquery.NodeName(s) == "li" {
			line = "- " + line
		}
		sb.WriteString(line)
		sb.WriteString("\n")
	})
	if sb.Len() == 0 {
		return doc.Find("body").Text(), nil
	}
	return sb.String(), nil
}

// extractXLSX flattens each sheet into "## Sheet" followed by pipe-separated rows.
func extractXLSX(data []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("error opening Excel file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var sb strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("failed to read sheet %s: %w", sheet, err)
		}
		if len(rows) == 0 {
			continue
		}
		sb.WriteString("## " + sheet + "\n")
		for _, row := range rows {
			cells := make([]string, 0, len(row))
			for _, cell := range row {
				if cell = strings.TrimSpace(cell); cell != "" {
					cells = append(cells, cell)
				}
			}
			if len(cells) > 0 {
				sb.WriteString(strings.Join(cells, " | "))
				sb.WriteString("\n")
			}
		}
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

func extractPDF(data []byte) (text string, err error) {
	// The reader resolves objects lazily and panics on some malformed files.
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("malformed PDF: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("pdf reader: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("pdf plaintext: %w", err)
	}
	b, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("pdf read: %w", err)
	}
	return string(b), nil
}

// extractDOCX reads word/document.xml, writing one line per paragraph. Heading styles
// become markdown headings and numbered paragraphs become list items.
func extractDOCX(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("docx is not a zip container: %w", err)
	}
	var body *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			body = f
			break
		}
	}
	if body == nil {
		return "", fmt.Errorf("docx has no word/document.xml")
	}
	rc, err := body.Open()
	if err != nil {
		return "", err
	}
	defer func() { _ = rc.Close() }()

	var (
		sb     strings.Builder
		para   strings.Builder
		prefix string
	)
	dec := xml.NewDecoder(rc)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to parse document.xml: %w", err)
		}
		switch el := tok.(type) {
		case xml.StartElement:
			switch el.Name.Local {
			case "p":
				para.Reset()
				prefix = ""
			case "pStyle":
				if level := headingLevel(attr(el, "val")); level > 0 {
					prefix = strings.Repeat("#", level) + " "
				}
			case "numPr":
				if prefix == "" {
					prefix = "- "
				}
			case "t":
				var v string
				if err := dec.DecodeElement(&v, &el); err != nil {
					return "", fmt.Errorf("failed to parse document.xml: %w", err)
				}
				para.WriteString(v)
			case "tab":
				para.WriteString("\t")
			case "br", "cr":
				para.WriteString("\n")
			}
		case xml.EndElement:
			if el.Name.Local == "p" {
				if line := strings.TrimSpace(para.String()); line != "" {
					sb.WriteString(prefix + line)
				}
				sb.WriteString("\n")
			}
		}
	}
	return sb.String(), nil
}

func attr(el xml.StartElement, local string) string {
	for _, a := range el.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

// headingLevel maps Word style ids such as "Heading2" or "Title" to a heading depth.
func headingLevel(style string) int {
	switch {
	case style == "Title":
		return 1
	case strings.HasPrefix(style, "Heading") && len(style) == len("Heading")+1:
		if d := style[len("Heading")]; d >= '1' && d <= '6' {
			return int(d - '0')
		}
	}
	return 0
}
