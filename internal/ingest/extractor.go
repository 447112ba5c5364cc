package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"
)

// maxDocumentSize caps how much of an uploaded report is read into memory.
const maxDocumentSize = 32 << 20

var (
	// ErrUnsupportedFormat is returned for a report file type no extractor
	// handles.
	ErrUnsupportedFormat = errors.New("unsupported report format")
	// ErrUnreadableDocument wraps failures to parse a report file.
	ErrUnreadableDocument = errors.New("unreadable report document")
)

// Extractor turns a report document into the plain text of its pages.
type Extractor interface {
	Extract(ctx context.Context, r io.Reader) ([]string, error)
}

// PDFExtractor reads the text layer of a PDF report.
type PDFExtractor struct{}

// Extract returns the plain text of every page.
func (PDFExtractor) Extract(ctx context.Context, r io.Reader) ([]string, error) {
	data, err := readAll(r)
	if err != nil {
		return nil, err
	}
	doc, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableDocument, err)
	}

	pages := make([]string, 0, doc.NumPage())
	for i := 1; i <= doc.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := doc.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("%w: page %d: %v", ErrUnreadableDocument, i, err)
		}
		pages = append(pages, text)
	}
	return pages, nil
}

// SpreadsheetExtractor reads xlsx reports. Each sheet becomes one page with
// its cells separated by spaces.
type SpreadsheetExtractor struct{}

// Extract returns one page per sheet.
func (SpreadsheetExtractor) Extract(ctx context.Context, r io.Reader) ([]string, error) {
	f, err := excelize.OpenReader(io.LimitReader(r, maxDocumentSize))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableDocument, err)
	}
	defer f.Close()

	var pages []string
	for _, sheet := range f.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("%w: sheet %s: %v", ErrUnreadableDocument, sheet, err)
		}
		var b strings.Builder
		for _, row := range rows {
			for _, cell := range row {
				b.WriteString(cell)
				b.WriteByte(' ')
			}
			b.WriteByte('\n')
		}
		pages = append(pages, b.String())
	}
	return pages, nil
}

// TextExtractor treats the whole input as one page.
type TextExtractor struct{}

// Extract returns the input as a single page.
func (TextExtractor) Extract(_ context.Context, r io.Reader) ([]string, error) {
	data, err := readAll(r)
	if err != nil {
		return nil, err
	}
	return []string{string(data)}, nil
}

// ExtractorFor picks an extractor from a file name, falling back to the
// content type when the name has no known extension.
func ExtractorFor(filename, contentType string) (Extractor, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return PDFExtractor{}, nil
	case ".xlsx", ".xlsm":
		return SpreadsheetExtractor{}, nil
	case ".txt", ".csv":
		return TextExtractor{}, nil
	}

	mediaType, _, _ := strings.Cut(contentType, ";")
	switch strings.TrimSpace(strings.ToLower(mediaType)) {
	case "application/pdf":
		return PDFExtractor{}, nil
	case "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		return SpreadsheetExtractor{}, nil
	case "text/plain", "text/csv":
		return TextExtractor{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filename)
}

func readAll(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxDocumentSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading report: %w", err)
	}
	if len(data) > maxDocumentSize {
		return nil, fmt.Errorf("%w: larger than %d bytes", ErrUnreadableDocument, maxDocumentSize)
	}
	return data, nil
}
