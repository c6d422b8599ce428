package engine

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	lpdf "github.com/ledongthuc/pdf"
	"github.com/spherical/doc-converter/internal/domain"
	pdfdoc "github.com/spherical/doc-converter/internal/pdf"
)

// LocalConverter is the offline converter. It reads the PDF text layer and
// document info in process, which makes it deterministic and dependency free
// at runtime. It produces no table-of-contents polygons.
type LocalConverter struct{}

// NewLocalConverter creates the in-process converter.
func NewLocalConverter() *LocalConverter {
	return &LocalConverter{}
}

// PageStat describes the text found on one page.
type PageStat struct {
	PageID     int `json:"page_id"`
	TextLength int `json:"text_length"`
}

// Convert renders one markdown section per page.
func (c *LocalConverter) Convert(ctx context.Context, data []byte) (doc *domain.RenderedDocument, err error) {
	defer func() {
		if r := recover(); r != nil {
			doc = nil
			err = domain.ConversionError(domain.StageConvert, "document conversion failed",
				fmt.Errorf("text extraction panicked: %v", r))
		}
	}()

	if err := ctx.Err(); err != nil {
		return nil, domain.CanceledError(domain.StageConvert, err)
	}

	reader, err := lpdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, domain.ConversionError(domain.StageConvert, "document conversion failed",
			fmt.Errorf("open pdf: %w", err))
	}

	info, _, err := pdfdoc.DocumentInfo(data)
	if err != nil {
		// The text layer is still usable without document info.
		info = map[string]string{}
	}

	numPages := reader.NumPage()
	var md strings.Builder
	stats := make([]PageStat, 0, numPages)

	if title := info["title"]; title != "" {
		fmt.Fprintf(&md, "# %s\n\n", title)
	}

	for i := 1; i <= numPages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, domain.CanceledError(domain.StageConvert, err)
		}

		text := pageText(reader.Page(i))
		stats = append(stats, PageStat{PageID: i - 1, TextLength: len(text)})

		fmt.Fprintf(&md, "## Page %d\n\n", i)
		if text != "" {
			md.WriteString(text)
			md.WriteString("\n\n")
		}
	}

	meta := domain.DocumentMetadata{
		"page_count":              numPages,
		"page_stats":              stats,
		"document_info":           info,
		domain.TableOfContentsKey: []any{},
	}
	return &domain.RenderedDocument{Markdown: md.String(), Metadata: meta}, nil
}

// pageText returns the trimmed plain text of a page. Pages whose content
// cannot be decoded contribute an empty section.
func pageText(page lpdf.Page) string {
	if page.V.IsNull() {
		return ""
	}
	text, err := page.GetPlainText(nil)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(text)
}
