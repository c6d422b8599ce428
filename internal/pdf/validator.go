package pdf

import (
	"bytes"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/spherical/doc-converter/internal/domain"
)

// pdfMagic must appear near the start of every PDF.
var pdfMagic = []byte("%PDF-")

// headerWindow is how far into the file the header may be found; readers
// tolerate leading junk up to this offset.
const headerWindow = 1024

// Validator provides input validation for uploaded PDFs.
type Validator struct {
	maxBytes       int64
	structureCheck bool
}

// NewValidator creates a validator enforcing maxBytes. When structureCheck is
// set the document's cross-reference table and page tree are parsed with
// pdfcpu before any conversion work starts.
func NewValidator(maxBytes int64, structureCheck bool) *Validator {
	return &Validator{maxBytes: maxBytes, structureCheck: structureCheck}
}

// MaxBytes returns the configured upload limit.
func (v *Validator) MaxBytes() int64 {
	return v.maxBytes
}

// ValidateSize rejects payloads larger than the configured maximum.
func (v *Validator) ValidateSize(size int64) error {
	if size > v.maxBytes {
		return domain.PayloadTooLargeError(size, v.maxBytes)
	}
	return nil
}

// ValidatePDF checks that data looks like a PDF. It returns the page count
// when the structural check ran, or 0 otherwise.
func (v *Validator) ValidatePDF(data []byte) (int, error) {
	if len(data) == 0 {
		return 0, domain.ValidationError("no file uploaded", nil)
	}

	window := data
	if len(window) > headerWindow {
		window = window[:headerWindow]
	}
	if !bytes.Contains(window, pdfMagic) {
		return 0, domain.ValidationError("file is not a PDF", nil)
	}

	if !v.structureCheck {
		return 0, nil
	}

	pages, err := PageCount(data)
	if err != nil {
		// Unparseable input is a conversion failure, not a malformed request.
		return 0, domain.ConversionError(domain.StageValidate, "PDF could not be parsed", err)
	}
	if pages == 0 {
		return 0, domain.ConversionError(domain.StageValidate, "PDF has no pages", nil)
	}

	return pages, nil
}

// PageCount reads the page tree with pdfcpu in relaxed mode.
func PageCount(data []byte) (int, error) {
	ctx, err := readContext(data)
	if err != nil {
		return 0, err
	}
	return ctx.PageCount, nil
}

// DocumentInfo returns the non-empty entries of the document info dictionary
// together with the page count. The info fields are only filled in by
// pdfcpu's validation pass, so the context is validated first.
func DocumentInfo(data []byte) (map[string]string, int, error) {
	ctx, err := readContext(data)
	if err != nil {
		return nil, 0, err
	}
	if err := api.ValidateContext(ctx); err != nil {
		return nil, 0, fmt.Errorf("failed to validate PDF: %w", err)
	}

	xref := ctx.XRefTable
	info := map[string]string{}
	for k, val := range map[string]string{
		"title":         xref.Title,
		"author":        xref.Author,
		"subject":       xref.Subject,
		"creator":       xref.Creator,
		"producer":      xref.Producer,
		"creation_date": xref.CreationDate,
		"mod_date":      xref.ModDate,
	} {
		if val != "" {
			info[k] = val
		}
	}
	return info, xref.PageCount, nil
}

func readContext(data []byte) (*model.Context, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	ctx, err := api.ReadContext(bytes.NewReader(data), conf)
	if err != nil {
		return nil, fmt.Errorf("failed to read PDF context: %w", err)
	}

	if err := ctx.EnsurePageCount(); err != nil {
		return nil, fmt.Errorf("failed to ensure page count: %w", err)
	}

	return ctx, nil
}
