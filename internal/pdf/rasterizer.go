package pdf

import (
	"context"
	"fmt"

	"github.com/gen2brain/go-fitz"
	"github.com/spherical/doc-converter/internal/domain"
)

// BaseDPI is the PDF user-space resolution; zoom 1 renders one pixel per point.
const BaseDPI = 72.0

// Rasterizer implements page rendering using go-fitz (MuPDF).
type Rasterizer struct{}

// NewRasterizer creates a new rasterizer. It holds no state; every Open
// returns an independent document handle.
func NewRasterizer() *Rasterizer {
	return &Rasterizer{}
}

// Open parses PDF bytes for rendering.
func (r *Rasterizer) Open(data []byte) (domain.RasterDocument, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, domain.ConversionError(domain.StageRasterize, "failed to open PDF for rendering", err)
	}

	pageCount := doc.NumPage()
	if pageCount == 0 {
		doc.Close()
		return nil, domain.ConversionError(domain.StageRasterize, "PDF has no pages", nil)
	}

	return &fitzDocument{doc: doc, pages: pageCount}, nil
}

// fitzDocument renders pages of one opened PDF. go-fitz serializes calls on
// a document internally, so Render may be called from several goroutines.
type fitzDocument struct {
	doc   *fitz.Document
	pages int
}

func (d *fitzDocument) NumPages() int {
	return d.pages
}

// Render rasterizes the page at index (0-based) at the given zoom factor.
func (d *fitzDocument) Render(ctx context.Context, index int, zoom float64) (domain.PageImage, error) {
	select {
	case <-ctx.Done():
		return domain.PageImage{}, ctx.Err()
	default:
	}

	if index < 0 || index >= d.pages {
		return domain.PageImage{}, fmt.Errorf("page index %d out of range [0,%d)", index, d.pages)
	}
	if zoom <= 0 {
		return domain.PageImage{}, fmt.Errorf("invalid zoom %v", zoom)
	}

	img, err := d.doc.ImageDPI(index, BaseDPI*zoom)
	if err != nil {
		return domain.PageImage{}, fmt.Errorf("render page %d: %w", index+1, err)
	}

	return domain.PageImage{
		Index: index,
		Zoom:  zoom,
		Image: img,
	}, nil
}

// Close releases the MuPDF document.
func (d *fitzDocument) Close() error {
	return d.doc.Close()
}
