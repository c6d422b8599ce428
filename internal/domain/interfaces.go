package domain

import "context"

// Converter turns a whole PDF into markdown plus metadata. Implementations
// hold expensive resources, are built once per process and must be safe for
// concurrent use: a call must not change state visible to another request.
type Converter interface {
	Convert(ctx context.Context, data []byte) (*RenderedDocument, error)
}

// LayoutDetector finds regions on a single page raster. Returned polygons are
// in page space. Same sharing rules as Converter.
type LayoutDetector interface {
	Detect(ctx context.Context, page PageImage) ([]RegionDescriptor, error)
}

// Rasterizer opens a PDF for page rendering.
type Rasterizer interface {
	Open(data []byte) (RasterDocument, error)
}

// RasterDocument renders pages of one opened PDF.
type RasterDocument interface {
	NumPages() int
	Render(ctx context.Context, index int, zoom float64) (PageImage, error)
	Close() error
}
