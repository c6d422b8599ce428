// Package packager assembles conversion results into the response artifact:
// a metadata JSON document or a zip bundle. Artifacts are built entirely in
// memory and either complete or are not produced at all.
package packager

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spherical/doc-converter/internal/domain"
)

// Bundle entry and download names.
const (
	MarkdownEntry = "converted.md"
	MetadataEntry = "metadata.json"
	LayoutEntry   = "layout.json"

	BundleFilename = "converted.zip"
	JSONFilename   = "converted.json"

	ContentTypeZip  = "application/zip"
	ContentTypeJSON = "application/json"
)

// entryTime is stamped on every zip entry so identical inputs produce
// identical archives.
var entryTime = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// Input is everything the packager needs from the pipeline.
type Input struct {
	Mode     domain.OutputMode
	Document *domain.RenderedDocument
	// Pages holds one entry per document page in document order. Empty when
	// no pages were rasterized.
	Pages []domain.AnnotatedPage
	// IncludeLayout adds per-page region lists to the artifact.
	IncludeLayout bool
}

// LayoutDocument is the metadata-json body when layout was requested.
type LayoutDocument struct {
	MarkerMetadata domain.DocumentMetadata `json:"marker_metadata"`
	SuryaLayout    []domain.PageLayout     `json:"surya_layout"`
}

// PageName is the bundle entry name of a page raster.
func PageName(pageNumber int) string {
	return fmt.Sprintf("page_%d.png", pageNumber)
}

// Packager builds artifacts. It holds no state.
type Packager struct{}

// New creates a packager.
func New() *Packager {
	return &Packager{}
}

// Package builds the artifact for in. Any failure yields a PackagingFailed
// error and no artifact.
func (p *Packager) Package(in Input) (*domain.Artifact, error) {
	if in.Document == nil {
		return nil, domain.PackagingError("nothing to package", fmt.Errorf("missing rendered document"))
	}

	switch in.Mode {
	case domain.OutputMetadataJSON:
		return p.packageJSON(in)
	case domain.OutputMarkdownBundle:
		return p.packageBundle(in)
	}
	return nil, domain.PackagingError("failed to build output", fmt.Errorf("unknown output mode %q", in.Mode))
}

func (p *Packager) packageJSON(in Input) (*domain.Artifact, error) {
	var body any = metadataOf(in.Document)
	if in.IncludeLayout {
		body = LayoutDocument{
			MarkerMetadata: metadataOf(in.Document),
			SuryaLayout:    Layouts(in.Pages),
		}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, domain.PackagingError("failed to encode metadata", err)
	}

	return &domain.Artifact{
		ContentType: ContentTypeJSON,
		Filename:    JSONFilename,
		Body:        data,
	}, nil
}

func (p *Packager) packageBundle(in Input) (*domain.Artifact, error) {
	meta, err := json.MarshalIndent(metadataOf(in.Document), "", "  ")
	if err != nil {
		return nil, domain.PackagingError("failed to encode metadata", err)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	if err := writeEntry(zw, MarkdownEntry, zip.Deflate, []byte(in.Document.Markdown)); err != nil {
		return nil, domain.PackagingError("failed to build bundle", err)
	}
	if err := writeEntry(zw, MetadataEntry, zip.Deflate, meta); err != nil {
		return nil, domain.PackagingError("failed to build bundle", err)
	}

	for _, page := range in.Pages {
		if page.PNG == nil {
			continue
		}
		// PNG data is already compressed.
		if err := writeEntry(zw, PageName(page.Number()), zip.Store, page.PNG); err != nil {
			return nil, domain.PackagingError("failed to build bundle", err)
		}
	}

	if in.IncludeLayout {
		layout, err := json.MarshalIndent(Layouts(in.Pages), "", "  ")
		if err != nil {
			return nil, domain.PackagingError("failed to encode layout", err)
		}
		if err := writeEntry(zw, LayoutEntry, zip.Deflate, layout); err != nil {
			return nil, domain.PackagingError("failed to build bundle", err)
		}
	}

	if err := zw.Close(); err != nil {
		return nil, domain.PackagingError("failed to build bundle", err)
	}

	return &domain.Artifact{
		ContentType: ContentTypeZip,
		Filename:    BundleFilename,
		Body:        buf.Bytes(),
	}, nil
}

// Layouts returns the per-page region lists in document order.
func Layouts(pages []domain.AnnotatedPage) []domain.PageLayout {
	out := make([]domain.PageLayout, len(pages))
	for i, page := range pages {
		out[i] = page.Layout()
	}
	return out
}

func metadataOf(doc *domain.RenderedDocument) domain.DocumentMetadata {
	if doc.Metadata == nil {
		return domain.DocumentMetadata{}
	}
	return doc.Metadata
}

func writeEntry(zw *zip.Writer, name string, method uint16, data []byte) error {
	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   method,
		Modified: entryTime,
	})
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}
