package packager

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"io"
	"math"
	"testing"

	"github.com/spherical/doc-converter/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDoc() *domain.RenderedDocument {
	return &domain.RenderedDocument{
		Markdown: "# Report\n\nHello",
		Metadata: domain.DocumentMetadata{
			"languages": []any{"en"},
			"table_of_contents": []any{
				map[string]any{"title": "Report", "page_id": float64(0)},
			},
			"nested": map[string]any{"count": float64(3)},
		},
	}
}

func readZip(t *testing.T, body []byte) map[string][]byte {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	require.NoError(t, err)

	out := map[string][]byte{}
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()
		out[f.Name] = data
	}
	return out
}

func pages(n int) []domain.AnnotatedPage {
	out := make([]domain.AnnotatedPage, n)
	for i := range out {
		out[i] = domain.AnnotatedPage{Index: i, PNG: []byte{0x89, 'P', 'N', 'G', byte(i)}}
	}
	return out
}

func TestPackage_MetadataJSON(t *testing.T) {
	doc := sampleDoc()
	art, err := New().Package(Input{Mode: domain.OutputMetadataJSON, Document: doc})
	require.NoError(t, err)

	assert.Equal(t, ContentTypeJSON, art.ContentType)
	assert.Equal(t, JSONFilename, art.Filename)

	var got map[string]any
	require.NoError(t, json.Unmarshal(art.Body, &got))
	assert.Equal(t, map[string]any(doc.Metadata), got)
}

func TestPackage_MetadataJSONWithLayout(t *testing.T) {
	pos := "0"
	in := Input{
		Mode:          domain.OutputMetadataJSON,
		Document:      sampleDoc(),
		IncludeLayout: true,
		Pages: []domain.AnnotatedPage{
			{Index: 0, Regions: []domain.RegionRecord{{Polygon: [][2]float64{{0, 0}, {1, 0}, {1, 1}}, Label: "Text", Position: &pos}}},
			{Index: 1},
		},
	}
	art, err := New().Package(in)
	require.NoError(t, err)

	var got struct {
		MarkerMetadata map[string]any `json:"marker_metadata"`
		SuryaLayout    []struct {
			PageNumber int              `json:"page_number"`
			Bboxes     []map[string]any `json:"bboxes"`
		} `json:"surya_layout"`
	}
	require.NoError(t, json.Unmarshal(art.Body, &got))

	assert.Equal(t, map[string]any(in.Document.Metadata), got.MarkerMetadata)
	require.Len(t, got.SuryaLayout, 2)
	assert.Equal(t, 1, got.SuryaLayout[0].PageNumber)
	assert.Equal(t, "Text", got.SuryaLayout[0].Bboxes[0]["label"])
	assert.Equal(t, 2, got.SuryaLayout[1].PageNumber)
	assert.NotNil(t, got.SuryaLayout[1].Bboxes)
	assert.Empty(t, got.SuryaLayout[1].Bboxes)
}

func TestPackage_Bundle(t *testing.T) {
	doc := sampleDoc()
	art, err := New().Package(Input{Mode: domain.OutputMarkdownBundle, Document: doc, Pages: pages(3)})
	require.NoError(t, err)

	assert.Equal(t, ContentTypeZip, art.ContentType)
	assert.Equal(t, BundleFilename, art.Filename)

	entries := readZip(t, art.Body)
	assert.Equal(t, doc.Markdown, string(entries[MarkdownEntry]))
	assert.Contains(t, entries, "page_1.png")
	assert.Contains(t, entries, "page_2.png")
	assert.Contains(t, entries, "page_3.png")
	assert.NotContains(t, entries, LayoutEntry)
	assert.Len(t, entries, 5)

	// Metadata is indented and round-trips.
	assert.Contains(t, string(entries[MetadataEntry]), "\n  \"")
	var meta map[string]any
	require.NoError(t, json.Unmarshal(entries[MetadataEntry], &meta))
	assert.Equal(t, map[string]any(doc.Metadata), meta)
}

func TestPackage_BundleSkipsFailedPages(t *testing.T) {
	ps := pages(3)
	ps[1].PNG = nil
	ps[1].Err = assert.AnError

	art, err := New().Package(Input{Mode: domain.OutputMarkdownBundle, Document: sampleDoc(), Pages: ps, IncludeLayout: true})
	require.NoError(t, err)

	entries := readZip(t, art.Body)
	assert.Contains(t, entries, "page_1.png")
	assert.NotContains(t, entries, "page_2.png")
	assert.Contains(t, entries, "page_3.png")

	var layout []domain.PageLayout
	require.NoError(t, json.Unmarshal(entries[LayoutEntry], &layout))
	assert.Len(t, layout, 3)
}

func TestPackage_BundleIsDeterministic(t *testing.T) {
	in := Input{Mode: domain.OutputMarkdownBundle, Document: sampleDoc(), Pages: pages(2)}
	a, err := New().Package(in)
	require.NoError(t, err)
	b, err := New().Package(in)
	require.NoError(t, err)
	assert.Equal(t, a.Body, b.Body)
}

func TestPackage_Failures(t *testing.T) {
	_, err := New().Package(Input{Mode: domain.OutputMarkdownBundle})
	assert.True(t, domain.IsType(err, domain.ErrorTypePackagingFailed))

	_, err = New().Package(Input{Mode: "tarball", Document: sampleDoc()})
	assert.True(t, domain.IsType(err, domain.ErrorTypePackagingFailed))

	bad := &domain.RenderedDocument{Metadata: domain.DocumentMetadata{"x": math.Inf(1)}}
	art, err := New().Package(Input{Mode: domain.OutputMarkdownBundle, Document: bad})
	assert.Nil(t, art)
	assert.True(t, domain.IsType(err, domain.ErrorTypePackagingFailed))
}

func TestPageName(t *testing.T) {
	assert.Equal(t, "page_7.png", PageName(7))
}
