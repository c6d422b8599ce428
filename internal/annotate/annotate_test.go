package annotate

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"testing"

	"github.com/spherical/doc-converter/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var red = color.RGBA{R: 0xff, A: 0xff}

func whitePage(w, h int, zoom float64) domain.PageImage {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)
	return domain.PageImage{Index: 0, Zoom: zoom, Image: img}
}

func square(size float64) []domain.Point {
	return []domain.Point{{X: 0, Y: 0}, {X: size, Y: 0}, {X: size, Y: size}, {X: 0, Y: size}}
}

func strPtr(s string) *string { return &s }

func TestScalePolygon(t *testing.T) {
	got := ScalePolygon(square(10), 2)
	assert.Equal(t, []domain.Point{{X: 0, Y: 0}, {X: 20, Y: 0}, {X: 20, Y: 20}, {X: 0, Y: 20}}, got)
}

func TestAnnotate_ScalesByZoom(t *testing.T) {
	a := New(DefaultOptions())
	page := whitePage(60, 60, 2)

	overlay, err := a.Annotate(page, []domain.RegionDescriptor{{Polygon: square(10)}})
	require.NoError(t, err)
	require.Empty(t, overlay.Skipped)
	require.Len(t, overlay.Drawn, 1)
	assert.Equal(t, []domain.Point{{X: 0, Y: 0}, {X: 20, Y: 0}, {X: 20, Y: 20}, {X: 0, Y: 20}}, overlay.Drawn[0])

	// Outline lies on the scaled edges, not the page-space ones.
	assert.Equal(t, red, overlay.Image.RGBAAt(20, 10))
	assert.Equal(t, red, overlay.Image.RGBAAt(10, 20))
	assert.Equal(t, red, overlay.Image.RGBAAt(0, 10))
	// Interior and exterior stay untouched.
	assert.Equal(t, color.RGBA{255, 255, 255, 255}, overlay.Image.RGBAAt(10, 10))
	assert.Equal(t, color.RGBA{255, 255, 255, 255}, overlay.Image.RGBAAt(40, 40))
}

func TestAnnotate_DoesNotMutateInput(t *testing.T) {
	a := New(DefaultOptions())
	page := whitePage(40, 40, 1)
	before := append([]uint8(nil), page.Image.Pix...)

	_, err := a.Annotate(page, []domain.RegionDescriptor{{Polygon: square(20), Label: "Text"}})
	require.NoError(t, err)

	assert.Equal(t, before, page.Image.Pix)
}

func TestAnnotate_SkipsBadRegionsAndKeepsOthers(t *testing.T) {
	a := New(DefaultOptions())
	page := whitePage(100, 100, 1)

	regions := []domain.RegionDescriptor{
		{Polygon: []domain.Point{{X: 5, Y: 5}}},                                // too few points
		{Polygon: []domain.Point{{X: 7, Y: 7}, {X: 7, Y: 7}, {X: 7, Y: 7}}},    // degenerate
		{Polygon: []domain.Point{{X: 0, Y: 0}, {X: math.NaN(), Y: 1}, {X: 2, Y: 2}}}, // non-numeric
		{Polygon: []domain.Point{{X: 500, Y: 500}, {X: 600, Y: 500}, {X: 600, Y: 600}}}, // off image
		{Polygon: square(50), Label: "Table", Position: strPtr("0")},
	}

	overlay, err := a.Annotate(page, regions)
	require.NoError(t, err)

	assert.Len(t, overlay.Skipped, 4)
	for _, e := range overlay.Skipped {
		assert.True(t, domain.IsType(e, domain.ErrorTypeRegionSkipped))
	}
	require.Len(t, overlay.Drawn, 1)
	assert.Equal(t, red, overlay.Image.RGBAAt(50, 25))
}

func TestAnnotate_NilImage(t *testing.T) {
	_, err := New(DefaultOptions()).Annotate(domain.PageImage{}, nil)
	assert.Error(t, err)
}

func TestSerialize_IndependentOfDrawing(t *testing.T) {
	// Degenerate polygons cannot be drawn but are still valid records.
	region := domain.RegionDescriptor{
		Polygon: []domain.Point{{X: 7, Y: 7}, {X: 7, Y: 7}, {X: 7, Y: 7}},
		Label:   "Figure",
		BBox:    &[4]float64{7, 7, 7, 7},
	}

	rec, err := Serialize(region)
	require.NoError(t, err)
	assert.Equal(t, "Figure", rec.Label)
	assert.Nil(t, rec.Position)

	_, drawErr := New(DefaultOptions()).DrawRegion(whitePage(20, 20, 1).Image, region, 1)
	assert.ErrorIs(t, drawErr, ErrDegeneratePolygon)
}

func TestSerialize_RejectsMalformed(t *testing.T) {
	_, err := Serialize(domain.RegionDescriptor{Polygon: []domain.Point{{X: 1, Y: 1}}})
	assert.ErrorIs(t, err, ErrTooFewPoints)

	_, err = Serialize(domain.RegionDescriptor{Polygon: square(1), BBox: &[4]float64{0, math.Inf(1), 0, 0}})
	assert.ErrorIs(t, err, ErrNonNumeric)
}

func TestSerialize_JSONShape(t *testing.T) {
	rec, err := Serialize(domain.RegionDescriptor{Polygon: square(1), Label: "Text", Position: strPtr("2")})
	require.NoError(t, err)

	data, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.JSONEq(t, `{"polygon":[[0,0],[1,0],[1,1],[0,1]],"label":"Text","position":"2","bbox":null}`, string(data))
}

func TestRegionsFromTOC(t *testing.T) {
	var meta domain.DocumentMetadata
	require.NoError(t, json.Unmarshal([]byte(`{
		"table_of_contents": [
			{"title": "Intro", "page_id": 0, "polygon": [[1,1],[5,1],[5,3],[1,3]]},
			{"title": "No polygon", "page_id": 0},
			{"title": "Other page", "page_id": 1, "polygon": [[1,1],[5,1],[5,3]]},
			{"title": "Short", "page_id": 0, "polygon": [[1,1]]},
			{"title": "Text coords", "page_id": 0, "polygon": [["a",1],[5,1],[5,3]]}
		]
	}`), &meta))

	regions, skipped := RegionsFromTOC(meta, 0)
	require.Len(t, regions, 1)
	assert.Equal(t, "Intro", regions[0].Label)
	assert.Equal(t, domain.Point{X: 5, Y: 3}, regions[0].Polygon[2])
	assert.Len(t, skipped, 2)

	regions, skipped = RegionsFromTOC(meta, 1)
	assert.Len(t, regions, 1)
	assert.Empty(t, skipped)

	regions, skipped = RegionsFromTOC(domain.DocumentMetadata{}, 0)
	assert.Empty(t, regions)
	assert.Empty(t, skipped)
}

func TestRegionsFromTOC_NativeSlices(t *testing.T) {
	meta := domain.DocumentMetadata{
		"table_of_contents": []map[string]any{
			{"page_id": 2, "polygon": [][]float64{{0, 0}, {4, 0}, {4, 4}}},
		},
	}
	regions, skipped := RegionsFromTOC(meta, 2)
	assert.Len(t, regions, 1)
	assert.Empty(t, skipped)
}

func TestEncodePNG(t *testing.T) {
	data, err := EncodePNG(whitePage(8, 8, 1).Image)
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 8, img.Bounds().Dx())
}
