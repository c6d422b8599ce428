// Package annotate turns region descriptors into page overlays and JSON
// region records. Drawing and serialization are separate, independently
// fallible steps.
package annotate

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/spherical/doc-converter/internal/domain"
)

// MinPolygonPoints is the smallest vertex count of a drawable region.
const MinPolygonPoints = 3

var (
	ErrTooFewPoints      = errors.New("polygon has fewer than 3 points")
	ErrNonNumeric        = errors.New("polygon coordinate is not a finite number")
	ErrMalformedPoint    = errors.New("polygon point is not an (x, y) pair")
	ErrDegeneratePolygon = errors.New("polygon has no extent")
	ErrOutsideImage      = errors.New("polygon lies outside the image")
)

// ScalePolygon maps page-space coordinates onto a raster produced at zoom.
// Every consumer of raw polygons goes through here.
func ScalePolygon(poly []domain.Point, zoom float64) []domain.Point {
	out := make([]domain.Point, len(poly))
	for i, p := range poly {
		out[i] = domain.Point{X: p.X * zoom, Y: p.Y * zoom}
	}
	return out
}

// ValidateRegion checks the invariants shared by drawing and serialization.
func ValidateRegion(r domain.RegionDescriptor) error {
	if len(r.Polygon) < MinPolygonPoints {
		return fmt.Errorf("%w (got %d)", ErrTooFewPoints, len(r.Polygon))
	}
	for _, p := range r.Polygon {
		if !finite(p.X) || !finite(p.Y) {
			return ErrNonNumeric
		}
	}
	if r.BBox != nil {
		for _, v := range r.BBox {
			if !finite(v) {
				return fmt.Errorf("bbox: %w", ErrNonNumeric)
			}
		}
	}
	return nil
}

// Serialize builds the JSON record for a region. It does not depend on the
// overlay having been drawn.
func Serialize(r domain.RegionDescriptor) (domain.RegionRecord, error) {
	if err := ValidateRegion(r); err != nil {
		return domain.RegionRecord{}, err
	}

	poly := make([][2]float64, len(r.Polygon))
	for i, p := range r.Polygon {
		poly[i] = [2]float64{p.X, p.Y}
	}

	rec := domain.RegionRecord{
		Polygon: poly,
		Label:   r.Label,
	}
	if r.Position != nil {
		pos := *r.Position
		rec.Position = &pos
	}
	if r.BBox != nil {
		bbox := *r.BBox
		rec.BBox = &bbox
	}
	return rec, nil
}

// RegionsFromTOC returns the table-of-contents regions placed on pageIndex.
// Entries without a polygon are not regions and are ignored; entries whose
// polygon is malformed are reported as skipped.
func RegionsFromTOC(meta domain.DocumentMetadata, pageIndex int) ([]domain.RegionDescriptor, []error) {
	items := tocItems(meta[domain.TableOfContentsKey])

	var (
		regions []domain.RegionDescriptor
		skipped []error
	)
	for i, item := range items {
		pageID, ok := toNumber(item["page_id"])
		if !ok || int(pageID) != pageIndex || pageID != math.Trunc(pageID) {
			continue
		}
		raw, ok := item["polygon"]
		if !ok {
			continue
		}

		poly, err := ParsePolygon(raw)
		if err != nil {
			skipped = append(skipped, domain.RegionSkippedError(domain.StageAnnotate,
				fmt.Sprintf("table_of_contents[%d] skipped", i), err))
			continue
		}

		region := domain.RegionDescriptor{Polygon: poly}
		if title, ok := item["title"].(string); ok {
			region.Label = title
		}
		if err := ValidateRegion(region); err != nil {
			skipped = append(skipped, domain.RegionSkippedError(domain.StageAnnotate,
				fmt.Sprintf("table_of_contents[%d] skipped", i), err))
			continue
		}
		regions = append(regions, region)
	}
	return regions, skipped
}

func tocItems(v any) []map[string]any {
	switch items := v.(type) {
	case []map[string]any:
		return items
	case []any:
		out := make([]map[string]any, 0, len(items))
		for _, it := range items {
			if m, ok := it.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

// ParsePolygon reads a polygon from decoded JSON or native Go slices.
func ParsePolygon(v any) ([]domain.Point, error) {
	switch poly := v.(type) {
	case []domain.Point:
		return append([]domain.Point(nil), poly...), nil
	case [][2]float64:
		out := make([]domain.Point, len(poly))
		for i, p := range poly {
			out[i] = domain.Point{X: p[0], Y: p[1]}
		}
		return out, nil
	case [][]float64:
		out := make([]domain.Point, len(poly))
		for i, p := range poly {
			if len(p) != 2 {
				return nil, ErrMalformedPoint
			}
			out[i] = domain.Point{X: p[0], Y: p[1]}
		}
		return out, nil
	case []any:
		out := make([]domain.Point, len(poly))
		for i, raw := range poly {
			pt, err := parsePoint(raw)
			if err != nil {
				return nil, err
			}
			out[i] = pt
		}
		return out, nil
	}
	return nil, ErrMalformedPoint
}

func parsePoint(v any) (domain.Point, error) {
	var pair []any
	switch p := v.(type) {
	case []any:
		pair = p
	case []float64:
		pair = []any{}
		for _, f := range p {
			pair = append(pair, f)
		}
	default:
		return domain.Point{}, ErrMalformedPoint
	}
	if len(pair) != 2 {
		return domain.Point{}, ErrMalformedPoint
	}
	x, okX := toNumber(pair[0])
	y, okY := toNumber(pair[1])
	if !okX || !okY {
		return domain.Point{}, ErrNonNumeric
	}
	return domain.Point{X: x, Y: y}, nil
}

func toNumber(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	return f, finite(f)
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
