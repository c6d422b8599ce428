package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image/png"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/spherical/doc-converter/internal/domain"
)

const suryaLayoutPath = "/layout"

// SuryaClient detects layout regions through a surya inference server.
// The server works on the page raster, so returned polygons are in pixel
// space and are mapped back to page space before being handed out.
type SuryaClient struct {
	baseURL    string
	httpClient *http.Client
}

type suryaResponse struct {
	Bboxes []suryaBox `json:"bboxes"`
}

type suryaBox struct {
	Polygon  []json.RawMessage `json:"polygon"`
	Label    string            `json:"label"`
	Position json.RawMessage   `json:"position"`
	BBox     json.RawMessage   `json:"bbox"`
}

// NewSuryaClient creates a layout detector for the server at baseURL.
func NewSuryaClient(baseURL string, timeout time.Duration) *SuryaClient {
	return &SuryaClient{
		baseURL:    baseURL,
		httpClient: newHTTPClient(timeout),
	}
}

// Detect returns the regions found on page, in page-space coordinates.
// Points the server sends in an unexpected shape are kept as non-finite
// vertices so the region fails validation downstream and is counted as
// skipped instead of silently changing shape.
func (c *SuryaClient) Detect(ctx context.Context, page domain.PageImage) ([]domain.RegionDescriptor, error) {
	if page.Image == nil {
		return nil, domain.ConversionError(domain.StageDetect, "layout detection failed",
			fmt.Errorf("page %d has no image", page.Number()))
	}

	var img bytes.Buffer
	if err := png.Encode(&img, page.Image); err != nil {
		return nil, domain.ConversionError(domain.StageDetect, "layout detection failed",
			fmt.Errorf("encode page %d: %w", page.Number(), err))
	}

	filename := fmt.Sprintf("page_%d.png", page.Number())
	resp, err := uploadFile(ctx, c.httpClient, joinURL(c.baseURL, suryaLayoutPath), filename, "image/png", img.Bytes())
	if err != nil {
		return nil, classify(ctx, domain.StageDetect, "layout detection failed", err)
	}
	defer resp.Body.Close()

	var out suryaResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, classify(ctx, domain.StageDetect, "layout detection failed",
			fmt.Errorf("decode layout response: %w", err))
	}

	zoom := page.Zoom
	if zoom <= 0 {
		zoom = 1
	}

	regions := make([]domain.RegionDescriptor, 0, len(out.Bboxes))
	for _, box := range out.Bboxes {
		regions = append(regions, box.toRegion(zoom))
	}
	return regions, nil
}

func (b suryaBox) toRegion(zoom float64) domain.RegionDescriptor {
	region := domain.RegionDescriptor{
		Polygon:  make([]domain.Point, len(b.Polygon)),
		Label:    b.Label,
		Position: rawPosition(b.Position),
	}

	for i, raw := range b.Polygon {
		var xy []float64
		if err := json.Unmarshal(raw, &xy); err != nil || len(xy) != 2 {
			region.Polygon[i] = domain.Point{X: math.NaN(), Y: math.NaN()}
			continue
		}
		region.Polygon[i] = domain.Point{X: xy[0] / zoom, Y: xy[1] / zoom}
	}

	var bbox []float64
	if err := json.Unmarshal(b.BBox, &bbox); err == nil && len(bbox) == 4 {
		region.BBox = &[4]float64{bbox[0] / zoom, bbox[1] / zoom, bbox[2] / zoom, bbox[3] / zoom}
	}
	return region
}

// rawPosition accepts the reading-order position as a string or a number.
func rawPosition(raw json.RawMessage) *string {
	v := strings.TrimSpace(string(raw))
	if v == "" || v == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return &s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		s = n.String()
		return &s
	}
	return nil
}
