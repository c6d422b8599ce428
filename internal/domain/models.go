package domain

import (
	"image"
	"strings"
	"time"
)

// OutputMode selects the shape of the conversion artifact.
type OutputMode string

const (
	OutputMarkdownBundle OutputMode = "markdown-bundle"
	OutputMetadataJSON   OutputMode = "metadata-json"
)

// Legacy aliases accepted from older frontends.
var outputAliases = map[string]OutputMode{
	"markdown": OutputMarkdownBundle,
	"json":     OutputMetadataJSON,
}

// ParseOutputMode validates an output selector. An empty value selects the
// markdown bundle.
func ParseOutputMode(s string) (OutputMode, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	switch OutputMode(v) {
	case "":
		return OutputMarkdownBundle, nil
	case OutputMarkdownBundle, OutputMetadataJSON:
		return OutputMode(v), nil
	}
	if m, ok := outputAliases[v]; ok {
		return m, nil
	}
	return "", ValidationError("unrecognized output mode "+quote(s)+
		" (expected markdown-bundle or metadata-json)", nil)
}

func quote(s string) string {
	return "\"" + s + "\""
}

// ConversionRequest is a single inbound conversion. It is never modified
// after construction.
type ConversionRequest struct {
	Data      []byte
	Mode      OutputMode
	Filename  string
	Layout    bool // request layout annotation when a detector is configured
	RequestID string
}

// DocumentMetadata is the converter's metadata, passed through untouched.
type DocumentMetadata map[string]any

// TableOfContentsKey is the metadata entry whose polygons can be drawn
// without a layout detector.
const TableOfContentsKey = "table_of_contents"

// RenderedDocument is the converter output for a whole document.
type RenderedDocument struct {
	Markdown string
	Metadata DocumentMetadata
}

// PageImage is one rasterized page.
type PageImage struct {
	Index int // 0-based position in the source document
	Zoom  float64
	Image *image.RGBA
}

// Number returns the 1-based page number used in artifact naming.
func (p PageImage) Number() int {
	return p.Index + 1
}

// Point is a polygon vertex.
type Point struct {
	X float64
	Y float64
}

// RegionDescriptor is one detected region. Polygon coordinates are in page
// space (zoom 1); consumers scale them by the raster's zoom.
type RegionDescriptor struct {
	Polygon  []Point
	Label    string
	Position *string
	BBox     *[4]float64
}

// DisplayLabel is the text drawn next to the region.
func (r RegionDescriptor) DisplayLabel() string {
	if r.Position != nil && *r.Position != "" {
		return r.Label + "-" + *r.Position
	}
	return r.Label
}

// RegionRecord is the JSON form of a region.
type RegionRecord struct {
	Polygon  [][2]float64 `json:"polygon"`
	Label    string       `json:"label"`
	Position *string      `json:"position"`
	BBox     *[4]float64  `json:"bbox"`
}

// PageLayout is the serialized region list for one page.
type PageLayout struct {
	PageNumber int            `json:"page_number"`
	Bboxes     []RegionRecord `json:"bboxes"`
}

// AnnotatedPage is the per-page result handed to the packager.
type AnnotatedPage struct {
	Index   int
	PNG     []byte // nil when the page could not be rasterized or encoded
	Regions []RegionRecord
	Skipped int
	Err     error
}

// Number returns the 1-based page number.
func (p AnnotatedPage) Number() int {
	return p.Index + 1
}

// Layout returns the page's serialized region list.
func (p AnnotatedPage) Layout() PageLayout {
	bboxes := p.Regions
	if bboxes == nil {
		bboxes = []RegionRecord{}
	}
	return PageLayout{PageNumber: p.Number(), Bboxes: bboxes}
}

// Report summarizes recoverable problems seen while producing an artifact.
type Report struct {
	Pages          int
	FailedPages    []int // 1-based
	SkippedRegions int
	LayoutUsed     bool
}

// Artifact is the in-memory conversion result.
type Artifact struct {
	ContentType string
	Filename    string
	Body        []byte
	Report      Report
}

// EventType represents the type of stream event
type EventType string

const (
	EventStart          EventType = "start"
	EventConverted      EventType = "converted"
	EventPageProcessing EventType = "page_processing"
	EventRegionSkipped  EventType = "region_skipped"
	EventPageComplete   EventType = "page_complete"
	EventError          EventType = "error"
	EventComplete       EventType = "complete"
)

// StreamEvent represents an event emitted during processing
type StreamEvent struct {
	Type       EventType   `json:"type"`
	PageNumber int         `json:"page_number,omitempty"`
	TotalPages int         `json:"total_pages,omitempty"`
	Payload    interface{} `json:"payload,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
}
