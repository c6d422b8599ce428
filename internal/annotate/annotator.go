package annotate

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"

	"github.com/spherical/doc-converter/internal/domain"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/vector"
)

// Options controls overlay appearance.
type Options struct {
	StrokeWidth float64
	Color       color.RGBA
	LabelOffset int // pixels above the first vertex
}

// DefaultOptions matches the reference overlays: red, 3px, label 10px up.
func DefaultOptions() Options {
	return Options{
		StrokeWidth: 3,
		Color:       color.RGBA{R: 0xff, A: 0xff},
		LabelOffset: 10,
	}
}

// Annotator draws region overlays. It is stateless and safe for concurrent use.
type Annotator struct {
	opts Options
	src  *image.Uniform
}

// New creates an annotator.
func New(opts Options) *Annotator {
	if opts.StrokeWidth <= 0 {
		opts.StrokeWidth = DefaultOptions().StrokeWidth
	}
	return &Annotator{opts: opts, src: image.NewUniform(opts.Color)}
}

// Overlay is the result of annotating one page.
type Overlay struct {
	Image *image.RGBA
	// Drawn holds the pixel-space polygons that made it onto the image, in
	// input order.
	Drawn   [][]domain.Point
	Skipped []error
}

// Annotate draws regions onto a copy of the page raster. The input image is
// never modified. A region that cannot be drawn is reported in Skipped and
// the remaining regions are still drawn.
func (a *Annotator) Annotate(page domain.PageImage, regions []domain.RegionDescriptor) (Overlay, error) {
	if page.Image == nil {
		return Overlay{}, fmt.Errorf("page %d has no image", page.Number())
	}

	bounds := page.Image.Bounds()
	dst := image.NewRGBA(bounds)
	draw.Draw(dst, bounds, page.Image, bounds.Min, draw.Src)

	out := Overlay{Image: dst}
	for i, region := range regions {
		pts, err := a.DrawRegion(dst, region, page.Zoom)
		if err != nil {
			out.Skipped = append(out.Skipped, domain.RegionSkippedError(domain.StageAnnotate,
				fmt.Sprintf("page %d region %d not drawn", page.Number(), i), err))
			continue
		}
		out.Drawn = append(out.Drawn, pts)
	}
	return out, nil
}

// DrawRegion strokes one closed polygon and its label onto dst and returns
// the scaled polygon that was drawn.
func (a *Annotator) DrawRegion(dst *image.RGBA, region domain.RegionDescriptor, zoom float64) (pts []domain.Point, err error) {
	defer func() {
		if r := recover(); r != nil {
			pts = nil
			err = fmt.Errorf("draw region: %v", r)
		}
	}()

	if err := ValidateRegion(region); err != nil {
		return nil, err
	}

	pts = ScalePolygon(region.Polygon, zoom)
	minX, minY, maxX, maxY := extent(pts)
	if maxX-minX < 1e-9 && maxY-minY < 1e-9 {
		return nil, ErrDegeneratePolygon
	}

	hw := a.opts.StrokeWidth / 2
	clip := image.Rect(
		int(math.Floor(minX-hw))-1, int(math.Floor(minY-hw))-1,
		int(math.Ceil(maxX+hw))+1, int(math.Ceil(maxY+hw))+1,
	).Intersect(dst.Bounds())
	if clip.Empty() {
		return nil, ErrOutsideImage
	}

	a.stroke(dst, clip, pts, hw)

	if label := region.DisplayLabel(); label != "" {
		a.label(dst, pts[0], label)
	}
	return pts, nil
}

// stroke rasterizes the closed outline as one quad per edge plus a square
// per vertex to fill the joins. All subpaths share one winding so overlaps
// saturate instead of cancelling.
func (a *Annotator) stroke(dst *image.RGBA, clip image.Rectangle, pts []domain.Point, hw float64) {
	z := vector.NewRasterizer(clip.Dx(), clip.Dy())
	ox, oy := float64(clip.Min.X), float64(clip.Min.Y)

	quad := func(p0, p1, p2, p3 domain.Point) {
		z.MoveTo(float32(p0.X-ox), float32(p0.Y-oy))
		z.LineTo(float32(p1.X-ox), float32(p1.Y-oy))
		z.LineTo(float32(p2.X-ox), float32(p2.Y-oy))
		z.LineTo(float32(p3.X-ox), float32(p3.Y-oy))
		z.ClosePath()
	}

	for i, p0 := range pts {
		p1 := pts[(i+1)%len(pts)]
		dx, dy := p1.X-p0.X, p1.Y-p0.Y
		length := math.Hypot(dx, dy)
		if length > 1e-9 {
			nx, ny := -dy/length*hw, dx/length*hw
			quad(
				domain.Point{X: p0.X + nx, Y: p0.Y + ny},
				domain.Point{X: p1.X + nx, Y: p1.Y + ny},
				domain.Point{X: p1.X - nx, Y: p1.Y - ny},
				domain.Point{X: p0.X - nx, Y: p0.Y - ny},
			)
		}
		quad(
			domain.Point{X: p0.X - hw, Y: p0.Y + hw},
			domain.Point{X: p0.X + hw, Y: p0.Y + hw},
			domain.Point{X: p0.X + hw, Y: p0.Y - hw},
			domain.Point{X: p0.X - hw, Y: p0.Y - hw},
		)
	}

	z.Draw(dst, clip, a.src, image.Point{})
}

func (a *Annotator) label(dst *image.RGBA, anchor domain.Point, text string) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  a.src,
		Face: basicfont.Face7x13,
		Dot:  fixed.P(int(anchor.X), int(anchor.Y)-a.opts.LabelOffset),
	}
	d.DrawString(text)
}

func extent(pts []domain.Point) (minX, minY, maxX, maxY float64) {
	minX, minY = math.Inf(1), math.Inf(1)
	maxX, maxY = math.Inf(-1), math.Inf(-1)
	for _, p := range pts {
		minX, maxX = math.Min(minX, p.X), math.Max(maxX, p.X)
		minY, maxY = math.Min(minY, p.Y), math.Max(maxY, p.Y)
	}
	return minX, minY, maxX, maxY
}

// EncodePNG encodes an annotated page.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.DefaultCompression}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
