// Package pipeline drives a single conversion request from validated bytes
// to a packaged artifact.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/spherical/doc-converter/internal/annotate"
	"github.com/spherical/doc-converter/internal/config"
	"github.com/spherical/doc-converter/internal/domain"
	"github.com/spherical/doc-converter/internal/observability"
	"github.com/spherical/doc-converter/internal/packager"
	"github.com/spherical/doc-converter/internal/pdf"
)

// Orchestrator runs conversions. The converter and detector are shared
// across requests and must not carry per-request state.
type Orchestrator struct {
	converter  domain.Converter
	detector   domain.LayoutDetector
	validator  *pdf.Validator
	rasterizer domain.Rasterizer
	annotator  *annotate.Annotator
	packager   *packager.Packager
	zoom       float64
	workers    int
	logger     *observability.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithDetector enables layout detection as the region source.
func WithDetector(d domain.LayoutDetector) Option {
	return func(o *Orchestrator) { o.detector = d }
}

// WithValidator replaces the default input validator.
func WithValidator(v *pdf.Validator) Option {
	return func(o *Orchestrator) { o.validator = v }
}

// WithRasterizer replaces the go-fitz rasterizer.
func WithRasterizer(r domain.Rasterizer) Option {
	return func(o *Orchestrator) { o.rasterizer = r }
}

// WithAnnotator replaces the default overlay style.
func WithAnnotator(a *annotate.Annotator) Option {
	return func(o *Orchestrator) { o.annotator = a }
}

// WithZoom sets the rasterization zoom factor.
func WithZoom(z float64) Option {
	return func(o *Orchestrator) {
		if z > 0 {
			o.zoom = z
		}
	}
}

// WithPageWorkers bounds how many pages are processed at once.
func WithPageWorkers(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *observability.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// New creates an orchestrator around converter.
func New(converter domain.Converter, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		converter:  converter,
		validator:  pdf.NewValidator(config.DefaultMaxUploadBytes, true),
		rasterizer: pdf.NewRasterizer(),
		annotator:  annotate.New(annotate.DefaultOptions()),
		packager:   packager.New(),
		zoom:       2,
		workers:    4,
		logger:     observability.DefaultLogger().WithOperation("pipeline"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// NewFromConfig builds an orchestrator from service configuration.
func NewFromConfig(cfg *config.Config, converter domain.Converter, detector domain.LayoutDetector, logger *observability.Logger) (*Orchestrator, error) {
	stroke, err := config.ParseColor(cfg.Annotation.Color)
	if err != nil {
		return nil, domain.ConfigError("invalid annotation color", err)
	}

	opts := []Option{
		WithValidator(pdf.NewValidator(cfg.Conversion.MaxUploadBytes, cfg.Conversion.StructureCheck)),
		WithAnnotator(annotate.New(annotate.Options{
			StrokeWidth: cfg.Annotation.StrokeWidth,
			Color:       stroke,
			LabelOffset: cfg.Annotation.LabelOffset,
		})),
		WithZoom(cfg.Conversion.Zoom),
		WithPageWorkers(cfg.Conversion.PageWorkers),
		WithLogger(logger),
	}
	if detector != nil {
		opts = append(opts, WithDetector(detector))
	}
	return New(converter, opts...), nil
}

// HasDetector reports whether a layout detector is configured.
func (o *Orchestrator) HasDetector() bool {
	return o.detector != nil
}

// MaxUploadBytes is the largest accepted payload.
func (o *Orchestrator) MaxUploadBytes() int64 {
	return o.validator.MaxBytes()
}

// Convert runs one request to completion.
func (o *Orchestrator) Convert(ctx context.Context, req domain.ConversionRequest) (*domain.Artifact, error) {
	return o.ConvertWithEvents(ctx, req, nil)
}

// ConvertWithEvents runs one request and reports progress on eventCh. Sends
// never block; events are dropped when the channel is full.
func (o *Orchestrator) ConvertWithEvents(ctx context.Context, req domain.ConversionRequest, eventCh chan<- domain.StreamEvent) (*domain.Artifact, error) {
	startTime := time.Now()
	log := o.logger.WithRequest(req.RequestID, req.Filename)

	o.emitEvent(eventCh, domain.StreamEvent{
		Type:      domain.EventStart,
		Payload:   fmt.Sprintf("Starting conversion of %s", displayName(req.Filename)),
		Timestamp: time.Now(),
	})

	artifact, err := o.run(ctx, req, log, eventCh)
	if err != nil {
		err = withFile(err, req.Filename)
		log.Error().Err(err).Str("error_type", string(domain.TypeOf(err))).Dur("duration", time.Since(startTime)).Msg("Conversion failed")
		o.emitError(eventCh, err)
		return nil, err
	}

	log.Info().
		Int("pages", artifact.Report.Pages).
		Ints("failed_pages", artifact.Report.FailedPages).
		Int("skipped_regions", artifact.Report.SkippedRegions).
		Int("bytes", len(artifact.Body)).
		Dur("duration", time.Since(startTime)).
		Msg("Conversion complete")

	o.emitEvent(eventCh, domain.StreamEvent{
		Type:       domain.EventComplete,
		TotalPages: artifact.Report.Pages,
		Payload: fmt.Sprintf("Conversion complete: %d/%d pages rendered in %v",
			artifact.Report.Pages-len(artifact.Report.FailedPages), artifact.Report.Pages, time.Since(startTime).Round(time.Millisecond)),
		Timestamp: time.Now(),
	})
	return artifact, nil
}

func (o *Orchestrator) run(ctx context.Context, req domain.ConversionRequest, log *observability.Logger, eventCh chan<- domain.StreamEvent) (*domain.Artifact, error) {
	mode, err := domain.ParseOutputMode(string(req.Mode))
	if err != nil {
		return nil, err
	}

	// Everything below the size and format checks touches an engine.
	if err := o.validator.ValidateSize(int64(len(req.Data))); err != nil {
		return nil, err
	}
	if _, err := o.validator.ValidatePDF(req.Data); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, domain.CanceledError(domain.StageConvert, err)
	}

	log.Debug().Int("bytes", len(req.Data)).Str("mode", string(mode)).Bool("layout", req.Layout).Msg("Converting document")
	rendered, err := o.converter.Convert(ctx, req.Data)
	if err != nil {
		return nil, classifyConvert(ctx, err)
	}
	if rendered == nil {
		return nil, domain.ConversionError(domain.StageConvert, "document conversion failed", errors.New("converter returned no document"))
	}

	o.emitEvent(eventCh, domain.StreamEvent{
		Type:      domain.EventConverted,
		Payload:   fmt.Sprintf("Rendered %d bytes of markdown", len(rendered.Markdown)),
		Timestamp: time.Now(),
	})

	if mode == domain.OutputMetadataJSON && !req.Layout {
		return o.packager.Package(packager.Input{Mode: mode, Document: rendered})
	}

	useDetector := req.Layout && o.detector != nil
	pages, report, err := o.processPages(ctx, req, rendered, pageJob{
		useDetector: useDetector,
		draw:        mode == domain.OutputMarkdownBundle,
	}, log, eventCh)
	if err != nil {
		return nil, err
	}

	// The bundle only carries layout.json for detector regions. The JSON
	// shape follows the request.
	includeLayout := req.Layout
	if mode == domain.OutputMarkdownBundle {
		includeLayout = useDetector
	}

	artifact, err := o.packager.Package(packager.Input{
		Mode:          mode,
		Document:      rendered,
		Pages:         pages,
		IncludeLayout: includeLayout,
	})
	if err != nil {
		return nil, err
	}
	artifact.Report = report
	artifact.Report.LayoutUsed = useDetector
	return artifact, nil
}

type pageJob struct {
	useDetector bool
	draw        bool
}

// processPages rasterizes and annotates every page. Page-scoped failures are
// recorded on the page and never abort the others. Only cancellation stops
// the loop early.
func (o *Orchestrator) processPages(ctx context.Context, req domain.ConversionRequest, rendered *domain.RenderedDocument, job pageJob, log *observability.Logger, eventCh chan<- domain.StreamEvent) ([]domain.AnnotatedPage, domain.Report, error) {
	doc, err := o.rasterizer.Open(req.Data)
	if err != nil {
		if domain.TypeOf(err) == "" {
			err = domain.ConversionError(domain.StageRasterize, "failed to open PDF for rendering", err)
		}
		return nil, domain.Report{}, err
	}
	defer doc.Close()

	total := doc.NumPages()
	pages := make([]domain.AnnotatedPage, total)
	log.Debug().Int("pages", total).Float64("zoom", o.zoom).Int("workers", o.workers).Msg("Processing pages")

	var mu sync.Mutex
	var failed []int
	skipped := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)

	for i := 0; i < total; i++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			o.emitEvent(eventCh, domain.StreamEvent{
				Type:       domain.EventPageProcessing,
				PageNumber: i + 1,
				TotalPages: total,
				Payload:    fmt.Sprintf("Processing page %d", i+1),
				Timestamp:  time.Now(),
			})

			page := o.processPage(gctx, doc, i, rendered, job, log, eventCh)
			if page.Err != nil && isCanceled(gctx, page.Err) {
				return page.Err
			}

			pages[i] = page
			mu.Lock()
			skipped += page.Skipped
			if page.Err != nil {
				failed = append(failed, page.Number())
			}
			mu.Unlock()

			o.emitEvent(eventCh, domain.StreamEvent{
				Type:       domain.EventPageComplete,
				PageNumber: page.Number(),
				TotalPages: total,
				Payload:    fmt.Sprintf("Completed page %d", page.Number()),
				Timestamp:  time.Now(),
			})
			return nil
		})
	}

	if err := g.Wait(); err != nil || ctx.Err() != nil {
		if err == nil {
			err = ctx.Err()
		}
		return nil, domain.Report{}, domain.CanceledError(domain.StageRasterize, err)
	}

	sort.Ints(failed)
	return pages, domain.Report{
		Pages:          total,
		FailedPages:    failed,
		SkippedRegions: skipped,
	}, nil
}

// processPage renders one page, sources its regions, serializes them and
// draws the overlay. Region problems are counted and the page carries on.
func (o *Orchestrator) processPage(ctx context.Context, doc domain.RasterDocument, index int, rendered *domain.RenderedDocument, job pageJob, log *observability.Logger, eventCh chan<- domain.StreamEvent) domain.AnnotatedPage {
	result := domain.AnnotatedPage{Index: index}

	raster, err := doc.Render(ctx, index, o.zoom)
	if err != nil {
		log.Warn().Err(err).Int("page", index+1).Msg("Page rasterization failed")
		result.Err = domain.ConversionError(domain.StageRasterize, fmt.Sprintf("page %d could not be rendered", index+1), err)
		return result
	}

	regions, problems := o.sourceRegions(ctx, raster, rendered, job.useDetector)
	if ctx.Err() != nil {
		result.Err = ctx.Err()
		return result
	}

	// Serialization and drawing fail independently. Only regions that
	// serialize are offered to the annotator.
	drawable := make([]domain.RegionDescriptor, 0, len(regions))
	for i, region := range regions {
		rec, err := annotate.Serialize(region)
		if err != nil {
			problems = append(problems, domain.RegionSkippedError(domain.StageAnnotate,
				fmt.Sprintf("page %d region %d is malformed", index+1, i), err))
			continue
		}
		result.Regions = append(result.Regions, rec)
		drawable = append(drawable, region)
	}

	if job.draw {
		overlay, err := o.annotator.Annotate(raster, drawable)
		if err != nil {
			result.Err = domain.ConversionError(domain.StageAnnotate, fmt.Sprintf("page %d could not be annotated", index+1), err)
		} else {
			problems = append(problems, overlay.Skipped...)
			png, err := annotate.EncodePNG(overlay.Image)
			if err != nil {
				result.Err = domain.ConversionError(domain.StageAnnotate, fmt.Sprintf("page %d could not be encoded", index+1), err)
			} else {
				result.PNG = png
			}
		}
	}

	for _, p := range problems {
		log.Warn().Err(p).Int("page", index+1).Msg("Region skipped")
		o.emitEvent(eventCh, domain.StreamEvent{
			Type:       domain.EventRegionSkipped,
			PageNumber: index + 1,
			Payload:    domain.PublicMessage(p),
			Timestamp:  time.Now(),
		})
	}
	result.Skipped = len(problems)
	return result
}

// sourceRegions picks exactly one region source for the page: the detector
// when it is in use, otherwise the converter's table of contents.
func (o *Orchestrator) sourceRegions(ctx context.Context, page domain.PageImage, rendered *domain.RenderedDocument, useDetector bool) ([]domain.RegionDescriptor, []error) {
	if o.detector == nil || !useDetector {
		return annotate.RegionsFromTOC(rendered.Metadata, page.Index)
	}

	regions, err := o.detector.Detect(ctx, page)
	if err != nil {
		return nil, []error{domain.RegionSkippedError(domain.StageDetect,
			fmt.Sprintf("layout detection failed for page %d", page.Number()), err)}
	}
	return regions, nil
}

// emitEvent safely emits an event to the channel
func (o *Orchestrator) emitEvent(eventCh chan<- domain.StreamEvent, event domain.StreamEvent) {
	if eventCh != nil {
		select {
		case eventCh <- event:
		default:
			o.logger.Warn().Str("event", string(event.Type)).Msg("Event channel full, dropping event")
		}
	}
}

// emitError emits an error event
func (o *Orchestrator) emitError(eventCh chan<- domain.StreamEvent, err error) {
	o.emitEvent(eventCh, domain.StreamEvent{
		Type:      domain.EventError,
		Payload:   domain.PublicMessage(err),
		Timestamp: time.Now(),
	})
}

func classifyConvert(ctx context.Context, err error) error {
	if domain.TypeOf(err) != "" {
		return err
	}
	if isCanceled(ctx, err) {
		return domain.CanceledError(domain.StageConvert, err)
	}
	return domain.ConversionError(domain.StageConvert, "document conversion failed", err)
}

func isCanceled(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func withFile(err error, file string) error {
	var de *domain.DomainError
	if file != "" && errors.As(err, &de) {
		return de.WithFile(file)
	}
	return err
}

func displayName(file string) string {
	if file == "" {
		return "upload"
	}
	return file
}
