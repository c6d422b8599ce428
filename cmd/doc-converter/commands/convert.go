package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/spherical/doc-converter/cmd/doc-converter/ui"
	"github.com/spherical/doc-converter/internal/config"
	"github.com/spherical/doc-converter/internal/domain"
	"github.com/spherical/doc-converter/internal/engine"
	"github.com/spherical/doc-converter/internal/observability"
	pdfdoc "github.com/spherical/doc-converter/internal/pdf"
	"github.com/spherical/doc-converter/internal/pipeline"
)

type convertOptions struct {
	input      string
	output     string
	mode       string
	engine     string
	layout     bool
	layoutSet  bool
	configPath string
	verbose    bool
	noColor    bool
}

func newConvertCmd() *cobra.Command {
	opts := &convertOptions{}

	cmd := &cobra.Command{
		Use:   "convert <pdf-file>",
		Short: "Convert a PDF into a markdown bundle or metadata JSON",
		Example: `  doc-converter convert brochure.pdf
  doc-converter convert --output-mode metadata-json --layout brochure.pdf
  doc-converter convert --engine local -o out.zip brochure.pdf`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.input = args[0]
			opts.configPath = cfgFile
			opts.verbose = verbose
			opts.noColor = noColor
			opts.layoutSet = cmd.Flags().Changed("layout")

			parent := cmd.Context()
			if parent == nil {
				parent = context.Background()
			}
			ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runConvert(ctx, opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVarP(&opts.mode, "output-mode", "m", string(domain.OutputMarkdownBundle), "output mode: markdown-bundle or metadata-json")
	cmd.Flags().StringVarP(&opts.output, "out", "o", "", "output file path (default: <input-name>.zip or .json)")
	cmd.Flags().BoolVar(&opts.layout, "layout", false, "annotate pages with detected layout regions")
	cmd.Flags().StringVar(&opts.engine, "engine", "", "converter engine override: marker or local")

	return cmd
}

func runConvert(ctx context.Context, opts *convertOptions, out, errOut io.Writer) error {
	term := ui.New(out, errOut, opts.noColor)

	mode, err := domain.ParseOutputMode(opts.mode)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(opts.input)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.engine != "" {
		cfg.Converter.Engine = opts.engine
	}
	if opts.layoutSet && opts.layout {
		cfg.Layout.Enabled = true
	}

	level := "warn"
	if opts.verbose {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:       level,
		Format:      "console",
		Output:      errOut,
		ServiceName: cfg.Observability.ServiceName,
	})

	engines, err := engine.New(cfg)
	if err != nil {
		return err
	}
	orchestrator, err := pipeline.NewFromConfig(cfg, engines.Converter, engines.Detector, logger)
	if err != nil {
		return err
	}

	layout := engines.Detector != nil
	if opts.layoutSet {
		layout = opts.layout
	}

	req := domain.ConversionRequest{
		Data:      data,
		Mode:      mode,
		Filename:  filepath.Base(opts.input),
		Layout:    layout,
		RequestID: uuid.NewString(),
	}

	// The pipeline drops events on a full channel, so leave room for every
	// page's events even when the terminal falls behind.
	pages, _ := pdfdoc.PageCount(data)
	eventCh := make(chan domain.StreamEvent, eventBuffer(pages))
	type result struct {
		artifact *domain.Artifact
		err      error
	}
	done := make(chan result, 1)

	go func() {
		artifact, err := orchestrator.ConvertWithEvents(ctx, req, eventCh)
		close(eventCh)
		done <- result{artifact, err}
	}()

	startTime := time.Now()
	progressStarted := false
	term.Info("Converting %s with the %s engine", opts.input, cfg.Converter.Engine)

	for event := range eventCh {
		switch event.Type {
		case domain.EventStart:
			term.StartSpinner("Running document converter")

		case domain.EventPageProcessing:
			// The first page event switches from the spinner to the page bar.
			if !progressStarted && event.TotalPages > 0 {
				progressStarted = true
				term.StartProgress(event.TotalPages, "Pages")
			}

		case domain.EventPageComplete:
			term.Advance()

		case domain.EventRegionSkipped:
			if opts.verbose {
				term.Warning("Page %d: %v", event.PageNumber, event.Payload)
			}

		case domain.EventError:
			term.Finish()

		case domain.EventComplete:
			term.Finish()
		}
	}

	res := <-done
	term.Finish()
	if res.err != nil {
		term.Error("Conversion failed: %s", domain.PublicMessage(res.err))
		return res.err
	}

	outPath := opts.output
	if outPath == "" {
		outPath = defaultOutputPath(opts.input, res.artifact.Filename)
	}
	if err := os.WriteFile(outPath, res.artifact.Body, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	report := res.artifact.Report
	if len(report.FailedPages) > 0 {
		term.Warning("Pages that could not be rendered: %s", joinPages(report.FailedPages))
	}
	if report.SkippedRegions > 0 {
		term.Warning("%d region(s) skipped", report.SkippedRegions)
	}
	term.Success("Wrote %s (%d bytes) in %v", outPath, len(res.artifact.Body), time.Since(startTime).Round(time.Millisecond))
	return nil
}

// defaultOutputPath places the artifact next to the input, named after it,
// with the artifact's extension.
func defaultOutputPath(input, artifactName string) string {
	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	return filepath.Join(filepath.Dir(input), base+filepath.Ext(artifactName))
}

// eventsPerPage covers a page's processing and completion events plus a
// handful of skipped regions.
const eventsPerPage = 8

func eventBuffer(pages int) int {
	return 16 + eventsPerPage*max(pages, 16)
}

func joinPages(pages []int) string {
	parts := make([]string, len(pages))
	for i, p := range pages {
		parts[i] = fmt.Sprint(p)
	}
	return strings.Join(parts, ", ")
}
