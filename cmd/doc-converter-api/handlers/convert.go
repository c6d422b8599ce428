// Package handlers provides HTTP handlers for the conversion API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/spherical/doc-converter/internal/domain"
	"github.com/spherical/doc-converter/internal/observability"
)

// Response headers describing the artifact.
const (
	HeaderPagesFailed    = "X-Pages-Failed"
	HeaderRegionsSkipped = "X-Regions-Skipped"
)

// multipartOverhead is the slack allowed on top of the file limit for
// boundaries and part headers.
const multipartOverhead = 1 << 20

// Converter runs one conversion request.
type Converter interface {
	Convert(ctx context.Context, req domain.ConversionRequest) (*domain.Artifact, error)
	HasDetector() bool
	MaxUploadBytes() int64
}

// ConvertHandler handles document conversion uploads.
type ConvertHandler struct {
	logger    *observability.Logger
	converter Converter
}

// NewConvertHandler creates a new conversion handler.
func NewConvertHandler(logger *observability.Logger, converter Converter) *ConvertHandler {
	return &ConvertHandler{
		logger:    logger,
		converter: converter,
	}
}

// ErrorDTO is the JSON body of every error response.
type ErrorDTO struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Stage     string `json:"stage,omitempty"`
	File      string `json:"file,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// Convert handles POST /convert?output=markdown-bundle|metadata-json&layout=true|false.
func (h *ConvertHandler) Convert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := observability.RequestIDFromContext(ctx)
	log := h.logger.WithContext(ctx)

	mode, err := domain.ParseOutputMode(r.URL.Query().Get("output"))
	if err != nil {
		h.writeError(w, requestID, err)
		return
	}

	layout, err := h.parseLayout(r.URL.Query().Get("layout"))
	if err != nil {
		h.writeError(w, requestID, err)
		return
	}

	filename, data, err := h.readUpload(w, r)
	if err != nil {
		h.writeError(w, requestID, deadlineError(ctx, err))
		return
	}

	log.Info().
		Str("file", filename).
		Int("bytes", len(data)).
		Str("mode", string(mode)).
		Bool("layout", layout).
		Msg("Conversion requested")

	artifact, err := h.converter.Convert(ctx, domain.ConversionRequest{
		Data:      data,
		Mode:      mode,
		Filename:  filename,
		Layout:    layout,
		RequestID: requestID,
	})
	if err != nil {
		h.writeError(w, requestID, deadlineError(ctx, err))
		return
	}

	w.Header().Set("Content-Type", artifact.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": artifact.Filename}))
	w.Header().Set("Content-Length", strconv.Itoa(len(artifact.Body)))
	w.Header().Set(HeaderRegionsSkipped, strconv.Itoa(artifact.Report.SkippedRegions))
	if len(artifact.Report.FailedPages) > 0 {
		w.Header().Set(HeaderPagesFailed, joinInts(artifact.Report.FailedPages))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(artifact.Body); err != nil {
		log.Warn().Err(err).Msg("Failed to write response body")
	}
}

// parseLayout reads the layout flag. When absent, layout follows whether a
// detector is configured.
func (h *ConvertHandler) parseLayout(v string) (bool, error) {
	if strings.TrimSpace(v) == "" {
		return h.converter.HasDetector(), nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, domain.ValidationError(fmt.Sprintf("invalid layout flag %q", v), err)
	}
	return b, nil
}

// readUpload returns the name and contents of the multipart "file" field.
// The body is capped so an oversized upload is rejected without buffering
// all of it.
func (h *ConvertHandler) readUpload(w http.ResponseWriter, r *http.Request) (string, []byte, error) {
	limit := h.converter.MaxUploadBytes()
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)

	mr, err := r.MultipartReader()
	if err != nil {
		return "", nil, domain.ValidationError("expected a multipart/form-data upload", err)
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return "", nil, domain.ValidationError("no file uploaded", nil)
		}
		if err != nil {
			return "", nil, uploadError(err, limit)
		}
		if part.FormName() != "file" {
			part.Close()
			continue
		}

		data, err := io.ReadAll(io.LimitReader(part, limit+1))
		part.Close()
		if err != nil {
			return "", nil, uploadError(err, limit)
		}
		if int64(len(data)) > limit {
			return "", nil, domain.PayloadTooLargeError(int64(len(data)), limit)
		}
		if len(data) == 0 {
			return "", nil, domain.ValidationError("no file uploaded", nil)
		}
		return part.FileName(), data, nil
	}
}

func uploadError(err error, limit int64) error {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return domain.PayloadTooLargeError(mbe.Limit, limit)
	}
	return domain.ValidationError("malformed upload", err)
}

// StatusFor maps an error classification to an HTTP status.
func StatusFor(err error) int {
	switch domain.TypeOf(err) {
	case domain.ErrorTypeValidation:
		return http.StatusBadRequest
	case domain.ErrorTypePayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case domain.ErrorTypeCanceled:
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout
		}
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// deadlineError marks err as a timeout when the request deadline expired,
// whatever cause the pipeline recorded.
func deadlineError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", err, context.DeadlineExceeded)
	}
	return err
}

func (h *ConvertHandler) writeError(w http.ResponseWriter, requestID string, err error) {
	status := StatusFor(err)

	resp := ErrorDTO{
		Error:     string(domain.TypeOf(err)),
		Message:   domain.PublicMessage(err),
		RequestID: requestID,
	}
	if resp.Error == "" {
		resp.Error = "internal"
	}
	var de *domain.DomainError
	if errors.As(err, &de) {
		resp.Stage = de.Stage
		resp.File = de.File
	}

	evt := h.logger.Warn()
	if status >= http.StatusInternalServerError {
		evt = h.logger.Error()
	}
	evt.Err(err).Str("request_id", requestID).Int("status", status).Msg("Conversion request failed")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

func joinInts(vals []int) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}
