package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spherical/doc-converter/internal/domain"
)

const markerUploadPath = "/marker/upload"

// MarkerClient converts documents through a marker model server.
type MarkerClient struct {
	baseURL    string
	httpClient *http.Client
}

// markerResponse is the model server's reply.
type markerResponse struct {
	Output   string                  `json:"output"`
	Metadata domain.DocumentMetadata `json:"metadata"`
	Success  *bool                   `json:"success"`
	Error    string                  `json:"error"`
}

// NewMarkerClient creates a marker converter for the server at baseURL.
func NewMarkerClient(baseURL string, timeout time.Duration) *MarkerClient {
	return &MarkerClient{
		baseURL:    baseURL,
		httpClient: newHTTPClient(timeout),
	}
}

// Convert uploads the PDF and returns its markdown and metadata.
func (c *MarkerClient) Convert(ctx context.Context, data []byte) (*domain.RenderedDocument, error) {
	resp, err := uploadFile(ctx, c.httpClient, joinURL(c.baseURL, markerUploadPath), "document.pdf", "application/pdf", data)
	if err != nil {
		return nil, classify(ctx, domain.StageConvert, "document conversion failed", err)
	}
	defer resp.Body.Close()

	var out markerResponse
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, classify(ctx, domain.StageConvert, "document conversion failed",
			fmt.Errorf("decode marker response: %w", err))
	}

	if out.Success != nil && !*out.Success {
		msg := out.Error
		if msg == "" {
			msg = "converter reported failure"
		}
		return nil, domain.ConversionError(domain.StageConvert, "document conversion failed", errors.New(msg))
	}

	meta := out.Metadata
	if meta == nil {
		meta = domain.DocumentMetadata{}
	}
	return &domain.RenderedDocument{Markdown: out.Output, Metadata: meta}, nil
}
