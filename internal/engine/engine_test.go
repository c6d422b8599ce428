package engine

import (
	"context"
	"encoding/json"
	"image"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spherical/doc-converter/internal/config"
	"github.com/spherical/doc-converter/internal/domain"
	"github.com/spherical/doc-converter/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readUpload(t *testing.T, r *http.Request) (string, []byte) {
	t.Helper()
	file, header, err := r.FormFile("file")
	require.NoError(t, err)
	defer file.Close()
	data, err := io.ReadAll(file)
	require.NoError(t, err)
	return header.Filename, data
}

func TestMarkerClient_Convert(t *testing.T) {
	pdf := testutil.MinimalPDF(1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/marker/upload", r.URL.Path)
		_, data := readUpload(t, r)
		assert.Equal(t, pdf, data)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"output": "# Title\n\nBody",
			"metadata": {"table_of_contents": [{"title": "Title", "page_id": 0, "polygon": [[1,2],[3,2],[3,4]]}]},
			"success": true
		}`))
	}))
	defer srv.Close()

	doc, err := NewMarkerClient(srv.URL+"/", time.Second).Convert(context.Background(), pdf)
	require.NoError(t, err)
	assert.Equal(t, "# Title\n\nBody", doc.Markdown)

	toc, ok := doc.Metadata[domain.TableOfContentsKey].([]any)
	require.True(t, ok)
	require.Len(t, toc, 1)
	entry := toc[0].(map[string]any)
	assert.Equal(t, json.Number("0"), entry["page_id"])
}

func TestMarkerClient_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "model crashed", http.StatusInternalServerError)
			},
		},
		{
			name: "reported failure",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"success": false, "error": "bad font"}`))
			},
		},
		{
			name: "invalid json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`<html>`))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				tt.handler(w, r)
			}))
			defer srv.Close()

			doc, err := NewMarkerClient(srv.URL, time.Second).Convert(context.Background(), []byte("%PDF-1.4"))
			require.Error(t, err)
			assert.Nil(t, doc)
			assert.True(t, domain.IsType(err, domain.ErrorTypeConversionFailed))
			assert.Equal(t, "document conversion failed", domain.PublicMessage(err))
			// No retry.
			assert.Equal(t, int32(1), calls.Load())
		})
	}
}

func TestMarkerClient_Canceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewMarkerClient(srv.URL, time.Second).Convert(ctx, []byte("%PDF-1.4"))
	require.Error(t, err)
	assert.True(t, domain.IsType(err, domain.ErrorTypeCanceled))
}

func TestSuryaClient_Detect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/layout", r.URL.Path)
		name, data := readUpload(t, r)
		assert.Equal(t, "page_3.png", name)
		assert.True(t, strings.HasPrefix(string(data), "\x89PNG"))

		_, _ = w.Write([]byte(`{"bboxes": [
			{"polygon": [[20,40],[60,40],[60,80],[20,80]], "label": "Text", "position": 0, "bbox": [20,40,60,80]},
			{"polygon": [[0,0],[10,0],[10,10]], "label": "Figure", "position": "b"},
			{"polygon": [[0,0],["x",0],[10,10]], "label": "Table", "position": null}
		]}`))
	}))
	defer srv.Close()

	page := domain.PageImage{Index: 2, Zoom: 2, Image: image.NewRGBA(image.Rect(0, 0, 8, 8))}
	regions, err := NewSuryaClient(srv.URL, time.Second).Detect(context.Background(), page)
	require.NoError(t, err)
	require.Len(t, regions, 3)

	assert.Equal(t, []domain.Point{{X: 10, Y: 20}, {X: 30, Y: 20}, {X: 30, Y: 40}, {X: 10, Y: 40}}, regions[0].Polygon)
	require.NotNil(t, regions[0].Position)
	assert.Equal(t, "0", *regions[0].Position)
	assert.Equal(t, "Text-0", regions[0].DisplayLabel())
	require.NotNil(t, regions[0].BBox)
	assert.Equal(t, [4]float64{10, 20, 30, 40}, *regions[0].BBox)

	assert.Equal(t, "b", *regions[1].Position)
	assert.Nil(t, regions[1].BBox)

	assert.Nil(t, regions[2].Position)
	assert.True(t, math.IsNaN(regions[2].Polygon[1].X))
}

func TestSuryaClient_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	page := domain.PageImage{Zoom: 1, Image: image.NewRGBA(image.Rect(0, 0, 4, 4))}
	_, err := NewSuryaClient(srv.URL, time.Second).Detect(context.Background(), page)
	require.Error(t, err)
	assert.True(t, domain.IsType(err, domain.ErrorTypeConversionFailed))
	assert.Equal(t, domain.StageDetect, err.(*domain.DomainError).Stage)
}

func TestLocalConverter_Convert(t *testing.T) {
	conv := NewLocalConverter()

	doc, err := conv.Convert(context.Background(), testutil.MinimalPDF(2))
	require.NoError(t, err)

	assert.Contains(t, doc.Markdown, "## Page 1")
	assert.Contains(t, doc.Markdown, "## Page 2")
	assert.Equal(t, 2, doc.Metadata["page_count"])
	assert.Equal(t, []any{}, doc.Metadata[domain.TableOfContentsKey])

	again, err := conv.Convert(context.Background(), testutil.MinimalPDF(2))
	require.NoError(t, err)
	assert.Equal(t, doc, again)
}

func TestLocalConverter_DocumentInfo(t *testing.T) {
	data := testutil.MinimalPDFWithInfo(1, map[string]string{
		"Title":        "Field Guide",
		"CreationDate": "D:20230510120000Z",
	})

	doc, err := NewLocalConverter().Convert(context.Background(), data)
	require.NoError(t, err)

	info, ok := doc.Metadata["document_info"].(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "Field Guide", info["title"])
	assert.Contains(t, info["creation_date"], "D:20230510120000")
	assert.True(t, strings.HasPrefix(doc.Markdown, "# Field Guide\n\n## Page 1"))
}

func TestLocalConverter_Garbage(t *testing.T) {
	_, err := NewLocalConverter().Convert(context.Background(), []byte("%PDF-1.4 nothing here"))
	require.Error(t, err)
	assert.True(t, domain.IsType(err, domain.ErrorTypeConversionFailed))
}

func TestNew(t *testing.T) {
	cfg := config.DefaultConfig()
	e, err := New(cfg)
	require.NoError(t, err)
	assert.IsType(t, &MarkerClient{}, e.Converter)
	assert.Nil(t, e.Detector)

	cfg.Converter.Engine = config.EngineLocal
	cfg.Layout.Enabled = true
	e, err = New(cfg)
	require.NoError(t, err)
	assert.IsType(t, &LocalConverter{}, e.Converter)
	assert.IsType(t, &SuryaClient{}, e.Detector)

	cfg.Converter.Engine = "tesseract"
	_, err = New(cfg)
	assert.True(t, domain.IsType(err, domain.ErrorTypeConfig))
}
