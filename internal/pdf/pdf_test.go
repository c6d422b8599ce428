package pdf

import (
	"context"
	"testing"

	"github.com/spherical/doc-converter/internal/domain"
	"github.com/spherical/doc-converter/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidator_ValidateSize(t *testing.T) {
	v := NewValidator(1024, true)

	assert.NoError(t, v.ValidateSize(1024))

	err := v.ValidateSize(1025)
	require.Error(t, err)
	assert.True(t, domain.IsType(err, domain.ErrorTypePayloadTooLarge))
}

func TestValidator_ValidatePDF(t *testing.T) {
	v := NewValidator(1<<20, true)

	tests := []struct {
		name     string
		data     []byte
		wantType domain.ErrorType
		pages    int
	}{
		{name: "empty", data: nil, wantType: domain.ErrorTypeValidation},
		{name: "not a pdf", data: []byte("hello world"), wantType: domain.ErrorTypeValidation},
		{name: "truncated pdf", data: []byte("%PDF-1.4\n1 0 obj\n<<"), wantType: domain.ErrorTypeConversionFailed},
		{name: "three pages", data: testutil.MinimalPDF(3), pages: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pages, err := v.ValidatePDF(tt.data)
			if tt.wantType != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantType, domain.TypeOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.pages, pages)
		})
	}
}

func TestValidator_SkipsStructureCheck(t *testing.T) {
	v := NewValidator(1<<20, false)
	pages, err := v.ValidatePDF([]byte("%PDF-1.4 garbage"))
	require.NoError(t, err)
	assert.Zero(t, pages)
}

func TestRasterizer_RendersPagesInOrder(t *testing.T) {
	doc, err := NewRasterizer().Open(testutil.MinimalPDF(2))
	require.NoError(t, err)
	defer doc.Close()

	require.Equal(t, 2, doc.NumPages())

	for i := 0; i < doc.NumPages(); i++ {
		page, err := doc.Render(context.Background(), i, 2)
		require.NoError(t, err)
		assert.Equal(t, i, page.Index)
		assert.Equal(t, i+1, page.Number())
		assert.Equal(t, 2.0, page.Zoom)
		// 200x100 pt at zoom 2.
		assert.InDelta(t, 2*testutil.PageWidth, page.Image.Bounds().Dx(), 1)
		assert.InDelta(t, 2*testutil.PageHeight, page.Image.Bounds().Dy(), 1)
	}
}

func TestRasterizer_RenderOutOfRange(t *testing.T) {
	doc, err := NewRasterizer().Open(testutil.MinimalPDF(1))
	require.NoError(t, err)
	defer doc.Close()

	_, err = doc.Render(context.Background(), 5, 1)
	assert.Error(t, err)
}

func TestRasterizer_RenderCanceled(t *testing.T) {
	doc, err := NewRasterizer().Open(testutil.MinimalPDF(1))
	require.NoError(t, err)
	defer doc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = doc.Render(ctx, 0, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRasterizer_OpenGarbage(t *testing.T) {
	_, err := NewRasterizer().Open([]byte("not a pdf at all"))
	require.Error(t, err)
	assert.True(t, domain.IsType(err, domain.ErrorTypeConversionFailed))
}

func TestDocumentInfo(t *testing.T) {
	data := testutil.MinimalPDFWithInfo(2, map[string]string{
		"Title":        "Quarterly Report",
		"Author":       "Finance",
		"CreationDate": "D:20240102030405Z",
	})

	info, pages, err := DocumentInfo(data)
	require.NoError(t, err)
	assert.Equal(t, 2, pages)
	assert.Equal(t, "Quarterly Report", info["title"])
	assert.Equal(t, "Finance", info["author"])
	assert.Contains(t, info["creation_date"], "D:20240102030405")
	assert.NotContains(t, info, "subject")
}

func TestDocumentInfo_NoInfoDict(t *testing.T) {
	info, pages, err := DocumentInfo(testutil.MinimalPDF(1))
	require.NoError(t, err)
	assert.Equal(t, 1, pages)
	assert.Empty(t, info)
}
