package vision

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/vision-cli/internal/config"
	"github.com/sells-group/vision-cli/internal/model"
)

func TestImageHash(t *testing.T) {
	img := Image{Data: []byte("abc")}
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", img.Hash())
	assert.Equal(t, []string{img.Hash(), img.Hash()}, Hashes([]Image{img, img}))
}

func TestOptionsFromConfig(t *testing.T) {
	opts := OptionsFromConfig(config.VisionConfig{
		EnableOCR:         true,
		EnableLogos:       true,
		OCRMode:           OCRModeDocument,
		MaxOCRSnippets:    3,
		MinLogoConfidence: 0.7,
	})
	assert.True(t, opts.EnableOCR)
	assert.False(t, opts.EnableLabels)
	assert.Equal(t, OCRModeDocument, opts.OCRMode)
	assert.Equal(t, 3, opts.MaxOCRSnippets)
	assert.Equal(t, 10, opts.MaxLabelHints)
	assert.InDelta(t, 0.7, opts.MinLogoConfidence, 1e-9)
}

func TestFeatureVersion(t *testing.T) {
	a := DefaultOptions()
	b := DefaultOptions()
	assert.Equal(t, a.FeatureVersion("v1"), b.FeatureVersion("v1"))

	b.EnableLogos = false
	assert.NotEqual(t, a.FeatureVersion("v1"), b.FeatureVersion("v1"))
	assert.NotEqual(t, a.FeatureVersion("v1"), a.FeatureVersion("v2"))

	c := DefaultOptions()
	c.MaxColors = 3
	assert.NotEqual(t, a.FeatureVersion("v1"), c.FeatureVersion("v1"))
}

func TestNewProvider(t *testing.T) {
	cfg := &config.Config{}

	_, err := NewProvider(ProviderGoogle, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "google.key is required")

	_, err = NewProvider(ProviderClaude, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.key is required")

	_, err = NewProvider("tesseract", cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unsupported provider "tesseract"`)

	p, err := NewProvider("MOCK", cfg)
	require.NoError(t, err)
	assert.IsType(t, &MockProvider{}, p)

	cfg.Google.Key = "k"
	p, err = NewProvider(ProviderGoogle, cfg)
	require.NoError(t, err)
	assert.IsType(t, &GoogleProvider{}, p)

	cfg.Anthropic.Key = "k"
	p, err = NewProvider(ProviderClaude, cfg)
	require.NoError(t, err)
	assert.IsType(t, &ClaudeProvider{}, p)
}

func TestAsExtractionError(t *testing.T) {
	assert.NoError(t, asExtractionError("p", nil))

	orig := newExtractionError("p", model.ErrQuotaExceeded, nil)
	assert.Same(t, orig, asExtractionError("q", orig))

	err := asExtractionError("p", context.DeadlineExceeded)
	assert.Equal(t, model.ErrTimeout, model.CodeOf(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	err = asExtractionError("p", errors.New("boom"))
	assert.Equal(t, model.ErrVisionUnavailable, model.CodeOf(err))
	assert.Contains(t, err.Error(), "vision: p VISION_UNAVAILABLE: boom")
}
