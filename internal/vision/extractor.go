// Package vision turns item photos into provider-agnostic VisualFacts.
package vision

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/sells-group/vision-cli/internal/config"
	"github.com/sells-group/vision-cli/internal/model"
)

// Image is a sanitized image buffer with its declared MIME type.
type Image struct {
	Data     []byte
	MIMEType string
}

// Hash returns the hex sha256 of the image content.
func (i Image) Hash() string {
	sum := sha256.Sum256(i.Data)
	return hex.EncodeToString(sum[:])
}

// Hashes returns the content hash of each image, in order.
func Hashes(images []Image) []string {
	out := make([]string, len(images))
	for i, img := range images {
		out[i] = img.Hash()
	}
	return out
}

// OCR modes.
const (
	OCRModeText     = "text"
	OCRModeDocument = "document"
)

// Options selects which signal families to extract and how to trim them.
type Options struct {
	EnableOCR    bool
	EnableLabels bool
	EnableLogos  bool
	EnableColors bool
	OCRMode      string

	MaxOCRSnippets int
	MaxLabelHints  int
	MaxLogoHints   int
	MaxColors      int
	MaxSnippetLen  int

	MinOCRConfidence   float64
	MinLabelConfidence float64
	MinLogoConfidence  float64
}

// DefaultOptions enables every family with the standard caps and floors.
func DefaultOptions() Options {
	return Options{
		EnableOCR:          true,
		EnableLabels:       true,
		EnableLogos:        true,
		EnableColors:       true,
		OCRMode:            OCRModeText,
		MaxOCRSnippets:     10,
		MaxLabelHints:      10,
		MaxLogoHints:       5,
		MaxColors:          5,
		MaxSnippetLen:      100,
		MinOCRConfidence:   0.5,
		MinLabelConfidence: 0.5,
		MinLogoConfidence:  0.5,
	}
}

// OptionsFromConfig builds Options from config, falling back to defaults
// for unset caps.
func OptionsFromConfig(cfg config.VisionConfig) Options {
	o := DefaultOptions()
	o.EnableOCR = cfg.EnableOCR
	o.EnableLabels = cfg.EnableLabels
	o.EnableLogos = cfg.EnableLogos
	o.EnableColors = cfg.EnableColors
	if cfg.OCRMode != "" {
		o.OCRMode = cfg.OCRMode
	}
	if cfg.MaxOCRSnippets > 0 {
		o.MaxOCRSnippets = cfg.MaxOCRSnippets
	}
	if cfg.MaxLabelHints > 0 {
		o.MaxLabelHints = cfg.MaxLabelHints
	}
	if cfg.MaxLogoHints > 0 {
		o.MaxLogoHints = cfg.MaxLogoHints
	}
	if cfg.MaxColors > 0 {
		o.MaxColors = cfg.MaxColors
	}
	if cfg.MaxSnippetLen > 0 {
		o.MaxSnippetLen = cfg.MaxSnippetLen
	}
	o.MinOCRConfidence = cfg.MinOCRConfidence
	o.MinLabelConfidence = cfg.MinLabelConfidence
	o.MinLogoConfidence = cfg.MinLogoConfidence
	return o
}

// FeatureVersion fingerprints the requested feature set so cached facts are
// reused only when they were produced with the same families and caps.
func (o Options) FeatureVersion(base string) string {
	flags := ""
	for _, on := range []bool{o.EnableOCR, o.EnableLabels, o.EnableLogos, o.EnableColors} {
		if on {
			flags += "1"
		} else {
			flags += "0"
		}
	}
	return fmt.Sprintf("%s:%s:%d.%d.%d.%d.%d:%.2f.%.2f.%.2f", base, flags,
		o.MaxOCRSnippets, o.MaxLabelHints, o.MaxLogoHints, o.MaxColors, o.MaxSnippetLen,
		o.MinOCRConfidence, o.MinLabelConfidence, o.MinLogoConfidence)
}

// Extractor produces VisualFacts for the images of one item. Errors carry
// one of the provider error codes.
type Extractor interface {
	Name() string
	Extract(ctx context.Context, itemID string, images []Image, opts Options) (*model.VisualFacts, error)
}
