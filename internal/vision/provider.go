package vision

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/vision-cli/internal/config"
	"github.com/sells-group/vision-cli/pkg/anthropic"
	"github.com/sells-group/vision-cli/pkg/google"
)

// Provider names.
const (
	ProviderGoogle = "google"
	ProviderClaude = "claude"
	ProviderMock   = "mock"
)

// Features is the set of signal families requested for one image.
type Features struct {
	OCR          bool
	Labels       bool
	Logos        bool
	Colors       bool
	DocumentMode bool
	MaxLabels    int
	MaxLogos     int
}

// Any reports whether at least one family is requested.
func (f Features) Any() bool {
	return f.OCR || f.Labels || f.Logos || f.Colors
}

// FeaturesFromOptions selects the provider features for opts. Providers are
// asked for more labels and logos than the output caps so filtering by
// confidence floor still leaves enough candidates.
func FeaturesFromOptions(opts Options) Features {
	return Features{
		OCR:          opts.EnableOCR,
		Labels:       opts.EnableLabels,
		Logos:        opts.EnableLogos,
		Colors:       opts.EnableColors,
		DocumentMode: opts.OCRMode == OCRModeDocument,
		MaxLabels:    opts.MaxLabelHints * 2,
		MaxLogos:     opts.MaxLogoHints * 2,
	}
}

// AnnotateRequest is one provider call for a single image.
type AnnotateRequest struct {
	Image    Image
	Features Features
}

// TextToken is a raw piece of detected text.
type TextToken struct {
	Text       string
	Confidence float64
}

// Scored is a raw label or logo detection.
type Scored struct {
	Name  string
	Score float64
}

// RawColor is a provider-reported dominant color with its pixel fraction
// in 0..1.
type RawColor struct {
	R, G, B  uint8
	Fraction float64
}

// Annotation is the raw, provider-shaped signal bag for one image, before
// normalization. Lines is only filled when document-structured text was
// requested and available.
type Annotation struct {
	Tokens []TextToken
	Lines  []TextToken
	Labels []Scored
	Logos  []Scored
	Colors []RawColor
}

// Provider calls a vision backend for a single image. Errors must be
// *ExtractionError values.
type Provider interface {
	Name() string
	Annotate(ctx context.Context, req AnnotateRequest) (*Annotation, error)
}

// NewProvider creates a Provider by name from configuration.
func NewProvider(name string, cfg *config.Config) (Provider, error) {
	switch strings.ToLower(name) {
	case ProviderGoogle:
		if cfg.Google.Key == "" {
			return nil, eris.New("vision: google.key is required for the google provider")
		}
		var opts []google.Option
		if cfg.Google.BaseURL != "" {
			opts = append(opts, google.WithBaseURL(cfg.Google.BaseURL))
		}
		return NewGoogleProvider(google.NewClient(cfg.Google.Key, opts...)), nil
	case ProviderClaude:
		if cfg.Anthropic.Key == "" {
			return nil, eris.New("vision: anthropic.key is required for the claude provider")
		}
		return NewClaudeProvider(anthropic.NewClient(cfg.Anthropic.Key), cfg.Anthropic.Model, cfg.Anthropic.MaxTokens), nil
	case ProviderMock:
		return &MockProvider{}, nil
	default:
		return nil, eris.Errorf("vision: unsupported provider %q", name)
	}
}
