package vision

import (
	"context"
	"errors"
	"strings"

	"github.com/sells-group/vision-cli/internal/model"
	"github.com/sells-group/vision-cli/pkg/google"
)

// gRPC codes carried by per-image Cloud Vision errors.
const (
	grpcInvalidArgument   = 3
	grpcDeadlineExceeded  = 4
	grpcResourceExhausted = 8
)

// defaultTokenConfidence is used for word tokens, which Cloud Vision
// returns without a confidence, when no page confidence is available.
const defaultTokenConfidence = 0.9

// GoogleProvider annotates images with Cloud Vision.
type GoogleProvider struct {
	client google.Client
}

// NewGoogleProvider wraps a Cloud Vision client.
func NewGoogleProvider(client google.Client) *GoogleProvider {
	return &GoogleProvider{client: client}
}

// Name implements Provider.
func (p *GoogleProvider) Name() string { return ProviderGoogle }

// Annotate implements Provider.
func (p *GoogleProvider) Annotate(ctx context.Context, req AnnotateRequest) (*Annotation, error) {
	resp, err := p.client.Annotate(ctx, req.Image.Data, googleFeatures(req.Features))
	if err != nil {
		return nil, p.classify(ctx, err)
	}
	return annotationFromGoogle(resp, req.Features), nil
}

func googleFeatures(f Features) []google.Feature {
	var out []google.Feature
	if f.OCR {
		if f.DocumentMode {
			out = append(out, google.Feature{Type: google.FeatureDocumentTextDetection})
		} else {
			out = append(out, google.Feature{Type: google.FeatureTextDetection})
		}
	}
	if f.Labels {
		out = append(out, google.Feature{Type: google.FeatureLabelDetection, MaxResults: f.MaxLabels})
	}
	if f.Logos {
		out = append(out, google.Feature{Type: google.FeatureLogoDetection, MaxResults: f.MaxLogos})
	}
	if f.Colors {
		out = append(out, google.Feature{Type: google.FeatureImageProperties})
	}
	return out
}

func annotationFromGoogle(resp *google.AnnotateImageResponse, f Features) *Annotation {
	out := &Annotation{}
	if resp == nil {
		return out
	}

	tokenConf := defaultTokenConfidence
	if fta := resp.FullTextAnnotation; fta != nil && len(fta.Pages) > 0 && fta.Pages[0].Confidence > 0 {
		tokenConf = fta.Pages[0].Confidence
	}
	// The first text annotation is the whole detected text; the rest are words.
	if len(resp.TextAnnotations) > 1 {
		for _, t := range resp.TextAnnotations[1:] {
			conf := t.Confidence
			if conf == 0 {
				conf = tokenConf
			}
			out.Tokens = append(out.Tokens, TextToken{Text: t.Description, Confidence: conf})
		}
	}
	if f.DocumentMode && resp.FullTextAnnotation != nil {
		for _, page := range resp.FullTextAnnotation.Pages {
			for _, block := range page.Blocks {
				conf := block.Confidence
				if conf == 0 {
					conf = tokenConf
				}
				for _, line := range block.Lines() {
					out.Lines = append(out.Lines, TextToken{Text: line, Confidence: conf})
				}
			}
		}
	}

	for _, l := range resp.LabelAnnotations {
		out.Labels = append(out.Labels, Scored{Name: l.Description, Score: l.Score})
	}
	for _, l := range resp.LogoAnnotations {
		out.Logos = append(out.Logos, Scored{Name: l.Description, Score: l.Score})
	}
	if props := resp.ImagePropertiesAnnotation; props != nil {
		for _, c := range props.DominantColors.Colors {
			out.Colors = append(out.Colors, RawColor{
				R:        clamp8(c.Color.Red),
				G:        clamp8(c.Color.Green),
				B:        clamp8(c.Color.Blue),
				Fraction: c.PixelFraction,
			})
		}
	}
	return out
}

func (p *GoogleProvider) classify(ctx context.Context, err error) error {
	var apiErr *google.APIError
	if errors.As(err, &apiErr) {
		return newExtractionError(ProviderGoogle, googleErrorCode(apiErr), err)
	}
	if canceled(ctx, err) {
		return err
	}
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return newExtractionError(ProviderGoogle, model.ErrTimeout, err)
	}
	return newExtractionError(ProviderGoogle, model.ErrVisionUnavailable, err)
}

func googleErrorCode(e *google.APIError) model.ErrorCode {
	if strings.EqualFold(e.Status, "RESOURCE_EXHAUSTED") {
		return model.ErrQuotaExceeded
	}
	if e.HTTPStatus != 0 {
		return classifyStatus(e.HTTPStatus)
	}
	switch e.Code {
	case grpcInvalidArgument:
		return model.ErrInvalidImage
	case grpcResourceExhausted:
		return model.ErrQuotaExceeded
	case grpcDeadlineExceeded:
		return model.ErrTimeout
	default:
		return model.ErrVisionUnavailable
	}
}
