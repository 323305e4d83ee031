package vision

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/vision-cli/internal/model"
	"github.com/sells-group/vision-cli/pkg/google"
	"github.com/sells-group/vision-cli/pkg/google/mocks"
)

func TestGoogleFeatures(t *testing.T) {
	got := googleFeatures(Features{OCR: true, Logos: true, Colors: true, MaxLogos: 4})
	assert.Equal(t, []google.Feature{
		{Type: google.FeatureTextDetection},
		{Type: google.FeatureLogoDetection, MaxResults: 4},
		{Type: google.FeatureImageProperties},
	}, got)

	got = googleFeatures(Features{OCR: true, DocumentMode: true, Labels: true, MaxLabels: 20})
	assert.Equal(t, []google.Feature{
		{Type: google.FeatureDocumentTextDetection},
		{Type: google.FeatureLabelDetection, MaxResults: 20},
	}, got)
}

func TestGoogleProvider_Annotate(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("Annotate", mock.Anything, []byte("img"), mock.Anything).Return(&google.AnnotateImageResponse{
		TextAnnotations: []google.EntityAnnotation{
			{Description: "IKEA\nAB12"},
			{Description: "IKEA"},
			{Description: "AB12", Confidence: 0.7},
		},
		FullTextAnnotation: &google.TextAnnotation{
			Pages: []google.Page{{
				Confidence: 0.8,
				Blocks: []google.Block{{
					Confidence: 0.85,
					Paragraphs: []google.Paragraph{{Words: []google.Word{
						{Symbols: []google.Symbol{
							{Text: "I"}, {Text: "K"}, {Text: "E"},
							{Text: "A", Property: &google.TextProperty{DetectedBreak: &google.DetectedBreak{Type: "LINE_BREAK"}}},
						}},
					}}},
				}},
			}},
		},
		LabelAnnotations: []google.EntityAnnotation{{Description: "Furniture", Score: 0.9}},
		LogoAnnotations:  []google.EntityAnnotation{{Description: "IKEA", Score: 0.88}},
		ImagePropertiesAnnotation: &google.ImageProperties{DominantColors: google.DominantColors{
			Colors: []google.ColorInfo{{Color: google.Color{Red: 0, Green: 0, Blue: 255}, Score: 0.7, PixelFraction: 0.5}},
		}},
	}, nil).Once()

	p := NewGoogleProvider(client)
	ann, err := p.Annotate(context.Background(), AnnotateRequest{
		Image:    Image{Data: []byte("img"), MIMEType: "image/jpeg"},
		Features: Features{OCR: true, DocumentMode: true, Labels: true, Logos: true, Colors: true},
	})
	require.NoError(t, err)

	assert.Equal(t, []TextToken{{Text: "IKEA", Confidence: 0.8}, {Text: "AB12", Confidence: 0.7}}, ann.Tokens)
	assert.Equal(t, []TextToken{{Text: "IKEA", Confidence: 0.85}}, ann.Lines)
	assert.Equal(t, []Scored{{Name: "Furniture", Score: 0.9}}, ann.Labels)
	assert.Equal(t, []Scored{{Name: "IKEA", Score: 0.88}}, ann.Logos)
	assert.Equal(t, []RawColor{{R: 0, G: 0, B: 255, Fraction: 0.5}}, ann.Colors)
}

func TestGoogleProvider_ErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want model.ErrorCode
	}{
		{"bad request", &google.APIError{HTTPStatus: 400}, model.ErrInvalidImage},
		{"too large", &google.APIError{HTTPStatus: 413}, model.ErrInvalidImage},
		{"rate limited", &google.APIError{HTTPStatus: 429}, model.ErrQuotaExceeded},
		{"resource exhausted", &google.APIError{HTTPStatus: 403, Status: "RESOURCE_EXHAUSTED"}, model.ErrQuotaExceeded},
		{"gateway timeout", &google.APIError{HTTPStatus: 504}, model.ErrTimeout},
		{"server error", &google.APIError{HTTPStatus: 503}, model.ErrVisionUnavailable},
		{"image invalid argument", &google.APIError{Code: 3}, model.ErrInvalidImage},
		{"image quota", &google.APIError{Code: 8}, model.ErrQuotaExceeded},
		{"image deadline", &google.APIError{Code: 4}, model.ErrTimeout},
		{"deadline", context.DeadlineExceeded, model.ErrTimeout},
		{"transport", errors.New("connection reset"), model.ErrVisionUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := mocks.NewMockClient(t)
			client.On("Annotate", mock.Anything, mock.Anything, mock.Anything).Return(nil, tt.err).Once()

			_, err := NewGoogleProvider(client).Annotate(context.Background(), AnnotateRequest{Features: Features{Labels: true}})
			require.Error(t, err)

			var ee *ExtractionError
			require.ErrorAs(t, err, &ee)
			assert.Equal(t, tt.want, ee.Code)
			assert.Equal(t, ProviderGoogle, ee.Provider)
		})
	}
}

func TestGoogleProvider_CallerCancelIsNotClassified(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := mocks.NewMockClient(t)
	client.On("Annotate", mock.Anything, mock.Anything, mock.Anything).Return(nil, ctx.Err()).Once()

	_, err := NewGoogleProvider(client).Annotate(ctx, AnnotateRequest{Features: Features{Labels: true}})
	require.ErrorIs(t, err, context.Canceled)

	var ee *ExtractionError
	assert.False(t, errors.As(err, &ee), "cancellation must not look like a provider failure")
}
