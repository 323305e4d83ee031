package google

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

const defaultBaseURL = "https://vision.googleapis.com/v1"

// Feature types accepted by images:annotate.
const (
	FeatureTextDetection         = "TEXT_DETECTION"
	FeatureDocumentTextDetection = "DOCUMENT_TEXT_DETECTION"
	FeatureLabelDetection        = "LABEL_DETECTION"
	FeatureLogoDetection         = "LOGO_DETECTION"
	FeatureImageProperties       = "IMAGE_PROPERTIES"
)

// Client performs Cloud Vision API operations.
type Client interface {
	Annotate(ctx context.Context, image []byte, features []Feature) (*AnnotateImageResponse, error)
}

// Feature is one requested detection.
type Feature struct {
	Type       string `json:"type"`
	MaxResults int    `json:"maxResults,omitempty"`
}

// AnnotateImageResponse is the per-image result.
type AnnotateImageResponse struct {
	TextAnnotations           []EntityAnnotation `json:"textAnnotations,omitempty"`
	FullTextAnnotation        *TextAnnotation    `json:"fullTextAnnotation,omitempty"`
	LabelAnnotations          []EntityAnnotation `json:"labelAnnotations,omitempty"`
	LogoAnnotations           []EntityAnnotation `json:"logoAnnotations,omitempty"`
	ImagePropertiesAnnotation *ImageProperties   `json:"imagePropertiesAnnotation,omitempty"`
	Error                     *Status            `json:"error,omitempty"`
}

// EntityAnnotation is a detected text token, label or logo.
type EntityAnnotation struct {
	Description string  `json:"description"`
	Score       float64 `json:"score,omitempty"`
	Confidence  float64 `json:"confidence,omitempty"`
	Locale      string  `json:"locale,omitempty"`
}

// TextAnnotation is the structured document text.
type TextAnnotation struct {
	Text  string `json:"text"`
	Pages []Page `json:"pages,omitempty"`
}

// Page is one page of structured text.
type Page struct {
	Blocks     []Block `json:"blocks,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Block is a block of structured text.
type Block struct {
	Paragraphs []Paragraph `json:"paragraphs,omitempty"`
	Confidence float64     `json:"confidence,omitempty"`
}

// Paragraph is a run of words.
type Paragraph struct {
	Words      []Word  `json:"words,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Word is a run of symbols.
type Word struct {
	Symbols    []Symbol `json:"symbols,omitempty"`
	Confidence float64  `json:"confidence,omitempty"`
}

// Symbol is a single character with an optional trailing break.
type Symbol struct {
	Text     string        `json:"text"`
	Property *TextProperty `json:"property,omitempty"`
}

// TextProperty carries break information.
type TextProperty struct {
	DetectedBreak *DetectedBreak `json:"detectedBreak,omitempty"`
}

// DetectedBreak is the break following a symbol.
type DetectedBreak struct {
	Type string `json:"type"`
}

// Lines renders a block as text lines, splitting on line breaks.
func (b Block) Lines() []string {
	var (
		lines []string
		cur   strings.Builder
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			lines = append(lines, s)
		}
		cur.Reset()
	}
	for _, p := range b.Paragraphs {
		for _, w := range p.Words {
			for _, s := range w.Symbols {
				cur.WriteString(s.Text)
				if s.Property == nil || s.Property.DetectedBreak == nil {
					continue
				}
				switch s.Property.DetectedBreak.Type {
				case "SPACE", "SURE_SPACE":
					cur.WriteByte(' ')
				case "EOL_SURE_SPACE", "LINE_BREAK":
					flush()
				}
			}
		}
		flush()
	}
	return lines
}

// ImageProperties holds dominant colors.
type ImageProperties struct {
	DominantColors DominantColors `json:"dominantColors"`
}

// DominantColors wraps the color list.
type DominantColors struct {
	Colors []ColorInfo `json:"colors,omitempty"`
}

// ColorInfo is one dominant color.
type ColorInfo struct {
	Color         Color   `json:"color"`
	Score         float64 `json:"score"`
	PixelFraction float64 `json:"pixelFraction"`
}

// Color is an RGB triple in 0..255.
type Color struct {
	Red   float64 `json:"red"`
	Green float64 `json:"green"`
	Blue  float64 `json:"blue"`
}

// Status is a Google API error status.
type Status struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

// APIError is returned for non-200 responses and per-image errors.
// HTTPStatus is zero for per-image errors, whose Code is a gRPC code.
type APIError struct {
	HTTPStatus int
	Code       int
	Status     string
	Message    string
}

func (e *APIError) Error() string {
	if e.HTTPStatus != 0 {
		return fmt.Sprintf("google: status %d %s: %s", e.HTTPStatus, e.Status, e.Message)
	}
	return fmt.Sprintf("google: image error %d %s: %s", e.Code, e.Status, e.Message)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a Cloud Vision API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type annotateRequest struct {
	Requests []imageRequest `json:"requests"`
}

type imageRequest struct {
	Image    imageContent `json:"image"`
	Features []Feature    `json:"features"`
}

type imageContent struct {
	Content string `json:"content"`
}

type annotateResponse struct {
	Responses []AnnotateImageResponse `json:"responses"`
}

type errorEnvelope struct {
	Error Status `json:"error"`
}

func (c *httpClient) Annotate(ctx context.Context, image []byte, features []Feature) (*AnnotateImageResponse, error) {
	if len(features) == 0 {
		return &AnnotateImageResponse{}, nil
	}
	body, err := json.Marshal(annotateRequest{Requests: []imageRequest{{
		Image:    imageContent{Content: base64.StdEncoding.EncodeToString(image)},
		Features: features,
	}}})
	if err != nil {
		return nil, eris.Wrap(err, "google: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/images:annotate", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "google: create request")
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goog-Api-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "google: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "google: read response")
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{HTTPStatus: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
		var env errorEnvelope
		if json.Unmarshal(respBody, &env) == nil && env.Error.Message != "" {
			apiErr.Code = env.Error.Code
			apiErr.Status = env.Error.Status
			apiErr.Message = env.Error.Message
		}
		return nil, apiErr
	}

	var result annotateResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrap(err, "google: unmarshal response")
	}
	if len(result.Responses) == 0 {
		return &AnnotateImageResponse{}, nil
	}

	out := result.Responses[0]
	if out.Error != nil && out.Error.Code != 0 {
		return nil, &APIError{Code: out.Error.Code, Status: out.Error.Status, Message: out.Error.Message}
	}
	return &out, nil
}
