package google

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnnotate_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/images:annotate", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Goog-Api-Key"))

		var body annotateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Requests, 1)
		assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("img")), body.Requests[0].Image.Content)
		require.Len(t, body.Requests[0].Features, 2)
		assert.Equal(t, FeatureLogoDetection, body.Requests[0].Features[0].Type)
		assert.Equal(t, 5, body.Requests[0].Features[0].MaxResults)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"responses":[{
			"logoAnnotations":[{"description":"IKEA","score":0.91}],
			"labelAnnotations":[{"description":"Furniture","score":0.88}],
			"imagePropertiesAnnotation":{"dominantColors":{"colors":[
				{"color":{"red":0,"green":81,"blue":186},"score":0.6,"pixelFraction":0.55}
			]}}
		}]}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	resp, err := client.Annotate(context.Background(), []byte("img"), []Feature{
		{Type: FeatureLogoDetection, MaxResults: 5},
		{Type: FeatureLabelDetection},
	})

	require.NoError(t, err)
	require.Len(t, resp.LogoAnnotations, 1)
	assert.Equal(t, "IKEA", resp.LogoAnnotations[0].Description)
	assert.InDelta(t, 0.91, resp.LogoAnnotations[0].Score, 0.001)
	require.NotNil(t, resp.ImagePropertiesAnnotation)
	c := resp.ImagePropertiesAnnotation.DominantColors.Colors[0]
	assert.InDelta(t, 186, c.Color.Blue, 0.001)
	assert.InDelta(t, 0.55, c.PixelFraction, 0.001)
}

func TestAnnotate_NoFeaturesSkipsCall(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	defer srv.Close()

	resp, err := NewClient("k", WithBaseURL(srv.URL)).Annotate(context.Background(), []byte("img"), nil)
	require.NoError(t, err)
	assert.NotNil(t, resp)
	assert.False(t, called)
}

func TestAnnotate_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":429,"message":"Quota exceeded","status":"RESOURCE_EXHAUSTED"}}`))
	}))
	defer srv.Close()

	resp, err := NewClient("k", WithBaseURL(srv.URL)).Annotate(context.Background(), []byte("img"),
		[]Feature{{Type: FeatureTextDetection}})

	assert.Nil(t, resp)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusTooManyRequests, apiErr.HTTPStatus)
	assert.Equal(t, "RESOURCE_EXHAUSTED", apiErr.Status)
	assert.Contains(t, err.Error(), "429")
}

func TestAnnotate_NonJSONErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("bad gateway"))
	}))
	defer srv.Close()

	_, err := NewClient("k", WithBaseURL(srv.URL)).Annotate(context.Background(), []byte("img"),
		[]Feature{{Type: FeatureTextDetection}})

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.HTTPStatus)
	assert.Equal(t, "bad gateway", apiErr.Message)
}

func TestAnnotate_PerImageError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"responses":[{"error":{"code":3,"message":"Bad image data.","status":"INVALID_ARGUMENT"}}]}`))
	}))
	defer srv.Close()

	_, err := NewClient("k", WithBaseURL(srv.URL)).Annotate(context.Background(), []byte("img"),
		[]Feature{{Type: FeatureTextDetection}})

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 0, apiErr.HTTPStatus)
	assert.Equal(t, 3, apiErr.Code)
	assert.Equal(t, "INVALID_ARGUMENT", apiErr.Status)
}

func TestAnnotate_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resp, err := NewClient("k", WithBaseURL(srv.URL)).Annotate(ctx, []byte("img"), []Feature{{Type: FeatureTextDetection}})
	assert.Error(t, err)
	assert.Nil(t, resp)
}

func TestBlockLines(t *testing.T) {
	sym := func(text, brk string) Symbol {
		s := Symbol{Text: text}
		if brk != "" {
			s.Property = &TextProperty{DetectedBreak: &DetectedBreak{Type: brk}}
		}
		return s
	}
	b := Block{Paragraphs: []Paragraph{{Words: []Word{
		{Symbols: []Symbol{sym("M", ""), sym("o", ""), sym("d", ""), sym("e", ""), sym("l", "SPACE")}},
		{Symbols: []Symbol{sym("X", ""), sym("1", "EOL_SURE_SPACE")}},
		{Symbols: []Symbol{sym("S", ""), sym("N", "LINE_BREAK")}},
	}}}}

	assert.Equal(t, []string{"Model X1", "SN"}, b.Lines())
}

func TestAnnotate_WithHTTPClientTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	client := NewClient("k", WithBaseURL(srv.URL), WithHTTPClient(&http.Client{Timeout: 20 * time.Millisecond}))
	_, err := client.Annotate(context.Background(), []byte("img"), []Feature{{Type: FeatureLabelDetection}})
	require.Error(t, err)

	var apiErr *APIError
	assert.False(t, errors.As(err, &apiErr), "transport timeouts are not API errors")
}
