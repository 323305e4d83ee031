package main

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/vision-cli/internal/merge"
	"github.com/sells-group/vision-cli/internal/model"
	"github.com/sells-group/vision-cli/internal/resolve"
	"github.com/sells-group/vision-cli/internal/server"
	"github.com/sells-group/vision-cli/internal/vision"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("VISION_LOG_LEVEL", "error")
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"serve", "extract", "resolve", "summary"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "vision-cli", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestExtractCommand_Flags(t *testing.T) {
	for _, name := range []string{"mock", "item-id", "domain-pack", "enrich", "facts"} {
		assert.NotNil(t, extractCmd.Flags().Lookup(name), "extract should have --%s flag", name)
	}
	assert.Equal(t, "true", extractCmd.Flags().Lookup("enrich").DefValue)
}

func TestSummaryCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range summaryCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["format"])
	assert.True(t, names["parse"])
}

func writePNG(t *testing.T, dir, name string, c color.RGBA) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for x := 0; x < 8; x++ {
		for y := 0; y < 8; y++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
	return path
}

func TestExtractCommand_Mock(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writePNG(t, t.TempDir(), "chair.png", color.RGBA{R: 20, G: 40, B: 200, A: 255})

	out, err := execute(t, "", "extract", "--mock", "--facts", path)
	require.NoError(t, err)

	var res model.ClassificationResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, vision.ProviderMock, res.Provider)
	assert.NotEmpty(t, res.RequestID)
	require.NotNil(t, res.VisionStats)
	assert.True(t, res.VisionStats.Attempted)
	require.NotNil(t, res.VisualFacts)
	assert.Equal(t, "chair.png", res.VisualFacts.ItemID)
	assert.Equal(t, 1, res.VisualFacts.ExtractionMeta.ImageCount)
}

func TestExtractCommand_MissingFile(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := execute(t, "", "extract", "--mock", filepath.Join(t.TempDir(), "missing.jpg"))
	assert.Error(t, err)
}

func TestResolveCommand(t *testing.T) {
	t.Chdir(t.TempDir())
	facts := model.VisualFacts{
		LogoHints:      []model.LogoHint{{Brand: "IKEA", Score: 0.9}},
		DominantColors: []model.ColorSwatch{{Name: "blue", Hex: "#1E3CC8", Pct: 60}, {Name: "white", Hex: "#FAFAFA", Pct: 20}},
	}
	data, err := json.Marshal(facts)
	require.NoError(t, err)

	out, err := execute(t, string(data), "resolve")
	require.NoError(t, err)

	var res resolve.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.NotNil(t, res.Brand)
	assert.Equal(t, "IKEA", res.Brand.Value)
	assert.Equal(t, model.ConfidenceHigh, res.Brand.ConfidenceTier)
	require.NotNil(t, res.Color)
	assert.Equal(t, "blue", res.Color.Value)
	assert.Nil(t, res.SecondaryColor)
}

func TestResolveCommand_Structured(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "facts.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"logo_hints":[{"brand":"Sony","score":0.95}]}`), 0o600))

	out, err := execute(t, "", "resolve", "--structured", path)
	t.Cleanup(func() { resolveStructured = false })
	require.NoError(t, err)

	var attrs []model.StructuredAttribute
	require.NoError(t, json.Unmarshal([]byte(out), &attrs))
	require.NotEmpty(t, attrs)
	assert.Equal(t, model.KeyBrand, attrs[0].Key)
	assert.Equal(t, "Sony", attrs[0].Value)
	assert.Equal(t, model.SourceDetected, attrs[0].Source)
}

func TestResolveCommand_BadJSON(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := execute(t, "{not json", "resolve")
	assert.Error(t, err)
}

func TestSummaryCommands_RoundTrip(t *testing.T) {
	t.Chdir(t.TempDir())
	attrs := []model.StructuredAttribute{
		{Key: model.KeyColor, Value: "blue", Source: model.SourceDetected, Confidence: model.ConfidenceHigh},
		{Key: model.KeyBrand, Value: "IKEA", Source: model.SourceDetected, Confidence: model.ConfidenceHigh},
	}
	data, err := json.Marshal(attrs)
	require.NoError(t, err)

	text, err := execute(t, string(data), "summary", "format")
	require.NoError(t, err)
	assert.Equal(t, "Brand: IKEA\nColor: blue\n", text)

	out, err := execute(t, text, "summary", "parse")
	require.NoError(t, err)
	var entries []merge.SummaryEntry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	assert.Equal(t, []merge.SummaryEntry{{Key: "brand", Value: "IKEA"}, {Key: "color", Value: "blue"}}, entries)
}

func TestSweepLimiters_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweepLimiters(ctx, server.Limiters{}, time.Millisecond)
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweepLimiters did not stop after cancel")
	}
}
