package vision

import (
	"context"
	"crypto/sha256"
	"sync/atomic"

	"github.com/sells-group/vision-cli/internal/model"
)

type cannedSet struct {
	labels []Scored
	colors []RawColor
}

var cannedSets = []cannedSet{
	{
		labels: []Scored{{"Furniture", 0.93}, {"Wood", 0.86}, {"Table", 0.81}},
		colors: []RawColor{{R: 139, G: 90, B: 43, Fraction: 0.58}, {R: 245, G: 245, B: 240, Fraction: 0.22}},
	},
	{
		labels: []Scored{{"Textile", 0.9}, {"Cotton", 0.83}, {"Outerwear", 0.78}},
		colors: []RawColor{{R: 30, G: 60, B: 200, Fraction: 0.6}, {R: 250, G: 250, B: 250, Fraction: 0.2}},
	},
	{
		labels: []Scored{{"Electronics", 0.92}, {"Plastic", 0.8}, {"Gadget", 0.74}},
		colors: []RawColor{{R: 20, G: 20, B: 20, Fraction: 0.45}, {R: 128, G: 128, B: 128, Fraction: 0.3}},
	},
	{
		labels: []Scored{{"Tableware", 0.88}, {"Ceramic", 0.82}, {"Mug", 0.77}},
		colors: []RawColor{{R: 40, G: 160, B: 60, Fraction: 0.28}, {R: 30, G: 90, B: 210, Fraction: 0.25}},
	},
}

// cannedAnnotation returns a stable annotation chosen by image content.
func cannedAnnotation(img Image) *Annotation {
	sum := sha256.Sum256(img.Data)
	set := cannedSets[int(sum[0])%len(cannedSets)]
	return &Annotation{
		Labels: append([]Scored(nil), set.labels...),
		Colors: append([]RawColor(nil), set.colors...),
	}
}

// MockProvider is an offline Provider returning canned annotations.
type MockProvider struct {
	// Err, when set, is returned by every call.
	Err error
	// Annotation, when set, replaces the canned annotation.
	Annotation *Annotation

	calls atomic.Int64
}

// Name implements Provider.
func (p *MockProvider) Name() string { return ProviderMock }

// Calls returns the number of Annotate calls.
func (p *MockProvider) Calls() int64 { return p.calls.Load() }

// Annotate implements Provider.
func (p *MockProvider) Annotate(_ context.Context, req AnnotateRequest) (*Annotation, error) {
	p.calls.Add(1)
	if p.Err != nil {
		return nil, asExtractionError(ProviderMock, p.Err)
	}
	if p.Annotation != nil {
		a := *p.Annotation
		return &a, nil
	}
	return cannedAnnotation(req.Image), nil
}

// MockExtractor is an offline Extractor with deterministic output: the same
// images always produce the same facts.
type MockExtractor struct {
	// Err, when set, is returned by every call.
	Err error
	// Facts, when set, is returned (cloned) instead of canned facts.
	Facts *model.VisualFacts

	calls atomic.Int64
}

// Name implements Extractor.
func (m *MockExtractor) Name() string { return ProviderMock }

// Calls returns the number of Extract calls.
func (m *MockExtractor) Calls() int64 { return m.calls.Load() }

// Extract implements Extractor.
func (m *MockExtractor) Extract(_ context.Context, itemID string, images []Image, opts Options) (*model.VisualFacts, error) {
	m.calls.Add(1)
	if m.Err != nil {
		return nil, asExtractionError(ProviderMock, m.Err)
	}

	var facts *model.VisualFacts
	if m.Facts != nil {
		facts = m.Facts.Clone()
	} else {
		annotations := make([]*Annotation, len(images))
		for i, img := range images {
			annotations[i] = cannedAnnotation(img)
		}
		facts = mergeAnnotations(annotations, opts)
	}
	facts.ItemID = itemID
	facts.ExtractionMeta = model.ExtractionMeta{
		Provider:    ProviderMock,
		ImageCount:  len(images),
		ImageHashes: Hashes(images),
		TimingsMs:   map[string]int64{"provider": 0, "colors": 0, "total": 0},
	}
	return facts, nil
}
