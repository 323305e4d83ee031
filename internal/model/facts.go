package model

// ColorSwatch is one dominant color bucket in an image.
type ColorSwatch struct {
	Name string  `json:"name"`
	Hex  string  `json:"hex"`
	Pct  float64 `json:"pct"`
}

// OCRSnippet is a normalized piece of detected text.
type OCRSnippet struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// LabelHint is an object or scene label with its provider score.
type LabelHint struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// LogoHint is a detected brand logo with its provider score.
type LogoHint struct {
	Brand string  `json:"brand"`
	Score float64 `json:"score"`
}

// ExtractionMeta describes how a VisualFacts value was produced.
type ExtractionMeta struct {
	Provider    string           `json:"provider"`
	TimingsMs   map[string]int64 `json:"timings_ms,omitempty"`
	ImageCount  int              `json:"image_count"`
	ImageHashes []string         `json:"image_hashes"`
	CacheHit    bool             `json:"cache_hit"`
}

// VisualFacts is the canonical, provider-agnostic extraction result for the
// images of one item. Values are treated as immutable once produced; use
// Clone before changing anything on a shared (cached) instance.
type VisualFacts struct {
	ItemID         string         `json:"item_id,omitempty"`
	DominantColors []ColorSwatch  `json:"dominant_colors"`
	OCRSnippets    []OCRSnippet   `json:"ocr_snippets"`
	LabelHints     []LabelHint    `json:"label_hints"`
	LogoHints      []LogoHint     `json:"logo_hints,omitempty"`
	ExtractionMeta ExtractionMeta `json:"extraction_meta"`
}

// Clone returns a deep copy of f.
func (f *VisualFacts) Clone() *VisualFacts {
	if f == nil {
		return nil
	}
	out := *f
	out.DominantColors = append([]ColorSwatch(nil), f.DominantColors...)
	out.OCRSnippets = append([]OCRSnippet(nil), f.OCRSnippets...)
	out.LabelHints = append([]LabelHint(nil), f.LabelHints...)
	out.LogoHints = append([]LogoHint(nil), f.LogoHints...)
	out.ExtractionMeta.ImageHashes = append([]string(nil), f.ExtractionMeta.ImageHashes...)
	if f.ExtractionMeta.TimingsMs != nil {
		out.ExtractionMeta.TimingsMs = make(map[string]int64, len(f.ExtractionMeta.TimingsMs))
		for k, v := range f.ExtractionMeta.TimingsMs {
			out.ExtractionMeta.TimingsMs[k] = v
		}
	}
	return &out
}

// OCRTexts returns the snippet texts in their stored order.
func (f *VisualFacts) OCRTexts() []string {
	texts := make([]string, len(f.OCRSnippets))
	for i, s := range f.OCRSnippets {
		texts[i] = s.Text
	}
	return texts
}
