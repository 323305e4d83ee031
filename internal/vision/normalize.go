package vision

import (
	"math"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/sells-group/vision-cli/internal/model"
)

const (
	minSnippetLen   = 3
	minDocumentLine = 3
)

// NormalizeOCR turns raw tokens (and document lines, when present) into the
// capped, deduplicated, confidence-sorted snippet list.
func NormalizeOCR(tokens, lines []TextToken, opts Options) []model.OCRSnippet {
	var candidates []model.OCRSnippet
	if opts.OCRMode == OCRModeDocument && len(lines) > 0 {
		candidates = cleanSnippets(lines, opts)
		if len(candidates) < minDocumentLine {
			candidates = nil
		}
	}
	if candidates == nil {
		candidates = cleanSnippets(tokens, opts)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})
	merged := dedupeSnippets(candidates)
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Confidence > merged[j].Confidence
	})
	if opts.MaxOCRSnippets > 0 && len(merged) > opts.MaxOCRSnippets {
		merged = merged[:opts.MaxOCRSnippets]
	}
	return merged
}

func cleanSnippets(raw []TextToken, opts Options) []model.OCRSnippet {
	out := make([]model.OCRSnippet, 0, len(raw))
	for _, t := range raw {
		text := strings.Join(strings.Fields(t.Text), " ")
		if !usableSnippet(text) || t.Confidence < opts.MinOCRConfidence {
			continue
		}
		if opts.MaxSnippetLen > 0 && utf8.RuneCountInString(text) > opts.MaxSnippetLen {
			text = strings.TrimSpace(string([]rune(text)[:opts.MaxSnippetLen]))
		}
		out = append(out, model.OCRSnippet{Text: text, Confidence: t.Confidence})
	}
	return out
}

// usableSnippet keeps text of at least three runes, plus two-rune
// alphanumeric tokens that carry signal (a digit, or all caps like "LG").
func usableSnippet(text string) bool {
	n := utf8.RuneCountInString(text)
	if n >= minSnippetLen {
		return true
	}
	if n != 2 {
		return false
	}
	hasDigit, allUpper := false, true
	for _, r := range text {
		switch {
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsLetter(r):
			if !unicode.IsUpper(r) {
				allUpper = false
			}
		default:
			return false
		}
	}
	return hasDigit || allUpper
}

// dedupeSnippets merges snippets whose lower-cased text contains, or is
// contained in, an already kept snippet. The longer text survives with the
// higher confidence. Input must be sorted by confidence descending.
func dedupeSnippets(in []model.OCRSnippet) []model.OCRSnippet {
	kept := make([]model.OCRSnippet, 0, len(in))
	lowered := make([]string, 0, len(in))
	for _, s := range in {
		ls := strings.ToLower(s.Text)
		dup := false
		for i, k := range lowered {
			if !strings.Contains(k, ls) && !strings.Contains(ls, k) {
				continue
			}
			dup = true
			if utf8.RuneCountInString(s.Text) > utf8.RuneCountInString(kept[i].Text) {
				kept[i].Text = s.Text
				lowered[i] = ls
			}
			kept[i].Confidence = math.Max(kept[i].Confidence, s.Confidence)
			break
		}
		if !dup {
			kept = append(kept, s)
			lowered = append(lowered, ls)
		}
	}
	return kept
}

// normalizeScored filters by floor, dedupes case-insensitively keeping the
// highest score, sorts by score descending and caps.
func normalizeScored(raw []Scored, floor float64, max int) []Scored {
	best := make(map[string]int)
	out := make([]Scored, 0, len(raw))
	for _, s := range raw {
		name := strings.TrimSpace(s.Name)
		if name == "" || s.Score < floor {
			continue
		}
		key := strings.ToLower(name)
		if i, ok := best[key]; ok {
			if s.Score > out[i].Score {
				out[i] = Scored{Name: name, Score: s.Score}
			}
			continue
		}
		best[key] = len(out)
		out = append(out, Scored{Name: name, Score: s.Score})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return out
}

// NormalizeLabels applies the label floor and cap.
func NormalizeLabels(raw []Scored, opts Options) []model.LabelHint {
	scored := normalizeScored(raw, opts.MinLabelConfidence, opts.MaxLabelHints)
	out := make([]model.LabelHint, len(scored))
	for i, s := range scored {
		out[i] = model.LabelHint{Label: s.Name, Score: s.Score}
	}
	return out
}

// NormalizeLogos applies the logo floor and cap.
func NormalizeLogos(raw []Scored, opts Options) []model.LogoHint {
	scored := normalizeScored(raw, opts.MinLogoConfidence, opts.MaxLogoHints)
	out := make([]model.LogoHint, len(scored))
	for i, s := range scored {
		out[i] = model.LogoHint{Brand: s.Name, Score: s.Score}
	}
	return out
}

// SwatchesFromRaw names raw provider colors. Fractions become percentages.
func SwatchesFromRaw(raw []RawColor) []model.ColorSwatch {
	out := make([]model.ColorSwatch, 0, len(raw))
	for _, c := range raw {
		if c.Fraction <= 0 {
			continue
		}
		out = append(out, model.ColorSwatch{
			Name: ColorName(c.R, c.G, c.B),
			Hex:  Hex(c.R, c.G, c.B),
			Pct:  c.Fraction * 100,
		})
	}
	return out
}

// NormalizeColors merges swatches by name (the hex of the largest
// contributor is kept), rescales so percentages sum to at most 100, sorts
// by percentage descending and caps.
func NormalizeColors(in []model.ColorSwatch, max int) []model.ColorSwatch {
	type acc struct {
		swatch  model.ColorSwatch
		largest float64
	}
	byName := make(map[string]*acc)
	order := make([]string, 0, len(in))
	total := 0.0
	for _, s := range in {
		if s.Pct <= 0 || s.Name == "" {
			continue
		}
		total += s.Pct
		a, ok := byName[s.Name]
		if !ok {
			byName[s.Name] = &acc{swatch: s, largest: s.Pct}
			order = append(order, s.Name)
			continue
		}
		a.swatch.Pct += s.Pct
		if s.Pct > a.largest {
			a.largest = s.Pct
			a.swatch.Hex = s.Hex
		}
	}

	scale := 1.0
	if total > 100 {
		scale = 100 / total
	}
	out := make([]model.ColorSwatch, 0, len(order))
	for _, name := range order {
		s := byName[name].swatch
		s.Pct = math.Floor(s.Pct*scale*10) / 10
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Pct > out[j].Pct })
	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return out
}
