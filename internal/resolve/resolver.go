// Package resolve derives brand, model, color and material attributes from
// VisualFacts. Resolution is a pure function of its input.
package resolve

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/sells-group/vision-cli/internal/model"
)

// Thresholds used by the resolution rules.
const (
	logoMinScore       = 0.5
	logoHighScore      = 0.8
	ocrHighConfidence  = 0.8
	brandMinLen        = 2
	brandMaxLen        = 25
	brandPrefixMinLen  = 3
	modelMinLen        = 3
	modelMaxLen        = 30
	colorDominantPct   = 40
	colorLeadPct       = 25
	colorLeadRatio     = 1.5
	colorHighPct       = 50
	colorSecondaryPct  = 15
	materialMinScore   = 0.6
	materialHighScore  = 0.8
	percentToScoreUnit = 100
)

// Photo hints returned in Result.SuggestedNextPhoto.
const (
	HintBrand = "Take a close-up photo of the brand label or logo."
	HintModel = "Take a photo of the model number or product tag."
	HintColor = "Take a photo in natural light so the main color is clear."
)

var (
	skuRe         = regexp.MustCompile(`^[A-Za-z0-9]+(?:[-./ ][A-Za-z0-9]+)*$`)
	strongModelRe = regexp.MustCompile(`^[A-Za-z]{1,4}[- ]?\d{2,}[A-Za-z0-9-]*$`)
	measurementRe = regexp.MustCompile(`^(\d+(?:[.,]\d+)?)\s*([A-Za-z]+)$`)
)

// Result is the set of attributes resolved from one VisualFacts value. Nil
// slots were not resolved.
type Result struct {
	Brand              *model.ResolvedAttribute `json:"brand,omitempty"`
	Model              *model.ResolvedAttribute `json:"model,omitempty"`
	Color              *model.ResolvedAttribute `json:"color,omitempty"`
	SecondaryColor     *model.ResolvedAttribute `json:"secondary_color,omitempty"`
	Material           *model.ResolvedAttribute `json:"material,omitempty"`
	SuggestedNextPhoto string                   `json:"suggested_next_photo,omitempty"`
}

// Slots returns the resolved attributes keyed by attribute key, skipping
// unresolved slots.
func (r Result) Slots() map[string]*model.ResolvedAttribute {
	out := make(map[string]*model.ResolvedAttribute, 5)
	for key, attr := range map[string]*model.ResolvedAttribute{
		model.KeyBrand:          r.Brand,
		model.KeyModel:          r.Model,
		model.KeyColor:          r.Color,
		model.KeySecondaryColor: r.SecondaryColor,
		model.KeyMaterial:       r.Material,
	} {
		if attr != nil {
			out[key] = attr
		}
	}
	return out
}

type brandEntry struct {
	name    string
	compact string
	words   []string
}

// Resolver applies the resolution rules using a Lexicon.
type Resolver struct {
	brands        []brandEntry
	generic       map[string]bool
	units         map[string]bool
	modelKeywords map[string]bool
	materials     []materialEntry
}

type materialEntry struct {
	name     string
	keywords []string
}

// New builds a Resolver. A nil lexicon uses the embedded default.
func New(lex *Lexicon) (*Resolver, error) {
	if lex == nil {
		var err error
		if lex, err = DefaultLexicon(); err != nil {
			return nil, err
		}
	}
	r := &Resolver{
		generic:       toSet(lex.GenericWords),
		units:         toSet(lex.UnitWords),
		modelKeywords: toSet(lex.ModelKeywords),
	}
	for _, b := range lex.Brands {
		c := compact(b)
		if c == "" {
			continue
		}
		r.brands = append(r.brands, brandEntry{name: b, compact: c, words: words(b)})
	}
	for _, name := range lex.materialNames() {
		kws := make([]string, 0, len(lex.Materials[name]))
		for _, kw := range lex.Materials[name] {
			kws = append(kws, fold(kw))
		}
		r.materials = append(r.materials, materialEntry{name: name, keywords: kws})
	}
	return r, nil
}

func toSet(list []string) map[string]bool {
	out := make(map[string]bool, len(list))
	for _, w := range list {
		out[fold(strings.TrimSpace(w))] = true
	}
	return out
}

// Resolve derives attributes from facts.
func (r *Resolver) Resolve(facts *model.VisualFacts) Result {
	if facts == nil {
		return Result{SuggestedNextPhoto: HintBrand}
	}
	var res Result
	res.Brand = r.resolveBrand(facts)
	res.Model = r.resolveModel(facts)
	res.Color, res.SecondaryColor = resolveColor(facts.DominantColors)
	res.Material = r.resolveMaterial(facts.LabelHints)
	res.SuggestedNextPhoto = suggestNextPhoto(res)
	return res
}

func (r *Resolver) resolveBrand(facts *model.VisualFacts) *model.ResolvedAttribute {
	var best *model.LogoHint
	for i := range facts.LogoHints {
		l := &facts.LogoHints[i]
		if l.Score < logoMinScore || IsJunkBrand(l.Brand) {
			continue
		}
		if best == nil || l.Score > best.Score {
			best = l
		}
	}
	if best != nil {
		tier := model.ConfidenceMed
		if best.Score >= logoHighScore {
			tier = model.ConfidenceHigh
		}
		return &model.ResolvedAttribute{
			Value:          NormalizeBrand(best.Brand),
			ConfidenceTier: tier,
			EvidenceRefs:   []model.EvidenceRef{model.NewEvidence(model.EvidenceLogo, best.Brand, best.Score)},
		}
	}

	for _, s := range facts.OCRSnippets {
		if name, ok := r.matchBrand(s.Text); ok {
			tier := model.ConfidenceMed
			if s.Confidence >= ocrHighConfidence {
				tier = model.ConfidenceHigh
			}
			return &model.ResolvedAttribute{
				Value:          name,
				ConfidenceTier: tier,
				EvidenceRefs:   []model.EvidenceRef{model.NewEvidence(model.EvidenceOCR, s.Text, s.Confidence)},
			}
		}
	}

	for _, s := range facts.OCRSnippets {
		if r.looksLikeBrand(s.Text) {
			return &model.ResolvedAttribute{
				Value:          NormalizeBrand(s.Text),
				ConfidenceTier: model.ConfidenceLow,
				EvidenceRefs:   []model.EvidenceRef{model.NewEvidence(model.EvidenceOCR, s.Text, s.Confidence)},
			}
		}
	}
	return nil
}

// matchBrand finds a dictionary brand in text. The snippet matches when its
// first words equal the brand's words, or when its leading words run
// together equal a brand of at least three characters ("Levis 501",
// "De Longhi"). A brand never matches part of a word, so "Dellwood" is
// not Dell.
func (r *Resolver) matchBrand(text string) (string, bool) {
	ws := words(text)
	if len(ws) == 0 {
		return "", false
	}
	for _, b := range r.brands {
		if len(b.words) > 0 && len(ws) >= len(b.words) && equalWords(ws[:len(b.words)], b.words) {
			return b.name, true
		}
		if len(b.compact) >= brandPrefixMinLen && joinsTo(ws, b.compact) {
			return b.name, true
		}
	}
	return "", false
}

// joinsTo reports whether some run of leading words, compacted and
// concatenated, equals target.
func joinsTo(ws []string, target string) bool {
	var joined string
	for _, w := range ws {
		joined += compact(w)
		if len(joined) >= len(target) {
			return joined == target
		}
		if !strings.HasPrefix(target, joined) {
			return false
		}
	}
	return false
}

func equalWords(a, b []string) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// looksLikeBrand accepts capitalized text of 2 to 25 characters that is not
// made of generic, unit or numeric words, not a model number and not a junk value.
func (r *Resolver) looksLikeBrand(text string) bool {
	text = strings.TrimSpace(text)
	n := utf8.RuneCountInString(text)
	if n < brandMinLen || n > brandMaxLen {
		return false
	}
	first, _ := utf8.DecodeRuneInString(text)
	if !unicode.IsUpper(first) {
		return false
	}
	if IsJunkBrand(text) || r.isModelNumber(text) {
		return false
	}
	ws := words(text)
	if len(ws) == 0 {
		return false
	}
	allCommon := true
	for _, w := range ws {
		if !r.generic[w] && !r.units[w] && !r.modelKeywords[w] && !isNumber(w) {
			allCommon = false
			break
		}
	}
	return !allCommon
}

func (r *Resolver) isModelNumber(text string) bool {
	return strongModelRe.MatchString(text) || (hasDigit(text) && skuRe.MatchString(text) && !hasLetterWord(text))
}

// hasLetterWord reports whether text has a word made only of letters with
// at least three of them, as brand names like "Series 7" do.
func hasLetterWord(text string) bool {
	for _, w := range strings.Fields(text) {
		if utf8.RuneCountInString(w) < 3 {
			continue
		}
		letters := true
		for _, r := range w {
			if !unicode.IsLetter(r) {
				letters = false
				break
			}
		}
		if letters {
			return true
		}
	}
	return false
}

func isNumber(s string) bool {
	return strings.TrimFunc(s, unicode.IsDigit) == ""
}

func hasDigit(s string) bool {
	return strings.IndexFunc(s, unicode.IsDigit) >= 0
}

func (r *Resolver) resolveModel(facts *model.VisualFacts) *model.ResolvedAttribute {
	keyword := false
	for _, s := range facts.OCRSnippets {
		for _, w := range words(s.Text) {
			if r.modelKeywords[w] {
				keyword = true
			}
		}
	}

	for _, s := range facts.OCRSnippets {
		candidate := r.modelCandidate(s.Text)
		if candidate == "" {
			continue
		}
		strong := strongModelRe.MatchString(candidate)
		var tier model.ConfidenceTier
		switch {
		case strong && keyword:
			tier = model.ConfidenceHigh
		case strong || keyword:
			tier = model.ConfidenceMed
		default:
			return nil
		}
		return &model.ResolvedAttribute{
			Value:          candidate,
			ConfidenceTier: tier,
			EvidenceRefs:   []model.EvidenceRef{model.NewEvidence(model.EvidenceOCR, s.Text, s.Confidence)},
		}
	}
	return nil
}

// modelCandidate returns the SKU-like part of text, dropping a leading
// model keyword ("Model: AB1234" gives "AB1234"), or "" when text does not
// look like a model number.
func (r *Resolver) modelCandidate(text string) string {
	text = strings.TrimSpace(text)
	if fields := strings.Fields(text); len(fields) > 1 {
		head := strings.TrimRight(fold(fields[0]), ":#.")
		if r.modelKeywords[head] {
			text = strings.TrimLeft(strings.TrimSpace(text[len(fields[0]):]), ":#. ")
		}
	}
	n := utf8.RuneCountInString(text)
	if n < modelMinLen || n > modelMaxLen || !hasDigit(text) || !skuRe.MatchString(text) {
		return ""
	}
	if m := measurementRe.FindStringSubmatch(text); m != nil && r.units[fold(m[2])] {
		return ""
	}
	return text
}

func resolveColor(colors []model.ColorSwatch) (primary, secondary *model.ResolvedAttribute) {
	if len(colors) == 0 {
		return nil, nil
	}
	sorted := append([]model.ColorSwatch(nil), colors...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Pct > sorted[j].Pct })

	top := sorted[0]
	var runnerPct float64
	if len(sorted) > 1 {
		runnerPct = sorted[1].Pct
	}

	switch {
	case top.Pct >= colorDominantPct || (top.Pct >= colorLeadPct && top.Pct >= colorLeadRatio*runnerPct):
		tier := model.ConfidenceMed
		if top.Pct >= colorHighPct {
			tier = model.ConfidenceHigh
		}
		return colorAttribute(top, tier), nil
	case len(sorted) > 1 && runnerPct >= colorSecondaryPct:
		return colorAttribute(top, model.ConfidenceLow), colorAttribute(sorted[1], model.ConfidenceLow)
	default:
		return colorAttribute(top, model.ConfidenceMed), nil
	}
}

func colorAttribute(c model.ColorSwatch, tier model.ConfidenceTier) *model.ResolvedAttribute {
	return &model.ResolvedAttribute{
		Value:          c.Name,
		ConfidenceTier: tier,
		EvidenceRefs:   []model.EvidenceRef{model.NewEvidence(model.EvidenceColor, c.Name, c.Pct/percentToScoreUnit)},
	}
}

func (r *Resolver) resolveMaterial(labels []model.LabelHint) *model.ResolvedAttribute {
	for _, l := range labels {
		if l.Score < materialMinScore {
			continue
		}
		name := r.materialFor(l.Label)
		if name == "" {
			continue
		}
		tier := model.ConfidenceLow
		if l.Score >= materialHighScore {
			tier = model.ConfidenceMed
		}
		return &model.ResolvedAttribute{
			Value:          name,
			ConfidenceTier: tier,
			EvidenceRefs:   []model.EvidenceRef{model.NewEvidence(model.EvidenceLabel, l.Label, l.Score)},
		}
	}
	return nil
}

// materialFor returns the material named by label. Keywords of four or more
// letters also match as a word prefix or suffix ("wooden", "hardwood");
// shorter ones must match a whole word.
func (r *Resolver) materialFor(label string) string {
	ws := words(label)
	for _, m := range r.materials {
		for _, kw := range m.keywords {
			for _, w := range ws {
				if w == kw || (len(kw) >= 4 && (strings.HasPrefix(w, kw) || strings.HasSuffix(w, kw))) {
					return m.name
				}
			}
		}
	}
	return ""
}

func suggestNextPhoto(res Result) string {
	switch {
	case res.Brand == nil || res.Brand.ConfidenceTier == model.ConfidenceLow:
		return HintBrand
	case res.Model == nil || res.Model.ConfidenceTier == model.ConfidenceLow:
		return HintModel
	case res.SecondaryColor != nil:
		return HintColor
	default:
		return ""
	}
}
