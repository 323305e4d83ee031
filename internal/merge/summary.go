package merge

import (
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/vision-cli/internal/model"
)

// canonicalOrder is the display order of known keys. Other keys follow
// alphabetically.
var canonicalOrder = []string{
	model.KeyCategory,
	model.KeyBrand,
	model.KeyProductType,
	model.KeyModel,
	model.KeyColor,
	model.KeySecondaryColor,
	model.KeySize,
	model.KeyMaterial,
	model.KeyCondition,
}

var canonicalRank = func() map[string]int {
	m := make(map[string]int, len(canonicalOrder))
	for i, k := range canonicalOrder {
		m[k] = i
	}
	return m
}()

// SummaryEntry is one parsed "Label: value" line.
type SummaryEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// FormatSummaryText renders attributes as "Label: value" lines. The text
// parses back to the same entries only for lower snake_case keys and
// single-line values; the HTTP layer rejects anything else.
func FormatSummaryText(attrs []model.StructuredAttribute) string {
	sorted := append([]model.StructuredAttribute(nil), attrs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		ri, iKnown := canonicalRank[sorted[i].Key]
		rj, jKnown := canonicalRank[sorted[j].Key]
		switch {
		case iKnown && jKnown:
			return ri < rj
		case iKnown != jKnown:
			return iKnown
		default:
			return sorted[i].Key < sorted[j].Key
		}
	})

	lines := make([]string, 0, len(sorted))
	for _, a := range sorted {
		lines = append(lines, Label(a.Key)+": "+a.Value)
	}
	return strings.Join(lines, "\n")
}

// Label turns an attribute key into a display label: "secondary_color"
// becomes "Secondary Color".
func Label(key string) string {
	return cases.Title(language.English).String(strings.ReplaceAll(key, "_", " "))
}

// Key turns a display label back into an attribute key.
func Key(label string) string {
	return strings.Join(strings.Fields(strings.ToLower(label)), "_")
}

// ParseSummaryText splits each line on its first colon into a key and a
// value. Lines without a colon or with an empty label are skipped.
func ParseSummaryText(text string) []SummaryEntry {
	var out []SummaryEntry
	for _, line := range strings.Split(text, "\n") {
		label, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key := Key(label)
		if key == "" {
			continue
		}
		out = append(out, SummaryEntry{Key: key, Value: strings.TrimSpace(value)})
	}
	return out
}

// ApplySummaryEdit applies user-edited summary text. Changed and added keys
// become USER/HIGH, keys whose line was removed or emptied are dropped,
// pending suggestions are cleared and the summary is marked user-edited.
func ApplySummaryEdit(state model.ItemEnrichmentState, text string, now time.Time) model.ItemEnrichmentState {
	out := state.Clone()
	current := make(map[string]model.StructuredAttribute, len(out.AttributesStructured))
	for _, a := range out.AttributesStructured {
		current[a.Key] = a
	}

	var attrs []model.StructuredAttribute
	seen := make(map[string]bool)
	for _, e := range ParseSummaryText(text) {
		if e.Value == "" || seen[e.Key] {
			continue
		}
		seen[e.Key] = true
		if ex, ok := current[e.Key]; ok && ex.Value == e.Value {
			attrs = append(attrs, ex)
			continue
		}
		attrs = append(attrs, model.StructuredAttribute{
			Key:        e.Key,
			Value:      e.Value,
			Source:     model.SourceUser,
			Confidence: model.ConfidenceHigh,
			UpdatedAt:  now,
		})
	}

	out.AttributesStructured = attrs
	out.SummaryText = strings.TrimSpace(text)
	out.SummaryTextUserEdited = true
	out.SuggestedAdditions = nil
	return out
}
