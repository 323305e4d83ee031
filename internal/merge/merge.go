// Package merge applies detected attributes to an item's attribute set
// without overwriting user corrections, and converts attribute sets to and
// from editable summary text.
package merge

import (
	"fmt"
	"time"

	"github.com/sells-group/vision-cli/internal/model"
	"github.com/sells-group/vision-cli/internal/resolve"
)

// confidenceMargin is the tier-score difference needed for confidence alone
// to decide a replacement.
const confidenceMargin = 0.1

// ShouldReplace reports whether incoming should replace existing for the
// same key. A USER value is never replaced by a non-USER value.
func ShouldReplace(existing, incoming model.StructuredAttribute) bool {
	if existing.Source == model.SourceUser && incoming.Source != model.SourceUser {
		return false
	}
	if ip, ep := incoming.Source.Priority(), existing.Source.Priority(); ip != ep {
		return ip > ep
	}
	diff := incoming.Confidence.Score() - existing.Confidence.Score()
	if diff > confidenceMargin {
		return true
	}
	if diff < -confidenceMargin {
		return false
	}
	if ie, ee := len(incoming.Evidence), len(existing.Evidence); ie != ee {
		return ie > ee
	}
	return incoming.UpdatedAt.After(existing.UpdatedAt)
}

// MergeAttributes appends incoming keys that are absent and replaces
// present ones when ShouldReplace allows it. existing is not modified.
func MergeAttributes(existing, incoming []model.StructuredAttribute) []model.StructuredAttribute {
	out := append([]model.StructuredAttribute(nil), existing...)
	index := make(map[string]int, len(out))
	for i, a := range out {
		index[a.Key] = i
	}
	for _, in := range incoming {
		i, ok := index[in.Key]
		if !ok {
			index[in.Key] = len(out)
			out = append(out, in)
			continue
		}
		if ShouldReplace(out[i], in) {
			out[i] = in
		}
	}
	return out
}

// ComputeSuggestedAdditions lists the changes a merge would make, for
// review when automated merging is suppressed: new keys become "add"
// suggestions and improvable non-USER keys become "replace" suggestions.
func ComputeSuggestedAdditions(existing, incoming []model.StructuredAttribute) []model.SuggestedAddition {
	current := make(map[string]model.StructuredAttribute, len(existing))
	for _, a := range existing {
		current[a.Key] = a
	}
	var out []model.SuggestedAddition
	for _, in := range incoming {
		ex, ok := current[in.Key]
		switch {
		case !ok:
			out = append(out, model.SuggestedAddition{
				Attribute: in,
				Reason:    fmt.Sprintf("Detected %s from photo (%s confidence)", in.Key, in.Confidence),
				Action:    model.SuggestionAdd,
			})
		case ex.Source != model.SourceUser && ex.Value != in.Value && ShouldReplace(ex, in):
			out = append(out, model.SuggestedAddition{
				Attribute:     in,
				Reason:        fmt.Sprintf("Photo suggests a different %s (%s confidence)", in.Key, in.Confidence),
				Action:        model.SuggestionReplace,
				ExistingValue: ex.Value,
			})
		default:
			continue
		}
		current[in.Key] = in
	}
	return out
}

// ApplyDetections applies freshly detected attributes to state. When the
// summary was edited by the user the attributes are left untouched and the
// changes are queued as suggestions; otherwise they are merged and the
// summary text is regenerated.
func ApplyDetections(state model.ItemEnrichmentState, incoming []model.StructuredAttribute, now time.Time) model.ItemEnrichmentState {
	out := state.Clone()
	if out.SummaryTextUserEdited {
		out.SuggestedAdditions = queueSuggestions(out.SuggestedAdditions, ComputeSuggestedAdditions(out.AttributesStructured, incoming))
	} else {
		out.AttributesStructured = MergeAttributes(out.AttributesStructured, incoming)
		out.SummaryText = FormatSummaryText(out.AttributesStructured)
	}
	out.LastEnrichmentAt = &now
	return out
}

// queueSuggestions appends fresh suggestions, replacing pending ones for
// the same key.
func queueSuggestions(pending, fresh []model.SuggestedAddition) []model.SuggestedAddition {
	out := append([]model.SuggestedAddition(nil), pending...)
	for _, s := range fresh {
		replaced := false
		for i := range out {
			if out[i].Attribute.Key == s.Attribute.Key {
				out[i] = s
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, s)
		}
	}
	return out
}

func suggestionIndex(state model.ItemEnrichmentState, key string) (int, error) {
	for i, s := range state.SuggestedAdditions {
		if s.Attribute.Key == key {
			return i, nil
		}
	}
	return -1, model.NewError(model.ErrValidation, fmt.Sprintf("merge: no pending suggestion for %q", key), nil)
}

// AcceptSuggestion merges the pending suggestion for key into the
// attributes, regenerates the summary text and removes the suggestion.
func AcceptSuggestion(state model.ItemEnrichmentState, key string, now time.Time) (model.ItemEnrichmentState, error) {
	i, err := suggestionIndex(state, key)
	if err != nil {
		return state, err
	}
	out := state.Clone()
	attr := out.SuggestedAdditions[i].Attribute
	attr.UpdatedAt = now
	out.SuggestedAdditions = append(out.SuggestedAdditions[:i], out.SuggestedAdditions[i+1:]...)
	out.AttributesStructured = MergeAttributes(out.AttributesStructured, []model.StructuredAttribute{attr})
	out.SummaryText = FormatSummaryText(out.AttributesStructured)
	return out, nil
}

// DismissSuggestion removes the pending suggestion for key.
func DismissSuggestion(state model.ItemEnrichmentState, key string) (model.ItemEnrichmentState, error) {
	i, err := suggestionIndex(state, key)
	if err != nil {
		return state, err
	}
	out := state.Clone()
	out.SuggestedAdditions = append(out.SuggestedAdditions[:i], out.SuggestedAdditions[i+1:]...)
	return out, nil
}

// FromResolved converts resolver output into DETECTED structured
// attributes in canonical key order.
func FromResolved(res resolve.Result, now time.Time) []model.StructuredAttribute {
	slots := []struct {
		key  string
		attr *model.ResolvedAttribute
	}{
		{model.KeyBrand, res.Brand},
		{model.KeyModel, res.Model},
		{model.KeyColor, res.Color},
		{model.KeySecondaryColor, res.SecondaryColor},
		{model.KeyMaterial, res.Material},
	}
	var out []model.StructuredAttribute
	for _, s := range slots {
		if s.attr == nil {
			continue
		}
		out = append(out, model.StructuredAttribute{
			Key:        s.key,
			Value:      s.attr.Value,
			Source:     model.SourceDetected,
			Confidence: s.attr.ConfidenceTier,
			Evidence:   append([]model.EvidenceRef(nil), s.attr.EvidenceRefs...),
			UpdatedAt:  now,
		})
	}
	return out
}
