package model

import "time"

// SuggestionAction is what accepting a suggestion would do.
type SuggestionAction string

const (
	SuggestionAdd     SuggestionAction = "add"
	SuggestionReplace SuggestionAction = "replace"
)

// SuggestedAddition is a proposed attribute change awaiting explicit user
// acceptance.
type SuggestedAddition struct {
	Attribute     StructuredAttribute `json:"attribute"`
	Reason        string              `json:"reason"`
	Action        SuggestionAction    `json:"action"`
	ExistingValue string              `json:"existing_value,omitempty"`
}

// ItemEnrichmentState is the attribute state of a single item.
//
// Once SummaryTextUserEdited is true, automated processes only append to
// SuggestedAdditions; AttributesStructured changes through user actions only.
type ItemEnrichmentState struct {
	AttributesStructured  []StructuredAttribute `json:"attributes_structured"`
	SummaryText           string                `json:"summary_text"`
	SummaryTextUserEdited bool                  `json:"summary_text_user_edited"`
	SuggestedAdditions    []SuggestedAddition   `json:"suggested_additions"`
	LastEnrichmentAt      *time.Time            `json:"last_enrichment_at,omitempty"`
}

// Attribute returns the active attribute for key, if any.
func (s *ItemEnrichmentState) Attribute(key string) (StructuredAttribute, bool) {
	for _, a := range s.AttributesStructured {
		if a.Key == key {
			return a, true
		}
	}
	return StructuredAttribute{}, false
}

// Clone returns a copy whose slices can be modified without touching s.
func (s ItemEnrichmentState) Clone() ItemEnrichmentState {
	out := s
	out.AttributesStructured = append([]StructuredAttribute(nil), s.AttributesStructured...)
	out.SuggestedAdditions = append([]SuggestedAddition(nil), s.SuggestedAdditions...)
	if s.LastEnrichmentAt != nil {
		t := *s.LastEnrichmentAt
		out.LastEnrichmentAt = &t
	}
	return out
}
