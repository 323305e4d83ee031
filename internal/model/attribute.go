package model

import "time"

// ConfidenceTier is a coarse, explainable confidence bucket.
type ConfidenceTier string

const (
	ConfidenceHigh ConfidenceTier = "HIGH"
	ConfidenceMed  ConfidenceTier = "MED"
	ConfidenceLow  ConfidenceTier = "LOW"
)

// Score maps a tier to the numeric value used for sorting and comparison.
func (t ConfidenceTier) Score() float64 {
	switch t {
	case ConfidenceHigh:
		return 0.9
	case ConfidenceMed:
		return 0.65
	case ConfidenceLow:
		return 0.35
	default:
		return 0
	}
}

// Valid reports whether t is one of the known tiers.
func (t ConfidenceTier) Valid() bool {
	return t == ConfidenceHigh || t == ConfidenceMed || t == ConfidenceLow
}

// AttributeSource records who produced a structured attribute value.
type AttributeSource string

const (
	SourceUser     AttributeSource = "USER"
	SourceDetected AttributeSource = "DETECTED"
	SourceDefault  AttributeSource = "DEFAULT"
	SourceUnknown  AttributeSource = "UNKNOWN"
)

// Priority returns the merge precedence of the source. Higher wins.
func (s AttributeSource) Priority() int {
	switch s {
	case SourceUser:
		return 3
	case SourceDetected:
		return 2
	case SourceDefault:
		return 1
	default:
		return 0
	}
}

// EvidenceType identifies the raw signal family behind an attribute.
type EvidenceType string

const (
	EvidenceLogo  EvidenceType = "logo"
	EvidenceOCR   EvidenceType = "ocr"
	EvidenceColor EvidenceType = "color"
	EvidenceLabel EvidenceType = "label"
)

// EvidenceRef points from a resolved attribute back to the signal that
// justified it.
type EvidenceRef struct {
	Type  EvidenceType `json:"type"`
	Value string       `json:"value"`
	Score *float64     `json:"score,omitempty"`
}

// NewEvidence builds an EvidenceRef with a score.
func NewEvidence(typ EvidenceType, value string, score float64) EvidenceRef {
	return EvidenceRef{Type: typ, Value: value, Score: &score}
}

// ResolvedAttribute is the resolver's output for one semantic slot.
type ResolvedAttribute struct {
	Value          string         `json:"value"`
	ConfidenceTier ConfidenceTier `json:"confidence_tier"`
	EvidenceRefs   []EvidenceRef  `json:"evidence_refs"`
}

// Attribute keys with a canonical position in summaries.
const (
	KeyCategory       = "category"
	KeyBrand          = "brand"
	KeyProductType    = "product_type"
	KeyModel          = "model"
	KeyColor          = "color"
	KeySecondaryColor = "secondary_color"
	KeySize           = "size"
	KeyMaterial       = "material"
	KeyCondition      = "condition"
)

// StructuredAttribute is one persisted key/value of an item's attribute set.
type StructuredAttribute struct {
	Key        string          `json:"key"`
	Value      string          `json:"value"`
	Source     AttributeSource `json:"source"`
	Confidence ConfidenceTier  `json:"confidence"`
	Evidence   []EvidenceRef   `json:"evidence,omitempty"`
	UpdatedAt  time.Time       `json:"updated_at"`
}
