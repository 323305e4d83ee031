package model

// EnrichedAttribute is the caller-facing rendering of a resolved attribute.
type EnrichedAttribute struct {
	Value           string         `json:"value"`
	Confidence      ConfidenceTier `json:"confidence"`
	ConfidenceScore float64        `json:"confidence_score"`
	Evidence        []EvidenceRef  `json:"evidence,omitempty"`
}

// EnrichedAttributes holds the resolved slots returned to callers.
type EnrichedAttributes struct {
	Brand              *EnrichedAttribute `json:"brand,omitempty"`
	Model              *EnrichedAttribute `json:"model,omitempty"`
	Color              *EnrichedAttribute `json:"color,omitempty"`
	SecondaryColor     *EnrichedAttribute `json:"secondary_color,omitempty"`
	Material           *EnrichedAttribute `json:"material,omitempty"`
	SuggestedNextPhoto string             `json:"suggested_next_photo,omitempty"`
}

// VisionStats summarizes enrichment work done for one request.
type VisionStats struct {
	Attempted         bool   `json:"attempted"`
	VisionProvider    string `json:"vision_provider,omitempty"`
	VisionExtractions int    `json:"vision_extractions"`
	VisionCacheHits   int    `json:"vision_cache_hits"`
	VisionErrors      int    `json:"vision_errors"`
}

// StageTimings are per-stage durations in milliseconds.
type StageTimings struct {
	Total      int64 `json:"total"`
	Vision     int64 `json:"vision"`
	Mapping    int64 `json:"mapping"`
	Enrichment int64 `json:"enrichment"`
}

// MappedCategory is the domain-category mapper's verdict.
type MappedCategory struct {
	CategoryID string            `json:"category_id"`
	Confidence float64           `json:"confidence"`
	Label      string            `json:"label"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// ClassificationResult is the response of one classification request.
type ClassificationResult struct {
	RequestID           string              `json:"request_id"`
	CorrelationID       string              `json:"correlation_id"`
	DomainCategoryID    string              `json:"domain_category_id"`
	Confidence          float64             `json:"confidence"`
	Label               string              `json:"label"`
	Attributes          map[string]string   `json:"attributes,omitempty"`
	EnrichedAttributes  *EnrichedAttributes `json:"enriched_attributes,omitempty"`
	VisualFacts         *VisualFacts        `json:"visual_facts,omitempty"`
	VisionAttributes    *VisualFacts        `json:"vision_attributes,omitempty"`
	VisionStats         *VisionStats        `json:"vision_stats,omitempty"`
	Provider            string              `json:"provider"`
	ProviderUnavailable bool                `json:"provider_unavailable,omitempty"`
	CacheHit            bool                `json:"cache_hit,omitempty"`
	TimingsMs           StageTimings        `json:"timings_ms"`
}
