package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/vision-cli/internal/classifier"
	"github.com/sells-group/vision-cli/internal/merge"
	"github.com/sells-group/vision-cli/internal/model"
)

const maxJSONBody = 1 << 20

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.collector == nil {
		s.writeError(w, r, withStatus(http.StatusNotFound, model.ErrValidation, "status is not enabled", nil))
		return
	}
	writeJSON(w, http.StatusOK, s.collector.Collect())
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	images, err := s.readImages(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	enrich, err := formBool(r, "enrich")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	includeFacts, err := formBool(r, "includeFacts")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()

	res, err := s.svc.Classify(ctx, classifier.Request{
		RequestID:     requestIDFrom(r.Context()),
		CorrelationID: correlationIDFrom(r.Context()),
		ItemID:        r.FormValue("itemId"),
		Images:        images,
		DomainPackID:  r.FormValue("domainPackId"),
		Enrich:        enrich,
		IncludeFacts:  includeFacts,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func formBool(r *http.Request, name string) (bool, error) {
	v := r.FormValue(name)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, model.NewError(model.ErrValidation, name+" must be a boolean", err)
	}
	return b, nil
}

type mergeRequest struct {
	State    model.ItemEnrichmentState   `json:"state"`
	Incoming []model.StructuredAttribute `json:"incoming"`
}

type stateRequest struct {
	State model.ItemEnrichmentState `json:"state"`
}

type summaryEditRequest struct {
	State model.ItemEnrichmentState `json:"state"`
	Text  string                    `json:"text"`
}

type summaryParseRequest struct {
	Text string `json:"text"`
}

type summaryFormatRequest struct {
	Attributes []model.StructuredAttribute `json:"attributes"`
}

func (s *Server) handleMerge(w http.ResponseWriter, r *http.Request) {
	var req mergeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := validateDetections(req.Incoming); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, merge.ApplyDetections(req.State, req.Incoming, s.nowFunc().UTC()))
}

func (s *Server) handleAcceptSuggestion(w http.ResponseWriter, r *http.Request) {
	var req stateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	state, err := merge.AcceptSuggestion(req.State, chi.URLParam(r, "key"), s.nowFunc().UTC())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleDismissSuggestion(w http.ResponseWriter, r *http.Request) {
	var req stateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	state, err := merge.DismissSuggestion(req.State, chi.URLParam(r, "key"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleSummaryEdit(w http.ResponseWriter, r *http.Request) {
	var req summaryEditRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, merge.ApplySummaryEdit(req.State, req.Text, s.nowFunc().UTC()))
}

func (s *Server) handleSummaryParse(w http.ResponseWriter, r *http.Request) {
	var req summaryParseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	entries := merge.ParseSummaryText(req.Text)
	if entries == nil {
		entries = []merge.SummaryEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleSummaryFormat(w http.ResponseWriter, r *http.Request) {
	var req summaryFormatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := validateAttributes(req.Attributes); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": merge.FormatSummaryText(req.Attributes)})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return model.NewError(model.ErrValidation, "invalid JSON body", err)
	}
	return nil
}

// attributeKey is the key shape the summary text round-trips.
var attributeKey = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

func validateAttributes(attrs []model.StructuredAttribute) error {
	for _, a := range attrs {
		if a.Key == "" {
			return model.NewError(model.ErrValidation, "attribute key is required", nil)
		}
		if !attributeKey.MatchString(a.Key) {
			return model.NewError(model.ErrValidation, fmt.Sprintf("attribute key %q must be lower snake_case", a.Key), nil)
		}
		if strings.ContainsAny(a.Value, "\r\n") {
			return model.NewError(model.ErrValidation, "attribute "+a.Key+" value must be a single line", nil)
		}
		if !a.Confidence.Valid() {
			return model.NewError(model.ErrValidation, "attribute "+a.Key+" has an invalid confidence", nil)
		}
	}
	return nil
}

// validateDetections also restricts sources to those a detection can carry.
// USER values are written only by summary edits.
func validateDetections(attrs []model.StructuredAttribute) error {
	if err := validateAttributes(attrs); err != nil {
		return err
	}
	for _, a := range attrs {
		switch a.Source {
		case model.SourceDetected, model.SourceDefault, model.SourceUnknown:
		default:
			return model.NewError(model.ErrValidation, fmt.Sprintf("attribute %s has source %q; merge accepts DETECTED, DEFAULT or UNKNOWN", a.Key, a.Source), nil)
		}
	}
	return nil
}
