package server

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/vision-cli/internal/model"
)

var fixedNow = time.Date(2026, 5, 2, 9, 30, 0, 0, time.UTC)

func newAttributeServer() *Server {
	s := newTestServer(Config{}, &fakeClassifier{}, Limiters{})
	s.nowFunc = func() time.Time { return fixedNow }
	return s
}

func detected(key, value string, tier model.ConfidenceTier) model.StructuredAttribute {
	return model.StructuredAttribute{Key: key, Value: value, Source: model.SourceDetected, Confidence: tier, UpdatedAt: fixedNow.Add(-time.Hour)}
}

func decodeState(t *testing.T, body []byte) model.ItemEnrichmentState {
	t.Helper()
	var st model.ItemEnrichmentState
	require.NoError(t, json.Unmarshal(body, &st))
	return st
}

func TestMerge_IntoEmptyState(t *testing.T) {
	s := newAttributeServer()
	w := serve(s, jsonRequest(t, "/v1/attributes/merge", mergeRequest{
		Incoming: []model.StructuredAttribute{detected(model.KeyBrand, "IKEA", model.ConfidenceHigh)},
	}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	st := decodeState(t, w.Body.Bytes())
	a, ok := st.Attribute(model.KeyBrand)
	require.True(t, ok)
	assert.Equal(t, "IKEA", a.Value)
	assert.Equal(t, "Brand: IKEA", st.SummaryText)
	require.NotNil(t, st.LastEnrichmentAt)
	assert.True(t, st.LastEnrichmentAt.Equal(fixedNow))
}

func TestMerge_UserEditedQueuesSuggestion(t *testing.T) {
	s := newAttributeServer()
	state := model.ItemEnrichmentState{
		AttributesStructured:  []model.StructuredAttribute{{Key: model.KeyColor, Value: "navy", Source: model.SourceUser, Confidence: model.ConfidenceHigh}},
		SummaryText:           "Color: navy",
		SummaryTextUserEdited: true,
	}
	w := serve(s, jsonRequest(t, "/v1/attributes/merge", mergeRequest{
		State:    state,
		Incoming: []model.StructuredAttribute{detected(model.KeyBrand, "IKEA", model.ConfidenceHigh)},
	}))
	require.Equal(t, http.StatusOK, w.Code)

	st := decodeState(t, w.Body.Bytes())
	assert.Equal(t, state.AttributesStructured, st.AttributesStructured)
	require.Len(t, st.SuggestedAdditions, 1)
	assert.Equal(t, model.SuggestionAdd, st.SuggestedAdditions[0].Action)
	assert.Equal(t, "Color: navy", st.SummaryText)
}

func TestMerge_RejectsInvalidAttributes(t *testing.T) {
	s := newAttributeServer()

	w := serve(s, jsonRequest(t, "/v1/attributes/merge", mergeRequest{
		Incoming: []model.StructuredAttribute{detected("", "x", model.ConfidenceHigh)},
	}))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(s, jsonRequest(t, "/v1/attributes/merge", mergeRequest{
		Incoming: []model.StructuredAttribute{detected(model.KeyBrand, "x", "CERTAIN")},
	}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, model.ErrValidation, decodeError(t, w).Code)
}

func TestMerge_RejectsUserAndUnknownSources(t *testing.T) {
	s := newAttributeServer()
	state := model.ItemEnrichmentState{
		AttributesStructured: []model.StructuredAttribute{{Key: model.KeyBrand, Value: "Acme", Source: model.SourceUser, Confidence: model.ConfidenceMed}},
	}

	for _, source := range []model.AttributeSource{model.SourceUser, "ADMIN", ""} {
		incoming := detected(model.KeyBrand, "Other", model.ConfidenceHigh)
		incoming.Source = source
		w := serve(s, jsonRequest(t, "/v1/attributes/merge", mergeRequest{State: state, Incoming: []model.StructuredAttribute{incoming}}))
		assert.Equal(t, http.StatusBadRequest, w.Code, "source %q", source)
		assert.Equal(t, model.ErrValidation, decodeError(t, w).Code)
	}

	for _, source := range []model.AttributeSource{model.SourceDetected, model.SourceDefault, model.SourceUnknown} {
		incoming := detected(model.KeyColor, "red", model.ConfidenceHigh)
		incoming.Source = source
		w := serve(s, jsonRequest(t, "/v1/attributes/merge", mergeRequest{State: state, Incoming: []model.StructuredAttribute{incoming}}))
		require.Equal(t, http.StatusOK, w.Code, "source %q", source)

		got := decodeState(t, w.Body.Bytes())
		a, ok := got.Attribute(model.KeyBrand)
		require.True(t, ok)
		assert.Equal(t, "Acme", a.Value)
		assert.Equal(t, model.SourceUser, a.Source)
	}
}

func TestMerge_RejectsKeysAndValuesSummaryCannotCarry(t *testing.T) {
	s := newAttributeServer()
	for _, a := range []model.StructuredAttribute{
		detected("Brand", "IKEA", model.ConfidenceHigh),
		detected("brand:name", "IKEA", model.ConfidenceHigh),
		detected("2nd_color", "red", model.ConfidenceHigh),
		detected(model.KeyBrand, "IKEA\nColor: red", model.ConfidenceHigh),
	} {
		w := serve(s, jsonRequest(t, "/v1/attributes/merge", mergeRequest{Incoming: []model.StructuredAttribute{a}}))
		assert.Equal(t, http.StatusBadRequest, w.Code, "key %q value %q", a.Key, a.Value)
	}

	w := serve(s, jsonRequest(t, "/v1/attributes/summary/format", summaryFormatRequest{Attributes: []model.StructuredAttribute{
		detected(model.KeyBrand, "IKEA\r\nColor: red", model.ConfidenceHigh),
	}}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, model.ErrValidation, decodeError(t, w).Code)
}

func TestSummaryFormat_ValidKeysRoundTrip(t *testing.T) {
	s := newAttributeServer()
	attrs := []model.StructuredAttribute{
		detected(model.KeyBrand, "IKEA", model.ConfidenceHigh),
		detected("frame_width_2", "40 cm", model.ConfidenceMed),
	}
	w := serve(s, jsonRequest(t, "/v1/attributes/summary/format", summaryFormatRequest{Attributes: attrs}))
	require.Equal(t, http.StatusOK, w.Code)
	var formatted map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &formatted))

	w = serve(s, jsonRequest(t, "/v1/attributes/summary/parse", summaryParseRequest{Text: formatted["text"]}))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"entries":[{"key":"brand","value":"IKEA"},{"key":"frame_width_2","value":"40 cm"}]}`, w.Body.String())
}

func TestMerge_InvalidJSON(t *testing.T) {
	s := newAttributeServer()
	req := jsonRequest(t, "/v1/attributes/merge", "not an object")
	w := serve(s, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSuggestions_AcceptAndDismiss(t *testing.T) {
	s := newAttributeServer()
	state := model.ItemEnrichmentState{
		SummaryTextUserEdited: true,
		SuggestedAdditions: []model.SuggestedAddition{
			{Attribute: detected(model.KeyBrand, "IKEA", model.ConfidenceHigh), Action: model.SuggestionAdd},
			{Attribute: detected(model.KeyColor, "blue", model.ConfidenceMed), Action: model.SuggestionAdd},
		},
	}

	w := serve(s, jsonRequest(t, "/v1/attributes/suggestions/brand/accept", stateRequest{State: state}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	st := decodeState(t, w.Body.Bytes())
	a, ok := st.Attribute(model.KeyBrand)
	require.True(t, ok)
	assert.Equal(t, "IKEA", a.Value)
	assert.Len(t, st.SuggestedAdditions, 1)

	w = serve(s, jsonRequest(t, "/v1/attributes/suggestions/color/dismiss", stateRequest{State: st}))
	require.Equal(t, http.StatusOK, w.Code)
	st = decodeState(t, w.Body.Bytes())
	assert.Empty(t, st.SuggestedAdditions)
	_, ok = st.Attribute(model.KeyColor)
	assert.False(t, ok)
}

func TestSuggestions_Missing(t *testing.T) {
	s := newAttributeServer()

	w := serve(s, jsonRequest(t, "/v1/attributes/suggestions/material/accept", stateRequest{}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, model.ErrValidation, decodeError(t, w).Code)

	w = serve(s, jsonRequest(t, "/v1/attributes/suggestions/material/dismiss", stateRequest{}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSummaryEdit(t *testing.T) {
	s := newAttributeServer()
	state := model.ItemEnrichmentState{
		AttributesStructured: []model.StructuredAttribute{
			detected(model.KeyBrand, "IKEA", model.ConfidenceHigh),
			detected(model.KeyColor, "blue", model.ConfidenceMed),
		},
		SummaryText: "Brand: IKEA\nColor: blue",
	}

	w := serve(s, jsonRequest(t, "/v1/attributes/summary", summaryEditRequest{State: state, Text: "Brand: IKEA\nColor: navy"}))
	require.Equal(t, http.StatusOK, w.Code)

	st := decodeState(t, w.Body.Bytes())
	assert.True(t, st.SummaryTextUserEdited)
	c, ok := st.Attribute(model.KeyColor)
	require.True(t, ok)
	assert.Equal(t, "navy", c.Value)
	assert.Equal(t, model.SourceUser, c.Source)
	b, ok := st.Attribute(model.KeyBrand)
	require.True(t, ok)
	assert.Equal(t, model.SourceDetected, b.Source)
}

func TestSummaryParseAndFormat(t *testing.T) {
	s := newAttributeServer()

	w := serve(s, jsonRequest(t, "/v1/attributes/summary/parse", summaryParseRequest{Text: "Brand: IKEA\nSecondary Color: white\nnonsense"}))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"entries":[{"key":"brand","value":"IKEA"},{"key":"secondary_color","value":"white"}]}`, w.Body.String())

	w = serve(s, jsonRequest(t, "/v1/attributes/summary/parse", summaryParseRequest{}))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"entries":[]}`, w.Body.String())

	w = serve(s, jsonRequest(t, "/v1/attributes/summary/format", summaryFormatRequest{Attributes: []model.StructuredAttribute{
		detected(model.KeyColor, "blue", model.ConfidenceMed),
		detected(model.KeyBrand, "IKEA", model.ConfidenceHigh),
	}}))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"text":"Brand: IKEA\nColor: blue"}`, w.Body.String())
}
