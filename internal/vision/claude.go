package vision

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/vision-cli/internal/model"
	"github.com/sells-group/vision-cli/pkg/anthropic"
)

const claudeSystemPrompt = `You analyze product photos of second-hand items for resale listings.
Reply with a single JSON object and nothing else, using this shape:
{"text":[{"text":"...","confidence":0.0}],"lines":[{"text":"...","confidence":0.0}],
 "labels":[{"name":"...","score":0.0}],"logos":[{"name":"...","score":0.0}],
 "colors":[{"hex":"#rrggbb","fraction":0.0}]}
"text" lists individual words or short tokens printed on the item or its tags.
"lines" lists whole printed lines in reading order.
"labels" names the object, its parts and materials.
"logos" lists recognizable brand marks.
"colors" lists up to 5 dominant item colors with their share of the item area (0..1).
Scores and confidences are between 0 and 1. Omit families you were not asked for.`

// ClaudeProvider annotates images with a Claude vision model.
type ClaudeProvider struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewClaudeProvider wraps an Anthropic client.
func NewClaudeProvider(client anthropic.Client, model string, maxTokens int64) *ClaudeProvider {
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &ClaudeProvider{client: client, model: model, maxTokens: maxTokens}
}

// Name implements Provider.
func (p *ClaudeProvider) Name() string { return ProviderClaude }

type claudeScored struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

type claudeText struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

type claudeColor struct {
	Hex      string  `json:"hex"`
	Fraction float64 `json:"fraction"`
}

type claudeAnnotation struct {
	Text   []claudeText   `json:"text"`
	Lines  []claudeText   `json:"lines"`
	Labels []claudeScored `json:"labels"`
	Logos  []claudeScored `json:"logos"`
	Colors []claudeColor  `json:"colors"`
}

// Annotate implements Provider.
func (p *ClaudeProvider) Annotate(ctx context.Context, req AnnotateRequest) (*Annotation, error) {
	resp, err := p.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     p.model,
		MaxTokens: p.maxTokens,
		System:    anthropic.BuildCachedSystemBlocks(claudeSystemPrompt, ""),
		Messages: []anthropic.Message{{
			Role:    "user",
			Content: claudeInstruction(req.Features),
			Images:  []anthropic.Image{{MediaType: req.Image.MIMEType, Data: req.Image.Data}},
		}},
	})
	if err != nil {
		return nil, p.classify(ctx, err)
	}
	resp.Usage.LogCost(p.model, "vision")

	var raw claudeAnnotation
	if err := json.Unmarshal([]byte(cleanJSON(resp.Text())), &raw); err != nil {
		zap.L().Debug("vision: unparseable claude reply", zap.String("reply", resp.Text()))
		return nil, newExtractionError(ProviderClaude, model.ErrVisionUnavailable, eris.Wrap(err, "vision: parse claude reply"))
	}
	return annotationFromClaude(raw, req.Features), nil
}

func claudeInstruction(f Features) string {
	var want []string
	if f.OCR {
		if f.DocumentMode {
			want = append(want, "text", "lines")
		} else {
			want = append(want, "text")
		}
	}
	if f.Labels {
		want = append(want, "labels (up to "+strconv.Itoa(max(f.MaxLabels, 1))+")")
	}
	if f.Logos {
		want = append(want, "logos (up to "+strconv.Itoa(max(f.MaxLogos, 1))+")")
	}
	if f.Colors {
		want = append(want, "colors")
	}
	return "Extract: " + strings.Join(want, ", ") + "."
}

func annotationFromClaude(raw claudeAnnotation, f Features) *Annotation {
	out := &Annotation{}
	if f.OCR {
		for _, t := range raw.Text {
			out.Tokens = append(out.Tokens, TextToken(t))
		}
		if f.DocumentMode {
			for _, t := range raw.Lines {
				out.Lines = append(out.Lines, TextToken(t))
			}
		}
	}
	if f.Labels {
		for _, s := range raw.Labels {
			out.Labels = append(out.Labels, Scored(s))
		}
	}
	if f.Logos {
		for _, s := range raw.Logos {
			out.Logos = append(out.Logos, Scored(s))
		}
	}
	if f.Colors {
		for _, c := range raw.Colors {
			r, g, b, ok := parseHex(c.Hex)
			if !ok || c.Fraction <= 0 {
				continue
			}
			out.Colors = append(out.Colors, RawColor{R: r, G: g, B: b, Fraction: min(c.Fraction, 1)})
		}
	}
	return out
}

func (p *ClaudeProvider) classify(ctx context.Context, err error) error {
	if status := anthropic.StatusCode(err); status != 0 {
		return newExtractionError(ProviderClaude, classifyStatus(status), err)
	}
	if canceled(ctx, err) {
		return err
	}
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return newExtractionError(ProviderClaude, model.ErrTimeout, err)
	}
	return newExtractionError(ProviderClaude, model.ErrVisionUnavailable, err)
}

// cleanJSON extracts a JSON object from text that may carry markdown code
// fences or surrounding prose.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}

func parseHex(s string) (r, g, b uint8, ok bool) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return 0, 0, 0, false
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, 0, 0, false
	}
	return uint8(v >> 16), uint8(v >> 8), uint8(v), true
}
