package classifier

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/vision-cli/internal/model"
)

//go:embed categories.yaml
var defaultCategories []byte

// UnknownCategoryID is returned when no category matches.
const UnknownCategoryID = "unknown"

// Signals are the raw provider signals a Mapper classifies.
type Signals struct {
	Labels []model.LabelHint
	Logos  []model.LogoHint
}

// Mapper maps raw signals to a category of a domain pack.
type Mapper interface {
	Map(domainPackID string, signals Signals) (model.MappedCategory, error)
}

type categoryRule struct {
	ID       string   `yaml:"id"`
	Label    string   `yaml:"label"`
	Keywords []string `yaml:"keywords"`
}

type domainPack struct {
	Categories []categoryRule `yaml:"categories"`
}

type categoryFile struct {
	DomainPacks map[string]domainPack `yaml:"domain_packs"`
}

// LabelMapper matches label hints against per-pack category keywords.
type LabelMapper struct {
	packs map[string]domainPack
}

// LoadLabelMapper reads category YAML from path, or the embedded default
// when path is empty.
func LoadLabelMapper(path string) (*LabelMapper, error) {
	data := defaultCategories
	if path != "" {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return nil, eris.Wrapf(err, "classifier: read categories %s", path)
		}
	}
	return ParseLabelMapper(data)
}

// ParseLabelMapper decodes category YAML.
func ParseLabelMapper(data []byte) (*LabelMapper, error) {
	var f categoryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "classifier: parse categories")
	}
	if len(f.DomainPacks) == 0 {
		return nil, eris.New("classifier: categories define no domain packs")
	}
	for id, pack := range f.DomainPacks {
		for i := range pack.Categories {
			for j, kw := range pack.Categories[i].Keywords {
				pack.Categories[i].Keywords[j] = strings.ToLower(strings.TrimSpace(kw))
			}
		}
		f.DomainPacks[id] = pack
	}
	return &LabelMapper{packs: f.DomainPacks}, nil
}

// HasPack reports whether id is a known domain pack.
func (m *LabelMapper) HasPack(id string) bool {
	_, ok := m.packs[id]
	return ok
}

// Map implements Mapper. The category whose keyword matches the highest
// scoring label wins; the label score becomes the confidence.
func (m *LabelMapper) Map(domainPackID string, signals Signals) (model.MappedCategory, error) {
	pack, ok := m.packs[domainPackID]
	if !ok {
		return model.MappedCategory{}, model.NewError(model.ErrValidation, fmt.Sprintf("unknown domain pack %q", domainPackID), nil)
	}

	var (
		best      *categoryRule
		bestScore float64
		bestLabel string
	)
	for i := range pack.Categories {
		c := &pack.Categories[i]
		for _, l := range signals.Labels {
			if l.Score > bestScore && matchesKeyword(l.Label, c.Keywords) {
				best, bestScore, bestLabel = c, l.Score, l.Label
			}
		}
	}
	if best == nil {
		return model.MappedCategory{CategoryID: UnknownCategoryID, Label: "Unknown"}, nil
	}

	attrs := map[string]string{
		model.KeyCategory:    best.Label,
		model.KeyProductType: bestLabel,
	}
	return model.MappedCategory{
		CategoryID: best.ID,
		Confidence: bestScore,
		Label:      best.Label,
		Attributes: attrs,
	}, nil
}

// matchesKeyword reports whether label equals a keyword or contains it as
// a whole word (allowing a plural "s").
func matchesKeyword(label string, keywords []string) bool {
	l := " " + strings.Join(strings.Fields(strings.ToLower(label)), " ") + " "
	for _, kw := range keywords {
		if strings.Contains(l, " "+kw+" ") || strings.Contains(l, " "+kw+"s ") {
			return true
		}
	}
	return false
}
