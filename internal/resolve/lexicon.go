package resolve

import (
	_ "embed"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed lexicon.yaml
var defaultLexicon []byte

// Lexicon holds the curated word lists the resolver matches against.
type Lexicon struct {
	Brands        []string            `yaml:"brands"`
	GenericWords  []string            `yaml:"generic_words"`
	UnitWords     []string            `yaml:"unit_words"`
	ModelKeywords []string            `yaml:"model_keywords"`
	Materials     map[string][]string `yaml:"materials"`
}

// DefaultLexicon returns the embedded lexicon.
func DefaultLexicon() (*Lexicon, error) {
	return ParseLexicon(defaultLexicon)
}

// LoadLexicon reads a lexicon from path, or the embedded default when path
// is empty.
func LoadLexicon(path string) (*Lexicon, error) {
	if path == "" {
		return DefaultLexicon()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "resolve: read lexicon %s", path)
	}
	return ParseLexicon(data)
}

// ParseLexicon decodes lexicon YAML and cleans its brand list.
func ParseLexicon(data []byte) (*Lexicon, error) {
	var lex Lexicon
	if err := yaml.Unmarshal(data, &lex); err != nil {
		return nil, eris.Wrap(err, "resolve: parse lexicon")
	}
	lex.Brands = CleanBrands(lex.Brands)
	return &lex, nil
}

var junkBrandKeywords = []string{
	"unbranded", "unknown", "generic", "does not apply",
	"n/a", "na", "none", "not applicable", "no brand",
}

var (
	urlLikeRe  = regexp.MustCompile(`(?i)(https?:|www\.|\.com\b|\.co\.uk\b|@)`)
	pureCodeRe = regexp.MustCompile(`^[\d\-_/ ]+$`)
	spacesRe   = regexp.MustCompile(`\s+`)
)

// IsJunkBrand reports whether s is a placeholder or non-brand value such as
// "Unbranded", "N/A", a URL or a bare numeric code.
func IsJunkBrand(s string) bool {
	lower := strings.ToLower(strings.TrimSpace(s))
	if len([]rune(lower)) < 2 {
		return true
	}
	if urlLikeRe.MatchString(lower) || pureCodeRe.MatchString(lower) {
		return true
	}
	padded := " " + spacesRe.ReplaceAllString(lower, " ") + " "
	for _, kw := range junkBrandKeywords {
		if strings.Contains(padded, " "+kw+" ") {
			return true
		}
	}
	return false
}

// NormalizeBrand trims and collapses internal whitespace, keeping casing.
func NormalizeBrand(s string) string {
	return spacesRe.ReplaceAllString(strings.TrimSpace(s), " ")
}

// CleanBrands drops junk entries, normalizes whitespace and removes
// case-insensitive duplicates, keeping the first occurrence.
func CleanBrands(brands []string) []string {
	seen := make(map[string]bool, len(brands))
	out := make([]string, 0, len(brands))
	for _, b := range brands {
		if IsJunkBrand(b) {
			continue
		}
		n := NormalizeBrand(b)
		key := strings.ToLower(n)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, n)
	}
	return out
}

// materialNames returns the material names in a stable order.
func (l *Lexicon) materialNames() []string {
	names := make([]string, 0, len(l.Materials))
	for name := range l.Materials {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
