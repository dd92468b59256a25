package ranking

import (
	_ "embed"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed specialties.yaml
var specialtiesYAML []byte

// fallbackSpecialty is used when the requested specialty is unknown.
const fallbackSpecialty = "general"

type specialtyEntry struct {
	Aliases    []string `yaml:"aliases"`
	Categories []string `yaml:"categories"`
	Keywords   []string `yaml:"keywords"`
}

type specialtyRegistry struct {
	GenericCategories []string                  `yaml:"generic_categories"`
	Specialties       map[string]specialtyEntry `yaml:"specialties"`

	aliasIndex map[string]string // normalized alias -> canonical key
}

var registry = loadRegistry()

func loadRegistry() *specialtyRegistry {
	var r specialtyRegistry
	if err := yaml.Unmarshal(specialtiesYAML, &r); err != nil {
		// The registry is embedded and validated by tests; a parse failure
		// here is a build defect.
		panic("ranking: parse specialties.yaml: " + err.Error())
	}

	r.aliasIndex = make(map[string]string)
	for key, entry := range r.Specialties {
		r.aliasIndex[normalizeTerm(key)] = key
		for _, a := range entry.Aliases {
			r.aliasIndex[normalizeTerm(a)] = key
		}
	}
	return &r
}

// normalizeTerm lowercases, trims, and collapses internal whitespace.
func normalizeTerm(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// NormalizeSpecialty resolves a raw specialty string ("Orthodontist") to its
// canonical key ("orthodontics"). Unknown specialties fall back to general.
func NormalizeSpecialty(specialty string) string {
	if key, ok := registry.aliasIndex[normalizeTerm(specialty)]; ok {
		return key
	}
	return fallbackSpecialty
}

// specialtyCategories returns the exact-match category set for a canonical
// specialty key.
func specialtyCategories(key string) []string {
	entry, ok := registry.Specialties[key]
	if !ok {
		entry = registry.Specialties[fallbackSpecialty]
	}
	return entry.Categories
}

// SpecialtyKeywords returns the name-match keywords for a raw specialty
// string. Discovery callers use them to steer review sampling.
func SpecialtyKeywords(specialty string) []string {
	return specialtyKeywords(NormalizeSpecialty(specialty))
}

// specialtyKeywords returns the name-match keywords for a canonical key.
func specialtyKeywords(key string) []string {
	entry, ok := registry.Specialties[key]
	if !ok {
		entry = registry.Specialties[fallbackSpecialty]
	}
	return entry.Keywords
}

// isGenericCategory reports whether the category is a generic
// "dentist"-type category that earns partial credit for any specialty.
func isGenericCategory(category string) bool {
	norm := normalizeTerm(category)
	for _, g := range registry.GenericCategories {
		if norm == normalizeTerm(g) {
			return true
		}
	}
	return false
}
