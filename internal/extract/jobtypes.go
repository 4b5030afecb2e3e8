package extract

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/talentsift/harvest-cli/internal/sanitize"
)

//go:embed jobtypes.yaml
var jobTypesYAML []byte

type jobTypeTable struct {
	Translations []struct {
		Canonical string   `yaml:"canonical"`
		Labels    []string `yaml:"labels"`
	} `yaml:"translations"`
}

var jobTypeLookup = mustLoadJobTypes()

func mustLoadJobTypes() map[string]string {
	var table jobTypeTable
	if err := yaml.Unmarshal(jobTypesYAML, &table); err != nil {
		panic(fmt.Sprintf("extract: embedded jobtypes.yaml is invalid: %v", err))
	}
	lookup := make(map[string]string)
	for _, tr := range table.Translations {
		lookup[sanitize.NormalizeForDedup(tr.Canonical)] = tr.Canonical
		for _, label := range tr.Labels {
			lookup[sanitize.NormalizeForDedup(label)] = tr.Canonical
		}
	}
	return lookup
}

// CanonicalJobType maps a localized employment-type label to its canonical
// English value. Labels outside the table pass through unchanged, so a new
// locale degrades to verbatim values rather than empty ones.
func CanonicalJobType(label string) string {
	if label == "" {
		return ""
	}
	if canonical, ok := jobTypeLookup[sanitize.NormalizeForDedup(label)]; ok {
		return canonical
	}
	return label
}
