package pipeline

import (
	_ "embed"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Seed query terms shipped with the binary. `discover` uses them when no
// terms are given on the command line.
//
//go:embed queryterms.yaml
var seedTermsYAML []byte

var (
	seedTermsOnce sync.Once
	seedTerms     []string
)

// SeedQueryTerms returns the embedded default query terms.
func SeedQueryTerms() []string {
	seedTermsOnce.Do(func() {
		var raw struct {
			Terms []string `yaml:"terms"`
		}
		if err := yaml.Unmarshal(seedTermsYAML, &raw); err != nil {
			// The file is compiled in; a parse failure is a build defect.
			zap.L().Error("pipeline: parse embedded query terms", zap.Error(err))
			return
		}
		seedTerms = raw.Terms
	})
	return seedTerms
}
