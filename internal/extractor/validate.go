package extractor

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/driftline/pattern-cli/internal/model"
	"github.com/driftline/pattern-cli/internal/registry"
)

// ValidateAndRepair enforces output shape on an extracted record and fixes
// what can be fixed in place. Rules:
//   - pattern name must be non-empty
//   - at least one component, at least one of type hook
//   - component types are mapped onto the closed enum
//   - hook and thread components are always required
//   - one component per type, first occurrence wins
//   - positions renumbered 1..N in original order
//
// A record that fails validation is rejected outright; the same content
// through the same extractor is unlikely to change outcome, so there is no
// retry path here.
func ValidateAndRepair(r *model.ExtractedRecord) error {
	r.PatternName = strings.TrimSpace(r.PatternName)
	if r.PatternName == "" {
		return eris.New("malformed extraction: empty pattern name")
	}
	if len(r.Components) == 0 {
		return eris.New("malformed extraction: no components")
	}

	seen := make(map[registry.MaterialType]bool, len(r.Components))
	kept := r.Components[:0]
	hasHook := false
	for _, c := range r.Components {
		c.Name = strings.TrimSpace(c.Name)
		if c.Name == "" {
			continue
		}
		mtype := registry.SanitizeType(c.Type)
		if seen[mtype] {
			continue
		}
		seen[mtype] = true
		c.Type = string(mtype)
		if mtype == registry.TypeHook || mtype == registry.TypeThread {
			c.Required = true
		}
		if mtype == registry.TypeHook {
			hasHook = true
		}
		kept = append(kept, c)
	}
	if !hasHook {
		return eris.New("malformed extraction: no hook component")
	}

	for i := range kept {
		kept[i].Position = i + 1
	}
	r.Components = kept
	return nil
}
