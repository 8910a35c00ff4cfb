// Package registry maintains the canonical material registry: one durable
// entry per distinct physical material per type, with learned aliases.
package registry

import (
	_ "embed"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// MaterialType is the closed set of material roles a component can fill.
type MaterialType string

const (
	TypeHook   MaterialType = "hook"
	TypeThread MaterialType = "thread"
	TypeTail   MaterialType = "tail"
	TypeBody   MaterialType = "body"
	TypeRib    MaterialType = "rib"
	TypeHackle MaterialType = "hackle"
	TypeWing   MaterialType = "wing"
	TypeThorax MaterialType = "thorax"
	TypeHead   MaterialType = "head"
	TypeBead   MaterialType = "bead"
	TypeOther  MaterialType = "other"
)

// AllTypes lists every recognized material type, catch-all last.
var AllTypes = []MaterialType{
	TypeHook, TypeThread, TypeTail, TypeBody, TypeRib, TypeHackle,
	TypeWing, TypeThorax, TypeHead, TypeBead, TypeOther,
}

// typeAliases maps free-form type strings from extraction onto the closed
// enum. The table is pure data; the code only does the lookup.
//
//go:embed material_types.yaml
var typeAliasYAML []byte

var (
	typeAliasOnce sync.Once
	typeAliasMap  map[string]MaterialType
)

func loadTypeAliases() map[string]MaterialType {
	typeAliasOnce.Do(func() {
		var raw map[string][]string
		if err := yaml.Unmarshal(typeAliasYAML, &raw); err != nil {
			// The table is embedded at build time; a parse failure is a
			// programming error, not a runtime condition.
			panic("registry: parse material_types.yaml: " + err.Error())
		}
		typeAliasMap = make(map[string]MaterialType)
		for canonical, aliases := range raw {
			mt := MaterialType(canonical)
			typeAliasMap[canonical] = mt
			for _, a := range aliases {
				typeAliasMap[strings.ToLower(strings.TrimSpace(a))] = mt
			}
		}
	})
	return typeAliasMap
}

// SanitizeType maps a raw type string onto the closed enum. Unrecognized
// strings map to TypeOther.
func SanitizeType(raw string) MaterialType {
	key := strings.ToLower(strings.TrimSpace(raw))
	if mt, ok := loadTypeAliases()[key]; ok {
		return mt
	}
	return TypeOther
}

// CanonicalEntity is one durable registry row. Created lazily on first
// unmatched name, mutated only by alias append, never deleted.
type CanonicalEntity struct {
	ID        int64        `json:"id" db:"id"`
	Name      string       `json:"name" db:"name"`
	Type      MaterialType `json:"type" db:"type"`
	Aliases   []string     `json:"aliases" db:"aliases"`
	CreatedAt time.Time    `json:"created_at" db:"created_at"`
}

// HasAlias reports whether alias is already recorded (or equals the name),
// compared in normalized form.
func (e *CanonicalEntity) HasAlias(alias string) bool {
	n := NormalizeMaterialName(alias)
	if NormalizeMaterialName(e.Name) == n {
		return true
	}
	for _, a := range e.Aliases {
		if NormalizeMaterialName(a) == n {
			return true
		}
	}
	return false
}
