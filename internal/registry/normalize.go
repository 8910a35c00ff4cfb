package registry

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	sizeTokenRe  = regexp.MustCompile(`(?i)\bsize\s*#?\d+[a-z]*\b`)
	multiSpaceRe = regexp.MustCompile(`\s{2,}`)
)

var titleCaser = cases.Title(language.English)

// NormalizeMaterialName standardizes a raw material name for matching:
// lowercase, trimmed, "size N" tokens stripped, whitespace collapsed.
func NormalizeMaterialName(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	n = sizeTokenRe.ReplaceAllString(n, "")
	n = multiSpaceRe.ReplaceAllString(n, " ")
	return strings.TrimSpace(n)
}

// DisplayName converts a normalized name into a title-cased canonical
// display form.
func DisplayName(normalized string) string {
	return titleCaser.String(normalized)
}
