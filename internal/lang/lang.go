// Package lang normalizes the language codes carried on turns.
//
// Callers send bare ISO 639-1 codes ("hi") or regional BCP 47 tags
// ("hi-IN"); both name the same language for pivot and translation
// decisions.
package lang

import (
	"strings"

	"golang.org/x/text/language"
)

// DefaultRegion is appended to bare codes by engines that require a
// regional locale.
const DefaultRegion = "IN"

// Base returns the primary language subtag of code, lowercased. Unparseable
// codes are returned trimmed and lowercased.
func Base(code string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return ""
	}
	tag, err := language.Parse(code)
	if err != nil {
		return strings.ToLower(code)
	}
	base, _ := tag.Base()
	return base.String()
}

// Same reports whether a and b name the same language.
func Same(a, b string) bool {
	return Base(a) == Base(b)
}

// Locale returns code with a region. Codes that already carry one are
// returned canonicalized; bare codes get region appended.
func Locale(code, region string) string {
	code = strings.TrimSpace(code)
	tag, err := language.Parse(code)
	if err != nil {
		return code
	}
	if r, conf := tag.Region(); conf == language.Exact {
		base, _ := tag.Base()
		return base.String() + "-" + r.String()
	}
	if region == "" {
		region = DefaultRegion
	}
	base, _ := tag.Base()
	return base.String() + "-" + strings.ToUpper(region)
}
