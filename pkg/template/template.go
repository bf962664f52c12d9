package template

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/burrowq/burrow/pkg/errors"
)

// placeholderRe matches {{name}} where name is an identifier. Whitespace
// inside the braces is tolerated on input and normalized away.
var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// ExtractVariables returns the distinct placeholder names in tmpl in order
// of first appearance.
func ExtractVariables(tmpl string) []string {
	matches := placeholderRe.FindAllStringSubmatch(tmpl, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(matches))
	var names []string
	for _, m := range matches {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

// Interpolate replaces every placeholder in tmpl with its value from vars.
// Extra variables are permitted; missing ones produce a validation error
// listing every missing name.
func Interpolate(tmpl string, vars map[string]string) (string, error) {
	var missing []string
	for _, name := range ExtractVariables(tmpl) {
		if _, ok := vars[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return "", errors.Validationf("missing template variables: %s", strings.Join(missing, ", "))
	}

	result := placeholderRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := placeholderRe.FindStringSubmatch(m)[1]
		return vars[name]
	})
	return result, nil
}

// ReconcileVariables validates an explicit variable list against the
// placeholders extracted from tmpl, or derives the list when none is given.
// An explicit list must exactly match the extracted set.
func ReconcileVariables(tmpl string, declared []string) ([]string, error) {
	extracted := ExtractVariables(tmpl)
	if declared == nil {
		return extracted, nil
	}

	extractedSet := make(map[string]bool, len(extracted))
	for _, name := range extracted {
		extractedSet[name] = true
	}
	declaredSet := make(map[string]bool, len(declared))

	var extra []string
	for _, name := range declared {
		if declaredSet[name] {
			return nil, errors.Validationf("duplicate variable %q in variables list", name)
		}
		declaredSet[name] = true
		if !extractedSet[name] {
			extra = append(extra, name)
		}
	}

	var undeclared []string
	for _, name := range extracted {
		if !declaredSet[name] {
			undeclared = append(undeclared, name)
		}
	}

	if len(extra) > 0 || len(undeclared) > 0 {
		var parts []string
		if len(extra) > 0 {
			parts = append(parts, fmt.Sprintf("not in template: %s", strings.Join(extra, ", ")))
		}
		if len(undeclared) > 0 {
			parts = append(parts, fmt.Sprintf("missing from list: %s", strings.Join(undeclared, ", ")))
		}
		return nil, errors.Validationf("variables do not match template placeholders (%s)", strings.Join(parts, "; "))
	}

	return declared, nil
}
