package prompt

import (
	"regexp"
	"sort"
	"strings"

	"github.com/womenscare/clinical-analysis/internal/domain/aiconfig"
)

var (
	placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.]+)\s*\}\}`)
	// any {{...}} token, used to catch bodies that are not valid names
	tokenRe = regexp.MustCompile(`\{\{[^{}]*\}\}`)
)

// Placeholders returns the distinct placeholder names of a template in
// first-seen order.
func Placeholders(tmpl string) []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range placeholderRe.FindAllStringSubmatch(tmpl, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	return out
}

// Render substitutes every {{name}} with values[name] in one pass.
// Substituted values are never scanned again. If any placeholder has
// no value, or a "{{" does not open a well-formed placeholder, the whole
// render fails with a ConfigurationError.
func Render(tmpl string, values map[string]string) (string, error) {
	missing := map[string]bool{}
	for _, tok := range tokenRe.FindAllString(tmpl, -1) {
		m := placeholderRe.FindStringSubmatch(tok)
		if m == nil {
			missing[tok] = true
			continue
		}
		if _, ok := values[m[1]]; !ok {
			missing[m[1]] = true
		}
	}
	for _, tok := range strayOpens(tmpl) {
		missing[tok] = true
	}
	if len(missing) > 0 {
		names := make([]string, 0, len(missing))
		for k := range missing {
			names = append(names, k)
		}
		sort.Strings(names)
		return "", &aiconfig.ConfigurationError{Field: "userPromptTemplate", Missing: names}
	}

	var b strings.Builder
	b.Grow(len(tmpl))
	last := 0
	for _, loc := range placeholderRe.FindAllStringSubmatchIndex(tmpl, -1) {
		b.WriteString(tmpl[last:loc[0]])
		b.WriteString(values[tmpl[loc[2]:loc[3]]])
		last = loc[1]
	}
	b.WriteString(tmpl[last:])
	return b.String(), nil
}

// strayOpens returns the "{{" runs that do not start a placeholder, such
// as "{{{{a}}}}" or an unclosed "{{name". Each is reported up to its
// closing braces, or to the end of the line when it is never closed.
func strayOpens(tmpl string) []string {
	starts := map[int]bool{}
	for _, loc := range placeholderRe.FindAllStringIndex(tmpl, -1) {
		starts[loc[0]] = true
	}
	var out []string
	covered := 0
	for i := 0; i+1 < len(tmpl); i++ {
		if i < covered || tmpl[i] != '{' || tmpl[i+1] != '{' || starts[i] {
			continue
		}
		end := len(tmpl)
		if j := strings.Index(tmpl[i:], "}}"); j >= 0 {
			end = i + j + 2
			for end < len(tmpl) && tmpl[end] == '}' {
				end++
			}
		} else if nl := strings.IndexByte(tmpl[i:], '\n'); nl >= 0 {
			end = i + nl
		}
		out = append(out, tmpl[i:end])
		covered = end
	}
	return out
}
