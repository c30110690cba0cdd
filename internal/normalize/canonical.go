package normalize

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	nonIdentRegex = regexp.MustCompile(`[^a-z0-9_]+`)
	underscores   = regexp.MustCompile(`_+`)
)

// CanonicalName converts a raw header to a lowercase identifier made of
// [a-z0-9_]: trim, lowercase, replace runs of other characters with "_",
// collapse repeated underscores and strip them from both ends.
//
// CanonicalName(CanonicalName(s)) == CanonicalName(s) for every s. The result
// may be empty; callers assign a positional name in that case.
func CanonicalName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = nonIdentRegex.ReplaceAllString(s, "_")
	s = underscores.ReplaceAllString(s, "_")
	return strings.Trim(s, "_")
}

// CanonicalHeaders canonicalizes every header, naming empty results
// column_{n} with n the 1-based position.
func CanonicalHeaders(headers []string) []string {
	out := make([]string, len(headers))
	for i, h := range headers {
		out[i] = CanonicalName(h)
		if out[i] == "" {
			out[i] = positionalName(i)
		}
	}
	return out
}

// ColumnName resolves one raw header to its column name: canonicalized,
// then renamed. A rename keyed by the raw header wins over one keyed by the
// canonical name. Headers that canonicalize to "" resolve to "" unless the
// raw header itself is renamed.
func ColumnName(header string, renames map[string]string) string {
	return applyRename(header, CanonicalName(header), renames)
}

// ColumnKey returns ColumnName bound to renames, for aligning the columns of
// files merged before normalization.
func ColumnKey(renames map[string]string) func(string) string {
	return func(header string) string {
		return ColumnName(header, renames)
	}
}

// ColumnNames resolves every header like ColumnName, naming empty results
// column_{n} by position. Positional names may be renamed too.
func ColumnNames(headers []string, renames map[string]string) []string {
	names := CanonicalHeaders(headers)
	if len(renames) == 0 {
		return names
	}
	for i, h := range headers {
		names[i] = applyRename(h, names[i], renames)
	}
	return names
}

func applyRename(header, name string, renames map[string]string) string {
	to, ok := renames[header]
	if !ok && name != "" {
		to, ok = renames[name]
	}
	if ok {
		if c := CanonicalName(to); c != "" {
			return c
		}
	}
	return name
}

func positionalName(i int) string {
	return "column_" + strconv.Itoa(i+1)
}
