package searcher

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// PathFilter decides whether a repository-relative path takes part in a
// search. A path must match at least one include pattern, when any are
// given, and no exclude pattern.
type PathFilter struct {
	include []*regexp.Regexp
	exclude []*regexp.Regexp
}

// NewPathFilter compiles include and exclude globs. In a glob, "**" matches
// any number of path segments, "*" matches within one segment and "?"
// matches a single non-separator character.
func NewPathFilter(include, exclude []string) (*PathFilter, error) {
	f := &PathFilter{}
	var err error
	if f.include, err = compileGlobs(include); err != nil {
		return nil, err
	}
	if f.exclude, err = compileGlobs(exclude); err != nil {
		return nil, err
	}
	return f, nil
}

// Match reports whether path passes the filter.
func (f *PathFilter) Match(path string) bool {
	if f == nil {
		return true
	}
	for _, re := range f.exclude {
		if re.MatchString(path) {
			return false
		}
	}
	if len(f.include) == 0 {
		return true
	}
	for _, re := range f.include {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}

// Empty reports whether the filter accepts every path.
func (f *PathFilter) Empty() bool {
	return f == nil || len(f.include)+len(f.exclude) == 0
}

func compileGlobs(patterns []string) ([]*regexp.Regexp, error) {
	var out []*regexp.Regexp
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		re, err := GlobToRegexp(p)
		if err != nil {
			return nil, err
		}
		out = append(out, re)
	}
	return out, nil
}

// GlobToRegexp translates a path glob into an anchored regular expression.
// A leading "./" is ignored and a "**/" prefix also matches top-level paths,
// so "**/*.go" matches "main.go".
func GlobToRegexp(glob string) (*regexp.Regexp, error) {
	glob = strings.TrimPrefix(glob, "./")
	runes := []rune(glob)

	var b strings.Builder
	b.WriteString("^")
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch c {
		case '*':
			if i+1 < len(runes) && runes[i+1] == '*' {
				i++
				if i+1 < len(runes) && runes[i+1] == '/' {
					i++
					b.WriteString("(?:.*/)?")
				} else {
					b.WriteString(".*")
				}
				continue
			}
			b.WriteString("[^/]*")
		case '?':
			b.WriteString("[^/]")
		case '[':
			end := slices.Index(runes[i+1:], ']')
			if end < 0 {
				return nil, fmt.Errorf("invalid glob %q: unterminated character class", glob)
			}
			class := string(runes[i+1 : i+1+end])
			if strings.HasPrefix(class, "!") {
				class = "^" + class[1:]
			}
			b.WriteString("[" + class + "]")
			i += end + 1
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	b.WriteString("$")

	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, fmt.Errorf("invalid glob %q: %w", glob, err)
	}
	return re, nil
}
