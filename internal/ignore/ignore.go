// Package ignore compiles gitignore-style exclusion rules into a matcher
// usable against submission-relative paths.
//
// Rules come from three ordered sources: CLI --exclude patterns first
// (broadest), then a submission's .gitignore, then its .graderignore
// (most specific). Within the concatenation the last matching pattern
// wins, and a leading "!" re-includes a previously excluded path.
package ignore

import (
	"path"
	"strings"
)

// Source identifies where a pattern was declared.
type Source string

const (
	SourceCLI          Source = "cli"
	SourceGitignore    Source = ".gitignore"
	SourceGraderignore Source = ".graderignore"
)

// Pattern is one raw pattern line together with its declaring source.
type Pattern struct {
	Source Source
	Line   string
}

// rule is one compiled pattern.
type rule struct {
	source   Source
	negate   bool
	dirOnly  bool
	anchored bool
	segments []string
}

// Matcher holds compiled rules in declaration order.
type Matcher struct {
	rules []rule
}

// Compile builds a Matcher from an ordered pattern sequence. Blank lines
// and "#" comments are skipped; malformed lines are ignored permissively.
func Compile(patterns []Pattern) *Matcher {
	m := &Matcher{}
	for _, p := range patterns {
		if r, ok := compileLine(p); ok {
			m.rules = append(m.rules, r)
		}
	}
	return m
}

// FromLines wraps raw lines from a single source into Patterns.
func FromLines(src Source, lines []string) []Pattern {
	out := make([]Pattern, 0, len(lines))
	for _, l := range lines {
		out = append(out, Pattern{Source: src, Line: l})
	}
	return out
}

func compileLine(p Pattern) (rule, bool) {
	line := strings.TrimSpace(p.Line)
	if line == "" || strings.HasPrefix(line, "#") {
		return rule{}, false
	}

	r := rule{source: p.Source}
	if strings.HasPrefix(line, "!") {
		r.negate = true
		line = line[1:]
	}
	if strings.HasSuffix(line, "/") {
		r.dirOnly = true
		line = strings.TrimSuffix(line, "/")
	}
	if strings.HasPrefix(line, "/") {
		r.anchored = true
		line = strings.TrimPrefix(line, "/")
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return rule{}, false
	}
	// A separator anywhere in the body anchors the pattern to the root,
	// per gitignore semantics.
	if strings.Contains(line, "/") {
		r.anchored = true
	}
	r.segments = strings.Split(path.Clean(line), "/")
	return r, true
}

// Matches reports whether rel (slash-separated, relative to the submission
// root) is excluded. The last matching rule decides; negated rules
// re-include. Callers must prune a matched directory's whole subtree:
// the matcher never resurrects paths under an excluded directory.
func (m *Matcher) Matches(rel string, isDir bool) bool {
	rel = strings.Trim(path.Clean(strings.ReplaceAll(rel, "\\", "/")), "/")
	if rel == "" || rel == "." {
		return false
	}
	segs := strings.Split(rel, "/")

	ignored := false
	for _, r := range m.rules {
		if r.applies(segs, isDir) {
			ignored = !r.negate
		}
	}
	return ignored
}

func (r *rule) applies(segs []string, isDir bool) bool {
	if r.dirOnly && !isDir {
		return false
	}
	if r.anchored {
		return matchSegments(r.segments, segs)
	}
	// Unanchored patterns match at any depth.
	for i := range segs {
		if matchSegments(r.segments, segs[i:]) {
			return true
		}
	}
	return false
}

// matchSegments matches a pattern segment list against path segments,
// where "**" spans zero or more segments and plain segments use
// path.Match glob syntax.
func matchSegments(pat, segs []string) bool {
	if len(pat) == 0 {
		return len(segs) == 0
	}
	if pat[0] == "**" {
		// "**" may consume any number of leading segments.
		for i := 0; i <= len(segs); i++ {
			if matchSegments(pat[1:], segs[i:]) {
				return true
			}
		}
		return false
	}
	if len(segs) == 0 {
		return false
	}
	ok, err := path.Match(pat[0], segs[0])
	if err != nil || !ok {
		return false
	}
	return matchSegments(pat[1:], segs[1:])
}

// Len returns the number of compiled rules.
func (m *Matcher) Len() int {
	return len(m.rules)
}
