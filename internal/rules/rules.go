// Package rules implements the sync rule engine: a priority-ordered
// include/exclude cascade over glob or regex patterns, generalized from
// the per-file-type glob cascade in the onedrive-go filter engine.
package rules

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	gosync "sync"
)

// Kind distinguishes an include rule from an exclude rule.
type Kind string

const (
	KindInclude Kind = "include"
	KindExclude Kind = "exclude"
)

// PatternKind selects how Pattern is interpreted.
type PatternKind string

const (
	PatternGlob  PatternKind = "glob"
	PatternRegex PatternKind = "regex"
)

// Priority bounds, per spec: priority in [-100, 100].
const (
	MinPriority = -100
	MaxPriority = 100
)

// Rule is a single sync rule: {id, name, kind, pattern, pattern-kind,
// optional file-type qualifier, priority, enabled}.
type Rule struct {
	ID          string
	Name        string
	Kind        Kind
	Pattern     string
	PatternKind PatternKind
	FileType    string // optional; empty = applies to all file types
	Priority    int
	Enabled     bool
}

// ValidationError reports why Validate rejected a rule.
type ValidationError struct {
	Code  string // invalid-pattern | invalid-priority | missing-field
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("rules: %s: %s: %v", e.Code, e.Field, e.Err)
	}

	return fmt.Sprintf("rules: %s: %s", e.Code, e.Field)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Validate checks a rule for structural correctness. It does not consult
// the engine's existing rule set (duplicate IDs are the engine's concern).
func Validate(r Rule) error {
	if r.ID == "" {
		return &ValidationError{Code: "missing-field", Field: "id"}
	}

	if r.Name == "" {
		return &ValidationError{Code: "missing-field", Field: "name"}
	}

	if r.Pattern == "" {
		return &ValidationError{Code: "missing-field", Field: "pattern"}
	}

	if r.Priority < MinPriority || r.Priority > MaxPriority {
		return &ValidationError{Code: "invalid-priority", Field: "priority",
			Err: fmt.Errorf("%d outside [%d, %d]", r.Priority, MinPriority, MaxPriority)}
	}

	if err := compilePattern(r); err != nil {
		return &ValidationError{Code: "invalid-pattern", Field: "pattern", Err: err}
	}

	return nil
}

// compilePattern verifies (and, for regex, compiles) the pattern so
// malformed patterns are rejected eagerly rather than at match time.
func compilePattern(r Rule) error {
	switch r.PatternKind {
	case PatternRegex:
		_, err := regexp.Compile(r.Pattern)
		return err
	case PatternGlob, "":
		_, err := filepath.Match(r.Pattern, "probe")
		return err
	default:
		return fmt.Errorf("unknown pattern kind %q", r.PatternKind)
	}
}

// compiledRule caches the compiled regex (when applicable) alongside the rule.
type compiledRule struct {
	rule Rule
	re   *regexp.Regexp // nil for glob rules
}

// Engine implements ShouldSync by iterating enabled rules in priority
// order and returning the verdict of the highest-priority matching rule.
// Default verdict when no rule matches is include, per spec §4.1.
type Engine struct {
	mu    gosync.RWMutex
	order []compiledRule // sorted by descending priority, stable on insertion order
}

// New creates an empty rule engine.
func New() *Engine {
	return &Engine{}
}

// NewFromRules creates an engine pre-populated with rules, validating each.
func NewFromRules(rs []Rule) (*Engine, error) {
	e := New()
	for _, r := range rs {
		if err := e.AddRule(r); err != nil {
			return nil, err
		}
	}

	return e, nil
}

// AddRule validates and inserts a rule, keeping the internal order sorted
// by descending priority. Ties keep insertion order (stable sort), so the
// earliest-added rule at a given priority wins among its peers — higher
// priority still always wins outright, matching spec §4.1's
// "higher numeric priority wins ties" at the rule level.
func (e *Engine) AddRule(r Rule) error {
	if err := Validate(r); err != nil {
		return err
	}

	var re *regexp.Regexp
	if r.PatternKind == PatternRegex {
		re = regexp.MustCompile(r.Pattern)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.order = append(e.order, compiledRule{rule: r, re: re})
	sort.SliceStable(e.order, func(i, j int) bool {
		return e.order[i].rule.Priority > e.order[j].rule.Priority
	})

	return nil
}

// RemoveRule deletes the rule with the given id. Returns false if no such
// rule existed.
func (e *Engine) RemoveRule(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, cr := range e.order {
		if cr.rule.ID == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			return true
		}
	}

	return false
}

// Rules returns a snapshot of the current rule set, in priority order.
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Rule, len(e.order))
	for i, cr := range e.order {
		out[i] = cr.rule
	}

	return out
}

// ShouldSync evaluates path (POSIX-style, relative to the managed root)
// against the rule set and returns the inclusion verdict. fileType is
// matched against a rule's FileType qualifier when the rule has one set;
// an empty qualifier matches every file type.
func (e *Engine) ShouldSync(path, fileType string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, cr := range e.order {
		if !cr.rule.Enabled {
			continue
		}

		if cr.rule.FileType != "" && !strings.EqualFold(cr.rule.FileType, fileType) {
			continue
		}

		if !matches(cr, path) {
			continue
		}

		// order is sorted by descending priority, so the first match wins.
		return cr.rule.Kind == KindInclude
	}

	return true
}

// matches reports whether path satisfies the rule's pattern.
func matches(cr compiledRule, path string) bool {
	slashed := filepath.ToSlash(path)

	if cr.re != nil {
		return cr.re.MatchString(slashed)
	}

	return globMatch(cr.rule.Pattern, slashed)
}

// globMatch extends filepath.Match with "**" (match across path
// separators), since the stdlib glob has no recursive-wildcard support and
// the spec's glob patterns (e.g. "**/*.md") require it.
func globMatch(pattern, name string) bool {
	if !strings.Contains(pattern, "**") {
		ok, _ := filepath.Match(pattern, name)
		if ok {
			return true
		}
		// Also try matching the basename for simple patterns like "*.md"
		// applied against a nested path — mirrors matchesSkipPattern's
		// basename comparison in the teacher's filter engine.
		ok, _ = filepath.Match(pattern, filepath.Base(name))

		return ok
	}

	re := globToRegexp(pattern)

	return re.MatchString(name)
}

// globToRegexp compiles a "**"-aware glob into a regexp. A leading "**/"
// matches zero or more leading path segments, a trailing "/**" matches
// zero or more trailing segments, and an internal "/**/" matches zero or
// more segments between its neighbors — so "a/**/b" matches both "a/b"
// and "a/x/y/b". Elsewhere "*" matches within a single segment and "?"
// matches one non-separator rune.
func globToRegexp(pattern string) *regexp.Regexp {
	hasPrefix := strings.HasPrefix(pattern, "**/")
	hasSuffix := strings.HasSuffix(pattern, "/**")

	trimmed := pattern
	if hasPrefix {
		trimmed = strings.TrimPrefix(trimmed, "**/")
	}

	if hasSuffix {
		trimmed = strings.TrimSuffix(trimmed, "/**")
	}

	midParts := strings.Split(trimmed, "/**/")
	translated := make([]string, len(midParts))

	for i, p := range midParts {
		translated[i] = translateGlobPath(p)
	}

	var b strings.Builder

	b.WriteString("^")

	if hasPrefix {
		b.WriteString("(?:.*/)?")
	}

	b.WriteString(strings.Join(translated, "/(?:.*/)?"))

	if hasSuffix {
		b.WriteString("(?:/.*)?")
	}

	b.WriteString("$")

	return regexp.MustCompile(b.String())
}

// translateGlobPath escapes regex metacharacters in a (possibly
// multi-segment) glob fragment, preserving "/" as a literal separator and
// translating "*" -> "[^/]*", "?" -> "[^/]".
func translateGlobPath(s string) string {
	var b strings.Builder

	for _, r := range s {
		switch r {
		case '*':
			b.WriteString("[^/]*")
		case '?':
			b.WriteString("[^/]")
		case '/':
			b.WriteString("/")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}

	return b.String()
}

// SelectiveFilter ANDs a user-supplied glob set onto an underlying Engine,
// implementing "selective sync mode" per the Open Question decision in
// SPEC_FULL.md §6.3: user-supplied globs apply in addition to the rule
// engine, not instead of it.
type SelectiveFilter struct {
	engine *Engine
	globs  []string
}

// NewSelectiveFilter wraps engine with an additional glob allowlist. An
// empty glob set matches everything (the filter becomes a passthrough).
func NewSelectiveFilter(engine *Engine, globs []string) *SelectiveFilter {
	return &SelectiveFilter{engine: engine, globs: globs}
}

// ShouldSync returns true only if both the underlying rule engine and the
// selective glob set (when non-empty) include the path.
func (s *SelectiveFilter) ShouldSync(path, fileType string) bool {
	if !s.engine.ShouldSync(path, fileType) {
		return false
	}

	if len(s.globs) == 0 {
		return true
	}

	slashed := filepath.ToSlash(path)
	for _, g := range s.globs {
		if globMatch(g, slashed) {
			return true
		}
	}

	return false
}

// Recommended returns a built-in rule set suited to a `~/.claude`-shaped
// managed directory: exclude common tool/VCS noise, include everything
// else by default. Supplements the distilled spec with the original
// `rules recommended` CLI behavior (SPEC_FULL.md §4).
func Recommended() []Rule {
	return []Rule{
		{ID: "rec-git", Name: "exclude .git", Kind: KindExclude, Pattern: "**/.git/**", PatternKind: PatternGlob, Priority: 50, Enabled: true},
		{ID: "rec-node-modules", Name: "exclude node_modules", Kind: KindExclude, Pattern: "**/node_modules/**", PatternKind: PatternGlob, Priority: 50, Enabled: true},
		{ID: "rec-pycache", Name: "exclude __pycache__", Kind: KindExclude, Pattern: "**/__pycache__/**", PatternKind: PatternGlob, Priority: 50, Enabled: true},
		{ID: "rec-pyc", Name: "exclude compiled python", Kind: KindExclude, Pattern: "*.pyc", PatternKind: PatternGlob, Priority: 40, Enabled: true},
		{ID: "rec-log", Name: "exclude log files", Kind: KindExclude, Pattern: "*.log", PatternKind: PatternGlob, Priority: 40, Enabled: true},
		{ID: "rec-ds-store", Name: "exclude macOS metadata", Kind: KindExclude, Pattern: ".DS_Store", PatternKind: PatternGlob, Priority: 40, Enabled: true},
	}
}
