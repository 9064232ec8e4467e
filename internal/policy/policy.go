// Package policy implements the Strategy pattern for app-specific capture rules.
// Each rule set (password managers, video calls, system UIs) has its own policy
// describing which apps and window titles it covers.
package policy

import (
	"strings"

	"github.com/eliteGoblin/focusd/focus_mon/internal/domain"
)

// AppPolicy defines the strategy interface for an app rule.
type AppPolicy interface {
	// ID returns unique identifier (e.g., "password-managers", "video-calls").
	ID() string

	// Name returns human-readable name for display.
	Name() string

	// Kind returns what the pipeline does with a match.
	Kind() domain.PolicyKind

	// AppPatterns returns app names covered by the policy.
	// Patterns are matched case-insensitively as substrings.
	AppPatterns() []string

	// TitlePatterns returns window title fragments covered by the policy.
	TitlePatterns() []string
}

// exactAppMatcher is implemented by policies whose app patterns must match the
// whole app name ("Dock" must not match "Docker Desktop").
type exactAppMatcher interface {
	ExactAppMatch() bool
}

// Match reports whether the policy covers the given app or window title.
func Match(p AppPolicy, appName, windowTitle string) bool {
	if e, ok := p.(exactAppMatcher); ok && e.ExactAppMatch() {
		if equalsAny(appName, p.AppPatterns()) {
			return true
		}
	} else if containsAny(appName, p.AppPatterns()) {
		return true
	}
	return containsAny(windowTitle, p.TitlePatterns())
}

func equalsAny(value string, patterns []string) bool {
	for _, pattern := range patterns {
		if value != "" && strings.EqualFold(value, pattern) {
			return true
		}
	}
	return false
}

func containsAny(value string, patterns []string) bool {
	if value == "" {
		return false
	}
	lower := strings.ToLower(value)
	for _, pattern := range patterns {
		if pattern == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(pattern)) {
			return true
		}
	}
	return false
}

// StaticPolicy is an AppPolicy backed by fixed pattern lists.
// Used for the built-in rule sets and for user-configured patterns.
type StaticPolicy struct {
	id     string
	name   string
	kind   domain.PolicyKind
	apps   []string
	titles []string
	exact  bool
}

// NewStaticPolicy creates a policy from explicit pattern lists.
func NewStaticPolicy(id, name string, kind domain.PolicyKind, apps, titles []string) *StaticPolicy {
	return &StaticPolicy{id: id, name: name, kind: kind, apps: apps, titles: titles}
}

// NewExactPolicy creates a policy whose app patterns must match the full app name.
func NewExactPolicy(id, name string, kind domain.PolicyKind, apps, titles []string) *StaticPolicy {
	return &StaticPolicy{id: id, name: name, kind: kind, apps: apps, titles: titles, exact: true}
}

func (p *StaticPolicy) ID() string              { return p.id }
func (p *StaticPolicy) Name() string            { return p.name }
func (p *StaticPolicy) Kind() domain.PolicyKind { return p.kind }
func (p *StaticPolicy) AppPatterns() []string   { return p.apps }
func (p *StaticPolicy) TitlePatterns() []string { return p.titles }
func (p *StaticPolicy) ExactAppMatch() bool     { return p.exact }

// Ensure StaticPolicy implements AppPolicy.
var _ AppPolicy = (*StaticPolicy)(nil)
