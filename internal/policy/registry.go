package policy

import (
	"fmt"
	"sort"

	"github.com/eliteGoblin/focusd/focus_mon/internal/domain"
)

// Registry holds all app policies.
type Registry struct {
	policies map[string]AppPolicy
}

// NewRegistry creates a registry with all default policies.
func NewRegistry() *Registry {
	r := &Registry{
		policies: make(map[string]AppPolicy),
	}

	r.Register(NewPasswordManagerPolicy())
	r.Register(NewVideoCallPolicy())
	r.Register(NewSystemOverlayPolicy())
	r.Register(NewSelfExclusionPolicy())

	return r
}

// NewRegistryWithPolicies creates a registry with custom policies (for testing).
func NewRegistryWithPolicies(policies ...AppPolicy) *Registry {
	r := &Registry{
		policies: make(map[string]AppPolicy),
	}
	for _, p := range policies {
		r.Register(p)
	}
	return r
}

// Register adds a policy to the registry. A policy with the same ID is replaced.
func (r *Registry) Register(p AppPolicy) {
	r.policies[p.ID()] = p
}

// RegisterPatterns adds user-configured patterns as a custom policy of kind.
// Empty pattern lists are ignored.
func (r *Registry) RegisterPatterns(kind domain.PolicyKind, apps, titles []string) {
	if len(apps) == 0 && len(titles) == 0 {
		return
	}
	id := fmt.Sprintf("custom-%s", kind)
	r.Register(NewStaticPolicy(id, "Custom "+string(kind), kind, apps, titles))
}

// Get returns a policy by ID.
func (r *Registry) Get(id string) (AppPolicy, bool) {
	p, ok := r.policies[id]
	return p, ok
}

// GetAll returns all registered policies sorted by ID.
func (r *Registry) GetAll() []AppPolicy {
	result := make([]AppPolicy, 0, len(r.policies))
	for _, p := range r.policies {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID() < result[j].ID() })
	return result
}

// ByKind returns the policies of one kind sorted by ID.
func (r *Registry) ByKind(kind domain.PolicyKind) []AppPolicy {
	var result []AppPolicy
	for _, p := range r.GetAll() {
		if p.Kind() == kind {
			result = append(result, p)
		}
	}
	return result
}

// RegistryPolicyStore adapts Registry to implement domain.PolicyStore interface.
type RegistryPolicyStore struct {
	registry *Registry
}

// NewPolicyStore creates a PolicyStore backed by the given Registry.
func NewPolicyStore(registry *Registry) domain.PolicyStore {
	return &RegistryPolicyStore{registry: registry}
}

// Matches reports whether any policy of kind covers app or title.
func (s *RegistryPolicyStore) Matches(kind domain.PolicyKind, appName, windowTitle string) bool {
	for _, p := range s.registry.ByKind(kind) {
		if Match(p, appName, windowTitle) {
			return true
		}
	}
	return false
}

// List returns IDs of all policies of kind.
func (s *RegistryPolicyStore) List(kind domain.PolicyKind) []string {
	policies := s.registry.ByKind(kind)
	ids := make([]string, len(policies))
	for i, p := range policies {
		ids[i] = p.ID()
	}
	return ids
}

// Ensure RegistryPolicyStore implements domain.PolicyStore.
var _ domain.PolicyStore = (*RegistryPolicyStore)(nil)
