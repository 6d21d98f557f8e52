package risk

import (
	"fmt"
	"sort"
	"strings"
)

// Registry maps strategy names to their declared scaling policy. It is
// built once at startup and passed to whoever needs it. Names are matched
// without regard to case.
type Registry struct {
	def      ScalingPolicy
	policies map[string]ScalingPolicy
}

// NewRegistry validates every policy. Strategies not listed resolve to def.
func NewRegistry(def ScalingPolicy, policies map[string]ScalingPolicy) (*Registry, error) {
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("default policy: %w", err)
	}
	r := &Registry{def: def, policies: make(map[string]ScalingPolicy, len(policies))}
	for name, p := range policies {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("strategy %q: %w", name, err)
		}
		r.policies[strings.ToLower(name)] = p
	}
	return r, nil
}

// Policy returns the policy for strategy and whether it was declared.
func (r *Registry) Policy(strategy string) (ScalingPolicy, bool) {
	if r == nil {
		return DefaultPolicy(), false
	}
	if p, ok := r.policies[strings.ToLower(strategy)]; ok {
		return p, true
	}
	return r.def, false
}

func (r *Registry) Strategies() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.policies))
	for name := range r.policies {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
