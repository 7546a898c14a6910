package capability

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/pitabwire/hibah/model"
)

// DefaultPolicy is used when no policy file is configured.
const DefaultPolicy = `roles:
  administrator:
    - "*"
  staff:
    - proposal:view
    - proposal:submit
  reviewer:
    - proposal:view
    - proposal:review
`

type policyFile struct {
	Roles map[string][]string `yaml:"roles"`
}

// StaticPolicyEvaluator resolves capabilities from a YAML document mapping
// roles to capability strings.
type StaticPolicyEvaluator struct {
	path   string
	mu     sync.RWMutex
	policy policyFile
}

// NewStaticPolicyEvaluator creates an evaluator that loads policies from
// path. An empty path selects DefaultPolicy.
func NewStaticPolicyEvaluator(path string) (*StaticPolicyEvaluator, error) {
	e := &StaticPolicyEvaluator{path: path}
	if err := e.Sync(); err != nil {
		return nil, err
	}
	return e, nil
}

// ResolveCapabilities returns the union of capabilities for all roles of the
// session.
func (e *StaticPolicyEvaluator) ResolveCapabilities(sess *model.Session) (model.CapabilitySet, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	caps := make(model.CapabilitySet)
	for _, role := range sess.Roles {
		for _, c := range e.policy.Roles[role] {
			caps[c] = true
		}
	}
	return caps, nil
}

// Roles returns the number of roles the policy defines.
func (e *StaticPolicyEvaluator) Roles() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.policy.Roles)
}

// Sync reloads the policy file from disk.
func (e *StaticPolicyEvaluator) Sync() error {
	data := []byte(DefaultPolicy)
	source := "default policy"
	if e.path != "" {
		var err error
		if data, err = os.ReadFile(e.path); err != nil {
			return fmt.Errorf("capability: reading policy file %s: %w", e.path, err)
		}
		source = e.path
	}

	var p policyFile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("capability: parsing %s: %w", source, err)
	}
	if len(p.Roles) == 0 {
		return fmt.Errorf("capability: %s defines no roles", source)
	}
	for role, caps := range p.Roles {
		for _, c := range caps {
			if !validCapability(c) {
				return fmt.Errorf("capability: %s: role %s grants malformed capability %q", source, role, c)
			}
		}
	}

	e.mu.Lock()
	e.policy = p
	e.mu.Unlock()

	return nil
}

// validCapability accepts "*", "resource:*" and "resource:action".
func validCapability(c string) bool {
	if c == "*" {
		return true
	}
	resource, action, ok := strings.Cut(c, ":")
	return ok && resource != "" && action != "" && !strings.Contains(resource, "*") &&
		(action == "*" || !strings.ContainsAny(action, "*:"))
}
