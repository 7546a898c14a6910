package model

import "strings"

// Capabilities checked by the HTTP surface.
const (
	CapProposalView   = "proposal:view"
	CapProposalSubmit = "proposal:submit"
	CapProposalReview = "proposal:review"
)

// CapabilitySet holds the capabilities granted to a session. A key ending
// in ":*" grants every capability under that prefix and "*" grants all.
type CapabilitySet map[string]bool

// Has reports whether cap is granted exactly or through a wildcard.
func (cs CapabilitySet) Has(cap string) bool {
	if cs[cap] || cs["*"] {
		return true
	}
	for pattern, granted := range cs {
		if !granted {
			continue
		}
		if prefix, ok := strings.CutSuffix(pattern, "*"); ok && strings.HasSuffix(prefix, ":") && strings.HasPrefix(cap, prefix) {
			return true
		}
	}
	return false
}

// HasAll reports whether every one of caps is granted.
func (cs CapabilitySet) HasAll(caps ...string) bool {
	for _, cap := range caps {
		if !cs.Has(cap) {
			return false
		}
	}
	return true
}

// CapabilityResolver resolves the capability set for a session.
type CapabilityResolver interface {
	Resolve(sess *Session) (CapabilitySet, error)

	// Invalidate clears cached capabilities for the given subject.
	Invalidate(subjectID string)
}

// PolicyEvaluator maps a session's roles to capabilities.
type PolicyEvaluator interface {
	ResolveCapabilities(sess *Session) (CapabilitySet, error)

	// Sync refreshes policy data from its source.
	Sync() error
}
