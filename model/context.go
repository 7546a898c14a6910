package model

import (
	"context"
	"errors"
	"fmt"
	"slices"
)

// Portal roles carried in the identity token.
const (
	RoleAdministrator = "administrator"
	RoleStaff         = "staff"
	RoleReviewer      = "reviewer"
)

// Session carries identity, department, and tracing information for one
// authenticated request. Controllers receive it explicitly; nothing reads
// identity from ambient storage. It is immutable after construction and safe
// for concurrent reads.
type Session struct {
	SubjectID     string
	Email         string
	DepartmentID  string
	Roles         []string
	Claims        map[string]any
	Token         string
	CorrelationID string
	TraceID       string
	Locale        string
}

// Validate checks that all mandatory fields are present.
func (s *Session) Validate() error {
	var errs []error
	if s.SubjectID == "" {
		errs = append(errs, fmt.Errorf("SubjectID is required"))
	}
	if s.Token == "" {
		errs = append(errs, fmt.Errorf("Token is required"))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// HasRole returns true if the session carries the given role.
func (s *Session) HasRole(role string) bool {
	return slices.Contains(s.Roles, role)
}

// ActorFor returns the identity that owns proposals under the given
// participant scope: the department for department-scoped timelines, the
// subject otherwise.
func (s *Session) ActorFor(scope ParticipantScope) string {
	if scope == ScopeDepartment && s.DepartmentID != "" {
		return s.DepartmentID
	}
	return s.SubjectID
}

// Claim returns the value of the given claim key, or nil if not present.
func (s *Session) Claim(key string) any {
	if s.Claims == nil {
		return nil
	}
	return s.Claims[key]
}

type contextKey struct{}

// WithSession attaches a Session to the given context.
func WithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, contextKey{}, sess)
}

// SessionFrom extracts the Session from the context, or returns nil if not
// present.
func SessionFrom(ctx context.Context) *Session {
	sess, _ := ctx.Value(contextKey{}).(*Session)
	return sess
}
