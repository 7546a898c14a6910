package model

import (
	"context"
	"testing"
)

func TestSession_Validate(t *testing.T) {
	tests := []struct {
		name    string
		sess    *Session
		wantErr bool
	}{
		{"valid", &Session{SubjectID: "user-1", Token: "tok"}, false},
		{"missing subject", &Session{Token: "tok"}, true},
		{"missing token", &Session{SubjectID: "user-1"}, true},
		{"empty", &Session{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.sess.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSession_ActorFor(t *testing.T) {
	sess := &Session{SubjectID: "user-1", DepartmentID: "dept-9"}
	if got := sess.ActorFor(ScopeDepartment); got != "dept-9" {
		t.Errorf("ActorFor(department) = %q, want dept-9", got)
	}
	if got := sess.ActorFor(ScopePerson); got != "user-1" {
		t.Errorf("ActorFor(person) = %q, want user-1", got)
	}

	noDept := &Session{SubjectID: "user-1"}
	if got := noDept.ActorFor(ScopeDepartment); got != "user-1" {
		t.Errorf("ActorFor(department) without department = %q, want user-1", got)
	}
}

func TestSession_HasRole(t *testing.T) {
	sess := &Session{Roles: []string{RoleStaff}}
	if !sess.HasRole(RoleStaff) {
		t.Error("HasRole(staff) = false, want true")
	}
	if sess.HasRole(RoleReviewer) {
		t.Error("HasRole(reviewer) = true, want false")
	}
}

func TestSession_Claim(t *testing.T) {
	sess := &Session{Claims: map[string]any{"department_id": "dept-9"}}
	if got := sess.Claim("department_id"); got != "dept-9" {
		t.Errorf("Claim = %v, want dept-9", got)
	}
	if got := (&Session{}).Claim("x"); got != nil {
		t.Errorf("Claim on nil map = %v, want nil", got)
	}
}

func TestWithSession_roundTrip(t *testing.T) {
	sess := &Session{SubjectID: "user-1", Token: "tok"}
	ctx := WithSession(context.Background(), sess)
	if got := SessionFrom(ctx); got != sess {
		t.Errorf("SessionFrom = %v, want %v", got, sess)
	}
	if got := SessionFrom(context.Background()); got != nil {
		t.Errorf("SessionFrom(empty) = %v, want nil", got)
	}
}
