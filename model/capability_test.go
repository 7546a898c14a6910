package model

import "testing"

func TestCapabilitySet_Has(t *testing.T) {
	tests := []struct {
		name string
		set  CapabilitySet
		cap  string
		want bool
	}{
		{"exact", CapabilitySet{CapProposalView: true}, CapProposalView, true},
		{"missing", CapabilitySet{CapProposalView: true}, CapProposalReview, false},
		{"revoked entry", CapabilitySet{CapProposalReview: false}, CapProposalReview, false},
		{"revoked wildcard", CapabilitySet{"proposal:*": false}, CapProposalReview, false},
		{"star", CapabilitySet{"*": true}, CapProposalReview, true},
		{"namespace", CapabilitySet{"proposal:*": true}, CapProposalSubmit, true},
		{"other namespace", CapabilitySet{"timeline:*": true}, CapProposalReview, false},
		{"bare prefix is exact only", CapabilitySet{"proposal": true}, CapProposalReview, false},
		{"nil set", nil, CapProposalView, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.set.Has(tt.cap); got != tt.want {
				t.Errorf("Has(%q) = %v, want %v", tt.cap, got, tt.want)
			}
		})
	}
}

func TestCapabilitySet_HasAll(t *testing.T) {
	cs := CapabilitySet{CapProposalView: true, "proposal:s*": true}
	if cs.HasAll(CapProposalView, CapProposalSubmit) {
		t.Error("HasAll = true with proposal:submit only matched by a malformed wildcard")
	}
	cs["proposal:*"] = true
	if !cs.HasAll(CapProposalView, CapProposalSubmit, CapProposalReview) {
		t.Error("HasAll = false, want true under proposal:*")
	}
	if !cs.HasAll() {
		t.Error("HasAll() with no arguments should be true")
	}
}
