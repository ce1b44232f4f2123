package models

import (
	"reflect"
	"testing"
)

func TestNormalizeMaterials(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected []string
	}{
		{
			name:     "trims and dedupes case-insensitively",
			input:    []string{"NaCl", " naCl ", "", "HCl"},
			expected: []string{"NaCl", "HCl"},
		},
		{
			name:     "preserves first occurrence order",
			input:    []string{"beaker", "Bunsen burner", "BEAKER", "tongs"},
			expected: []string{"beaker", "Bunsen burner", "tongs"},
		},
		{
			name:     "drops whitespace-only entries",
			input:    []string{"  ", "\t", "ethanol"},
			expected: []string{"ethanol"},
		},
		{
			name:     "empty input",
			input:    nil,
			expected: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeMaterials(tt.input)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("NormalizeMaterials(%v) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestMaterialsKey(t *testing.T) {
	key := MaterialsKey([]string{" NaCl", "HCl ", "nacl"})
	if key != "nacl|hcl" {
		t.Errorf("MaterialsKey = %q, want %q", key, "nacl|hcl")
	}

	// Case variants of the same set share a cache entry.
	if MaterialsKey([]string{"NaCl"}) != MaterialsKey([]string{"nacl"}) {
		t.Error("case variants must produce the same key")
	}
}

func TestLabRequestValidate(t *testing.T) {
	valid := &LabRequest{
		TeacherName:     "N. Dlamini",
		TeacherEmail:    "ndlamini@school.za",
		ExperimentTitle: "Titration",
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("expected valid request, got %v", err)
	}

	missing := []*LabRequest{
		{TeacherEmail: "x@y.z", ExperimentTitle: "t"},
		{TeacherName: "n", ExperimentTitle: "t"},
		{TeacherName: "n", TeacherEmail: "x@y.z"},
		{TeacherName: "  ", TeacherEmail: "x@y.z", ExperimentTitle: "t"},
	}
	for i, req := range missing {
		if err := req.Validate(); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}

func TestCorrelationIDFallsBackToID(t *testing.T) {
	req := &LabRequest{ID: "req-1"}
	if got := req.CorrelationID(); got != "req-1" {
		t.Errorf("CorrelationID = %q, want request id", got)
	}

	req.Correlation = "corr-9"
	if got := req.CorrelationID(); got != "corr-9" {
		t.Errorf("CorrelationID = %q, want explicit correlation", got)
	}
}

func TestDecisionAwaiting(t *testing.T) {
	awaiting := Decision{Approved: false, Reason: ReasonAwaitingExternalApproval}
	if !awaiting.Awaiting() {
		t.Error("expected awaiting decision")
	}

	rejected := Decision{Approved: false, Reason: "insufficient justification"}
	if rejected.Awaiting() {
		t.Error("rejection must not read as awaiting")
	}

	approved := Decision{Approved: true, Reason: ReasonAwaitingExternalApproval}
	if approved.Awaiting() {
		t.Error("approved decision must not read as awaiting")
	}
}
