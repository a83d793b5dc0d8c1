package pipeline_test

import (
	"testing"

	"jobmate/discovery-pipeline/internal/pipeline"
)

func intPtr(n int) *int { return &n }

func TestWithinApplicantLimit(t *testing.T) {
	cases := []struct {
		name       string
		applicants *int
		limit      *int
		want       bool
	}{
		{"no limit", intPtr(500), nil, true},
		{"unknown applicants", nil, intPtr(10), true},
		{"under", intPtr(9), intPtr(10), true},
		{"equal", intPtr(10), intPtr(10), true},
		{"over by one", intPtr(11), intPtr(10), false},
		{"zero limit", intPtr(0), intPtr(0), true},
	}
	for _, c := range cases {
		if got := pipeline.WithinApplicantLimit(c.applicants, c.limit); got != c.want {
			t.Errorf("%s: WithinApplicantLimit = %v, want %v", c.name, got, c.want)
		}
	}
}
