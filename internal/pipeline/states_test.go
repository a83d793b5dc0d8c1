package pipeline_test

import (
	"testing"

	"jobmate/discovery-pipeline/internal/pipeline"
)

var allStates = []pipeline.State{
	pipeline.StatePlanning,
	pipeline.StateDiscoveringStructured,
	pipeline.StateDiscoveringText,
	pipeline.StateValidating,
	pipeline.StateMerging,
	pipeline.StateDone,
	pipeline.StateError,
}

// ── ParseState ─────────────────────────────────────────────────────────────

func TestParseState_ValidValues(t *testing.T) {
	for _, s := range allStates {
		got, err := pipeline.ParseState(string(s))
		if err != nil {
			t.Errorf("ParseState(%q) returned unexpected error: %v", s, err)
		}
		if got != s {
			t.Errorf("ParseState(%q) = %q", s, got)
		}
	}
}

func TestParseState_InvalidValue(t *testing.T) {
	for _, s := range []string{"", "UNKNOWN", "done"} {
		if _, err := pipeline.ParseState(s); err == nil {
			t.Errorf("ParseState(%q) expected error, got nil", s)
		}
	}
}

// ── IsTransitionAllowed — happy paths ──────────────────────────────────────

func TestIsTransitionAllowed_StructuredPath(t *testing.T) {
	path := []pipeline.State{
		pipeline.StatePlanning,
		pipeline.StateDiscoveringStructured,
		pipeline.StateMerging,
		pipeline.StateDone,
	}
	for i := 1; i < len(path); i++ {
		if !pipeline.IsTransitionAllowed(path[i-1], path[i]) {
			t.Errorf("IsTransitionAllowed(%s → %s) should be true", path[i-1], path[i])
		}
	}
}

func TestIsTransitionAllowed_FallbackPath(t *testing.T) {
	path := []pipeline.State{
		pipeline.StatePlanning,
		pipeline.StateDiscoveringStructured,
		pipeline.StateDiscoveringText,
		pipeline.StateValidating,
		pipeline.StateMerging,
		pipeline.StateDone,
	}
	for i := 1; i < len(path); i++ {
		if !pipeline.IsTransitionAllowed(path[i-1], path[i]) {
			t.Errorf("IsTransitionAllowed(%s → %s) should be true", path[i-1], path[i])
		}
	}
	if !pipeline.IsTransitionAllowed(pipeline.StatePlanning, pipeline.StateDiscoveringText) {
		t.Error("PLANNING → DISCOVERING_TEXT should be allowed when quota is empty")
	}
}

// ── IsTransitionAllowed — ERROR only after both tiers ──────────────────────

func TestIsTransitionAllowed_ErrorOnlyFromTextTier(t *testing.T) {
	for _, from := range allStates {
		want := from == pipeline.StateDiscoveringText
		if got := pipeline.IsTransitionAllowed(from, pipeline.StateError); got != want {
			t.Errorf("IsTransitionAllowed(%s → ERROR) = %v, want %v", from, got, want)
		}
	}
}

// ── IsTransitionAllowed — forbidden shortcuts ──────────────────────────────

func TestIsTransitionAllowed_Forbidden(t *testing.T) {
	cases := []struct {
		from pipeline.State
		to   pipeline.State
	}{
		{pipeline.StateDiscoveringText, pipeline.StateMerging},          // skip validation
		{pipeline.StateDiscoveringStructured, pipeline.StateValidating}, // structured skips validation
		{pipeline.StatePlanning, pipeline.StateMerging},                 // nothing discovered yet
		{pipeline.StateValidating, pipeline.StateDiscoveringText},       // backwards
		{pipeline.StateMerging, pipeline.StateDiscoveringStructured},    // backwards
	}
	for _, c := range cases {
		if pipeline.IsTransitionAllowed(c.from, c.to) {
			t.Errorf("IsTransitionAllowed(%s → %s) should be false", c.from, c.to)
		}
	}
}

// ── Terminal states ────────────────────────────────────────────────────────

func TestIsTransitionAllowed_FromTerminal(t *testing.T) {
	for _, from := range []pipeline.State{pipeline.StateDone, pipeline.StateError} {
		if !pipeline.IsTerminal(from) {
			t.Errorf("IsTerminal(%s) should be true", from)
		}
		for _, to := range allStates {
			if pipeline.IsTransitionAllowed(from, to) {
				t.Errorf("IsTransitionAllowed(%s → %s) should be false (terminal state)", from, to)
			}
		}
	}
}

func TestIsTransitionAllowed_Self(t *testing.T) {
	for _, s := range allStates {
		if pipeline.IsTransitionAllowed(s, s) {
			t.Errorf("IsTransitionAllowed(%s → %s) should be false (self)", s, s)
		}
	}
}
