package domain

import "testing"

func TestTrialTransitions(t *testing.T) {
	allowed := []struct{ from, to TrialState }{
		{TrialStatePending, TrialStateRunning},
		{TrialStatePending, TrialStateFailed},
		{TrialStateRunning, TrialStateSucceeded},
		{TrialStateRunning, TrialStatePruned},
		{TrialStateRunning, TrialStateFailed},
	}
	for _, tc := range allowed {
		if err := ValidateTrialTransition(tc.from, tc.to); err != nil {
			t.Fatalf("ValidateTrialTransition(%s, %s)=%v, want nil", tc.from, tc.to, err)
		}
	}

	terminal := []TrialState{TrialStateSucceeded, TrialStatePruned, TrialStateFailed}
	for _, from := range terminal {
		if !from.Terminal() {
			t.Fatalf("%s.Terminal()=false", from)
		}
		for _, to := range []TrialState{TrialStatePending, TrialStateRunning, TrialStateSucceeded, TrialStatePruned, TrialStateFailed} {
			if CanTransitionTrial(from, to) {
				t.Fatalf("CanTransitionTrial(%s, %s)=true, want false", from, to)
			}
		}
	}

	if err := ValidateTrialTransition(TrialStatePending, TrialStatePruned); err == nil {
		t.Fatalf("pending -> pruned should be rejected")
	}
	if err := ValidateTrialTransition("bogus", TrialStateRunning); err == nil {
		t.Fatalf("unknown state should be rejected")
	}
}

func TestNormalizeTerminalStatus(t *testing.T) {
	cases := map[string]TerminalStatus{
		"Succeeded": TerminalSucceeded,
		"completed": TerminalSucceeded,
		"Failed":    TerminalFailed,
		"error":     TerminalFailed,
		"running":   TerminalNone,
		"":          TerminalNone,
	}
	for in, want := range cases {
		if got := NormalizeTerminalStatus(in); got != want {
			t.Fatalf("NormalizeTerminalStatus(%q)=%q, want %q", in, got, want)
		}
	}
}

func TestTrialRecordValidate(t *testing.T) {
	rec := TrialRecord{SweepID: "alice-exp1", TrialID: 0, State: TrialStateSucceeded, Succeeded: true}
	if err := rec.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	rec.State = TrialStateRunning
	if err := rec.Validate(); err == nil {
		t.Fatalf("non-terminal record should fail")
	}
	rec.State = TrialStatePruned
	if err := rec.Validate(); err == nil {
		t.Fatalf("pruned record flagged succeeded should fail")
	}
}
