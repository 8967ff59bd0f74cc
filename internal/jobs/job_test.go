package jobs

import (
	"testing"
	"time"
)

func TestRetryDelay(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 5, Base: 5 * time.Second, Max: 30 * time.Minute}
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{3, 20 * time.Second},
		{4, 40 * time.Second},
		{10, 30 * time.Minute},
		{100, 30 * time.Minute}, // must not overflow
	}
	for _, tc := range cases {
		if got := policy.Delay(tc.attempt); got != tc.want {
			t.Errorf("Delay(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestNextStateAfterFailure(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 3, Base: time.Second, Max: time.Minute}
	if got := policy.NextStateAfterFailure(1); got != StateFailedRetry {
		t.Errorf("attempt 1: got %s, want failed_retry", got)
	}
	if got := policy.NextStateAfterFailure(2); got != StateFailedRetry {
		t.Errorf("attempt 2: got %s, want failed_retry", got)
	}
	if got := policy.NextStateAfterFailure(3); got != StateFailedPermanent {
		t.Errorf("attempt 3: got %s, want failed_permanent", got)
	}
}

func TestClaimable(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name string
		job  Job
		want bool
	}{
		{"pending", Job{Status: StatePending}, true},
		{"done", Job{Status: StateDone}, false},
		{"failed permanent", Job{Status: StateFailedPermanent}, false},
		{"retry not due", Job{Status: StateFailedRetry, NextRetryAt: now.Add(time.Minute)}, false},
		{"retry due", Job{Status: StateFailedRetry, NextRetryAt: now.Add(-time.Second)}, true},
		{"processing live lease", Job{Status: StateProcessing, LeaseExpiry: now.Add(time.Minute)}, false},
		{"processing expired lease", Job{Status: StateProcessing, LeaseExpiry: now.Add(-time.Second)}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.job.Claimable(now); got != tc.want {
				t.Errorf("Claimable = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestTerminalStates(t *testing.T) {
	for state, want := range map[State]bool{
		StatePending:         false,
		StateProcessing:      false,
		StateFailedRetry:     false,
		StateDone:            true,
		StateFailedPermanent: true,
	} {
		if got := state.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", state, got, want)
		}
	}
}

func TestNewJobDerivesDocID(t *testing.T) {
	a := NewJob(Payload{URL: "https://example.com/", Content: "x"})
	b := NewJob(Payload{URL: "https://example.com/", Content: "y"})
	if a.DocID != b.DocID {
		t.Error("same URL produced different doc IDs")
	}
	if a.ID == b.ID {
		t.Error("two jobs share a job ID")
	}
	if a.ContentHash == b.ContentHash {
		t.Error("different content produced the same hash")
	}
}
