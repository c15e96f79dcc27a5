package domain

import "testing"

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to JobStatus
		want     bool
	}{
		{JobStatusQueued, JobStatusRunning, true},
		{JobStatusRunning, JobStatusDone, true},
		{JobStatusRunning, JobStatusError, true},
		{JobStatusQueued, JobStatusDone, false},
		{JobStatusQueued, JobStatusError, false},
		{JobStatusRunning, JobStatusQueued, false},
		{JobStatusDone, JobStatusRunning, false},
		{JobStatusDone, JobStatusError, false},
		{JobStatusError, JobStatusRunning, false},
		{JobStatusError, JobStatusQueued, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestTerminal(t *testing.T) {
	if JobStatusQueued.Terminal() || JobStatusRunning.Terminal() {
		t.Fatal("queued/running must not be terminal")
	}
	if !JobStatusDone.Terminal() || !JobStatusError.Terminal() {
		t.Fatal("done/error must be terminal")
	}
}
