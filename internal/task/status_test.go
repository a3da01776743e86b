package task

import "testing"

// legalEdges is the full transition table: for every (from, to) pair not
// listed here (and not a self-transition), CanTransition must be false.
var legalEdges = map[Status][]Status{
	StatusWaiting:  {StatusRunning, StatusInvalid, StatusDeleted},
	StatusRunning:  {StatusWaiting, StatusComplete, StatusError, StatusInvalid, StatusDeleted},
	StatusComplete: {StatusInvalid, StatusDeleted},
	StatusError:    {StatusWaiting, StatusInvalid, StatusDeleted},
	StatusInvalid:  {},
	StatusDeleted:  {},
}

func TestTransitionTableComplete(t *testing.T) {
	for _, from := range Statuses {
		allowed := map[Status]bool{from: true} // self-transitions are idempotent no-ops
		for _, to := range legalEdges[from] {
			allowed[to] = true
		}
		for _, to := range Statuses {
			got := CanTransition(from, to)
			if got != allowed[to] {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, allowed[to])
			}
		}
	}
}

func TestTerminalStatuses(t *testing.T) {
	for _, s := range Statuses {
		want := s == StatusInvalid || s == StatusDeleted
		if got := s.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", s, got, want)
		}
	}
}

func TestStatusValid(t *testing.T) {
	for _, s := range Statuses {
		if !s.Valid() {
			t.Errorf("%s should be valid", s)
		}
	}
	for _, s := range []Status{"", "Waiting", "done", "unknown"} {
		if s.Valid() {
			t.Errorf("%q should not be valid", s)
		}
	}
}

func TestAllowedFrom(t *testing.T) {
	tests := []struct {
		to   Status
		want []Status
	}{
		{to: StatusRunning, want: []Status{StatusWaiting, StatusRunning}},
		{to: StatusComplete, want: []Status{StatusRunning, StatusComplete}},
		{to: StatusWaiting, want: []Status{StatusWaiting, StatusRunning, StatusError}},
		{to: StatusDeleted, want: []Status{StatusWaiting, StatusRunning, StatusComplete, StatusError, StatusDeleted}},
	}

	for _, tt := range tests {
		t.Run(string(tt.to), func(t *testing.T) {
			got := AllowedFrom(tt.to)
			if len(got) != len(tt.want) {
				t.Fatalf("AllowedFrom(%s) = %v, want %v", tt.to, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("AllowedFrom(%s) = %v, want %v", tt.to, got, tt.want)
					break
				}
			}
		})
	}
}

func TestInvalidTransitionError(t *testing.T) {
	err := &InvalidTransitionError{From: StatusComplete, To: StatusRunning}
	want := "invalid status transition: complete -> running"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
