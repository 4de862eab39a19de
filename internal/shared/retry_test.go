package shared

import (
	"errors"
	"testing"
	"time"
)

func TestIsSQLiteConflictError(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("SQLITE_BUSY: try again"), true},
		{errors.New("database is locked"), true},
		{errors.New("no such table: threads"), false},
	}
	for _, tc := range cases {
		if got := IsSQLiteConflictError(tc.err); got != tc.want {
			t.Errorf("IsSQLiteConflictError(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestBackoff(t *testing.T) {
	if got := Backoff(100*time.Millisecond, 2, 0); got != 400*time.Millisecond {
		t.Fatalf("expected 400ms, got %v", got)
	}
	if got := Backoff(100*time.Millisecond, 5, time.Second); got != time.Second {
		t.Fatalf("expected cap of 1s, got %v", got)
	}
	if got := Backoff(50*time.Millisecond, -1, 0); got != 50*time.Millisecond {
		t.Fatalf("expected base for negative attempt, got %v", got)
	}
}
