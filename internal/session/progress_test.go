package session

import (
	"testing"
	"time"
)

func TestParsePercent(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"30", 30, true},
		{"30.5", 30.5, true},
		{" 70% ", 70, true},
		{"-1", 0, false},
		{"scanning", 0, false},
		{"", 0, false},
	}
	for _, tc := range tests {
		got, ok := parsePercent(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Errorf("parsePercent(%q) = %v, %v; want %v, %v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestProgressApply(t *testing.T) {
	var p Progress
	now := time.Now()

	if !p.apply("downloading", now) {
		t.Fatal("text progress rejected")
	}
	if p.Percent != nil {
		t.Error("text progress must not set a percent")
	}
	if !p.apply("40", now) || *p.Percent != 40 {
		t.Fatalf("apply 40: %+v", p)
	}
	if p.apply("39", now) {
		t.Error("regression accepted")
	}
	if !p.apply("40", now) {
		t.Error("equal value rejected")
	}
	if !p.apply("still going", now) || *p.Percent != 40 {
		t.Errorf("text after percent: %+v", p)
	}
	if p.Events != 4 {
		t.Errorf("Events: got %d, want 4", p.Events)
	}
}
