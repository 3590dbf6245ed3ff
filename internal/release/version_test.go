package release

import (
	"testing"

	"github.com/manifest-gateway/manifest-gateway/internal/errdefs"
)

func TestParseValid(t *testing.T) {
	tests := []struct {
		in   string
		want Version
	}{
		{"0.0.0", Version{0, 0, 0}},
		{"1.0.0", Version{1, 0, 0}},
		{"1.2.3", Version{1, 2, 3}},
		{"10.20.30", Version{10, 20, 30}},
		{"4.3.2", Version{4, 3, 2}},
		{"999.0.1", Version{999, 0, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			if err != nil {
				t.Fatalf("Parse(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Fatalf("Parse(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseRejects(t *testing.T) {
	rejects := []string{
		"",
		"1",
		"1.2",
		"1.2.3.4",
		"1.02.0",
		"01.2.0",
		"1.2.00",
		"-1.0.0",
		"1.a.0",
		"1.0.0-rc1",
		"1.0.0+build",
		"v1.0.0",
		"1.0.0 ",
		" 1.0.0",
		"1..0",
	}
	for _, in := range rejects {
		t.Run(in, func(t *testing.T) {
			if _, err := Parse(in); err == nil {
				t.Fatalf("Parse(%q) succeeded, want InvalidVersionFormat", in)
			} else if !errdefs.IsKind(err, errdefs.KindInvalidVersionFormat) {
				t.Fatalf("Parse(%q) = %v, want InvalidVersionFormat", in, err)
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	for _, v := range []Version{{0, 0, 0}, {1, 0, 0}, {12, 34, 56}, {4, 3, 2}, {100, 0, 9}} {
		got, err := Parse(v.String())
		if err != nil {
			t.Fatalf("Parse(%q): %v", v.String(), err)
		}
		if got != v {
			t.Fatalf("round trip: got %v, want %v", got, v)
		}
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.0.0", "1.0.0", 0},
		{"1.0.0", "2.0.0", -1},
		{"2.0.0", "1.9.9", 1},
		{"1.2.0", "1.10.0", -1},
		{"1.2.3", "1.2.4", -1},
		{"0.0.1", "0.0.0", 1},
	}
	for _, tt := range tests {
		a, b := MustParse(tt.a), MustParse(tt.b)
		if got := a.Compare(b); got != tt.want {
			t.Errorf("Compare(%s, %s) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
		// Exactly one of <, ==, > must hold.
		holds := 0
		if a.Less(b) {
			holds++
		}
		if a == b {
			holds++
		}
		if b.Less(a) {
			holds++
		}
		if holds != 1 {
			t.Errorf("ordering totality violated for (%s, %s)", tt.a, tt.b)
		}
	}
}

func TestIncrement(t *testing.T) {
	v := MustParse("4.3.2")
	got := v.Increment()
	if got.String() != "5.0.0" {
		t.Fatalf("Increment(4.3.2) = %s, want 5.0.0", got)
	}
	// The original value is untouched.
	if v.String() != "4.3.2" {
		t.Fatalf("Increment mutated receiver: %s", v)
	}
}

func TestIncrementExceedsSet(t *testing.T) {
	set := []Version{{1, 0, 0}, {2, 5, 1}, {2, 6, 0}, {0, 9, 9}}
	max, ok := Latest(set)
	if !ok {
		t.Fatal("Latest on non-empty set returned ok=false")
	}
	next := max.Increment()
	for _, v := range set {
		if !v.Less(next) {
			t.Fatalf("%s is not exceeded by incremented max %s", v, next)
		}
	}
}

func TestLatestEmpty(t *testing.T) {
	if _, ok := Latest(nil); ok {
		t.Fatal("Latest(nil) returned ok=true")
	}
}
