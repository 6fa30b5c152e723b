package version

import (
	"strings"
	"testing"
)

func TestAccessorsMatchInfo(t *testing.T) {
	v, c, d := Info()
	if v == "" || c == "" || d == "" {
		t.Fatalf("build info must not be empty: %q %q %q", v, c, d)
	}
	if GetVersion() != v || GetCommit() != c || GetDate() != d {
		t.Fatal("accessors must match Info")
	}
}

func TestString(t *testing.T) {
	s := String()
	for _, part := range []string{"version=", "commit=", "date="} {
		if !strings.Contains(s, part) {
			t.Errorf("String() = %q, missing %q", s, part)
		}
	}
}
