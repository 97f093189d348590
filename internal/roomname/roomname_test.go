package roomname

import (
	"errors"
	"testing"
)

func TestNewRejectsUnsupportedSegments(t *testing.T) {
	for _, n := range []int{0, 1, 4, -3} {
		if _, err := New(n); !errors.Is(err, ErrInvalidSegments) {
			t.Errorf("New(%d): expected ErrInvalidSegments, got %v", n, err)
		}
	}
}

func TestValidThreeSegments(t *testing.T) {
	v, err := New(3)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	valid := []string{"ab3d-1x9z-q7w2", "abcd-efgh-ijkl", "AB_D-____-0000"}
	for _, s := range valid {
		if !v.Valid(s) {
			t.Errorf("expected %q to be valid", s)
		}
	}

	invalid := []string{
		"",
		"abcd-efgh",
		"abcd-efgh-ijkl-mnop",
		"abc-efgh-ijkl",
		"abcde-fgh-ijkl",
		"abcd_efgh_ijkl",
		"abcd-efgh-ijk!",
		" abcd-efgh-ijkl",
		"abcd-efgh-ijkl\n",
		"xxabcd-efgh-ijklxx",
		"äbcd-efgh-ijkl",
	}
	for _, s := range invalid {
		if v.Valid(s) {
			t.Errorf("expected %q to be invalid", s)
		}
	}
}

func TestValidTwoSegments(t *testing.T) {
	v, err := New(2)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	if !v.Valid("abcd-efgh") {
		t.Error("expected two groups to be valid")
	}
	if v.Valid("abcd-efgh-ijkl") {
		t.Error("expected three groups to be rejected by the two-group policy")
	}
	if v.Format() != "xxxx-xxxx" {
		t.Errorf("unexpected format %q", v.Format())
	}
}

func TestGenerateProducesValidNames(t *testing.T) {
	for _, segments := range []int{2, 3} {
		v, err := New(segments)
		if err != nil {
			t.Fatalf("new: %v", err)
		}

		seen := make(map[string]struct{})
		for range 50 {
			name, err := v.Generate()
			if err != nil {
				t.Fatalf("generate: %v", err)
			}
			if !v.Valid(name) {
				t.Fatalf("generated name %q does not validate", name)
			}
			seen[name] = struct{}{}
		}
		if len(seen) < 45 {
			t.Errorf("expected generated names to be mostly unique, got %d distinct of 50", len(seen))
		}
	}
}
