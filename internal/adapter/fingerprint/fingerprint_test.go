package fingerprint

import "testing"

func TestOfIsStable(t *testing.T) {
	a := Of("repo", "doc-1", "0")
	b := Of("repo", "doc-1", "0")
	if a != b {
		t.Fatalf("expected stable hash, got %s and %s", a, b)
	}
	if len(a) != 16 {
		t.Errorf("expected 16 hex characters, got %q", a)
	}
}

func TestOfSeparatesParts(t *testing.T) {
	if Of("ab", "c") == Of("a", "bc") {
		t.Error("part boundaries should change the hash")
	}
	if Of("x") == Of("y") {
		t.Error("different input should change the hash")
	}
}
