package idgen

import (
	"regexp"
	"testing"
)

func TestWithPrefix(t *testing.T) {
	id := WithPrefix("wal_")
	if !regexp.MustCompile(`^wal_[a-f0-9]{24}$`).MatchString(id) {
		t.Errorf("WithPrefix(\"wal_\") = %q, want wal_ + 24 hex chars", id)
	}
}

func TestWithPrefixUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := WithPrefix("esc_")
		if seen[id] {
			t.Fatalf("duplicate ID generated: %s", id)
		}
		seen[id] = true
	}
}

func TestSlug(t *testing.T) {
	s := Slug()
	if !regexp.MustCompile(`^[a-f0-9]{16}$`).MatchString(s) {
		t.Errorf("Slug() = %q, want 16 hex chars", s)
	}
}
