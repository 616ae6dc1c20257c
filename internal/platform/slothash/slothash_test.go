package slothash

import (
	"testing"
	"time"
)

var monday = time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)

func newTestHasher(t *testing.T) *Hasher {
	t.Helper()
	h, err := New([]byte("test-secret"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return h
}

func TestNewRejectsEmptySecret(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Error("expected error for empty secret")
	}
}

func TestHashIsStable(t *testing.T) {
	h := newTestHasher(t)
	a := h.Hash("doc-1", monday, "09:00", "09:30")
	b := h.Hash("doc-1", monday, "09:00", "09:30")
	if a != b {
		t.Errorf("hash not stable: %q vs %q", a, b)
	}
}

func TestHashSensitiveToEveryField(t *testing.T) {
	h := newTestHasher(t)
	base := h.Hash("doc-1", monday, "09:00", "09:30")

	variants := []string{
		h.Hash("doc-2", monday, "09:00", "09:30"),
		h.Hash("doc-1", monday.AddDate(0, 0, 1), "09:00", "09:30"),
		h.Hash("doc-1", monday, "09:30", "09:30"),
		h.Hash("doc-1", monday, "09:00", "10:00"),
	}
	for i, v := range variants {
		if v == base {
			t.Errorf("variant %d produced the same hash as the base identity", i)
		}
	}
}

func TestHashDependsOnSecret(t *testing.T) {
	a := newTestHasher(t)
	b, err := New([]byte("other-secret"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Hash("doc-1", monday, "09:00", "09:30") == b.Hash("doc-1", monday, "09:00", "09:30") {
		t.Error("different secrets produced the same hash")
	}
}

func TestVerify(t *testing.T) {
	h := newTestHasher(t)
	token := h.Hash("doc-1", monday, "09:00", "09:30")

	if !h.Verify(token, "doc-1", monday, "09:00", "09:30") {
		t.Error("expected token to verify")
	}
	if h.Verify(token, "doc-1", monday, "09:00", "10:00") {
		t.Error("expected tampered end time to fail verification")
	}
	if h.Verify("bogus", "doc-1", monday, "09:00", "09:30") {
		t.Error("expected bogus token to fail verification")
	}
}
