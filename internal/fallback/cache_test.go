package fallback

import (
	"testing"

	"github.com/haasonsaas/chatlink/pkg/models"
)

func TestCacheAdd(t *testing.T) {
	c := NewCache(3)
	steps := []struct {
		id   models.ID
		want bool
	}{
		{"1", true},
		{"1", false},
		{"", false},
		{"2", true},
		{"3", true},
		{"4", true}, // evicts 1
		{"1", true},
		{"4", false},
	}
	for i, s := range steps {
		if got := c.Add(s.id); got != s.want {
			t.Errorf("step %d: Add(%q) = %v, want %v", i, s.id, got, s.want)
		}
	}
	if c.Len() != 3 {
		t.Errorf("Len = %d, want 3", c.Len())
	}
	if c.Seen("2") {
		t.Error("2 should have been evicted")
	}
}

func TestCacheReset(t *testing.T) {
	c := NewCache(0)
	c.Add("a")
	c.Reset("b", "c", "b")
	if c.Seen("a") || !c.Seen("b") || !c.Seen("c") || c.Len() != 2 {
		t.Errorf("after reset: a=%v b=%v c=%v len=%d", c.Seen("a"), c.Seen("b"), c.Seen("c"), c.Len())
	}
}

func TestRecentIDsWraps(t *testing.T) {
	r := newRecentIDs(3)
	if len(r.list()) != 0 {
		t.Fatal("new ring not empty")
	}
	for _, id := range []models.ID{"1", "2", "", "3", "4", "5"} {
		r.add(id)
	}
	got := r.list()
	want := []models.ID{"3", "4", "5"}
	if len(got) != len(want) {
		t.Fatalf("list = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("list[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}
