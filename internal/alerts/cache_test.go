package alerts

import (
	"testing"
	"time"
)

func TestCache_SetGet(t *testing.T) {
	c := NewCache(time.Minute, 0)
	c.Set("key1", "value1")
	got, ok := c.Get("key1")
	if !ok || got != "value1" {
		t.Fatalf("Get(key1) = %v, %v", got, ok)
	}
}

func TestCache_Miss(t *testing.T) {
	c := NewCache(time.Minute, 0)
	if _, ok := c.Get("missing"); ok {
		t.Error("Get(missing) should return false")
	}
}

func TestCache_Expiry(t *testing.T) {
	c := NewCache(50*time.Millisecond, 0)
	c.Set("key", "value")
	if _, ok := c.Get("key"); !ok {
		t.Fatal("key should be present immediately")
	}
	time.Sleep(60 * time.Millisecond)
	if _, ok := c.Get("key"); ok {
		t.Error("key should be expired")
	}
}

func TestCache_EvictsOldestAtCapacity(t *testing.T) {
	c := NewCache(time.Minute, 2)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3) // should evict "a"

	if _, ok := c.Get("a"); ok {
		t.Error("oldest entry 'a' should have been evicted")
	}
	if _, ok := c.Get("b"); !ok {
		t.Error("'b' should still be present")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("'c' should be present")
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
}

func TestCache_OverwriteDoesNotEvict(t *testing.T) {
	c := NewCache(time.Minute, 2)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("a", "updated") // overwrite, not a new insertion

	got, ok := c.Get("a")
	if !ok || got != "updated" {
		t.Errorf("Get(a) = %v, %v, want 'updated'", got, ok)
	}
	if _, ok := c.Get("b"); !ok {
		t.Error("'b' should still be present after overwriting 'a'")
	}
}
