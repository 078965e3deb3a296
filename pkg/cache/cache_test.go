package cache

import (
	"testing"
	"time"
)

func TestCache_SetGet(t *testing.T) {
	c := New(time.Minute)
	c.Set("k", 42)

	v, ok := c.Get("k")
	if !ok {
		t.Fatal("expected hit")
	}
	if v.(int) != 42 {
		t.Errorf("value = %v, want 42", v)
	}

	if _, ok := c.Get("missing"); ok {
		t.Error("expected miss for unknown key")
	}
}

func TestCache_Expiry(t *testing.T) {
	now := time.Now()
	c := New(time.Minute)
	c.now = func() time.Time { return now }

	c.SetTTL("k", "v", 10*time.Second)

	if _, ok := c.Get("k"); !ok {
		t.Fatal("expected hit before expiry")
	}

	now = now.Add(11 * time.Second)
	if _, ok := c.Get("k"); ok {
		t.Error("expected miss after expiry")
	}
}

func TestCache_DeletePrefix(t *testing.T) {
	c := New(time.Minute)
	c.Set(StringRulesKey("twitch+a"), 1)
	c.Set(StringRulesKey("twitch+b"), 2)
	c.Set(CommandKey("!", "help"), 3)

	c.DeletePrefix(StringRulesPrefix)

	if _, ok := c.Get(StringRulesKey("twitch+a")); ok {
		t.Error("expected rule key deleted")
	}
	if _, ok := c.Get(CommandKey("!", "help")); !ok {
		t.Error("command key should survive prefix delete")
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}

func TestCache_Sweep(t *testing.T) {
	now := time.Now()
	c := New(time.Minute)
	c.now = func() time.Time { return now }

	c.SetTTL("short", 1, time.Second)
	c.SetTTL("long", 2, time.Hour)

	now = now.Add(2 * time.Second)
	c.sweep()

	if c.Len() != 1 {
		t.Errorf("Len() after sweep = %d, want 1", c.Len())
	}
	if _, ok := c.Get("long"); !ok {
		t.Error("unexpired entry should survive sweep")
	}
}

func TestKeys(t *testing.T) {
	if got := CommandKey("!", "help"); got != "command:!:help" {
		t.Errorf("CommandKey = %q", got)
	}
	if got := PermissionKey("cid", "eid"); got != "permission:cid:eid" {
		t.Errorf("PermissionKey = %q", got)
	}
	if got := EntityKey("twitch+a"); got != "entity:twitch+a" {
		t.Errorf("EntityKey = %q", got)
	}
}
