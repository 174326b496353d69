package ratelimit

import (
	"testing"
	"time"
)

func TestAllow_WithinRate(t *testing.T) {
	k := NewKeyed(3, time.Minute)
	for i := 0; i < 3; i++ {
		if !k.Allow("a") {
			t.Fatalf("event %d rejected within rate", i)
		}
	}
	if k.Allow("a") {
		t.Fatal("event over rate allowed")
	}
}

func TestAllow_KeysIndependent(t *testing.T) {
	k := NewKeyed(1, time.Minute)
	if !k.Allow("a") {
		t.Fatal("first event for a rejected")
	}
	if !k.Allow("b") {
		t.Fatal("first event for b rejected")
	}
	if k.Allow("a") {
		t.Fatal("second event for a allowed")
	}
}

func TestAllow_WindowResets(t *testing.T) {
	k := NewKeyed(1, 10*time.Millisecond)
	if !k.Allow("a") {
		t.Fatal("first event rejected")
	}
	if k.Allow("a") {
		t.Fatal("second event allowed in same window")
	}
	time.Sleep(15 * time.Millisecond)
	if !k.Allow("a") {
		t.Fatal("event rejected after window expiry")
	}
}

func TestForget(t *testing.T) {
	k := NewKeyed(1, time.Minute)
	k.Allow("a")
	k.Forget("a")
	if !k.Allow("a") {
		t.Fatal("event rejected after Forget")
	}
}
