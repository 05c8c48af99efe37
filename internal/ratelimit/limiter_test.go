package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestLimiter_UnknownProviderIsUnlimited(t *testing.T) {
	l := New(map[string]float64{"vndirect": 1})

	for i := 0; i < 5; i++ {
		if !l.Allow("fmarket") {
			t.Fatalf("Allow(fmarket) = false on call %d, want true", i)
		}
	}
}

func TestLimiter_EnforcesRate(t *testing.T) {
	l := New(map[string]float64{"giavang": 1})

	if !l.Allow("giavang") {
		t.Fatal("first Allow() = false, want true")
	}
	if l.Allow("giavang") {
		t.Error("second Allow() = true, want false within the same second")
	}
}

func TestLimiter_ZeroRateIsUnlimited(t *testing.T) {
	l := New(map[string]float64{"btmc": 0})
	for i := 0; i < 10; i++ {
		if !l.Allow("btmc") {
			t.Fatalf("Allow(btmc) = false on call %d, want true", i)
		}
	}
}

func TestLimiter_WaitHonoursContext(t *testing.T) {
	l := New(map[string]float64{"slow": 0.01})
	if err := l.Wait(context.Background(), "slow"); err != nil {
		t.Fatalf("first Wait() returned error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := l.Wait(ctx, "slow"); err == nil {
		t.Error("Wait() expected error when the context expires first, got nil")
	}
}

func TestLimiter_NilIsUnlimited(t *testing.T) {
	var l *Limiter
	if err := l.Wait(context.Background(), "any"); err != nil {
		t.Errorf("nil Wait() = %v, want nil", err)
	}
	if !l.Allow("any") {
		t.Error("nil Allow() = false, want true")
	}
}

func TestUnlimited(t *testing.T) {
	l := Unlimited()
	l.Set("vndirect", 0)
	for i := 0; i < 3; i++ {
		if err := l.Wait(context.Background(), "vndirect"); err != nil {
			t.Fatalf("Wait() returned error: %v", err)
		}
	}
}
