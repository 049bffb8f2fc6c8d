package fetch

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLimiterEnforcesMinInterval(t *testing.T) {
	l := NewLimiter(40 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	for range 3 {
		if err := l.Wait(ctx); err != nil {
			t.Fatalf("Wait: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("three calls took %v, want at least 80ms under a 40ms interval", elapsed)
	}
}

func TestLimiterDisabledWithZeroInterval(t *testing.T) {
	l := NewLimiter(0)
	start := time.Now()
	for range 10 {
		if err := l.Wait(context.Background()); err != nil {
			t.Fatalf("Wait: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 20*time.Millisecond {
		t.Errorf("disabled limiter waited %v", elapsed)
	}
}

func TestLimiterHonorsContext(t *testing.T) {
	l := NewLimiter(time.Hour)
	if err := l.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want deadline exceeded", err)
	}
}
