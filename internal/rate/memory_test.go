package rate

import (
	"context"
	"testing"
	"time"
)

func TestMemoryLimiterWindow(t *testing.T) {
	l := NewMemoryLimiter(3, time.Minute)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		res, err := l.Allow(ctx, "ip|/oauth2/token")
		if err != nil {
			t.Fatalf("allow: %v", err)
		}
		if !res.Allowed {
			t.Fatalf("hit %d should be allowed", i)
		}
		if res.Remaining != int64(3-i) {
			t.Errorf("hit %d remaining = %d", i, res.Remaining)
		}
	}

	res, err := l.Allow(ctx, "ip|/oauth2/token")
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if res.Allowed {
		t.Error("4th hit must be rejected")
	}
	if res.RetryAfter <= 0 {
		t.Error("rejection must carry a retry-after")
	}

	// otra key no comparte ventana
	other, err := l.Allow(ctx, "ip2|/oauth2/token")
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if !other.Allowed {
		t.Error("different key must have its own window")
	}
}
