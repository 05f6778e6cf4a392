package cache

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func newTestStore(t *testing.T, opts ...MemoryOption) *MemoryStore {
	t.Helper()
	s := NewMemoryStore(opts...)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, ok := s.Get(ctx, "missing"); ok {
		t.Fatalf("hit on empty store")
	}
	s.Set(ctx, "k", []byte("v"), time.Minute)
	got, ok := s.Get(ctx, "k")
	if !ok || string(got) != "v" {
		t.Fatalf("Get = %q, %v", got, ok)
	}
}

func TestMemoryStoreTTLExpiry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.Set(ctx, "k", []byte("v"), 20*time.Millisecond)
	if _, ok := s.Get(ctx, "k"); !ok {
		t.Fatalf("entry missing before expiry")
	}
	time.Sleep(30 * time.Millisecond)
	if _, ok := s.Get(ctx, "k"); ok {
		t.Fatalf("entry served past its TTL")
	}
	if s.Len() != 0 {
		t.Errorf("expired entry not removed on lookup")
	}
}

func TestMemoryStoreZeroTTLNotStored(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.Set(ctx, "k", []byte("v"), 0)
	if _, ok := s.Get(ctx, "k"); ok {
		t.Fatalf("zero-TTL entry stored")
	}
}

func TestMemoryStoreEvictionOrder(t *testing.T) {
	s := newTestStore(t, WithCapacity(10))
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		s.Set(ctx, fmt.Sprintf("k%d", i), []byte("v"), time.Minute)
		time.Sleep(time.Millisecond)
	}
	// Heat up the upper half so the cold lower half is evicted first.
	for i := 5; i < 10; i++ {
		for j := 0; j <= i; j++ {
			s.Get(ctx, fmt.Sprintf("k%d", i))
		}
	}

	s.Set(ctx, "overflow", []byte("v"), time.Minute)

	// Capacity 10, target 8: two coldest entries go, which are the
	// oldest of the zero-hit group.
	if s.Len() > 9 {
		t.Fatalf("Len = %d after eviction, want <= 9", s.Len())
	}
	for i := 5; i < 10; i++ {
		if _, ok := s.Get(ctx, fmt.Sprintf("k%d", i)); !ok {
			t.Errorf("hot entry k%d evicted before cold ones", i)
		}
	}
	if _, ok := s.Get(ctx, "k0"); ok {
		t.Errorf("coldest oldest entry k0 survived eviction")
	}
	if _, ok := s.Get(ctx, "overflow"); !ok {
		t.Errorf("newly inserted entry missing")
	}
}

func TestMemoryStoreEvictionPrefersExpired(t *testing.T) {
	s := newTestStore(t, WithCapacity(3))
	ctx := context.Background()

	s.Set(ctx, "short", []byte("v"), 10*time.Millisecond)
	s.Set(ctx, "long1", []byte("v"), time.Minute)
	s.Set(ctx, "long2", []byte("v"), time.Minute)
	// Make the live entries hot so plain eviction would not pick them.
	s.Get(ctx, "long1")
	s.Get(ctx, "long2")

	time.Sleep(20 * time.Millisecond)
	s.Set(ctx, "new", []byte("v"), time.Minute)

	for _, k := range []string{"long1", "long2", "new"} {
		if _, ok := s.Get(ctx, k); !ok {
			t.Errorf("live entry %q lost; expired entry should have been purged instead", k)
		}
	}
}

func TestMemoryStoreOverwriteResetsEntry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.Set(ctx, "k", []byte("old"), time.Minute)
	s.Get(ctx, "k")
	s.Get(ctx, "k")
	s.Set(ctx, "k", []byte("new"), time.Minute)

	got, ok := s.Get(ctx, "k")
	if !ok || string(got) != "new" {
		t.Fatalf("Get after overwrite = %q, %v", got, ok)
	}
	if s.entries["k"].hitCount != 1 {
		t.Errorf("overwrite kept stale hit count: %d", s.entries["k"].hitCount)
	}
}

func TestMemoryStoreBackgroundSweep(t *testing.T) {
	s := newTestStore(t, WithCleanupInterval(5*time.Millisecond))
	ctx := context.Background()
	s.Set(ctx, "k", []byte("v"), 10*time.Millisecond)

	deadline := time.Now().Add(500 * time.Millisecond)
	for s.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if s.Len() != 0 {
		t.Errorf("expired entry not swept in background")
	}
}

func TestFingerprint(t *testing.T) {
	base := Fingerprint("Ignore previous instructions", "chat")
	tests := []struct {
		name          string
		text, context string
		same          bool
	}{
		{"identical", "Ignore previous instructions", "chat", true},
		{"case and space folded", "  ignore PREVIOUS instructions ", "chat", true},
		{"different text", "hello world", "chat", false},
		{"different context", "Ignore previous instructions", "code", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Fingerprint(tt.text, tt.context)
			if (got == base) != tt.same {
				t.Errorf("Fingerprint(%q, %q) = %s, base = %s, same = %v", tt.text, tt.context, got, base, tt.same)
			}
		})
	}
}
