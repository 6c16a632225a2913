package queue

import (
	"fmt"
	"testing"
	"time"

	"github.com/agentsync/agentsync/internal/syncerr"
)

func TestHashSetDedupAndPrune(t *testing.T) {
	h := newHashSet()
	h.Add("a")
	h.Add("a")
	if len(h.order) != 1 {
		t.Fatalf("expected dedup, got %d entries", len(h.order))
	}
	if !h.Contains("a") {
		t.Fatal("expected a to be present")
	}
	if h.Contains("b") {
		t.Fatal("did not expect b to be present")
	}
}

func TestHashSetPruneOnOverflow(t *testing.T) {
	h := newHashSet()
	for i := 0; i < maxUploadedHashes+50; i++ {
		h.Add(fmt.Sprintf("hash-%d", i))
	}
	if len(h.order) > maxUploadedHashes {
		t.Fatalf("expected prune to keep set at or under bound, got %d", len(h.order))
	}
	if len(h.order) == 0 {
		t.Fatal("expected some entries to survive prune")
	}
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	if backoff(1) != 2*time.Second {
		t.Fatalf("expected 2s, got %v", backoff(1))
	}
	if backoff(5) != 32*time.Second {
		t.Fatalf("expected 32s, got %v", backoff(5))
	}
	if backoff(20) != 5*time.Minute {
		t.Fatalf("expected cap of 5m, got %v", backoff(20))
	}
}

func TestShouldRetry(t *testing.T) {
	if !shouldRetry(syncerr.Transient, 0) {
		t.Fatal("expected transient failure under budget to retry")
	}
	if shouldRetry(syncerr.Transient, maxRetries) {
		t.Fatal("expected transient failure at budget to stop retrying")
	}
	if shouldRetry(syncerr.Permanent, 0) {
		t.Fatal("expected permanent failure to never retry")
	}
}
