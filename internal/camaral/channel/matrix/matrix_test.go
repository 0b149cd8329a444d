package matrix

import (
	"testing"
	"time"
)

func TestReconnectDelayDoublesOnRepeatedFailure(t *testing.T) {
	// Syncs that die immediately must not retry at a flat rate.
	backoff := syncBackoffMin
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}
	for i, w := range want {
		var wait time.Duration
		wait, backoff = reconnectDelay(backoff, 50*time.Millisecond)
		if wait != w {
			t.Fatalf("attempt %d: wait = %v, want %v", i, wait, w)
		}
	}
}

func TestReconnectDelayCapped(t *testing.T) {
	backoff := syncBackoffMin
	for i := 0; i < 20; i++ {
		_, backoff = reconnectDelay(backoff, 0)
	}
	wait, next := reconnectDelay(backoff, 0)
	if wait != syncBackoffMax {
		t.Errorf("wait = %v, want cap %v", wait, syncBackoffMax)
	}
	if next != syncBackoffMax {
		t.Errorf("next = %v, want cap %v", next, syncBackoffMax)
	}
}

func TestReconnectDelayResetsAfterHealthySync(t *testing.T) {
	backoff := syncBackoffMin
	for i := 0; i < 5; i++ {
		_, backoff = reconnectDelay(backoff, 0)
	}

	// The sync held well past the healthy period before failing, so the next
	// attempt starts the progression over.
	wait, next := reconnectDelay(backoff, 10*time.Minute)
	if wait != syncBackoffMin {
		t.Errorf("wait = %v, want %v after a healthy sync period", wait, syncBackoffMin)
	}
	if next != 2*syncBackoffMin {
		t.Errorf("next = %v, want %v", next, 2*syncBackoffMin)
	}
}
