package dispatch

import "testing"

func TestQueueLimiterPacesPerKeyIndependently(t *testing.T) {
	l := newQueueLimiter(1, 1)

	if !l.Allow("resource_manager") {
		t.Fatal("expected first resource_manager submission to be allowed")
	}
	if l.Allow("resource_manager") {
		t.Fatal("expected second immediate resource_manager submission to be throttled")
	}

	// A different key has its own bucket and is unaffected by
	// resource_manager's exhausted one.
	if !l.Allow("celery") {
		t.Fatal("expected an unrelated queue's bucket to be independent")
	}
}
