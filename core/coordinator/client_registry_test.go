package coordinator

import (
	"testing"
	"time"
)

func TestConnectIsIdempotent(t *testing.T) {
	r := NewClientRegistry()

	if !r.Connect("w1", "10.0.0.1") {
		t.Fatal("first connect should create the record")
	}

	if r.Connect("w1", "10.0.0.2") {
		t.Fatal("second connect should be a no-op")
	}

	rec, _ := r.Get("w1")
	if rec.Address != "10.0.0.1" {
		t.Fatalf("address = %s, want 10.0.0.1", rec.Address)
	}
}

func TestAssignUnassignKeepsHolderIndex(t *testing.T) {
	r := NewClientRegistry()
	r.Connect("w1", "")
	r.Connect("w2", "")

	if err := r.Assign("ghost", "a"); err != ErrUnknownClient {
		t.Fatalf("expected ErrUnknownClient, got %v", err)
	}

	if err := r.Assign("w1", "a"); err != nil {
		t.Fatal(err)
	}

	if holder, _ := r.Holder("a"); holder != "w1" {
		t.Fatalf("holder = %s, want w1", holder)
	}

	// reassignment moves the chunk out of the previous holder's set
	if err := r.Assign("w2", "a"); err != nil {
		t.Fatal(err)
	}

	if got := r.Assigned("w1"); len(got) != 0 {
		t.Fatalf("w1 still holds %v", got)
	}

	holder, held := r.Unassign("a")
	if !held || holder != "w2" {
		t.Fatalf("Unassign = %s, %v", holder, held)
	}

	if got := r.Assigned("w2"); len(got) != 0 {
		t.Fatalf("w2 still holds %v", got)
	}
}

func TestStaleUsesHeartbeatAge(t *testing.T) {
	clock := newFakeClock()
	r := NewClientRegistry()
	r.now = clock.Now

	r.Connect("old", "")
	clock.Advance(20 * time.Second)
	r.Connect("fresh", "")
	clock.Advance(10 * time.Second)

	stale := r.Stale(30 * time.Second)
	if len(stale) != 1 || stale[0] != "old" {
		t.Fatalf("stale = %v, want [old]", stale)
	}

	r.Heartbeat("old")
	if stale := r.Stale(30 * time.Second); len(stale) != 0 {
		t.Fatalf("stale after heartbeat = %v", stale)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	r := NewClientRegistry()
	r.Connect("w1", "")
	r.Assign("w1", "a")
	r.RecordThroughput("w1", 520)

	snap := r.Snapshot()
	snap[0].Assigned[0] = "mutated"

	rec, _ := r.Get("w1")
	if rec.Assigned[0] != "a" || rec.Throughput != 520 {
		t.Fatalf("registry changed through snapshot: %+v", rec)
	}
}

func TestDisconnectDropsHolders(t *testing.T) {
	r := NewClientRegistry()
	r.Connect("w1", "")
	r.Assign("w1", "a")

	if !r.Disconnect("w1") {
		t.Fatal("expected disconnect to succeed")
	}

	if _, held := r.Holder("a"); held {
		t.Fatal("holder index still references removed client")
	}

	if r.Disconnect("w1") {
		t.Fatal("second disconnect should report unknown client")
	}
}
