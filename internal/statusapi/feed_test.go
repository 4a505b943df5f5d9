package statusapi

import (
	"testing"
	"time"

	"github.com/vaultsync/vaultsync/internal/reconciler"
)

func TestFeedSnapshotIsBoundedAndOrdered(t *testing.T) {
	f := NewFeed(3)
	for i := 0; i < 5; i++ {
		f.Publish(reconciler.Decision{Project: "p", Key: string(rune('a' + i)), Action: "upload"})
	}
	snap := f.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("expected snapshot capped at 3, got %d", len(snap))
	}
	if snap[0].Key != "c" || snap[2].Key != "e" {
		t.Fatalf("expected the 3 most recent entries in order, got %+v", snap)
	}
}

func TestFeedSubscribeReceivesPublishedDecisions(t *testing.T) {
	f := NewFeed(10)
	ch := f.subscribe()
	defer f.unsubscribe(ch)

	f.Publish(reconciler.Decision{Project: "p", Key: "x", Action: "download"})

	select {
	case d := <-ch:
		if d.Key != "x" {
			t.Fatalf("expected key x, got %q", d.Key)
		}
	case <-time.After(time.Second):
		t.Fatal("expected subscriber to receive the published decision")
	}
}

func TestFeedSubscriberDoesNotBlockOnFullChannel(t *testing.T) {
	f := NewFeed(10)
	ch := f.subscribe()
	defer f.unsubscribe(ch)

	for i := 0; i < 64; i++ {
		f.Publish(reconciler.Decision{Project: "p", Key: "flood", Action: "upload"})
	}
	// Publish must not have blocked despite a full subscriber channel.
}
