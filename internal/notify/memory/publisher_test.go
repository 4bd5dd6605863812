package memory

import (
	"context"
	"testing"
	"time"

	"magharvest/internal/notify"
)

func TestPublisherStoresCompletions(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), notify.Completion{
		TaskID:     "task-a",
		Status:     notify.StatusDone,
		Magnets:    3,
		FinishedAt: time.Now().UTC(),
	})
	if err != nil || id1 != "memory-1" {
		t.Fatalf("unexpected publish result id=%s err=%v", id1, err)
	}
	id2, err := pub.Publish(context.Background(), notify.Completion{
		TaskID: "task-b",
		Status: notify.StatusError,
	})
	if err != nil || id2 != "memory-2" {
		t.Fatalf("unexpected publish result id=%s err=%v", id2, err)
	}

	got := pub.Published()
	if len(got) != 2 {
		t.Fatalf("expected 2 completions, got %d", len(got))
	}
	if got[0].TaskID != "task-a" || got[1].TaskID != "task-b" {
		t.Fatalf("completions not recorded correctly: %+v", got)
	}

	got[0].TaskID = "modified"
	if pub.Published()[0].TaskID == "modified" {
		t.Fatal("expected Published() to return a copy")
	}
}
