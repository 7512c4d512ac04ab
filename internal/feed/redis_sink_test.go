package feed_test

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"qrattend/internal/feed"
)

func TestRedisSinkRoundTrip(t *testing.T) {
	addr := strings.TrimSpace(os.Getenv("QRATTEND_TEST_REDIS_ADDR"))
	if addr == "" {
		t.Skip("QRATTEND_TEST_REDIS_ADDR not set")
	}
	client := feed.NewRedisClient(addr)
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	channel := "qrattend:test:" + uuid.NewString()
	events, err := feed.Subscribe(ctx, client, channel)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	hub := feed.NewHub(8)
	sink := feed.NewRedisSink(client, channel, 8, nil)
	hub.AddSink(sink)
	hub.Publish(feed.Event{Type: feed.TypeAttendance, ParticipantID: "S001", Outcome: "recorded"})

	select {
	case evt := <-events:
		if evt.Sequence != 1 || evt.ParticipantID != "S001" || evt.Outcome != "recorded" {
			t.Fatalf("unexpected event: %+v", evt)
		}
	case <-ctx.Done():
		t.Fatal("no event received from redis")
	}

	if err := sink.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	sent, failed, dropped := sink.Stats()
	if sent != 1 || failed != 0 || dropped != 0 {
		t.Fatalf("unexpected stats: sent=%d failed=%d dropped=%d", sent, failed, dropped)
	}
	// Appending after close is ignored.
	sink.Append(feed.Event{Type: feed.TypeAttendance})
}
