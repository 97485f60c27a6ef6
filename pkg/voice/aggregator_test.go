package voice

import (
	"testing"
	"time"
)

func TestDeltaAggregatorFoldsChunks(t *testing.T) {
	agg := NewDeltaAggregator()
	start := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	agg.Add("m1", "Let's talk ", start)
	agg.Add("m1", "about complexity.", start.Add(time.Second))

	if got := agg.Preview("m1"); got != "Let's talk about complexity." {
		t.Fatalf("unexpected preview: %q", got)
	}

	content, at, ok := agg.Complete("m1")
	if !ok {
		t.Fatalf("expected completed utterance")
	}
	if content != "Let's talk about complexity." {
		t.Fatalf("unexpected content: %q", content)
	}
	if !at.Equal(start) {
		t.Fatalf("expected first-delta timestamp, got %v", at)
	}
	if _, _, ok := agg.Complete("m1"); ok {
		t.Fatalf("second complete must report not found")
	}
}

func TestDeltaAggregatorIgnoresEmptyInput(t *testing.T) {
	agg := NewDeltaAggregator()
	agg.Add("", "text", time.Now())
	agg.Add("m1", "", time.Now())
	if _, _, ok := agg.Complete("m1"); ok {
		t.Fatalf("expected nothing pending")
	}
}
