package voice

import (
	"strings"
	"sync"
	"time"
)

// DeltaAggregator folds streamed TranscriptDelta chunks into complete
// utterances keyed by message id. The orchestrator commits the folded
// text to the transcript when the matching TranscriptFinal arrives, or
// uses the final's own content when the transport provides it.
type DeltaAggregator struct {
	mu      sync.Mutex
	pending map[string]*pendingUtterance
}

type pendingUtterance struct {
	sb      strings.Builder
	firstAt time.Time
}

func NewDeltaAggregator() *DeltaAggregator {
	return &DeltaAggregator{pending: make(map[string]*pendingUtterance)}
}

// Add appends a delta chunk for a message id.
func (a *DeltaAggregator) Add(messageID, delta string, at time.Time) {
	if messageID == "" || delta == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.pending[messageID]
	if !ok {
		p = &pendingUtterance{firstAt: at}
		a.pending[messageID] = p
	}
	p.sb.WriteString(delta)
}

// Preview returns the text accumulated so far without completing it.
func (a *DeltaAggregator) Preview(messageID string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if p, ok := a.pending[messageID]; ok {
		return p.sb.String()
	}
	return ""
}

// Complete removes and returns the accumulated utterance. The returned
// time is when the first delta arrived, so the committed message sorts
// where the utterance began rather than where it ended.
func (a *DeltaAggregator) Complete(messageID string) (content string, startedAt time.Time, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, found := a.pending[messageID]
	if !found {
		return "", time.Time{}, false
	}
	delete(a.pending, messageID)
	content = strings.TrimSpace(p.sb.String())
	return content, p.firstAt, content != ""
}

// Reset drops all pending utterances. Session teardown only.
func (a *DeltaAggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending = make(map[string]*pendingUtterance)
}
