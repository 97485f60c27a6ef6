package orchestrator

import (
	"github.com/prepdeck/interviewkit/pkg/errorsx"
	"github.com/prepdeck/interviewkit/pkg/phase"
	"github.com/prepdeck/interviewkit/pkg/voice"
)

// UpdateKind discriminates orchestrator updates pushed to the UI layer.
type UpdateKind string

const (
	UpdatePhase      UpdateKind = "phase"
	UpdateTranscript UpdateKind = "transcript"
	UpdateConnection UpdateKind = "connection"
	UpdateTyping     UpdateKind = "typing"
	UpdateNotice     UpdateKind = "notice"
)

// Notice is a transient, user-visible report of a recoverable error.
type Notice struct {
	Reason  errorsx.ReasonCode
	Message string
}

// Update is one published change. The UI reacts by re-reading Phase,
// Snapshot, or ConnectionState; updates themselves carry only what
// changed.
type Update struct {
	Kind       UpdateKind
	Phase      phase.Phase
	Connection voice.ConnectionState
	Typing     bool
	Notice     *Notice
}

// Subscribe registers an update channel. The returned cancel function
// unsubscribes and closes the channel; callers tie it to their own
// lifecycle. Slow consumers lose updates rather than block producers;
// every update is a hint to re-read state, so a dropped one is
// compensated by the next.
func (o *Orchestrator) Subscribe() (<-chan Update, func()) {
	o.subMu.Lock()
	defer o.subMu.Unlock()
	id := o.nextSub
	o.nextSub++
	ch := make(chan Update, 32)
	if o.subsClosed {
		close(ch)
		return ch, func() {}
	}
	o.subs[id] = ch
	return ch, func() {
		o.subMu.Lock()
		defer o.subMu.Unlock()
		if sub, ok := o.subs[id]; ok {
			delete(o.subs, id)
			close(sub)
		}
	}
}

func (o *Orchestrator) publish(u Update) {
	o.subMu.Lock()
	defer o.subMu.Unlock()
	if o.subsClosed {
		return
	}
	for _, ch := range o.subs {
		select {
		case ch <- u:
		default:
		}
	}
}

func (o *Orchestrator) publishNotice(reason errorsx.ReasonCode, msg string) {
	o.publish(Update{Kind: UpdateNotice, Notice: &Notice{Reason: reason, Message: msg}})
}

func (o *Orchestrator) closeSubscribers() {
	o.subMu.Lock()
	defer o.subMu.Unlock()
	if o.subsClosed {
		return
	}
	o.subsClosed = true
	for id, ch := range o.subs {
		delete(o.subs, id)
		close(ch)
	}
}
