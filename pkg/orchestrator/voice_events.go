package orchestrator

import (
	"log/slog"
	"time"

	"github.com/prepdeck/interviewkit/pkg/errorsx"
	"github.com/prepdeck/interviewkit/pkg/interview"
	"github.com/prepdeck/interviewkit/pkg/metrics"
	"github.com/prepdeck/interviewkit/pkg/phase"
	"github.com/prepdeck/interviewkit/pkg/redact"
	"github.com/prepdeck/interviewkit/pkg/transcript"
	"github.com/prepdeck/interviewkit/pkg/voice"
)

// voicePump consumes the voice channel for the life of the
// orchestrator. The manager keeps its stream open across connects, so
// one pump covers every upgrade attempt.
func (o *Orchestrator) voicePump() {
	defer o.wg.Done()
	events := o.opts.Voice.Events()
	for {
		select {
		case <-o.runCtx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			o.handleVoiceEvent(ev)
		}
	}
}

func (o *Orchestrator) handleVoiceEvent(ev voice.Event) {
	switch e := ev.(type) {
	case voice.TranscriptDelta:
		o.agg.Add(e.MessageID, e.Delta, e.At)
		o.publish(Update{Kind: UpdateTyping, Typing: true})

	case voice.TranscriptFinal:
		o.commitFinal(e)

	case voice.StatusChanged:
		o.handleStatus(e.Status)
	}
}

// commitFinal merges a complete utterance into the transcript. Events
// arriving after ending began are dropped: the transcript is frozen.
func (o *Orchestrator) commitFinal(final voice.TranscriptFinal) {
	if cur := o.machine.Current(); cur != phase.Active && cur != phase.Connecting {
		return
	}

	content := final.Content
	at := final.At
	if folded, startedAt, ok := o.agg.Complete(final.MessageID); ok {
		if content == "" {
			content = folded
		}
		if at.IsZero() {
			at = startedAt
		}
	}
	if content == "" {
		return
	}
	if at.IsZero() {
		at = time.Now()
	}

	res := o.store.Append(interview.Message{
		ID:        final.MessageID,
		Role:      final.Role,
		Content:   content,
		CreatedAt: at,
		Origin:    interview.OriginVoiceRealtime,
	})
	o.obs.RecordEvent(metrics.Event{
		Name: "merge_result",
		Time: time.Now(),
		Tags: map[string]string{"origin": string(interview.OriginVoiceRealtime), "outcome": string(res.Outcome)},
	})
	o.logger.Debug("voice transcript merged",
		slog.String("role", string(final.Role)),
		slog.String("outcome", string(res.Outcome)),
		slog.String("content", redact.Text(content)))

	if res.Outcome != transcript.OutcomeDuplicate {
		o.publish(Update{Kind: UpdateTranscript})
	}
	if final.Role == interview.RoleAssistant {
		o.publish(Update{Kind: UpdateTyping, Typing: false})
	}
}

func (o *Orchestrator) handleStatus(status voice.Status) {
	switch status {
	case voice.StatusTypingStart:
		o.publish(Update{Kind: UpdateTyping, Typing: true})
	case voice.StatusTypingEnd:
		o.publish(Update{Kind: UpdateTyping, Typing: false})
	case voice.StatusReady:
		o.publish(Update{Kind: UpdateConnection, Connection: o.opts.Voice.State()})
	case voice.StatusError:
		// Reconnection attempts are exhausted; downgrade to text-only.
		o.mu.Lock()
		wasEnabled := o.voiceEnabled
		o.voiceEnabled = false
		o.mu.Unlock()
		o.opts.Voice.Disconnect()
		o.poll.SetInterval(o.opts.TextOnlyPollInterval)
		if wasEnabled {
			o.publishNotice(errorsx.ReasonConnectionFailed, "voice connection lost, continuing in text")
		}
		o.publish(Update{Kind: UpdateConnection, Connection: o.opts.Voice.State()})
	}
}
