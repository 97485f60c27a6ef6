package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prepdeck/interviewkit/pkg/backend"
	backendmock "github.com/prepdeck/interviewkit/pkg/backend/mock"
	"github.com/prepdeck/interviewkit/pkg/errorsx"
	"github.com/prepdeck/interviewkit/pkg/interview"
	"github.com/prepdeck/interviewkit/pkg/permissions"
	"github.com/prepdeck/interviewkit/pkg/phase"
	transportmock "github.com/prepdeck/interviewkit/pkg/transports/mock"
	"github.com/prepdeck/interviewkit/pkg/voice"
)

type harness struct {
	orch      *Orchestrator
	backend   *backendmock.Backend
	transport *transportmock.Transport
}

func newHarness(t *testing.T, gate permissions.MicrophoneGate) *harness {
	t.Helper()
	be := backendmock.New()
	h := newHarnessWith(t, gate, be)
	h.backend = be
	return h
}

func newHarnessWith(t *testing.T, gate permissions.MicrophoneGate, be backend.Client) *harness {
	t.Helper()
	transport := transportmock.New()
	mgr := voice.NewManager(voice.ManagerOptions{
		Tokens: be,
		Factory: func(grant voice.Grant) (voice.Transport, error) {
			return transport, nil
		},
	})
	orch := New(Options{
		Backend:      be,
		Gate:         gate,
		Voice:        mgr,
		PollInterval: time.Hour,
	})
	t.Cleanup(orch.Close)
	return &harness{orch: orch, transport: transport}
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func drainNotices(updates <-chan Update) []Notice {
	var notices []Notice
	for {
		select {
		case u := <-updates:
			if u.Kind == UpdateNotice && u.Notice != nil {
				notices = append(notices, *u.Notice)
			}
		default:
			return notices
		}
	}
}

func TestSessionLifecycle(t *testing.T) {
	h := newHarness(t, permissions.AlwaysGranted())
	h.backend.Reply = "why a hash map?"
	ctx := context.Background()

	if got := h.orch.Phase(); got != phase.Greeting {
		t.Fatalf("initial phase = %v, want greeting", got)
	}
	if err := h.orch.StartInterview(ctx, "two-sum"); err != nil {
		t.Fatalf("StartInterview: %v", err)
	}
	if got := h.orch.Phase(); got != phase.Active {
		t.Fatalf("phase after start = %v, want active", got)
	}
	s := h.orch.Session()
	if s == nil || s.ProblemID != "two-sum" {
		t.Fatalf("session = %+v, want problem two-sum", s)
	}

	if err := h.orch.SendTextMessage(ctx, "use a hash map"); err != nil {
		t.Fatalf("SendTextMessage: %v", err)
	}
	snap := h.orch.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot length = %d, want user message plus reply", len(snap))
	}
	for _, m := range snap {
		if m.Origin == interview.OriginOptimisticLocal {
			t.Fatalf("message %q still optimistic after confirmation", m.ID)
		}
	}
	if snap[0].Role != interview.RoleUser || snap[1].Role != interview.RoleAssistant {
		t.Fatalf("snapshot roles = %v/%v", snap[0].Role, snap[1].Role)
	}

	eval, err := h.orch.EndInterview(ctx)
	if err != nil {
		t.Fatalf("EndInterview: %v", err)
	}
	if eval.Score != h.backend.Evaluation.Score {
		t.Fatalf("evaluation score = %d, want %d", eval.Score, h.backend.Evaluation.Score)
	}
	if got := h.orch.Phase(); got != phase.Completed {
		t.Fatalf("phase after end = %v, want completed", got)
	}
	if s := h.orch.Session(); s == nil || s.Status != interview.StatusCompleted {
		t.Fatalf("session status = %+v, want completed", s)
	}
}

func TestStartTwiceFails(t *testing.T) {
	h := newHarness(t, permissions.AlwaysGranted())
	ctx := context.Background()

	if err := h.orch.StartInterview(ctx, "p1"); err != nil {
		t.Fatalf("first start: %v", err)
	}
	err := h.orch.StartInterview(ctx, "p2")
	if !errorsx.HasReason(err, errorsx.ReasonAlreadyActive) {
		t.Fatalf("second start error = %v, want already_active", err)
	}
}

func TestSendOutsideActivePhase(t *testing.T) {
	h := newHarness(t, permissions.AlwaysGranted())

	err := h.orch.SendTextMessage(context.Background(), "hello")
	if !errorsx.HasReason(err, errorsx.ReasonInvalidPhase) {
		t.Fatalf("error = %v, want invalid_phase", err)
	}
	if n := len(h.orch.Snapshot()); n != 0 {
		t.Fatalf("snapshot length = %d, rejected send must not touch the transcript", n)
	}
}

func TestSendRollbackOnFailure(t *testing.T) {
	h := newHarness(t, permissions.AlwaysGranted())
	ctx := context.Background()
	if err := h.orch.StartInterview(ctx, "p1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	updates, cancel := h.orch.Subscribe()
	defer cancel()

	h.backend.FailSend = errors.New("boom")
	err := h.orch.SendTextMessage(ctx, "lost message")
	if !errorsx.HasReason(err, errorsx.ReasonSendFailed) {
		t.Fatalf("error = %v, want send_failed", err)
	}
	if n := len(h.orch.Snapshot()); n != 0 {
		t.Fatalf("snapshot length = %d, optimistic entry must be rolled back", n)
	}
	notices := drainNotices(updates)
	if len(notices) != 1 || notices[0].Reason != errorsx.ReasonSendFailed {
		t.Fatalf("notices = %+v, want exactly one send_failed", notices)
	}

	// The session survives the failure and accepts the next send.
	h.backend.FailSend = nil
	if err := h.orch.SendTextMessage(ctx, "retry"); err != nil {
		t.Fatalf("send after recovery: %v", err)
	}
}

func TestVoiceUpgradeAndTranscript(t *testing.T) {
	h := newHarness(t, permissions.AlwaysGranted())
	ctx := context.Background()
	if err := h.orch.StartInterview(ctx, "p1"); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := h.orch.ToggleVoice(ctx, true); err != nil {
		t.Fatalf("ToggleVoice: %v", err)
	}
	if got := h.orch.Phase(); got != phase.Active {
		t.Fatalf("phase after voice connect = %v, want active", got)
	}
	if !h.orch.VoiceEnabled() {
		t.Fatal("voice should be enabled after successful upgrade")
	}

	h.transport.EmitFinal(interview.RoleUser, "spoken answer", "v-1")
	waitUntil(t, "voice transcript merge", func() bool {
		return len(h.orch.Snapshot()) == 1
	})
	msg := h.orch.Snapshot()[0]
	if msg.Origin != interview.OriginVoiceRealtime || msg.Content != "spoken answer" {
		t.Fatalf("merged message = %+v", msg)
	}
}

func TestVoiceFailureFallsBackToText(t *testing.T) {
	h := newHarness(t, permissions.AlwaysGranted())
	ctx := context.Background()
	if err := h.orch.StartInterview(ctx, "p1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	updates, cancel := h.orch.Subscribe()
	defer cancel()

	h.backend.FailToken = errors.New("token service down")
	err := h.orch.ToggleVoice(ctx, true)
	if !errorsx.HasReason(err, errorsx.ReasonTokenAcquisition) {
		t.Fatalf("error = %v, want token_acquisition_failed", err)
	}
	if got := h.orch.Phase(); got != phase.Active {
		t.Fatalf("phase after failed upgrade = %v, want active", got)
	}
	if h.orch.VoiceEnabled() {
		t.Fatal("voice must stay disabled after a failed upgrade")
	}
	if notices := drainNotices(updates); len(notices) != 1 {
		t.Fatalf("notices = %+v, want exactly one", notices)
	}

	// Text messaging keeps working after the fallback.
	if err := h.orch.SendTextMessage(ctx, "still here"); err != nil {
		t.Fatalf("send after fallback: %v", err)
	}
}

func TestMicPermissionDenied(t *testing.T) {
	h := newHarness(t, permissions.Static{})
	ctx := context.Background()
	if err := h.orch.StartInterview(ctx, "p1"); err != nil {
		t.Fatalf("start: %v", err)
	}

	err := h.orch.ToggleVoice(ctx, true)
	if !errorsx.HasReason(err, errorsx.ReasonPermissionDenied) {
		t.Fatalf("error = %v, want permission_denied", err)
	}
	if got := h.orch.Phase(); got != phase.Active {
		t.Fatalf("phase = %v, want active", got)
	}
}

func TestEndRetryAfterEvaluationFailure(t *testing.T) {
	h := newHarness(t, permissions.AlwaysGranted())
	ctx := context.Background()
	if err := h.orch.StartInterview(ctx, "p1"); err != nil {
		t.Fatalf("start: %v", err)
	}

	h.backend.FailEnd = errors.New("evaluator overloaded")
	_, err := h.orch.EndInterview(ctx)
	if !errorsx.HasReason(err, errorsx.ReasonEvaluationFailed) {
		t.Fatalf("error = %v, want evaluation_failed", err)
	}
	if got := h.orch.Phase(); got != phase.Active {
		t.Fatalf("phase after failed end = %v, want active for retry", got)
	}

	h.backend.FailEnd = nil
	eval, err := h.orch.EndInterview(ctx)
	if err != nil {
		t.Fatalf("retry end: %v", err)
	}
	if eval.Summary == "" {
		t.Fatal("retry returned an empty evaluation")
	}
	if got := h.orch.Phase(); got != phase.Completed {
		t.Fatalf("phase after retry = %v, want completed", got)
	}
}

func TestVoiceDowngradeOnConnectionError(t *testing.T) {
	h := newHarness(t, permissions.AlwaysGranted())
	ctx := context.Background()
	if err := h.orch.StartInterview(ctx, "p1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := h.orch.ToggleVoice(ctx, true); err != nil {
		t.Fatalf("ToggleVoice: %v", err)
	}
	updates, cancel := h.orch.Subscribe()
	defer cancel()

	h.transport.EmitStatus(voice.StatusError)
	waitUntil(t, "voice downgrade", func() bool {
		return !h.orch.VoiceEnabled()
	})
	waitUntil(t, "connection failure notice", func() bool {
		for _, n := range drainNotices(updates) {
			if n.Reason == errorsx.ReasonConnectionFailed {
				return true
			}
		}
		return false
	})
	if got := h.orch.Phase(); got != phase.Active {
		t.Fatalf("phase after downgrade = %v, want active", got)
	}
}

func TestToggleVoiceOffIsIdempotent(t *testing.T) {
	h := newHarness(t, permissions.AlwaysGranted())
	ctx := context.Background()
	if err := h.orch.StartInterview(ctx, "p1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := h.orch.ToggleVoice(ctx, false); err != nil {
		t.Fatalf("disable without voice: %v", err)
	}
	if err := h.orch.ToggleVoice(ctx, false); err != nil {
		t.Fatalf("second disable: %v", err)
	}
	if got := h.orch.Phase(); got != phase.Active {
		t.Fatalf("phase = %v, want active", got)
	}
}

// blockingSendBackend parks SendMessage until released, so a test can
// complete the session while the call is still in flight.
type blockingSendBackend struct {
	*backendmock.Backend
	entered chan struct{}
	release chan struct{}
}

func (b *blockingSendBackend) SendMessage(ctx context.Context, interviewID, text string) (backend.SendResult, error) {
	b.entered <- struct{}{}
	<-b.release
	return b.Backend.SendMessage(ctx, interviewID, text)
}

func TestSendResultAfterCompletionIsDiscarded(t *testing.T) {
	be := &blockingSendBackend{
		Backend: backendmock.New(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	h := newHarnessWith(t, permissions.AlwaysGranted(), be)
	ctx := context.Background()
	if err := h.orch.StartInterview(ctx, "p1"); err != nil {
		t.Fatalf("start: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- h.orch.SendTextMessage(ctx, "last thought") }()
	<-be.entered
	if n := len(h.orch.Snapshot()); n != 1 {
		t.Fatalf("snapshot length = %d, want the optimistic entry while the call is in flight", n)
	}

	if _, err := h.orch.EndInterview(ctx); err != nil {
		t.Fatalf("end: %v", err)
	}
	close(be.release)

	if err := <-done; err != nil {
		t.Fatalf("late send must be discarded silently, got %v", err)
	}
	if n := len(h.orch.Snapshot()); n != 0 {
		t.Fatalf("snapshot length = %d, late result must not reach a completed transcript", n)
	}
	if got := h.orch.Phase(); got != phase.Completed {
		t.Fatalf("phase = %v, want completed", got)
	}
}

func TestVoiceFinalAfterCompletionIsDropped(t *testing.T) {
	h := newHarness(t, permissions.AlwaysGranted())
	ctx := context.Background()
	if err := h.orch.StartInterview(ctx, "p1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := h.orch.EndInterview(ctx); err != nil {
		t.Fatalf("end: %v", err)
	}

	h.orch.commitFinal(voice.TranscriptFinal{
		Role:    interview.RoleAssistant,
		Content: "one more thing",
		At:      time.Now(),
	})
	if n := len(h.orch.Snapshot()); n != 0 {
		t.Fatalf("snapshot length = %d, the transcript is frozen after completion", n)
	}
}

func awaitTyping(t *testing.T, updates <-chan Update, want bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case u := <-updates:
			if u.Kind == UpdateTyping && u.Typing == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for typing=%v update", want)
		}
	}
}

func TestAssistantDeltasFoldIntoFinal(t *testing.T) {
	h := newHarness(t, permissions.AlwaysGranted())
	ctx := context.Background()
	if err := h.orch.StartInterview(ctx, "p1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := h.orch.ToggleVoice(ctx, true); err != nil {
		t.Fatalf("ToggleVoice: %v", err)
	}
	updates, cancel := h.orch.Subscribe()
	defer cancel()

	h.transport.EmitDelta("d-1", "walk me through ")
	h.transport.EmitDelta("d-1", "your complexity analysis")
	awaitTyping(t, updates, true)

	// A final with no content of its own adopts the folded delta text.
	h.transport.Emit(voice.TranscriptFinal{Role: interview.RoleAssistant, MessageID: "d-1"})
	awaitTyping(t, updates, false)

	snap := h.orch.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("snapshot length = %d, want the folded utterance", len(snap))
	}
	msg := snap[0]
	if msg.Content != "walk me through your complexity analysis" {
		t.Fatalf("content = %q", msg.Content)
	}
	if msg.Role != interview.RoleAssistant || msg.Origin != interview.OriginVoiceRealtime || msg.ID != "d-1" {
		t.Fatalf("merged message = %+v", msg)
	}
	if msg.CreatedAt.IsZero() {
		t.Fatal("folded message must carry the first delta's timestamp")
	}
}
