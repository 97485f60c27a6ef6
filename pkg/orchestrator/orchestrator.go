// Package orchestrator is the composition root of one mock-interview
// session. It serializes phase transitions, routes user intents to the
// backend and the voice channel, and keeps the transcript store as the
// single consistent view regardless of network timing.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/prepdeck/interviewkit/pkg/backend"
	"github.com/prepdeck/interviewkit/pkg/errorsx"
	"github.com/prepdeck/interviewkit/pkg/interview"
	"github.com/prepdeck/interviewkit/pkg/logging"
	"github.com/prepdeck/interviewkit/pkg/metrics"
	"github.com/prepdeck/interviewkit/pkg/permissions"
	"github.com/prepdeck/interviewkit/pkg/phase"
	"github.com/prepdeck/interviewkit/pkg/poller"
	"github.com/prepdeck/interviewkit/pkg/redact"
	"github.com/prepdeck/interviewkit/pkg/transcript"
	"github.com/prepdeck/interviewkit/pkg/voice"
)

// Options configures an Orchestrator. Backend, Gate and Voice are
// required; zero durations fall back to the documented defaults.
type Options struct {
	Backend  backend.Client
	Gate     permissions.MicrophoneGate
	Voice    *voice.Manager
	Logger   *slog.Logger
	Observer metrics.Observer

	DedupWindow          time.Duration
	PollInterval         time.Duration
	TextOnlyPollInterval time.Duration
	RequestTimeout       time.Duration
}

// Orchestrator owns exactly one session for its lifetime. Create a new
// one per interview; Close drops everything.
type Orchestrator struct {
	opts   Options
	logger *slog.Logger
	obs    metrics.Observer

	machine *phase.Machine
	store   *transcript.Store
	poll    *poller.Poller
	agg     *voice.DeltaAggregator

	mu           sync.Mutex
	session      *interview.Session
	eval         *interview.Evaluation
	starting     bool
	voiceEnabled bool

	subMu      sync.Mutex
	subs       map[int]chan Update
	nextSub    int
	subsClosed bool

	runCtx    context.Context
	cancelRun context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func New(opts Options) *Orchestrator {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 20 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = poller.DefaultInterval
	}
	if opts.TextOnlyPollInterval <= 0 {
		opts.TextOnlyPollInterval = opts.PollInterval
	}
	obs := opts.Observer
	if obs == nil {
		obs = metrics.NoopObserver{}
	}

	o := &Orchestrator{
		opts:    opts,
		logger:  logging.NewComponentLogger(opts.Logger, "orchestrator"),
		obs:     obs,
		machine: phase.NewMachine(),
		store:   transcript.NewStore(opts.DedupWindow),
		agg:     voice.NewDeltaAggregator(),
		subs:    make(map[int]chan Update),
	}
	o.poll = poller.New(poller.Options{
		Source:       opts.Backend,
		Store:        o.store,
		Interval:     opts.PollInterval,
		FetchTimeout: opts.RequestTimeout,
		Logger:       opts.Logger,
		Observer:     obs,
	})
	o.runCtx, o.cancelRun = context.WithCancel(context.Background())
	o.machine.AddListener(o)

	o.wg.Add(1)
	go o.voicePump()
	return o
}

// OnPhaseChange implements phase.Listener; every transition is
// published to subscribers.
func (o *Orchestrator) OnPhaseChange(event phase.Change) {
	o.logger.Info("phase changed",
		slog.String("from", event.From.String()),
		slog.String("to", event.To.String()),
		slog.String("reason", event.Reason))
	o.obs.RecordEvent(metrics.Event{
		Name: "phase_change",
		Time: event.Timestamp,
		Tags: map[string]string{"from": event.From.String(), "to": event.To.String()},
	})
	o.publish(Update{Kind: UpdatePhase, Phase: event.To})
}

// StartInterview creates a session for the problem and enters the
// active phase. Fails with already_active when a session is loaded.
func (o *Orchestrator) StartInterview(ctx context.Context, problemID string) error {
	o.mu.Lock()
	if o.session != nil || o.starting {
		o.mu.Unlock()
		return errorsx.New("an interview session is already loaded", errorsx.ReasonAlreadyActive)
	}
	o.starting = true
	o.mu.Unlock()

	cctx, cancel := o.callCtx(ctx)
	defer cancel()
	res, err := o.opts.Backend.StartInterview(cctx, problemID)

	o.mu.Lock()
	o.starting = false
	if err != nil {
		o.mu.Unlock()
		if errors.Is(err, context.DeadlineExceeded) {
			return errorsx.Wrap(err, errorsx.ReasonNetworkTimeout)
		}
		return err
	}
	o.session = &interview.Session{
		ID:        res.InterviewID,
		ProblemID: problemID,
		Status:    interview.StatusActive,
		StartedAt: time.Now(),
	}
	sessionID := o.session.ID
	o.mu.Unlock()

	if err := o.machine.Transition(phase.Active, "interview started"); err != nil {
		return err
	}
	o.poll.Start(o.runCtx, sessionID)
	o.poll.SetInterval(o.opts.TextOnlyPollInterval)
	o.logger.Info("interview started",
		slog.String("session_id", sessionID),
		slog.String("problem_id", problemID))
	return nil
}

// SendTextMessage appends an optimistic entry immediately, then
// confirms it against the backend. On failure the optimistic entry is
// rolled back so the transcript never shows unconfirmed text as sent;
// repopulating the input box is the caller's decision.
func (o *Orchestrator) SendTextMessage(ctx context.Context, text string) error {
	o.mu.Lock()
	if o.session == nil || !o.machine.Is(phase.Active) {
		o.mu.Unlock()
		return errorsx.New("messages can only be sent while the interview is active", errorsx.ReasonInvalidPhase)
	}
	sessionID := o.session.ID
	o.mu.Unlock()

	temp := interview.Message{
		ID:        "local-" + uuid.NewString(),
		Role:      interview.RoleUser,
		Content:   text,
		CreatedAt: time.Now(),
		Origin:    interview.OriginOptimisticLocal,
	}
	o.store.Append(temp)
	o.publish(Update{Kind: UpdateTranscript})

	cctx, cancel := o.callCtx(ctx)
	defer cancel()
	res, err := o.opts.Backend.SendMessage(cctx, sessionID, text)
	if err != nil {
		o.store.Remove(temp.ID)
		o.publish(Update{Kind: UpdateTranscript})
		o.publishNotice(errorsx.ReasonSendFailed, "message could not be delivered")
		o.obs.RecordEvent(metrics.Event{
			Name: "send_rollback",
			Time: time.Now(),
			Tags: map[string]string{"session_id": sessionID},
		})
		o.logger.Warn("send failed, optimistic entry rolled back",
			slog.String("session_id", sessionID),
			slog.String("content", redact.Text(text)),
			slog.String("error", err.Error()))
		if errors.Is(err, context.DeadlineExceeded) {
			return errorsx.Wrap(err, errorsx.ReasonNetworkTimeout)
		}
		return errorsx.Wrap(err, errorsx.ReasonSendFailed)
	}

	// The session may have moved past ending while the call was in
	// flight; its result is then discarded and the provisional entry
	// dropped rather than confirmed into a frozen transcript.
	if o.discardResults(sessionID) {
		o.store.Remove(temp.ID)
		return nil
	}

	confirmed := res.Confirmed
	confirmed.Origin = interview.OriginPolled
	o.store.ReplaceOptimistic(temp.ID, confirmed)
	if res.Reply != nil {
		reply := *res.Reply
		reply.Origin = interview.OriginPolled
		o.store.Append(reply)
	}
	o.publish(Update{Kind: UpdateTranscript})
	return nil
}

// ToggleVoice upgrades to voice or downgrades back to text. Any failure
// in the upgrade chain ends in phase active with voice disabled; the
// session is never left half-connected or stuck in connecting.
func (o *Orchestrator) ToggleVoice(ctx context.Context, enabled bool) error {
	if !enabled {
		o.mu.Lock()
		o.voiceEnabled = false
		o.mu.Unlock()
		o.opts.Voice.Disconnect()
		o.poll.SetInterval(o.opts.TextOnlyPollInterval)
		o.publish(Update{Kind: UpdateConnection, Connection: o.opts.Voice.State()})
		return nil
	}

	o.mu.Lock()
	if o.session == nil {
		o.mu.Unlock()
		return errorsx.New("no interview session loaded", errorsx.ReasonInvalidPhase)
	}
	sessionID := o.session.ID
	o.mu.Unlock()

	if o.machine.Is(phase.Connecting) {
		return nil
	}
	if err := o.machine.Transition(phase.Connecting, "voice upgrade requested"); err != nil {
		if o.machine.Is(phase.Connecting) {
			// Lost the race to a concurrent upgrade; collapse into it.
			return nil
		}
		return errorsx.New("voice can only be enabled while the interview is active", errorsx.ReasonInvalidPhase)
	}

	if err := o.checkMicPermission(ctx); err != nil {
		o.abandonVoiceUpgrade(err, "microphone permission denied")
		return err
	}
	if err := o.opts.Voice.Connect(ctx, sessionID); err != nil {
		o.abandonVoiceUpgrade(err, "voice unavailable, continuing in text")
		return err
	}

	_ = o.machine.Transition(phase.Active, "voice connected")
	o.mu.Lock()
	o.voiceEnabled = true
	o.mu.Unlock()
	o.poll.SetInterval(o.opts.PollInterval)
	o.publish(Update{Kind: UpdateConnection, Connection: o.opts.Voice.State()})
	return nil
}

func (o *Orchestrator) checkMicPermission(ctx context.Context) error {
	cctx, cancel := o.callCtx(ctx)
	defer cancel()
	dec, err := o.opts.Gate.Check(cctx)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonPermissionDenied)
	}
	if dec == permissions.Prompt {
		dec, err = o.opts.Gate.Request(cctx)
		if err != nil {
			return errorsx.Wrap(err, errorsx.ReasonPermissionDenied)
		}
	}
	if dec != permissions.Granted {
		return errorsx.New("microphone permission denied", errorsx.ReasonPermissionDenied)
	}
	return nil
}

// abandonVoiceUpgrade rolls the phase back to active and reports the
// failure exactly once. Voice failures never abort the session.
func (o *Orchestrator) abandonVoiceUpgrade(err error, msg string) {
	_ = o.machine.Transition(phase.Active, "voice fallback to text")
	o.mu.Lock()
	o.voiceEnabled = false
	o.mu.Unlock()
	o.publishNotice(errorsx.Reason(err), msg)
	o.logger.Warn("voice upgrade abandoned",
		slog.String("reason", string(errorsx.Reason(err))),
		slog.String("error", err.Error()))
}

// EndInterview stops the producers, requests the evaluation, and
// completes the session. On evaluation failure the phase rolls back to
// active and ending may be retried.
func (o *Orchestrator) EndInterview(ctx context.Context) (interview.Evaluation, error) {
	o.mu.Lock()
	if o.session == nil {
		o.mu.Unlock()
		return interview.Evaluation{}, errorsx.New("no interview session loaded", errorsx.ReasonInvalidPhase)
	}
	sessionID := o.session.ID
	o.mu.Unlock()

	if err := o.machine.Transition(phase.Ending, "end requested"); err != nil {
		return interview.Evaluation{}, errorsx.New("interview cannot be ended in the current phase", errorsx.ReasonInvalidPhase)
	}

	// No further messages are accepted once ending begins.
	o.poll.Stop()
	o.opts.Voice.Disconnect()
	o.mu.Lock()
	o.voiceEnabled = false
	o.mu.Unlock()

	cctx, cancel := o.callCtx(ctx)
	defer cancel()
	eval, err := o.opts.Backend.EndInterview(cctx, sessionID)
	if err != nil {
		_ = o.machine.Transition(phase.Active, "evaluation fetch failed")
		o.poll.Start(o.runCtx, sessionID)
		o.publishNotice(errorsx.ReasonEvaluationFailed, "could not fetch the evaluation, try ending again")
		o.logger.Warn("evaluation fetch failed",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()))
		if errors.Is(err, context.DeadlineExceeded) {
			return interview.Evaluation{}, errorsx.Wrap(err, errorsx.ReasonNetworkTimeout)
		}
		return interview.Evaluation{}, errorsx.Wrap(err, errorsx.ReasonEvaluationFailed)
	}

	o.mu.Lock()
	o.session.Status = interview.StatusCompleted
	o.session.EndedAt = time.Now()
	o.eval = &eval
	o.mu.Unlock()
	_ = o.machine.Transition(phase.Completed, "evaluation received")
	o.logger.Info("interview completed", slog.String("session_id", sessionID))
	return eval, nil
}

// SetMicrophoneEnabled toggles the mic on the voice channel. A no-op
// unless voice is connected.
func (o *Orchestrator) SetMicrophoneEnabled(enabled bool) error {
	return o.opts.Voice.SetMicrophoneEnabled(enabled)
}

// Phase returns the current session phase.
func (o *Orchestrator) Phase() phase.Phase {
	return o.machine.Current()
}

// Snapshot returns the ordered transcript for rendering.
func (o *Orchestrator) Snapshot() []interview.Message {
	return o.store.Snapshot()
}

// ConnectionState returns the voice channel state.
func (o *Orchestrator) ConnectionState() voice.ConnectionState {
	return o.opts.Voice.State()
}

// Session returns a copy of the current session, or nil.
func (o *Orchestrator) Session() *interview.Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session == nil {
		return nil
	}
	s := *o.session
	return &s
}

// Evaluation returns the evaluation once the session completed, or nil.
func (o *Orchestrator) Evaluation() *interview.Evaluation {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.eval == nil {
		return nil
	}
	e := *o.eval
	return &e
}

// VoiceEnabled reports whether the session is currently upgraded.
func (o *Orchestrator) VoiceEnabled() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.voiceEnabled
}

// Close tears the session down: producers stop, subscriptions close,
// and the transcript is dropped. The orchestrator is not reusable.
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() {
		o.cancelRun()
		o.poll.Stop()
		o.opts.Voice.Close()
		o.wg.Wait()
		o.closeSubscribers()
		o.agg.Reset()
		o.store.Reset()
		o.mu.Lock()
		o.session = nil
		o.mu.Unlock()
	})
}

func (o *Orchestrator) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, o.opts.RequestTimeout)
}

// discardResults reports whether a completed network call's result
// should be thrown away because the session already moved past ending.
func (o *Orchestrator) discardResults(sessionID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session == nil || o.session.ID != sessionID {
		return true
	}
	return o.machine.Current() == phase.Completed
}
