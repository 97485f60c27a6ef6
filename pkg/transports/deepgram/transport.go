// Package deepgram is a live-caption transport: it streams microphone
// audio to Deepgram live STT and surfaces the results as voice events,
// for deployments where the room service does not caption the user
// side. The embedding app feeds PCM through SendAudio.
package deepgram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	"github.com/prepdeck/interviewkit/pkg/interview"
	"github.com/prepdeck/interviewkit/pkg/logging"
	"github.com/prepdeck/interviewkit/pkg/voice"
)

// Settings configures the Deepgram live connection.
type Settings struct {
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	Language   string `mapstructure:"language"`
	SampleRate int    `mapstructure:"sample_rate"`
	Encoding   string `mapstructure:"encoding"`
	Interim    bool   `mapstructure:"interim"`
}

type Transport struct {
	settings Settings
	logger   *slog.Logger

	out    chan voice.Event
	outMu  sync.Mutex
	closed atomic.Bool
	muted  atomic.Bool

	mu         sync.Mutex
	state      voice.ConnectionState
	dgClient   *client.WSCallback
	ctx        context.Context
	cancel     context.CancelFunc
	pipeReader *io.PipeReader
	pipeWriter *io.PipeWriter
}

func New(settings Settings, logger *slog.Logger) *Transport {
	if settings.SampleRate == 0 {
		settings.SampleRate = 16000
	}
	return &Transport{
		settings: settings,
		logger:   logging.NewComponentLogger(logger, "deepgram_transport"),
		out:      make(chan voice.Event, 256),
		state:    voice.StateDisconnected,
	}
}

func (t *Transport) Name() string { return "deepgram" }

func (t *Transport) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithCancel(context.Background())

	clientOptions := &interfaces.ClientOptions{
		EnableKeepAlive: true,
	}
	transcriptOptions := &interfaces.LiveTranscriptionOptions{
		Model:          t.settings.Model,
		Language:       t.settings.Language,
		Encoding:       t.settings.Encoding,
		SampleRate:     t.settings.SampleRate,
		InterimResults: t.settings.Interim,
		SmartFormat:    true,
	}

	cb := &callback{parent: t}
	dgClient, err := client.NewWSUsingCallback(runCtx, t.settings.APIKey, clientOptions, transcriptOptions, cb)
	if err != nil {
		cancel()
		return fmt.Errorf("deepgram client: %w", err)
	}
	if connected := dgClient.Connect(); !connected {
		cancel()
		return fmt.Errorf("deepgram connection failed")
	}

	pr, pw := io.Pipe()
	t.mu.Lock()
	t.dgClient = dgClient
	t.ctx = runCtx
	t.cancel = cancel
	t.pipeReader = pr
	t.pipeWriter = pw
	t.state = voice.StateConnected
	t.mu.Unlock()

	go func() {
		if err := dgClient.Stream(pr); err != nil && runCtx.Err() == nil {
			t.logger.Error("deepgram stream error", slog.String("error", err.Error()))
		}
	}()

	t.logger.Info("deepgram captions connected",
		slog.String("model", t.settings.Model),
		slog.Int("sample_rate", t.settings.SampleRate))
	return nil
}

func (t *Transport) Stop() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	t.mu.Lock()
	cancel, pw, dg := t.cancel, t.pipeWriter, t.dgClient
	t.dgClient = nil
	t.state = voice.StateDisconnected
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if pw != nil {
		_ = pw.Close()
	}
	if dg != nil {
		dg.Stop()
	}
	// SDK callbacks emit from their own goroutines; the same lock that
	// serializes their sends must cover the close.
	t.outMu.Lock()
	close(t.out)
	t.outMu.Unlock()
	return nil
}

func (t *Transport) Events() <-chan voice.Event { return t.out }

func (t *Transport) State() voice.ConnectionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// SetMicrophoneEnabled gates audio forwarding: while muted, SendAudio
// drops frames instead of streaming them.
func (t *Transport) SetMicrophoneEnabled(enabled bool) error {
	t.muted.Store(!enabled)
	return nil
}

// SendAudio forwards raw PCM to the live connection. Callers own the
// capture pipeline; this transport only relays.
func (t *Transport) SendAudio(pcm []byte) error {
	if t.muted.Load() {
		return nil
	}
	t.mu.Lock()
	pw := t.pipeWriter
	t.mu.Unlock()
	if pw == nil {
		return fmt.Errorf("not started")
	}
	_, err := pw.Write(pcm)
	return err
}

func (t *Transport) emit(ev voice.Event) {
	t.outMu.Lock()
	defer t.outMu.Unlock()
	if t.closed.Load() {
		return
	}
	select {
	case t.out <- ev:
	default:
		t.logger.Warn("deepgram event dropped: channel full")
	}
}

// --- Callback implementation ---

type callback struct {
	parent     *Transport
	metaLogged bool
}

func (c *callback) Open(or *msginterfaces.OpenResponse) error {
	c.parent.emit(voice.StatusChanged{Status: voice.StatusReady})
	return nil
}

// Message handles transcript results. Interim hypotheses are replaced
// by Deepgram on each update rather than appended, so they are not
// emitted as deltas; only finals reach the transcript.
func (c *callback) Message(mr *msginterfaces.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	transcript := mr.Channel.Alternatives[0].Transcript
	if transcript == "" {
		return nil
	}

	if mr.IsFinal || mr.SpeechFinal {
		c.parent.emit(voice.TranscriptFinal{
			Role:    interview.RoleUser,
			Content: transcript,
			At:      time.Now(),
		})
	}
	return nil
}

func (c *callback) Metadata(md *msginterfaces.MetadataResponse) error {
	if !c.metaLogged {
		c.metaLogged = true
		c.parent.logger.Info("deepgram metadata received",
			slog.String("request_id", md.RequestID))
	}
	return nil
}

func (c *callback) SpeechStarted(ssr *msginterfaces.SpeechStartedResponse) error {
	return nil
}

func (c *callback) UtteranceEnd(ur *msginterfaces.UtteranceEndResponse) error {
	return nil
}

func (c *callback) Close(cr *msginterfaces.CloseResponse) error {
	c.parent.logger.Info("deepgram connection closed")
	return nil
}

func (c *callback) Error(er *msginterfaces.ErrorResponse) error {
	c.parent.logger.Error("deepgram error",
		slog.String("error_code", er.ErrCode),
		slog.String("error_message", er.ErrMsg))
	c.parent.emit(voice.StatusChanged{Status: voice.StatusError})
	return nil
}

func (c *callback) UnhandledEvent(byData []byte) error {
	c.parent.logger.Debug("deepgram unhandled event", slog.String("data", string(byData)))
	return nil
}

var _ voice.Transport = (*Transport)(nil)
