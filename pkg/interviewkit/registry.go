package interviewkit

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/prepdeck/interviewkit/pkg/configutil"
	"github.com/prepdeck/interviewkit/pkg/transports/deepgram"
	"github.com/prepdeck/interviewkit/pkg/transports/mock"
	"github.com/prepdeck/interviewkit/pkg/transports/room"
	"github.com/prepdeck/interviewkit/pkg/voice"
)

// TransportBuilder constructs a voice transport for one granted
// connection. The grant carries the room credentials; cfg.Voice.Settings
// carries provider tuning.
type TransportBuilder func(cfg Config, grant voice.Grant, logger *slog.Logger) (voice.Transport, error)

type TransportRegistry struct {
	builders map[string]TransportBuilder
}

func NewTransportRegistry() *TransportRegistry {
	return &TransportRegistry{builders: make(map[string]TransportBuilder)}
}

func (r *TransportRegistry) Register(name string, builder TransportBuilder) {
	r.builders[strings.ToLower(strings.TrimSpace(name))] = builder
}

func (r *TransportRegistry) Build(provider string, cfg Config, grant voice.Grant, logger *slog.Logger) (voice.Transport, error) {
	fn := r.builders[strings.ToLower(strings.TrimSpace(provider))]
	if fn == nil {
		return nil, fmt.Errorf("voice provider not registered: %s", provider)
	}
	return fn(cfg, grant, logger)
}

// DefaultTransportRegistry registers the built-in providers.
func DefaultTransportRegistry() *TransportRegistry {
	r := NewTransportRegistry()
	r.Register("room", buildRoomTransport)
	r.Register("deepgram", buildDeepgramTransport)
	r.Register("mock", buildMockTransport)
	return r
}

var roomSchema = configutil.Schema{
	Optional: []string{"handshake_timeout_ms", "ping_interval_ms", "max_reconnect_attempts", "reconnect_backoff_ms"},
}

var deepgramSchema = configutil.Schema{
	Required: []string{"api_key"},
	Optional: []string{"model", "language", "sample_rate", "encoding", "interim"},
}

func buildRoomTransport(cfg Config, grant voice.Grant, logger *slog.Logger) (voice.Transport, error) {
	if err := configutil.ValidateSettings(cfg.Voice.Settings, roomSchema); err != nil {
		return nil, fmt.Errorf("room settings: %w", err)
	}
	var settings room.Settings
	if err := configutil.DecodeSettings(cfg.Voice.Settings, &settings); err != nil {
		return nil, fmt.Errorf("room settings: %w", err)
	}
	return room.New(grant, settings, logger), nil
}

func buildDeepgramTransport(cfg Config, grant voice.Grant, logger *slog.Logger) (voice.Transport, error) {
	if err := configutil.ValidateSettings(cfg.Voice.Settings, deepgramSchema); err != nil {
		return nil, fmt.Errorf("deepgram settings: %w", err)
	}
	var settings deepgram.Settings
	if err := configutil.DecodeSettings(cfg.Voice.Settings, &settings); err != nil {
		return nil, fmt.Errorf("deepgram settings: %w", err)
	}
	return deepgram.New(settings, logger), nil
}

func buildMockTransport(cfg Config, grant voice.Grant, logger *slog.Logger) (voice.Transport, error) {
	return mock.New(), nil
}
