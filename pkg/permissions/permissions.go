// Package permissions abstracts the platform microphone permission
// gate. Denial is always a recoverable condition: the session continues
// text-only.
package permissions

import "context"

// Decision is the outcome of a permission check or request.
type Decision string

const (
	Granted Decision = "granted"
	Denied  Decision = "denied"
	Prompt  Decision = "prompt"
)

// MicrophoneGate reports and requests microphone access.
type MicrophoneGate interface {
	Check(ctx context.Context) (Decision, error)
	Request(ctx context.Context) (Decision, error)
}

// Static is a gate with fixed answers, for tests and headless
// deployments where the embedding app resolved permissions already.
type Static struct {
	CheckDecision   Decision
	RequestDecision Decision
}

// AlwaysGranted is a gate that never blocks the voice upgrade.
func AlwaysGranted() Static {
	return Static{CheckDecision: Granted, RequestDecision: Granted}
}

func (s Static) Check(ctx context.Context) (Decision, error) {
	if s.CheckDecision == "" {
		return Prompt, nil
	}
	return s.CheckDecision, nil
}

func (s Static) Request(ctx context.Context) (Decision, error) {
	if s.RequestDecision == "" {
		return Denied, nil
	}
	return s.RequestDecision, nil
}

var _ MicrophoneGate = Static{}
