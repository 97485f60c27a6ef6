package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	// Caller bugs. These indicate misuse of the orchestrator API and
	// should never surface to an end user in correct usage.
	ReasonInvalidPhase  ReasonCode = "invalid_phase"
	ReasonAlreadyActive ReasonCode = "already_active"

	// Voice upgrade failures. All of them are recoverable: the session
	// downgrades to text-only and stays usable.
	ReasonPermissionDenied ReasonCode = "permission_denied"
	ReasonTokenAcquisition ReasonCode = "token_acquisition_failed"
	ReasonConnectionFailed ReasonCode = "connection_failed"

	// Backend call failures.
	ReasonSendFailed       ReasonCode = "send_failed"
	ReasonEvaluationFailed ReasonCode = "evaluation_failed"
	ReasonNetworkTimeout   ReasonCode = "network_timeout"
)

// Recoverable reports whether an error with this reason leaves the
// session usable. Only caller bugs are non-recoverable here; total loss
// of the interview id is handled at teardown, not through a reason code.
func (r ReasonCode) Recoverable() bool {
	switch r {
	case ReasonInvalidPhase, ReasonAlreadyActive:
		return false
	default:
		return true
	}
}
