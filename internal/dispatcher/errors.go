package dispatcher

import "net/http"

// Kind is the error taxonomy from the mediator's error-handling design:
// every failure surfaced to a client carries one of these.
type Kind string

const (
	KindPolicyBlocked          Kind = "policy_blocked"
	KindPolicyRequiresApproval Kind = "policy_requires_approval"
	KindOutOfSandbox           Kind = "out_of_sandbox"
	KindNotFound               Kind = "not_found"
	KindConflict               Kind = "conflict"
	KindTimeout                Kind = "timeout"
	KindTransientIO            Kind = "transient_io"
	KindFatal                  Kind = "fatal"
)

// DispatchError is a classified failure ready to be written to the
// client. Message is human-readable; MatchedPattern carries the matching
// blocklist pattern for blocked requests.
type DispatchError struct {
	Kind           Kind
	Message        string
	MatchedPattern string
}

func (e *DispatchError) Error() string {
	return e.Message
}

// httpStatus maps a Kind to its transport status, per the dispatcher's
// error-taxonomy-to-HTTP-status table.
func httpStatus(kind Kind) int {
	switch kind {
	case KindPolicyBlocked, KindPolicyRequiresApproval, KindOutOfSandbox:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindTransientIO, KindFatal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func writeDispatchError(w http.ResponseWriter, err *DispatchError) {
	status := httpStatus(err.Kind)
	if err.Kind == KindPolicyRequiresApproval {
		w.Header().Set("X-Escalation", "required")
	}
	details := map[string]any{}
	if err.MatchedPattern != "" {
		details["matched_pattern"] = err.MatchedPattern
	}
	if len(details) == 0 {
		writeError(w, status, string(err.Kind), err.Message)
		return
	}
	writeErrorWithDetails(w, status, string(err.Kind), err.Message, details)
}
