package event

import "github.com/talos-sh/terminal-adapter/internal/classifier"

// SessionCreatedData is the data for session.created events.
type SessionCreatedData struct {
	SessionID   string `json:"session_id"`
	ProjectRoot string `json:"project_root"`
}

// SessionClosedData is the data for session.closed events.
type SessionClosedData struct {
	SessionID  string `json:"session_id"`
	MerkleRoot string `json:"merkle_root,omitempty"`
}

// ActionRecordedData is the data for action.recorded events.
type ActionRecordedData struct {
	SessionID string               `json:"session_id"`
	ActionID  string               `json:"action_id"`
	Command   string               `json:"command"`
	Risk      classifier.RiskLevel `json:"risk_level"`
	Blocked   bool                 `json:"blocked"`
}

// SessionAnchoredData is the data for session.anchored events.
type SessionAnchoredData struct {
	SessionID  string `json:"session_id"`
	MerkleRoot string `json:"merkle_root"`
}

// PermissionRequiredData is the data for permission.required events,
// published when a command is classified HIGH_RISK (or WRITE outside
// dev mode) and must be routed to the approval broker.
type PermissionRequiredData struct {
	SessionID string               `json:"session_id"`
	Command   string               `json:"command"`
	Risk      classifier.RiskLevel `json:"risk_level"`
}
