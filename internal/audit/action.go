// Package audit implements the audit primitives: the Action record, its
// canonical hash, and Merkle-root computation over an ordered action list.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/talos-sh/terminal-adapter/internal/classifier"
)

// Action is one classified-and-executed command within a session,
// auditable by its hash. Once appended to a session it is never mutated.
type Action struct {
	ActionID    string             `json:"action_id"`
	SessionID   string             `json:"session_id"`
	Timestamp   time.Time          `json:"timestamp"`
	Command     string             `json:"command"`
	Args        []string           `json:"args"`
	Cwd         string             `json:"cwd"`
	Risk        classifier.RiskLevel `json:"risk_level"`
	ExitCode    *int               `json:"exit_code"`
	StdoutDigest string            `json:"-"`
	StderrDigest string            `json:"-"`
}

// CanonicalJSON returns the deterministic serialization of a's hashed
// fields: sorted keys, no extraneous whitespace. Marshaling a
// map[string]any relies on encoding/json's guarantee that object members
// are emitted in sorted key order for map values — no manual key sort is
// needed.
func (a Action) CanonicalJSON() ([]byte, error) {
	args := a.Args
	if args == nil {
		args = []string{}
	}
	fields := map[string]any{
		"action_id":  a.ActionID,
		"session_id": a.SessionID,
		"timestamp":  a.Timestamp.UTC().Format(time.RFC3339Nano),
		"command":    a.Command,
		"args":       args,
		"cwd":        a.Cwd,
		"risk_level": string(a.Risk),
		"exit_code":  a.ExitCode,
	}
	return json.Marshal(fields)
}

// Hash returns the SHA-256 hex digest of a's canonical form.
func (a Action) Hash() (string, error) {
	data, err := a.CanonicalJSON()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// ShortDigest returns the first 16 hex characters of SHA-256(content), or
// the empty string when content is empty.
func ShortDigest(content string) string {
	if content == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])[:16]
}
