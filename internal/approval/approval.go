// Package approval defines the external approval-broker boundary used
// to escalate HIGH_RISK (and, outside dev mode, WRITE) commands, plus a
// safe default and an example HTTP-backed implementation.
package approval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/talos-sh/terminal-adapter/internal/classifier"
)

// Decision is the Supervisor's verdict on an escalated action.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
	DecisionEscalate Decision = "escalate"
)

// Resource is a named thing an action will touch, surfaced to the
// approval broker so a human reviewer can see blast radius.
type Resource struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// ApprovalRequest describes one command awaiting a Supervisor decision.
type ApprovalRequest struct {
	AgentID         string               `json:"agent_id"`
	TraceID         string               `json:"trace_id"`
	PlanID          string               `json:"plan_id"`
	ActionRequestID string               `json:"action_request_id"`
	Timestamp       string               `json:"ts"`
	RiskLevel       classifier.RiskLevel `json:"risk_level"`
	Intent          string               `json:"intent"`
	Resources       []Resource           `json:"resources"`
	Proposal        map[string]any       `json:"proposal"`
	Digest          string               `json:"digest"`
}

// BuildRequest constructs an ApprovalRequest for a command about to be
// escalated, auto-generating ids, intent, resources, and a digest of the
// proposal the same way the broker's original client did.
func BuildRequest(agentID string, command string, args []string, cwd string, risk classifier.RiskLevel) ApprovalRequest {
	fullCmd := strings.TrimSpace(command + " " + strings.Join(args, " "))
	primary := classifier.ParsedCommand{Name: command, Args: args}
	intent := "Execute terminal command: " + truncate(classifier.Describe(primary), 100)

	resources := []Resource{{Type: "path", Value: cwd}}

	// A command line can chain multiple calls (e.g. "curl ... && rm ...");
	// surface every one, and every path argument it touches, so a reviewer
	// sees the full blast radius, not just the leading command.
	for _, parsed := range classifier.ParseCommandLine(fullCmd) {
		for _, p := range classifier.ExtractPathArgs(parsed) {
			resources = append(resources, Resource{Type: "path", Value: p})
		}
		if parsed.Name != "" && parsed.Name != command {
			resources = append(resources, Resource{Type: "command", Value: parsed.Name})
		}
	}

	proposal := map[string]any{
		"tool":    "terminal:execute",
		"command": command,
		"args":    args,
		"cwd":     cwd,
	}

	return ApprovalRequest{
		AgentID:         agentID,
		TraceID:         uuid.NewString(),
		PlanID:          uuid.NewString(),
		ActionRequestID: uuid.NewString(),
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
		RiskLevel:       risk,
		Intent:          intent,
		Resources:       resources,
		Proposal:        proposal,
		Digest:          digestProposal(proposal),
	}
}

func digestProposal(proposal map[string]any) string {
	keys := make([]string, 0, len(proposal))
	for k := range proposal {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ordered := make(map[string]any, len(proposal))
	for _, k := range keys {
		ordered[k] = proposal[k]
	}
	data, err := json.Marshal(ordered)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Broker requests an approval decision for an escalated action.
type Broker interface {
	RequestApproval(ctx context.Context, req ApprovalRequest) (Decision, error)
}

// NoopBroker denies everything: the safe default when no approval
// broker is configured. HIGH_RISK and non-dev WRITE commands can never
// silently proceed.
type NoopBroker struct{}

// RequestApproval always returns DecisionRejected.
func (NoopBroker) RequestApproval(ctx context.Context, req ApprovalRequest) (Decision, error) {
	return DecisionRejected, nil
}

// CheckCapability reports whether risk can proceed without an explicit
// approval decision: READ never needs escalation, and dev mode bypasses
// everything else. Outside dev mode, WRITE and HIGH_RISK both require
// escalation through the approval broker.
func CheckCapability(risk classifier.RiskLevel, isDev bool) bool {
	if risk == classifier.RiskRead {
		return true
	}
	return isDev
}

// ErrBrokerUnavailable wraps transport failures talking to a broker.
var ErrBrokerUnavailable = fmt.Errorf("approval: broker unavailable")
