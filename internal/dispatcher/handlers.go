package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/talos-sh/terminal-adapter/internal/approval"
	"github.com/talos-sh/terminal-adapter/internal/classifier"
	"github.com/talos-sh/terminal-adapter/internal/event"
	"github.com/talos-sh/terminal-adapter/internal/executor"
	"github.com/talos-sh/terminal-adapter/internal/ptyexec"
	"github.com/talos-sh/terminal-adapter/internal/session"
)

const (
	minTimeoutMS = 1000
	maxTimeoutMS = 300000
)

// ExecuteRequest is the body of POST /execute.
type ExecuteRequest struct {
	SessionID   string            `json:"session_id,omitempty"`
	Command     string            `json:"command"`
	Args        []string          `json:"args,omitempty"`
	Cwd         string            `json:"cwd,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	TimeoutMS   int               `json:"timeout_ms"`
	Interactive bool              `json:"interactive,omitempty"`
}

// ExecuteResponse is the body returned by a successful POST /execute.
type ExecuteResponse struct {
	SessionID     string `json:"session_id"`
	ExitCode      *int   `json:"exit_code,omitempty"`
	Stdout        string `json:"stdout"`
	Stderr        string `json:"stderr"`
	Truncated     bool   `json:"truncated"`
	AuditHash     string `json:"audit_hash,omitempty"`
	InputRequired bool   `json:"input_required"`
}

// confineToProjectRoot canonicalizes cwd and verifies it descends from
// root. An empty cwd defaults to root itself.
func confineToProjectRoot(root, cwd string) (string, error) {
	if cwd == "" {
		cwd = root
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve project root: %w", err)
	}
	absCwd, err := filepath.Abs(cwd)
	if err != nil {
		return "", fmt.Errorf("resolve cwd: %w", err)
	}

	rel, err := filepath.Rel(absRoot, absCwd)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("cwd %q escapes project root %q", cwd, root)
	}
	return absCwd, nil
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	if req.Command == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "command is required")
		return
	}
	if req.TimeoutMS == 0 {
		req.TimeoutMS = minTimeoutMS
	}
	if req.TimeoutMS < minTimeoutMS || req.TimeoutMS > maxTimeoutMS {
		writeError(w, http.StatusBadRequest, "bad_request", "timeout_ms must be between 1000 and 300000")
		return
	}

	cwd, err := confineToProjectRoot(s.cfg.ProjectRoot, req.Cwd)
	if err != nil {
		writeDispatchError(w, &DispatchError{Kind: KindOutOfSandbox, Message: err.Error()})
		return
	}

	result := s.classifier.Load().Classify(req.Command, req.Args)
	if result.Blocked {
		writeDispatchError(w, &DispatchError{
			Kind:           KindPolicyBlocked,
			Message:        fmt.Sprintf("command blocked: %s", result.BlockReason),
			MatchedPattern: result.MatchedPattern,
		})
		return
	}

	sess, err := s.resolveSession(req.SessionID)
	if err != nil {
		writeDispatchError(w, &DispatchError{Kind: KindNotFound, Message: err.Error()})
		return
	}

	if s.requiresApproval(result.Risk) {
		event.Publish(event.Event{
			Type: event.PermissionRequired,
			Data: event.PermissionRequiredData{SessionID: sess.ID, Command: req.Command, Risk: result.Risk},
		})

		decision, err := s.escalate(r.Context(), req.Command, req.Args, cwd, result.Risk)
		if err != nil || decision != approval.DecisionApproved {
			writeDispatchError(w, &DispatchError{
				Kind:    KindPolicyRequiresApproval,
				Message: "command requires approval",
			})
			return
		}
	}

	if req.Interactive {
		s.handleInteractiveExecute(w, r, sess.ID, req, cwd, result.Risk)
		return
	}
	s.handleOneShotExecute(w, r, sess.ID, req, cwd, result.Risk)
}

func (s *Server) handleOneShotExecute(w http.ResponseWriter, r *http.Request, sessionID string, req ExecuteRequest, cwd string, risk classifier.RiskLevel) {
	res, err := executor.Run(r.Context(), executor.Options{
		Command: req.Command,
		Args:    req.Args,
		Cwd:     cwd,
		Env:     req.Env,
		Timeout: time.Duration(req.TimeoutMS) * time.Millisecond,
	})
	if err == executor.ErrTimeout {
		writeDispatchError(w, &DispatchError{Kind: KindTimeout, Message: "command timed out"})
		return
	}
	if err != nil {
		writeDispatchError(w, &DispatchError{Kind: KindFatal, Message: err.Error()})
		return
	}

	stdout, truncOut := executor.TruncateOutput(res.Stdout, MaxOutputBytes)
	stderr, truncErr := executor.TruncateOutput(res.Stderr, MaxOutputBytes)
	exitCode := res.ExitCode

	hash, err := s.sessions.RecordAction(sessionID, req.Command, req.Args, cwd, risk, &exitCode, stdout, stderr)
	if err != nil {
		writeDispatchError(w, &DispatchError{Kind: KindFatal, Message: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, ExecuteResponse{
		SessionID: sessionID,
		ExitCode:  &exitCode,
		Stdout:    stdout,
		Stderr:    stderr,
		Truncated: truncOut || truncErr,
		AuditHash: hash,
	})
}

func (s *Server) handleInteractiveExecute(w http.ResponseWriter, r *http.Request, sessionID string, req ExecuteRequest, cwd string, risk classifier.RiskLevel) {
	sess, err := s.pty.Start(r.Context(), ptyexec.StartOptions{
		SessionID: sessionID,
		Command:   req.Command,
		Args:      req.Args,
		Cwd:       cwd,
		Env:       req.Env,
		OnOutput:  func(string, string) {},
	})
	if err != nil {
		writeDispatchError(w, &DispatchError{Kind: KindFatal, Message: err.Error()})
		return
	}

	output, complete := sess.ReadOutput(time.Duration(req.TimeoutMS) * time.Millisecond)
	out, truncated := executor.TruncateOutput(output, MaxOutputBytes)

	var exitCode *int
	if complete {
		exitCode = sess.ExitCode()
	}

	hash, err := s.sessions.RecordAction(sessionID, req.Command, req.Args, cwd, risk, exitCode, out, "")
	if err != nil {
		writeDispatchError(w, &DispatchError{Kind: KindFatal, Message: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, ExecuteResponse{
		SessionID:     sessionID,
		ExitCode:      exitCode,
		Stdout:        out,
		Truncated:     truncated,
		AuditHash:     hash,
		InputRequired: !complete,
	})
}

func (s *Server) requiresApproval(risk classifier.RiskLevel) bool {
	return !approval.CheckCapability(risk, s.cfg.IsDev)
}

func (s *Server) escalate(ctx context.Context, command string, args []string, cwd string, risk classifier.RiskLevel) (approval.Decision, error) {
	req := approval.BuildRequest(s.cfg.AgentID, command, args, cwd, risk)
	return s.broker.RequestApproval(ctx, req)
}

func (s *Server) resolveSession(sessionID string) (*session.Session, error) {
	if sessionID == "" {
		return s.sessions.CreateSession()
	}
	sess := s.sessions.GetSession(sessionID)
	if sess == nil {
		return nil, fmt.Errorf("session %s not found", sessionID)
	}
	return sess, nil
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sessions.ListActiveSessions())
}

type inputRequest struct {
	Data string `json:"data"`
}

func (s *Server) handleSessionInput(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	sess := s.pty.Get(sessionID)
	if sess == nil {
		writeDispatchError(w, &DispatchError{Kind: KindNotFound, Message: "no interactive session with that id"})
		return
	}

	var req inputRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}

	if !sess.WriteInput(req.Data) {
		writeDispatchError(w, &DispatchError{Kind: KindConflict, Message: "session is not accepting input"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type anchorResponse struct {
	MerkleRoot string `json:"merkle_root"`
}

func (s *Server) handleSessionAnchor(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	root, err := s.sessions.AnchorSession(r.Context(), sessionID, true)
	if err == session.ErrSessionNotFound {
		writeDispatchError(w, &DispatchError{Kind: KindNotFound, Message: "session not found"})
		return
	}
	if err != nil {
		writeDispatchError(w, &DispatchError{Kind: KindFatal, Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, anchorResponse{MerkleRoot: root})
}

func (s *Server) handleSessionAbort(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	force := r.URL.Query().Get("force") == "true"
	if ok := s.pty.Abort(sessionID, force); !ok {
		writeDispatchError(w, &DispatchError{Kind: KindNotFound, Message: "no interactive session with that id"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "aborted"})
}
