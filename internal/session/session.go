// Package session implements the Session Manager: session lifecycle,
// durability-before-visibility action recording, the periodic anchor
// loop, and WAL-based recovery.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/talos-sh/terminal-adapter/internal/audit"
	"github.com/talos-sh/terminal-adapter/internal/classifier"
	"github.com/talos-sh/terminal-adapter/internal/event"
	"github.com/talos-sh/terminal-adapter/internal/logging"
	"github.com/talos-sh/terminal-adapter/internal/wal"
)

// AnchorInterval is the minimum elapsed time between non-immediate anchors
// for a single session.
const AnchorInterval = 10 * time.Minute

// AnchorLoopTick is the anchor loop's wake period.
const AnchorLoopTick = time.Minute

// AnchorSink commits a session's Merkle root to an external audit chain.
// Implementations must return failure (not success) on any doubt, so the
// WAL is not truncated prematurely; they must also be idempotent over
// (session-id, root) pairs since a crash between success and truncation
// will cause the next recovery to replay already-anchored actions.
type AnchorSink interface {
	Anchor(ctx context.Context, sessionID, merkleRoot string) error
}

// Session is a durable identity grouping an ordered, append-only list of
// Actions. Actions are appended only through the owning Manager.
type Session struct {
	ID          string
	CreatedAt   time.Time
	ProjectRoot string
	Active      bool

	mu      sync.RWMutex
	actions []audit.Action
}

// Actions returns a snapshot of the session's action list.
func (s *Session) Actions() []audit.Action {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]audit.Action, len(s.actions))
	copy(out, s.actions)
	return out
}

func (s *Session) appendAction(a audit.Action) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = append(s.actions, a)
}

func (s *Session) actionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.actions)
}

// Summary is the read-only view returned by ListActiveSessions.
type Summary struct {
	SessionID   string
	CreatedAt   time.Time
	ActionCount int
	Active      bool
}

// sessionEntry pairs a Session with its WAL and anchor bookkeeping behind
// a per-session lock, so record-action calls on different sessions never
// contend with each other.
type sessionEntry struct {
	mu         sync.Mutex
	session    *Session
	wal        *wal.WAL
	lastAnchor time.Time
}

// Manager creates, tracks, and closes sessions; orchestrates
// WAL-then-tree ordering; and runs the periodic anchor loop.
type Manager struct {
	projectRoot string
	walDir      string
	sink        AnchorSink

	mu       sync.RWMutex
	sessions map[string]*sessionEntry

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewManager constructs a Manager rooted at projectRoot, writing WAL files
// under walDir, and anchoring through sink.
func NewManager(projectRoot, walDir string, sink AnchorSink) *Manager {
	return &Manager{
		projectRoot: projectRoot,
		walDir:      walDir,
		sink:        sink,
		sessions:    make(map[string]*sessionEntry),
	}
}

// CreateSession creates a new session with a fresh ULID, an empty action
// list, and an initialized WAL. The current time is recorded as the
// session's last-anchor time so the first anchor loop tick does not fire
// immediately.
func (m *Manager) CreateSession() (*Session, error) {
	id := ulid.Make().String()

	w, err := wal.Open(m.walDir, id)
	if err != nil {
		return nil, fmt.Errorf("session: open wal for %s: %w", id, err)
	}

	sess := &Session{
		ID:          id,
		CreatedAt:   time.Now().UTC(),
		ProjectRoot: m.projectRoot,
		Active:      true,
	}

	m.mu.Lock()
	m.sessions[id] = &sessionEntry{session: sess, wal: w, lastAnchor: time.Now()}
	m.mu.Unlock()

	logging.Session(id).Info().Msg("created session")
	event.Publish(event.Event{
		Type: event.SessionCreated,
		Data: event.SessionCreatedData{SessionID: id, ProjectRoot: m.projectRoot},
	})
	return sess, nil
}

func (m *Manager) entry(sessionID string) (*sessionEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.sessions[sessionID]
	return e, ok
}

// GetSession returns a session by id, or nil if unknown.
func (m *Manager) GetSession(sessionID string) *Session {
	e, ok := m.entry(sessionID)
	if !ok {
		return nil
	}
	return e.session
}

// ListActiveSessions returns a summary of every active session.
func (m *Manager) ListActiveSessions() []Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Summary
	for _, e := range m.sessions {
		if !e.session.Active {
			continue
		}
		out = append(out, Summary{
			SessionID:   e.session.ID,
			CreatedAt:   e.session.CreatedAt,
			ActionCount: e.session.actionCount(),
			Active:      e.session.Active,
		})
	}
	return out
}

// ErrSessionNotFound is returned by operations given an unknown session id.
var ErrSessionNotFound = fmt.Errorf("session not found")

// RecordAction constructs an Action from the given execution result,
// appends it to the session's WAL durably before updating the in-memory
// list, and returns the action's audit hash. A WAL failure is propagated
// and the action is never added to the in-memory list, preserving "every
// in-tree action was WAL-durable first".
func (m *Manager) RecordAction(
	sessionID, command string,
	args []string,
	cwd string,
	risk classifier.RiskLevel,
	exitCode *int,
	stdout, stderr string,
) (string, error) {
	e, ok := m.entry(sessionID)
	if !ok {
		return "", ErrSessionNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	action := audit.Action{
		ActionID:     ulid.Make().String(),
		SessionID:    sessionID,
		Timestamp:    time.Now().UTC(),
		Command:      command,
		Args:         args,
		Cwd:          cwd,
		Risk:         risk,
		ExitCode:     exitCode,
		StdoutDigest: audit.ShortDigest(stdout),
		StderrDigest: audit.ShortDigest(stderr),
	}

	if err := e.wal.Append(action); err != nil {
		return "", fmt.Errorf("session: wal append: %w", err)
	}

	e.session.appendAction(action)

	hash, err := action.Hash()
	if err != nil {
		return "", fmt.Errorf("session: hash action: %w", err)
	}

	logging.Session(sessionID).Debug().
		Str("action_id", action.ActionID).
		Str("command", command).
		Msg("recorded action")

	event.Publish(event.Event{
		Type: event.ActionRecorded,
		Data: event.ActionRecordedData{
			SessionID: sessionID,
			ActionID:  action.ActionID,
			Command:   command,
			Risk:      risk,
		},
	})

	return hash, nil
}

// AnchorSession computes the session's Merkle root and commits it via the
// configured AnchorSink. When immediate is false and the anchor interval
// has not yet elapsed, the anchor is skipped and ("", nil) is returned.
// On sink failure the WAL is not truncated and the last-anchor time is
// not updated, so the next loop tick retries.
func (m *Manager) AnchorSession(ctx context.Context, sessionID string, immediate bool) (string, error) {
	e, ok := m.entry(sessionID)
	if !ok {
		return "", ErrSessionNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !immediate && time.Since(e.lastAnchor) < AnchorInterval {
		return "", nil
	}

	root, err := audit.ComputeActionsMerkleRoot(e.session.Actions())
	if err != nil {
		return "", fmt.Errorf("session: compute merkle root: %w", err)
	}

	if m.sink != nil {
		if err := m.sink.Anchor(ctx, sessionID, root); err != nil {
			logging.Session(sessionID).Error().Err(err).Msg("anchor callback failed")
			return "", nil
		}
	}

	if err := e.wal.Truncate(); err != nil {
		return "", fmt.Errorf("session: truncate wal: %w", err)
	}
	e.lastAnchor = time.Now()

	logging.Session(sessionID).Info().Str("merkle_root", root).Msg("anchored session")
	event.Publish(event.Event{
		Type: event.SessionAnchored,
		Data: event.SessionAnchoredData{SessionID: sessionID, MerkleRoot: root},
	})
	return root, nil
}

// CloseSession marks a session inactive and performs a final immediate
// anchor regardless of the anchor interval.
func (m *Manager) CloseSession(ctx context.Context, sessionID string) (string, error) {
	e, ok := m.entry(sessionID)
	if !ok {
		return "", ErrSessionNotFound
	}

	e.session.mu.Lock()
	e.session.Active = false
	e.session.mu.Unlock()

	root, err := m.AnchorSession(ctx, sessionID, true)
	if err != nil {
		return "", err
	}

	logging.Session(sessionID).Info().Msg("closed session")
	event.Publish(event.Event{
		Type: event.SessionClosed,
		Data: event.SessionClosedData{SessionID: sessionID, MerkleRoot: root},
	})
	return root, nil
}

// RecoverSession replays a session's WAL into a new in-memory session and
// installs it as if created normally, without clearing the WAL.
// Recovered actions carry empty stdout/stderr digests since output
// content was never persisted. Returns nil if the WAL has no entries.
func (m *Manager) RecoverSession(sessionID string) (*Session, error) {
	w, err := wal.Open(m.walDir, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session: open wal for recovery: %w", err)
	}

	actions, err := w.Recover()
	if err != nil {
		return nil, fmt.Errorf("session: recover wal: %w", err)
	}
	if len(actions) == 0 {
		return nil, nil
	}

	sess := &Session{
		ID:          sessionID,
		CreatedAt:   actions[0].Timestamp,
		ProjectRoot: m.projectRoot,
		Active:      true,
		actions:     actions,
	}

	m.mu.Lock()
	m.sessions[sessionID] = &sessionEntry{session: sess, wal: w, lastAnchor: time.Now()}
	m.mu.Unlock()

	logging.Session(sessionID).Info().Int("action_count", len(actions)).Msg("recovered session")
	return sess, nil
}

// StartAnchorLoop launches the background activity that wakes every
// AnchorLoopTick and attempts to anchor each active session. A sink
// failure for one session is logged and does not stop the loop or affect
// other sessions.
func (m *Manager) StartAnchorLoop(ctx context.Context) {
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})

	go func() {
		defer close(m.doneCh)
		ticker := time.NewTicker(AnchorLoopTick)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.anchorAllActive(ctx)
			}
		}
	}()
}

func (m *Manager) anchorAllActive(ctx context.Context) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id, e := range m.sessions {
		if e.session.Active {
			ids = append(ids, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range ids {
		if _, err := m.AnchorSession(ctx, id, false); err != nil {
			logging.Session(id).Error().Err(err).Msg("anchor loop tick failed")
		}
	}
}

// StopAnchorLoop signals the anchor loop to stop and waits for it to
// finish its current iteration before returning.
func (m *Manager) StopAnchorLoop() {
	if m.stopCh == nil {
		return
	}
	close(m.stopCh)
	<-m.doneCh
}
