// Package wal implements the per-session write-ahead log: an append-only,
// crash-durable record of Action intent, written before an action becomes
// visible in a session's in-memory tree.
package wal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/talos-sh/terminal-adapter/internal/audit"
	"github.com/talos-sh/terminal-adapter/internal/classifier"
)

// Entry is one line of a WAL file: a canonical record of an action's
// intent, written before the action is added to the in-memory session.
type Entry struct {
	Sequence  int      `json:"sequence"`
	ActionID  string   `json:"action_id"`
	SessionID string   `json:"session_id"`
	Timestamp string   `json:"timestamp"`
	Command   string   `json:"command"`
	Args      []string `json:"args"`
	Cwd       string   `json:"cwd"`
	RiskLevel string   `json:"risk_level"`
}

// WAL is a single session's write-ahead log file, path
// <dir>/<session-id>.wal. Callers must serialize their own calls; WAL
// itself only guards its own file handle and sequence counter.
type WAL struct {
	sessionID string
	path      string

	mu       sync.Mutex
	sequence int
}

// Open prepares (but does not create) the WAL file for sessionID under
// dir, creating dir if necessary.
func Open(dir, sessionID string) (*WAL, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("wal: create dir %s: %w", dir, err)
	}
	return &WAL{
		sessionID: sessionID,
		path:      filepath.Join(dir, sessionID+".wal"),
	}, nil
}

// Path returns the WAL's backing file path.
func (w *WAL) Path() string {
	return w.path
}

// Append serializes the action as the next WALEntry and forces it to
// durable storage before returning: open-append, write, flush, fsync,
// flock held for the duration of the write. Only after this returns
// successfully may the caller add the action to its in-memory list.
func (w *WAL) Append(action audit.Action) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	entry := Entry{
		Sequence:  w.sequence,
		ActionID:  action.ActionID,
		SessionID: action.SessionID,
		Timestamp: action.Timestamp.UTC().Format(time.RFC3339Nano),
		Command:   action.Command,
		Args:      action.Args,
		Cwd:       action.Cwd,
		RiskLevel: string(action.Risk),
	}
	if entry.Args == nil {
		entry.Args = []string{}
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("wal: marshal entry: %w", err)
	}

	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("wal: open %s: %w", w.path, err)
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("wal: flock %s: %w", w.path, err)
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("wal: write entry: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("wal: fsync: %w", err)
	}

	w.sequence++
	return nil
}

// Recover replays the WAL file into an ordered Action list. Blank lines
// are skipped. A partial or corrupt trailing line terminates recovery at
// the last well-formed entry without returning an error — partial writes
// before a crash are expected, not exceptional.
func (w *WAL) Recover() ([]audit.Action, error) {
	f, err := os.Open(w.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("wal: open %s: %w", w.path, err)
	}
	defer f.Close()

	var actions []audit.Action
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if len(line) == 0 {
			continue
		}

		var entry Entry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			break
		}

		ts, err := time.Parse(time.RFC3339Nano, entry.Timestamp)
		if err != nil {
			break
		}

		actions = append(actions, audit.Action{
			ActionID:  entry.ActionID,
			SessionID: entry.SessionID,
			Timestamp: ts,
			Command:   entry.Command,
			Args:      entry.Args,
			Cwd:       entry.Cwd,
			Risk:      classifier.RiskLevel(entry.RiskLevel),
		})
	}

	return actions, nil
}

// Truncate resets the WAL file to zero length and resets the sequence
// counter to zero. Callers must only invoke this after an anchor callback
// has returned success.
func (w *WAL) Truncate() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.Truncate(w.path, 0); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("wal: truncate %s: %w", w.path, err)
	}
	w.sequence = 0
	return nil
}

// Size returns the current WAL file size in bytes, or 0 if the file does
// not exist. Used by tests asserting truncation discipline (P7).
func (w *WAL) Size() (int64, error) {
	info, err := os.Stat(w.path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
