// Package ptyexec implements the Interactive Session Executor: commands
// run behind a pseudo-terminal, with a cooperative reader task streaming
// output, polled reads, raw stdin writes, and forceful abort.
package ptyexec

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"

	"github.com/talos-sh/terminal-adapter/internal/logging"
)

// State is a point in an InteractiveSession's lifecycle.
type State string

const (
	StateStarting     State = "STARTING"
	StateRunning      State = "RUNNING"
	StateWaitingInput State = "WAITING_INPUT"
	StateCompleted    State = "COMPLETED"
	StateAborted      State = "ABORTED"
	StateFailed       State = "FAILED"
)

func (s State) terminal() bool {
	return s == StateCompleted || s == StateAborted || s == StateFailed
}

// readChunkSize bounds a single PTY read.
const readChunkSize = 4096

// pollInterval bounds how long the reader task waits for readability
// before checking for cancellation or child death again.
const pollInterval = 100 * time.Millisecond

// idleThreshold is how long output must be quiet before the session is
// advisorily marked WAITING_INPUT.
const idleThreshold = 2 * time.Second

// deniedEnvKeys mirrors the One-shot Executor's environment denylist.
var deniedEnvKeys = map[string]bool{
	"LD_PRELOAD":            true,
	"LD_LIBRARY_PATH":       true,
	"DYLD_INSERT_LIBRARIES": true,
}

// OutputFunc is invoked with each decoded output chunk as it arrives.
// Implementations must not block for long; the reader task waits for it
// to return before reading again.
type OutputFunc func(sessionID string, chunk string)

// StartOptions configures a new interactive session.
type StartOptions struct {
	SessionID string
	Command   string
	Args      []string
	Cwd       string
	Env       map[string]string
	OnOutput  OutputFunc
}

// InteractiveSession is a single PTY-backed child process and its
// cooperative reader task.
type InteractiveSession struct {
	ID        string
	CreatedAt time.Time
	Command   string
	Args      []string
	Cwd       string

	mu         sync.Mutex
	state      State
	cmd        *exec.Cmd
	master     *os.File
	exitCode   *int
	outputBuf  bytes.Buffer
	lastOutput time.Time
	doneCh     chan struct{}
}

// State returns the session's current lifecycle state.
func (s *InteractiveSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ExitCode returns the child's exit code, if the session has reached a
// terminal state.
func (s *InteractiveSession) ExitCode() *int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitCode
}

func (s *InteractiveSession) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *InteractiveSession) alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.state.terminal()
}

// Executor tracks live interactive sessions.
type Executor struct {
	mu       sync.RWMutex
	sessions map[string]*InteractiveSession
}

// NewExecutor constructs an empty Executor.
func NewExecutor() *Executor {
	return &Executor{sessions: make(map[string]*InteractiveSession)}
}

// scrubEnv builds the child's environment the same way the One-shot
// Executor does: fixed baseline plus a denylist-filtered overlay.
func scrubEnv(overlay map[string]string, sessionID string) []string {
	path := os.Getenv("PATH")
	if path == "" {
		path = "/usr/bin:/bin"
	}
	home := os.Getenv("HOME")
	if home == "" {
		home = "/tmp"
	}

	safe := map[string]string{
		"PATH":             path,
		"HOME":             home,
		"LANG":             "en_US.UTF-8",
		"TERM":             "xterm-256color",
		"TALOS_SESSION_ID": sessionID,
	}
	for k, v := range overlay {
		if deniedEnvKeys[k] {
			continue
		}
		safe[k] = v
	}

	env := make([]string, 0, len(safe))
	for k, v := range safe {
		env = append(env, k+"="+v)
	}
	return env
}

// Start allocates a pseudo-terminal, forks the command attached to it,
// and — if opts.OnOutput is set — spawns the reader task. Returns the
// new session, already transitioned to RUNNING.
func (e *Executor) Start(ctx context.Context, opts StartOptions) (*InteractiveSession, error) {
	cmd := exec.Command(opts.Command, opts.Args...)
	cmd.Dir = opts.Cwd
	cmd.Env = scrubEnv(opts.Env, opts.SessionID)
	if runtime.GOOS != "windows" {
		// Setsid makes the child its own process-group leader, which Abort's
		// group kill relies on. Setpgid cannot be combined with it: the
		// kernel rejects setpgid for a session leader.
		cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	}

	master, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: 80, Rows: 24})
	if err != nil {
		return nil, fmt.Errorf("ptyexec: start %s: %w", opts.Command, err)
	}

	sess := &InteractiveSession{
		ID:        opts.SessionID,
		CreatedAt: time.Now().UTC(),
		Command:   opts.Command,
		Args:      opts.Args,
		Cwd:       opts.Cwd,
		state:     StateRunning,
		cmd:       cmd,
		master:    master,
		lastOutput: time.Now(),
		doneCh:    make(chan struct{}),
	}

	e.mu.Lock()
	e.sessions[opts.SessionID] = sess
	e.mu.Unlock()

	if opts.OnOutput != nil {
		go e.readLoop(sess, opts.OnOutput)
	} else {
		go e.waitOnly(sess)
	}

	logging.Session(opts.SessionID).Info().
		Str("command", opts.Command).
		Int("pid", cmd.Process.Pid).
		Msg("started interactive session")

	return sess, nil
}

// Get returns a tracked session by id, or nil if unknown.
func (e *Executor) Get(sessionID string) *InteractiveSession {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sessions[sessionID]
}

// readLoop cooperatively polls the master fd, decodes output, and feeds
// it to the caller's callback until the child dies or the fd errors.
func (e *Executor) readLoop(sess *InteractiveSession, onOutput OutputFunc) {
	fd := int(sess.master.Fd())
	buf := make([]byte, readChunkSize)
	var pending []byte

	for {
		if !sess.alive() {
			break
		}

		ready, err := pollReadable(fd, pollInterval)
		if err != nil {
			break
		}
		if !ready {
			sess.markIdleIfQuiet()
			continue
		}

		n, err := sess.master.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			chunk, remainder := decodeValidPrefix(pending)
			pending = remainder
			if chunk != "" {
				sess.appendOutput(chunk)
				onOutput(sess.ID, chunk)
			}
		}
		if err != nil {
			break
		}
	}

	e.cleanup(sess)
}

// waitOnly is used when no output callback is supplied: it still must
// reap the child when it exits.
func (e *Executor) waitOnly(sess *InteractiveSession) {
	buf := make([]byte, readChunkSize)
	for sess.alive() {
		fd := int(sess.master.Fd())
		ready, err := pollReadable(fd, pollInterval)
		if err != nil {
			break
		}
		if !ready {
			continue
		}
		if _, err := sess.master.Read(buf); err != nil {
			break
		}
	}
	e.cleanup(sess)
}

func pollReadable(fd int, timeout time.Duration) (bool, error) {
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, int(timeout.Milliseconds()))
	if err != nil {
		if err == unix.EINTR {
			return false, nil
		}
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	return fds[0].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0, nil
}

// decodeValidPrefix decodes as much of data as forms complete UTF-8
// runes, replacing genuinely invalid sequences with the replacement
// character, and returns any trailing incomplete multi-byte sequence
// unconsumed so it can be completed by a later read.
func decodeValidPrefix(data []byte) (string, []byte) {
	if len(data) == 0 {
		return "", nil
	}

	cut := len(data)
	for back := 1; back <= 4 && back <= len(data); back++ {
		start := len(data) - back
		b := data[start]
		if b < 0x80 {
			break
		}
		if utf8.RuneStart(b) {
			if !utf8.FullRune(data[start:]) {
				cut = start
			}
			break
		}
	}

	head := data[:cut]
	rest := append([]byte(nil), data[cut:]...)

	var out bytes.Buffer
	for len(head) > 0 {
		r, size := utf8.DecodeRune(head)
		if r == utf8.RuneError && size == 1 {
			out.WriteRune(utf8.RuneError)
		} else {
			out.Write(head[:size])
		}
		head = head[size:]
	}
	return out.String(), rest
}

func (s *InteractiveSession) appendOutput(chunk string) {
	s.mu.Lock()
	s.outputBuf.WriteString(chunk)
	s.lastOutput = time.Now()
	if s.state == StateWaitingInput {
		s.state = StateRunning
	}
	s.mu.Unlock()
}

func (s *InteractiveSession) markIdleIfQuiet() {
	s.mu.Lock()
	if s.state == StateRunning && time.Since(s.lastOutput) > idleThreshold {
		s.state = StateWaitingInput
	}
	s.mu.Unlock()
}

// WriteInput writes data to the session's master fd verbatim. Returns
// false, not an error, if the session is not alive.
func (s *InteractiveSession) WriteInput(data string) bool {
	if !s.alive() {
		return false
	}
	if _, err := s.master.WriteString(data); err != nil {
		return false
	}
	return true
}

// ReadOutput waits up to timeout for new output or child death, then
// atomically drains and returns the buffered text plus whether the
// child has exited.
func (s *InteractiveSession) ReadOutput(timeout time.Duration) (string, bool) {
	deadline := time.Now().Add(timeout)
	for {
		s.mu.Lock()
		if s.outputBuf.Len() > 0 || s.state.terminal() {
			text := s.outputBuf.String()
			s.outputBuf.Reset()
			complete := s.state.terminal()
			s.mu.Unlock()
			return text, complete
		}
		s.mu.Unlock()

		if time.Now().After(deadline) {
			return "", false
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// Abort terminates the session's child: SIGTERM normally, or SIGKILL
// when force is set. Returns false for an already-dead session.
func (e *Executor) Abort(sessionID string, force bool) bool {
	sess := e.Get(sessionID)
	if sess == nil || !sess.alive() {
		return false
	}

	sess.setState(StateAborted)
	sig := syscall.SIGTERM
	if force {
		sig = syscall.SIGKILL
	}
	if sess.cmd.Process != nil {
		syscall.Kill(-sess.cmd.Process.Pid, sig)
	}
	return true
}

// cleanup reaps the child, derives its exit code, closes the master fd
// exactly once, and settles a terminal state if one was not already set
// by Abort.
func (e *Executor) cleanup(sess *InteractiveSession) {
	err := sess.cmd.Wait()

	code := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
				code = -int(status.Signal())
			} else {
				code = exitErr.ExitCode()
			}
		} else {
			code = -1
		}
	}

	sess.mu.Lock()
	sess.exitCode = &code
	if !sess.state.terminal() {
		if err != nil && sess.cmd.ProcessState == nil {
			sess.state = StateFailed
		} else {
			sess.state = StateCompleted
		}
	}
	sess.mu.Unlock()

	sess.master.Close()
	close(sess.doneCh)

	logging.Session(sess.ID).Info().
		Int("exit_code", code).
		Str("state", string(sess.State())).
		Msg("interactive session finished")
}
