// Package shell runs an interactive shell behind a pseudo-terminal.
package shell

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/creack/pty"
)

const (
	DefaultCols = 80
	DefaultRows = 30
	DefaultTerm = "xterm-color"

	readBufferSize = 4096
	hangupGrace    = 250 * time.Millisecond
	reapTimeout    = 3 * time.Second
)

var ErrClosed = errors.New("shell session closed")

// Options control how the shell is spawned. They are fixed for the life of
// the session except for the window size.
type Options struct {
	Shell string
	Args  []string
	Dir   string
	Env   []string
	Cols  uint16
	Rows  uint16
	Term  string
}

// DefaultOptions returns the host's interactive shell in the user's home
// directory with the server's environment.
func DefaultOptions() Options {
	dir, err := os.UserHomeDir()
	if err != nil {
		dir = "/"
	}
	return Options{
		Shell: DefaultShell(),
		Dir:   dir,
		Env:   os.Environ(),
		Cols:  DefaultCols,
		Rows:  DefaultRows,
		Term:  DefaultTerm,
	}
}

// DefaultShell picks $SHELL, then bash, then /bin/sh.
func DefaultShell() string {
	if runtime.GOOS == "windows" {
		return "powershell.exe"
	}
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	if sh, err := exec.LookPath("bash"); err == nil {
		return sh
	}
	return "/bin/sh"
}

// Session is one running shell.
type Session struct {
	cmd  *exec.Cmd
	ptmx *os.File

	writeMu   sync.Mutex
	closeOnce sync.Once
	exited    chan struct{}
	waitErr   error
}

// Start spawns the shell described by opts.
func Start(opts Options) (*Session, error) {
	if opts.Shell == "" {
		opts.Shell = DefaultShell()
	}
	if opts.Cols == 0 {
		opts.Cols = DefaultCols
	}
	if opts.Rows == 0 {
		opts.Rows = DefaultRows
	}
	if opts.Term == "" {
		opts.Term = DefaultTerm
	}

	cmd := exec.Command(opts.Shell, opts.Args...)
	cmd.Dir = opts.Dir
	cmd.Env = append(append([]string{}, opts.Env...), "TERM="+opts.Term)

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: opts.Cols, Rows: opts.Rows})
	if err != nil {
		return nil, fmt.Errorf("start %s: %w", opts.Shell, err)
	}

	s := &Session{
		cmd:    cmd,
		ptmx:   ptmx,
		exited: make(chan struct{}),
	}
	go func() {
		s.waitErr = cmd.Wait()
		close(s.exited)
	}()
	return s, nil
}

// PID returns the shell's process id.
func (s *Session) PID() int {
	return s.cmd.Process.Pid
}

// Exited is closed once the shell process has been reaped.
func (s *Session) Exited() <-chan struct{} {
	return s.exited
}

// Wait blocks until the shell exits and returns its exit error.
func (s *Session) Wait() error {
	<-s.exited
	return s.waitErr
}

// Stream calls emit with every chunk of output as it arrives. Chunks never
// end inside a UTF-8 sequence; an incomplete tail is held until the next
// read. It returns when the terminal is closed or the shell exits.
func (s *Session) Stream(emit func([]byte)) error {
	buf := make([]byte, readBufferSize)
	var pending []byte
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			data := make([]byte, 0, len(pending)+n)
			data = append(append(data, pending...), buf[:n]...)
			cut := completePrefix(data)
			if cut > 0 {
				emit(data[:cut])
			}
			pending = append([]byte(nil), data[cut:]...)
		}
		if err != nil {
			if len(pending) > 0 {
				emit(pending)
			}
			return err
		}
	}
}

// completePrefix returns the length of p without a trailing partial rune.
func completePrefix(p []byte) int {
	for i := len(p) - 1; i >= 0 && i >= len(p)-utf8.UTFMax; i-- {
		if utf8.RuneStart(p[i]) {
			if utf8.FullRune(p[i:]) {
				return len(p)
			}
			return i
		}
	}
	return len(p)
}

// Write sends input to the shell verbatim.
func (s *Session) Write(p []byte) (int, error) {
	select {
	case <-s.exited:
		return 0, ErrClosed
	default:
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.ptmx.Write(p)
}

// Resize changes the terminal window size.
func (s *Session) Resize(cols, rows uint16) error {
	return pty.Setsize(s.ptmx, &pty.Winsize{Cols: cols, Rows: rows})
}

// Close hangs up the shell, kills whatever is left of its process group and
// releases the terminal. It is safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		hangup(s.cmd.Process)
		err = s.ptmx.Close()

		select {
		case <-s.exited:
		case <-time.After(hangupGrace):
		}
		killGroup(s.cmd.Process)

		select {
		case <-s.exited:
		case <-time.After(reapTimeout):
			err = fmt.Errorf("shell %d not reaped after %s", s.cmd.Process.Pid, reapTimeout)
		}
	})
	return err
}
