package ssh

import (
	"bufio"
	"bytes"
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	xssh "golang.org/x/crypto/ssh"

	"github.com/3cpo-dev/kapnode/pkg/api"
)

const (
	StderrPrefix = api.StderrLinePrefix
	ErrorPrefix  = api.ErrorLinePrefix

	maxLineBytes = 1 << 20
)

type lineStream struct {
	ctx     context.Context
	remote  *Remote
	target  api.ConnectionTarget
	command string

	started bool
	closed  bool
	client  *xssh.Client
	session *xssh.Session
	scanner *bufio.Scanner
	stderr  bytes.Buffer
	stopCtx func() bool

	closeOnce sync.Once
	closeErr  error

	pending []string
	line    string
	err     error
	exit    int
}

func (s *lineStream) Next() bool {
	if s.closed {
		return false
	}
	if !s.started {
		s.started = true
		s.start()
	}
	for {
		if len(s.pending) > 0 {
			s.line, s.pending = s.pending[0], s.pending[1:]
			return true
		}
		if s.scanner == nil {
			_ = s.Close()
			return false
		}
		if s.scanner.Scan() {
			s.line = s.scanner.Text()
			return true
		}
		s.finish()
	}
}

func (s *lineStream) Text() string { return s.line }

func (s *lineStream) Err() error { return s.err }

func (s *lineStream) ExitCode() int { return s.exit }

func (s *lineStream) Close() error {
	if s.closed {
		return s.closeErr
	}
	s.closed = true
	s.scanner = nil
	s.pending = nil
	if s.stopCtx != nil {
		s.stopCtx()
	}
	if s.session != nil {
		_ = s.session.Close()
	}
	return s.closeClient()
}

func (s *lineStream) closeClient() error {
	s.closeOnce.Do(func() {
		if s.client != nil {
			s.closeErr = s.client.Close()
			log.Debug().Str("host", s.target.Addr()).Msg("Stream connection closed")
		}
	})
	return s.closeErr
}

func (s *lineStream) start() {
	cli, err := s.remote.connect(s.ctx, s.target)
	if err != nil {
		s.fail("connect", err)
		return
	}
	s.client = cli
	s.stopCtx = context.AfterFunc(s.ctx, func() { _ = s.closeClient() })

	session, err := cli.NewSession()
	if err != nil {
		s.fail("new session", err)
		return
	}
	s.session = session
	modes := xssh.TerminalModes{
		xssh.ECHO:          0,
		xssh.TTY_OP_ISPEED: 14400,
		xssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty("xterm", 40, 200, modes); err != nil {
		s.fail("request pty", err)
		return
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		s.fail("stdout pipe", err)
		return
	}
	session.Stderr = &s.stderr
	if err := session.Start(s.command); err != nil {
		s.fail("start command", err)
		return
	}
	s.scanner = bufio.NewScanner(stdout)
	s.scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	s.scanner.Split(scanTerminalLines)
}

// finish runs once stdout is exhausted: it collects the exit status and
// queues any buffered stderr as prefixed lines.
func (s *lineStream) finish() {
	scanErr := s.scanner.Err()
	s.scanner = nil
	if err := s.ctx.Err(); err != nil {
		s.fail("stream interrupted", err)
		return
	}
	if scanErr != nil {
		s.fail("read output", scanErr)
		return
	}
	code, err := exitStatus(s.session.Wait())
	if err != nil {
		if ctxErr := s.ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		s.fail("wait", err)
		return
	}
	s.exit = code
	s.pending = append(s.pending, stderrLines(s.stderr.String())...)
}

// fail replaces whatever is left of the stream with one synthetic error line.
func (s *lineStream) fail(op string, err error) {
	s.err = &api.TransportError{Op: op, Err: err}
	s.pending = []string{ErrorPrefix + s.err.Error()}
	s.scanner = nil
	_ = s.closeClient()
}

func stderrLines(buf string) []string {
	var out []string
	for _, line := range strings.Split(buf, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, StderrPrefix+line)
	}
	return out
}

// scanTerminalLines splits on LF, CRLF or a lone CR, so progress bars that
// redraw with a carriage return yield one line per update.
func scanTerminalLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		if data[i] == '\n' {
			return i + 1, data[:i], nil
		}
		if i+1 < len(data) {
			if data[i+1] == '\n' {
				return i + 2, data[:i], nil
			}
			return i + 1, data[:i], nil
		}
		if atEOF {
			return i + 1, data[:i], nil
		}
		return 0, nil, nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
