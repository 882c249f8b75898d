package transport

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/motor-control/mcn/internal/config"
)

const ackWriteTimeout = time.Second

// TCPServer accepts line-based command streams. Only one client is served at
// a time: accepting a new connection closes the previous one.
type TCPServer struct {
	cfg     config.TCPConfig
	maxLine int
	inbox   *Inbox
	allow   *AllowList
	hooks   Hooks
	log     *slog.Logger

	listener net.Listener
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu      sync.Mutex
	current net.Conn
}

// NewTCPServer creates a server that offers received lines to inbox.
func NewTCPServer(cfg config.TCPConfig, maxLine int, inbox *Inbox, log *slog.Logger, hooks Hooks) (*TCPServer, error) {
	allow, err := NewAllowList(cfg.AllowedCIDRs)
	if err != nil {
		return nil, err
	}
	return &TCPServer{
		cfg:      cfg,
		maxLine:  maxLine,
		inbox:    inbox,
		allow:    allow,
		hooks:    hooks,
		log:      log,
		stopChan: make(chan struct{}),
	}, nil
}

// Listen binds the configured address.
func (s *TCPServer) Listen() error {
	l, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *TCPServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ListenAndServe binds and serves until Close.
func (s *TCPServer) ListenAndServe() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Serve runs the accept loop on the bound listener until Close.
func (s *TCPServer) Serve() error {
	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()
	if l == nil {
		return errors.New("tcp server: not listening")
	}

	s.log.Info("TCP command server listening", "addr", l.Addr().String())

	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-s.stopChan:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Warn("Failed to accept connection", "error", err)
			continue
		}

		if !s.allow.Allows(conn.RemoteAddr()) {
			s.log.Warn("Rejected connection (not in allowed CIDRs)", "remote", conn.RemoteAddr().String())
			s.hooks.reject(NameTCP, conn.RemoteAddr().String(), ReasonNotAllowed)
			conn.Close()
			continue
		}

		s.adopt(conn)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(conn)
		}()
	}
}

// adopt makes conn the active client, closing any previous one.
func (s *TCPServer) adopt(conn net.Conn) {
	s.mu.Lock()
	prev := s.current
	s.current = conn
	s.mu.Unlock()

	if prev != nil {
		s.log.Info("Client superseded", "previous", prev.RemoteAddr().String(), "remote", conn.RemoteAddr().String())
		s.hooks.supersede(NameTCP, prev.RemoteAddr().String())
		prev.Close()
	}
	s.log.Info("Client connected", "remote", conn.RemoteAddr().String())
}

func (s *TCPServer) release(conn net.Conn) {
	s.mu.Lock()
	if s.current == conn {
		s.current = nil
	}
	s.mu.Unlock()
}

// handleConnection reads lines until the client disconnects or is superseded.
func (s *TCPServer) handleConnection(conn net.Conn) {
	defer func() {
		s.release(conn)
		conn.Close()
		s.log.Info("Client disconnected", "remote", conn.RemoteAddr().String())
	}()

	source := conn.RemoteAddr().String()
	var reply func(string) error
	if s.cfg.Ack {
		var wmu sync.Mutex
		reply = func(msg string) error {
			wmu.Lock()
			defer wmu.Unlock()
			_ = conn.SetWriteDeadline(time.Now().Add(ackWriteTimeout))
			_, err := io.WriteString(conn, msg+"\n")
			return err
		}
	}

	r := NewLineReader(conn, s.maxLine)
	for {
		if s.cfg.IdleTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		}

		text, err := r.ReadLine()
		switch {
		case errors.Is(err, ErrLineTooLong):
			s.log.Warn("Discarded over-length line", "remote", source, "max", s.maxLine)
			s.hooks.reject(NameTCP, source, ReasonOverLength)
			continue
		case err != nil:
			return
		}

		s.hooks.line(NameTCP)
		s.inbox.Offer(Line{
			Text:      text,
			Source:    source,
			Transport: NameTCP,
			Reply:     reply,
		})
	}
}

// Close stops accepting, disconnects the active client and waits for the
// connection goroutine to exit.
func (s *TCPServer) Close() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.stopChan)

		s.mu.Lock()
		if s.listener != nil {
			err = s.listener.Close()
		}
		if s.current != nil {
			s.current.Close()
		}
		s.mu.Unlock()

		s.wg.Wait()
	})
	return err
}

// ErrLineTooLong reports a line that exceeded the maximum length. The reader
// has already skipped the rest of it.
var ErrLineTooLong = errors.New("line too long")

// LineReader reads newline-terminated lines of bounded length.
type LineReader struct {
	r   *bufio.Reader
	max int
}

// NewLineReader wraps r. Lines longer than max bytes, excluding the line
// terminator, are rejected.
func NewLineReader(r io.Reader, max int) *LineReader {
	// Room for max bytes plus "\r\n".
	return &LineReader{r: bufio.NewReaderSize(r, max+2), max: max}
}

// ReadLine returns the next line without its terminator. An over-length line
// is consumed through its newline and reported as ErrLineTooLong. A final
// unterminated line is returned before io.EOF.
func (lr *LineReader) ReadLine() (string, error) {
	b, err := lr.r.ReadSlice('\n')
	switch {
	case errors.Is(err, bufio.ErrBufferFull):
		// A read error while skipping surfaces on the next call.
		_ = lr.discardLine()
		return "", ErrLineTooLong
	case err != nil && len(b) == 0:
		return "", err
	case err != nil:
		// Unterminated tail at EOF or on error.
		if len(b) > lr.max {
			return "", ErrLineTooLong
		}
		return string(b), nil
	}

	b = bytes.TrimSuffix(b, []byte("\n"))
	b = bytes.TrimSuffix(b, []byte("\r"))
	if len(b) > lr.max {
		return "", ErrLineTooLong
	}
	return string(b), nil
}

func (lr *LineReader) discardLine() error {
	for {
		_, err := lr.r.ReadSlice('\n')
		if err == nil {
			return nil
		}
		if !errors.Is(err, bufio.ErrBufferFull) {
			return err
		}
	}
}
