package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/motor-control/mcn/internal/config"
)

// UDPServer treats every datagram as one command line.
type UDPServer struct {
	cfg     config.UDPConfig
	maxLine int
	inbox   *Inbox
	allow   *AllowList
	hooks   Hooks
	log     *slog.Logger

	mu       sync.Mutex
	conn     net.PacketConn
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewUDPServer creates a datagram listener that offers lines to inbox.
func NewUDPServer(cfg config.UDPConfig, maxLine int, inbox *Inbox, log *slog.Logger, hooks Hooks) (*UDPServer, error) {
	allow, err := NewAllowList(cfg.AllowedCIDRs)
	if err != nil {
		return nil, err
	}
	return &UDPServer{
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
func (s *UDPServer) Listen() error {
	conn, err := net.ListenPacket("udp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *UDPServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// ListenAndServe binds and serves until Close.
func (s *UDPServer) ListenAndServe() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Serve reads datagrams until Close.
func (s *UDPServer) Serve() error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return errors.New("udp server: not listening")
	}

	s.log.Info("UDP command server listening", "addr", conn.LocalAddr().String())

	// One spare byte detects datagrams longer than maxLine.
	buf := make([]byte, s.maxLine+1)
	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-s.stopChan:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Warn("Failed to read datagram", "error", err)
			continue
		}

		source := addr.String()
		if !s.allow.Allows(addr) {
			s.hooks.reject(NameUDP, source, ReasonNotAllowed)
			continue
		}
		if n > s.maxLine {
			s.log.Warn("Discarded over-length datagram", "remote", source, "max", s.maxLine)
			s.hooks.reject(NameUDP, source, ReasonOverLength)
			continue
		}

		var reply func(string) error
		if s.cfg.Ack {
			reply = func(msg string) error {
				_, err := conn.WriteTo([]byte(msg+"\n"), addr)
				return err
			}
		}

		s.hooks.line(NameUDP)
		s.inbox.Offer(Line{
			Text:      string(buf[:n]),
			Source:    source,
			Transport: NameUDP,
			Reply:     reply,
		})
	}
}

// Close stops the listener.
func (s *UDPServer) Close() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.stopChan)
		s.mu.Lock()
		if s.conn != nil {
			err = s.conn.Close()
		}
		s.mu.Unlock()
	})
	return err
}
