package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrNoAck is returned by Client.Ack when no acknowledgment arrives in time.
var ErrNoAck = errors.New("no acknowledgment")

// DefaultWSPath is where the API server mounts the WebSocket endpoint.
const DefaultWSPath = "/api/v1/drive/ws"

const clientAckBuffer = 16

// Client sends command lines to a node over one of its transports and
// collects acknowledgments in the background.
type Client struct {
	kind    string
	mu      sync.Mutex
	write   func(string) error
	closeFn func() error
	acks    chan string
	once    sync.Once
}

// Dial connects to addr over kind (tcp, udp or ws). For ws, addr may be a
// full ws:// URL or host:port, in which case DefaultWSPath is used.
func Dial(ctx context.Context, kind, addr string) (*Client, error) {
	c := &Client{kind: kind, acks: make(chan string, clientAckBuffer)}

	switch kind {
	case NameTCP:
		conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("dial tcp %s: %w", addr, err)
		}
		c.write = func(line string) error {
			_ = conn.SetWriteDeadline(time.Now().Add(ackWriteTimeout))
			_, err := conn.Write([]byte(line + "\n"))
			return err
		}
		c.closeFn = conn.Close
		go c.readLines(conn)

	case NameUDP:
		conn, err := (&net.Dialer{}).DialContext(ctx, "udp", addr)
		if err != nil {
			return nil, fmt.Errorf("dial udp %s: %w", addr, err)
		}
		c.write = func(line string) error {
			_, err := conn.Write([]byte(line))
			return err
		}
		c.closeFn = conn.Close
		go c.readDatagrams(conn)

	case NameWS:
		url := WSURL(addr)
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", url, err)
		}
		c.write = func(line string) error {
			_ = conn.SetWriteDeadline(time.Now().Add(ackWriteTimeout))
			return conn.WriteMessage(websocket.TextMessage, []byte(line))
		}
		c.closeFn = conn.Close
		go c.readMessages(conn)

	default:
		return nil, fmt.Errorf("unknown transport %q", kind)
	}
	return c, nil
}

// WSURL expands host:port into a WebSocket URL for the drive endpoint.
func WSURL(addr string) string {
	if strings.HasPrefix(addr, "ws://") || strings.HasPrefix(addr, "wss://") {
		return addr
	}
	return "ws://" + addr + DefaultWSPath
}

// Transport returns the transport name the client was dialed with.
func (c *Client) Transport() string {
	return c.kind
}

// Send writes one command line.
func (c *Client) Send(line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.write(line)
}

// Ack waits up to timeout for the next acknowledgment.
func (c *Client) Ack(timeout time.Duration) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg, ok := <-c.acks:
		if !ok {
			return "", net.ErrClosed
		}
		return msg, nil
	case <-timer.C:
		return "", ErrNoAck
	}
}

// DrainAcks discards acknowledgments received so far.
func (c *Client) DrainAcks() {
	for {
		select {
		case _, ok := <-c.acks:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

// Close closes the connection.
func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		err = c.closeFn()
	})
	return err
}

// push keeps the newest acknowledgments when the buffer is full.
func (c *Client) push(msg string) {
	for {
		select {
		case c.acks <- msg:
			return
		default:
		}
		select {
		case <-c.acks:
		default:
		}
	}
}

func (c *Client) readLines(conn net.Conn) {
	defer close(c.acks)
	sc := bufio.NewScanner(conn)
	for sc.Scan() {
		c.push(strings.TrimRight(sc.Text(), "\r"))
	}
}

func (c *Client) readDatagrams(conn net.Conn) {
	defer close(c.acks)
	buf := make([]byte, 512)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			// ICMP port unreachable surfaces here; keep listening.
			continue
		}
		c.push(strings.TrimRight(string(buf[:n]), "\r\n"))
	}
}

func (c *Client) readMessages(conn *websocket.Conn) {
	defer close(c.acks)
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		c.push(string(msg))
	}
}
