package scpi

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"
)

// Client is a control-plane connection to a bridge.
type Client struct {
	mu      sync.Mutex
	conn    net.Conn
	reader  *bufio.Reader
	timeout time.Duration
}

// Dial connects to a bridge's control port. timeout also bounds each
// subsequent write and query.
func Dial(addr string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return &Client{
		conn:    conn,
		reader:  bufio.NewReader(conn),
		timeout: timeout,
	}, nil
}

// Write sends a command that has no reply.
func (c *Client) Write(cmd string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeLocked(cmd)
}

// Query sends cmd and reads one reply line.
func (c *Client) Query(cmd string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.writeLocked(cmd); err != nil {
		return "", err
	}
	if c.timeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(c.timeout))
	}
	response, err := c.reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("query %q: %w", cmd, err)
	}
	return strings.TrimSpace(response), nil
}

// writeLocked sends one line (caller must hold c.mu)
func (c *Client) writeLocked(cmd string) error {
	if c.timeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	}
	if _, err := c.conn.Write([]byte(cmd + "\n")); err != nil {
		return fmt.Errorf("write %q: %w", cmd, err)
	}
	return nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}
