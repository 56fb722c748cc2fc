package server

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/netip"
	"strings"
	"sync"
	"time"
)

const (
	maxLineSize  = 512
	lineBacklog  = 16
	writeTimeout = 10 * time.Second
)

// Client is a connected session.
type Client struct {
	// Addr is the remote address, Hostname its verified name or the literal
	// address when the lookup failed.
	Addr     netip.Addr
	Hostname string

	conn   net.Conn
	server string

	lines chan string
	gone  chan struct{}
	quit  chan struct{}

	wmu       sync.Mutex
	closeOnce sync.Once
}

func newClient(conn net.Conn, addr netip.Addr, server string) *Client {
	c := &Client{
		Addr:   addr,
		conn:   conn,
		server: server,
		lines:  make(chan string, lineBacklog),
		gone:   make(chan struct{}),
		quit:   make(chan struct{}),
	}

	go c.readLoop()

	return c
}

func (c *Client) readLoop() {
	defer close(c.gone)

	sc := bufio.NewScanner(c.conn)
	sc.Buffer(make([]byte, maxLineSize), 8*maxLineSize)

	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" {
			continue
		}

		select {
		case c.lines <- line:
		case <-c.quit:
			return
		}
	}
}

// ReadLine returns the next line sent by the client, io.EOF once it is gone.
func (c *Client) ReadLine(ctx context.Context) (string, error) {
	select {
	case line := <-c.lines:
		return line, nil
	default:
	}

	select {
	case line := <-c.lines:
		return line, nil
	case <-c.gone:
		return "", io.EOF
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Send writes one protocol line.
func (c *Client) Send(format string, args ...any) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}

	_, err := fmt.Fprintf(c.conn, format+"\r\n", args...)
	return err
}

// Notice sends a server notice to a client that is not registered yet.
func (c *Client) Notice(text string) error {
	return c.Send(":%s NOTICE AUTH :%s", c.server, text)
}

// Close sends a closing error line and closes the connection.
func (c *Client) Close(reason string) error {
	_ = c.Send("ERROR :Closing link: %s (%s)", c.name(), reason)
	return c.close()
}

func (c *Client) close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.quit)
		err = c.conn.Close()
	})
	return err
}

func (c *Client) name() string {
	if c.Hostname != "" {
		return c.Hostname
	}
	return c.Addr.String()
}
