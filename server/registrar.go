package server

import (
	"context"
	"strings"

	"github.com/semihalev/zlog/v2"
)

// Registrar takes over a client once its hostname is settled. Register
// returns when the session is over; the connection is closed afterwards.
type Registrar interface {
	Register(ctx context.Context, c *Client)
}

// RegistrarFunc adapts a function to the Registrar interface.
type RegistrarFunc func(ctx context.Context, c *Client)

// Register calls f(ctx, c).
func (f RegistrarFunc) Register(ctx context.Context, c *Client) { f(ctx, c) }

// pinger keeps sessions alive until the client quits.
type pinger struct {
	server string
}

func (p *pinger) Register(ctx context.Context, c *Client) {
	for {
		line, err := c.ReadLine(ctx)
		if err != nil {
			return
		}

		cmd, arg, _ := strings.Cut(line, " ")
		arg = strings.TrimPrefix(arg, ":")

		switch strings.ToUpper(cmd) {
		case "PING":
			if err := c.Send(":%s PONG %s :%s", p.server, p.server, arg); err != nil {
				return
			}
		case "QUIT":
			zlog.Debug("Client quit", "host", c.Hostname, "reason", arg)
			_ = c.Close("Quit")
			return
		}
	}
}
