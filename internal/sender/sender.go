// Package sender is a line-oriented TCP client for the ingress server. It
// keeps one connection open and re-dials on failure, like the field devices
// that feed the server.
package sender

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/andy6609/wifi-ingress/internal/ingress"
)

const (
	DefaultDialTimeout   = 5 * time.Second
	DefaultRetryInterval = 3 * time.Second
)

type Options struct {
	DialTimeout   time.Duration
	RetryInterval time.Duration
}

type Client struct {
	addr   string
	opts   Options
	logger *slog.Logger
	conn   net.Conn
}

func New(host string, port int, opts Options, logger *slog.Logger) (*Client, error) {
	if port < 1 || port > 65535 {
		return nil, &ingress.InvalidPortError{Port: port}
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return nil, fmt.Errorf("sender: empty host")
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = DefaultRetryInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		addr:   net.JoinHostPort(host, strconv.Itoa(port)),
		opts:   opts,
		logger: logger,
	}, nil
}

func (c *Client) Addr() string { return c.addr }

// Send writes line followed by a newline. It dials, and re-dials after a
// failed write, until the write succeeds or ctx is done.
func (c *Client) Send(ctx context.Context, line string) error {
	payload := []byte(line + "\n")
	for {
		if err := c.connect(ctx); err != nil {
			return err
		}
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.DialTimeout))
		_, err := c.conn.Write(payload)
		if err == nil {
			return nil
		}
		c.logger.Warn("write failed, reconnecting", "addr", c.addr, "error", err)
		c.drop()
	}
}

func (c *Client) connect(ctx context.Context) error {
	for c.conn == nil {
		d := net.Dialer{Timeout: c.opts.DialTimeout}
		conn, err := d.DialContext(ctx, "tcp", c.addr)
		if err == nil {
			c.conn = conn
			c.logger.Info("connected", "addr", c.addr)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("dial failed, retrying", "addr", c.addr, "error", err, "retry", c.opts.RetryInterval)

		timer := time.NewTimer(c.opts.RetryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return nil
}

func (c *Client) drop() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
