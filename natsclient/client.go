// Package natsclient manages the NATS connection and JetStream key-value
// buckets that back the stream and point repositories.
package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/streambank/errors"
)

// Connection errors
var (
	ErrNotConnected = stderrors.New("not connected to NATS")
)

// Client manages a NATS connection and its JetStream context
type Client struct {
	url    string
	logger Logger

	conn *nats.Conn
	js   jetstream.JetStream

	// Connection options
	maxReconnects int
	reconnectWait time.Duration
	timeout       time.Duration
	drainTimeout  time.Duration
	username      string
	password      string
	token         string
	clientName    string

	mu     sync.Mutex
	closed bool
}

// NewClient creates a client for the given NATS URL. The connection is
// established by Connect.
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	if url == "" {
		return nil, errors.WrapInvalid(nil, "natsclient", "NewClient", "url cannot be empty")
	}

	c := &Client{
		url:           url,
		logger:        &defaultLogger{},
		maxReconnects: 10,
		reconnectWait: 2 * time.Second,
		timeout:       5 * time.Second,
		drainTimeout:  10 * time.Second,
		clientName:    "streambank",
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "natsclient", "NewClient", "apply option")
		}
	}

	return c, nil
}

// Connect establishes the NATS connection and JetStream context
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil && c.conn.IsConnected() {
		return nil
	}

	natsOpts := []nats.Option{
		nats.Name(c.clientName),
		nats.MaxReconnects(c.maxReconnects),
		nats.ReconnectWait(c.reconnectWait),
		nats.Timeout(c.timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				c.logger.Errorf("disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.logger.Printf("reconnected to %s", nc.ConnectedUrl())
		}),
	}

	if c.username != "" {
		natsOpts = append(natsOpts, nats.UserInfo(c.username, c.password))
	}
	if c.token != "" {
		natsOpts = append(natsOpts, nats.Token(c.token))
	}

	conn, err := nats.Connect(c.url, natsOpts...)
	if err != nil {
		return errors.WrapTransient(err, "natsclient", "Connect", "connect to NATS")
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return errors.WrapFatal(err, "natsclient", "Connect", "create JetStream context")
	}

	c.conn = conn
	c.js = js
	c.logger.Printf("connected to %s", conn.ConnectedUrl())

	// Context only gates the setup above; the connection outlives it.
	_ = ctx
	return nil
}

// JetStream returns the JetStream context, or an error when not connected
func (c *Client) JetStream() (jetstream.JetStream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.js == nil {
		return nil, ErrNotConnected
	}
	return c.js, nil
}

// CreateKeyValueBucket creates or binds to a KV bucket
func (c *Client) CreateKeyValueBucket(ctx context.Context, cfg jetstream.KeyValueConfig) (jetstream.KeyValue, error) {
	js, err := c.JetStream()
	if err != nil {
		return nil, errors.WrapTransient(err, "natsclient", "CreateKeyValueBucket", "get JetStream context")
	}

	bucket, err := js.CreateKeyValue(ctx, cfg)
	if err != nil {
		// CreateKeyValue fails when the bucket exists with a different
		// configuration; bind to the existing one in that case.
		bucket, bindErr := js.KeyValue(ctx, cfg.Bucket)
		if bindErr != nil {
			return nil, errors.WrapTransient(err, "natsclient", "CreateKeyValueBucket",
				fmt.Sprintf("create bucket %s", cfg.Bucket))
		}
		return bucket, nil
	}

	return bucket, nil
}

// IsConnected reports whether the underlying connection is healthy
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && c.conn.IsConnected()
}

// Close drains and closes the connection
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.conn == nil {
		return nil
	}
	c.closed = true

	// Drain lets in-flight messages finish before closing; fall back to a
	// hard close when draining fails or the caller's context expires first.
	if err := c.conn.Drain(); err != nil {
		c.conn.Close()
		return errors.WrapTransient(err, "natsclient", "Close", "drain connection")
	}

	deadline := time.After(c.drainTimeout)
	for !c.conn.IsClosed() {
		select {
		case <-ctx.Done():
			c.conn.Close()
			return ctx.Err()
		case <-deadline:
			c.conn.Close()
			return nil
		case <-time.After(10 * time.Millisecond):
		}
	}

	// Clear credentials
	c.username = ""
	c.password = ""
	c.token = ""

	return nil
}
