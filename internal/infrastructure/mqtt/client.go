package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-relay/internal/infrastructure/config"
)

// Client wraps one paho MQTT session.
//
// A Client is single-use: once the session drops it stays dropped, and the
// owner (the bus supervisor) connects a fresh Client. This keeps connection
// state in a single place instead of split between paho and the relay.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig

	// lost is closed exactly once, when the session drops or Close is called.
	lost     chan struct{}
	lostOnce sync.Once
	lostErr  error
	lostMu   sync.RWMutex

	// logger for dropped-message and panic logging (optional, set via SetLogger).
	logger   Logger
	loggerMu sync.RWMutex
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Connect establishes a session with the MQTT broker.
//
// It performs the following setup:
//  1. Builds connection options from config (broker URL, auth, TLS)
//  2. Registers a connection-lost handler that ends the session
//  3. Waits for CONNACK, bounded by ctx and the configured connect timeout
//
// Parameters:
//   - ctx: Cancels the connection attempt
//   - cfg: MQTT configuration
//
// Returns:
//   - *Client: Connected client ready for Subscribe
//   - error: Wraps ErrConnectionFailed if the broker cannot be reached
func Connect(ctx context.Context, cfg config.MQTTConfig) (*Client, error) {
	opts, err := buildClientOptions(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c := &Client{
		cfg:  cfg,
		lost: make(chan struct{}),
	}

	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.markLost(fmt.Errorf("%w: %w", ErrConnectionLost, err))
	})

	c.client = pahomqtt.NewClient(opts)

	timeout := opts.ConnectTimeout
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	token := c.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		c.client.Disconnect(0)
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, ctx.Err())
	case <-timer.C:
		c.client.Disconnect(0)
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, timeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	return c, nil
}

// markLost ends the session. Only the first cause is kept.
func (c *Client) markLost(err error) {
	c.lostOnce.Do(func() {
		c.lostMu.Lock()
		c.lostErr = err
		c.lostMu.Unlock()
		close(c.lost)
	})
}

// Done is closed when the session ends, for any reason.
func (c *Client) Done() <-chan struct{} {
	return c.lost
}

// Err returns why the session ended, or nil while it is alive.
func (c *Client) Err() error {
	c.lostMu.RLock()
	defer c.lostMu.RUnlock()
	return c.lostErr
}

// Close gracefully disconnects from the MQTT broker.
//
// Pending subscriptions observe ErrClosed once drained. Calling Close on an
// already-dropped session is not an error.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	c.client.Disconnect(defaultDisconnectQuiesce)
	c.markLost(ErrClosed)

	return nil
}

// IsConnected reports whether the session is still up.
func (c *Client) IsConnected() bool {
	if c.client == nil {
		return false
	}
	select {
	case <-c.lost:
		return false
	default:
	}
	return c.client.IsConnectionOpen()
}

// SetLogger sets a logger for dropped-message and panic logging.
// If not set, dropped messages are silently discarded.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// getLogger returns the current logger (may be nil).
func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}
