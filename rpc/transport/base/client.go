package base

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dHA/rpc/common"
	"github.com/ValentinKolb/dHA/rpc/transport"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("transport/rpc")

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IClientConnector defines the interface for transport-specific connection operations
type IClientConnector interface {
	// Connect establishes a single connection to the endpoint
	Connect(endpoint string) (net.Conn, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an established connection
	UpgradeConnection(conn net.Conn, config common.ClientConfig) error
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// clientConnection is a single connection, it implements transport.Channel
type clientConnection struct {
	id           string
	conn         net.Conn
	timeout      time.Duration
	maxFrameSize int
	broken       atomic.Bool
}

// clientTransport implements the core client transport functionality
// independent of the specific transport medium (unix, tcp, etc.)
type clientTransport struct {
	connector IClientConnector
	config    common.ClientConfig
	idle      chan *clientConnection
	mu        sync.Mutex // guards closed
	closed    bool
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, unix, etc.)
// -----------------------------------------------------------

// NewBaseClientTransport creates a new base client transport with the specified connector
func NewBaseClientTransport(connector IClientConnector) transport.IRPCClientTransport {
	return &clientTransport{connector: connector}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCClientTransport)
// --------------------------------------------------------------------------

func (t *clientTransport) Connect(config common.ClientConfig) error {
	if config.Endpoint == "" {
		return fmt.Errorf("no endpoint provided")
	}

	// Close connections of a previous configuration
	_ = t.Close()

	if config.ConnectRetries < 1 {
		config.ConnectRetries = 1
	}
	if config.MaxIdleConnections < 0 {
		config.MaxIdleConnections = 0
	}

	t.mu.Lock()
	t.config = config
	t.idle = make(chan *clientConnection, config.MaxIdleConnections)
	t.closed = false
	t.mu.Unlock()

	Logger.Infof("Configured %s transport to %s (max %d idle connections)",
		t.connector.GetName(), config.Endpoint, config.MaxIdleConnections)
	return nil
}

func (t *clientTransport) Acquire() (transport.Channel, error) {
	t.mu.Lock()
	closed, idle := t.closed, t.idle
	t.mu.Unlock()
	if closed || idle == nil {
		return nil, common.CommunicationError(nil, "transport is closed")
	}

	// Reuse an idle connection if one is still alive
	for {
		select {
		case c := <-idle:
			if c.isAlive() {
				return c, nil
			}
			Logger.Debugf("Dropping dead idle connection %s", c.id)
			_ = c.Close()
		default:
			c, err := t.open()
			if err != nil {
				return nil, err
			}
			return c, nil
		}
	}
}

func (t *clientTransport) Release(ch transport.Channel) {
	c, ok := ch.(*clientConnection)
	if !ok || c == nil {
		return
	}
	if c.Broken() {
		_ = c.Close()
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		_ = c.Close()
		return
	}
	select {
	case t.idle <- c:
	default:
		// pool is full
		_ = c.Close()
	}
}

func (t *clientTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.idle == nil {
		return nil
	}
	t.closed = true
	for {
		select {
		case c := <-t.idle:
			_ = c.Close()
		default:
			return nil
		}
	}
}

// --------------------------------------------------------------------------
// Channel Methods (docu see transport.Channel)
// --------------------------------------------------------------------------

func (c *clientConnection) ID() string { return c.id }

func (c *clientConnection) Broken() bool { return c.broken.Load() }

func (c *clientConnection) Close() error {
	c.broken.Store(true)
	return c.conn.Close()
}

func (c *clientConnection) RoundTrip(req []byte) ([]byte, error) {
	if c.Broken() {
		return nil, common.CommunicationError(nil, "connection is closed")
	}

	if c.timeout > 0 {
		if err := c.conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
			return nil, c.fail(err, "failed to set deadline")
		}
	}

	if err := writeFrame(c.conn, req, c.maxFrameSize); err != nil {
		return nil, c.fail(err, "failed to write request")
	}

	// the buffer is owned by the caller, responses are decoded lazily
	resp, err := readFrame(c.conn, nil, c.maxFrameSize)
	if err != nil {
		return nil, c.fail(err, "failed to read response")
	}
	return resp, nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// open dials a new connection. Every failed attempt is followed by the
// configured pause, there is no pause after the last attempt.
func (t *clientTransport) open() (*clientConnection, error) {
	t.mu.Lock()
	config := t.config
	t.mu.Unlock()

	backoff := time.Duration(config.ConnectBackoffMillis) * time.Millisecond

	var lastErr error
	for attempt := 1; attempt <= config.ConnectRetries; attempt++ {
		conn, err := t.connector.Connect(config.Endpoint)
		if err == nil {
			if err := t.connector.UpgradeConnection(conn, config); err != nil {
				_ = conn.Close()
				return nil, common.CommunicationError(err, "failed to upgrade connection to "+config.Endpoint)
			}
			c := &clientConnection{
				id:           uuid.NewString(),
				conn:         conn,
				timeout:      time.Duration(config.TimeoutSecond) * time.Second,
				maxFrameSize: maxFrame(config.MaxFrameSize),
			}
			Logger.Debugf("Opened connection %s to %s", c.id, config.Endpoint)
			return c, nil
		}

		lastErr = err
		Logger.Warningf("Connect attempt %d/%d to %s failed: %v", attempt, config.ConnectRetries, config.Endpoint, err)
		if attempt < config.ConnectRetries {
			time.Sleep(backoff)
		}
	}

	return nil, common.CommunicationError(lastErr,
		fmt.Sprintf("failed to connect to %s after %d attempts", config.Endpoint, config.ConnectRetries))
}

// fail breaks the connection and wraps the error as communication failure
func (c *clientConnection) fail(err error, msg string) error {
	_ = c.Close()
	return common.CommunicationError(err, msg)
}

// isAlive checks an idle connection. A healthy idle connection has nothing to
// read, so the check has to time out.
func (c *clientConnection) isAlive() bool {
	if c.Broken() {
		return false
	}
	if err := c.conn.SetReadDeadline(time.Now().Add(time.Millisecond)); err != nil {
		return false
	}
	var one [1]byte
	_, err := c.conn.Read(one[:])
	_ = c.conn.SetReadDeadline(time.Time{})
	return errors.Is(err, os.ErrDeadlineExceeded)
}
