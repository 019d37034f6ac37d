package base

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/ValentinKolb/dHA/rpc/common"
	"github.com/ValentinKolb/dHA/rpc/transport"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
)

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IServerConnector defines the interface for transport-specific server operations
type IServerConnector interface {
	// Listen creates a listener and returns it
	Listen(config common.ServerConfig) (net.Listener, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an accepted connection
	UpgradeConnection(conn net.Conn, config common.ServerConfig) error
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// errServerClosing ends the requests waiting for a worker on Close
var errServerClosing = errors.New("server is closing")

// serverTransport implements the core server transport functionality
type serverTransport struct {
	connector    IServerConnector
	handler      transport.ServerHandleFunc
	onDisconnect transport.DisconnectFunc
	isBlocking   transport.BlockingFunc
	config       common.ServerConfig
	maxFrameSize int

	mu         sync.Mutex // guards listener
	listener   net.Listener
	ready      chan struct{}
	readyOnce  sync.Once
	closing    chan struct{}
	closeOnce  sync.Once
	conns      *xsync.MapOf[string, net.Conn]
	workers    chan struct{} // counting semaphore over all connections
	bufferPool *sync.Pool
	wg         sync.WaitGroup
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, unix, etc.)
// -----------------------------------------------------------

// NewBaseServerTransport creates a new base server transport. bufferSize is
// the size of the pooled read buffers.
func NewBaseServerTransport(connector IServerConnector, bufferSize int) transport.IRPCServerTransport {
	return &serverTransport{
		connector: connector,
		ready:     make(chan struct{}),
		closing:   make(chan struct{}),
		conns:     xsync.NewMapOf[string, net.Conn](),
		bufferPool: &sync.Pool{
			New: func() interface{} {
				return make([]byte, bufferSize)
			},
		},
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCServerTransport)
// --------------------------------------------------------------------------

func (t *serverTransport) RegisterHandler(handler transport.ServerHandleFunc) {
	t.handler = handler
}

func (t *serverTransport) RegisterDisconnectHandler(fn transport.DisconnectFunc) {
	t.onDisconnect = fn
}

func (t *serverTransport) RegisterBlockingFunc(fn transport.BlockingFunc) {
	t.isBlocking = fn
}

func (t *serverTransport) Listen(config common.ServerConfig) error {
	t.config = config
	t.maxFrameSize = maxFrame(config.MaxFrameSize)

	// minimum one worker
	maxWorkers := config.MaxWorkers
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	t.workers = make(chan struct{}, maxWorkers)

	// Create listener using the connector
	listener, err := t.connector.Listen(config)
	if err != nil {
		t.readyOnce.Do(func() { close(t.ready) })
		return fmt.Errorf("failed to create listener: %v", err)
	}
	t.mu.Lock()
	t.listener = listener
	t.mu.Unlock()
	t.readyOnce.Do(func() { close(t.ready) })

	// Close was called while binding
	select {
	case <-t.closing:
		return listener.Close()
	default:
	}

	Logger.Infof("Starting %s server on %s with %d workers",
		t.connector.GetName(), listener.Addr(), maxWorkers)

	// Accept connections
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-t.closing:
				t.wg.Wait()
				return nil
			default:
			}
			Logger.Errorf("Accept error: %v", err)
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			continue
		}

		if err := t.connector.UpgradeConnection(conn, config); err != nil {
			Logger.Warningf("Failed to upgrade connection from %s: %v", conn.RemoteAddr(), err)
		}

		connID := uuid.NewString()
		t.conns.Store(connID, conn)
		t.wg.Add(1)

		// Handle the connection in a goroutine
		go t.handleConnection(connID, conn)
	}
}

func (t *serverTransport) Addr() net.Addr {
	<-t.ready
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

func (t *serverTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closing)
		t.mu.Lock()
		listener := t.listener
		t.mu.Unlock()
		if listener != nil {
			err = listener.Close()
		}
		t.conns.Range(func(_ string, conn net.Conn) bool {
			_ = conn.Close()
			return true
		})
	})
	return err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// handleConnection serves the requests of one connection in order
func (t *serverTransport) handleConnection(connID string, conn net.Conn) {
	defer t.wg.Done()
	defer func() {
		_ = conn.Close()
		t.conns.Delete(connID)
		if t.onDisconnect != nil {
			t.onDisconnect(connID)
		}
	}()

	Logger.Debugf("Accepted connection %s from %s", connID, conn.RemoteAddr())

	// Timeout in seconds, slaves may be idle between requests so reads are not bounded
	timeout := time.Duration(t.config.TimeoutSecond) * time.Second

	// Function to handle one request
	handleRequest := func() error {
		// Get a buffer from the pool
		buf := t.bufferPool.Get().([]byte)
		defer t.bufferPool.Put(buf)

		data, err := readFrame(conn, buf, t.maxFrameSize)
		if err != nil {
			return err
		}

		// Acquire a slot in the semaphore (blocks if MaxWorkers is reached),
		// blocking requests run outside of the limit
		blocking := t.isBlocking != nil && t.isBlocking(data)
		if !blocking {
			select {
			case t.workers <- struct{}{}:
			case <-t.closing:
				return errServerClosing
			}
		}
		start := time.Now()
		resp, err := t.handler(connID, data)
		if !blocking {
			<-t.workers
		}
		Logger.Debugf("Processed request on connection %s took %s", connID, time.Since(start))

		if err != nil {
			return err
		}

		if timeout > 0 {
			if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
				return fmt.Errorf("failed to set write deadline: %v", err)
			}
		}
		return writeFrame(conn, resp, t.maxFrameSize)
	}

	// Handle requests in a loop
	for {
		err := handleRequest()

		// Case EOF: Connection closed by client
		if err == io.EOF {
			Logger.Debugf("Connection %s closed by client", connID)
			return
		}

		// Case error: log and close connection
		if err != nil {
			select {
			case <-t.closing:
			default:
				Logger.Warningf("Closing connection %s: %v", connID, err)
			}
			return
		}
	}
}
