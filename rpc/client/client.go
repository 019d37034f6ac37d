package client

import (
	"github.com/ValentinKolb/dHA/lib/idgen"
	"github.com/ValentinKolb/dHA/rpc/common"
	"github.com/ValentinKolb/dHA/rpc/transport"
	gometrics "github.com/rcrowley/go-metrics"
)

// NewMasterClient creates a new client for the master at config.Endpoint
// The function takes a config and a transport as parameters
func NewMasterClient(config common.ClientConfig, transport transport.IRPCClientTransport) (*MasterClient, error) {
	// Connect the transport
	if err := transport.Connect(config); err != nil {
		return nil, err
	}

	return &MasterClient{
		rpcClientAdapter{
			config:    config,
			transport: transport,
			metrics:   newClientMetrics(),
		},
	}, nil
}

// MasterClient is the entry point of a slave to the master. Operations that
// belong to a slave context are invoked on a Session, the context free ones
// are available directly.
type MasterClient struct {
	rpcClientAdapter
}

// Session creates a new session. The session takes a connection on its first
// call and keeps it until FinishTransaction or Close.
func (c *MasterClient) Session() *Session {
	c.metrics.activeSessions.Inc(1)
	return &Session{client: c}
}

// AllocateIds performs ALLOCATE_IDS on a short lived session
func (c *MasterClient) AllocateIds(idType idgen.IdType) (common.Response[idgen.IdAllocation], error) {
	s := c.Session()
	defer s.Close()
	return s.AllocateIds(idType)
}

// GetMasterIdForCommittedTx performs GET_MASTER_ID_FOR_TX on a short lived session
func (c *MasterClient) GetMasterIdForCommittedTx(txID int64) (common.Response[int32], error) {
	s := c.Session()
	defer s.Close()
	return s.GetMasterIdForCommittedTx(txID)
}

// Endpoint returns the address of the master
func (c *MasterClient) Endpoint() string {
	return c.config.Endpoint
}

// Metrics returns the metrics registry of the client
func (c *MasterClient) Metrics() gometrics.Registry {
	return c.metrics.registry
}

// Close closes all idle connections, sessions in use keep theirs until they end
func (c *MasterClient) Close() error {
	return c.transport.Close()
}
