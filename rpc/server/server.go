package server

import (
	"net"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/ValentinKolb/dHA/rpc/common"
	"github.com/ValentinKolb/dHA/rpc/protocol"
	"github.com/ValentinKolb/dHA/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("rpc")

// NewRPCServer creates a new RPC server that serves the master to slaves
// It takes a config, transport and the master as parameters
//
// Usage:
//
//	master := server.NewMaster(config, txlog.NewMemoryRegistry(), nil)
//	s := server.NewRPCServer(
//		config,
//		tcp.NewTCPDefaultServerTransport(),
//		master,
//	)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	}
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	master *MasterImpl,
) *RPCServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	Logger.Infof("Created RPC Server for machine %d", config.MachineID)

	return &RPCServer{
		config:    config,
		transport: transport,
		adapter:   NewMasterServerAdapter(master),
		master:    master,
	}
}

// RPCServer binds a master to a server transport
type RPCServer struct {
	config    common.ServerConfig
	transport transport.IRPCServerTransport
	adapter   IRPCServerAdapter
	master    *MasterImpl
}

func (s *RPCServer) registerTransportHandler() {
	s.transport.RegisterHandler(func(connID string, req []byte) ([]byte, error) {
		resp, err := s.adapter.Handle(connID, req)
		if err != nil {
			Logger.Warningf("Request on connection %s failed: %v", connID, err)
			return nil, err
		}
		return resp, nil
	})
	s.transport.RegisterDisconnectHandler(s.adapter.Disconnected)
	// lock waits run outside of the worker limit
	s.transport.RegisterBlockingFunc(protocol.MayBlock)
}

// Serve starts the RPC server and blocks until Close is called
func (s *RPCServer) Serve() error {
	s.registerTransportHandler()
	return s.transport.Listen(s.config)
}

// Addr blocks until the server is bound and returns its address
func (s *RPCServer) Addr() net.Addr {
	return s.transport.Addr()
}

// Master returns the executor served by the server
func (s *RPCServer) Master() *MasterImpl {
	return s.master
}

// Close stops the server, contexts of open connections are rolled back
func (s *RPCServer) Close() error {
	return s.transport.Close()
}
