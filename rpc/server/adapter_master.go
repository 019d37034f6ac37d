package server

import (
	"time"

	"github.com/ValentinKolb/dHA/rpc/common"
	"github.com/ValentinKolb/dHA/rpc/protocol"
	"github.com/pkg/errors"
)

// NewMasterServerAdapter creates the adapter that serves slaves from master
func NewMasterServerAdapter(master *MasterImpl) IRPCServerAdapter {
	return &masterServerAdapter{master: master}
}

type masterServerAdapter struct {
	master *MasterImpl
}

func (adapter *masterServerAdapter) Handle(connID string, req []byte) ([]byte, error) {
	rt, sc, body, err := protocol.DecodeRequest(req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	metrics := adapter.master.metrics
	metrics.requestCounter(rt.Name).Inc()
	defer metrics.requestDuration(rt.Name).UpdateDuration(start)

	if rt.IncludesSlaveContext {
		adapter.master.Bind(connID, sc)
	}

	rep, err := rt.Execute(adapter.master, sc, body)
	if rt.IncludesSlaveContext {
		adapter.master.ReleaseIdle(connID, sc)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "%s from machine %d", rt, sc.MachineID)
	}
	if rep.Failed {
		// a failed response has no wire representation
		return nil, errors.Errorf("%s from machine %d failed", rt, sc.MachineID)
	}
	return protocol.EncodeReply(rt, rep)
}

func (adapter *masterServerAdapter) Disconnected(connID string) {
	adapter.master.ConnectionClosed(connID)
}

// compile time check
var _ common.Master = (*MasterImpl)(nil)
