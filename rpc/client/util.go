package client

import (
	"time"

	"github.com/ValentinKolb/dHA/rpc/common"
	"github.com/ValentinKolb/dHA/rpc/protocol"
	"github.com/ValentinKolb/dHA/rpc/serializer"
	"github.com/ValentinKolb/dHA/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	gometrics "github.com/rcrowley/go-metrics"
)

var (
	Logger = logger.GetLogger("client")
)

// clientMetrics are the metrics of one master client
type clientMetrics struct {
	registry       gometrics.Registry
	roundTrip      gometrics.Timer
	acquireErrors  gometrics.Counter
	commErrors     gometrics.Counter
	activeSessions gometrics.Counter
}

func newClientMetrics() *clientMetrics {
	registry := gometrics.NewRegistry()
	return &clientMetrics{
		registry:       registry,
		roundTrip:      gometrics.NewRegisteredTimer("dha.client.round_trip", registry),
		acquireErrors:  gometrics.NewRegisteredCounter("dha.client.acquire_errors", registry),
		commErrors:     gometrics.NewRegisteredCounter("dha.client.communication_errors", registry),
		activeSessions: gometrics.NewRegisteredCounter("dha.client.sessions.active", registry),
	}
}

// rpcClientAdapter stores all data needed to talk to the master
// Used by MasterClient and Session with composition pattern
type rpcClientAdapter struct {
	config    common.ClientConfig
	transport transport.IRPCClientTransport
	metrics   *clientMetrics
}

// invokeRPCRequest is a helper function used by all calls to send requests
// It encodes the request, performs the round trip on the channel and decodes
// the response with codec. Every error breaks the channel, since the state
// of the byte stream is unknown afterwards.
func invokeRPCRequest[T any](
	ch transport.Channel,
	metrics *clientMetrics,
	rt *protocol.RequestType,
	sc common.SlaveContext,
	body func(w *serializer.Writer) error,
	codec protocol.ValueCodec[T],
) (common.Response[T], error) {
	// Encode the request
	req, err := protocol.EncodeRequest(rt, sc, body)
	if err != nil {
		return common.Response[T]{}, err
	}

	// Send the request
	start := time.Now()
	respBytes, err := ch.RoundTrip(req)
	metrics.roundTrip.UpdateSince(start)
	if err != nil {
		metrics.commErrors.Inc(1)
		return common.Response[T]{}, err
	}

	// Decode the response
	resp, err := protocol.DecodeResponse(rt, respBytes, codec)
	if err != nil {
		metrics.commErrors.Inc(1)
		_ = ch.Close()
		return common.Response[T]{}, common.CommunicationError(err, "failed to decode "+rt.Name+" response")
	}
	return resp, nil
}
