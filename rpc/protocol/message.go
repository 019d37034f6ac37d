package protocol

import (
	"github.com/ValentinKolb/dHA/rpc/common"
	"github.com/ValentinKolb/dHA/rpc/serializer"
)

// EncodeRequest builds the request payload. sc is ignored for request types
// without slave context, body may be nil.
func EncodeRequest(rt *RequestType, sc common.SlaveContext, body func(w *serializer.Writer) error) ([]byte, error) {
	w := serializer.NewWriter(128)
	w.PutByte(rt.Ordinal)
	if rt.IncludesSlaveContext {
		if err := serializer.WriteSlaveContext(w, sc); err != nil {
			return nil, err
		}
	}
	if body != nil {
		if err := body(w); err != nil {
			return nil, err
		}
	}
	return w.Bytes(), nil
}

// DecodeRequest reads the header of a request payload. The returned reader is
// positioned at the start of the body.
func DecodeRequest(payload []byte) (*RequestType, common.SlaveContext, *serializer.Reader, error) {
	r := serializer.NewReader(payload)
	ordinal, err := r.Byte()
	if err != nil {
		return nil, common.SlaveContext{}, nil, err
	}
	rt, ok := Lookup(ordinal)
	if !ok {
		return nil, common.SlaveContext{}, nil, common.ProtocolErrorf("unknown request type %d", ordinal)
	}
	var sc common.SlaveContext
	if rt.IncludesSlaveContext {
		if sc, err = serializer.ReadSlaveContext(r); err != nil {
			return nil, common.SlaveContext{}, nil, err
		}
	}
	return rt, sc, r, nil
}

// EncodeReply builds the response payload of a successful reply. The
// transaction stream of the reply is consumed.
func EncodeReply(rt *RequestType, rep Reply) ([]byte, error) {
	w := serializer.NewWriter(256)
	if rep.WriteValue != nil {
		if err := rep.WriteValue(w); err != nil {
			return nil, err
		}
	}
	if rt.HasTransactionStream {
		if err := serializer.WriteTransactionStream(w, rep.Transactions); err != nil {
			return nil, err
		}
	}
	return w.Bytes(), nil
}

// DecodeResponse decodes a response payload with codec. The transactions of
// the response are decoded lazily from payload.
func DecodeResponse[T any](rt *RequestType, payload []byte, codec ValueCodec[T]) (common.Response[T], error) {
	r := serializer.NewReader(payload)
	value, err := codec.Read(r)
	if err != nil {
		return common.Response[T]{}, err
	}
	if !rt.HasTransactionStream {
		return common.NewResponse(value, nil), r.ExpectEnd()
	}
	stream, err := serializer.ReadTransactionStream(r)
	if err != nil {
		return common.Response[T]{}, err
	}
	return common.NewResponse(value, stream), nil
}
