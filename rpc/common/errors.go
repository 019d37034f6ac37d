package common

import "github.com/pkg/errors"

var (
	// ErrCommunication is the cause of every failed exchange with the master:
	// connect failures, timeouts, closed connections and protocol violations
	ErrCommunication = errors.New("communication with master failed")

	// ErrMasterCommunicationFailed is returned when reading the value of a
	// failed response
	ErrMasterCommunicationFailed = errors.New("master failed to produce a response")

	// ErrProtocol marks malformed frames or payloads
	ErrProtocol = errors.New("protocol violation")

	// ErrUnsupportedOperation is returned for operations the current role can not serve
	ErrUnsupportedOperation = errors.New("operation not supported")

	// ErrBranchedData is returned when the local history diverged from the master
	ErrBranchedData = errors.New("branched data: local history differs from master")
)

// ProtocolErrorf creates an error wrapping ErrProtocol
func ProtocolErrorf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrProtocol, format, args...)
}

// CommunicationError wraps err so that errors.Is(err, ErrCommunication) holds
func CommunicationError(err error, msg string) error {
	if err == nil {
		return errors.Wrap(ErrCommunication, msg)
	}
	return &commError{msg: msg, cause: err}
}

// commError keeps both the sentinel and the original cause reachable
type commError struct {
	msg   string
	cause error
}

func (e *commError) Error() string {
	return e.msg + ": " + ErrCommunication.Error() + ": " + e.cause.Error()
}

func (e *commError) Is(target error) bool {
	return target == ErrCommunication
}

func (e *commError) Unwrap() error {
	return e.cause
}
