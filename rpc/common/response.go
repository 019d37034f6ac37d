package common

// Void is the value of responses without a result
type Void struct{}

// Response is the result of a master operation. The transactions have to be
// applied by the slave before the value is used.
type Response[T any] struct {
	value        T
	transactions *TransactionStream
	failed       bool
}

// NewResponse creates a successful response
func NewResponse[T any](value T, transactions *TransactionStream) Response[T] {
	return Response[T]{value: value, transactions: transactions}
}

// FailedResponse creates a response without value, reading it fails
func FailedResponse[T any]() Response[T] {
	return Response[T]{failed: true}
}

// Get returns the value or ErrMasterCommunicationFailed for a failed response
func (r Response[T]) Get() (T, error) {
	if r.failed {
		var zero T
		return zero, ErrMasterCommunicationFailed
	}
	return r.value, nil
}

// Failed reports whether the master could not produce a value
func (r Response[T]) Failed() bool {
	return r.failed
}

// Transactions returns the transactions the slave is missing, possibly nil
func (r Response[T]) Transactions() *TransactionStream {
	return r.transactions
}
