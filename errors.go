package asyncredis

import (
	"errors"
	"io"
	"net"
)

var (
	// ErrPoolTimeout is returned when no connection becomes available
	// before the acquire timeout (or the context deadline) elapses.
	ErrPoolTimeout = errors.New("asyncredis: connection pool timeout")

	// ErrPoolExhausted is returned when a new connection cannot be
	// created and no idle connection exists to take its place.
	ErrPoolExhausted = errors.New("asyncredis: connection pool exhausted")

	// ErrPoolClosed is returned by any pool operation after Close.
	ErrPoolClosed = errors.New("asyncredis: connection pool is closed")

	// ErrLeaseReleased is returned when a lease is released twice.
	ErrLeaseReleased = errors.New("asyncredis: lease already released")

	// ErrTransportFailure matches every *TransportError.
	ErrTransportFailure = errors.New("asyncredis: transport failure")

	// ErrProtocolError matches every *ProtocolError.
	ErrProtocolError = errors.New("asyncredis: protocol error")

	// ErrTransactionAborted is returned when the server discards a
	// transaction. None of the queued commands took effect.
	ErrTransactionAborted = errors.New("asyncredis: transaction aborted")

	// ErrBatchFailed is returned when a pipeline could not be sent or
	// its replies could not be read in full.
	ErrBatchFailed = errors.New("asyncredis: pipeline batch failed")

	// ErrBatchClosed is returned when a pipeline is used after Exec or Close.
	ErrBatchClosed = errors.New("asyncredis: pipeline batch is closed")

	// ErrSubscriptionLost is delivered to a handler when the connection
	// backing an active subscription fails.
	ErrSubscriptionLost = errors.New("asyncredis: subscription lost")

	// ErrSubscriptionClosed is returned when a subscription is used after
	// it has been unsubscribed or lost.
	ErrSubscriptionClosed = errors.New("asyncredis: subscription is closed")

	// ErrUnknownCommand is returned when a namespaced client is asked to
	// run a command whose key arguments it cannot locate. Such commands
	// must go through a client without a namespace.
	ErrUnknownCommand = errors.New("asyncredis: command cannot be namespaced")

	// ErrUnknownOption is returned when a configuration source contains
	// a key this package does not recognize.
	ErrUnknownOption = errors.New("asyncredis: unknown option")

	// ErrInvalidOption is returned when a recognized option has a bad value.
	ErrInvalidOption = errors.New("asyncredis: invalid option")

	// ErrLockNotHeld is returned by Unlock and Extend when the lock token
	// no longer matches the stored value.
	ErrLockNotHeld = errors.New("asyncredis: lock not held")

	// ErrLockTimeout is returned when a lock could not be acquired before
	// the context ended.
	ErrLockTimeout = errors.New("asyncredis: lock acquisition timed out")
)

type (
	// TransportError wraps a socket-level failure. The connection that
	// produced it is discarded.
	TransportError struct{ Err error }

	// ProtocolError wraps a malformed or unexpected reply. The connection
	// that produced it is discarded.
	ProtocolError struct{ Err error }
)

func (e *TransportError) Error() string { return "asyncredis: transport failure: " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }
func (e *TransportError) Is(target error) bool {
	return target == ErrTransportFailure
}

func (e *ProtocolError) Error() string { return "asyncredis: protocol error: " + e.Err.Error() }
func (e *ProtocolError) Unwrap() error { return e.Err }
func (e *ProtocolError) Is(target error) bool {
	return target == ErrProtocolError
}

// classifyFatal converts the fatal error recorded on a connection into
// the matching typed error.
func classifyFatal(err error) error {
	if err == nil {
		return nil
	}

	var (
		transportErr *TransportError
		protocolErr  *ProtocolError
		netErr       net.Error
	)

	switch {
	case errors.As(err, &transportErr), errors.As(err, &protocolErr):
		return err
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, net.ErrClosed):
		return &TransportError{err}
	case errors.As(err, &netErr):
		return &TransportError{err}
	}

	return &ProtocolError{err}
}

// isConnFatal reports whether err leaves the connection unusable.
func isConnFatal(err error) bool {
	return errors.Is(err, ErrTransportFailure) || errors.Is(err, ErrProtocolError)
}
