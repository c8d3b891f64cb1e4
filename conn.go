package asyncredis

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"time"

	"github.com/gomodule/redigo/redis"

	"github.com/bordbe/async-redis/iface"
)

type (
	// Conn abstracts a single, feature-minimal connection to Redis.
	Conn = iface.Conn

	// DialFunc creates a connection to Redis or returns an error.
	DialFunc func(ctx context.Context) (Conn, error)

	redigoShim struct {
		netConn     net.Conn
		conn        redis.Conn
		interrupted atomic.Bool
	}
)

var errInterrupted = errors.New("connection interrupted")

func makeDialer(addr string, config *clientConfig) DialFunc {
	return func(ctx context.Context) (Conn, error) {
		dialer := &net.Dialer{Timeout: config.connectTimeout}

		netConn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, &TransportError{err}
		}

		shim := &redigoShim{
			netConn: netConn,
			conn:    redis.NewConn(netConn, config.readTimeout, config.writeTimeout),
		}

		if config.password != "" {
			if _, err := shim.Do("AUTH", config.password); err != nil {
				shim.Close()
				return nil, err
			}
		}

		if config.database != 0 {
			if _, err := shim.Do("SELECT", config.database); err != nil {
				shim.Close()
				return nil, err
			}
		}

		return shim, nil
	}
}

func (s *redigoShim) Close() error {
	return s.conn.Close()
}

func (s *redigoShim) Err() error {
	if s.interrupted.Load() {
		return &TransportError{errInterrupted}
	}

	return classifyFatal(s.conn.Err())
}

func (s *redigoShim) Do(command string, args ...interface{}) (interface{}, error) {
	result, err := s.conn.Do(command, args...)
	return result, s.wrapError(err)
}

func (s *redigoShim) Send(command string, args ...interface{}) error {
	return s.wrapError(s.conn.Send(command, args...))
}

func (s *redigoShim) Flush() error {
	return s.wrapError(s.conn.Flush())
}

func (s *redigoShim) Receive() (interface{}, error) {
	result, err := s.conn.Receive()
	return result, s.wrapError(err)
}

// DoWithTimeout and ReceiveWithTimeout satisfy redis.ConnWithTimeout.
// A zero timeout disables the read deadline for the call.
func (s *redigoShim) DoWithTimeout(timeout time.Duration, command string, args ...interface{}) (interface{}, error) {
	result, err := redis.DoWithTimeout(s.conn, timeout, command, args...)
	return result, s.wrapError(err)
}

func (s *redigoShim) ReceiveWithTimeout(timeout time.Duration) (interface{}, error) {
	result, err := redis.ReceiveWithTimeout(s.conn, timeout)
	return result, s.wrapError(err)
}

func (s *redigoShim) Interrupt() {
	if s.interrupted.CompareAndSwap(false, true) {
		// Closing the socket is the only way to reliably unblock a read
		// that redigo has already armed with its own deadline.
		s.netConn.Close()
	}
}

func (s *redigoShim) wrapError(err error) error {
	if err == nil {
		return nil
	}

	// A fatal connection error is typed so that the caller releases the
	// lease as broken. Server error replies leave the connection usable
	// and are passed through untouched.
	if fatal := s.Err(); fatal != nil {
		return fatal
	}

	return err
}
